package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/sitediff/dbopen"
	"github.com/hazyhaar/sitediff/sites"
)

// Schema creates the snapshot table.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	url        TEXT NOT NULL DEFAULT '',
	mode       INTEGER NOT NULL DEFAULT 0,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore keeps the latest snapshot per key. A replaced body is gone.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps db, which must already carry Schema.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLite opens (creating if needed) the database at path with Schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Get returns the latest snapshot for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	var (
		snap    = Snapshot{Key: key}
		mode    int
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT url, mode, body, updated_at FROM snapshots WHERE key = ?`, key,
	).Scan(&snap.URL, &mode, &snap.Body, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: get %s: %w", key, err)
	}
	snap.Mode = sites.ContentMode(mode)
	snap.UpdatedAt = time.UnixMilli(updated)
	return &snap, nil
}

// Put upserts snap.
func (s *SQLiteStore) Put(ctx context.Context, snap *Snapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	now := snap.UpdatedAt.UnixMilli()
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO snapshots (key, url, mode, body, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET url = excluded.url, mode = excluded.mode,
		 body = excluded.body, updated_at = excluded.updated_at`,
		snap.Key, snap.URL, int(snap.Mode), snap.Body, now,
	)
	if err != nil {
		return fmt.Errorf("snapshot: put %s: %w", snap.Key, err)
	}
	return nil
}
