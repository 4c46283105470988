// Package snapshot persists the last prepared body of every watched URL.
//
// Two stores implement Store: FileStore keeps one "<key>.txt" per URL in the
// data directory, SQLiteStore keeps one row per key in a SQLite database.
package snapshot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hazyhaar/sitediff/sites"
)

// ErrNotFound is returned by Get when no snapshot exists for a key.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is the stored, already prepared body of one URL.
type Snapshot struct {
	Key       string            `json:"key"`
	URL       string            `json:"url,omitempty"`
	Body      string            `json:"body"`
	Mode      sites.ContentMode `json:"-"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store reads and overwrites snapshots by key.
type Store interface {
	Get(ctx context.Context, key string) (*Snapshot, error)
	Put(ctx context.Context, s *Snapshot) error
}

var keyReplacer = strings.NewReplacer("://", "_", "/", "_", "?", "_", "&", "_")

// Key derives the storage key of url: "://", "/", "?" and "&" become "_".
// Distinct URLs may collide (".../a_b" and ".../a/b"); that is accepted.
func Key(url string) string {
	return keyReplacer.Replace(url)
}
