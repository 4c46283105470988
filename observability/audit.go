// Package observability holds the ambient plumbing of sitediff: logger
// construction, the audit trail of check outcomes and the cycle metrics.
//
// The audit trail is an append-only text file, one line per check:
//
//	[2024-05-01 09:00:00 CST] https://example.com/ Changed: +3 -1
//
// It can be mirrored into SQLite (SQLiteAudit) for querying through the
// status API.
package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/sitediff/idgen"
)

// TimeLayout formats audit and caption timestamps.
const TimeLayout = "2006-01-02 15:04:05 MST"

// Entry is one audit record.
type Entry struct {
	ID      string    `json:"id,omitempty"`
	Time    time.Time `json:"time"`
	URL     string    `json:"url"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// Auditor records check outcomes.
type Auditor interface {
	Record(ctx context.Context, e Entry) error
}

// FileAudit appends entries to a text file, opening and closing it on every
// write.
type FileAudit struct {
	path string
	loc  *time.Location
	mu   sync.Mutex
}

// NewFileAudit creates a file auditor. A nil loc uses time.Local.
func NewFileAudit(path string, loc *time.Location) *FileAudit {
	if loc == nil {
		loc = time.Local
	}
	return &FileAudit{path: path, loc: loc}
}

// Path returns the audit file path.
func (f *FileAudit) Path() string { return f.path }

// Format renders e as one audit line, without the newline.
func (f *FileAudit) Format(e Entry) string {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	detail := strings.Join(strings.Fields(e.Detail), " ")
	return fmt.Sprintf("[%s] %s %s: %s", e.Time.In(f.loc).Format(TimeLayout), e.URL, e.Outcome, detail)
}

// Record appends e to the file.
func (f *FileAudit) Record(_ context.Context, e Entry) error {
	line := f.Format(e) + "\n"

	f.mu.Lock()
	defer f.mu.Unlock()
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("observability: audit dir: %w", err)
		}
	}
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("observability: open audit: %w", err)
	}
	if _, err := fh.WriteString(line); err != nil {
		fh.Close()
		return fmt.Errorf("observability: write audit: %w", err)
	}
	return fh.Close()
}

// AuditFilter narrows SQLiteAudit.Query.
type AuditFilter struct {
	URL     string
	Outcome string
	Since   time.Time
	Limit   int // default 100
}

// SQLiteAudit mirrors entries into the audit_log table. Writes are
// buffered and flushed in batches by a background goroutine; Close drains
// the buffer.
type SQLiteAudit struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan Entry
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// SQLiteAuditOption configures a SQLiteAudit.
type SQLiteAuditOption func(*SQLiteAudit)

// WithAuditIDGenerator sets the generator for entry IDs.
func WithAuditIDGenerator(gen idgen.Generator) SQLiteAuditOption {
	return func(a *SQLiteAudit) { a.newID = gen }
}

// WithAuditLogger sets the logger for flush failures.
func WithAuditLogger(l *slog.Logger) SQLiteAuditOption {
	return func(a *SQLiteAudit) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewSQLiteAudit starts an auditor on db, which must carry Schema.
// bufferSize <= 0 uses 256.
func NewSQLiteAudit(db *sql.DB, bufferSize int, opts ...SQLiteAuditOption) *SQLiteAudit {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	a := &SQLiteAudit{
		db:     db,
		newID:  idgen.Prefixed("aud_", idgen.UUIDv7()),
		logger: slog.Default(),
		ch:     make(chan Entry, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

func (a *SQLiteAudit) fill(e *Entry) {
	if e.ID == "" {
		e.ID = a.newID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
}

// Record queues e. When the buffer is full it is inserted synchronously.
func (a *SQLiteAudit) Record(ctx context.Context, e Entry) error {
	a.fill(&e)
	select {
	case a.ch <- e:
		return nil
	default:
		a.logger.Warn("observability: audit buffer full, sync insert", "url", e.URL)
		return a.insert(ctx, a.db, e)
	}
}

// Query returns entries newest first.
func (a *SQLiteAudit) Query(ctx context.Context, f AuditFilter) ([]Entry, error) {
	q := "SELECT entry_id, timestamp, url, outcome, detail FROM audit_log WHERE 1=1"
	var args []any
	if f.URL != "" {
		q += " AND url = ?"
		args = append(args, f.URL)
	}
	if f.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixNano())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query audit: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.URL, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("observability: scan audit: %w", err)
		}
		e.Time = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retentionDays.
func (a *SQLiteAudit) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixNano()
	res, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup audit: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes queued entries and stops the background goroutine.
func (a *SQLiteAudit) Close() error {
	a.once.Do(func() { close(a.stop) })
	<-a.done
	return nil
}

const auditBatch = 64

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *SQLiteAudit) insert(ctx context.Context, db execer, e Entry) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO audit_log (entry_id, timestamp, url, outcome, detail) VALUES (?,?,?,?,?)",
		e.ID, e.Time.UnixNano(), e.URL, e.Outcome, e.Detail)
	return err
}

func (a *SQLiteAudit) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]Entry, 0, auditBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			a.logger.Error("observability: audit begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := a.insert(ctx, tx, e); err != nil {
				a.logger.Error("observability: audit insert", "error", err, "entry_id", e.ID)
			}
		}
		if err := tx.Commit(); err != nil {
			a.logger.Error("observability: audit commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= auditBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Multi records to every auditor and joins their errors.
type Multi []Auditor

func (m Multi) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
