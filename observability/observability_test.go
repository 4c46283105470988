package observability

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sitediff/dbopen"
	"github.com/hazyhaar/sitediff/idgen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"", slog.LevelInfo, true},
		{"debug", slog.LevelDebug, true},
		{"WARN", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{" error ", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, slog.LevelWarn)
	l.Info("monitor: hidden")
	l.Warn("monitor: fetch failed", "url", "https://a.example")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "monitor: fetch failed" || rec["url"] != "https://a.example" {
		t.Errorf("record = %v", rec)
	}
}

// --- FileAudit ---

func TestFileAudit_AppendsLines(t *testing.T) {
	// WHAT: Each Record appends one formatted line; earlier lines survive.
	path := filepath.Join(t.TempDir(), "logs", "changes.log")
	loc := time.FixedZone("CST", 8*3600)
	a := NewFileAudit(path, loc)

	at := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	ctx := context.Background()
	if err := a.Record(ctx, Entry{Time: at, URL: "https://a.example/", Outcome: "FirstRun", Detail: "stored"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Record(ctx, Entry{Time: at, URL: "https://a.example/", Outcome: "FetchFailed", Detail: "HTTP 503\nretry later"}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "[2024-05-01 09:00:00 CST] https://a.example/ FirstRun: stored\n" +
		"[2024-05-01 09:00:00 CST] https://a.example/ FetchFailed: HTTP 503 retry later\n"
	if string(data) != want {
		t.Errorf("audit file:\n%s\nwant:\n%s", data, want)
	}
}

func TestFileAudit_UnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	os.WriteFile(blocker, nil, 0o644)
	a := NewFileAudit(filepath.Join(blocker, "changes.log"), nil)
	if err := a.Record(context.Background(), Entry{URL: "u", Outcome: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

// --- SQLiteAudit ---

func TestSQLiteAudit_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	a := NewSQLiteAudit(db, 16, WithAuditIDGenerator(idgen.Prefixed("aud_", idgen.Sequence())))
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	a.Record(ctx, Entry{Time: base, URL: "https://a.example", Outcome: "FirstRun"})
	a.Record(ctx, Entry{Time: base.Add(time.Second), URL: "https://a.example", Outcome: "Changed", Detail: "+1 -0"})
	a.Record(ctx, Entry{Time: base.Add(2 * time.Second), URL: "https://b.example", Outcome: "Unchanged"})
	a.Close()

	all, err := a.Query(ctx, AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].URL != "https://b.example" {
		t.Fatalf("entries = %+v", all)
	}
	if all[2].ID != "aud_1" {
		t.Errorf("first ID = %q", all[2].ID)
	}

	changed, _ := a.Query(ctx, AuditFilter{URL: "https://a.example", Outcome: "Changed"})
	if len(changed) != 1 || changed[0].Detail != "+1 -0" {
		t.Errorf("filtered = %+v", changed)
	}
	recent, _ := a.Query(ctx, AuditFilter{Since: base.Add(time.Second), Limit: 10})
	if len(recent) != 2 {
		t.Errorf("since = %d entries", len(recent))
	}
}

func TestSQLiteAudit_FullBufferInsertsSync(t *testing.T) {
	db := setupObsDB(t)
	a := NewSQLiteAudit(db, 1)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := a.Record(ctx, Entry{URL: "u", Outcome: "Unchanged"}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	a.Close()
	var n int
	db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&n)
	if n != 20 {
		t.Errorf("rows = %d, want 20", n)
	}
}

func TestSQLiteAudit_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	a := NewSQLiteAudit(db, 4)
	ctx := context.Background()
	a.Record(ctx, Entry{Time: time.Now().AddDate(0, 0, -40), URL: "old", Outcome: "Unchanged"})
	a.Record(ctx, Entry{URL: "new", Outcome: "Unchanged"})
	a.Close()

	n, err := a.Cleanup(ctx, 30)
	if err != nil || n != 1 {
		t.Fatalf("Cleanup = %d, %v", n, err)
	}
}

func TestSQLiteAudit_CloseTwice(t *testing.T) {
	a := NewSQLiteAudit(setupObsDB(t), 4)
	a.Close()
	a.Close()
}

// --- Multi ---

type failingAuditor struct{}

func (failingAuditor) Record(context.Context, Entry) error { return os.ErrPermission }

func TestMulti(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.log")
	m := Multi{NewFileAudit(path, time.UTC), nil, failingAuditor{}}
	err := m.Record(context.Background(), Entry{URL: "u", Outcome: "Changed"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), "u Changed:") {
		t.Errorf("file auditor skipped: %q", data)
	}
}

// --- Metrics ---

func TestMetrics_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	m := NewMetrics(db, 100, time.Hour, nil)
	m.Duration(MetricCheckDurationMs, 1500*time.Millisecond, map[string]string{"outcome": "Changed"})
	m.Count(MetricDiffLines, 7, map[string]string{"kind": "added"})
	m.Close()

	ctx := context.Background()
	got, err := m.Query(ctx, MetricCheckDurationMs, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 1500 || got[0].Labels["outcome"] != "Changed" || got[0].Unit != "milliseconds" {
		t.Fatalf("metrics = %+v", got)
	}
	all, _ := m.Query(ctx, "", time.Time{}, 0)
	if len(all) != 2 {
		t.Errorf("all = %d", len(all))
	}
}

func TestMetrics_FlushOnBufferFull(t *testing.T) {
	db := setupObsDB(t)
	m := NewMetrics(db, 2, time.Hour, nil)
	defer m.Close()
	m.Count("x", 1, nil)
	m.Count("x", 2, nil)

	got, _ := m.Query(context.Background(), "x", time.Time{}, 0)
	if len(got) != 2 {
		t.Errorf("flushed = %d, want 2", len(got))
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Count("x", 1, nil)
	m.Flush()
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
}
