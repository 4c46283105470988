package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by the detector and the watch loop.
const (
	MetricCheckDurationMs = "check_duration_ms" // labels: outcome, mode
	MetricCycleDurationMs = "cycle_duration_ms"
	MetricDiffLines       = "diff_lines" // labels: kind (added|removed)
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"` // "milliseconds", "count"
}

// Metrics buffers datapoints and flushes them to metrics_timeseries in
// batches. A nil *Metrics discards everything, so callers need no guard.
type Metrics struct {
	db            *sql.DB
	logger        *slog.Logger
	bufferSize    int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []Metric

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMetrics starts a recorder on db, which must carry Schema. Zero values
// use a 100-point buffer and a 5s flush interval.
func NewMetrics(db *sql.DB, bufferSize int, flushInterval time.Duration, logger *slog.Logger) *Metrics {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Metrics{
		db:            db,
		logger:        logger,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.flushLoop()
	return m
}

// Record queues a datapoint.
func (m *Metrics) Record(p Metric) {
	if m == nil {
		return
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, p)
	if len(m.buffer) >= m.bufferSize {
		m.flushLocked()
	}
}

// Duration records d in milliseconds under name.
func (m *Metrics) Duration(name string, d time.Duration, labels map[string]string) {
	m.Record(Metric{Name: name, Value: float64(d.Milliseconds()), Labels: labels, Unit: "milliseconds"})
}

// Count records n under name.
func (m *Metrics) Count(name string, n int, labels map[string]string) {
	m.Record(Metric{Name: name, Value: float64(n), Labels: labels, Unit: "count"})
}

// Query returns flushed datapoints newest first. An empty name matches all
// metrics; a zero since is unbounded.
func (m *Metrics) Query(ctx context.Context, name string, since time.Time, limit int) ([]Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	var args []any
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	if !since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, since.Unix())
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var p Metric
		var ts int64
		var labels, unit sql.NullString
		if err := rows.Scan(&p.Name, &ts, &p.Value, &labels, &unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		p.Timestamp = time.Unix(ts, 0)
		p.Unit = unit.String
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &p.Labels)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Flush writes buffered datapoints now.
func (m *Metrics) Flush() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.flushLocked()
	m.mu.Unlock()
}

// Close flushes and stops the background goroutine.
func (m *Metrics) Close() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Metrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			m.Flush()
			return
		case <-ticker.C:
			m.Flush()
		}
	}
}

func (m *Metrics) flushLocked() {
	if len(m.buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		m.logger.Error("observability: metrics begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		m.logger.Error("observability: metrics prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, p := range m.buffer {
		var labels sql.NullString
		if len(p.Labels) > 0 {
			if b, err := json.Marshal(p.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, p.Name, p.Timestamp.Unix(), p.Value, labels, p.Unit); err != nil {
			m.logger.Error("observability: metrics insert", "error", err, "metric", p.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		m.logger.Error("observability: metrics commit", "error", err)
	}
	m.buffer = m.buffer[:0]
}
