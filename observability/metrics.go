// Package observability keeps a SQLite record of what the extraction
// service did: one event per extraction attempt and batched timeseries
// metrics for durations, sizes and page counts.
//
// Apply Schema to the database first (Init or dbopen.WithSchema). Recorder
// ties events and metrics together behind a single non-blocking call used
// as the docparse.Observer of the pipeline.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docparse/dbopen"
)

// Metric names written by Recorder.
const (
	MetricDurationMs = "extraction_duration_ms"
	MetricBytes      = "extraction_bytes"
	MetricPages      = "extraction_pages"
)

// Metric is a single datapoint, dimensioned by format and outcome.
type Metric struct {
	Name    string
	At      time.Time
	Value   float64
	Format  string
	Outcome string
	Unit    string // "milliseconds", "bytes", "count"
}

// MetricsManager buffers metrics and writes them in one transaction per
// flush, when the buffer is full or on every tick. Writes happen on its own
// goroutine.
type MetricsManager struct {
	db        *sql.DB
	batch     int
	mu        sync.Mutex
	buffer    []Metric
	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMetricsManager starts a manager flushing every interval or whenever
// batch metrics are pending.
func NewMetricsManager(db *sql.DB, batch int, interval time.Duration) *MetricsManager {
	if batch <= 0 {
		batch = 100
	}
	mm := &MetricsManager{
		db:     db,
		batch:  batch,
		buffer: make([]Metric, 0, batch),
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go mm.loop(interval)
	return mm
}

// Record queues m.
func (mm *MetricsManager) Record(m Metric) {
	if m.At.IsZero() {
		m.At = time.Now()
	}
	mm.mu.Lock()
	mm.buffer = append(mm.buffer, m)
	full := len(mm.buffer) >= mm.batch
	mm.mu.Unlock()
	if full {
		select {
		case mm.kick <- struct{}{}:
		default:
		}
	}
}

// MetricQuery filters Query. Zero fields do not filter.
type MetricQuery struct {
	Name   string
	Format string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Query returns stored metrics, newest first.
func (mm *MetricsManager) Query(ctx context.Context, q MetricQuery) ([]Metric, error) {
	sqlq := "SELECT metric_name, ts, value, format, outcome, unit FROM extraction_metrics WHERE 1=1"
	var args []any
	if q.Name != "" {
		sqlq += " AND metric_name = ?"
		args = append(args, q.Name)
	}
	if q.Format != "" {
		sqlq += " AND format = ?"
		args = append(args, q.Format)
	}
	if !q.Since.IsZero() {
		sqlq += " AND ts >= ?"
		args = append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		sqlq += " AND ts <= ?"
		args = append(args, q.Until.Unix())
	}
	sqlq += " ORDER BY ts DESC"
	if q.Limit > 0 {
		sqlq += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := mm.db.QueryContext(ctx, sqlq, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		var ts int64
		if err := rows.Scan(&m.Name, &ts, &m.Value, &m.Format, &m.Outcome, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.At = time.Unix(ts, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close flushes pending metrics and stops the background loop.
func (mm *MetricsManager) Close() error {
	mm.closeOnce.Do(func() { close(mm.stop) })
	<-mm.done
	return nil
}

func (mm *MetricsManager) loop(interval time.Duration) {
	defer close(mm.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.flush()
			return
		case <-ticker.C:
			mm.flush()
		case <-mm.kick:
			mm.flush()
		}
	}
}

func (mm *MetricsManager) flush() {
	mm.mu.Lock()
	pending := mm.takeLocked()
	mm.mu.Unlock()
	mm.write(pending)
}

func (mm *MetricsManager) takeLocked() []Metric {
	if len(mm.buffer) == 0 {
		return nil
	}
	pending := mm.buffer
	mm.buffer = make([]Metric, 0, mm.batch)
	return pending
}

func (mm *MetricsManager) write(pending []Metric) {
	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, mm.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO extraction_metrics (metric_name, ts, value, format, outcome, unit) VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range pending {
			if _, err := stmt.ExecContext(ctx, m.Name, m.At.Unix(), m.Value, m.Format, m.Outcome, m.Unit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("observability: metrics flush failed", "error", err, "dropped", len(pending))
	}
}
