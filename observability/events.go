package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/docparse/dbopen"
	"github.com/hazyhaar/docparse/idgen"
)

// Event types.
const (
	EventDocumentExtracted = "document_extracted"
	EventDocumentRejected  = "document_rejected"
)

// OutcomeOK is the outcome of a successful extraction. Failed extractions
// carry their error kind ("unsupported_format", "timeout", ...).
const OutcomeOK = "ok"

// Event is one row of extraction_events.
type Event struct {
	Type      string
	Service   string
	RequestID string
	Transport string
	Format    string
	Filename  string
	Outcome   string
	Size      int64
	Pages     int
	Tables    int
	Duration  time.Duration
}

// EventWriter inserts extraction events.
type EventWriter struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// EventOption configures an EventWriter.
type EventOption func(*EventWriter)

// WithEventIDGenerator replaces the default "evt_" + UUIDv7 generator.
func WithEventIDGenerator(gen idgen.Generator) EventOption {
	return func(w *EventWriter) { w.newID = gen }
}

// WithEventClock sets the clock stamping created_at.
func WithEventClock(now func() time.Time) EventOption {
	return func(w *EventWriter) { w.now = now }
}

func NewEventWriter(db *sql.DB, opts ...EventOption) *EventWriter {
	w := &EventWriter{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Write inserts ev and returns its event ID.
func (w *EventWriter) Write(ctx context.Context, ev Event) (string, error) {
	id := w.newID()
	transport := ev.Transport
	if transport == "" {
		transport = "http"
	}
	_, err := dbopen.Exec(ctx, w.db, `
		INSERT INTO extraction_events (
			event_id, event_type, service, request_id, transport, format, filename,
			outcome, size_bytes, pages, tables, duration_ms, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, ev.Type, ev.Service, ev.RequestID, transport, ev.Format, ev.Filename,
		ev.Outcome, ev.Size, ev.Pages, ev.Tables, ev.Duration.Milliseconds(), w.now().Unix())
	if err != nil {
		return "", fmt.Errorf("observability: write event %s: %w", ev.Type, err)
	}
	return id, nil
}

// RetentionConfig bounds each table in days. Zero keeps rows forever.
type RetentionConfig struct {
	EventDays  int
	MetricDays int
	Vacuum     bool
}

// Removed counts the rows deleted by Cleanup.
type Removed struct {
	Events  int64
	Metrics int64
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) (Removed, error) {
	var removed Removed
	now := time.Now()

	targets := []struct {
		query string
		days  int
		n     *int64
	}{
		{"DELETE FROM extraction_events WHERE created_at < ?", cfg.EventDays, &removed.Events},
		{"DELETE FROM extraction_metrics WHERE ts < ?", cfg.MetricDays, &removed.Metrics},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		res, err := dbopen.Exec(ctx, db, t.query, now.AddDate(0, 0, -t.days).Unix())
		if err != nil {
			return removed, fmt.Errorf("observability: cleanup: %w", err)
		}
		*t.n, _ = res.RowsAffected()
	}

	if cfg.Vacuum && removed.Events+removed.Metrics > 0 {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return removed, fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return removed, nil
}
