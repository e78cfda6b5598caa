package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docparse/kit"
)

// Extraction describes one extraction attempt.
type Extraction struct {
	Format    string
	Filename  string
	Size      int64
	Pages     int
	Tables    int
	Duration  time.Duration
	ErrorKind string // empty on success
}

// Recorder turns extraction attempts into events and metrics. Events go
// through a bounded queue drained by one goroutine, so RecordExtraction
// never waits on the database. A full queue drops the event.
type Recorder struct {
	service string
	events  *EventWriter
	metrics *MetricsManager
	queue   chan Event
	done    chan struct{}
	once    sync.Once
}

// NewRecorder creates a Recorder writing to db, which must carry Schema.
func NewRecorder(db *sql.DB, service string, opts ...EventOption) *Recorder {
	r := &Recorder{
		service: service,
		events:  NewEventWriter(db, opts...),
		metrics: NewMetricsManager(db, 100, 5*time.Second),
		queue:   make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go r.drain()
	return r
}

// Metrics exposes the underlying MetricsManager for queries.
func (r *Recorder) Metrics() *MetricsManager { return r.metrics }

// RecordExtraction records e. The request ID and transport come from ctx.
func (r *Recorder) RecordExtraction(ctx context.Context, e Extraction) {
	meta := kit.MetaFrom(ctx)
	ev := Event{
		Type:      EventDocumentExtracted,
		Service:   r.service,
		RequestID: meta.RequestID,
		Transport: meta.Transport,
		Format:    e.Format,
		Filename:  e.Filename,
		Outcome:   OutcomeOK,
		Size:      e.Size,
		Pages:     e.Pages,
		Tables:    e.Tables,
		Duration:  e.Duration,
	}
	if e.ErrorKind != "" {
		ev.Type = EventDocumentRejected
		ev.Outcome = e.ErrorKind
	}

	select {
	case r.queue <- ev:
	default:
		slog.Warn("observability: event queue full, dropping", "event_type", ev.Type, "request_id", ev.RequestID)
	}

	now := time.Now()
	base := Metric{At: now, Format: e.Format, Outcome: ev.Outcome}
	r.metrics.Record(with(base, MetricDurationMs, float64(e.Duration.Milliseconds()), "milliseconds"))
	r.metrics.Record(with(base, MetricBytes, float64(e.Size), "bytes"))
	if e.ErrorKind == "" {
		r.metrics.Record(with(base, MetricPages, float64(e.Pages), "count"))
	}
}

func with(m Metric, name string, value float64, unit string) Metric {
	m.Name, m.Value, m.Unit = name, value, unit
	return m
}

func (r *Recorder) drain() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := r.events.Write(ctx, ev); err != nil {
			slog.Error("observability: event dropped", "error", err, "request_id", ev.RequestID)
		}
		cancel()
	}
}

// Close drains queued events and flushes metrics. RecordExtraction must
// not be called after Close.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.queue) })
	<-r.done
	return r.metrics.Close()
}
