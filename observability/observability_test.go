package observability

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/docparse/dbopen"
	"github.com/hazyhaar/docparse/kit"
)

// sequenceIDs returns evt_1, evt_2, ... for deterministic event IDs.
func sequenceIDs() func() string {
	var n atomic.Int64
	return func() string { return "evt_" + strconv.FormatInt(n.Add(1), 10) }
}

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return n
}

func TestInit_Idempotent(t *testing.T) {
	db := setupObsDB(t)
	if err := Init(db); err != nil {
		t.Fatalf("Init must be idempotent: %v", err)
	}
	for _, table := range []string{"extraction_events", "extraction_metrics"} {
		if count(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table) != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

// --- MetricsManager ---

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.Record(Metric{Name: MetricDurationMs, Value: 42.5, Format: "pdf", Outcome: OutcomeOK, Unit: "milliseconds"})
	mm.Record(Metric{Name: MetricDurationMs, Value: 7, Format: "txt", Outcome: OutcomeOK, Unit: "milliseconds"})
	mm.Record(Metric{Name: MetricBytes, Value: 1024, Format: "pdf", Unit: "bytes"})

	// Close flushes the buffer; Query still works afterwards.
	mm.Close()

	ctx := context.Background()
	pdf, err := mm.Query(ctx, MetricQuery{Name: MetricDurationMs, Format: "pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pdf) != 1 || pdf[0].Value != 42.5 || pdf[0].Outcome != OutcomeOK || pdf[0].At.IsZero() {
		t.Fatalf("pdf durations: %+v", pdf)
	}

	all, err := mm.Query(ctx, MetricQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all metrics: got %d", len(all))
	}
	limited, _ := mm.Query(ctx, MetricQuery{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limit: got %d", len(limited))
	}
}

func TestMetricsManager_FlushOnFullBatch(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	mm.Record(Metric{Name: "m", Value: 1})
	mm.Record(Metric{Name: "m", Value: 2})

	deadline := time.Now().Add(2 * time.Second)
	for count(t, db, "SELECT COUNT(*) FROM extraction_metrics") != 2 {
		if time.Now().After(deadline) {
			t.Fatal("full batch was not flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMetricsManager_TimeRange(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	now := time.Now()
	mm.Record(Metric{Name: "m", At: now.Add(-2 * time.Hour), Value: 1})
	mm.Record(Metric{Name: "m", At: now, Value: 2})
	mm.Close()

	recent, err := mm.Query(context.Background(), MetricQuery{Name: "m", Since: now.Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Value != 2 {
		t.Fatalf("since: %+v", recent)
	}
	old, _ := mm.Query(context.Background(), MetricQuery{Name: "m", Until: now.Add(-time.Hour)})
	if len(old) != 1 || old[0].Value != 1 {
		t.Fatalf("until: %+v", old)
	}
}

// --- EventWriter ---

func TestEventWriter_Write(t *testing.T) {
	db := setupObsDB(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewEventWriter(db, WithEventClock(func() time.Time { return at }))

	id, err := w.Write(context.Background(), Event{
		Type: EventDocumentExtracted, Service: "docparse", RequestID: "req_1",
		Format: "pdf", Filename: "report.pdf", Outcome: OutcomeOK,
		Size: 2048, Pages: 3, Tables: 1, Duration: 150 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rest, ok := strings.CutPrefix(id, "evt_"); !ok || uuid.Validate(rest) != nil {
		t.Errorf("event_id: got %q", id)
	}

	var transport string
	var duration, createdAt int64
	db.QueryRow("SELECT transport, duration_ms, created_at FROM extraction_events WHERE event_id = ?", id).
		Scan(&transport, &duration, &createdAt)
	if transport != "http" || duration != 150 || createdAt != at.Unix() {
		t.Errorf("row: transport %q duration %d created_at %d", transport, duration, createdAt)
	}
}

func TestEventWriter_DuplicateID(t *testing.T) {
	db := setupObsDB(t)
	w := NewEventWriter(db, WithEventIDGenerator(func() string { return "dup" }))
	ev := Event{Type: EventDocumentRejected, Service: "s", Outcome: "too_large"}
	if _, err := w.Write(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(context.Background(), ev); err == nil {
		t.Fatal("expected primary key conflict")
	}
}

// --- Recorder ---

func TestRecorder_RecordExtraction(t *testing.T) {
	db := setupObsDB(t)
	rec := NewRecorder(db, "docparse", WithEventIDGenerator(sequenceIDs()))

	ctx := kit.WithRequestID(kit.WithTransport(context.Background(), kit.TransportMCP), "req_abc")
	rec.RecordExtraction(ctx, Extraction{
		Format: "pdf", Filename: "report.pdf", Size: 2048, Pages: 3, Tables: 1,
		Duration: 150 * time.Millisecond,
	})
	rec.RecordExtraction(context.Background(), Extraction{
		Filename: "photo.png", Size: 10, ErrorKind: "unsupported_format",
	})
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	type row struct {
		id, eventType, filename, requestID, transport, outcome string
		pages                                                  int
	}
	rows, err := db.Query("SELECT event_id, event_type, filename, request_id, transport, outcome, pages FROM extraction_events ORDER BY event_id")
	if err != nil {
		t.Fatal(err)
	}
	var got []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.eventType, &r.filename, &r.requestID, &r.transport, &r.outcome, &r.pages); err != nil {
			t.Fatal(err)
		}
		got = append(got, r)
	}
	rows.Close()
	if len(got) != 2 {
		t.Fatalf("events: got %d, want 2", len(got))
	}

	want := []row{
		{"evt_1", EventDocumentExtracted, "report.pdf", "req_abc", "mcp", OutcomeOK, 3},
		{"evt_2", EventDocumentRejected, "photo.png", "", "http", "unsupported_format", 0},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	ctxQ := context.Background()
	durations, err := rec.Metrics().Query(ctxQ, MetricQuery{Name: MetricDurationMs})
	if err != nil {
		t.Fatal(err)
	}
	if len(durations) != 2 {
		t.Errorf("duration metrics: got %d", len(durations))
	}
	pages, _ := rec.Metrics().Query(ctxQ, MetricQuery{Name: MetricPages})
	if len(pages) != 1 || pages[0].Value != 3 || pages[0].Format != "pdf" {
		t.Errorf("page metrics: %+v", pages)
	}
}

func TestRecorder_CloseTwice(t *testing.T) {
	rec := NewRecorder(setupObsDB(t), "docparse")
	rec.Close()
	rec.Close()
}

// --- Summarize ---

func TestSummarize(t *testing.T) {
	db := setupObsDB(t)
	now := time.Now()
	old := now.Add(-48 * time.Hour)
	clock := now
	w := NewEventWriter(db, WithEventClock(func() time.Time { return clock }))
	ctx := context.Background()

	write := func(ev Event) {
		t.Helper()
		if _, err := w.Write(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	write(Event{Type: EventDocumentExtracted, Service: "s", Format: "pdf", Outcome: OutcomeOK, Size: 100, Pages: 2, Duration: 10 * time.Millisecond})
	write(Event{Type: EventDocumentExtracted, Service: "s", Format: "pdf", Outcome: OutcomeOK, Size: 300, Pages: 4, Duration: 30 * time.Millisecond})
	write(Event{Type: EventDocumentRejected, Service: "s", Outcome: "unsupported_format", Size: 5})
	clock = old
	write(Event{Type: EventDocumentExtracted, Service: "s", Format: "txt", Outcome: OutcomeOK})

	stats, err := Summarize(ctx, db, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("groups: got %+v", stats)
	}
	rejected, pdf := stats[0], stats[1]
	if rejected.Format != "" || rejected.Outcome != "unsupported_format" || rejected.Count != 1 {
		t.Errorf("rejected group: %+v", rejected)
	}
	if pdf.Format != "pdf" || pdf.Count != 2 || pdf.Bytes != 400 || pdf.Pages != 6 || pdf.AvgDurationMs != 20 || pdf.MaxDurationMs != 30 {
		t.Errorf("pdf group: %+v", pdf)
	}

	empty, err := Summarize(ctx, db, now.Add(time.Hour))
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("future window: %v, %v", empty, err)
	}
}

// --- Cleanup ---

func TestCleanup_Retention(t *testing.T) {
	db := setupObsDB(t)
	oldTs := time.Now().Add(-40 * 24 * time.Hour).Unix()
	newTs := time.Now().Unix()
	db.Exec("INSERT INTO extraction_metrics (metric_name, ts, value) VALUES ('m', ?, 1), ('m', ?, 2)", oldTs, newTs)
	db.Exec("INSERT INTO extraction_events (event_id, event_type, service, outcome, created_at) VALUES ('e1', 'x', 's', 'ok', ?)", oldTs)

	removed, err := Cleanup(context.Background(), db, RetentionConfig{EventDays: 30, MetricDays: 30, Vacuum: true})
	if err != nil {
		t.Fatal(err)
	}
	if removed != (Removed{Events: 1, Metrics: 1}) {
		t.Errorf("removed: %+v", removed)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM extraction_metrics"); n != 1 {
		t.Errorf("metrics left: %d", n)
	}
}

func TestCleanup_SkipsZeroDays(t *testing.T) {
	db := setupObsDB(t)
	oldTs := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec("INSERT INTO extraction_events (event_id, event_type, service, outcome, created_at) VALUES ('e1', 'x', 's', 'ok', ?)", oldTs)

	removed, err := Cleanup(context.Background(), db, RetentionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if removed.Events != 0 || count(t, db, "SELECT COUNT(*) FROM extraction_events") != 1 {
		t.Fatal("zero days must keep everything")
	}
}
