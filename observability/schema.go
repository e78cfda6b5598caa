package observability

import "database/sql"

// Schema holds the DDL of the extraction store. Apply it with Init or
// dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS extraction_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    service     TEXT NOT NULL,
    request_id  TEXT NOT NULL DEFAULT '',
    transport   TEXT NOT NULL DEFAULT 'http',
    format      TEXT NOT NULL DEFAULT '',
    filename    TEXT NOT NULL DEFAULT '',
    outcome     TEXT NOT NULL,
    size_bytes  INTEGER NOT NULL DEFAULT 0,
    pages       INTEGER NOT NULL DEFAULT 0,
    tables      INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_events_time
    ON extraction_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_extraction_events_outcome
    ON extraction_events(outcome, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_extraction_events_request
    ON extraction_events(request_id);

CREATE TABLE IF NOT EXISTS extraction_metrics (
    metric_name TEXT NOT NULL,
    ts          INTEGER NOT NULL,
    value       REAL NOT NULL,
    format      TEXT NOT NULL DEFAULT '',
    outcome     TEXT NOT NULL DEFAULT '',
    unit        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_extraction_metrics_name_ts
    ON extraction_metrics(metric_name, ts DESC);
`

// Init applies Schema to db. It is idempotent.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
