package shield

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/docparse/dbopen"
)

// Schema defines the rate_limits table read by RateLimiter. Endpoints are
// keyed "METHOD /path". All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 10,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// UpsertRule stores the rule for endpoint, replacing any existing one.
func UpsertRule(ctx context.Context, db *sql.DB, endpoint string, cfg RateLimitConfig) error {
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			max_requests = excluded.max_requests,
			window_seconds = excluded.window_seconds,
			enabled = excluded.enabled`,
		endpoint, cfg.MaxRequests, cfg.WindowSeconds, enabled)
	return err
}

// SeedRules inserts rules for endpoints that have none yet. Existing rows,
// possibly tuned by an operator, are left alone.
func SeedRules(ctx context.Context, db *sql.DB, rules map[string]RateLimitConfig) error {
	return dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		for endpoint, cfg := range rules {
			enabled := 0
			if cfg.Enabled {
				enabled = 1
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
				VALUES (?, ?, ?, ?)`,
				endpoint, cfg.MaxRequests, cfg.WindowSeconds, enabled); err != nil {
				return err
			}
		}
		return nil
	})
}
