package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats aggregates the events of one format and outcome.
type Stats struct {
	Format        string  `json:"format"`
	Outcome       string  `json:"outcome"`
	Count         int     `json:"count"`
	Bytes         int64   `json:"bytes"`
	Pages         int64   `json:"pages"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int64   `json:"max_duration_ms"`
}

// Summarize groups the events recorded since the given time by format and
// outcome. Rejections before format detection have an empty format.
func Summarize(ctx context.Context, db *sql.DB, since time.Time) ([]Stats, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT format, outcome, COUNT(*), SUM(size_bytes), SUM(pages),
		       AVG(duration_ms), MAX(duration_ms)
		FROM extraction_events
		WHERE created_at >= ?
		GROUP BY format, outcome
		ORDER BY format, outcome`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("observability: summarize: %w", err)
	}
	defer rows.Close()

	out := []Stats{}
	for rows.Next() {
		var s Stats
		if err := rows.Scan(&s.Format, &s.Outcome, &s.Count, &s.Bytes, &s.Pages, &s.AvgDurationMs, &s.MaxDurationMs); err != nil {
			return nil, fmt.Errorf("observability: scan stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
