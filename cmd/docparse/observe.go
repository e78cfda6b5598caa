package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/docparse/docparse"
	"github.com/hazyhaar/docparse/observability"
	"github.com/hazyhaar/docparse/server"
)

const retentionInterval = 6 * time.Hour

// observe feeds every pipeline outcome to rec.
func observe(rec *observability.Recorder) docparse.Observer {
	return func(ctx context.Context, o docparse.Outcome) {
		rec.RecordExtraction(ctx, observability.Extraction{
			Format:    string(o.Format),
			Filename:  o.Filename,
			Size:      o.Size,
			Pages:     o.Pages,
			Tables:    o.Tables,
			Duration:  o.Duration,
			ErrorKind: errorKind(o.Err),
		})
	}
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return string(docparse.KindOf(err))
}

// retentionLoop trims the observability tables at start and then every
// retentionInterval until ctx is done.
func retentionLoop(ctx context.Context, db *sql.DB, r server.RetentionConfig, logger *slog.Logger) {
	cfg := observability.RetentionConfig{EventDays: r.EventDays, MetricDays: r.MetricDays}
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		removed, err := observability.Cleanup(ctx, db, cfg)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("observability cleanup", "error", err)
		case removed.Events+removed.Metrics > 0:
			logger.Info("observability cleanup", "events", removed.Events, "metrics", removed.Metrics)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
