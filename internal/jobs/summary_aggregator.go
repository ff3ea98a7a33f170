// summary_aggregator.go implements the SummaryAggregator background job,
// which periodically recomputes the daily summary rollups for the current
// and previous UTC day and prunes expired deduplication entries. Because the
// aggregation upserts by bucket key, re-running is safe and the previous-day
// pass catches records that arrived after midnight. The job is a no-op when
// aggregation.enabled is false, so it is always safe to start.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/services"
)

// SummaryAggregator periodically refreshes the daily summary rollups.
type SummaryAggregator struct {
	aggregator *services.Aggregator
	dedup      *services.DedupService
	cfg        *config.AggregationConfig
	interval   time.Duration
	stopChan   chan struct{}
}

// NewSummaryAggregator creates a new SummaryAggregator.
// intervalMinutes controls how often the refresh runs (default 15m).
func NewSummaryAggregator(
	aggregator *services.Aggregator,
	dedup *services.DedupService,
	cfg *config.AggregationConfig,
) *SummaryAggregator {
	minutes := cfg.IntervalMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return &SummaryAggregator{
		aggregator: aggregator,
		dedup:      dedup,
		cfg:        cfg,
		interval:   time.Duration(minutes) * time.Minute,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the background aggregation loop. It runs an initial refresh
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (j *SummaryAggregator) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		slog.Info("summary aggregator disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("summary aggregator started", "interval", j.interval)

	j.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.runOnce(ctx)
		case <-j.stopChan:
			slog.Info("summary aggregator stopped")
			return
		case <-ctx.Done():
			slog.Info("summary aggregator stopped", "reason", ctx.Err())
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call once.
func (j *SummaryAggregator) Stop() {
	close(j.stopChan)
}

// runOnce refreshes today and yesterday, then prunes expired dedup entries.
// Today's buckets are rewritten as records accrue; yesterday's pass settles
// records that landed after the day rolled over.
func (j *SummaryAggregator) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	yesterday := now.Add(-24 * time.Hour)

	if _, err := j.aggregator.AggregateRange(ctx, yesterday, now); err != nil {
		slog.Error("summary aggregation run failed", "error", err)
	}

	if j.dedup != nil {
		if pruned, err := j.dedup.CleanupExpired(ctx); err != nil {
			slog.Error("dedup cleanup failed", "error", err)
		} else if pruned > 0 {
			slog.Info("pruned expired dedup entries", "count", pruned)
		}
	}
}
