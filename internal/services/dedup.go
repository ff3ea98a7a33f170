// Package services implements the business logic that coordinates across
// repositories and external systems: record intake with deduplication,
// credential lifecycle, and summary aggregation.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// DedupService suppresses duplicate event submissions. Redis is the fast
// path; the event_dedup table is the durable record that survives Redis
// restarts. Both checks fail open: an outage on the dedup path must never
// block audit writes, so errors degrade to "not a duplicate".
type DedupService struct {
	repo      *repositories.DedupRepository
	rdb       *redis.Client
	retention time.Duration
}

// NewDedupService creates a DedupService. rdb may be nil, in which case only
// the database check runs.
func NewDedupService(repo *repositories.DedupRepository, rdb *redis.Client, retentionDays int) *DedupService {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &DedupService{
		repo:      repo,
		rdb:       rdb,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

func (s *DedupService) redisKey(eventID string) string {
	return fmt.Sprintf("dedup:event:%s", eventID)
}

// IsDuplicate reports whether this event id was already processed inside the
// retention window. It does not record anything: an id only counts as
// processed once MarkProcessed runs, so a submit that fails midway leaves the
// id free for the caller's retry. Empty event ids are never duplicates:
// deduplication is opt-in per event.
func (s *DedupService) IsDuplicate(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}

	if s.rdb != nil {
		n, err := s.rdb.Exists(ctx, s.redisKey(eventID)).Result()
		if err != nil {
			slog.Warn("dedup redis check failed, falling through to database",
				"event_id", eventID, "error", err)
		} else if n > 0 {
			telemetry.DedupHitsTotal.Inc()
			return true
		}
	}

	seen, err := s.repo.Seen(ctx, eventID)
	if err != nil {
		slog.Warn("dedup database check failed, accepting event",
			"event_id", eventID, "error", err)
		return false
	}
	if seen {
		telemetry.DedupHitsTotal.Inc()
	}
	return seen
}

// MarkProcessed records the event id after the record has been persisted.
// Failures are logged and otherwise ignored: the write already succeeded,
// and a lost mark only risks a future duplicate, never a lost record.
func (s *DedupService) MarkProcessed(ctx context.Context, eventID, sourceService string) {
	if eventID == "" {
		return
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, s.redisKey(eventID), sourceService, s.retention).Err(); err != nil {
			slog.Warn("dedup redis mark failed",
				"event_id", eventID, "error", err)
		}
	}

	if _, err := s.repo.MarkSeen(ctx, eventID, sourceService, s.retention); err != nil {
		slog.Warn("dedup database mark failed",
			"event_id", eventID, "error", err)
	}
}

// CleanupExpired prunes expired event ids from the durable store. Redis
// entries expire on their own.
func (s *DedupService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.repo.CleanupExpired(ctx)
}
