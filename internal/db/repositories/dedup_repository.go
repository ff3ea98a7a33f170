package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DedupRepository is the durable side of event deduplication. Event ids are
// recorded with an expiry; an id that inserts cleanly is first-seen, a
// conflict on a live row means a duplicate inside the retention window.
type DedupRepository struct {
	db *sqlx.DB
}

// NewDedupRepository creates a new DedupRepository.
func NewDedupRepository(db *sqlx.DB) *DedupRepository {
	return &DedupRepository{db: db}
}

// Seen reports whether the event id has a live (unexpired) row.
func (r *DedupRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.db.GetContext(ctx, &seen, `
		SELECT EXISTS (
			SELECT 1 FROM event_dedup
			WHERE event_id = $1 AND expires_at > NOW()
		)`, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check event id: %w", err)
	}
	return seen, nil
}

// MarkSeen records an event id and reports whether it was first-seen.
// Returns false when the id already exists and has not expired. An expired
// row is reclaimed in place.
func (r *DedupRepository) MarkSeen(ctx context.Context, eventID, sourceService string, ttl time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO event_dedup (event_id, source_service, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE SET
			source_service = EXCLUDED.source_service,
			created_at = NOW(),
			expires_at = EXCLUDED.expires_at
		WHERE event_dedup.expires_at < NOW()`,
		eventID, sourceService, time.Now().UTC().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to record event id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read dedup result: %w", err)
	}
	return n > 0, nil
}

// CleanupExpired deletes rows past their expiry and returns the count.
func (r *DedupRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM event_dedup WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired event ids: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	return n, nil
}
