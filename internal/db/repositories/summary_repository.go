package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/audit-trail/audit-trail/internal/access"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

// SummaryRepository handles the daily summary rollups. Aggregation is a set
// of upserts keyed by (date, source_service, module_name, action), so re-running
// a day replaces its buckets instead of stacking them.
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository creates a new SummaryRepository.
func NewSummaryRepository(db *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// AggregateDay recomputes every summary bucket for one UTC day from the
// audit records and upserts the results. Returns the number of buckets
// written. Idempotent: repeated runs converge on the same rows.
func (r *SummaryRepository) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	const query = `
		INSERT INTO summaries (
			date, source_service, module_name, action,
			total_count, unique_users, avg_processing_time, last_aggregated_at
		)
		SELECT
			$1::date,
			r.source_service,
			r.module_name,
			at.code,
			COUNT(*),
			COUNT(DISTINCT r.action_by),
			AVG(r.processing_time_ms),
			NOW()
		FROM audit_records r
		JOIN action_types at ON at.id = r.action_type_id
		WHERE r.action_at >= $2 AND r.action_at < $3
		GROUP BY r.source_service, r.module_name, at.code
		ON CONFLICT (date, source_service, module_name, action) DO UPDATE SET
			total_count = EXCLUDED.total_count,
			unique_users = EXCLUDED.unique_users,
			avg_processing_time = EXCLUDED.avg_processing_time,
			last_aggregated_at = EXCLUDED.last_aggregated_at`

	res, err := r.db.ExecContext(ctx, query, dayStart, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate summaries for %s: %w",
			dayStart.Format("2006-01-02"), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read aggregation result: %w", err)
	}
	return int(n), nil
}

// SummaryFilters are the optional filters for listing summaries.
type SummaryFilters struct {
	SourceService *string
	ModuleName    *string
	Action        *string
	DateFrom      *time.Time
	DateTo        *time.Time
}

// List returns summary rows under the caller's scope, newest day first.
func (r *SummaryRepository) List(ctx context.Context, filters SummaryFilters, scope access.Scope, limit, offset int) ([]*models.Summary, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	appendFilter := func(clause string, value interface{}) {
		where += fmt.Sprintf(" AND "+clause, paramIndex)
		args = append(args, value)
		paramIndex++
	}

	if clause, scopeArgs := scope.SummaryClause(paramIndex); clause != "" {
		where += " AND " + clause
		args = append(args, scopeArgs...)
		paramIndex += len(scopeArgs)
	}

	if filters.SourceService != nil {
		appendFilter(`source_service = $%d`, *filters.SourceService)
	}
	if filters.ModuleName != nil {
		appendFilter(`module_name = $%d`, *filters.ModuleName)
	}
	if filters.Action != nil {
		appendFilter(`action = $%d`, *filters.Action)
	}
	if filters.DateFrom != nil {
		appendFilter(`date >= $%d`, *filters.DateFrom)
	}
	if filters.DateTo != nil {
		appendFilter(`date <= $%d`, *filters.DateTo)
	}

	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM summaries`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count summaries: %w", err)
	}

	query := `SELECT * FROM summaries` + where +
		fmt.Sprintf(` ORDER BY date DESC, source_service, module_name, action LIMIT $%d OFFSET $%d`,
			paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	summaries := make([]*models.Summary, 0)
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list summaries: %w", err)
	}
	return summaries, total, nil
}

// ServiceTotal is one row of the per-service rollup.
type ServiceTotal struct {
	SourceService string `db:"source_service" json:"source_service"`
	TotalCount    int64  `db:"total_count" json:"total_count"`
}

// ActionTotal is one row of the per-action rollup.
type ActionTotal struct {
	Action     string `db:"action" json:"action"`
	TotalCount int64  `db:"total_count" json:"total_count"`
}

// SummaryStats aggregates the summary table itself for the dashboard.
type SummaryStats struct {
	TotalEvents      int64          `json:"total_events"`
	ServiceBreakdown []ServiceTotal `json:"service_breakdown"`
	ActionBreakdown  []ActionTotal  `json:"action_breakdown"`
}

// Stats rolls the caller-visible summary rows up by service and action over
// the given date range.
func (r *SummaryRepository) Stats(ctx context.Context, dateFrom, dateTo time.Time, scope access.Scope) (*SummaryStats, error) {
	where := ` WHERE date >= $1 AND date <= $2`
	args := []interface{}{dateFrom, dateTo}

	if clause, scopeArgs := scope.SummaryClause(3); clause != "" {
		where += " AND " + clause
		args = append(args, scopeArgs...)
	}

	stats := &SummaryStats{}
	if err := r.db.GetContext(ctx, &stats.TotalEvents,
		`SELECT COALESCE(SUM(total_count), 0) FROM summaries`+where, args...); err != nil {
		return nil, fmt.Errorf("failed to total summaries: %w", err)
	}

	stats.ServiceBreakdown = make([]ServiceTotal, 0)
	serviceQuery := `
		SELECT source_service, SUM(total_count) AS total_count
		FROM summaries` + where + `
		GROUP BY source_service
		ORDER BY total_count DESC`
	if err := r.db.SelectContext(ctx, &stats.ServiceBreakdown, serviceQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to compute service breakdown: %w", err)
	}

	stats.ActionBreakdown = make([]ActionTotal, 0)
	actionQuery := `
		SELECT action, SUM(total_count) AS total_count
		FROM summaries` + where + `
		GROUP BY action
		ORDER BY total_count DESC`
	if err := r.db.SelectContext(ctx, &stats.ActionBreakdown, actionQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to compute action breakdown: %w", err)
	}

	return stats, nil
}

// Recent returns the caller-visible summaries for the last n days.
func (r *SummaryRepository) Recent(ctx context.Context, days int, scope access.Scope) ([]*models.Summary, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	where := ` WHERE date >= $1`
	args := []interface{}{since}
	if clause, scopeArgs := scope.SummaryClause(2); clause != "" {
		where += " AND " + clause
		args = append(args, scopeArgs...)
	}

	summaries := make([]*models.Summary, 0)
	query := `SELECT * FROM summaries` + where + ` ORDER BY date DESC, source_service, module_name, action`
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load recent summaries: %w", err)
	}
	return summaries, nil
}
