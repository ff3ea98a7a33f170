// audit_repository.go implements AuditRepository: the append-only audit
// record store and its scope-aware queries.
//
// Version assignment is the only concurrency-critical path in the service.
// The insert computes MAX(version)+1 for the entity key in the same statement,
// and the UNIQUE (entity_type, entity_id, version) constraint makes the losing
// writer of a race fail with a unique violation; the append retries with a
// freshly recomputed version before surfacing ErrVersionConflict. The counter
// is never held in process state; writers may be spread across instances.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/audit-trail/audit-trail/internal/access"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// appendMaxAttempts bounds version-race retries per append.
const appendMaxAttempts = 3

// recordColumns is the column list shared by all record selects. The action
// type code is joined in so responses never expose bare type ids.
const recordColumns = `
	r.id, r.entity_type, r.entity_id, r.action_type_id, r.action_by, r.action_at,
	r.previous_data, r.new_data, r.version, r.ip_address, r.source_service,
	r.module_name, r.processing_time_ms, r.created_at,
	at.code AS action_type_code`

const recordFrom = ` FROM audit_records r JOIN action_types at ON at.id = r.action_type_id`

// AuditRepository handles audit record database operations.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordFilters contains the caller-supplied filters for listing records.
// All fields are optional; set fields are ANDed together and with the
// caller's scope.
type RecordFilters struct {
	EntityType   *string
	EntityID     *string
	ActionBy     *string
	ActionTypeID *int64
	DateFrom     *time.Time
	DateTo       *time.Time
}

// sortColumns whitelists sortable columns; anything else falls back to action_at.
var sortColumns = map[string]string{
	"action_at":   "r.action_at",
	"created_at":  "r.created_at",
	"version":     "r.version",
	"entity_type": "r.entity_type",
}

// OrderSpec is a validated sort order for record listings.
type OrderSpec struct {
	column     string
	descending bool
}

// NewOrderSpec validates a caller-supplied sort request against the column
// whitelist. Unknown columns fall back to action_at; any order value other
// than "asc" sorts descending.
func NewOrderSpec(sortBy, sortOrder string) OrderSpec {
	col, ok := sortColumns[sortBy]
	if !ok {
		col = "r.action_at"
	}
	return OrderSpec{column: col, descending: sortOrder != "asc"}
}

func (o OrderSpec) clause() string {
	dir := "DESC"
	if !o.descending {
		dir = "ASC"
	}
	if o.column == "" {
		return " ORDER BY r.action_at DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", o.column, dir)
}

// Append inserts a new audit record, assigning the next version for its
// (entity_type, entity_id) key. The record's ID, Version and CreatedAt are
// filled in on success. ActionAt defaults to now when zero.
func (r *AuditRepository) Append(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ActionAt.IsZero() {
		rec.ActionAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_records (
			entity_type, entity_id, action_type_id, action_by, action_at,
			previous_data, new_data, version, ip_address, source_service,
			module_name, processing_time_ms
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, COALESCE(MAX(version), 0) + 1, $8, $9, $10, $11
		FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
		RETURNING id, version, created_at`

	var lastErr error
	for attempt := 0; attempt < appendMaxAttempts; attempt++ {
		err := r.db.QueryRowContext(ctx, query,
			rec.EntityType,
			rec.EntityID,
			rec.ActionTypeID,
			rec.ActionBy,
			rec.ActionAt,
			rec.PreviousData,
			rec.NewData,
			rec.IPAddress,
			rec.SourceService,
			rec.ModuleName,
			rec.ProcessingTimeMs,
		).Scan(&rec.ID, &rec.Version, &rec.CreatedAt)

		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("failed to append audit record: %w", err)
		}

		// Lost the version race; recompute and try again.
		telemetry.VersionConflictRetriesTotal.Inc()
		lastErr = err
	}

	telemetry.VersionConflictsTotal.Inc()
	return fmt.Errorf("%w for %s/%s: %v", ErrVersionConflict, rec.EntityType, rec.EntityID, lastErr)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetByID fetches a record by id with no scoping. Scoped read paths must use
// GetScoped; this exists for internal use (tombstones, admin deletion).
func (r *AuditRepository) GetByID(ctx context.Context, id int64) (*models.AuditRecord, error) {
	rec := &models.AuditRecord{}
	err := r.db.GetContext(ctx, rec,
		`SELECT`+recordColumns+recordFrom+` WHERE r.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record %d: %w", id, err)
	}
	return rec, nil
}

// GetScoped fetches a record by id under the caller's scope. A record that
// does not exist and a record outside the scope both return (nil, nil);
// the caller cannot distinguish the two cases.
func (r *AuditRepository) GetScoped(ctx context.Context, id int64, scope access.Scope) (*models.AuditRecord, error) {
	query := `SELECT` + recordColumns + recordFrom + ` WHERE r.id = $1`
	args := []interface{}{id}

	if clause, scopeArgs := scope.RecordClause(2); clause != "" {
		query += " AND " + clause
		args = append(args, scopeArgs...)
	}

	rec := &models.AuditRecord{}
	err := r.db.GetContext(ctx, rec, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record %d: %w", id, err)
	}
	return rec, nil
}

// List returns a page of records matching the filters under the caller's
// scope, plus the total match count.
func (r *AuditRepository) List(ctx context.Context, filters RecordFilters, scope access.Scope, order OrderSpec, limit, offset int) ([]*models.AuditRecord, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	appendFilter := func(clause string, value interface{}) {
		where += fmt.Sprintf(" AND "+clause, paramIndex)
		args = append(args, value)
		paramIndex++
	}

	if clause, scopeArgs := scope.RecordClause(paramIndex); clause != "" {
		where += " AND " + clause
		args = append(args, scopeArgs...)
		paramIndex += len(scopeArgs)
	}

	if filters.EntityType != nil {
		appendFilter(`r.entity_type = $%d`, *filters.EntityType)
	}
	if filters.EntityID != nil {
		appendFilter(`r.entity_id = $%d`, *filters.EntityID)
	}
	if filters.ActionBy != nil {
		appendFilter(`r.action_by = $%d`, *filters.ActionBy)
	}
	if filters.ActionTypeID != nil {
		appendFilter(`r.action_type_id = $%d`, *filters.ActionTypeID)
	}
	if filters.DateFrom != nil {
		appendFilter(`r.action_at >= $%d`, *filters.DateFrom)
	}
	if filters.DateTo != nil {
		appendFilter(`r.action_at <= $%d`, *filters.DateTo)
	}

	var total int
	countQuery := `SELECT COUNT(*)` + recordFrom + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	query := `SELECT` + recordColumns + recordFrom + where + order.clause() +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	records := make([]*models.AuditRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit records: %w", err)
	}

	return records, total, nil
}

// History returns every visible record for an entity, ascending by version.
// The sequence is finite and restartable: it reflects committed rows at
// query time.
func (r *AuditRepository) History(ctx context.Context, entityType, entityID string, scope access.Scope) ([]*models.AuditRecord, error) {
	query := `SELECT` + recordColumns + recordFrom + ` WHERE r.entity_type = $1 AND r.entity_id = $2`
	args := []interface{}{entityType, entityID}

	if clause, scopeArgs := scope.RecordClause(3); clause != "" {
		query += " AND " + clause
		args = append(args, scopeArgs...)
	}
	query += ` ORDER BY r.version ASC`

	records := make([]*models.AuditRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load entity history: %w", err)
	}
	return records, nil
}

// likePattern wraps a user-supplied term for substring matching. LIKE
// metacharacters in the term are escaped so "100%" matches the literal
// string rather than acting as a wildcard.
func likePattern(term string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	return "%" + escaped + "%"
}

// Search returns records where the term appears (case-insensitively) in the
// entity type, entity id, or actor id, under the caller's scope.
func (r *AuditRepository) Search(ctx context.Context, term string, scope access.Scope, limit, offset int) ([]*models.AuditRecord, int, error) {
	where := ` WHERE (r.entity_type ILIKE $1 OR r.entity_id ILIKE $1 OR r.action_by ILIKE $1)`
	args := []interface{}{likePattern(term)}
	paramIndex := 2

	if clause, scopeArgs := scope.RecordClause(paramIndex); clause != "" {
		where += " AND " + clause
		args = append(args, scopeArgs...)
		paramIndex += len(scopeArgs)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*)`+recordFrom+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	query := `SELECT` + recordColumns + recordFrom + where +
		fmt.Sprintf(` ORDER BY r.action_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	records := make([]*models.AuditRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to search audit records: %w", err)
	}
	return records, total, nil
}

// ActionCount is one row of the per-action breakdown.
type ActionCount struct {
	ActionType string `db:"action_type" json:"action_type"`
	Count      int64  `db:"count" json:"count"`
}

// EntityCount is one row of the per-entity-type breakdown.
type EntityCount struct {
	EntityType string `db:"entity_type" json:"entity_type"`
	Count      int64  `db:"count" json:"count"`
}

// RecordStats is the scoped statistics summary for the dashboard.
type RecordStats struct {
	TotalLogs       int64         `json:"total_logs"`
	RecentActivity  int64         `json:"recent_activity"`
	ActionBreakdown []ActionCount `json:"action_breakdown"`
	EntityBreakdown []EntityCount `json:"entity_breakdown"`
}

// Stats computes record counts and breakdowns, all under the caller's scope.
func (r *AuditRepository) Stats(ctx context.Context, scope access.Scope) (*RecordStats, error) {
	scopeWhere := ""
	scopeArgs := []interface{}(nil)
	if clause, args := scope.RecordClause(1); clause != "" {
		scopeWhere = " WHERE " + clause
		scopeArgs = args
	}

	stats := &RecordStats{}

	if err := r.db.GetContext(ctx, &stats.TotalLogs,
		`SELECT COUNT(*) FROM audit_records r`+scopeWhere, scopeArgs...); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	recentWhere := scopeWhere
	if recentWhere == "" {
		recentWhere = " WHERE r.action_at >= NOW() - INTERVAL '24 hours'"
	} else {
		recentWhere += " AND r.action_at >= NOW() - INTERVAL '24 hours'"
	}
	if err := r.db.GetContext(ctx, &stats.RecentActivity,
		`SELECT COUNT(*) FROM audit_records r`+recentWhere, scopeArgs...); err != nil {
		return nil, fmt.Errorf("failed to count recent activity: %w", err)
	}

	actionQuery := `
		SELECT at.code AS action_type, COUNT(*) AS count
		FROM audit_records r
		JOIN action_types at ON at.id = r.action_type_id` + scopeWhere + `
		GROUP BY at.code
		ORDER BY count DESC`
	stats.ActionBreakdown = make([]ActionCount, 0)
	if err := r.db.SelectContext(ctx, &stats.ActionBreakdown, actionQuery, scopeArgs...); err != nil {
		return nil, fmt.Errorf("failed to compute action breakdown: %w", err)
	}

	entityQuery := `
		SELECT r.entity_type, COUNT(*) AS count
		FROM audit_records r` + scopeWhere + `
		GROUP BY r.entity_type
		ORDER BY count DESC`
	stats.EntityBreakdown = make([]EntityCount, 0)
	if err := r.db.SelectContext(ctx, &stats.EntityBreakdown, entityQuery, scopeArgs...); err != nil {
		return nil, fmt.Errorf("failed to compute entity breakdown: %w", err)
	}

	return stats, nil
}

// Remove hard-deletes a record. Returns ErrNotFound when the id does not
// exist. Irreversible; only reachable through the SuperAdmin surface.
func (r *AuditRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete audit record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
