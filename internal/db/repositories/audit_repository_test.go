package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-trail/audit-trail/internal/access"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func strPtr(s string) *string { return &s }

func TestAuditRepositoryAppend(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_records")).
		WithArgs("invoice", "INV-1001", int64(2), "FIN042", sqlmock.AnyArg(),
			nil, []byte(`{"total":99}`), nil, "finance", "invoice", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).
			AddRow(int64(17), int64(4), now))

	rec := &models.AuditRecord{
		EntityType:    "invoice",
		EntityID:      "INV-1001",
		ActionTypeID:  2,
		ActionBy:      strPtr("FIN042"),
		NewData:       []byte(`{"total":99}`),
		SourceService: "finance",
		ModuleName:    "invoice",
	}
	err := repo.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(17), rec.ID)
	assert.Equal(t, int64(4), rec.Version)
	assert.False(t, rec.ActionAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryAppendRetriesOnVersionRace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	uniqueErr := &pq.Error{Code: "23505", Constraint: "audit_records_entity_version_key"}
	insert := regexp.QuoteMeta("INSERT INTO audit_records")

	mock.ExpectQuery(insert).WillReturnError(uniqueErr)
	mock.ExpectQuery(insert).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).
			AddRow(int64(5), int64(2), time.Now()))

	rec := &models.AuditRecord{
		EntityType:    "invoice",
		EntityID:      "INV-7",
		ActionTypeID:  1,
		SourceService: "finance",
		ModuleName:    "invoice",
	}
	err := repo.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryAppendConflictExhaustion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	uniqueErr := &pq.Error{Code: "23505", Constraint: "audit_records_entity_version_key"}
	insert := regexp.QuoteMeta("INSERT INTO audit_records")
	for i := 0; i < appendMaxAttempts; i++ {
		mock.ExpectQuery(insert).WillReturnError(uniqueErr)
	}

	rec := &models.AuditRecord{
		EntityType:    "invoice",
		EntityID:      "INV-7",
		ActionTypeID:  1,
		SourceService: "finance",
		ModuleName:    "invoice",
	}
	err := repo.Append(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "entity_type", "entity_id", "action_type_id", "action_by", "action_at",
		"previous_data", "new_data", "version", "ip_address", "source_service",
		"module_name", "processing_time_ms", "created_at", "action_type_code",
	})
}

func TestAuditRepositoryGetScopedOutOfScopeIsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	scope := access.ScopeFor(access.Caller{ID: "HR009", Role: access.ParseRole("Hr Non-Admin")})

	mock.ExpectQuery(regexp.QuoteMeta("action_by = $2")).
		WithArgs(int64(42), "HR009").
		WillReturnRows(recordRows())

	rec, err := repo.GetScoped(context.Background(), 42, scope)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryGetScopedDepartmentAdmin(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	scope := access.ScopeFor(access.Caller{ID: "FIN001", Role: access.ParseRole("Finance Admin")})
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("action_by LIKE $2")).
		WithArgs(int64(9), "FIN%").
		WillReturnRows(recordRows().AddRow(
			int64(9), "invoice", "INV-1", int64(1), "FIN042", now,
			nil, []byte(`{}`), int64(1), nil, "finance", "invoice", nil, now, "CREATE"))

	rec, err := repo.GetScoped(context.Background(), 9, scope)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "CREATE", rec.ActionTypeCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListWithFilters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	filters := RecordFilters{
		EntityType: strPtr("invoice"),
		ActionBy:   strPtr("FIN042"),
	}
	scope := access.SystemScope()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("invoice", "FIN042").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY r.action_at DESC LIMIT $3 OFFSET $4")).
		WithArgs("invoice", "FIN042", 10, 0).
		WillReturnRows(recordRows().AddRow(
			int64(1), "invoice", "INV-1", int64(1), "FIN042", now,
			nil, []byte(`{}`), int64(1), nil, "finance", "invoice", nil, now, "CREATE"))

	records, total, err := repo.List(context.Background(), filters, scope, NewOrderSpec("", ""), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "INV-1", records[0].EntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryHistoryAscending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY r.version ASC")).
		WithArgs("invoice", "INV-1").
		WillReturnRows(recordRows().
			AddRow(int64(1), "invoice", "INV-1", int64(1), "FIN042", now,
				nil, []byte(`{}`), int64(1), nil, "finance", "invoice", nil, now, "CREATE").
			AddRow(int64(2), "invoice", "INV-1", int64(2), "FIN042", now,
				[]byte(`{}`), []byte(`{}`), int64(2), nil, "finance", "invoice", nil, now, "UPDATE"))

	records, err := repo.History(context.Background(), "invoice", "INV-1", access.SystemScope())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Version)
	assert.Equal(t, int64(2), records[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositorySearch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("%INV%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ILIKE $1")).
		WithArgs("%INV%", 10, 0).
		WillReturnRows(recordRows().AddRow(
			int64(1), "invoice", "INV-1", int64(1), "FIN042", now,
			nil, []byte(`{}`), int64(1), nil, "finance", "invoice", nil, now, "CREATE"))

	records, total, err := repo.Search(context.Background(), "INV", access.SystemScope(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositorySearchEscapesWildcards(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	// "100%" and "_" must match literally, not as LIKE wildcards.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs(`%100\%\_a\\b%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("ILIKE $1")).
		WithArgs(`%100\%\_a\\b%`, 10, 0).
		WillReturnRows(recordRows())

	records, total, err := repo.Search(context.Background(), `100%_a\b`, access.SystemScope(), 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryStatsScoped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	scope := access.ScopeFor(access.Caller{ID: "FIN001", Role: access.ParseRole("Finance Admin")})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_records r WHERE action_by LIKE $1")).
		WithArgs("FIN%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
	mock.ExpectQuery(regexp.QuoteMeta("INTERVAL '24 hours'")).
		WithArgs("FIN%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY at.code")).
		WithArgs("FIN%").
		WillReturnRows(sqlmock.NewRows([]string{"action_type", "count"}).
			AddRow("CREATE", 80).AddRow("UPDATE", 40))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY r.entity_type")).
		WithArgs("FIN%").
		WillReturnRows(sqlmock.NewRows([]string{"entity_type", "count"}).
			AddRow("invoice", 120))

	stats, err := repo.Stats(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, int64(120), stats.TotalLogs)
	assert.Equal(t, int64(7), stats.RecentActivity)
	require.Len(t, stats.ActionBreakdown, 2)
	assert.Equal(t, "CREATE", stats.ActionBreakdown[0].ActionType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryRemoveNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_records WHERE id = $1")).
		WithArgs(int64(999)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Remove(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
