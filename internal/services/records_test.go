package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-trail/audit-trail/internal/access"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
)

func newRecordService(t *testing.T) (*RecordService, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")

	dedup := NewDedupService(repositories.NewDedupRepository(db), nil, 7)
	svc := NewRecordService(
		repositories.NewAuditRepository(db),
		repositories.NewActionTypeRepository(db),
		dedup,
	)
	return svc, mock
}

func TestRecordServiceSubmit(t *testing.T) {
	svc, mock := newRecordService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM action_types WHERE code = $1")).
		WithArgs("CREATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).
			AddRow(int64(11), int64(1), time.Now()))

	actor := "FIN042"
	rec, duplicate, err := svc.Submit(context.Background(), SubmitInput{
		EntityType: "invoice",
		EntityID:   "INV-1",
		ActionType: "CREATE",
		ActionBy:   &actor,
		NewData:    []byte(`{"total":10}`),
	}, "finance")
	require.NoError(t, err)
	assert.False(t, duplicate)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "finance", rec.SourceService)
	// Module name falls back to the entity type when not supplied.
	assert.Equal(t, "invoice", rec.ModuleName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordServiceSubmitUnknownActionType(t *testing.T) {
	svc, mock := newRecordService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM action_types WHERE code = $1")).
		WithArgs("FROB").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, _, err := svc.Submit(context.Background(), SubmitInput{
		EntityType: "invoice",
		EntityID:   "INV-1",
		ActionType: "frob",
	}, "finance")
	assert.ErrorIs(t, err, repositories.ErrUnknownActionType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordServiceSubmitDuplicateSuppressed(t *testing.T) {
	svc, mock := newRecordService(t)

	// The event id has a live row: the submit stops before touching anything.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("evt-123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	rec, duplicate, err := svc.Submit(context.Background(), SubmitInput{
		EntityType: "invoice",
		EntityID:   "INV-1",
		ActionType: "CREATE",
		EventID:    "evt-123",
	}, "finance")
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordServiceSubmitMarksEventAfterAppend(t *testing.T) {
	svc, mock := newRecordService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("evt-42").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM action_types")).
		WithArgs("CREATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).
			AddRow(int64(13), int64(1), time.Now()))
	// The event id is consumed only once the record is durable.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_dedup")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, duplicate, err := svc.Submit(context.Background(), SubmitInput{
		EntityType: "invoice",
		EntityID:   "INV-3",
		ActionType: "CREATE",
		EventID:    "evt-42",
	}, "finance")
	require.NoError(t, err)
	assert.False(t, duplicate)
	require.NotNil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordServiceSubmitFailureLeavesEventIDFree(t *testing.T) {
	svc, mock := newRecordService(t)

	// First attempt fails at action type resolution. No dedup row is
	// written, so the id stays free.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("evt-7").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM action_types")).
		WithArgs("BOGUS").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, _, err := svc.Submit(context.Background(), SubmitInput{
		EntityType: "invoice",
		EntityID:   "INV-9",
		ActionType: "BOGUS",
		EventID:    "evt-7",
	}, "finance")
	require.ErrorIs(t, err, repositories.ErrUnknownActionType)

	// The corrected retry with the same event id goes through and is not
	// reported as a duplicate.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("evt-7").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM action_types")).
		WithArgs("CREATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).
			AddRow(int64(14), int64(1), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_dedup")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, duplicate, err := svc.Submit(context.Background(), SubmitInput{
		EntityType: "invoice",
		EntityID:   "INV-9",
		ActionType: "CREATE",
		EventID:    "evt-7",
	}, "finance")
	require.NoError(t, err)
	assert.False(t, duplicate)
	require.NotNil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordServiceSubmitDedupFailsOpen(t *testing.T) {
	svc, mock := newRecordService(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("evt-999").
		WillReturnError(assert.AnError)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM action_types")).
		WithArgs("CREATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audit_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at"}).
			AddRow(int64(12), int64(1), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_dedup")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, duplicate, err := svc.Submit(context.Background(), SubmitInput{
		EntityType: "invoice",
		EntityID:   "INV-2",
		ActionType: "CREATE",
		EventID:    "evt-999",
	}, "finance")
	require.NoError(t, err)
	assert.False(t, duplicate)
	require.NotNil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordServiceListUnknownActionTypeIsEmpty(t *testing.T) {
	svc, mock := newRecordService(t)

	unknown := "NOPE"
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM action_types")).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	records, total, err := svc.List(context.Background(), ListInput{
		ActionType: &unknown,
		Limit:      10,
	}, access.SystemScope())
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordServiceGetOutOfScope(t *testing.T) {
	svc, mock := newRecordService(t)

	scope := access.ScopeFor(access.Caller{ID: "HR001", Role: access.ParseRole("Hr Non-Admin")})
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.id = $1")).
		WithArgs(int64(5), "HR001").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Get(context.Background(), 5, scope)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
