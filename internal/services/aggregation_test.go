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

	"github.com/audit-trail/audit-trail/internal/db/repositories"
)

func newAggregator(t *testing.T) (*Aggregator, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")
	return NewAggregator(repositories.NewSummaryRepository(db)), mock
}

func TestAggregateRangeInclusive(t *testing.T) {
	agg, mock := newAggregator(t)

	from := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)

	// Three calendar days: the 28th, 29th and 30th.
	for i := 0; i < 3; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO summaries")).
			WillReturnResult(sqlmock.NewResult(0, 2))
	}

	days, err := agg.AggregateRange(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, days)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateRangeStopsOnFirstFailure(t *testing.T) {
	agg, mock := newAggregator(t)

	from := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO summaries")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO summaries")).
		WillReturnError(assert.AnError)

	days, err := agg.AggregateRange(context.Background(), from, to)
	require.Error(t, err)
	assert.Equal(t, 1, days)
	assert.Contains(t, err.Error(), "2026-08-29")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateRangeRejectsInvertedRange(t *testing.T) {
	agg, _ := newAggregator(t)

	from := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	_, err := agg.AggregateRange(context.Background(), from, to)
	assert.Error(t, err)
}
