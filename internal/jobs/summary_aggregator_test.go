package jobs

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/services"
)

func newAggregatorJob(t *testing.T, cfg *config.AggregationConfig) (*SummaryAggregator, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")

	aggregator := services.NewAggregator(repositories.NewSummaryRepository(db))
	dedup := services.NewDedupService(repositories.NewDedupRepository(db), nil, 7)
	return NewSummaryAggregator(aggregator, dedup, cfg), mock
}

func TestNewSummaryAggregatorDefaultInterval(t *testing.T) {
	job, _ := newAggregatorJob(t, &config.AggregationConfig{Enabled: true, IntervalMinutes: 0})
	assert.Equal(t, 15*time.Minute, job.interval)
}

func TestSummaryAggregatorDisabledReturnsImmediately(t *testing.T) {
	job, mock := newAggregatorJob(t, &config.AggregationConfig{Enabled: false})

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return for a disabled job")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryAggregatorRunOnce(t *testing.T) {
	job, mock := newAggregatorJob(t, &config.AggregationConfig{Enabled: true, IntervalMinutes: 60})

	// Yesterday and today, then the dedup prune.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO summaries")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO summaries")).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM event_dedup")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	job.runOnce(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryAggregatorStops(t *testing.T) {
	job, mock := newAggregatorJob(t, &config.AggregationConfig{Enabled: true, IntervalMinutes: 60})

	// The immediate startup run.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO summaries")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO summaries")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM event_dedup")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	job.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
