package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/models"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueue(db), mock
}

func TestQueue_Enqueue(t *testing.T) {
	q, mock := newMockQueue(t)
	rollupID, execID := uuid.New(), uuid.New()

	mock.ExpectExec("INSERT INTO rollup_dead_letters").
		WithArgs("tenant-a", rollupID, execID, "FETCH_FAILED", "boom").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := q.Enqueue(context.Background(), "tenant-a", rollupID, execID, "FETCH_FAILED", "boom")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_MarkResolved(t *testing.T) {
	q, mock := newMockQueue(t)
	rollupID := uuid.New()

	mock.ExpectExec("DELETE FROM rollup_dead_letters").
		WithArgs("tenant-a", rollupID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.MarkResolved(context.Background(), "tenant-a", rollupID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_GetPendingRetries(t *testing.T) {
	q, mock := newMockQueue(t)
	rollupID, execID := uuid.New(), uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "rollup_id", "execution_id", "error_code", "error_message",
		"retry_count", "last_retry_at", "created_at", "updated_at",
	}).AddRow(1, "tenant-a", rollupID, execID, "FETCH_FAILED", "boom", 1, now, now, now)

	mock.ExpectQuery("SELECT (.+) FROM rollup_dead_letters").
		WithArgs("tenant-a", 3).
		WillReturnRows(rows)

	entries, err := q.GetPendingRetries(context.Background(), "tenant-a", 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.Tenant("tenant-a"), entries[0].TenantID)
	assert.Equal(t, rollupID, entries[0].RollupID)
	assert.Equal(t, 1, entries[0].RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_GetStats(t *testing.T) {
	q, mock := newMockQueue(t)

	rows := sqlmock.NewRows([]string{"total", "retryable", "exhausted"}).AddRow(5, 3, 2)
	mock.ExpectQuery("SELECT(.+)FROM rollup_dead_letters").
		WithArgs("tenant-a", 3).
		WillReturnRows(rows)

	stats, err := q.GetStats(context.Background(), "tenant-a", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalEntries)
	assert.Equal(t, 3, stats.RetryableEntries)
	assert.Equal(t, 2, stats.ExhaustedEntries)
	require.NoError(t, mock.ExpectationsWereMet())
}
