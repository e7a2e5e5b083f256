// Package dlq tracks rollup executions that failed and exhausted the
// executor's in-process retry budget, so an operator (or a future
// scheduled sweep) can see what needs attention without combing through
// execution history by hand.
package dlq

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rollupcore/rollup-core/internal/models"
)

// Entry is one rollup whose most recent execution failed.
type Entry struct {
	ID           int64
	TenantID     models.Tenant
	RollupID     uuid.UUID
	ExecutionID  uuid.UUID
	ErrorCode    string
	ErrorMessage string
	RetryCount   int
	LastRetryAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Queue persists dead-letter entries to Postgres. It uses
// database/sql directly rather than sqlx since every column here is a
// scalar; the entry has no nested structure worth a jsonb column.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewQueue wraps an existing *sql.DB, e.g. storage.PostgresStore's
// underlying connection obtained via sqlx.DB.DB().
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db, logger: slog.Default().With("component", "dlq")}
}

// Enqueue records that rollupID's latest execution failed. A second
// failure of the same rollup increments retry_count on the existing
// row instead of creating a new one, the same idempotent-upsert shape
// the rest of this codebase's write paths use.
func (q *Queue) Enqueue(ctx context.Context, tenantID models.Tenant, rollupID, executionID uuid.UUID, errCode, errMessage string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rollup_dead_letters (tenant_id, rollup_id, execution_id, error_code, error_message, retry_count)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (tenant_id, rollup_id) DO UPDATE
		SET execution_id = $3,
		    error_code = $4,
		    error_message = $5,
		    retry_count = rollup_dead_letters.retry_count + 1,
		    last_retry_at = NOW(),
		    updated_at = NOW()
	`, string(tenantID), rollupID, executionID, errCode, errMessage)
	if err != nil {
		return fmt.Errorf("failed to enqueue rollup %s to dead letter queue: %w", rollupID, err)
	}

	q.logger.Warn("rollup execution failed, recorded in dead letter queue",
		"tenant_id", tenantID, "rollup_id", rollupID, "execution_id", executionID, "error_code", errCode)
	return nil
}

// MarkResolved removes rollupID's dead-letter entry, called after a
// subsequent run of the same rollup succeeds.
func (q *Queue) MarkResolved(ctx context.Context, tenantID models.Tenant, rollupID uuid.UUID) error {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM rollup_dead_letters WHERE tenant_id = $1 AND rollup_id = $2
	`, string(tenantID), rollupID)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter entry for rollup %s: %w", rollupID, err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		q.logger.Info("rollup recovered, removed from dead letter queue", "tenant_id", tenantID, "rollup_id", rollupID)
	}
	return nil
}

// GetPendingRetries returns tenantID's dead-letter entries with fewer
// than maxRetries recorded failures, oldest first.
func (q *Queue) GetPendingRetries(ctx context.Context, tenantID models.Tenant, maxRetries int) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, rollup_id, execution_id, error_code, error_message, retry_count, last_retry_at, created_at, updated_at
		FROM rollup_dead_letters
		WHERE tenant_id = $1 AND retry_count < $2
		ORDER BY created_at ASC
	`, string(tenantID), maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter queue: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetRecentFailures returns tenantID's most recently updated
// dead-letter entries, for an operator dashboard or CLI command.
func (q *Queue) GetRecentFailures(ctx context.Context, tenantID models.Tenant, limit int) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, rollup_id, execution_id, error_code, error_message, retry_count, last_retry_at, created_at, updated_at
		FROM rollup_dead_letters
		WHERE tenant_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, string(tenantID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent failures: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var tenantID string
		var lastRetryAt sql.NullTime
		if err := rows.Scan(&e.ID, &tenantID, &e.RollupID, &e.ExecutionID, &e.ErrorCode, &e.ErrorMessage,
			&e.RetryCount, &lastRetryAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
		}
		e.TenantID = models.Tenant(tenantID)
		if lastRetryAt.Valid {
			e.LastRetryAt = &lastRetryAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes a tenant's dead-letter queue.
type Stats struct {
	TenantID         models.Tenant
	TotalEntries     int
	RetryableEntries int
	ExhaustedEntries int
}

// GetStats summarizes tenantID's dead-letter queue, counting entries
// under maxRetries as retryable and the rest as exhausted.
func (q *Queue) GetStats(ctx context.Context, tenantID models.Tenant, maxRetries int) (*Stats, error) {
	stats := &Stats{TenantID: tenantID}
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE retry_count < $2),
			COUNT(*) FILTER (WHERE retry_count >= $2)
		FROM rollup_dead_letters
		WHERE tenant_id = $1
	`, string(tenantID), maxRetries).Scan(&stats.TotalEntries, &stats.RetryableEntries, &stats.ExhaustedEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
	}
	return stats, nil
}

// PurgeOld removes dead-letter entries last updated before olderThan
// ago, regardless of tenant.
func (q *Queue) PurgeOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := q.db.ExecContext(ctx, `DELETE FROM rollup_dead_letters WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old dead letter entries: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		q.logger.Info("purged old dead letter entries", "count", rows, "older_than", olderThan)
	}
	return int(rows), nil
}

// Schema is the DDL this package expects. Postgres-only: the dead
// letter queue is an operational aid, not part of the durable record a
// SQLite single-node deployment needs to keep.
const Schema = `
CREATE TABLE IF NOT EXISTS rollup_dead_letters (
	id BIGSERIAL PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	rollup_id UUID NOT NULL,
	execution_id UUID NOT NULL,
	error_code TEXT NOT NULL,
	error_message TEXT NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	last_retry_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, rollup_id)
);
CREATE INDEX IF NOT EXISTS idx_rollup_dead_letters_tenant ON rollup_dead_letters (tenant_id);
`
