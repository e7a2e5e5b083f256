package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rollupcore/rollup-core/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Store is the tenant-scoped durable backend for rollup configs,
// executions, merged graphs and the external object index. Every
// method is scoped to one tenant, given either as a models.Tenant
// argument or as the TenantID of the value written, and must never
// return a row belonging to a different tenant, even on a key
// collision.
type Store interface {
	// RollupConfig CRUD. Update fails with ErrVersionConflict if
	// cfg.Version does not match the stored row (optimistic
	// concurrency); the stored version is bumped on success.
	CreateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error
	GetRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupConfig, error)
	UpdateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error
	DeleteRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) error
	ListRollupConfigs(ctx context.Context, tenantID models.Tenant) ([]*models.RollupConfig, error)

	// RollupExecution lifecycle.
	CreateExecution(ctx context.Context, exec *models.RollupExecution) error
	UpdateExecution(ctx context.Context, exec *models.RollupExecution) error
	GetExecution(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupExecution, error)
	ListExecutions(ctx context.Context, tenantID models.Tenant, rollupID uuid.UUID, limit int) ([]*models.RollupExecution, error)

	// MergedGraph is the immutable output of one execution.
	SaveMergedGraph(ctx context.Context, tenantID models.Tenant, graph *models.MergedGraph) error
	GetMergedGraph(ctx context.Context, tenantID models.Tenant, executionID uuid.UUID) (*models.MergedGraph, error)

	// IndexEntry is the L2-durable form of the external object index,
	// backing a cache miss in both L1 and Redis.
	SaveIndexEntries(ctx context.Context, entries []models.IndexEntry) error
	GetIndexEntriesByScan(ctx context.Context, tenantID models.Tenant, scanID string) ([]models.IndexEntry, error)
	FindIndexEntriesByHash(ctx context.Context, tenantID models.Tenant, hash string) ([]models.IndexEntry, error)

	Close() error
}
