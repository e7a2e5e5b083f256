// Package service exposes the rollup core as a single tenant-scoped
// facade: CRUD over RollupConfig, triggering executions (synchronously
// or via the queue), and blast-radius queries over a completed
// execution's merged graph.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rollupcore/rollup-core/internal/audit"
	"github.com/rollupcore/rollup-core/internal/blastradius"
	"github.com/rollupcore/rollup-core/internal/config"
	"github.com/rollupcore/rollup-core/internal/dlq"
	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/executor"
	"github.com/rollupcore/rollup-core/internal/logging"
	"github.com/rollupcore/rollup-core/internal/models"
	"github.com/rollupcore/rollup-core/internal/queue"
	"github.com/rollupcore/rollup-core/internal/storage"
	"github.com/rollupcore/rollup-core/internal/validation"
)

// Service is the tenant-scoped facade over rollup configuration and
// execution. Every method that touches an existing resource must fail
// with ROLLUP_RES_NOT_FOUND (never a permission error) when the
// resource belongs to a different tenant, so a caller cannot
// distinguish "not yours" from "doesn't exist" and enumerate tenants.
type Service struct {
	store    storage.Store
	executor *executor.Executor
	queue    *queue.Queue
	audit    *audit.Logger
	dlq      *dlq.Queue
	risk     config.RiskConfig
	logger   *logging.Logger
}

// New builds a Service. queue may be nil to run executions only
// synchronously (e.g. in tests or a single-shot CLI invocation).
func New(store storage.Store, exec *executor.Executor, q *queue.Queue, auditLogger *audit.Logger, risk config.RiskConfig, logger *logging.Logger) *Service {
	return &Service{store: store, executor: exec, queue: q, audit: auditLogger, risk: risk, logger: logger}
}

// WithDeadLetterQueue attaches a dead-letter queue that records
// rollups whose execution fails after exhausting the executor's
// in-process retry budget, and clears the record on a later success.
// Returns s for chaining off New.
func (s *Service) WithDeadLetterQueue(q *dlq.Queue) *Service {
	s.dlq = q
	return s
}

func (s *Service) recordOutcome(ctx context.Context, tenantID models.Tenant, rollupID uuid.UUID, exec *models.RollupExecution) {
	if s.dlq == nil || exec == nil {
		return
	}
	switch exec.Phase {
	case models.PhaseFailed:
		code, message := "UNKNOWN", ""
		if exec.Error != nil {
			code, message = exec.Error.Code, exec.Error.Message
		}
		if err := s.dlq.Enqueue(ctx, tenantID, rollupID, exec.ID, code, message); err != nil && s.logger != nil {
			s.logger.Warn("failed to record execution failure in dead letter queue", "error", err)
		}
	case models.PhaseCompleted:
		if err := s.dlq.MarkResolved(ctx, tenantID, rollupID); err != nil && s.logger != nil {
			s.logger.Warn("failed to clear dead letter entry", "error", err)
		}
	}
}

func (s *Service) log(event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(event); err != nil && s.logger != nil {
		s.logger.Warn("failed to write audit event", "error", err)
	}
}

// CreateRollup validates and persists a new RollupConfig.
func (s *Service) CreateRollup(ctx context.Context, cfg *models.RollupConfig, actor string) (*models.RollupConfig, error) {
	if err := validation.ValidateRollupConfig(cfg); err != nil {
		return nil, err
	}

	cfg.ID = uuid.New()
	cfg.Status = models.RollupStatusActive
	cfg.Version = 1
	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := s.store.CreateRollupConfig(ctx, cfg); err != nil {
		return nil, rolluperrors.InfraErrorf(err, "failed to create rollup config")
	}

	s.log(audit.RollupEvent(cfg.TenantID, audit.EventRollupCreated, cfg.ID, actor))
	return cfg, nil
}

// GetRollup fetches a RollupConfig scoped to tenantID.
func (s *Service) GetRollup(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupConfig, error) {
	cfg, err := s.store.GetRollupConfig(ctx, tenantID, id)
	if err != nil {
		return nil, translateNotFound(err, "rollup %s", id)
	}
	return cfg, nil
}

// ListRollups lists every RollupConfig owned by tenantID.
func (s *Service) ListRollups(ctx context.Context, tenantID models.Tenant) ([]*models.RollupConfig, error) {
	cfgs, err := s.store.ListRollupConfigs(ctx, tenantID)
	if err != nil {
		return nil, rolluperrors.InfraErrorf(err, "failed to list rollup configs")
	}
	return cfgs, nil
}

// UpdateRollup validates and persists changes to an existing
// RollupConfig under optimistic concurrency: update.Version must match
// the stored row, or the call fails with ROLLUP_RES_VERSION_CONFLICT.
func (s *Service) UpdateRollup(ctx context.Context, update *models.RollupConfig, actor string) (*models.RollupConfig, error) {
	existing, err := s.store.GetRollupConfig(ctx, update.TenantID, update.ID)
	if err != nil {
		return nil, translateNotFound(err, "rollup %s", update.ID)
	}
	if existing.Status == models.RollupStatusArchived {
		return nil, rolluperrors.ArchivedErrorf("rollup %s is archived and cannot be updated", update.ID)
	}
	if err := validation.ValidateRollupConfig(update); err != nil {
		return nil, err
	}

	update.UpdatedAt = time.Now()
	update.CreatedAt = existing.CreatedAt
	update.Status = existing.Status

	if err := s.store.UpdateRollupConfig(ctx, update); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, rolluperrors.VersionConflictErrorf("rollup %s was modified concurrently, reload and retry", update.ID)
		}
		return nil, rolluperrors.InfraErrorf(err, "failed to update rollup config")
	}

	s.log(audit.RollupEvent(update.TenantID, audit.EventRollupUpdated, update.ID, actor))
	return update, nil
}

// ArchiveRollup marks a RollupConfig archived without deleting its
// execution history, so past blast-radius results remain queryable.
func (s *Service) ArchiveRollup(ctx context.Context, tenantID models.Tenant, id uuid.UUID, actor string) error {
	cfg, err := s.store.GetRollupConfig(ctx, tenantID, id)
	if err != nil {
		return translateNotFound(err, "rollup %s", id)
	}
	cfg.Status = models.RollupStatusArchived
	cfg.UpdatedAt = time.Now()
	if err := s.store.UpdateRollupConfig(ctx, cfg); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return rolluperrors.VersionConflictErrorf("rollup %s was modified concurrently, reload and retry", id)
		}
		return rolluperrors.InfraErrorf(err, "failed to archive rollup config")
	}
	s.log(audit.RollupEvent(tenantID, audit.EventRollupArchived, id, actor))
	return nil
}

// DeleteRollup permanently removes a RollupConfig's row. Its
// executions and merged graphs are not deleted.
func (s *Service) DeleteRollup(ctx context.Context, tenantID models.Tenant, id uuid.UUID, actor string) error {
	if _, err := s.store.GetRollupConfig(ctx, tenantID, id); err != nil {
		return translateNotFound(err, "rollup %s", id)
	}
	if err := s.store.DeleteRollupConfig(ctx, tenantID, id); err != nil {
		return rolluperrors.InfraErrorf(err, "failed to delete rollup config")
	}
	s.log(audit.RollupEvent(tenantID, audit.EventRollupDeleted, id, actor))
	return nil
}

// RunRollup executes rollup synchronously and returns the completed
// (or failed) execution along with its merged graph.
func (s *Service) RunRollup(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupExecution, *models.MergedGraph, error) {
	cfg, err := s.store.GetRollupConfig(ctx, tenantID, id)
	if err != nil {
		return nil, nil, translateNotFound(err, "rollup %s", id)
	}
	if cfg.Status == models.RollupStatusArchived {
		return nil, nil, rolluperrors.ArchivedErrorf("rollup %s is archived and cannot be run", id)
	}

	exec, merged, err := s.executor.Run(ctx, tenantID, cfg)
	if exec != nil {
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		s.log(audit.ExecutionEvent(tenantID, cfg.ID, exec.ID, exec.Phase, detail))
		s.recordOutcome(ctx, tenantID, cfg.ID, exec)
	}
	return exec, merged, err
}

// RunRollupAsync submits rollup for execution on the queue and returns
// immediately. Use GetExecution to poll progress. Requires a queue to
// have been configured.
func (s *Service) RunRollupAsync(ctx context.Context, tenantID models.Tenant, id uuid.UUID) error {
	if s.queue == nil {
		return rolluperrors.ExecutionErrorf("QUEUE_UNAVAILABLE", "asynchronous execution is not configured")
	}
	cfg, err := s.store.GetRollupConfig(ctx, tenantID, id)
	if err != nil {
		return translateNotFound(err, "rollup %s", id)
	}
	if cfg.Status == models.RollupStatusArchived {
		return rolluperrors.ArchivedErrorf("rollup %s is archived and cannot be run", id)
	}

	return s.queue.Submit(ctx, queue.Job{
		TenantID: tenantID,
		Run: func(jobCtx context.Context) error {
			exec, _, runErr := s.executor.Run(jobCtx, tenantID, cfg)
			if exec != nil {
				detail := ""
				if runErr != nil {
					detail = runErr.Error()
				}
				s.log(audit.ExecutionEvent(tenantID, cfg.ID, exec.ID, exec.Phase, detail))
				s.recordOutcome(jobCtx, tenantID, cfg.ID, exec)
			}
			return runErr
		},
	})
}

// GetExecution fetches one execution's current state, scoped to tenantID.
func (s *Service) GetExecution(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupExecution, error) {
	exec, err := s.store.GetExecution(ctx, tenantID, id)
	if err != nil {
		return nil, translateNotFound(err, "execution %s", id)
	}
	return exec, nil
}

// ListExecutions lists the most recent executions of rollupID, newest first.
func (s *Service) ListExecutions(ctx context.Context, tenantID models.Tenant, rollupID uuid.UUID, limit int) ([]*models.RollupExecution, error) {
	execs, err := s.store.ListExecutions(ctx, tenantID, rollupID, limit)
	if err != nil {
		return nil, rolluperrors.InfraErrorf(err, "failed to list executions")
	}
	return execs, nil
}

// BlastRadius runs a blast-radius query against the merged graph
// produced by executionID, seeded at the given canonical node ids.
func (s *Service) BlastRadius(ctx context.Context, tenantID models.Tenant, executionID uuid.UUID, seeds []string, opts blastradius.Options) (blastradius.Result, error) {
	graph, err := s.store.GetMergedGraph(ctx, tenantID, executionID)
	if err != nil {
		return blastradius.Result{}, translateNotFound(err, "merged graph for execution %s", executionID)
	}

	if opts.Thresholds == (blastradius.RiskThresholds{}) {
		opts.Thresholds = blastradius.RiskThresholds{
			Medium:   s.risk.MediumThreshold,
			High:     s.risk.HighThreshold,
			Critical: s.risk.CriticalThreshold,
		}
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = s.risk.MaxDepth
	}
	if opts.MaxNodes == 0 {
		opts.MaxNodes = s.risk.MaxNodes
	}

	result := blastradius.Compute(graph, seeds, opts)
	s.log(audit.Event{TenantID: tenantID, Type: audit.EventBlastRadiusRead, ExecutionID: executionID, Severity: rolluperrors.SeverityLow})
	return result, nil
}

// ListDeadLetters lists tenantID's rollups whose most recent execution
// failed, for an operator to review or manually retry. Returns an
// empty slice (not an error) when no dead-letter queue is configured.
func (s *Service) ListDeadLetters(ctx context.Context, tenantID models.Tenant, limit int) ([]dlq.Entry, error) {
	if s.dlq == nil {
		return nil, nil
	}
	entries, err := s.dlq.GetRecentFailures(ctx, tenantID, limit)
	if err != nil {
		return nil, rolluperrors.InfraErrorf(err, "failed to list dead letter entries")
	}
	return entries, nil
}

// translateNotFound maps a storage.ErrNotFound into the tenant-safe
// ROLLUP_RES_NOT_FOUND error, never leaking whether a resource exists
// under a different tenant.
func translateNotFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, storage.ErrNotFound) {
		return rolluperrors.NotFoundErrorf(format, args...)
	}
	return rolluperrors.InfraErrorf(err, format, args...)
}
