// Package executor runs one rollup execution through its phased state
// machine: fetching per-repository scan graphs, indexing them,
// matching shared objects across repositories, merging into one
// graph, and persisting the result. Each phase has its own timeout and
// the whole run honors cooperative cancellation.
package executor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rollupcore/rollup-core/internal/config"
	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/index"
	"github.com/rollupcore/rollup-core/internal/logging"
	"github.com/rollupcore/rollup-core/internal/matchengine"
	"github.com/rollupcore/rollup-core/internal/matchers"
	"github.com/rollupcore/rollup-core/internal/mergeengine"
	"github.com/rollupcore/rollup-core/internal/models"
	"github.com/rollupcore/rollup-core/internal/storage"
)

// GraphProvider fetches the current scan graph for one repository. The
// returned graph's ScanID identifies the snapshot that was fetched.
type GraphProvider interface {
	FetchRepoGraph(ctx context.Context, tenantID models.Tenant, repositoryID string) (models.RepoGraph, error)
}

// Executor drives one RollupConfig through the pipeline.
type Executor struct {
	graphs   GraphProvider
	idx      *index.Index
	store    storage.Store
	matchReg *matchers.Registry
	cfg      config.ExecutorConfig
	logger   *logging.Logger
}

// New builds an Executor.
func New(graphs GraphProvider, idx *index.Index, store storage.Store, cfg config.ExecutorConfig, logger *logging.Logger) *Executor {
	return &Executor{graphs: graphs, idx: idx, store: store, matchReg: matchers.NewRegistry(), cfg: cfg, logger: logger}
}

// Run executes rollup for tenantID end to end, returning the persisted
// execution record and, on success, the merged graph. The execution
// record is persisted at every phase transition so a caller polling
// GetExecution always observes current progress.
func (ex *Executor) Run(ctx context.Context, tenantID models.Tenant, rollup *models.RollupConfig) (*models.RollupExecution, *models.MergedGraph, error) {
	exec := &models.RollupExecution{
		ID:        uuid.New(),
		RollupID:  rollup.ID,
		TenantID:  tenantID,
		Phase:     models.PhaseQueued,
		StartedAt: time.Now(),
	}
	if err := ex.store.CreateExecution(ctx, exec); err != nil {
		return nil, nil, rolluperrors.InfraErrorf(err, "failed to create execution record")
	}

	graphs, err := ex.fetchPhase(ctx, tenantID, rollup, exec)
	if err != nil {
		return ex.fail(ctx, exec, models.PhaseFetching, err), nil, err
	}

	classes, err := ex.matchPhase(ctx, tenantID, graphs, rollup, exec)
	if err != nil {
		return ex.fail(ctx, exec, models.PhaseMatching, err), nil, err
	}

	merged, stats, err := ex.mergePhase(ctx, graphs, classes, rollup, exec)
	if err != nil {
		return ex.fail(ctx, exec, models.PhaseMerging, err), nil, err
	}
	stats.RepositoriesFetched = len(graphs)
	stats.NodesMatched = countMatchedNodes(classes)

	if err := ex.storePhase(ctx, tenantID, merged, exec); err != nil {
		return ex.fail(ctx, exec, models.PhaseStoring, err), nil, err
	}

	now := time.Now()
	exec.Phase = models.PhaseCompleted
	exec.FinishedAt = &now
	stats.Duration = now.Sub(exec.StartedAt)
	exec.Stats = stats
	if err := ex.store.UpdateExecution(ctx, exec); err != nil {
		return nil, nil, rolluperrors.InfraErrorf(err, "failed to persist completed execution")
	}

	return exec, merged, nil
}

func (ex *Executor) fail(ctx context.Context, exec *models.RollupExecution, phase models.ExecutionPhase, cause error) *models.RollupExecution {
	now := time.Now()
	exec.FinishedAt = &now
	if cause == context.Canceled || rolluperrors.Code(cause) == "ROLLUP_EXEC_CANCELLED" {
		exec.Phase = models.PhaseCancelled
	} else {
		exec.Phase = models.PhaseFailed
	}
	exec.Error = &models.ExecutionError{
		Code:    rolluperrors.Code(cause),
		Message: cause.Error(),
		Phase:   string(phase),
	}
	if err := ex.store.UpdateExecution(ctx, exec); err != nil && ex.logger != nil {
		ex.logger.Error("failed to persist failed execution", "execution_id", exec.ID, "error", err)
	}
	return exec
}

func countMatchedNodes(classes []matchengine.EquivalenceClass) int {
	n := 0
	for _, c := range classes {
		n += len(c.Members)
	}
	return n
}

// backoffDelay computes a full-jitter exponential backoff for attempt
// (0-indexed): a random delay in [0, min(base*2^attempt, max)].
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > max || d <= 0 {
		d = max
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// cancelGate reports ctx's cancellation at most once per interval, so
// a tight loop doesn't pay the cost of a channel select on every
// iteration while still responding to cancellation within one
// interval's bound.
type cancelGate struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func newCancelGate(interval time.Duration) *cancelGate {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	// last is left zero so the first check always runs: a gate that
	// starts silent could let a pre-cancelled context slip through the
	// first iteration of a tight loop.
	return &cancelGate{interval: interval}
}

// check may be called from multiple goroutines sharing one gate, e.g.
// one per repository fetch.
func (g *cancelGate) check(ctx context.Context) error {
	g.mu.Lock()
	due := time.Since(g.last) >= g.interval
	if due {
		g.last = time.Now()
	}
	g.mu.Unlock()

	if !due {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
