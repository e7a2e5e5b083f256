package executor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/matchengine"
	"github.com/rollupcore/rollup-core/internal/mergeengine"
	"github.com/rollupcore/rollup-core/internal/models"
)

// fetchPhase fetches every repository's current scan graph concurrently,
// retrying a fetch failure with backoff up to cfg.MaxRetries times.
func (ex *Executor) fetchPhase(ctx context.Context, tenantID models.Tenant, rollup *models.RollupConfig, exec *models.RollupExecution) ([]models.RepoGraph, error) {
	exec.Phase = models.PhaseFetching
	if err := ex.store.UpdateExecution(ctx, exec); err != nil {
		return nil, rolluperrors.InfraErrorf(err, "failed to persist phase transition to fetching")
	}

	fetchCtx := ctx
	if ex.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, ex.cfg.FetchTimeout)
		defer cancel()
	}

	graphs := make([]models.RepoGraph, len(rollup.RepositoryIDs))
	gate := newCancelGate(ex.cfg.CancelCheckInterval)

	g, gctx := errgroup.WithContext(fetchCtx)
	for i, repoID := range rollup.RepositoryIDs {
		i, repoID := i, repoID
		g.Go(func() error {
			if err := gate.check(gctx); err != nil {
				return rolluperrors.ExecutionErrorf("CANCELLED", "execution cancelled before fetching repository %s", repoID)
			}
			graph, err := ex.fetchWithRetry(gctx, tenantID, repoID)
			if err != nil {
				return err
			}
			graphs[i] = graph
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return nil, rolluperrors.TimeoutErrorf("fetching", "repository fetch exceeded %s", ex.cfg.FetchTimeout)
		}
		return nil, err
	}

	return graphs, nil
}

// fetchWithRetry retries only repository-fetch failures, the one retry
// point the rollup executor allows, with full-jitter exponential
// backoff whose ceiling starts at RetryBaseDelay and is capped at
// RetryMaxDelay.
func (ex *Executor) fetchWithRetry(ctx context.Context, tenantID models.Tenant, repositoryID string) (models.RepoGraph, error) {
	var lastErr error
	for attempt := 0; attempt <= ex.cfg.MaxRetries; attempt++ {
		graph, err := ex.graphs.FetchRepoGraph(ctx, tenantID, repositoryID)
		if err == nil {
			return graph, nil
		}
		lastErr = err
		if attempt == ex.cfg.MaxRetries {
			break
		}

		delay := backoffDelay(attempt, ex.cfg.RetryBaseDelay, ex.cfg.RetryMaxDelay)
		if ex.logger != nil {
			ex.logger.Warn("repository fetch failed, retrying", "repository_id", repositoryID, "attempt", attempt+1, "delay", delay, "error", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.RepoGraph{}, ctx.Err()
		}
	}
	return models.RepoGraph{}, rolluperrors.ExecutionErrorf("FETCH_FAILED", "failed to fetch repository %s after %d attempts: %v", repositoryID, ex.cfg.MaxRetries+1, lastErr)
}

// matchPhase builds the external object index for each fetched graph
// and runs the match engine over every indexed node to produce
// equivalence classes.
func (ex *Executor) matchPhase(ctx context.Context, tenantID models.Tenant, graphs []models.RepoGraph, rollup *models.RollupConfig, exec *models.RollupExecution) ([]matchengine.EquivalenceClass, error) {
	exec.Phase = models.PhaseMatching
	if err := ex.store.UpdateExecution(ctx, exec); err != nil {
		return nil, rolluperrors.InfraErrorf(err, "failed to persist phase transition to matching")
	}

	matchCtx := ctx
	if ex.cfg.MatchTimeout > 0 {
		var cancel context.CancelFunc
		matchCtx, cancel = context.WithTimeout(ctx, ex.cfg.MatchTimeout)
		defer cancel()
	}

	gate := newCancelGate(ex.cfg.CancelCheckInterval)
	var allNodes []matchengine.IndexedNode

	for _, graph := range graphs {
		if err := gate.check(matchCtx); err != nil {
			return nil, rolluperrors.ExecutionErrorf("CANCELLED", "execution cancelled during indexing")
		}

		entries, err := ex.idx.BuildForScan(matchCtx, tenantID, graph)
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			allNodes = append(allNodes, matchengine.IndexedNode{
				Ref:        models.NodeRef{ScanID: entry.ScanID, NodeID: entry.NodeID},
				References: entry.References,
			})
		}
	}

	if matchCtx.Err() == context.DeadlineExceeded {
		return nil, rolluperrors.TimeoutErrorf("matching", "match phase exceeded %s", ex.cfg.MatchTimeout)
	}

	engine := matchengine.New(ex.matchReg, matchengine.AmbiguityWarnOnly, ex.logger)
	result := engine.Run(allNodes, rollup.Matchers)

	return result.Classes, nil
}

// mergePhase merges the fetched graphs using the equivalence classes
// found by matching.
func (ex *Executor) mergePhase(ctx context.Context, graphs []models.RepoGraph, classes []matchengine.EquivalenceClass, rollup *models.RollupConfig, exec *models.RollupExecution) (*models.MergedGraph, models.RollupExecutionStats, error) {
	exec.Phase = models.PhaseMerging
	if err := ex.store.UpdateExecution(ctx, exec); err != nil {
		return nil, models.RollupExecutionStats{}, rolluperrors.InfraErrorf(err, "failed to persist phase transition to merging")
	}

	mergeCtx := ctx
	if ex.cfg.MergeTimeout > 0 {
		var cancel context.CancelFunc
		mergeCtx, cancel = context.WithTimeout(ctx, ex.cfg.MergeTimeout)
		defer cancel()
	}
	if err := mergeCtx.Err(); err != nil {
		return nil, models.RollupExecutionStats{}, rolluperrors.TimeoutErrorf("merging", "merge phase did not start before deadline")
	}

	merged, err := mergeengine.Merge(mergeengine.Input{Graphs: graphs, Classes: classes, Options: rollup.MergeOptions})
	if err != nil {
		return nil, models.RollupExecutionStats{}, err
	}
	merged.ExecutionID = exec.ID

	ambiguous := 0
	for _, c := range classes {
		if c.Ambiguous {
			ambiguous++
		}
	}
	crossRepo := 0
	for _, e := range merged.Edges {
		if e.Type == mergeengine.CrossRepoIdentityEdgeType {
			crossRepo++
		}
	}

	stats := models.RollupExecutionStats{
		EquivalenceClasses: len(classes),
		MergedNodes:        len(merged.Nodes),
		MergedEdges:        len(merged.Edges),
		CrossRepoEdges:     crossRepo,
		AmbiguousMatches:   ambiguous,
	}

	return merged, stats, nil
}

// storePhase persists the merged graph.
func (ex *Executor) storePhase(ctx context.Context, tenantID models.Tenant, merged *models.MergedGraph, exec *models.RollupExecution) error {
	exec.Phase = models.PhaseStoring
	if err := ex.store.UpdateExecution(ctx, exec); err != nil {
		return rolluperrors.InfraErrorf(err, "failed to persist phase transition to storing")
	}

	storeCtx := ctx
	if ex.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, ex.cfg.StoreTimeout)
		defer cancel()
	}

	if err := ex.store.SaveMergedGraph(storeCtx, tenantID, merged); err != nil {
		if storeCtx.Err() == context.DeadlineExceeded {
			return rolluperrors.TimeoutErrorf("storing", "store phase exceeded %s", ex.cfg.StoreTimeout)
		}
		return rolluperrors.InfraErrorf(err, "failed to persist merged graph")
	}
	return nil
}
