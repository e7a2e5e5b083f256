package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/cache"
	"github.com/rollupcore/rollup-core/internal/config"
	"github.com/rollupcore/rollup-core/internal/index"
	"github.com/rollupcore/rollup-core/internal/models"
	"github.com/rollupcore/rollup-core/internal/storage"
)

type fakeStore struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*models.RollupExecution
	entries    []models.IndexEntry
	graph      *models.MergedGraph
}

func newFakeStore() *fakeStore {
	return &fakeStore{executions: make(map[uuid.UUID]*models.RollupExecution)}
}

func (s *fakeStore) CreateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error { return nil }
func (s *fakeStore) GetRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupConfig, error) {
	return nil, storage.ErrNotFound
}
func (s *fakeStore) UpdateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error { return nil }
func (s *fakeStore) DeleteRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) error {
	return nil
}
func (s *fakeStore) ListRollupConfigs(ctx context.Context, tenantID models.Tenant) ([]*models.RollupConfig, error) {
	return nil, nil
}

func (s *fakeStore) CreateExecution(ctx context.Context, exec *models.RollupExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}
func (s *fakeStore) UpdateExecution(ctx context.Context, exec *models.RollupExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.executions[exec.ID] = &cp
	return nil
}
func (s *fakeStore) GetExecution(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}
func (s *fakeStore) ListExecutions(ctx context.Context, tenantID models.Tenant, rollupID uuid.UUID, limit int) ([]*models.RollupExecution, error) {
	return nil, nil
}

func (s *fakeStore) SaveMergedGraph(ctx context.Context, tenantID models.Tenant, graph *models.MergedGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = graph
	return nil
}
func (s *fakeStore) GetMergedGraph(ctx context.Context, tenantID models.Tenant, executionID uuid.UUID) (*models.MergedGraph, error) {
	return s.graph, nil
}

func (s *fakeStore) SaveIndexEntries(ctx context.Context, entries []models.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}
func (s *fakeStore) GetIndexEntriesByScan(ctx context.Context, tenantID models.Tenant, scanID string) ([]models.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.IndexEntry
	for _, e := range s.entries {
		if e.TenantID == tenantID && e.ScanID == scanID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (s *fakeStore) FindIndexEntriesByHash(ctx context.Context, tenantID models.Tenant, hash string) ([]models.IndexEntry, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

type fakeGraphs struct {
	mu       sync.Mutex
	graphs   map[string]models.RepoGraph
	failures map[string]int32 // repositoryID -> remaining failures before success
	calls    int32
}

func (f *fakeGraphs) FetchRepoGraph(ctx context.Context, tenantID models.Tenant, repositoryID string) (models.RepoGraph, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining, ok := f.failures[repositoryID]; ok && remaining > 0 {
		f.failures[repositoryID] = remaining - 1
		return models.RepoGraph{}, assertErr{}
	}
	return f.graphs[repositoryID], nil
}

type assertErr struct{}

func (assertErr) Error() string { return "transient fetch failure" }

func testExecutor(t *testing.T, graphs *fakeGraphs, store *fakeStore) *Executor {
	t.Helper()
	idx := index.New(cache.NewL1(1000, time.Minute), nil, store, time.Minute, nil)
	cfg := config.ExecutorConfig{
		FetchTimeout:        5 * time.Second,
		MatchTimeout:        5 * time.Second,
		MergeTimeout:        5 * time.Second,
		StoreTimeout:        5 * time.Second,
		MaxRetries:          2,
		RetryBaseDelay:      time.Millisecond,
		RetryMaxDelay:       5 * time.Millisecond,
		CancelCheckInterval: time.Millisecond,
	}
	return New(graphs, idx, store, cfg, nil)
}

func twoRepoRollup() *models.RollupConfig {
	return &models.RollupConfig{
		ID:            uuid.New(),
		TenantID:      "tenant-a",
		RepositoryIDs: []string{"repo-a", "repo-b"},
		Matchers:      []models.MatcherConfig{{Type: models.MatcherARN, Priority: 100, MinConfidence: 0.5}},
		MergeOptions:  models.MergeOptions{},
	}
}

func TestExecutor_RunCompletesAllPhases(t *testing.T) {
	graphs := &fakeGraphs{graphs: map[string]models.RepoGraph{
		"repo-a": {ScanID: "scan-a", RepositoryID: "repo-a", Nodes: []models.Node{{ID: "n1", Type: "bucket"}}},
		"repo-b": {ScanID: "scan-b", RepositoryID: "repo-b", Nodes: []models.Node{{ID: "n2", Type: "bucket"}}},
	}}
	store := newFakeStore()
	ex := testExecutor(t, graphs, store)

	exec, merged, err := ex.Run(context.Background(), "tenant-a", twoRepoRollup())
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, exec.Phase)
	require.NotNil(t, merged)
	assert.Len(t, merged.Nodes, 2)
}

func TestExecutor_RetriesTransientFetchFailure(t *testing.T) {
	graphs := &fakeGraphs{
		graphs: map[string]models.RepoGraph{
			"repo-a": {ScanID: "scan-a", RepositoryID: "repo-a"},
			"repo-b": {ScanID: "scan-b", RepositoryID: "repo-b"},
		},
		failures: map[string]int32{"repo-a": 1},
	}
	store := newFakeStore()
	ex := testExecutor(t, graphs, store)

	exec, _, err := ex.Run(context.Background(), "tenant-a", twoRepoRollup())
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, exec.Phase)
}

func TestExecutor_FailsAfterExhaustingRetries(t *testing.T) {
	graphs := &fakeGraphs{
		graphs:   map[string]models.RepoGraph{"repo-b": {ScanID: "scan-b", RepositoryID: "repo-b"}},
		failures: map[string]int32{"repo-a": 100},
	}
	store := newFakeStore()
	ex := testExecutor(t, graphs, store)

	exec, _, err := ex.Run(context.Background(), "tenant-a", twoRepoRollup())
	require.Error(t, err)
	assert.Equal(t, models.PhaseFailed, exec.Phase)
	assert.Equal(t, "fetching", exec.Error.Phase)
}

func TestExecutor_CancellationMarksExecutionCancelled(t *testing.T) {
	graphs := &fakeGraphs{graphs: map[string]models.RepoGraph{
		"repo-a": {ScanID: "scan-a", RepositoryID: "repo-a"},
		"repo-b": {ScanID: "scan-b", RepositoryID: "repo-b"},
	}}
	store := newFakeStore()
	ex := testExecutor(t, graphs, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	time.Sleep(2 * time.Millisecond)

	exec, _, err := ex.Run(ctx, "tenant-a", twoRepoRollup())
	require.Error(t, err)
	assert.Equal(t, models.PhaseCancelled, exec.Phase)
}
