package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/audit"
	"github.com/rollupcore/rollup-core/internal/blastradius"
	"github.com/rollupcore/rollup-core/internal/cache"
	"github.com/rollupcore/rollup-core/internal/config"
	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/executor"
	"github.com/rollupcore/rollup-core/internal/index"
	"github.com/rollupcore/rollup-core/internal/models"
	"github.com/rollupcore/rollup-core/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	rollups  map[uuid.UUID]*models.RollupConfig
	execs    map[uuid.UUID]*models.RollupExecution
	graphs   map[uuid.UUID]*models.MergedGraph
	entries  []models.IndexEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rollups: make(map[uuid.UUID]*models.RollupConfig),
		execs:   make(map[uuid.UUID]*models.RollupExecution),
		graphs:  make(map[uuid.UUID]*models.MergedGraph),
	}
}

func (s *fakeStore) CreateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.rollups[cfg.ID] = &cp
	return nil
}

func (s *fakeStore) GetRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rollups[id]
	if !ok || cfg.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *fakeStore) UpdateRollupConfig(ctx context.Context, cfg *models.RollupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rollups[cfg.ID]
	if !ok || existing.TenantID != cfg.TenantID {
		return storage.ErrNotFound
	}
	if existing.Version != cfg.Version {
		return storage.ErrVersionConflict
	}
	cp := *cfg
	cp.Version++
	s.rollups[cfg.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteRollupConfig(ctx context.Context, tenantID models.Tenant, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rollups, id)
	return nil
}

func (s *fakeStore) ListRollupConfigs(ctx context.Context, tenantID models.Tenant) ([]*models.RollupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RollupConfig
	for _, cfg := range s.rollups {
		if cfg.TenantID == tenantID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateExecution(ctx context.Context, exec *models.RollupExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}
func (s *fakeStore) UpdateExecution(ctx context.Context, exec *models.RollupExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}
func (s *fakeStore) GetExecution(ctx context.Context, tenantID models.Tenant, id uuid.UUID) (*models.RollupExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[id]
	if !ok || e.TenantID != tenantID {
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
	s.graphs[graph.ExecutionID] = graph
	return nil
}
func (s *fakeStore) GetMergedGraph(ctx context.Context, tenantID models.Tenant, executionID uuid.UUID) (*models.MergedGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[executionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g, nil
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
	graphs map[string]models.RepoGraph
}

func (f *fakeGraphs) FetchRepoGraph(ctx context.Context, tenantID models.Tenant, repositoryID string) (models.RepoGraph, error) {
	return f.graphs[repositoryID], nil
}

func testService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	graphs := &fakeGraphs{graphs: map[string]models.RepoGraph{
		"repo-a": {ScanID: "scan-a", RepositoryID: "repo-a", Nodes: []models.Node{{ID: "n1"}}},
		"repo-b": {ScanID: "scan-b", RepositoryID: "repo-b", Nodes: []models.Node{{ID: "n2"}}},
	}}
	idx := index.New(cache.NewL1(1000, time.Minute), nil, store, time.Minute, nil)
	exec := executor.New(graphs, idx, store, config.ExecutorConfig{
		FetchTimeout: 5 * time.Second, MatchTimeout: 5 * time.Second,
		MergeTimeout: 5 * time.Second, StoreTimeout: 5 * time.Second,
		CancelCheckInterval: time.Millisecond,
	}, nil)

	auditLogger := audit.NewLogger(t.TempDir())
	svc := New(store, exec, nil, auditLogger, config.RiskConfig{MediumThreshold: 0.1, HighThreshold: 0.5, CriticalThreshold: 0.9, MaxDepth: 5, MaxNodes: 100}, nil)
	return svc, store
}

func validRollup(tenantID models.Tenant) *models.RollupConfig {
	return &models.RollupConfig{
		TenantID:      tenantID,
		Name:          "cross-account-blast",
		RepositoryIDs: []string{"repo-a", "repo-b"},
		Matchers:      []models.MatcherConfig{{Type: models.MatcherARN, Priority: 100, MinConfidence: 0.5}},
	}
}

func TestService_CreateAndGetRollup(t *testing.T) {
	svc, _ := testService(t)
	cfg, err := svc.CreateRollup(context.Background(), validRollup("tenant-a"), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, cfg.ID)
	assert.Equal(t, 1, cfg.Version)

	got, err := svc.GetRollup(context.Background(), "tenant-a", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, got.ID)
}

func TestService_GetRollup_CrossTenantReturnsNotFound(t *testing.T) {
	svc, _ := testService(t)
	cfg, err := svc.CreateRollup(context.Background(), validRollup("tenant-a"), "alice")
	require.NoError(t, err)

	_, err = svc.GetRollup(context.Background(), "tenant-b", cfg.ID)
	require.Error(t, err)
	assert.Equal(t, "ROLLUP_RES_NOT_FOUND", rolluperrors.Code(err))
}

func TestService_CreateRollup_RejectsInvalidConfig(t *testing.T) {
	svc, _ := testService(t)
	bad := validRollup("tenant-a")
	bad.RepositoryIDs = []string{"only-one"}

	_, err := svc.CreateRollup(context.Background(), bad, "alice")
	require.Error(t, err)
	assert.Equal(t, "ROLLUP_VAL_ROLLUP_CONFIG_INVALID", rolluperrors.Code(err))
}

func TestService_UpdateRollup_VersionConflict(t *testing.T) {
	svc, _ := testService(t)
	cfg, err := svc.CreateRollup(context.Background(), validRollup("tenant-a"), "alice")
	require.NoError(t, err)

	stale := *cfg
	stale.Version = cfg.Version + 5 // wrong version
	_, err = svc.UpdateRollup(context.Background(), &stale, "alice")
	require.Error(t, err)
	assert.Equal(t, "ROLLUP_RES_VERSION_CONFLICT", rolluperrors.Code(err))
}

func TestService_RunRollup_CompletesAndBlastRadiusQueries(t *testing.T) {
	svc, _ := testService(t)
	cfg, err := svc.CreateRollup(context.Background(), validRollup("tenant-a"), "alice")
	require.NoError(t, err)

	exec, merged, err := svc.RunRollup(context.Background(), "tenant-a", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, exec.Phase)
	require.NotNil(t, merged)

	result, err := svc.BlastRadius(context.Background(), "tenant-a", exec.ID, []string{merged.Nodes[0].CanonicalID}, blastradius.Options{})
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestService_ArchiveRollup_BlocksFurtherRuns(t *testing.T) {
	svc, _ := testService(t)
	cfg, err := svc.CreateRollup(context.Background(), validRollup("tenant-a"), "alice")
	require.NoError(t, err)

	require.NoError(t, svc.ArchiveRollup(context.Background(), "tenant-a", cfg.ID, "alice"))

	_, _, err = svc.RunRollup(context.Background(), "tenant-a", cfg.ID)
	require.Error(t, err)
	assert.Equal(t, "ROLLUP_STATE_ARCHIVED", rolluperrors.Code(err))
}
