package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRollupConfig(tenantID models.Tenant) *models.RollupConfig {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.RollupConfig{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Name:          "cross-account-blast",
		RepositoryIDs: []string{"repo-a", "repo-b"},
		Matchers:      []models.MatcherConfig{{Type: models.MatcherARN, Priority: 100, MinConfidence: 0.5}},
		Status:        models.RollupStatusActive,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSQLiteStore_CreateGetListRollupConfig(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	cfg := sampleRollupConfig("tenant-a")
	require.NoError(t, store.CreateRollupConfig(ctx, cfg))

	got, err := store.GetRollupConfig(ctx, "tenant-a", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.Name, got.Name)
	assert.Equal(t, cfg.RepositoryIDs, got.RepositoryIDs)
	assert.Equal(t, cfg.Matchers[0].Type, got.Matchers[0].Type)

	list, err := store.ListRollupConfigs(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteStore_GetRollupConfig_CrossTenantNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	cfg := sampleRollupConfig("tenant-a")
	require.NoError(t, store.CreateRollupConfig(ctx, cfg))

	_, err := store.GetRollupConfig(ctx, "tenant-b", cfg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateRollupConfig_VersionConflict(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	cfg := sampleRollupConfig("tenant-a")
	require.NoError(t, store.CreateRollupConfig(ctx, cfg))

	stale := *cfg
	stale.Version = cfg.Version + 1
	err := store.UpdateRollupConfig(ctx, &stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	correct := *cfg
	correct.Name = "renamed"
	require.NoError(t, store.UpdateRollupConfig(ctx, &correct))

	got, err := store.GetRollupConfig(ctx, "tenant-a", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 2, got.Version)
}

func TestSQLiteStore_DeleteRollupConfig(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	cfg := sampleRollupConfig("tenant-a")
	require.NoError(t, store.CreateRollupConfig(ctx, cfg))
	require.NoError(t, store.DeleteRollupConfig(ctx, "tenant-a", cfg.ID))

	_, err := store.GetRollupConfig(ctx, "tenant-a", cfg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ExecutionLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	exec := &models.RollupExecution{
		ID:        uuid.New(),
		RollupID:  uuid.New(),
		TenantID:  "tenant-a",
		Phase:     models.PhaseQueued,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.CreateExecution(ctx, exec))

	exec.Phase = models.PhaseCompleted
	finished := time.Now().UTC().Truncate(time.Second)
	exec.FinishedAt = &finished
	exec.Stats = models.RollupExecutionStats{MergedNodes: 5}
	require.NoError(t, store.UpdateExecution(ctx, exec))

	got, err := store.GetExecution(ctx, "tenant-a", exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, got.Phase)
	assert.Equal(t, 5, got.Stats.MergedNodes)
	require.NotNil(t, got.FinishedAt)

	list, err := store.ListExecutions(ctx, "tenant-a", exec.RollupID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteStore_SaveAndGetMergedGraph(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	execID := uuid.New()
	graph := &models.MergedGraph{
		ExecutionID: execID,
		Nodes:       []models.MergedNode{{CanonicalID: "c1", Type: "s3_bucket", Name: "data"}},
		Edges:       []models.Edge{{SourceID: "c1", TargetID: "c2", Type: "depends_on"}},
	}
	require.NoError(t, store.SaveMergedGraph(ctx, "tenant-a", graph))

	got, err := store.GetMergedGraph(ctx, "tenant-a", execID)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "c1", got.Nodes[0].CanonicalID)

	_, err = store.GetMergedGraph(ctx, "tenant-b", execID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_IndexEntries_SaveGetByScanAndHash(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	ref := models.NewExternalReference(models.ReferenceARN, "arn:aws:s3:::data", "arn:aws:s3:::data", 0.9)
	entries := []models.IndexEntry{
		{
			ID: "e1", TenantID: "tenant-a", ScanID: "scan-a", RepositoryID: "repo-a", NodeID: "n1",
			References:     []models.ExternalReference{ref},
			CollectionHash: models.ComputeCollectionHash([]models.ExternalReference{ref}),
		},
	}
	require.NoError(t, store.SaveIndexEntries(ctx, entries))

	byScan, err := store.GetIndexEntriesByScan(ctx, "tenant-a", "scan-a")
	require.NoError(t, err)
	require.Len(t, byScan, 1)
	assert.Equal(t, "n1", byScan[0].NodeID)

	byHash, err := store.FindIndexEntriesByHash(ctx, "tenant-a", ref.Hash)
	require.NoError(t, err)
	require.Len(t, byHash, 1)
	assert.Equal(t, "e1", byHash[0].ID)

	noHash, err := store.FindIndexEntriesByHash(ctx, "tenant-a", "does-not-exist")
	require.NoError(t, err)
	assert.Len(t, noHash, 0)
}
