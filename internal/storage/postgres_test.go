package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestPostgresStore_CreateRollupConfig(t *testing.T) {
	store, mock := newMockStore(t)
	cfg := &models.RollupConfig{
		ID:            uuid.New(),
		TenantID:      "tenant-a",
		Name:          "cross-account-blast",
		RepositoryIDs: []string{"repo-a", "repo-b"},
		Status:        models.RollupStatusActive,
		Version:       1,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	mock.ExpectExec(`INSERT INTO rollup_configs`).WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.CreateRollupConfig(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRollupConfig_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM rollup_configs WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(id, "tenant-a").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRollupConfig(context.Background(), "tenant-a", id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRollupConfig_DecodesDataColumn(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	data, err := json.Marshal(rollupConfigData{
		RepositoryIDs: []string{"repo-a", "repo-b"},
		Matchers:      []models.MatcherConfig{{Type: models.MatcherARN, Priority: 100, MinConfidence: 0.5}},
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "name", "status", "version", "created_at", "updated_at", "data"}).
		AddRow(id, "tenant-a", "cross-account-blast", "active", 1, time.Now(), time.Now(), data)

	mock.ExpectQuery(`SELECT \* FROM rollup_configs WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(id, "tenant-a").
		WillReturnRows(rows)

	cfg, err := store.GetRollupConfig(context.Background(), "tenant-a", id)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-a", "repo-b"}, cfg.RepositoryIDs)
	require.Len(t, cfg.Matchers, 1)
	assert.Equal(t, models.MatcherARN, cfg.Matchers[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRollupConfig_VersionConflict(t *testing.T) {
	store, mock := newMockStore(t)
	cfg := &models.RollupConfig{ID: uuid.New(), TenantID: "tenant-a", Version: 3}

	mock.ExpectExec(`UPDATE rollup_configs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM rollup_configs`).
		WithArgs(cfg.ID, "tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := store.UpdateRollupConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRollupConfig_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	cfg := &models.RollupConfig{ID: uuid.New(), TenantID: "tenant-a", Version: 3}

	mock.ExpectExec(`UPDATE rollup_configs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM rollup_configs`).
		WithArgs(cfg.ID, "tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := store.UpdateRollupConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAndGetMergedGraph(t *testing.T) {
	store, mock := newMockStore(t)
	execID := uuid.New()
	graph := &models.MergedGraph{
		ExecutionID: execID,
		Nodes:       []models.MergedNode{{CanonicalID: "c1", Type: "s3_bucket", Name: "data"}},
	}

	mock.ExpectExec(`INSERT INTO merged_graphs`).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.SaveMergedGraph(context.Background(), "tenant-a", graph))

	data, err := json.Marshal(mergedGraphData{Nodes: graph.Nodes})
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"execution_id", "tenant_id", "data"}).AddRow(execID, "tenant-a", data)
	mock.ExpectQuery(`SELECT \* FROM merged_graphs WHERE execution_id = \$1 AND tenant_id = \$2`).
		WithArgs(execID, "tenant-a").
		WillReturnRows(rows)

	got, err := store.GetMergedGraph(context.Background(), "tenant-a", execID)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "c1", got.Nodes[0].CanonicalID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveIndexEntries_EmptyIsNoOp(t *testing.T) {
	store, mock := newMockStore(t)
	require.NoError(t, store.SaveIndexEntries(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveIndexEntries_WrapsInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	entries := []models.IndexEntry{
		{ID: "e1", TenantID: "tenant-a", ScanID: "scan-a", NodeID: "n1", CollectionHash: "h1"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO index_entries`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.SaveIndexEntries(context.Background(), entries)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
