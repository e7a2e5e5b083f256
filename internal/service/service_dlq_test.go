package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/audit"
	"github.com/rollupcore/rollup-core/internal/cache"
	"github.com/rollupcore/rollup-core/internal/config"
	"github.com/rollupcore/rollup-core/internal/dlq"
	"github.com/rollupcore/rollup-core/internal/executor"
	"github.com/rollupcore/rollup-core/internal/index"
	"github.com/rollupcore/rollup-core/internal/models"
)

type failingGraphs struct{}

func (failingGraphs) FetchRepoGraph(ctx context.Context, tenantID models.Tenant, repositoryID string) (models.RepoGraph, error) {
	return models.RepoGraph{}, errors.New("upstream fetch failed")
}

func TestService_RunRollup_FailureRecordedInDeadLetterQueue(t *testing.T) {
	store := newFakeStore()
	idx := index.New(cache.NewL1(1000, time.Minute), nil, store, time.Minute, nil)
	exec := executor.New(failingGraphs{}, idx, store, config.ExecutorConfig{
		FetchTimeout: 5 * time.Second, MatchTimeout: 5 * time.Second,
		MergeTimeout: 5 * time.Second, StoreTimeout: 5 * time.Second,
		CancelCheckInterval: time.Millisecond, MaxRetries: 0,
	}, nil)
	auditLogger := audit.NewLogger(t.TempDir())
	svc := New(store, exec, nil, auditLogger, config.RiskConfig{MediumThreshold: 0.1, HighThreshold: 0.5, CriticalThreshold: 0.9, MaxDepth: 5, MaxNodes: 100}, nil)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("INSERT INTO rollup_dead_letters").WillReturnResult(sqlmock.NewResult(1, 1))
	svc.WithDeadLetterQueue(dlq.NewQueue(db))

	cfg := validRollup("tenant-a")
	created, err := svc.CreateRollup(context.Background(), cfg, "tester")
	require.NoError(t, err)

	exec2, _, runErr := svc.RunRollup(context.Background(), "tenant-a", created.ID)
	require.Error(t, runErr)
	require.NotNil(t, exec2)
	require.Equal(t, models.PhaseFailed, exec2.Phase)

	require.NoError(t, mock.ExpectationsWereMet())
}
