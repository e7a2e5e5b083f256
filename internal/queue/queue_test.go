package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/rollup-core/internal/config"
	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/models"
)

func TestQueue_RunsSubmittedJob(t *testing.T) {
	q := New(config.QueueConfig{Workers: 2, MaxConcurrentPerTenant: 2, QueueDepth: 8},
		config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100}, nil)
	defer q.Close()

	var ran int32
	done := make(chan struct{})
	err := q.Submit(context.Background(), Job{TenantID: "t1", Run: func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		close(done)
		return nil
	}})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestQueue_RejectsOverConcurrencyLimit(t *testing.T) {
	q := New(config.QueueConfig{Workers: 1, MaxConcurrentPerTenant: 1, QueueDepth: 8},
		config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100}, nil)
	defer q.Close()

	block := make(chan struct{})
	err := q.Submit(context.Background(), Job{TenantID: "t1", Run: func(ctx context.Context) error {
		<-block
		return nil
	}})
	require.NoError(t, err)

	err = q.Submit(context.Background(), Job{TenantID: "t1", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)
	assert.Equal(t, "ROLLUP_LIMIT_MAX_CONCURRENT", rolluperrors.Code(err))

	close(block)
}

func TestQueue_RejectsOverRateLimit(t *testing.T) {
	q := New(config.QueueConfig{Workers: 1, MaxConcurrentPerTenant: 10, QueueDepth: 8},
		config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}, nil)
	defer q.Close()

	block := make(chan struct{})
	defer close(block)

	err := q.Submit(context.Background(), Job{TenantID: "t1", Run: func(ctx context.Context) error { <-block; return nil }})
	require.NoError(t, err)

	err = q.Submit(context.Background(), Job{TenantID: "t1", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)
	assert.Equal(t, "ROLLUP_LIMIT_RATE", rolluperrors.Code(err))
}

func TestQueue_SeparateTenantsDoNotShareConcurrencyBudget(t *testing.T) {
	q := New(config.QueueConfig{Workers: 4, MaxConcurrentPerTenant: 1, QueueDepth: 8},
		config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100}, nil)
	defer q.Close()

	block := make(chan struct{})
	defer close(block)

	var wg sync.WaitGroup
	var errs int32
	for _, tenant := range []models.Tenant{"t1", "t2"} {
		tenant := tenant
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Submit(context.Background(), Job{TenantID: tenant, Run: func(ctx context.Context) error { <-block; return nil }}); err != nil {
				atomic.AddInt32(&errs, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(0), errs)
}
