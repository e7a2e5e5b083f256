// Package queue is the tenant-scoped execution queue standing between
// the rollup service facade and the executor: it rate-limits
// submission per tenant, bounds how many of one tenant's executions
// run concurrently, and fans work out to a fixed worker pool the way
// the teacher's GitHub client rate-limits and bounds concurrent API
// calls.
package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rollupcore/rollup-core/internal/config"
	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/logging"
	"github.com/rollupcore/rollup-core/internal/models"
)

// Job is one unit of work submitted to the queue.
type Job struct {
	TenantID models.Tenant
	Run      func(ctx context.Context) error
}

// Queue is a bounded, tenant-aware work queue backed by a fixed pool of
// workers.
type Queue struct {
	cfg    config.QueueConfig
	rlCfg  config.RateLimitConfig
	logger *logging.Logger

	jobs chan Job

	mu          sync.Mutex
	limiters    map[models.Tenant]*rate.Limiter
	inFlight    map[models.Tenant]int

	wg     sync.WaitGroup
	closed chan struct{}
}

// New builds a Queue and starts its worker pool. Call Close to stop
// accepting work and wait for in-flight jobs to finish.
func New(cfg config.QueueConfig, rlCfg config.RateLimitConfig, logger *logging.Logger) *Queue {
	q := &Queue{
		cfg:      cfg,
		rlCfg:    rlCfg,
		logger:   logger,
		jobs:     make(chan Job, cfg.QueueDepth),
		limiters: make(map[models.Tenant]*rate.Limiter),
		inFlight: make(map[models.Tenant]int),
		closed:   make(chan struct{}),
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		ctx := context.Background()
		if err := job.Run(ctx); err != nil && q.logger != nil {
			q.logger.Error("queued job failed", "tenant_id", job.TenantID, "error", err)
		}
		q.release(job.TenantID)
	}
}

func (q *Queue) limiter(tenantID models.Tenant) *rate.Limiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.limiters[tenantID]
	if !ok {
		rps := q.rlCfg.RequestsPerSecond
		if rps <= 0 {
			rps = 1
		}
		burst := q.rlCfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(rps), burst)
		q.limiters[tenantID] = l
	}
	return l
}

func (q *Queue) release(tenantID models.Tenant) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight[tenantID]--
	if q.inFlight[tenantID] <= 0 {
		delete(q.inFlight, tenantID)
	}
}

// Submit enqueues job after passing tenantID's rate limit and
// concurrency checks. It returns a LIMIT-category error (never
// blocking indefinitely) if the tenant is over its concurrency cap or
// the queue itself is full.
func (q *Queue) Submit(ctx context.Context, job Job) error {
	select {
	case <-q.closed:
		return fmt.Errorf("queue is closed")
	default:
	}

	if err := q.admit(job.TenantID); err != nil {
		return err
	}

	if !q.limiter(job.TenantID).Allow() {
		q.release(job.TenantID)
		return rolluperrors.RateLimitErrorf(1, "tenant %s exceeded submission rate limit", job.TenantID)
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.release(job.TenantID)
		return ctx.Err()
	default:
		q.release(job.TenantID)
		return rolluperrors.MaxConcurrentErrorf(1, "execution queue is full")
	}
}

func (q *Queue) admit(tenantID models.Tenant) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit := q.cfg.MaxConcurrentPerTenant
	if limit <= 0 {
		limit = 1
	}
	if q.inFlight[tenantID] >= limit {
		return rolluperrors.MaxConcurrentErrorf(1, "tenant %s has reached its concurrent execution limit of %d", tenantID, limit)
	}
	q.inFlight[tenantID]++
	return nil
}

// InFlight reports how many of tenantID's jobs are currently queued or
// running, for tests and metrics.
func (q *Queue) InFlight(tenantID models.Tenant) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[tenantID]
}

// Close stops accepting new work and waits for queued and in-flight
// jobs to finish.
func (q *Queue) Close() {
	close(q.closed)
	close(q.jobs)
	q.wg.Wait()
}
