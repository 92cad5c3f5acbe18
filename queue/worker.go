package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigilsec/sentinel/core"
)

// Handler processes one dequeued event job. The pipeline implements this.
type Handler func(ctx context.Context, job *core.QueueJob) error

// CompletionHook runs after a job completes successfully; the bootstrap
// uses it to write connector metrics through to the Store.
type CompletionHook func(ctx context.Context, job *core.QueueJob)

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	// Concurrency is the number of worker goroutines. Default: 5.
	Concurrency int

	// RetryDelayBase scales the linear backoff: delay = base * attempts.
	// Default: 5s.
	RetryDelayBase time.Duration

	// IdleSleep is how long a worker sleeps when the queue is empty.
	// Default: 1s.
	IdleSleep time.Duration

	// JobTimeout bounds one processing attempt. Default: 5m.
	JobTimeout time.Duration

	// CleanupInterval and RetainFor control retired-job eviction.
	// Defaults: 1h and 24h.
	CleanupInterval time.Duration
	RetainFor       time.Duration

	// Logger is optional.
	Logger core.Logger
}

// DefaultWorkerPoolConfig returns the documented defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Concurrency:     5,
		RetryDelayBase:  5 * time.Second,
		IdleSleep:       1 * time.Second,
		JobTimeout:      5 * time.Minute,
		CleanupInterval: 1 * time.Hour,
		RetainFor:       24 * time.Hour,
	}
}

// WorkerPool drains the queue with long-lived workers. Each worker owns
// one job at a time; per-connector metric writes are therefore serialized
// without extra locking.
type WorkerPool struct {
	queue      *Queue
	handler    Handler
	onComplete CompletionHook
	config     WorkerPoolConfig
	logger     core.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewWorkerPool creates a pool over q invoking handler for event jobs.
func NewWorkerPool(q *Queue, handler Handler, config *WorkerPoolConfig) *WorkerPool {
	cfg := DefaultWorkerPoolConfig()
	if config != nil {
		if config.Concurrency > 0 {
			cfg.Concurrency = config.Concurrency
		}
		if config.RetryDelayBase > 0 {
			cfg.RetryDelayBase = config.RetryDelayBase
		}
		if config.IdleSleep > 0 {
			cfg.IdleSleep = config.IdleSleep
		}
		if config.JobTimeout > 0 {
			cfg.JobTimeout = config.JobTimeout
		}
		if config.CleanupInterval > 0 {
			cfg.CleanupInterval = config.CleanupInterval
		}
		if config.RetainFor > 0 {
			cfg.RetainFor = config.RetainFor
		}
		cfg.Logger = config.Logger
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("queue/worker")
	}
	return &WorkerPool{
		queue:   q,
		handler: handler,
		config:  cfg,
		logger:  logger,
	}
}

// SetCompletionHook wires the post-success callback. Must be called before
// Start.
func (p *WorkerPool) SetCompletionHook(hook CompletionHook) {
	p.onComplete = hook
}

// Start launches the workers and the cleanup loop. Returns
// core.ErrAlreadyStarted when called twice.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.running.Swap(true) {
		return core.ErrAlreadyStarted
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("Starting worker pool", map[string]interface{}{
		"concurrency": p.config.Concurrency,
	})
	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(workerCtx, fmt.Sprintf("worker-%d", i+1))
	}
	p.wg.Add(1)
	go p.runCleanup(workerCtx)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to finish, bounded
// by the per-job timeout.
func (p *WorkerPool) Stop() {
	if !p.running.Swap(false) {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.config.JobTimeout):
		p.logger.Warn("Worker drain timed out", nil)
	}
}

func (p *WorkerPool) runWorker(ctx context.Context, id string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job := p.queue.Dequeue()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.IdleSleep):
			}
			continue
		}
		p.process(ctx, id, job)
	}
}

// process runs one attempt and applies the retry policy: re-insert after
// base*attempts while attempts remain, otherwise fail permanently.
func (p *WorkerPool) process(ctx context.Context, workerID string, job *core.QueueJob) {
	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	err := p.execute(jobCtx, job)
	if err == nil {
		p.queue.Complete(job)
		if p.onComplete != nil {
			p.onComplete(ctx, job)
		}
		return
	}

	p.logger.Warn("Job attempt failed", map[string]interface{}{
		"worker":       workerID,
		"job_id":       job.ID,
		"connector_id": job.ConnectorID,
		"attempt":      job.Attempts,
		"max_attempts": job.MaxAttempts,
		"error":        err.Error(),
	})

	if job.Attempts >= job.MaxAttempts {
		p.queue.Fail(job, err.Error())
		return
	}

	delay := p.config.RetryDelayBase * time.Duration(job.Attempts)
	select {
	case <-ctx.Done():
		// Shutdown during backoff: park the job as failed-with-attempts
		// so RetryFailedJobs can resurrect it.
		p.queue.Fail(job, err.Error())
		return
	case <-time.After(delay):
	}
	if rqErr := p.queue.Requeue(job, err.Error()); rqErr != nil {
		p.queue.Fail(job, err.Error())
	}
}

// execute dispatches one attempt, recovering panics into errors so a bad
// payload cannot take a worker down.
func (p *WorkerPool) execute(ctx context.Context, job *core.QueueJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing job %s: %v", job.ID, r)
			p.logger.Error("Worker panic recovered", map[string]interface{}{
				"job_id": job.ID,
				"stack":  string(debug.Stack()),
			})
		}
	}()

	if job.Run != nil {
		return job.Run()
	}
	return p.handler(ctx, job)
}

func (p *WorkerPool) runCleanup(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.queue.Cleanup(p.config.RetainFor); n > 0 {
				p.logger.Debug("Evicted retired jobs", map[string]interface{}{
					"count": n,
				})
			}
		}
	}
}
