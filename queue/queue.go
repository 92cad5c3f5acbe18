// Package queue implements the bounded priority job queue and its worker
// pool. The queue has four priority bands with FIFO order inside each
// band; workers drain the highest non-empty band first. The queue is the
// only component in the runtime that retries: everything upstream converts
// failures to status changes and moves on.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
)

const bandCount = 4

// Stats is a point-in-time view of queue bookkeeping.
type Stats struct {
	Pending             int     `json:"pending"`
	Processing          int     `json:"processing"`
	Completed           int     `json:"completed"`
	Failed              int     `json:"failed"`
	TotalProcessed      int64   `json:"totalProcessed"`
	AverageProcessingMs float64 `json:"averageProcessingTimeMs"`
}

// Queue is the bounded in-process priority queue. All access is
// serialized; the queue is not on the hot path of payload processing.
type Queue struct {
	mu      sync.Mutex
	bands   [bandCount][]*core.QueueJob
	retired map[string]*core.QueueJob // completed and failed history

	maxSize    int
	processing int
	completed  int
	failed     int
	totalDone  int64
	sumProcMs  float64

	bus     *bus.Bus
	logger  core.Logger
	metrics *Metrics
	closed  bool
}

// New creates a queue bounded to maxSize jobs across all bands.
func New(maxSize int, b *bus.Bus, logger core.Logger, metrics *Metrics) *Queue {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("queue")
	}
	return &Queue{
		retired: make(map[string]*core.QueueJob),
		maxSize: maxSize,
		bus:     b,
		logger:  logger,
		metrics: metrics,
	}
}

// Enqueue inserts a job at the tail of its priority band. Returns
// core.ErrQueueFull when the bound is reached; push adapters drop the
// event in that case and the scheduler retries on its next tick.
func (q *Queue) Enqueue(job *core.QueueJob) error {
	if job == nil {
		return core.ErrValidation
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Priority == "" {
		job.Priority = core.PriorityMedium
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = job.Priority.MaxAttempts()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.State = core.JobPending

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrQueueClosed
	}
	if q.pendingLocked() >= q.maxSize {
		q.mu.Unlock()
		q.metrics.IncDropped()
		return core.ErrQueueFull
	}
	band := job.Priority.BandIndex()
	q.bands[band] = append(q.bands[band], job)
	depth := q.pendingLocked()
	q.mu.Unlock()

	q.metrics.SetDepth(depth)
	q.bus.Publish(bus.TopicJobQueued, map[string]interface{}{
		"jobId":       job.ID,
		"connectorId": job.ConnectorID,
		"priority":    string(job.Priority),
	})
	return nil
}

// Dequeue removes the head of the highest non-empty band and marks it
// processing. Returns nil when the queue is empty.
func (q *Queue) Dequeue() *core.QueueJob {
	q.mu.Lock()
	var job *core.QueueJob
	for i := 0; i < bandCount; i++ {
		if len(q.bands[i]) > 0 {
			job = q.bands[i][0]
			q.bands[i] = q.bands[i][1:]
			break
		}
	}
	if job == nil {
		q.mu.Unlock()
		return nil
	}
	now := time.Now()
	job.State = core.JobProcessing
	job.ProcessingStartedAt = &now
	job.Attempts++
	q.processing++
	depth := q.pendingLocked()
	q.mu.Unlock()

	q.metrics.SetDepth(depth)
	q.bus.Publish(bus.TopicJobStarted, map[string]interface{}{
		"jobId":       job.ID,
		"connectorId": job.ConnectorID,
		"attempt":     job.Attempts,
	})
	return job
}

// Complete retires a successfully processed job.
func (q *Queue) Complete(job *core.QueueJob) {
	now := time.Now()
	job.State = core.JobCompleted
	job.CompletedAt = &now
	job.Error = ""

	var procMs float64
	if job.ProcessingStartedAt != nil {
		procMs = float64(now.Sub(*job.ProcessingStartedAt).Milliseconds())
	}

	q.mu.Lock()
	q.processing--
	q.completed++
	q.totalDone++
	q.sumProcMs += procMs
	q.retired[job.ID] = job
	q.mu.Unlock()

	q.metrics.ObserveProcessing(procMs / 1000)
	q.metrics.IncState("completed")
	q.bus.Publish(bus.TopicJobCompleted, map[string]interface{}{
		"jobId":       job.ID,
		"connectorId": job.ConnectorID,
		"durationMs":  procMs,
	})
}

// Requeue returns a failed job to the tail of its band for another
// attempt. The caller applies the backoff delay before invoking this.
func (q *Queue) Requeue(job *core.QueueJob, reason string) error {
	job.Error = reason
	job.State = core.JobPending

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrQueueClosed
	}
	q.processing--
	band := job.Priority.BandIndex()
	q.bands[band] = append(q.bands[band], job)
	q.mu.Unlock()

	q.metrics.IncState("retried")
	q.bus.Publish(bus.TopicJobRetry, map[string]interface{}{
		"jobId":       job.ID,
		"connectorId": job.ConnectorID,
		"attempt":     job.Attempts,
		"error":       reason,
	})
	return nil
}

// Fail retires a job that exhausted its attempts.
func (q *Queue) Fail(job *core.QueueJob, reason string) {
	now := time.Now()
	job.State = core.JobFailed
	job.CompletedAt = &now
	job.Error = reason

	q.mu.Lock()
	q.processing--
	q.failed++
	q.retired[job.ID] = job
	q.mu.Unlock()

	q.metrics.IncState("failed")
	q.bus.Publish(bus.TopicJobFailed, map[string]interface{}{
		"jobId":       job.ID,
		"connectorId": job.ConnectorID,
		"attempts":    job.Attempts,
		"error":       reason,
	})
	q.logger.Error("Job failed permanently", map[string]interface{}{
		"job_id":       job.ID,
		"connector_id": job.ConnectorID,
		"attempts":     job.Attempts,
		"error":        reason,
	})
}

// RetryFailedJobs re-queues failed jobs that still have attempts
// remaining. An empty connectorID matches all connectors. Returns the
// number of jobs re-queued.
func (q *Queue) RetryFailedJobs(connectorID string) int {
	q.mu.Lock()
	var eligible []*core.QueueJob
	for id, job := range q.retired {
		if job.State != core.JobFailed {
			continue
		}
		if connectorID != "" && job.ConnectorID != connectorID {
			continue
		}
		if job.Attempts >= job.MaxAttempts {
			continue
		}
		eligible = append(eligible, job)
		delete(q.retired, id)
		q.failed--
	}
	q.mu.Unlock()

	requeued := 0
	for _, job := range eligible {
		job.State = core.JobPending
		job.CompletedAt = nil
		q.mu.Lock()
		if q.pendingLocked() >= q.maxSize {
			q.mu.Unlock()
			break
		}
		band := job.Priority.BandIndex()
		q.bands[band] = append(q.bands[band], job)
		q.mu.Unlock()
		requeued++
	}
	if requeued > 0 {
		q.logger.Info("Re-queued failed jobs", map[string]interface{}{
			"count":        requeued,
			"connector_id": connectorID,
		})
	}
	return requeued
}

// Cleanup evicts retired jobs whose completion is older than retainFor.
// Called hourly by the worker pool.
func (q *Queue) Cleanup(retainFor time.Duration) int {
	cutoff := time.Now().Add(-retainFor)
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := 0
	for id, job := range q.retired {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			if job.State == core.JobCompleted {
				q.completed--
			} else {
				q.failed--
			}
			delete(q.retired, id)
			evicted++
		}
	}
	return evicted
}

// Stats snapshots the bookkeeping counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var avg float64
	if q.totalDone > 0 {
		avg = q.sumProcMs / float64(q.totalDone)
	}
	return Stats{
		Pending:             q.pendingLocked(),
		Processing:          q.processing,
		Completed:           q.completed,
		Failed:              q.failed,
		TotalProcessed:      q.totalDone,
		AverageProcessingMs: avg,
	}
}

// Depth returns the number of pending jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// Close stops accepting new jobs. Pending jobs may still be dequeued so
// workers can drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) pendingLocked() int {
	n := 0
	for i := 0; i < bandCount; i++ {
		n += len(q.bands[i])
	}
	return n
}
