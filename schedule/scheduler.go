// Package schedule drives pull connectors. A single ticking goroutine
// tracks per-connector deadlines and enqueues one runOnce job per due
// connector; the job queue's workers do the actual polling, so a slow
// source never stalls the tick loop.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigilsec/sentinel/connector"
	"github.com/sigilsec/sentinel/core"
	"github.com/sigilsec/sentinel/queue"
)

// configured lets the scheduler read polling settings off any adapter
// without widening the Connector interface.
type configured interface {
	Config() core.ConnectorConfig
}

// Scheduler owns the polling deadlines for pull connectors.
type Scheduler struct {
	registry *connector.Registry
	queue    *queue.Queue
	logger   core.Logger
	tick     time.Duration

	mu         sync.Mutex
	nextRun    map[string]time.Time
	suppressed map[string]time.Time // rate-limit deadlines by connector id

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a scheduler over the registry and queue.
func New(registry *connector.Registry, q *queue.Queue, cfg core.SchedulerConfig, logger core.Logger) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 10 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("scheduler")
	}
	return &Scheduler{
		registry:   registry,
		queue:      q,
		logger:     logger,
		tick:       tick,
		nextRun:    make(map[string]time.Time),
		suppressed: make(map[string]time.Time),
	}
}

// Start launches the tick loop. Returns core.ErrAlreadyStarted when called
// twice.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return core.ErrAlreadyStarted
	}
	tickCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(tickCtx)
	s.logger.Info("Scheduler started", map[string]interface{}{
		"tick_interval": s.tick.String(),
	})
	return nil
}

// Stop halts the tick loop. In-flight runOnce jobs drain with the queue.
func (s *Scheduler) Stop() {
	if !s.running.Swap(false) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

// tickOnce walks the registry and enqueues a poll for every due pull
// connector. The deadline advances before the enqueue, so a connector is
// never due twice because its job sat in the queue.
func (s *Scheduler) tickOnce(ctx context.Context) {
	now := time.Now()
	for _, conn := range s.registry.List() {
		if !conn.IsPull() {
			continue
		}
		switch conn.Status() {
		case core.StatusDisabled, core.StatusPaused:
			continue
		}

		interval := core.DefaultPollInterval
		if c, ok := conn.(configured); ok {
			cfg := c.Config()
			interval = cfg.PollInterval()
		}

		s.mu.Lock()
		if until, ok := s.suppressed[conn.ID()]; ok {
			if now.Before(until) {
				s.mu.Unlock()
				continue
			}
			delete(s.suppressed, conn.ID())
		}
		due, ok := s.nextRun[conn.ID()]
		if !ok {
			// Newly scheduled connectors poll on the next tick.
			due = now
		}
		if now.Before(due) {
			s.mu.Unlock()
			continue
		}
		s.nextRun[conn.ID()] = now.Add(interval)
		s.mu.Unlock()

		s.enqueuePoll(ctx, conn, core.PriorityHigh)
	}
}

// enqueuePoll submits one runOnce job for conn. Rate-limit responses
// suppress the connector until the provider's deadline instead of burning
// the job's retry budget.
func (s *Scheduler) enqueuePoll(ctx context.Context, conn connector.Connector, priority core.Priority) {
	id := conn.ID()
	job := &core.QueueJob{
		ConnectorID: id,
		DataSource:  "scheduler",
		Priority:    priority,
		Run: func() error {
			err := conn.RunOnce(ctx)
			if until, ok := core.RetryAfter(err); ok {
				s.Suppress(id, until)
				return nil
			}
			return err
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		// A full queue is back-pressure, not a connector fault. The
		// deadline stands; the connector is tried again next interval.
		s.logger.Warn("Failed to enqueue poll", map[string]interface{}{
			"connector_id": id,
			"error":        err.Error(),
		})
	}
}

// RunConnectorNow enqueues an immediate poll at critical priority,
// bypassing the interval deadline. Used by operators after fixing a
// connector.
func (s *Scheduler) RunConnectorNow(ctx context.Context, connectorID string) error {
	conn, ok := s.registry.Get(connectorID)
	if !ok {
		return core.ErrConnectorNotFound
	}
	if conn.Status() == core.StatusDisabled {
		return core.ErrConnectorDisabled
	}
	s.mu.Lock()
	delete(s.suppressed, connectorID)
	s.mu.Unlock()
	s.enqueuePoll(ctx, conn, core.PriorityCritical)
	return nil
}

// UpdateConnectorSchedule recomputes the deadline after a config change so
// a shortened interval takes effect immediately.
func (s *Scheduler) UpdateConnectorSchedule(connectorID string) {
	conn, ok := s.registry.Get(connectorID)
	if !ok {
		return
	}
	interval := core.DefaultPollInterval
	if c, ok := conn.(configured); ok {
		cfg := c.Config()
		interval = cfg.PollInterval()
	}
	s.mu.Lock()
	s.nextRun[connectorID] = time.Now().Add(interval)
	s.mu.Unlock()
}

// UnscheduleConnector drops all deadlines for a removed connector.
func (s *Scheduler) UnscheduleConnector(connectorID string) {
	s.mu.Lock()
	delete(s.nextRun, connectorID)
	delete(s.suppressed, connectorID)
	s.mu.Unlock()
}

// Suppress holds a connector's polling until the given deadline.
func (s *Scheduler) Suppress(connectorID string, until time.Time) {
	s.mu.Lock()
	s.suppressed[connectorID] = until
	s.mu.Unlock()
	s.logger.Info("Connector polling suppressed", map[string]interface{}{
		"connector_id": connectorID,
		"until":        until.Format(time.RFC3339),
	})
}

// NextRun reports the current deadline for a connector, if scheduled.
func (s *Scheduler) NextRun(connectorID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.nextRun[connectorID]
	return t, ok
}
