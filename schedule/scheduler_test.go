package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/connector"
	"github.com/sigilsec/sentinel/core"
	"github.com/sigilsec/sentinel/queue"
)

// fakePull is a minimal pull connector for deadline tests.
type fakePull struct {
	id       string
	status   core.ConnectorStatus
	pull     bool
	interval int
	runs     atomic.Int64
	runErr   error
}

func (f *fakePull) ID() string                      { return f.id }
func (f *fakePull) OrganizationID() string          { return "org-1" }
func (f *fakePull) Name() string                    { return f.id }
func (f *fakePull) Type() core.ConnectorType        { return core.ConnectorTypeAPI }
func (f *fakePull) Status() core.ConnectorStatus    { return f.status }
func (f *fakePull) Start(ctx context.Context) error { return nil }
func (f *fakePull) Stop(ctx context.Context) error  { return nil }

func (f *fakePull) RunOnce(ctx context.Context) error {
	f.runs.Add(1)
	return f.runErr
}

func (f *fakePull) TestConnection(ctx context.Context) connector.ProbeResult {
	return connector.ProbeResult{Success: true}
}
func (f *fakePull) HealthCheck() bool                 { return true }
func (f *fakePull) GetMetrics() core.ConnectorMetrics { return core.ConnectorMetrics{} }
func (f *fakePull) UpdateConfig(ctx context.Context, partial *core.ConnectorConfig) error {
	return nil
}
func (f *fakePull) SetStatus(ctx context.Context, status core.ConnectorStatus, msg string) {
	f.status = status
}
func (f *fakePull) IsPull() bool { return f.pull }

func (f *fakePull) Config() core.ConnectorConfig {
	return core.ConnectorConfig{PollIntervalSec: f.interval}
}

func newTestScheduler(t *testing.T, conns ...connector.Connector) (*Scheduler, *queue.Queue) {
	t.Helper()
	b := bus.New()
	reg := connector.NewRegistry(b, nil)
	for _, c := range conns {
		reg.Register(c)
	}
	q := queue.New(100, b, nil, nil)
	s := New(reg, q, core.SchedulerConfig{TickInterval: time.Hour}, nil)
	return s, q
}

// drainRun dequeues one job and runs its closure.
func drainRun(t *testing.T, q *queue.Queue) *core.QueueJob {
	t.Helper()
	j := q.Dequeue()
	if j == nil {
		t.Fatal("expected a scheduled job")
	}
	if j.Run == nil {
		t.Fatal("scheduler jobs must carry a Run closure")
	}
	if err := j.Run(); err != nil {
		q.Fail(j, err.Error())
	} else {
		q.Complete(j)
	}
	return j
}

func TestTickEnqueuesDuePull(t *testing.T) {
	conn := &fakePull{id: "c-1", status: core.StatusActive, pull: true, interval: 300}
	s, q := newTestScheduler(t, conn)

	s.tickOnce(context.Background())
	if q.Depth() != 1 {
		t.Fatalf("depth = %d, want 1", q.Depth())
	}

	j := drainRun(t, q)
	if j.ConnectorID != "c-1" || j.DataSource != "scheduler" {
		t.Errorf("job = %+v", j)
	}
	if j.Priority != core.PriorityHigh {
		t.Errorf("priority = %s, want high", j.Priority)
	}
	if conn.runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", conn.runs.Load())
	}

	// The deadline advanced, so the connector is not due again.
	s.tickOnce(context.Background())
	if q.Depth() != 0 {
		t.Error("connector re-enqueued before its interval elapsed")
	}
	next, ok := s.NextRun("c-1")
	if !ok || time.Until(next) < 4*time.Minute {
		t.Errorf("next run = %v, %v; want ~5m out", next, ok)
	}
}

func TestTickSkipsPushAndInactive(t *testing.T) {
	push := &fakePull{id: "push", status: core.StatusActive, pull: false}
	paused := &fakePull{id: "paused", status: core.StatusPaused, pull: true}
	disabled := &fakePull{id: "disabled", status: core.StatusDisabled, pull: true}
	s, q := newTestScheduler(t, push, paused, disabled)

	s.tickOnce(context.Background())
	if q.Depth() != 0 {
		t.Errorf("depth = %d, want 0", q.Depth())
	}
}

func TestTickHonorsSuppression(t *testing.T) {
	conn := &fakePull{id: "c-1", status: core.StatusActive, pull: true, interval: 300}
	s, q := newTestScheduler(t, conn)

	s.Suppress("c-1", time.Now().Add(time.Minute))
	s.tickOnce(context.Background())
	if q.Depth() != 0 {
		t.Fatal("suppressed connector was polled")
	}

	// An expired suppression clears on the next tick.
	s.Suppress("c-1", time.Now().Add(-time.Second))
	s.tickOnce(context.Background())
	if q.Depth() != 1 {
		t.Fatal("expired suppression should not block polling")
	}
}

func TestRateLimitedRunSuppresses(t *testing.T) {
	until := time.Now().Add(time.Minute)
	conn := &fakePull{
		id:     "c-1",
		status: core.StatusActive,
		pull:   true,
		runErr: &core.RateLimitedError{RetryAfter: until},
	}
	s, q := newTestScheduler(t, conn)

	s.tickOnce(context.Background())
	j := drainRun(t, q)
	if j.State != core.JobCompleted {
		t.Errorf("rate-limited run should not burn the retry budget, state = %s", j.State)
	}

	// The provider's deadline now gates polling.
	s.mu.Lock()
	suppressedUntil, ok := s.suppressed["c-1"]
	s.mu.Unlock()
	if !ok || !suppressedUntil.Equal(until) {
		t.Errorf("suppressed until %v, %v; want %v", suppressedUntil, ok, until)
	}
}

func TestRunConnectorNow(t *testing.T) {
	conn := &fakePull{id: "c-1", status: core.StatusActive, pull: true, interval: 300}
	s, q := newTestScheduler(t, conn)

	if err := s.RunConnectorNow(context.Background(), "c-1"); err != nil {
		t.Fatal(err)
	}
	j := q.Dequeue()
	if j == nil || j.Priority != core.PriorityCritical {
		t.Errorf("manual run job = %+v, want critical priority", j)
	}
}

func TestRunConnectorNowErrors(t *testing.T) {
	disabled := &fakePull{id: "off", status: core.StatusDisabled, pull: true}
	s, _ := newTestScheduler(t, disabled)

	if err := s.RunConnectorNow(context.Background(), "missing"); !errors.Is(err, core.ErrConnectorNotFound) {
		t.Errorf("unknown connector = %v, want ErrConnectorNotFound", err)
	}
	if err := s.RunConnectorNow(context.Background(), "off"); !errors.Is(err, core.ErrConnectorDisabled) {
		t.Errorf("disabled connector = %v, want ErrConnectorDisabled", err)
	}
}

func TestUpdateConnectorSchedule(t *testing.T) {
	conn := &fakePull{id: "c-1", status: core.StatusActive, pull: true, interval: 60}
	s, _ := newTestScheduler(t, conn)

	s.UpdateConnectorSchedule("c-1")
	next, ok := s.NextRun("c-1")
	if !ok {
		t.Fatal("no deadline after update")
	}
	if until := time.Until(next); until > 61*time.Second || until < 50*time.Second {
		t.Errorf("deadline %v out, want ~1m", until)
	}
}

func TestUnscheduleConnector(t *testing.T) {
	conn := &fakePull{id: "c-1", status: core.StatusActive, pull: true, interval: 300}
	s, q := newTestScheduler(t, conn)

	s.tickOnce(context.Background())
	drainRun(t, q)

	s.UnscheduleConnector("c-1")
	if _, ok := s.NextRun("c-1"); ok {
		t.Error("deadline survived unschedule")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s, _ := newTestScheduler(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, core.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	s.Stop()
	s.Stop()
}
