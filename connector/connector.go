// Package connector implements the connector runtime: the base connector
// contract, the process-wide registry, and the four source adapters (API
// poller, syslog listener, agent endpoint, webhook endpoint).
package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
)

// ProbeResult is the outcome of a side-effect-free connection test.
type ProbeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Connector is the contract every source adapter implements.
type Connector interface {
	ID() string
	OrganizationID() string
	Name() string
	Type() core.ConnectorType
	Status() core.ConnectorStatus

	// Start is an idempotent transition to active; it acquires adapter
	// resources and records the last successful connection.
	Start(ctx context.Context) error
	// Stop transitions to paused and releases adapter resources. Safe to
	// call from any state.
	Stop(ctx context.Context) error
	// RunOnce performs one unit of work: a poll for pull adapters, a
	// stats refresh for push adapters.
	RunOnce(ctx context.Context) error
	// TestConnection probes the source without mutating cursor state.
	TestConnection(ctx context.Context) ProbeResult
	// HealthCheck reports whether the adapter considers itself healthy.
	HealthCheck() bool

	GetMetrics() core.ConnectorMetrics
	UpdateConfig(ctx context.Context, partial *core.ConnectorConfig) error
	SetStatus(ctx context.Context, status core.ConnectorStatus, msg string)

	// IsPull reports whether the connector is driven by the scheduler.
	IsPull() bool
}

// EmitFunc delivers a raw event to the job queue. Implementations must not
// block; a full queue returns core.ErrQueueFull.
type EmitFunc func(event *core.RawEvent, priority core.Priority) error

// autoDisableThreshold is the error streak after which a connector is
// quarantined.
const autoDisableThreshold = 5

// Base carries the state machine, metrics, and persistence shared by all
// adapters. Adapters embed it and provide the adapter-specific lifecycle.
type Base struct {
	id     string
	orgID  string
	name   string
	typ    core.ConnectorType
	config core.ConnectorConfig

	store  core.Store
	bus    *bus.Bus
	logger core.Logger
	emit   EmitFunc

	mu                       sync.Mutex
	status                   core.ConnectorStatus
	errorCount               int
	lastError                string
	lastSuccessfulConnection time.Time
	startedAt                time.Time

	// Metrics counters. Mutated by the owning worker plus atomic
	// increments from the adapter; readers see eventually consistent
	// values.
	eventsProcessed atomic.Int64
	bytesProcessed  atomic.Int64
	errorTotal      atomic.Int64
	respTotalMs     atomic.Int64
	respCount       atomic.Int64
	lastEventUnixNs atomic.Int64
}

// NewBase constructs the shared connector state from a store record.
func NewBase(rec *core.ConnectorRecord, store core.Store, b *bus.Bus, logger core.Logger) *Base {
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("connector/" + string(rec.Type))
	}
	base := &Base{
		id:     rec.ID,
		orgID:  rec.OrganizationID,
		name:   rec.Name,
		typ:    rec.Type,
		config: rec.Configuration,
		store:  store,
		bus:    b,
		logger: logger,
		status: rec.Status,
	}
	if base.status == "" {
		base.status = core.StatusPaused
	}
	base.errorCount = rec.ErrorCount
	base.lastError = rec.LastError
	base.lastSuccessfulConnection = rec.LastSuccessfulConnection
	base.eventsProcessed.Store(rec.Metrics.EventsProcessed)
	base.bytesProcessed.Store(rec.Metrics.BytesProcessed)
	base.errorTotal.Store(rec.Metrics.ErrorCount)
	return base
}

// SetEmitter wires the queue sink. Must be called before Start.
func (b *Base) SetEmitter(emit EmitFunc) { b.emit = emit }

func (b *Base) ID() string               { return b.id }
func (b *Base) OrganizationID() string   { return b.orgID }
func (b *Base) Name() string             { return b.name }
func (b *Base) Type() core.ConnectorType { return b.typ }
func (b *Base) Logger() core.Logger      { return b.logger }

// Config returns a copy of the current configuration.
func (b *Base) Config() core.ConnectorConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// Status returns the current lifecycle state.
func (b *Base) Status() core.ConnectorStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// LastError returns the most recent error message.
func (b *Base) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// ErrorCount returns the current consecutive-error streak.
func (b *Base) ErrorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorCount
}

// MarkStarted stamps the uptime baseline and last successful connection.
// Adapters call it from Start after resources are acquired.
func (b *Base) MarkStarted() {
	b.mu.Lock()
	b.startedAt = time.Now()
	b.lastSuccessfulConnection = time.Now()
	b.mu.Unlock()
	b.persist(context.Background(), &core.ConnectorUpdate{
		LastSuccessfulConnection: timePtr(time.Now()),
	})
}

// MarkConnected records a successful exchange with the source.
func (b *Base) MarkConnected(ctx context.Context) {
	now := time.Now()
	b.mu.Lock()
	b.lastSuccessfulConnection = now
	b.mu.Unlock()
	b.persist(ctx, &core.ConnectorUpdate{LastSuccessfulConnection: &now})
}

// SetStatus applies the error-counter state machine:
//
//   - a change of state publishes connector.status and persists the row
//   - error increments the streak; at the threshold the connector is
//     auto-quarantined to disabled exactly once
//   - active resets the streak and clears the last error
func (b *Base) SetStatus(ctx context.Context, status core.ConnectorStatus, msg string) {
	b.mu.Lock()
	prev := b.status
	b.status = status

	switch status {
	case core.StatusError:
		b.errorCount++
		b.lastError = msg
		b.errorTotal.Add(1)
	case core.StatusActive:
		b.errorCount = 0
		b.lastError = ""
	case core.StatusDisabled:
		if msg != "" {
			b.lastError = msg
		}
	}
	errorCount := b.errorCount
	b.mu.Unlock()

	if prev != status {
		b.bus.Publish(bus.TopicConnectorStatus, map[string]interface{}{
			"connectorId":    b.id,
			"organizationId": b.orgID,
			"previous":       string(prev),
			"status":         string(status),
			"message":        msg,
		})
		b.persistStatus(ctx, status, msg, errorCount)
	} else if status == core.StatusError {
		// Same state, but the streak and last error still persist.
		b.persistStatus(ctx, status, msg, errorCount)
	}

	if status == core.StatusError && errorCount >= autoDisableThreshold {
		b.logger.Warn("Connector auto-disabled after error streak", map[string]interface{}{
			"connector_id": b.id,
			"error_count":  errorCount,
		})
		b.SetStatus(ctx, core.StatusDisabled, "auto-disabled")
		b.bus.Publish(bus.TopicConnectorAutoDisabled, map[string]interface{}{
			"connectorId":    b.id,
			"organizationId": b.orgID,
			"errorCount":     errorCount,
		})
	}
}

func (b *Base) persistStatus(ctx context.Context, status core.ConnectorStatus, msg string, errorCount int) {
	update := &core.ConnectorUpdate{
		Status:     &status,
		ErrorCount: &errorCount,
	}
	if msg != "" || status == core.StatusActive {
		update.LastError = &msg
	}
	b.persist(ctx, update)
}

func (b *Base) persist(ctx context.Context, update *core.ConnectorUpdate) {
	if b.store == nil {
		return
	}
	if err := b.store.UpdateConnector(ctx, b.id, update); err != nil {
		b.logger.Error("Failed to persist connector state", map[string]interface{}{
			"connector_id": b.id,
			"error":        err.Error(),
		})
	}
}

// UpdateConfig merges a partial config, persists it, and publishes
// config-updated. The connector type is immutable.
func (b *Base) UpdateConfig(ctx context.Context, partial *core.ConnectorConfig) error {
	b.mu.Lock()
	if err := b.config.Merge(partial); err != nil {
		b.mu.Unlock()
		return err
	}
	cfg := b.config
	b.mu.Unlock()

	if b.store != nil {
		if err := b.store.UpdateConnector(ctx, b.id, &core.ConnectorUpdate{Configuration: &cfg}); err != nil {
			return core.NewOpError("connector.UpdateConfig", "store", b.id, err)
		}
	}
	b.bus.Publish(bus.TopicConfigUpdated, map[string]interface{}{
		"connectorId":    b.id,
		"organizationId": b.orgID,
	})
	return nil
}

// Cursor returns the persisted cursor state for pull adapters.
func (b *Base) Cursor() core.CursorState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.config.State == nil {
		return core.CursorState{}
	}
	return *b.config.State
}

// AdvanceCursor stores a new cursor atomically with the last successful
// connection. The cursor is monotone: a timestamp behind the current one
// is never written.
func (b *Base) AdvanceCursor(ctx context.Context, next core.CursorState) {
	now := time.Now()
	b.mu.Lock()
	cur := core.CursorState{}
	if b.config.State != nil {
		cur = *b.config.State
	}
	if next.LastEventTimestamp.Before(cur.LastEventTimestamp) {
		next.LastEventTimestamp = cur.LastEventTimestamp
	}
	b.config.State = &next
	b.lastSuccessfulConnection = now
	cfg := b.config
	b.mu.Unlock()

	b.persist(ctx, &core.ConnectorUpdate{
		Configuration:            &cfg,
		LastSuccessfulConnection: &now,
	})
}

// Emit hands a raw event to the job queue. A full queue increments the
// connector error metric but never blocks the caller; push adapters rely
// on this from their listener goroutines.
func (b *Base) Emit(event *core.RawEvent, priority core.Priority) error {
	if b.emit == nil {
		return core.ErrNotStarted
	}
	if err := b.emit(event, priority); err != nil {
		b.errorTotal.Add(1)
		b.logger.Warn("Event dropped", map[string]interface{}{
			"connector_id": b.id,
			"error":        err.Error(),
		})
		return err
	}
	b.bus.Publish(bus.TopicConnectorEvent, map[string]interface{}{
		"connectorId":    b.id,
		"organizationId": b.orgID,
		"eventId":        event.ID,
		"type":           event.Type,
	})
	return nil
}

// RecordEvent updates the throughput counters after an event is processed.
func (b *Base) RecordEvent(bytes int) {
	b.eventsProcessed.Add(1)
	b.bytesProcessed.Add(int64(bytes))
	b.lastEventUnixNs.Store(time.Now().UnixNano())
}

// RecordResponseTime feeds the rolling average response time.
func (b *Base) RecordResponseTime(d time.Duration) {
	b.respTotalMs.Add(d.Milliseconds())
	b.respCount.Add(1)
}

// GetMetrics snapshots the counters. O(1).
func (b *Base) GetMetrics() core.ConnectorMetrics {
	b.mu.Lock()
	startedAt := b.startedAt
	b.mu.Unlock()

	var uptime int64
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}
	var avg float64
	if n := b.respCount.Load(); n > 0 {
		avg = float64(b.respTotalMs.Load()) / float64(n)
	}
	var lastEvent time.Time
	if ns := b.lastEventUnixNs.Load(); ns > 0 {
		lastEvent = time.Unix(0, ns)
	}
	return core.ConnectorMetrics{
		EventsProcessed:   b.eventsProcessed.Load(),
		BytesProcessed:    b.bytesProcessed.Load(),
		ErrorCount:        b.errorTotal.Load(),
		UptimeSec:         uptime,
		AvgResponseTimeMs: avg,
		LastEventAt:       lastEvent,
	}
}

// Bus exposes the event bus to adapters.
func (b *Base) Bus() *bus.Bus { return b.bus }

// Store exposes the DAO to adapters.
func (b *Base) Store() core.Store { return b.store }

func timePtr(t time.Time) *time.Time { return &t }
