// Package monitor implements the realtime connector monitor: a periodic
// metrics collector with bounded history and a fan-out hub pushing typed
// messages to attached observers (websocket clients in practice).
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/connector"
	"github.com/sigilsec/sentinel/core"
)

// Monitor collects connector metrics on an interval and relays lifecycle
// events from the bus to the hub.
type Monitor struct {
	registry *connector.Registry
	bus      *bus.Bus
	hub      *Hub
	logger   core.Logger
	config   core.MonitorConfig

	mu      sync.Mutex
	history map[string][]*core.MetricsSnapshot // ring per connector, newest last

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a monitor over the registry publishing through hub.
func New(registry *connector.Registry, b *bus.Bus, hub *Hub, cfg core.MonitorConfig, logger core.Logger) *Monitor {
	if cfg.CollectInterval <= 0 {
		cfg.CollectInterval = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("monitor")
	}
	return &Monitor{
		registry: registry,
		bus:      b,
		hub:      hub,
		logger:   logger,
		config:   cfg,
		history:  make(map[string][]*core.MetricsSnapshot),
	}
}

// Hub returns the observer hub for transport attachment.
func (m *Monitor) Hub() *Hub { return m.hub }

// Start launches the collect, relay, and keep-alive loops.
func (m *Monitor) Start(ctx context.Context) error {
	if m.running.Swap(true) {
		return core.ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	sub := m.bus.Subscribe(256,
		bus.TopicConnectorStatus,
		bus.TopicConnectorAutoDisabled,
		bus.TopicConnectorEvent,
		bus.TopicJobFailed,
	)

	m.wg.Add(3)
	go m.collectLoop(runCtx)
	go m.relayLoop(runCtx, sub)
	go m.keepAliveLoop(runCtx)

	m.logger.Info("Realtime monitor started", map[string]interface{}{
		"collect_interval": m.config.CollectInterval.String(),
		"history_size":     m.config.HistorySize,
	})
	return nil
}

// Stop halts the loops and closes all observers.
func (m *Monitor) Stop() {
	if !m.running.Swap(false) {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.hub.Close()
}

// Attach registers an observer and sends it the current state of every
// connector before any incremental message.
func (m *Monitor) Attach(obs Observer) {
	snapshots := m.Snapshots()
	if err := obs.Send(&Message{
		Type:      MessageInitialState,
		Data:      snapshots,
		Timestamp: time.Now(),
	}); err != nil {
		obs.Close()
		return
	}
	m.hub.Attach(obs)
}

// Detach removes an observer.
func (m *Monitor) Detach(obs Observer) {
	m.hub.Detach(obs)
}

// Snapshots returns the latest snapshot per connector. Connectors that
// have not been collected yet get a synthetic point with zero throughput.
func (m *Monitor) Snapshots() []*core.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.MetricsSnapshot
	for _, conn := range m.registry.List() {
		ring := m.history[conn.ID()]
		if len(ring) > 0 {
			out = append(out, ring[len(ring)-1])
			continue
		}
		out = append(out, &core.MetricsSnapshot{
			ConnectorID: conn.ID(),
			Status:      conn.Status(),
			Healthy:     conn.HealthCheck(),
			Metrics:     conn.GetMetrics(),
			CollectedAt: time.Now(),
		})
	}
	return out
}

// History returns the retained snapshots for one connector, oldest first.
func (m *Monitor) History(connectorID string) []*core.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ring := m.history[connectorID]
	out := make([]*core.MetricsSnapshot, len(ring))
	copy(out, ring)
	return out
}

func (m *Monitor) collectLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CollectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectOnce()
		}
	}
}

// collectOnce snapshots every connector, appends to its ring, and
// broadcasts the new point.
func (m *Monitor) collectOnce() {
	now := time.Now()
	for _, conn := range m.registry.List() {
		snap := &core.MetricsSnapshot{
			ConnectorID: conn.ID(),
			Status:      conn.Status(),
			Healthy:     conn.HealthCheck(),
			Metrics:     conn.GetMetrics(),
			CollectedAt: now,
		}

		m.mu.Lock()
		ring := m.history[conn.ID()]
		if len(ring) > 0 {
			snap.Throughput = throughput(ring[len(ring)-1], snap)
		}
		ring = append(ring, snap)
		if len(ring) > m.config.HistorySize {
			ring = ring[len(ring)-m.config.HistorySize:]
		}
		m.history[conn.ID()] = ring
		m.mu.Unlock()

		m.hub.Broadcast(&Message{
			Type:        MessageConnectorMetrics,
			ConnectorID: conn.ID(),
			Data:        snap,
			Timestamp:   now,
		})
	}

	// Rings for unregistered connectors age out with their last point.
	m.mu.Lock()
	for id := range m.history {
		if _, ok := m.registry.Get(id); !ok {
			delete(m.history, id)
		}
	}
	m.mu.Unlock()
}

// throughput derives events/minute from two adjacent snapshots using the
// connector's own uptime clock. Requires both points; a restarted
// connector (uptime went backwards) reports zero until two fresh points
// exist.
func throughput(prev, cur *core.MetricsSnapshot) float64 {
	deltaEvents := cur.Metrics.EventsProcessed - prev.Metrics.EventsProcessed
	deltaUptime := cur.Metrics.UptimeSec - prev.Metrics.UptimeSec
	if deltaEvents <= 0 || deltaUptime <= 0 {
		return 0
	}
	return float64(deltaEvents) / (float64(deltaUptime) / 60.0)
}

// relayLoop forwards bus lifecycle events to observers as typed messages.
func (m *Monitor) relayLoop(ctx context.Context, sub *bus.Subscription) {
	defer m.wg.Done()
	defer m.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			m.hub.Broadcast(m.translate(e))
		}
	}
}

// translate maps a bus event onto the realtime message vocabulary.
func (m *Monitor) translate(e bus.Event) *Message {
	msg := &Message{
		Data:      e.Data,
		Timestamp: e.Timestamp,
	}
	if id, ok := e.Data["connectorId"].(string); ok {
		msg.ConnectorID = id
	}
	switch e.Topic {
	case bus.TopicConnectorStatus, bus.TopicConnectorAutoDisabled:
		msg.Type = MessageConnectorStatus
	case bus.TopicConnectorEvent:
		msg.Type = MessageNewEvent
	case bus.TopicJobFailed:
		msg.Type = MessageError
	default:
		msg.Type = MessageError
	}
	return msg
}

func (m *Monitor) keepAliveLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.hub.KeepAlive()
		}
	}
}
