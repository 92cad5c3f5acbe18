package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/connector"
	"github.com/sigilsec/sentinel/core"
)

// fakeConn is a registry entry with scriptable metrics.
type fakeConn struct {
	mu      sync.Mutex
	id      string
	metrics core.ConnectorMetrics
}

func (f *fakeConn) ID() string                        { return f.id }
func (f *fakeConn) OrganizationID() string            { return "org-1" }
func (f *fakeConn) Name() string                      { return f.id }
func (f *fakeConn) Type() core.ConnectorType          { return core.ConnectorTypeAPI }
func (f *fakeConn) Status() core.ConnectorStatus      { return core.StatusActive }
func (f *fakeConn) Start(ctx context.Context) error   { return nil }
func (f *fakeConn) Stop(ctx context.Context) error    { return nil }
func (f *fakeConn) RunOnce(ctx context.Context) error { return nil }
func (f *fakeConn) HealthCheck() bool                 { return true }
func (f *fakeConn) IsPull() bool                      { return true }

func (f *fakeConn) TestConnection(ctx context.Context) connector.ProbeResult {
	return connector.ProbeResult{Success: true}
}

func (f *fakeConn) GetMetrics() core.ConnectorMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

func (f *fakeConn) setMetrics(m core.ConnectorMetrics) {
	f.mu.Lock()
	f.metrics = m
	f.mu.Unlock()
}

func (f *fakeConn) UpdateConfig(ctx context.Context, partial *core.ConnectorConfig) error {
	return nil
}
func (f *fakeConn) SetStatus(ctx context.Context, status core.ConnectorStatus, msg string) {}

// memObserver records messages; failSend makes every Send fail.
type memObserver struct {
	mu       sync.Mutex
	messages []*Message
	pings    int
	closed   bool
	failSend bool
	failPing bool
}

func (o *memObserver) Send(msg *Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failSend {
		return errors.New("broken pipe")
	}
	o.messages = append(o.messages, msg)
	return nil
}

func (o *memObserver) Ping() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failPing {
		return errors.New("broken pipe")
	}
	o.pings++
	return nil
}

func (o *memObserver) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *memObserver) received() []*Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Message, len(o.messages))
	copy(out, o.messages)
	return out
}

func newTestMonitor(t *testing.T, conns ...connector.Connector) (*Monitor, *bus.Bus) {
	t.Helper()
	b := bus.New()
	reg := connector.NewRegistry(b, nil)
	for _, c := range conns {
		reg.Register(c)
	}
	m := New(reg, b, NewHub(nil), core.MonitorConfig{
		CollectInterval:   time.Hour, // collected manually in tests
		HistorySize:       5,
		KeepAliveInterval: time.Hour,
	}, nil)
	return m, b
}

func TestThroughput(t *testing.T) {
	point := func(events int64, uptime int64) *core.MetricsSnapshot {
		return &core.MetricsSnapshot{
			Metrics: core.ConnectorMetrics{EventsProcessed: events, UptimeSec: uptime},
		}
	}

	// 120 events over 60 seconds is 120 events/minute.
	if got := throughput(point(100, 60), point(220, 120)); got != 120 {
		t.Errorf("throughput = %f, want 120", got)
	}
	// No new events.
	if got := throughput(point(100, 60), point(100, 120)); got != 0 {
		t.Errorf("idle throughput = %f, want 0", got)
	}
	// Restarted connector: uptime went backwards.
	if got := throughput(point(100, 600), point(130, 30)); got != 0 {
		t.Errorf("restart throughput = %f, want 0", got)
	}
}

func TestCollectOnceBuildsHistory(t *testing.T) {
	conn := &fakeConn{id: "c-1"}
	m, _ := newTestMonitor(t, conn)

	conn.setMetrics(core.ConnectorMetrics{EventsProcessed: 10, UptimeSec: 60})
	m.collectOnce()
	conn.setMetrics(core.ConnectorMetrics{EventsProcessed: 70, UptimeSec: 120})
	m.collectOnce()

	history := m.History("c-1")
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Throughput != 0 {
		t.Errorf("first point throughput = %f, want 0 (needs two points)", history[0].Throughput)
	}
	if history[1].Throughput != 60 {
		t.Errorf("second point throughput = %f, want 60/min", history[1].Throughput)
	}
}

func TestHistoryRingBounded(t *testing.T) {
	conn := &fakeConn{id: "c-1"}
	m, _ := newTestMonitor(t, conn) // HistorySize 5

	for i := 0; i < 9; i++ {
		conn.setMetrics(core.ConnectorMetrics{EventsProcessed: int64(i), UptimeSec: int64(i * 10)})
		m.collectOnce()
	}

	history := m.History("c-1")
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	// Oldest points fell off the front.
	if history[0].Metrics.EventsProcessed != 4 {
		t.Errorf("oldest retained point = %d, want 4", history[0].Metrics.EventsProcessed)
	}
}

func TestCollectPrunesUnregistered(t *testing.T) {
	conn := &fakeConn{id: "gone"}
	b := bus.New()
	reg := connector.NewRegistry(b, nil)
	reg.Register(conn)
	m := New(reg, b, NewHub(nil), core.MonitorConfig{HistorySize: 5}, nil)

	m.collectOnce()
	if len(m.History("gone")) != 1 {
		t.Fatal("no history collected")
	}

	reg.Unregister("gone")
	m.collectOnce()
	if len(m.History("gone")) != 0 {
		t.Error("history for an unregistered connector survived")
	}
}

func TestAttachSendsInitialStateFirst(t *testing.T) {
	conn := &fakeConn{id: "c-1"}
	m, _ := newTestMonitor(t, conn)
	m.collectOnce()

	obs := &memObserver{}
	m.Attach(obs)

	msgs := obs.received()
	if len(msgs) != 1 || msgs[0].Type != MessageInitialState {
		t.Fatalf("first message = %+v, want initial_state", msgs)
	}
	snaps, ok := msgs[0].Data.([]*core.MetricsSnapshot)
	if !ok || len(snaps) != 1 || snaps[0].ConnectorID != "c-1" {
		t.Errorf("initial state payload = %+v", msgs[0].Data)
	}
	if m.Hub().Count() != 1 {
		t.Errorf("observer count = %d, want 1", m.Hub().Count())
	}
}

func TestAttachFailingObserverNeverJoins(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeConn{id: "c-1"})

	obs := &memObserver{failSend: true}
	m.Attach(obs)

	if m.Hub().Count() != 0 {
		t.Error("observer that cannot receive the initial state must not join")
	}
	if !obs.closed {
		t.Error("rejected observer should be closed")
	}
}

func TestTranslate(t *testing.T) {
	m, _ := newTestMonitor(t)

	cases := []struct {
		topic string
		want  string
	}{
		{bus.TopicConnectorStatus, MessageConnectorStatus},
		{bus.TopicConnectorAutoDisabled, MessageConnectorStatus},
		{bus.TopicConnectorEvent, MessageNewEvent},
		{bus.TopicJobFailed, MessageError},
	}
	for _, tc := range cases {
		msg := m.translate(bus.Event{
			Topic: tc.topic,
			Data:  map[string]interface{}{"connectorId": "c-1"},
		})
		if msg.Type != tc.want {
			t.Errorf("translate(%s) = %s, want %s", tc.topic, msg.Type, tc.want)
		}
		if msg.ConnectorID != "c-1" {
			t.Errorf("translate(%s) lost the connector id", tc.topic)
		}
	}
}

func TestRelayDeliversBusEvents(t *testing.T) {
	conn := &fakeConn{id: "c-1"}
	m, b := newTestMonitor(t, conn)

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	obs := &memObserver{}
	m.Attach(obs)

	b.Publish(bus.TopicConnectorStatus, map[string]interface{}{
		"connectorId": "c-1",
		"status":      "error",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range obs.received() {
			if msg.Type == MessageConnectorStatus && msg.ConnectorID == "c-1" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("status event never reached the observer")
}

func TestHubBroadcastEvictsFailing(t *testing.T) {
	hub := NewHub(nil)
	good := &memObserver{}
	bad := &memObserver{failSend: true}
	hub.Attach(good)
	hub.Attach(bad)

	hub.Broadcast(&Message{Type: MessageNewEvent})

	if hub.Count() != 1 {
		t.Errorf("count = %d, want 1 after eviction", hub.Count())
	}
	if !bad.closed {
		t.Error("evicted observer not closed")
	}
	if len(good.received()) != 1 {
		t.Error("healthy observer missed the broadcast")
	}
}

func TestHubKeepAliveEvictsFailing(t *testing.T) {
	hub := NewHub(nil)
	good := &memObserver{}
	bad := &memObserver{failPing: true}
	hub.Attach(good)
	hub.Attach(bad)

	hub.KeepAlive()

	if hub.Count() != 1 {
		t.Errorf("count = %d, want 1 after eviction", hub.Count())
	}
	good.mu.Lock()
	pings := good.pings
	good.mu.Unlock()
	if pings != 1 {
		t.Errorf("pings = %d, want 1", pings)
	}
}

func TestHubDetachIdempotent(t *testing.T) {
	hub := NewHub(nil)
	obs := &memObserver{}
	hub.Attach(obs)
	hub.Detach(obs)
	hub.Detach(obs)
	if hub.Count() != 0 {
		t.Errorf("count = %d, want 0", hub.Count())
	}
}

func TestMonitorStartTwice(t *testing.T) {
	m, _ := newTestMonitor(t)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()
	if err := m.Start(context.Background()); !errors.Is(err, core.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}
