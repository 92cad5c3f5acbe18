package monitor

import (
	"sync"
	"time"

	"github.com/sigilsec/sentinel/core"
)

// Message is one realtime frame pushed to observers.
type Message struct {
	Type        string      `json:"type"`
	ConnectorID string      `json:"connectorId,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Message types on the realtime feed.
const (
	MessageInitialState     = "initial_state"
	MessageConnectorStatus  = "connector_status"
	MessageConnectorMetrics = "connector_metrics"
	MessageNewEvent         = "new_event"
	MessageError            = "error"
)

// Observer is one attached realtime consumer, usually a websocket. Send
// and Ping errors evict the observer; implementations own their write
// serialization.
type Observer interface {
	Send(msg *Message) error
	Ping() error
	Close() error
}

// Hub fans messages out to the attached observers. A failing observer is
// evicted on the first error; there is no buffering beyond what the
// observer implements.
type Hub struct {
	mu        sync.Mutex
	observers map[Observer]struct{}
	logger    core.Logger
}

// NewHub creates an empty hub.
func NewHub(logger core.Logger) *Hub {
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("monitor/hub")
	}
	return &Hub{
		observers: make(map[Observer]struct{}),
		logger:    logger,
	}
}

// Attach adds an observer to the broadcast set.
func (h *Hub) Attach(obs Observer) {
	h.mu.Lock()
	h.observers[obs] = struct{}{}
	total := len(h.observers)
	h.mu.Unlock()
	h.logger.Debug("Observer attached", map[string]interface{}{
		"observers": total,
	})
}

// Detach removes and closes an observer. Safe to call twice.
func (h *Hub) Detach(obs Observer) {
	h.mu.Lock()
	_, ok := h.observers[obs]
	delete(h.observers, obs)
	h.mu.Unlock()
	if ok {
		obs.Close()
	}
}

// Broadcast sends a message to every observer, evicting the ones that
// fail.
func (h *Hub) Broadcast(msg *Message) {
	for _, obs := range h.snapshot() {
		if err := obs.Send(msg); err != nil {
			h.evict(obs, err)
		}
	}
}

// KeepAlive pings every observer, evicting the ones that fail. Called by
// the monitor on its keep-alive interval.
func (h *Hub) KeepAlive() {
	for _, obs := range h.snapshot() {
		if err := obs.Ping(); err != nil {
			h.evict(obs, err)
		}
	}
}

// Count returns the number of attached observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close detaches and closes all observers.
func (h *Hub) Close() {
	h.mu.Lock()
	observers := make([]Observer, 0, len(h.observers))
	for obs := range h.observers {
		observers = append(observers, obs)
	}
	h.observers = make(map[Observer]struct{})
	h.mu.Unlock()
	for _, obs := range observers {
		obs.Close()
	}
}

func (h *Hub) snapshot() []Observer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Observer, 0, len(h.observers))
	for obs := range h.observers {
		out = append(out, obs)
	}
	return out
}

func (h *Hub) evict(obs Observer, err error) {
	h.mu.Lock()
	delete(h.observers, obs)
	h.mu.Unlock()
	obs.Close()
	h.logger.Debug("Observer evicted", map[string]interface{}{
		"error": err.Error(),
	})
}
