// Package bus provides the in-process publish/subscribe event bus that
// decouples the registry, pipeline, and monitor. Events flow on named
// topics; publishing is non-blocking and slow subscribers miss events
// rather than stalling publishers. The bus is nil-safe: Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package bus

import (
	"sync"
	"time"

	"github.com/sigilsec/sentinel/core"
)

// Topic names used across the runtime.
const (
	TopicConnectorRegistered   = "connector.registered"
	TopicConnectorUnregistered = "connector.unregistered"
	TopicConnectorStatus       = "connector.status"
	TopicConnectorAutoDisabled = "connector.auto-disabled"
	TopicConnectorEvent        = "connector.event"
	TopicConfigUpdated         = "connector.config-updated"
	TopicAlertCreated          = "alert.created"
	TopicJobQueued             = "queue.job-queued"
	TopicJobStarted            = "queue.job-started"
	TopicJobCompleted          = "queue.job-completed"
	TopicJobRetry              = "queue.job-retry"
	TopicJobFailed             = "queue.job-failed"
)

// Event is a single message published on a topic.
type Event struct {
	Topic     string                 `json:"topic"`
	Timestamp time.Time              `json:"ts"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Subscription receives events for the topics it was subscribed with.
type Subscription struct {
	C      <-chan Event
	sendCh chan Event
	topics map[string]struct{}
}

// matches reports whether the subscription wants events on topic. An empty
// topic set subscribes to everything.
func (s *Subscription) matches(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// Bus is a non-blocking broadcast event bus with named topics.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger core.Logger
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: &core.NoOpLogger{},
	}
}

// SetLogger configures the logger used for drop diagnostics.
func (b *Bus) SetLogger(logger core.Logger) {
	if logger == nil {
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("bus")
	}
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Publish sends an event to all matching subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that subscriber.
// Safe to call on a nil receiver.
func (b *Bus) Publish(topic string, data map[string]interface{}) {
	if b == nil {
		return
	}
	e := Event{Topic: topic, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.sendCh <- e:
		default:
			b.logger.Debug("Dropped event for slow subscriber", map[string]interface{}{
				"topic": topic,
			})
		}
	}
}

// Subscribe returns a subscription receiving events on the given topics,
// or all topics when none are given. bufSize controls the channel buffer;
// 64 is a reasonable default for realtime consumers. The caller must
// eventually Unsubscribe to avoid leaks.
func (b *Bus) Subscribe(bufSize int, topics ...string) *Subscription {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Event, bufSize)
	sub := &Subscription{
		C:      ch,
		sendCh: ch,
		topics: make(map[string]struct{}, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.sendCh)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
