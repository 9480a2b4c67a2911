// Package bus provides the in-process event fan-out used to push streaming
// and lifecycle events to live WebSocket subscribers. Delivery is
// at-most-once per subscriber with per-subscriber ordering preserved; there
// is no cross-process durability.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Topic names published on the bus.
const (
	TopicStreamStart = "stream.start"
	TopicStreamChunk = "stream.chunk"
	TopicStreamEnd   = "stream.end"
	TopicStreamError = "stream.error"
	TopicTaskUpdated = "task.updated"
	TopicPresence    = "presence.connected"
	TopicHeartbeat   = "heartbeat"

	TopicNodePendingApproval = "node.execution.pending_approval"
	TopicNodeApproved        = "node.execution.approved"
	TopicNodeRejected        = "node.execution.rejected"
	TopicNodeStarted         = "node.execution.started"
	TopicNodeCompleted       = "node.execution.completed"
	TopicNodeFailed          = "node.execution.failed"
)

// DefaultQueueDepth is the per-subscriber mailbox depth.
const DefaultQueueDepth = 1024

// Event is one published payload.
type Event struct {
	Topic  string    `json:"topic"`
	Data   any       `json:"data"`
	SentAt time.Time `json:"sent_at"`
}

// Subscription is a pull handle for one subscriber. Events arrive on C in
// publish order; the channel is closed on Unsubscribe.
type Subscription struct {
	ID string
	C  <-chan Event

	bus *Bus
	ch  chan Event
}

// Unsubscribe detaches the subscriber and closes its channel.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.ID)
}

// Bus is a process-wide publish/subscribe fan-out with bounded per-subscriber
// queues. Publish never blocks: events for a full subscriber are dropped and
// counted.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	queueDepth int
	logger     *slog.Logger

	dropped   prometheus.Counter
	published prometheus.Counter
}

// Option configures the bus.
type Option func(*Bus)

// WithQueueDepth overrides the per-subscriber mailbox depth.
func WithQueueDepth(depth int) Option {
	return func(b *Bus) {
		if depth > 0 {
			b.queueDepth = depth
		}
	}
}

// WithLogger configures the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRegistry registers the bus metrics on the given Prometheus registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(b *Bus) {
		if reg != nil {
			reg.MustRegister(b.dropped, b.published)
		}
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[string]*Subscription),
		queueDepth: DefaultQueueDepth,
		logger:     slog.Default(),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prime_bus_dropped_events_total",
			Help: "Events dropped because a subscriber queue was full.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prime_bus_published_events_total",
			Help: "Events published on the bus.",
		}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber and returns its pull handle.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, b.queueDepth)
	sub := &Subscription{
		ID:  uuid.NewString(),
		C:   ch,
		bus: b,
		ch:  ch,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans an event out to all subscribers without blocking. A
// subscriber whose queue is full misses the event.
func (b *Bus) Publish(topic string, data any) {
	evt := Event{Topic: topic, Data: data, SentAt: time.Now()}
	b.published.Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Inc()
			b.logger.Debug("bus event dropped", "topic", topic, "subscriber", sub.ID)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
