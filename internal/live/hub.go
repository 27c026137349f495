package live

import (
	"context"
	"sync"
	"time"

	"github.com/dyluth/mirror/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultBufferSize is the per-subscriber queue length.
	DefaultBufferSize = 32

	// DefaultHeartbeat is how often idle subscribers receive a heartbeat.
	DefaultHeartbeat = 15 * time.Second
)

// Hub is the registry of live subscribers. It is safe for concurrent use.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	heartbeat  time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *metrics.Registry
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber queue length.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithHeartbeat sets the heartbeat interval used by Run.
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithMetrics records subscriber and event counts.
func WithMetrics(m *metrics.Registry) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the hub logger.
func WithLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger.With().Str("component", "live").Logger() }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:       make(map[uint64]*Subscription),
		bufferSize: DefaultBufferSize,
		heartbeat:  DefaultHeartbeat,
		now:        time.Now,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is one viewer's event queue.
type Subscription struct {
	id     uint64
	hub    *Hub
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Events delivers published events. The channel is never closed; select on
// Done to learn that the subscription ended.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription is closed or dropped by the hub.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. It is idempotent.
func (s *Subscription) Close() {
	s.hub.remove(s, false)
}

// Subscribe registers a new subscriber. No past events are replayed.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		hub:    h,
		events: make(chan Event, h.bufferSize),
		done:   make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.metrics.SubscriberAdded()
	h.logger.Debug().Uint64("subscriber", sub.id).Int("subscribers", len(h.subs)).Msg("Subscriber connected")
	return sub
}

// Unsubscribe removes sub from the hub. Unknown or already removed
// subscriptions are ignored.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub != nil {
		h.remove(sub, false)
	}
}

func (h *Hub) remove(sub *Subscription, dropped bool) {
	sub.once.Do(func() {
		h.mu.Lock()
		delete(h.subs, sub.id)
		remaining := len(h.subs)
		h.mu.Unlock()

		close(sub.done)
		h.metrics.SubscriberRemoved(dropped)
		if dropped {
			h.logger.Warn().Uint64("subscriber", sub.id).Int("subscribers", remaining).Msg("Dropped slow subscriber")
		}
	})
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers ev to every current subscriber without blocking. A
// subscriber whose queue is full is dropped; the others are unaffected.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case <-sub.done:
			continue
		default:
		}
		select {
		case sub.events <- ev:
		default:
			h.remove(sub, true)
		}
	}
	h.metrics.EventPublished(string(ev.Type))
}

// Run emits heartbeats until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Publish(Event{Type: EventHeartbeat})
		}
	}
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		h.remove(sub, false)
	}
}
