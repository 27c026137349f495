package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	relayQueueSize      = 256
	relayPublishTimeout = 2 * time.Second
)

// RedisRelay shares live events between Mirror processes of one instance.
// Publish queues events for Redis Pub/Sub; Run sends the queue and feeds
// everything received on the channel, including this process's own events,
// into the local hub.
//
// Delivery is at-most-once, matching Redis Pub/Sub semantics. Events are
// dropped when the queue is full.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	logger  zerolog.Logger
	queue   chan Event
	timeout time.Duration
	dropped atomic.Uint64
}

// NewRedisRelay creates a relay for instanceName that feeds hub.
func NewRedisRelay(rdb *redis.Client, instanceName string, hub *Hub, logger zerolog.Logger) (*RedisRelay, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisRelay{
		rdb:     rdb,
		channel: ledger.LiveEventsChannel(instanceName),
		hub:     hub,
		logger:  logger.With().Str("component", "relay").Logger(),
		queue:   make(chan Event, relayQueueSize),
		timeout: relayPublishTimeout,
	}, nil
}

// Publish queues ev for Redis and never blocks. Events published before Run
// has subscribed wait in the queue.
func (r *RedisRelay) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.hub.now().UTC()
	}
	select {
	case r.queue <- ev:
	default:
		n := r.dropped.Add(1)
		r.hub.metrics.RelayEventDropped()
		r.logger.Warn().
			Str("event_type", string(ev.Type)).
			Uint64("dropped_total", n).
			Msg("Relay queue full, dropping live event")
	}
}

// Dropped reports how many events Publish discarded because the queue was full.
func (r *RedisRelay) Dropped() uint64 {
	return r.dropped.Load()
}

// drain sends queued events until ctx is cancelled.
func (r *RedisRelay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.send(ctx, ev)
		}
	}
}

// send publishes one event. If Redis is unreachable the event is delivered to
// the local hub directly so local viewers still see it.
func (r *RedisRelay) send(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to marshal live event")
		return
	}
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.rdb.Publish(pctx, r.channel, data).Err(); err != nil {
		r.logger.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("Redis publish failed, delivering locally")
		r.hub.Publish(ev)
	}
}

// Run subscribes to the instance channel and forwards events until ctx is
// cancelled. It returns once the subscription is confirmed to be closed.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for subscription confirmation so no event published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	sendCtx, stopSend := context.WithCancel(ctx)
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		r.drain(sendCtx)
	}()
	defer func() {
		stopSend()
		<-sent
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn().Err(err).Msg("Skipping malformed live event")
				continue
			}
			r.hub.Publish(ev)
		}
	}
}
