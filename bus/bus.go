// Package bus is a publish/subscribe abstraction over the shared store.
// It is the only way processes signal each other: token revocation,
// permission-cache invalidation and realtime broadcast all ride it.
//
// Delivery is at-most-once per subscriber per process and fans out to
// every subscribing process. No ordering is guaranteed across topics;
// within one topic delivery follows publish order on a best-effort
// basis.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Handler receives decoded events for one topic. Handlers run on the
// subscription's own goroutine; blocking in a handler delays later
// events on the same subscription only.
type Handler func(ctx context.Context, ev Event)

// Bus publishes and subscribes tagged events over redis channels. The
// channel prefix isolates the deployment instance from co-tenants on
// the same store.
type Bus struct {
	client redis.UniversalClient
	prefix string
	log    *slog.Logger
}

// New creates a Bus. prefix is prepended to every channel name.
func New(client redis.UniversalClient, prefix string, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{client: client, prefix: prefix, log: log}
}

func (b *Bus) channel(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "#" + topic
}

// Publish serializes ev and delivers it to every subscriber of topic in
// every process. A store outage surfaces as an error; callers on
// best-effort paths log and swallow it.
func (b *Bus) Publish(ctx context.Context, topic string, ev Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(topic), data).Err()
}

// Subscription is a live handler registration. Close releases the
// underlying store subscription and stops the delivery goroutine.
type Subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}

// Subscribe registers handler for topic. Malformed or unknown payloads
// are logged and dropped; they never crash the subscriber loop.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) *Subscription {
	pubsub := b.client.Subscribe(ctx, b.channel(topic))
	// Wait for the subscribe confirmation so events published right
	// after Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		b.log.Warn("bus subscribe confirmation failed", "topic", topic, "error", err)
	}
	sub := &Subscription{pubsub: pubsub, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping bus message",
					"topic", topic,
					"error", err)
				continue
			}
			handler(ctx, ev)
		}
	}()

	return sub
}
