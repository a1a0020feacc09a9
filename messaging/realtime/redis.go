package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// TopicPrefix namespaces the per user channels
const TopicPrefix = "campusconnect:messages:"

// Topic returns the channel carrying userID's messages
func Topic(userID string) string {
	return TopicPrefix + userID
}

// RedisBroker fans messages out through Redis PUB/SUB so every node sees
// every message
type RedisBroker struct {
	client *redis.Client
	buffer int
	log    *logger.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewRedisBroker creates a broker on top of an existing client. The client
// stays owned by the caller.
func NewRedisBroker(client *redis.Client, buffer int, log *logger.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		buffer: buffer,
		log:    log,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Publish implements Broker
func (b *RedisBroker) Publish(ctx context.Context, message models.Message) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	for _, userID := range recipients(message) {
		if err := b.client.Publish(ctx, Topic(userID), payload).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", Topic(userID), err)
		}
	}
	return nil
}

// Subscribe implements Broker. It returns once Redis has confirmed the
// subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if b.isClosed() {
		return nil, ErrBrokerClosed
	}

	sub := newSubscription(userID, b.buffer)
	pubsub := b.client.Subscribe(ctx, Topic(userID))

	// the first reply is the subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		sub.teardown(err)
		return nil, fmt.Errorf("subscribe to %s: %w", Topic(userID), err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub.release = func() {
		cancel()
		b.forget(sub)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = pubsub.Close()
		return nil, ErrBrokerClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	sub.activate()
	sub.watch(ctx)
	go b.receive(loopCtx, pubsub, sub)

	return sub, nil
}

func (b *RedisBroker) receive(ctx context.Context, pubsub *redis.PubSub, sub *Subscription) {
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("Live subscription dropped", "user_id", sub.userID, "error", err.Error())
			sub.teardown(err)
			return
		}

		var message models.Message
		if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
			b.log.LogError(err, "Discarding malformed live message", "channel", msg.Channel)
			continue
		}

		if !sub.deliver(message) {
			sub.teardown(ErrSlowSubscriber)
			return
		}
	}
}

func (b *RedisBroker) forget(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

func (b *RedisBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Ping implements Broker
func (b *RedisBroker) Ping(ctx context.Context) error {
	if b.isClosed() {
		return ErrBrokerClosed
	}
	return b.client.Ping(ctx).Err()
}

// Close disconnects every subscription. The redis client is left open.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		all = append(all, sub)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.teardown(ErrBrokerClosed)
	}
	return nil
}
