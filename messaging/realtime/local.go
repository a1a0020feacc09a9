package realtime

import (
	"context"
	"sync"

	"campusconnect/backend/messaging/models"
)

// LocalBroker fans messages out inside the process. It backs single node
// deployments and tests.
type LocalBroker struct {
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewLocalBroker creates a broker whose subscriptions buffer up to buffer messages
func NewLocalBroker(buffer int) *LocalBroker {
	return &LocalBroker{
		buffer: buffer,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Publish implements Broker
func (b *LocalBroker) Publish(ctx context.Context, message models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	var targets []*Subscription
	for _, userID := range recipients(message) {
		for sub := range b.subs[userID] {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.deliver(message) {
			sub.teardown(ErrSlowSubscriber)
		}
	}

	return nil
}

// Subscribe implements Broker
func (b *LocalBroker) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(userID, b.buffer)
	sub.release = func() { b.remove(sub) }

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscription]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	b.mu.Unlock()

	sub.activate()
	sub.watch(ctx)

	return sub, nil
}

func (b *LocalBroker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[sub.userID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.userID)
	}
}

// Subscribers returns the number of live subscriptions for userID
func (b *LocalBroker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Ping implements Broker
func (b *LocalBroker) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

// Close disconnects every subscription with ErrBrokerClosed
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.teardown(ErrBrokerClosed)
	}
	return nil
}
