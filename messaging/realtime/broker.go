// Package realtime delivers newly stored messages to the users involved
// while they are connected.
package realtime

import (
	"context"
	"errors"
	"sync"

	"campusconnect/backend/messaging/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrSlowSubscriber tears down a subscription whose buffer is full
	ErrSlowSubscriber = errors.New("subscriber is not keeping up")
	// ErrBrokerClosed is returned once Close has been called
	ErrBrokerClosed = errors.New("broker closed")
)

// State is the lifecycle state of a Subscription
type State string

const (
	StateDisconnected State = "disconnected"
	StateSubscribing  State = "subscribing"
	StateActive       State = "active"
)

// Broker fans stored messages out to user scoped subscriptions
type Broker interface {
	// Publish delivers the message to its sender and its receiver
	Publish(ctx context.Context, message models.Message) error
	// Subscribe returns a subscription receiving every message userID sends
	// or receives. It ends when ctx is done or Close is called on it.
	Subscribe(ctx context.Context, userID string) (*Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

var activeSubscriptions, _ = otel.Meter("campusconnect/backend/messaging/realtime").Int64UpDownCounter(
	"messaging.live.subscriptions",
	metric.WithDescription("Live subscriptions currently active"),
)

// Subscription is one user's live feed. It moves from subscribing to active
// and ends disconnected, after which C is closed.
type Subscription struct {
	userID  string
	ch      chan models.Message
	done    chan struct{}
	release func()

	mu     sync.Mutex
	state  State
	err    error
	active bool
}

func newSubscription(userID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscription{
		userID: userID,
		ch:     make(chan models.Message, buffer),
		done:   make(chan struct{}),
		state:  StateSubscribing,
	}
}

// UserID returns the subscribed user
func (s *Subscription) UserID() string { return s.userID }

// C returns the message channel. It is closed on teardown.
func (s *Subscription) C() <-chan models.Message { return s.ch }

// Done is closed once the subscription is disconnected
func (s *Subscription) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err reports why the subscription ended. It is nil while connected and
// after an explicit Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the subscription down. Calling it more than once is safe.
func (s *Subscription) Close() error {
	s.teardown(nil)
	return nil
}

func (s *Subscription) activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSubscribing {
		return false
	}
	s.state = StateActive
	s.active = true
	activeSubscriptions.Add(context.Background(), 1)
	return true
}

// deliver queues m without blocking. It returns false when the buffer is full.
func (s *Subscription) deliver(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return true
	}
	select {
	case s.ch <- m:
		return true
	default:
		return false
	}
}

func (s *Subscription) teardown(err error) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.err = err
	if s.active {
		activeSubscriptions.Add(context.Background(), -1)
	}
	close(s.ch)
	close(s.done)
	release := s.release
	s.mu.Unlock()

	if release != nil {
		release()
	}
}

// watch ends the subscription when ctx is done
func (s *Subscription) watch(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.teardown(ctx.Err())
		case <-s.done:
		}
	}()
}

// recipients returns the distinct users a message must reach
func recipients(m models.Message) []string {
	if m.SenderID == m.ReceiverID {
		return []string{m.SenderID}
	}
	return []string{m.SenderID, m.ReceiverID}
}
