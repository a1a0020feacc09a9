package realtime

import (
	"context"
	"testing"
	"time"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := NewRedisBroker(client, 8, logger.Discard())
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	req := require.New(t)
	b, _ := newRedisBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "bob")
	req.NoError(err)
	req.Equal(StateActive, sub.State())

	sent := models.Message{
		ID:         42,
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "see you at the library",
		CreatedAt:  time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC),
	}
	req.NoError(b.Publish(ctx, sent))

	got := receive(t, sub)
	req.Equal(sent.ID, got.ID)
	req.Equal(sent.Content, got.Content)
	req.True(sent.CreatedAt.Equal(got.CreatedAt))
	req.NoError(b.Ping(ctx))
}

func TestRedisBrokerCloseSubscription(t *testing.T) {
	req := require.New(t)
	b, _ := newRedisBroker(t)

	sub, err := b.Subscribe(context.Background(), "bob")
	req.NoError(err)

	req.NoError(sub.Close())
	_, open := <-sub.C()
	req.False(open)
	req.NoError(sub.Err())
}

func TestRedisBrokerDroppedConnection(t *testing.T) {
	req := require.New(t)
	b, mr := newRedisBroker(t)

	sub, err := b.Subscribe(context.Background(), "bob")
	req.NoError(err)

	mr.Close()

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not notice the dropped connection")
	}
	req.Error(sub.Err())
	req.Equal(StateDisconnected, sub.State())
}

func TestRedisBrokerSubscribeFailsWhenUnreachable(t *testing.T) {
	req := require.New(t)
	b, mr := newRedisBroker(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := b.Subscribe(ctx, "bob")
	req.Error(err)
}
