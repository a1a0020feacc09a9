package view

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/messaging/realtime"
	"campusconnect/backend/messaging/service"
	"campusconnect/backend/pkg/logger"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) notifications() []string {
	var out []string
	for _, e := range r.of(EventNotification) {
		out = append(out, e.Content.(NotificationPayload).Message)
	}
	return out
}

func (r *recorder) liveStates() []realtime.State {
	var out []realtime.State
	for _, e := range r.of(EventLiveStatus) {
		out = append(out, e.Content.(LiveStatusPayload).State)
	}
	return out
}

// memoryStore plays both the message facade and the conversation aggregator
type memoryStore struct {
	mu        sync.Mutex
	messages  []models.Message
	profiles  map[string]string
	nextID    uint
	sendErr   error
	listErr   error
	listCalls int
	loadCalls int
	sendCalls int
	gates     map[string]chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		profiles: map[string]string{"bob": "Bob Builder", "carol": "Carol Danvers"},
		nextID:   1,
		gates:    map[string]chan struct{}{},
	}
}

func (s *memoryStore) insert(sender, receiver, content string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := models.Message{
		ID:         s.nextID,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	s.nextID++
	s.messages = append(s.messages, m)
	return m
}

func (s *memoryStore) gate(counterpartID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[counterpartID] = ch
	return ch
}

func (s *memoryStore) ListBetween(_ context.Context, callerID, a, b string) ([]models.Message, error) {
	s.mu.Lock()
	gate := s.gates[b]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []models.Message{}
	for _, m := range s.messages {
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *memoryStore) Send(_ context.Context, current, counterpart, content string) (*models.Message, error) {
	s.mu.Lock()
	s.sendCalls++
	err := s.sendErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m := s.insert(current, counterpart, content)
	return &m, nil
}

func (s *memoryStore) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	latest := map[string]models.Message{}
	for _, m := range s.messages {
		if m.Involves(userID) {
			latest[m.CounterpartOf(userID)] = m
		}
	}
	out := []models.Conversation{}
	for id, m := range latest {
		p := &models.Profile{UserID: id, FullName: s.profiles[id]}
		out = append(out, models.NewConversation(userID, m, p, 50))
	}
	return out, nil
}

func (s *memoryStore) OpenConversation(_ context.Context, userID, counterpartID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.profiles[counterpartID]
	var last *models.Message
	for i := range s.messages {
		if s.messages[i].Between(userID, counterpartID) {
			last = &s.messages[i]
		}
	}
	if last != nil {
		return models.NewConversation(userID, *last, &models.Profile{UserID: counterpartID, FullName: name}, 50), nil
	}
	if !ok {
		return models.Conversation{}, service.ErrProfileNotFound
	}
	return models.NewPlaceholderConversation(models.Profile{UserID: counterpartID, FullName: name}), nil
}

func (s *memoryStore) counts() (list, load, send int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls, s.loadCalls, s.sendCalls
}

// flakyBroker wraps a LocalBroker so tests can refuse or drop subscriptions
type flakyBroker struct {
	inner    *realtime.LocalBroker
	mu       sync.Mutex
	failNext int
	cancels  []context.CancelFunc
	calls    int

	// when set, Subscribe reports on entered and waits for hold
	entered chan struct{}
	hold    chan struct{}
}

func (b *flakyBroker) Subscribe(ctx context.Context, userID string) (*realtime.Subscription, error) {
	b.mu.Lock()
	b.calls++
	if b.failNext != 0 {
		if b.failNext > 0 {
			b.failNext--
		}
		b.mu.Unlock()
		return nil, errors.New("broker unreachable")
	}
	subCtx, cancel := context.WithCancel(ctx)
	b.cancels = append(b.cancels, cancel)
	entered, hold := b.entered, b.hold
	b.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if hold != nil {
		<-hold
	}
	return b.inner.Subscribe(subCtx, userID)
}

func (b *flakyBroker) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
}

type harness struct {
	view   *ConversationView
	store  *memoryStore
	broker *flakyBroker
	events *recorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store := newMemoryStore()
	local := realtime.NewLocalBroker(16)
	t.Cleanup(func() { _ = local.Close() })
	broker := &flakyBroker{inner: local}
	events := &recorder{}

	v := New("alice", store, store, broker, events, logger.Discard(), opts)
	t.Cleanup(v.Close)

	return &harness{view: v, store: store, broker: broker, events: events}
}

func fastOptions() Options {
	return Options{ReconnectAttempts: 3, ReconnectBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
}

func TestOpenLoadsEntryHistoryAndGoesLive(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	h.store.insert("bob", "alice", "hey")
	h.store.insert("alice", "bob", "hi!")
	h.store.insert("carol", "alice", "unrelated")

	req.NoError(h.view.Open(context.Background(), "bob"))

	selected, ok := h.view.Selected()
	req.True(ok)
	req.Equal("bob", selected.OtherUserID)
	req.Equal("hi!", selected.LastMessagePreview)

	history := h.view.History()
	req.Len(history, 2)
	req.Equal("hey", history[0].Content)
	req.Equal(realtime.StateActive, h.view.LiveState())
	req.Equal([]realtime.State{realtime.StateSubscribing, realtime.StateActive}, h.events.liveStates())
}

func TestLiveEchoOfSentMessageIsNotDuplicated(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	h.store.insert("bob", "alice", "hey")
	req.NoError(h.view.Open(context.Background(), "bob"))

	req.NoError(h.view.Send(context.Background(), "see you at 5"))
	history := h.view.History()
	req.Len(history, 2)
	sent := history[1]

	// the live channel echoes the stored row back
	req.NoError(h.broker.inner.Publish(context.Background(), sent))
	h.view.Deliver(sent)

	req.Never(func() bool { return len(h.view.History()) != 2 }, 50*time.Millisecond, 5*time.Millisecond)
	req.Len(h.events.of(EventMessage), 1)
}

func TestLiveMessageFromCounterpartIsAppended(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	req.NoError(h.view.Open(context.Background(), "bob"))

	incoming := h.store.insert("bob", "alice", "are you there?")
	req.NoError(h.broker.inner.Publish(context.Background(), incoming))

	req.Eventually(func() bool { return len(h.view.History()) == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(incoming.ID, h.view.History()[0].ID)
}

func TestMessageFromAnotherCounterpartNotifiesAndRefreshes(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	h.store.insert("carol", "alice", "earlier")
	req.NoError(h.view.Load(context.Background()))
	req.NoError(h.view.Open(context.Background(), "bob"))
	_, loadsBefore, _ := h.store.counts()

	other := h.store.insert("carol", "alice", "ping")
	h.view.Deliver(other)

	req.Contains(h.events.notifications(), "New message from Carol Danvers")
	req.Empty(h.view.History())
	_, loadsAfter, _ := h.store.counts()
	req.Equal(loadsBefore+1, loadsAfter)

	// a message alice sent elsewhere refreshes silently
	h.view.Deliver(h.store.insert("alice", "carol", "from my phone"))
	req.Len(h.events.notifications(), 1)

	// strangers get a generic label
	h.view.Deliver(h.store.insert("zed", "alice", "hello"))
	req.Contains(h.events.notifications(), "New message from another user")
}

func TestSendFailureRestoresDraft(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	req.NoError(h.view.Open(context.Background(), "bob"))
	h.store.sendErr = errors.Join(service.ErrTransport, errors.New("timeout"))

	err := h.view.Send(context.Background(), "important")
	req.ErrorIs(err, service.ErrTransport)

	req.Equal("important", h.view.Draft())
	drafts := h.events.of(EventDraft)
	req.Len(drafts, 2)
	req.Equal(DraftPayload{Content: ""}, drafts[0].Content)
	req.Equal(DraftPayload{Content: "important"}, drafts[1].Content)
	req.Contains(h.events.notifications(), MsgSendFailed)
	req.Empty(h.view.History())
}

func TestSendValidationFailureNamesTheProblem(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	req.NoError(h.view.Open(context.Background(), "bob"))
	h.store.sendErr = service.ErrContentTooLong

	req.ErrorIs(h.view.Send(context.Background(), "long text"), service.ErrValidation)
	req.Contains(h.events.notifications(), "Message content is too long.")
	req.Equal("long text", h.view.Draft())
}

func TestSendRejectsBlankContentAndKeepsDraft(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	req.NoError(h.view.Open(context.Background(), "bob"))

	err := h.view.Send(context.Background(), "   ")
	req.ErrorIs(err, service.ErrEmptyContent)

	_, _, sends := h.store.counts()
	req.Zero(sends)
	req.Equal("   ", h.view.Draft())
	req.Empty(h.events.of(EventDraft))
	req.Empty(h.view.History())
}

func TestSendWithoutOpenConversation(t *testing.T) {
	h := newHarness(t, fastOptions())
	require.ErrorIs(t, h.view.Send(context.Background(), "hello?"), service.ErrNoConversation)
}

func TestColdStartPlaceholderThenFirstMessage(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	req.NoError(h.view.Load(context.Background()))
	req.Empty(h.view.Conversations())

	req.NoError(h.view.Open(context.Background(), "bob"))
	selected, ok := h.view.Selected()
	req.True(ok)
	req.True(selected.Placeholder)
	req.Equal("Bob Builder", selected.OtherUserName)
	req.Empty(h.view.History())

	req.NoError(h.view.Send(context.Background(), "hi bob"))
	req.Len(h.view.History(), 1)

	// the list is re-queried because the conversation had no history
	convs := h.view.Conversations()
	req.Len(convs, 1)
	req.Equal("bob", convs[0].OtherUserID)
	req.False(convs[0].Placeholder)
}

func TestOpenUnknownCounterpart(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())

	err := h.view.Open(context.Background(), "ghost")
	req.ErrorIs(err, service.ErrProfileNotFound)
	req.Contains(h.events.notifications(), MsgUserNotFound)
	_, ok := h.view.Selected()
	req.False(ok)
}

func TestStaleOpenResultsAreDiscarded(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	h.store.insert("bob", "alice", "bob history")
	h.store.insert("carol", "alice", "carol history")

	release := h.store.gate("bob")
	done := make(chan error, 1)
	go func() { done <- h.view.Open(context.Background(), "bob") }()

	// wait until the bob fetch is in flight
	req.Eventually(func() bool {
		h.view.mu.Lock()
		defer h.view.mu.Unlock()
		return h.view.selectedID == "bob"
	}, time.Second, time.Millisecond)

	req.NoError(h.view.Open(context.Background(), "carol"))
	close(release)
	req.NoError(<-done)

	selected, ok := h.view.Selected()
	req.True(ok)
	req.Equal("carol", selected.OtherUserID)
	history := h.view.History()
	req.Len(history, 1)
	req.Equal("carol history", history[0].Content)

	for _, e := range h.events.of(EventHistory) {
		req.Equal("carol", e.Content.(HistoryPayload).CounterpartID)
	}
	req.Equal(1, h.broker.inner.Subscribers("alice"))
}

func TestSubscriptionFailureDegradesButSendWorks(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{ReconnectAttempts: 2, ReconnectBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	h.broker.failNext = -1

	req.NoError(h.view.Open(context.Background(), "bob"))
	req.Equal(realtime.StateDisconnected, h.view.LiveState())

	req.NoError(h.view.Send(context.Background(), "still works"))
	req.Len(h.view.History(), 1)

	req.Eventually(func() bool {
		for _, n := range h.events.notifications() {
			if n == MsgLiveUnavailable {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	h.broker.mu.Lock()
	calls := h.broker.calls
	h.broker.mu.Unlock()
	req.Equal(3, calls)
}

func TestDroppedSubscriptionReconnectsAndRefetches(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	req.NoError(h.view.Open(context.Background(), "bob"))
	listBefore, _, _ := h.store.counts()

	// stored but never published, as if sent while the channel was down
	missed := h.store.insert("bob", "alice", "did you get this?")
	h.broker.drop()

	req.Eventually(func() bool {
		states := h.events.liveStates()
		return len(states) >= 4 && states[len(states)-1] == realtime.StateActive
	}, 2*time.Second, 5*time.Millisecond)
	req.Equal([]realtime.State{
		realtime.StateSubscribing,
		realtime.StateActive,
		realtime.StateDisconnected,
		realtime.StateActive,
	}, h.events.liveStates())

	req.Eventually(func() bool {
		history := h.view.History()
		return len(history) == 1 && history[0].ID == missed.ID
	}, time.Second, 5*time.Millisecond)

	listAfter, _, _ := h.store.counts()
	req.Equal(listBefore+1, listAfter)
}

func TestLoadFailureNotifies(t *testing.T) {
	req := require.New(t)
	events := &recorder{}
	v := New("alice", failingConversations{}, newMemoryStore(), realtime.NewLocalBroker(1), events, logger.Discard(), fastOptions())
	defer v.Close()

	req.ErrorIs(v.Load(context.Background()), service.ErrTransport)
	req.Equal([]string{MsgLoadConversationsFailed}, events.notifications())
}

func TestClosedViewIgnoresInput(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	req.NoError(h.view.Open(context.Background(), "bob"))

	h.view.Close()
	h.view.Close()
	req.Equal(realtime.StateDisconnected, h.view.LiveState())
	req.Eventually(func() bool { return h.broker.inner.Subscribers("alice") == 0 }, time.Second, 5*time.Millisecond)

	h.view.Deliver(models.Message{ID: 99, SenderID: "bob", ReceiverID: "alice"})
	req.Empty(h.view.History())
}

type failingConversations struct{}

func (failingConversations) ListConversations(context.Context, string) ([]models.Conversation, error) {
	return nil, service.ErrTransport
}

func (failingConversations) OpenConversation(context.Context, string, string) (models.Conversation, error) {
	return models.Conversation{}, service.ErrTransport
}

func TestMessageSentWhileSubscribingIsNotLost(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	h.broker.entered = make(chan struct{}, 1)
	h.broker.hold = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.view.Open(context.Background(), "bob") }()
	<-h.broker.entered

	m := h.store.insert("bob", "alice", "sent during open")
	req.NoError(h.broker.inner.Publish(context.Background(), m))

	close(h.broker.hold)
	req.NoError(<-done)

	history := h.view.History()
	req.Len(history, 1)
	req.Equal("sent during open", history[0].Content)
	req.Equal(realtime.StateActive, h.view.LiveState())
}

func TestMessagePublishedDuringHistoryFetchAppearsOnce(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())
	release := h.store.gate("bob")

	done := make(chan error, 1)
	go func() { done <- h.view.Open(context.Background(), "bob") }()
	req.Eventually(func() bool { return h.broker.inner.Subscribers("alice") == 1 }, time.Second, time.Millisecond)

	m := h.store.insert("bob", "alice", "during history")
	req.NoError(h.broker.inner.Publish(context.Background(), m))

	close(release)
	req.NoError(<-done)

	req.Never(func() bool { return len(h.view.History()) != 1 }, 50*time.Millisecond, 5*time.Millisecond)
	req.Equal("during history", h.view.History()[0].Content)
}

func TestFailedOpenReleasesSubscription(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, fastOptions())

	req.ErrorIs(h.view.Open(context.Background(), "ghost"), service.ErrProfileNotFound)
	req.Eventually(func() bool { return h.broker.inner.Subscribers("alice") == 0 }, time.Second, 5*time.Millisecond)
	req.Equal(realtime.StateDisconnected, h.view.LiveState())

	m := h.store.insert("ghost", "alice", "boo")
	req.NoError(h.broker.inner.Publish(context.Background(), m))
	req.Empty(h.view.History())
	req.ErrorIs(h.view.Send(context.Background(), "hello?"), service.ErrNoConversation)
}
