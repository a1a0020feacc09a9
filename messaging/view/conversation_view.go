// Package view keeps the state of one open messaging screen: the
// conversation list, the selected conversation, its history, the draft and
// the live subscription feeding it.
package view

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/messaging/realtime"
	"campusconnect/backend/messaging/service"
	"campusconnect/backend/pkg/logger"

	"github.com/samber/lo"
)

// Conversations is the conversation aggregator
type Conversations interface {
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	OpenConversation(ctx context.Context, userID, counterpartID string) (models.Conversation, error)
}

// Messages is the message store facade
type Messages interface {
	ListBetween(ctx context.Context, callerID, userA, userB string) ([]models.Message, error)
	Send(ctx context.Context, currentUserID, counterpartID, content string) (*models.Message, error)
}

// Subscriber opens live subscriptions
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (*realtime.Subscription, error)
}

// Options tunes live channel recovery
type Options struct {
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	MaxBackoff        time.Duration
}

// DefaultOptions returns the recovery settings used when none are configured
func DefaultOptions() Options {
	return Options{
		ReconnectAttempts: 5,
		ReconnectBackoff:  500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
	}
}

// ConversationView is the server side state of one client screen. All
// methods are safe for concurrent use.
type ConversationView struct {
	userID        string
	conversations Conversations
	messages      Messages
	broker        Subscriber
	emitter       Emitter
	log           *logger.Logger
	opts          Options

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	list       []models.Conversation
	selectedID string
	selected   *models.Conversation
	history    []models.Message
	draft      string
	generation uint64
	sub        *realtime.Subscription
	liveState  realtime.State
	closed     bool
}

// New creates a view for userID. Events are pushed to emitter.
func New(userID string, conversations Conversations, messages Messages, broker Subscriber, emitter Emitter, log *logger.Logger, opts Options) *ConversationView {
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = DefaultOptions().ReconnectBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultOptions().MaxBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationView{
		userID:        userID,
		conversations: conversations,
		messages:      messages,
		broker:        broker,
		emitter:       emitter,
		log:           log.WithUserID(userID),
		opts:          opts,
		baseCtx:       ctx,
		cancel:        cancel,
		liveState:     realtime.StateDisconnected,
	}
}

// Load fetches the conversation list once. Failures are reported to the
// client and returned; there is no automatic retry.
func (v *ConversationView) Load(ctx context.Context) error {
	list, err := v.conversations.ListConversations(ctx, v.userID)
	if err != nil {
		v.log.WithContext(ctx).LogError(err, "Failed to load conversations")
		v.notify(LevelError, MsgLoadConversationsFailed)
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.list = list
	v.emit(EventConversations, list)
	return nil
}

type openResult struct {
	conversation models.Conversation
	convErr      error
	history      []models.Message
	historyErr   error
	sub          *realtime.Subscription
	subErr       error
}

// Open selects the conversation with counterpartID. The previous
// subscription is released first. The conversation entry is fetched while a
// new subscription is made active and the history is read after it, so a
// message published in between is buffered by the subscription instead of
// lost. If another Open starts before this one finishes, this one's results
// are dropped.
func (v *ConversationView) Open(ctx context.Context, counterpartID string) error {
	if strings.TrimSpace(counterpartID) == "" {
		return service.ErrMissingReceiver
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.generation++
	gen := v.generation
	old := v.sub
	v.sub = nil
	v.selectedID = counterpartID
	v.selected = nil
	v.history = nil
	v.setLiveState(realtime.StateSubscribing)
	v.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	var (
		res openResult
		wg  sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.conversation, res.convErr = v.conversations.OpenConversation(ctx, v.userID, counterpartID)
	}()
	go func() {
		defer wg.Done()
		res.sub, res.subErr = v.broker.Subscribe(v.baseCtx, v.userID)
		res.history, res.historyErr = v.messages.ListBetween(ctx, v.userID, v.userID, counterpartID)
	}()
	wg.Wait()

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || v.generation != gen {
		if res.sub != nil {
			_ = res.sub.Close()
		}
		return nil
	}

	if res.convErr != nil {
		if res.sub != nil {
			_ = res.sub.Close()
		}
		v.selectedID = ""
		v.setLiveState(realtime.StateDisconnected)

		v.log.WithContext(ctx).LogError(res.convErr, "Failed to open conversation", "counterpart_id", counterpartID)
		if errors.Is(res.convErr, service.ErrProfileNotFound) {
			v.notify(LevelError, MsgUserNotFound)
		} else {
			v.notify(LevelError, MsgOpenConversationFailed)
		}
		return res.convErr
	}

	if res.sub != nil {
		v.sub = res.sub
		v.setLiveState(realtime.StateActive)
		go v.listen(gen, res.sub)
	} else {
		v.log.WithContext(ctx).LogError(res.subErr, "Live subscription failed, continuing without live updates")
		v.setLiveState(realtime.StateDisconnected)
		go v.reconnect(gen, counterpartID)
	}

	conv := res.conversation
	v.selected = &conv
	v.emit(EventSelected, conv)

	if res.historyErr != nil {
		v.log.WithContext(ctx).LogError(res.historyErr, "Failed to load messages", "counterpart_id", counterpartID)
		v.notify(LevelError, MsgLoadMessagesFailed)
		return res.historyErr
	}
	v.history = mergeMessages(v.history, res.history)
	v.emitHistory()

	return nil
}

// Send submits content to the open conversation. Blank content is rejected
// and the draft kept. Otherwise the draft is cleared right away and put back
// if the send fails.
func (v *ConversationView) Send(ctx context.Context, content string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	if v.selectedID == "" {
		v.mu.Unlock()
		return service.ErrNoConversation
	}
	if strings.TrimSpace(content) == "" {
		v.draft = content
		v.mu.Unlock()
		return service.ErrEmptyContent
	}

	counterpartID := v.selectedID
	gen := v.generation
	hadHistory := len(v.history) > 0
	live := v.sub != nil && v.liveState == realtime.StateActive
	v.draft = ""
	v.emit(EventDraft, DraftPayload{Content: ""})
	v.mu.Unlock()

	message, err := v.messages.Send(ctx, v.userID, counterpartID, content)
	if err != nil {
		v.log.WithContext(ctx).LogError(err, "Failed to send message", "counterpart_id", counterpartID)

		v.mu.Lock()
		if v.draft == "" {
			v.draft = content
			v.emit(EventDraft, DraftPayload{Content: content})
		}
		if errors.Is(err, service.ErrValidation) {
			v.notify(LevelError, validationText(err))
		} else {
			v.notify(LevelError, MsgSendFailed)
		}
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	if !v.closed && v.generation == gen {
		v.appendLocked(*message)
	}
	v.mu.Unlock()

	// without a live echo or an existing entry the list would go stale
	if !live || !hadHistory {
		_ = v.Load(ctx)
	}

	return nil
}

// Deliver feeds one live message into the view
func (v *ConversationView) Deliver(message models.Message) {
	v.mu.Lock()
	if v.closed || !message.Involves(v.userID) {
		v.mu.Unlock()
		return
	}

	if v.selectedID != "" && message.Between(v.userID, v.selectedID) {
		v.appendLocked(message)
		v.mu.Unlock()
		return
	}

	if message.ReceiverID == v.userID {
		v.notify(LevelInfo, fmt.Sprintf("New message from %s", v.nameOf(message.SenderID)))
	}
	v.mu.Unlock()

	_ = v.Load(v.baseCtx)
}

// Close releases the live subscription. The view ignores every later call.
func (v *ConversationView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.generation++
	sub := v.sub
	v.sub = nil
	v.liveState = realtime.StateDisconnected
	v.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	v.cancel()
}

// listen drains sub until it ends. An unexpected end starts recovery.
func (v *ConversationView) listen(gen uint64, sub *realtime.Subscription) {
	for message := range sub.C() {
		v.Deliver(message)
	}

	if sub.Err() == nil {
		return
	}

	v.mu.Lock()
	if v.closed || v.generation != gen || v.sub != sub {
		v.mu.Unlock()
		return
	}
	v.sub = nil
	counterpartID := v.selectedID
	v.setLiveState(realtime.StateDisconnected)
	v.mu.Unlock()

	v.log.Warn("Live subscription lost, reconnecting", "error", sub.Err().Error())
	v.reconnect(gen, counterpartID)
}

// reconnect retries the subscription with exponential backoff. After a
// successful retry the history is fetched again to cover the gap.
func (v *ConversationView) reconnect(gen uint64, counterpartID string) {
	backoff := v.opts.ReconnectBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for attempt := 1; attempt <= v.opts.ReconnectAttempts; attempt++ {
		select {
		case <-v.baseCtx.Done():
			return
		case <-timer.C:
		}

		if !v.isCurrent(gen) {
			return
		}

		sub, err := v.broker.Subscribe(v.baseCtx, v.userID)
		if err != nil {
			v.log.Warn("Live resubscribe failed", "attempt", attempt, "error", err.Error())
			backoff = min(backoff*2, v.opts.MaxBackoff)
			timer.Reset(backoff)
			continue
		}

		v.mu.Lock()
		if v.closed || v.generation != gen {
			v.mu.Unlock()
			_ = sub.Close()
			return
		}
		v.sub = sub
		v.setLiveState(realtime.StateActive)
		v.mu.Unlock()

		v.refetchHistory(gen, counterpartID)
		go v.listen(gen, sub)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed && v.generation == gen {
		v.notify(LevelWarning, MsgLiveUnavailable)
	}
}

func (v *ConversationView) refetchHistory(gen uint64, counterpartID string) {
	history, err := v.messages.ListBetween(v.baseCtx, v.userID, v.userID, counterpartID)
	if err != nil {
		v.log.LogError(err, "Failed to refresh history after reconnect", "counterpart_id", counterpartID)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.generation != gen {
		return
	}
	v.history = mergeMessages(v.history, history)
	v.emitHistory()
}

func (v *ConversationView) isCurrent(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.closed && v.generation == gen
}

// appendLocked adds m to the history unless a message with the same id is
// already there. Caller holds v.mu.
func (v *ConversationView) appendLocked(m models.Message) {
	if lo.ContainsBy(v.history, func(existing models.Message) bool { return existing.ID == m.ID }) {
		return
	}
	v.history = mergeMessages(v.history, []models.Message{m})
	v.emit(EventMessage, m)
}

func (v *ConversationView) nameOf(userID string) string {
	entry, ok := lo.Find(v.list, func(c models.Conversation) bool { return c.OtherUserID == userID })
	if ok && entry.OtherUserName != "" {
		return entry.OtherUserName
	}
	return unknownSender
}

func (v *ConversationView) setLiveState(state realtime.State) {
	if v.liveState == state {
		return
	}
	v.liveState = state
	v.emit(EventLiveStatus, LiveStatusPayload{State: state})
}

func (v *ConversationView) emitHistory() {
	v.emit(EventHistory, HistoryPayload{
		CounterpartID: v.selectedID,
		Messages:      append([]models.Message{}, v.history...),
	})
}

func (v *ConversationView) emit(t EventType, content any) {
	v.emitter.Emit(Event{Type: t, Content: content})
}

func (v *ConversationView) notify(level, message string) {
	v.emit(EventNotification, NotificationPayload{Level: level, Message: message})
}

// Conversations returns the last loaded conversation list
func (v *ConversationView) Conversations() []models.Conversation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.Conversation{}, v.list...)
}

// Selected returns the open conversation, if any
func (v *ConversationView) Selected() (models.Conversation, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.selected == nil {
		return models.Conversation{}, false
	}
	return *v.selected, true
}

// History returns the messages of the open conversation, oldest first
func (v *ConversationView) History() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.Message{}, v.history...)
}

// Draft returns the composition input
func (v *ConversationView) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// LiveState returns the state of the live channel
func (v *ConversationView) LiveState() realtime.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.liveState
}

// mergeMessages unions two histories by id, ordered by created_at then id
func mergeMessages(current, incoming []models.Message) []models.Message {
	merged := lo.UniqBy(append(append([]models.Message{}, current...), incoming...), func(m models.Message) uint {
		return m.ID
	})
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })
	return merged
}

func validationText(err error) string {
	text := err.Error()
	if i := strings.LastIndex(text, ": "); i >= 0 {
		text = text[i+2:]
	}
	if text == "" {
		return MsgSendFailed
	}
	return strings.ToUpper(text[:1]) + text[1:] + "."
}
