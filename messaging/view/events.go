package view

import (
	"campusconnect/backend/messaging/models"
	"campusconnect/backend/messaging/realtime"
)

// EventType names an event pushed to the client
type EventType string

const (
	EventConversations EventType = "conversations"
	EventSelected      EventType = "selected"
	EventHistory       EventType = "history"
	EventMessage       EventType = "message"
	EventDraft         EventType = "draft"
	EventLiveStatus    EventType = "live_status"
	EventNotification  EventType = "notification"
)

// Event is one update of the view state
type Event struct {
	Type    EventType `json:"type"`
	Content any       `json:"content"`
}

// Emitter receives view events. Emit is called with the view locked, so
// it must not block or call back into the view.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Event)

// Emit implements Emitter
func (f EmitterFunc) Emit(e Event) { f(e) }

type HistoryPayload struct {
	CounterpartID string           `json:"counterpart_id"`
	Messages      []models.Message `json:"messages"`
}

type DraftPayload struct {
	Content string `json:"content"`
}

type LiveStatusPayload struct {
	State realtime.State `json:"state"`
}

// Notification levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

type NotificationPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// User visible notification texts
const (
	MsgLoadConversationsFailed = "Failed to load conversations."
	MsgOpenConversationFailed  = "Failed to load conversation."
	MsgLoadMessagesFailed      = "Failed to load messages."
	MsgUserNotFound            = "User not found."
	MsgSendFailed              = "Failed to send message."
	MsgLiveUnavailable         = "Live updates are unavailable. New messages will show up after a refresh."
	unknownSender              = "another user"
)
