package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrImmutableMessage is returned by the store when something tries to change a persisted message.
var ErrImmutableMessage = errors.New("messages are immutable once created")

// Message is a single direct message between two users.
type Message struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	SenderID   string    `json:"sender_id" gorm:"not null;index:idx_messages_pair,priority:1"`
	ReceiverID string    `json:"receiver_id" gorm:"not null;index:idx_messages_pair,priority:2"`
	Content    string    `json:"content" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// TableName overrides the table name
func (Message) TableName() string {
	return "messages"
}

// BeforeUpdate rejects any update of a stored message.
func (m *Message) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableMessage
}

// BeforeDelete rejects any delete of a stored message.
func (m *Message) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableMessage
}

// Involves reports whether the user is the sender or the receiver.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Between reports whether the message was exchanged between a and b, in either direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// CounterpartOf returns the other participant relative to userID.
func (m Message) CounterpartOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Before orders messages by creation time, then id.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
