package models

import (
	"time"
	"unicode/utf8"
)

// Conversation is the derived view of every message between the current user and one counterpart.
// It is computed on demand and never stored.
type Conversation struct {
	OtherUserID        string    `json:"other_user_id"`
	OtherUserName      string    `json:"other_user_name"`
	OtherUserAvatar    string    `json:"other_user_avatar"`
	LastMessageID      uint      `json:"last_message_id,omitempty"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastMessageAt      time.Time `json:"last_message_at"`
	LastSenderID       string    `json:"last_sender_id,omitempty"`
	// Placeholder is set when no message exists yet and the entry was built from the profile alone.
	Placeholder bool `json:"placeholder"`
}

// NewConversation builds a conversation entry from the latest message of a pair.
func NewConversation(userID string, last Message, profile *Profile, previewLength int) Conversation {
	c := Conversation{
		OtherUserID:        last.CounterpartOf(userID),
		LastMessageID:      last.ID,
		LastMessagePreview: Preview(last.Content, previewLength),
		LastMessageAt:      last.CreatedAt,
		LastSenderID:       last.SenderID,
	}
	if profile != nil {
		c.OtherUserName = profile.FullName
		c.OtherUserAvatar = profile.AvatarURL
	}
	return c
}

// NewPlaceholderConversation builds the entry shown before the first message with a counterpart.
func NewPlaceholderConversation(profile Profile) Conversation {
	return Conversation{
		OtherUserID:     profile.UserID,
		OtherUserName:   profile.FullName,
		OtherUserAvatar: profile.AvatarURL,
		Placeholder:     true,
	}
}

// Preview truncates content to at most n runes, marking truncation with an ellipsis.
func Preview(content string, n int) string {
	if n <= 0 || utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)
	return string(runes[:n]) + "…"
}
