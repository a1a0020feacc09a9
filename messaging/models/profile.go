package models

import (
	"time"
)

// Profile mirrors the identity provider's user record. It is kept in sync by the identity webhook.
type Profile struct {
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Role      string    `json:"role" gorm:"default:student"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Profile) TableName() string {
	return "profiles"
}
