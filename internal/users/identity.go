package users

import (
	"strings"
	"time"
)

// Identity is the canonical local user record owned by the application.
// Authentication-protocol users are projections layered on top of exactly one Identity.
type Identity struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	Username   string    `gorm:"column:username;size:255;not null;default:'';uniqueIndex:idx_user_identities_email_username,priority:2"`
	Email      string    `gorm:"column:email;size:320;not null;default:'';uniqueIndex:idx_user_identities_email_username,priority:1"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
