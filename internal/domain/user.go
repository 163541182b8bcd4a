// Package domain contains core domain types for the chatdesk server.
package domain

import (
	"time"
)

// User represents an authenticated (or anonymous) chat user.
type User struct {
	UserID     string    `json:"user_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsAnonymous reports whether the user came from the anonymous cookie identity.
func (u *User) IsAnonymous() bool {
	return len(u.UserID) > 5 && u.UserID[:5] == "anon_"
}
