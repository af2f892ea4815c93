package models

import (
	"time"
)

// RefreshToken is the persisted half of a session. Only the SHA-256 hash of
// the token value is stored; the plain value is returned to the client once.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string `json:"-"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired checks if the refresh token has expired
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
