package models

import (
	"time"
)

type User struct {
	ID            string
	Email         string // empty for anonymous users
	PasswordHash  string // empty for passwordless and anonymous users
	DisplayName   string
	AvatarURL     string
	Locale        string
	DefaultRole   string
	AllowedRoles  []string
	Disabled      bool
	EmailVerified bool
	IsAnonymous   bool
	TOTPSecret    string // AES-GCM encrypted, empty until MFA enrollment starts
	MFAEnabled    bool
	NewEmail      string // pending email change target, empty otherwise
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasRole reports whether role is one of the user's allowed roles.
func (u *User) HasRole(role string) bool {
	for _, r := range u.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}
