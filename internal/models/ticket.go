package models

import (
	"time"
)

// TicketPurpose scopes a ticket to exactly one kind of state transition.
type TicketPurpose string

const (
	TicketPurposeVerifyEmail     TicketPurpose = "verify-email"
	TicketPurposeResetPassword   TicketPurpose = "reset-password"
	TicketPurposeChangeEmail     TicketPurpose = "change-email"
	TicketPurposeMagicLink       TicketPurpose = "magic-link"
	TicketPurposeActivateAccount TicketPurpose = "activate-account"
	TicketPurposeMFA             TicketPurpose = "mfa"
)

// Ticket is a single-use, purpose-scoped, time-bounded capability value.
// A user holds at most one active ticket per purpose; issuing a new one
// replaces the prior one, and consumption rotates the value atomically.
type Ticket struct {
	ID        string
	UserID    string
	Purpose   TicketPurpose
	Value     string `json:"-"` // never expose outside the issuing flow
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired checks if the ticket has expired
func (t *Ticket) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
