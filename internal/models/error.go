package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Policy errors - rejected after validation, before any mutation
	ErrWeakPassword    = errors.New("password does not meet strength requirements")
	ErrInvalidRoles    = errors.New("invalid role configuration")
	ErrEmailNotAllowed = errors.New("email is not allowed to register")
	ErrEmailInUse      = errors.New("email already in use")

	// Credential and session errors
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountDisabled     = errors.New("account is disabled")
	ErrEmailNotVerified    = errors.New("email address not verified")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

	// Tickets: absent, expired, and wrong-purpose are indistinguishable to callers
	ErrInvalidTicket = errors.New("invalid or expired ticket")

	// MFA errors
	ErrMFADisabled    = errors.New("multi-factor authentication is disabled")
	ErrInvalidMFACode = errors.New("invalid mfa code")

	// Anonymous user errors
	ErrNotAnonymous      = errors.New("user is not anonymous")
	ErrAnonymousDisabled = errors.New("anonymous users are disabled")
)
