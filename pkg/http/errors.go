package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/verdantlabs/gatekeeper/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteNoContent writes an empty 204 response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteModelError maps the sentinel error taxonomy to HTTP responses.
// Upstream failures collapse to a generic internal error; ticket and token
// lookups never reveal whether the value existed.
func WriteModelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrWeakPassword):
		WriteError(w, http.StatusBadRequest, "weak_password", "Password does not meet strength requirements")
	case errors.Is(err, models.ErrInvalidRoles):
		WriteError(w, http.StatusBadRequest, "invalid_role_configuration", "Requested roles are not allowed")
	case errors.Is(err, models.ErrEmailNotAllowed):
		WriteError(w, http.StatusForbidden, "email_not_allowed", "Email is not allowed to register")
	case errors.Is(err, models.ErrEmailInUse):
		WriteError(w, http.StatusConflict, "email_in_use", "Email is already in use")
	case errors.Is(err, models.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", "Resource already exists")
	case errors.Is(err, models.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, models.ErrAccountDisabled):
		WriteError(w, http.StatusForbidden, "account_disabled", "Account is disabled")
	case errors.Is(err, models.ErrEmailNotVerified):
		WriteError(w, http.StatusUnauthorized, "email_not_verified", "Email address is not verified")
	case errors.Is(err, models.ErrInvalidRefreshToken):
		WriteError(w, http.StatusUnauthorized, "invalid_refresh_token", "Invalid or expired refresh token")
	case errors.Is(err, models.ErrInvalidTicket):
		WriteError(w, http.StatusUnauthorized, "invalid_ticket", "Invalid or expired ticket")
	case errors.Is(err, models.ErrInvalidMFACode):
		WriteError(w, http.StatusUnauthorized, "invalid_mfa_code", "Invalid code")
	case errors.Is(err, models.ErrNotAnonymous):
		WriteError(w, http.StatusConflict, "not_anonymous", "User is not anonymous")
	case errors.Is(err, models.ErrAnonymousDisabled):
		WriteError(w, http.StatusForbidden, "anonymous_disabled", "Anonymous sign-in is disabled")
	case errors.Is(err, models.ErrMFADisabled):
		WriteError(w, http.StatusForbidden, "mfa_disabled", "Multi-factor authentication is disabled")
	case errors.Is(err, models.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
	case errors.Is(err, models.ErrForbidden):
		WriteError(w, http.StatusForbidden, "forbidden", "Forbidden")
	case errors.Is(err, models.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, models.ErrBadRequest):
		WriteError(w, http.StatusBadRequest, "bad_request", "Bad request")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
