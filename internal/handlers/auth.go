package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/services"
	pkghttp "github.com/verdantlabs/gatekeeper/pkg/http"
)

// RegistrationServiceInterface defines the interface for account creation
type RegistrationServiceInterface interface {
	Register(ctx context.Context, input services.RegisterInput) (*services.RegisterResult, error)
	SignInAnonymous(ctx context.Context, displayName, locale string) (*services.Session, error)
	Deanonymize(ctx context.Context, userID, email, password string) (*services.RegisterResult, error)
}

// AuthServiceInterface defines the interface for sign-in flows
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	RequestMagicLink(ctx context.Context, email string) error
	SignInWithMagicLink(ctx context.Context, ticketValue string) (*services.Session, error)
}

// SessionServiceInterface defines the interface for session lifecycle
type SessionServiceInterface interface {
	Refresh(ctx context.Context, refreshValue string) (*services.Session, error)
	Revoke(ctx context.Context, userID, refreshValue string, all bool) error
}

// AuthHandler handles registration, sign-in, and session HTTP requests
type AuthHandler struct {
	registration RegistrationServiceInterface
	authService  AuthServiceInterface
	sessions     SessionServiceInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(registration RegistrationServiceInterface, authService AuthServiceInterface, sessions SessionServiceInterface) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		authService:  authService,
		sessions:     sessions,
	}
}

// Request DTOs

// SignUpRequest represents the request body for email/password registration
type SignUpRequest struct {
	Email        string   `json:"email" validate:"required,email"`
	Password     string   `json:"password" validate:"required"`
	DisplayName  string   `json:"displayName" validate:"omitempty,max=128"`
	AvatarURL    string   `json:"avatarUrl" validate:"omitempty,url"`
	Locale       string   `json:"locale" validate:"omitempty,max=16"`
	DefaultRole  string   `json:"defaultRole" validate:"omitempty,max=64"`
	AllowedRoles []string `json:"allowedRoles" validate:"omitempty,dive,max=64"`
}

// SignInRequest represents the request body for email/password sign-in
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignInAnonymousRequest represents the request body for anonymous sign-in
type SignInAnonymousRequest struct {
	DisplayName string `json:"displayName" validate:"omitempty,max=128"`
	Locale      string `json:"locale" validate:"omitempty,max=16"`
}

// MagicLinkRequest represents the request body for requesting a sign-in link
type MagicLinkRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// MagicLinkVerifyRequest represents the request body for redeeming a sign-in link
type MagicLinkVerifyRequest struct {
	Ticket string `json:"ticket" validate:"required"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// SignOutRequest represents the request body for sign-out
type SignOutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"omitempty"`
	All          bool   `json:"all"`
}

// SignInResponse wraps a login outcome: a session, or an MFA ticket when the
// account needs a second factor.
type SignInResponse struct {
	Session *services.Session `json:"session,omitempty"`
	MFA     *MFAChallenge     `json:"mfa,omitempty"`
}

// MFAChallenge tells the client to complete the TOTP step.
type MFAChallenge struct {
	Ticket string `json:"ticket"`
}

// SignUp handles email/password registration
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.registration.Register(r.Context(), services.RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		DisplayName:  req.DisplayName,
		AvatarURL:    req.AvatarURL,
		Locale:       req.Locale,
		DefaultRole:  req.DefaultRole,
		AllowedRoles: req.AllowedRoles,
	})
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	if result.PendingVerification {
		pkghttp.WriteJSON(w, http.StatusAccepted, map[string]any{
			"user":    result.User,
			"message": "Registration received. Check your email to verify your account.",
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, result.Session)
}

// SignIn handles email/password sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	if result.MFATicket != nil {
		pkghttp.WriteJSON(w, http.StatusOK, SignInResponse{
			MFA: &MFAChallenge{Ticket: result.MFATicket.Value},
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SignInResponse{Session: result.Session})
}

// SignInAnonymous handles anonymous sign-in
func (h *AuthHandler) SignInAnonymous(w http.ResponseWriter, r *http.Request) {
	var req SignInAnonymousRequest

	// The body is optional for anonymous sign-in.
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
		if err := ValidateRequest(req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	session, err := h.registration.SignInAnonymous(r.Context(), req.DisplayName, req.Locale)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, session)
}

// RequestMagicLink handles passwordless sign-in link requests. The response
// is the same whether or not the email belongs to an account.
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.authService.RequestMagicLink(r.Context(), req.Email); err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists with this email, a sign-in link will be sent.",
	})
}

// VerifyMagicLink redeems a sign-in link ticket for a session
func (h *AuthHandler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkVerifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.authService.SignInWithMagicLink(r.Context(), req.Ticket)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, session)
}

// RefreshToken exchanges a refresh token for a new session
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, session)
}

// SignOut revokes the presented refresh token, or all of the user's tokens
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req SignOutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	if err := h.sessions.Revoke(r.Context(), claims.UserID, req.RefreshToken, req.All); err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteNoContent(w)
}

// Deanonymize upgrades the authenticated anonymous user to an email/password
// account
func (h *AuthHandler) Deanonymize(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req SignInRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.registration.Deanonymize(r.Context(), claims.UserID, req.Email, req.Password)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	if result.PendingVerification {
		pkghttp.WriteJSON(w, http.StatusAccepted, map[string]any{
			"user":    result.User,
			"message": "Check your email to verify your new address.",
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result.Session)
}
