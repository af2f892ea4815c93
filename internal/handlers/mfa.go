package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/services"
	pkghttp "github.com/verdantlabs/gatekeeper/pkg/http"
)

// MFAServiceInterface defines the interface for TOTP enrollment and login
type MFAServiceInterface interface {
	GenerateChallenge(ctx context.Context, userID string) (*auth.Enrollment, error)
	Activate(ctx context.Context, userID, code string) error
	Deactivate(ctx context.Context, userID, code string) error
	VerifyLogin(ctx context.Context, ticketValue, code string) (*services.Session, error)
}

// MFAHandler handles TOTP enrollment and the MFA login step
type MFAHandler struct {
	service MFAServiceInterface
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

// Request DTOs

// MFAActivateRequest toggles MFA with a proving code
type MFAActivateRequest struct {
	Code      string `json:"code" validate:"required,len=6,numeric"`
	Activated bool   `json:"activated"`
}

// MFAVerifyRequest represents the second step of an MFA login
type MFAVerifyRequest struct {
	Ticket string `json:"ticket" validate:"required"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

// EnrollmentResponse returns what an authenticator app needs
type EnrollmentResponse struct {
	Secret        string `json:"totpSecret"`
	URI           string `json:"totpUri"`
	QRCodeDataURL string `json:"totpQrCode"`
}

// Generate starts TOTP enrollment for the authenticated user
func (h *MFAHandler) Generate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	enrollment, err := h.service.GenerateChallenge(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, EnrollmentResponse{
		Secret:        enrollment.Secret,
		URI:           enrollment.URI,
		QRCodeDataURL: enrollment.QRCodeDataURL,
	})
}

// Activate enables or disables MFA after validating the submitted code
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req MFAActivateRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var err error
	if req.Activated {
		err = h.service.Activate(r.Context(), claims.UserID, req.Code)
	} else {
		err = h.service.Deactivate(r.Context(), claims.UserID, req.Code)
	}
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteNoContent(w)
}

// Verify completes an MFA login with the ticket from the password step
func (h *MFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req MFAVerifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.service.VerifyLogin(r.Context(), req.Ticket, req.Code)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, session)
}
