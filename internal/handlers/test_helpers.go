package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/models"
	"github.com/verdantlabs/gatekeeper/internal/services"
)

// Test helpers and mock service implementations for handler tests.

// MockRegistrationService implements RegistrationServiceInterface
type MockRegistrationService struct {
	RegisterFunc        func(ctx context.Context, input services.RegisterInput) (*services.RegisterResult, error)
	SignInAnonymousFunc func(ctx context.Context, displayName, locale string) (*services.Session, error)
	DeanonymizeFunc     func(ctx context.Context, userID, email, password string) (*services.RegisterResult, error)
}

func (m *MockRegistrationService) Register(ctx context.Context, input services.RegisterInput) (*services.RegisterResult, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, input)
	}
	return nil, models.ErrInternalServer
}

func (m *MockRegistrationService) SignInAnonymous(ctx context.Context, displayName, locale string) (*services.Session, error) {
	if m.SignInAnonymousFunc != nil {
		return m.SignInAnonymousFunc(ctx, displayName, locale)
	}
	return nil, models.ErrInternalServer
}

func (m *MockRegistrationService) Deanonymize(ctx context.Context, userID, email, password string) (*services.RegisterResult, error) {
	if m.DeanonymizeFunc != nil {
		return m.DeanonymizeFunc(ctx, userID, email, password)
	}
	return nil, models.ErrInternalServer
}

// MockAuthService implements AuthServiceInterface
type MockAuthService struct {
	LoginFunc               func(ctx context.Context, email, password string) (*services.LoginResult, error)
	RequestMagicLinkFunc    func(ctx context.Context, email string) error
	SignInWithMagicLinkFunc func(ctx context.Context, ticketValue string) (*services.Session, error)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) RequestMagicLink(ctx context.Context, email string) error {
	if m.RequestMagicLinkFunc != nil {
		return m.RequestMagicLinkFunc(ctx, email)
	}
	return nil
}

func (m *MockAuthService) SignInWithMagicLink(ctx context.Context, ticketValue string) (*services.Session, error) {
	if m.SignInWithMagicLinkFunc != nil {
		return m.SignInWithMagicLinkFunc(ctx, ticketValue)
	}
	return nil, models.ErrInvalidTicket
}

// MockSessionService implements SessionServiceInterface
type MockSessionService struct {
	RefreshFunc func(ctx context.Context, refreshValue string) (*services.Session, error)
	RevokeFunc  func(ctx context.Context, userID, refreshValue string, all bool) error
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshValue string) (*services.Session, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshValue)
	}
	return nil, models.ErrInvalidRefreshToken
}

func (m *MockSessionService) Revoke(ctx context.Context, userID, refreshValue string, all bool) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, userID, refreshValue, all)
	}
	return nil
}

// MockAccountService implements AccountServiceInterface
type MockAccountService struct {
	RequestPasswordResetFunc func(ctx context.Context, email string) error
	ResetPasswordFunc        func(ctx context.Context, ticketValue, newPassword string) error
	ChangePasswordFunc       func(ctx context.Context, userID, currentPassword, newPassword string) error
	VerifyEmailFunc          func(ctx context.Context, ticketValue string) error
	ResendVerificationFunc   func(ctx context.Context, email string) error
	RequestEmailChangeFunc   func(ctx context.Context, userID, newEmail string) error
	ConfirmEmailChangeFunc   func(ctx context.Context, ticketValue string) error
}

func (m *MockAccountService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) ResetPassword(ctx context.Context, ticketValue, newPassword string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, ticketValue, newPassword)
	}
	return nil
}

func (m *MockAccountService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword)
	}
	return nil
}

func (m *MockAccountService) VerifyEmail(ctx context.Context, ticketValue string) error {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, ticketValue)
	}
	return nil
}

func (m *MockAccountService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc != nil {
		return m.ResendVerificationFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	if m.RequestEmailChangeFunc != nil {
		return m.RequestEmailChangeFunc(ctx, userID, newEmail)
	}
	return nil
}

func (m *MockAccountService) ConfirmEmailChange(ctx context.Context, ticketValue string) error {
	if m.ConfirmEmailChangeFunc != nil {
		return m.ConfirmEmailChangeFunc(ctx, ticketValue)
	}
	return nil
}

// MockMFAService implements MFAServiceInterface
type MockMFAService struct {
	GenerateChallengeFunc func(ctx context.Context, userID string) (*auth.Enrollment, error)
	ActivateFunc          func(ctx context.Context, userID, code string) error
	DeactivateFunc        func(ctx context.Context, userID, code string) error
	VerifyLoginFunc       func(ctx context.Context, ticketValue, code string) (*services.Session, error)
}

func (m *MockMFAService) GenerateChallenge(ctx context.Context, userID string) (*auth.Enrollment, error) {
	if m.GenerateChallengeFunc != nil {
		return m.GenerateChallengeFunc(ctx, userID)
	}
	return nil, models.ErrMFADisabled
}

func (m *MockMFAService) Activate(ctx context.Context, userID, code string) error {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, userID, code)
	}
	return nil
}

func (m *MockMFAService) Deactivate(ctx context.Context, userID, code string) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, userID, code)
	}
	return nil
}

func (m *MockMFAService) VerifyLogin(ctx context.Context, ticketValue, code string) (*services.Session, error) {
	if m.VerifyLoginFunc != nil {
		return m.VerifyLoginFunc(ctx, ticketValue, code)
	}
	return nil, models.ErrInvalidTicket
}

func testSession(userID string) *services.Session {
	return &services.Session{
		AccessToken:          "header.payload.signature",
		AccessTokenExpiresIn: 900,
		RefreshToken:         "refresh-value",
		User:                 services.UserResponse{ID: userID},
	}
}

// jsonRequest builds a request with a JSON-encoded body
func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// asUser attaches token claims to the request context, as the auth
// middleware would
func asUser(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{UserID: userID}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

// decodeBody decodes a JSON response body
func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(recorder.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return out
}
