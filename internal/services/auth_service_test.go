package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// testPasswordHash hashes at the minimum cost so tests stay fast.
func testPasswordHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

type authServiceDeps struct {
	users   *MockUserRepository
	tickets *MockTicketRepository
	tokens  *MockRefreshTokenRepository
	mailer  *MockMailer
}

func newTestAuthService(t *testing.T, features config.FeaturesConfig) (*AuthService, *authServiceDeps) {
	t.Helper()
	deps := &authServiceDeps{
		users:   &MockUserRepository{},
		tickets: &MockTicketRepository{},
		tokens:  &MockRefreshTokenRepository{},
		mailer:  &MockMailer{},
	}
	tickets := newTestTicketService(deps.tickets)
	sessions := newTestSessionService(deps.users, deps.tokens, nil)
	svc := NewAuthService(deps.users, tickets, sessions, deps.mailer, &MockTxRunner{},
		testAuthConfig(), features, testLogger(), testAuditLogger())
	return svc, deps
}

func TestAuthService_Login(t *testing.T) {
	user := NewTestUser()
	user.PasswordHash = testPasswordHash(t, "CorrectHorse1")

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		if email == user.Email {
			return user, nil
		}
		return nil, models.ErrNotFound
	}

	result, err := svc.Login(context.Background(), "Test@Example.com", "CorrectHorse1")

	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.Nil(t, result.MFATicket)
	assert.Equal(t, user.ID, result.Session.User.ID)
}

func TestAuthService_Login_UnknownEmail(t *testing.T) {
	svc, _ := newTestAuthService(t, testFeatures())

	_, err := svc.Login(context.Background(), "nobody@example.com", "Whatever123")

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	user := NewTestUser()
	user.PasswordHash = testPasswordHash(t, "CorrectHorse1")

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}

	_, err := svc.Login(context.Background(), user.Email, "WrongHorse1")

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAuthService_Login_NoPasswordSet(t *testing.T) {
	// An account created through a passwordless path has no hash; a password
	// login against it must fail like any bad credential.
	user := NewTestUser()
	user.PasswordHash = ""

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}

	_, err := svc.Login(context.Background(), user.Email, "Anything123")

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAuthService_Login_DisabledAccount(t *testing.T) {
	user := NewTestUser()
	user.PasswordHash = testPasswordHash(t, "CorrectHorse1")
	user.Disabled = true

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}

	_, err := svc.Login(context.Background(), user.Email, "CorrectHorse1")

	assert.ErrorIs(t, err, models.ErrAccountDisabled)
}

func TestAuthService_Login_UnverifiedEmail(t *testing.T) {
	user := NewTestUser()
	user.PasswordHash = testPasswordHash(t, "CorrectHorse1")
	user.EmailVerified = false

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}

	_, err := svc.Login(context.Background(), user.Email, "CorrectHorse1")

	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
}

func TestAuthService_Login_UnverifiedAllowedWhenNotRequired(t *testing.T) {
	user := NewTestUser()
	user.PasswordHash = testPasswordHash(t, "CorrectHorse1")
	user.EmailVerified = false

	features := testFeatures()
	features.RequireEmailVerification = false

	svc, deps := newTestAuthService(t, features)
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}

	result, err := svc.Login(context.Background(), user.Email, "CorrectHorse1")

	require.NoError(t, err)
	assert.NotNil(t, result.Session)
}

func TestAuthService_Login_MFAEnabled(t *testing.T) {
	user := NewTestUser()
	user.PasswordHash = testPasswordHash(t, "CorrectHorse1")
	user.MFAEnabled = true

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}

	tokensCreated := 0
	deps.tokens.CreateFunc = func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error) {
		tokensCreated++
		return &models.RefreshToken{}, nil
	}

	result, err := svc.Login(context.Background(), user.Email, "CorrectHorse1")

	require.NoError(t, err)
	assert.Nil(t, result.Session, "no session until the TOTP step completes")
	require.NotNil(t, result.MFATicket)
	assert.Equal(t, models.TicketPurposeMFA, result.MFATicket.Purpose)
	assert.Equal(t, user.ID, result.MFATicket.UserID)
	assert.Zero(t, tokensCreated)
}

func TestAuthService_RequestMagicLink(t *testing.T) {
	user := NewTestUser()

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}

	err := svc.RequestMagicLink(context.Background(), user.Email)

	require.NoError(t, err)
	require.Len(t, deps.mailer.Sent, 1)
	assert.Equal(t, TemplateMagicLink, deps.mailer.Sent[0].Template)
	assert.Equal(t, user.Email, deps.mailer.Sent[0].Recipient)
	assert.NotEmpty(t, deps.mailer.Sent[0].Locals["ticket"])
}

func TestAuthService_RequestMagicLink_UnknownEmailSameAck(t *testing.T) {
	svc, deps := newTestAuthService(t, testFeatures())

	err := svc.RequestMagicLink(context.Background(), "nobody@example.com")

	assert.NoError(t, err)
	assert.Empty(t, deps.mailer.Sent)
}

func TestAuthService_RequestMagicLink_MailFailureSurfaces(t *testing.T) {
	user := NewTestUser()

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}
	deps.mailer.SendFunc = func(ctx context.Context, template TemplateID, recipient, locale string, locals map[string]string) error {
		return fmt.Errorf("ses unavailable")
	}

	err := svc.RequestMagicLink(context.Background(), user.Email)

	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestAuthService_SignInWithMagicLink(t *testing.T) {
	user := NewTestUser()
	user.EmailVerified = false

	svc, deps := newTestAuthService(t, testFeatures())
	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}
	deps.tickets.ConsumeFunc = func(ctx context.Context, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error) {
		if value == "magic-link:good" && purpose == models.TicketPurposeMagicLink {
			return user.ID, nil
		}
		return "", models.ErrNotFound
	}

	var updated *models.User
	deps.users.UpdateFunc = func(ctx context.Context, id string, u *models.User) (*models.User, error) {
		updated = u
		return u, nil
	}

	session, err := svc.SignInWithMagicLink(context.Background(), "magic-link:good")

	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	require.NotNil(t, updated, "redeeming the link should mark the email verified")
	assert.True(t, updated.EmailVerified)
}

func TestAuthService_SignInWithMagicLink_InvalidTicket(t *testing.T) {
	svc, _ := newTestAuthService(t, testFeatures())

	_, err := svc.SignInWithMagicLink(context.Background(), "magic-link:expired")

	assert.ErrorIs(t, err, models.ErrInvalidTicket)
}
