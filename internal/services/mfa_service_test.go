package services

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/models"
)

type mfaDeps struct {
	users   *MockUserRepository
	tickets *MockTicketRepository
	tokens  *MockRefreshTokenRepository
	totp    *auth.TOTPManager
}

func newTestMFAService(t *testing.T, features config.FeaturesConfig) (*MFAService, *mfaDeps) {
	t.Helper()
	totpManager, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "Gatekeeper Test")
	require.NoError(t, err)

	deps := &mfaDeps{
		users:   &MockUserRepository{},
		tickets: &MockTicketRepository{},
		tokens:  &MockRefreshTokenRepository{},
		totp:    totpManager,
	}
	tickets := newTestTicketService(deps.tickets)
	sessions := newTestSessionService(deps.users, deps.tokens, nil)
	svc := NewMFAService(deps.users, tickets, sessions, totpManager, features,
		testLogger(), testAuditLogger())
	return svc, deps
}

// enrollTestUser gives the user an encrypted TOTP secret and returns the
// plaintext secret for minting codes.
func enrollTestUser(t *testing.T, deps *mfaDeps, user *models.User) string {
	t.Helper()
	enrollment, err := deps.totp.GenerateEnrollment(user.Email)
	require.NoError(t, err)
	encrypted, err := deps.totp.EncryptSecret(enrollment.Secret)
	require.NoError(t, err)
	user.TOTPSecret = encrypted
	return enrollment.Secret
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

func TestMFAService_GenerateChallenge(t *testing.T) {
	user := NewTestUser()

	svc, deps := newTestMFAService(t, testFeatures())
	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}

	var updated *models.User
	deps.users.UpdateFunc = func(ctx context.Context, id string, u *models.User) (*models.User, error) {
		updated = u
		return u, nil
	}

	enrollment, err := svc.GenerateChallenge(context.Background(), user.ID)

	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.URI, "otpauth://totp/")
	assert.Contains(t, enrollment.QRCodeDataURL, "data:image/png;base64,")

	require.NotNil(t, updated)
	assert.NotEmpty(t, updated.TOTPSecret)
	assert.NotEqual(t, enrollment.Secret, updated.TOTPSecret, "the secret is stored encrypted")
	assert.False(t, updated.MFAEnabled, "enrollment alone must not enable MFA")
}

func TestMFAService_GenerateChallenge_FeatureDisabled(t *testing.T) {
	features := testFeatures()
	features.MFAEnabled = false

	svc, _ := newTestMFAService(t, features)

	_, err := svc.GenerateChallenge(context.Background(), "user-1")

	assert.ErrorIs(t, err, models.ErrMFADisabled)
}

func TestMFAService_GenerateChallenge_AnonymousUser(t *testing.T) {
	anon := &models.User{ID: "anon-1", IsAnonymous: true}

	svc, deps := newTestMFAService(t, testFeatures())
	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return anon, nil
	}

	_, err := svc.GenerateChallenge(context.Background(), anon.ID)

	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestMFAService_Activate(t *testing.T) {
	user := NewTestUser()

	svc, deps := newTestMFAService(t, testFeatures())
	secret := enrollTestUser(t, deps, user)

	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}

	var updated *models.User
	deps.users.UpdateFunc = func(ctx context.Context, id string, u *models.User) (*models.User, error) {
		updated = u
		return u, nil
	}

	err := svc.Activate(context.Background(), user.ID, currentCode(t, secret))

	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, updated.MFAEnabled)
}

func TestMFAService_Activate_WrongCode(t *testing.T) {
	user := NewTestUser()

	svc, deps := newTestMFAService(t, testFeatures())
	enrollTestUser(t, deps, user)

	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}

	err := svc.Activate(context.Background(), user.ID, "000000")

	assert.ErrorIs(t, err, models.ErrInvalidMFACode)
	assert.False(t, user.MFAEnabled)
}

func TestMFAService_Activate_NoEnrollment(t *testing.T) {
	user := NewTestUser()

	svc, deps := newTestMFAService(t, testFeatures())
	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}

	err := svc.Activate(context.Background(), user.ID, "123456")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestMFAService_Deactivate(t *testing.T) {
	user := NewTestUser()
	user.MFAEnabled = true

	svc, deps := newTestMFAService(t, testFeatures())
	secret := enrollTestUser(t, deps, user)

	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}

	var updated *models.User
	deps.users.UpdateFunc = func(ctx context.Context, id string, u *models.User) (*models.User, error) {
		updated = u
		return u, nil
	}

	err := svc.Deactivate(context.Background(), user.ID, currentCode(t, secret))

	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.False(t, updated.MFAEnabled)
	assert.Empty(t, updated.TOTPSecret)
}

func TestMFAService_VerifyLogin(t *testing.T) {
	user := NewTestUser()
	user.MFAEnabled = true

	svc, deps := newTestMFAService(t, testFeatures())
	secret := enrollTestUser(t, deps, user)

	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}
	deps.tickets.GetByValueFunc = func(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error) {
		if value == "mfa:good" {
			return &models.Ticket{
				UserID:    user.ID,
				Purpose:   purpose,
				Value:     value,
				ExpiresAt: time.Now().Add(5 * time.Minute),
			}, nil
		}
		return nil, models.ErrNotFound
	}

	consumed := false
	deps.tickets.ConsumeFunc = func(ctx context.Context, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error) {
		consumed = true
		return user.ID, nil
	}

	session, err := svc.VerifyLogin(context.Background(), "mfa:good", currentCode(t, secret))

	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.True(t, consumed, "a successful MFA login must spend the ticket")
}

func TestMFAService_VerifyLogin_WrongCodeKeepsTicket(t *testing.T) {
	user := NewTestUser()
	user.MFAEnabled = true

	svc, deps := newTestMFAService(t, testFeatures())
	enrollTestUser(t, deps, user)

	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}
	deps.tickets.GetByValueFunc = func(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error) {
		return &models.Ticket{
			UserID:    user.ID,
			Purpose:   purpose,
			Value:     value,
			ExpiresAt: time.Now().Add(5 * time.Minute),
		}, nil
	}

	consumed := false
	deps.tickets.ConsumeFunc = func(ctx context.Context, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error) {
		consumed = true
		return user.ID, nil
	}

	_, err := svc.VerifyLogin(context.Background(), "mfa:good", "000000")

	assert.ErrorIs(t, err, models.ErrInvalidMFACode)
	assert.False(t, consumed, "a wrong code must leave the ticket usable for a retry")
}

func TestMFAService_VerifyLogin_ExpiredTicket(t *testing.T) {
	svc, deps := newTestMFAService(t, testFeatures())
	deps.tickets.GetByValueFunc = func(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error) {
		return &models.Ticket{
			UserID:    "user-1",
			Purpose:   purpose,
			Value:     value,
			ExpiresAt: time.Now().Add(-time.Minute),
		}, nil
	}

	_, err := svc.VerifyLogin(context.Background(), "mfa:old", "123456")

	assert.ErrorIs(t, err, models.ErrInvalidTicket)
}

func TestMFAService_VerifyLogin_MFATurnedOffSinceLogin(t *testing.T) {
	user := NewTestUser()

	svc, deps := newTestMFAService(t, testFeatures())
	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}
	deps.tickets.GetByValueFunc = func(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error) {
		return &models.Ticket{
			UserID:    user.ID,
			Purpose:   purpose,
			Value:     value,
			ExpiresAt: time.Now().Add(5 * time.Minute),
		}, nil
	}

	_, err := svc.VerifyLogin(context.Background(), "mfa:good", "123456")

	assert.ErrorIs(t, err, models.ErrInvalidTicket)
}
