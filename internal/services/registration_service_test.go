package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/models"
)

type registrationDeps struct {
	users   *MockUserRepository
	tickets *MockTicketRepository
	tokens  *MockRefreshTokenRepository
	mailer  *MockMailer
}

func newTestRegistrationService(t *testing.T, features config.FeaturesConfig) (*RegistrationService, *registrationDeps) {
	t.Helper()
	deps := &registrationDeps{
		users:   &MockUserRepository{},
		tickets: &MockTicketRepository{},
		tokens:  &MockRefreshTokenRepository{},
		mailer:  &MockMailer{},
	}
	tickets := newTestTicketService(deps.tickets)
	sessions := newTestSessionService(deps.users, deps.tokens, nil)
	validator := NewCredentialValidator(deps.users, features, testLogger())
	svc := NewRegistrationService(deps.users, tickets, sessions, validator, deps.mailer,
		&MockTxRunner{}, testAuthConfig(), features, testLogger(), testAuditLogger())
	return svc, deps
}

func validRegisterInput() RegisterInput {
	return RegisterInput{
		Email:    "new@example.com",
		Password: "StrongPass1",
	}
}

func TestRegistrationService_Register_PendingVerification(t *testing.T) {
	svc, deps := newTestRegistrationService(t, testFeatures())

	var createdUser *models.User
	deps.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		created := *user
		created.ID = "user-1"
		createdUser = &created
		return &created, nil
	}

	result, err := svc.Register(context.Background(), validRegisterInput())

	require.NoError(t, err)
	assert.True(t, result.PendingVerification)
	assert.Nil(t, result.Session, "no session before the email is verified")

	require.NotNil(t, createdUser)
	assert.Equal(t, "new@example.com", createdUser.Email)
	assert.NotEqual(t, "StrongPass1", createdUser.PasswordHash)
	assert.False(t, createdUser.EmailVerified)
	assert.Equal(t, "user", createdUser.DefaultRole)
	assert.Equal(t, []string{"user", "me"}, createdUser.AllowedRoles)
	assert.Equal(t, "new", createdUser.DisplayName)
	assert.Equal(t, "en", createdUser.Locale)

	require.Len(t, deps.mailer.Sent, 1)
	assert.Equal(t, TemplateVerifyEmail, deps.mailer.Sent[0].Template)
	assert.Equal(t, "new@example.com", deps.mailer.Sent[0].Recipient)
}

func TestRegistrationService_Register_AutoActivate(t *testing.T) {
	features := testFeatures()
	features.RequireEmailVerification = false

	svc, deps := newTestRegistrationService(t, features)

	result, err := svc.Register(context.Background(), validRegisterInput())

	require.NoError(t, err)
	assert.False(t, result.PendingVerification)
	require.NotNil(t, result.Session)
	assert.Empty(t, deps.mailer.Sent)
}

func TestRegistrationService_Register_WeakPassword(t *testing.T) {
	svc, _ := newTestRegistrationService(t, testFeatures())

	input := validRegisterInput()
	input.Password = "password123"

	_, err := svc.Register(context.Background(), input)

	assert.ErrorIs(t, err, models.ErrWeakPassword)
}

func TestRegistrationService_Register_EmailInUse(t *testing.T) {
	svc, deps := newTestRegistrationService(t, testFeatures())
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return NewTestUser(), nil
	}

	_, err := svc.Register(context.Background(), validRegisterInput())

	assert.ErrorIs(t, err, models.ErrEmailInUse)
}

func TestRegistrationService_Register_EmailNotAllowed(t *testing.T) {
	features := testFeatures()
	features.AllowedEmails = []string{"vip@example.com"}

	svc, _ := newTestRegistrationService(t, features)

	_, err := svc.Register(context.Background(), validRegisterInput())

	assert.ErrorIs(t, err, models.ErrEmailNotAllowed)
}

func TestRegistrationService_Register_InvalidRoles(t *testing.T) {
	svc, _ := newTestRegistrationService(t, testFeatures())

	input := validRegisterInput()
	input.AllowedRoles = []string{"user", "admin"}

	_, err := svc.Register(context.Background(), input)

	assert.ErrorIs(t, err, models.ErrInvalidRoles)
}

func TestRegistrationService_Register_MailFailureRollsBack(t *testing.T) {
	svc, deps := newTestRegistrationService(t, testFeatures())
	deps.mailer.SendFunc = func(ctx context.Context, template TemplateID, recipient, locale string, locals map[string]string) error {
		return fmt.Errorf("ses unavailable")
	}

	_, err := svc.Register(context.Background(), validRegisterInput())

	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestRegistrationService_SignInAnonymous(t *testing.T) {
	svc, deps := newTestRegistrationService(t, testFeatures())

	var createdUser *models.User
	deps.users.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		created := *user
		created.ID = "anon-1"
		createdUser = &created
		return &created, nil
	}

	session, err := svc.SignInAnonymous(context.Background(), "", "")

	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)

	require.NotNil(t, createdUser)
	assert.True(t, createdUser.IsAnonymous)
	assert.Empty(t, createdUser.Email)
	assert.Empty(t, createdUser.PasswordHash)
	assert.Equal(t, "anonymous", createdUser.DefaultRole)
	assert.Equal(t, []string{"anonymous"}, createdUser.AllowedRoles)
}

func TestRegistrationService_SignInAnonymous_Disabled(t *testing.T) {
	features := testFeatures()
	features.AnonymousUsersEnabled = false

	svc, _ := newTestRegistrationService(t, features)

	_, err := svc.SignInAnonymous(context.Background(), "", "")

	assert.ErrorIs(t, err, models.ErrAnonymousDisabled)
}

func TestRegistrationService_Deanonymize(t *testing.T) {
	anon := &models.User{
		ID:           "anon-1",
		DisplayName:  "Anonymous User",
		Locale:       "en",
		DefaultRole:  "anonymous",
		AllowedRoles: []string{"anonymous"},
		IsAnonymous:  true,
	}

	svc, deps := newTestRegistrationService(t, testFeatures())
	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		if id == anon.ID {
			return anon, nil
		}
		return nil, models.ErrNotFound
	}

	var updatedID string
	var updated *models.User
	deps.users.UpdateFunc = func(ctx context.Context, id string, user *models.User) (*models.User, error) {
		updatedID = id
		updated = user
		return user, nil
	}

	result, err := svc.Deanonymize(context.Background(), "anon-1", "upgraded@example.com", "StrongPass1")

	require.NoError(t, err)
	assert.True(t, result.PendingVerification)

	assert.Equal(t, "anon-1", updatedID, "the user id must survive the upgrade")
	require.NotNil(t, updated)
	assert.False(t, updated.IsAnonymous)
	assert.False(t, updated.EmailVerified)
	assert.Equal(t, "upgraded@example.com", updated.Email)
	assert.NotEmpty(t, updated.PasswordHash)
	assert.Equal(t, "user", updated.DefaultRole, "the anonymous role must not carry over")
	assert.Equal(t, []string{"user", "me"}, updated.AllowedRoles)

	require.Len(t, deps.mailer.Sent, 1)
	assert.Equal(t, TemplateVerifyEmail, deps.mailer.Sent[0].Template)
}

func TestRegistrationService_Deanonymize_NotAnonymous(t *testing.T) {
	user := NewTestUser()

	svc, deps := newTestRegistrationService(t, testFeatures())
	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return user, nil
	}

	_, err := svc.Deanonymize(context.Background(), user.ID, "other@example.com", "StrongPass1")

	assert.ErrorIs(t, err, models.ErrNotAnonymous)
}

func TestRegistrationService_Deanonymize_EmailInUse(t *testing.T) {
	anon := &models.User{ID: "anon-1", IsAnonymous: true}

	svc, deps := newTestRegistrationService(t, testFeatures())
	deps.users.GetByIDFunc = func(ctx context.Context, id string) (*models.User, error) {
		return anon, nil
	}
	deps.users.GetByEmailFunc = func(ctx context.Context, email string) (*models.User, error) {
		return NewTestUser(), nil
	}

	_, err := svc.Deanonymize(context.Background(), "anon-1", "test@example.com", "StrongPass1")

	assert.ErrorIs(t, err, models.ErrEmailInUse)
}
