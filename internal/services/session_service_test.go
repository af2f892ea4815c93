package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/models"
)

func newTestSessionService(users *MockUserRepository, tokens *MockRefreshTokenRepository, pruner *MockPruner) *SessionService {
	if pruner == nil {
		pruner = &MockPruner{}
	}
	tm := auth.NewTokenManager("test-secret-key-for-testing-only", 15*time.Minute)
	return NewSessionService(users, tokens, tm, pruner, testLogger(), testAuditLogger(), 30*24*time.Hour)
}

func TestSessionService_IssueSession(t *testing.T) {
	user := NewTestUser()

	var storedHash string
	tokens := &MockRefreshTokenRepository{
		CreateFunc: func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error) {
			storedHash = tokenHash
			return &models.RefreshToken{ID: "rt-1", UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}, nil
		},
	}
	svc := newTestSessionService(&MockUserRepository{}, tokens, nil)

	session, err := svc.IssueSession(context.Background(), user)

	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, int64(900), session.AccessTokenExpiresIn)
	assert.Equal(t, user.ID, session.User.ID)

	// Only the hash reaches storage, never the raw value.
	assert.NotEqual(t, session.RefreshToken, storedHash)
	assert.Equal(t, hashRefreshToken(session.RefreshToken), storedHash)
}

func TestSessionService_Refresh(t *testing.T) {
	user := NewTestUser()

	var oldHash, newHash string
	tokens := &MockRefreshTokenRepository{
		RotateFunc: func(ctx context.Context, old, updated string, newExpiresAt time.Time) (string, error) {
			oldHash, newHash = old, updated
			return user.ID, nil
		},
	}
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}
	pruner := &MockPruner{}
	svc := newTestSessionService(users, tokens, pruner)

	session, err := svc.Refresh(context.Background(), "raw-refresh-value")

	require.NoError(t, err)
	assert.Equal(t, hashRefreshToken("raw-refresh-value"), oldHash)
	assert.Equal(t, hashRefreshToken(session.RefreshToken), newHash)
	assert.NotEqual(t, oldHash, newHash)
	assert.Equal(t, 1, pruner.Calls, "refresh should give the pruner a chance to run")
}

func TestSessionService_Refresh_UnknownToken(t *testing.T) {
	svc := newTestSessionService(&MockUserRepository{}, &MockRefreshTokenRepository{}, nil)

	_, err := svc.Refresh(context.Background(), "unknown")

	assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
}

func TestSessionService_Refresh_DisabledUser(t *testing.T) {
	user := NewTestUser()
	user.Disabled = true

	deleted := false
	tokens := &MockRefreshTokenRepository{
		RotateFunc: func(ctx context.Context, old, updated string, newExpiresAt time.Time) (string, error) {
			return user.ID, nil
		},
		DeleteByTokenHashFunc: func(ctx context.Context, tokenHash string) error {
			deleted = true
			return nil
		},
	}
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestSessionService(users, tokens, nil)

	_, err := svc.Refresh(context.Background(), "raw-refresh-value")

	assert.ErrorIs(t, err, models.ErrAccountDisabled)
	assert.True(t, deleted, "the rotated token must not survive for a disabled account")
}

func TestSessionService_Revoke_SingleToken(t *testing.T) {
	var deletedHash string
	tokens := &MockRefreshTokenRepository{
		DeleteByTokenHashFunc: func(ctx context.Context, tokenHash string) error {
			deletedHash = tokenHash
			return nil
		},
	}
	svc := newTestSessionService(&MockUserRepository{}, tokens, nil)

	err := svc.Revoke(context.Background(), "user-1", "raw-value", false)

	require.NoError(t, err)
	assert.Equal(t, hashRefreshToken("raw-value"), deletedHash)
}

func TestSessionService_Revoke_All(t *testing.T) {
	var deletedUser string
	tokens := &MockRefreshTokenRepository{
		DeleteByUserIDFunc: func(ctx context.Context, userID string) error {
			deletedUser = userID
			return nil
		},
	}
	svc := newTestSessionService(&MockUserRepository{}, tokens, nil)

	err := svc.Revoke(context.Background(), "user-1", "", true)

	require.NoError(t, err)
	assert.Equal(t, "user-1", deletedUser)
}

func TestSessionService_Revoke_UnknownTokenIdempotent(t *testing.T) {
	// The repository reports no error for a missing row, and neither do we.
	svc := newTestSessionService(&MockUserRepository{}, &MockRefreshTokenRepository{}, nil)

	err := svc.Revoke(context.Background(), "user-1", "never-issued", false)

	assert.NoError(t, err)
}

func TestHashRefreshToken_Deterministic(t *testing.T) {
	assert.Equal(t, hashRefreshToken("abc"), hashRefreshToken("abc"))
	assert.NotEqual(t, hashRefreshToken("abc"), hashRefreshToken("abd"))
	assert.Len(t, hashRefreshToken("abc"), 64)
}
