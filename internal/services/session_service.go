package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/background"
	"github.com/verdantlabs/gatekeeper/internal/models"
	pkgauth "github.com/verdantlabs/gatekeeper/pkg/auth"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// RefreshTokenRepository defines the interface for refresh token data access
type RefreshTokenRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldHash, newHash string, newExpiresAt time.Time) (string, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteByUserID(ctx context.Context, userID string) error
	DeleteByUserIDTx(ctx context.Context, tx pgx.Tx, userID string) error
}

// UserResponse is the public shape of a user, embedded in session payloads.
type UserResponse struct {
	ID            string   `json:"id"`
	Email         string   `json:"email,omitempty"`
	DisplayName   string   `json:"displayName"`
	AvatarURL     string   `json:"avatarUrl,omitempty"`
	Locale        string   `json:"locale"`
	DefaultRole   string   `json:"defaultRole"`
	AllowedRoles  []string `json:"roles"`
	EmailVerified bool     `json:"emailVerified"`
	IsAnonymous   bool     `json:"isAnonymous"`
	MFAEnabled    bool     `json:"mfaEnabled"`
	CreatedAt     string   `json:"createdAt"`
}

// Session is an access token plus the refresh token that can renew it.
type Session struct {
	AccessToken          string       `json:"accessToken"`
	AccessTokenExpiresIn int64        `json:"accessTokenExpiresIn"`
	RefreshToken         string       `json:"refreshToken"`
	User                 UserResponse `json:"user"`
}

// NewUserResponse maps a user row to its public representation.
func NewUserResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		AvatarURL:     user.AvatarURL,
		Locale:        user.Locale,
		DefaultRole:   user.DefaultRole,
		AllowedRoles:  user.AllowedRoles,
		EmailVerified: user.EmailVerified,
		IsAnonymous:   user.IsAnonymous,
		MFAEnabled:    user.MFAEnabled,
		CreatedAt:     user.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// SessionService mints sessions, rotates refresh tokens, and revokes them.
type SessionService struct {
	users         UserRepository
	refreshTokens RefreshTokenRepository
	tokenManager  *auth.TokenManager
	pruner        background.Pruner
	logger        *slog.Logger
	auditLogger   *pkglogger.AuditLogger
	refreshExpiry time.Duration
}

// NewSessionService creates a new SessionService
func NewSessionService(
	users UserRepository,
	refreshTokens RefreshTokenRepository,
	tokenManager *auth.TokenManager,
	pruner background.Pruner,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	refreshExpiry time.Duration,
) *SessionService {
	return &SessionService{
		users:         users,
		refreshTokens: refreshTokens,
		tokenManager:  tokenManager,
		pruner:        pruner,
		logger:        logger,
		auditLogger:   auditLogger,
		refreshExpiry: refreshExpiry,
	}
}

// hashRefreshToken produces the stored form of a refresh token value. Raw
// values never touch the database.
func hashRefreshToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// IssueSession mints a fresh access token and refresh token for the user.
func (s *SessionService) IssueSession(ctx context.Context, user *models.User) (*Session, error) {
	accessToken, err := s.tokenManager.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshValue, err := pkgauth.GenerateTokenValue()
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	_, err = s.refreshTokens.Create(ctx, user.ID, hashRefreshToken(refreshValue), time.Now().Add(s.refreshExpiry))
	if err != nil {
		s.logger.Error("failed to store refresh token",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogSessionEvent("session_issued", user.ID, nil)

	return &Session{
		AccessToken:          accessToken,
		AccessTokenExpiresIn: int64(s.tokenManager.AccessTokenExpiry().Seconds()),
		RefreshToken:         refreshValue,
		User:                 NewUserResponse(user),
	}, nil
}

// Refresh exchanges a valid refresh token for a new session. The stored hash
// is rotated in the same conditional update that validates the old value, so
// a replayed token loses the race and is rejected. Each call also gives the
// pruner a chance to clear expired rows.
func (s *SessionService) Refresh(ctx context.Context, refreshValue string) (*Session, error) {
	defer s.pruner.MaybePrune(ctx)

	newValue, err := pkgauth.GenerateTokenValue()
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	userID, err := s.refreshTokens.Rotate(ctx,
		hashRefreshToken(refreshValue), hashRefreshToken(newValue), time.Now().Add(s.refreshExpiry))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogSessionEvent("refresh_rejected", "", nil)
			return nil, models.ErrInvalidRefreshToken
		}
		s.logger.Error("failed to rotate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load user for refresh",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.Disabled {
		// The rotation already happened; drop the rotated token so the
		// disabled account holds no live session material.
		if delErr := s.refreshTokens.DeleteByTokenHash(ctx, hashRefreshToken(newValue)); delErr != nil {
			s.logger.Error("failed to delete refresh token for disabled user",
				slog.String("user_id", userID),
				slog.Any("error", delErr))
		}
		s.auditLogger.LogSessionEvent("refresh_rejected_disabled", userID, nil)
		return nil, models.ErrAccountDisabled
	}

	accessToken, err := s.tokenManager.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogSessionEvent("session_refreshed", userID, nil)

	return &Session{
		AccessToken:          accessToken,
		AccessTokenExpiresIn: int64(s.tokenManager.AccessTokenExpiry().Seconds()),
		RefreshToken:         newValue,
		User:                 NewUserResponse(user),
	}, nil
}

// Revoke invalidates a single refresh token, or every token the user holds
// when all is set. Revoking an unknown token succeeds; the end state is the
// same either way.
func (s *SessionService) Revoke(ctx context.Context, userID, refreshValue string, all bool) error {
	if all {
		if err := s.refreshTokens.DeleteByUserID(ctx, userID); err != nil {
			s.logger.Error("failed to revoke all sessions",
				slog.String("user_id", userID),
				slog.Any("error", err))
			return models.ErrInternalServer
		}
		s.auditLogger.LogSessionEvent("sessions_revoked_all", userID, nil)
		return nil
	}

	if refreshValue == "" {
		return nil
	}

	if err := s.refreshTokens.DeleteByTokenHash(ctx, hashRefreshToken(refreshValue)); err != nil {
		s.logger.Error("failed to revoke session",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogSessionEvent("session_revoked", userID, nil)
	return nil
}

// RevokeAllTx drops every refresh token the user holds inside a caller-owned
// transaction. Password reset uses it so the credential change and the
// session purge commit together.
func (s *SessionService) RevokeAllTx(ctx context.Context, tx pgx.Tx, userID string) error {
	if err := s.refreshTokens.DeleteByUserIDTx(ctx, tx, userID); err != nil {
		s.logger.Error("failed to revoke all sessions",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogSessionEvent("sessions_revoked_all", userID, nil)
	return nil
}
