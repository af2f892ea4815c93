package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/models"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// MFAService handles TOTP enrollment, activation, and the second step of an
// MFA login. When the feature is disabled its endpoints behave as if they do
// not exist.
type MFAService struct {
	users       UserRepository
	tickets     *TicketService
	sessions    *SessionService
	totpManager *auth.TOTPManager
	features    config.FeaturesConfig
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
}

// NewMFAService creates a new MFAService
func NewMFAService(
	users UserRepository,
	tickets *TicketService,
	sessions *SessionService,
	totpManager *auth.TOTPManager,
	features config.FeaturesConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *MFAService {
	return &MFAService{
		users:       users,
		tickets:     tickets,
		sessions:    sessions,
		totpManager: totpManager,
		features:    features,
		logger:      logger,
		audit:       audit,
	}
}

// GenerateChallenge starts TOTP enrollment for an authenticated user. The
// secret is stored encrypted on the user row immediately, but MFA stays off
// until Activate proves the authenticator was configured.
func (s *MFAService) GenerateChallenge(ctx context.Context, userID string) (*auth.Enrollment, error) {
	if !s.features.MFAEnabled {
		return nil, models.ErrMFADisabled
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load user for MFA enrollment",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.IsAnonymous || user.Email == "" {
		return nil, models.ErrForbidden
	}

	enrollment, err := s.totpManager.GenerateEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP enrollment",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	encrypted, err := s.totpManager.EncryptSecret(enrollment.Secret)
	if err != nil {
		s.logger.Error("failed to encrypt TOTP secret",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Re-enrollment overwrites a prior pending secret; MFAEnabled is only
	// cleared by an explicit disable, never by starting a new enrollment.
	user.TOTPSecret = encrypted
	if _, err := s.users.Update(ctx, userID, user); err != nil {
		s.logger.Error("failed to store TOTP secret",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAccountAction("mfa_enrollment_started", userID, "", nil)
	return enrollment, nil
}

// Activate turns MFA on after the user proves the authenticator works by
// submitting a valid code for the pending secret.
func (s *MFAService) Activate(ctx context.Context, userID, code string) error {
	if !s.features.MFAEnabled {
		return models.ErrMFADisabled
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load user for MFA activation",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.TOTPSecret == "" {
		return models.ErrBadRequest
	}

	secret, err := s.totpManager.DecryptSecret(user.TOTPSecret)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, err := s.totpManager.ValidateCode(secret, code)
	if err != nil || !valid {
		s.audit.LogAccountAction("mfa_activation_failed", userID, "", nil)
		return models.ErrInvalidMFACode
	}

	user.MFAEnabled = true
	if _, err := s.users.Update(ctx, userID, user); err != nil {
		s.logger.Error("failed to enable MFA",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("mfa_activated", userID, "", nil)
	return nil
}

// Deactivate turns MFA off after a final valid code. The stored secret is
// cleared so a later re-enrollment starts from scratch.
func (s *MFAService) Deactivate(ctx context.Context, userID, code string) error {
	if !s.features.MFAEnabled {
		return models.ErrMFADisabled
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load user for MFA deactivation",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !user.MFAEnabled || user.TOTPSecret == "" {
		return models.ErrBadRequest
	}

	secret, err := s.totpManager.DecryptSecret(user.TOTPSecret)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, err := s.totpManager.ValidateCode(secret, code)
	if err != nil || !valid {
		return models.ErrInvalidMFACode
	}

	user.MFAEnabled = false
	user.TOTPSecret = ""
	if _, err := s.users.Update(ctx, userID, user); err != nil {
		s.logger.Error("failed to disable MFA",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("mfa_deactivated", userID, "", nil)
	return nil
}

// VerifyLogin completes an MFA login. The ticket is only peeked while the
// code is checked; a wrong code leaves it valid for a retry, and only a
// correct code consumes it. Two concurrent correct submissions race on the
// consume and exactly one wins a session.
func (s *MFAService) VerifyLogin(ctx context.Context, ticketValue, code string) (*Session, error) {
	if !s.features.MFAEnabled {
		return nil, models.ErrMFADisabled
	}

	ticket, err := s.tickets.Peek(ctx, ticketValue, models.TicketPurposeMFA)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, ticket.UserID)
	if err != nil {
		s.logger.Error("failed to load user for MFA login",
			slog.String("user_id", ticket.UserID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.Disabled {
		return nil, models.ErrAccountDisabled
	}
	if !user.MFAEnabled || user.TOTPSecret == "" {
		return nil, models.ErrInvalidTicket
	}

	secret, err := s.totpManager.DecryptSecret(user.TOTPSecret)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	valid, err := s.totpManager.ValidateCode(secret, code)
	if err != nil || !valid {
		s.audit.LogAccountAction("mfa_login_failed", user.ID, "", nil)
		return nil, models.ErrInvalidMFACode
	}

	if _, err := s.tickets.Consume(ctx, ticketValue, models.TicketPurposeMFA); err != nil {
		return nil, err
	}

	s.audit.LogAccountAction("mfa_login_succeeded", user.ID, "", nil)
	return s.sessions.IssueSession(ctx, user)
}
