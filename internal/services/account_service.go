package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/models"
	pkgauth "github.com/verdantlabs/gatekeeper/pkg/auth"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// resendCooldown is the minimum gap between verification mails for one user.
const resendCooldown = time.Minute

// AccountService handles the emailed account flows: password reset, email
// verification, and email change, plus the authenticated password change.
type AccountService struct {
	users     UserRepository
	tickets   *TicketService
	sessions  *SessionService
	validator *CredentialValidator
	mailer    Mailer
	txRunner  TxRunner
	authCfg   config.AuthConfig
	logger    *slog.Logger
	audit     *pkglogger.AuditLogger
}

// NewAccountService creates a new AccountService
func NewAccountService(
	users UserRepository,
	tickets *TicketService,
	sessions *SessionService,
	validator *CredentialValidator,
	mailer Mailer,
	txRunner TxRunner,
	authCfg config.AuthConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *AccountService {
	return &AccountService{
		users:     users,
		tickets:   tickets,
		sessions:  sessions,
		validator: validator,
		mailer:    mailer,
		txRunner:  txRunner,
		authCfg:   authCfg,
		logger:    logger,
		audit:     audit,
	}
}

// RequestPasswordReset emails a reset link. The response is identical whether
// or not the address belongs to an account, so it cannot be used to probe for
// registered emails. Ticket and mail share a transaction.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to load user for password reset", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.Disabled || user.IsAnonymous {
		return nil
	}

	err = s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		ticket, err := s.tickets.IssueTx(ctx, tx, user.ID, models.TicketPurposeResetPassword, s.authCfg.TicketTTL)
		if err != nil {
			return err
		}
		return s.mailer.Send(ctx, TemplateResetPassword, user.Email, user.Locale, map[string]string{
			"ticket":      ticket.Value,
			"displayName": user.DisplayName,
		})
	})
	if err != nil {
		s.logger.Error("failed to dispatch password reset",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// ResetPassword consumes a reset ticket and installs the new password. Every
// refresh token the user holds is revoked in the same transaction, so a
// stolen session does not outlive the credential it was stolen with.
func (s *AccountService) ResetPassword(ctx context.Context, ticketValue, newPassword string) error {
	if err := s.validator.ValidatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	var userID string
	err = s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		userID, err = s.tickets.ConsumeTx(ctx, tx, ticketValue, models.TicketPurposeResetPassword)
		if err != nil {
			return err
		}

		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return models.ErrInternalServer
		}
		if user.Disabled {
			return models.ErrAccountDisabled
		}

		user.PasswordHash = passwordHash
		// Reaching the reset link proves control of the inbox.
		user.EmailVerified = true
		if _, err := s.users.UpdateTx(ctx, tx, userID, user); err != nil {
			return models.ErrInternalServer
		}

		return s.sessions.RevokeAllTx(ctx, tx, userID)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTicket) || errors.Is(err, models.ErrAccountDisabled) {
			return err
		}
		s.logger.Error("failed to reset password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("password_reset", userID, "", nil)
	return nil
}

// ChangePassword sets a new password for an authenticated user after
// verifying the current one. Other sessions stay alive; the user proved the
// credential they are replacing.
func (s *AccountService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load user for password change",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.PasswordHash == "" || pkgauth.ComparePassword(user.PasswordHash, currentPassword) != nil {
		return models.ErrInvalidCredentials
	}

	if err := s.validator.ValidatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	user.PasswordHash = passwordHash
	if _, err := s.users.Update(ctx, userID, user); err != nil {
		s.logger.Error("failed to change password",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("password_changed", userID, "", nil)
	return nil
}

// VerifyEmail consumes a verify-email ticket and marks the account verified.
func (s *AccountService) VerifyEmail(ctx context.Context, ticketValue string) error {
	var userID string

	err := s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		userID, err = s.tickets.ConsumeTx(ctx, tx, ticketValue, models.TicketPurposeVerifyEmail)
		if err != nil {
			return err
		}

		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return models.ErrInternalServer
		}

		user.EmailVerified = true
		if _, err := s.users.UpdateTx(ctx, tx, userID, user); err != nil {
			return models.ErrInternalServer
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTicket) {
			return err
		}
		s.logger.Error("failed to verify email", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("email_verified", userID, "", nil)
	return nil
}

// ResendVerification re-issues the verify-email ticket and mails it again.
// Already-verified and unknown addresses get the same ack as a real resend.
// A per-user cooldown keeps the endpoint from being a mail cannon.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to load user for resend", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.Disabled || user.EmailVerified {
		return nil
	}

	if existing, err := s.tickets.ActiveTicket(ctx, user.ID, models.TicketPurposeVerifyEmail); err == nil {
		if time.Since(existing.CreatedAt) < resendCooldown {
			return nil
		}
	}

	err = s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		ticket, err := s.tickets.IssueTx(ctx, tx, user.ID, models.TicketPurposeVerifyEmail, s.authCfg.TicketTTL)
		if err != nil {
			return err
		}
		return s.mailer.Send(ctx, TemplateVerifyEmail, user.Email, user.Locale, map[string]string{
			"ticket":      ticket.Value,
			"displayName": user.DisplayName,
		})
	})
	if err != nil {
		s.logger.Error("failed to resend verification",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// RequestEmailChange records the desired address on the user row and mails a
// confirmation link to it. The account keeps its current email until the
// ticket sent to the NEW address is consumed, proving the user controls it.
func (s *AccountService) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	newEmail = NormalizeEmail(newEmail)

	if err := s.validator.ValidateEmailAllowed(newEmail); err != nil {
		return err
	}
	if err := s.validator.ValidateEmailAvailable(ctx, newEmail); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load user for email change",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.IsAnonymous {
		return models.ErrForbidden
	}

	err = s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		user.NewEmail = newEmail
		if _, err := s.users.UpdateTx(ctx, tx, userID, user); err != nil {
			return err
		}

		ticket, err := s.tickets.IssueTx(ctx, tx, userID, models.TicketPurposeChangeEmail, s.authCfg.TicketTTL)
		if err != nil {
			return err
		}

		return s.mailer.Send(ctx, TemplateChangeEmail, newEmail, user.Locale, map[string]string{
			"ticket":      ticket.Value,
			"displayName": user.DisplayName,
		})
	})
	if err != nil {
		s.logger.Error("failed to request email change",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("email_change_requested", userID, "", nil)
	return nil
}

// ConfirmEmailChange consumes a change-email ticket and promotes the pending
// address to the account email. The address was proven reachable, so the
// verified flag is set in the same update.
func (s *AccountService) ConfirmEmailChange(ctx context.Context, ticketValue string) error {
	var userID string

	err := s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		userID, err = s.tickets.ConsumeTx(ctx, tx, ticketValue, models.TicketPurposeChangeEmail)
		if err != nil {
			return err
		}

		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return models.ErrInternalServer
		}
		if user.NewEmail == "" {
			return models.ErrInvalidTicket
		}

		user.Email = user.NewEmail
		user.NewEmail = ""
		user.EmailVerified = true
		if _, err := s.users.UpdateTx(ctx, tx, userID, user); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTicket) {
			return err
		}
		if errors.Is(err, models.ErrConflict) {
			// Someone registered the pending address between request and
			// confirmation; the unique constraint wins.
			return models.ErrEmailInUse
		}
		s.logger.Error("failed to confirm email change", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("email_changed", userID, "", nil)
	return nil
}
