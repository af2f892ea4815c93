package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/models"
	pkgauth "github.com/verdantlabs/gatekeeper/pkg/auth"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// LoginResult carries either a full session or, when the account has MFA
// enabled, a short-lived ticket the client must redeem with a TOTP code.
type LoginResult struct {
	Session   *Session
	MFATicket *models.Ticket
}

// AuthService handles password and magic-link sign-in.
type AuthService struct {
	users    UserRepository
	tickets  *TicketService
	sessions *SessionService
	mailer   Mailer
	txRunner TxRunner
	authCfg  config.AuthConfig
	features config.FeaturesConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	tickets *TicketService,
	sessions *SessionService,
	mailer Mailer,
	txRunner TxRunner,
	authCfg config.AuthConfig,
	features config.FeaturesConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:    users,
		tickets:  tickets,
		sessions: sessions,
		mailer:   mailer,
		txRunner: txRunner,
		authCfg:  authCfg,
		features: features,
		logger:   logger,
		audit:    audit,
	}
}

// checkSignInAllowed applies the account gates shared by every sign-in path.
func (s *AuthService) checkSignInAllowed(user *models.User) error {
	if user.Disabled {
		return models.ErrAccountDisabled
	}
	if s.features.RequireEmailVerification && !user.EmailVerified && !user.IsAnonymous {
		return models.ErrEmailNotVerified
	}
	return nil
}

// Login verifies an email/password pair. Unknown email and wrong password
// collapse into the same error so responses do not reveal which accounts
// exist. MFA-enabled accounts get a ticket instead of a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn a hash comparison so the miss costs the same as a mismatch.
			_ = pkgauth.ComparePassword(pkgauth.DummyHash, password)
			s.audit.LogAuthAttempt(pkglogger.AuditEvent{EventType: "login", Success: false, FailureReason: "unknown_email"})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to load user for login", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.PasswordHash == "" || pkgauth.ComparePassword(user.PasswordHash, password) != nil {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{EventType: "login", Success: false, FailureReason: "bad_password"})
		return nil, models.ErrInvalidCredentials
	}

	if err := s.checkSignInAllowed(user); err != nil {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{EventType: "login", Success: false, FailureReason: "account_gate"})
		return nil, err
	}

	if user.MFAEnabled {
		ticket, err := s.tickets.Issue(ctx, user.ID, models.TicketPurposeMFA, s.authCfg.MFATicketTTL)
		if err != nil {
			return nil, err
		}
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{EventType: "mfa_required", Success: true})
		return &LoginResult{MFATicket: ticket}, nil
	}

	session, err := s.sessions.IssueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{EventType: "password", Success: true})
	return &LoginResult{Session: session}, nil
}

// RequestMagicLink emails a single-use sign-in link. The response is the same
// whether or not the address belongs to an account; ticket issuance and mail
// dispatch share a transaction so a failed send leaves no orphaned ticket.
func (s *AuthService) RequestMagicLink(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.LogAuthAttempt(pkglogger.AuditEvent{EventType: "login", Success: false, FailureReason: "magic_link_unknown_email"})
			return nil
		}
		s.logger.Error("failed to load user for magic link", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.Disabled || user.IsAnonymous {
		return nil
	}

	err = s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		ticket, err := s.tickets.IssueTx(ctx, tx, user.ID, models.TicketPurposeMagicLink, s.authCfg.MagicLinkTTL)
		if err != nil {
			return err
		}
		return s.mailer.Send(ctx, TemplateMagicLink, user.Email, user.Locale, map[string]string{
			"ticket":      ticket.Value,
			"displayName": user.DisplayName,
		})
	})
	if err != nil {
		s.logger.Error("failed to dispatch magic link",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// SignInWithMagicLink redeems a magic-link ticket for a session. Proving
// control of the inbox also verifies the email, in the same transaction that
// spends the ticket.
func (s *AuthService) SignInWithMagicLink(ctx context.Context, ticketValue string) (*Session, error) {
	var user *models.User

	err := s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		userID, err := s.tickets.ConsumeTx(ctx, tx, ticketValue, models.TicketPurposeMagicLink)
		if err != nil {
			return err
		}

		user, err = s.users.GetByID(ctx, userID)
		if err != nil {
			s.logger.Error("failed to load user for magic link sign-in",
				slog.String("user_id", userID),
				slog.Any("error", err))
			return models.ErrInternalServer
		}

		if user.Disabled {
			return models.ErrAccountDisabled
		}

		if !user.EmailVerified {
			user.EmailVerified = true
			user, err = s.users.UpdateTx(ctx, tx, user.ID, user)
			if err != nil {
				s.logger.Error("failed to mark email verified",
					slog.String("user_id", user.ID),
					slog.Any("error", err))
				return models.ErrInternalServer
			}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTicket) || errors.Is(err, models.ErrAccountDisabled) {
			return nil, err
		}
		return nil, models.ErrInternalServer
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{EventType: "magic_link", Success: true})
	return s.sessions.IssueSession(ctx, user)
}
