package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/models"
	pkgauth "github.com/verdantlabs/gatekeeper/pkg/auth"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// RegisterInput carries the caller-supplied fields for a new account.
type RegisterInput struct {
	Email        string
	Password     string
	DisplayName  string
	AvatarURL    string
	Locale       string
	DefaultRole  string
	AllowedRoles []string
}

// RegisterResult is either a live session (verification not required) or a
// pending marker meaning a verification email is on its way.
type RegisterResult struct {
	Session             *Session
	PendingVerification bool
	User                UserResponse
}

// RegistrationService creates accounts: email/password registration,
// anonymous accounts, and the upgrade path between them.
type RegistrationService struct {
	users     UserRepository
	tickets   *TicketService
	sessions  *SessionService
	validator *CredentialValidator
	mailer    Mailer
	txRunner  TxRunner
	authCfg   config.AuthConfig
	features  config.FeaturesConfig
	logger    *slog.Logger
	audit     *pkglogger.AuditLogger
}

// NewRegistrationService creates a new RegistrationService
func NewRegistrationService(
	users UserRepository,
	tickets *TicketService,
	sessions *SessionService,
	validator *CredentialValidator,
	mailer Mailer,
	txRunner TxRunner,
	authCfg config.AuthConfig,
	features config.FeaturesConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *RegistrationService {
	return &RegistrationService{
		users:     users,
		tickets:   tickets,
		sessions:  sessions,
		validator: validator,
		mailer:    mailer,
		txRunner:  txRunner,
		authCfg:   authCfg,
		features:  features,
		logger:    logger,
		audit:     audit,
	}
}

// defaultDisplayName falls back to the local part of the email address.
func defaultDisplayName(displayName, email string) string {
	if displayName != "" {
		return displayName
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// Register creates an email/password account. All policy gates run before any
// row is written. When verification is required, the user row, the
// verify-email ticket, and the mail dispatch commit or roll back together;
// a failed send means no half-registered account and a clean retry.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	email := NormalizeEmail(input.Email)

	if err := s.validator.ValidateEmailAllowed(email); err != nil {
		return nil, err
	}
	if err := s.validator.ValidatePassword(input.Password); err != nil {
		return nil, err
	}
	defaultRole, allowedRoles, err := s.validator.ValidateRoles(input.DefaultRole, input.AllowedRoles)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateEmailAvailable(ctx, email); err != nil {
		return nil, err
	}

	passwordHash, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	locale := input.Locale
	if locale == "" {
		locale = s.features.DefaultLocale
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  defaultDisplayName(input.DisplayName, email),
		AvatarURL:    input.AvatarURL,
		Locale:       locale,
		DefaultRole:  defaultRole,
		AllowedRoles: allowedRoles,
	}

	if !s.features.RequireEmailVerification {
		created, err := s.users.Create(ctx, user)
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				return nil, models.ErrEmailInUse
			}
			s.logger.Error("failed to create user", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.audit.LogAccountAction("user_registered", created.ID, "", nil)

		session, err := s.sessions.IssueSession(ctx, created)
		if err != nil {
			return nil, err
		}
		return &RegisterResult{Session: session, User: session.User}, nil
	}

	var created *models.User
	err = s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		created, err = s.users.CreateTx(ctx, tx, user)
		if err != nil {
			return err
		}

		ticket, err := s.tickets.IssueTx(ctx, tx, created.ID, models.TicketPurposeVerifyEmail, s.authCfg.TicketTTL)
		if err != nil {
			return err
		}

		return s.mailer.Send(ctx, TemplateVerifyEmail, created.Email, created.Locale, map[string]string{
			"ticket":      ticket.Value,
			"displayName": created.DisplayName,
		})
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrEmailInUse
		}
		s.logger.Error("failed to register user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAccountAction("user_registered", created.ID, "", map[string]string{
		"pending_verification": "true",
	})

	return &RegisterResult{PendingVerification: true, User: NewUserResponse(created)}, nil
}

// SignInAnonymous creates a throwaway account with the anonymous role and
// returns a session for it. Gated by configuration.
func (s *RegistrationService) SignInAnonymous(ctx context.Context, displayName, locale string) (*Session, error) {
	if !s.features.AnonymousUsersEnabled {
		return nil, models.ErrAnonymousDisabled
	}

	if displayName == "" {
		displayName = "Anonymous User"
	}
	if locale == "" {
		locale = s.features.DefaultLocale
	}

	user := &models.User{
		DisplayName:  displayName,
		Locale:       locale,
		DefaultRole:  s.features.AnonymousRole,
		AllowedRoles: []string{s.features.AnonymousRole},
		IsAnonymous:  true,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		s.logger.Error("failed to create anonymous user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAccountAction("anonymous_user_created", created.ID, "", nil)

	return s.sessions.IssueSession(ctx, created)
}

// Deanonymize upgrades an anonymous account to a real one in place. The user
// id is stable across the upgrade, so everything keyed on it survives. Roles
// are reassigned from the registerable defaults; the anonymous role does not
// carry over. When verification is required, the account cannot sign in with
// the new credentials until the emailed ticket is consumed.
func (s *RegistrationService) Deanonymize(ctx context.Context, userID, email, password string) (*RegisterResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load user for deanonymization",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.IsAnonymous {
		return nil, models.ErrNotAnonymous
	}

	email = NormalizeEmail(email)

	if err := s.validator.ValidateEmailAllowed(email); err != nil {
		return nil, err
	}
	if err := s.validator.ValidatePassword(password); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateEmailAvailable(ctx, email); err != nil {
		return nil, err
	}

	passwordHash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user.Email = email
	user.PasswordHash = passwordHash
	user.IsAnonymous = false
	user.EmailVerified = false
	user.DefaultRole = s.features.DefaultRole
	user.AllowedRoles = append([]string{}, s.features.AllowedRoles...)

	if !s.features.RequireEmailVerification {
		updated, err := s.users.Update(ctx, userID, user)
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				return nil, models.ErrEmailInUse
			}
			s.logger.Error("failed to deanonymize user",
				slog.String("user_id", userID),
				slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.audit.LogAccountAction("user_deanonymized", userID, "", nil)

		session, err := s.sessions.IssueSession(ctx, updated)
		if err != nil {
			return nil, err
		}
		return &RegisterResult{Session: session, User: session.User}, nil
	}

	var updated *models.User
	err = s.txRunner.WithTransaction(ctx, func(tx pgx.Tx) error {
		updated, err = s.users.UpdateTx(ctx, tx, userID, user)
		if err != nil {
			return err
		}

		ticket, err := s.tickets.IssueTx(ctx, tx, userID, models.TicketPurposeVerifyEmail, s.authCfg.TicketTTL)
		if err != nil {
			return err
		}

		return s.mailer.Send(ctx, TemplateVerifyEmail, updated.Email, updated.Locale, map[string]string{
			"ticket":      ticket.Value,
			"displayName": updated.DisplayName,
		})
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrEmailInUse
		}
		s.logger.Error("failed to deanonymize user",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAccountAction("user_deanonymized", userID, "", map[string]string{
		"pending_verification": "true",
	})

	return &RegisterResult{PendingVerification: true, User: NewUserResponse(updated)}, nil
}
