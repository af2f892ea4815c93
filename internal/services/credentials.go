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
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	CreateTx(ctx context.Context, tx pgx.Tx, user *models.User) (*models.User, error)
	Update(ctx context.Context, id string, user *models.User) (*models.User, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, id string, user *models.User) (*models.User, error)
}

// CredentialValidator enforces the policy gates that run before any user row
// is created or mutated: password strength, role legality, email
// availability, and the registration allow-list.
type CredentialValidator struct {
	users    UserRepository
	features config.FeaturesConfig
	logger   *slog.Logger
}

// NewCredentialValidator creates a new CredentialValidator
func NewCredentialValidator(users UserRepository, features config.FeaturesConfig, logger *slog.Logger) *CredentialValidator {
	return &CredentialValidator{
		users:    users,
		features: features,
		logger:   logger,
	}
}

// ValidatePassword rejects compromised or weak passwords. It must be called
// before hashing.
func (v *CredentialValidator) ValidatePassword(password string) error {
	if err := pkgauth.ValidatePassword(password); err != nil {
		return models.ErrWeakPassword
	}
	return nil
}

// ValidateRoles applies configured defaults and enforces
// defaultRole ∈ allowedRoles ⊆ system allowed roles. This is a
// privilege-escalation control and runs before any row is written.
func (v *CredentialValidator) ValidateRoles(defaultRole string, allowedRoles []string) (string, []string, error) {
	if defaultRole == "" {
		defaultRole = v.features.DefaultRole
	}
	if len(allowedRoles) == 0 {
		allowedRoles = append([]string{}, v.features.AllowedRoles...)
	}

	defaultFound := false
	for _, role := range allowedRoles {
		if role == defaultRole {
			defaultFound = true
		}
		systemAllowed := false
		for _, sys := range v.features.AllowedRoles {
			if sys == role {
				systemAllowed = true
				break
			}
		}
		if !systemAllowed {
			v.logger.Info("role validation failed: role not allowed by system",
				slog.String("role", role))
			return "", nil, models.ErrInvalidRoles
		}
	}

	if !defaultFound {
		v.logger.Info("role validation failed: default role not in allowed roles",
			slog.String("default_role", defaultRole))
		return "", nil, models.ErrInvalidRoles
	}

	return defaultRole, allowedRoles, nil
}

// ValidateEmailAllowed enforces the registration allow-list when configured.
func (v *CredentialValidator) ValidateEmailAllowed(email string) error {
	if len(v.features.AllowedEmails) == 0 {
		return nil
	}
	for _, allowed := range v.features.AllowedEmails {
		if strings.EqualFold(allowed, email) {
			return nil
		}
	}
	return models.ErrEmailNotAllowed
}

// ValidateEmailAvailable checks for an existing user with the email. The
// users.email unique constraint re-checks at commit time, closing the race
// between this check and the insert.
func (v *CredentialValidator) ValidateEmailAvailable(ctx context.Context, email string) error {
	_, err := v.users.GetByEmail(ctx, email)
	if err == nil {
		return models.ErrEmailInUse
	}
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}

	v.logger.Error("failed to check email availability", slog.Any("error", err))
	return models.ErrInternalServer
}

// NormalizeEmail lowercases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
