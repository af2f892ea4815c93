package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/verdantlabs/gatekeeper/internal/database"
	"github.com/verdantlabs/gatekeeper/internal/models"
)

const userColumns = `id, email, password_hash, display_name, avatar_url, locale, default_role, allowed_roles, disabled, email_verified, is_anonymous, totp_secret, mfa_enabled, new_email, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

func (r *UserRepository) q(tx pgx.Tx) database.Querier {
	if tx != nil {
		return tx
	}
	return r.pool
}

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var email, passwordHash, totpSecret, newEmail *string

	err := scanner.Scan(
		&user.ID, &email, &passwordHash, &user.DisplayName,
		&user.AvatarURL, &user.Locale, &user.DefaultRole, pq.Array(&user.AllowedRoles),
		&user.Disabled, &user.EmailVerified, &user.IsAnonymous,
		&totpSecret, &user.MFAEnabled, &newEmail,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if email != nil {
		user.Email = *email
	}
	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	if totpSecret != nil {
		user.TOTPSecret = *totpSecret
	}
	if newEmail != nil {
		user.NewEmail = *newEmail
	}

	return &user, nil
}

// nullable maps the empty string to NULL for optional text columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)

	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	return r.CreateTx(ctx, nil, user)
}

// CreateTx inserts a user row, optionally inside a caller-owned transaction.
// The email unique constraint is the commit-time availability re-check; a
// violation surfaces as ErrConflict.
func (r *UserRepository) CreateTx(ctx context.Context, tx pgx.Tx, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Locale == "" {
		user.Locale = "en"
	}

	query := fmt.Sprintf(`
		INSERT INTO users (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING %s
	`, userColumns, userColumns)

	return scanUserRow(r.q(tx).QueryRow(ctx, query,
		user.ID, nullable(user.Email), nullable(user.PasswordHash), user.DisplayName,
		user.AvatarURL, user.Locale, user.DefaultRole, pq.Array(user.AllowedRoles),
		user.Disabled, user.EmailVerified, user.IsAnonymous,
		nullable(user.TOTPSecret), user.MFAEnabled, nullable(user.NewEmail),
		user.CreatedAt, user.UpdatedAt,
	))
}

func (r *UserRepository) Update(ctx context.Context, id string, user *models.User) (*models.User, error) {
	return r.UpdateTx(ctx, nil, id, user)
}

// UpdateTx writes every mutable column. Flows that must commit together with
// a ticket consumption pass the consuming transaction.
func (r *UserRepository) UpdateTx(ctx context.Context, tx pgx.Tx, id string, user *models.User) (*models.User, error) {
	user.UpdatedAt = time.Now()

	query := fmt.Sprintf(`
		UPDATE users
		SET email = $1, password_hash = $2, display_name = $3, avatar_url = $4,
		    locale = $5, default_role = $6, allowed_roles = $7, disabled = $8,
		    email_verified = $9, is_anonymous = $10, totp_secret = $11,
		    mfa_enabled = $12, new_email = $13, updated_at = $14
		WHERE id = $15
		RETURNING %s
	`, userColumns)

	return scanUserRow(r.q(tx).QueryRow(ctx, query,
		nullable(user.Email), nullable(user.PasswordHash), user.DisplayName, user.AvatarURL,
		user.Locale, user.DefaultRole, pq.Array(user.AllowedRoles), user.Disabled,
		user.EmailVerified, user.IsAnonymous, nullable(user.TOTPSecret),
		user.MFAEnabled, nullable(user.NewEmail), user.UpdatedAt, id,
	))
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM users WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
