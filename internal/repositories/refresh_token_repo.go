package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/verdantlabs/gatekeeper/internal/database"
	"github.com/verdantlabs/gatekeeper/internal/models"
)

// RefreshTokenRepository handles refresh token data access. Only SHA-256
// hashes of token values are stored.
type RefreshTokenRepository struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: db.Pool}
}

func (r *RefreshTokenRepository) q(tx pgx.Tx) database.Querier {
	if tx != nil {
		return tx
	}
	return r.pool
}

func scanRefreshTokenRow(scanner rowScanner) (*models.RefreshToken, error) {
	var t models.RefreshToken

	err := scanner.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &t, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error) {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, token_hash, expires_at, created_at
	`

	return scanRefreshTokenRow(r.pool.QueryRow(ctx, query,
		uuid.New().String(), userID, tokenHash, expiresAt, time.Now(),
	))
}

func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	return scanRefreshTokenRow(r.pool.QueryRow(ctx, query, tokenHash))
}

// Rotate swaps the stored hash for a new one in a single conditional update.
// This is the linearization point of Refresh: of two concurrent calls holding
// the same token, exactly one matches the old hash.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash, newHash string, newExpiresAt time.Time) (string, error) {
	query := `
		UPDATE refresh_tokens
		SET token_hash = $2, expires_at = $3
		WHERE token_hash = $1 AND expires_at > now()
		RETURNING user_id
	`

	var userID string
	err := r.pool.QueryRow(ctx, query, oldHash, newHash, newExpiresAt).Scan(&userID)
	if err != nil {
		return "", database.MapPostgresError(err)
	}

	return userID, nil
}

// DeleteByTokenHash removes a single token. Deleting an absent token is not
// an error; revocation is idempotent.
func (r *RefreshTokenRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	query := `DELETE FROM refresh_tokens WHERE token_hash = $1`

	_, err := r.pool.Exec(ctx, query, tokenHash)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *RefreshTokenRepository) DeleteByUserID(ctx context.Context, userID string) error {
	return r.DeleteByUserIDTx(ctx, nil, userID)
}

// DeleteByUserIDTx removes every token a user holds ("sign out everywhere").
func (r *RefreshTokenRepository) DeleteByUserIDTx(ctx context.Context, tx pgx.Tx, userID string) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`

	_, err := r.q(tx).Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// DeleteExpired removes expired tokens; called opportunistically by the pruner.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < now()`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
