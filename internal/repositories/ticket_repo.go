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

// TicketRepository handles single-use ticket data access. Each (user, purpose)
// pair holds at most one row; the unique constraint enforces it.
type TicketRepository struct {
	pool *pgxpool.Pool
}

func NewTicketRepository(db *database.DB) *TicketRepository {
	return &TicketRepository{pool: db.Pool}
}

func (r *TicketRepository) q(tx pgx.Tx) database.Querier {
	if tx != nil {
		return tx
	}
	return r.pool
}

func scanTicketRow(scanner rowScanner) (*models.Ticket, error) {
	var t models.Ticket

	err := scanner.Scan(&t.ID, &t.UserID, &t.Purpose, &t.Value, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &t, nil
}

func (r *TicketRepository) Upsert(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	return r.UpsertTx(ctx, nil, ticket)
}

// UpsertTx persists a ticket as the user's single active ticket for its
// purpose. Issuing a new ticket implicitly invalidates the prior value.
func (r *TicketRepository) UpsertTx(ctx context.Context, tx pgx.Tx, ticket *models.Ticket) (*models.Ticket, error) {
	ticket.ID = uuid.New().String()
	ticket.CreatedAt = time.Now()

	query := `
		INSERT INTO tickets (id, user_id, purpose, value, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, purpose)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
		RETURNING id, user_id, purpose, value, expires_at, created_at
	`

	return scanTicketRow(r.q(tx).QueryRow(ctx, query,
		ticket.ID, ticket.UserID, ticket.Purpose, ticket.Value, ticket.ExpiresAt, ticket.CreatedAt,
	))
}

// GetByValue looks a ticket up without consuming it. Only the MFA login flow
// uses this: a wrong code must leave the ticket valid for retry.
func (r *TicketRepository) GetByValue(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error) {
	query := `
		SELECT id, user_id, purpose, value, expires_at, created_at
		FROM tickets
		WHERE value = $1 AND purpose = $2
	`

	return scanTicketRow(r.pool.QueryRow(ctx, query, value, purpose))
}

// GetByUserAndPurpose returns the user's active ticket for a purpose, used
// for resend cooldowns.
func (r *TicketRepository) GetByUserAndPurpose(ctx context.Context, userID string, purpose models.TicketPurpose) (*models.Ticket, error) {
	query := `
		SELECT id, user_id, purpose, value, expires_at, created_at
		FROM tickets
		WHERE user_id = $1 AND purpose = $2
	`

	return scanTicketRow(r.pool.QueryRow(ctx, query, userID, purpose))
}

func (r *TicketRepository) Consume(ctx context.Context, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error) {
	return r.ConsumeTx(ctx, nil, value, purpose, newValue, newExpiresAt)
}

// ConsumeTx atomically consumes a ticket by rotating its value in a single
// conditional update. A concurrent second consumption of the same value
// matches zero rows; consumed, expired, and absent are indistinguishable.
func (r *TicketRepository) ConsumeTx(ctx context.Context, tx pgx.Tx, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error) {
	query := `
		UPDATE tickets
		SET value = $3, expires_at = $4, created_at = now()
		WHERE value = $1 AND purpose = $2 AND expires_at > now()
		RETURNING user_id
	`

	var userID string
	err := r.q(tx).QueryRow(ctx, query, value, purpose, newValue, newExpiresAt).Scan(&userID)
	if err != nil {
		return "", database.MapPostgresError(err)
	}

	return userID, nil
}

// DeleteExpired removes tickets whose expiry has long passed. Rotated-away
// tickets age out here too; they are unreachable the moment they rotate.
func (r *TicketRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM tickets WHERE expires_at < now() - INTERVAL '7 days'`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
