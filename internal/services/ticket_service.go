package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/verdantlabs/gatekeeper/internal/models"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// TicketRepository defines the interface for ticket data access
type TicketRepository interface {
	Upsert(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
	UpsertTx(ctx context.Context, tx pgx.Tx, ticket *models.Ticket) (*models.Ticket, error)
	GetByValue(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error)
	GetByUserAndPurpose(ctx context.Context, userID string, purpose models.TicketPurpose) (*models.Ticket, error)
	Consume(ctx context.Context, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error)
	ConsumeTx(ctx context.Context, tx pgx.Tx, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error)
}

// TxRunner runs a function inside a database transaction. Flows that consume
// a ticket and mutate the user row use it so both commit or neither does.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// TicketService is the ticket engine: it issues, consumes, and rotates
// single-use purpose-scoped tickets.
type TicketService struct {
	repo        TicketRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	rotationTTL time.Duration // expiry window given to the rotated replacement
}

// NewTicketService creates a new TicketService
func NewTicketService(repo TicketRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, rotationTTL time.Duration) *TicketService {
	return &TicketService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
		rotationTTL: rotationTTL,
	}
}

// NewTicketValue generates a purpose-prefixed high-entropy ticket value.
func NewTicketValue(purpose models.TicketPurpose) string {
	return fmt.Sprintf("%s:%s", purpose, uuid.New().String())
}

// Issue persists a new ticket as the user's active ticket for the purpose.
func (s *TicketService) Issue(ctx context.Context, userID string, purpose models.TicketPurpose, ttl time.Duration) (*models.Ticket, error) {
	return s.IssueTx(ctx, nil, userID, purpose, ttl)
}

// IssueTx issues inside a caller-owned transaction so a failed flow (e.g.
// mail dispatch) rolls the ticket back and a retry re-issues a fresh one.
func (s *TicketService) IssueTx(ctx context.Context, tx pgx.Tx, userID string, purpose models.TicketPurpose, ttl time.Duration) (*models.Ticket, error) {
	ticket := &models.Ticket{
		UserID:    userID,
		Purpose:   purpose,
		Value:     NewTicketValue(purpose),
		ExpiresAt: time.Now().Add(ttl),
	}

	issued, err := s.repo.UpsertTx(ctx, tx, ticket)
	if err != nil {
		s.logger.Error("failed to issue ticket",
			slog.String("user_id", userID),
			slog.String("purpose", string(purpose)),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogTicketEvent("ticket_issued", userID, string(purpose), true)
	return issued, nil
}

// Consume atomically spends a ticket and returns the owning user id.
func (s *TicketService) Consume(ctx context.Context, value string, purpose models.TicketPurpose) (string, error) {
	return s.ConsumeTx(ctx, nil, value, purpose)
}

// ConsumeTx spends a ticket inside a caller-owned transaction. The rotation
// happens in the same conditional update that matches the old value, so a
// second consumption of the same value always fails, concurrent or not.
// Absent, expired, and wrong-purpose all map to the same error.
func (s *TicketService) ConsumeTx(ctx context.Context, tx pgx.Tx, value string, purpose models.TicketPurpose) (string, error) {
	userID, err := s.repo.ConsumeTx(ctx, tx, value, purpose, NewTicketValue(purpose), time.Now().Add(s.rotationTTL))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogTicketEvent("ticket_rejected", "", string(purpose), false)
			return "", models.ErrInvalidTicket
		}
		s.logger.Error("failed to consume ticket",
			slog.String("purpose", string(purpose)),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.auditLogger.LogTicketEvent("ticket_consumed", userID, string(purpose), true)
	return userID, nil
}

// Peek looks a ticket up without spending it. Only the MFA login flow uses
// this; a wrong TOTP code must leave the ticket usable for a retry.
func (s *TicketService) Peek(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error) {
	ticket, err := s.repo.GetByValue(ctx, value, purpose)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidTicket
		}
		s.logger.Error("failed to look up ticket",
			slog.String("purpose", string(purpose)),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if ticket.IsExpired() {
		return nil, models.ErrInvalidTicket
	}

	return ticket, nil
}

// ActiveTicket returns the user's current ticket for a purpose, or
// ErrNotFound. Used for resend cooldowns.
func (s *TicketService) ActiveTicket(ctx context.Context, userID string, purpose models.TicketPurpose) (*models.Ticket, error) {
	return s.repo.GetByUserAndPurpose(ctx, userID, purpose)
}
