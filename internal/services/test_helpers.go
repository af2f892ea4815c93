package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/models"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// Test helpers and mock implementations for service tests.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

func testFeatures() config.FeaturesConfig {
	return config.FeaturesConfig{
		RequireEmailVerification: true,
		MFAEnabled:               true,
		AnonymousUsersEnabled:    true,
		DefaultRole:              "user",
		AllowedRoles:             []string{"user", "me"},
		AnonymousRole:            "anonymous",
		DefaultLocale:            "en",
	}
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:          "test-secret-key-for-testing-only",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 30 * 24 * time.Hour,
		TicketTTL:          time.Hour,
		MagicLinkTTL:       time.Hour,
		MFATicketTTL:       5 * time.Minute,
	}
}

// NewTestUser creates a verified email/password user for tests.
func NewTestUser() *models.User {
	now := time.Now()
	return &models.User{
		ID:            uuid.New().String(),
		Email:         "test@example.com",
		PasswordHash:  "$2a$14$wHGt0N0vMYXYkcDSXSu4e.9He9cXvMDiyxkwHFW2i0Y2C5FYlkVy6",
		DisplayName:   "Test User",
		Locale:        "en",
		DefaultRole:   "user",
		AllowedRoles:  []string{"user", "me"},
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// MockUserRepository implements UserRepository with function fields
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateFunc     func(ctx context.Context, id string, user *models.User) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	created := *user
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	return &created, nil
}

func (m *MockUserRepository) CreateTx(ctx context.Context, tx pgx.Tx, user *models.User) (*models.User, error) {
	return m.Create(ctx, user)
}

func (m *MockUserRepository) Update(ctx context.Context, id string, user *models.User) (*models.User, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, user)
	}
	updated := *user
	updated.ID = id
	updated.UpdatedAt = time.Now()
	return &updated, nil
}

func (m *MockUserRepository) UpdateTx(ctx context.Context, tx pgx.Tx, id string, user *models.User) (*models.User, error) {
	return m.Update(ctx, id, user)
}

// MockTicketRepository implements TicketRepository with function fields
type MockTicketRepository struct {
	UpsertFunc              func(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
	GetByValueFunc          func(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error)
	GetByUserAndPurposeFunc func(ctx context.Context, userID string, purpose models.TicketPurpose) (*models.Ticket, error)
	ConsumeFunc             func(ctx context.Context, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error)
}

func (m *MockTicketRepository) Upsert(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, ticket)
	}
	created := *ticket
	created.ID = uuid.New().String()
	created.CreatedAt = time.Now()
	return &created, nil
}

func (m *MockTicketRepository) UpsertTx(ctx context.Context, tx pgx.Tx, ticket *models.Ticket) (*models.Ticket, error) {
	return m.Upsert(ctx, ticket)
}

func (m *MockTicketRepository) GetByValue(ctx context.Context, value string, purpose models.TicketPurpose) (*models.Ticket, error) {
	if m.GetByValueFunc != nil {
		return m.GetByValueFunc(ctx, value, purpose)
	}
	return nil, models.ErrNotFound
}

func (m *MockTicketRepository) GetByUserAndPurpose(ctx context.Context, userID string, purpose models.TicketPurpose) (*models.Ticket, error) {
	if m.GetByUserAndPurposeFunc != nil {
		return m.GetByUserAndPurposeFunc(ctx, userID, purpose)
	}
	return nil, models.ErrNotFound
}

func (m *MockTicketRepository) Consume(ctx context.Context, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, value, purpose, newValue, newExpiresAt)
	}
	return "", models.ErrNotFound
}

func (m *MockTicketRepository) ConsumeTx(ctx context.Context, tx pgx.Tx, value string, purpose models.TicketPurpose, newValue string, newExpiresAt time.Time) (string, error) {
	return m.Consume(ctx, value, purpose, newValue, newExpiresAt)
}

// MockRefreshTokenRepository implements RefreshTokenRepository with function fields
type MockRefreshTokenRepository struct {
	CreateFunc            func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error)
	RotateFunc            func(ctx context.Context, oldHash, newHash string, newExpiresAt time.Time) (string, error)
	DeleteByTokenHashFunc func(ctx context.Context, tokenHash string) error
	DeleteByUserIDFunc    func(ctx context.Context, userID string) error
}

func (m *MockRefreshTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, tokenHash, expiresAt)
	}
	return &models.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockRefreshTokenRepository) Rotate(ctx context.Context, oldHash, newHash string, newExpiresAt time.Time) (string, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, oldHash, newHash, newExpiresAt)
	}
	return "", models.ErrNotFound
}

func (m *MockRefreshTokenRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if m.DeleteByTokenHashFunc != nil {
		return m.DeleteByTokenHashFunc(ctx, tokenHash)
	}
	return nil
}

func (m *MockRefreshTokenRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if m.DeleteByUserIDFunc != nil {
		return m.DeleteByUserIDFunc(ctx, userID)
	}
	return nil
}

func (m *MockRefreshTokenRepository) DeleteByUserIDTx(ctx context.Context, tx pgx.Tx, userID string) error {
	return m.DeleteByUserID(ctx, userID)
}

// MockMailer implements Mailer with a function field
type MockMailer struct {
	SendFunc func(ctx context.Context, template TemplateID, recipient, locale string, locals map[string]string) error

	Sent []SentMail
}

// SentMail records one dispatched message for assertions.
type SentMail struct {
	Template  TemplateID
	Recipient string
	Locals    map[string]string
}

func (m *MockMailer) Send(ctx context.Context, template TemplateID, recipient, locale string, locals map[string]string) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, template, recipient, locale, locals); err != nil {
			return err
		}
	}
	m.Sent = append(m.Sent, SentMail{Template: template, Recipient: recipient, Locals: locals})
	return nil
}

// MockTxRunner runs the transaction body with a nil tx, which repositories
// and mocks treat as pool access.
type MockTxRunner struct {
	WithTransactionFunc func(ctx context.Context, fn func(pgx.Tx) error) error
}

func (m *MockTxRunner) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(nil)
}

// MockPruner records prune calls
type MockPruner struct {
	Calls int
}

func (m *MockPruner) MaybePrune(ctx context.Context) {
	m.Calls++
}
