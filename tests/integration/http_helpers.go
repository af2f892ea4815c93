package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/background"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/database"
	"github.com/verdantlabs/gatekeeper/internal/handlers"
	middlewareCustom "github.com/verdantlabs/gatekeeper/internal/middleware"
	"github.com/verdantlabs/gatekeeper/internal/routes"
	"github.com/verdantlabs/gatekeeper/internal/services"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

// SentEmail represents a captured outbound email
type SentEmail struct {
	Template  services.TemplateID
	Recipient string
	Ticket    string
}

// CapturingMailer records sent mail for test assertions instead of
// dispatching it
type CapturingMailer struct {
	mu   sync.Mutex
	Sent []SentEmail
}

func (m *CapturingMailer) Send(ctx context.Context, template services.TemplateID, recipient, locale string, locals map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Sent = append(m.Sent, SentEmail{
		Template:  template,
		Recipient: recipient,
		Ticket:    locals["ticket"],
	})
	return nil
}

// LastEmail returns the most recent captured email
func (m *CapturingMailer) LastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Sent) == 0 {
		return nil
	}
	return &m.Sent[len(m.Sent)-1]
}

// TestServer wraps httptest.Server with a real database and a captured mailer
type TestServer struct {
	Server *httptest.Server
	DB     *database.DB
	Mailer *CapturingMailer
	Config *config.Config
}

// NewTestServer wires the full HTTP stack against a real database, swapping
// only the mailer for a capturing fake
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := testLogger()

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:          "integration-secret-32-chars-long!",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			TicketTTL:          time.Hour,
			MagicLinkTTL:       time.Hour,
			MFATicketTTL:       5 * time.Minute,
			MFAEncryptionKey:   "integration-mfa-key-32-bytes-ok!",
			MFAIssuer:          "GatekeeperTest",
		},
		Features: config.FeaturesConfig{
			RequireEmailVerification: true,
			MFAEnabled:               true,
			AnonymousUsersEnabled:    true,
			DefaultRole:              "user",
			AllowedRoles:             []string{"user", "me"},
			AnonymousRole:            "anonymous",
			DefaultLocale:            "en",
		},
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
	}

	userRepo, ticketRepo, refreshTokenRepo := InitializeRepositories(db)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	totpManager, err := auth.NewTOTPManager([]byte(cfg.Auth.MFAEncryptionKey), cfg.Auth.MFAIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create TOTP manager: %w", err)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	mailer := &CapturingMailer{}

	validator := services.NewCredentialValidator(userRepo, cfg.Features, logger)
	ticketService := services.NewTicketService(ticketRepo, logger, auditLogger, cfg.Auth.TicketTTL)
	sessionService := services.NewSessionService(userRepo, refreshTokenRepo, tokenManager, background.NopPruner{}, logger, auditLogger, cfg.Auth.RefreshTokenExpiry)
	authService := services.NewAuthService(userRepo, ticketService, sessionService, mailer, db, cfg.Auth, cfg.Features, logger, auditLogger)
	registrationService := services.NewRegistrationService(userRepo, ticketService, sessionService, validator, mailer, db, cfg.Auth, cfg.Features, logger, auditLogger)
	accountService := services.NewAccountService(userRepo, ticketService, sessionService, validator, mailer, db, cfg.Auth, logger, auditLogger)
	mfaService := services.NewMFAService(userRepo, ticketService, sessionService, totpManager, cfg.Features, logger, auditLogger)

	authHandler := handlers.NewAuthHandler(registrationService, authService, sessionService)
	accountHandler := handlers.NewAccountHandler(accountService)
	mfaHandler := handlers.NewMFAHandler(mfaService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.Timeout(60 * time.Second))

	// High limits; throttling behavior is covered by middleware unit tests
	routes.RegisterRoutes(router, authHandler, accountHandler, mfaHandler, tokenManager,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: 10000},
		middlewareCustom.RateLimitConfig{RequestsPerMinute: 10000})

	server := httptest.NewServer(router)

	return &TestServer{
		Server: server,
		DB:     db,
		Mailer: mailer,
		Config: cfg,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with an access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses a JSON response body into the target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// SessionResponse mirrors the session payload returned by sign-in, sign-up,
// and token refresh
type SessionResponse struct {
	AccessToken          string `json:"accessToken"`
	AccessTokenExpiresIn int64  `json:"accessTokenExpiresIn"`
	RefreshToken         string `json:"refreshToken"`
	User                 struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// SignInResponse mirrors the sign-in payload, which carries either a session
// or an MFA challenge ticket
type SignInResponse struct {
	Session *SessionResponse `json:"session"`
	MFA     *struct {
		Ticket string `json:"ticket"`
	} `json:"mfa"`
}
