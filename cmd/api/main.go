package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/background"
	"github.com/verdantlabs/gatekeeper/internal/config"
	"github.com/verdantlabs/gatekeeper/internal/database"
	"github.com/verdantlabs/gatekeeper/internal/handlers"
	middlewareCustom "github.com/verdantlabs/gatekeeper/internal/middleware"
	"github.com/verdantlabs/gatekeeper/internal/repositories"
	"github.com/verdantlabs/gatekeeper/internal/routes"
	"github.com/verdantlabs/gatekeeper/internal/services"
	pkghttp "github.com/verdantlabs/gatekeeper/pkg/http"
	pkglogger "github.com/verdantlabs/gatekeeper/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	ticketRepo := repositories.NewTicketRepository(db)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db)

	// Token and TOTP managers
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	var totpManager *auth.TOTPManager
	if cfg.Features.MFAEnabled {
		totpManager, err = auth.NewTOTPManager([]byte(cfg.Auth.MFAEncryptionKey), cfg.Auth.MFAIssuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Expired rows are pruned opportunistically on refresh traffic.
	var pruner background.Pruner = background.NopPruner{}
	if cfg.Auth.PruneProbability > 0 {
		pruner = background.NewSampledPruner(logger, cfg.Auth.PruneProbability, ticketRepo, refreshTokenRepo)
	}

	// AWS SES mailer
	mailer, err := services.NewAWSSESMailer(cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.BaseURL, logger)
	if err != nil {
		logger.Error("failed to initialize mailer", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	validator := services.NewCredentialValidator(userRepo, cfg.Features, logger)
	ticketService := services.NewTicketService(ticketRepo, logger, auditLogger, cfg.Auth.TicketTTL)
	sessionService := services.NewSessionService(userRepo, refreshTokenRepo, tokenManager, pruner, logger, auditLogger, cfg.Auth.RefreshTokenExpiry)
	authService := services.NewAuthService(userRepo, ticketService, sessionService, mailer, db, cfg.Auth, cfg.Features, logger, auditLogger)
	registrationService := services.NewRegistrationService(userRepo, ticketService, sessionService, validator, mailer, db, cfg.Auth, cfg.Features, logger, auditLogger)
	accountService := services.NewAccountService(userRepo, ticketService, sessionService, validator, mailer, db, cfg.Auth, logger, auditLogger)
	mfaService := services.NewMFAService(userRepo, ticketService, sessionService, totpManager, cfg.Features, logger, auditLogger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(registrationService, authService, sessionService)
	accountHandler := handlers.NewAccountHandler(accountService)
	mfaHandler := handlers.NewMFAHandler(mfaService)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger, &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, accountHandler, mfaHandler, tokenManager,
		middlewareCustom.DefaultAuthRateLimit(), middlewareCustom.DefaultAccountRateLimit())

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
