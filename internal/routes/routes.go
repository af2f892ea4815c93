package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/verdantlabs/gatekeeper/internal/auth"
	"github.com/verdantlabs/gatekeeper/internal/handlers"
	"github.com/verdantlabs/gatekeeper/internal/middleware"
)

// RegisterRoutes registers all application routes. The unauthenticated auth
// surface is rate limited per IP; everything there either burns bcrypt time,
// sends mail, or probes credentials.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	accountHandler *handlers.AccountHandler,
	mfaHandler *handlers.MFAHandler,
	tokenManager *auth.TokenManager,
	authRateLimit middleware.RateLimitConfig,
	accountRateLimit middleware.RateLimitConfig,
) {

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(authRateLimit))

		r.Post("/signup/email-password", authHandler.SignUp)
		r.Post("/signin/email-password", authHandler.SignIn)
		r.Post("/signin/anonymous", authHandler.SignInAnonymous)
		r.Post("/signin/passwordless/email", authHandler.RequestMagicLink)
		r.Post("/signin/passwordless/email/verify", authHandler.VerifyMagicLink)
		r.Post("/signin/mfa/totp", mfaHandler.Verify)

		r.Post("/user/password/reset", accountHandler.RequestPasswordReset)
		r.Post("/user/password/reset/verify", accountHandler.ConfirmPasswordReset)
		r.Post("/user/email/verify", accountHandler.VerifyEmail)
		r.Post("/user/email/verify/resend", accountHandler.ResendVerification)
		r.Post("/user/email/change/verify", accountHandler.ConfirmEmailChange)
	})

	// Token refresh carries its own proof and is not behind the strict
	// auth limit; a busy client refreshes more often than it signs in.
	router.Post("/token", authHandler.RefreshToken)

	// Authenticated account endpoints
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))
		r.Use(middleware.RateLimitByUser(accountRateLimit))

		r.Post("/signout", authHandler.SignOut)
		r.Post("/user/deanonymize", authHandler.Deanonymize)
		r.Post("/user/password", accountHandler.ChangePassword)
		r.Post("/user/email/change", accountHandler.RequestEmailChange)
		r.Get("/mfa/totp/generate", mfaHandler.Generate)
		r.Post("/user/mfa", mfaHandler.Activate)
	})
}
