package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Features FeaturesConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string // CIDR ranges whose forwarding headers are honored
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	TicketTTL          time.Duration // verify-email, reset-password, change-email
	MagicLinkTTL       time.Duration
	MFATicketTTL       time.Duration
	PruneProbability   float64 // fraction of refresh calls that trigger pruning
	MFAEncryptionKey   string  // 32 bytes, AES-256 key for TOTP secrets at rest
	MFAIssuer          string
}

// FeaturesConfig holds the policy toggles. It is passed into services at
// construction; nothing reads these from the environment after startup.
type FeaturesConfig struct {
	RequireEmailVerification bool
	MFAEnabled               bool
	AnonymousUsersEnabled    bool
	AllowedEmails            []string // empty means open registration
	DefaultRole              string
	AllowedRoles             []string
	AnonymousRole            string
	DefaultLocale            string
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	BaseURL     string // public base URL used to build ticket links
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
			TicketTTL:          getEnvAsDuration("TICKET_TTL", 60*time.Minute),
			MagicLinkTTL:       getEnvAsDuration("MAGIC_LINK_TTL", 60*time.Minute),
			MFATicketTTL:       getEnvAsDuration("MFA_TICKET_TTL", 5*time.Minute),
			PruneProbability:   getEnvAsFloat("PRUNE_PROBABILITY", 0.1),
			MFAEncryptionKey:   getEnv("MFA_ENCRYPTION_KEY", ""),
			MFAIssuer:          getEnv("MFA_ISSUER", "Gatekeeper"),
		},
		Features: FeaturesConfig{
			RequireEmailVerification: getEnvAsBool("REQUIRE_EMAIL_VERIFICATION", true),
			MFAEnabled:               getEnvAsBool("MFA_ENABLED", true),
			AnonymousUsersEnabled:    getEnvAsBool("ANONYMOUS_USERS_ENABLED", false),
			AllowedEmails:            getEnvAsList("ALLOWED_EMAILS"),
			DefaultRole:              getEnv("DEFAULT_ROLE", "user"),
			AllowedRoles:             getEnvAsListDefault("ALLOWED_ROLES", []string{"user", "me"}),
			AnonymousRole:            getEnv("ANONYMOUS_ROLE", "anonymous"),
			DefaultLocale:            getEnv("DEFAULT_LOCALE", "en"),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			BaseURL:     getEnv("EMAIL_BASE_URL", "http://localhost:8080"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Features.MFAEnabled && len(cfg.Auth.MFAEncryptionKey) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be exactly 32 bytes when MFA is enabled (got %d)",
			len(cfg.Auth.MFAEncryptionKey))
	}

	if err := validateRoleConfig(&cfg.Features); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// validateRoleConfig requires the configured default role to be allowed and
// keeps the anonymous role out of the registerable set.
func validateRoleConfig(f *FeaturesConfig) error {
	found := false
	for _, r := range f.AllowedRoles {
		if r == f.DefaultRole {
			found = true
		}
		if r == f.AnonymousRole {
			return fmt.Errorf("ALLOWED_ROLES must not contain the anonymous role %q", f.AnonymousRole)
		}
	}
	if !found {
		return fmt.Errorf("DEFAULT_ROLE %q must be one of ALLOWED_ROLES", f.DefaultRole)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func getEnvAsListDefault(key string, defaultVal []string) []string {
	if list := getEnvAsList(key); list != nil {
		return list
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
