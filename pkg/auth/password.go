package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost       = 14 // bcrypt salts per call; deliberately slow
	TokenValueLength = 32 // 256 bits
	MinPasswordLen   = 9
	MaxPasswordLen   = 128
)

// DummyHash is a valid bcrypt hash of a random throwaway value. Login compares
// against it when the email is unknown so a miss costs a full hash comparison.
const DummyHash = "$2a$14$wHGt0N0vMYXYkcDSXSu4e.9He9cXvMDiyxkwHFW2i0Y2C5FYlkVy6"

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	// Return generic error to users - never expose specific requirements
	return "invalid password"
}

// compromisedPasswords is the breached-password corpus. Every entry here is
// rejected before hashing, for registration and deanonymization alike.
var compromisedPasswords = map[string]bool{
	"password":     true,
	"password1":    true,
	"password123":  true,
	"password123!": true,
	"passw0rd":     true,
	"12345678":     true,
	"123456789":    true,
	"1234567890":   true,
	"qwerty123":    true,
	"qwertyuiop":   true,
	"abc123456":    true,
	"iloveyou1":    true,
	"admin12345":   true,
	"letmein123":   true,
	"welcome123":   true,
	"sunshine1":    true,
	"princess1":    true,
	"starwars1":    true,
	"football1":    true,
	"trustno1!":    true,
	"dragon1234":   true,
	"monkey1234":   true,
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateTokenValue returns a URL-safe random value with 256 bits of entropy.
// Used for refresh tokens; never derived from anything guessable.
func GenerateTokenValue() (string, error) {
	bytes := make([]byte, TokenValueLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// ValidatePassword enforces strong password requirements. It must run before
// hashing so a compromised password never reaches bcrypt.
func ValidatePassword(password string) error {
	errors := make([]string, 0)

	// Check length
	if len(password) < MinPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	// Check character requirements
	hasUpper := false
	hasLower := false
	hasDigit := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasUpper {
		errors = append(errors, "must contain at least one uppercase letter")
	}
	if !hasLower {
		errors = append(errors, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		errors = append(errors, "must contain at least one digit")
	}

	// Check against the compromised-password corpus (case-insensitive)
	if compromisedPasswords[strings.ToLower(password)] {
		errors = append(errors, "has appeared in a data breach, please choose another")
	}

	if len(errors) > 0 {
		return &PasswordValidationError{Errors: errors}
	}

	return nil
}
