package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the access-token claims. They are a pure function of the
// user row at issuance time and are not re-validated against live state
// until the next refresh.
type TokenClaims struct {
	UserID       string   `json:"user_id"`
	DefaultRole  string   `json:"default_role"`
	AllowedRoles []string `json:"allowed_roles"`
	jwt.RegisteredClaims
}
