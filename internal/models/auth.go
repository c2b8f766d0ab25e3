package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the outer signed envelope wrapped around the opaque session
// token. The envelope carries denormalized identity for convenience; the
// session token in SessionID is the only authority on validity.
type TokenClaims struct {
	Type      string `json:"type"` // "access" or "refresh"
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"` // opaque session token
	jwt.RegisteredClaims
}
