package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
)

// SessionChecker answers whether the opaque session token still exists in
// the durable store, and records activity on it.
type SessionChecker interface {
	ExistsByToken(ctx context.Context, token string) (bool, error)
	Touch(ctx context.Context, token string)
}

// AuthMiddleware validates the token envelope, then confirms the embedded
// session token against the cache and, on miss, the durable store. A session
// removed from the store fails here no matter how long the envelope is still
// formally valid.
func AuthMiddleware(tm *TokenManager, sessions SessionChecker, creds *cache.CredentialCache) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			// Refresh tokens are only accepted by /auth/refresh
			if claims.Type == "refresh" {
				http.Error(w, "refresh tokens cannot be used for API access", http.StatusUnauthorized)
				return
			}

			if claims.SessionID == "" {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			valid, hit := creds.GetSessionValidity(claims.SessionID)
			if !hit {
				exists, err := sessions.ExistsByToken(r.Context(), claims.SessionID)
				if err != nil {
					// Store outage fails closed: we cannot prove the session
					// has not been revoked.
					http.Error(w, "unable to verify session status", http.StatusServiceUnavailable)
					return
				}
				valid = exists
				creds.SetSessionValidity(claims.SessionID, exists)
			}

			if !valid {
				http.Error(w, "session has been revoked", http.StatusUnauthorized)
				return
			}

			// Best effort, never blocks the request
			go sessions.Touch(context.Background(), claims.SessionID)

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole creates a middleware that enforces role-based access control.
// The role check reads the cached profile snapshot when fresh, so a role or
// block change propagates within the profile TTL at worst and immediately
// when the mutation path invalidates the snapshot.
func RequireRole(userRepo UserRepository, creds *cache.CredentialCache, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			profile, hit := creds.GetProfile(claims.UserID)
			if !hit {
				user, err := userRepo.GetByID(r.Context(), claims.UserID)
				if err != nil {
					if errors.Is(err, models.ErrNotFound) {
						http.Error(w, "user not found", http.StatusUnauthorized)
						return
					}
					http.Error(w, "internal server error", http.StatusInternalServerError)
					return
				}
				profile = models.ProfileOf(user)
				creds.SetProfile(claims.UserID, profile)
			}

			if profile.IsBlocked {
				http.Error(w, "forbidden: account is blocked", http.StatusForbidden)
				return
			}

			if profile.Role != role {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// UserRepository interface for fetching user data
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}
