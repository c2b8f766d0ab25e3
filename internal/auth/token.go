package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/carterwilliams/bastion/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserTokenKeyFetcher defines interface for retrieving a user's TokenKey
type UserTokenKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TokenManager signs and validates the outer envelope wrapped around the
// opaque session token. The envelope is convenience only: session validity
// is always decided by the session store, not by envelope expiry.
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	userRepo           UserTokenKeyFetcher
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
	}
}

// SetUserRepo enables composite signing with the per-user TokenKey. With it,
// rotating a user's TokenKey invalidates every outstanding envelope at once.
func (tm *TokenManager) SetUserRepo(repo UserTokenKeyFetcher) {
	tm.userRepo = repo
}

// getSigningKey returns composite key (global secret + user TokenKey) or the
// global secret when no user repo is wired.
func (tm *TokenManager) getSigningKey(userID string) ([]byte, error) {
	if tm.userRepo == nil {
		return []byte(tm.secret), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	user, err := tm.userRepo.GetByID(ctx, userID)
	if err != nil {
		// Graceful degradation: use global secret if user not found
		return []byte(tm.secret), nil
	}

	composite := tm.secret + user.TokenKey
	return []byte(composite), nil
}

// GeneratePair returns an access and refresh envelope, both carrying the
// opaque session token in the sid claim.
func (tm *TokenManager) GeneratePair(userID, email, sessionToken string) (access string, refresh string, err error) {
	access, err = tm.generate("access", userID, email, sessionToken, tm.accessTokenExpiry)
	if err != nil {
		return "", "", err
	}

	refresh, err = tm.generate("refresh", userID, email, sessionToken, tm.refreshTokenExpiry)
	if err != nil {
		return "", "", err
	}

	return access, refresh, nil
}

func (tm *TokenManager) generate(tokenType, userID, email, sessionToken string, expiry time.Duration) (string, error) {
	claims := &models.TokenClaims{
		Type:      tokenType,
		UserID:    userID,
		Email:     email,
		SessionID: sessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signingKey, err := tm.getSigningKey(userID)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	tokenString, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// ValidateToken verifies an envelope and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		if tmpClaims, ok := token.Claims.(*models.TokenClaims); ok && tmpClaims.UserID != "" {
			signingKey, err := tm.getSigningKey(tmpClaims.UserID)
			if err != nil {
				return []byte(tm.secret), nil
			}
			return signingKey, nil
		}

		return []byte(tm.secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" {
		return nil, fmt.Errorf("invalid token: missing type")
	}

	return claims, nil
}
