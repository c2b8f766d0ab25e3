package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/carterwilliams/bastion/internal/services"
	pkghttp "github.com/carterwilliams/bastion/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	CompleteTwoFactor(ctx context.Context, identifier, code, ipAddress, userAgent string) error
	ResendTwoFactor(ctx context.Context, identifier string) error
	Logout(ctx context.Context, userID, sessionToken string) error
	RefreshToken(ctx context.Context, refreshToken string) (*services.LoginResult, error)
	Register(ctx context.Context, email, password, name, ipAddress, userAgent string) (*services.LoginResult, error)
	Reactivate(ctx context.Context, identifier, password string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	Code       string `json:"code,omitempty" validate:"omitempty,len=6,numeric"`
}

// TwoFactorVerifyRequest represents the request body for completing a
// two-factor challenge
type TwoFactorVerifyRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Code       string `json:"code" validate:"required,len=6,numeric"`
}

// TwoFactorResendRequest represents the request body for requesting a fresh
// two-factor code
type TwoFactorResendRequest struct {
	Identifier string `json:"identifier" validate:"required"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ReactivateRequest represents the request body for restoring an account
// still inside its deletion grace period
type ReactivateRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// Login handles user login. A successful response either carries a token
// pair, a two_factor_required marker, or a pending_deletion marker.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Identifier: strings.TrimSpace(req.Identifier),
		Password:   req.Password,
		TwoFACode:  req.Code,
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  r.Header.Get("User-Agent"),
	})
	if err != nil {
		writeLoginError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// VerifyTwoFactor completes a pending two-factor challenge. On success the
// caller repeats the login request, which consumes the confirmation.
func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorVerifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	if err := h.service.CompleteTwoFactor(r.Context(), strings.TrimSpace(req.Identifier), req.Code, ipAddress, userAgent); err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeExpired):
			pkghttp.WriteError(w, http.StatusUnauthorized, "code_expired", "Verification code expired. Request a new one.")
		case errors.Is(err, models.ErrChallengeInvalid):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		case errors.Is(err, models.ErrRateLimited):
			pkghttp.WriteTooManyRequests(w, "Too many verification attempts. Please try again later.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// ResendTwoFactor issues a fresh email challenge, invalidating any prior
// one. The response is identical whether or not the identifier exists.
func (h *AuthHandler) ResendTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorResendRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResendTwoFactor(r.Context(), strings.TrimSpace(req.Identifier)); err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			pkghttp.WriteTooManyRequests(w, "Too many code requests. Please try again later.")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "If the account exists, a new code has been sent"})
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Register(r.Context(), req.Email, req.Password, strings.TrimSpace(req.Name),
		pkghttp.ExtractClientIP(r, h.ipConfig), r.Header.Get("User-Agent"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An account with this email already exists")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, err.Error())
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, result)
}

// RefreshToken exchanges a refresh token for a fresh pair. The new envelope
// stays bound to the same server-side session.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "Invalid or expired refresh token")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Logout revokes the session the request arrived on
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), claims.UserID, claims.SessionID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Reactivate restores an account that is inside its deletion grace period
func (h *AuthHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	var req ReactivateRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Reactivate(r.Context(), strings.TrimSpace(req.Identifier), req.Password); err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Account reactivated. You can now log in."})
}

// writeLoginError maps login failures to responses. Credential and account
// state failures collapse into one generic 401 so the response shape never
// reveals which accounts exist.
func writeLoginError(w http.ResponseWriter, err error) {
	if locked, ok := models.AsAccountLocked(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter/time.Second)))
		pkghttp.WriteError(w, http.StatusLocked, "account_locked",
			"Account temporarily locked due to repeated failed logins. Try again later.")
		return
	}

	switch {
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteTooManyRequests(w, "Too many login attempts. Please try again later.")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	case errors.Is(err, models.ErrAccountBlocked):
		pkghttp.WriteForbidden(w, "Account is blocked. Contact an administrator.")
	case errors.Is(err, models.ErrChallengeExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "code_expired", "Verification code expired. Request a new one.")
	case errors.Is(err, models.ErrChallengeInvalid):
		pkghttp.WriteUnauthorized(w, "Verification failed")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Identifier and password are required")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
