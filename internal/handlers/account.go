package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/carterwilliams/bastion/internal/services"
	pkghttp "github.com/carterwilliams/bastion/pkg/http"
)

// UserServiceInterface defines the interface for account operations
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpdateName(ctx context.Context, userID, name string) (*models.User, error)
	SoftDelete(ctx context.Context, userID string) error
}

// TwoFactorServiceInterface defines the interface for two-factor enrollment
type TwoFactorServiceInterface interface {
	StartTOTPEnrollment(ctx context.Context, user *models.User) (*services.TOTPEnrollment, error)
	ConfirmTOTPEnrollment(ctx context.Context, user *models.User, code string) error
	EnableEmail(ctx context.Context, user *models.User) error
	Disable(ctx context.Context, user *models.User) error
}

// AuditTrailInterface exposes the caller's own security history
type AuditTrailInterface interface {
	GetUserAuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, int64, error)
}

// AccountHandler handles the authenticated user's own account
type AccountHandler struct {
	users     UserServiceInterface
	twoFactor TwoFactorServiceInterface
	audit     AuditTrailInterface
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(users UserServiceInterface, twoFactor TwoFactorServiceInterface, audit AuditTrailInterface) *AccountHandler {
	return &AccountHandler{
		users:     users,
		twoFactor: twoFactor,
		audit:     audit,
	}
}

// UpdateNameRequest represents the request body for a profile name change
type UpdateNameRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// ConfirmTOTPRequest represents the request body for confirming TOTP enrollment
type ConfirmTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// GetProfile returns the caller's account
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, services.UserModelToResponse(user))
}

// UpdateName changes the caller's display name
func (h *AccountHandler) UpdateName(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req UpdateNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.UpdateName(r.Context(), claims.UserID, req.Name)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, services.UserModelToResponse(user))
}

// DeleteAccount soft-deletes the caller's account. The account can be
// restored with POST /auth/reactivate until the grace period ends.
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.users.SoftDelete(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Account scheduled for deletion. Log in again within the grace period to reactivate.",
	})
}

// StartTOTPEnrollment provisions a TOTP secret and QR code for the caller
func (h *AccountHandler) StartTOTPEnrollment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	enrollment, err := h.twoFactor.StartTOTPEnrollment(r.Context(), user)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Authenticator enrollment is not available")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// ConfirmTOTPEnrollment turns two-factor on once the caller proves their
// authenticator produces valid codes
func (h *AccountHandler) ConfirmTOTPEnrollment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req ConfirmTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.twoFactor.ConfirmTOTPEnrollment(r.Context(), user, req.Code); err != nil {
		if errors.Is(err, models.ErrChallengeInvalid) {
			pkghttp.WriteBadRequest(w, "Invalid authenticator code")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication enabled"})
}

// EnableEmailTwoFactor turns on email-code two-factor for the caller
func (h *AccountHandler) EnableEmailTwoFactor(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.twoFactor.EnableEmail(r.Context(), user); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication enabled"})
}

// DisableTwoFactor turns two-factor off for the caller
func (h *AccountHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.twoFactor.Disable(r.Context(), user); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication disabled"})
}

// GetActivity returns the caller's own security event history
func (h *AccountHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	logs, total, err := h.audit.GetUserAuditTrail(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid user id")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *AccountHandler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}

	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
		} else {
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return nil, false
	}
	return user, true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return defaultVal
}
