package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/carterwilliams/bastion/internal/services"
	pkghttp "github.com/carterwilliams/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminUserServiceInterface defines the interface for administrative user management
type AdminUserServiceInterface interface {
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	Block(ctx context.Context, adminID, userID string) error
	Unblock(ctx context.Context, adminID, userID string) error
	SetRole(ctx context.Context, adminID, userID, role string) error
	Restore(ctx context.Context, userID string) error
}

// AdminAuditServiceInterface defines the interface for audit administration
type AdminAuditServiceInterface interface {
	Query(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, error)
	GetUserAuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, int64, error)
	GetSecurityStats(ctx context.Context, window time.Duration, sessionCounter services.SessionCounter) (*services.SecurityStats, error)
	AcknowledgeAlert(ctx context.Context, adminID, alertID string) error
}

// AdminHandler handles administrative HTTP requests
type AdminHandler struct {
	users    AdminUserServiceInterface
	audit    AdminAuditServiceInterface
	sessions services.SessionCounter
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(users AdminUserServiceInterface, audit AdminAuditServiceInterface, sessions services.SessionCounter) *AdminHandler {
	return &AdminHandler{
		users:    users,
		audit:    audit,
		sessions: sessions,
	}
}

// SetRoleRequest represents the request body for a role change
type SetRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

// ListUsers returns a page of accounts
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	users, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	responses := make([]*services.UserResponse, 0, len(users))
	for _, u := range users {
		responses = append(responses, services.UserModelToResponse(u))
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users":  responses,
		"count":  len(responses),
		"limit":  limit,
		"offset": offset,
	})
}

// GetUser returns one account
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
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

// BlockUser blocks an account and revokes all of its sessions
func (h *AdminHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// UnblockUser lifts an administrative block
func (h *AdminHandler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *AdminHandler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	if blocked && userID == claims.UserID {
		pkghttp.WriteBadRequest(w, "Cannot block your own account")
		return
	}

	var err error
	if blocked {
		err = h.users.Block(r.Context(), claims.UserID, userID)
	} else {
		err = h.users.Unblock(r.Context(), claims.UserID, userID)
	}
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	msg := "User blocked"
	if !blocked {
		msg = "User unblocked"
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// RestoreUser clears a pending deletion within the grace period
func (h *AdminHandler) RestoreUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	if err := h.users.Restore(r.Context(), userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "User restored"})
}

// SetRole changes an account's role
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.SetRole(r.Context(), claims.UserID, userID, req.Role); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid role")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Role updated"})
}

// GetUserAudit returns one account's security history
func (h *AdminHandler) GetUserAudit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid user id")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	logs, total, err := h.audit.GetUserAuditTrail(r.Context(), userID, limit, offset)
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

// QueryAudit runs a filtered query over the whole audit trail. Filters come
// from query parameters: user_id, action, ip, success, since, until.
func (h *AdminHandler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	logs, err := h.audit.Query(r.Context(), filter, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": logs,
		"count":  len(logs),
		"limit":  limit,
		"offset": offset,
	})
}

// GetSecurityStats returns the security dashboard summary. The window
// defaults to 24 hours and is capped at 30 days.
func (h *AdminHandler) GetSecurityStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			pkghttp.WriteBadRequest(w, "Invalid window duration")
			return
		}
		if parsed > 30*24*time.Hour {
			parsed = 30 * 24 * time.Hour
		}
		window = parsed
	}

	stats, err := h.audit.GetSecurityStats(r.Context(), window, h.sessions)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// AcknowledgeAlert records that an admin has reviewed a security alert
func (h *AdminHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	alertID := chi.URLParam(r, "id")

	if err := h.audit.AcknowledgeAlert(r.Context(), claims.UserID, alertID); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid alert id")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Alert acknowledged"})
}

func parseAuditFilter(r *http.Request) (models.AuditFilter, error) {
	var filter models.AuditFilter
	q := r.URL.Query()

	if raw := q.Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.New("invalid user_id filter")
		}
		filter.UserID = &id
	}

	filter.Action = q.Get("action")
	filter.IP = q.Get("ip")

	if raw := q.Get("success"); raw != "" {
		switch raw {
		case "true":
			v := true
			filter.Success = &v
		case "false":
			v := false
			filter.Success = &v
		default:
			return filter, errors.New("invalid success filter")
		}
	}

	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid since timestamp")
		}
		filter.Since = &t
	}

	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid until timestamp")
		}
		filter.Until = &t
	}

	return filter, nil
}
