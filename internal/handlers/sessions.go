package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/carterwilliams/bastion/internal/services"
	pkghttp "github.com/carterwilliams/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SessionServiceInterface defines the interface for session management
type SessionServiceInterface interface {
	ListActive(ctx context.Context, userID, currentToken string) ([]*services.SessionResponse, error)
	RevokeByID(ctx context.Context, userID, sessionID string) error
	RevokeAll(ctx context.Context, userID string) (int, error)
	RevokeAllExcept(ctx context.Context, userID, keepToken string) (int, error)
}

// SessionHandler handles session management HTTP requests
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// List returns the caller's active sessions with the current one flagged
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.ListActive(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Revoke terminates one of the caller's sessions by id
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(sessionID); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid session id")
		return
	}

	if err := h.service.RevokeByID(r.Context(), claims.UserID, sessionID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Session not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Session revoked"})
}

// RevokeOthers terminates every session except the one the request arrived on
func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	count, err := h.service.RevokeAllExcept(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "Other sessions revoked",
		"revoked_count": count,
	})
}

// RevokeAll terminates every session including the current one
func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	count, err := h.service.RevokeAll(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "All sessions revoked",
		"revoked_count": count,
	})
}
