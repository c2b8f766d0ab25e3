package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/models"
)

// UserRepository defines the interface for user store operations
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdateName(ctx context.Context, id, name string) (*models.User, error)
	UpdateRole(ctx context.Context, id, role string) (*models.User, error)
	SetBlocked(ctx context.Context, id string, blocked bool) error
	ClearLock(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	UpdateTwoFactor(ctx context.Context, id string, enabled bool, method string, secret, nonce []byte) error
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
}

// SessionRevoker is the slice of SessionService the user service needs for
// the block cascade.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// UserService handles account lifecycle and profile reads. Profile reads go
// through the credential cache; every mutation that touches an
// authorization-relevant field invalidates the snapshot before returning.
type UserService struct {
	repo     UserRepository
	sessions SessionRevoker
	creds    *cache.CredentialCache
	auditor  SecurityEventRecorder
	logger   *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(repo UserRepository, sessions SessionRevoker, creds *cache.CredentialCache, auditor SecurityEventRecorder, logger *slog.Logger) *UserService {
	return &UserService{
		repo:     repo,
		sessions: sessions,
		creds:    creds,
		auditor:  auditor,
		logger:   logger,
	}
}

// GetProfile returns the cached profile snapshot for a user, falling back to
// the store on miss.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if profile, hit := s.creds.GetProfile(userID); hit {
		return profile, nil
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	profile := models.ProfileOf(user)
	s.creds.SetProfile(userID, profile)
	return profile, nil
}

// GetUser returns the full user row, bypassing the cache.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}

// UpdateName changes the display name.
func (s *UserService) UpdateName(ctx context.Context, userID, name string) (*models.User, error) {
	updated, err := s.repo.UpdateName(ctx, userID, name)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to update user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.creds.InvalidateProfile(userID)
	return updated, nil
}

// SetRole changes a user's role. Admin operation.
func (s *UserService) SetRole(ctx context.Context, adminID, userID, role string) error {
	if role != "user" && role != "admin" {
		return models.ErrBadRequest
	}

	if _, err := s.repo.UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to set role", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateProfile(userID)

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionRoleChanged,
		UserID:  &userID,
		Success: true,
		Metadata: models.AuditMetadata{
			"role":     role,
			"admin_id": adminID,
		},
	})

	return nil
}

// Block marks an account blocked and revokes every session it holds. The
// block takes effect immediately: the snapshot is invalidated and the
// session cascade runs before this returns.
func (s *UserService) Block(ctx context.Context, adminID, userID string) error {
	if err := s.repo.SetBlocked(ctx, userID, true); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to block user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateProfile(userID)

	revoked, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke sessions on block",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user blocked",
		slog.String("user_id", userID),
		slog.Int("sessions_revoked", revoked))

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionAccountBlocked,
		UserID:  &userID,
		Success: true,
		Metadata: models.AuditMetadata{
			"admin_id":         adminID,
			"sessions_revoked": revoked,
		},
	})

	return nil
}

// Unblock lifts an admin-imposed block.
func (s *UserService) Unblock(ctx context.Context, adminID, userID string) error {
	if err := s.repo.SetBlocked(ctx, userID, false); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to unblock user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	// An admin unblock also releases any brute-force lock still on the row.
	if err := s.repo.ClearLock(ctx, userID); err != nil {
		s.logger.Error("failed to clear lock on unblock", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateProfile(userID)

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionAccountUnblocked,
		UserID:  &userID,
		Success: true,
		Metadata: models.AuditMetadata{
			"admin_id": adminID,
		},
	})

	return nil
}

// SoftDelete marks the account pending deletion and revokes its sessions.
// The row survives for the grace period so the holder can reactivate.
func (s *UserService) SoftDelete(ctx context.Context, userID string) error {
	if err := s.repo.SoftDelete(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to soft delete user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateProfile(userID)

	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.logger.Error("failed to revoke sessions on delete",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionAccountDeleted,
		UserID:  &userID,
		Success: true,
	})

	return nil
}

// Restore reactivates a soft-deleted account within its grace period.
func (s *UserService) Restore(ctx context.Context, userID string) error {
	if err := s.repo.Restore(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to restore user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateProfile(userID)

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionAccountRestored,
		UserID:  &userID,
		Success: true,
	})

	return nil
}

// List returns a page of users. Admin operation.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list users", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return users, nil
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	Username         *string `json:"username,omitempty"`
	Name             string  `json:"name"`
	Role             string  `json:"role"`
	IsBlocked        bool    `json:"is_blocked"`
	TwoFactorEnabled bool    `json:"two_factor_enabled"`
	TwoFactorMethod  string  `json:"two_factor_method,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// UserModelToResponse converts a user model to its response DTO
func UserModelToResponse(user *models.User) *UserResponse {
	resp := &UserResponse{
		ID:               user.ID,
		Email:            user.Email,
		Username:         user.Username,
		Name:             user.Name,
		Role:             user.Role,
		IsBlocked:        user.IsBlocked,
		TwoFactorEnabled: user.TwoFactorEnabled,
		CreatedAt:        user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        user.UpdatedAt.Format(time.RFC3339),
	}
	if user.TwoFactorEnabled {
		resp.TwoFactorMethod = user.TwoFactorMethod
	}
	return resp
}
