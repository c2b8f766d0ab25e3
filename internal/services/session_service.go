package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/models"
	pkgauth "github.com/carterwilliams/bastion/pkg/auth"
	pkghttp "github.com/carterwilliams/bastion/pkg/http"
)

// SessionRepository defines the interface for session store operations
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	ExistsByToken(ctx context.Context, token string) (bool, error)
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	Touch(ctx context.Context, token string) error
	DeleteByToken(ctx context.Context, token string) error
	DeleteByID(ctx context.Context, userID, sessionID string) (string, error)
	DeleteByUserID(ctx context.Context, userID string) ([]string, error)
	DeleteByUserIDExcept(ctx context.Context, userID, keepToken string) ([]string, error)
	ListByUserID(ctx context.Context, userID string) ([]*models.Session, error)
	CountByUserID(ctx context.Context, userID string) (int64, error)
	CountAll(ctx context.Context) (int64, error)
}

// SessionService manages server-side sessions. A session is valid iff its
// row exists in the store; revocation is deletion. The credential cache is
// invalidated synchronously on every revoke path, so a revoked session is
// rejected on the very next request instead of after the cache TTL.
type SessionService struct {
	repo    SessionRepository
	creds   *cache.CredentialCache
	auditor SecurityEventRecorder
	logger  *slog.Logger
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, creds *cache.CredentialCache, auditor SecurityEventRecorder, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:    repo,
		creds:   creds,
		auditor: auditor,
		logger:  logger,
	}
}

// Create mints a fresh session for a user. The token is opaque and
// unguessable; device fields come from the user agent classification.
func (s *SessionService) Create(ctx context.Context, userID, ipAddress, userAgent string) (*models.Session, error) {
	token, err := pkgauth.GenerateSessionToken()
	if err != nil {
		s.logger.Error("failed to generate session token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	device := pkghttp.ClassifyUserAgent(userAgent)

	session, err := s.repo.Create(ctx, &models.Session{
		UserID:     userID,
		Token:      token,
		DeviceType: device.DeviceType,
		Browser:    device.Browser,
		OS:         device.OS,
		IPAddress:  ipAddress,
	})
	if err != nil {
		s.logger.Error("failed to create session",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.creds.SetSessionValidity(token, true)

	s.auditor.Record(ctx, AuditEntry{
		Action:    models.AuditActionSessionCreated,
		UserID:    &userID,
		Success:   true,
		IPAddress: &ipAddress,
		UserAgent: &userAgent,
		Metadata: models.AuditMetadata{
			"device_type": device.DeviceType,
			"browser":     device.Browser,
		},
	})

	return session, nil
}

// ExistsByToken reports whether the session row still exists. This is the
// store half of the middleware fast path.
func (s *SessionService) ExistsByToken(ctx context.Context, token string) (bool, error) {
	return s.repo.ExistsByToken(ctx, token)
}

// Touch records activity on a session. Best effort: failures are logged and
// dropped, never surfaced to a request.
func (s *SessionService) Touch(ctx context.Context, token string) {
	if err := s.repo.Touch(ctx, token); err != nil {
		s.logger.Debug("failed to touch session", slog.Any("error", err))
	}
}

// Revoke deletes a session by token. Revoking an already-revoked session is
// a no-op success; the end state is identical. The cache entry is dropped
// before returning.
func (s *SessionService) Revoke(ctx context.Context, userID, token string) error {
	err := s.repo.DeleteByToken(ctx, token)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to revoke session",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateSession(token)

	if err == nil {
		s.auditor.Record(ctx, AuditEntry{
			Action:  models.AuditActionSessionRevoked,
			UserID:  &userID,
			Success: true,
		})
	}

	return nil
}

// RevokeByID deletes a session addressed by its id, scoped to the owning
// user. Returns ErrNotFound when the id does not exist or belongs to
// someone else.
func (s *SessionService) RevokeByID(ctx context.Context, userID, sessionID string) error {
	token, err := s.repo.DeleteByID(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to revoke session by id",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateSession(token)

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionSessionRevoked,
		UserID:  &userID,
		Success: true,
		Metadata: models.AuditMetadata{
			"session_id": sessionID,
		},
	})

	return nil
}

// RevokeAll deletes every session a user holds and invalidates each token's
// cache entry. Returns the number of sessions revoked.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) (int, error) {
	tokens, err := s.repo.DeleteByUserID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke all sessions",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	for _, token := range tokens {
		s.creds.InvalidateSession(token)
	}

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionSessionsRevoked,
		UserID:  &userID,
		Success: true,
		Metadata: models.AuditMetadata{
			"revoked_count": len(tokens),
		},
	})

	return len(tokens), nil
}

// RevokeAllExcept deletes every session except the caller's current one,
// the "sign out other devices" operation.
func (s *SessionService) RevokeAllExcept(ctx context.Context, userID, keepToken string) (int, error) {
	tokens, err := s.repo.DeleteByUserIDExcept(ctx, userID, keepToken)
	if err != nil {
		s.logger.Error("failed to revoke other sessions",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	for _, token := range tokens {
		s.creds.InvalidateSession(token)
	}

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionSessionsRevoked,
		UserID:  &userID,
		Success: true,
		Metadata: models.AuditMetadata{
			"revoked_count": len(tokens),
			"kept_current":  true,
		},
	})

	return len(tokens), nil
}

// SessionResponse represents a session in the HTTP response
type SessionResponse struct {
	ID         string    `json:"id"`
	DeviceType string    `json:"device_type"`
	Browser    string    `json:"browser"`
	OS         string    `json:"os"`
	IPAddress  string    `json:"ip_address"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	IsCurrent  bool      `json:"is_current"`
}

// ListActive returns a user's sessions, most recently active first, marking
// the one the request arrived on.
func (s *SessionService) ListActive(ctx context.Context, userID, currentToken string) ([]*SessionResponse, error) {
	sessions, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list sessions",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	out := make([]*SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, &SessionResponse{
			ID:         sess.ID,
			DeviceType: sess.DeviceType,
			Browser:    sess.Browser,
			OS:         sess.OS,
			IPAddress:  sess.IPAddress,
			LastActive: sess.LastActive,
			CreatedAt:  sess.CreatedAt,
			IsCurrent:  sess.Token == currentToken,
		})
	}

	return out, nil
}

// CountAll returns the number of live sessions across all users.
func (s *SessionService) CountAll(ctx context.Context) (int64, error) {
	return s.repo.CountAll(ctx)
}
