package services

import (
	"context"
	"testing"
	"time"

	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionService(repo *MockSessionRepository, auditor *RecordingAuditor) (*SessionService, *cache.CredentialCache) {
	creds := cache.New(100, 30*time.Second, 60*time.Second)
	return NewSessionService(repo, creds, auditor, newTestLogger()), creds
}

func TestSessionService_Create_ClassifiesDevice(t *testing.T) {
	var created *models.Session
	repo := &MockSessionRepository{
		CreateFunc: func(ctx context.Context, session *models.Session) (*models.Session, error) {
			created = session
			out := *session
			out.ID = "sess-1"
			return &out, nil
		},
	}
	s, creds := newTestSessionService(repo, &RecordingAuditor{})

	ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	session, err := s.Create(context.Background(), "user-1", "203.0.113.1", ua)

	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "mobile", created.DeviceType)
	assert.Equal(t, "Safari", created.Browser)
	assert.Equal(t, "203.0.113.1", created.IPAddress)

	// A fresh session is immediately warm in the cache
	valid, ok := creds.GetSessionValidity(session.Token)
	assert.True(t, ok)
	assert.True(t, valid)
}

func TestSessionService_Create_TokensAreUnique(t *testing.T) {
	repo := &MockSessionRepository{}
	s, _ := newTestSessionService(repo, &RecordingAuditor{})

	a, err := s.Create(context.Background(), "user-1", "203.0.113.1", "ua")
	require.NoError(t, err)
	b, err := s.Create(context.Background(), "user-1", "203.0.113.1", "ua")
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
}

func TestSessionService_Revoke_InvalidatesCacheImmediately(t *testing.T) {
	repo := &MockSessionRepository{}
	auditor := &RecordingAuditor{}
	s, creds := newTestSessionService(repo, auditor)

	creds.SetSessionValidity("tok-1", true)

	err := s.Revoke(context.Background(), "user-1", "tok-1")
	require.NoError(t, err)

	_, ok := creds.GetSessionValidity("tok-1")
	assert.False(t, ok, "cache entry must be gone before Revoke returns")
	assert.True(t, auditor.HasAction(models.AuditActionSessionRevoked))
}

func TestSessionService_Revoke_AlreadyRevoked_IsNoOpSuccess(t *testing.T) {
	repo := &MockSessionRepository{
		DeleteByTokenFunc: func(ctx context.Context, token string) error {
			return models.ErrNotFound
		},
	}
	auditor := &RecordingAuditor{}
	s, _ := newTestSessionService(repo, auditor)

	err := s.Revoke(context.Background(), "user-1", "tok-gone")
	assert.NoError(t, err)
	// No second audit event for a session that was already gone
	assert.False(t, auditor.HasAction(models.AuditActionSessionRevoked))
}

func TestSessionService_Revoke_StoreError_Propagates(t *testing.T) {
	repo := &MockSessionRepository{
		DeleteByTokenFunc: func(ctx context.Context, token string) error {
			return models.ErrStoreUnavailable
		},
	}
	s, _ := newTestSessionService(repo, &RecordingAuditor{})

	err := s.Revoke(context.Background(), "user-1", "tok-1")
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestSessionService_RevokeAll_InvalidatesEveryToken(t *testing.T) {
	repo := &MockSessionRepository{
		DeleteByUserIDFunc: func(ctx context.Context, userID string) ([]string, error) {
			return []string{"tok-1", "tok-2", "tok-3"}, nil
		},
	}
	auditor := &RecordingAuditor{}
	s, creds := newTestSessionService(repo, auditor)

	for _, tok := range []string{"tok-1", "tok-2", "tok-3"} {
		creds.SetSessionValidity(tok, true)
	}

	n, err := s.RevokeAll(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, tok := range []string{"tok-1", "tok-2", "tok-3"} {
		_, ok := creds.GetSessionValidity(tok)
		assert.False(t, ok, "token %s should be invalidated", tok)
	}
	assert.True(t, auditor.HasAction(models.AuditActionSessionsRevoked))
}

func TestSessionService_RevokeAllExcept_KeepsCurrent(t *testing.T) {
	repo := &MockSessionRepository{
		DeleteByUserIDExceptFunc: func(ctx context.Context, userID, keepToken string) ([]string, error) {
			assert.Equal(t, "tok-keep", keepToken)
			return []string{"tok-1", "tok-2"}, nil
		},
	}
	s, creds := newTestSessionService(repo, &RecordingAuditor{})

	creds.SetSessionValidity("tok-keep", true)
	creds.SetSessionValidity("tok-1", true)

	n, err := s.RevokeAllExcept(context.Background(), "user-1", "tok-keep")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	valid, ok := creds.GetSessionValidity("tok-keep")
	assert.True(t, ok)
	assert.True(t, valid)
	_, ok = creds.GetSessionValidity("tok-1")
	assert.False(t, ok)
}

func TestSessionService_ListActive_MarksCurrentAndOrders(t *testing.T) {
	now := time.Now()
	repo := &MockSessionRepository{
		ListByUserIDFunc: func(ctx context.Context, userID string) ([]*models.Session, error) {
			// Repository returns most recently active first
			return []*models.Session{
				{ID: "s2", Token: "tok-2", LastActive: now},
				{ID: "s1", Token: "tok-1", LastActive: now.Add(-time.Hour)},
			}, nil
		},
	}
	s, _ := newTestSessionService(repo, &RecordingAuditor{})

	sessions, err := s.ListActive(context.Background(), "user-1", "tok-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "s2", sessions[0].ID)
	assert.False(t, sessions[0].IsCurrent)
	assert.True(t, sessions[1].IsCurrent)
}
