package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carterwilliams/bastion/internal/models"
	pkglogger "github.com/carterwilliams/bastion/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditService(repo *MockAuditLogRepository) *AuditService {
	logger := newTestLogger()
	return NewAuditService(repo, logger, pkglogger.NewAuditLogger(logger))
}

func TestAuditService_Record_PersistsAsynchronously(t *testing.T) {
	var mu sync.Mutex
	var persisted *models.AuditLog
	repo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
			mu.Lock()
			defer mu.Unlock()
			persisted = log
			return log, nil
		},
	}
	s := newTestAuditService(repo)

	userID := uuid.New().String()
	reason := "wrong_password"
	ip := "203.0.113.1"
	s.Record(context.Background(), AuditEntry{
		Action:        models.AuditActionLoginFailed,
		UserID:        &userID,
		Success:       false,
		FailureReason: &reason,
		IPAddress:     &ip,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, persisted)
	assert.Equal(t, models.AuditActionLoginFailed, persisted.Action)
	require.NotNil(t, persisted.UserID)
	assert.Equal(t, userID, persisted.UserID.String())
	assert.Equal(t, "wrong_password", *persisted.FailureReason)
	assert.False(t, persisted.Success)
}

func TestAuditService_Record_StoreFailure_DoesNotPropagate(t *testing.T) {
	repo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
			return nil, models.ErrStoreUnavailable
		},
	}
	s := newTestAuditService(repo)

	// Record has no error return; a store outage must be invisible here
	s.Record(context.Background(), AuditEntry{
		Action:  models.AuditActionLoginSuccess,
		Success: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Drain(ctx))
}

func TestAuditService_Record_SaturatedQueue_NeverBlocks(t *testing.T) {
	release := make(chan struct{})
	var created atomic.Int64
	repo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
			<-release
			created.Add(1)
			return log, nil
		},
	}
	s := newTestAuditService(repo)

	// With the workers wedged, more events than the queue and workers can
	// hold together must still return immediately
	total := auditQueueSize + auditWorkerCount + 8
	start := time.Now()
	for i := 0; i < total; i++ {
		s.Record(context.Background(), AuditEntry{
			Action:  models.AuditActionLoginFailed,
			Success: false,
		})
	}
	assert.Less(t, time.Since(start), time.Second,
		"a wedged store must not stall the caller")

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))

	// Everything the queue and in-flight workers held lands; the overflow
	// was dropped rather than buffered without bound
	got := created.Load()
	assert.GreaterOrEqual(t, got, int64(auditQueueSize))
	assert.LessOrEqual(t, got, int64(auditQueueSize+auditWorkerCount))
}

func TestAuditService_Record_AnonymousEvent(t *testing.T) {
	var mu sync.Mutex
	var persisted *models.AuditLog
	repo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
			mu.Lock()
			defer mu.Unlock()
			persisted = log
			return log, nil
		},
	}
	s := newTestAuditService(repo)

	s.Record(context.Background(), AuditEntry{
		Action:  models.AuditActionLoginFailed,
		Success: false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, persisted)
	assert.Nil(t, persisted.UserID, "pre-auth failures carry no user id")
}

func TestAuditService_GetUserAuditTrail(t *testing.T) {
	userID := uuid.New()
	repo := &MockAuditLogRepository{
		GetByUserIDFunc: func(ctx context.Context, id uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
			assert.Equal(t, userID, id)
			assert.Equal(t, 50, limit, "out-of-range limit falls back to default")
			return []*models.AuditLog{{ID: uuid.New(), Action: models.AuditActionLoginSuccess}}, nil
		},
		CountByUserIDFunc: func(ctx context.Context, id uuid.UUID) (int64, error) {
			return 1, nil
		},
	}
	s := newTestAuditService(repo)

	logs, total, err := s.GetUserAuditTrail(context.Background(), userID.String(), 500, -1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, int64(1), total)
}

func TestAuditService_GetUserAuditTrail_BadID(t *testing.T) {
	s := newTestAuditService(&MockAuditLogRepository{})

	_, _, err := s.GetUserAuditTrail(context.Background(), "not-a-uuid", 10, 0)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAuditService_GetSecurityStats(t *testing.T) {
	repo := &MockAuditLogRepository{
		CountByActionSinceFunc: func(ctx context.Context, action string, since time.Time) (int64, error) {
			switch action {
			case models.AuditActionLoginFailed:
				return 12, nil
			case models.AuditActionAccountLocked:
				return 2, nil
			case models.AuditActionSecurityAlert:
				return 1, nil
			}
			return 0, nil
		},
	}
	s := newTestAuditService(repo)

	sessions := &MockSessionRepository{
		CountAllFunc: func(ctx context.Context) (int64, error) { return 7, nil },
	}

	stats, err := s.GetSecurityStats(context.Background(), 24*time.Hour, sessions)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.FailedLogins)
	assert.Equal(t, int64(2), stats.AccountsLocked)
	assert.Equal(t, int64(1), stats.SecurityAlerts)
	assert.Equal(t, int64(7), stats.ActiveSessions)
}

func TestAuditService_AcknowledgeAlert(t *testing.T) {
	var persisted *models.AuditLog
	repo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
			persisted = log
			return log, nil
		},
	}
	s := newTestAuditService(repo)

	adminID := uuid.New().String()
	alertID := uuid.New().String()
	err := s.AcknowledgeAlert(context.Background(), adminID, alertID)

	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, models.AuditActionAlertAcknowledged, persisted.Action)
	assert.Equal(t, alertID, persisted.Metadata["alert_id"])
}

func TestAuditService_AcknowledgeAlert_BadAlertID(t *testing.T) {
	s := newTestAuditService(&MockAuditLogRepository{})

	err := s.AcknowledgeAlert(context.Background(), uuid.New().String(), "nope")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}
