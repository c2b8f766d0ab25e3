package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carterwilliams/bastion/internal/models"
	pkglogger "github.com/carterwilliams/bastion/pkg/logger"
	"github.com/google/uuid"
)

// AuditLogRepository defines the interface for audit log persistence
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)
	CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
	Query(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, error)
	CountByActionSince(ctx context.Context, action string, since time.Time) (int64, error)
}

// AuditEntry is the write-side input for a security event. UserID is nil for
// pre-authentication failures that cannot be attributed to an account.
type AuditEntry struct {
	Action        string
	UserID        *string
	Success       bool
	FailureReason *string
	IPAddress     *string
	UserAgent     *string
	Metadata      models.AuditMetadata
}

// SecurityEventRecorder is the producer-side interface: append a security
// event without blocking or failing the calling operation.
type SecurityEventRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

const (
	auditQueueSize    = 256
	auditWorkerCount  = 4
	auditWriteTimeout = 5 * time.Second
)

// AuditService appends security events with a dual-write pattern: the event
// goes to the structured log immediately and to the database asynchronously.
// A fixed set of workers drains a bounded queue of store appends, so a slow
// database throttles to a full queue instead of unbounded goroutines; when
// the queue is full the append is dropped with a warning. Store failures are
// logged and dropped rather than propagated.
type AuditService struct {
	repo        AuditLogRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	// queue feeds the append workers; wg tracks queued writes so shutdown
	// can drain them
	queue chan *models.AuditLog
	wg    sync.WaitGroup
}

// NewAuditService creates an AuditService and starts its append workers.
func NewAuditService(repo AuditLogRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuditService {
	s := &AuditService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
		queue:       make(chan *models.AuditLog, auditQueueSize),
	}
	for i := 0; i < auditWorkerCount; i++ {
		go s.appendLoop()
	}
	return s
}

func (s *AuditService) appendLoop() {
	for log := range s.queue {
		s.persist(log)
		s.wg.Done()
	}
}

// persist runs on a fresh context so a cancelled request cannot lose the
// event.
func (s *AuditService) persist(log *models.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if _, err := s.repo.Create(ctx, log); err != nil {
		s.logger.Error("failed to persist audit log",
			slog.String("action", log.Action),
			slog.Any("error", err))
	}
}

// Record appends a security event. The slog half happens inline; the store
// append goes onto the worker queue and never blocks the caller, even when
// the queue is saturated.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	event := pkglogger.AuditEvent{
		Action:  entry.Action,
		Success: entry.Success,
	}
	if entry.UserID != nil {
		event.UserID = *entry.UserID
	}
	if entry.IPAddress != nil {
		event.IPAddress = *entry.IPAddress
	}
	if entry.UserAgent != nil {
		event.UserAgent = *entry.UserAgent
	}
	if entry.FailureReason != nil {
		event.FailureReason = *entry.FailureReason
	}
	s.auditLogger.LogEvent(event)

	log := &models.AuditLog{
		Action:        entry.Action,
		Success:       entry.Success,
		FailureReason: entry.FailureReason,
		IPAddress:     entry.IPAddress,
		UserAgent:     entry.UserAgent,
		Metadata:      entry.Metadata,
	}
	if entry.UserID != nil {
		if id, err := uuid.Parse(*entry.UserID); err == nil {
			log.UserID = &id
		}
	}

	s.wg.Add(1)
	select {
	case s.queue <- log:
	default:
		// The slog half already captured the event; losing the row beats
		// blocking an authentication decision.
		s.wg.Done()
		s.logger.Warn("audit queue full, store append dropped",
			slog.String("action", entry.Action))
	}
}

// Drain waits for in-flight store appends, bounded by the context. Called
// during graceful shutdown.
func (s *AuditService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetUserAuditTrail retrieves the audit trail for a specific user, newest
// first.
func (s *AuditService) GetUserAuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, int64, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, 0, models.ErrBadRequest
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.GetByUserID(ctx, id, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get user audit trail: %w", err)
	}

	total, err := s.repo.CountByUserID(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	return logs, total, nil
}

// Query runs a filtered administrative query over the audit log.
func (s *AuditService) Query(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.Query(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return logs, nil
}

// SecurityStats is a point-in-time summary for the admin dashboard
type SecurityStats struct {
	Window         time.Duration `json:"-"`
	FailedLogins   int64         `json:"failed_logins"`
	AccountsLocked int64         `json:"accounts_locked"`
	SecurityAlerts int64         `json:"security_alerts"`
	ActiveSessions int64         `json:"active_sessions"`
}

// GetSecurityStats summarizes recent security activity over the window.
func (s *AuditService) GetSecurityStats(ctx context.Context, window time.Duration, sessionCounter SessionCounter) (*SecurityStats, error) {
	since := time.Now().Add(-window)

	failed, err := s.repo.CountByActionSince(ctx, models.AuditActionLoginFailed, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed logins: %w", err)
	}

	locked, err := s.repo.CountByActionSince(ctx, models.AuditActionAccountLocked, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count lockouts: %w", err)
	}

	alerts, err := s.repo.CountByActionSince(ctx, models.AuditActionSecurityAlert, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	sessions, err := sessionCounter.CountAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	return &SecurityStats{
		Window:         window,
		FailedLogins:   failed,
		AccountsLocked: locked,
		SecurityAlerts: alerts,
		ActiveSessions: sessions,
	}, nil
}

// AcknowledgeAlert appends an acknowledgement referencing an existing alert.
// The trail is append-only, so the original alert row is never touched.
func (s *AuditService) AcknowledgeAlert(ctx context.Context, adminID, alertID string) error {
	id, err := uuid.Parse(adminID)
	if err != nil {
		return models.ErrBadRequest
	}
	if _, err := uuid.Parse(alertID); err != nil {
		return models.ErrBadRequest
	}

	log := &models.AuditLog{
		Action:  models.AuditActionAlertAcknowledged,
		UserID:  &id,
		Success: true,
		Metadata: models.AuditMetadata{
			"alert_id": alertID,
		},
	}

	if _, err := s.repo.Create(ctx, log); err != nil {
		s.logger.Error("failed to record alert acknowledgement",
			slog.String("alert_id", alertID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// SessionCounter exposes the live session count for dashboards
type SessionCounter interface {
	CountAll(ctx context.Context) (int64, error)
}
