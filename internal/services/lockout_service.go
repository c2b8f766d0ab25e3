package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/carterwilliams/bastion/internal/models"
)

// LockoutRepository defines the interface for lockout state operations
type LockoutRepository interface {
	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	SetLock(ctx context.Context, id string, until time.Time) error
	ClearLock(ctx context.Context, id string) error
}

// LockoutAlertSender notifies an account holder that their account was locked
type LockoutAlertSender interface {
	SendLockoutAlert(ctx context.Context, email string, until time.Time) error
}

// LockoutConfig holds configuration for the progressive lockout guard
type LockoutConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// LockoutService guards the credential check. Failed attempts accumulate in
// the user row via a single atomic increment, so concurrent failures across
// replicas never undercount. An expired lock heals lazily on the next
// admission check; nothing sweeps locks in the background. Imposing a lock
// cascades into session revocation, the same as a block or delete.
type LockoutService struct {
	repo        LockoutRepository
	sessions    SessionRevoker
	alertSender LockoutAlertSender
	auditor     SecurityEventRecorder
	config      LockoutConfig
	logger      *slog.Logger

	now func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(repo LockoutRepository, sessions SessionRevoker, alertSender LockoutAlertSender, auditor SecurityEventRecorder, config LockoutConfig, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:        repo,
		sessions:    sessions,
		alertSender: alertSender,
		auditor:     auditor,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source, for deterministic tests.
func (s *LockoutService) SetClock(now func() time.Time) {
	s.now = now
}

// CheckAdmission decides whether the account may proceed to the credential
// check. A live lock yields AccountLockedError with the remaining time. An
// expired lock is cleared here, counter included, before admitting.
func (s *LockoutService) CheckAdmission(ctx context.Context, user *models.User) error {
	if user.LockedUntil == nil {
		return nil
	}

	now := s.now()
	if now.Before(*user.LockedUntil) {
		return &models.AccountLockedError{RetryAfter: user.LockedUntil.Sub(now)}
	}

	// Lock expired: heal it now rather than waiting for a success
	if err := s.repo.ClearLock(ctx, user.ID); err != nil {
		s.logger.Error("failed to clear expired lock",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	user.LockedUntil = nil
	user.FailedLoginAttempts = 0

	s.logger.Info("expired lock cleared on admission", slog.String("user_id", user.ID))
	return nil
}

// RecordFailure counts a failed credential check and imposes a lock when the
// threshold is reached. Returns the updated failure count; on the attempt
// that crosses the threshold the error is an AccountLockedError, so the
// caller reports the lock rather than a generic credential failure.
func (s *LockoutService) RecordFailure(ctx context.Context, user *models.User, ipAddress, userAgent string) (int, error) {
	count, err := s.repo.IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to increment failed logins",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	if count < s.config.MaxFailedAttempts {
		return count, nil
	}

	until := s.now().Add(s.config.LockoutDuration)
	if err := s.repo.SetLock(ctx, user.ID, until); err != nil {
		s.logger.Error("failed to impose lock",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return count, models.ErrInternalServer
	}

	// A locked account keeps no live sessions
	if revoked, err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
		s.logger.Error("failed to revoke sessions on lockout",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	} else if revoked > 0 {
		s.logger.Info("sessions revoked on lockout",
			slog.String("user_id", user.ID),
			slog.Int("revoked", revoked))
	}

	s.logger.Warn("account locked after repeated failures",
		slog.String("user_id", user.ID),
		slog.Int("failed_attempts", count),
		slog.Time("locked_until", until))

	s.auditor.Record(ctx, AuditEntry{
		Action:    models.AuditActionAccountLocked,
		UserID:    &user.ID,
		Success:   true,
		IPAddress: &ipAddress,
		UserAgent: &userAgent,
		Metadata: models.AuditMetadata{
			"failed_attempts": count,
			"locked_until":    until.Format(time.RFC3339),
		},
	})

	// Best effort; a mail outage must not affect the lock itself
	if s.alertSender != nil {
		go func(email string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.alertSender.SendLockoutAlert(ctx, email, until); err != nil {
				s.logger.Error("failed to send lockout alert", slog.Any("error", err))
			}
		}(user.Email)
	}

	return count, &models.AccountLockedError{RetryAfter: s.config.LockoutDuration}
}

// RecordSuccess resets the failure counter after a fully successful login.
func (s *LockoutService) RecordSuccess(ctx context.Context, user *models.User) error {
	if user.FailedLoginAttempts == 0 && user.LockedUntil == nil {
		return nil
	}

	if err := s.repo.ClearLock(ctx, user.ID); err != nil {
		s.logger.Error("failed to reset failure counter",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}
