package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/repositories"
	"github.com/carterwilliams/bastion/internal/services"
)

// CleanupManager periodically removes expired security state: stale
// two-factor challenges and confirmations, audit rows past retention,
// expired cache entries and dead rate-limit windows.
type CleanupManager struct {
	twoFactorRepo      *repositories.TwoFactorRepository
	auditRepo          *repositories.AuditLogRepository
	creds              *cache.CredentialCache
	rateLimit          *services.RateLimitService
	confirmationMaxAge time.Duration
	auditRetentionDays int
	logger             *slog.Logger
	interval           time.Duration
	stopCh             chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	twoFactorRepo *repositories.TwoFactorRepository,
	auditRepo *repositories.AuditLogRepository,
	creds *cache.CredentialCache,
	rateLimit *services.RateLimitService,
	confirmationMaxAge time.Duration,
	auditRetentionDays int,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		twoFactorRepo:      twoFactorRepo,
		auditRepo:          auditRepo,
		creds:              creds,
		rateLimit:          rateLimit,
		confirmationMaxAge: confirmationMaxAge,
		auditRetentionDays: auditRetentionDays,
		logger:             logger,
		interval:           interval,
		stopCh:             make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if removed, err := cm.twoFactorRepo.CleanupExpired(cleanupCtx, cm.confirmationMaxAge); err != nil {
		cm.logger.Error("failed to clean up two-factor state", slog.Any("error", err))
	} else if removed > 0 {
		cm.logger.Info("cleaned up two-factor state", slog.Int64("rows_deleted", removed))
	}

	if removed, err := cm.auditRepo.Cleanup(cleanupCtx, cm.auditRetentionDays); err != nil {
		cm.logger.Error("failed to clean up audit logs", slog.Any("error", err))
	} else if removed > 0 {
		cm.logger.Info("cleaned up audit logs", slog.Int64("rows_deleted", removed))
	}

	if swept := cm.creds.Sweep(); swept > 0 {
		cm.logger.Debug("swept credential cache", slog.Int("entries", swept))
	}

	if swept := cm.rateLimit.Sweep(); swept > 0 {
		cm.logger.Debug("swept rate limit windows", slog.Int("windows", swept))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
