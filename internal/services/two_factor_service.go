package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/cache"
	"github.com/carterwilliams/bastion/internal/models"
	pkglogger "github.com/carterwilliams/bastion/pkg/logger"
)

// TwoFactorRepository defines the interface for challenge and confirmation
// store operations
type TwoFactorRepository interface {
	UpsertChallenge(ctx context.Context, email, codeHash string, expiresAt time.Time) (*models.TwoFactorChallenge, error)
	GetChallengeByEmail(ctx context.Context, email string) (*models.TwoFactorChallenge, error)
	DeleteChallenge(ctx context.Context, id string) error
	CreateConfirmation(ctx context.Context, userID string) (*models.TwoFactorConfirmation, error)
	GetConfirmationByUserID(ctx context.Context, userID string) (*models.TwoFactorConfirmation, error)
	DeleteConfirmation(ctx context.Context, userID string) error
}

// TwoFactorConfig holds configuration for challenge behavior
type TwoFactorConfig struct {
	ChallengeExpiry time.Duration
}

// TwoFactorService coordinates the second authentication factor: emailed
// one-time codes and authenticator-app TOTP. A verified challenge turns into
// a short-lived confirmation that exactly one subsequent login can consume.
type TwoFactorService struct {
	repo      TwoFactorRepository
	userRepo  UserRepository
	totp      *auth.TOTPManager
	email     EmailService
	rateLimit *RateLimitService
	creds     *cache.CredentialCache
	auditor   SecurityEventRecorder
	config    TwoFactorConfig
	logger    *slog.Logger

	now func() time.Time
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(repo TwoFactorRepository, userRepo UserRepository, totp *auth.TOTPManager, email EmailService, rateLimit *RateLimitService, creds *cache.CredentialCache, auditor SecurityEventRecorder, config TwoFactorConfig, logger *slog.Logger) *TwoFactorService {
	return &TwoFactorService{
		repo:      repo,
		userRepo:  userRepo,
		totp:      totp,
		email:     email,
		rateLimit: rateLimit,
		creds:     creds,
		auditor:   auditor,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source, for deterministic tests.
func (s *TwoFactorService) SetClock(now func() time.Time) {
	s.now = now
}

// IssueChallenge generates a one-time code for an email and delivers it.
// Issuing replaces any prior unconsumed challenge for the same email, so at
// most one code per email is ever live. Resends count against the email's
// rate limit window.
func (s *TwoFactorService) IssueChallenge(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if result := s.rateLimit.Check("2fa:" + email); !result.Allowed {
		return models.ErrRateLimited
	}

	code, err := generateNumericCode(6)
	if err != nil {
		s.logger.Error("failed to generate challenge code", slog.Any("error", err))
		return models.ErrInternalServer
	}

	expiresAt := s.now().Add(s.config.ChallengeExpiry)
	if _, err := s.repo.UpsertChallenge(ctx, email, hashCode(code), expiresAt); err != nil {
		s.logger.Error("failed to store challenge", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.email.SendTwoFactorCode(ctx, email, code, expiresAt); err != nil {
		s.logger.Error("failed to deliver challenge code",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("two-factor challenge issued",
		slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}

// VerifyChallenge checks a submitted code against the live challenge for
// the user's email. On success the challenge is consumed and a confirmation
// is recorded for the next login to claim. Expired and wrong codes are
// distinguishable so the client can prompt for a resend versus a retry.
func (s *TwoFactorService) VerifyChallenge(ctx context.Context, user *models.User, code, ipAddress, userAgent string) error {
	email := strings.ToLower(user.Email)

	challenge, err := s.repo.GetChallengeByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.recordFailure(ctx, user.ID, "no_live_challenge", ipAddress, userAgent)
			return models.ErrChallengeInvalid
		}
		s.logger.Error("failed to load challenge", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if challenge.IsExpired(s.now()) {
		if err := s.repo.DeleteChallenge(ctx, challenge.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to delete expired challenge", slog.Any("error", err))
		}
		s.recordFailure(ctx, user.ID, "challenge_expired", ipAddress, userAgent)
		return models.ErrChallengeExpired
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(challenge.CodeHash)) != 1 {
		s.recordFailure(ctx, user.ID, "wrong_code", ipAddress, userAgent)
		return models.ErrChallengeInvalid
	}

	// Consume the challenge before recording the confirmation so a race
	// between two verifications cannot double-spend one code.
	if err := s.repo.DeleteChallenge(ctx, challenge.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.recordFailure(ctx, user.ID, "challenge_already_used", ipAddress, userAgent)
			return models.ErrChallengeInvalid
		}
		s.logger.Error("failed to consume challenge", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.repo.CreateConfirmation(ctx, user.ID); err != nil {
		s.logger.Error("failed to record confirmation", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("two-factor challenge verified", slog.String("user_id", user.ID))
	return nil
}

// VerifyTOTP checks an authenticator-app code for a user enrolled in TOTP.
// On success a confirmation is recorded, same as the email path.
func (s *TwoFactorService) VerifyTOTP(ctx context.Context, user *models.User, code, ipAddress, userAgent string) error {
	if s.totp == nil || len(user.TOTPSecret) == 0 {
		return models.ErrBadRequest
	}

	secret, err := s.totp.DecryptSecret(user.TOTPSecret, user.TOTPNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, err := s.totp.ValidateCode(secret, code)
	if err != nil {
		s.logger.Error("failed to validate TOTP code", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !valid {
		s.recordFailure(ctx, user.ID, "wrong_totp_code", ipAddress, userAgent)
		return models.ErrChallengeInvalid
	}

	if _, err := s.repo.CreateConfirmation(ctx, user.ID); err != nil {
		s.logger.Error("failed to record confirmation", slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// ConsumeConfirmation claims the bridge left by a completed challenge.
// Exactly one login can claim it; a stale confirmation past the challenge
// expiry is discarded unclaimed.
func (s *TwoFactorService) ConsumeConfirmation(ctx context.Context, userID string) (bool, error) {
	conf, err := s.repo.GetConfirmationByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to load confirmation", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if err := s.repo.DeleteConfirmation(ctx, userID); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to consume confirmation", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if s.now().Sub(conf.CreatedAt) > s.config.ChallengeExpiry {
		return false, nil
	}

	return true, nil
}

// TOTPEnrollment is the setup payload shown once during enrollment
type TOTPEnrollment struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qr_code_url"`
}

// StartTOTPEnrollment provisions a TOTP secret for an account. The secret is
// stored encrypted but two-factor stays off until ConfirmTOTPEnrollment
// proves the authenticator was configured.
func (s *TwoFactorService) StartTOTPEnrollment(ctx context.Context, user *models.User) (*TOTPEnrollment, error) {
	// TOTP needs an encryption key; without one only email codes work.
	if s.totp == nil {
		return nil, models.ErrBadRequest
	}

	encrypted, nonce, plainSecret, qrURL, err := s.totp.GenerateSecretWithQR(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.userRepo.UpdateTwoFactor(ctx, user.ID, false, models.TwoFactorMethodTOTP, encrypted, nonce); err != nil {
		s.logger.Error("failed to store TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TOTPEnrollment{
		Secret:    plainSecret,
		QRCodeURL: qrURL,
	}, nil
}

// ConfirmTOTPEnrollment verifies a first code from the authenticator and
// turns two-factor on.
func (s *TwoFactorService) ConfirmTOTPEnrollment(ctx context.Context, user *models.User, code string) error {
	if s.totp == nil || len(user.TOTPSecret) == 0 {
		return models.ErrBadRequest
	}

	secret, err := s.totp.DecryptSecret(user.TOTPSecret, user.TOTPNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, err := s.totp.ValidateCode(secret, code)
	if err != nil {
		return models.ErrInternalServer
	}
	if !valid {
		return models.ErrChallengeInvalid
	}

	if err := s.userRepo.UpdateTwoFactor(ctx, user.ID, true, models.TwoFactorMethodTOTP, user.TOTPSecret, user.TOTPNonce); err != nil {
		s.logger.Error("failed to enable TOTP", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateProfile(user.ID)

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionTwoFactorEnabled,
		UserID:  &user.ID,
		Success: true,
		Metadata: models.AuditMetadata{
			"method": models.TwoFactorMethodTOTP,
		},
	})

	return nil
}

// EnableEmail turns on emailed one-time codes as the second factor.
func (s *TwoFactorService) EnableEmail(ctx context.Context, user *models.User) error {
	if err := s.userRepo.UpdateTwoFactor(ctx, user.ID, true, models.TwoFactorMethodEmail, nil, nil); err != nil {
		s.logger.Error("failed to enable email two-factor", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateProfile(user.ID)

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionTwoFactorEnabled,
		UserID:  &user.ID,
		Success: true,
		Metadata: models.AuditMetadata{
			"method": models.TwoFactorMethodEmail,
		},
	})

	return nil
}

// Disable turns off the second factor. Requires the caller to have passed a
// fresh verification; the handler enforces that.
func (s *TwoFactorService) Disable(ctx context.Context, user *models.User) error {
	if err := s.userRepo.UpdateTwoFactor(ctx, user.ID, false, models.TwoFactorMethodEmail, nil, nil); err != nil {
		s.logger.Error("failed to disable two-factor", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.creds.InvalidateProfile(user.ID)

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionTwoFactorDisabled,
		UserID:  &user.ID,
		Success: true,
	})

	return nil
}

func (s *TwoFactorService) recordFailure(ctx context.Context, userID, reason, ipAddress, userAgent string) {
	s.auditor.Record(ctx, AuditEntry{
		Action:        models.AuditActionTwoFactorFailed,
		UserID:        &userID,
		Success:       false,
		FailureReason: &reason,
		IPAddress:     &ipAddress,
		UserAgent:     &userAgent,
	})
}

// hashCode hashes a challenge code for storage. Codes are short-lived and
// low-entropy, so the hash exists to keep plaintext codes out of the store,
// not to resist offline cracking.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// generateNumericCode returns a uniform random code of the given number of
// decimal digits, zero-padded.
func generateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}
