package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/carterwilliams/bastion/internal/auth"
	"github.com/carterwilliams/bastion/internal/models"
	pkgauth "github.com/carterwilliams/bastion/pkg/auth"
)

// AuthConfig holds configuration for login orchestration
type AuthConfig struct {
	DeletionGracePeriod time.Duration
}

// AuthService orchestrates the login sequence: rate limit, lockout
// admission, credential check, account state, second factor, session mint.
// Pre-credential failures all collapse into ErrInvalidCredentials behind a
// randomized delay so callers cannot probe which accounts exist.
type AuthService struct {
	userRepo  UserRepository
	lockout   *LockoutService
	twoFactor *TwoFactorService
	sessions  *SessionService
	tm        *auth.TokenManager
	timing    *auth.TimingDelay
	rateLimit *RateLimitService
	auditor   SecurityEventRecorder
	config    AuthConfig
	logger    *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(userRepo UserRepository, lockout *LockoutService, twoFactor *TwoFactorService, sessions *SessionService, tm *auth.TokenManager, timing *auth.TimingDelay, rateLimit *RateLimitService, auditor SecurityEventRecorder, config AuthConfig, logger *slog.Logger) *AuthService {
	return &AuthService{
		userRepo:  userRepo,
		lockout:   lockout,
		twoFactor: twoFactor,
		sessions:  sessions,
		tm:        tm,
		timing:    timing,
		rateLimit: rateLimit,
		auditor:   auditor,
		config:    config,
		logger:    logger,
	}
}

// LoginInput carries the credentials and request metadata for a login
type LoginInput struct {
	Identifier string // email or username
	Password   string
	TwoFACode  string // optional inline second factor (totp only)
	IPAddress  string
	UserAgent  string
}

// LoginResult is the outcome of a login attempt that was not rejected
type LoginResult struct {
	TwoFactorRequired bool          `json:"two_factor_required,omitempty"`
	TwoFactorMethod   string        `json:"two_factor_method,omitempty"`
	Email             string        `json:"email,omitempty"`
	PendingDeletion   bool          `json:"pending_deletion,omitempty"`
	DeletionDeadline  *time.Time    `json:"deletion_deadline,omitempty"`
	DaysRemaining     int           `json:"days_remaining,omitempty"`
	AccessToken       string        `json:"access_token,omitempty"`
	RefreshToken      string        `json:"refresh_token,omitempty"`
	User              *UserResponse `json:"user,omitempty"`
}

// Login runs the full authentication sequence. The stages run in a fixed
// order; each stage only sees attempts that survived the previous one.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	start := time.Now()

	identifier := strings.ToLower(strings.TrimSpace(input.Identifier))
	if identifier == "" || input.Password == "" {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	if result := s.rateLimit.Check("login:" + identifier + "|" + input.IPAddress); !result.Allowed {
		s.recordLoginFailure(ctx, nil, "rate_limited", input)
		return nil, models.ErrRateLimited
	}

	user, err := s.userRepo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.recordLoginFailure(ctx, nil, "unknown_identifier", input)
			s.timing.WaitFrom(start, false)
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Lockout admission precedes the credential check: attempts against a
	// locked account are refused without touching the counter.
	if err := s.lockout.CheckAdmission(ctx, user); err != nil {
		if locked, ok := models.AsAccountLocked(err); ok {
			s.recordLoginFailure(ctx, &user.ID, "account_locked", input)
			return nil, locked
		}
		return nil, err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, input.Password); err != nil {
		_, recErr := s.lockout.RecordFailure(ctx, user, input.IPAddress, input.UserAgent)
		if locked, ok := models.AsAccountLocked(recErr); ok {
			// This attempt crossed the threshold; report the lock, not the
			// credential failure.
			s.recordLoginFailure(ctx, &user.ID, "account_locked", input)
			return nil, locked
		}
		if recErr != nil {
			s.logger.Error("failed to record login failure", slog.Any("error", recErr))
		}
		s.recordLoginFailure(ctx, &user.ID, "wrong_password", input)
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	if user.IsBlocked {
		s.recordLoginFailure(ctx, &user.ID, "account_blocked", input)
		return nil, models.ErrAccountBlocked
	}

	if user.IsDeleted() {
		deadline := user.DeletionDeadline(s.config.DeletionGracePeriod)
		if time.Now().After(deadline) {
			// Grace period over: indistinguishable from a nonexistent account
			s.recordLoginFailure(ctx, &user.ID, "deletion_grace_expired", input)
			s.timing.WaitFrom(start, false)
			return nil, models.ErrInvalidCredentials
		}
		// Credentials are good but no session is minted; the account must be
		// explicitly reactivated first.
		return &LoginResult{
			PendingDeletion:  true,
			DeletionDeadline: &deadline,
			DaysRemaining:    int(math.Ceil(time.Until(deadline).Hours() / 24)),
		}, nil
	}

	if user.TwoFactorEnabled {
		confirmed, err := s.twoFactor.ConsumeConfirmation(ctx, user.ID)
		if err != nil {
			return nil, err
		}

		if !confirmed {
			// TOTP codes can ride along on the login request itself
			if user.TwoFactorMethod == models.TwoFactorMethodTOTP && input.TwoFACode != "" {
				if err := s.twoFactor.VerifyTOTP(ctx, user, input.TwoFACode, input.IPAddress, input.UserAgent); err != nil {
					return nil, err
				}
				if _, err := s.twoFactor.ConsumeConfirmation(ctx, user.ID); err != nil {
					return nil, err
				}
			} else {
				if user.TwoFactorMethod == models.TwoFactorMethodEmail {
					if err := s.twoFactor.IssueChallenge(ctx, user.Email); err != nil {
						return nil, err
					}
				}
				return &LoginResult{
					TwoFactorRequired: true,
					TwoFactorMethod:   user.TwoFactorMethod,
					Email:             user.Email,
				}, nil
			}
		}
	}

	return s.completeLogin(ctx, user, input)
}

// completeLogin runs the post-verification tail: counter reset, session
// mint, token pair, audit.
func (s *AuthService) completeLogin(ctx context.Context, user *models.User, input LoginInput) (*LoginResult, error) {
	if err := s.lockout.RecordSuccess(ctx, user); err != nil {
		return nil, err
	}
	s.rateLimit.Reset("login:" + strings.ToLower(user.Email) + "|" + input.IPAddress)

	// Session bookkeeping is best effort: the credentials are already
	// verified, so a store failure here yields a pair without a sid instead
	// of failing the login.
	sessionToken := ""
	session, err := s.sessions.Create(ctx, user.ID, input.IPAddress, input.UserAgent)
	if err != nil {
		s.logger.Error("session not recorded, login continues without one",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	} else {
		sessionToken = session.Token
	}

	access, refresh, err := s.tm.GeneratePair(user.ID, user.Email, sessionToken)
	if err != nil {
		s.logger.Error("failed to generate token pair",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditor.Record(ctx, AuditEntry{
		Action:    models.AuditActionLoginSuccess,
		UserID:    &user.ID,
		Success:   true,
		IPAddress: &input.IPAddress,
		UserAgent: &input.UserAgent,
	})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         UserModelToResponse(user),
	}, nil
}

// CompleteTwoFactor verifies the second factor for a pending login. On
// success the caller retries the login call, which claims the confirmation
// this leaves behind.
func (s *AuthService) CompleteTwoFactor(ctx context.Context, identifier, code, ipAddress, userAgent string) error {
	start := time.Now()

	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || code == "" {
		s.timing.WaitFrom(start, false)
		return models.ErrChallengeInvalid
	}

	if result := s.rateLimit.Check("2fa-verify:" + identifier); !result.Allowed {
		return models.ErrRateLimited
	}

	user, err := s.userRepo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.timing.WaitFrom(start, false)
			return models.ErrChallengeInvalid
		}
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !user.TwoFactorEnabled {
		s.timing.WaitFrom(start, false)
		return models.ErrChallengeInvalid
	}

	switch user.TwoFactorMethod {
	case models.TwoFactorMethodTOTP:
		err = s.twoFactor.VerifyTOTP(ctx, user, code, ipAddress, userAgent)
	default:
		err = s.twoFactor.VerifyChallenge(ctx, user, code, ipAddress, userAgent)
	}
	if err != nil {
		s.timing.WaitFrom(start, false)
		return err
	}

	return nil
}

// ResendTwoFactor reissues the emailed code for a pending login. The fresh
// code replaces the old one; reissues count against the rate limit.
func (s *AuthService) ResendTwoFactor(ctx context.Context, identifier string) error {
	identifier = strings.ToLower(strings.TrimSpace(identifier))

	user, err := s.userRepo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Indistinguishable from success
			return nil
		}
		return models.ErrInternalServer
	}

	if !user.TwoFactorEnabled || user.TwoFactorMethod != models.TwoFactorMethodEmail {
		return nil
	}

	return s.twoFactor.IssueChallenge(ctx, user.Email)
}

// Logout revokes the session named by the access token's sid claim.
func (s *AuthService) Logout(ctx context.Context, userID, sessionToken string) error {
	if err := s.sessions.Revoke(ctx, userID, sessionToken); err != nil {
		return err
	}

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionLogout,
		UserID:  &userID,
		Success: true,
	})

	return nil
}

// RefreshToken mints a fresh token pair from a refresh envelope. The new
// pair carries the same session; refreshing never extends a session that
// the store has already forgotten.
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*LoginResult, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != "refresh" {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	exists, err := s.sessions.ExistsByToken(ctx, claims.SessionID)
	if err != nil {
		s.logger.Error("failed to check session for refresh", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !exists {
		return nil, models.ErrUnauthorized
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for refresh", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.IsBlocked || user.IsDeleted() {
		return nil, models.ErrUnauthorized
	}

	if user.PasswordChangedAt != nil && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.Before(*user.PasswordChangedAt) {
			s.logger.Info("refresh blocked: token issued before password change",
				slog.String("user_id", user.ID))
			return nil, models.ErrUnauthorized
		}
	}

	access, refresh, err := s.tm.GeneratePair(user.ID, user.Email, claims.SessionID)
	if err != nil {
		s.logger.Error("failed to generate token pair", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         UserModelToResponse(user),
	}, nil
}

// Register creates a new account and signs it in.
func (s *AuthService) Register(ctx context.Context, email, password, name, ipAddress, userAgent string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if email == "" || name == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: user already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashed, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	created, err := s.userRepo.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      hashed,
		Name:              name,
		PasswordChangedAt: &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditor.Record(ctx, AuditEntry{
		Action:    models.AuditActionUserRegistered,
		UserID:    &created.ID,
		Success:   true,
		IPAddress: &ipAddress,
	})

	return s.completeLogin(ctx, created, LoginInput{
		Identifier: email,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
	})
}

// Reactivate restores a soft-deleted account within its grace period,
// authenticated by the account's credentials. The caller logs in normally
// afterwards.
func (s *AuthService) Reactivate(ctx context.Context, identifier, password string) error {
	start := time.Now()

	identifier = strings.ToLower(strings.TrimSpace(identifier))

	user, err := s.userRepo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.timing.WaitFrom(start, false)
			return models.ErrInvalidCredentials
		}
		return models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.timing.WaitFrom(start, false)
		return models.ErrInvalidCredentials
	}

	if !user.IsDeleted() {
		return models.ErrBadRequest
	}

	if time.Now().After(user.DeletionDeadline(s.config.DeletionGracePeriod)) {
		s.timing.WaitFrom(start, false)
		return models.ErrInvalidCredentials
	}

	if err := s.userRepo.Restore(ctx, user.ID); err != nil {
		s.logger.Error("failed to restore user", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditor.Record(ctx, AuditEntry{
		Action:  models.AuditActionAccountRestored,
		UserID:  &user.ID,
		Success: true,
	})

	s.logger.Info("account reactivated", slog.String("user_id", user.ID))
	return nil
}

func (s *AuthService) recordLoginFailure(ctx context.Context, userID *string, reason string, input LoginInput) {
	s.auditor.Record(ctx, AuditEntry{
		Action:        models.AuditActionLoginFailed,
		UserID:        userID,
		Success:       false,
		FailureReason: &reason,
		IPAddress:     &input.IPAddress,
		UserAgent:     &input.UserAgent,
	})
}
