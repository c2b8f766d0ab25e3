package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication errors. A wrong identifier and a wrong password both
	// map to ErrInvalidCredentials so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountBlocked     = errors.New("account is blocked")
	ErrAccountDeleted     = errors.New("account is pending deletion")
	ErrRateLimited        = errors.New("rate limit exceeded")

	// Two-factor errors. Both are safe to disclose once the caller is
	// mid-challenge; both are recoverable by requesting a new code.
	ErrChallengeExpired = errors.New("two-factor code expired")
	ErrChallengeInvalid = errors.New("two-factor code invalid")

	// Transient store failure for security-positive checks (lock/block
	// status). Never treated as "allowed".
	ErrStoreUnavailable = errors.New("store unavailable")
)

// AccountLockedError is returned when an account is denied admission by the
// lock guard. It carries the remaining lock duration for user messaging.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry after %s", e.RetryAfter.Round(time.Second))
}

// AsAccountLocked reports whether err is an AccountLockedError.
func AsAccountLocked(err error) (*AccountLockedError, bool) {
	var locked *AccountLockedError
	if errors.As(err, &locked) {
		return locked, true
	}
	return nil, false
}
