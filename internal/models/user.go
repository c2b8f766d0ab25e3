package models

import (
	"time"
)

// Two-factor methods supported per account
const (
	TwoFactorMethodEmail = "email"
	TwoFactorMethodTOTP  = "totp"
)

type User struct {
	ID            string
	Email         string
	Username      *string // optional unique handle, usable as login identifier
	PasswordHash  string
	Name          string
	TokenKey      string // Per-user secret for composite token signing
	Role          string // e.g., "user", "admin"
	IsBlocked     bool   // admin-imposed, distinct from lockout
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Lockout state. LockedUntil in the past means "not locked"; the lock
	// guard lazily clears it on the next admission check.
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastFailedLogin     *time.Time

	// Two-factor state
	TwoFactorEnabled bool
	TwoFactorMethod  string // "email" or "totp"
	TOTPSecret       []byte // AES-256-GCM encrypted, nil unless method is totp
	TOTPNonce        []byte

	PasswordChangedAt *time.Time // For envelope invalidation on password change
}

// IsLocked reports whether the account is currently under a lockout.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// IsDeleted reports whether the account has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// DeletionDeadline returns the date the soft-deleted account becomes
// unrecoverable, given the configured grace period.
func (u *User) DeletionDeadline(grace time.Duration) time.Time {
	if u.DeletedAt == nil {
		return time.Time{}
	}
	return u.DeletedAt.Add(grace)
}

// Profile is the denormalized snapshot cached per account. It carries only
// the authorization-relevant fields consulted on the request fast path.
type Profile struct {
	ID               string
	Email            string
	Name             string
	Role             string
	IsBlocked        bool
	TwoFactorEnabled bool
}

// ProfileOf builds the cacheable snapshot for a user.
func ProfileOf(u *User) *Profile {
	return &Profile{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		IsBlocked:        u.IsBlocked,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}
