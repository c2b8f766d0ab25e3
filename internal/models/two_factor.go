package models

import "time"

// TwoFactorChallenge is a short-lived one-time code delivered out-of-band.
// Issuing a new challenge for an email invalidates any prior unconsumed one,
// so at most one challenge per email is ever actionable.
type TwoFactorChallenge struct {
	ID        string
	Email     string
	CodeHash  string // SHA-256 of the emailed code
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired reports whether the challenge can no longer be verified.
func (c *TwoFactorChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// TwoFactorConfirmation marks that an account completed a challenge within
// the current login transaction. It is consumed (deleted) by the login that
// uses it, so it cannot bridge unrelated login attempts.
type TwoFactorConfirmation struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}
