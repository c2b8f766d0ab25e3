package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestRateLimiter(maxAttempts int, window time.Duration) (*RateLimitService, *time.Time) {
	s := NewRateLimitService(RateLimitConfig{
		MaxAttempts: maxAttempts,
		Window:      window,
	}, newTestLogger())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestRateLimitService_AllowsUpToMax(t *testing.T) {
	s, _ := newTestRateLimiter(5, 15*time.Minute)

	for i := 0; i < 5; i++ {
		result := s.Check("login:alice")
		assert.True(t, result.Allowed, "attempt %d should be allowed", i+1)
		assert.Equal(t, 4-i, result.Remaining)
	}
}

func TestRateLimitService_DeniesSixthAttempt(t *testing.T) {
	s, _ := newTestRateLimiter(5, 15*time.Minute)

	for i := 0; i < 5; i++ {
		s.Check("login:alice")
	}

	result := s.Check("login:alice")
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 15*time.Minute, result.ResetIn)
}

func TestRateLimitService_WindowExpiry_ResetsFully(t *testing.T) {
	s, now := newTestRateLimiter(5, 15*time.Minute)

	for i := 0; i < 6; i++ {
		s.Check("login:alice")
	}
	assert.False(t, s.Peek("login:alice").Allowed)

	// Just past the window boundary the counter starts fresh
	*now = now.Add(15*time.Minute + time.Second)

	result := s.Check("login:alice")
	assert.True(t, result.Allowed)
	assert.Equal(t, 4, result.Remaining)
}

func TestRateLimitService_KeysAreIndependent(t *testing.T) {
	s, _ := newTestRateLimiter(5, 15*time.Minute)

	for i := 0; i < 6; i++ {
		s.Check("login:alice")
	}

	result := s.Check("login:bob")
	assert.True(t, result.Allowed)
}

func TestRateLimitService_DeniedAttemptsStillCount(t *testing.T) {
	s, _ := newTestRateLimiter(5, 15*time.Minute)

	// Hammering past the limit never recovers Remaining within the window
	for i := 0; i < 20; i++ {
		s.Check("login:alice")
	}

	result := s.Peek("login:alice")
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
}

func TestRateLimitService_Reset(t *testing.T) {
	s, _ := newTestRateLimiter(5, 15*time.Minute)

	for i := 0; i < 6; i++ {
		s.Check("login:alice")
	}

	s.Reset("login:alice")

	result := s.Check("login:alice")
	assert.True(t, result.Allowed)
	assert.Equal(t, 4, result.Remaining)
}

func TestRateLimitService_PeekDoesNotCount(t *testing.T) {
	s, _ := newTestRateLimiter(5, 15*time.Minute)

	s.Check("login:alice")
	for i := 0; i < 10; i++ {
		s.Peek("login:alice")
	}

	result := s.Peek("login:alice")
	assert.True(t, result.Allowed)
	assert.Equal(t, 4, result.Remaining)
}

func TestRateLimitService_Sweep_DropsExpiredWindows(t *testing.T) {
	s, now := newTestRateLimiter(5, 15*time.Minute)

	s.Check("login:alice")
	s.Check("login:bob")
	assert.Equal(t, 2, s.Len())

	*now = now.Add(16 * time.Minute)
	s.Check("login:carol")

	removed := s.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Len())
}
