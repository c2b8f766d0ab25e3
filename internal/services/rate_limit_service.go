package services

import (
	"log/slog"
	"sync"
	"time"
)

// RateLimitConfig holds configuration for fixed-window rate limiting
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitResult is the outcome of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

type rateWindow struct {
	count     int
	expiresAt time.Time
}

// RateLimitService is a fixed-window counter keyed by an opaque string
// (identifier, IP, or a combination). Windows are not sliding: the counter
// resets fully at the window boundary. Expired windows are dropped lazily on
// access and by the periodic Sweep.
type RateLimitService struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	config  RateLimitConfig
	logger  *slog.Logger

	now func() time.Time
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		windows: make(map[string]*rateWindow),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the time source, for deterministic tests.
func (s *RateLimitService) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Check counts an attempt against the key's current window and reports
// whether it is allowed. The attempt is counted even when denied, so a
// client hammering the endpoint never makes progress toward a fresh window.
func (s *RateLimitService) Check(key string) RateLimitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, found := s.windows[key]
	if !found || now.After(w.expiresAt) {
		w = &rateWindow{expiresAt: now.Add(s.config.Window)}
		s.windows[key] = w
	}

	w.count++

	remaining := s.config.MaxAttempts - w.count
	if remaining < 0 {
		remaining = 0
	}

	result := RateLimitResult{
		Allowed:   w.count <= s.config.MaxAttempts,
		Remaining: remaining,
		ResetIn:   w.expiresAt.Sub(now),
	}

	if !result.Allowed {
		s.logger.Warn("rate limit exceeded",
			slog.Int("attempts", w.count),
			slog.Duration("reset_in", result.ResetIn))
	}

	return result
}

// Peek reports the current window state without counting an attempt.
func (s *RateLimitService) Peek(key string) RateLimitResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, found := s.windows[key]
	if !found || now.After(w.expiresAt) {
		return RateLimitResult{Allowed: true, Remaining: s.config.MaxAttempts, ResetIn: 0}
	}

	remaining := s.config.MaxAttempts - w.count
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitResult{
		Allowed:   w.count < s.config.MaxAttempts,
		Remaining: remaining,
		ResetIn:   w.expiresAt.Sub(now),
	}
}

// Reset clears the window for a key, e.g. after a successful login.
func (s *RateLimitService) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Sweep drops expired windows. Housekeeping only; lazy expiry on access
// already keeps results correct.
func (s *RateLimitService) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.windows {
		if now.After(w.expiresAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live windows.
func (s *RateLimitService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
