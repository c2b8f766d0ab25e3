package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/carterwilliams/bastion/internal/models"
)

// CredentialCache is the process-wide acceleration layer over the durable
// store: session token -> validity with a short TTL, and user id -> profile
// snapshot with a longer TTL. Entries are advisory only; the durable store
// stays authoritative and a cold start just means more misses.
//
// The cache is bounded: when full, the oldest-inserted entry is evicted.
// Losing an entry early only costs a store round trip, never correctness.
type CredentialCache struct {
	mu         sync.Mutex
	sessions   map[string]*list.Element
	profiles   map[string]*list.Element
	order      *list.List // insertion order across both maps, oldest at front
	maxEntries int

	sessionTTL time.Duration
	profileTTL time.Duration

	now func() time.Time
}

type entryKind int

const (
	kindSession entryKind = iota
	kindProfile
)

type entry struct {
	kind      entryKind
	key       string
	valid     bool
	profile   *models.Profile
	expiresAt time.Time
}

// New creates a CredentialCache. maxEntries bounds the combined size of both
// maps; zero or negative falls back to a sane default.
func New(maxEntries int, sessionTTL, profileTTL time.Duration) *CredentialCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &CredentialCache{
		sessions:   make(map[string]*list.Element),
		profiles:   make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		sessionTTL: sessionTTL,
		profileTTL: profileTTL,
		now:        time.Now,
	}
}

// SetClock replaces the time source, for deterministic tests.
func (c *CredentialCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// GetSessionValidity returns the cached validity for a session token. The
// second return is false on miss or expiry.
func (c *CredentialCache) GetSessionValidity(token string) (valid bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.sessions[token]
	if !found {
		return false, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(el)
		return false, false
	}
	return e.valid, true
}

// SetSessionValidity records the validity of a session token.
func (c *CredentialCache) SetSessionValidity(token string, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(c.sessions, token, &entry{
		kind:      kindSession,
		key:       token,
		valid:     valid,
		expiresAt: c.now().Add(c.sessionTTL),
	})
}

// InvalidateSession drops a token's entry so the next check hits the store.
// Called synchronously by revoke paths, so a revoke is observed immediately
// rather than after the TTL ceiling.
func (c *CredentialCache) InvalidateSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, found := c.sessions[token]; found {
		c.removeLocked(el)
	}
}

// GetProfile returns the cached profile snapshot for a user id.
func (c *CredentialCache) GetProfile(userID string) (*models.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.profiles[userID]
	if !found {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(el)
		return nil, false
	}
	return e.profile, true
}

// SetProfile records a profile snapshot.
func (c *CredentialCache) SetProfile(userID string, profile *models.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(c.profiles, userID, &entry{
		kind:      kindProfile,
		key:       userID,
		profile:   profile,
		expiresAt: c.now().Add(c.profileTTL),
	})
}

// InvalidateProfile drops a user's snapshot. Every mutation path that touches
// authorization-relevant fields (role, block flag, 2FA toggle) must call this.
func (c *CredentialCache) InvalidateProfile(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, found := c.profiles[userID]; found {
		c.removeLocked(el)
	}
}

// Sweep removes expired entries. Housekeeping only: lazy expiry-on-access
// already guarantees correctness.
func (c *CredentialCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the combined entry count.
func (c *CredentialCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CredentialCache) insertLocked(m map[string]*list.Element, key string, e *entry) {
	if el, found := m[key]; found {
		c.removeLocked(el)
	}
	for c.order.Len() >= c.maxEntries {
		c.removeLocked(c.order.Front())
	}
	m[key] = c.order.PushBack(e)
}

func (c *CredentialCache) removeLocked(el *list.Element) {
	e := c.order.Remove(el).(*entry)
	switch e.kind {
	case kindSession:
		delete(c.sessions, e.key)
	case kindProfile:
		delete(c.profiles, e.key)
	}
}
