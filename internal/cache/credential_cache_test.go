package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/carterwilliams/bastion/internal/models"
	"github.com/stretchr/testify/assert"
)

func newTestCache(maxEntries int) (*CredentialCache, *time.Time) {
	c := New(maxEntries, 30*time.Second, 60*time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })
	return c, &now
}

func TestCredentialCache_SessionValidity_HitAndMiss(t *testing.T) {
	c, _ := newTestCache(100)

	_, ok := c.GetSessionValidity("tok-1")
	assert.False(t, ok)

	c.SetSessionValidity("tok-1", true)
	valid, ok := c.GetSessionValidity("tok-1")
	assert.True(t, ok)
	assert.True(t, valid)

	c.SetSessionValidity("tok-2", false)
	valid, ok = c.GetSessionValidity("tok-2")
	assert.True(t, ok)
	assert.False(t, valid)
}

func TestCredentialCache_SessionValidity_ExpiresAfterTTL(t *testing.T) {
	c, now := newTestCache(100)

	c.SetSessionValidity("tok-1", true)

	*now = now.Add(29 * time.Second)
	_, ok := c.GetSessionValidity("tok-1")
	assert.True(t, ok)

	*now = now.Add(2 * time.Second)
	_, ok = c.GetSessionValidity("tok-1")
	assert.False(t, ok, "entry should expire after the 30s TTL")
}

func TestCredentialCache_InvalidateSession_Immediate(t *testing.T) {
	c, _ := newTestCache(100)

	c.SetSessionValidity("tok-1", true)
	c.InvalidateSession("tok-1")

	_, ok := c.GetSessionValidity("tok-1")
	assert.False(t, ok, "invalidation must not wait for the TTL")
}

func TestCredentialCache_Profile_TTLLongerThanSession(t *testing.T) {
	c, now := newTestCache(100)

	c.SetProfile("user-1", &models.Profile{ID: "user-1", Role: "admin"})

	*now = now.Add(45 * time.Second)
	p, ok := c.GetProfile("user-1")
	assert.True(t, ok)
	assert.Equal(t, "admin", p.Role)

	*now = now.Add(20 * time.Second)
	_, ok = c.GetProfile("user-1")
	assert.False(t, ok, "profile should expire after the 60s TTL")
}

func TestCredentialCache_InvalidateProfile(t *testing.T) {
	c, _ := newTestCache(100)

	c.SetProfile("user-1", &models.Profile{ID: "user-1", Role: "user"})
	c.InvalidateProfile("user-1")

	_, ok := c.GetProfile("user-1")
	assert.False(t, ok)
}

func TestCredentialCache_BoundedSize_EvictsOldestInserted(t *testing.T) {
	c, _ := newTestCache(3)

	c.SetSessionValidity("tok-1", true)
	c.SetSessionValidity("tok-2", true)
	c.SetSessionValidity("tok-3", true)
	c.SetSessionValidity("tok-4", true)

	assert.Equal(t, 3, c.Len())

	_, ok := c.GetSessionValidity("tok-1")
	assert.False(t, ok, "oldest-inserted entry should be evicted first")

	_, ok = c.GetSessionValidity("tok-4")
	assert.True(t, ok)
}

func TestCredentialCache_Overwrite_DoesNotGrow(t *testing.T) {
	c, _ := newTestCache(100)

	c.SetSessionValidity("tok-1", true)
	c.SetSessionValidity("tok-1", false)

	assert.Equal(t, 1, c.Len())
	valid, ok := c.GetSessionValidity("tok-1")
	assert.True(t, ok)
	assert.False(t, valid)
}

func TestCredentialCache_Sweep_RemovesExpiredOnly(t *testing.T) {
	c, now := newTestCache(100)

	c.SetSessionValidity("tok-old", true)
	*now = now.Add(31 * time.Second)
	c.SetSessionValidity("tok-new", true)

	removed := c.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.GetSessionValidity("tok-new")
	assert.True(t, ok)
}

func TestCredentialCache_ConcurrentAccess(t *testing.T) {
	c := New(1000, 30*time.Second, 60*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("tok-%d", n%10)
			c.SetSessionValidity(key, true)
			c.GetSessionValidity(key)
			c.InvalidateSession(key)
			c.SetProfile(key, &models.Profile{ID: key})
			c.GetProfile(key)
		}(i)
	}
	wg.Wait()
}
