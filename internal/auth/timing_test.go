package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimingDelay_Wait_DelaysOnFailure(t *testing.T) {
	var slept time.Duration
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 50})
	td.sleep = func(d time.Duration) { slept = d }

	td.Wait(false)
	assert.Equal(t, 50*time.Millisecond, slept)
}

func TestTimingDelay_Wait_NoDelayOnSuccess(t *testing.T) {
	var slept time.Duration
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 50})
	td.sleep = func(d time.Duration) { slept = d }

	td.Wait(true)
	assert.Zero(t, slept)
}

func TestTimingDelay_Wait_RandomComponentBounded(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 10, RandomDelayMs: 20})
	var slept time.Duration
	td.sleep = func(d time.Duration) { slept = d }

	for i := 0; i < 50; i++ {
		td.Wait(false)
		assert.GreaterOrEqual(t, slept, 10*time.Millisecond)
		assert.Less(t, slept, 30*time.Millisecond)
	}
}

func TestTimingDelay_WaitFrom_AccountsForElapsedTime(t *testing.T) {
	var slept time.Duration
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 100})
	td.sleep = func(d time.Duration) { slept = d }

	start := time.Now().Add(-40 * time.Millisecond)
	td.WaitFrom(start, false)

	assert.Greater(t, slept, 40*time.Millisecond)
	assert.LessOrEqual(t, slept, 60*time.Millisecond)
}

func TestCryptoRandIntn(t *testing.T) {
	for i := 0; i < 100; i++ {
		n, err := cryptoRandIntn(10)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 10)
	}

	n, err := cryptoRandIntn(0)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
