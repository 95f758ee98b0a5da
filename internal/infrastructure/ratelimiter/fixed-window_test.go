package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	rl := NewFixedWindowRateLimiter(3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("client")
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, retryAfter := rl.Allow("client")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestKeysAreIndependent(t *testing.T) {
	rl := NewFixedWindowRateLimiter(1, time.Minute)
	defer rl.Close()

	ok, _ := rl.Allow("a")
	require.True(t, ok)
	ok, _ = rl.Allow("a")
	require.False(t, ok)

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "a different key has its own budget")
}

func TestWindowRollsOver(t *testing.T) {
	rl := NewFixedWindowRateLimiter(1, 50*time.Millisecond)
	defer rl.Close()

	ok, _ := rl.Allow("client")
	require.True(t, ok)
	ok, _ = rl.Allow("client")
	require.False(t, ok)

	time.Sleep(60 * time.Millisecond)

	ok, _ = rl.Allow("client")
	assert.True(t, ok, "budget must reset after the window passes")
}
