package ratelimiter

import (
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is satisfied by FixedWindowRateLimiter. The returned duration is
// how long the caller should wait before retrying when not allowed.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
	Close()
}

// FixedWindowRateLimiter caps the number of events per key per wall-clock
// aligned window. Keys are arbitrary: the server uses client IPs, the session
// uses a single key to throttle its own sends.
type FixedWindowRateLimiter struct {
	counts      sync.Map // string -> *windowCounter
	limit       int64
	window      time.Duration
	cleanupTick *time.Ticker
	done        chan struct{}
}

type windowCounter struct {
	count   int64        // atomic
	resetAt atomic.Value // stores time.Time
	mu      sync.Mutex   // only for window rollover (rare)
}

func NewFixedWindowRateLimiter(limit int, window time.Duration) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		limit:       int64(limit),
		window:      window,
		cleanupTick: time.NewTicker(window),
		done:        make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	nextReset := now.Truncate(rl.window).Add(rl.window)

	val, _ := rl.counts.LoadOrStore(key, &windowCounter{})
	wc := val.(*windowCounter)

	// First event for this key
	if wc.resetAt.Load() == nil {
		wc.resetAt.Store(nextReset)
		atomic.StoreInt64(&wc.count, 1)
		return true, 0
	}

	currentReset := wc.resetAt.Load().(time.Time)

	if now.Before(currentReset) {
		return rl.tryIncrement(wc, currentReset)
	}

	// --- Window expired: roll over ---
	wc.mu.Lock()
	defer wc.mu.Unlock()

	// Another goroutine may have rolled the window while we waited
	if currentReset := wc.resetAt.Load().(time.Time); now.Before(currentReset) {
		return rl.tryIncrement(wc, currentReset)
	}

	atomic.StoreInt64(&wc.count, 1)
	wc.resetAt.Store(nextReset)
	return true, 0
}

func (rl *FixedWindowRateLimiter) tryIncrement(wc *windowCounter, resetAt time.Time) (bool, time.Duration) {
	newCount := atomic.AddInt64(&wc.count, 1)
	if newCount-1 >= rl.limit {
		atomic.AddInt64(&wc.count, -1) // rollback
		return false, time.Until(resetAt)
	}
	return true, 0
}

func (rl *FixedWindowRateLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) cleanup() {
	now := time.Now()
	rl.counts.Range(func(key, value any) bool {
		wc := value.(*windowCounter)
		if resetAt := wc.resetAt.Load(); resetAt != nil {
			if now.After(resetAt.(time.Time)) {
				rl.counts.Delete(key)
			}
		}
		return true
	})
}

func (rl *FixedWindowRateLimiter) Close() {
	close(rl.done)
	rl.cleanupTick.Stop()
}
