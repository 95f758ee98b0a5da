package expiry

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts timer scheduling so the state machine can be driven by a
// mock in tests instead of wall time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func SystemClock() Clock { return systemClock{} }

// Mock is a manually advanced clock. Advance moves time forward and fires
// due timers in deadline order on the calling goroutine, so tests are fully
// deterministic.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

func NewMock() *Mock {
	return &Mock{now: time.Unix(1, 0)}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTimer{mock: m, when: m.now.Add(d), fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)

	for {
		sort.Slice(m.timers, func(i, j int) bool {
			return m.timers[i].when.Before(m.timers[j].when)
		})

		var next *mockTimer
		for _, t := range m.timers {
			if !t.stopped && !t.when.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			break
		}

		m.now = next.when
		next.stopped = true
		m.remove(next)

		// Fire without the lock: the callback may schedule new timers.
		m.mu.Unlock()
		next.fn()
		m.mu.Lock()
	}

	m.now = target
	m.mu.Unlock()
}

func (m *Mock) remove(t *mockTimer) {
	for i, cur := range m.timers {
		if cur == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type mockTimer struct {
	mock    *Mock
	when    time.Time
	fn      func()
	stopped bool
}

func (t *mockTimer) Stop() bool {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()

	if t.stopped {
		return false
	}
	t.stopped = true
	t.mock.remove(t)
	return true
}
