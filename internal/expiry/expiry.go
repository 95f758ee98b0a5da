// Package expiry holds the presence-driven expiration state machine. It is
// pure coordination: membership observations and timer ticks in, state plus
// remaining seconds out. It performs no I/O and never touches the wall
// clock directly.
package expiry

import (
	"sync"
	"time"
)

type State int

const (
	Stable State = iota
	GraceWait
	CountingDown
	Expired
)

func (s State) String() string {
	switch s {
	case Stable:
		return "stable"
	case GraceWait:
		return "grace-wait"
	case CountingDown:
		return "counting-down"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

type Config struct {
	// Grace is how long a missing counterpart is tolerated before the
	// visible countdown starts. Presence signals flap on transient network
	// blips; reacting instantly would tear down rooms on every tab refresh.
	Grace time.Duration

	// Countdown is the total visible countdown, decremented once a second.
	Countdown time.Duration

	// WaitForRejoin enables the grace phase. When false a missing
	// counterpart escalates straight to the countdown.
	WaitForRejoin bool
}

// Controller runs the Stable -> GraceWait -> CountingDown -> Expired
// machine for one session. onChange reports every state transition and each
// countdown tick; onExpired fires exactly once, whether the countdown ran
// out or CloseNow was invoked, and never again afterwards.
type Controller struct {
	cfg   Config
	clock Clock

	onChange  func(state State, secondsLeft int)
	onExpired func()

	mu          sync.Mutex
	state       State
	graceTimer  Timer
	tickTimer   Timer
	secondsLeft int
	fired       bool
	stopped     bool
}

func NewController(cfg Config, clock Clock, onChange func(State, int), onExpired func()) *Controller {
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.Countdown <= 0 {
		cfg.Countdown = 10 * time.Second
	}
	return &Controller{
		cfg:       cfg,
		clock:     clock,
		onChange:  onChange,
		onExpired: onExpired,
		state:     Stable,
	}
}

func (c *Controller) State() (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.secondsLeft
}

// Observe feeds the latest membership verdict: whether the required
// counterpart is currently present. Duplicate observations are harmless.
func (c *Controller) Observe(counterpartPresent bool) {
	c.mu.Lock()
	if c.stopped || c.state == Expired {
		c.mu.Unlock()
		return
	}

	var notify []func()
	if counterpartPresent {
		notify = c.recoverLocked()
	} else {
		notify = c.degradeLocked()
	}
	c.mu.Unlock()

	run(notify)
}

func (c *Controller) degradeLocked() []func() {
	if c.state != Stable {
		// Already degraded, a timer is pending.
		return nil
	}

	if c.cfg.WaitForRejoin && c.cfg.Grace > 0 {
		c.state = GraceWait
		c.graceTimer = c.clock.AfterFunc(c.cfg.Grace, c.graceElapsed)
		return []func(){c.changeFn(GraceWait, 0)}
	}
	return c.startCountdownLocked()
}

func (c *Controller) recoverLocked() []func() {
	switch c.state {
	case GraceWait, CountingDown:
		c.cancelTimersLocked()
		c.state = Stable
		c.secondsLeft = 0
		return []func(){c.changeFn(Stable, 0)}
	default:
		return nil
	}
}

func (c *Controller) graceElapsed() {
	c.mu.Lock()
	if c.stopped || c.state != GraceWait {
		c.mu.Unlock()
		return
	}
	c.graceTimer = nil
	notify := c.startCountdownLocked()
	c.mu.Unlock()

	run(notify)
}

func (c *Controller) startCountdownLocked() []func() {
	c.state = CountingDown
	c.secondsLeft = int(c.cfg.Countdown / time.Second)
	c.tickTimer = c.clock.AfterFunc(time.Second, c.tick)
	return []func(){c.changeFn(CountingDown, c.secondsLeft)}
}

func (c *Controller) tick() {
	c.mu.Lock()
	if c.stopped || c.state != CountingDown {
		c.mu.Unlock()
		return
	}

	c.secondsLeft--
	var notify []func()
	if c.secondsLeft <= 0 {
		notify = c.expireLocked()
	} else {
		c.tickTimer = c.clock.AfterFunc(time.Second, c.tick)
		notify = []func(){c.changeFn(CountingDown, c.secondsLeft)}
	}
	c.mu.Unlock()

	run(notify)
}

// CloseNow is the explicit "close this room" action. Valid from any live
// state; racing with the countdown reaching zero still fires teardown once.
func (c *Controller) CloseNow() {
	c.mu.Lock()
	notify := c.expireLocked()
	c.mu.Unlock()

	run(notify)
}

func (c *Controller) expireLocked() []func() {
	if c.fired || c.stopped {
		return nil
	}
	c.fired = true
	c.cancelTimersLocked()
	c.state = Expired
	c.secondsLeft = 0

	notify := []func(){c.changeFn(Expired, 0)}
	if c.onExpired != nil {
		notify = append(notify, c.onExpired)
	}
	return notify
}

// Stop cancels all timers without firing anything. Used on cooperative
// leave, where teardown happens elsewhere. The controller is dead after.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.cancelTimersLocked()
}

func (c *Controller) cancelTimersLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	if c.tickTimer != nil {
		c.tickTimer.Stop()
		c.tickTimer = nil
	}
}

func (c *Controller) changeFn(state State, secondsLeft int) func() {
	if c.onChange == nil {
		return func() {}
	}
	return func() { c.onChange(state, secondsLeft) }
}

func run(notify []func()) {
	for _, fn := range notify {
		fn()
	}
}
