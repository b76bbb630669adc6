// Package clock implements the per-game dual countdown described in the
// session engine's design: two remaining-time budgets, a running side, and
// a flag-fall notification fired at most once. Remaining time is always
// computed lazily against wall-clock rather than ticked, so a snapshot is
// exact to the instant it was taken without racing a background goroutine.
package clock

import (
	"sync"
	"time"

	"github.com/jason-s-yu/chessd/internal/chessoracle"
)

// Snapshot is a read-only freeze of both sides' remaining time.
type Snapshot struct {
	WhiteRemaining time.Duration
	BlackRemaining time.Duration
	RunningSide    chessoracle.Side
	ServerInstant  time.Time
}

// Clock tracks the two countdowns for one game. It never ticks to perform
// the debit: remaining time is computed lazily in Switch, Snapshot and
// Stop. The only timer it arms itself is the flag-fall deadline for the
// running side; periodic broadcasts are left to the caller.
type Clock struct {
	mu sync.Mutex

	white time.Duration
	black time.Duration

	running      chessoracle.Side
	runningSince time.Time
	stopped      bool

	flagFallFired bool
	onFlagFall    func(losingSide chessoracle.Side)

	deadlineTimer *time.Timer
}

// New constructs a Clock with both sides given timeControl, white already
// running as of now (the pairing instant, not move one). onFlagFall is
// invoked at most once, from the Clock's own deadline timer goroutine, when
// the running side's live remaining time first reaches zero; it must not
// block and must not call back into the Clock.
func New(timeControl time.Duration, onFlagFall func(losingSide chessoracle.Side)) *Clock {
	c := &Clock{
		white:        timeControl,
		black:        timeControl,
		running:      chessoracle.White,
		runningSince: time.Now(),
		onFlagFall:   onFlagFall,
	}
	c.scheduleDeadline()
	return c
}

// Switch stops the running side (debiting its elapsed time), starts the
// other side, and reschedules the flag-fall deadline against the new
// running side's remaining budget.
func (c *Clock) Switch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.debitLocked(time.Now())
	c.running = c.running.Other()
	c.runningSince = time.Now()
	c.scheduleDeadlineLocked()
}

// Snapshot computes each side's remaining time as of now without mutating
// any state, so concurrent observers never race the debit performed by
// Switch or by the flag-fall deadline firing.
func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	white, black := c.white, c.black
	if !c.stopped {
		elapsed := now.Sub(c.runningSince)
		if elapsed < 0 {
			elapsed = 0
		}
		if c.running == chessoracle.White {
			white = clampNonNegative(white - elapsed)
		} else {
			black = clampNonNegative(black - elapsed)
		}
	}
	return Snapshot{
		WhiteRemaining: white,
		BlackRemaining: black,
		RunningSide:    c.running,
		ServerInstant:  now,
	}
}

// Stop freezes both sides' remaining time at their current debited value
// and cancels any pending deadline. Stop is idempotent.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.debitLocked(time.Now())
	c.stopped = true
	if c.deadlineTimer != nil {
		c.deadlineTimer.Stop()
	}
}

// debitLocked decrements the running side's remaining time by the elapsed
// duration since runningSince, clamped to zero. Caller holds c.mu.
func (c *Clock) debitLocked(now time.Time) {
	elapsed := now.Sub(c.runningSince)
	if elapsed < 0 {
		elapsed = 0
	}
	if c.running == chessoracle.White {
		c.white = clampNonNegative(c.white - elapsed)
	} else {
		c.black = clampNonNegative(c.black - elapsed)
	}
}

func (c *Clock) scheduleDeadline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleDeadlineLocked()
}

// scheduleDeadlineLocked arms a timer for the running side's current
// remaining budget. Caller holds c.mu.
func (c *Clock) scheduleDeadlineLocked() {
	if c.deadlineTimer != nil {
		c.deadlineTimer.Stop()
	}
	remaining := c.white
	if c.running == chessoracle.Black {
		remaining = c.black
	}
	if remaining < 0 {
		remaining = 0
	}
	// Route a zero-or-negative budget through the same AfterFunc path as a
	// normal deadline rather than calling triggerFlagFall inline: callers of
	// scheduleDeadlineLocked (New, Switch) hold c.mu, and triggerFlagFall
	// re-locks it.
	losingSide := c.running
	c.deadlineTimer = time.AfterFunc(remaining, func() {
		c.handleDeadline(losingSide)
	})
}

// handleDeadline re-validates the deadline against the live snapshot before
// firing: a Switch may have occurred concurrently and rearmed a fresh
// timer, in which case this stale firing is ignored.
func (c *Clock) handleDeadline(losingSide chessoracle.Side) {
	c.mu.Lock()
	if c.stopped || c.running != losingSide {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	elapsed := now.Sub(c.runningSince)
	remaining := c.white
	if losingSide == chessoracle.Black {
		remaining = c.black
	}
	if elapsed < remaining {
		// Fired early due to scheduling jitter; rearm for the remainder.
		c.deadlineTimer = time.AfterFunc(remaining-elapsed, func() {
			c.handleDeadline(losingSide)
		})
		c.mu.Unlock()
		return
	}
	c.debitLocked(now)
	c.mu.Unlock()
	c.triggerFlagFall()
}

func (c *Clock) triggerFlagFall() {
	c.mu.Lock()
	if c.flagFallFired || c.stopped {
		c.mu.Unlock()
		return
	}
	c.flagFallFired = true
	c.stopped = true
	losingSide := c.running
	sink := c.onFlagFall
	c.mu.Unlock()
	if sink != nil {
		sink(losingSide)
	}
}

func clampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
