package testutil

import (
	"slices"
	"sync"
	"time"

	"github.com/caseflow/fieldsave/internal/clock"
)

// FakeClock is a manually advanced clock for tests.
//
// Timers never fire on their own. Advance moves time forward and runs every
// timer that has come due, in deadline order, on the calling goroutine.
// Timers scheduled by a firing callback run in the same Advance call if they
// fall due before its target time.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run
// without the clock's lock held, so they may call back into the clock.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int64
	timers []*fakeTimer
}

var _ clock.Clock = (*FakeClock)(nil)

// DefaultEpoch is the start time used by NewFakeClock.
var DefaultEpoch = time.Date(2026, time.January, 2, 9, 0, 0, 0, time.UTC)

// NewFakeClock creates a clock at DefaultEpoch.
func NewFakeClock() *FakeClock {
	return NewFakeClockAt(DefaultEpoch)
}

// NewFakeClockAt creates a clock at a specific time.
func NewFakeClockAt(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

type fakeTimer struct {
	c       *FakeClock
	when    time.Time
	seq     int64
	f       func()
	stopped bool
	fired   bool
}

// Stop cancels the timer.
func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.c.removeLocked(t)
	return true
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has been advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, when: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing due timers along the way.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.removeLocked(next)
		if next.when.After(c.now) {
			c.now = next.when
		}
		c.mu.Unlock()

		next.f()
	}
}

// Set jumps to an absolute time, firing due timers. Moving backwards only
// changes Now.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	now := c.now
	if !t.After(now) {
		c.now = t
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Advance(t.Sub(now))
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.when.After(target) {
			continue
		}
		if next == nil || t.when.Before(next.when) || (t.when.Equal(next.when) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (c *FakeClock) removeLocked(t *fakeTimer) {
	c.timers = slices.DeleteFunc(c.timers, func(x *fakeTimer) bool { return x == t })
}
