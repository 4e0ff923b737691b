// Package clock abstracts wall time and cancellable timers so that debounce
// and expiry logic can be driven deterministically in tests.
package clock

import "time"

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// Clock supplies the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Wall is the real clock backed by package time.
type Wall struct{}

// Now returns time.Now().
func (Wall) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc; f runs on its own goroutine.
func (Wall) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Real returns the wall clock.
func Real() Clock {
	return Wall{}
}
