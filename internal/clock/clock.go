// Package clock abstracts wall time and one-shot timers so timer-driven
// code can run against simulated time in tests.
package clock

import "time"

// Timer is a cancellable one-shot callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the callback from running.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real is the process clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }
