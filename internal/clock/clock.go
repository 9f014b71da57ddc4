// Package clock abstracts time so the retry schedule can be driven by virtual
// time in tests.
package clock

import "time"

// Clock is the subset of the time package the scheduler needs
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot timer
type Timer interface {
	// Stop prevents the timer from firing. Returns false if it already fired or was stopped.
	Stop() bool
}

// Real is the wall clock
type Real struct{}

// New returns the wall clock
func New() Clock { return Real{} }

// Now implements Clock
func (Real) Now() time.Time { return time.Now() }

// AfterFunc implements Clock
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
