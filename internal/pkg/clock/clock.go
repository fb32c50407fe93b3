// Package clock provides an injectable time source so time-dependent logic
// (streak windows, fraud velocity) stays deterministic under test.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by the wall clock.
func System() Clock { return systemClock{} }

// Fixed is a Clock pinned to a settable instant, for tests.
type Fixed struct {
	Time time.Time
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time { return f.Time }

// Advance moves the pinned instant forward.
func (f *Fixed) Advance(d time.Duration) { f.Time = f.Time.Add(d) }
