// Package streak implements daily engagement streak tracking with a
// grace window for activity slightly beyond 24 hours.
package streak

import "time"

// State is the per-user streak state carried on the progress aggregate.
type State struct {
	Days         int
	Longest      int
	LastActivity time.Time
}

// Outcome describes what a single activity did to the streak.
type Outcome int

const (
	// Unchanged: activity on the same calendar day as the last one.
	Unchanged Outcome = iota
	// Extended: activity within the grace window, streak grew by one.
	Extended
	// Reset: activity beyond the grace window, streak restarted at one.
	Reset
	// Started: first recorded activity for the user.
	Started
)

// Tracker advances streak state from activity timestamps.
// The grace window is 24h plus a configurable buffer, measured from the
// previous activity timestamp.
type Tracker struct {
	graceBuffer time.Duration
}

// NewTracker creates a tracker with the given grace buffer.
func NewTracker(graceBuffer time.Duration) *Tracker {
	return &Tracker{graceBuffer: graceBuffer}
}

// Advance applies a new activity at the given time and returns the
// updated state. LastActivity is updated on every call. Longest is only
// ever raised, never lowered by a reset.
func (t *Tracker) Advance(s State, at time.Time) (State, Outcome) {
	at = at.UTC()

	if s.LastActivity.IsZero() {
		return State{Days: 1, Longest: max(s.Longest, 1), LastActivity: at}, Started
	}

	last := s.LastActivity.UTC()
	if sameDay(last, at) || at.Before(last) {
		// Out-of-order timestamps never move the streak backwards.
		if at.After(last) {
			s.LastActivity = at
		}
		return s, Unchanged
	}

	if at.Sub(last) <= 24*time.Hour+t.graceBuffer {
		s.Days++
		s.Longest = max(s.Longest, s.Days)
		s.LastActivity = at
		return s, Extended
	}

	s.Days = 1
	s.Longest = max(s.Longest, 1)
	s.LastActivity = at
	return s, Reset
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
