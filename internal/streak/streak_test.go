package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var base = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func TestAdvance_FirstActivityStartsStreak(t *testing.T) {
	tr := NewTracker(2 * time.Hour)

	s, outcome := tr.Advance(State{}, base)
	assert.Equal(t, Started, outcome)
	assert.Equal(t, 1, s.Days)
	assert.Equal(t, 1, s.Longest)
	assert.Equal(t, base, s.LastActivity)
}

func TestAdvance_SameDayUnchanged(t *testing.T) {
	tr := NewTracker(2 * time.Hour)

	s, _ := tr.Advance(State{}, base)
	s, outcome := tr.Advance(s, base.Add(5*time.Hour))
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, 1, s.Days)
	assert.Equal(t, base.Add(5*time.Hour), s.LastActivity)
}

func TestAdvance_WithinGraceExtends(t *testing.T) {
	tr := NewTracker(2 * time.Hour)

	// Activity at hour 0, then hour 25: within 24h+2h grace, streak = 2.
	s, _ := tr.Advance(State{}, base)
	s, outcome := tr.Advance(s, base.Add(25*time.Hour))
	assert.Equal(t, Extended, outcome)
	assert.Equal(t, 2, s.Days)
	assert.Equal(t, 2, s.Longest)
}

func TestAdvance_BeyondGraceResets(t *testing.T) {
	tr := NewTracker(2 * time.Hour)

	// Activity at hour 0, then hour 49: beyond the grace window, reset to 1.
	s, _ := tr.Advance(State{}, base)
	s, _ = tr.Advance(s, base.Add(25*time.Hour))
	s, outcome := tr.Advance(s, base.Add(25*time.Hour).Add(49*time.Hour))
	assert.Equal(t, Reset, outcome)
	assert.Equal(t, 1, s.Days)
	// Longest streak is preserved across the reset.
	assert.Equal(t, 2, s.Longest)
}

func TestAdvance_GraceBoundaryExact(t *testing.T) {
	tr := NewTracker(2 * time.Hour)

	s, _ := tr.Advance(State{}, base)
	s, outcome := tr.Advance(s, base.Add(26*time.Hour))
	assert.Equal(t, Extended, outcome)
	assert.Equal(t, 2, s.Days)

	s2, _ := tr.Advance(State{}, base)
	s2, outcome = tr.Advance(s2, base.Add(26*time.Hour+time.Second))
	assert.Equal(t, Reset, outcome)
	assert.Equal(t, 1, s2.Days)
}

func TestAdvance_OutOfOrderTimestampIgnored(t *testing.T) {
	tr := NewTracker(2 * time.Hour)

	s, _ := tr.Advance(State{}, base.Add(48*time.Hour))
	s, outcome := tr.Advance(s, base)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, base.Add(48*time.Hour), s.LastActivity)
}

// TestAdvanceProperty replays random activity gaps and checks the
// structural invariants: Days >= 1 after any activity, Longest never
// decreases and always bounds Days, LastActivity never moves backwards.
func TestAdvanceProperty(t *testing.T) {
	tr := NewTracker(2 * time.Hour)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "activities")

		s := State{}
		at := base
		prevLongest := 0

		for i := 0; i < n; i++ {
			gap := time.Duration(rapid.Int64Range(0, 80*int64(time.Hour)).Draw(t, "gap"))
			at = at.Add(gap)

			s, _ = tr.Advance(s, at)

			if s.Days < 1 {
				t.Fatalf("streak days dropped below 1: %d", s.Days)
			}
			if s.Longest < s.Days {
				t.Fatalf("longest %d below current %d", s.Longest, s.Days)
			}
			if s.Longest < prevLongest {
				t.Fatalf("longest decreased: %d -> %d", prevLongest, s.Longest)
			}
			if s.LastActivity.After(at) {
				t.Fatalf("last activity in the future")
			}
			prevLongest = s.Longest
		}
	})
}
