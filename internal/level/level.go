// Package level implements the level calculator: a pure mapping from a
// cumulative point total to the tier whose range contains it.
package level

import (
	"fmt"

	"gamification-engine/internal/config"
)

// Tier is one named band of cumulative points.
// MaxPoints == 0 marks the final, unbounded tier.
type Tier struct {
	Number    int
	Name      string
	MinPoints int64
	MaxPoints int64
	Benefits  []string
}

// Contains reports whether totalPoints falls inside the tier's
// half-open range [MinPoints, MaxPoints).
func (t Tier) Contains(totalPoints int64) bool {
	if totalPoints < t.MinPoints {
		return false
	}
	return t.MaxPoints == 0 || totalPoints < t.MaxPoints
}

// Calculator resolves point totals to tiers. It holds the ordered tier
// table and performs no I/O.
type Calculator struct {
	tiers []Tier
}

// NewCalculator builds a calculator from configured level definitions.
// The configuration is validated at load time; the calculator trusts the
// ranges to be ordered, contiguous and covering [0, inf).
func NewCalculator(levels []config.LevelConfig) (*Calculator, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("no level tiers configured")
	}
	tiers := make([]Tier, len(levels))
	for i, l := range levels {
		tiers[i] = Tier{
			Number:    l.Tier,
			Name:      l.Name,
			MinPoints: l.MinPoints,
			MaxPoints: l.MaxPoints,
			Benefits:  l.Benefits,
		}
	}
	return &Calculator{tiers: tiers}, nil
}

// Compute returns the single tier containing totalPoints. A jump across
// several bands lands directly on the containing tier; intermediate tiers
// are never visited. Negative totals clamp to the first tier.
func (c *Calculator) Compute(totalPoints int64) Tier {
	for _, t := range c.tiers {
		if t.Contains(totalPoints) {
			return t
		}
	}
	return c.tiers[0]
}

// Advance computes the tier for totalPoints and reports whether it is
// higher than the previously stored tier number.
func (c *Calculator) Advance(prevTier int, totalPoints int64) (Tier, bool) {
	t := c.Compute(totalPoints)
	return t, t.Number > prevTier
}

// Tiers returns the full ordered tier table.
func (c *Calculator) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}
