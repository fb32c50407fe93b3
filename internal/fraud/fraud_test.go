package fraud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"gamification-engine/internal/config"
	"gamification-engine/internal/pkg/clock"
)

var start = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testConfig() config.FraudConfig {
	return config.FraudConfig{
		Lookback:        5 * time.Minute,
		MaxTransactions: 50,
		MinTransactions: 3,
		VelocityLimit:   100,
		ReviewThreshold: 3,
	}
}

func TestAssess_BurstExceedsLimit(t *testing.T) {
	clk := &clock.Fixed{Time: start.Add(2 * time.Second)}
	d := NewDetector(testConfig(), clk)

	// 10 awards totaling 1500 points within 2 seconds.
	var history []Sample
	for i := 0; i < 10; i++ {
		history = append(history, Sample{
			Points:    150,
			CreatedAt: start.Add(time.Duration(i) * 200 * time.Millisecond),
		})
	}

	a := d.Assess(history)
	assert.True(t, a.Exceeded)
	assert.Greater(t, a.Velocity, 100.0)
}

func TestAssess_SlowAccumulationIsClean(t *testing.T) {
	clk := &clock.Fixed{Time: start.Add(5 * time.Minute)}
	d := NewDetector(testConfig(), clk)

	var history []Sample
	for i := 0; i < 5; i++ {
		history = append(history, Sample{
			Points:    100,
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		})
	}

	a := d.Assess(history)
	assert.False(t, a.Exceeded)
}

func TestAssess_TooFewSamplesNeverExceeds(t *testing.T) {
	clk := &clock.Fixed{Time: start}
	d := NewDetector(testConfig(), clk)

	history := []Sample{
		{Points: 10_000, CreatedAt: start},
		{Points: 10_000, CreatedAt: start},
	}
	a := d.Assess(history)
	assert.False(t, a.Exceeded)
	assert.Zero(t, a.Velocity)
}

func TestAssess_OldTransactionsOutsideLookbackIgnored(t *testing.T) {
	clk := &clock.Fixed{Time: start.Add(10 * time.Minute)}
	d := NewDetector(testConfig(), clk)

	// Burst happened ten minutes ago, outside the 5 minute lookback.
	var history []Sample
	for i := 0; i < 10; i++ {
		history = append(history, Sample{Points: 150, CreatedAt: start})
	}
	a := d.Assess(history)
	assert.False(t, a.Exceeded)
}

func TestAssess_SameInstantBurstIsFinite(t *testing.T) {
	clk := &clock.Fixed{Time: start}
	d := NewDetector(testConfig(), clk)

	history := []Sample{
		{Points: 100, CreatedAt: start},
		{Points: 100, CreatedAt: start},
		{Points: 100, CreatedAt: start},
	}
	a := d.Assess(history)
	assert.True(t, a.Exceeded)
	// 300 points over the clamped 100ms floor.
	assert.InDelta(t, 3000, a.Velocity, 0.001)
}

func TestScore_CrossesReviewThreshold(t *testing.T) {
	d := NewDetector(testConfig(), &clock.Fixed{Time: start})

	score := 0
	var review bool
	for i := 0; i < 3; i++ {
		score, review = d.Score(score, Assessment{Exceeded: true})
	}
	assert.Equal(t, 3, score)
	assert.True(t, review)

	// Clean assessments never raise the score.
	score, review = d.Score(score, Assessment{})
	assert.Equal(t, 3, score)
	assert.True(t, review)
}

// TestAssessDeterminismProperty: the same history and clock always
// produce the same assessment, and velocity is never negative for
// non-negative amounts.
func TestAssessDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "samples")
		clk := &clock.Fixed{Time: start.Add(10 * time.Minute)}
		d := NewDetector(testConfig(), clk)

		var history []Sample
		for i := 0; i < n; i++ {
			history = append(history, Sample{
				Points:    rapid.Int64Range(1, 500).Draw(t, "points"),
				CreatedAt: start.Add(time.Duration(rapid.Int64Range(0, int64(12*time.Minute)).Draw(t, "offset"))),
			})
		}

		a1 := d.Assess(history)
		a2 := d.Assess(history)
		if a1 != a2 {
			t.Fatalf("non-deterministic assessment: %+v vs %+v", a1, a2)
		}
		if a1.Velocity < 0 {
			t.Fatalf("negative velocity %f", a1.Velocity)
		}
	})
}
