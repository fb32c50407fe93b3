// Package fraud implements the velocity heuristic that flags suspiciously
// fast point accumulation. The detector is advisory: it never blocks an
// award, and it is a deterministic function of transaction history and the
// injected clock.
package fraud

import (
	"time"

	"gamification-engine/internal/config"
	"gamification-engine/internal/pkg/clock"
)

// Sample is one ledger transaction as seen by the detector.
type Sample struct {
	Points    int64
	CreatedAt time.Time
}

// Assessment is the detector's verdict for one award.
type Assessment struct {
	// Velocity is points per second over the observed window.
	Velocity float64
	// Exceeded reports whether Velocity crossed the configured limit.
	Exceeded bool
}

// minElapsed bounds the denominator so a burst of same-instant
// transactions yields a finite, very large velocity.
const minElapsed = 100 * time.Millisecond

// Detector scores award velocity over a sliding time window.
type Detector struct {
	lookback        time.Duration
	maxTransactions int
	minTransactions int
	velocityLimit   float64
	reviewThreshold int
	clock           clock.Clock
}

// NewDetector creates a detector from configuration.
func NewDetector(cfg config.FraudConfig, clk clock.Clock) *Detector {
	return &Detector{
		lookback:        cfg.Lookback,
		maxTransactions: cfg.MaxTransactions,
		minTransactions: cfg.MinTransactions,
		velocityLimit:   cfg.VelocityLimit,
		reviewThreshold: cfg.ReviewThreshold,
		clock:           clk,
	}
}

// Assess computes the velocity metric over the samples that fall inside
// the lookback window ending at the injected clock's current time.
func (d *Detector) Assess(history []Sample) Assessment {
	return d.AssessAt(history, d.clock.Now())
}

// AssessAt computes the velocity metric over the samples inside the
// lookback window ending at the given instant. Reconciliation uses this
// to replay historical windows. Fewer than the configured minimum of
// samples never exceeds: a short history is not evidence of abuse.
func (d *Detector) AssessAt(history []Sample, now time.Time) Assessment {
	cutoff := now.Add(-d.lookback)

	var window []Sample
	for _, s := range history {
		if s.CreatedAt.Before(cutoff) {
			continue
		}
		window = append(window, s)
	}
	if d.maxTransactions > 0 && len(window) > d.maxTransactions {
		window = window[len(window)-d.maxTransactions:]
	}
	if len(window) < d.minTransactions {
		return Assessment{}
	}

	var points int64
	first, last := window[0].CreatedAt, window[0].CreatedAt
	for _, s := range window {
		points += s.Points
		if s.CreatedAt.Before(first) {
			first = s.CreatedAt
		}
		if s.CreatedAt.After(last) {
			last = s.CreatedAt
		}
	}

	elapsed := last.Sub(first)
	if elapsed < minElapsed {
		elapsed = minElapsed
	}

	velocity := float64(points) / elapsed.Seconds()
	return Assessment{
		Velocity: velocity,
		Exceeded: velocity > d.velocityLimit,
	}
}

// Score applies an assessment to the running fraud score and reports the
// new score and whether it crossed the manual-review threshold.
func (d *Detector) Score(current int, a Assessment) (int, bool) {
	if a.Exceeded {
		current++
	}
	return current, current >= d.reviewThreshold
}
