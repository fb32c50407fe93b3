// Package badge implements the badge evaluator: a rule-dispatch engine
// matching aggregate state against a closed set of tagged unlock criteria.
// Criteria are data, never free-form scripting, so evaluation stays
// deterministic and auditable.
package badge

import (
	"fmt"
	"strings"

	"gamification-engine/internal/config"
	"gamification-engine/internal/model"
)

// Criteria kinds.
const (
	CriteriaCountThreshold = "count_threshold"
	CriteriaCompositeAnd   = "composite_and"
	CriteriaExternalSignal = "external_signal"
)

// Counter names understood by count_threshold criteria. Per-action
// counters use the "action:" prefix followed by the action type.
const (
	CounterTotalPoints   = "total_points"
	CounterStreakDays    = "streak_days"
	CounterLongestStreak = "longest_streak"
	CounterTransactions  = "transactions"

	actionCounterPrefix = "action:"
)

// Criteria is one tagged unlock predicate.
type Criteria struct {
	Type      string
	Counter   string
	Threshold int64
	Flag      string
	All       []Criteria
}

// Definition is one badge with its unlock criteria and point bonus.
type Definition struct {
	ID       string
	Category string
	Rarity   string
	Points   int64
	Criteria Criteria
}

// Context is the state a badge is evaluated against: the current progress
// aggregate, per-action transaction counts, and the external signal flags
// supplied by the triggering action event.
type Context struct {
	Progress     *model.UserProgress
	ActionCounts map[string]int64
	TotalTxns    int64
	Flags        map[string]bool
}

// Evaluator holds the badge definitions and decides unlocks.
type Evaluator struct {
	defs []Definition
}

// FromConfig builds an evaluator from configured badge definitions.
func FromConfig(badges []config.BadgeConfig) (*Evaluator, error) {
	defs := make([]Definition, 0, len(badges))
	for _, b := range badges {
		cr, err := criteriaFromConfig(b.ID, b.Criteria)
		if err != nil {
			return nil, err
		}
		defs = append(defs, Definition{
			ID:       b.ID,
			Category: b.Category,
			Rarity:   b.Rarity,
			Points:   b.Points,
			Criteria: cr,
		})
	}
	return &Evaluator{defs: defs}, nil
}

func criteriaFromConfig(badgeID string, cr config.CriteriaConfig) (Criteria, error) {
	out := Criteria{
		Type:      cr.Type,
		Counter:   cr.Counter,
		Threshold: cr.Threshold,
		Flag:      cr.Flag,
	}
	switch cr.Type {
	case CriteriaCountThreshold, CriteriaExternalSignal:
	case CriteriaCompositeAnd:
		for _, sub := range cr.All {
			s, err := criteriaFromConfig(badgeID, sub)
			if err != nil {
				return Criteria{}, err
			}
			out.All = append(out.All, s)
		}
	default:
		return Criteria{}, fmt.Errorf("badge %q: unknown criteria type %q", badgeID, cr.Type)
	}
	return out, nil
}

// Definitions returns the full badge table.
func (e *Evaluator) Definitions() []Definition {
	out := make([]Definition, len(e.defs))
	copy(out, e.defs)
	return out
}

// Pending returns the badges whose criteria are satisfied by ctx and that
// the user has not yet earned. The caller records the unlock and routes
// the bonus through the ledger; newly earned bonus points are not re-fed
// into another evaluation pass.
func (e *Evaluator) Pending(ctx Context) []Definition {
	var unlocked []Definition
	for _, def := range e.defs {
		if ctx.Progress.HasBadge(def.ID) {
			continue
		}
		if e.satisfied(def.Criteria, ctx) {
			unlocked = append(unlocked, def)
		}
	}
	return unlocked
}

func (e *Evaluator) satisfied(cr Criteria, ctx Context) bool {
	switch cr.Type {
	case CriteriaCountThreshold:
		return counterValue(cr.Counter, ctx) >= cr.Threshold
	case CriteriaCompositeAnd:
		for _, sub := range cr.All {
			if !e.satisfied(sub, ctx) {
				return false
			}
		}
		return true
	case CriteriaExternalSignal:
		return ctx.Flags[cr.Flag]
	}
	return false
}

func counterValue(counter string, ctx Context) int64 {
	switch counter {
	case CounterTotalPoints:
		return ctx.Progress.TotalPoints
	case CounterStreakDays:
		return int64(ctx.Progress.StreakDays)
	case CounterLongestStreak:
		return int64(ctx.Progress.LongestStreak)
	case CounterTransactions:
		return ctx.TotalTxns
	}
	if t, ok := strings.CutPrefix(counter, actionCounterPrefix); ok {
		return ctx.ActionCounts[t]
	}
	return 0
}
