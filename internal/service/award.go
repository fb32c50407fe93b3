// Package service provides the award coordinator: the single entry point
// that turns an action event into a ledger write, derived-state updates
// and result events.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gamification-engine/internal/action"
	"gamification-engine/internal/badge"
	"gamification-engine/internal/config"
	"gamification-engine/internal/fraud"
	"gamification-engine/internal/level"
	"gamification-engine/internal/model"
	"gamification-engine/internal/pkg/clock"
	"gamification-engine/internal/pkg/lock"
	"gamification-engine/internal/repository"
	"gamification-engine/internal/streak"
)

// Common errors for award processing.
var (
	// ErrConcurrencyConflict signals contention on the user's aggregate.
	// Transient: the ledger write is idempotent, so callers retry safely.
	ErrConcurrencyConflict = errors.New("concurrent award conflict")
	// ErrRelatedEntityRequired is returned when a repeatable action event
	// arrives without the entity that scopes its idempotency key.
	ErrRelatedEntityRequired = errors.New("repeatable action requires a related entity")
)

// AwardResult is the consolidated outcome of processing one action event.
type AwardResult struct {
	PointsEarned         int64
	PointsTotalAfter     int64
	AlreadyAwarded       bool
	Level                int
	LevelName            string
	LevelUp              bool
	BadgesUnlocked       []string
	StreakDays           int
	StreakExtended       bool
	FraudScore           int
	ManualReviewRequired bool
}

// Coordinator sequences the ledger, level calculator, streak tracker,
// badge evaluator and fraud detector for each incoming action event.
type Coordinator struct {
	registry *action.Registry
	levels   *level.Calculator
	streaks  *streak.Tracker
	badges   *badge.Evaluator
	detector *fraud.Detector

	ledger   *repository.LedgerRepository
	progress *repository.ProgressRepository

	locks   *lock.UserLock
	clock   clock.Clock
	emitter Emitter
	logger  zerolog.Logger

	lockTimeout   time.Duration
	maxRetries    int
	fraudLookback time.Duration
}

// CoordinatorParams collects the coordinator's dependencies.
type CoordinatorParams struct {
	Registry *action.Registry
	Levels   *level.Calculator
	Streaks  *streak.Tracker
	Badges   *badge.Evaluator
	Detector *fraud.Detector
	Ledger   *repository.LedgerRepository
	Progress *repository.ProgressRepository
	Locks    *lock.UserLock
	Clock    clock.Clock
	Emitter  Emitter
	Logger   zerolog.Logger
	Engine   config.EngineConfig
	Fraud    config.FraudConfig
}

// NewCoordinator creates a Coordinator. When no Emitter is supplied,
// result events go to the structured log.
func NewCoordinator(p CoordinatorParams) *Coordinator {
	if p.Emitter == nil {
		p.Emitter = NewLogEmitter(p.Logger)
	}
	return &Coordinator{
		registry:      p.Registry,
		levels:        p.Levels,
		streaks:       p.Streaks,
		badges:        p.Badges,
		detector:      p.Detector,
		ledger:        p.Ledger,
		progress:      p.Progress,
		locks:         p.Locks,
		clock:         p.Clock,
		emitter:       p.Emitter,
		logger:        p.Logger,
		lockTimeout:   p.Engine.LockTimeout,
		maxRetries:    p.Engine.MaxRetries,
		fraudLookback: p.Fraud.Lookback,
	}
}

// Process handles one action event end to end. The action type is
// validated before any write; awards for the same user are serialized by
// the per-user lock, and the derived-state update uses an optimistic
// version check with bounded retries. A duplicate event short-circuits
// into an idempotent success carrying the current snapshot.
func (c *Coordinator) Process(ctx context.Context, event model.ActionEvent) (*AwardResult, error) {
	def, err := c.registry.Resolve(event.ActionType)
	if err != nil {
		return nil, err
	}

	entityID := ""
	if def.Repeatable {
		if event.RelatedEntity == nil || event.RelatedEntity.ID == "" {
			return nil, fmt.Errorf("%w: %q", ErrRelatedEntityRequired, event.ActionType)
		}
		entityID = event.RelatedEntity.ID
	}

	at := event.Timestamp
	if at.IsZero() {
		at = c.clock.Now()
	}
	at = at.UTC()

	release, err := c.locks.Acquire(ctx, event.UserID, c.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return nil, fmt.Errorf("%w: user %d", ErrConcurrencyConflict, event.UserID)
		}
		return nil, err
	}
	defer release()

	// wroteLedger distinguishes a retry after our own ledger write from a
	// genuinely duplicate event: only the latter may short-circuit.
	wroteLedger := false
	for attempt := 0; ; attempt++ {
		result, wrote, err := c.processOnce(ctx, event, def, entityID, at, wroteLedger)
		wroteLedger = wroteLedger || wrote
		if errors.Is(err, repository.ErrVersionConflict) {
			if attempt >= c.maxRetries {
				return nil, fmt.Errorf("%w: retries exhausted for user %d", ErrConcurrencyConflict, event.UserID)
			}
			c.logger.Debug().
				Int64("user_id", event.UserID).
				Int("attempt", attempt+1).
				Msg("progress version conflict, retrying award")
			continue
		}
		return result, err
	}
}

// processOnce runs one full award sequence against a fresh read of the
// aggregate. The ledger write commits first and is never rolled back by
// later steps; a failure afterwards leaves drift that reconciliation
// repairs from the ledger.
func (c *Coordinator) processOnce(
	ctx context.Context,
	event model.ActionEvent,
	def action.Definition,
	entityID string,
	at time.Time,
	wroteEarlier bool,
) (*AwardResult, bool, error) {
	progress, _, err := c.progress.GetOrCreate(ctx, event.UserID)
	if err != nil {
		return nil, false, err
	}

	key := model.IdempotencyKey(event.UserID, event.ActionType, entityID)
	out, err := c.ledger.InsertAwarded(ctx, event.UserID, event.ActionType, def.Points,
		event.RelatedEntity, key, at)
	if err != nil {
		return nil, false, err
	}
	wrote := !out.AlreadyAwarded

	if out.AlreadyAwarded && !wroteEarlier {
		c.logger.Info().
			Int64("user_id", event.UserID).
			Str("action_type", event.ActionType).
			Str("idempotency_key", key).
			Msg("action already awarded")
		return c.snapshotResult(progress, out.TotalAfter), false, nil
	}

	events := &collector{}
	total := out.TotalAfter

	events.add(model.ResultEvent{
		Type: model.EventPointsEarned, UserID: event.UserID, Timestamp: at,
		Payload: map[string]any{
			"action_type": event.ActionType,
			"points":      def.Points,
			"total":       total,
		},
	})

	// Streak
	state, outcome := c.streaks.Advance(streak.State{
		Days:         progress.StreakDays,
		Longest:      progress.LongestStreak,
		LastActivity: progress.LastActivityDate,
	}, at)
	progress.StreakDays = state.Days
	progress.LongestStreak = state.Longest
	progress.LastActivityDate = state.LastActivity
	if outcome != streak.Unchanged {
		events.add(model.ResultEvent{
			Type: model.EventStreakUpdated, UserID: event.UserID, Timestamp: at,
			Payload: map[string]any{
				"streak_days":    state.Days,
				"longest_streak": state.Longest,
				"extended":       outcome == streak.Extended,
			},
		})
	}

	// Badges. Bonus points route through the ledger under the badge key,
	// and the new totals are not re-fed into another evaluation pass.
	progress.TotalPoints = total
	unlocked, total, err := c.evaluateBadges(ctx, event, progress, total, at, events)
	if err != nil {
		return nil, wrote, err
	}
	progress.TotalPoints = total

	// Level: one lookup on the final total, landing directly on its tier.
	tier, leveledUp := c.levels.Advance(progress.CurrentLevel, total)
	progress.CurrentLevel = tier.Number
	if leveledUp {
		events.add(model.ResultEvent{
			Type: model.EventLevelUp, UserID: event.UserID, Timestamp: at,
			Payload: map[string]any{
				"level":    tier.Number,
				"name":     tier.Name,
				"benefits": tier.Benefits,
			},
		})
	}

	// Fraud: advisory read over the committed window, after the write.
	wasFlagged := progress.ManualReviewRequired
	recent, err := c.ledger.RecentSince(ctx, event.UserID, at.Add(-c.fraudLookback))
	if err != nil {
		return nil, wrote, err
	}
	samples := make([]fraud.Sample, len(recent))
	for i, txn := range recent {
		samples[i] = fraud.Sample{Points: txn.PointsAmount, CreatedAt: txn.CreatedAt}
	}
	assessment := c.detector.AssessAt(samples, at)
	score, review := c.detector.Score(progress.FraudScore, assessment)
	progress.FraudScore = score
	if review {
		progress.ManualReviewRequired = true
	}
	if progress.ManualReviewRequired && !wasFlagged {
		events.add(model.ResultEvent{
			Type: model.EventFraudFlagged, UserID: event.UserID, Timestamp: at,
			Payload: map[string]any{
				"fraud_score": score,
				"velocity":    assessment.Velocity,
			},
		})
		c.logger.Warn().
			Int64("user_id", event.UserID).
			Int("fraud_score", score).
			Float64("velocity", assessment.Velocity).
			Msg("user flagged for manual review")
	}

	if err := c.progress.UpdateDerived(ctx, progress); err != nil {
		return nil, wrote, err
	}

	events.flush(ctx, c.emitter)

	return &AwardResult{
		PointsEarned:         def.Points,
		PointsTotalAfter:     total,
		Level:                tier.Number,
		LevelName:            tier.Name,
		LevelUp:              leveledUp,
		BadgesUnlocked:       unlocked,
		StreakDays:           state.Days,
		StreakExtended:       outcome == streak.Extended || outcome == streak.Started,
		FraudScore:           score,
		ManualReviewRequired: progress.ManualReviewRequired,
	}, wrote, nil
}

func (c *Coordinator) evaluateBadges(
	ctx context.Context,
	event model.ActionEvent,
	progress *model.UserProgress,
	total int64,
	at time.Time,
	events *collector,
) ([]string, int64, error) {
	counts, totalTxns, err := c.ledger.CountsByUser(ctx, event.UserID)
	if err != nil {
		return nil, total, err
	}

	pending := c.badges.Pending(badge.Context{
		Progress:     progress,
		ActionCounts: counts,
		TotalTxns:    totalTxns,
		Flags:        event.ExternalFlags,
	})

	var unlocked []string
	for _, def := range pending {
		if def.Points > 0 {
			out, err := c.ledger.InsertAwarded(ctx, event.UserID, model.ActionBadgeUnlock, def.Points,
				&model.RelatedEntity{Type: "badge", ID: def.ID},
				model.BadgeIdempotencyKey(event.UserID, def.ID), at)
			if err != nil {
				return unlocked, total, err
			}
			// The unique badge key makes the bonus at-most-once even when
			// the criteria are re-satisfied on later actions.
			total = out.TotalAfter
		}
		progress.EarnedBadges[def.ID] = at
		unlocked = append(unlocked, def.ID)
		events.add(model.ResultEvent{
			Type: model.EventBadgeUnlocked, UserID: event.UserID, Timestamp: at,
			Payload: map[string]any{
				"badge_id": def.ID,
				"category": def.Category,
				"rarity":   def.Rarity,
				"points":   def.Points,
			},
		})
	}

	return unlocked, total, nil
}

func (c *Coordinator) snapshotResult(progress *model.UserProgress, total int64) *AwardResult {
	tier := c.levels.Compute(total)
	return &AwardResult{
		AlreadyAwarded:       true,
		PointsTotalAfter:     total,
		Level:                tier.Number,
		LevelName:            tier.Name,
		StreakDays:           progress.StreakDays,
		FraudScore:           progress.FraudScore,
		ManualReviewRequired: progress.ManualReviewRequired,
	}
}

// ProgressSnapshot is the read-side view of a user's gamification state.
type ProgressSnapshot struct {
	Progress *model.UserProgress
	Tier     level.Tier
	History  []*model.PointTransaction
}

// GetProgress returns the current aggregate with its tier detail and
// recent transaction history.
func (c *Coordinator) GetProgress(ctx context.Context, userID int64, historyLimit int) (*ProgressSnapshot, error) {
	progress, err := c.progress.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := c.ledger.History(ctx, userID, historyLimit)
	if err != nil {
		return nil, err
	}
	return &ProgressSnapshot{
		Progress: progress,
		Tier:     c.levels.Compute(progress.TotalPoints),
		History:  history,
	}, nil
}
