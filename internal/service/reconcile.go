package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gamification-engine/internal/fraud"
	"gamification-engine/internal/level"
	"gamification-engine/internal/model"
	"gamification-engine/internal/repository"
	"gamification-engine/internal/streak"
)

// Reconciler rebuilds the progress aggregate from the ledger. It runs
// outside the request path and only overwrites derived state, so it can
// be interrupted and resumed safely.
type Reconciler struct {
	ledger   *repository.LedgerRepository
	progress *repository.ProgressRepository
	levels   *level.Calculator
	streaks  *streak.Tracker
	detector *fraud.Detector
	logger   zerolog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	ledger *repository.LedgerRepository,
	progress *repository.ProgressRepository,
	levels *level.Calculator,
	streaks *streak.Tracker,
	detector *fraud.Detector,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		progress: progress,
		levels:   levels,
		streaks:  streaks,
		detector: detector,
		logger:   logger,
	}
}

// Rebuild replays all of a user's transactions in commit order and
// recomputes the aggregate from scratch: total, level, streak, earned
// badges and fraud score. The result overwrites whatever the request
// path left behind, repairing drift after partial failures.
func (r *Reconciler) Rebuild(ctx context.Context, userID int64) error {
	progress, err := r.progress.Get(ctx, userID)
	if err != nil {
		return err
	}

	txns, err := r.ledger.Replay(ctx, userID)
	if err != nil {
		return err
	}

	var total int64
	state := streak.State{}
	badges := make(map[string]time.Time)
	fraudScore := 0
	review := false

	samples := make([]fraud.Sample, 0, len(txns))
	for _, txn := range txns {
		total += txn.PointsAmount
		state, _ = r.streaks.Advance(state, txn.CreatedAt)

		if txn.ActionType == model.ActionBadgeUnlock && txn.RelatedEntityID != nil {
			badges[*txn.RelatedEntityID] = txn.CreatedAt
		}

		samples = append(samples, fraud.Sample{Points: txn.PointsAmount, CreatedAt: txn.CreatedAt})
		assessment := r.detector.AssessAt(samples, txn.CreatedAt)
		fraudScore, review = r.detector.Score(fraudScore, assessment)
	}

	drift := progress.TotalPoints != total
	tier := r.levels.Compute(total)

	progress.TotalPoints = total
	progress.CurrentLevel = tier.Number
	progress.StreakDays = state.Days
	progress.LongestStreak = state.Longest
	progress.LastActivityDate = state.LastActivity
	progress.FraudScore = fraudScore
	progress.ManualReviewRequired = review
	progress.EarnedBadges = badges

	if err := r.progress.Overwrite(ctx, progress); err != nil {
		return err
	}

	if drift {
		r.logger.Warn().
			Int64("user_id", userID).
			Int64("rebuilt_total", total).
			Msg("repaired drifted user progress from ledger")
	} else {
		r.logger.Debug().
			Int64("user_id", userID).
			Int64("total", total).
			Msg("user progress reconciled, no drift")
	}
	return nil
}

// RebuildAll walks every user and rebuilds each aggregate. Errors on
// individual users are logged and skipped so one bad row does not stall
// the sweep.
func (r *Reconciler) RebuildAll(ctx context.Context) error {
	ids, err := r.progress.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.Rebuild(ctx, id); err != nil {
			r.logger.Error().Err(err).Int64("user_id", id).Msg("failed to rebuild user progress")
		}
	}
	return nil
}

// Run executes RebuildAll on the given interval until the context is
// cancelled. Used by the engine process as a background repair loop.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RebuildAll(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}
