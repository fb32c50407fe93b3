package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gamification-engine/internal/model"
)

// ProgressRepository handles the per-user progress aggregate.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository instance.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

const progressColumns = `
	user_id, total_points, current_level, streak_days, longest_streak,
	last_activity_date, fraud_score, manual_review_required, earned_badges,
	version, created_at, updated_at`

func scanProgress(row pgx.Row) (*model.UserProgress, error) {
	var p model.UserProgress
	var lastActivity *time.Time
	var badges []byte
	err := row.Scan(
		&p.UserID,
		&p.TotalPoints,
		&p.CurrentLevel,
		&p.StreakDays,
		&p.LongestStreak,
		&lastActivity,
		&p.FraudScore,
		&p.ManualReviewRequired,
		&badges,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastActivity != nil {
		p.LastActivityDate = lastActivity.UTC()
	}
	p.EarnedBadges = make(map[string]time.Time)
	if len(badges) > 0 {
		if err := json.Unmarshal(badges, &p.EarnedBadges); err != nil {
			return nil, fmt.Errorf("failed to decode earned badges: %w", err)
		}
	}
	return &p, nil
}

// Get retrieves a user's progress aggregate.
// Returns ErrProgressNotFound if the user has no row yet.
func (r *ProgressRepository) Get(ctx context.Context, userID int64) (*model.UserProgress, error) {
	query := `SELECT` + progressColumns + ` FROM user_progress WHERE user_id = $1`

	p, err := scanProgress(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get user progress: %w", err)
	}
	return p, nil
}

// GetOrCreate retrieves a user's progress, creating the initial row on
// first contact. The insert ignores the conflict so two concurrent first
// actions both land on the same row.
func (r *ProgressRepository) GetOrCreate(ctx context.Context, userID int64) (*model.UserProgress, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO user_progress (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user progress: %w", err)
	}

	p, err := r.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return p, tag.RowsAffected() > 0, nil
}

// UpdateDerived persists the derived fields of the aggregate with an
// optimistic version check. TotalPoints is deliberately absent: only the
// ledger writes it. Returns ErrVersionConflict on a stale version; the
// caller re-reads and retries.
func (r *ProgressRepository) UpdateDerived(ctx context.Context, p *model.UserProgress) error {
	badges, err := json.Marshal(p.EarnedBadges)
	if err != nil {
		return fmt.Errorf("failed to encode earned badges: %w", err)
	}

	var lastActivity *time.Time
	if !p.LastActivityDate.IsZero() {
		t := p.LastActivityDate.UTC()
		lastActivity = &t
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE user_progress SET
			current_level = $3,
			streak_days = $4,
			longest_streak = $5,
			last_activity_date = $6,
			fraud_score = $7,
			manual_review_required = $8,
			earned_badges = $9,
			version = version + 1,
			updated_at = NOW()
		WHERE user_id = $1 AND version = $2
	`, p.UserID, p.Version, p.CurrentLevel, p.StreakDays, p.LongestStreak,
		lastActivity, p.FraudScore, p.ManualReviewRequired, badges)
	if err != nil {
		return fmt.Errorf("failed to update user progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	p.Version++
	return nil
}

// Overwrite replaces the whole aggregate, including the total, without a
// version check. Used only by offline reconciliation, which rebuilds the
// row from the ledger and may safely clobber drifted derived state.
func (r *ProgressRepository) Overwrite(ctx context.Context, p *model.UserProgress) error {
	badges, err := json.Marshal(p.EarnedBadges)
	if err != nil {
		return fmt.Errorf("failed to encode earned badges: %w", err)
	}

	var lastActivity *time.Time
	if !p.LastActivityDate.IsZero() {
		t := p.LastActivityDate.UTC()
		lastActivity = &t
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE user_progress SET
			total_points = $2,
			current_level = $3,
			streak_days = $4,
			longest_streak = $5,
			last_activity_date = $6,
			fraud_score = $7,
			manual_review_required = $8,
			earned_badges = $9,
			version = version + 1,
			updated_at = NOW()
		WHERE user_id = $1
	`, p.UserID, p.TotalPoints, p.CurrentLevel, p.StreakDays, p.LongestStreak,
		lastActivity, p.FraudScore, p.ManualReviewRequired, badges)
	if err != nil {
		return fmt.Errorf("failed to overwrite user progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProgressNotFound
	}
	return nil
}

// ListUserIDs returns all user ids with a progress row. Used by the
// periodic reconciler to walk the population.
func (r *ProgressRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_progress ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return ids, nil
}
