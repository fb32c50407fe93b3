package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the engine schema. Statements are idempotent so the
// function is safe to run on every startup and from tests.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	// The progress aggregate row per user. Version backs optimistic
	// concurrency on derived-state updates.
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_progress (
			user_id BIGINT PRIMARY KEY,
			total_points BIGINT NOT NULL DEFAULT 0,
			current_level INT NOT NULL DEFAULT 1,
			streak_days INT NOT NULL DEFAULT 0,
			longest_streak INT NOT NULL DEFAULT 0,
			last_activity_date TIMESTAMPTZ,
			fraud_score INT NOT NULL DEFAULT 0,
			manual_review_required BOOLEAN NOT NULL DEFAULT FALSE,
			earned_badges JSONB NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create user_progress table: %w", err)
	}

	// The append-only ledger. The unique idempotency key is the atomic
	// check-and-insert guard for at-most-once accounting.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS point_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES user_progress(user_id),
			action_type VARCHAR(50) NOT NULL,
			points_amount BIGINT NOT NULL CHECK (points_amount > 0),
			points_total_after BIGINT NOT NULL,
			related_entity_type VARCHAR(50),
			related_entity_id VARCHAR(100),
			idempotency_key VARCHAR(200) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_point_transactions_user_time
			ON point_transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_point_transactions_user_type
			ON point_transactions(user_id, action_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create point_transactions table: %w", err)
	}

	return nil
}
