// Package repository provides data access for the points ledger and the
// user progress aggregate.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gamification-engine/internal/model"
)

// Common errors for repository operations.
var (
	ErrProgressNotFound = errors.New("user progress not found")
	// ErrVersionConflict is returned when an optimistic-concurrency update
	// observes a stale version. Retriable after a re-read.
	ErrVersionConflict = errors.New("user progress version conflict")
	// ErrDataIntegrity marks states the engine refuses to write, such as a
	// non-positive award amount. Never retried, never self-healed.
	ErrDataIntegrity = errors.New("data integrity violation")
)

// LedgerRepository handles the append-only point transaction log.
// It is the sole writer of ground truth; all derived fields elsewhere are
// recomputed from these rows.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// AwardOutcome reports the result of an idempotent ledger insert.
type AwardOutcome struct {
	Transaction *model.PointTransaction
	// TotalAfter is the user's total after this call, whether or not a
	// new row was written.
	TotalAfter int64
	// AlreadyAwarded is true when the idempotency key existed and the
	// call was a successful no-op.
	AlreadyAwarded bool
}

// InsertAwarded atomically writes one transaction and applies its amount
// to the user's running total. The insert and the total update share one
// database transaction with the progress row locked, so concurrent awards
// for the same user serialize at the store and the unique idempotency key
// resolves the duplicate race without a separate read-then-write.
func (r *LedgerRepository) InsertAwarded(
	ctx context.Context,
	userID int64,
	actionType string,
	amount int64,
	entity *model.RelatedEntity,
	idempotencyKey string,
	at time.Time,
) (*AwardOutcome, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: award amount %d for %q", ErrDataIntegrity, amount, actionType)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin award transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	err = tx.QueryRow(ctx,
		`SELECT total_points FROM user_progress WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to lock progress row: %w", err)
	}

	var entityType, entityID *string
	if entity != nil {
		entityType, entityID = &entity.Type, &entity.ID
	}

	newTotal := total + amount
	txn := model.PointTransaction{
		UserID:            userID,
		ActionType:        actionType,
		PointsAmount:      amount,
		PointsTotalAfter:  newTotal,
		RelatedEntityType: entityType,
		RelatedEntityID:   entityID,
		IdempotencyKey:    idempotencyKey,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO point_transactions
			(user_id, action_type, points_amount, points_total_after,
			 related_entity_type, related_entity_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, created_at
	`, userID, actionType, amount, newTotal, entityType, entityID, idempotencyKey, at.UTC(),
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Key already present: the action was counted before.
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("failed to commit no-op award: %w", err)
			}
			return &AwardOutcome{TotalAfter: total, AlreadyAwarded: true}, nil
		}
		return nil, fmt.Errorf("failed to insert point transaction: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE user_progress SET total_points = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, newTotal,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to apply award to total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit award: %w", err)
	}

	return &AwardOutcome{Transaction: &txn, TotalAfter: newTotal}, nil
}

const transactionColumns = `
	id, user_id, action_type, points_amount, points_total_after,
	related_entity_type, related_entity_id, idempotency_key, created_at`

func scanTransaction(row pgx.Row) (*model.PointTransaction, error) {
	var txn model.PointTransaction
	err := row.Scan(
		&txn.ID,
		&txn.UserID,
		&txn.ActionType,
		&txn.PointsAmount,
		&txn.PointsTotalAfter,
		&txn.RelatedEntityType,
		&txn.RelatedEntityID,
		&txn.IdempotencyKey,
		&txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// History retrieves a user's transactions, newest first.
func (r *LedgerRepository) History(ctx context.Context, userID int64, limit int) ([]*model.PointTransaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// Replay retrieves all of a user's transactions in commit order, oldest
// first, for reconciliation.
func (r *LedgerRepository) Replay(ctx context.Context, userID int64) ([]*model.PointTransaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// RecentSince retrieves a user's transactions created at or after the
// given instant, oldest first. Used by the fraud detector's sliding window.
func (r *LedgerRepository) RecentSince(ctx context.Context, userID int64, since time.Time) ([]*model.PointTransaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM point_transactions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get recent transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]*model.PointTransaction, error) {
	var transactions []*model.PointTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// CountsByUser returns per-action-type transaction counts and the total
// row count for the user. Feeds the badge evaluator's counters.
func (r *LedgerRepository) CountsByUser(ctx context.Context, userID int64) (map[string]int64, int64, error) {
	const query = `
		SELECT action_type, COUNT(*)
		FROM point_transactions
		WHERE user_id = $1
		GROUP BY action_type
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	var total int64
	for rows.Next() {
		var actionType string
		var n int64
		if err := rows.Scan(&actionType, &n); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction count: %w", err)
		}
		counts[actionType] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating transaction counts: %w", err)
	}

	return counts, total, nil
}

// SumByUser returns the exact sum of amounts over all of a user's
// transactions, straight from the ledger.
func (r *LedgerRepository) SumByUser(ctx context.Context, userID int64) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(points_amount), 0)
		FROM point_transactions
		WHERE user_id = $1
	`

	var sum int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}
