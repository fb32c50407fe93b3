// Tests use testcontainers-go to spin up a PostgreSQL container and are
// skipped when Docker is unavailable.
package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"gamification-engine/internal/model"
)

func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL container, applies the schema and
// returns a connection pool. Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return pool, cleanup
}

func TestProgressRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository(pool)
	ctx := context.Background()

	p, created, err := repo.GetOrCreate(ctx, 42)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, int64(0), p.TotalPoints)
	assert.Equal(t, 1, p.CurrentLevel)
	assert.Empty(t, p.EarnedBadges)

	p2, created, err := repo.GetOrCreate(ctx, 42)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.UserID, p2.UserID)
}

func TestProgressRepository_GetMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository(pool)
	_, err := repo.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrProgressNotFound)
}

func TestLedgerRepository_InsertAwarded(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	progress := NewProgressRepository(pool)
	ledger := NewLedgerRepository(pool)
	ctx := context.Background()

	_, _, err := progress.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	now := time.Now().UTC()
	out, err := ledger.InsertAwarded(ctx, 1, "registration", 100, nil,
		model.IdempotencyKey(1, "registration", ""), now)
	require.NoError(t, err)
	assert.False(t, out.AlreadyAwarded)
	assert.Equal(t, int64(100), out.TotalAfter)
	require.NotNil(t, out.Transaction)
	assert.Equal(t, int64(100), out.Transaction.PointsTotalAfter)

	p, err := progress.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.TotalPoints)
}

func TestLedgerRepository_Idempotence(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	progress := NewProgressRepository(pool)
	ledger := NewLedgerRepository(pool)
	ctx := context.Background()

	_, _, err := progress.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	key := model.IdempotencyKey(1, "registration", "")
	now := time.Now().UTC()

	// N calls with the same key: exactly one row, identical total each time.
	for i := 0; i < 5; i++ {
		out, err := ledger.InsertAwarded(ctx, 1, "registration", 100, nil, key, now)
		require.NoError(t, err)
		assert.Equal(t, int64(100), out.TotalAfter)
		if i > 0 {
			assert.True(t, out.AlreadyAwarded)
		}
	}

	sum, err := ledger.SumByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sum)

	history, err := ledger.History(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLedgerRepository_ConcurrentAwardsNoLostUpdates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	progress := NewProgressRepository(pool)
	ledger := NewLedgerRepository(pool)
	ctx := context.Background()

	_, _, err := progress.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := model.IdempotencyKey(1, "daily_checkin", time.Now().Format("2006-01-02")+string(rune('a'+i)))
			_, err := ledger.InsertAwarded(ctx, 1, "daily_checkin", 10, nil, key, time.Now().UTC())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := progress.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*10), p.TotalPoints)

	sum, err := ledger.SumByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, p.TotalPoints, sum)
}

func TestLedgerRepository_RejectsNonPositiveAmount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	progress := NewProgressRepository(pool)
	ledger := NewLedgerRepository(pool)
	ctx := context.Background()

	_, _, err := progress.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	_, err = ledger.InsertAwarded(ctx, 1, "registration", 0, nil, "k0", time.Now())
	assert.ErrorIs(t, err, ErrDataIntegrity)

	_, err = ledger.InsertAwarded(ctx, 1, "registration", -10, nil, "k1", time.Now())
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestLedgerRepository_MissingProgressRow(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ledger := NewLedgerRepository(pool)
	_, err := ledger.InsertAwarded(context.Background(), 777, "registration", 100, nil, "k", time.Now())
	assert.ErrorIs(t, err, ErrProgressNotFound)
}

func TestLedgerRepository_CountsAndRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	progress := NewProgressRepository(pool)
	ledger := NewLedgerRepository(pool)
	ctx := context.Background()

	_, _, err := progress.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	entity := &model.RelatedEntity{Type: "document", ID: "d1"}
	_, err = ledger.InsertAwarded(ctx, 1, "document_uploaded", 75, entity,
		model.IdempotencyKey(1, "document_uploaded", "d1"), base)
	require.NoError(t, err)

	entity2 := &model.RelatedEntity{Type: "document", ID: "d2"}
	_, err = ledger.InsertAwarded(ctx, 1, "document_uploaded", 75, entity2,
		model.IdempotencyKey(1, "document_uploaded", "d2"), base.Add(30*time.Minute))
	require.NoError(t, err)

	_, err = ledger.InsertAwarded(ctx, 1, "registration", 100, nil,
		model.IdempotencyKey(1, "registration", ""), base.Add(45*time.Minute))
	require.NoError(t, err)

	counts, total, err := ledger.CountsByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(2), counts["document_uploaded"])
	assert.Equal(t, int64(1), counts["registration"])

	recent, err := ledger.RecentSince(ctx, 1, base.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	replay, err := ledger.Replay(ctx, 1)
	require.NoError(t, err)
	require.Len(t, replay, 3)
	assert.Equal(t, "document_uploaded", replay[0].ActionType)
	assert.Equal(t, "registration", replay[2].ActionType)
}

func TestProgressRepository_UpdateDerivedVersionConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository(pool)
	ctx := context.Background()

	p, _, err := repo.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	p.CurrentLevel = 2
	p.StreakDays = 1
	p.LongestStreak = 1
	p.LastActivityDate = time.Now().UTC()
	p.EarnedBadges["getting_started"] = time.Now().UTC()

	stale := *p
	stale.EarnedBadges = map[string]time.Time{}

	require.NoError(t, repo.UpdateDerived(ctx, p))

	// The stale copy still carries the old version.
	err = repo.UpdateDerived(ctx, &stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentLevel)
	assert.Contains(t, got.EarnedBadges, "getting_started")
	assert.Equal(t, int64(1), got.Version)
}

func TestProgressRepository_Overwrite(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository(pool)
	ctx := context.Background()

	p, _, err := repo.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	p.TotalPoints = 325
	p.CurrentLevel = 3
	p.StreakDays = 2
	p.LongestStreak = 4
	require.NoError(t, repo.Overwrite(ctx, p))

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(325), got.TotalPoints)
	assert.Equal(t, 3, got.CurrentLevel)
	assert.Equal(t, 4, got.LongestStreak)

	assert.ErrorIs(t, repo.Overwrite(ctx, &model.UserProgress{UserID: 999}), ErrProgressNotFound)
}

func TestProgressRepository_ListUserIDs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository(pool)
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		_, _, err := repo.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	ids, err := repo.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}
