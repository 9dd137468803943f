package ledger_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"mealshare/internal/ledger"
	"mealshare/internal/logger"
	"mealshare/internal/models"
)

func setupLedger(t *testing.T) (*ledger.Ledger, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bunDB.ResetModel(context.Background(), (*models.Event)(nil)))
	t.Cleanup(func() { bunDB.Close() })

	return ledger.New(bunDB, logger.NewNop()), bunDB
}

func seedEvent(t *testing.T, bunDB *bun.DB, id string, capacity, reserved int) {
	t.Helper()
	event := &models.Event{
		ID:            id,
		OwnerID:       "owner-1",
		Title:         "Leftover pizza",
		Capacity:      capacity,
		ReservedCount: reserved,
		EventDate:     "2025-03-01",
		TimeDesc:      "3:00 PM - 5:00 PM",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	_, err := bunDB.NewInsert().Model(event).Exec(context.Background())
	require.NoError(t, err)
}

func TestAdmitUntilFull(t *testing.T) {
	l, bunDB := setupLedger(t)
	seedEvent(t, bunDB, "ev-1", 2, 0)
	ctx := context.Background()

	assert.NoError(t, l.Admit(ctx, "ev-1"))
	assert.NoError(t, l.Admit(ctx, "ev-1"))
	assert.ErrorIs(t, l.Admit(ctx, "ev-1"), ledger.ErrFull)

	left, err := l.SpotsLeft(ctx, "ev-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, left)

	full, err := l.IsFull(ctx, "ev-1")
	assert.NoError(t, err)
	assert.True(t, full)
}

func TestAdmitUnknownEvent(t *testing.T) {
	l, _ := setupLedger(t)
	assert.ErrorIs(t, l.Admit(context.Background(), "nope"), ledger.ErrNotFound)
}

func TestReleaseRoundTrip(t *testing.T) {
	l, bunDB := setupLedger(t)
	seedEvent(t, bunDB, "ev-1", 3, 0)
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, "ev-1"))
	left, err := l.SpotsLeft(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	assert.NoError(t, l.Release(ctx, "ev-1"))
	left, err = l.SpotsLeft(ctx, "ev-1")
	assert.NoError(t, err)
	assert.Equal(t, 3, left)
}

func TestReleaseUnderflowIsClampedAndReported(t *testing.T) {
	l, bunDB := setupLedger(t)
	seedEvent(t, bunDB, "ev-1", 2, 0)
	ctx := context.Background()

	assert.ErrorIs(t, l.Release(ctx, "ev-1"), ledger.ErrConsistency)

	// Counter stays at zero, never negative.
	left, err := l.SpotsLeft(ctx, "ev-1")
	assert.NoError(t, err)
	assert.Equal(t, 2, left)
}

func TestInvariantHoldsAcrossMixedSequence(t *testing.T) {
	l, bunDB := setupLedger(t)
	seedEvent(t, bunDB, "ev-1", 3, 0)
	ctx := context.Background()

	steps := []string{"admit", "admit", "release", "admit", "admit", "admit", "release", "admit"}
	for _, step := range steps {
		if step == "admit" {
			err := l.Admit(ctx, "ev-1")
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrFull)
			}
		} else {
			err := l.Release(ctx, "ev-1")
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrConsistency)
			}
		}

		var event models.Event
		require.NoError(t, bunDB.NewSelect().Model(&event).Where("id = ?", "ev-1").Scan(ctx))
		assert.GreaterOrEqual(t, event.ReservedCount, 0)
		assert.LessOrEqual(t, event.ReservedCount, event.Capacity)
	}
}
