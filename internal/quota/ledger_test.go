package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MirrorTrader/internal/repository"
)

func newTestLedger(t *testing.T, limit int64) (*Ledger, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	l, err := New(repository.NewMemoryQuotaCounter(), limit, "UTC")
	require.NoError(t, err)
	l.WithClock(func() time.Time { return now })
	return l, &now
}

func TestLedgerUsageIsSumOfRecordedCosts(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 10000)

	require.NoError(t, l.RecordUsage(ctx, OpVideosList, 3))
	require.NoError(t, l.RecordUsage(ctx, OpSearch, 1))
	require.NoError(t, l.RecordUsage(ctx, OpLiveChat, 2))

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3+100+10), st.Used)
	assert.Equal(t, int64(10000-113), st.Remaining)
}

func TestLedgerHasCapacityBoundary(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 100)

	require.NoError(t, l.RecordUsage(ctx, OpVideosList, 99))

	ok, err := l.HasCapacity(ctx, OpVideosList, 1)
	require.NoError(t, err)
	assert.True(t, ok, "exactly at the limit still fits")

	ok, err = l.HasCapacity(ctx, OpVideosList, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// advisory enforcement: recording past the limit must not fail
	require.NoError(t, l.RecordUsage(ctx, OpSearch, 1))
	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(199), st.Used)
	assert.Equal(t, int64(0), st.Remaining)
}

func TestLedgerDailyReset(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLedger(t, 10000)

	require.NoError(t, l.RecordUsage(ctx, OpSearch, 99))
	require.NoError(t, l.RecordUsage(ctx, OpSearch, 99))
	st, err := l.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(19800), st.Used)

	*now = now.AddDate(0, 0, 1)

	st, err = l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Used, "day boundary crossing zeros the counter before new usage")
	assert.Equal(t, int64(10000), st.Remaining)
}

func TestLedgerResetAtIsNextMidnight(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 10000)

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), st.ResetAt)
}

func TestCostTableRatio(t *testing.T) {
	assert.Equal(t, int64(100), Cost(OpSearch)/Cost(OpVideosList))
}
