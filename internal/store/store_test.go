package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketcore/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 16, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func trade(ts int64, status types.LogStatus, id string) types.Trade {
	return types.Trade{
		Time:   types.TimeUs(ts),
		Side:   types.Buy,
		Price:  decimal.RequireFromString("100"),
		Size:   decimal.RequireFromString("1"),
		Status: status,
		ID:     id,
	}
}

func TestInsertAndSelectOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(300, types.UnFix, "c"),
		trade(100, types.UnFix, "a"),
		trade(200, types.UnFix, "b"),
	}))

	var gotIDs []string
	require.NoError(t, s.Select(0, 0, func(tr types.Trade) bool {
		gotIDs = append(gotIDs, tr.ID)
		return true
	}))
	require.Equal(t, []string{"a", "b", "c"}, gotIDs)
}

func TestInsertFixBatchScrubsOverlappingUnfix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(100, types.UnFix, "u1"),
		trade(150, types.UnFix, "u2"),
		trade(500, types.UnFix, "keep"),
	}))

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(100, types.FixBlockStart, "f1"),
		trade(150, types.FixArchiveBlock, "f2"),
		trade(200, types.FixBlockEnd, "f3"),
	}))

	var gotIDs []string
	require.NoError(t, s.Select(0, 0, func(tr types.Trade) bool {
		gotIDs = append(gotIDs, tr.ID)
		return true
	}))
	require.ElementsMatch(t, []string{"f1", "f2", "f3", "keep"}, gotIDs)
}

func TestInsertExpireControlScrubsWithoutInserting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(100, types.UnFix, "u1"),
		trade(150, types.UnFix, "u2"),
		trade(500, types.UnFix, "keep"),
	}))

	require.NoError(t, s.Insert(ctx, []types.Trade{
		{Time: 100, Status: types.ExpireControl},
		{Time: 200, Status: types.ExpireControl},
	}))

	var gotIDs []string
	require.NoError(t, s.Select(0, 0, func(tr types.Trade) bool {
		gotIDs = append(gotIDs, tr.ID)
		return true
	}))
	require.Equal(t, []string{"keep"}, gotIDs)
}

// TestInsertBatchEnclosedInControlPair covers the kline-backfill shape: a
// batch of synthesized rows enclosed in an ExpireControl pair scrubs the
// pair's interval first, inserts the rows, and never persists the sentinels.
func TestInsertBatchEnclosedInControlPair(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(1000, types.UnFix, "stale1"),
		trade(1500, types.UnFix, "stale2"),
		trade(3000, types.UnFix, "keep"),
	}))

	require.NoError(t, s.Insert(ctx, []types.Trade{
		{Time: 1000, Status: types.ExpireControl},
		trade(1100, types.UnFix, "k1"),
		trade(1700, types.UnFix, "k2"),
		{Time: 2000, Status: types.ExpireControl},
	}))

	var gotIDs []string
	require.NoError(t, s.Select(0, 0, func(tr types.Trade) bool {
		require.False(t, tr.Status.IsControl())
		gotIDs = append(gotIDs, tr.ID)
		return true
	}))
	require.ElementsMatch(t, []string{"k1", "k2", "keep"}, gotIDs)
}

func TestLatestFixTimeAndFirstUnfixTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(100, types.FixBlockEnd, "a"),
		trade(300, types.FixBlockEnd, "b"),
		trade(400, types.UnFix, "c"),
	}))

	require.Equal(t, types.TimeUs(300), s.LatestFixTime(0))
	require.Equal(t, types.TimeUs(0), s.LatestFixTime(300))
	require.Equal(t, types.TimeUs(100), s.FirstUnfixTime(0))
	require.Equal(t, types.TimeUs(0), s.FirstUnfixTime(400))
}

func TestStartEndTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.Equal(t, types.TimeUs(0), s.StartTime())

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(100, types.UnFix, "a"),
		trade(900, types.UnFix, "b"),
	}))

	require.Equal(t, types.TimeUs(100), s.StartTime())
	require.Equal(t, types.TimeUs(900), s.EndTime(0))
}

func TestValidateByDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := types.TimeUs(day.UnixMicro()) + types.Seconds(3600)
	end := start + types.Seconds(21*3600)

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(int64(start), types.FixBlockStart, "s"),
		trade(int64(end), types.FixBlockEnd, "e"),
	}))

	require.True(t, s.ValidateByDate(day))
	require.False(t, s.ValidateByDate(day.Add(48*time.Hour)))
}

func TestSelectGapChunksDecomposition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []types.Trade{
		trade(1000, types.UnFix, "a"),
		trade(1100, types.UnFix, "b"),
		trade(5000, types.UnFix, "c"),
	}))

	chunks := s.SelectGapChunks(0, 6000, 500)
	require.NotEmpty(t, chunks)

	var kinds []GapKind
	for _, c := range chunks {
		kinds = append(kinds, c.Kind)
	}
	require.Contains(t, kinds, GapBeforeStart)
	require.Contains(t, kinds, GapWithin)
}
