package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketcore/internal/errs"
	"marketcore/pkg/types"
)

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func TestApplyTransferSnapshotThenContiguousDelta(t *testing.T) {
	b := New()

	err := b.ApplyTransfer(types.BoardTransfer{
		Snapshot:      true,
		FirstUpdateID: 1,
		LastUpdateID:  100,
		Bids:          []types.PriceLevel{lvl("100", "1"), lvl("99", "2")},
		Asks:          []types.PriceLevel{lvl("101", "1"), lvl("102", "2")},
	})
	require.NoError(t, err)

	bestBid, bestAsk, ok := b.GetEdgePrice()
	require.True(t, ok)
	require.True(t, bestBid.Equal(decimal.RequireFromString("100")))
	require.True(t, bestAsk.Equal(decimal.RequireFromString("101")))

	err = b.ApplyTransfer(types.BoardTransfer{
		FirstUpdateID: 101,
		LastUpdateID:  101,
		Bids:          []types.PriceLevel{lvl("100", "0")}, // removal
		Asks:          []types.PriceLevel{lvl("101", "3")}, // update
	})
	require.NoError(t, err)

	bidsDesc, asksAsc := b.GetBoardVec()
	require.Len(t, bidsDesc, 1)
	require.True(t, bidsDesc[0].Price.Equal(decimal.RequireFromString("99")))
	require.True(t, asksAsc[0].Size.Equal(decimal.RequireFromString("3")))
}

// TestApplyTransferSecondDeltaRequiresStrictContiguity exercises the
// distinction between the first post-snapshot delta (allowed to straddle
// last_update_id) and every later delta (must chain with strict
// equality).
func TestApplyTransferSecondDeltaRequiresStrictContiguity(t *testing.T) {
	b := New()
	require.NoError(t, b.ApplyTransfer(types.BoardTransfer{
		Snapshot: true, FirstUpdateID: 1, LastUpdateID: 10,
		Bids: []types.PriceLevel{lvl("10", "1")},
		Asks: []types.PriceLevel{lvl("11", "1")},
	}))

	// First post-snapshot delta straddles last_update_id=10: accepted.
	require.NoError(t, b.ApplyTransfer(types.BoardTransfer{
		FirstUpdateID: 8, LastUpdateID: 12,
		Asks: []types.PriceLevel{lvl("11", "2")},
	}))

	// Now last_update_id=12. A delta with F=15,L=20 straddles neither
	// side of 12 and is not strictly contiguous (F != 13): must resync.
	err := b.ApplyTransfer(types.BoardTransfer{
		FirstUpdateID: 15, LastUpdateID: 20,
		Asks: []types.PriceLevel{lvl("11", "3")},
	})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Protocol))
	require.True(t, b.NeedsResync())
}

// TestApplyTransferNoSequenceExchange: a snapshot without update IDs
// disables sequence checking entirely, so any number of id-less deltas
// merge without tripping a resync.
func TestApplyTransferNoSequenceExchange(t *testing.T) {
	b := New()
	require.NoError(t, b.ApplyTransfer(types.BoardTransfer{
		Snapshot: true,
		Bids:     []types.PriceLevel{lvl("10", "1")},
		Asks:     []types.PriceLevel{lvl("11", "1")},
	}))

	require.NoError(t, b.ApplyTransfer(types.BoardTransfer{
		Bids: []types.PriceLevel{lvl("10", "2")},
	}))
	require.NoError(t, b.ApplyTransfer(types.BoardTransfer{
		Asks: []types.PriceLevel{lvl("11", "3")},
	}))
	require.False(t, b.NeedsResync())

	bidsDesc, asksAsc := b.GetBoardVec()
	require.True(t, bidsDesc[0].Size.Equal(decimal.RequireFromString("2")))
	require.True(t, asksAsc[0].Size.Equal(decimal.RequireFromString("3")))
}

func TestApplyTransferSequenceGapMarksResync(t *testing.T) {
	b := New()
	require.NoError(t, b.ApplyTransfer(types.BoardTransfer{
		Snapshot: true, FirstUpdateID: 1, LastUpdateID: 10,
		Bids: []types.PriceLevel{lvl("10", "1")},
		Asks: []types.PriceLevel{lvl("11", "1")},
	}))

	err := b.ApplyTransfer(types.BoardTransfer{
		FirstUpdateID: 15, LastUpdateID: 20, // gap: expected first_update_id <= 11
		Asks: []types.PriceLevel{lvl("11", "2")},
	})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Protocol))
	require.True(t, b.NeedsResync())
}

func TestApplyTransferInvariantViolationMarksResync(t *testing.T) {
	b := New()
	err := b.ApplyTransfer(types.BoardTransfer{
		Snapshot: true,
		Bids:     []types.PriceLevel{lvl("101", "1")},
		Asks:     []types.PriceLevel{lvl("100", "1")}, // crossed book
	})
	require.Error(t, err)
	require.True(t, b.NeedsResync())
}

func TestWalkMarketOrderPartialThenFilled(t *testing.T) {
	b := New()
	require.NoError(t, b.ApplyTransfer(types.BoardTransfer{
		Snapshot: true,
		Bids:     []types.PriceLevel{lvl("99", "5")},
		Asks: []types.PriceLevel{
			lvl("100", "1"),
			lvl("101", "1"),
			lvl("102", "5"),
		},
	}))

	fills := b.WalkMarketOrder(nil, types.Now(), types.Buy, decimal.RequireFromString("2.5"), "dry-1")
	require.Len(t, fills, 3)

	require.Equal(t, types.PartiallyFilled, fills[0].Status)
	require.Equal(t, "dry-1-1", fills[0].TransactionID)
	require.True(t, fills[0].ExecutePrice.Equal(decimal.RequireFromString("100")))
	require.True(t, fills[0].ExecuteSize.Equal(decimal.RequireFromString("1")))

	require.Equal(t, types.PartiallyFilled, fills[1].Status)
	require.True(t, fills[1].ExecutePrice.Equal(decimal.RequireFromString("101")))

	require.Equal(t, types.Filled, fills[2].Status)
	require.True(t, fills[2].ExecutePrice.Equal(decimal.RequireFromString("102")))
	require.True(t, fills[2].ExecuteSize.Equal(decimal.RequireFromString("0.5")))
	require.True(t, fills[2].RemainSize.Equal(decimal.Zero))
	require.False(t, fills[2].IsMaker)
}

func TestWalkMarketOrderExhaustsBookWithoutPanic(t *testing.T) {
	b := New()
	require.NoError(t, b.ApplyTransfer(types.BoardTransfer{
		Snapshot: true,
		Asks:     []types.PriceLevel{lvl("100", "1")},
		Bids:     []types.PriceLevel{lvl("99", "1")},
	}))

	fills := b.WalkMarketOrder(nil, types.Now(), types.Buy, decimal.RequireFromString("10"), "dry-2")
	require.Len(t, fills, 1)
	require.Equal(t, types.PartiallyFilled, fills[0].Status)
	require.True(t, fills[0].RemainSize.Equal(decimal.RequireFromString("9")))
}
