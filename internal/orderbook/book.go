// Package orderbook maintains the authoritative bid/ask view for a
// single market: snapshot+delta merge with sequence-gap detection,
// sorted read views, and a deterministic dry-fill walker for simulated
// market orders.
package orderbook

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"marketcore/internal/errs"
	"marketcore/pkg/types"
)

// Book is a concurrency-safe bid/ask map for one (exchange, symbol) pair.
type Book struct {
	mu sync.RWMutex

	bids map[string]types.PriceLevel // keyed by Price.String()
	asks map[string]types.PriceLevel

	haveSeq      bool // true once a snapshot carrying update IDs has been applied
	lastUpdateID int64
	needsResync  bool

	firstDeltaPending bool // true between a snapshot and its first delta
}

// New creates an empty book. Call ApplyTransfer with a snapshot before
// relying on any read view.
func New() *Book {
	return &Book{
		bids: make(map[string]types.PriceLevel),
		asks: make(map[string]types.PriceLevel),
	}
}

// NeedsResync reports whether the last ApplyTransfer detected a sequence
// gap or an invariant violation; the adapter must refetch a REST snapshot
// and apply it with Snapshot=true to clear this.
func (b *Book) NeedsResync() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.needsResync
}

// ApplyTransfer merges a snapshot or delta into the book. A delta that
// violates sequence contiguity or the best-bid <
// best-ask invariant marks the book as needing resync and returns a typed
// Protocol error; the caller should still surface the warning but does not
// need to treat it as fatal.
func (b *Book) ApplyTransfer(t types.BoardTransfer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.Snapshot {
		b.bids = make(map[string]types.PriceLevel, len(t.Bids))
		b.asks = make(map[string]types.PriceLevel, len(t.Asks))
		b.mergeLocked(t)
		b.lastUpdateID = t.LastUpdateID
		b.haveSeq = t.LastUpdateID != 0 || t.FirstUpdateID != 0
		b.firstDeltaPending = b.haveSeq
		b.needsResync = false
		return b.checkInvariantLocked()
	}

	if b.haveSeq {
		if b.firstDeltaPending {
			// The first delta after a snapshot is allowed to straddle
			// last_update_id; every later delta must chain with
			// strict equality.
			if !(t.FirstUpdateID <= b.lastUpdateID+1 && b.lastUpdateID+1 <= t.LastUpdateID) {
				b.needsResync = true
				return errs.New(errs.Protocol, "orderbook.apply_transfer",
					fmt.Errorf("sequence gap: have last_update_id=%d, delta=[%d,%d]", b.lastUpdateID, t.FirstUpdateID, t.LastUpdateID))
			}
		} else if t.FirstUpdateID != b.lastUpdateID+1 {
			b.needsResync = true
			return errs.New(errs.Protocol, "orderbook.apply_transfer",
				fmt.Errorf("sequence gap: have last_update_id=%d, delta=[%d,%d]", b.lastUpdateID, t.FirstUpdateID, t.LastUpdateID))
		}
	}

	b.mergeLocked(t)
	// Whether this exchange sequences its deltas was decided by the
	// snapshot; a delta never turns sequence checking on or off.
	if b.haveSeq {
		b.lastUpdateID = t.LastUpdateID
		b.firstDeltaPending = false
	}
	return b.checkInvariantLocked()
}

func (b *Book) mergeLocked(t types.BoardTransfer) {
	for _, lvl := range t.Bids {
		b.upsertLocked(b.bids, lvl)
	}
	for _, lvl := range t.Asks {
		b.upsertLocked(b.asks, lvl)
	}
}

func (b *Book) upsertLocked(side map[string]types.PriceLevel, lvl types.PriceLevel) {
	key := lvl.Price.String()
	if lvl.Size.Sign() <= 0 {
		delete(side, key)
		return
	}
	side[key] = lvl
}

// checkInvariantLocked enforces best_bid < best_ask; a violation marks the
// book for resync but is not itself an error the caller must abort on.
func (b *Book) checkInvariantLocked() error {
	bestBid, bidOK := bestLocked(b.bids, true)
	bestAsk, askOK := bestLocked(b.asks, false)
	if bidOK && askOK && !bestBid.Price.LessThan(bestAsk.Price) {
		b.needsResync = true
		return errs.New(errs.Protocol, "orderbook.invariant",
			fmt.Errorf("best_bid %s not less than best_ask %s", bestBid.Price, bestAsk.Price))
	}
	return nil
}

func bestLocked(side map[string]types.PriceLevel, wantMax bool) (types.PriceLevel, bool) {
	var best types.PriceLevel
	found := false
	for _, lvl := range side {
		if !found {
			best = lvl
			found = true
			continue
		}
		if wantMax && lvl.Price.GreaterThan(best.Price) {
			best = lvl
		}
		if !wantMax && lvl.Price.LessThan(best.Price) {
			best = lvl
		}
	}
	return best, found
}

// GetBoardVec returns (bids_desc, asks_asc): sorted price levels for both
// sides.
func (b *Book) GetBoardVec() (bidsDesc, asksAsc []types.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bidsDesc = sortedLevels(b.bids, true)
	asksAsc = sortedLevels(b.asks, false)
	return
}

func sortedLevels(side map[string]types.PriceLevel, descending bool) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(side))
	for _, lvl := range side {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// GetEdgePrice returns (best_bid, best_ask). ok is
// false if either side is empty.
func (b *Book) GetEdgePrice() (bestBid, bestAsk decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bb, bidOK := bestLocked(b.bids, true)
	ba, askOK := bestLocked(b.asks, false)
	if !bidOK || !askOK {
		return decimal.Zero, decimal.Zero, false
	}
	return bb.Price, ba.Price, true
}

// BoardFrame is the "dataframe suitable for analytical queries" read view
//: a sorted slice of price levels for one side.
type BoardFrame struct {
	Bids []types.PriceLevel
	Asks []types.PriceLevel
}

// GetBoard returns both sides as a BoardFrame.
func (b *Book) GetBoard() BoardFrame {
	bids, asks := b.GetBoardVec()
	return BoardFrame{Bids: bids, Asks: asks}
}
