package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"marketcore/pkg/types"
)

const (
	baseWindowSec = 60
	readAheadDays = 2
	readAheadSpan = types.TimeUs(readAheadDays * 24 * 3600 * 1_000_000)
)

// Cache is the store's in-memory columnar mirror: a sliding window of
// trades sized by an adaptive cache_duration, used to
// materialize OHLCV bars and VAP buckets without re-scanning the store on
// every request.
type Cache struct {
	mu sync.RWMutex

	store *Store

	cacheDuration types.TimeUs
	windowStart   types.TimeUs
	windowEnd     types.TimeUs
	trades        []types.Trade // sorted by Time, within [windowStart, windowEnd)
}

// NewCache creates an empty cache; initialSpan seeds cache_duration so the
// first request doesn't start from a zero-width window.
func NewCache(store *Store, initialSpan types.TimeUs) *Cache {
	if initialSpan <= 0 {
		initialSpan = types.Seconds(3600)
	}
	return &Cache{store: store, cacheDuration: initialSpan}
}

// ensureRange grows/shifts the cached window to cover [start, end),
// reading from the store when the request falls outside it, and shrinks
// the retained span once it exceeds 2*cache_duration (Open Question b).
func (c *Cache) ensureRange(ctx context.Context, start, end types.TimeUs) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	span := end - start
	if span > c.cacheDuration {
		c.cacheDuration = span
	}

	if c.trades != nil && start >= c.windowStart && end <= c.windowEnd {
		return nil
	}

	readStart := start
	if c.trades != nil && c.windowStart < readStart {
		readStart = c.windowStart
	}
	readEnd := end + readAheadSpan

	var fresh []types.Trade
	if err := c.store.Select(readStart, readEnd, func(tr types.Trade) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		fresh = append(fresh, tr)
		return true
	}); err != nil {
		return err
	}

	c.trades = fresh
	c.windowStart = readStart
	c.windowEnd = readEnd

	maxSpan := 2 * c.cacheDuration
	if c.windowEnd-c.windowStart > maxSpan {
		newStart := end - c.cacheDuration
		c.trades = trimBefore(c.trades, newStart)
		c.windowStart = newStart
	}
	return nil
}

func trimBefore(trades []types.Trade, cutoff types.TimeUs) []types.Trade {
	idx := sort.Search(len(trades), func(i int) bool { return trades[i].Time >= cutoff })
	return trades[idx:]
}

// GetOHLCV returns bars of width windowSec covering [start, end). Bars
// aligned to a multiple of the 60-second base are aggregated from base
// bars; all other widths are recomputed directly from trades.
func (c *Cache) GetOHLCV(ctx context.Context, start, end types.TimeUs, windowSec int64) ([]types.Kline, error) {
	if err := c.ensureRange(ctx, start, end); err != nil {
		return nil, err
	}

	c.mu.RLock()
	trades := c.trades
	c.mu.RUnlock()

	window := types.Seconds(float64(windowSec))

	if windowSec%baseWindowSec == 0 {
		base := buildBars(trades, start, end, types.Seconds(baseWindowSec))
		return aggregateBars(base, window), nil
	}
	return buildBars(trades, start, end, window), nil
}

// ohlcvStart/ohlcvEnd align a timestamp to bar boundaries.
func ohlcvStart(t, w types.TimeUs) types.TimeUs { return t.Floor(w) }
func ohlcvEnd(t, w types.TimeUs) types.TimeUs   { return t.Ceil(w) }

func buildBars(trades []types.Trade, start, end, window types.TimeUs) []types.Kline {
	if window <= 0 {
		return nil
	}
	from := ohlcvStart(start, window)
	to := ohlcvEnd(end, window)

	var bars []types.Kline
	for t := from; t < to; t += window {
		bars = append(bars, types.Kline{Time: t})
	}
	if len(bars) == 0 {
		return bars
	}

	idx := 0
	for _, tr := range trades {
		if tr.Time < start || tr.Time >= end {
			continue
		}
		for idx < len(bars)-1 && tr.Time >= bars[idx].Time+window {
			idx++
		}
		for idx > 0 && tr.Time < bars[idx].Time {
			idx--
		}
		b := &bars[idx]
		if b.Open.IsZero() && b.High.IsZero() && b.Low.IsZero() {
			b.Open = tr.Price
			b.High = tr.Price
			b.Low = tr.Price
		} else {
			if tr.Price.GreaterThan(b.High) {
				b.High = tr.Price
			}
			if tr.Price.LessThan(b.Low) {
				b.Low = tr.Price
			}
		}
		b.Close = tr.Price
		b.Volume = b.Volume.Add(tr.Size)
	}
	return bars
}

// aggregateBars combines a sequence of 60-second base bars into bars of
// the given (60-second-multiple) window.
func aggregateBars(base []types.Kline, window types.TimeUs) []types.Kline {
	if len(base) == 0 {
		return nil
	}
	out := make([]types.Kline, 0, len(base))
	var cur *types.Kline
	for _, b := range base {
		bucket := ohlcvStart(b.Time, window)
		if cur == nil || cur.Time != bucket {
			out = append(out, types.Kline{Time: bucket, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
			cur = &out[len(out)-1]
			continue
		}
		if b.High.GreaterThan(cur.High) {
			cur.High = b.High
		}
		if b.Low.LessThan(cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume = cur.Volume.Add(b.Volume)
	}
	return out
}

// VAPBucket is one price-bucketed volume-at-price row.
type VAPBucket struct {
	PriceBucket decimal.Decimal
	Volume      decimal.Decimal
	Notional    decimal.Decimal // Σ(size·price)
}

// GetVAP buckets trades in [start, end) by floor(price/priceUnit) and sums
// size and size·price within each bucket.
func (c *Cache) GetVAP(ctx context.Context, start, end types.TimeUs, priceUnit decimal.Decimal) ([]VAPBucket, error) {
	if err := c.ensureRange(ctx, start, end); err != nil {
		return nil, err
	}

	c.mu.RLock()
	trades := c.trades
	c.mu.RUnlock()

	buckets := make(map[string]*VAPBucket)

	for _, tr := range trades {
		if tr.Time < start || tr.Time >= end {
			continue
		}
		bucketPrice := tr.Price.Div(priceUnit).Floor().Mul(priceUnit)
		key := bucketPrice.String()
		b, ok := buckets[key]
		if !ok {
			b = &VAPBucket{PriceBucket: bucketPrice}
			buckets[key] = b
		}
		b.Volume = b.Volume.Add(tr.Size)
		b.Notional = b.Notional.Add(tr.Size.Mul(tr.Price))
	}

	out := make([]VAPBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PriceBucket.LessThan(out[j].PriceBucket)
	})
	return out, nil
}
