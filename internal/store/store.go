// Package store implements the Trade Log Store: a durable, time-indexed
// append log of Trade records with range scans, gap detection, and
// status-driven expiry, backed by cockroachdb/pebble for its built-in
// write-ahead log and pebble.Sync durability.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"

	"marketcore/internal/errs"
	"marketcore/pkg/types"
)

// Store is a single logical table of Trade rows for one market, durable
// via an embedded pebble database. Writes are serialized through a bounded
// channel owned by a single writer goroutine; reads may
// run concurrently against pebble's own MVCC snapshots.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger

	writeReqs chan writeRequest
	closeCh   chan struct{}
	doneCh    chan struct{}
}

type writeRequest struct {
	trades []types.Trade
	result chan error
}

// Open creates or reopens a store rooted at dir, with a writer queue of
// the given depth.
func Open(dir string, writerQueueDepth int, logger *slog.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errs.New(errs.Store, "store.open", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if writerQueueDepth <= 0 {
		writerQueueDepth = 256
	}

	s := &Store{
		db:        db,
		logger:    logger.With("component", "trade_store"),
		writeReqs: make(chan writeRequest, writerQueueDepth),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go s.writerLoop()
	return s, nil
}

// Close stops the writer goroutine and closes the underlying database.
func (s *Store) Close() error {
	close(s.closeCh)
	<-s.doneCh
	return s.db.Close()
}

func (s *Store) writerLoop() {
	defer close(s.doneCh)
	for {
		select {
		case req := <-s.writeReqs:
			req.result <- s.applyBatch(req.trades)
		case <-s.closeCh:
			// Drain anything already queued before shutting down.
			for {
				select {
				case req := <-s.writeReqs:
					req.result <- s.applyBatch(req.trades)
				default:
					return
				}
			}
		}
	}
}

// Insert enqueues an atomic batch write and blocks until it has been
// applied and synced, or ctx is cancelled.
func (s *Store) Insert(ctx context.Context, trades []types.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	result := make(chan error, 1)
	select {
	case s.writeReqs <- writeRequest{trades: trades, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyBatch runs on the single writer goroutine. It implements the
// supported insert shapes: control sentinels scrub the half-open interval
// between them and are never persisted as rows; a batch whose first row is
// authoritative scrubs overlapping UnFix rows before inserting; everything
// else is a plain insert. A kline backfill batch combines the first two —
// an ExpireControl pair enclosing the synthesized rows.
func (s *Store) applyBatch(trades []types.Trade) error {
	var rows, controls []types.Trade
	for _, tr := range trades {
		if tr.Status.IsControl() {
			controls = append(controls, tr)
			continue
		}
		rows = append(rows, tr)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if len(controls) >= 2 {
		start, end := controls[0].Time, controls[0].Time
		for _, c := range controls[1:] {
			if c.Time < start {
				start = c.Time
			}
			if c.Time > end {
				end = c.Time
			}
		}
		if err := s.scrubUnfixRangeInto(batch, start, end); err != nil {
			return err
		}
	}

	if len(rows) > 0 && rows[0].Status.IsFix() {
		last := rows[len(rows)-1]
		if err := s.scrubUnfixRangeInto(batch, rows[0].Time, last.Time+1); err != nil {
			return err
		}
	}

	for _, tr := range rows {
		if err := s.putTradeInto(batch, tr); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errs.New(errs.Store, "store.insert", err)
	}
	return nil
}

func (s *Store) putTradeInto(batch *pebble.Batch, tr types.Trade) error {
	// A trade with the same id but a different time must move its primary
	// key; the id index tells us where the old row (if any) lives.
	if old, closer, err := s.db.Get(idIndexKey(tr.ID)); err == nil {
		oldKey := append([]byte(nil), old...)
		closer.Close()
		if err := batch.Delete(oldKey, nil); err != nil {
			return errs.New(errs.Store, "store.insert.delete_stale", err)
		}
	} else if err != pebble.ErrNotFound {
		return errs.New(errs.Store, "store.insert.lookup", err)
	}

	data, err := json.Marshal(tr)
	if err != nil {
		return errs.New(errs.Store, "store.insert.marshal", err)
	}
	key := tradeKey(int64(tr.Time), tr.ID)
	if err := batch.Set(key, data, nil); err != nil {
		return errs.New(errs.Store, "store.insert.set", err)
	}
	if err := batch.Set(idIndexKey(tr.ID), key, nil); err != nil {
		return errs.New(errs.Store, "store.insert.index", err)
	}
	return nil
}

func (s *Store) scrubUnfixRangeInto(batch *pebble.Batch, start, end types.TimeUs) error {
	lower := tradeKeyForTime(int64(start))
	upper := tradeKeyForTime(int64(end))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errs.New(errs.Store, "store.scrub.iter", err)
	}
	defer iter.Close()

	var toDelete [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var tr types.Trade
		if err := json.Unmarshal(iter.Value(), &tr); err != nil {
			continue
		}
		if tr.Status == types.UnFix {
			key := append([]byte(nil), iter.Key()...)
			toDelete = append(toDelete, key)
			toDelete = append(toDelete, idIndexKey(tr.ID))
		}
	}
	for _, k := range toDelete {
		if err := batch.Delete(k, nil); err != nil {
			return errs.New(errs.Store, "store.scrub.delete", err)
		}
	}
	return nil
}

// Select scans rows where start <= time < end (end=0 means unbounded),
// calling f for each in time order. Scanning stops early if f returns
// false.
func (s *Store) Select(start, end types.TimeUs, f func(types.Trade) bool) error {
	lower := tradeKeyForTime(int64(start))
	var upper []byte
	if end == 0 {
		upper = tradeUpperBound()
	} else {
		upper = tradeKeyForTime(int64(end))
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errs.New(errs.Store, "store.select", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var tr types.Trade
		if err := json.Unmarshal(iter.Value(), &tr); err != nil {
			s.logger.Warn("skipping corrupt row", "error", err)
			continue
		}
		if !f(tr) {
			break
		}
	}
	return nil
}

// LatestFixTime returns the max time of a FixBlockEnd row with time >
// after, or 0 if none exist.
func (s *Store) LatestFixTime(after types.TimeUs) types.TimeUs {
	var latest types.TimeUs
	_ = s.Select(after+1, 0, func(tr types.Trade) bool {
		if tr.Status == types.FixBlockEnd && tr.Time > latest {
			latest = tr.Time
		}
		return true
	})
	return latest
}

// FirstUnfixTime returns the min time of any row with time > after,
// regardless of status, or 0 if none exist.
func (s *Store) FirstUnfixTime(after types.TimeUs) types.TimeUs {
	var first types.TimeUs
	found := false
	_ = s.Select(after+1, 0, func(tr types.Trade) bool {
		first = tr.Time
		found = true
		return false
	})
	if !found {
		return 0
	}
	return first
}

// StartTime returns the minimum time in the index, or 0 if empty.
func (s *Store) StartTime() types.TimeUs {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: tradePrefixBytes, UpperBound: tradeUpperBound()})
	if err != nil {
		return 0
	}
	defer iter.Close()
	if !iter.First() {
		return 0
	}
	var tr types.Trade
	if err := json.Unmarshal(iter.Value(), &tr); err != nil {
		return 0
	}
	return tr.Time
}

// EndTime returns the maximum time in the index with time > after, or 0.
func (s *Store) EndTime(after types.TimeUs) types.TimeUs {
	lower := tradeKeyForTime(int64(after) + 1)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: tradeUpperBound()})
	if err != nil {
		return 0
	}
	defer iter.Close()
	if !iter.Last() {
		return 0
	}
	var tr types.Trade
	if err := json.Unmarshal(iter.Value(), &tr); err != nil {
		return 0
	}
	return tr.Time
}

// GapKind classifies a gap chunk relative to the store's indexed span.
type GapKind int

const (
	GapBeforeStart GapKind = iota
	GapWithin
	GapAfterEnd
)

func (k GapKind) String() string {
	switch k {
	case GapBeforeStart:
		return "before_start"
	case GapWithin:
		return "within"
	case GapAfterEnd:
		return "after_end"
	default:
		return "unknown"
	}
}

// GapChunk is one interval with no trade for at least min_gap microseconds.
type GapChunk struct {
	Start types.TimeUs
	End   types.TimeUs
	Kind  GapKind
}

// SelectGapChunks returns the gap intervals within [start, end) whose span
// is at least minGap microseconds, decomposed relative to the store's
// indexed span.
func (s *Store) SelectGapChunks(start, end, minGap types.TimeUs) []GapChunk {
	var chunks []GapChunk

	dbStart, dbEnd := s.StartTime(), s.EndTime(0)
	hasData := dbStart != 0 || dbEnd != 0

	if !hasData {
		if end-start >= minGap {
			chunks = append(chunks, GapChunk{Start: start, End: end, Kind: GapWithin})
		}
		return chunks
	}

	if start < dbStart {
		gapEnd := dbStart
		if gapEnd > end {
			gapEnd = end
		}
		if gapEnd-start >= minGap {
			chunks = append(chunks, GapChunk{Start: start, End: gapEnd, Kind: GapBeforeStart})
		}
	}

	scanStart := start
	if scanStart < dbStart {
		scanStart = dbStart
	}
	scanEnd := end
	if scanEnd > dbEnd+1 {
		scanEnd = dbEnd + 1
	}
	if scanStart < scanEnd {
		prev := scanStart
		_ = s.Select(scanStart, scanEnd, func(tr types.Trade) bool {
			if tr.Time-prev >= minGap {
				chunks = append(chunks, GapChunk{Start: prev, End: tr.Time, Kind: GapWithin})
			}
			prev = tr.Time
			return true
		})
	}

	if end > dbEnd {
		gapStart := dbEnd
		if gapStart < start {
			gapStart = start
		}
		if end-gapStart >= minGap {
			chunks = append(chunks, GapChunk{Start: gapStart, End: end, Kind: GapAfterEnd})
		}
	}

	return chunks
}

// ValidateByDate reports whether the UTC day containing day has exactly one
// FixBlockStart and one FixBlockEnd whose time difference exceeds 20
// hours.
func (s *Store) ValidateByDate(day time.Time) bool {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	startCount, endCount := 0, 0
	var startTime, endTime types.TimeUs

	_ = s.Select(types.TimeUs(dayStart.UnixMicro()), types.TimeUs(dayEnd.UnixMicro()), func(tr types.Trade) bool {
		switch tr.Status {
		case types.FixBlockStart:
			startCount++
			startTime = tr.Time
		case types.FixBlockEnd:
			endCount++
			endTime = tr.Time
		}
		return true
	})

	if startCount != 1 || endCount != 1 {
		return false
	}
	diff := endTime - startTime
	if diff < 0 {
		diff = -diff
	}
	return diff > types.Seconds(20*3600)
}
