// Package session implements the Session: the agent's stateful
// view of one market — order submission, pseudo-account bookkeeping, and
// deterministic simulation across the Real/Dry/BackTest execution modes.
package session

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"marketcore/internal/errs"
	"marketcore/internal/eventlog"
	"marketcore/internal/exchange"
	"marketcore/internal/orderbook"
	"marketcore/pkg/types"
)

// Mode is the Session's execution mode.
type Mode string

const (
	Real     Mode = "Real"
	Dry      Mode = "Dry"
	BackTest Mode = "BackTest"
)

// Session is the agent's per-market stateful handle.
type Session struct {
	cfg     types.MarketConfig
	mode    Mode
	agentID string

	seq atomic.Uint64

	Ledger   *Ledger
	Position *Position
	Clock    *Clock
	Log      *eventlog.Logger

	book *orderbook.Book  // live view for the Dry walker
	rest exchange.RestApi // Real-mode order submission

	askEdge decimal.Decimal // last trade-implied best ask, for BackTest market-order slip
	bidEdge decimal.Decimal // last trade-implied best bid, for BackTest market-order slip

	pending []*types.Order // resting limit orders (Dry/BackTest virtual book)

	logger *slog.Logger
}

// New creates a Session bound to one market.
func New(cfg types.MarketConfig, mode Mode, agentID string, book *orderbook.Book, rest exchange.RestApi, clockIntervalSec float64, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		mode:    mode,
		agentID: agentID,
		Ledger:  NewLedger(cfg, types.AccountPair{}),
		Position: &Position{},
		Clock:   NewClock(clockIntervalSec),
		Log:     eventlog.New(0),
		book:    book,
		rest:    rest,
		logger:  logger.With("component", "session", "agent", agentID),
	}
}

// logTimestamp picks the Clock's current boundary over the wall clock
// when the Clock is ahead, so indicator/order records line up with
// on_clock boundaries during backtests.
func (s *Session) logTimestamp(eventTime types.TimeUs) types.TimeUs {
	if s.Clock.Enabled() && s.Clock.Current() > eventTime {
		return s.Clock.Current()
	}
	return eventTime
}

// LogIndicator records a named scalar against the Session's current
// logical clock.
func (s *Session) LogIndicator(name string, value decimal.Decimal) {
	s.Log.LogIndicator(s.logTimestamp(types.Now()), name, value)
}

func (s *Session) nextClientOrderID() string {
	n := s.seq.Add(1)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(types.Now()))
	ts := base64.RawURLEncoding.EncodeToString(buf[:])
	return fmt.Sprintf("%s-%s-%d", s.agentID, ts, n)
}

// LimitOrder rounds price/size, rejects zero size, and inserts into the
// pending book for Dry/BackTest, or submits to the exchange for Real
// mode.
func (s *Session) LimitOrder(ctx context.Context, side types.Side, price, size decimal.Decimal) (types.Order, error) {
	price = s.cfg.RoundPrice(price)
	size = s.cfg.RoundSize(size)
	if size.Sign() <= 0 {
		return types.Order{}, errs.New(errs.Validation, "session.limit_order", fmt.Errorf("size rounds to zero"))
	}

	order := types.Order{
		Category:      s.cfg.TradeCategory,
		Symbol:        s.cfg.TradeSymbol,
		CreateTime:    types.Now(),
		Status:        types.New,
		ClientOrderID: s.nextClientOrderID(),
		Side:          side,
		Type:          types.Limit,
		OrderPrice:    price,
		OrderSize:     size,
		RemainSize:    size,
		IsMaker:       true,
	}

	if s.mode == Real {
		placed, err := s.rest.NewOrder(ctx, s.cfg, order)
		if err != nil {
			return types.Order{}, err
		}
		s.Log.LogOrder(s.logTimestamp(placed.CreateTime), placed)
		return placed, nil
	}

	s.Ledger.Apply(&order)
	s.pending = append(s.pending, &order)
	s.Log.LogOrder(s.logTimestamp(order.CreateTime), order)
	s.Log.LogAccount(s.logTimestamp(order.CreateTime), s.Ledger.Snapshot())
	return order, nil
}

// MarketOrder executes immediately: against the live book in Dry, at a
// single slipped edge price in BackTest (no book to walk during replay),
// or via the exchange in Real.
func (s *Session) MarketOrder(ctx context.Context, side types.Side, size decimal.Decimal) ([]types.Order, error) {
	size = s.cfg.RoundSize(size)
	if size.Sign() <= 0 {
		return nil, errs.New(errs.Validation, "session.market_order", fmt.Errorf("size rounds to zero"))
	}

	if s.mode == Real {
		order := types.Order{
			Category: s.cfg.TradeCategory, Symbol: s.cfg.TradeSymbol,
			CreateTime: types.Now(), ClientOrderID: s.nextClientOrderID(),
			Side: side, Type: types.Market, OrderSize: size, RemainSize: size,
		}
		placed, err := s.rest.NewOrder(ctx, s.cfg, order)
		if err != nil {
			return nil, err
		}
		s.Log.LogOrder(s.logTimestamp(placed.CreateTime), placed)
		return []types.Order{placed}, nil
	}

	id := s.nextClientOrderID()

	if s.mode == BackTest {
		fill := s.dummyFillAtSlippedEdge(id, side, size)
		s.Ledger.Apply(&fill)
		s.applyPositionLocked(&fill)
		s.Log.LogOrder(s.logTimestamp(fill.UpdateTime), fill)
		s.Log.LogAccount(s.logTimestamp(fill.UpdateTime), s.Ledger.Snapshot())
		return []types.Order{fill}, nil
	}

	fills := s.book.WalkMarketOrder(s.logger, types.Now(), side, size, id)
	for i := range fills {
		fills[i].ClientOrderID = id
		fills[i].Category = s.cfg.TradeCategory
		fills[i].Symbol = s.cfg.TradeSymbol
		s.Ledger.Apply(&fills[i])
		s.applyPositionLocked(&fills[i])
		s.Log.LogOrder(s.logTimestamp(fills[i].UpdateTime), fills[i])
	}
	if len(fills) > 0 {
		s.Log.LogAccount(s.logTimestamp(types.Now()), s.Ledger.Snapshot())
	}
	return fills, nil
}

// dummyFillAtSlippedEdge fills the full requested size in one shot at
// ask_edge+slip (buy) or bid_edge-slip (sell). There is no live book
// during replay, so the fill is one execute price off the last-seen
// edge, order not split.
func (s *Session) dummyFillAtSlippedEdge(id string, side types.Side, size decimal.Decimal) types.Order {
	slip := s.cfg.MarketOrderPriceSlip
	var price decimal.Decimal
	if side == types.Buy {
		price = s.askEdge.Add(slip)
	} else {
		price = s.bidEdge.Sub(slip)
	}

	now := types.Now()
	return types.Order{
		Category: s.cfg.TradeCategory, Symbol: s.cfg.TradeSymbol,
		CreateTime: now, UpdateTime: now,
		ClientOrderID: id, TransactionID: id + "-1",
		Side: side, Type: types.Market, Status: types.Filled,
		OrderSize: size, RemainSize: decimal.Zero,
		ExecutePrice: price, ExecuteSize: size,
		QuoteVol: price.Mul(size),
		IsMaker:  false,
	}
}

// CancelOrder removes a resting order from the pending book and emits a
// Canceled event.
func (s *Session) CancelOrder(orderID string) (types.Order, error) {
	for i, o := range s.pending {
		if o.ClientOrderID == orderID {
			o.Status = types.Canceled
			o.UpdateTime = types.Now()
			s.Ledger.Apply(o)
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.Log.LogOrder(s.logTimestamp(o.UpdateTime), *o)
			return *o, nil
		}
	}
	return types.Order{}, errs.New(errs.Validation, "session.cancel_order", fmt.Errorf("order %s not pending", orderID))
}

// ExpireOrder cancels every pending order older than now-ttlSec.
func (s *Session) ExpireOrder(ttlSec float64) []types.Order {
	cutoff := types.Now() - types.Seconds(ttlSec)
	var expired []types.Order
	kept := s.pending[:0]
	for _, o := range s.pending {
		if o.CreateTime < cutoff {
			o.Status = types.Canceled
			o.UpdateTime = types.Now()
			s.Ledger.Apply(o)
			s.Log.LogOrder(s.logTimestamp(o.UpdateTime), *o)
			expired = append(expired, *o)
			continue
		}
		kept = append(kept, o)
	}
	s.pending = kept
	return expired
}

// AdvanceClock checks whether t crosses the current clock boundary and,
// if so, returns the new boundary and true. The caller dispatches
// on_clock before ApplyTrade, so OHLCV queries made from inside the
// callback see only closed bars — the triggering trade has not touched
// the session yet.
func (s *Session) AdvanceClock(t types.TimeUs) (types.TimeUs, bool) {
	return s.Clock.Advance(t)
}

// OnTrade advances the clock then folds the trade in one step, for
// callers with no on_clock dispatch in between (warm-up, replay without
// an agent).
func (s *Session) OnTrade(t types.Trade) (clockFired bool, clockBoundary types.TimeUs, fills []types.Order) {
	boundary, fired := s.AdvanceClock(t.Time)
	return fired, boundary, s.ApplyTrade(t)
}

// ApplyTrade folds one incoming trade into the session: edge tracking
// and, in Dry/BackTest, the virtual limit fill rule, returning any order
// events it produced. Call AdvanceClock first.
func (s *Session) ApplyTrade(t types.Trade) (fills []types.Order) {
	s.updateEdges(t)

	if s.mode == Real {
		return nil
	}

	candidates := s.matchable(t)
	remaining := t.Size

	for _, o := range candidates {
		if remaining.Sign() <= 0 {
			break
		}
		fillSize := decimal.Min(remaining, o.RemainSize)
		remaining = remaining.Sub(fillSize)

		o.RemainSize = o.RemainSize.Sub(fillSize)
		o.ExecutePrice = o.OrderPrice
		o.ExecuteSize = fillSize
		o.QuoteVol = o.OrderPrice.Mul(fillSize)
		o.UpdateTime = t.Time
		if o.RemainSize.Sign() <= 0 {
			o.Status = types.Filled
		} else {
			o.Status = types.PartiallyFilled
		}

		s.Ledger.Apply(o)
		s.applyPositionLocked(o)
		s.Log.LogOrder(s.logTimestamp(o.UpdateTime), *o)
		fills = append(fills, *o)
	}

	if len(fills) > 0 {
		s.Log.LogAccount(s.logTimestamp(t.Time), s.Ledger.Snapshot())
	}

	s.pending = removeFilled(s.pending)
	return fills
}

// matchable returns resting orders that cross the incoming trade, ordered
// by price priority (best price first, FIFO among equal prices).
func (s *Session) matchable(t types.Trade) []*types.Order {
	var out []*types.Order
	for _, o := range s.pending {
		if o.Side == types.Buy && t.Side == types.Sell && t.Price.LessThanOrEqual(o.OrderPrice) {
			out = append(out, o)
		}
		if o.Side == types.Sell && t.Side == types.Buy && t.Price.GreaterThanOrEqual(o.OrderPrice) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Side == types.Buy {
			if !out[i].OrderPrice.Equal(out[j].OrderPrice) {
				return out[i].OrderPrice.GreaterThan(out[j].OrderPrice)
			}
		} else {
			if !out[i].OrderPrice.Equal(out[j].OrderPrice) {
				return out[i].OrderPrice.LessThan(out[j].OrderPrice)
			}
		}
		return out[i].CreateTime < out[j].CreateTime
	})
	return out
}

// updateEdges tracks the trade-implied best bid/ask: a buy-side trade
// marks a new ask edge, a sell-side trade marks a new bid edge, and the
// opposite edge is nudged one price_unit away if the book would
// otherwise cross.
func (s *Session) updateEdges(t types.Trade) {
	switch t.Side {
	case types.Buy:
		s.askEdge = t.Price
		if s.askEdge.LessThanOrEqual(s.bidEdge) {
			s.bidEdge = s.askEdge.Sub(s.cfg.PriceUnit)
		}
	case types.Sell:
		s.bidEdge = t.Price
		if s.askEdge.LessThanOrEqual(s.bidEdge) {
			s.askEdge = s.bidEdge.Add(s.cfg.PriceUnit)
		}
	}
}

func removeFilled(pending []*types.Order) []*types.Order {
	kept := pending[:0]
	for _, o := range pending {
		if o.Status != types.Filled {
			kept = append(kept, o)
		}
	}
	return kept
}

// applyPositionLocked folds one fill into Position and stamps the order's
// Position/Profit/TotalProfit fields.
func (s *Session) applyPositionLocked(o *types.Order) {
	fill := s.Position.Apply(o.Side == types.Buy, o.ExecutePrice, o.ExecuteSize)
	o.OpenPosition = fill.Opened
	o.ClosePosition = fill.Closed
	o.Profit = fill.Profit
	o.Position = s.Position.Size
	o.TotalProfit = o.Profit.Sub(o.Fee)
}

// Account returns the current pseudo-account balances.
func (s *Session) Account() types.AccountPair { return s.Ledger.Snapshot() }

// Mode returns the Session's execution mode.
func (s *Session) Mode() Mode { return s.mode }

// Config returns the Session's market configuration.
func (s *Session) Config() types.MarketConfig { return s.cfg }
