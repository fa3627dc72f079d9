// Package adapter implements the Market Adapter: the per-exchange
// component that binds a WebSocket stream and REST client to the
// canonical Trade/Orderbook/Order/Account entities, drives the Trade Log
// Store and Orderbook Engine, and fans out to the Market Hub and UDP
// sidecar. One adapter owns one (exchange, category, symbol) market;
// multiple markets mean multiple adapters feeding a shared Hub.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketcore/internal/errs"
	"marketcore/internal/exchange"
	"marketcore/internal/hub"
	"marketcore/internal/orderbook"
	"marketcore/internal/store"
	"marketcore/pkg/types"
)

// Decoder converts one raw WebSocket text payload into the canonical
// MarketMessage taxonomy. Each exchange
// adapter supplies its own; the adapter never uses runtime type
// introspection to dispatch exchange-specific shapes.
type Decoder func(raw string) (types.MarketMessage, error)

// Adapter binds one (exchange, symbol) market's transport to the store,
// orderbook, and hub.
type Adapter struct {
	cfg    types.MarketConfig
	rest   exchange.RestApi
	ws     *exchange.Client
	decode Decoder
	store  *store.Store
	book   *orderbook.Book
	hub    *hub.Hub
	udp    *hub.UDPSender
	logger *slog.Logger

	key hub.Key

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires one market's components together. udp may be nil if UDP
// fanout is disabled.
func New(cfg types.MarketConfig, rest exchange.RestApi, ws *exchange.Client, decode Decoder, st *store.Store, book *orderbook.Book, h *hub.Hub, udp *hub.UDPSender, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		rest:   rest,
		ws:     ws,
		decode: decode,
		store:  st,
		book:   book,
		hub:    h,
		udp:    udp,
		logger: logger.With("component", "adapter", "exchange", cfg.ExchangeName, "symbol", cfg.TradeSymbol),
		key:    hub.Key{Exchange: cfg.ExchangeName, Category: cfg.TradeCategory, Symbol: cfg.TradeSymbol},
	}
}

// Start launches the WebSocket client in a background goroutine, runs the
// bootstrap sequence, then launches the run loop in a background
// goroutine. Start returns once the startup sequence completes; Stop
// tears everything down.
func (a *Adapter) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	for _, ch := range a.cfg.PublicSubscribeChannel {
		a.ws.Subs.Add(ch)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.ws.Run(a.ctx); err != nil && a.ctx.Err() == nil {
			a.logger.Error("websocket client exited", "error", err)
		}
	}()

	if err := a.bootstrap(a.ctx); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runLoop(a.ctx)
	}()

	return nil
}

// Stop cancels the adapter's context and waits for its goroutines to exit.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// bootstrap scrubs stale rows, backfills from REST, and seeds the board
// before the run loop takes over.
func (a *Adapter) bootstrap(ctx context.Context) error {
	now := types.Now()

	// Step 2: scrub any stale UnFix gap since the last authoritative fix.
	latestFix := a.store.LatestFixTime(0)
	twoDaysAgo := now - types.Seconds(2*24*3600)
	gapStart := latestFix
	if gapStart < twoDaysAgo {
		gapStart = twoDaysAgo
	}
	if gapStart < now {
		if err := a.store.Insert(ctx, []types.Trade{
			{Time: gapStart, Status: types.ExpireControl},
			{Time: now, Status: types.ExpireControl},
		}); err != nil {
			a.logger.Warn("bootstrap: expire control scrub failed", "error", err)
		}
	}

	// Step 3: recent trades via REST.
	recent, err := a.rest.GetRecentTrades(ctx, a.cfg)
	if err != nil {
		a.logger.Warn("bootstrap: recent trades fetch failed", "error", err)
	} else if len(recent) > 0 {
		if err := a.store.Insert(ctx, recent); err != nil {
			a.logger.Warn("bootstrap: recent trades insert failed", "error", err)
		}
	}

	// Step 4: backfill the fix->unfix gap from klines, enclosed in an
	// ExpireControl pair so any prior UnFix rows in the gap are scrubbed.
	if latestFix > 0 && latestFix < now {
		if err := a.backfillKlines(ctx, latestFix, now); err != nil {
			a.logger.Warn("bootstrap: kline backfill failed", "error", err)
		}
	}

	// Step 1 (dial) already happened in Start via a.ws.Run; nothing more
	// to do here beyond an initial REST snapshot so the book isn't empty
	// while the first WS delta arrives.
	snap, err := a.rest.GetBoardSnapshot(ctx, a.cfg)
	if err != nil {
		a.logger.Warn("bootstrap: initial snapshot fetch failed", "error", err)
	} else {
		snap.Snapshot = true
		if err := a.book.ApplyTransfer(snap); err != nil {
			a.logger.Warn("bootstrap: initial snapshot rejected", "error", err)
		}
	}

	return nil
}

func (a *Adapter) backfillKlines(ctx context.Context, start, end types.TimeUs) error {
	const window = types.TimeUs(60 * 1_000_000)

	var synthetic []types.Trade
	cursor := ""
	for {
		klines, next, err := a.rest.GetKlines(ctx, a.cfg, start, end, cursor)
		if err != nil {
			return err
		}
		for i, k := range klines {
			synthetic = append(synthetic, k.SplitToTrades(window, types.UnFix, fmt.Sprintf("kline-%d-%d", k.Time, i))...)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(synthetic) == 0 {
		return nil
	}

	batch := make([]types.Trade, 0, len(synthetic)+2)
	batch = append(batch, types.Trade{Time: start, Status: types.ExpireControl})
	batch = append(batch, synthetic...)
	batch = append(batch, types.Trade{Time: end, Status: types.ExpireControl})
	return a.store.Insert(ctx, batch)
}

// runLoop decodes each raw message, pushes trades to the store, applies
// orderbook transfers, and fans out to the Hub/UDP.
func (a *Adapter) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-a.ws.Messages():
			if !ok {
				return
			}
			if raw.Kind != exchange.MsgText {
				continue
			}
			msg, err := a.decode(raw.Text)
			if err != nil {
				a.logger.Warn("runtime loop: decode failed", "error", err)
				continue
			}
			a.handle(ctx, msg)
		}
	}
}

func (a *Adapter) handle(ctx context.Context, msg types.MarketMessage) {
	switch msg.Kind {
	case types.KindTrade:
		if len(msg.Trades) > 0 {
			if err := a.store.Insert(ctx, msg.Trades); err != nil {
				a.logger.Warn("runtime loop: trade insert failed", "error", errs.New(errs.Store, "adapter.insert", err))
			}
		}
	case types.KindOrderbook:
		if err := a.book.ApplyTransfer(msg.Orderbook); err != nil {
			a.logger.Warn("runtime loop: orderbook update rejected", "error", err)
		}
		if a.book.NeedsResync() {
			a.resync(ctx)
		}
	}

	a.hub.Publish(a.key, msg)
	if a.udp != nil {
		a.udp.Send(msg)
	}
}

func (a *Adapter) resync(ctx context.Context) {
	snap, err := a.rest.GetBoardSnapshot(ctx, a.cfg)
	if err != nil {
		a.logger.Error("resync: snapshot fetch failed", "error", err)
		return
	}
	snap.Snapshot = true
	if err := a.book.ApplyTransfer(snap); err != nil {
		a.logger.Error("resync: snapshot still invalid", "error", err)
	}
}

// ArchiveRange downloads and inserts daily archives for [from, to],
// skipping any day that validate_by_date already marks complete.
func (a *Adapter) ArchiveRange(ctx context.Context, from, to time.Time) error {
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if a.store.ValidateByDate(day) {
			a.logger.Info("archive: day already fixed, skipping", "day", day.Format("2006-01-02"))
			continue
		}
		trades, err := a.rest.ArchiveToParquet(ctx, a.cfg, day)
		if err != nil {
			a.logger.Warn("archive: download failed", "day", day.Format("2006-01-02"), "error", err)
			continue
		}
		if len(trades) == 0 {
			continue
		}
		batch := make([]types.Trade, len(trades))
		copy(batch, trades)
		for i := range batch {
			switch {
			case i == 0:
				batch[i].Status = types.FixBlockStart
			case i == len(batch)-1:
				batch[i].Status = types.FixBlockEnd
			default:
				batch[i].Status = types.FixArchiveBlock
			}
		}
		if err := a.store.Insert(ctx, batch); err != nil {
			a.logger.Warn("archive: insert failed", "day", day.Format("2006-01-02"), "error", err)
		}
	}
	return nil
}
