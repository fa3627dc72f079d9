// Command backtest replays one market's Trade Log Store through a
// BackTest-mode Session and Runner, with no network I/O: no WebSocket
// client, no REST calls, no Hub. It exists to exercise the same Runner/
// Session code path the live process uses against historical data.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"marketcore/internal/config"
	"marketcore/internal/orderbook"
	"marketcore/internal/runner"
	"marketcore/internal/session"
	"marketcore/internal/store"
	"marketcore/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config.yaml")
	marketIdx := flag.Int("market", 0, "index into config.markets to replay")
	startFlag := flag.String("start", "", "RFC3339 replay start (defaults to the store's earliest trade)")
	endFlag := flag.String("end", "", "RFC3339 replay end (defaults to the store's latest trade)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if *marketIdx < 0 || *marketIdx >= len(cfg.Markets) {
		logger.Error("market index out of range", "index", *marketIdx, "count", len(cfg.Markets))
		os.Exit(1)
	}
	entry := cfg.Markets[*marketIdx]
	mcfg, err := entry.ToMarketConfig()
	if err != nil {
		logger.Error("invalid market config", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(fmt.Sprintf("%s/%s_%s", cfg.Store.DataDir, mcfg.ExchangeName, mcfg.TradeSymbol), cfg.Store.WriterQueueDepth, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	start, err := parseTimeOrDefault(*startFlag, st.StartTime())
	if err != nil {
		logger.Error("invalid -start", "error", err)
		os.Exit(1)
	}
	// Select's range is half-open, so nudge the default end past the last
	// stored trade or it would never replay.
	end, err := parseTimeOrDefault(*endFlag, st.EndTime(0)+1)
	if err != nil {
		logger.Error("invalid -end", "error", err)
		os.Exit(1)
	}

	book := orderbook.New()
	sess := session.New(mcfg, session.BackTest, cfg.Session.AgentID, book, nil, cfg.Session.ClockIntervalSec, logger)

	src := newReplaySource(mcfg, st, start, end)
	defer src.close()

	var ticks int
	r := runner.New(sess, src, runner.Callbacks{
		OnTick: func(s *session.Session, t types.Trade) {
			ticks++
		},
	}, 0, logger)

	if err := r.Run(context.Background()); err != nil {
		logger.Error("backtest run failed", "error", err)
		os.Exit(1)
	}

	account := sess.Account()
	logger.Info("backtest complete",
		"ticks_dispatched", ticks,
		"home_balance", account.Home.Volume.String(),
		"foreign_balance", account.Foreign.Volume.String(),
		"position", sess.Position.Size.String(),
		"total_profit", sess.Position.TotalProfit.String(),
	)
}

func parseTimeOrDefault(s string, def types.TimeUs) (types.TimeUs, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return types.TimeUs(t.UnixMicro()), nil
}

// replaySource wraps store.Select in a background goroutine, turning the
// Trade Log Store's historical rows into the same MarketMessage stream a
// live Market Adapter would publish, one trade per message so the
// Runner's warm-up and Clock gating behave identically to live replay.
type replaySource struct {
	out  chan types.MarketMessage
	done chan struct{}
}

func newReplaySource(cfg types.MarketConfig, st *store.Store, start, end types.TimeUs) *replaySource {
	r := &replaySource{out: make(chan types.MarketMessage, 256), done: make(chan struct{})}
	go func() {
		defer close(r.out)
		_ = st.Select(start, end, func(t types.Trade) bool {
			if t.Status.IsControl() {
				return true
			}
			select {
			case r.out <- types.NewTradeMessage(cfg.ExchangeName, cfg.TradeCategory, cfg.TradeSymbol, []types.Trade{t}):
			case <-r.done:
				return false
			}
			return true
		})
	}()
	return r
}

func (r *replaySource) Messages() <-chan types.MarketMessage { return r.out }

func (r *replaySource) close() { close(r.done) }
