// Command live runs the real-time trading core: one Market Adapter per
// configured market, a shared Market Hub, and one Runner per market
// driving a Session in the configured execution mode: load config,
// build components, wait for SIGINT/SIGTERM, tear down in reverse
// order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"marketcore/internal/adapter"
	"marketcore/internal/config"
	"marketcore/internal/exchange"
	"marketcore/internal/exchange/binance"
	"marketcore/internal/hub"
	"marketcore/internal/orderbook"
	"marketcore/internal/runner"
	"marketcore/internal/session"
	"marketcore/internal/store"
	"marketcore/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MKT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	h := hub.New(logger)
	var udpSender *hub.UDPSender
	if cfg.Hub.UDPEnabled {
		udpSender, err = hub.NewUDPSender(cfg.Hub.UDPMulticastAddr, logger)
		if err != nil {
			logger.Error("failed to start udp sender", "error", err)
			os.Exit(1)
		}
		defer udpSender.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var adapters []*adapter.Adapter
	var wg sync.WaitGroup

	for _, entry := range cfg.Markets {
		mcfg, err := entry.ToMarketConfig()
		if err != nil {
			logger.Error("invalid market config", "error", err)
			os.Exit(1)
		}

		book := orderbook.New()
		var source runner.Source
		var rest exchange.RestApi

		if cfg.Runner.ClientMode {
			// Client mode: no local adapter or Trade Log Store —
			// the process only consumes the UDP sidecar another process's
			// adapter is publishing to.
			recv, err := hub.NewUDPReceiver(cfg.Hub.UDPMulticastAddr, logger)
			if err != nil {
				logger.Error("failed to start udp receiver", "market", mcfg.TradeSymbol, "error", err)
				os.Exit(1)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := recv.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("udp receiver exited", "market", mcfg.TradeSymbol, "error", err)
				}
			}()
			source = &bookUpdatingSource{recv: recv, book: book}
		} else {
			var decode adapter.Decoder
			var subscribe func([]string) []byte
			rest, decode, subscribe, err = buildExchangeBinding(entry)
			if err != nil {
				logger.Error("unsupported exchange", "exchange", entry.Exchange, "error", err)
				os.Exit(1)
			}

			st, err := store.Open(fmt.Sprintf("%s/%s_%s", cfg.Store.DataDir, mcfg.ExchangeName, mcfg.TradeSymbol), cfg.Store.WriterQueueDepth, logger)
			if err != nil {
				logger.Error("failed to open store", "market", mcfg.TradeSymbol, "error", err)
				os.Exit(1)
			}
			defer st.Close()

			ws := exchange.NewClient(exchange.Config{
				URL:              entry.WSURL,
				SubscribePayload: subscribe,
				Logger:           logger,
			})

			a := adapter.New(mcfg, rest, ws, decode, st, book, h, udpSender, logger)
			if err := a.Start(ctx); err != nil {
				logger.Error("failed to start adapter", "market", mcfg.TradeSymbol, "error", err)
				os.Exit(1)
			}
			adapters = append(adapters, a)

			key := hub.Key{Exchange: mcfg.ExchangeName, Category: mcfg.TradeCategory, Symbol: mcfg.TradeSymbol}
			source = h.Subscribe(key, cfg.Hub.SubscriberBuffer)
		}

		sess := session.New(mcfg, session.Mode(cfg.Session.Mode), cfg.Session.AgentID, book, rest, cfg.Session.ClockIntervalSec, logger)

		execTime := time.Duration(cfg.Runner.ExecuteTimeSec * float64(time.Second))
		r := runner.New(sess, source, runner.Callbacks{
			OnTick: func(s *session.Session, t types.Trade) {
				logger.Debug("tick", "market", mcfg.TradeSymbol, "price", t.Price, "side", t.Side)
			},
		}, execTime, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				logger.Error("runner exited", "market", mcfg.TradeSymbol, "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	for _, a := range adapters {
		a.Stop()
	}
	wg.Wait()
}

// bookUpdatingSource wraps a UDP Receiver for client mode: it keeps
// the local orderbook mirror current from Orderbook-kind messages while
// forwarding every message unchanged to the Runner, which itself only
// dispatches the agent-facing kinds.
type bookUpdatingSource struct {
	recv *hub.UDPReceiver
	book *orderbook.Book
	out  chan types.MarketMessage
	once sync.Once
}

func (b *bookUpdatingSource) Messages() <-chan types.MarketMessage {
	b.once.Do(func() {
		b.out = make(chan types.MarketMessage, 256)
		go func() {
			defer close(b.out)
			for msg := range b.recv.Messages() {
				if msg.Kind == types.KindOrderbook {
					_ = b.book.ApplyTransfer(msg.Orderbook)
				}
				b.out <- msg
			}
		}()
	})
	return b.out
}

func buildExchangeBinding(entry config.MarketEntry) (exchange.RestApi, adapter.Decoder, func([]string) []byte, error) {
	switch entry.Exchange {
	case "binance":
		signer := exchange.NewSigner(entry.APIKey, entry.APISecret, 0)
		rest := binance.NewRest(entry.RestBaseURL, signer)
		return rest, binance.Decode(entry.TradeCategory, entry.TradeSymbol), binance.SubscribePayload(entry.TradeSymbol), nil
	default:
		return nil, nil, nil, fmt.Errorf("no exchange binding registered for %q", entry.Exchange)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
