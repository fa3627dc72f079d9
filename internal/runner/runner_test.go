package runner

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketcore/internal/orderbook"
	"marketcore/internal/session"
	"marketcore/pkg/types"
)

type fakeSource struct {
	ch chan types.MarketMessage
}

func (f *fakeSource) Messages() <-chan types.MarketMessage { return f.ch }

func testConfig() types.MarketConfig {
	return types.MarketConfig{
		ExchangeName: "test", TradeCategory: "spot", TradeSymbol: "BTCUSD",
		HomeCurrency: "USD", ForeignCurrency: "BTC",
		PriceUnit: decimal.RequireFromString("0.01"), PriceScale: 2,
		SizeUnit: decimal.RequireFromString("0.0001"), SizeScale: 4,
	}
}

func tradeMsg(price string, n int) types.MarketMessage {
	trades := make([]types.Trade, n)
	for i := range trades {
		trades[i] = types.Trade{
			Time:  types.Now() + types.TimeUs(i),
			Side:  types.Buy,
			Price: decimal.RequireFromString(price),
			Size:  decimal.RequireFromString("1"),
			ID:    "t",
		}
	}
	return types.NewTradeMessage("test", "spot", "BTCUSD", trades)
}

func TestRunnerSkipsAgentDuringWarmup(t *testing.T) {
	cfg := testConfig()
	book := orderbook.New()
	s := session.New(cfg, session.Dry, "agent1", book, nil, 0, nil)

	src := &fakeSource{ch: make(chan types.MarketMessage, 4)}
	tickCount := 0
	r := New(s, src, Callbacks{
		OnTick: func(_ *session.Session, _ types.Trade) { tickCount++ },
	}, 0, nil)

	src.ch <- tradeMsg("100", WarmupSteps)
	close(src.ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	require.Equal(t, 0, tickCount)
}

func TestRunnerDispatchesOnTickAfterWarmup(t *testing.T) {
	cfg := testConfig()
	book := orderbook.New()
	s := session.New(cfg, session.Dry, "agent1", book, nil, 0, nil)

	src := &fakeSource{ch: make(chan types.MarketMessage, 4)}
	tickCount := 0
	r := New(s, src, Callbacks{
		OnTick: func(_ *session.Session, _ types.Trade) { tickCount++ },
	}, 0, nil)

	src.ch <- tradeMsg("100", WarmupSteps)
	src.ch <- tradeMsg("101", 2)
	close(src.ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	require.Equal(t, 2, tickCount)
}

func TestRunnerSurvivesAgentPanic(t *testing.T) {
	cfg := testConfig()
	book := orderbook.New()
	s := session.New(cfg, session.Dry, "agent1", book, nil, 0, nil)

	src := &fakeSource{ch: make(chan types.MarketMessage, 4)}
	r := New(s, src, Callbacks{
		OnTick: func(_ *session.Session, _ types.Trade) { panic("boom") },
	}, 0, nil)

	src.ch <- tradeMsg("100", WarmupSteps)
	src.ch <- tradeMsg("101", 1)
	close(src.ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))
}

// TestRunnerDispatchesClockBeforeTradeApplies: the clock callback must
// observe the session as it was before the boundary-crossing trade
// mutated it, so queries made from on_clock see only closed state.
func TestRunnerDispatchesClockBeforeTradeApplies(t *testing.T) {
	cfg := testConfig()
	s := session.New(cfg, session.BackTest, "agent1", nil, nil, 1, nil)

	// A resting buy the boundary-crossing trade will fill.
	_, err := s.LimitOrder(context.Background(), types.Buy, decimal.RequireFromString("100"), decimal.RequireFromString("1"))
	require.NoError(t, err)

	warmup := make([]types.Trade, WarmupSteps)
	for i := range warmup {
		warmup[i] = types.Trade{
			Time:  types.Seconds(float64(i + 1)),
			Side:  types.Sell,
			Price: decimal.RequireFromString("200"), // above the limit, never crosses
			Size:  decimal.RequireFromString("1"),
			ID:    "w",
		}
	}
	crossing := types.Trade{
		Time:  types.Seconds(100),
		Side:  types.Sell,
		Price: decimal.RequireFromString("100"),
		Size:  decimal.RequireFromString("1"),
		ID:    "x",
	}

	src := &fakeSource{ch: make(chan types.MarketMessage, 4)}
	var positionAtClock []string
	r := New(s, src, Callbacks{
		OnClock: func(sess *session.Session, _ types.TimeUs) {
			positionAtClock = append(positionAtClock, sess.Position.Size.String())
		},
	}, 0, nil)

	src.ch <- types.NewTradeMessage("test", "spot", "BTCUSD", warmup)
	src.ch <- types.NewTradeMessage("test", "spot", "BTCUSD", []types.Trade{crossing})
	close(src.ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	require.Equal(t, []string{"0"}, positionAtClock, "on_clock must fire before the fill lands")
	require.True(t, s.Position.Size.Equal(decimal.RequireFromString("1")))
}
