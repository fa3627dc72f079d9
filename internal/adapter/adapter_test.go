package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketcore/internal/hub"
	"marketcore/internal/orderbook"
	"marketcore/internal/store"
	"marketcore/pkg/types"
)

func testConfig() types.MarketConfig {
	return types.MarketConfig{
		ExchangeName:    "fake",
		TradeCategory:   "spot",
		TradeSymbol:     "BTCUSD",
		HomeCurrency:    "USD",
		ForeignCurrency: "BTC",
		PriceUnit:       decimal.RequireFromString("0.01"),
	}
}

// fakeRest is an in-memory RestApi so the adapter's bootstrap, resync, and
// archive paths can run without a network.
type fakeRest struct {
	snapshot     types.BoardTransfer
	recent       []types.Trade
	klines       []types.Kline
	archive      []types.Trade
	archiveCalls int
	klineCalls   int
}

func (f *fakeRest) GetBoardSnapshot(context.Context, types.MarketConfig) (types.BoardTransfer, error) {
	return f.snapshot, nil
}

func (f *fakeRest) GetRecentTrades(context.Context, types.MarketConfig) ([]types.Trade, error) {
	return f.recent, nil
}

func (f *fakeRest) GetKlines(context.Context, types.MarketConfig, types.TimeUs, types.TimeUs, string) ([]types.Kline, string, error) {
	f.klineCalls++
	return f.klines, "", nil
}

func (f *fakeRest) NewOrder(_ context.Context, _ types.MarketConfig, o types.Order) (types.Order, error) {
	return o, nil
}

func (f *fakeRest) CancelOrder(context.Context, types.MarketConfig, string) error { return nil }

func (f *fakeRest) OpenOrders(context.Context, types.MarketConfig) ([]types.Order, error) {
	return nil, nil
}

func (f *fakeRest) GetAccount(context.Context, types.MarketConfig) (types.AccountCoins, error) {
	return nil, nil
}

func (f *fakeRest) HistoryWebURL(types.MarketConfig, time.Time) string { return "" }

func (f *fakeRest) ArchiveToParquet(context.Context, types.MarketConfig, time.Time) ([]types.Trade, error) {
	f.archiveCalls++
	return f.archive, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), 16, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func validSnapshot() types.BoardTransfer {
	return types.BoardTransfer{
		LastUpdateID: 20,
		Bids:         []types.PriceLevel{lvl("100", "1")},
		Asks:         []types.PriceLevel{lvl("101", "1")},
	}
}

// TestBootstrapBackfillsKlineGap seeds a store whose tail is fixed an hour
// ago plus stale UnFix rows inside the gap, then runs bootstrap: the stale
// rows must be scrubbed and the gap filled with 4-tick synthesized trades.
func TestBootstrapBackfillsKlineGap(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	now := types.Now()
	fixTime := now - types.Seconds(3600)
	klineTime := fixTime + types.Seconds(60)

	price := decimal.RequireFromString("100")
	one := decimal.RequireFromString("1")
	require.NoError(t, st.Insert(ctx, []types.Trade{
		{Time: fixTime, Side: types.Buy, Price: price, Size: one, Status: types.FixBlockEnd, ID: "fix-end"},
		{Time: fixTime + types.Seconds(10), Side: types.Buy, Price: price, Size: one, Status: types.UnFix, ID: "stale"},
	}))

	rest := &fakeRest{
		snapshot: validSnapshot(),
		klines: []types.Kline{{
			Time:   klineTime,
			Open:   decimal.RequireFromString("100"),
			High:   decimal.RequireFromString("102"),
			Low:    decimal.RequireFromString("99"),
			Close:  decimal.RequireFromString("101"),
			Volume: decimal.RequireFromString("8"),
		}},
	}

	book := orderbook.New()
	a := New(testConfig(), rest, nil, nil, st, book, hub.New(nil), nil, nil)
	require.NoError(t, a.bootstrap(ctx))

	var gotIDs []string
	require.NoError(t, st.Select(0, 0, func(tr types.Trade) bool {
		gotIDs = append(gotIDs, tr.ID)
		return true
	}))
	require.NotContains(t, gotIDs, "stale")
	require.Contains(t, gotIDs, "fix-end")

	synthetic := 0
	require.NoError(t, st.Select(klineTime, klineTime+types.Seconds(60), func(tr types.Trade) bool {
		synthetic++
		return true
	}))
	require.Equal(t, 4, synthetic)
	require.Equal(t, 1, rest.klineCalls)

	require.False(t, book.NeedsResync())
	_, _, ok := book.GetEdgePrice()
	require.True(t, ok, "bootstrap must seed the board from the REST snapshot")
}

// TestArchiveRangeWrapsBlockMarkersAndSkipsFixedDays covers archive
// download: first/interior/last records wear the FixBlockStart/
// FixArchiveBlock/FixBlockEnd markers, and a day validate_by_date already
// marks complete is not downloaded again.
func TestArchiveRangeWrapsBlockMarkersAndSkipsFixedDays(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dayStart := types.TimeUs(day.UnixMicro())
	price := decimal.RequireFromString("100")
	one := decimal.RequireFromString("1")

	rest := &fakeRest{
		snapshot: validSnapshot(),
		archive: []types.Trade{
			{Time: dayStart + types.Seconds(3600), Side: types.Buy, Price: price, Size: one, Status: types.UnFix, ID: "a1"},
			{Time: dayStart + types.Seconds(12 * 3600), Side: types.Sell, Price: price, Size: one, Status: types.UnFix, ID: "a2"},
			{Time: dayStart + types.Seconds(22 * 3600), Side: types.Buy, Price: price, Size: one, Status: types.UnFix, ID: "a3"},
		},
	}

	a := New(testConfig(), rest, nil, nil, st, orderbook.New(), hub.New(nil), nil, nil)
	require.NoError(t, a.ArchiveRange(ctx, day, day))
	require.Equal(t, 1, rest.archiveCalls)

	statusByID := map[string]types.LogStatus{}
	require.NoError(t, st.Select(0, 0, func(tr types.Trade) bool {
		statusByID[tr.ID] = tr.Status
		return true
	}))
	require.Equal(t, types.FixBlockStart, statusByID["a1"])
	require.Equal(t, types.FixArchiveBlock, statusByID["a2"])
	require.Equal(t, types.FixBlockEnd, statusByID["a3"])

	require.True(t, st.ValidateByDate(day))
	require.NoError(t, a.ArchiveRange(ctx, day, day))
	require.Equal(t, 1, rest.archiveCalls, "a validated day must not be downloaded again")
}

// TestHandleSequenceGapTriggersResync feeds the adapter a delta with a
// sequence gap and expects it to refetch the REST snapshot.
func TestHandleSequenceGapTriggersResync(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rest := &fakeRest{snapshot: validSnapshot()}
	book := orderbook.New()
	require.NoError(t, book.ApplyTransfer(types.BoardTransfer{
		Snapshot: true, LastUpdateID: 10,
		Bids: []types.PriceLevel{lvl("100", "1")},
		Asks: []types.PriceLevel{lvl("101", "1")},
	}))

	a := New(testConfig(), rest, nil, nil, st, book, hub.New(nil), nil, nil)

	a.handle(ctx, types.NewOrderbookMessage("fake", "spot", "BTCUSD", types.BoardTransfer{
		FirstUpdateID: 14, LastUpdateID: 15, // gap: expected first <= 11
		Asks: []types.PriceLevel{lvl("101", "2")},
	}))

	require.False(t, book.NeedsResync(), "handle must clear the resync flag via a fresh snapshot")
}

// TestHandleTradePersistsAndPublishes checks the runtime loop's write path:
// trade batches land in the store and fan out to hub subscribers.
func TestHandleTradePersistsAndPublishes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	h := hub.New(nil)
	cfg := testConfig()
	a := New(cfg, &fakeRest{snapshot: validSnapshot()}, nil, nil, st, orderbook.New(), h, nil, nil)

	sub := h.Subscribe(hub.Key{Exchange: cfg.ExchangeName, Category: cfg.TradeCategory, Symbol: cfg.TradeSymbol}, 4)
	defer sub.Close()

	trades := []types.Trade{{
		Time: 1000, Side: types.Buy,
		Price: decimal.RequireFromString("100"), Size: decimal.RequireFromString("1"),
		Status: types.UnFix, ID: "t1",
	}}
	a.handle(ctx, types.NewTradeMessage(cfg.ExchangeName, cfg.TradeCategory, cfg.TradeSymbol, trades))

	count := 0
	require.NoError(t, st.Select(0, 0, func(types.Trade) bool {
		count++
		return true
	}))
	require.Equal(t, 1, count)

	select {
	case msg := <-sub.Messages():
		require.Equal(t, types.KindTrade, msg.Kind)
		require.Len(t, msg.Trades, 1)
	default:
		t.Fatal("expected the trade message to be published to the hub")
	}
}
