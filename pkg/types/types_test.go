package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTimeUsFloorCeil(t *testing.T) {
	t.Parallel()

	window := TimeUs(60_000_000) // 60s in microseconds
	tests := []struct {
		t         TimeUs
		wantFloor TimeUs
		wantCeil  TimeUs
	}{
		{0, 0, 0},
		{1, 0, window},
		{window, window, window},
		{window + 1, window, 2 * window},
	}

	for _, tt := range tests {
		require.Equal(t, tt.wantFloor, tt.t.Floor(window))
		require.Equal(t, tt.wantCeil, tt.t.Ceil(window))
		require.LessOrEqual(t, int64(tt.t.Floor(window)), int64(tt.t))
		require.Less(t, int64(tt.t), int64(tt.t.Ceil(window))+1) // ohlcv_start(t) <= t < ohlcv_end(t) when t isn't already aligned
	}
}

func TestLogStatusCharRoundTrip(t *testing.T) {
	t.Parallel()

	statuses := []LogStatus{
		UnFix, FixBlockStart, FixArchiveBlock, FixBlockEnd,
		FixRestApiStart, FixRestApiBlock, FixRestApiEnd,
		ExpireControl, ExpireControlForce,
	}
	for _, s := range statuses {
		require.Equal(t, s, StatusFromChar(s.StatusChar()))
	}
}

func TestKlineSplitToTradesPreservesVolume(t *testing.T) {
	t.Parallel()

	k := Kline{
		Time:   1000,
		Open:   decimal.NewFromInt(10),
		High:   decimal.NewFromInt(12),
		Low:    decimal.NewFromInt(9),
		Close:  decimal.NewFromInt(11),
		Volume: decimal.NewFromInt(10), // not evenly divisible by 4
	}
	trades := k.SplitToTrades(60_000_000, FixArchiveBlock, "k1")
	require.Len(t, trades, 4)

	total := decimal.Zero
	for _, tr := range trades {
		total = total.Add(tr.Size)
	}
	require.True(t, total.Equal(k.Volume), "split trades must sum back to the kline volume, got %s want %s", total, k.Volume)

	require.Equal(t, k.Time, trades[0].Time)
	require.Equal(t, k.Time+45_000_000, trades[3].Time)
}

func TestAccountCoinsUpsertAndProject(t *testing.T) {
	t.Parallel()

	var coins AccountCoins
	coins.Upsert(AccountCoin{Symbol: "USDT", Free: decimal.NewFromInt(100)})
	coins.Upsert(AccountCoin{Symbol: "BTC", Free: decimal.NewFromFloat(0.5)})
	coins.Upsert(AccountCoin{Symbol: "USDT", Free: decimal.NewFromInt(200)}) // overwrite

	require.Len(t, coins, 2)
	usdt, ok := coins.Get("USDT")
	require.True(t, ok)
	require.True(t, usdt.Free.Equal(decimal.NewFromInt(200)))

	pair := coins.Project(MarketConfig{HomeCurrency: "USDT", ForeignCurrency: "BTC"})
	require.True(t, pair.Home.Free.Equal(decimal.NewFromInt(200)))
	require.True(t, pair.Foreign.Free.Equal(decimal.NewFromFloat(0.5)))
}

func TestMarketConfigPriceBucket(t *testing.T) {
	t.Parallel()

	cfg := MarketConfig{PriceUnit: decimal.NewFromFloat(0.5)}
	require.True(t, cfg.PriceBucket(decimal.NewFromFloat(10.7)).Equal(decimal.NewFromFloat(10.5)))
}
