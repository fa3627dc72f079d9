package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketcore/internal/errs"
	"marketcore/internal/exchange"
	"marketcore/pkg/types"
)

// Rest implements exchange.RestApi against the spot REST API, wrapping
// the shared signed/rate-limited RestClient.
type Rest struct {
	*exchange.RestClient
}

// Published budgets: 6000 request weight per minute on /api/v3, 100
// orders per 10 seconds.
var binanceLimits = exchange.Limits{
	RequestWeightPerMin: 6000,
	OrdersPer10s:        100,
}

// Request weights per endpoint, as published. Depth, trades, and klines
// are quoted at their limit=1000 tier since that is what this binding
// requests.
const (
	weightDepth1000  = 50
	weightTrades1000 = 25
	weightKlines     = 2
	weightOrder      = 1
	weightCancel     = 1
	weightOpenOrders = 6
	weightAccount    = 20
)

// NewRest builds a Binance RestApi binding over baseURL.
func NewRest(baseURL string, signer *exchange.Signer) *Rest {
	return &Rest{RestClient: exchange.NewRestClient(baseURL, signer, binanceLimits)}
}

type restBoardSnapshot struct {
	LastUpdateID int64          `json:"lastUpdateId"`
	Bids         []wsBoardLevel `json:"bids"`
	Asks         []wsBoardLevel `json:"asks"`
}

func (r *Rest) GetBoardSnapshot(ctx context.Context, cfg types.MarketConfig) (types.BoardTransfer, error) {
	if err := r.RL.WaitRequest(ctx, weightDepth1000); err != nil {
		return types.BoardTransfer{}, err
	}
	req := r.HTTP.R().SetContext(ctx).SetQueryParams(map[string]string{
		"symbol": cfg.TradeSymbol,
		"limit":  "1000",
	})
	resp, err := r.Do(ctx, req, "GET", "/api/v3/depth")
	if err != nil {
		return types.BoardTransfer{}, err
	}
	var snap restBoardSnapshot
	if err := json.Unmarshal(resp.Body(), &snap); err != nil {
		return types.BoardTransfer{}, errs.New(errs.Protocol, "binance.depth.decode", err)
	}
	bids, err := levelsFrom(snap.Bids)
	if err != nil {
		return types.BoardTransfer{}, errs.New(errs.Protocol, "binance.depth.bids", err)
	}
	asks, err := levelsFrom(snap.Asks)
	if err != nil {
		return types.BoardTransfer{}, errs.New(errs.Protocol, "binance.depth.asks", err)
	}
	return types.BoardTransfer{LastUpdateID: snap.LastUpdateID, Bids: bids, Asks: asks}, nil
}

type restTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

func (r *Rest) GetRecentTrades(ctx context.Context, cfg types.MarketConfig) ([]types.Trade, error) {
	if err := r.RL.WaitRequest(ctx, weightTrades1000); err != nil {
		return nil, err
	}
	req := r.HTTP.R().SetContext(ctx).SetQueryParams(map[string]string{
		"symbol": cfg.TradeSymbol,
		"limit":  "1000",
	})
	resp, err := r.Do(ctx, req, "GET", "/api/v3/trades")
	if err != nil {
		return nil, err
	}
	var raw []restTrade
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, errs.New(errs.Protocol, "binance.trades.decode", err)
	}
	out := make([]types.Trade, 0, len(raw))
	for _, t := range raw {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, errs.New(errs.Protocol, "binance.trades.price", err)
		}
		size, err := decimal.NewFromString(t.Qty)
		if err != nil {
			return nil, errs.New(errs.Protocol, "binance.trades.size", err)
		}
		side := types.Sell
		if t.IsBuyerMaker {
			side = types.Buy
		}
		out = append(out, types.Trade{
			Time: msecToTimeUs(t.Time), Side: side, Price: price, Size: size,
			Status: types.UnFix, ID: fmt.Sprintf("%d", t.ID),
		})
	}
	return out, nil
}

// restKline is the 12-field array Binance's /api/v3/klines returns.
type restKline [12]json.RawMessage

func (r *Rest) GetKlines(ctx context.Context, cfg types.MarketConfig, start, end types.TimeUs, pageCursor string) ([]types.Kline, string, error) {
	if err := r.RL.WaitRequest(ctx, weightKlines); err != nil {
		return nil, "", err
	}
	startMs := int64(start) / 1000
	if pageCursor != "" {
		var cursorMs int64
		if _, err := fmt.Sscanf(pageCursor, "%d", &cursorMs); err == nil {
			startMs = cursorMs
		}
	}
	req := r.HTTP.R().SetContext(ctx).SetQueryParams(map[string]string{
		"symbol":    cfg.TradeSymbol,
		"interval":  "1m",
		"startTime": fmt.Sprintf("%d", startMs),
		"endTime":   fmt.Sprintf("%d", int64(end)/1000),
		"limit":     "1000",
	})
	resp, err := r.Do(ctx, req, "GET", "/api/v3/klines")
	if err != nil {
		return nil, "", err
	}
	var raw []restKline
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, "", errs.New(errs.Protocol, "binance.klines.decode", err)
	}

	klines := make([]types.Kline, 0, len(raw))
	var lastCloseMs int64
	for _, row := range raw {
		var openTime int64
		var open, high, low, close, volume string
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, "", errs.New(errs.Protocol, "binance.klines.time", err)
		}
		_ = json.Unmarshal(row[1], &open)
		_ = json.Unmarshal(row[2], &high)
		_ = json.Unmarshal(row[3], &low)
		_ = json.Unmarshal(row[4], &close)
		_ = json.Unmarshal(row[5], &volume)

		k := types.Kline{Time: msecToTimeUs(openTime)}
		k.Open, _ = decimal.NewFromString(open)
		k.High, _ = decimal.NewFromString(high)
		k.Low, _ = decimal.NewFromString(low)
		k.Close, _ = decimal.NewFromString(close)
		k.Volume, _ = decimal.NewFromString(volume)
		klines = append(klines, k)
		lastCloseMs = openTime + 60_000
	}

	next := ""
	if len(raw) == 1000 && lastCloseMs < int64(end)/1000 {
		next = fmt.Sprintf("%d", lastCloseMs)
	}
	return klines, next, nil
}

func orderSideString(side types.Side) string {
	if side == types.Buy {
		return "BUY"
	}
	return "SELL"
}

func (r *Rest) NewOrder(ctx context.Context, cfg types.MarketConfig, order types.Order) (types.Order, error) {
	if err := r.RL.WaitOrder(ctx, weightOrder); err != nil {
		return types.Order{}, err
	}
	typ := "LIMIT"
	if order.Type == types.Market {
		typ = "MARKET"
	}
	params := map[string]string{
		"symbol":           cfg.TradeSymbol,
		"side":             orderSideString(order.Side),
		"type":             typ,
		"quantity":         order.OrderSize.String(),
		"newClientOrderId": order.ClientOrderID,
	}
	if typ == "LIMIT" {
		params["timeInForce"] = "GTC"
		params["price"] = order.OrderPrice.String()
	}

	req := r.HTTP.R().SetContext(ctx).SetHeaders(r.Signer.SignedHeaders("")).SetQueryParams(params)
	resp, err := r.Do(ctx, req, "POST", "/api/v3/order")
	if err != nil {
		return types.Order{}, err
	}

	var ack struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		TransactTime  int64  `json:"transactTime"`
	}
	if err := json.Unmarshal(resp.Body(), &ack); err != nil {
		return types.Order{}, errs.New(errs.Protocol, "binance.new_order.decode", err)
	}

	placed := order
	placed.OrderID = fmt.Sprintf("%d", ack.OrderID)
	placed.Status = mapOrderStatus(ack.Status)
	placed.UpdateTime = msecToTimeUs(ack.TransactTime)
	return placed, nil
}

func mapOrderStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.New
	case "PARTIALLY_FILLED":
		return types.PartiallyFilled
	case "FILLED":
		return types.Filled
	case "CANCELED", "EXPIRED":
		return types.Canceled
	case "REJECTED":
		return types.Rejected
	default:
		return types.UnknownStatus
	}
}

func (r *Rest) CancelOrder(ctx context.Context, cfg types.MarketConfig, orderID string) error {
	if err := r.RL.WaitRequest(ctx, weightCancel); err != nil {
		return err
	}
	req := r.HTTP.R().SetContext(ctx).SetHeaders(r.Signer.SignedHeaders("")).SetQueryParams(map[string]string{
		"symbol":            cfg.TradeSymbol,
		"origClientOrderId": orderID,
	})
	_, err := r.Do(ctx, req, "DELETE", "/api/v3/order")
	return err
}

func (r *Rest) OpenOrders(ctx context.Context, cfg types.MarketConfig) ([]types.Order, error) {
	if err := r.RL.WaitRequest(ctx, weightOpenOrders); err != nil {
		return nil, err
	}
	req := r.HTTP.R().SetContext(ctx).SetHeaders(r.Signer.SignedHeaders("")).SetQueryParams(map[string]string{
		"symbol": cfg.TradeSymbol,
	})
	resp, err := r.Do(ctx, req, "GET", "/api/v3/openOrders")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Price         string `json:"price"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		Status        string `json:"status"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		Time          int64  `json:"time"`
	}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, errs.New(errs.Protocol, "binance.open_orders.decode", err)
	}

	out := make([]types.Order, 0, len(raw))
	for _, o := range raw {
		price, _ := decimal.NewFromString(o.Price)
		orig, _ := decimal.NewFromString(o.OrigQty)
		executed, _ := decimal.NewFromString(o.ExecutedQty)
		side := types.Sell
		if o.Side == "BUY" {
			side = types.Buy
		}
		typ := types.Limit
		if o.Type == "MARKET" {
			typ = types.Market
		}
		out = append(out, types.Order{
			Category: cfg.TradeCategory, Symbol: cfg.TradeSymbol,
			CreateTime: msecToTimeUs(o.Time), Status: mapOrderStatus(o.Status),
			OrderID: fmt.Sprintf("%d", o.OrderID), ClientOrderID: o.ClientOrderID,
			Side: side, Type: typ, OrderPrice: price, OrderSize: orig,
			RemainSize: orig.Sub(executed),
		})
	}
	return out, nil
}

func (r *Rest) GetAccount(ctx context.Context, cfg types.MarketConfig) (types.AccountCoins, error) {
	if err := r.RL.WaitRequest(ctx, weightAccount); err != nil {
		return nil, err
	}
	req := r.HTTP.R().SetContext(ctx).SetHeaders(r.Signer.SignedHeaders(""))
	resp, err := r.Do(ctx, req, "GET", "/api/v3/account")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, errs.New(errs.Protocol, "binance.account.decode", err)
	}

	var coins types.AccountCoins
	for _, b := range raw.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		coins.Upsert(types.AccountCoin{Symbol: b.Asset, Free: free, Locked: locked, Volume: free.Add(locked)})
	}
	return coins, nil
}

// HistoryWebURL builds the daily trade archive URL.
func (r *Rest) HistoryWebURL(cfg types.MarketConfig, date time.Time) string {
	return fmt.Sprintf("https://data.binance.vision/data/spot/daily/trades/%s/%s-trades-%s.zip",
		cfg.TradeSymbol, cfg.TradeSymbol, date.Format("2006-01-02"))
}

// ArchiveToParquet is out of scope for the REST binding itself; it
// returns an empty slice so Adapter.ArchiveRange simply skips the day.
func (r *Rest) ArchiveToParquet(ctx context.Context, cfg types.MarketConfig, date time.Time) ([]types.Trade, error) {
	return nil, nil
}
