// Package binance is a concrete exchange binding: it decodes Binance's
// public WebSocket payloads into the canonical types.MarketMessage union
// and implements exchange.RestApi over the spot REST API.
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"marketcore/internal/errs"
	"marketcore/pkg/types"
)

// msecToTimeUs converts a Binance millisecond timestamp to TimeUs.
func msecToTimeUs(ms int64) types.TimeUs { return types.TimeUs(ms * 1000) }

type wsSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// SubscribePayload returns the serializer the WS client uses to announce
// its channel set on every (re)connect: each configured channel is
// qualified with the lowercased symbol per the <symbol>@<stream> naming
// scheme, e.g. "btcusdt@trade".
func SubscribePayload(symbol string) func(channels []string) []byte {
	stream := strings.ToLower(symbol)
	return func(channels []string) []byte {
		params := make([]string, 0, len(channels))
		for _, ch := range channels {
			params = append(params, stream+"@"+ch)
		}
		payload, _ := json.Marshal(wsSubscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1})
		return payload
	}
}

// wsEnvelope discriminates on Binance's "e" event-type tag.
type wsEnvelope struct {
	Event string `json:"e"`
	// EventTime claims the "E" key so encoding/json's case-insensitive
	// field matching cannot bind it to Event.
	EventTime int64 `json:"E"`

	// subscription ack shape: {"result":null,"id":1}
	Result *string `json:"result"`
	ID     *int64  `json:"id"`
}

type wsTradeMessage struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	BuyerID   int64  `json:"b"`
	SellerID  int64  `json:"a"`
	TradeTime int64  `json:"T"`
	IsBuyerMaker bool `json:"m"`
	IsBestMatch  bool `json:"M"`
}

type wsBoardLevel [2]string

type wsBoardUpdate struct {
	Event         string         `json:"e"`
	EventTime     int64          `json:"E"`
	Symbol        string         `json:"s"`
	FirstUpdateID int64          `json:"U"`
	FinalUpdateID int64          `json:"u"`
	Bids          []wsBoardLevel `json:"b"`
	Asks          []wsBoardLevel `json:"a"`
}

func levelsFrom(raw []wsBoardLevel) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", lvl[0], err)
		}
		size, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", lvl[1], err)
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// Decode implements adapter.Decoder for Binance's raw-stream event payload
// shape: a lookup on "e" rather than runtime
// type introspection, mirroring BinancePublicWsMessage's serde tag.
func Decode(category, symbol string) func(raw string) (types.MarketMessage, error) {
	return func(raw string) (types.MarketMessage, error) {
		var env wsEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return types.MarketMessage{}, errs.New(errs.Protocol, "binance.decode", err)
		}

		switch env.Event {
		case "trade":
			var m wsTradeMessage
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				return types.MarketMessage{}, errs.New(errs.Protocol, "binance.decode.trade", err)
			}
			price, err := decimal.NewFromString(m.Price)
			if err != nil {
				return types.MarketMessage{}, errs.New(errs.Protocol, "binance.decode.trade.price", err)
			}
			size, err := decimal.NewFromString(m.Qty)
			if err != nil {
				return types.MarketMessage{}, errs.New(errs.Protocol, "binance.decode.trade.size", err)
			}
			side := types.Sell
			if m.IsBuyerMaker {
				side = types.Buy
			}
			trade := types.Trade{
				Time:   msecToTimeUs(m.TradeTime),
				Side:   side,
				Price:  price,
				Size:   size,
				Status: types.UnFix,
				ID:     fmt.Sprintf("%d", m.TradeID),
			}
			return types.NewTradeMessage("binance", category, symbol, []types.Trade{trade}), nil

		case "depthUpdate":
			var m wsBoardUpdate
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				return types.MarketMessage{}, errs.New(errs.Protocol, "binance.decode.depth", err)
			}
			bids, err := levelsFrom(m.Bids)
			if err != nil {
				return types.MarketMessage{}, errs.New(errs.Protocol, "binance.decode.depth.bids", err)
			}
			asks, err := levelsFrom(m.Asks)
			if err != nil {
				return types.MarketMessage{}, errs.New(errs.Protocol, "binance.decode.depth.asks", err)
			}
			transfer := types.BoardTransfer{
				FirstUpdateID:  m.FirstUpdateID,
				LastUpdateID:   m.FinalUpdateID,
				LastUpdateTime: msecToTimeUs(m.EventTime),
				Bids:           bids,
				Asks:           asks,
			}
			return types.NewOrderbookMessage("binance", category, symbol, transfer), nil

		default:
			if env.Result != nil || env.ID != nil {
				return types.MarketMessage{Exchange: "binance", Category: category, Symbol: symbol, Kind: types.KindControl,
					Control: types.Control{Status: "ok", Operation: "subscribe"}}, nil
			}
			return types.MarketMessage{}, errs.New(errs.Protocol, "binance.decode", fmt.Errorf("unknown event %q", env.Event))
		}
	}
}
