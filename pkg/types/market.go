package types

import "github.com/shopspring/decimal"

// PriceType distinguishes how a market quotes price (e.g. linear vs
// inverse contracts); exchanges that need more than a label supply their
// own conversion in the adapter.
type PriceType string

const (
	PriceLinear  PriceType = "Linear"
	PriceInverse PriceType = "Inverse"
)

// MarketConfig is immutable once constructed. One value exists per
// traded market and is threaded through the adapter, orderbook, and
// session.
type MarketConfig struct {
	ExchangeName    string
	TradeCategory   string
	TradeSymbol     string
	HomeCurrency    string
	ForeignCurrency string

	PriceUnit  decimal.Decimal
	PriceScale int32
	SizeUnit   decimal.Decimal
	SizeScale  int32

	MakerFee decimal.Decimal
	TakerFee decimal.Decimal
	FeeType  FeeType

	PriceType PriceType

	// MarketOrderPriceSlip is the price offset a BackTest market order
	// fills at: the last ask edge plus the slip for a buy, the last bid
	// edge minus the slip for a sell, with the full size in one fill.
	MarketOrderPriceSlip decimal.Decimal

	BoardDepth             int
	PublicSubscribeChannel []string
}

// RoundPrice rounds p to the market's configured price scale.
func (c MarketConfig) RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(c.PriceScale)
}

// RoundSize rounds s to the market's configured size scale.
func (c MarketConfig) RoundSize(s decimal.Decimal) decimal.Decimal {
	return s.Round(c.SizeScale)
}

// PriceBucket floors p to the nearest PriceUnit multiple, used by VAP.
func (c MarketConfig) PriceBucket(p decimal.Decimal) decimal.Decimal {
	if c.PriceUnit.IsZero() {
		return p
	}
	div := p.Div(c.PriceUnit).Floor()
	return div.Mul(c.PriceUnit)
}
