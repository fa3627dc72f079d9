package orderbook

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"marketcore/pkg/types"
)

// WalkMarketOrder simulates filling a market order of size remainingSize
// against the book's opposite side, in price order. It returns one
// synthetic Order per level consumed; the last one
// is Filled if the full size was matched, otherwise PartiallyFilled with a
// logged warning that the book was exhausted first.
func (b *Book) WalkMarketOrder(logger *slog.Logger, now types.TimeUs, side types.Side, remainingSize decimal.Decimal, id string) []types.Order {
	bidsDesc, asksAsc := b.GetBoardVec()

	var levels []types.PriceLevel
	switch side {
	case types.Buy:
		levels = asksAsc
	case types.Sell:
		levels = bidsDesc
	default:
		if logger != nil {
			logger.Warn("walk_market_order: unknown side", "side", side, "id", id)
		}
		return nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	var fills []types.Order
	remaining := remainingSize
	seq := 0

	for _, lvl := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		fillSize := decimal.Min(remaining, lvl.Size)
		remaining = remaining.Sub(fillSize)
		seq++

		status := types.PartiallyFilled
		if remaining.Sign() <= 0 {
			status = types.Filled
		}

		fills = append(fills, types.Order{
			Category:      "dry",
			CreateTime:    now,
			UpdateTime:    now,
			Status:        status,
			Side:          side,
			Type:          types.Market,
			OrderSize:     remainingSize,
			RemainSize:    remaining,
			TransactionID: fmt.Sprintf("%s-%d", id, seq),
			ExecutePrice:  lvl.Price,
			ExecuteSize:   fillSize,
			QuoteVol:      lvl.Price.Mul(fillSize),
			IsMaker:       false,
		})
	}

	if remaining.Sign() > 0 {
		logger.Warn("walk_market_order: book exhausted before size consumed",
			"id", id, "remaining", remaining.String())
	}

	return fills
}
