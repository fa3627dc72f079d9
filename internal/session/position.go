// position.go tracks the scalar signed position and weighted-average
// cost for one Session. All arithmetic is decimal; prices and sizes
// never touch floating point.
package session

import "github.com/shopspring/decimal"

// Position is the pseudo-account's signed open position and its
// weighted-average entry price.
type Position struct {
	Size         decimal.Decimal // signed: positive = long, negative = short
	AveragePrice decimal.Decimal
	TotalProfit  decimal.Decimal // cumulative realized profit across all fills; fees are not deducted
}

// Fill is the effect of one order event on the position: it always opens,
// closes, or both (when a fill flips the sign).
type Fill struct {
	Opened decimal.Decimal // quantity that increased |position|, signed by side
	Closed decimal.Decimal // quantity that decreased |position| (always >= 0)
	Profit decimal.Decimal // realized P&L from the Closed portion
}

// signForSide is +1 for a buy fill, -1 for a sell fill.
func signForSide(isBuy bool) decimal.Decimal {
	if isBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// Apply folds one execution into the position.
func (p *Position) Apply(isBuy bool, execPrice, execSize decimal.Decimal) Fill {
	sign := signForSide(isBuy)
	delta := execSize.Mul(sign) // signed quantity this fill contributes

	var fill Fill

	switch {
	case p.Size.Sign() == 0:
		p.openLocked(delta, execPrice)
		fill.Opened = delta

	case sameSign(p.Size, delta):
		p.openLocked(delta, execPrice)
		fill.Opened = delta

	default:
		// Reducing or flipping.
		closing := decimal.Min(p.Size.Abs(), delta.Abs())
		closeSign := decimal.NewFromInt(1)
		if p.Size.Sign() < 0 {
			closeSign = decimal.NewFromInt(-1)
		}
		// Profit per unit is (exec - avg) for a long being sold, or
		// (avg - exec) for a short being bought back.
		var profitPerUnit decimal.Decimal
		if p.Size.Sign() > 0 {
			profitPerUnit = execPrice.Sub(p.AveragePrice)
		} else {
			profitPerUnit = p.AveragePrice.Sub(execPrice)
		}
		profit := profitPerUnit.Mul(closing)

		p.Size = p.Size.Sub(closing.Mul(closeSign))
		fill.Closed = closing
		fill.Profit = profit
		p.TotalProfit = p.TotalProfit.Add(profit)

		remaining := execSize.Sub(closing)
		if p.Size.Sign() == 0 {
			p.AveragePrice = decimal.Zero
		}
		if remaining.Sign() > 0 {
			// The fill over-closed: the remainder opens a new position at
			// the new side's price.
			reopenDelta := remaining.Mul(sign)
			p.openLocked(reopenDelta, execPrice)
			fill.Opened = reopenDelta
		}
	}

	return fill
}

func (p *Position) openLocked(delta, execPrice decimal.Decimal) {
	if p.Size.Sign() == 0 {
		p.Size = delta
		p.AveragePrice = execPrice
		return
	}
	totalCost := p.AveragePrice.Mul(p.Size.Abs()).Add(execPrice.Mul(delta.Abs()))
	p.Size = p.Size.Add(delta)
	if p.Size.Sign() != 0 {
		p.AveragePrice = totalCost.Div(p.Size.Abs())
	} else {
		p.AveragePrice = decimal.Zero
	}
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.Sign() > 0 && b.Sign() > 0) || (a.Sign() < 0 && b.Sign() < 0)
}
