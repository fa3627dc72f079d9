package types

import "github.com/shopspring/decimal"

// PriceLevel is a single bid or ask level in a BoardTransfer or book view.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BoardTransfer is a diff payload: either a full snapshot (replaces
// state) or a delta (merges, size=0 removes a level).
type BoardTransfer struct {
	Snapshot       bool
	FirstUpdateID  int64
	LastUpdateID   int64
	LastUpdateTime TimeUs
	Bids           []PriceLevel
	Asks           []PriceLevel
}
