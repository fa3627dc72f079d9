package types

import "github.com/shopspring/decimal"

// OrderType is the order execution style.
type OrderType string

const (
	Limit  OrderType = "Limit"
	Market OrderType = "Market"
)

// OrderStatus is the order's current lifecycle state.
type OrderStatus string

const (
	New             OrderStatus = "New"
	PartiallyFilled OrderStatus = "PartiallyFilled"
	Filled          OrderStatus = "Filled"
	Canceled        OrderStatus = "Canceled"
	Rejected        OrderStatus = "Rejected"
	Error           OrderStatus = "Error"
	UnknownStatus   OrderStatus = "Unknown"
)

// IsTerminal reports whether the status retires the order from the live
// index (it remains present in the log).
func (s OrderStatus) IsTerminal() bool {
	return s == Filled || s == Canceled || s == Rejected
}

// FeeType controls which asset(s) commission is charged against.
type FeeType string

const (
	FeeHome    FeeType = "Home"
	FeeForeign FeeType = "Foreign"
	FeeBoth    FeeType = "Both"
)

// Order is the full order record. Invariant:
// RemainSize = OrderSize - sum(ExecuteSize over fills).
type Order struct {
	Category      string
	Symbol        string
	CreateTime    TimeUs
	Status        OrderStatus
	OrderID       string
	ClientOrderID string // begins with the owning session's agent id
	Side          Side
	Type          OrderType

	OrderPrice  decimal.Decimal
	OrderSize   decimal.Decimal
	RemainSize  decimal.Decimal
	TransactionID string
	UpdateTime    TimeUs
	ExecutePrice  decimal.Decimal
	ExecuteSize   decimal.Decimal
	QuoteVol      decimal.Decimal

	Commission      decimal.Decimal
	CommissionAsset string
	IsMaker         bool
	Message         string

	// Pseudo-account ledger deltas produced by applying this order event.
	HomeChange       decimal.Decimal
	ForeignChange    decimal.Decimal
	FreeHomeChange   decimal.Decimal
	FreeForeignChange decimal.Decimal
	LockHomeChange   decimal.Decimal
	LockForeignChange decimal.Decimal

	OpenPosition  decimal.Decimal
	ClosePosition decimal.Decimal
	Position      decimal.Decimal
	Profit        decimal.Decimal
	Fee           decimal.Decimal
	TotalProfit   decimal.Decimal

	LogID string
}

// AgentIDPrefix extracts the owning session's agent id from ClientOrderID,
// which is formatted "<agent-id>-<base64 time>-<seq>" by
// Session.nextClientOrderID, so orders of other sessions can be told apart.
func (o Order) AgentIDPrefix() string {
	for i := 0; i < len(o.ClientOrderID); i++ {
		if o.ClientOrderID[i] == '-' {
			return o.ClientOrderID[:i]
		}
	}
	return o.ClientOrderID
}
