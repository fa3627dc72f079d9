// ledger.go implements the pseudo-account ledger: lock/unlock on order
// lifecycle events and fee accounting keyed by fee_type. It is event-sourced — the in-memory AccountPair is a fold
// over order events, and tests reconstruct expected state the same way.
package session

import (
	"github.com/shopspring/decimal"

	"marketcore/pkg/types"
)

// Ledger is the pseudo-account balance tracker for one Session.
type Ledger struct {
	cfg     types.MarketConfig
	account types.AccountPair

	// pending tracks the amount locked per open order, keyed by
	// ClientOrderID, so partial fills and cancels can unlock proportionally.
	pending map[string]pendingLock
}

type pendingLock struct {
	homeLocked    decimal.Decimal
	foreignLocked decimal.Decimal
	orderSize     decimal.Decimal
}

// NewLedger seeds the ledger with a starting balance (zero account by
// default).
func NewLedger(cfg types.MarketConfig, initial types.AccountPair) *Ledger {
	return &Ledger{cfg: cfg, account: initial, pending: make(map[string]pendingLock)}
}

// Snapshot returns the current balances.
func (l *Ledger) Snapshot() types.AccountPair { return l.account }

// Apply folds one order event into the ledger and writes the balance
// deltas the event produced onto the order's own delta fields, so the
// event a caller dispatches already carries them.
func (l *Ledger) Apply(o *types.Order) {
	switch o.Status {
	case types.New:
		l.lockNew(o)
	case types.PartiallyFilled, types.Filled:
		l.unlockFill(o)
		l.chargeCommission(o)
	case types.Canceled:
		l.releaseCancel(o)
	}
}

func (l *Ledger) lockNew(o *types.Order) {
	if !o.IsMaker {
		return
	}
	var lock pendingLock
	lock.orderSize = o.OrderSize
	if o.Side == types.Buy {
		lock.homeLocked = o.OrderPrice.Mul(o.OrderSize)
		l.account.Home.Locked = l.account.Home.Locked.Add(lock.homeLocked)
		l.account.Home.Free = l.account.Home.Free.Sub(lock.homeLocked)
		o.LockHomeChange = lock.homeLocked
		o.FreeHomeChange = lock.homeLocked.Neg()
	} else {
		lock.foreignLocked = o.OrderSize
		l.account.Foreign.Locked = l.account.Foreign.Locked.Add(lock.foreignLocked)
		l.account.Foreign.Free = l.account.Foreign.Free.Sub(lock.foreignLocked)
		o.LockForeignChange = lock.foreignLocked
		o.FreeForeignChange = lock.foreignLocked.Neg()
	}
	l.pending[o.ClientOrderID] = lock
}

func (l *Ledger) unlockFill(o *types.Order) {
	lock, ok := l.pending[o.ClientOrderID]
	if ok && lock.orderSize.Sign() > 0 {
		ratio := o.ExecuteSize.Div(lock.orderSize)
		if o.Side == types.Buy {
			unlock := lock.homeLocked.Mul(ratio)
			l.account.Home.Locked = l.account.Home.Locked.Sub(unlock)
			o.LockHomeChange = unlock.Neg()
		} else {
			unlock := lock.foreignLocked.Mul(ratio)
			l.account.Foreign.Locked = l.account.Foreign.Locked.Sub(unlock)
			o.LockForeignChange = unlock.Neg()
		}
	}

	notional := o.ExecutePrice.Mul(o.ExecuteSize)
	if o.Side == types.Buy {
		l.account.Home.Volume = l.account.Home.Volume.Sub(notional)
		l.account.Foreign.Volume = l.account.Foreign.Volume.Add(o.ExecuteSize)
		l.account.Foreign.Free = l.account.Foreign.Free.Add(o.ExecuteSize)
		o.HomeChange = notional.Neg()
		o.ForeignChange = o.ExecuteSize
	} else {
		l.account.Home.Volume = l.account.Home.Volume.Add(notional)
		l.account.Home.Free = l.account.Home.Free.Add(notional)
		l.account.Foreign.Volume = l.account.Foreign.Volume.Sub(o.ExecuteSize)
		o.HomeChange = notional
		o.ForeignChange = o.ExecuteSize.Neg()
	}

	if o.Status == types.Filled {
		delete(l.pending, o.ClientOrderID)
	}
}

func (l *Ledger) releaseCancel(o *types.Order) {
	lock, ok := l.pending[o.ClientOrderID]
	if !ok {
		return
	}
	if lock.homeLocked.Sign() != 0 {
		l.account.Home.Locked = l.account.Home.Locked.Sub(lock.homeLocked)
		l.account.Home.Free = l.account.Home.Free.Add(lock.homeLocked)
		o.LockHomeChange = lock.homeLocked.Neg()
		o.FreeHomeChange = lock.homeLocked
	}
	if lock.foreignLocked.Sign() != 0 {
		l.account.Foreign.Locked = l.account.Foreign.Locked.Sub(lock.foreignLocked)
		l.account.Foreign.Free = l.account.Foreign.Free.Add(lock.foreignLocked)
		o.LockForeignChange = lock.foreignLocked.Neg()
		o.FreeForeignChange = lock.foreignLocked
	}
	delete(l.pending, o.ClientOrderID)
}

// chargeCommission applies fee_type-driven commission: home, foreign, or
// both depending on fee_type; in "Both" mode buys pay in home and sells
// pay in foreign.
func (l *Ledger) chargeCommission(o *types.Order) {
	rate := l.cfg.TakerFee
	if o.IsMaker {
		rate = l.cfg.MakerFee
	}
	if rate.Sign() == 0 {
		return
	}

	notional := o.ExecutePrice.Mul(o.ExecuteSize)

	chargeHome := func() {
		fee := notional.Mul(rate)
		l.account.Home.Free = l.account.Home.Free.Sub(fee)
		o.Commission = o.Commission.Add(fee)
		o.CommissionAsset = commissionAsset(o.CommissionAsset, l.cfg.HomeCurrency)
		o.Fee = o.Fee.Add(fee)
	}
	chargeForeign := func() {
		fee := o.ExecuteSize.Mul(rate)
		l.account.Foreign.Free = l.account.Foreign.Free.Sub(fee)
		o.Commission = o.Commission.Add(fee)
		o.CommissionAsset = commissionAsset(o.CommissionAsset, l.cfg.ForeignCurrency)
		o.Fee = o.Fee.Add(fee)
	}

	switch l.cfg.FeeType {
	case types.FeeHome:
		chargeHome()
	case types.FeeForeign:
		chargeForeign()
	case types.FeeBoth:
		if o.Side == types.Buy {
			chargeHome()
		} else {
			chargeForeign()
		}
	}
}

// commissionAsset implements Open Question (c): when commission_asset is
// empty, infer it from fee_type rather than leaving it blank.
func commissionAsset(existing, inferred string) string {
	if existing != "" {
		return existing
	}
	return inferred
}
