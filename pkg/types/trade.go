package types

import "github.com/shopspring/decimal"

// Side is the direction of a trade or order: BUY, SELL, or unknown when the
// source payload didn't carry a usable side.
type Side string

const (
	Buy     Side = "BUY"
	Sell    Side = "SELL"
	Unknown Side = "UNKNOWN"
)

// LogStatus is the tagged variant governing a Trade row's expiry policy.
// Authoritative statuses are never overwritten by stream data; UnFix
// rows are overwritten (deleted) whenever an authoritative batch covers
// their time range.
type LogStatus string

const (
	// UnFix rows come from the live stream and may be scrubbed by
	// authoritative data covering the same range.
	UnFix LogStatus = "UnFix"

	// Daily archive markers (authoritative).
	FixBlockStart   LogStatus = "FixBlockStart"
	FixArchiveBlock LogStatus = "FixArchiveBlock"
	FixBlockEnd     LogStatus = "FixBlockEnd"

	// REST backfill markers (authoritative).
	FixRestApiStart LogStatus = "FixRestApiStart"
	FixRestApiBlock LogStatus = "FixRestApiBlock"
	FixRestApiEnd   LogStatus = "FixRestApiEnd"

	// Sentinels: never persisted as rows, only interpreted by Store.Insert
	// to scrub UnFix rows within a time range.
	ExpireControl      LogStatus = "ExpireControl"
	ExpireControlForce LogStatus = "ExpireControlForce"
)

// IsFix reports whether status is an authoritative (non-UnFix, non-control)
// status — i.e. one that should cause overlapping UnFix rows to be deleted
// on insert.
func (s LogStatus) IsFix() bool {
	switch s {
	case FixBlockStart, FixArchiveBlock, FixBlockEnd,
		FixRestApiStart, FixRestApiBlock, FixRestApiEnd:
		return true
	default:
		return false
	}
}

// IsControl reports whether status is one of the ExpireControl sentinels.
func (s LogStatus) IsControl() bool {
	return s == ExpireControl || s == ExpireControlForce
}

// StatusChar is the single-character encoding used by the normalized trade
// CSV wire format.
func (s LogStatus) StatusChar() byte {
	switch s {
	case UnFix:
		return 'U'
	case FixBlockStart:
		return 'S'
	case FixArchiveBlock:
		return 'A'
	case FixBlockEnd:
		return 'E'
	case FixRestApiStart:
		return 's'
	case FixRestApiBlock:
		return 'a'
	case FixRestApiEnd:
		return 'e'
	case ExpireControl:
		return 'X'
	case ExpireControlForce:
		return 'x'
	default:
		return '?'
	}
}

// StatusFromChar inverts StatusChar.
func StatusFromChar(c byte) LogStatus {
	switch c {
	case 'U':
		return UnFix
	case 'S':
		return FixBlockStart
	case 'A':
		return FixArchiveBlock
	case 'E':
		return FixBlockEnd
	case 's':
		return FixRestApiStart
	case 'a':
		return FixRestApiBlock
	case 'e':
		return FixRestApiEnd
	case 'X':
		return ExpireControl
	case 'x':
		return ExpireControlForce
	default:
		return UnFix
	}
}

// Trade is an immutable execution record. Price and Size are arbitrary
// precision decimals.
type Trade struct {
	Time   TimeUs          `json:"time"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Status LogStatus       `json:"status"`
	ID     string          `json:"id"`
}

// Kline is a REST OHLCV bar, convertible to four synthetic trades.
type Kline struct {
	Time   TimeUs
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// SplitToTrades expands a kline into a 4-tick synthetic trade sequence:
// open@t, high@t+W/4, low@t+W/2, close@t+3W/4, each with size=volume/4
// and any division remainder folded into the close tick rather than
// dropped.
func (k Kline) SplitToTrades(window TimeUs, status LogStatus, idPrefix string) []Trade {
	quarter := window / 4
	four := decimal.NewFromInt(4)
	base := k.Volume.Div(four)
	// base*4 may not reconstruct k.Volume exactly due to rounding; fold
	// whatever is left over into the close tick instead of dropping it.
	remainder := k.Volume.Sub(base.Mul(four))

	return []Trade{
		{Time: k.Time, Side: sideForOHLCV(k.Open, k.Close), Price: k.Open, Size: base, Status: status, ID: idPrefix + "-o"},
		{Time: k.Time + quarter, Side: sideForOHLCV(k.Open, k.High), Price: k.High, Size: base, Status: status, ID: idPrefix + "-h"},
		{Time: k.Time + 2*quarter, Side: sideForOHLCV(k.High, k.Low), Price: k.Low, Size: base, Status: status, ID: idPrefix + "-l"},
		{Time: k.Time + 3*quarter, Side: sideForOHLCV(k.Low, k.Close), Price: k.Close, Size: base.Add(remainder), Status: status, ID: idPrefix + "-c"},
	}
}

func sideForOHLCV(from, to decimal.Decimal) Side {
	switch to.Cmp(from) {
	case 1:
		return Buy
	case -1:
		return Sell
	default:
		return Unknown
	}
}
