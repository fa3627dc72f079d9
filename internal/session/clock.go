package session

import "marketcore/pkg/types"

// Clock gates on_clock dispatch to interval boundaries: when
// clock_interval_sec > 0, every trade whose floored time advances past the
// current boundary fires on_clock before the triggering trade is applied,
// so OHLCV queries made from inside on_clock see only closed bars.
type Clock struct {
	interval types.TimeUs // 0 disables the clock
	current  types.TimeUs
}

// NewClock builds a Clock; intervalSec <= 0 disables clock advancement.
func NewClock(intervalSec float64) *Clock {
	if intervalSec <= 0 {
		return &Clock{interval: 0}
	}
	return &Clock{interval: types.Seconds(intervalSec)}
}

// Enabled reports whether clock gating is active.
func (c *Clock) Enabled() bool { return c.interval > 0 }

// Advance checks whether t crosses the current boundary and, if so,
// returns the new boundary and true. Call before applying the trade that
// triggered the check.
func (c *Clock) Advance(t types.TimeUs) (types.TimeUs, bool) {
	if !c.Enabled() {
		return 0, false
	}
	floored := t.Floor(c.interval)
	if floored > c.current {
		c.current = floored
		return floored, true
	}
	return 0, false
}

// Current returns the current clock boundary.
func (c *Clock) Current() types.TimeUs { return c.current }
