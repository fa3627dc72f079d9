// ratelimit.go implements weight-based rate limiting for outbound REST
// calls. Exchanges publish per-window budgets rather than per-endpoint
// ones: a shared request-weight allowance per minute where heavy calls
// (a 1000-level depth snapshot) are charged more than cheap ones, plus a
// separate order-placement count. Each binding declares its endpoints'
// weights and constructs a limiter from the limits its exchange
// publishes.
package exchange

import (
	"context"
	"sync"
	"time"
)

// Limits is one exchange's published budget set. Zero fields fall back
// to conservative defaults.
type Limits struct {
	RequestWeightPerMin int // shared request-weight budget per minute
	OrdersPer10s        int // order placements per 10-second window
}

const (
	defaultRequestWeightPerMin = 1200
	defaultOrdersPer10s        = 50
)

// weightWindow tracks consumption against one budget over its refill
// window, allowing fractional draws so a weight-25 call and a weight-1
// call share the same allowance.
type weightWindow struct {
	mu        sync.Mutex
	allowance float64
	budget    float64
	window    time.Duration
	refilled  time.Time
}

func newWeightWindow(budget int, window time.Duration) *weightWindow {
	return &weightWindow{
		allowance: float64(budget),
		budget:    float64(budget),
		window:    window,
		refilled:  time.Now(),
	}
}

// waitN blocks until weight units of allowance are available or ctx is
// cancelled. Refill is continuous over the window so callers are smoothed
// rather than released in bursts at window boundaries.
func (w *weightWindow) waitN(ctx context.Context, weight float64) error {
	if weight > w.budget {
		weight = w.budget
	}
	for {
		w.mu.Lock()
		now := time.Now()
		w.allowance += now.Sub(w.refilled).Seconds() * w.budget / w.window.Seconds()
		if w.allowance > w.budget {
			w.allowance = w.budget
		}
		w.refilled = now

		if w.allowance >= weight {
			w.allowance -= weight
			w.mu.Unlock()
			return nil
		}

		deficit := weight - w.allowance
		w.mu.Unlock()
		sleep := time.Duration(deficit / w.budget * float64(w.window))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// RateLimiter enforces one exchange's published budgets: every REST call
// draws its weight from the shared request window, and order placement
// additionally draws from the order-count window.
type RateLimiter struct {
	requests *weightWindow
	orders   *weightWindow
}

// NewRateLimiter builds a limiter for one exchange's Limits.
func NewRateLimiter(l Limits) *RateLimiter {
	if l.RequestWeightPerMin <= 0 {
		l.RequestWeightPerMin = defaultRequestWeightPerMin
	}
	if l.OrdersPer10s <= 0 {
		l.OrdersPer10s = defaultOrdersPer10s
	}
	return &RateLimiter{
		requests: newWeightWindow(l.RequestWeightPerMin, time.Minute),
		orders:   newWeightWindow(l.OrdersPer10s, 10*time.Second),
	}
}

// WaitRequest blocks until the shared request window can absorb weight.
func (rl *RateLimiter) WaitRequest(ctx context.Context, weight int) error {
	return rl.requests.waitN(ctx, float64(weight))
}

// WaitOrder blocks until both the order-count window and the shared
// request window (at the given weight) can absorb one placement.
func (rl *RateLimiter) WaitOrder(ctx context.Context, weight int) error {
	if err := rl.orders.waitN(ctx, 1); err != nil {
		return err
	}
	return rl.requests.waitN(ctx, float64(weight))
}
