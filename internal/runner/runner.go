// Package runner implements the Runner: it binds an external
// MarketMessage stream — the in-process Hub in normal mode, or the UDP
// Receiver in client mode — to an agent's callback surface, with warm-up,
// deterministic dispatch, and execute-time termination.
package runner

import (
	"context"
	"log/slog"
	"time"

	"marketcore/internal/session"
	"marketcore/pkg/types"
)

// WarmupSteps is the number of leading trade records consumed without
// calling the agent.
const WarmupSteps = 10

// OnTickFunc, OnUpdateFunc, OnAccountUpdateFunc, OnClockFunc let a caller
// wire only the callbacks it needs instead of implementing the full Agent
// interface with empty methods.
type OnTickFunc func(s *session.Session, t types.Trade)
type OnUpdateFunc func(s *session.Session, o types.Order)
type OnAccountUpdateFunc func(s *session.Session, pair types.AccountPair)
type OnClockFunc func(s *session.Session, clockUs types.TimeUs)

// Callbacks is a concrete, field-based Agent that runner.New accepts;
// any field left nil is simply not dispatched.
type Callbacks struct {
	OnTick          OnTickFunc
	OnUpdate        OnUpdateFunc
	OnAccountUpdate OnAccountUpdateFunc
	OnClock         OnClockFunc
}

// Source is the message stream a Runner consumes: the Hub subscription in
// normal mode, or the UDP Receiver in client mode.
type Source interface {
	Messages() <-chan types.MarketMessage
}

// Runner drives one Session from one Source.
type Runner struct {
	session *session.Session
	source  Source
	agent   Callbacks
	logger  *slog.Logger

	executeTime time.Duration
}

// New creates a Runner. executeTime <= 0 disables the elapsed-market-time
// termination condition.
func New(s *session.Session, source Source, agent Callbacks, executeTime time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{session: s, source: source, agent: agent, executeTime: executeTime, logger: logger.With("component", "runner")}
}

// Run consumes the source until it closes, ctx is cancelled, or the
// execute-time budget is exceeded.
func (r *Runner) Run(ctx context.Context) error {
	warmedUpTrades := 0
	var firstMarketTime, lastMarketTime types.TimeUs

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.source.Messages():
			if !ok {
				return nil
			}

			if msg.Kind == types.KindTrade && warmedUpTrades < WarmupSteps {
				live := warmedUpTrades + len(msg.Trades) - WarmupSteps
				if live < 0 {
					live = 0
				}
				warmup := msg.Trades[:len(msg.Trades)-live]
				for _, t := range warmup {
					r.foldTrade(t)
				}
				warmedUpTrades += len(warmup)

				if live == 0 {
					continue
				}
				msg.Trades = msg.Trades[len(warmup):]
			}

			if err := r.dispatch(msg, &firstMarketTime, &lastMarketTime); err != nil {
				return err
			}

			if r.executeTime > 0 && firstMarketTime != 0 {
				elapsed := time.Duration(int64(lastMarketTime-firstMarketTime)) * time.Microsecond
				if elapsed > r.executeTime {
					return nil
				}
			}
		}
	}
}

func (r *Runner) dispatch(msg types.MarketMessage, firstMarketTime, lastMarketTime *types.TimeUs) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("agent callback panicked", "panic", rec)
			err = nil // agent errors are logged, the loop continues
		}
	}()

	switch msg.Kind {
	case types.KindTrade:
		for _, t := range msg.Trades {
			if *firstMarketTime == 0 {
				*firstMarketTime = t.Time
			}
			*lastMarketTime = t.Time

			// on_clock must observe the session as it was before the
			// triggering trade, so the clock advances and dispatches
			// before the trade is applied.
			if boundary, fired := r.session.AdvanceClock(t.Time); fired && r.agent.OnClock != nil {
				r.agent.OnClock(r.session, boundary)
			}
			fills := r.session.ApplyTrade(t)
			if r.agent.OnTick != nil {
				r.agent.OnTick(r.session, t)
			}
			r.dispatchFills(fills)
		}
	case types.KindOrder:
		if !msg.IsAgentFacing() {
			return nil
		}
		for _, o := range msg.Orders {
			if r.agent.OnUpdate != nil {
				r.agent.OnUpdate(r.session, o)
			}
		}
	case types.KindAccount:
		if r.agent.OnAccountUpdate != nil {
			r.agent.OnAccountUpdate(r.session, msg.Account.Project(r.session.Config()))
		}
	}
	return nil
}

// foldTrade updates the session during warm-up without invoking the
// agent.
func (r *Runner) foldTrade(t types.Trade) {
	r.session.OnTrade(t)
}

// dispatchFills re-dispatches synthetic fills produced by the Session as
// Order events and, if any landed, a single aggregated Account event.
func (r *Runner) dispatchFills(fills []types.Order) {
	if len(fills) == 0 {
		return
	}
	for _, o := range fills {
		if r.agent.OnUpdate != nil {
			r.agent.OnUpdate(r.session, o)
		}
	}
	if r.agent.OnAccountUpdate != nil {
		r.agent.OnAccountUpdate(r.session, r.session.Account())
	}
}
