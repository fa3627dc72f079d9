// Package hub implements the Market Hub: a process-wide publish/
// subscribe registry keyed by (exchange, category, symbol) that lets
// Sessions subscribe to an adapter's canonical stream without the adapter
// holding a direct reference back to any Session — the Hub is the
// rendezvous point that breaks the cycle. Publish is non-blocking with
// drop-on-full so a slow subscriber can never stall a producer.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"marketcore/pkg/types"
)

// Key identifies one market's stream.
type Key struct {
	Exchange string
	Category string
	Symbol   string
}

type subscriber struct {
	ch      chan types.MarketMessage
	dropped atomic.Int64
}

// Hub is the process-wide registry. The zero value is not usable; use New.
type Hub struct {
	mu     sync.RWMutex
	topics map[Key][]*subscriber
	logger *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{topics: make(map[Key][]*subscriber), logger: logger.With("component", "hub")}
}

// Subscription is a bounded receiver handle returned by Subscribe.
type Subscription struct {
	key Key
	sub *subscriber
	hub *Hub
}

// Messages returns the channel to range over.
func (s *Subscription) Messages() <-chan types.MarketMessage { return s.sub.ch }

// Dropped returns how many messages this subscriber has missed due to a
// full buffer.
func (s *Subscription) Dropped() int64 { return s.sub.dropped.Load() }

// Close removes the subscriber from the hub.
func (s *Subscription) Close() { s.hub.unsubscribe(s.key, s.sub) }

// Subscribe registers a bounded receiver for key.
func (h *Hub) Subscribe(key Key, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	sub := &subscriber{ch: make(chan types.MarketMessage, bufferSize)}

	h.mu.Lock()
	h.topics[key] = append(h.topics[key], sub)
	h.mu.Unlock()

	return &Subscription{key: key, sub: sub, hub: h}
}

func (h *Hub) unsubscribe(key Key, target *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[key]
	for i, s := range subs {
		if s == target {
			h.topics[key] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish attempts a non-blocking send to every subscriber of key; a
// full subscriber buffer drops the message and increments its drop
// counter rather than blocking the producer. The adapter publishes every
// canonical message kind, including orderbook-only updates; it is the
// Runner's dispatch that skips non-agent-facing messages.
func (h *Hub) Publish(key Key, msg types.MarketMessage) {
	h.mu.RLock()
	subs := h.topics[key]
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		default:
			n := s.dropped.Add(1)
			if n%100 == 1 {
				h.logger.Warn("subscriber buffer full, dropping message", "exchange", key.Exchange, "symbol", key.Symbol, "dropped_total", n)
			}
		}
	}
}

// SubscriberCount reports the live subscriber count for key, for metrics.
func (h *Hub) SubscriberCount(key Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[key])
}
