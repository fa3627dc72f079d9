// Package errs defines the typed error kinds used across the trading
// core. Each kind wraps an underlying cause so %w unwrapping still works,
// while errors.Is/As against the Kind sentinel lets callers branch on
// "was this retryable" without string matching.
package errs

import "fmt"

// Kind is one of the error categories callers branch on.
type Kind string

const (
	// Transport covers DNS, TCP, TLS, or WS close before handshake.
	// Retried with exponential backoff; never fatal.
	Transport Kind = "transport"

	// Protocol covers unparseable payloads, unknown variants, and
	// sequence violations. The orderbook marks resync; other streams
	// drop the record with a warning.
	Protocol Kind = "protocol"

	// Auth covers 401/403 or exchange-specific auth codes. Reported to
	// the caller; never retried.
	Auth Kind = "auth"

	// RateLimit covers 429 or an exchange-specific rate limit code.
	// Back off and retry with jitter.
	RateLimit Kind = "rate_limit"

	// Validation covers rounding to zero size/price, unknown side, or
	// unrecognized order-type strings. Returned immediately, no order
	// submitted.
	Validation Kind = "validation"

	// Store covers write failure or corruption. The writer logs and
	// continues; corruption on startup aborts the adapter.
	Store Kind = "store"

	// Agent covers any exception from an agent callback. Logged; the
	// Runner continues to the next message unless the execute-time
	// limit is reached.
	Agent Kind = "agent"
)

// Error is a typed error carrying a Kind and a wrapped cause.
type Error struct {
	Kind Kind
	Op   string // short operation label, e.g. "ws.dial", "store.insert"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under kind/op. A nil err returns nil, so call sites can
// write `return errs.New(errs.Transport, "dial", err)` unconditionally
// after an `if err != nil` without a second branch.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether the error kind should be retried by callers
// that implement backoff (Transport, RateLimit). Auth/Validation/Protocol
// are not retried automatically.
func Retryable(err error) bool {
	return Is(err, Transport) || Is(err, RateLimit)
}
