// Package eventlog implements the Logger: a per-Session sink for
// indicator, order, and account events, kept in memory for the agent's
// own queries and optionally mirrored to a JSON-lines file for offline
// analysis. Named eventlog, not log, to avoid shadowing log/slog.
//
// One timestamped record per event kind, an in-memory ring the agent
// can read back, and a file sink opened on demand.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"

	"marketcore/pkg/types"
)

// RecordKind tags one eventlog.Record.
type RecordKind string

const (
	KindIndicator RecordKind = "indicator"
	KindOrder     RecordKind = "order"
	KindAccount   RecordKind = "account"
)

// Record is one logged event. Exactly one of Indicator/Order/Account is
// populated, selected by Kind — mirrors types.MarketMessage's tagged-union
// shape so the same encode/decode pattern applies.
type Record struct {
	Time types.TimeUs `json:"time"`
	Kind RecordKind   `json:"kind"`

	Indicator *IndicatorRecord   `json:"indicator,omitempty"`
	Order     *types.Order       `json:"order,omitempty"`
	Account   *types.AccountPair `json:"account,omitempty"`
}

// IndicatorRecord is one named scalar sample — an agent-defined metric
// such as a fair-value estimate or signal strength, timestamped at the
// Session's current logical clock.
type IndicatorRecord struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// memoryRingDefault bounds the in-memory ring when the caller doesn't
// specify one; old records are evicted oldest-first.
const memoryRingDefault = 100_000

// Logger is the per-Session event sink. It always keeps a bounded
// in-memory ring; the file sink is optional and opened via Open.
type Logger struct {
	mu      sync.Mutex
	ring    []Record
	ringCap int
	head    int // next write index once the ring is full
	full    bool

	file     *os.File
	filePath string
}

// New creates a Logger with the given in-memory ring capacity; capacity
// <= 0 uses memoryRingDefault.
func New(capacity int) *Logger {
	if capacity <= 0 {
		capacity = memoryRingDefault
	}
	return &Logger{ringCap: capacity, ring: make([]Record, 0, capacity)}
}

// Open attaches a JSON-lines file sink at path, created or appended to.
func (l *Logger) Open(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.filePath = path
	return nil
}

// Close releases the file sink, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ring) < l.ringCap {
		l.ring = append(l.ring, r)
	} else {
		l.ring[l.head] = r
		l.head = (l.head + 1) % l.ringCap
		l.full = true
	}

	if l.file != nil {
		line, err := json.Marshal(r)
		if err == nil {
			line = append(line, '\n')
			_, _ = l.file.Write(line)
		}
	}
}

// LogIndicator records a named scalar at t.
func (l *Logger) LogIndicator(t types.TimeUs, name string, value decimal.Decimal) {
	l.append(Record{Time: t, Kind: KindIndicator, Indicator: &IndicatorRecord{Name: name, Value: value}})
}

// LogOrder records an order event.
func (l *Logger) LogOrder(t types.TimeUs, o types.Order) {
	l.append(Record{Time: t, Kind: KindOrder, Order: &o})
}

// LogAccount records a pseudo-account snapshot.
func (l *Logger) LogAccount(t types.TimeUs, acct types.AccountPair) {
	l.append(Record{Time: t, Kind: KindAccount, Account: &acct})
}

// Records returns a copy of the in-memory ring in chronological order.
func (l *Logger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]Record, len(l.ring))
		copy(out, l.ring)
		return out
	}

	out := make([]Record, 0, l.ringCap)
	out = append(out, l.ring[l.head:]...)
	out = append(out, l.ring[:l.head]...)
	return out
}

// FlushToFile atomically rewrites the file sink with the full in-memory
// ring, using a .tmp-then-rename swap so a crash mid-write never leaves a
// truncated file.
func (l *Logger) FlushToFile(path string) error {
	records := l.Records()

	var buf []byte
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("eventlog: marshal record: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("eventlog: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
