package exchange

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory wsConn driven by a queue of text messages, used
// to exercise Client.Run's cutover/sync logic without a real socket.
type fakeConn struct {
	mu       sync.Mutex
	texts    []string
	pos      int
	closed   bool
	writes   []string
	pingFunc func(string) error
	pongFunc func(string) error
}

func newFakeConn(texts ...string) *fakeConn {
	return &fakeConn{texts: texts}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return 0, nil, errClosed
		}
		if f.pos < len(f.texts) {
			t := f.texts[f.pos]
			f.pos++
			f.mu.Unlock()
			return 1, []byte(t), nil // 1 == websocket.TextMessage
		}
		f.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(_ time.Time) error               { return nil }
func (f *fakeConn) SetPongHandler(h func(string) error)             { f.pongFunc = h }
func (f *fakeConn) SetPingHandler(h func(string) error)             { f.pingFunc = h }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

var errClosed = &fakeErr{msg: "fake conn closed"}

// TestClientCutoverSyncDedup: current emits
// [A,B,C,D], next emits [B,C,D,E,F] with sync_wait_records=3; the observer
// must see [A,B,C,D,E,F] exactly once each.
func TestClientCutoverSyncDedup(t *testing.T) {
	curConn := newFakeConn("A", "B", "C", "D")
	nextConn := newFakeConn("B", "C", "D", "E", "F")

	dialCount := 0
	dial := func(_ context.Context, _ string) (wsConn, error) {
		dialCount++
		if dialCount == 1 {
			return curConn, nil
		}
		return nextConn, nil
	}

	c := NewClient(Config{
		URL:             "fake://market",
		Dial:            dial,
		SwitchInterval:  30 * time.Millisecond,
		PingInterval:    time.Hour,
		SyncWaitRecords: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go func() { _ = c.Run(ctx) }()

	var got []string
	timeout := time.After(280 * time.Millisecond)
collect:
	for {
		select {
		case msg := <-c.Messages():
			got = append(got, msg.Text)
			if len(got) == 6 {
				break collect
			}
		case <-timeout:
			break collect
		}
	}

	want := []string{"A", "B", "C", "D", "E", "F"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// TestClientImmediateCutoverWhenSyncZero exercises sync_wait_records=0:
// cutover happens on dial success with no dedup search.
func TestClientImmediateCutoverWhenSyncZero(t *testing.T) {
	curConn := newFakeConn("1", "2")
	nextConn := newFakeConn("3", "4")

	dialCount := 0
	dial := func(_ context.Context, _ string) (wsConn, error) {
		dialCount++
		if dialCount == 1 {
			return curConn, nil
		}
		return nextConn, nil
	}

	c := NewClient(Config{
		URL:             "fake://market",
		Dial:            dial,
		SwitchInterval:  20 * time.Millisecond,
		PingInterval:    time.Hour,
		SyncWaitRecords: 0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go func() { _ = c.Run(ctx) }()

	var got []string
	timeout := time.After(180 * time.Millisecond)
collect:
	for {
		select {
		case msg := <-c.Messages():
			got = append(got, msg.Text)
			if len(got) == 4 {
				break collect
			}
		case <-timeout:
			break collect
		}
	}

	if len(got) != 4 {
		t.Fatalf("got %v, want 4 messages", got)
	}
}

// TestClientFailureReconnectsFresh: an I/O error on
// the current session causes a fresh reconnect, not a cutover.
func TestClientFailureReconnectsFresh(t *testing.T) {
	curConn := newFakeConn("only")
	reconnectConn := newFakeConn("after-reconnect")

	dialCount := 0
	dial := func(_ context.Context, _ string) (wsConn, error) {
		dialCount++
		if dialCount == 1 {
			return curConn, nil
		}
		return reconnectConn, nil
	}

	c := NewClient(Config{
		URL:            "fake://market",
		Dial:           dial,
		SwitchInterval: time.Hour,
		PingInterval:   time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	go func() { _ = c.Run(ctx) }()

	select {
	case msg := <-c.Messages():
		if msg.Text != "only" {
			t.Fatalf("got %q, want %q", msg.Text, "only")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for first message")
	}

	// Force the read loop to observe an error and trigger a fresh reconnect.
	_ = curConn.Close()

	select {
	case msg := <-c.Messages():
		if msg.Text != "after-reconnect" {
			t.Fatalf("got %q, want %q", msg.Text, "after-reconnect")
		}
	case <-time.After(120 * time.Millisecond):
		t.Fatal("timed out waiting for post-reconnect message")
	}

	if dialCount < 2 {
		t.Fatalf("expected at least 2 dials, got %d", dialCount)
	}
}
