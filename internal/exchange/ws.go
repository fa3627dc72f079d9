// ws.go implements the auto-reconnect WebSocket client: a best-effort
// exactly-once stream of text messages across connection lifetimes, with
// application-level ping and zero-gap cutover on periodic reconnects.
// During a cutover two sessions overlap and the streams are aligned on
// the most recent text payload so the consumer never sees a duplicate.
package exchange

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketcore/pkg/types"
)

// ReceiveKind tags a ReceiveMessage.
type ReceiveKind int

const (
	MsgText ReceiveKind = iota
	MsgPing
	MsgPong
)

// ReceiveMessage is a single item in the client's lazy message sequence.
type ReceiveMessage struct {
	Kind ReceiveKind
	Text string
}

// wsConn is the subset of *websocket.Conn the client needs, so tests can
// inject a fake transport instead of dialing a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetPingHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a new transport connection to url. The production default
// dials a real WebSocket; tests substitute a fake.
type Dialer func(ctx context.Context, url string) (wsConn, error)

// DefaultDialer dials a real WebSocket connection with gorilla/websocket.
func DefaultDialer(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Subscriptions is the shared, lock-protected channel-subscription set
// both the current and next session serialize into their subscribe
// payload on (re)connect.
type Subscriptions struct {
	mu       sync.RWMutex
	channels map[string]bool
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{channels: make(map[string]bool)}
}

func (s *Subscriptions) Add(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = true
}

func (s *Subscriptions) Remove(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channel)
}

func (s *Subscriptions) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

// Client is the auto-reconnect, seamless-cutover WebSocket client.
type Client struct {
	url    string
	dial   Dialer
	logger *slog.Logger

	Subs *Subscriptions

	switchInterval   time.Duration
	pingInterval     time.Duration
	syncWaitRecords  int
	appPing          func() string // optional app-level ping text, nil if not required
	subscribePayload func([]string) []byte

	out      chan ReceiveMessage
	errCh    chan error
	lastText string
	lastMu   sync.Mutex
}

// Config bundles the client tunables so NewClient stays a single call.
type Config struct {
	URL              string
	Dial             Dialer // nil = DefaultDialer
	SwitchInterval   time.Duration
	PingInterval     time.Duration
	SyncWaitRecords  int
	AppPing          func() string
	SubscribePayload func(channels []string) []byte
	Logger           *slog.Logger
}

// NewClient builds a client from Config, filling in defaults.
func NewClient(cfg Config) *Client {
	dial := cfg.Dial
	if dial == nil {
		dial = DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switchInterval := cfg.SwitchInterval
	if switchInterval <= 0 {
		switchInterval = 23 * time.Hour
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	return &Client{
		url:              cfg.URL,
		dial:             dial,
		logger:           logger.With("component", "ws_client"),
		Subs:             NewSubscriptions(),
		switchInterval:   switchInterval,
		pingInterval:     pingInterval,
		syncWaitRecords:  cfg.SyncWaitRecords,
		appPing:          cfg.AppPing,
		subscribePayload: cfg.SubscribePayload,
		out:              make(chan ReceiveMessage, 256),
		errCh:            make(chan error, 1),
	}
}

// Messages returns the consumer-facing stream: at
// most one of each message even though two sessions may receive it during
// cutover.
func (c *Client) Messages() <-chan ReceiveMessage { return c.out }

// Errs surfaces a terminal error if Run exits unexpectedly.
func (c *Client) Errs() <-chan error { return c.errCh }

// session is one live connection plus its reader and ping goroutines.
type session struct {
	conn       wsConn
	msgCh      chan ReceiveMessage
	errCh      chan error
	cancelPing context.CancelFunc
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	conn, err := c.dial(ctx, c.url)
	if err != nil {
		return nil, err
	}

	if c.subscribePayload != nil {
		payload := c.subscribePayload(c.Subs.List())
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			return nil, err
		}
	}

	s := &session{
		conn:  conn,
		msgCh: make(chan ReceiveMessage, 64),
		errCh: make(chan error, 1),
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	s.cancelPing = cancelPing

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	// Control frames never surface through ReadMessage; hand pongs to the
	// stream here so consumers can observe them.
	conn.SetPongHandler(func(appData string) error {
		select {
		case s.msgCh <- ReceiveMessage{Kind: MsgPong, Text: appData}:
		default:
		}
		return nil
	})

	go c.pingLoop(pingCtx, s)
	go c.readLoop(s)

	return s, nil
}

func (c *Client) readLoop(s *session) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errCh <- err:
			default:
			}
			return
		}
		switch msgType {
		case websocket.TextMessage:
			s.msgCh <- ReceiveMessage{Kind: MsgText, Text: string(data)}
		case websocket.PongMessage:
			s.msgCh <- ReceiveMessage{Kind: MsgPong, Text: string(data)}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	var appTimer *time.Timer
	var appCh <-chan time.Time
	if c.appPing != nil {
		// Jittered offset from the transport ping: the first app ping
		// fires a random fraction of the interval in, then every interval.
		appTimer = time.NewTimer(time.Duration(rand.Int63n(int64(c.pingInterval))))
		appCh = appTimer.C
		defer appTimer.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Payload is the current epoch in microseconds.
			payload := []byte(itoa64(int64(types.Now())))
			if err := s.conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Warn("transport ping failed", "error", err)
				return
			}
		case <-appCh:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(c.appPing())); err != nil {
				c.logger.Warn("app ping failed", "error", err)
				return
			}
			appTimer.Reset(c.pingInterval)
		}
	}
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (c *Client) closeSession(s *session) {
	if s == nil {
		return
	}
	s.cancelPing()
	s.conn.Close()
}

func (c *Client) emit(msg ReceiveMessage) {
	if msg.Kind == MsgText {
		c.lastMu.Lock()
		c.lastText = msg.Text
		c.lastMu.Unlock()
	}
	c.out <- msg
}

func (c *Client) snapshotLastText() string {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return c.lastText
}

// Run drives the client until ctx is cancelled or a fresh reconnect fails.
// Any I/O error on the current session aborts its ping task, drops the
// connection, and causes the loop to attempt a fresh connect — not a
// cutover.
func (c *Client) Run(ctx context.Context) error {
	cur, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.closeSession(cur)

	switchTimer := time.NewTimer(c.switchInterval)
	defer switchTimer.Stop()

	var next *session
	inCutover := false
	syncRemaining := 0

	finishCutover := func() {
		c.closeSession(cur)
		cur = next
		next = nil
		inCutover = false
		switchTimer.Reset(c.switchInterval)
	}

	for {
		var nextMsgCh chan ReceiveMessage
		var nextErrCh chan error
		if next != nil {
			nextMsgCh = next.msgCh
			nextErrCh = next.errCh
		}

		select {
		case <-ctx.Done():
			if next != nil {
				c.closeSession(next)
			}
			return ctx.Err()

		case <-switchTimer.C:
			if next != nil {
				continue
			}
			n, derr := c.connect(ctx)
			if derr != nil {
				c.logger.Warn("cutover dial failed, retrying next interval", "error", derr)
				switchTimer.Reset(c.switchInterval)
				continue
			}
			next = n
			if c.syncWaitRecords == 0 {
				// sync_wait_records == 0: cutover is immediate, no dedup.
				finishCutover()
				continue
			}
			inCutover = true
			syncRemaining = c.syncWaitRecords

		case msg := <-cur.msgCh:
			c.emit(msg)

		case rerr := <-cur.errCh:
			_ = rerr
			if next != nil {
				c.closeSession(next)
				next = nil
				inCutover = false
			}
			c.closeSession(cur)
			newCur, derr := c.connect(ctx)
			if derr != nil {
				return derr
			}
			cur = newCur
			switchTimer.Reset(c.switchInterval)

		case msg, ok := <-nextMsgCh:
			if !ok {
				continue
			}
			if !inCutover {
				continue
			}
			target := c.snapshotLastText()
			syncRemaining--
			matched := msg.Kind == MsgText && msg.Text == target

			if matched {
				// Discard up to and including the match; old stream
				// stops, new stream becomes current.
				finishCutover()
				continue
			}
			if syncRemaining <= 0 {
				c.logger.Warn("sync budget exhausted on cutover, few records may be lost")
				finishCutover()
				// This record was not a match and the budget is spent:
				// forward it since the new stream is now authoritative.
				c.emit(msg)
				continue
			}
			// Still searching: discard this record from the new stream,
			// keep forwarding the old stream in the meantime.

		case rerr := <-nextErrCh:
			_ = rerr
			c.closeSession(next)
			next = nil
			inCutover = false
			switchTimer.Reset(c.switchInterval)
		}
	}
}
