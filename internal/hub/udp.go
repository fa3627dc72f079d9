package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"

	"marketcore/pkg/types"
)

// UDPSender is the optional UDP sidecar fanout: it serializes
// each canonical MarketMessage and sends it to a multicast address so an
// out-of-process "client-mode" Runner can consume the same stream. UDP
// datagrams already preserve packet boundaries, so the wire form is a
// single JSON-encoded MarketMessage per packet — no length prefix needed.
type UDPSender struct {
	conn   *net.UDPConn
	logger *slog.Logger
}

// NewUDPSender dials a multicast (or unicast/broadcast) UDP address.
func NewUDPSender(addr string, logger *slog.Logger) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPSender{conn: conn, logger: logger.With("component", "udp_sender")}, nil
}

// Send serializes and writes msg. Failures are logged and swallowed: UDP
// fanout is best-effort and must never block or fail the caller.
func (u *UDPSender) Send(msg types.MarketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		u.logger.Warn("udp send: marshal failed", "error", err)
		return
	}
	if _, err := u.conn.Write(data); err != nil {
		u.logger.Warn("udp send: write failed", "error", err)
	}
}

func (u *UDPSender) Close() error { return u.conn.Close() }

// UDPReceiver deserializes MarketMessages from a multicast group and
// re-exposes them as a channel, so a client-mode Runner can consume the
// same stream as an in-process Hub subscriber.
type UDPReceiver struct {
	conn   *net.UDPConn
	out    chan types.MarketMessage
	logger *slog.Logger
}

// NewUDPReceiver joins the multicast group at addr.
func NewUDPReceiver(addr string, logger *slog.Logger) (*UDPReceiver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &UDPReceiver{
		conn:   conn,
		out:    make(chan types.MarketMessage, 256),
		logger: logger.With("component", "udp_receiver"),
	}
	return r, nil
}

// Messages is the decoded MarketMessage stream.
func (r *UDPReceiver) Messages() <-chan types.MarketMessage { return r.out }

// Run reads packets until ctx is cancelled. Malformed packets are dropped
// with a warning (loss is tolerated; the consumer relies on
// orderbook resync to recover state).
func (r *UDPReceiver) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, err := r.conn.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				close(r.out)
				return ctx.Err()
			default:
				close(r.out)
				return err
			}
		}
		var msg types.MarketMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			r.logger.Warn("udp receive: malformed packet dropped", "error", err)
			continue
		}
		select {
		case r.out <- msg:
		case <-ctx.Done():
			close(r.out)
			return ctx.Err()
		}
	}
}
