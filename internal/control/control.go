// Package control implements the reliable side channel a client uses to
// announce the start and end of a probe run.
package control

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tkjaer/pathq/internal/shared"
	"github.com/xtaci/kcp-go/v5"
)

const (
	TransportTCP = "tcp"
	TransportKCP = "kcp"

	frameHeaderLen = 2
	// MaxMessageLen is the largest START or END message one frame can carry.
	MaxMessageLen = 0xFFFF
)

// Port returns the control port paired with a probe port. KCP runs over UDP
// and so cannot share the probe socket's port.
func Port(transport string, probePort uint16) uint16 {
	if transport == TransportKCP {
		return probePort + 1
	}
	return probePort
}

// ValidTransport reports whether name is a supported control transport.
func ValidTransport(name string) bool {
	return name == TransportTCP || name == TransportKCP
}

// receiptTimeout bounds how long a KCP sender waits for the peer to confirm
// a control message.
var receiptTimeout = 5 * time.Second

// Conn is one control connection, seen from either end.
//
// KCP has no close handshake and drops whatever is still queued when a
// session closes, so on KCP every START and END is answered with an empty
// receipt frame and the sender waits for it. TCP needs no receipts.
type Conn struct {
	conn      net.Conn
	transport string

	endOnce sync.Once
	end     chan struct{}
}

func newConn(c net.Conn, transport string) *Conn {
	if s, ok := c.(*kcp.UDPSession); ok {
		tuneSession(s)
	}
	return &Conn{conn: c, transport: transport, end: make(chan struct{})}
}

// tuneSession sets a KCP session up for small, latency sensitive messages.
func tuneSession(s *kcp.UDPSession) {
	s.SetStreamMode(true)
	s.SetWriteDelay(false)
	s.SetNoDelay(1, 10, 2, 1)
	s.SetWindowSize(32, 32)
}

// Dial opens a control connection to address:port.
func Dial(ctx context.Context, transport, address string, port uint16) (*Conn, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(int(port)))

	var c net.Conn
	var err error
	switch transport {
	case TransportTCP:
		var d net.Dialer
		c, err = d.DialContext(ctx, "tcp", addr)
	case TransportKCP:
		c, err = kcp.DialWithOptions(addr, nil, 0, 0)
	default:
		return nil, fmt.Errorf("%w: unknown control transport %q", shared.ErrConfig, transport)
	}
	if err != nil {
		return nil, shared.NewTransportError("connect", addr, err)
	}

	slog.Debug("Control connection established", "transport", transport, "server", addr, "local", c.LocalAddr())
	return newConn(c, transport), nil
}

// SendStart sends the message that triggers a run on the server.
func (c *Conn) SendStart(msg string) error {
	return c.send(msg)
}

// SendEnd tells the server the probe stream is over.
func (c *Conn) SendEnd(msg string) error {
	return c.send(msg)
}

// send writes one frame and, on KCP, waits until the peer confirms it.
func (c *Conn) send(msg string) error {
	if len(msg) > MaxMessageLen {
		return fmt.Errorf("%w: control message of %d bytes exceeds %d", shared.ErrConfig, len(msg), MaxMessageLen)
	}
	if err := c.writeFrame(msg); err != nil {
		return shared.NewTransportError("send", c.RemoteAddr(), err)
	}
	if c.transport != TransportKCP {
		return nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(receiptTimeout)); err != nil {
		return shared.NewTransportError("send", c.RemoteAddr(), err)
	}
	defer c.conn.SetReadDeadline(time.Time{})
	if _, err := c.readFrame(); err != nil {
		return shared.NewTransportError("send", c.RemoteAddr(), fmt.Errorf("no receipt: %w", err))
	}
	return nil
}

func (c *Conn) writeFrame(msg string) error {
	b := make([]byte, frameHeaderLen+len(msg))
	binary.BigEndian.PutUint16(b, uint16(len(msg)))
	copy(b[frameHeaderLen:], msg)
	_, err := c.conn.Write(b)
	return err
}

// readFrame reads exactly one frame, header included.
func (c *Conn) readFrame() ([]byte, error) {
	header := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(header))
	frame := make([]byte, frameHeaderLen+n)
	copy(frame, header)
	if _, err := io.ReadFull(c.conn, frame[frameHeaderLen:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// receipt confirms a received frame to a KCP sender.
func (c *Conn) receipt() error {
	if c.transport != TransportKCP {
		return nil
	}
	return c.writeFrame("")
}

// ReceiveOnce blocks until one whole control frame has arrived and returns
// it. The message is opaque to the server: its arrival is the trigger.
func (c *Conn) ReceiveOnce() ([]byte, error) {
	frame, err := c.readFrame()
	if err != nil {
		return nil, shared.NewTransportError("receive", c.RemoteAddr(), err)
	}
	if err := c.receipt(); err != nil {
		return nil, shared.NewTransportError("send", c.RemoteAddr(), err)
	}
	return frame, nil
}

// SetReadDeadline bounds the next ReceiveOnce. The zero time clears it.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Payload returns the message carried by the first frame in b, or b itself
// when it does not hold a complete frame.
func Payload(b []byte) []byte {
	if p, _, ok := splitFrame(b); ok {
		return p
	}
	return b
}

func splitFrame(b []byte) (payload, rest []byte, ok bool) {
	if len(b) < frameHeaderLen {
		return nil, b, false
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < frameHeaderLen+n {
		return nil, b, false
	}
	return b[frameHeaderLen : frameHeaderLen+n], b[frameHeaderLen+n:], true
}

// WaitEnd returns a channel that is closed once the next frame arrives after
// the trigger, or the peer closes the connection. It must only be called
// after ReceiveOnce.
func (c *Conn) WaitEnd() <-chan struct{} {
	c.endOnce.Do(func() {
		go func() {
			defer close(c.end)
			frame, err := c.readFrame()
			switch {
			case err == nil:
				slog.Debug("Client ended run", "peer", c.RemoteAddr(), "message", string(Payload(frame)))
				if err := c.receipt(); err != nil {
					slog.Debug("Confirming end of run failed", "peer", c.RemoteAddr(), "error", err)
				}
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				slog.Debug("Client closed control connection", "peer", c.RemoteAddr())
			case !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe):
				slog.Debug("Control read failed while waiting for end", "peer", c.RemoteAddr(), "error", err)
			}
		}()
	})
	return c.end
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// RemoteIP is the peer address without the port.
func (c *Conn) RemoteIP() string {
	host, _, err := net.SplitHostPort(c.RemoteAddr())
	if err != nil {
		return c.RemoteAddr()
	}
	return host
}

func (c *Conn) Transport() string {
	return c.transport
}

func (c *Conn) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		return shared.NewTransportError("close", c.RemoteAddr(), err)
	}
	return nil
}
