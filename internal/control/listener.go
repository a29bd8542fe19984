package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/tkjaer/pathq/internal/shared"
	"github.com/tkjaer/pathq/internal/sockopt"
	"github.com/xtaci/kcp-go/v5"
)

// Listener accepts control connections on the server.
type Listener struct {
	ln        net.Listener
	transport string
}

// Listen binds the control listener. Port 0 picks an ephemeral port.
func Listen(ctx context.Context, transport string, port uint16) (*Listener, error) {
	addr := net.JoinHostPort("", strconv.Itoa(int(port)))

	var ln net.Listener
	var err error
	switch transport {
	case TransportTCP:
		lc := net.ListenConfig{Control: sockopt.ReuseAddr}
		ln, err = lc.Listen(ctx, "tcp", addr)
	case TransportKCP:
		ln, err = kcp.ListenWithOptions(addr, nil, 0, 0)
	default:
		return nil, fmt.Errorf("%w: unknown control transport %q", shared.ErrConfig, transport)
	}
	if err != nil {
		return nil, shared.NewTransportError("bind", addr, err)
	}

	slog.Debug("Control listener bound", "transport", transport, "addr", ln.Addr())
	return &Listener{ln: ln, transport: transport}, nil
}

// Accept waits for the next client. Cancelling ctx closes the listener and
// returns ErrInterrupted.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("accept: %w", shared.ErrInterrupted)
	}
	stop := context.AfterFunc(ctx, func() {
		l.ln.Close()
	})
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("accept: %w", shared.ErrInterrupted)
		}
		return nil, shared.NewTransportError("accept", l.ln.Addr().String(), err)
	}
	return newConn(c, l.transport), nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound port.
func (l *Listener) Port() uint16 {
	_, p, err := net.SplitHostPort(l.ln.Addr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseUint(p, 10, 16)
	return uint16(n)
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
