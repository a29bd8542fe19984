// Package client drives one probe run from the sending side.
package client

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/jackpal/gateway"
	"github.com/tkjaer/pathq/internal/control"
	"github.com/tkjaer/pathq/internal/probe"
	"github.com/tkjaer/pathq/internal/shared"
)

// ControlConn is the client end of the control channel.
type ControlConn interface {
	SendStart(msg string) error
	SendEnd(msg string) error
	Close() error
}

// DialFunc opens the control channel.
type DialFunc func(ctx context.Context, transport, address string, port uint16) (ControlConn, error)

// ProbeSender streams the probe packets of one run.
type ProbeSender interface {
	Run(ctx context.Context, cfg shared.RunConfig) (shared.RunOutcome, error)
}

// Controller runs the client state machine for a single run.
type Controller struct {
	cfg    shared.RunConfig
	state  State
	dial   DialFunc
	sender ProbeSender
	// gateway discovers the local default gateway; nil skips discovery.
	gateway func() (net.IP, error)
}

// NewController returns a controller wired to the real control channel and
// probe sender.
func NewController(cfg shared.RunConfig) *Controller {
	return &Controller{
		cfg:   cfg,
		state: Idle,
		dial: func(ctx context.Context, transport, address string, port uint16) (ControlConn, error) {
			return control.Dial(ctx, transport, address, port)
		},
		sender:  probe.NewSender(),
		gateway: gateway.DiscoverGateway,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Run connects, sends START, streams the probes, sends END and closes. The
// control connection is closed on every path out of Run.
func (c *Controller) Run(ctx context.Context) (shared.RunOutcome, error) {
	var out shared.RunOutcome
	cfg := c.cfg

	if err := c.fire(Connect); err != nil {
		return out, err
	}
	conn, err := c.dial(ctx, cfg.Transport, cfg.ServerAddress, control.Port(cfg.Transport, cfg.ServerPort))
	if err != nil {
		return out, c.fail(err)
	}
	closed := false
	defer func() {
		if !closed {
			if err := conn.Close(); err != nil {
				slog.Debug("Closing control connection", "error", err)
			}
		}
	}()
	if err := c.fire(ConnectedEvent); err != nil {
		return out, err
	}

	if err := conn.SendStart(cfg.StartMessage); err != nil {
		return out, c.fail(err)
	}
	if err := c.fire(StartSent); err != nil {
		return out, err
	}

	out, err = c.sender.Run(ctx, cfg)
	if err != nil {
		// Let the server stop waiting for packets that will never come.
		if errors.Is(err, shared.ErrInterrupted) {
			if endErr := conn.SendEnd(cfg.EndMessage); endErr != nil {
				slog.Debug("Sending END after interrupt", "error", endErr)
			}
		}
		return out, c.fail(err)
	}
	if err := c.fire(StreamComplete); err != nil {
		return out, err
	}

	if err := conn.SendEnd(cfg.EndMessage); err != nil {
		return out, c.fail(err)
	}
	closed = true
	if err := conn.Close(); err != nil {
		return out, c.fail(err)
	}
	if err := c.fire(Finished); err != nil {
		return out, err
	}

	out.Gateway = c.discoverGateway()
	return out, nil
}

func (c *Controller) discoverGateway() string {
	if c.gateway == nil {
		return ""
	}
	gw, err := c.gateway()
	if err != nil {
		slog.Debug("Default gateway discovery failed", "error", err)
		return ""
	}
	return gw.String()
}

func (c *Controller) fire(ev Event) error {
	next, err := Next(c.state, ev)
	if err != nil {
		return err
	}
	slog.Debug("Client state change", "from", c.state, "event", ev, "to", next)
	c.state = next
	return nil
}

// fail moves to Error and returns err for the caller to propagate.
func (c *Controller) fail(err error) error {
	c.fire(Failure)
	return err
}
