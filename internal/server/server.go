// Package server accepts client runs one at a time, receives their probes
// and reports the result of every run.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tkjaer/pathq/internal/config"
	"github.com/tkjaer/pathq/internal/control"
	"github.com/tkjaer/pathq/internal/output"
	"github.com/tkjaer/pathq/internal/probe"
	"github.com/tkjaer/pathq/internal/shared"
	"github.com/tkjaer/pathq/internal/stats"
	"github.com/tkjaer/pathq/internal/status"
	"github.com/tkjaer/pathq/pkg/ptr"
)

// triggerTimeout is how long an accepted client has to send its trigger
// before the connection is dropped and the server listens again.
var triggerTimeout = 5 * time.Second

// endGrace is how long a run that saw every expected probe waits for the
// client's END before the control connection is closed.
const endGrace = time.Second

// run is one accepted client, handed from the accept loop to the probe loop.
type run struct {
	conn    *control.Conn
	trigger []byte
	done    chan struct{}
}

// Server owns the probe socket, the control listener and the report outputs
type Server struct {
	expect int

	receiver *probe.Receiver
	listener *control.Listener
	outputs  *output.OutputManager
	registry *prometheus.Registry
	status   *status.Server
	ptr      *ptr.PtrManager

	runs chan *run

	mu    sync.Mutex
	state State
}

// New binds the probe socket and control listener and opens every output.
// The probe socket is bound first so port 0 can pick the port for both.
func New(ctx context.Context, args config.ServerArgs) (*Server, error) {
	s := &Server{
		expect:   args.Expect,
		registry: prometheus.NewRegistry(),
		runs:     make(chan *run),
		state:    Listening,
	}
	if !args.NoResolve {
		s.ptr = ptr.NewPtrManager()
	}

	var err error
	s.receiver, err = probe.Listen(ctx, args.Port, args.Drain)
	if err != nil {
		return nil, err
	}
	s.listener, err = control.Listen(ctx, args.Transport, control.Port(args.Transport, s.receiver.Port()))
	if err != nil {
		s.receiver.Close()
		return nil, err
	}
	if err := s.createOutputs(args); err != nil {
		s.Close()
		return nil, err
	}

	slog.Info("Server ready",
		"probe_port", s.receiver.Port(),
		"control", args.Transport,
		"control_port", s.listener.Port(),
		"expect", s.expect,
	)
	return s, nil
}

// createOutputs registers the report file, stdout and any optional outputs
func (s *Server) createOutputs(args config.ServerArgs) error {
	s.outputs = &output.OutputManager{}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := output.NewMetricsOutput(s.registry)
	if err != nil {
		return err
	}
	s.outputs.Register(metrics)

	report, err := output.NewTextOutput(args.ReportFile)
	if err != nil {
		return fmt.Errorf("opening report file: %w", err)
	}
	s.outputs.Register(report)

	stdout, _ := output.NewTextOutput("")
	s.outputs.Register(stdout)

	if args.JSONFile != "" {
		jsonOut, err := output.NewJSONOutput(args.JSONFile)
		if err != nil {
			return fmt.Errorf("opening JSON file: %w", err)
		}
		s.outputs.Register(jsonOut)
	}

	if args.NATSURL != "" {
		natsOut, err := output.NewNATSOutput(args.NATSURL, args.NATSSubject)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		s.outputs.Register(natsOut)
	}

	if args.HTTPListen != "" {
		s.status = status.New(args.HTTPListen, s.registry)
		s.outputs.Register(s.status)
	}
	return nil
}

// Port returns the UDP probe port.
func (s *Server) Port() uint16 {
	return s.receiver.Port()
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run serves runs until ctx is cancelled. An interrupt is a clean stop and
// returns nil once any run in progress has been reported.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(s.runs)
		return s.acceptLoop(gctx)
	})
	g.Go(func() error {
		return s.probeLoop(gctx)
	})
	if s.status != nil {
		g.Go(func() error {
			return s.status.Serve(gctx)
		})
	}

	err := g.Wait()
	if err != nil {
		slog.Error("Server stopped", "state", s.State(), "error", err)
		return err
	}
	slog.Debug("Server stopped", "state", s.State())
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if errors.Is(err, shared.ErrInterrupted) {
			return s.fire(Interrupt)
		}
		if err != nil {
			s.fire(Failure)
			return err
		}
		if err := s.fire(Accept); err != nil {
			conn.Close()
			return err
		}
		slog.Debug("Accepted control connection", "peer", conn.RemoteAddr())

		trigger, err := receiveTrigger(ctx, conn)
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return s.fire(Interrupt)
			}
			slog.Warn("Dropping client before its run started", "peer", conn.RemoteAddr(), "error", err)
			if err := s.fire(Abort); err != nil {
				return err
			}
			continue
		}

		r := &run{conn: conn, trigger: trigger, done: make(chan struct{})}
		select {
		case s.runs <- r:
		case <-ctx.Done():
			conn.Close()
			return s.fire(Interrupt)
		}

		// One run at a time: wait until it has been reported.
		<-r.done
		if s.State() != Listening {
			return nil
		}
	}
}

// receiveTrigger waits up to triggerTimeout for the client's first message.
// Cancelling ctx closes the connection to unblock the read.
func receiveTrigger(ctx context.Context, conn *control.Conn) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := conn.SetReadDeadline(time.Now().Add(triggerTimeout)); err != nil {
		return nil, err
	}
	trigger, err := conn.ReceiveOnce()
	if err != nil {
		return nil, err
	}
	return trigger, conn.SetReadDeadline(time.Time{})
}

func (s *Server) probeLoop(ctx context.Context) error {
	for r := range s.runs {
		err := s.probe(ctx, r)
		close(r.done)
		if err != nil {
			return err
		}
	}
	return nil
}

// probe runs the receiver for one client and reports the result.
func (s *Server) probe(ctx context.Context, r *run) error {
	defer r.conn.Close()
	if err := s.fire(Trigger); err != nil {
		return err
	}

	report := &shared.RunReport{
		RunID:    uuid.NewString(),
		Peer:     r.conn.RemoteIP(),
		Trigger:  string(control.Payload(r.trigger)),
		Expected: s.expect,
		Started:  time.Now(),
	}
	slog.Info("Run started", "run_id", report.RunID, "peer", report.Peer, "trigger", report.Trigger)

	end := r.conn.WaitEnd()
	res, err := s.receiver.Run(ctx, s.expect, end)
	if err != nil {
		s.fire(Failure)
		return err
	}
	if err := s.fire(ProbeDone); err != nil {
		return err
	}

	report.Finished = time.Now()
	report.Stats = stats.Compute(res.Observed, s.expect)
	report.Malformed = res.Malformed
	report.Interrupted = res.Interrupted
	if report.Stats.Warning != nil {
		report.Warning = report.Stats.Warning.Error()
		slog.Warn("Run statistics were clamped", "run_id", report.RunID, "warning", report.Stats.Warning)
	}
	if s.ptr != nil {
		report.PeerPTR = s.ptr.Lookup(ctx, report.Peer)
	}

	s.outputs.CompleteRun(report)
	slog.Info("Run reported",
		"run_id", report.RunID,
		"received", report.Stats.Received,
		"lost", report.Stats.Lost,
		"out_of_order", report.Stats.OutOfOrder,
		"interrupted", report.Interrupted,
		"duration", report.Finished.Sub(report.Started),
	)
	if err := s.fire(Reported); err != nil {
		return err
	}

	// A KCP client waits for the receipt to its END, so the session stays
	// open until END arrives.
	select {
	case <-end:
	case <-ctx.Done():
	case <-time.After(endGrace):
		slog.Debug("No END from client", "run_id", report.RunID)
	}
	return nil
}

func (s *Server) fire(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := Next(s.state, ev)
	if err != nil {
		return err
	}
	slog.Debug("Server state change", "from", s.state, "event", ev, "to", next)
	s.state = next
	return nil
}

// Close releases the sockets and closes every output.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.receiver != nil {
		s.receiver.Close()
	}
	if s.outputs != nil {
		s.outputs.Close()
	}
}
