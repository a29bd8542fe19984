package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/tkjaer/pathq/internal/packet"
	"github.com/tkjaer/pathq/internal/shared"
	"github.com/tkjaer/pathq/internal/sockopt"
)

// ReceiveResult is what one receive loop observed.
type ReceiveResult struct {
	Observed    shared.ObservedSequence // len == expected, unfilled slots are 0
	Count       int                     // filled slots
	Malformed   int                     // datagrams skipped as undecodable
	Interrupted bool                    // stopped by cancellation
	Ended       bool                    // stopped after the client announced the end of the run
}

// Receiver owns the server's UDP probe socket. It is reused across runs but
// serves one run at a time.
type Receiver struct {
	conn  *net.UDPConn
	drain time.Duration
	buf   []byte
	echo  gopacket.SerializeBuffer
}

// Listen binds the probe socket on port. Port 0 picks an ephemeral port.
func Listen(ctx context.Context, port uint16, drain time.Duration) (*Receiver, error) {
	addr := net.JoinHostPort("", strconv.Itoa(int(port)))
	lc := net.ListenConfig{Control: sockopt.ReuseAddr}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, shared.NewTransportError("bind", addr, err)
	}
	slog.Debug("Bound probe socket", "addr", pc.LocalAddr())
	return &Receiver{
		conn:  pc.(*net.UDPConn),
		drain: drain,
		buf:   make([]byte, packet.MaxEncodedLen),
		echo:  gopacket.NewSerializeBufferExpectedSize(packet.HeaderLen, 0),
	}, nil
}

// Port returns the bound UDP port.
func (r *Receiver) Port() uint16 {
	return uint16(r.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Run reads probes until expected ids are recorded, ctx is cancelled, or the
// drain period after end closes has passed. Cancellation and end-of-run are
// normal stops; only socket failures are returned as errors.
func (r *Receiver) Run(ctx context.Context, expected int, end <-chan struct{}) (ReceiveResult, error) {
	res := ReceiveResult{Observed: make(shared.ObservedSequence, expected)}

	if err := r.conn.SetReadDeadline(time.Time{}); err != nil {
		return res, shared.NewTransportError("receive", r.conn.LocalAddr().String(), err)
	}
	stop := r.watch(ctx, end)
	defer stop()

	for res.Count < expected {
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, nil
		}

		n, from, err := r.conn.ReadFromUDP(r.buf)
		if err != nil {
			switch {
			case ctx.Err() != nil && (errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed)):
				res.Interrupted = true
				return res, nil
			case errors.Is(err, os.ErrDeadlineExceeded):
				res.Ended = true
				return res, nil
			default:
				return res, shared.NewTransportError("receive", r.conn.LocalAddr().String(), err)
			}
		}

		var p packet.ProbePacket
		if err := p.DecodeFromBytes(r.buf[:n], gopacket.NilDecodeFeedback); err != nil {
			slog.Warn("Skipping malformed probe", "from", from, "bytes", n, "error", err)
			res.Malformed++
			continue
		}
		if p.SequenceID == 0 {
			slog.Warn("Skipping probe with reserved sequence id 0", "from", from)
			res.Malformed++
			continue
		}

		res.Observed[res.Count] = p.SequenceID
		res.Count++
		r.sendEcho(p.SequenceID, from)
	}
	return res, nil
}

// watch unblocks a pending read when ctx is cancelled, or once the drain
// period after end has passed. The returned func stops the watcher and waits
// for it so a stale deadline never leaks into the next run.
func (r *Receiver) watch(ctx context.Context, end <-chan struct{}) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case <-end:
			slog.Debug("Client ended run, draining", "drain", r.drain)
			t := time.NewTimer(r.drain)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			case <-done:
				return
			}
		case <-done:
			return
		}
		if err := r.conn.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("Failed to unblock probe socket", "error", err)
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// sendEcho answers a probe with a header-only packet carrying the same id.
func (r *Receiver) sendEcho(seq uint16, to *net.UDPAddr) {
	if err := r.echo.Clear(); err != nil {
		return
	}
	if err := packet.New(seq, nil).SerializeTo(r.echo, gopacket.SerializeOptions{}); err != nil {
		return
	}
	if _, err := r.conn.WriteToUDP(r.echo.Bytes(), to); err != nil {
		slog.Debug("Echo failed", "to", to, "seq", seq, "error", err)
	}
}

func (res ReceiveResult) String() string {
	return fmt.Sprintf("received %d/%d malformed=%d interrupted=%v ended=%v",
		res.Count, len(res.Observed), res.Malformed, res.Interrupted, res.Ended)
}
