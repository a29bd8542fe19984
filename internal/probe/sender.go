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
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Sender streams one run's probe packets to the server.
type Sender struct{}

// NewSender returns a Sender.
func NewSender() *Sender {
	return &Sender{}
}

// Run sends cfg.PacketCount probes with sequence ids 1..PacketCount, never
// faster than cfg.InterPacketDelay, and reads best-effort echoes in between.
func (s *Sender) Run(ctx context.Context, cfg shared.RunConfig) (shared.RunOutcome, error) {
	var out shared.RunOutcome
	addr := net.JoinHostPort(cfg.ServerAddress, strconv.Itoa(int(cfg.ServerPort)))

	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return out, shared.NewTransportError("dial", addr, err)
	}
	conn := c.(*net.UDPConn)
	defer conn.Close()
	out.LocalAddr = conn.LocalAddr().String()

	if cfg.TOS != 0 {
		if err := setTOS(conn, cfg.TOS); err != nil {
			slog.Warn("Failed to set TOS on probe socket", "tos", cfg.TOS, "error", err)
		}
	}

	slog.Debug("Sending probes",
		"server", addr,
		"local", out.LocalAddr,
		"packets", cfg.PacketCount,
		"payload_size", cfg.PayloadSize,
		"delay", cfg.InterPacketDelay,
	)

	echoes := newEchoTracker(cfg.EchoTimeout)
	payload := fillPayload(cfg.PayloadSize)
	buf := gopacket.NewSerializeBufferExpectedSize(packet.HeaderLen+cfg.PayloadSize, 0)
	var lastSend time.Time

	// Echoes are read alongside the stream and timed as they arrive.
	finished := make(chan struct{})
	var reader sync.WaitGroup
	if cfg.EchoTimeout > 0 {
		reader.Add(1)
		go func() {
			defer reader.Done()
			readEchoes(conn, echoes, finished)
		}()
	}
	// stopEchoes ends the reader by deadline and collects the results.
	stopEchoes := func(deadline time.Time) {
		close(finished)
		if echoes.pending() == 0 {
			deadline = time.Now()
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			slog.Debug("Failed to set echo read deadline", "error", err)
			conn.Close()
		}
		reader.Wait()
		echoes.summarize(&out)
	}

	for i := 1; i <= cfg.PacketCount; i++ {
		if err := buf.Clear(); err != nil {
			stopEchoes(time.Now())
			return out, err
		}
		if err := packet.New(uint16(i), payload).SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
			stopEchoes(time.Now())
			return out, err
		}

		lastSend = time.Now()
		if cfg.EchoTimeout > 0 {
			echoes.sent(uint16(i), lastSend)
		}
		if err := send(conn, buf.Bytes()); err != nil {
			stopEchoes(time.Now())
			return out, shared.NewTransportError("send", addr, err)
		}
		out.Sent++

		if i < cfg.PacketCount {
			if err := pace(ctx, time.Until(lastSend.Add(cfg.InterPacketDelay))); err != nil {
				stopEchoes(time.Now())
				return out, err
			}
		}
	}

	// Give echoes for the last packets a chance to arrive.
	stopEchoes(lastSend.Add(cfg.EchoTimeout))

	slog.Debug("Finished sending probes", "sent", out.Sent, "echoes", out.EchoesReceived)
	return out, nil
}

// send writes one datagram, retrying once on a transient OS error.
func send(conn net.Conn, b []byte) error {
	_, err := conn.Write(b)
	if err != nil && sockopt.IsTransient(err) {
		slog.Debug("Transient send error, retrying", "error", err)
		_, err = conn.Write(b)
	}
	return err
}

// readEchoes reads echoes until the read deadline passes or the socket is
// closed. Once finished is closed it also returns as soon as no echo is
// outstanding. A missing or malformed echo is not an error.
func readEchoes(conn *net.UDPConn, echoes *echoTracker, finished <-chan struct{}) {
	buf := make([]byte, packet.MaxEncodedLen)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("Echo read failed", "error", err)
			}
			return
		}
		at := time.Now()
		p, err := packet.Decode(buf[:n])
		if err != nil {
			slog.Debug("Discarding malformed echo", "error", err)
			continue
		}
		if !echoes.received(p.SequenceID, at) {
			slog.Debug("Discarding unexpected echo", "seq", p.SequenceID)
		}

		select {
		case <-finished:
			if echoes.pending() == 0 {
				return
			}
		default:
		}
	}
}

// pace waits for d, returning early only if ctx is cancelled.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("pacing: %w", shared.ErrInterrupted)
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pacing: %w", shared.ErrInterrupted)
	}
}

func fillPayload(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	return payload
}

func setTOS(conn *net.UDPConn, tos int) error {
	if ra, ok := conn.RemoteAddr().(*net.UDPAddr); ok && ra.IP.To4() == nil {
		return ipv6.NewConn(conn).SetTrafficClass(tos)
	}
	return ipv4.NewConn(conn).SetTOS(tos)
}
