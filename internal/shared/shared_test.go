package shared

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestRunStatistics_LossPct(t *testing.T) {
	tests := []struct {
		name  string
		stats RunStatistics
		want  float64
	}{
		{"no packets", RunStatistics{}, 0},
		{"no loss", RunStatistics{Received: 100}, 0},
		{"20 percent", RunStatistics{Received: 80, Lost: 20}, 20},
		{"all lost", RunStatistics{Lost: 10}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stats.LossPct(); got != tt.want {
				t.Errorf("LossPct() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunOutcome_Summary(t *testing.T) {
	out := RunOutcome{Sent: 10, LocalAddr: "127.0.0.1:5000"}
	if got := out.Summary(); !strings.Contains(got, "no echoes") {
		t.Errorf("Summary() = %q, want mention of missing echoes", got)
	}

	out.EchoesReceived = 9
	out.MinRTT = time.Millisecond
	out.AvgRTT = 2 * time.Millisecond
	out.MaxRTT = 3 * time.Millisecond
	got := out.Summary()
	if !strings.Contains(got, "echoes 9/10") || !strings.Contains(got, "1ms/2ms/3ms") {
		t.Errorf("Summary() = %q", got)
	}
}

func TestTransportError(t *testing.T) {
	err := NewTransportError("send", "192.0.2.1:4981", io.ErrClosedPipe)

	if got, want := err.Error(), "send 192.0.2.1:4981: io: read/write on closed pipe"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Error("errors.Is() should see the wrapped error")
	}

	var te *TransportError
	if !errors.As(err, &te) || te.Op != "send" {
		t.Errorf("errors.As() = %v, op %q", te, te.Op)
	}

	noAddr := NewTransportError("bind", "", io.EOF)
	if got := noAddr.Error(); got != "bind: EOF" {
		t.Errorf("Error() = %q, want %q", got, "bind: EOF")
	}
}
