package probe

import (
	"testing"
	"time"

	"github.com/tkjaer/pathq/internal/shared"
)

func TestEchoTracker(t *testing.T) {
	e := newEchoTracker(time.Minute)
	base := time.Now()

	e.sent(1, base)
	e.sent(2, base)
	e.sent(3, base)

	tests := []struct {
		name string
		seq  uint16
		at   time.Time
		want bool
	}{
		{"first echo", 1, base.Add(10 * time.Millisecond), true},
		{"duplicate echo", 1, base.Add(11 * time.Millisecond), false},
		{"second echo", 3, base.Add(30 * time.Millisecond), true},
		{"never sent", 9, base.Add(time.Millisecond), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.received(tt.seq, tt.at); got != tt.want {
				t.Errorf("received(%d) = %v, want %v", tt.seq, got, tt.want)
			}
		})
	}

	if got := e.pending(); got != 1 {
		t.Errorf("pending() = %d, want 1", got)
	}

	out := shared.RunOutcome{Sent: 3}
	e.summarize(&out)
	if out.EchoesReceived != 2 || out.EchoesMissed != 1 {
		t.Errorf("echoes = %d/%d, want 2 received 1 missed", out.EchoesReceived, out.EchoesMissed)
	}
	if out.MinRTT != 10*time.Millisecond || out.MaxRTT != 30*time.Millisecond || out.AvgRTT != 20*time.Millisecond {
		t.Errorf("rtt = %v/%v/%v, want 10ms/20ms/30ms", out.MinRTT, out.AvgRTT, out.MaxRTT)
	}
}

func TestEchoTracker_Expired(t *testing.T) {
	e := newEchoTracker(10 * time.Millisecond)
	e.sent(1, time.Now())
	time.Sleep(30 * time.Millisecond)

	if e.received(1, time.Now()) {
		t.Error("received() matched an echo after its timeout")
	}
	if got := e.pending(); got != 0 {
		t.Errorf("pending() = %d, want 0", got)
	}
}
