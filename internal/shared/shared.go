package shared

import (
	"fmt"
	"time"
)

// RunConfig is the fully resolved input for one client run.
type RunConfig struct {
	StartMessage     string
	EndMessage       string
	PacketCount      int
	ServerAddress    string
	ServerPort       uint16
	PayloadSize      int
	InterPacketDelay time.Duration
	EchoTimeout      time.Duration // 0 disables echo reads
	TOS              int
	Transport        string // control channel transport: tcp or kcp
}

// ObservedSequence holds probe sequence ids in arrival order.
// A zero entry is a gap sentinel: a slot that was never filled.
type ObservedSequence []uint16

// RunStatistics summarizes what the receiver saw during one run
type RunStatistics struct {
	Received   int   `json:"received"`
	Lost       int   `json:"lost"`
	OutOfOrder int   `json:"out_of_order"`
	Warning    error `json:"-"` // set when an invariant had to be clamped
}

// LossPct returns lost packets as a percentage of the expected count.
func (s RunStatistics) LossPct() float64 {
	total := s.Received + s.Lost
	if total == 0 {
		return 0
	}
	return float64(s.Lost) / float64(total) * 100
}

// RunReport is the per-run record handed to the report sinks
type RunReport struct {
	RunID       string        `json:"run_id"`
	Peer        string        `json:"peer"`
	PeerPTR     string        `json:"peer_ptr,omitempty"`
	Trigger     string        `json:"trigger"`
	Expected    int           `json:"expected"`
	Stats       RunStatistics `json:"stats"`
	Malformed   int           `json:"malformed"`
	Interrupted bool          `json:"interrupted"`
	Warning     string        `json:"warning,omitempty"`
	Started     time.Time     `json:"started"`
	Finished    time.Time     `json:"finished"`
}

// RunOutcome is what the client knows once its run has finished
type RunOutcome struct {
	Sent           int           `json:"sent"`
	EchoesReceived int           `json:"echoes_received"`
	EchoesMissed   int           `json:"echoes_missed"`
	MinRTT         time.Duration `json:"min_rtt"`
	AvgRTT         time.Duration `json:"avg_rtt"`
	MaxRTT         time.Duration `json:"max_rtt"`
	LocalAddr      string        `json:"local_addr"`
	Gateway        string        `json:"gateway,omitempty"`
}

// Summary renders the outcome as a single human-readable line.
func (o RunOutcome) Summary() string {
	if o.EchoesReceived == 0 {
		return fmt.Sprintf("sent %d packets from %s, no echoes received", o.Sent, o.LocalAddr)
	}
	return fmt.Sprintf("sent %d packets from %s, echoes %d/%d, rtt min/avg/max = %v/%v/%v",
		o.Sent, o.LocalAddr, o.EchoesReceived, o.Sent, o.MinRTT, o.AvgRTT, o.MaxRTT)
}
