package output

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/tkjaer/pathq/internal/shared"
)

// publisher is the subset of *nats.Conn used for reports.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSOutput publishes each report as JSON on a NATS subject
type NATSOutput struct {
	conn    publisher
	subject string
}

// NewNATSOutput connects to the NATS server at url.
func NewNATSOutput(url, subject string) (*NATSOutput, error) {
	nc, err := nats.Connect(url, nats.Name("pathq-server"))
	if err != nil {
		return nil, err
	}
	slog.Info("Connected to NATS", "url", nc.ConnectedUrl(), "subject", subject)
	return &NATSOutput{conn: nc, subject: subject}, nil
}

func (n *NATSOutput) CompleteRun(report *shared.RunReport) {
	data, err := json.Marshal(report)
	if err != nil {
		slog.Error("Failed to encode report for NATS", "error", err)
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		slog.Error("Failed to publish report", "subject", n.subject, "error", err)
	}
}

// Close drains pending publishes and closes the connection.
func (n *NATSOutput) Close() error {
	return n.conn.Drain()
}
