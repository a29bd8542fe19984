package output

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tkjaer/pathq/internal/shared"
)

type publishCall struct {
	subject string
	data    []byte
}

// mockPublisher records publishes instead of talking to a NATS server
type mockPublisher struct {
	published  []publishCall
	publishErr error
	drained    int
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	m.published = append(m.published, publishCall{subject, data})
	return m.publishErr
}

func (m *mockPublisher) Drain() error {
	m.drained++
	return nil
}

func TestNATSOutput_CompleteRun(t *testing.T) {
	pub := &mockPublisher{}
	out := &NATSOutput{conn: pub, subject: "pathq.reports"}

	out.CompleteRun(&shared.RunReport{RunID: "abc", Stats: shared.RunStatistics{Received: 7, Lost: 3}})

	if len(pub.published) != 1 {
		t.Fatalf("Publish calls = %d, want 1", len(pub.published))
	}
	if pub.published[0].subject != "pathq.reports" {
		t.Errorf("subject = %s, want pathq.reports", pub.published[0].subject)
	}
	var got shared.RunReport
	if err := json.Unmarshal(pub.published[0].data, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got.RunID != "abc" || got.Stats.Received != 7 || got.Stats.Lost != 3 {
		t.Errorf("published report = %+v", got)
	}

	if err := out.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if pub.drained != 1 {
		t.Errorf("Drain calls = %d, want 1", pub.drained)
	}
}

func TestNATSOutput_PublishErrorIsLogged(t *testing.T) {
	pub := &mockPublisher{publishErr: errors.New("nats: connection closed")}
	out := &NATSOutput{conn: pub, subject: "pathq.reports"}

	// Must not panic; the error is only logged
	out.CompleteRun(&shared.RunReport{})
	if len(pub.published) != 1 {
		t.Errorf("Publish calls = %d, want 1", len(pub.published))
	}
}

func TestNewNATSOutput_Unreachable(t *testing.T) {
	if _, err := NewNATSOutput("nats://127.0.0.1:1", "pathq.reports"); err == nil {
		t.Error("NewNATSOutput() to a closed port should error")
	}
}
