package output

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/tkjaer/pathq/internal/shared"
)

// JSONOutput writes one JSON object per run to a file or stdout
type JSONOutput struct {
	mu       sync.Mutex
	file     *os.File
	enc      *json.Encoder
	toStdout bool
}

func NewJSONOutput(filename string) (*JSONOutput, error) {
	if filename == "" {
		// Output to stdout
		return &JSONOutput{
			file:     os.Stdout,
			enc:      json.NewEncoder(os.Stdout),
			toStdout: true,
		}, nil
	}
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &JSONOutput{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

func (j *JSONOutput) CompleteRun(report *shared.RunReport) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(report); err != nil {
		slog.Error("Failed to write JSON report", "error", err)
	}
}

func (j *JSONOutput) Close() error {
	if j.toStdout {
		return nil
	}
	return j.file.Close()
}
