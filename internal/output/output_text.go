package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/tkjaer/pathq/internal/shared"
)

// TextOutput writes the classic three line report. The report file is opened
// in append mode so results from earlier runs are kept.
type TextOutput struct {
	mu       sync.Mutex
	w        io.Writer
	file     *os.File
	toStdout bool
}

func NewTextOutput(filename string) (*TextOutput, error) {
	if filename == "" {
		return &TextOutput{w: os.Stdout, file: os.Stdout, toStdout: true}, nil
	}
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &TextOutput{w: f, file: f}, nil
}

func (o *TextOutput) CompleteRun(report *shared.RunReport) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := WriteReport(o.w, report.Stats); err != nil {
		slog.Error("Failed to write report", "error", err)
	}
}

// WriteReport writes the received, lost and out of order counts, one per line.
func WriteReport(w io.Writer, s shared.RunStatistics) error {
	_, err := fmt.Fprintf(w,
		"# of packets RECEIVED = %d\n# of packets LOST = %d\n# of packets received OUT OF ORDER = %d\n",
		s.Received, s.Lost, s.OutOfOrder)
	return err
}

func (o *TextOutput) Close() error {
	if o.toStdout {
		return nil
	}
	return o.file.Close()
}
