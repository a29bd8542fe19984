package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/tkjaer/pathq/internal/shared"
)

func TestWriteReport(t *testing.T) {
	tests := []struct {
		name  string
		stats shared.RunStatistics
		want  string
	}{
		{
			name:  "all received",
			stats: shared.RunStatistics{Received: 100},
			want: "# of packets RECEIVED = 100\n" +
				"# of packets LOST = 0\n" +
				"# of packets received OUT OF ORDER = 0\n",
		},
		{
			name:  "loss and reorder",
			stats: shared.RunStatistics{Received: 80, Lost: 20, OutOfOrder: 3},
			want: "# of packets RECEIVED = 80\n" +
				"# of packets LOST = 20\n" +
				"# of packets received OUT OF ORDER = 3\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteReport(&buf, tt.stats); err != nil {
				t.Fatalf("WriteReport() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("WriteReport() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextOutput_Appends(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "output.txt")
	if err := os.WriteFile(filename, []byte("previous run\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out, err := NewTextOutput(filename)
	if err != nil {
		t.Fatalf("NewTextOutput() error = %v", err)
	}
	out.CompleteRun(&shared.RunReport{Stats: shared.RunStatistics{Received: 5, Lost: 0, OutOfOrder: 1}})
	out.CompleteRun(&shared.RunReport{Stats: shared.RunStatistics{Received: 3, Lost: 2}})
	if err := out.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "previous run\n" +
		"# of packets RECEIVED = 5\n# of packets LOST = 0\n# of packets received OUT OF ORDER = 1\n" +
		"# of packets RECEIVED = 3\n# of packets LOST = 2\n# of packets received OUT OF ORDER = 0\n"
	if string(data) != want {
		t.Errorf("file content = %q, want %q", data, want)
	}
}

func TestTextOutput_Stdout(t *testing.T) {
	out, err := NewTextOutput("")
	if err != nil {
		t.Fatalf("NewTextOutput() error = %v", err)
	}
	if !out.toStdout {
		t.Error("NewTextOutput(\"\") should output to stdout")
	}
	if err := out.Close(); err != nil {
		t.Errorf("Close() for stdout error = %v, want nil", err)
	}
}
