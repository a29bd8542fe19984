package output

import (
	"log/slog"

	"github.com/tkjaer/pathq/internal/shared"
)

// Output receives the report of every finished run
type Output interface {
	CompleteRun(report *shared.RunReport)
	Close() error
}

// OutputManager fans a report out to every registered output
type OutputManager struct {
	outputs []Output
}

func (om *OutputManager) Register(o Output) {
	om.outputs = append(om.outputs, o)
}

func (om *OutputManager) CompleteRun(report *shared.RunReport) {
	for _, o := range om.outputs {
		o.CompleteRun(report)
	}
}

func (om *OutputManager) Close() {
	for _, o := range om.outputs {
		if err := o.Close(); err != nil {
			slog.Warn("Failed to close output", "error", err)
		}
	}
}
