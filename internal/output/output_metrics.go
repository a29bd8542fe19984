package output

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tkjaer/pathq/internal/shared"
)

// MetricsOutput keeps prometheus metrics for finished runs
type MetricsOutput struct {
	runsTotal       *prometheus.CounterVec
	receivedTotal   prometheus.Counter
	lostTotal       prometheus.Counter
	outOfOrderTotal prometheus.Counter
	malformedTotal  prometheus.Counter
	lastLossRatio   prometheus.Gauge
	lastRunTime     prometheus.Gauge
}

// NewMetricsOutput creates the metrics and registers them with reg.
func NewMetricsOutput(reg prometheus.Registerer) (*MetricsOutput, error) {
	m := &MetricsOutput{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pathq_runs_total",
				Help: "Total number of probe runs reported, by result",
			},
			[]string{"result"},
		),
		receivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathq_packets_received_total",
			Help: "Total number of probe packets received",
		}),
		lostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathq_packets_lost_total",
			Help: "Total number of probe packets lost",
		}),
		outOfOrderTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathq_packets_out_of_order_total",
			Help: "Total number of probe packets received out of order",
		}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathq_packets_malformed_total",
			Help: "Total number of datagrams skipped as malformed",
		}),
		lastLossRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pathq_last_run_loss_ratio",
			Help: "Fraction of expected packets lost in the last run (0-1)",
		}),
		lastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pathq_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.runsTotal, m.receivedTotal, m.lostTotal, m.outOfOrderTotal,
		m.malformedTotal, m.lastLossRatio, m.lastRunTime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsOutput) CompleteRun(report *shared.RunReport) {
	result := "complete"
	if report.Interrupted {
		result = "interrupted"
	}
	m.runsTotal.WithLabelValues(result).Inc()

	s := report.Stats
	m.receivedTotal.Add(float64(s.Received))
	m.lostTotal.Add(float64(s.Lost))
	m.outOfOrderTotal.Add(float64(s.OutOfOrder))
	m.malformedTotal.Add(float64(report.Malformed))
	if total := s.Received + s.Lost; total > 0 {
		m.lastLossRatio.Set(float64(s.Lost) / float64(total))
	} else {
		m.lastLossRatio.Set(0)
	}
	m.lastRunTime.Set(float64(report.Finished.Unix()))
}

func (m *MetricsOutput) Close() error {
	return nil
}
