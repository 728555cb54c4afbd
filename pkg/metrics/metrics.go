package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are in milliseconds. The upper range covers the card
// gateway timeout.
var HistogramBuckets = []float64{
	5, 10, 25, 50, 100, 250, 500, 750,
	1000, 1500, 2000, 3000, 5000, 7500,
	10000, 15000, 20000, 30000, 45000,
}

// Metric describes one collector. MetricCollector is set on registration.
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric builds the collector for m.Type. Only vector types are used.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "gauge_vec":
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets}, m.Args)
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	}
	return nil
}

// MetricsBusinessProcess records latency of business steps (settlement, gateway
// calls, credit consumption) in milliseconds.
var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        "histogram_vec",
	Args:        []string{"type", "subtype"},
}

// MetricsSettlementTotal counts finished settlement attempts.
var MetricsSettlementTotal = &Metric{
	ID:          "settleCnt",
	Name:        "settlement_total",
	Description: "Settlement attempts partitioned by plan, final state and reason.",
	Type:        "counter_vec",
	Args:        []string{"plan", "state", "reason"},
}

// BusinessMetrics are registered together with the HTTP metrics.
var BusinessMetrics = []*Metric{MetricsBusinessProcess, MetricsSettlementTotal}

// ObserveBusinessProcess records the time elapsed since start. It is a no-op
// until the metric has been registered.
func ObserveBusinessProcess(typ, subtype string, start time.Time) {
	if h, ok := MetricsBusinessProcess.MetricCollector.(*prometheus.HistogramVec); ok {
		h.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
	}
}

// IncSettlement counts one finished settlement.
func IncSettlement(plan, state, reason string) {
	if c, ok := MetricsSettlementTotal.MetricCollector.(*prometheus.CounterVec); ok {
		c.WithLabelValues(plan, state, reason).Inc()
	}
}

// MillisecondsSince returns elapsed milliseconds as a float.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

const (
	RefererKey = "X-Referer"
)
