package consensus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors internal/metrics' bounded-cardinality convention:
// no_signal reasons are a fixed, known-in-advance label set (see
// rawResult.reason callers), never free text.
type Metrics struct {
	buildDuration       prometheus.Histogram
	noSignalTotal       *prometheus.CounterVec
	signalsEmittedTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// newMetrics registers the consensus engine's metrics exactly once per
// process, mirroring the teacher's sync.Once singleton pattern for
// Prometheus collectors shared across multiple Engine instances.
func newMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			buildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "signalpipe",
				Subsystem: "consensus",
				Name:      "build_duration_seconds",
				Help:      "Time to build a consensus Result for one symbol cycle.",
				Buckets:   prometheus.DefBuckets,
			}),
			noSignalTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "signalpipe",
				Subsystem: "consensus",
				Name:      "no_signal_total",
				Help:      "Count of cycles that produced no signal, by reason.",
			}, []string{"reason"}),
			signalsEmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "signalpipe",
				Subsystem: "consensus",
				Name:      "signals_emitted_total",
				Help:      "Count of signals emitted, by action.",
			}, []string{"action"}),
		}
	})
	return metrics
}
