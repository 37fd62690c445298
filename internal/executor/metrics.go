package executor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics follows the consensus package's sync.Once singleton
// convention: every Executor instance in the process shares one set of
// collectors, labeled by executor_id.
type Metrics struct {
	ordersPlaced     *prometheus.CounterVec
	policyRejections *prometheus.CounterVec
	riskRejections   *prometheus.CounterVec
	reconcileErrors  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func newMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			ordersPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "signalpipe",
				Subsystem: "executor",
				Name:      "orders_placed_total",
				Help:      "Count of orders placed, by executor and side.",
			}, []string{"executor_id", "side"}),
			policyRejections: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "signalpipe",
				Subsystem: "executor",
				Name:      "policy_rejections_total",
				Help:      "Count of signals skipped by sell policy, by reason.",
			}, []string{"executor_id", "reason"}),
			riskRejections: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "signalpipe",
				Subsystem: "executor",
				Name:      "risk_gate_rejections_total",
				Help:      "Count of signals rejected by the pre-trade risk gate.",
			}, []string{"executor_id"}),
			reconcileErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "signalpipe",
				Subsystem: "executor",
				Name:      "reconcile_errors_total",
				Help:      "Count of errors encountered while reconciling closed positions.",
			}, []string{"executor_id"}),
		}
	})
	return metrics
}
