// Package metrics registers the engine's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "cloakpay_"

// Result labels shared by all counters.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "submissions_total",
			Help: "Instruction submissions by operation and result",
		},
		[]string{"op", "result"},
	)

	congestionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "congestion_retries_total",
			Help: "Transfer attempts retried after settlement-queue congestion",
		},
	)

	topUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "auto_topups_total",
			Help: "Automatic public-to-private top-ups performed",
		},
	)

	batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "batches_total",
			Help: "Batch executions by final status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(submissions, congestionRetries, topUps, batches)
}

// ObserveSubmission records one instruction submission outcome.
func ObserveSubmission(op string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	submissions.WithLabelValues(op, result).Inc()
}

// ObserveCongestionRetry records a retry triggered by queue congestion.
func ObserveCongestionRetry() {
	congestionRetries.Inc()
}

// ObserveTopUp records an automatic top-up.
func ObserveTopUp() {
	topUps.Inc()
}

// ObserveBatch records a finished batch by status.
func ObserveBatch(status string) {
	batches.WithLabelValues(status).Inc()
}
