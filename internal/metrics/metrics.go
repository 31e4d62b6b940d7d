package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileRunsTotal counts position-map rebuilds
	ReconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shepherd_reconcile_runs_total",
		Help: "Total number of position map rebuilds",
	})

	// SecretsStashedTotal counts value-to-anchor substitutions
	SecretsStashedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shepherd_secrets_stashed_total",
		Help: "Total number of secret occurrences replaced with anchors",
	})

	// SecretsUnstashedTotal counts anchor-to-value substitutions
	SecretsUnstashedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shepherd_secrets_unstashed_total",
		Help: "Total number of anchors replaced with secret values",
	})

	// HideRangesTotal counts spans emitted for masking
	HideRangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shepherd_hide_ranges_total",
		Help: "Total number of validated spans emitted for masking",
	})

	// MissingSecretsTotal counts secrets reported missing, by operation
	MissingSecretsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shepherd_missing_secrets_total",
		Help: "Total number of secrets that could not be located in text",
	}, []string{"operation"})

	// TrackedSecrets tracks the number of records in the store
	TrackedSecrets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shepherd_tracked_secrets",
		Help: "Current number of secret records in the metadata store",
	})

	// OperationDuration tracks file-operation latency
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shepherd_operation_duration_seconds",
		Help:    "File operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// RecordMissing records secrets reported missing by an operation
func RecordMissing(operation string, count int) {
	if count > 0 {
		MissingSecretsTotal.WithLabelValues(operation).Add(float64(count))
	}
}

// RecordOperationDuration records a file operation's duration
func RecordOperationDuration(operation string, seconds float64) {
	OperationDuration.WithLabelValues(operation).Observe(seconds)
}
