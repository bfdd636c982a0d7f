package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts non-streaming attempts.
	// Labels: outcome (success, timeout, error)
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strata",
			Subsystem: "inference",
			Name:      "attempts_total",
			Help:      "Total number of non-streaming inference attempts",
		},
		[]string{"outcome"},
	)

	// CallDuration tracks non-streaming calls including retries.
	// Labels: result (success, error)
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "strata",
			Subsystem: "inference",
			Name:      "call_duration_seconds",
			Help:      "Duration of non-streaming inference calls including retries",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"result"},
	)

	// StreamsTotal counts streams by how they ended.
	// Labels: outcome (completed, connect_timeout, idle_timeout, failed, unavailable, canceled)
	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strata",
			Subsystem: "inference",
			Name:      "streams_total",
			Help:      "Total number of streaming inference calls by outcome",
		},
		[]string{"outcome"},
	)

	// MalformedLinesTotal counts skipped stream lines.
	MalformedLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "strata",
			Subsystem: "inference",
			Name:      "malformed_lines_total",
			Help:      "Total number of stream lines skipped because they did not parse",
		},
	)

	// HealthStatus is the last health probe result (1=reachable, 0=unreachable).
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "strata",
			Subsystem: "inference",
			Name:      "health_status",
			Help:      "Last inference backend health probe (1=reachable, 0=unreachable)",
		},
	)
)

func recordAttempt(outcome string) {
	AttemptsTotal.WithLabelValues(outcome).Inc()
}

func recordStream(outcome string) {
	StreamsTotal.WithLabelValues(outcome).Inc()
}
