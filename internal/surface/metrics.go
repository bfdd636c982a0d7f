package surface

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal counts surface writes.
	// Labels: surface, result (success, error)
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strata",
			Subsystem: "surface",
			Name:      "writes_total",
			Help:      "Total number of surface writes",
		},
		[]string{"surface", "result"},
	)

	// DefaultReadsTotal counts reads that fell back to the default shape.
	// Labels: surface, reason (missing, corrupt)
	DefaultReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strata",
			Subsystem: "surface",
			Name:      "default_reads_total",
			Help:      "Total number of surface reads answered with the default shape",
		},
		[]string{"surface", "reason"},
	)
)

func recordWrite(k Kind, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	WritesTotal.WithLabelValues(string(k), result).Inc()
}
