package capsule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CompiledTokens tracks the token estimate of compiled capsules.
	CompiledTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "strata",
			Subsystem: "capsule",
			Name:      "compiled_tokens",
			Help:      "Token estimate of compiled capsules",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		},
	)

	// OverBudgetTotal counts compiles above the warning threshold.
	OverBudgetTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "strata",
			Subsystem: "capsule",
			Name:      "over_budget_total",
			Help:      "Total number of capsules compiled above the token warning threshold",
		},
	)
)

func recordCompile(lint LintResult) {
	CompiledTokens.Observe(float64(lint.TokensEstimate))
	if lint.OverBudget {
		OverBudgetTotal.Inc()
	}
}
