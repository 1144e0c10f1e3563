// Package observability exposes Prometheus metrics for the agent runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolDispatches counts registry dispatches by tool name and outcome
	// (ok, error, invalid, unknown).
	ToolDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftwood",
		Subsystem: "tools",
		Name:      "dispatches_total",
		Help:      "Tool registry dispatches by tool and outcome.",
	}, []string{"tool", "outcome"})

	// SandboxExecutions counts code executions by outcome
	// (ok, error, timeout, output_quota, code_size).
	SandboxExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftwood",
		Subsystem: "sandbox",
		Name:      "executions_total",
		Help:      "Sandboxed code executions by outcome.",
	}, []string{"outcome"})

	// SandboxDuration observes wall-clock execution time in seconds.
	SandboxDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "driftwood",
		Subsystem: "sandbox",
		Name:      "duration_seconds",
		Help:      "Sandboxed code execution duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// CompactionRuns counts compactor invocations by outcome
	// (compacted, noop, failed).
	CompactionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftwood",
		Subsystem: "compaction",
		Name:      "runs_total",
		Help:      "Compaction pipeline runs by outcome.",
	}, []string{"outcome"})

	// CompactionBatches counts summary batches produced, by depth class
	// (first_pass, resummarized).
	CompactionBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftwood",
		Subsystem: "compaction",
		Name:      "batches_total",
		Help:      "Summary batches produced by the compactor.",
	}, []string{"kind"})

	// ModelRequests counts provider round trips by provider and outcome.
	ModelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftwood",
		Subsystem: "model",
		Name:      "requests_total",
		Help:      "Model provider completions by provider and outcome.",
	}, []string{"provider", "outcome"})
)
