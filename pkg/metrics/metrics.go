// Package metrics exposes the Prometheus counters and histograms the
// orchestrator, execution pool, and broker subscriber record against.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowsProcessedTotal counts completed workflow invocations by
	// workflow name and outcome (spec.md §4.8).
	WorkflowsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processor_workflows_processed_total",
		Help: "Total workflow invocations, labeled by workflow name and outcome.",
	}, []string{"workflow", "outcome"})

	// WorkflowDuration tracks end-to-end workflow latency.
	WorkflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processor_workflow_duration_seconds",
		Help:    "Workflow handler latency in seconds, labeled by workflow name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"workflow"})

	// ExecutionsRunTotal counts individual processor executions by
	// processor name and outcome (spec.md §4.5).
	ExecutionsRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processor_executions_run_total",
		Help: "Total processor executions run, labeled by processor and outcome.",
	}, []string{"processor", "outcome"})

	// ExecutionDuration tracks a single execution's pipeline latency.
	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processor_execution_duration_seconds",
		Help:    "Execution pipeline latency in seconds, labeled by processor.",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor"})

	// ExecutionCostCents tracks the cost (in cents) reported per
	// completed execution.
	ExecutionCostCents = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "processor_execution_cost_cents",
		Help:    "Reported execution cost in cents, labeled by processor.",
		Buckets: []float64{0, 10, 50, 100, 250, 500, 1000, 5000},
	}, []string{"processor"})

	// ConsolidationsTotal counts Consolidate calls by outcome.
	ConsolidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processor_consolidations_total",
		Help: "Total consolidation runs, labeled by outcome.",
	}, []string{"outcome"})

	// BrokerMessagesTotal counts consumed broker messages by topic and
	// the ack/nack decision applied (spec.md §7 error policy).
	BrokerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processor_broker_messages_total",
		Help: "Total broker messages consumed, labeled by topic and ack decision.",
	}, []string{"topic", "decision"})

	// ExecutionPoolInFlight reports how many worker slots are currently
	// occupied out of the fixed pool size (spec.md §5 "N=5").
	ExecutionPoolInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "processor_execution_pool_in_flight",
		Help: "Number of executions currently running in the bounded worker pool.",
	})
)

// RecordWorkflow records one workflow invocation's outcome and latency.
func RecordWorkflow(workflow string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	WorkflowsProcessedTotal.WithLabelValues(workflow, outcome).Inc()
	WorkflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordExecution records one processor execution's outcome, latency, and
// reported cost.
func RecordExecution(processorName string, success bool, duration time.Duration, costCents int64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ExecutionsRunTotal.WithLabelValues(processorName, outcome).Inc()
	ExecutionDuration.WithLabelValues(processorName).Observe(duration.Seconds())
	if costCents > 0 {
		ExecutionCostCents.WithLabelValues(processorName).Observe(float64(costCents))
	}
}

// RecordConsolidation records one Consolidate outcome.
func RecordConsolidation(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ConsolidationsTotal.WithLabelValues(outcome).Inc()
}

// RecordBrokerMessage records one consumed broker message's ack decision.
func RecordBrokerMessage(topic, decision string) {
	BrokerMessagesTotal.WithLabelValues(topic, decision).Inc()
}
