// Package metrics provides Prometheus metrics for the orchestrator and
// workers: task lifecycle counters, queue gauges, and dispatch latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksCreated tracks accepted task submissions.
var TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "tasks_created_total",
	Help:      "Total tasks accepted at submission.",
})

// TasksCompleted tracks tasks that reached COMPLETED.
var TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "tasks_completed_total",
	Help:      "Total tasks completed.",
})

// TasksFailed tracks tasks that reached FAILED.
var TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "tasks_failed_total",
	Help:      "Total tasks failed.",
})

// TasksCancelled tracks manual cancellations.
var TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "tasks_cancelled_total",
	Help:      "Total tasks cancelled.",
})

// TasksRetried tracks manual retries of failed tasks.
var TasksRetried = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "tasks_retried_total",
	Help:      "Total manual retries of failed tasks.",
})

// ─── Planner ────────────────────────────────────────────────────────────────

// PlannerFallbacks tracks plans degraded to the single-step fallback.
var PlannerFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "planner_fallbacks_total",
	Help:      "Total decompositions that fell back to a single subtask.",
}, []string{"reason"})

// ─── Dispatch ───────────────────────────────────────────────────────────────

// SubTasksDispatched tracks subtasks accepted by a worker.
var SubTasksDispatched = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "subtasks_dispatched_total",
	Help:      "Total subtasks accepted by workers.",
})

// DispatchRetries tracks work items sent back to the queue tail.
var DispatchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "dispatch_retries_total",
	Help:      "Total work items re-enqueued instead of dispatched.",
}, []string{"reason"})

// DispatchLatency tracks the execute POST round trip.
var DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "multiagent",
	Name:      "dispatch_latency_seconds",
	Help:      "Round-trip time of the worker execute call.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
})

// ─── Results ────────────────────────────────────────────────────────────────

// ResultsProcessed tracks ingested subtask results by outcome.
var ResultsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "results_processed_total",
	Help:      "Total subtask results processed.",
}, []string{"outcome"})

// DuplicateResults tracks redelivered results ignored for state.
var DuplicateResults = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "duplicate_results_total",
	Help:      "Total duplicate subtask results ignored for state advancement.",
})

// PoisonMessages tracks malformed queue items dropped.
var PoisonMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "poison_messages_total",
	Help:      "Total malformed queue items dropped.",
}, []string{"queue"})

// ─── Queues and workers ─────────────────────────────────────────────────────

// WorkQueueDepth tracks the work queue length.
var WorkQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "multiagent",
	Name:      "work_queue_depth",
	Help:      "Current work queue length.",
})

// ResultQueueDepth tracks the result queue length.
var ResultQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "multiagent",
	Name:      "result_queue_depth",
	Help:      "Current result queue length.",
})

// WorkersLive tracks workers with an unexpired heartbeat.
var WorkersLive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "multiagent",
	Name:      "workers_live",
	Help:      "Workers with an unexpired heartbeat.",
})

// ─── Worker process ─────────────────────────────────────────────────────────

// SubTasksExecuted tracks subtasks executed by this worker process.
var SubTasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "multiagent",
	Name:      "subtasks_executed_total",
	Help:      "Total subtasks executed by this worker, by outcome.",
}, []string{"outcome"})

// ExecutionTime tracks subtask execution duration on this worker.
var ExecutionTime = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "multiagent",
	Name:      "execution_time_seconds",
	Help:      "Subtask execution duration on this worker.",
	Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
})
