package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestTaskCounters(t *testing.T) {
	TasksCreated.Inc()
	TasksCompleted.Inc()
	TasksFailed.Inc()
	TasksCancelled.Inc()
	TasksRetried.Inc()

	names := gatheredNames(t)
	expected := []string{
		"multiagent_tasks_created_total",
		"multiagent_tasks_completed_total",
		"multiagent_tasks_failed_total",
		"multiagent_tasks_cancelled_total",
		"multiagent_tasks_retried_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestDispatchMetrics(t *testing.T) {
	SubTasksDispatched.Inc()
	DispatchRetries.WithLabelValues("no_worker").Inc()
	DispatchRetries.WithLabelValues("busy").Inc()
	DispatchLatency.Observe(0.12)

	names := gatheredNames(t)
	expected := []string{
		"multiagent_subtasks_dispatched_total",
		"multiagent_dispatch_retries_total",
		"multiagent_dispatch_latency_seconds",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestResultMetrics(t *testing.T) {
	ResultsProcessed.WithLabelValues("completed").Inc()
	ResultsProcessed.WithLabelValues("failed").Inc()
	DuplicateResults.Inc()
	PoisonMessages.WithLabelValues("work").Inc()

	names := gatheredNames(t)
	expected := []string{
		"multiagent_results_processed_total",
		"multiagent_duplicate_results_total",
		"multiagent_poison_messages_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestQueueAndWorkerGauges(t *testing.T) {
	WorkQueueDepth.Set(3)
	ResultQueueDepth.Set(1)
	WorkersLive.Set(5)
	PlannerFallbacks.WithLabelValues("planner_error").Inc()

	names := gatheredNames(t)
	expected := []string{
		"multiagent_work_queue_depth",
		"multiagent_result_queue_depth",
		"multiagent_workers_live",
		"multiagent_planner_fallbacks_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestWorkerProcessMetrics(t *testing.T) {
	SubTasksExecuted.WithLabelValues("completed").Inc()
	ExecutionTime.Observe(2.4)

	names := gatheredNames(t)
	if !names["multiagent_subtasks_executed_total"] {
		t.Error("multiagent_subtasks_executed_total not found")
	}
	if !names["multiagent_execution_time_seconds"] {
		t.Error("multiagent_execution_time_seconds not found")
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	own := 0
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "multiagent_") {
			own++
		}
	}
	if own < 12 {
		t.Errorf("expected at least 12 multiagent_ metric families, got %d", own)
	}
}
