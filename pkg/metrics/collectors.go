// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package metrics

// Shared collectors for the orchestration pipeline. Label values come from
// the components: task status strings, error categories, breaker states.
var (
	TaskSubmissions = NewCounterVec("task_submissions",
		"Tasks accepted by the orchestrator", []string{"template"})

	TaskCompletions = NewCounterVec("task_completions",
		"Tasks reaching a terminal state", []string{"template", "status"})

	TaskDurationSeconds = NewHistogramVec("task_duration_seconds",
		"Wall-clock task duration", []string{"template"},
		WithBuckets([]float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}))

	ErrorsRecorded = NewCounterVec("errors_recorded",
		"Classified errors by category and severity", []string{"category", "severity"})

	RecoveryAttempts = NewCounterVec("recovery_attempts",
		"Recovery strategy executions", []string{"strategy", "outcome"})

	DeadLettered = NewCounterVec("dead_lettered",
		"Tasks moved to the dead letter queue", []string{"category"})

	BreakerState = NewGaugeVec("breaker_state",
		"Circuit breaker state (0 closed, 1 half_open, 2 open)", []string{"service"})

	BreakerOpens = NewCounterVec("breaker_opens",
		"Circuit breaker open transitions", []string{"service"})

	QueueDepth = NewGaugeVec("queue_depth",
		"Pending tasks by queue", []string{"queue"})

	WorkerPopulation = NewGaugeVec("worker_population",
		"Workers by status", []string{"status"})

	LedgerAllocated = NewGaugeVec("ledger_allocated",
		"Allocated resources by dimension", []string{"dimension"})

	HealingIssues = NewCounterVec("healing_issues",
		"Issues detected by the self-healing diagnostics", []string{"type"})

	HealingRemediations = NewCounterVec("healing_remediations",
		"Remediation attempts by outcome", []string{"type", "outcome"})
)
