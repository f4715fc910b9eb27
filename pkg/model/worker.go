// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package model

import (
	"time"
)

// WorkerType selects the resource profile a worker is admitted with.
type WorkerType string

const (
	WorkerTypeGeneral WorkerType = "general"
	WorkerTypeGPU     WorkerType = "gpu"
	WorkerTypeCPU     WorkerType = "cpu"
	WorkerTypeIO      WorkerType = "io"
)

// WorkerStatus is the lifecycle state of a worker instance.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusActive   WorkerStatus = "active"
	WorkerStatusIdle     WorkerStatus = "idle"
	WorkerStatusBusy     WorkerStatus = "busy"
	WorkerStatusStopping WorkerStatus = "stopping"
	WorkerStatusFailed   WorkerStatus = "failed"
)

// IsSchedulable reports whether the worker counts against the admitted
// population for scaling decisions.
func (s WorkerStatus) IsSchedulable() bool {
	return s == WorkerStatusActive || s == WorkerStatusIdle || s == WorkerStatusBusy
}

// Worker is one pool member. The pool manager owns every mutation; other
// components read snapshots.
type Worker struct {
	ID             string       `json:"id"`
	Type           WorkerType   `json:"type"`
	Status         WorkerStatus `json:"status"`
	Resources      Resources    `json:"resources"`
	AllocationID   string       `json:"allocation_id,omitempty"`
	Queues         []string     `json:"queues,omitempty"`
	CurrentTaskID  string       `json:"current_task_id,omitempty"`
	TasksCompleted int          `json:"tasks_completed"`
	TasksFailed    int          `json:"tasks_failed"`
	LastHeartbeat  time.Time    `json:"last_heartbeat"`
	IdleSince      *time.Time   `json:"idle_since,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
}

// FailureRatio returns failed/(completed+failed), or 0 with no history.
func (w *Worker) FailureRatio() float64 {
	total := w.TasksCompleted + w.TasksFailed
	if total == 0 {
		return 0
	}
	return float64(w.TasksFailed) / float64(total)
}
