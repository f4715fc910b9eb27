// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task. The non-terminal states past
// pending are derived from the current progress stage, never written
// independently.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusPreparing  TaskStatus = "preparing"
	TaskStatusExecuting  TaskStatus = "executing"
	TaskStatusFinalizing TaskStatus = "finalizing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsActive reports whether the task still occupies the pipeline.
func (s TaskStatus) IsActive() bool {
	return !s.IsTerminal()
}

// Task is one admitted submission. Inputs are the validated, preset-overlaid
// parameter set. A task lives until its progress record is evicted.
type Task struct {
	ID              string                 `json:"id"`
	TrackingID      string                 `json:"tracking_id"`
	TemplateID      string                 `json:"template_id"`
	TemplateVersion string                 `json:"template_version"`
	Category        string                 `json:"category"`
	Inputs          map[string]interface{} `json:"inputs"`
	Priority        int                    `json:"priority"`
	ProjectID       string                 `json:"project_id,omitempty"`
	ShotID          string                 `json:"shot_id,omitempty"`
	UserID          string                 `json:"user_id,omitempty"`
	Quality         string                 `json:"quality,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`

	MaxRetries    int     `json:"max_retries"`
	RetryCount    int     `json:"retry_count"`
	TimeoutSecond int     `json:"timeout_second,omitempty"`
	PreviousError string  `json:"previous_error,omitempty"`
	RetryDelaySec float64 `json:"retry_delay,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	WaitUntil   *time.Time `json:"wait_until,omitempty"`
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	return uuid.NewString()
}

// IsRetryable reports whether the task still has retry budget left.
func (t *Task) IsRetryable() bool {
	return t.RetryCount < t.MaxRetries
}

// Timeout returns the task execution deadline as a duration, falling back to
// the given default when the submission did not set one.
func (t *Task) Timeout(def time.Duration) time.Duration {
	if t.TimeoutSecond <= 0 {
		return def
	}
	return time.Duration(t.TimeoutSecond) * time.Second
}

// TaskSummary is the list view of an active task.
type TaskSummary struct {
	TaskID          string     `json:"task_id"`
	TemplateID      string     `json:"template_id"`
	Status          TaskStatus `json:"status"`
	OverallProgress float64    `json:"overall_progress"`
	ProjectID       string     `json:"project_id,omitempty"`
	UserID          string     `json:"user_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
