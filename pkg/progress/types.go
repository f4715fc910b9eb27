// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package progress tracks per-task execution as a weighted stage machine.
// Task status is never written directly: it is derived from the stages, so
// the record cannot disagree with itself. Every mutation persists the record
// to the shared store and publishes an event for the transport layer.
package progress

import (
	"math"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/model"
)

// StageStatus is the lifecycle state of one stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// IsTerminal reports whether the stage has finished one way or another.
func (s StageStatus) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// StageProgress is one weighted phase of a task.
type StageProgress struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Weight      float64                `json:"weight"`
	Status      StageStatus            `json:"status"`
	Progress    float64                `json:"progress"`
	Message     string                 `json:"message,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// effectiveProgress is the stage's contribution factor: finished stages
// count fully, running stages partially, everything else not at all.
func (s *StageProgress) effectiveProgress() float64 {
	switch s.Status {
	case StageCompleted, StageSkipped:
		return 1
	case StageInProgress:
		return s.Progress
	default:
		return 0
	}
}

// LogEntry is one line of the task's bounded activity log.
type LogEntry struct {
	At      time.Time   `json:"at"`
	Stage   string      `json:"stage,omitempty"`
	Status  StageStatus `json:"status,omitempty"`
	Message string      `json:"message"`
}

// maxLogEntries bounds the per-task log; oldest entries are evicted first.
const maxLogEntries = 1000

// TaskProgress is the full progress record of one task.
type TaskProgress struct {
	TaskID          string                 `json:"task_id"`
	TemplateID      string                 `json:"template_id"`
	Quality         string                 `json:"quality,omitempty"`
	Category        string                 `json:"category"`
	Stages          []StageProgress        `json:"stages"`
	CurrentStage    int                    `json:"current_stage"`
	OverallProgress float64                `json:"overall_progress"`
	Status          model.TaskStatus       `json:"status"`
	ETA             *Estimate              `json:"eta,omitempty"`
	PreviewURL      string                 `json:"preview_url,omitempty"`
	ResourceUsage   map[string]float64     `json:"resource_usage,omitempty"`
	Outputs         map[string]interface{} `json:"outputs,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Log             []LogEntry             `json:"log,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// recompute derives overall progress and status from the stages. Cancelled
// is externally imposed and never overwritten.
func (p *TaskProgress) recompute() {
	total := 0.0
	for i := range p.Stages {
		total += p.Stages[i].Weight * p.Stages[i].effectiveProgress()
	}
	p.OverallProgress = roundPercent(total * 100)

	if p.Status == model.TaskStatusCancelled {
		return
	}
	anyFailed := false
	allDone := true
	for i := range p.Stages {
		switch p.Stages[i].Status {
		case StageFailed:
			anyFailed = true
			allDone = false
		case StageCompleted, StageSkipped:
		default:
			allDone = false
		}
	}
	switch {
	case anyFailed:
		p.Status = model.TaskStatusFailed
	case allDone && len(p.Stages) > 0:
		p.Status = model.TaskStatusCompleted
	default:
		p.Status = statusForStage(p.Stages[p.CurrentStage].Name)
	}
}

// statusForStage maps a stage name onto the task status it implies.
func statusForStage(name string) model.TaskStatus {
	switch name {
	case "queue":
		return model.TaskStatusQueued
	case "preparation", "loading", "model_loading":
		return model.TaskStatusPreparing
	case "finalization", "post_processing":
		return model.TaskStatusFinalizing
	default:
		// generation, frame_generation, synthesis, execution, and any
		// custom stage name count as active execution
		return model.TaskStatusExecuting
	}
}

// appendLog pushes a log line, evicting the oldest past the cap.
func (p *TaskProgress) appendLog(stage string, status StageStatus, message string) {
	p.Log = append(p.Log, LogEntry{At: time.Now(), Stage: stage, Status: status, Message: message})
	if len(p.Log) > maxLogEntries {
		p.Log = p.Log[len(p.Log)-maxLogEntries:]
	}
}

// Clone returns an independent copy safe to hand to callers.
func (p *TaskProgress) Clone() *TaskProgress {
	out := *p
	out.Stages = make([]StageProgress, len(p.Stages))
	copy(out.Stages, p.Stages)
	for i := range out.Stages {
		out.Stages[i].Metadata = copyMap(p.Stages[i].Metadata)
	}
	out.Log = append([]LogEntry(nil), p.Log...)
	out.ResourceUsage = copyFloatMap(p.ResourceUsage)
	out.Outputs = copyMap(p.Outputs)
	if p.ETA != nil {
		eta := *p.ETA
		out.ETA = &eta
	}
	return &out
}

// Summary condenses the record into the list view.
func (p *TaskProgress) Summary() model.TaskSummary {
	return model.TaskSummary{
		TaskID:          p.TaskID,
		TemplateID:      p.TemplateID,
		Status:          p.Status,
		OverallProgress: p.OverallProgress,
		CreatedAt:       p.CreatedAt,
	}
}

// roundPercent rounds to a whole percent and clamps to [0,100].
func roundPercent(v float64) float64 {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
