// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package worker runs the execution fleet: a directory of live worker
// records in the shared store, per-worker claim loops against the task
// queue, and a pool manager that admits workers against the resource ledger
// and autoscales on queue pressure.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/progress"
)

// Report kinds streamed by an executor while a task runs.
const (
	ReportQueuePosition = "queue_position"
	ReportModelLoading  = "model_loading"
	ReportExecution     = "execution_progress"
	ReportPostProcess   = "post_processing"
	ReportResourceUsage = "resource_usage"
	ReportLog           = "log"
)

// Report is one streamed progress callback from an executing task.
type Report struct {
	Kind     string             `json:"kind"`
	Stage    int                `json:"stage"`
	Progress float64            `json:"progress"`
	Message  string             `json:"message,omitempty"`
	Usage    map[string]float64 `json:"usage,omitempty"`
}

// ReportFunc receives streamed reports. Implementations must be fast; slow
// consumers stall the executing task.
type ReportFunc func(ctx context.Context, report Report)

// Result is the terminal output of a successful execution.
type Result struct {
	Outputs       map[string]interface{} `json:"outputs"`
	ResourceUsage map[string]float64     `json:"resource_usage,omitempty"`
	Duration      time.Duration          `json:"duration"`
}

// Executor runs one task to completion, streaming progress through report.
// Implementations honor ctx cancellation between suspension points.
type Executor interface {
	Execute(ctx context.Context, task *model.Task, report ReportFunc) (*Result, error)
}

const (
	executeAPI = "/api/v1/tasks"

	// remotePollInterval paces status polls against the remote engine.
	remotePollInterval = 2 * time.Second
)

// RemoteExecutor drives a generation engine over HTTP: submit, poll status,
// forward progress, collect outputs.
type RemoteExecutor struct {
	client       *resty.Client
	pollInterval time.Duration
}

// NewRemoteExecutor builds an executor against the engine base URL.
func NewRemoteExecutor(baseURL string, timeout time.Duration) *RemoteExecutor {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &RemoteExecutor{
		client:       client,
		pollInterval: remotePollInterval,
	}
}

type executeRequest struct {
	TaskID     string                 `json:"task_id"`
	TemplateID string                 `json:"template_id"`
	Version    string                 `json:"version,omitempty"`
	Inputs     map[string]interface{} `json:"inputs"`
	Quality    string                 `json:"quality,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type executeAck struct {
	ExecutionID string `json:"execution_id"`
}

type executeStatus struct {
	State         string                 `json:"state"`
	Stage         int                    `json:"stage"`
	Kind          string                 `json:"kind,omitempty"`
	Progress      float64                `json:"progress"`
	Message       string                 `json:"message,omitempty"`
	ResourceUsage map[string]float64     `json:"resource_usage,omitempty"`
	Outputs       map[string]interface{} `json:"outputs,omitempty"`
	Error         string                 `json:"error,omitempty"`
	DurationSec   float64                `json:"duration_seconds,omitempty"`
}

// Execute submits the task and polls until the engine reports a terminal
// state. Cancelling ctx sends a best-effort cancel to the engine.
func (e *RemoteExecutor) Execute(ctx context.Context, task *model.Task, report ReportFunc) (*Result, error) {
	started := time.Now()
	var ack executeAck
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(&executeRequest{
			TaskID:     task.ID,
			TemplateID: task.TemplateID,
			Version:    task.TemplateVersion,
			Inputs:     task.Inputs,
			Quality:    task.Quality,
			Metadata:   task.Metadata,
		}).
		SetResult(&ack).
		Post(executeAPI)
	if err != nil {
		return nil, errors.NewDispatchError("failed to submit task to engine").
			WithError(err).WithDetail("task_id", task.ID)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.NewDispatchError(
			fmt.Sprintf("engine returned status %d: %s", resp.StatusCode(), resp.String())).
			WithDetail("task_id", task.ID)
	}
	if ack.ExecutionID == "" {
		ack.ExecutionID = task.ID
	}

	for {
		select {
		case <-ctx.Done():
			e.cancelRemote(ack.ExecutionID)
			return nil, errors.NewWorkflowTimeout("task execution cancelled").
				WithError(ctx.Err()).WithDetail("task_id", task.ID)
		case <-time.After(e.pollInterval):
		}

		var status executeStatus
		resp, err := e.client.R().
			SetContext(ctx).
			SetResult(&status).
			Get(fmt.Sprintf("%s/%s", executeAPI, ack.ExecutionID))
		if err != nil {
			return nil, errors.NewDispatchError("failed to poll engine").
				WithError(err).WithDetail("task_id", task.ID)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, errors.NewDispatchError(
				fmt.Sprintf("engine status poll returned %d", resp.StatusCode())).
				WithDetail("task_id", task.ID)
		}

		switch status.State {
		case "completed":
			duration := time.Duration(status.DurationSec * float64(time.Second))
			if duration <= 0 {
				duration = time.Since(started)
			}
			return &Result{
				Outputs:       status.Outputs,
				ResourceUsage: status.ResourceUsage,
				Duration:      duration,
			}, nil
		case "failed":
			msg := status.Error
			if msg == "" {
				msg = "engine reported failure without detail"
			}
			return nil, errors.NewWorkflowExecutionError(msg).
				WithDetail("task_id", task.ID)
		default:
			if report != nil {
				kind := status.Kind
				if kind == "" {
					kind = ReportExecution
				}
				report(ctx, Report{
					Kind:     kind,
					Stage:    status.Stage,
					Progress: status.Progress,
					Message:  status.Message,
					Usage:    status.ResourceUsage,
				})
			}
		}
	}
}

// cancelRemote tells the engine to abandon a running execution. Failures
// are logged only; the local task is already being torn down.
func (e *RemoteExecutor) cancelRemote(executionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := e.client.R().
		SetContext(ctx).
		Post(fmt.Sprintf("%s/%s/cancel", executeAPI, executionID))
	if err != nil {
		log.WithError(err).Warnf("failed to cancel remote execution %s", executionID)
		return
	}
	if resp.StatusCode() != http.StatusOK {
		log.Warnf("engine cancel for %s returned status %d", executionID, resp.StatusCode())
	}
}

// LocalExecutor simulates an engine in-process: it walks the category's
// stage pipeline with a short delay per step. Tests and single-binary
// deployments use it when no engine endpoint is configured.
type LocalExecutor struct {
	// StepDelay is the simulated work per progress step.
	StepDelay time.Duration
	// Fail, when set, injects a failure for matching tasks.
	Fail func(task *model.Task) error
	// Outputs overrides the default synthesized outputs.
	Outputs func(task *model.Task) map[string]interface{}
}

// NewLocalExecutor returns a local executor with a small step delay.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{StepDelay: 10 * time.Millisecond}
}

// Execute walks every stage after the queue stage to completion, streaming
// quarter-step execution reports.
func (e *LocalExecutor) Execute(ctx context.Context, task *model.Task, report ReportFunc) (*Result, error) {
	started := time.Now()
	defs := progress.StagesFor(task.Category)

	emit := func(kind string, stage int, p float64, msg string) error {
		select {
		case <-ctx.Done():
			return errors.NewWorkflowTimeout("task execution cancelled").
				WithError(ctx.Err()).WithDetail("task_id", task.ID)
		case <-time.After(e.StepDelay):
		}
		if report != nil {
			report(ctx, Report{Kind: kind, Stage: stage, Progress: p, Message: msg})
		}
		return nil
	}

	for i, def := range defs {
		if def.Name == "queue" {
			continue
		}
		kind := kindForStage(def.Name)
		for _, step := range []float64{0.25, 0.5, 0.75, 1.0} {
			if err := emit(kind, i, step, ""); err != nil {
				return nil, err
			}
		}
		if e.Fail != nil {
			if err := e.Fail(task); err != nil {
				return nil, err
			}
		}
	}

	outputs := map[string]interface{}{
		"artifact": fmt.Sprintf("outputs/%s/%s", task.TemplateID, task.ID),
	}
	if e.Outputs != nil {
		outputs = e.Outputs(task)
	}
	return &Result{
		Outputs:       outputs,
		ResourceUsage: map[string]float64{"cpu_percent": 40, "memory_gb": 1.5},
		Duration:      time.Since(started),
	}, nil
}

// kindForStage maps a stage name onto the report kind an engine would send.
func kindForStage(name string) string {
	switch name {
	case "preparation", "loading", "model_loading":
		return ReportModelLoading
	case "post_processing", "finalization":
		return ReportPostProcess
	default:
		return ReportExecution
	}
}
