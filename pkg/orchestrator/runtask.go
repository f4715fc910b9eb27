// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package orchestrator

import (
	"context"

	"github.com/AMD-AGI/Backlot/pkg/faults"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/progress"
	"github.com/AMD-AGI/Backlot/pkg/worker"
)

// RunTask executes one claimed task under its breaker lane and settles the
// outcome. It implements worker.TaskRunner; the returned error feeds the
// worker's failure counters, so rescheduled tasks still return their cause.
func (o *Orchestrator) RunTask(ctx context.Context, workerID string, task *model.Task) error {
	if o.isCancelled(task.ID) {
		o.settleCancelled(task, "before execution")
		return nil
	}

	log.WithFields(log.Fields{
		"worker_id":   workerID,
		"task_id":     task.ID,
		"template_id": task.TemplateID,
		"attempt":     task.RetryCount + 1,
	}).Debug("task execution starting")

	br := o.deps.Breakers.Get(serviceFor(task))

	var (
		result    *worker.Result
		cancelled bool
	)
	err := br.Do(func() error {
		r, execErr := o.deps.Executor.Execute(ctx, task, o.reportFunc(task.ID))
		if execErr != nil {
			// A user cancel aborts the execution from outside; it says
			// nothing about the service, so keep it off the breaker.
			if o.isCancelled(task.ID) {
				cancelled = true
				return nil
			}
			return execErr
		}
		result = r
		return nil
	})
	switch {
	case err != nil:
		return o.settleFailure(task, err)
	case cancelled:
		o.settleCancelled(task, "during execution")
		return nil
	default:
		o.settleSuccess(task, result)
		return nil
	}
}

// serviceFor picks the breaker lane: the task's service input wins,
// otherwise the shared default.
func serviceFor(task *model.Task) string {
	if s, ok := task.Inputs["service"].(string); ok && s != "" {
		return s
	}
	return defaultService
}

// reportFunc maps streamed executor reports onto the progress record.
func (o *Orchestrator) reportFunc(taskID string) worker.ReportFunc {
	return func(ctx context.Context, r worker.Report) {
		switch r.Kind {
		case worker.ReportResourceUsage:
			if len(r.Usage) > 0 {
				if err := o.deps.Tracker.SetResourceUsage(ctx, taskID, r.Usage); err != nil {
					log.WithError(err).Debugf("resource usage update dropped for %s", taskID)
				}
			}
			return
		case worker.ReportLog:
			log.WithFields(log.Fields{"task_id": taskID}).Debug(r.Message)
			return
		}

		status := progress.StageInProgress
		if r.Progress >= 1 {
			status = progress.StageCompleted
		}
		p, err := o.deps.Tracker.UpdateStage(ctx, taskID, r.Stage, status, r.Progress, r.Message, nil)
		if err != nil {
			log.WithError(err).Debugf("stage update dropped for %s", taskID)
			return
		}
		if len(r.Usage) > 0 {
			if err := o.deps.Tracker.SetResourceUsage(ctx, taskID, r.Usage); err != nil {
				log.WithError(err).Debugf("resource usage update dropped for %s", taskID)
			}
		}
		if o.deps.Previewer != nil {
			o.deps.Previewer.Observe(ctx, p)
		}
	}
}

// settleSuccess files the outputs as a take, completes the progress record
// and acknowledges the queue. The run ctx may already be expired, so all
// settlement writes use a fresh context.
func (o *Orchestrator) settleSuccess(task *model.Task, result *worker.Result) {
	ctx := context.Background()

	outputs := make(map[string]interface{})
	if result != nil {
		for k, v := range result.Outputs {
			outputs[k] = v
		}
		if len(result.ResourceUsage) > 0 {
			if err := o.deps.Tracker.SetResourceUsage(ctx, task.ID, result.ResourceUsage); err != nil {
				log.WithError(err).Debugf("final resource usage dropped for %s", task.ID)
			}
		}
	}

	if o.deps.Takes != nil {
		take, err := o.deps.Takes.CreateTake(ctx, task.ProjectID, task.ShotID, task.ID, outputs,
			map[string]interface{}{
				"template_id": task.TemplateID,
				"quality":     task.Quality,
			})
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"task_id": task.ID}).
				Error("failed to file take for completed task")
		} else {
			outputs["take_id"] = take.ID
			outputs["take_number"] = take.Number
		}
	}

	if _, err := o.deps.Tracker.Complete(ctx, task.ID, outputs); err != nil {
		log.WithError(err).WithFields(log.Fields{"task_id": task.ID}).
			Warn("completion update failed")
	}
	o.deps.Queue.Complete(task.ID)
	o.deps.OpLog.Discard(task.ID)
	o.forget(task.ID)

	metrics.TaskCompletions.Inc(task.TemplateID, string(model.TaskStatusCompleted))
	if result != nil {
		metrics.TaskDurationSeconds.Observe(result.Duration.Seconds(), task.TemplateID)
	}
	log.WithFields(log.Fields{
		"task_id":     task.ID,
		"template_id": task.TemplateID,
	}).Info("task completed")
}

// settleFailure routes a failed execution through classification and
// recovery. Rescheduled tasks keep their progress record and operation log;
// terminal failures are compensated, failed and acknowledged.
func (o *Orchestrator) settleFailure(task *model.Task, cause error) error {
	if o.isCancelled(task.ID) {
		o.settleCancelled(task, "during execution")
		return nil
	}
	ctx := context.Background()

	classification := o.deps.Classifier.Classify(cause)
	o.deps.Analytics.Record(task.ID, classification)

	recovery := o.deps.Recovery.Recover(ctx, task, classification)
	if recovery.Rescheduled() {
		return cause
	}

	if ops := o.deps.OpLog.Drain(task.ID); len(ops) > 0 && o.deps.Compensator != nil {
		o.deps.Compensator.Compensate(ctx, ops, cause)
	}
	if _, err := o.deps.Tracker.Fail(ctx, task.ID, classification.Message); err != nil {
		log.WithError(err).WithFields(log.Fields{"task_id": task.ID}).
			Warn("failure update failed")
	}
	// Dead lettering already released the queue's inflight slot.
	if recovery.Action != faults.ActionDeadLettered {
		o.deps.Queue.Complete(task.ID)
	}
	o.forget(task.ID)

	metrics.TaskCompletions.Inc(task.TemplateID, string(model.TaskStatusFailed))
	log.WithFields(log.Fields{
		"task_id":  task.ID,
		"category": string(classification.Category),
		"action":   string(recovery.Action),
	}).WithError(cause).Warn("task failed")
	return cause
}

// settleCancelled acknowledges a task that was cancelled out from under its
// worker. Committed takes stay; recorded side effects are discarded.
func (o *Orchestrator) settleCancelled(task *model.Task, phase string) {
	o.deps.Queue.Complete(task.ID)
	o.deps.OpLog.Discard(task.ID)
	o.forget(task.ID)
	metrics.TaskCompletions.Inc(task.TemplateID, string(model.TaskStatusCancelled))
	log.WithFields(log.Fields{"task_id": task.ID}).
		Infof("task cancelled %s", phase)
}

// isCancelled reads the progress record off the in-memory entry; it never
// blocks on the store.
func (o *Orchestrator) isCancelled(taskID string) bool {
	p, err := o.deps.Tracker.Get(context.Background(), taskID)
	return err == nil && p.Status == model.TaskStatusCancelled
}
