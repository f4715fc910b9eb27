// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package orchestrator is the single entry point of the pipeline: it admits
// submissions against the template registry and resource ledger, hands
// queued tasks to the worker pool, and settles every execution through the
// error handling chain. All collaborators are injected at construction; the
// orchestrator owns no state beyond its registry of active tasks.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AMD-AGI/Backlot/pkg/breaker"
	"github.com/AMD-AGI/Backlot/pkg/config"
	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/faults"
	"github.com/AMD-AGI/Backlot/pkg/healing"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/progress"
	"github.com/AMD-AGI/Backlot/pkg/queue"
	"github.com/AMD-AGI/Backlot/pkg/resource"
	"github.com/AMD-AGI/Backlot/pkg/template"
	"github.com/AMD-AGI/Backlot/pkg/utils"
	"github.com/AMD-AGI/Backlot/pkg/worker"
)

const (
	// defaultService is the breaker lane for tasks that do not name one.
	defaultService = "default"

	// assetScheme prefixes input values that reference workspace assets.
	assetScheme = "asset://"

	// reapInterval paces the sweep over resource-parked tasks.
	reapInterval = 10 * time.Second

	// WaitForResult polling: exponentially widening interval.
	waitPollInitial    = 100 * time.Millisecond
	waitPollFactor     = 1.5
	waitPollMax        = 5 * time.Second
	defaultWaitTimeout = 5 * time.Minute
)

// Deps wires the orchestrator's collaborators. Takes, Workspace and
// Previewer may be nil; everything else is required.
type Deps struct {
	Registry    *template.Registry
	Presets     *template.PresetManager
	Queue       *queue.Queue
	Ledger      *resource.Ledger
	Tracker     *progress.Tracker
	Previewer   *progress.Previewer
	Breakers    *breaker.Manager
	Classifier  *faults.Classifier
	Analytics   *faults.Analytics
	Recovery    *faults.RecoveryManager
	Compensator *faults.Compensator
	History     *faults.HistoryBook
	OpLog       *faults.OperationLog
	Executor    worker.Executor
	Takes       TakesService
	Workspace   WorkspaceService
}

// Orchestrator admits, dispatches and settles tasks. It implements
// worker.TaskRunner; the pool and healer are attached after construction
// because they in turn are built around the orchestrator.
type Orchestrator struct {
	deps Deps

	mu      sync.RWMutex
	tasks   map[string]*model.Task
	pool    *worker.Manager
	healer  *healing.Healer
	started bool

	reaper *utils.Tomb
}

// New builds an orchestrator around its collaborators.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		tasks:  make(map[string]*model.Task),
		reaper: utils.NewTomb(),
	}
}

// AttachPool hands the orchestrator the worker pool it dispatches through.
// Must be called before Start.
func (o *Orchestrator) AttachPool(pool *worker.Manager) {
	o.mu.Lock()
	o.pool = pool
	o.mu.Unlock()
}

// AttachHealer exposes the self-healing loop on the admin surface.
func (o *Orchestrator) AttachHealer(h *healing.Healer) {
	o.mu.Lock()
	o.healer = h
	o.mu.Unlock()
}

// Start launches the background sweep over resource-parked tasks. A stopped
// orchestrator cannot be restarted; create a new one.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.reaper.IsStopped() {
		return
	}
	o.started = true
	go o.reapLoop()
	log.Info("orchestrator started")
}

// Stop terminates the parked-task sweep and waits for it to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return
	}
	o.reaper.Stop()
	log.Info("orchestrator stopped")
}

// Submit validates, admits and enqueues one task. The receipt carries the
// queued status and a completion estimate when history supports one.
func (o *Orchestrator) Submit(ctx context.Context, req *model.SubmitRequest) (*model.SubmitReceipt, error) {
	if req == nil || req.TemplateID == "" {
		return nil, errors.NewValidationError("template_id is required").
			WithDetail("field", "template_id")
	}

	inputs := make(map[string]interface{}, len(req.Inputs))
	for k, v := range req.Inputs {
		inputs[k] = v
	}

	if req.ProjectID != "" && o.deps.Workspace != nil {
		if _, err := o.deps.Workspace.GetProject(ctx, req.ProjectID); err != nil {
			return nil, err
		}
	}
	if err := o.resolveAssets(ctx, req.ProjectID, inputs); err != nil {
		return nil, err
	}

	tpl, err := o.deps.Registry.Get(req.TemplateID, req.Version)
	if err != nil {
		return nil, err
	}
	if err := tpl.ValidateInputs(inputs); err != nil {
		return nil, err
	}
	if req.Quality != "" {
		if inputs, err = o.deps.Presets.Apply(tpl, req.Quality, inputs); err != nil {
			return nil, err
		}
	}
	inputs = tpl.FillDefaults(inputs)

	if need := templateResources(tpl); !need.IsZero() && !o.deps.Ledger.FitsTotal(need) {
		totals := o.deps.Ledger.Totals()
		return nil, errors.NewInsufficientResources("template requirements exceed total pool capacity").
			WithDetail("template_id", tpl.ID).
			WithDetail("required", need).
			WithDetail("available", totals)
	}

	task := &model.Task{
		ID:              model.NewTaskID(),
		TrackingID:      uuid.NewString(),
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		Category:        tpl.Category,
		Inputs:          inputs,
		Priority:        req.Priority,
		ProjectID:       req.ProjectID,
		ShotID:          req.ShotID,
		UserID:          req.UserID,
		Quality:         req.Quality,
		Metadata:        req.Metadata,
		MaxRetries:      config.GetTaskDefaultMaxRetries(),
		TimeoutSecond:   req.TimeoutSecond,
		CreatedAt:       time.Now(),
	}

	p, err := o.deps.Tracker.Create(ctx, task.ID, tpl.ID, tpl.Category, req.Quality, req.Metadata)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	o.deps.OpLog.Track(task.ID, faults.OpTaskSubmission, map[string]interface{}{
		"template_id": tpl.ID,
		"project_id":  req.ProjectID,
	})
	o.deps.Queue.Publish(task)
	metrics.TaskSubmissions.Inc(tpl.ID)

	receipt := &model.SubmitReceipt{
		TaskID:     task.ID,
		TrackingID: task.TrackingID,
		Status:     p.Status,
	}
	if est := o.deps.Tracker.Estimator(); est != nil {
		if e := est.Estimate(p); e != nil {
			eta := e.ETA
			receipt.EstimatedCompletion = &eta
		}
	}

	log.WithFields(log.Fields{
		"task_id":     task.ID,
		"template_id": tpl.ID,
		"version":     tpl.Version,
		"quality":     req.Quality,
	}).Info("task submitted")
	return receipt, nil
}

// Cancel stops a task wherever it currently is: queued entries are removed
// immediately, running ones get a cooperative cancel signal. Cancelling a
// terminal task is a no-op success. Committed takes are never rolled back.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (bool, error) {
	if _, err := o.deps.Tracker.Cancel(ctx, taskID, "cancelled by user"); err != nil {
		return false, err
	}

	if o.deps.Queue.Remove(taskID) {
		o.deps.OpLog.Discard(taskID)
		o.forget(taskID)
		log.WithFields(log.Fields{"task_id": taskID}).Info("queued task cancelled")
		return true, nil
	}

	o.mu.RLock()
	pool := o.pool
	o.mu.RUnlock()
	if pool != nil && pool.CancelTask(taskID) {
		log.WithFields(log.Fields{"task_id": taskID}).Info("running task signalled to cancel")
	}
	return true, nil
}

// Status returns the task's full progress record.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*progress.TaskProgress, error) {
	return o.deps.Tracker.Get(ctx, taskID)
}

// ListActive lists non-terminal tasks, newest first, narrowed by the filter.
func (o *Orchestrator) ListActive(ctx context.Context, filter model.ListFilter) []model.TaskSummary {
	o.mu.RLock()
	tasks := make([]*model.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.RUnlock()

	summaries := make([]model.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		if filter.UserID != "" && t.UserID != filter.UserID {
			continue
		}
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		p, err := o.deps.Tracker.Get(ctx, t.ID)
		if err != nil || p.Status.IsTerminal() {
			continue
		}
		s := p.Summary()
		s.ProjectID = t.ProjectID
		s.UserID = t.UserID
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].TaskID < summaries[j].TaskID
	})
	return summaries
}

// Subscribe streams progress events for one task.
func (o *Orchestrator) Subscribe(taskID string) <-chan progress.Event {
	return o.deps.Tracker.Subscribe(taskID)
}

// Unsubscribe detaches a Subscribe channel.
func (o *Orchestrator) Unsubscribe(taskID string, ch <-chan progress.Event) {
	o.deps.Tracker.Unsubscribe(taskID, ch)
}

// WaitForResult blocks until the task reaches a terminal state, polling with
// an exponentially widening interval. A zero timeout uses the default.
func (o *Orchestrator) WaitForResult(ctx context.Context, taskID string, timeout time.Duration) (*progress.TaskProgress, error) {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	deadline := time.Now().Add(timeout)
	interval := waitPollInitial

	for {
		p, err := o.deps.Tracker.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if p.Status.IsTerminal() {
			return p, nil
		}
		if !time.Now().Before(deadline) {
			return nil, errors.NewWorkflowTimeout(
				fmt.Sprintf("task did not finish within %s", timeout)).
				WithDetail("task_id", taskID).
				WithDetail("timeout_seconds", timeout.Seconds())
		}

		wait := interval
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		interval = time.Duration(float64(interval) * waitPollFactor)
		if interval > waitPollMax {
			interval = waitPollMax
		}
	}
}

// resolveAssets rewrites asset:// input values to concrete workspace paths.
func (o *Orchestrator) resolveAssets(ctx context.Context, projectID string, inputs map[string]interface{}) error {
	for key, value := range inputs {
		ref, ok := value.(string)
		if !ok || !strings.HasPrefix(ref, assetScheme) {
			continue
		}
		if o.deps.Workspace == nil {
			return errors.NewValidationError("asset references are not supported without a workspace").
				WithDetail("field", key)
		}
		if projectID == "" {
			return errors.NewValidationError("asset reference requires project_id").
				WithDetail("field", key)
		}
		path, err := o.deps.Workspace.ResolveAsset(ctx, projectID, strings.TrimPrefix(ref, assetScheme))
		if err != nil {
			return err
		}
		inputs[key] = path
	}
	return nil
}

// templateResources converts template requirement hints into a ledger
// quantity. Disk is tracked outside the ledger and ignored here.
func templateResources(tpl *template.Template) model.Resources {
	spec := tpl.Requirements.Resources
	need := model.Resources{
		CPUCores: spec.CPUCores,
		MemoryGB: spec.MemoryGB,
		VRAMGB:   spec.VRAMGB,
	}
	if spec.GPU {
		need.GPUCount = 1
	}
	return need
}

// reapLoop periodically readmits resource-parked tasks that fit free
// capacity and fails the ones whose wait deadline passed.
func (o *Orchestrator) reapLoop() {
	defer o.reaper.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.reaper.Stopping():
			return
		case <-ticker.C:
			o.reapParked(context.Background())
		}
	}
}

// reapParked is one sweep over the waiting set. Admission is advisory here;
// a readmitted task that still cannot run is parked again by recovery.
func (o *Orchestrator) reapParked(ctx context.Context) {
	readmitted, expired := o.deps.Queue.ReapWaiting(func(t *model.Task) bool {
		return o.deps.Ledger.CanAdmit(worker.TypeForCategory(t.Category))
	})
	for _, task := range readmitted {
		log.WithFields(log.Fields{"task_id": task.ID}).
			Debug("parked task readmitted to the queue")
	}
	for _, task := range expired {
		o.expireParked(ctx, task)
	}
}

// expireParked settles a parked task whose resource wait deadline passed:
// compensate recorded side effects, fail progress, dead letter.
func (o *Orchestrator) expireParked(ctx context.Context, task *model.Task) {
	const reason = "resource wait deadline exceeded"
	cause := errors.NewInsufficientResources(reason).WithDetail("task_id", task.ID)

	if ops := o.deps.OpLog.Drain(task.ID); len(ops) > 0 && o.deps.Compensator != nil {
		o.deps.Compensator.Compensate(ctx, ops, cause)
	}
	if _, err := o.deps.Tracker.Fail(ctx, task.ID, reason); err != nil {
		log.WithError(err).WithFields(log.Fields{"task_id": task.ID}).
			Warn("failed to mark expired task")
	}
	if err := o.deps.Queue.DeadLetter(ctx, task, reason, "resource"); err != nil {
		log.WithError(err).WithFields(log.Fields{"task_id": task.ID}).
			Error("failed to dead letter expired task")
	}
	metrics.TaskCompletions.Inc(task.TemplateID, string(model.TaskStatusFailed))
	o.forget(task.ID)

	log.WithFields(log.Fields{"task_id": task.ID}).Warn("parked task expired")
}

func (o *Orchestrator) forget(taskID string) {
	o.mu.Lock()
	delete(o.tasks, taskID)
	o.mu.Unlock()
}
