// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/store"
)

const (
	// progressKeyPrefix namespaces persisted records in the shared store.
	progressKeyPrefix = "progress:"
	// progressTTL bounds how long a record outlives its last mutation.
	progressTTL = 24 * time.Hour
	// EventsChannel is the store pub/sub topic the transport layer consumes.
	EventsChannel = "events:progress"
	// subscriberBuffer is the per-subscriber channel capacity. A slow
	// subscriber drops updates rather than stalling the task.
	subscriberBuffer = 64
)

// Event types carried on EventsChannel and per-task subscriptions.
const (
	EventUpdate    = "progress.update"
	EventCompleted = "progress.completed"
	EventFailed    = "progress.failed"
	EventCancelled = "progress.cancelled"
)

// StageEvent is the per-stage slice of an event payload.
type StageEvent struct {
	Name     string      `json:"name"`
	Status   StageStatus `json:"status"`
	Progress float64     `json:"progress"`
	Message  string      `json:"message,omitempty"`
}

// Event is the payload published on every progress mutation.
type Event struct {
	Type            string                 `json:"type"`
	TaskID          string                 `json:"task_id"`
	Status          model.TaskStatus       `json:"status"`
	CurrentStage    int                    `json:"current_stage"`
	OverallProgress float64                `json:"overall_progress"`
	ETA             *Estimate              `json:"eta,omitempty"`
	Stages          map[int]StageEvent     `json:"stages,omitempty"`
	PreviewURL      string                 `json:"preview_url,omitempty"`
	ResourceUsage   map[string]float64     `json:"resource_usage,omitempty"`
	Outputs         map[string]interface{} `json:"outputs,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Message         string                 `json:"message,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// taskEntry pairs a record with its own lock so updates to one task are
// totally ordered without serializing unrelated tasks.
type taskEntry struct {
	mu sync.Mutex
	p  *TaskProgress
}

// Tracker owns the progress records of all live tasks. Status is always
// derived from stage state; callers mutate stages and the tracker keeps the
// record, the store copy and the event stream consistent.
type Tracker struct {
	store     store.Store
	estimator *Estimator

	mu    sync.RWMutex
	tasks map[string]*taskEntry

	stagesMu sync.RWMutex
	custom   map[string][]StageDef

	subsMu sync.RWMutex
	subs   map[string][]chan Event
}

// NewTracker builds a tracker persisting through st. A nil estimator
// disables ETA prediction.
func NewTracker(st store.Store, estimator *Estimator) *Tracker {
	return &Tracker{
		store:     st,
		estimator: estimator,
		tasks:     make(map[string]*taskEntry),
		custom:    make(map[string][]StageDef),
		subs:      make(map[string][]chan Event),
	}
}

// Estimator exposes the ETA predictor so the orchestrator can seed history.
func (t *Tracker) Estimator() *Estimator {
	return t.estimator
}

// RegisterStages installs a custom stage pipeline for one template id,
// overriding the category default for tasks created afterwards.
func (t *Tracker) RegisterStages(templateID string, defs []StageDef) error {
	if templateID == "" {
		return errors.NewValidationError("template id must not be empty")
	}
	if err := validateStages(defs); err != nil {
		return err
	}
	t.stagesMu.Lock()
	defer t.stagesMu.Unlock()
	t.custom[templateID] = normalizeStages(defs)
	return nil
}

// stagesForTask resolves the pipeline for a new task: custom set first,
// category default otherwise.
func (t *Tracker) stagesForTask(templateID, category string) []StageDef {
	t.stagesMu.RLock()
	defs, ok := t.custom[templateID]
	t.stagesMu.RUnlock()
	if ok {
		return defs
	}
	return StagesFor(category)
}

// Create registers a fresh record for the task and publishes the initial
// event. Creating the same task twice is an error.
func (t *Tracker) Create(ctx context.Context, taskID, templateID, category, quality string, metadata map[string]interface{}) (*TaskProgress, error) {
	if taskID == "" {
		return nil, errors.NewValidationError("task id must not be empty")
	}
	now := time.Now()
	p := &TaskProgress{
		TaskID:     taskID,
		TemplateID: templateID,
		Quality:    quality,
		Category:   category,
		Stages:     buildStages(t.stagesForTask(templateID, category)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(metadata) > 0 && len(p.Stages) > 0 {
		p.Stages[0].Metadata = copyMap(metadata)
	}
	p.recompute()
	p.appendLog("", "", "task created")

	entry := &taskEntry{p: p}
	t.mu.Lock()
	if _, exists := t.tasks[taskID]; exists {
		t.mu.Unlock()
		return nil, errors.NewTaskError("progress record already exists").
			WithDetail("task_id", taskID)
	}
	t.tasks[taskID] = entry
	t.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	t.persist(ctx, p)
	t.publish(ctx, p, EventUpdate, "task created")
	return p.Clone(), nil
}

// UpdateStage applies one stage mutation and re-derives the task status.
// Progress is clamped to [0,1]. Updates against a terminal task are ignored
// and return the current snapshot.
func (t *Tracker) UpdateStage(ctx context.Context, taskID string, stageIndex int, status StageStatus, progress float64, message string, metadata map[string]interface{}) (*TaskProgress, error) {
	entry, err := t.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	p := entry.p
	if stageIndex < 0 || stageIndex >= len(p.Stages) {
		return nil, errors.NewValidationError("stage index out of range").
			WithDetail("task_id", taskID).
			WithDetail("stage", fmt.Sprintf("%d", stageIndex))
	}
	if p.Status.IsTerminal() {
		log.WithFields(log.Fields{"task_id": taskID, "status": p.Status}).
			Debug("ignoring stage update on terminal task")
		return p.Clone(), nil
	}

	now := time.Now()
	stage := &p.Stages[stageIndex]
	stage.Status = status
	stage.Progress = clampUnit(progress)
	if message != "" {
		stage.Message = message
	}
	if len(metadata) > 0 {
		if stage.Metadata == nil {
			stage.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			stage.Metadata[k] = v
		}
	}

	switch status {
	case StageInProgress:
		if stage.StartedAt == nil {
			stage.StartedAt = &now
		}
		if p.StartedAt == nil {
			p.StartedAt = &now
		}
		p.CurrentStage = stageIndex
	case StageCompleted, StageSkipped:
		stage.Progress = 1
		if stage.CompletedAt == nil {
			stage.CompletedAt = &now
		}
		if stageIndex == p.CurrentStage && stageIndex+1 < len(p.Stages) {
			p.CurrentStage = stageIndex + 1
		}
	case StageFailed:
		if stage.CompletedAt == nil {
			stage.CompletedAt = &now
		}
		if message != "" {
			p.Error = message
		} else if p.Error == "" {
			p.Error = fmt.Sprintf("stage %s failed", stage.Name)
		}
	}

	p.appendLog(stage.Name, status, message)
	p.recompute()
	t.finalizeIfTerminal(p, now)
	if t.estimator != nil && p.Status.IsActive() {
		p.ETA = t.estimator.Estimate(p)
	}
	p.UpdatedAt = now

	t.persist(ctx, p)
	t.publish(ctx, p, eventTypeFor(p.Status), message)
	return p.Clone(), nil
}

// Complete force-finishes every open stage, attaches the outputs and
// publishes the terminal event. Used when the worker reports success without
// having walked each stage to 100%.
func (t *Tracker) Complete(ctx context.Context, taskID string, outputs map[string]interface{}) (*TaskProgress, error) {
	entry, err := t.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	p := entry.p
	if p.Status.IsTerminal() {
		return p.Clone(), nil
	}

	now := time.Now()
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	for i := range p.Stages {
		stage := &p.Stages[i]
		if stage.Status.IsTerminal() {
			continue
		}
		if stage.StartedAt == nil {
			stage.StartedAt = &now
		}
		stage.Status = StageCompleted
		stage.Progress = 1
		stage.CompletedAt = &now
	}
	if len(outputs) > 0 {
		p.Outputs = copyMap(outputs)
	}
	p.appendLog("", StageCompleted, "task completed")
	p.recompute()
	t.finalizeIfTerminal(p, now)
	p.UpdatedAt = now

	t.persist(ctx, p)
	t.publish(ctx, p, EventCompleted, "task completed")
	return p.Clone(), nil
}

// Fail marks the current stage failed with the given reason and publishes
// the terminal event. Failing a terminal task is a no-op.
func (t *Tracker) Fail(ctx context.Context, taskID, reason string) (*TaskProgress, error) {
	entry, err := t.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	p := entry.p
	if p.Status.IsTerminal() {
		return p.Clone(), nil
	}

	now := time.Now()
	stage := &p.Stages[p.CurrentStage]
	stage.Status = StageFailed
	if stage.CompletedAt == nil {
		stage.CompletedAt = &now
	}
	if reason != "" {
		p.Error = reason
	} else if p.Error == "" {
		p.Error = fmt.Sprintf("stage %s failed", stage.Name)
	}
	p.appendLog(stage.Name, StageFailed, reason)
	p.recompute()
	t.finalizeIfTerminal(p, now)
	p.UpdatedAt = now

	t.persist(ctx, p)
	t.publish(ctx, p, EventFailed, reason)
	return p.Clone(), nil
}

// Cancel imposes the cancelled status. Cancelling an already-terminal task
// is a no-op that returns the current snapshot.
func (t *Tracker) Cancel(ctx context.Context, taskID, reason string) (*TaskProgress, error) {
	entry, err := t.entry(taskID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	p := entry.p
	if p.Status.IsTerminal() {
		return p.Clone(), nil
	}

	now := time.Now()
	p.Status = model.TaskStatusCancelled
	p.CompletedAt = &now
	p.appendLog("", "", "task cancelled: "+reason)
	p.UpdatedAt = now
	p.ETA = nil

	t.persist(ctx, p)
	t.publish(ctx, p, EventCancelled, reason)
	return p.Clone(), nil
}

// SetOutputs attaches worker outputs without touching stage state.
func (t *Tracker) SetOutputs(ctx context.Context, taskID string, outputs map[string]interface{}) error {
	return t.mutate(ctx, taskID, "outputs updated", func(p *TaskProgress) {
		p.Outputs = copyMap(outputs)
	})
}

// SetResourceUsage records the latest resource sample from the worker.
func (t *Tracker) SetResourceUsage(ctx context.Context, taskID string, usage map[string]float64) error {
	return t.mutate(ctx, taskID, "resource usage updated", func(p *TaskProgress) {
		p.ResourceUsage = copyFloatMap(usage)
	})
}

// SetPreviewURL attaches a preview artifact reference.
func (t *Tracker) SetPreviewURL(ctx context.Context, taskID, url string) error {
	return t.mutate(ctx, taskID, "preview available", func(p *TaskProgress) {
		p.PreviewURL = url
	})
}

// mutate applies fn under the task lock, then persists and publishes.
func (t *Tracker) mutate(ctx context.Context, taskID, message string, fn func(*TaskProgress)) error {
	entry, err := t.entry(taskID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.p)
	entry.p.UpdatedAt = time.Now()
	t.persist(ctx, entry.p)
	t.publish(ctx, entry.p, eventTypeFor(entry.p.Status), message)
	return nil
}

// Get returns a snapshot of the task's record, reading through to the store
// for tasks this process does not hold in memory.
func (t *Tracker) Get(ctx context.Context, taskID string) (*TaskProgress, error) {
	t.mu.RLock()
	entry, ok := t.tasks[taskID]
	t.mu.RUnlock()
	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.p.Clone(), nil
	}

	raw, found, err := t.store.Get(ctx, progressKeyPrefix+taskID)
	if err != nil {
		return nil, errors.NewTaskError("failed to load progress record").
			WithError(err).WithDetail("task_id", taskID)
	}
	if !found {
		return nil, errors.NewResourceNotFound("task not found").
			WithDetail("task_id", taskID)
	}
	var p TaskProgress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, errors.NewTaskError("malformed progress record").
			WithError(err).WithDetail("task_id", taskID)
	}
	return &p, nil
}

// List snapshots every record held in memory, newest first not guaranteed.
func (t *Tracker) List() []*TaskProgress {
	t.mu.RLock()
	entries := make([]*taskEntry, 0, len(t.tasks))
	for _, e := range t.tasks {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]*TaskProgress, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.p.Clone())
		e.mu.Unlock()
	}
	return out
}

// PruneTerminal evicts in-memory records that reached a terminal state
// longer than olderThan ago. The store copy stays until its TTL lapses.
// Returns how many records were dropped.
func (t *Tracker) PruneTerminal(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	t.mu.Lock()
	defer t.mu.Unlock()
	pruned := 0
	for id, entry := range t.tasks {
		entry.mu.Lock()
		expired := entry.p.Status.IsTerminal() &&
			entry.p.CompletedAt != nil && entry.p.CompletedAt.Before(cutoff)
		entry.mu.Unlock()
		if expired {
			delete(t.tasks, id)
			pruned++
		}
	}
	if pruned > 0 {
		log.Debugf("pruned %d terminal progress records", pruned)
	}
	return pruned
}

// Subscribe opens a per-task event stream. The channel is closed after the
// terminal event is delivered or when Unsubscribe is called.
func (t *Tracker) Subscribe(taskID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	t.subsMu.Lock()
	t.subs[taskID] = append(t.subs[taskID], ch)
	t.subsMu.Unlock()
	return ch
}

// Unsubscribe detaches a channel obtained from Subscribe and closes it.
func (t *Tracker) Unsubscribe(taskID string, ch <-chan Event) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	subs := t.subs[taskID]
	for i, s := range subs {
		if s == ch {
			t.subs[taskID] = append(subs[:i], subs[i+1:]...)
			close(s)
			break
		}
	}
	if len(t.subs[taskID]) == 0 {
		delete(t.subs, taskID)
	}
}

// entry fetches the live record for taskID.
func (t *Tracker) entry(taskID string) (*taskEntry, error) {
	t.mu.RLock()
	entry, ok := t.tasks[taskID]
	t.mu.RUnlock()
	if !ok {
		return nil, errors.NewResourceNotFound("task not found").
			WithDetail("task_id", taskID)
	}
	return entry, nil
}

// finalizeIfTerminal stamps CompletedAt and feeds the estimator once the
// derived status goes terminal.
func (t *Tracker) finalizeIfTerminal(p *TaskProgress, now time.Time) {
	if !p.Status.IsTerminal() {
		return
	}
	if p.CompletedAt == nil {
		p.CompletedAt = &now
	}
	p.ETA = nil
	if t.estimator != nil {
		t.estimator.Record(historyFrom(p))
	}
}

// historyFrom condenses a finished record into an estimator sample.
func historyFrom(p *TaskProgress) TaskHistory {
	h := TaskHistory{
		TemplateID:     p.TemplateID,
		Quality:        p.Quality,
		Category:       p.Category,
		StageDurations: make(map[string]float64, len(p.Stages)),
		CompletedAt:    time.Now(),
		Success:        p.Status == model.TaskStatusCompleted,
	}
	if p.CompletedAt != nil {
		h.CompletedAt = *p.CompletedAt
	}
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.StartedAt != nil && s.CompletedAt != nil {
			h.StageDurations[s.Name] = s.CompletedAt.Sub(*s.StartedAt).Seconds()
		}
	}
	start := p.CreatedAt
	if p.StartedAt != nil {
		start = *p.StartedAt
	}
	if p.CompletedAt != nil {
		h.TotalDuration = p.CompletedAt.Sub(start).Seconds()
	}
	return h
}

// persist writes the record through to the shared store. Store outages are
// logged rather than failing the mutation; the in-memory record stays
// authoritative for this process.
func (t *Tracker) persist(ctx context.Context, p *TaskProgress) {
	raw, err := json.Marshal(p)
	if err != nil {
		log.WithError(err).Errorf("failed to serialize progress record %s", p.TaskID)
		return
	}
	if err := t.store.Set(ctx, progressKeyPrefix+p.TaskID, string(raw), progressTTL); err != nil {
		log.WithError(err).Warnf("failed to persist progress record %s", p.TaskID)
	}
}

// publish fans the event out to in-process subscribers and the store topic.
// Called with the task entry lock held so per-task events stay ordered.
func (t *Tracker) publish(ctx context.Context, p *TaskProgress, eventType, message string) {
	ev := buildEvent(p, eventType, message)

	t.subsMu.Lock()
	subs := t.subs[p.TaskID]
	terminal := p.Status.IsTerminal()
	if terminal {
		delete(t.subs, p.TaskID)
	}
	t.subsMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.Debugf("dropping progress event for slow subscriber of task %s", p.TaskID)
		}
		if terminal {
			close(ch)
		}
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).Errorf("failed to serialize progress event for task %s", p.TaskID)
		return
	}
	if err := t.store.Publish(ctx, EventsChannel, string(raw)); err != nil {
		log.WithError(err).Warnf("failed to publish progress event for task %s", p.TaskID)
	}
}

// buildEvent shapes the wire payload from a record snapshot.
func buildEvent(p *TaskProgress, eventType, message string) Event {
	stages := make(map[int]StageEvent, len(p.Stages))
	for i := range p.Stages {
		s := &p.Stages[i]
		stages[i] = StageEvent{Name: s.Name, Status: s.Status, Progress: s.Progress, Message: s.Message}
	}
	ev := Event{
		Type:            eventType,
		TaskID:          p.TaskID,
		Status:          p.Status,
		CurrentStage:    p.CurrentStage,
		OverallProgress: p.OverallProgress,
		Stages:          stages,
		PreviewURL:      p.PreviewURL,
		ResourceUsage:   copyFloatMap(p.ResourceUsage),
		Message:         message,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.ETA != nil {
		eta := *p.ETA
		ev.ETA = &eta
	}
	switch eventType {
	case EventCompleted:
		ev.Outputs = copyMap(p.Outputs)
	case EventFailed:
		ev.ErrorMessage = p.Error
	}
	return ev
}

// eventTypeFor maps a derived status onto the event type to publish.
func eventTypeFor(status model.TaskStatus) string {
	switch status {
	case model.TaskStatusCompleted:
		return EventCompleted
	case model.TaskStatusFailed:
		return EventFailed
	case model.TaskStatusCancelled:
		return EventCancelled
	default:
		return EventUpdate
	}
}

// clampUnit clamps v to [0,1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
