// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package healing runs periodic diagnostics over the orchestration pipeline
// and applies remediations through a per-issue handler table. Repeated
// remediation failures for the same issue type suppress further attempts
// with exponential backoff.
package healing

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AMD-AGI/Backlot/pkg/config"
	"github.com/AMD-AGI/Backlot/pkg/faults"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/progress"
	"github.com/AMD-AGI/Backlot/pkg/queue"
	"github.com/AMD-AGI/Backlot/pkg/store"
	"github.com/AMD-AGI/Backlot/pkg/utils"
)

// IssueType identifies a diagnostic finding.
type IssueType string

const (
	IssueWorkerUnresponsive IssueType = "worker_unresponsive"
	IssueQueueBacklog       IssueType = "queue_backlog"
	IssueQueueStalled       IssueType = "queue_stalled"
	IssueHighCPU            IssueType = "high_cpu"
	IssueResourceLeak       IssueType = "resource_leak"
	IssueLowDisk            IssueType = "low_disk"
	IssueWorkspaceFull      IssueType = "workspace_full"
	IssueModelIntegrity     IssueType = "model_integrity"
	IssueConnectivity       IssueType = "connectivity"
)

// Remediation outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
	OutcomeDegraded = "degraded"
)

const (
	// workerStaleAfter is how long without a heartbeat marks a worker
	// unresponsive.
	workerStaleAfter = 2 * time.Minute
	// backlogWindow is the backlog threshold in seconds of work at the
	// observed processing rate.
	backlogWindow = 300.0

	cpuPressurePercent       = 90.0
	memoryPressurePercent    = 90.0
	diskPressurePercent      = 95.0
	workspacePressurePercent = 90.0

	backlogWorkerBoost = 2
	throttleWindow     = 5 * time.Minute
	pruneAge           = time.Hour
	deadLetterKeepLast = 100

	historyCapacity = 200
	degradeBase     = time.Minute
	degradeCap      = 30 * time.Minute

	pingKey = "healing:ping"
)

// Issue is one diagnostic finding.
type Issue struct {
	Type       IssueType              `json:"type"`
	Severity   faults.ErrorSeverity   `json:"severity"`
	Target     string                 `json:"target"`
	Details    map[string]interface{} `json:"details,omitempty"`
	DetectedAt time.Time              `json:"detected_at"`
}

// Remediation records one handler attempt against a detected issue.
type Remediation struct {
	IssueType IssueType `json:"issue_type"`
	Target    string    `json:"target"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// WorkerPool is the slice of the pool manager the healer drives.
type WorkerPool interface {
	Workers() []*model.Worker
	RestartWorker(ctx context.Context, workerID string) error
	RequestWorkers(ctx context.Context, count int) int
	Throttle(d time.Duration)
}

// TaskQueue is the slice of the task queue the healer inspects and kicks.
type TaskQueue interface {
	Depth() int
	Completed() int
	ReapWaiting(canAdmit func(*model.Task) bool) (readmitted, expired []*model.Task)
	DeadLetter(ctx context.Context, task *model.Task, reason, category string) error
}

// ProgressStore is the slice of the progress tracker the healer prunes and
// fails tasks through.
type ProgressStore interface {
	PruneTerminal(olderThan time.Duration) int
	Fail(ctx context.Context, taskID, reason string) (*progress.TaskProgress, error)
}

// TemplateStore is the slice of the template registry the integrity check
// reads and reloads.
type TemplateStore interface {
	Count() int
	LoadDirs(dirs []string) error
}

// Deps wires the components the healer inspects and acts on. A nil member
// disables the checks that need it.
type Deps struct {
	Pool     WorkerPool
	Queue    TaskQueue
	Tracker  ProgressStore
	Registry TemplateStore
	Store    store.Store
	Alerter  faults.Alerter
	Vitals   VitalsFunc
}

type handler func(ctx context.Context, issue Issue) (string, error)

type attemptState struct {
	failures     int
	suppressedTo time.Time
}

// Healer schedules diagnostics and dispatches remediations.
type Healer struct {
	deps     Deps
	interval time.Duration
	handlers map[IssueType]handler
	tomb     *utils.Tomb

	mu            sync.Mutex
	started       bool
	attempts      map[IssueType]*attemptState
	history       []Remediation
	lastCompleted int
	lastSampleAt  time.Time
	hasBaseline   bool
}

// NewHealer wires the handler table. The schedule does not run until Start.
func NewHealer(deps Deps, interval time.Duration) *Healer {
	if interval <= 0 {
		interval = time.Minute
	}
	if deps.Vitals == nil {
		deps.Vitals = SystemVitals(config.GetWorkspaceDir())
	}
	h := &Healer{
		deps:     deps,
		interval: interval,
		tomb:     utils.NewTomb(),
		attempts: make(map[IssueType]*attemptState),
	}
	h.handlers = map[IssueType]handler{
		IssueWorkerUnresponsive: h.restartWorker,
		IssueQueueBacklog:       h.addWorkers,
		IssueQueueStalled:       h.restartQueueProcessing,
		IssueHighCPU:            h.throttlePool,
		IssueResourceLeak:       h.reclaimMemory,
		IssueLowDisk:            h.cleanupStorage,
		IssueWorkspaceFull:      h.cleanupStorage,
		IssueModelIntegrity:     h.reloadTemplates,
		IssueConnectivity:       h.probeConnectivity,
	}
	return h
}

// Start launches the diagnostics schedule. It is a no-op when self-healing
// is disabled or already running. A stopped healer cannot be restarted;
// create a new one.
func (h *Healer) Start() {
	if !config.IsHealingEnabled() {
		log.Info("self-healing disabled")
		return
	}
	h.mu.Lock()
	if h.started || h.tomb.IsStopped() {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()
	go h.startCronJob()
}

// Stop halts the schedule. Safe to call when never started.
func (h *Healer) Stop() {
	h.mu.Lock()
	started := h.started
	h.started = false
	h.mu.Unlock()
	if started {
		h.tomb.Stop()
	}
}

func (h *Healer) startCronJob() {
	// Skip a trigger while the previous run is still in progress.
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	c.Schedule(cron.Every(h.interval), h)
	c.Start()
	log.Infof("self-healing started: interval=%s", h.interval)

	<-h.tomb.Stopping()
	c.Stop()
	h.tomb.Done()
	log.Info("self-healing stopped")
}

// Run performs one diagnose-and-remediate cycle. It implements cron.Job.
func (h *Healer) Run() {
	issues, _ := h.TriggerDiagnose(context.Background())
	if len(issues) > 0 {
		log.Infof("self-healing cycle handled %d issues", len(issues))
	}
}

// TriggerDiagnose runs one diagnostics cycle immediately and returns what it
// found and did. The admin surface calls this on demand.
func (h *Healer) TriggerDiagnose(ctx context.Context) ([]Issue, []Remediation) {
	issues := h.Diagnose(ctx)
	remediations := make([]Remediation, 0, len(issues))
	for _, issue := range issues {
		remediations = append(remediations, h.remediate(ctx, issue))
	}
	return issues, remediations
}

// Diagnose runs every check and returns the findings without acting on them.
func (h *Healer) Diagnose(ctx context.Context) []Issue {
	now := time.Now()
	var issues []Issue
	issues = append(issues, h.checkWorkers(now)...)
	issues = append(issues, h.checkQueue(now)...)
	issues = append(issues, h.checkPressure(ctx)...)
	issues = append(issues, h.checkTemplates(now)...)
	issues = append(issues, h.checkConnectivity(ctx)...)

	for _, issue := range issues {
		metrics.HealingIssues.Inc(string(issue.Type))
		log.WithFields(log.Fields{
			"type":     issue.Type,
			"target":   issue.Target,
			"severity": issue.Severity,
		}).Warn("diagnostic issue detected")
		if issue.Severity == faults.SeverityCritical && h.deps.Alerter != nil {
			h.deps.Alerter.SendAlert(issue.Severity,
				fmt.Sprintf("self-healing detected %s", issue.Type), issue.Details)
		}
	}
	return issues
}

// History returns the recorded remediation attempts, oldest first.
func (h *Healer) History() []Remediation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Remediation, len(h.history))
	copy(out, h.history)
	return out
}

func (h *Healer) checkWorkers(now time.Time) []Issue {
	if h.deps.Pool == nil {
		return nil
	}
	var issues []Issue
	for _, w := range h.deps.Pool.Workers() {
		switch {
		case w.Status == model.WorkerStatusFailed:
			issues = append(issues, Issue{
				Type:       IssueWorkerUnresponsive,
				Severity:   faults.SeverityHigh,
				Target:     w.ID,
				Details:    map[string]interface{}{"status": string(w.Status)},
				DetectedAt: now,
			})
		case w.Status.IsSchedulable() && now.Sub(w.LastHeartbeat) > workerStaleAfter:
			issues = append(issues, Issue{
				Type:     IssueWorkerUnresponsive,
				Severity: faults.SeverityHigh,
				Target:   w.ID,
				Details: map[string]interface{}{
					"last_heartbeat": w.LastHeartbeat,
					"stale_for":      now.Sub(w.LastHeartbeat).String(),
				},
				DetectedAt: now,
			})
		}
	}
	return issues
}

func (h *Healer) checkQueue(now time.Time) []Issue {
	if h.deps.Queue == nil {
		return nil
	}
	depth := h.deps.Queue.Depth()
	completed := h.deps.Queue.Completed()

	h.mu.Lock()
	rate, ok := h.sampleRateLocked(completed, now)
	h.mu.Unlock()
	if !ok {
		// first sample only establishes the baseline
		return nil
	}
	return queueIssues(depth, rate, now)
}

// queueIssues applies the flow rules: stalled when nothing completes while
// work is queued, backlogged when the queue holds more than backlogWindow
// seconds of work at the observed rate.
func queueIssues(depth int, rate float64, now time.Time) []Issue {
	details := map[string]interface{}{
		"depth":           depth,
		"rate_per_second": rate,
	}
	switch {
	case rate == 0 && depth > 0:
		return []Issue{{
			Type:       IssueQueueStalled,
			Severity:   faults.SeverityCritical,
			Target:     "queue",
			Details:    details,
			DetectedAt: now,
		}}
	case float64(depth) > rate*backlogWindow:
		return []Issue{{
			Type:       IssueQueueBacklog,
			Severity:   faults.SeverityHigh,
			Target:     "queue",
			Details:    details,
			DetectedAt: now,
		}}
	}
	return nil
}

// sampleRateLocked derives tasks/second since the previous sample. The first
// call establishes the baseline and reports ok=false. Requires h.mu.
func (h *Healer) sampleRateLocked(completed int, now time.Time) (float64, bool) {
	defer func() {
		h.lastCompleted = completed
		h.lastSampleAt = now
	}()
	if !h.hasBaseline {
		h.hasBaseline = true
		return 0, false
	}
	elapsed := now.Sub(h.lastSampleAt).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	delta := completed - h.lastCompleted
	if delta < 0 {
		delta = 0
	}
	return float64(delta) / elapsed, true
}

func (h *Healer) checkPressure(ctx context.Context) []Issue {
	if h.deps.Vitals == nil {
		return nil
	}
	v, err := h.deps.Vitals(ctx)
	if err != nil {
		log.WithError(err).Warn("vitals sample failed")
		return nil
	}
	now := time.Now()
	var issues []Issue
	if v.CPUPercent > cpuPressurePercent {
		issues = append(issues, Issue{
			Type:       IssueHighCPU,
			Severity:   faults.SeverityHigh,
			Target:     "host",
			Details:    map[string]interface{}{"cpu_percent": v.CPUPercent},
			DetectedAt: now,
		})
	}
	if v.MemoryPercent > memoryPressurePercent {
		issues = append(issues, Issue{
			Type:       IssueResourceLeak,
			Severity:   faults.SeverityHigh,
			Target:     "host",
			Details:    map[string]interface{}{"memory_percent": v.MemoryPercent},
			DetectedAt: now,
		})
	}
	if v.DiskPercent > diskPressurePercent {
		issues = append(issues, Issue{
			Type:       IssueLowDisk,
			Severity:   faults.SeverityCritical,
			Target:     "host",
			Details:    map[string]interface{}{"disk_percent": v.DiskPercent},
			DetectedAt: now,
		})
	}
	if v.WorkspacePercent > workspacePressurePercent {
		issues = append(issues, Issue{
			Type:       IssueWorkspaceFull,
			Severity:   faults.SeverityHigh,
			Target:     "workspace",
			Details:    map[string]interface{}{"workspace_percent": v.WorkspacePercent},
			DetectedAt: now,
		})
	}
	return issues
}

func (h *Healer) checkTemplates(now time.Time) []Issue {
	if h.deps.Registry == nil || h.deps.Registry.Count() > 0 {
		return nil
	}
	return []Issue{{
		Type:       IssueModelIntegrity,
		Severity:   faults.SeverityHigh,
		Target:     "registry",
		Details:    map[string]interface{}{"templates": 0},
		DetectedAt: now,
	}}
}

func (h *Healer) checkConnectivity(ctx context.Context) []Issue {
	if h.deps.Store == nil {
		return nil
	}
	if err := h.pingStore(ctx); err != nil {
		return []Issue{{
			Type:       IssueConnectivity,
			Severity:   faults.SeverityCritical,
			Target:     "store",
			Details:    map[string]interface{}{"error": err.Error()},
			DetectedAt: time.Now(),
		}}
	}
	return nil
}

func (h *Healer) pingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.deps.Store.Set(ctx, pingKey, time.Now().Format(time.RFC3339Nano), time.Minute); err != nil {
		return err
	}
	_, _, err := h.deps.Store.Get(ctx, pingKey)
	return err
}

func (h *Healer) remediate(ctx context.Context, issue Issue) Remediation {
	rec := Remediation{IssueType: issue.Type, Target: issue.Target, At: time.Now()}

	fn, ok := h.handlers[issue.Type]
	if !ok {
		rec.Outcome = OutcomeFailed
		rec.Error = "no handler registered"
		h.record(rec)
		return rec
	}

	if until, degraded := h.suppressed(issue.Type); degraded {
		rec.Outcome = OutcomeDegraded
		rec.Action = fmt.Sprintf("suppressed until %s after repeated failures", until.Format(time.RFC3339))
		h.record(rec)
		return rec
	}

	action, err := fn(ctx, issue)
	rec.Action = action
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = err.Error()
		h.noteFailure(issue.Type)
		log.WithError(err).WithFields(log.Fields{
			"type":   issue.Type,
			"target": issue.Target,
		}).Error("remediation failed")
	} else {
		rec.Outcome = OutcomeResolved
		h.noteSuccess(issue.Type)
		log.WithFields(log.Fields{
			"type":   issue.Type,
			"target": issue.Target,
			"action": action,
		}).Info("remediation applied")
	}
	h.record(rec)
	return rec
}

func (h *Healer) record(rec Remediation) {
	metrics.HealingRemediations.Inc(string(rec.IssueType), rec.Outcome)
	h.mu.Lock()
	h.history = append(h.history, rec)
	if len(h.history) > historyCapacity {
		h.history = h.history[len(h.history)-historyCapacity:]
	}
	h.mu.Unlock()
}

// suppressed reports whether remediation for this issue type is inside a
// degradation window.
func (h *Healer) suppressed(t IssueType) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.attempts[t]
	if !ok || time.Now().After(st.suppressedTo) {
		return time.Time{}, false
	}
	return st.suppressedTo, true
}

// noteFailure widens the suppression window exponentially per issue type.
func (h *Healer) noteFailure(t IssueType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.attempts[t]
	if st == nil {
		st = &attemptState{}
		h.attempts[t] = st
	}
	st.failures++
	shift := st.failures - 1
	if shift > 5 {
		shift = 5
	}
	backoff := degradeBase << shift
	if backoff > degradeCap {
		backoff = degradeCap
	}
	st.suppressedTo = time.Now().Add(backoff)
}

func (h *Healer) noteSuccess(t IssueType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attempts, t)
}

func (h *Healer) restartWorker(ctx context.Context, issue Issue) (string, error) {
	if h.deps.Pool == nil {
		return "", fmt.Errorf("no worker pool wired")
	}
	if err := h.deps.Pool.RestartWorker(ctx, issue.Target); err != nil {
		return "restart worker", err
	}
	return fmt.Sprintf("restarted worker %s", issue.Target), nil
}

func (h *Healer) addWorkers(ctx context.Context, issue Issue) (string, error) {
	if h.deps.Pool == nil {
		return "", fmt.Errorf("no worker pool wired")
	}
	spawned := h.deps.Pool.RequestWorkers(ctx, backlogWorkerBoost)
	if spawned == 0 {
		return "request workers", fmt.Errorf("no additional workers admitted")
	}
	return fmt.Sprintf("added %d workers", spawned), nil
}

// restartQueueProcessing pushes parked tasks back onto the pending set and
// makes sure at least one more worker is claiming. Tasks past their waiting
// deadline are failed and dead lettered instead of readmitted.
func (h *Healer) restartQueueProcessing(ctx context.Context, issue Issue) (string, error) {
	readmitted := 0
	if h.deps.Queue != nil {
		back, expired := h.deps.Queue.ReapWaiting(nil)
		readmitted = len(back)
		for _, task := range expired {
			if h.deps.Tracker != nil {
				if _, err := h.deps.Tracker.Fail(ctx, task.ID, "resource wait deadline exceeded"); err != nil {
					log.WithError(err).Warnf("failed to fail expired task %s", task.ID)
				}
			}
			if err := h.deps.Queue.DeadLetter(ctx, task, "resource wait deadline exceeded", "resource"); err != nil {
				log.WithError(err).Warnf("failed to dead letter expired task %s", task.ID)
			}
		}
	}
	spawned := 0
	if h.deps.Pool != nil {
		spawned = h.deps.Pool.RequestWorkers(ctx, 1)
	}
	if readmitted == 0 && spawned == 0 {
		return "restart queue processing", fmt.Errorf("nothing to restart: no parked tasks, no worker capacity")
	}
	return fmt.Sprintf("readmitted %d parked tasks, added %d workers", readmitted, spawned), nil
}

func (h *Healer) throttlePool(ctx context.Context, issue Issue) (string, error) {
	if h.deps.Pool == nil {
		return "", fmt.Errorf("no worker pool wired")
	}
	h.deps.Pool.Throttle(throttleWindow)
	return fmt.Sprintf("scale-up throttled for %s", throttleWindow), nil
}

func (h *Healer) reclaimMemory(ctx context.Context, issue Issue) (string, error) {
	pruned := 0
	if h.deps.Tracker != nil {
		pruned = h.deps.Tracker.PruneTerminal(pruneAge)
	}
	runtime.GC()
	debug.FreeOSMemory()
	return fmt.Sprintf("forced GC, pruned %d terminal progress records", pruned), nil
}

func (h *Healer) cleanupStorage(ctx context.Context, issue Issue) (string, error) {
	pruned := 0
	if h.deps.Tracker != nil {
		pruned = h.deps.Tracker.PruneTerminal(pruneAge)
	}
	if h.deps.Store != nil {
		if err := h.deps.Store.ListTrim(ctx, queue.DeadLetterKey, -int64(deadLetterKeepLast), -1); err != nil {
			return "trim dead letter queue", err
		}
	}
	return fmt.Sprintf("pruned %d progress records, trimmed dead letters to last %d", pruned, deadLetterKeepLast), nil
}

func (h *Healer) reloadTemplates(ctx context.Context, issue Issue) (string, error) {
	if h.deps.Registry == nil {
		return "", fmt.Errorf("no template registry wired")
	}
	dirs := config.GetTemplateDirs()
	if len(dirs) == 0 {
		return "reload templates", fmt.Errorf("no template directories configured")
	}
	if err := h.deps.Registry.LoadDirs(dirs); err != nil {
		return "reload templates", err
	}
	if h.deps.Registry.Count() == 0 {
		return "reload templates", fmt.Errorf("no templates found under %v", dirs)
	}
	return fmt.Sprintf("reloaded %d templates", h.deps.Registry.Count()), nil
}

func (h *Healer) probeConnectivity(ctx context.Context, issue Issue) (string, error) {
	if h.deps.Store == nil {
		return "", fmt.Errorf("no store wired")
	}
	if err := h.pingStore(ctx); err != nil {
		return "store connectivity probe", err
	}
	return "store connectivity restored", nil
}
