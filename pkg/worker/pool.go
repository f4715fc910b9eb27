// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AMD-AGI/Backlot/pkg/config"
	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/queue"
	"github.com/AMD-AGI/Backlot/pkg/resource"
	"github.com/AMD-AGI/Backlot/pkg/utils"
)

// TaskRunner executes one claimed task end to end and owns the queue
// bookkeeping for the claim (complete, requeue, park or dead-letter). A
// non-nil error counts against the worker's failure ratio.
type TaskRunner interface {
	RunTask(ctx context.Context, workerID string, task *model.Task) error
}

// Config tunes the pool manager.
type Config struct {
	MinWorkers          int
	MaxWorkers          int
	ScaleUpThreshold    float64
	ScaleDownThreshold  float64
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	ScalingInterval     time.Duration
	// StaleAfter marks a worker failed when its heartbeat is older. Zero
	// derives 2x the health interval, floored at two minutes.
	StaleAfter time.Duration
	// ClaimInterval paces empty queue polls.
	ClaimInterval time.Duration
	// DefaultTaskTimeout bounds tasks that carry no timeout of their own.
	DefaultTaskTimeout time.Duration
	// TerminateGrace bounds how long a graceful terminate waits for the
	// current task before cancelling it.
	TerminateGrace time.Duration
}

// ConfigFromGlobal reads the pool settings from the process configuration.
func ConfigFromGlobal() Config {
	return Config{
		MinWorkers:          config.GetPoolMinWorkers(),
		MaxWorkers:          config.GetPoolMaxWorkers(),
		ScaleUpThreshold:    config.GetPoolScaleUpThreshold(),
		ScaleDownThreshold:  config.GetPoolScaleDownThreshold(),
		IdleTimeout:         config.GetPoolIdleTimeout(),
		HealthCheckInterval: config.GetPoolHealthCheckInterval(),
		ScalingInterval:     config.GetPoolScalingInterval(),
		DefaultTaskTimeout:  config.GetTaskDefaultTimeout(),
	}
}

func (c *Config) normalize() {
	if c.MinWorkers < 0 {
		c.MinWorkers = 0
	}
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 1
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.ScalingInterval <= 0 {
		c.ScalingInterval = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * c.HealthCheckInterval
		if c.StaleAfter < 2*time.Minute {
			c.StaleAfter = 2 * time.Minute
		}
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 200 * time.Millisecond
	}
	if c.DefaultTaskTimeout <= 0 {
		c.DefaultTaskTimeout = 10 * time.Minute
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = 30 * time.Second
	}
}

// handle pairs a worker record with its runtime lifecycle. The record is
// mutated only under mu.
type handle struct {
	mu     sync.Mutex
	worker *model.Worker
	alloc  *resource.Allocation
	tomb   *utils.Tomb
}

// snapshot copies the worker record for callers outside the pool.
func (h *handle) snapshot() *model.Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := *h.worker
	return &w
}

// Manager owns the worker fleet: admission through the ledger, the shared
// directory records, autoscaling and liveness policing.
type Manager struct {
	cfg       Config
	ledger    *resource.Ledger
	queue     *queue.Queue
	directory *Directory
	runner    TaskRunner

	mu            sync.RWMutex
	workers       map[string]*handle
	started       bool
	throttleUntil time.Time

	runningMu sync.Mutex
	running   map[string]context.CancelFunc

	scalingTomb *utils.Tomb
	healthTomb  *utils.Tomb
}

// NewManager wires a pool manager. Workers are not spawned until Start.
func NewManager(cfg Config, ledger *resource.Ledger, q *queue.Queue, directory *Directory, runner TaskRunner) *Manager {
	cfg.normalize()
	return &Manager{
		cfg:       cfg,
		ledger:    ledger,
		queue:     q,
		directory: directory,
		runner:    runner,
		workers:   make(map[string]*handle),
		running:   make(map[string]context.CancelFunc),
	}
}

// Start spawns the minimum population and launches the scaling and health
// loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.scalingTomb = utils.NewTomb()
	m.healthTomb = utils.NewTomb()
	m.mu.Unlock()

	for i := 0; i < m.cfg.MinWorkers; i++ {
		if _, err := m.Spawn(ctx, model.WorkerTypeGeneral); err != nil {
			log.WithError(err).Warnf("failed to spawn initial worker %d/%d", i+1, m.cfg.MinWorkers)
		}
	}

	go m.scalingLoop()
	go m.healthLoop()
	log.Infof("worker pool started: min=%d max=%d", m.cfg.MinWorkers, m.cfg.MaxWorkers)
	return nil
}

// Stop halts the loops and terminates every worker, waiting for running
// tasks up to the terminate grace.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	scaling, health := m.scalingTomb, m.healthTomb
	m.mu.Unlock()

	scaling.Stop()
	health.Stop()

	for _, w := range m.Workers() {
		if err := m.Terminate(ctx, w.ID, true); err != nil {
			log.WithError(err).Warnf("failed to terminate worker %s on shutdown", w.ID)
		}
	}
	log.Info("worker pool stopped")
}

// Spawn admits and starts one worker of the given type.
func (m *Manager) Spawn(ctx context.Context, workerType model.WorkerType) (*model.Worker, error) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil, errors.NewTaskError("worker pool is not running")
	}
	if len(m.workers) >= m.cfg.MaxWorkers {
		m.mu.Unlock()
		return nil, errors.NewInsufficientResources("worker pool at capacity").
			WithDetail("max_workers", m.cfg.MaxWorkers)
	}
	m.mu.Unlock()

	if !m.ledger.CanAdmit(workerType) {
		return nil, errors.NewInsufficientResources("insufficient capacity for worker").
			WithDetail("worker_type", string(workerType))
	}
	alloc, err := m.ledger.Allocate(workerType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	w := &model.Worker{
		ID:            uuid.NewString(),
		Type:          workerType,
		Status:        model.WorkerStatusStarting,
		Resources:     resource.RequirementsFor(workerType),
		AllocationID:  alloc.ID,
		Queues:        queuesFor(workerType),
		LastHeartbeat: now,
		StartedAt:     now,
	}
	if err := m.directory.Register(ctx, w); err != nil {
		m.ledger.Release(alloc)
		return nil, err
	}

	h := &handle{worker: w, alloc: alloc, tomb: utils.NewTomb()}

	m.mu.Lock()
	if !m.started || len(m.workers) >= m.cfg.MaxWorkers {
		m.mu.Unlock()
		m.ledger.Release(alloc)
		if err := m.directory.Unregister(ctx, w.ID); err != nil {
			log.WithError(err).Warnf("failed to unregister worker %s", w.ID)
		}
		return nil, errors.NewInsufficientResources("worker pool at capacity").
			WithDetail("max_workers", m.cfg.MaxWorkers)
	}
	m.workers[w.ID] = h
	m.mu.Unlock()

	h.mu.Lock()
	h.worker.Status = model.WorkerStatusActive
	h.mu.Unlock()
	m.writeRecord(ctx, h)

	go m.runLoop(h)
	m.reportPopulation()
	log.WithFields(log.Fields{"worker_id": w.ID, "worker_type": workerType}).
		Info("worker spawned")
	return h.snapshot(), nil
}

// Terminate stops one worker. Graceful termination waits for the current
// task up to the terminate grace; forced termination cancels it first.
func (m *Manager) Terminate(ctx context.Context, workerID string, graceful bool) error {
	m.mu.Lock()
	h, ok := m.workers[workerID]
	if ok {
		delete(m.workers, workerID)
	}
	m.mu.Unlock()
	if !ok {
		return errors.NewResourceNotFound("worker not found").
			WithDetail("worker_id", workerID)
	}

	h.mu.Lock()
	h.worker.Status = model.WorkerStatusStopping
	current := h.worker.CurrentTaskID
	h.mu.Unlock()
	m.writeRecord(ctx, h)

	if graceful {
		stopped := make(chan struct{})
		go func() {
			h.tomb.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(m.cfg.TerminateGrace):
			log.Warnf("worker %s exceeded terminate grace, cancelling task %s", workerID, current)
			m.CancelTask(current)
			<-stopped
		}
	} else {
		m.CancelTask(current)
		h.tomb.Stop()
	}

	if err := m.directory.Unregister(ctx, workerID); err != nil {
		log.WithError(err).Warnf("failed to unregister worker %s", workerID)
	}
	m.ledger.Release(h.alloc)
	m.reportPopulation()
	log.WithFields(log.Fields{"worker_id": workerID, "graceful": graceful}).
		Info("worker terminated")
	return nil
}

// RestartWorker replaces a misbehaving worker with a fresh one of the same
// type. Graceful first; the terminate grace forces it if needed.
func (m *Manager) RestartWorker(ctx context.Context, workerID string) error {
	m.mu.RLock()
	h, ok := m.workers[workerID]
	m.mu.RUnlock()
	if !ok {
		return errors.NewResourceNotFound("worker not found").
			WithDetail("worker_id", workerID)
	}
	workerType := h.snapshot().Type
	if err := m.Terminate(ctx, workerID, true); err != nil {
		return err
	}
	_, err := m.Spawn(ctx, workerType)
	return err
}

// RequestWorkers spawns up to count additional general workers, bounded by
// max_workers and the ledger. Returns how many were started.
func (m *Manager) RequestWorkers(ctx context.Context, count int) int {
	spawned := 0
	for i := 0; i < count; i++ {
		if _, err := m.Spawn(ctx, model.WorkerTypeGeneral); err != nil {
			log.WithError(err).Debug("additional worker request refused")
			break
		}
		spawned++
	}
	return spawned
}

// Throttle suspends scale-up decisions until d elapses. Scale-down and the
// health loop keep running. The self-healing loop uses this to shed load
// under CPU pressure.
func (m *Manager) Throttle(d time.Duration) {
	m.mu.Lock()
	m.throttleUntil = time.Now().Add(d)
	m.mu.Unlock()
	log.Warnf("worker pool scale-up throttled for %s", d)
}

// Throttled reports whether a throttle window is in effect.
func (m *Manager) Throttled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Now().Before(m.throttleUntil)
}

// CancelTask cancels the execution context of a running task. Returns false
// when no worker is executing it.
func (m *Manager) CancelTask(taskID string) bool {
	if taskID == "" {
		return false
	}
	m.runningMu.Lock()
	cancel, ok := m.running[taskID]
	m.runningMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Workers snapshots the fleet.
func (m *Manager) Workers() []*model.Worker {
	m.mu.RLock()
	handles := make([]*handle, 0, len(m.workers))
	for _, h := range m.workers {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	out := make([]*model.Worker, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Worker returns a snapshot of one pool member.
func (m *Manager) Worker(workerID string) (*model.Worker, bool) {
	m.mu.RLock()
	h, ok := m.workers[workerID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return h.snapshot(), true
}

// scalingLoop adjusts the population against queue pressure.
func (m *Manager) scalingLoop() {
	defer m.scalingTomb.Done()
	ticker := time.NewTicker(m.cfg.ScalingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.scalingTomb.Stopping():
			return
		case <-ticker.C:
			m.scaleOnce(context.Background())
		}
	}
}

// scaleOnce applies one scaling decision: grow by one on pressure, shrink
// by one on sustained idleness. Pressure counts claimed-but-unfinished work
// so busy workers holding tasks still register as load.
func (m *Manager) scaleOnce(ctx context.Context) {
	stats := m.queue.Snapshot()
	depth := stats.Pending + stats.Delayed + stats.Inflight
	workers := m.Workers()

	schedulable := 0
	var idle []*model.Worker
	for _, w := range workers {
		if w.Status.IsSchedulable() {
			schedulable++
		}
		if w.Status == model.WorkerStatusIdle && w.IdleSince != nil {
			idle = append(idle, w)
		}
	}

	if float64(depth) > m.cfg.ScaleUpThreshold*float64(schedulable) && len(workers) < m.cfg.MaxWorkers {
		if m.Throttled() {
			log.Debug("scale up suppressed: pool throttled")
			return
		}
		preferred := model.WorkerTypeGeneral
		if head := m.queue.Peek(); head != nil {
			preferred = TypeForCategory(head.Category)
		}
		if _, err := m.Spawn(ctx, preferred); err != nil {
			if preferred == model.WorkerTypeGeneral {
				log.WithError(err).Debug("scale up refused")
				return
			}
			// fall back to the general profile when the preferred type
			// does not fit the remaining capacity
			if _, err := m.Spawn(ctx, model.WorkerTypeGeneral); err != nil {
				log.WithError(err).Debug("scale up refused")
			}
		}
		return
	}

	if len(idle) > 0 && float64(depth) <= m.cfg.ScaleDownThreshold && schedulable > m.cfg.MinWorkers {
		sort.Slice(idle, func(i, j int) bool { return idle[i].IdleSince.Before(*idle[j].IdleSince) })
		oldest := idle[0]
		if time.Since(*oldest.IdleSince) >= m.cfg.IdleTimeout {
			if err := m.Terminate(ctx, oldest.ID, true); err != nil {
				log.WithError(err).Warnf("failed to scale down worker %s", oldest.ID)
			}
		}
	}
}

// healthLoop polices worker liveness and failure ratios.
func (m *Manager) healthLoop() {
	defer m.healthTomb.Done()
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.healthTomb.Stopping():
			return
		case <-ticker.C:
			m.healthCheckOnce(context.Background())
		}
	}
}

// healthCheckOnce marks stale or chronically failing workers failed,
// force-terminates them and backfills below the minimum population.
func (m *Manager) healthCheckOnce(ctx context.Context) {
	now := time.Now()
	for _, w := range m.Workers() {
		if w.Status == model.WorkerStatusStopping || w.Status == model.WorkerStatusStarting {
			continue
		}
		reason := ""
		total := w.TasksCompleted + w.TasksFailed
		switch {
		case now.Sub(w.LastHeartbeat) > m.cfg.StaleAfter:
			reason = "heartbeat stale"
		case total >= 10 && w.FailureRatio() > 0.5:
			reason = "failure ratio exceeded"
		}
		if reason == "" {
			continue
		}

		log.WithFields(log.Fields{
			"worker_id": w.ID,
			"reason":    reason,
			"completed": w.TasksCompleted,
			"failed":    w.TasksFailed,
		}).Warn("worker marked failed")
		m.markFailed(ctx, w.ID)
		if err := m.Terminate(ctx, w.ID, false); err != nil {
			log.WithError(err).Warnf("failed to terminate failed worker %s", w.ID)
		}
	}

	m.ensureMinimum(ctx)
}

// ensureMinimum backfills the population after failures or refused spawns.
func (m *Manager) ensureMinimum(ctx context.Context) {
	m.mu.RLock()
	if !m.started {
		m.mu.RUnlock()
		return
	}
	deficit := m.cfg.MinWorkers - len(m.workers)
	m.mu.RUnlock()
	for i := 0; i < deficit; i++ {
		if _, err := m.Spawn(ctx, model.WorkerTypeGeneral); err != nil {
			log.WithError(err).Warn("failed to backfill worker pool minimum")
			return
		}
	}
}

// markFailed flips a worker's record to failed before termination so the
// directory reflects why the record disappears.
func (m *Manager) markFailed(ctx context.Context, workerID string) {
	m.mu.RLock()
	h, ok := m.workers[workerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.worker.Status = model.WorkerStatusFailed
	h.mu.Unlock()
	m.writeRecord(ctx, h)
	m.reportPopulation()
}

// writeRecord pushes the worker's current state into the directory.
func (m *Manager) writeRecord(ctx context.Context, h *handle) {
	if err := m.directory.Heartbeat(ctx, h.snapshot()); err != nil {
		log.WithError(err).Debugf("failed to write worker record")
	}
}

// reportPopulation mirrors per-status worker counts into the gauge.
func (m *Manager) reportPopulation() {
	counts := map[model.WorkerStatus]int{
		model.WorkerStatusStarting: 0,
		model.WorkerStatusActive:   0,
		model.WorkerStatusIdle:     0,
		model.WorkerStatusBusy:     0,
		model.WorkerStatusStopping: 0,
		model.WorkerStatusFailed:   0,
	}
	m.mu.RLock()
	for _, h := range m.workers {
		h.mu.Lock()
		counts[h.worker.Status]++
		h.mu.Unlock()
	}
	m.mu.RUnlock()
	for status, n := range counts {
		metrics.WorkerPopulation.Set(float64(n), string(status))
	}
}

// queuesFor names the logical queues a worker type drains; informational,
// surfaced through the directory for operators.
func queuesFor(workerType model.WorkerType) []string {
	switch workerType {
	case model.WorkerTypeGPU:
		return []string{"image", "video", "audio"}
	case model.WorkerTypeCPU:
		return []string{"text", "default"}
	case model.WorkerTypeIO:
		return []string{"io"}
	default:
		return []string{"default"}
	}
}

// acceptsCategory decides whether a worker type claims tasks of a category.
// General and IO profiles take anything; GPU profiles keep themselves for
// media work; CPU profiles avoid it.
func acceptsCategory(workerType model.WorkerType, category string) bool {
	switch workerType {
	case model.WorkerTypeGPU:
		return category == "image" || category == "video" || category == "audio" || category == ""
	case model.WorkerTypeCPU:
		return category != "image" && category != "video" && category != "audio"
	default:
		return true
	}
}

// TypeForCategory picks the worker profile that suits a task category.
func TypeForCategory(category string) model.WorkerType {
	switch category {
	case "image", "video", "audio":
		return model.WorkerTypeGPU
	case "text":
		return model.WorkerTypeCPU
	default:
		return model.WorkerTypeGeneral
	}
}
