// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package worker

import (
	"context"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/utils"
)

// heartbeatInterval paces directory record refreshes; well inside the
// record TTL so a single missed beat never drops a live worker.
const heartbeatInterval = 30 * time.Second

// runLoop is one worker: it claims tasks it can serve, hands them to the
// runner and keeps its own records current. A side goroutine heartbeats the
// directory so liveness holds through long executions.
func (m *Manager) runLoop(h *handle) {
	defer h.tomb.Done()

	beat := utils.NewTomb()
	go m.beatLoop(h, beat)
	defer beat.Stop()

	workerType := h.snapshot().Type
	accept := func(task *model.Task) bool {
		return acceptsCategory(workerType, task.Category)
	}

	for {
		select {
		case <-h.tomb.Stopping():
			return
		default:
		}

		task := m.queue.Claim(accept)
		if task == nil {
			m.markIdle(h)
			select {
			case <-h.tomb.Stopping():
				return
			case <-time.After(m.cfg.ClaimInterval):
			}
			continue
		}
		m.executeClaim(h, task)
	}
}

// beatLoop refreshes the worker's heartbeat and directory record until the
// worker stops.
func (m *Manager) beatLoop(h *handle, tomb *utils.Tomb) {
	defer tomb.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-tomb.Stopping():
			return
		case <-ticker.C:
			h.mu.Lock()
			h.worker.LastHeartbeat = time.Now()
			h.mu.Unlock()
			m.writeRecord(context.Background(), h)
		}
	}
}

// executeClaim runs one claimed task under its timeout and settles the
// worker's counters afterwards.
func (m *Manager) executeClaim(h *handle, task *model.Task) {
	h.mu.Lock()
	h.worker.Status = model.WorkerStatusBusy
	h.worker.CurrentTaskID = task.ID
	h.worker.IdleSince = nil
	h.worker.LastHeartbeat = time.Now()
	workerID := h.worker.ID
	h.mu.Unlock()
	m.reportPopulation()

	ctx, cancel := context.WithTimeout(context.Background(), task.Timeout(m.cfg.DefaultTaskTimeout))
	m.trackRunning(task.ID, cancel)
	err := m.runner.RunTask(ctx, workerID, task)
	m.untrackRunning(task.ID)
	cancel()

	h.mu.Lock()
	h.worker.CurrentTaskID = ""
	h.worker.LastHeartbeat = time.Now()
	if err != nil {
		h.worker.TasksFailed++
	} else {
		h.worker.TasksCompleted++
	}
	if h.worker.Status == model.WorkerStatusBusy {
		h.worker.Status = model.WorkerStatusActive
	}
	h.mu.Unlock()
	m.writeRecord(context.Background(), h)
	m.reportPopulation()

	if err != nil {
		log.WithFields(log.Fields{"worker_id": workerID, "task_id": task.ID}).
			WithError(err).Debug("task run settled with failure")
	}
}

// markIdle transitions an active worker to idle exactly once per idle spell.
func (m *Manager) markIdle(h *handle) {
	h.mu.Lock()
	changed := false
	if h.worker.Status == model.WorkerStatusActive {
		now := time.Now()
		h.worker.Status = model.WorkerStatusIdle
		h.worker.IdleSince = &now
		changed = true
	}
	h.worker.LastHeartbeat = time.Now()
	h.mu.Unlock()
	if changed {
		m.writeRecord(context.Background(), h)
		m.reportPopulation()
	}
}

func (m *Manager) trackRunning(taskID string, cancel context.CancelFunc) {
	m.runningMu.Lock()
	m.running[taskID] = cancel
	m.runningMu.Unlock()
}

func (m *Manager) untrackRunning(taskID string) {
	m.runningMu.Lock()
	delete(m.running, taskID)
	m.runningMu.Unlock()
}
