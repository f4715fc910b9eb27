// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package faults

import (
	"sync"
	"time"
)

// maxEntriesPerTask bounds how many error records one task can accumulate.
const maxEntriesPerTask = 100

// HistoryEntry is one classified failure and what recovery did about it.
type HistoryEntry struct {
	Classification *Classification `json:"classification"`
	Result         *RecoveryResult `json:"result,omitempty"`
	At             time.Time       `json:"at"`
}

// ErrorHistory is the append-only failure record of a single task.
type ErrorHistory struct {
	TaskID        string         `json:"task_id"`
	Entries       []HistoryEntry `json:"entries"`
	TotalRetries  int            `json:"total_retries"`
	LastErrorTime time.Time      `json:"last_error_time"`
}

// HistoryBook keeps per-task error histories in memory. Entries are capped
// per task; tasks are dropped explicitly when the orchestrator evicts them.
type HistoryBook struct {
	mu    sync.Mutex
	tasks map[string]*ErrorHistory
}

func NewHistoryBook() *HistoryBook {
	return &HistoryBook{tasks: make(map[string]*ErrorHistory)}
}

// Append records a classified failure, and the recovery result once known.
func (b *HistoryBook) Append(taskID string, classification *Classification, result *RecoveryResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	history, ok := b.tasks[taskID]
	if !ok {
		history = &ErrorHistory{TaskID: taskID}
		b.tasks[taskID] = history
	}
	entry := HistoryEntry{Classification: classification, Result: result, At: time.Now()}
	history.Entries = append(history.Entries, entry)
	if len(history.Entries) > maxEntriesPerTask {
		history.Entries = history.Entries[len(history.Entries)-maxEntriesPerTask:]
	}
	history.LastErrorTime = entry.At
	if result != nil && result.Retried() {
		history.TotalRetries++
	}
}

// CountSince reports how many failures the task accumulated within the
// trailing window. The recovery guard refuses further attempts at five
// failures in five minutes.
func (b *HistoryBook) CountSince(taskID string, window time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	history, ok := b.tasks[taskID]
	if !ok {
		return 0
	}
	cutoff := time.Now().Add(-window)
	count := 0
	for i := len(history.Entries) - 1; i >= 0; i-- {
		if history.Entries[i].At.Before(cutoff) {
			break
		}
		count++
	}
	return count
}

// Get returns a copy of the task's history.
func (b *HistoryBook) Get(taskID string) (*ErrorHistory, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	history, ok := b.tasks[taskID]
	if !ok {
		return nil, false
	}
	snapshot := &ErrorHistory{
		TaskID:        history.TaskID,
		Entries:       append([]HistoryEntry(nil), history.Entries...),
		TotalRetries:  history.TotalRetries,
		LastErrorTime: history.LastErrorTime,
	}
	return snapshot, true
}

// Forget drops a task's history, typically after terminal cleanup.
func (b *HistoryBook) Forget(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, taskID)
}

// Size reports how many tasks currently hold history.
func (b *HistoryBook) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}
