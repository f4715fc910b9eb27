// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package queue holds tasks between submission and execution. Ordering is by
// priority, FIFO within equal priority. Retried tasks re-enter through a
// delay set, and tasks waiting for capacity park in a separate waiting set
// that never counts toward scaling depth.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/store"
)

// DeadLetterKey is the store list holding dead lettered tasks.
const DeadLetterKey = "queue:dead_letter"

// DeadLetter is one entry in the dead letter list.
type DeadLetter struct {
	Task           *model.Task `json:"task"`
	Reason         string      `json:"reason"`
	Category       string      `json:"category"`
	DeadLetteredAt time.Time   `json:"dead_lettered_at"`
}

// Stats is a point-in-time census of the queue.
type Stats struct {
	Pending  int `json:"pending"`
	Delayed  int `json:"delayed"`
	Waiting  int `json:"waiting"`
	Inflight int `json:"inflight"`
}

type queueItem struct {
	task  *model.Task
	seq   uint64
	index int
}

type delayedItem struct {
	task  *model.Task
	dueAt time.Time
}

type waitingItem struct {
	task     *model.Task
	parkedAt time.Time
	deadline time.Time
}

// Queue is the in-process task queue shared by the orchestrator and the
// worker pool.
type Queue struct {
	mu        sync.Mutex
	pending   taskHeap
	delayed   []delayedItem
	waiting   []waitingItem
	inflight  map[string]*model.Task
	seq       uint64
	completed int
	store     store.Store
}

// New creates an empty queue; s backs the dead letter list.
func New(s store.Store) *Queue {
	q := &Queue{
		inflight: make(map[string]*model.Task),
		store:    s,
	}
	heap.Init(&q.pending)
	return q
}

// Publish makes a task claimable. A task with WaitUntil in the future goes
// to the delay set instead and becomes claimable when it falls due.
func (q *Queue) Publish(task *model.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task.WaitUntil != nil && task.WaitUntil.After(time.Now()) {
		q.delayed = append(q.delayed, delayedItem{task: task, dueAt: *task.WaitUntil})
	} else {
		q.push(task)
	}
	q.report()
}

// Requeue schedules a task to become claimable after delay. Used by retry
// recovery so backoff is enforced by the queue rather than by sleeping.
func (q *Queue) Requeue(task *model.Task, delay time.Duration) {
	dueAt := time.Now().Add(delay)
	task.WaitUntil = &dueAt
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, task.ID)
	if delay <= 0 {
		q.push(task)
	} else {
		q.delayed = append(q.delayed, delayedItem{task: task, dueAt: dueAt})
	}
	q.report()
}

// Claim pops the highest priority due task and marks it inflight. accept
// filters candidates (nil accepts all); tasks the filter rejects stay
// queued. Returns nil when nothing is claimable.
func (q *Queue) Claim(accept func(*model.Task) bool) *model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteDue()

	var skipped []*model.Task
	var claimed *model.Task
	for q.pending.Len() > 0 {
		item := heap.Pop(&q.pending).(*queueItem)
		if accept == nil || accept(item.task) {
			claimed = item.task
			break
		}
		skipped = append(skipped, item.task)
	}
	for _, task := range skipped {
		q.push(task)
	}
	if claimed != nil {
		q.inflight[claimed.ID] = claimed
	}
	q.report()
	return claimed
}

// Peek returns the task Claim would hand out next without claiming it.
func (q *Queue) Peek() *model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteDue()
	if q.pending.Len() == 0 {
		return nil
	}
	return q.pending[0].task
}

// Complete drops a claimed task from the inflight set.
func (q *Queue) Complete(taskID string) {
	q.mu.Lock()
	if _, ok := q.inflight[taskID]; ok {
		delete(q.inflight, taskID)
		q.completed++
	}
	q.report()
	q.mu.Unlock()
}

// Completed reports how many claimed tasks have been acked since startup.
// The self-healing loop derives the processing rate from deltas of this
// counter.
func (q *Queue) Completed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

// Remove pulls a task out of the pending, delayed, or waiting sets. It
// returns false when the task is not held by the queue, which includes
// tasks already claimed by a worker.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.pending {
		if item.task.ID == taskID {
			heap.Remove(&q.pending, i)
			q.report()
			return true
		}
	}
	for i, item := range q.delayed {
		if item.task.ID == taskID {
			q.delayed = append(q.delayed[:i], q.delayed[i+1:]...)
			q.report()
			return true
		}
	}
	for i, item := range q.waiting {
		if item.task.ID == taskID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			q.report()
			return true
		}
	}
	return false
}

// Park moves a task into the waiting set until capacity frees up or the
// deadline passes. Parked tasks do not count toward scaling depth.
func (q *Queue) Park(task *model.Task, deadline time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, task.ID)
	q.waiting = append(q.waiting, waitingItem{task: task, parkedAt: time.Now(), deadline: deadline})
	q.report()
}

// ReapWaiting re-admits parked tasks that canAdmit accepts and expels those
// past their deadline. Expired tasks are returned for the caller to fail.
func (q *Queue) ReapWaiting(canAdmit func(*model.Task) bool) (readmitted, expired []*model.Task) {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	var still []waitingItem
	for _, item := range q.waiting {
		switch {
		case now.After(item.deadline):
			expired = append(expired, item.task)
		case canAdmit == nil || canAdmit(item.task):
			q.push(item.task)
			readmitted = append(readmitted, item.task)
		default:
			still = append(still, item)
		}
	}
	q.waiting = still
	q.report()
	return readmitted, expired
}

// DeadLetter records a task in the store-backed dead letter list.
func (q *Queue) DeadLetter(ctx context.Context, task *model.Task, reason, category string) error {
	q.mu.Lock()
	delete(q.inflight, task.ID)
	q.report()
	q.mu.Unlock()

	entry := DeadLetter{
		Task:           task,
		Reason:         reason,
		Category:       category,
		DeadLetteredAt: time.Now(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := q.store.ListAppend(ctx, DeadLetterKey, string(raw)); err != nil {
		return err
	}
	metrics.DeadLettered.Inc(category)
	log.WithFields(log.Fields{"task_id": task.ID, "reason": reason}).Warn("task dead lettered")
	return nil
}

// DeadLetters reads the most recent limit entries, newest last.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.store.ListRange(ctx, DeadLetterKey, -limit, -1)
	if err != nil {
		return nil, err
	}
	entries := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var entry DeadLetter
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Warnf("skipping malformed dead letter entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Depth counts tasks that are claimable now or due soon. The waiting set is
// excluded so parked tasks cannot trigger scale-up they would not use.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteDue()
	return q.pending.Len() + len(q.delayed)
}

// Snapshot reports per-set counts.
func (q *Queue) Snapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteDue()
	return Stats{
		Pending:  q.pending.Len(),
		Delayed:  len(q.delayed),
		Waiting:  len(q.waiting),
		Inflight: len(q.inflight),
	}
}

// push requires q.mu.
func (q *Queue) push(task *model.Task) {
	q.seq++
	heap.Push(&q.pending, &queueItem{task: task, seq: q.seq})
}

// promoteDue requires q.mu.
func (q *Queue) promoteDue() {
	now := time.Now()
	var still []delayedItem
	for _, item := range q.delayed {
		if item.dueAt.After(now) {
			still = append(still, item)
		} else {
			q.push(item.task)
		}
	}
	q.delayed = still
}

// report requires q.mu.
func (q *Queue) report() {
	metrics.QueueDepth.Set(float64(q.pending.Len()), "pending")
	metrics.QueueDepth.Set(float64(len(q.delayed)), "delayed")
	metrics.QueueDepth.Set(float64(len(q.waiting)), "waiting")
	metrics.QueueDepth.Set(float64(len(q.inflight)), "inflight")
}

// taskHeap orders by priority descending, then submission order.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
