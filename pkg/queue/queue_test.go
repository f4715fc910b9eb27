// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/store"
)

func newTask(id string, priority int) *model.Task {
	return &model.Task{ID: id, TemplateID: "image_gen", Priority: priority, CreatedAt: time.Now()}
}

func TestClaimOrdering(t *testing.T) {
	q := New(store.NewMemoryStore())
	q.Publish(newTask("low", 1))
	q.Publish(newTask("high", 10))
	q.Publish(newTask("mid-a", 5))
	q.Publish(newTask("mid-b", 5))

	var got []string
	for task := q.Claim(nil); task != nil; task = q.Claim(nil) {
		got = append(got, task.ID)
	}
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, got)
}

func TestClaimFilterLeavesRejected(t *testing.T) {
	q := New(store.NewMemoryStore())
	gpu := newTask("gpu-task", 5)
	gpu.Category = "video"
	cpu := newTask("cpu-task", 5)
	cpu.Category = "text"
	q.Publish(gpu)
	q.Publish(cpu)

	claimed := q.Claim(func(task *model.Task) bool { return task.Category == "text" })
	require.NotNil(t, claimed)
	assert.Equal(t, "cpu-task", claimed.ID)

	stats := q.Snapshot()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Inflight)
}

func TestRequeueDelays(t *testing.T) {
	q := New(store.NewMemoryStore())
	task := newTask("retry-me", 5)
	q.Publish(task)
	require.NotNil(t, q.Claim(nil))

	q.Requeue(task, 50*time.Millisecond)
	assert.Nil(t, q.Claim(nil))
	assert.Equal(t, 1, q.Depth())

	time.Sleep(60 * time.Millisecond)
	claimed := q.Claim(nil)
	require.NotNil(t, claimed)
	assert.Equal(t, "retry-me", claimed.ID)
}

func TestRemove(t *testing.T) {
	q := New(store.NewMemoryStore())
	task := newTask("t1", 5)
	q.Publish(task)

	assert.True(t, q.Remove("t1"))
	assert.False(t, q.Remove("t1"))
	assert.Nil(t, q.Claim(nil))

	// Claimed tasks are not removable; cancellation is cooperative.
	task2 := newTask("t2", 5)
	q.Publish(task2)
	require.NotNil(t, q.Claim(nil))
	assert.False(t, q.Remove("t2"))
}

func TestParkAndReap(t *testing.T) {
	q := New(store.NewMemoryStore())
	waiting := newTask("starved", 5)
	q.Park(waiting, time.Now().Add(time.Hour))

	assert.Equal(t, 0, q.Depth(), "parked tasks do not count toward depth")

	readmitted, expired := q.ReapWaiting(func(*model.Task) bool { return false })
	assert.Empty(t, readmitted)
	assert.Empty(t, expired)

	readmitted, expired = q.ReapWaiting(func(*model.Task) bool { return true })
	require.Len(t, readmitted, 1)
	assert.Empty(t, expired)
	assert.Equal(t, "starved", readmitted[0].ID)
	assert.Equal(t, 1, q.Depth())
}

func TestReapExpiresPastDeadline(t *testing.T) {
	q := New(store.NewMemoryStore())
	task := newTask("too-late", 5)
	q.Park(task, time.Now().Add(-time.Second))

	readmitted, expired := q.ReapWaiting(func(*model.Task) bool { return true })
	assert.Empty(t, readmitted)
	require.Len(t, expired, 1)
	assert.Equal(t, "too-late", expired[0].ID)
}

func TestDeadLetterRoundTrip(t *testing.T) {
	q := New(store.NewMemoryStore())
	ctx := context.Background()
	task := newTask("doomed", 5)
	task.RetryCount = 3

	require.NoError(t, q.DeadLetter(ctx, task, "max retries exceeded", "validation"))

	entries, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doomed", entries[0].Task.ID)
	assert.Equal(t, "max retries exceeded", entries[0].Reason)
	assert.Equal(t, "validation", entries[0].Category)
	assert.False(t, entries[0].DeadLetteredAt.IsZero())
}

func TestSnapshotCounts(t *testing.T) {
	q := New(store.NewMemoryStore())
	q.Publish(newTask("a", 1))
	require.NotNil(t, q.Claim(nil))
	q.Publish(newTask("b", 1))
	q.Requeue(newTask("c", 1), time.Minute)
	q.Park(newTask("d", 1), time.Now().Add(time.Minute))

	stats := q.Snapshot()
	assert.Equal(t, Stats{Pending: 1, Delayed: 1, Waiting: 1, Inflight: 1}, stats)
}
