// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package faults

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(opType OperationType, taskID string, params map[string]interface{}) Operation {
	return Operation{Type: opType, TaskID: taskID, Params: params, At: time.Now()}
}

func TestCompensateRunsInReverseOrder(t *testing.T) {
	c := NewCompensator()
	var order []OperationType
	for _, opType := range []OperationType{OpFileUpload, OpResourceAllocation, OpModelLoading} {
		opType := opType
		c.Register(opType, func(context.Context, Operation) error {
			order = append(order, opType)
			return nil
		})
	}

	ops := []Operation{
		op(OpFileUpload, "task-1", nil),
		op(OpResourceAllocation, "task-1", nil),
		op(OpModelLoading, "task-1", nil),
	}
	results := c.Compensate(context.Background(), ops, stderrors.New("boom"))

	require.Len(t, results, 3)
	assert.Equal(t, []OperationType{OpModelLoading, OpResourceAllocation, OpFileUpload}, order,
		"undo happens newest first")
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Empty(t, c.FailedCompensations())
}

func TestCompensateIsBestEffort(t *testing.T) {
	c := NewCompensator()
	c.Register(OpFileUpload, func(context.Context, Operation) error { return nil })
	c.Register(OpResourceAllocation, func(context.Context, Operation) error {
		return stderrors.New("ledger unreachable")
	})
	c.Register(OpModelLoading, func(context.Context, Operation) error { return nil })

	ops := []Operation{
		op(OpFileUpload, "task-1", nil),
		op(OpResourceAllocation, "task-1", nil),
		op(OpModelLoading, "task-1", nil),
	}
	results := c.Compensate(context.Background(), ops, stderrors.New("original failure"))

	require.Len(t, results, 3, "one failing undo does not stop the rest")
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "ledger unreachable")
	assert.True(t, results[2].Success)

	failed := c.FailedCompensations()
	require.Len(t, failed, 1)
	assert.Equal(t, OpResourceAllocation, failed[0].Operation.Type)
	assert.Equal(t, "original failure", failed[0].OriginalError)
	assert.Contains(t, failed[0].CompensationError, "ledger unreachable")
}

func TestCompensateMissingHandler(t *testing.T) {
	c := NewCompensator()

	results := c.Compensate(context.Background(),
		[]Operation{op(OpDatabaseWrite, "task-1", nil)}, nil)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "no compensation handler")
	assert.Len(t, c.FailedCompensations(), 1)
}

func TestFileCleanupHandler(t *testing.T) {
	handler := FileCleanupHandler()
	path := filepath.Join(t.TempDir(), "upload.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))

	err := handler(context.Background(), op(OpFileUpload, "task-1",
		map[string]interface{}{"path": path}))
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	assert.NoError(t, handler(context.Background(), op(OpFileUpload, "task-1",
		map[string]interface{}{"path": path})), "already-gone file counts as compensated")

	assert.Error(t, handler(context.Background(), op(OpFileUpload, "task-1", nil)),
		"missing path parameter is an error")
}

func TestOutputCleanupHandlerRemovesAll(t *testing.T) {
	handler := OutputCleanupHandler()
	dir := t.TempDir()
	first := filepath.Join(dir, "frame_0001.png")
	second := filepath.Join(dir, "frame_0002.png")
	require.NoError(t, os.WriteFile(first, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("b"), 0o644))

	err := handler(context.Background(), op(OpOutputGeneration, "task-1",
		map[string]interface{}{"paths": []interface{}{first, second}}))
	require.NoError(t, err)
	_, statErr := os.Stat(first)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(second)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAllocationReleaseHandler(t *testing.T) {
	var released []string
	handler := AllocationReleaseHandler(func(id string) bool {
		released = append(released, id)
		return true
	})

	err := handler(context.Background(), op(OpResourceAllocation, "task-1",
		map[string]interface{}{"allocation_id": "alloc-42"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"alloc-42"}, released)

	assert.Error(t, handler(context.Background(), op(OpResourceAllocation, "task-1", nil)))
}

func TestStoreRollbackHandler(t *testing.T) {
	var deleted []string
	handler := StoreRollbackHandler(func(_ context.Context, key string) error {
		deleted = append(deleted, key)
		return nil
	})

	err := handler(context.Background(), op(OpDatabaseWrite, "task-1",
		map[string]interface{}{"key": "take:proj:shot:3"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"take:proj:shot:3"}, deleted)
}

func TestOperationLogTrackDrain(t *testing.T) {
	logbook := NewOperationLog()

	logbook.Track("task-1", OpResourceAllocation, map[string]interface{}{"allocation_id": "a1"})
	logbook.Track("task-1", OpModelLoading, map[string]interface{}{"model": "sdxl_base"})
	logbook.Track("task-2", OpFileUpload, map[string]interface{}{"path": "/tmp/x"})

	ops := logbook.Drain("task-1")
	require.Len(t, ops, 2)
	assert.Equal(t, OpResourceAllocation, ops[0].Type)
	assert.Equal(t, OpModelLoading, ops[1].Type)
	assert.Empty(t, logbook.Drain("task-1"), "drain empties the record")

	logbook.Discard("task-2")
	assert.Empty(t, logbook.Drain("task-2"))
}
