// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package faults

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
)

// OperationType names a side effect a task performed before failing.
type OperationType string

const (
	OpFileUpload         OperationType = "file_upload"
	OpResourceAllocation OperationType = "resource_allocation"
	OpTaskSubmission     OperationType = "task_submission"
	OpModelLoading       OperationType = "model_loading"
	OpOutputGeneration   OperationType = "output_generation"
	OpDatabaseWrite      OperationType = "database_write"
	OpQueueOperation     OperationType = "queue_operation"
)

// Operation is one recorded side effect, with whatever parameters its
// compensation handler needs to undo it.
type Operation struct {
	Type   OperationType          `json:"type"`
	TaskID string                 `json:"task_id"`
	Params map[string]interface{} `json:"params,omitempty"`
	At     time.Time              `json:"at"`
}

// Handler undoes one operation type.
type Handler func(ctx context.Context, op Operation) error

// CompensationResult reports the outcome for one operation.
type CompensationResult struct {
	Operation Operation `json:"operation"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// FailedCompensation pairs the failure that triggered compensation with the
// compensation's own error, for the operator to clean up by hand.
type FailedCompensation struct {
	Operation         Operation `json:"operation"`
	OriginalError     string    `json:"original_error"`
	CompensationError string    `json:"compensation_error"`
	At                time.Time `json:"at"`
}

// Compensator undoes the recorded side effects of abandoned tasks. Handlers
// run best effort in reverse order of recording; a handler failure is
// captured, never propagated, so one stuck undo cannot block the rest.
type Compensator struct {
	mu       sync.Mutex
	handlers map[OperationType]Handler
	failed   []FailedCompensation
}

func NewCompensator() *Compensator {
	return &Compensator{handlers: make(map[OperationType]Handler)}
}

// Register installs the handler for an operation type, replacing any
// previous one.
func (c *Compensator) Register(opType OperationType, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[opType] = handler
}

// Compensate undoes the operations in reverse order. It always returns a
// result per operation and never an error: failures land in the failed
// compensation record instead.
func (c *Compensator) Compensate(ctx context.Context, ops []Operation, cause error) []CompensationResult {
	results := make([]CompensationResult, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		result := CompensationResult{Operation: op, Success: true}
		if err := c.run(ctx, op); err != nil {
			result.Success = false
			result.Error = err.Error()
			c.recordFailure(op, cause, err)
		}
		results = append(results, result)
	}
	return results
}

func (c *Compensator) run(ctx context.Context, op Operation) error {
	c.mu.Lock()
	handler, ok := c.handlers[op.Type]
	c.mu.Unlock()
	if !ok {
		return errors.Newf("no compensation handler for %s", op.Type)
	}
	if err := handler(ctx, op); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"task_id": op.TaskID,
		"type":    string(op.Type),
	}).Debug("compensated operation")
	return nil
}

func (c *Compensator) recordFailure(op Operation, cause, compErr error) {
	causeMsg := ""
	if cause != nil {
		causeMsg = cause.Error()
	}
	c.mu.Lock()
	c.failed = append(c.failed, FailedCompensation{
		Operation:         op,
		OriginalError:     causeMsg,
		CompensationError: compErr.Error(),
		At:                time.Now(),
	})
	c.mu.Unlock()
	log.WithFields(log.Fields{
		"task_id": op.TaskID,
		"type":    string(op.Type),
		"error":   compErr.Error(),
	}).Error("compensation failed, manual cleanup required")
}

// FailedCompensations returns the record of undos that could not complete.
func (c *Compensator) FailedCompensations() []FailedCompensation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FailedCompensation(nil), c.failed...)
}

// stringParam pulls a string out of an operation's parameter bag.
func stringParam(op Operation, key string) (string, bool) {
	v, ok := op.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func stringsParam(op Operation, key string) []string {
	v, ok := op.Params[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// FileCleanupHandler removes an uploaded file named by the "path" parameter.
// A file that is already gone counts as compensated.
func FileCleanupHandler() Handler {
	return func(_ context.Context, op Operation) error {
		path, ok := stringParam(op, "path")
		if !ok {
			return errors.New("file_upload operation missing path")
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "removing uploaded file")
		}
		return nil
	}
}

// OutputCleanupHandler removes generated output files listed under "paths".
func OutputCleanupHandler() Handler {
	return func(_ context.Context, op Operation) error {
		paths := stringsParam(op, "paths")
		if len(paths) == 0 {
			if p, ok := stringParam(op, "path"); ok {
				paths = []string{p}
			}
		}
		var firstErr error
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = errors.Wrap(err, "removing output file")
			}
		}
		return firstErr
	}
}

// AllocationReleaseHandler returns resources claimed under "allocation_id".
func AllocationReleaseHandler(release func(allocationID string) bool) Handler {
	return func(_ context.Context, op Operation) error {
		id, ok := stringParam(op, "allocation_id")
		if !ok {
			return errors.New("resource_allocation operation missing allocation_id")
		}
		release(id)
		return nil
	}
}

// TaskCancelHandler withdraws a submitted task from the queue.
func TaskCancelHandler(remove func(taskID string) bool) Handler {
	return func(_ context.Context, op Operation) error {
		remove(op.TaskID)
		return nil
	}
}

// ModelUnloadHandler asks the worker runtime to evict a loaded model.
func ModelUnloadHandler(unload func(ctx context.Context, model string) error) Handler {
	return func(ctx context.Context, op Operation) error {
		name, ok := stringParam(op, "model")
		if !ok {
			return errors.New("model_loading operation missing model")
		}
		return unload(ctx, name)
	}
}

// StoreRollbackHandler deletes a record written under "key".
func StoreRollbackHandler(del func(ctx context.Context, key string) error) Handler {
	return func(ctx context.Context, op Operation) error {
		key, ok := stringParam(op, "key")
		if !ok {
			return errors.New("database_write operation missing key")
		}
		return del(ctx, key)
	}
}

// QueueRemoveHandler undoes an auxiliary queue operation for the task.
func QueueRemoveHandler(remove func(taskID string) bool) Handler {
	return func(_ context.Context, op Operation) error {
		remove(op.TaskID)
		return nil
	}
}

// OperationLog records side effects per task as execution progresses, so
// compensation knows what to undo if the task is abandoned.
type OperationLog struct {
	mu  sync.Mutex
	ops map[string][]Operation
}

func NewOperationLog() *OperationLog {
	return &OperationLog{ops: make(map[string][]Operation)}
}

// Track appends an operation to the task's record.
func (l *OperationLog) Track(taskID string, opType OperationType, params map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops[taskID] = append(l.ops[taskID], Operation{
		Type:   opType,
		TaskID: taskID,
		Params: params,
		At:     time.Now(),
	})
}

// Drain removes and returns the task's recorded operations, oldest first.
func (l *OperationLog) Drain(taskID string) []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops := l.ops[taskID]
	delete(l.ops, taskID)
	return ops
}

// Discard drops the record without compensating, used on success.
func (l *OperationLog) Discard(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ops, taskID)
}
