// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package errors

// Protocol error codes surfaced to callers.
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeResourceNotFound       = "RESOURCE_NOT_FOUND"
	CodeTaskError              = "TASK_ERROR"
	CodeWorkflowExecutionError = "WORKFLOW_EXECUTION_ERROR"
	CodeWorkflowTimeout        = "WORKFLOW_TIMEOUT"
	CodeInsufficientResources  = "INSUFFICIENT_RESOURCES"
	CodeCircuitBreakerOpen     = "CIRCUIT_BREAKER_OPEN"
	CodeDispatchError          = "DISPATCH_ERROR"
)

// NewValidationError reports an input that failed template schema or
// constraint checks. Never retried.
func NewValidationError(message string) *Error {
	return &Error{Message: message, Code: CodeValidationError, Stack: callers()}
}

// NewResourceNotFound reports a missing template, project, task or worker.
func NewResourceNotFound(message string) *Error {
	return &Error{Message: message, Code: CodeResourceNotFound, Stack: callers()}
}

// NewTaskError reports a task-level failure.
func NewTaskError(message string) *Error {
	return &Error{Message: message, Code: CodeTaskError, Stack: callers()}
}

// NewWorkflowExecutionError reports a failure inside worker execution.
func NewWorkflowExecutionError(message string) *Error {
	return &Error{Message: message, Code: CodeWorkflowExecutionError, Stack: callers()}
}

// NewWorkflowTimeout reports a task that exceeded its execution deadline.
func NewWorkflowTimeout(message string) *Error {
	return &Error{Message: message, Code: CodeWorkflowTimeout, Stack: callers()}
}

// NewInsufficientResources reports requirements beyond available capacity.
func NewInsufficientResources(message string) *Error {
	return &Error{Message: message, Code: CodeInsufficientResources, Stack: callers()}
}

// NewCircuitBreakerOpen reports a call rejected by an open breaker.
func NewCircuitBreakerOpen(message string) *Error {
	return &Error{Message: message, Code: CodeCircuitBreakerOpen, Stack: callers()}
}

// NewDispatchError reports a failure while handing a task to a worker.
func NewDispatchError(message string) *Error {
	return &Error{Message: message, Code: CodeDispatchError, Stack: callers()}
}
