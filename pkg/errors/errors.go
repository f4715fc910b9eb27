// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is the typed failure every component boundary converts to. It carries
// the protocol code, a human-readable message, structured details for the
// caller-facing payload, the wrapped cause, and the stack captured at
// construction.
type Error struct {
	Stack      []runtime.Frame
	InnerError error
	Code       string
	Message    string
	Details    map[string]interface{}
}

// New creates an Error with the stack captured at the call site.
func New(message string) *Error {
	return &Error{
		Message: message,
		Stack:   callers(),
	}
}

// Newf creates an Error with a formatted message.
func Newf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Stack:   callers(),
	}
}

// Wrap creates an Error around an underlying cause.
func Wrap(err error, message string) *Error {
	return &Error{
		Message:    message,
		InnerError: err,
		Stack:      callers(),
	}
}

func (e *Error) Error() string {
	if e.InnerError == nil {
		return fmt.Sprintf("code %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("code %s: %s: %s", e.Code, e.Message, e.InnerError.Error())
}

func (e *Error) Unwrap() error {
	return e.InnerError
}

// GetTopStackString returns the top frame of the stack trace as
// "file:line function" with the package path stripped from the function name.
func (e *Error) GetTopStackString() string {
	if len(e.Stack) == 0 {
		return ""
	}
	frame := e.Stack[0]
	return fmt.Sprintf("%s:%d %s", frame.File, frame.Line, shortFuncName(frame.Function))
}

// GetStackString returns the complete stack trace, one frame per line.
func (e *Error) GetStackString() string {
	result := ""
	for _, frame := range e.Stack {
		result = fmt.Sprintf("%s%s:%d %s\n", result, frame.File, frame.Line, shortFuncName(frame.Function))
	}
	return result
}

// WithCode sets the error code and returns the Error for chaining.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithMessage sets the error message and returns the Error for chaining.
func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

// WithMessagef sets a formatted error message and returns the Error for chaining.
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// WithError sets the inner error and returns the Error for chaining.
func (e *Error) WithError(err error) *Error {
	e.InnerError = err
	return e
}

// WithDetail attaches one structured detail and returns the Error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// WithDetails merges the given details and returns the Error for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e = e.WithDetail(k, v)
	}
	return e
}

func shortFuncName(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) > 0 {
		name = parts[len(parts)-1]
	}
	return name
}

func callers() []runtime.Frame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var stack []runtime.Frame
	for {
		frame, more := frames.Next()
		stack = append(stack, frame)
		if !more {
			break
		}
	}
	return stack
}

// AsError unwraps err down to the first *Error, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the protocol code carried by err, or empty when err carries none.
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given protocol code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
