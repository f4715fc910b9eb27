// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package faults

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AMD-AGI/Backlot/pkg/errors"
)

func TestClassifyTypedErrors(t *testing.T) {
	c := NewClassifier()

	cases := []struct {
		name     string
		err      error
		category ErrorCategory
		strategy RecoveryStrategy
		errType  string
	}{
		{"validation code", errors.NewValidationError("prompt is empty"), CategoryValidation, StrategyFailFast, "validation_failed"},
		{"insufficient resources", errors.NewInsufficientResources("no vram"), CategoryResource, StrategyQueueAndWait, "insufficient_resources"},
		{"breaker open", errors.NewCircuitBreakerOpen("comfyui unavailable"), CategoryTransient, StrategyRetryWithBackoff, "circuit_open"},
		{"workflow timeout", errors.NewWorkflowTimeout("exceeded 10m"), CategoryTransient, StrategyRetryWithBackoff, "timeout"},
		{"not found", errors.NewResourceNotFound("template gone"), CategoryPermanent, StrategyDeadLetter, "not_found"},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTransient, StrategyRetryWithBackoff, "timeout"},
		{"wrapped permission", fmt.Errorf("read model dir: %w", os.ErrPermission), CategoryPermanent, StrategyDeadLetter, "permission_denied"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.err)
			assert.Equal(t, tc.category, got.Category)
			assert.Equal(t, tc.strategy, got.Strategy)
			assert.Equal(t, tc.errType, got.Type)
		})
	}
}

func TestClassifyMessagePatterns(t *testing.T) {
	c := NewClassifier()

	cases := []struct {
		message  string
		category ErrorCategory
		errType  string
	}{
		{"connection reset by peer", CategoryTransient, "connection"},
		{"upstream Read Timed Out after 30s", CategoryTransient, "timeout"},
		{"503 service unavailable", CategoryTransient, "unavailable"},
		{"CUDA out of memory. Tried to allocate 2.00 GiB", CategoryResource, "oom"},
		{"no space left on device", CategoryResource, "disk_full"},
		{"hip error: failed vram allocation", CategoryResource, "vram"},
		{"invalid input: width must be positive", CategoryValidation, "invalid_input"},
		{"model sdxl_base not found on any worker", CategoryPermanent, "model_not_found"},
		{"PERMISSION DENIED for bucket renders", CategoryPermanent, "permission_denied"},
	}
	for _, tc := range cases {
		t.Run(tc.errType, func(t *testing.T) {
			got := c.Classify(stderrors.New(tc.message))
			assert.Equal(t, tc.category, got.Category)
			assert.Equal(t, tc.errType, got.Type)
		})
	}
}

func TestClassifyCategoryRouting(t *testing.T) {
	c := NewClassifier()

	transient := c.Classify(stderrors.New("connection refused"))
	assert.True(t, transient.Recoverable)
	assert.Equal(t, SeverityMedium, transient.Severity)

	resource := c.Classify(stderrors.New("out of memory"))
	assert.True(t, resource.Recoverable)
	assert.Equal(t, SeverityHigh, resource.Severity)
	assert.Equal(t, float64(300), resource.WaitTime.Seconds())

	validation := c.Classify(errors.NewValidationError("bad prompt"))
	assert.False(t, validation.Recoverable)
	assert.True(t, validation.NotifyUser)
	assert.Equal(t, SeverityLow, validation.Severity)

	permanent := c.Classify(stderrors.New("operation not implemented"))
	assert.False(t, permanent.Recoverable)
	assert.True(t, permanent.AlertAdmin)
}

func TestClassifyPermissionIsCritical(t *testing.T) {
	c := NewClassifier()

	got := c.Classify(stderrors.New("permission denied on /models"))
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.True(t, got.AlertAdmin)
}

func TestClassifyUnknownFallback(t *testing.T) {
	c := NewClassifier()

	got := c.Classify(stderrors.New("the frobnicator descoped"))
	assert.Equal(t, CategoryUnknown, got.Category)
	assert.Equal(t, StrategyRetryOnce, got.Strategy)
	assert.Equal(t, SeverityMedium, got.Severity)
	assert.False(t, got.Recoverable)
	assert.Equal(t, "unknown", got.Type)
}

func TestClassifyNilError(t *testing.T) {
	c := NewClassifier()

	got := c.Classify(nil)
	assert.Equal(t, CategoryUnknown, got.Category)
	assert.Equal(t, "nil", got.Type)
}
