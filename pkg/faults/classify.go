// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package faults turns raw task failures into routed outcomes: a classifier
// maps errors onto categories, a recovery manager executes the category's
// strategy, a compensator undoes partial side effects when recovery is
// abandoned, and analytics watch the error stream for anomalies.
package faults

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"os"
	"regexp"
	"syscall"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/errors"
)

// ErrorCategory groups failures by how they should be handled.
type ErrorCategory string

const (
	CategoryTransient  ErrorCategory = "transient"
	CategoryResource   ErrorCategory = "resource"
	CategoryValidation ErrorCategory = "validation"
	CategoryPermanent  ErrorCategory = "permanent"
	CategoryUnknown    ErrorCategory = "unknown"
)

// RecoveryStrategy selects what the recovery manager does with a failure.
type RecoveryStrategy string

const (
	StrategyRetryWithBackoff RecoveryStrategy = "retry_with_backoff"
	StrategyQueueAndWait     RecoveryStrategy = "queue_and_wait"
	StrategyFailFast         RecoveryStrategy = "fail_fast"
	StrategyDeadLetter       RecoveryStrategy = "dead_letter"
	StrategyRetryOnce        RecoveryStrategy = "retry_once"
)

// ErrorSeverity grades operator attention.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// Classification is the routing decision for one failure.
type Classification struct {
	Category     ErrorCategory    `json:"category"`
	Strategy     RecoveryStrategy `json:"strategy"`
	Severity     ErrorSeverity    `json:"severity"`
	Recoverable  bool             `json:"recoverable"`
	Type         string           `json:"type"`
	Message      string           `json:"message"`
	NotifyUser   bool             `json:"notify_user,omitempty"`
	AlertAdmin   bool             `json:"alert_admin,omitempty"`
	WaitTime     time.Duration    `json:"wait_time,omitempty"`
	ClassifiedAt time.Time        `json:"classified_at"`
}

// categoryDefaults fills the routing fields implied by a category.
func categoryDefaults(c *Classification) {
	switch c.Category {
	case CategoryTransient:
		c.Strategy = StrategyRetryWithBackoff
		c.Severity = SeverityMedium
		c.Recoverable = true
	case CategoryResource:
		c.Strategy = StrategyQueueAndWait
		c.Severity = SeverityHigh
		c.Recoverable = true
	case CategoryValidation:
		c.Strategy = StrategyFailFast
		c.Severity = SeverityLow
		c.NotifyUser = true
	case CategoryPermanent:
		c.Strategy = StrategyDeadLetter
		c.Severity = SeverityHigh
		c.AlertAdmin = true
	default:
		c.Category = CategoryUnknown
		c.Strategy = StrategyRetryOnce
		c.Severity = SeverityMedium
	}
}

type messagePattern struct {
	label    string
	category ErrorCategory
	severity ErrorSeverity // empty keeps the category default
	re       *regexp.Regexp
}

func compilePatterns() []messagePattern {
	mk := func(label string, category ErrorCategory, severity ErrorSeverity, expr string) messagePattern {
		return messagePattern{label: label, category: category, severity: severity,
			re: regexp.MustCompile(`(?i)` + expr)}
	}
	return []messagePattern{
		// transient
		mk("connection", CategoryTransient, "", `connection (reset|refused|aborted|closed)`),
		mk("timeout", CategoryTransient, "", `(timed? ?out|deadline exceeded)`),
		mk("unavailable", CategoryTransient, "", `(temporarily |service )unavailable`),
		mk("broken_pipe", CategoryTransient, "", `broken pipe`),
		mk("throttled", CategoryTransient, "", `too many requests|rate limit`),
		// resource
		mk("oom", CategoryResource, SeverityHigh, `out of memory|\boom\b|memory exhausted`),
		mk("vram", CategoryResource, SeverityHigh, `(cuda|hip|vram|gpu).{0,40}(memory|alloc)`),
		mk("disk_full", CategoryResource, SeverityHigh, `no space left|disk full`),
		mk("quota", CategoryResource, "", `quota exceeded|resource exhausted|insufficient resources`),
		// validation
		mk("invalid_input", CategoryValidation, "", `invalid (input|value|argument|parameter)`),
		mk("validation_failed", CategoryValidation, "", `validation (failed|error)`),
		mk("missing_field", CategoryValidation, "", `missing required`),
		// permanent
		mk("model_not_found", CategoryPermanent, "", `model.{0,40}not found|checkpoint.{0,40}not found`),
		mk("permission_denied", CategoryPermanent, SeverityCritical, `permission denied|unauthorized|forbidden`),
		mk("unsupported", CategoryPermanent, "", `unsupported|not implemented|no such file`),
	}
}

// Classifier routes errors onto categories. Typed errors win over message
// patterns; unmatched errors are retried once and then treated as permanent.
type Classifier struct {
	patterns []messagePattern
}

// NewClassifier compiles the pattern sets.
func NewClassifier() *Classifier {
	return &Classifier{patterns: compilePatterns()}
}

// Classify inspects an error and returns its routing decision.
func (c *Classifier) Classify(err error) *Classification {
	result := &Classification{ClassifiedAt: time.Now()}
	if err == nil {
		result.Category = CategoryUnknown
		result.Type = "nil"
		categoryDefaults(result)
		return result
	}
	result.Message = err.Error()

	if category, label, ok := classifyTyped(err); ok {
		result.Category = category
		result.Type = label
		categoryDefaults(result)
		c.applyResourceWait(result)
		return result
	}

	for _, p := range c.patterns {
		if p.re.MatchString(result.Message) {
			result.Category = p.category
			result.Type = p.label
			categoryDefaults(result)
			if p.severity != "" {
				result.Severity = p.severity
			}
			if result.Severity == SeverityCritical {
				result.AlertAdmin = true
			}
			c.applyResourceWait(result)
			return result
		}
	}

	result.Category = CategoryUnknown
	result.Type = "unknown"
	categoryDefaults(result)
	return result
}

func (c *Classifier) applyResourceWait(result *Classification) {
	if result.Category == CategoryResource && result.WaitTime == 0 {
		result.WaitTime = 300 * time.Second
	}
}

// classifyTyped maps error types and protocol codes onto categories before
// any message matching runs.
func classifyTyped(err error) (ErrorCategory, string, bool) {
	if typed, ok := errors.AsError(err); ok {
		switch typed.Code {
		case errors.CodeValidationError:
			return CategoryValidation, "validation_failed", true
		case errors.CodeInsufficientResources:
			return CategoryResource, "insufficient_resources", true
		case errors.CodeCircuitBreakerOpen:
			return CategoryTransient, "circuit_open", true
		case errors.CodeWorkflowTimeout:
			return CategoryTransient, "timeout", true
		case errors.CodeResourceNotFound:
			return CategoryPermanent, "not_found", true
		case errors.CodeDispatchError:
			return CategoryTransient, "dispatch", true
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient, "timeout", true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient, "timeout", true
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.EPIPE) {
		return CategoryTransient, "connection", true
	}
	if stderrors.Is(err, os.ErrPermission) {
		return CategoryPermanent, "permission_denied", true
	}
	if stderrors.Is(err, stderrors.ErrUnsupported) {
		return CategoryPermanent, "unsupported", true
	}
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return CategoryValidation, "invalid_input", true
	}
	return "", "", false
}
