// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package faults

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/queue"
)

// Notifier pushes task-level error messages toward the submitting user.
type Notifier interface {
	NotifyError(taskID, message string, severity ErrorSeverity)
}

// Alerter raises operator alerts.
type Alerter interface {
	SendAlert(level ErrorSeverity, message string, details map[string]interface{})
}

// Recovery actions, recorded on RecoveryResult and switched on by callers.
const (
	ActionRetried      = "retried"
	ActionParked       = "parked"
	ActionFailedFast   = "failed_fast"
	ActionDeadLettered = "dead_lettered"
	ActionAbandoned    = "abandoned"
)

// RecoveryResult reports what a recovery attempt did with a failed task.
type RecoveryResult struct {
	Strategy RecoveryStrategy `json:"strategy"`
	Action   string           `json:"action"`
	Success  bool             `json:"success"`
	Reason   string           `json:"reason,omitempty"`
	Delay    time.Duration    `json:"delay,omitempty"`
	At       time.Time        `json:"at"`
}

// Retried reports whether the task went back on the queue with a delay.
func (r *RecoveryResult) Retried() bool { return r.Action == ActionRetried }

// Rescheduled reports whether the task is still alive somewhere in the
// queue. When false the caller must run compensation and fail the task.
func (r *RecoveryResult) Rescheduled() bool {
	return r.Action == ActionRetried || r.Action == ActionParked
}

// RecoveryConfig tunes backoff and the attempt guard.
type RecoveryConfig struct {
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Jitter      float64       `json:"jitter"`
	WaitTime    time.Duration `json:"wait_time"`
	GuardWindow time.Duration `json:"guard_window"`
	GuardLimit  int           `json:"guard_limit"`
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Jitter:      0.1,
		WaitTime:    300 * time.Second,
		GuardWindow: 5 * time.Minute,
		GuardLimit:  5,
	}
}

// RecoveryManager executes the strategy chosen by the classifier. Retries
// never sleep in place: delays are enforced by the queue's delayed set, so
// a stalled worker cannot wedge recovery for everyone else.
type RecoveryManager struct {
	cfg       RecoveryConfig
	queue     *queue.Queue
	history   *HistoryBook
	analytics *Analytics
	notifier  Notifier
	alerter   Alerter
}

func NewRecoveryManager(cfg RecoveryConfig, q *queue.Queue, history *HistoryBook,
	analytics *Analytics, notifier Notifier, alerter Alerter) *RecoveryManager {
	if cfg.GuardLimit <= 0 {
		cfg = DefaultRecoveryConfig()
	}
	return &RecoveryManager{
		cfg:       cfg,
		queue:     q,
		history:   history,
		analytics: analytics,
		notifier:  notifier,
		alerter:   alerter,
	}
}

// Recover applies the classification's strategy to the failed task and
// records the outcome in the task's error history. Success means the
// strategy completed its handling; Rescheduled tells the caller whether
// the task is still alive.
func (m *RecoveryManager) Recover(ctx context.Context, task *model.Task, classification *Classification) *RecoveryResult {
	result := &RecoveryResult{Strategy: classification.Strategy, At: time.Now()}

	if recent := m.history.CountSince(task.ID, m.cfg.GuardWindow); recent >= m.cfg.GuardLimit {
		result.Action = ActionAbandoned
		result.Reason = "recovery_guard"
		log.WithFields(log.Fields{
			"task_id":       task.ID,
			"recent_errors": recent,
			"window":        m.cfg.GuardWindow.String(),
		}).Warn("recovery guard tripped, abandoning task")
	} else {
		switch classification.Strategy {
		case StrategyRetryWithBackoff:
			m.retryWithBackoff(task, classification, result)
		case StrategyQueueAndWait:
			m.queueAndWait(task, classification, result)
		case StrategyFailFast:
			m.failFast(task, classification, result)
		case StrategyDeadLetter:
			m.deadLetter(ctx, task, classification, result)
		case StrategyRetryOnce:
			m.retryOnce(ctx, task, classification, result)
		default:
			result.Action = ActionAbandoned
			result.Reason = "unknown_strategy"
		}
	}

	m.history.Append(task.ID, classification, result)
	if m.analytics != nil {
		m.analytics.RecordRecovery(classification.Category, result.Success)
	}
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	metrics.RecoveryAttempts.Inc(string(classification.Strategy), outcome)
	return result
}

func (m *RecoveryManager) retryWithBackoff(task *model.Task, classification *Classification, result *RecoveryResult) {
	if !task.IsRetryable() {
		result.Action = ActionAbandoned
		result.Reason = "max_retries_exceeded"
		log.WithFields(log.Fields{
			"task_id":     task.ID,
			"retry_count": task.RetryCount,
			"max_retries": task.MaxRetries,
		}).Warn("retry budget exhausted")
		return
	}
	task.RetryCount++
	delay := m.backoffDelay(task.RetryCount)
	task.PreviousError = classification.Message
	task.RetryDelaySec = delay.Seconds()
	m.queue.Requeue(task, delay)

	result.Success = true
	result.Action = ActionRetried
	result.Delay = delay
	log.WithFields(log.Fields{
		"task_id": task.ID,
		"attempt": task.RetryCount,
		"delay":   delay.String(),
	}).Info("task scheduled for retry")
}

func (m *RecoveryManager) queueAndWait(task *model.Task, classification *Classification, result *RecoveryResult) {
	wait := classification.WaitTime
	if wait <= 0 {
		wait = m.cfg.WaitTime
	}
	deadline := time.Now().Add(wait)
	task.PreviousError = classification.Message
	task.WaitUntil = &deadline
	m.queue.Park(task, deadline)

	result.Success = true
	result.Action = ActionParked
	result.Delay = wait
	log.WithFields(log.Fields{
		"task_id":    task.ID,
		"wait_until": deadline.Format(time.RFC3339),
	}).Info("task parked until resources free up")
}

func (m *RecoveryManager) failFast(task *model.Task, classification *Classification, result *RecoveryResult) {
	if classification.NotifyUser && m.notifier != nil {
		m.notifier.NotifyError(task.ID, classification.Message, classification.Severity)
	}
	result.Success = true
	result.Action = ActionFailedFast
	log.WithFields(log.Fields{
		"task_id": task.ID,
		"type":    classification.Type,
	}).Info("task failed fast, no retry")
}

func (m *RecoveryManager) deadLetter(ctx context.Context, task *model.Task, classification *Classification, result *RecoveryResult) {
	if err := m.queue.DeadLetter(ctx, task, classification.Message, string(classification.Category)); err != nil {
		result.Action = ActionAbandoned
		result.Reason = "dead_letter_failed"
		log.WithError(err).WithFields(log.Fields{"task_id": task.ID}).
			Error("failed to dead letter task")
		return
	}
	if classification.AlertAdmin && m.alerter != nil {
		m.alerter.SendAlert(classification.Severity, "task dead lettered", map[string]interface{}{
			"task_id":  task.ID,
			"type":     classification.Type,
			"category": string(classification.Category),
			"error":    classification.Message,
		})
	}
	result.Success = true
	result.Action = ActionDeadLettered
}

// retryOnce gives unclassified failures a single shot, then routes them the
// way permanent errors go.
func (m *RecoveryManager) retryOnce(ctx context.Context, task *model.Task, classification *Classification, result *RecoveryResult) {
	if task.RetryCount >= 1 {
		m.deadLetter(ctx, task, classification, result)
		result.Reason = "retry_once_exhausted"
		return
	}
	task.RetryCount++
	task.PreviousError = classification.Message
	task.RetryDelaySec = m.cfg.BaseDelay.Seconds()
	m.queue.Requeue(task, m.cfg.BaseDelay)

	result.Success = true
	result.Action = ActionRetried
	result.Delay = m.cfg.BaseDelay
	log.WithFields(log.Fields{"task_id": task.ID}).
		Info("unclassified failure, retrying once")
}

// backoffDelay computes base * 2^(attempt-1) capped at MaxDelay, then
// spreads it with +-Jitter to avoid synchronized retry storms.
func (m *RecoveryManager) backoffDelay(attempt int) time.Duration {
	delay := float64(m.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if limit := float64(m.cfg.MaxDelay); delay > limit {
		delay = limit
	}
	delay += m.cfg.Jitter * delay * (2*rand.Float64() - 1)
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
