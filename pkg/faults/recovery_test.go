// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package faults

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/queue"
	"github.com/AMD-AGI/Backlot/pkg/store"
)

type notice struct {
	taskID   string
	message  string
	severity ErrorSeverity
}

type stubNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (s *stubNotifier) NotifyError(taskID, message string, severity ErrorSeverity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notice{taskID, message, severity})
}

func (s *stubNotifier) all() []notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notice(nil), s.notices...)
}

type alert struct {
	level   ErrorSeverity
	message string
	details map[string]interface{}
}

type stubAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (s *stubAlerter) SendAlert(level ErrorSeverity, message string, details map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert{level, message, details})
}

func (s *stubAlerter) all() []alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert(nil), s.alerts...)
}

type recoveryHarness struct {
	queue      *queue.Queue
	history    *HistoryBook
	notifier   *stubNotifier
	alerter    *stubAlerter
	classifier *Classifier
	manager    *RecoveryManager
}

func newRecoveryHarness() *recoveryHarness {
	h := &recoveryHarness{
		queue:      queue.New(store.NewMemoryStore()),
		history:    NewHistoryBook(),
		notifier:   &stubNotifier{},
		alerter:    &stubAlerter{},
		classifier: NewClassifier(),
	}
	h.manager = NewRecoveryManager(DefaultRecoveryConfig(), h.queue, h.history,
		NewAnalytics(0, h.alerter), h.notifier, h.alerter)
	return h
}

func newFailedTask() *model.Task {
	return &model.Task{
		ID:         model.NewTaskID(),
		TemplateID: "image_gen",
		Category:   "image",
		MaxRetries: 3,
		CreatedAt:  time.Now(),
	}
}

func TestRetryWithBackoffFirstAttempt(t *testing.T) {
	h := newRecoveryHarness()
	task := newFailedTask()
	classification := h.classifier.Classify(stderrors.New("connection reset by peer"))

	result := h.manager.Recover(context.Background(), task, classification)

	require.Equal(t, ActionRetried, result.Action)
	assert.True(t, result.Success)
	assert.True(t, result.Rescheduled())
	assert.InDelta(t, 1.0, result.Delay.Seconds(), 0.11, "first attempt backs off ~1s")
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, result.Delay.Seconds(), task.RetryDelaySec)
	assert.Contains(t, task.PreviousError, "connection reset")
	assert.Equal(t, 1, h.queue.Snapshot().Delayed, "retry waits in the delayed set")
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	h := newRecoveryHarness()

	assert.InDelta(t, 1.0, h.manager.backoffDelay(1).Seconds(), 0.11)
	assert.InDelta(t, 4.0, h.manager.backoffDelay(3).Seconds(), 0.41)
	assert.InDelta(t, 60.0, h.manager.backoffDelay(10).Seconds(), 6.01, "capped at max delay")
}

func TestRetryBudgetExhausted(t *testing.T) {
	h := newRecoveryHarness()
	task := newFailedTask()
	task.RetryCount = task.MaxRetries
	classification := h.classifier.Classify(stderrors.New("connection refused"))

	result := h.manager.Recover(context.Background(), task, classification)

	assert.Equal(t, ActionAbandoned, result.Action)
	assert.False(t, result.Success)
	assert.Equal(t, "max_retries_exceeded", result.Reason)
	assert.False(t, result.Rescheduled())
	assert.Equal(t, queue.Stats{}, h.queue.Snapshot())
}

func TestQueueAndWaitParksTask(t *testing.T) {
	h := newRecoveryHarness()
	task := newFailedTask()
	classification := h.classifier.Classify(errors.NewInsufficientResources("24GB VRAM requested, 8GB free"))

	result := h.manager.Recover(context.Background(), task, classification)

	require.Equal(t, ActionParked, result.Action)
	assert.True(t, result.Success)
	assert.Equal(t, 300.0, result.Delay.Seconds())
	require.NotNil(t, task.WaitUntil)
	assert.WithinDuration(t, time.Now().Add(300*time.Second), *task.WaitUntil, 2*time.Second)
	assert.Equal(t, 1, h.queue.Snapshot().Waiting)
}

func TestFailFastNotifiesUser(t *testing.T) {
	h := newRecoveryHarness()
	task := newFailedTask()
	classification := h.classifier.Classify(errors.NewValidationError("prompt must not be empty"))

	result := h.manager.Recover(context.Background(), task, classification)

	assert.Equal(t, ActionFailedFast, result.Action)
	assert.True(t, result.Success)
	assert.False(t, result.Rescheduled())

	notices := h.notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, task.ID, notices[0].taskID)
	assert.Equal(t, SeverityLow, notices[0].severity)
	assert.Equal(t, queue.Stats{}, h.queue.Snapshot())
}

func TestDeadLetterRoutesToDLQ(t *testing.T) {
	h := newRecoveryHarness()
	task := newFailedTask()
	classification := h.classifier.Classify(stderrors.New("model sdxl_base not found"))

	result := h.manager.Recover(context.Background(), task, classification)

	require.Equal(t, ActionDeadLettered, result.Action)
	assert.True(t, result.Success)

	letters, err := h.queue.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, task.ID, letters[0].Task.ID)
	assert.Equal(t, string(CategoryPermanent), letters[0].Category)

	alerts := h.alerter.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, task.ID, alerts[0].details["task_id"])
}

func TestRetryOnceThenPermanent(t *testing.T) {
	h := newRecoveryHarness()
	task := newFailedTask()

	first := h.manager.Recover(context.Background(), task,
		h.classifier.Classify(stderrors.New("the frobnicator descoped")))
	require.Equal(t, ActionRetried, first.Action)
	assert.Equal(t, time.Second, first.Delay)
	assert.Equal(t, 1, task.RetryCount)

	second := h.manager.Recover(context.Background(), task,
		h.classifier.Classify(stderrors.New("the frobnicator descoped")))
	assert.Equal(t, ActionDeadLettered, second.Action)
	assert.Equal(t, "retry_once_exhausted", second.Reason)

	letters, err := h.queue.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, letters, 1)
}

func TestRecoveryGuardAbandons(t *testing.T) {
	h := newRecoveryHarness()
	task := newFailedTask()
	classification := h.classifier.Classify(stderrors.New("connection reset by peer"))

	for i := 0; i < 5; i++ {
		h.history.Append(task.ID, classification, nil)
	}

	result := h.manager.Recover(context.Background(), task, classification)

	assert.Equal(t, ActionAbandoned, result.Action)
	assert.Equal(t, "recovery_guard", result.Reason)
	assert.False(t, result.Success)
	assert.Equal(t, 0, task.RetryCount, "guarded task is not resubmitted")
	assert.Equal(t, queue.Stats{}, h.queue.Snapshot())
}

func TestRecoverAppendsHistory(t *testing.T) {
	h := newRecoveryHarness()
	task := newFailedTask()

	h.manager.Recover(context.Background(), task,
		h.classifier.Classify(stderrors.New("connection reset by peer")))

	history, ok := h.history.Get(task.ID)
	require.True(t, ok)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, 1, history.TotalRetries)
	assert.Equal(t, ActionRetried, history.Entries[0].Result.Action)
	assert.Equal(t, CategoryTransient, history.Entries[0].Classification.Category)
}
