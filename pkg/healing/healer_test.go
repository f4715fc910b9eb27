// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package healing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Backlot/pkg/config"
	"github.com/AMD-AGI/Backlot/pkg/faults"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/progress"
	"github.com/AMD-AGI/Backlot/pkg/queue"
	"github.com/AMD-AGI/Backlot/pkg/store"
)

type stubPool struct {
	workers    []*model.Worker
	restarted  []string
	restartErr error
	granted    int
	requests   []int
	throttled  time.Duration
}

func (s *stubPool) Workers() []*model.Worker { return s.workers }

func (s *stubPool) RestartWorker(ctx context.Context, workerID string) error {
	s.restarted = append(s.restarted, workerID)
	return s.restartErr
}

func (s *stubPool) RequestWorkers(ctx context.Context, count int) int {
	s.requests = append(s.requests, count)
	n := count
	if s.granted < n {
		n = s.granted
	}
	s.granted -= n
	return n
}

func (s *stubPool) Throttle(d time.Duration) { s.throttled = d }

type stubQueue struct {
	depth     int
	completed int
	waiting   []*model.Task
	expired   []*model.Task
	dead      []string
}

func (s *stubQueue) Depth() int     { return s.depth }
func (s *stubQueue) Completed() int { return s.completed }

func (s *stubQueue) ReapWaiting(canAdmit func(*model.Task) bool) ([]*model.Task, []*model.Task) {
	back, gone := s.waiting, s.expired
	s.waiting, s.expired = nil, nil
	return back, gone
}

func (s *stubQueue) DeadLetter(ctx context.Context, task *model.Task, reason, category string) error {
	s.dead = append(s.dead, task.ID)
	return nil
}

type stubTracker struct {
	pruned int
	failed []string
}

func (s *stubTracker) PruneTerminal(olderThan time.Duration) int { return s.pruned }

func (s *stubTracker) Fail(ctx context.Context, taskID, reason string) (*progress.TaskProgress, error) {
	s.failed = append(s.failed, taskID)
	return nil, nil
}

type stubRegistry struct {
	count   int
	loadErr error
	loaded  [][]string
}

func (s *stubRegistry) Count() int { return s.count }

func (s *stubRegistry) LoadDirs(dirs []string) error {
	s.loaded = append(s.loaded, dirs)
	if s.loadErr != nil {
		return s.loadErr
	}
	s.count = 2
	return nil
}

type stubAlerter struct {
	alerts []string
}

func (s *stubAlerter) SendAlert(level faults.ErrorSeverity, message string, details map[string]interface{}) {
	s.alerts = append(s.alerts, message)
}

type failingStore struct {
	store.Store
}

func (f failingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return fmt.Errorf("connection refused")
}

func quietVitals() VitalsFunc {
	return func(context.Context) (Vitals, error) { return Vitals{}, nil }
}

func fixedVitals(v Vitals) VitalsFunc {
	return func(context.Context) (Vitals, error) { return v, nil }
}

func TestDiagnoseFindsStaleAndFailedWorkers(t *testing.T) {
	now := time.Now()
	pool := &stubPool{workers: []*model.Worker{
		{ID: "w-stale", Status: model.WorkerStatusActive, LastHeartbeat: now.Add(-3 * time.Minute)},
		{ID: "w-dead", Status: model.WorkerStatusFailed, LastHeartbeat: now},
		{ID: "w-ok", Status: model.WorkerStatusIdle, LastHeartbeat: now},
	}}
	h := NewHealer(Deps{Pool: pool, Vitals: quietVitals()}, time.Minute)

	issues := h.Diagnose(context.Background())

	require.Len(t, issues, 2)
	targets := []string{issues[0].Target, issues[1].Target}
	assert.Contains(t, targets, "w-stale")
	assert.Contains(t, targets, "w-dead")
	for _, issue := range issues {
		assert.Equal(t, IssueWorkerUnresponsive, issue.Type)
		assert.Equal(t, faults.SeverityHigh, issue.Severity)
	}
}

func TestHealRestartsUnresponsiveWorker(t *testing.T) {
	pool := &stubPool{workers: []*model.Worker{
		{ID: "w1", Status: model.WorkerStatusFailed, LastHeartbeat: time.Now()},
	}}
	h := NewHealer(Deps{Pool: pool, Vitals: quietVitals()}, time.Minute)

	issues, remediations := h.TriggerDiagnose(context.Background())

	require.Len(t, issues, 1)
	require.Len(t, remediations, 1)
	assert.Equal(t, OutcomeResolved, remediations[0].Outcome)
	assert.Equal(t, []string{"w1"}, pool.restarted)
	require.Len(t, h.History(), 1)
	assert.Equal(t, IssueWorkerUnresponsive, h.History()[0].IssueType)
}

func TestQueueIssueRules(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		depth int
		rate  float64
		want  IssueType
	}{
		{"empty idle", 0, 0, ""},
		{"stalled", 3, 0, IssueQueueStalled},
		{"backlogged", 100, 0.1, IssueQueueBacklog},
		{"keeping up", 10, 1, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issues := queueIssues(tc.depth, tc.rate, now)
			if tc.want == "" {
				assert.Empty(t, issues)
				return
			}
			require.Len(t, issues, 1)
			assert.Equal(t, tc.want, issues[0].Type)
		})
	}
}

func TestStalledQueueKicksProcessing(t *testing.T) {
	q := &stubQueue{
		depth:     4,
		completed: 5,
		waiting:   []*model.Task{{ID: "t-parked", Category: "image"}},
		expired:   []*model.Task{{ID: "t-expired", Category: "video"}},
	}
	pool := &stubPool{granted: 1}
	tracker := &stubTracker{}
	alerter := &stubAlerter{}
	h := NewHealer(Deps{Pool: pool, Queue: q, Tracker: tracker, Alerter: alerter, Vitals: quietVitals()}, time.Minute)

	// first cycle establishes the rate baseline
	assert.Empty(t, h.Diagnose(context.Background()))
	time.Sleep(10 * time.Millisecond)

	issues, remediations := h.TriggerDiagnose(context.Background())

	require.Len(t, issues, 1)
	assert.Equal(t, IssueQueueStalled, issues[0].Type)
	assert.Equal(t, faults.SeverityCritical, issues[0].Severity)
	assert.NotEmpty(t, alerter.alerts)

	require.Len(t, remediations, 1)
	assert.Equal(t, OutcomeResolved, remediations[0].Outcome)
	assert.Contains(t, remediations[0].Action, "readmitted 1 parked tasks")
	assert.Equal(t, []int{1}, pool.requests)
	assert.Equal(t, []string{"t-expired"}, tracker.failed)
	assert.Equal(t, []string{"t-expired"}, q.dead)
}

func TestBacklogRemediationAndDegradation(t *testing.T) {
	pool := &stubPool{granted: 2}
	h := NewHealer(Deps{Pool: pool, Vitals: quietVitals()}, time.Minute)
	issue := Issue{Type: IssueQueueBacklog, Target: "queue", DetectedAt: time.Now()}

	rec := h.remediate(context.Background(), issue)
	assert.Equal(t, OutcomeResolved, rec.Outcome)
	assert.Equal(t, "added 2 workers", rec.Action)
	assert.Equal(t, []int{2}, pool.requests)

	// capacity exhausted: the attempt fails and opens a suppression window
	rec = h.remediate(context.Background(), issue)
	assert.Equal(t, OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Error, "no additional workers admitted")

	rec = h.remediate(context.Background(), issue)
	assert.Equal(t, OutcomeDegraded, rec.Outcome)
	assert.Contains(t, rec.Action, "suppressed until")

	// other issue types keep their own budget
	pool.workers = []*model.Worker{{ID: "w1", Status: model.WorkerStatusFailed}}
	rec = h.remediate(context.Background(), Issue{Type: IssueWorkerUnresponsive, Target: "w1"})
	assert.Equal(t, OutcomeResolved, rec.Outcome)
}

func TestPressureRemediations(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 150; i++ {
		require.NoError(t, mem.ListAppend(ctx, queue.DeadLetterKey, fmt.Sprintf("entry-%d", i)))
	}

	pool := &stubPool{}
	tracker := &stubTracker{pruned: 7}
	alerter := &stubAlerter{}
	h := NewHealer(Deps{
		Pool:    pool,
		Tracker: tracker,
		Store:   mem,
		Alerter: alerter,
		Vitals:  fixedVitals(Vitals{CPUPercent: 95, MemoryPercent: 95, DiskPercent: 96, WorkspacePercent: 95}),
	}, time.Minute)

	issues, remediations := h.TriggerDiagnose(ctx)

	types := make([]IssueType, 0, len(issues))
	for _, issue := range issues {
		types = append(types, issue.Type)
	}
	assert.ElementsMatch(t, []IssueType{IssueHighCPU, IssueResourceLeak, IssueLowDisk, IssueWorkspaceFull}, types)

	for _, rec := range remediations {
		assert.Equal(t, OutcomeResolved, rec.Outcome, "remediation for %s", rec.IssueType)
	}
	assert.Equal(t, throttleWindow, pool.throttled)

	// disk pressure trims the dead letter list to its retention cap
	n, err := mem.ListLen(ctx, queue.DeadLetterKey)
	require.NoError(t, err)
	assert.Equal(t, int64(deadLetterKeepLast), n)

	// low disk is critical and pages the operator
	assert.NotEmpty(t, alerter.alerts)
}

func TestModelIntegrityReloadsTemplates(t *testing.T) {
	config.SetValue("templates.dirs", "conf/templates")
	t.Cleanup(func() { config.SetValue("templates.dirs", "") })

	reg := &stubRegistry{count: 0}
	h := NewHealer(Deps{Registry: reg, Vitals: quietVitals()}, time.Minute)

	issues, remediations := h.TriggerDiagnose(context.Background())

	require.Len(t, issues, 1)
	assert.Equal(t, IssueModelIntegrity, issues[0].Type)
	require.Len(t, remediations, 1)
	assert.Equal(t, OutcomeResolved, remediations[0].Outcome)
	require.Len(t, reg.loaded, 1)
	assert.Equal(t, []string{"conf/templates"}, reg.loaded[0])
	assert.Contains(t, remediations[0].Action, "reloaded 2 templates")
}

func TestModelIntegrityReloadFailure(t *testing.T) {
	config.SetValue("templates.dirs", "conf/templates")
	t.Cleanup(func() { config.SetValue("templates.dirs", "") })

	reg := &stubRegistry{count: 0, loadErr: fmt.Errorf("directory missing")}
	h := NewHealer(Deps{Registry: reg, Vitals: quietVitals()}, time.Minute)

	_, remediations := h.TriggerDiagnose(context.Background())

	require.Len(t, remediations, 1)
	assert.Equal(t, OutcomeFailed, remediations[0].Outcome)
	assert.Contains(t, remediations[0].Error, "directory missing")
}

func TestConnectivityProbe(t *testing.T) {
	alerter := &stubAlerter{}
	h := NewHealer(Deps{
		Store:   failingStore{store.NewMemoryStore()},
		Alerter: alerter,
		Vitals:  quietVitals(),
	}, time.Minute)

	issues, remediations := h.TriggerDiagnose(context.Background())

	require.Len(t, issues, 1)
	assert.Equal(t, IssueConnectivity, issues[0].Type)
	assert.Equal(t, faults.SeverityCritical, issues[0].Severity)
	assert.NotEmpty(t, alerter.alerts)
	require.Len(t, remediations, 1)
	assert.Equal(t, OutcomeFailed, remediations[0].Outcome)

	// a healthy store raises nothing
	healthy := NewHealer(Deps{Store: store.NewMemoryStore(), Vitals: quietVitals()}, time.Minute)
	assert.Empty(t, healthy.Diagnose(context.Background()))
}

func TestHistoryBounded(t *testing.T) {
	h := NewHealer(Deps{Vitals: quietVitals()}, time.Minute)
	for i := 0; i < historyCapacity+50; i++ {
		h.record(Remediation{IssueType: IssueHighCPU, Outcome: OutcomeResolved, At: time.Now()})
	}
	assert.Len(t, h.History(), historyCapacity)
}

func TestStartStopLifecycle(t *testing.T) {
	config.SetValue("healing.enable", true)
	t.Cleanup(func() { config.SetValue("healing.enable", true) })

	h := NewHealer(Deps{Vitals: quietVitals()}, time.Second)
	h.Start()
	h.Start() // second start is a no-op
	h.Stop()
	h.Stop() // stop after stop is safe

	config.SetValue("healing.enable", false)
	disabled := NewHealer(Deps{Vitals: quietVitals()}, time.Second)
	disabled.Start()
	disabled.Stop()
}
