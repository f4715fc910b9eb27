// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package orchestrator

import (
	"context"

	"github.com/AMD-AGI/Backlot/pkg/breaker"
	"github.com/AMD-AGI/Backlot/pkg/faults"
	"github.com/AMD-AGI/Backlot/pkg/healing"
	"github.com/AMD-AGI/Backlot/pkg/queue"
	"github.com/AMD-AGI/Backlot/pkg/template"
)

// Admin surface: operator-facing reads and resets. These are thin
// passthroughs so a transport layer can expose them without reaching into
// the component graph.

// ListTemplates lists registered templates, optionally narrowed by category
// and tags.
func (o *Orchestrator) ListTemplates(category string, tags []string) []template.Info {
	return o.deps.Registry.List(template.ListFilter{Category: category, Tags: tags})
}

// GetTemplate returns one template; empty version means latest.
func (o *Orchestrator) GetTemplate(id, version string) (*template.Template, error) {
	return o.deps.Registry.Get(id, version)
}

// ReloadTemplate re-reads one template from its source file.
func (o *Orchestrator) ReloadTemplate(id, version string) error {
	return o.deps.Registry.Reload(id, version)
}

// ListPresets lists quality presets with usage counters.
func (o *Orchestrator) ListPresets() []template.PresetInfo {
	return o.deps.Presets.Presets()
}

// RegisterPreset adds a custom quality preset at runtime.
func (o *Orchestrator) RegisterPreset(preset *template.QualityPreset) error {
	return o.deps.Presets.Register(preset)
}

// GetErrorAnalysis aggregates recorded errors over the trailing window.
func (o *Orchestrator) GetErrorAnalysis(windowMinutes int) *faults.Report {
	return o.deps.Analytics.Analyze(windowMinutes)
}

// GetCircuitBreakers snapshots every breaker lane.
func (o *Orchestrator) GetCircuitBreakers() []breaker.Snapshot {
	return o.deps.Breakers.Snapshots()
}

// ResetCircuitBreaker force-closes one breaker lane.
func (o *Orchestrator) ResetCircuitBreaker(service string) bool {
	return o.deps.Breakers.Reset(service)
}

// TriggerDiagnose runs one self-healing cycle immediately. Without an
// attached healer it reports nothing.
func (o *Orchestrator) TriggerDiagnose(ctx context.Context) ([]healing.Issue, []healing.Remediation) {
	o.mu.RLock()
	h := o.healer
	o.mu.RUnlock()
	if h == nil {
		return nil, nil
	}
	return h.TriggerDiagnose(ctx)
}

// GetAlertThresholds returns the current analytics alert thresholds.
func (o *Orchestrator) GetAlertThresholds() faults.Thresholds {
	return o.deps.Analytics.Thresholds()
}

// UpdateAlertThresholds applies a partial threshold update and returns the
// effective values.
func (o *Orchestrator) UpdateAlertThresholds(patch faults.Thresholds) faults.Thresholds {
	return o.deps.Analytics.UpdateThresholds(patch)
}

// GetTaskErrorHistory returns the per-task error ledger.
func (o *Orchestrator) GetTaskErrorHistory(taskID string) (*faults.ErrorHistory, bool) {
	return o.deps.History.Get(taskID)
}

// GetDeadLetters returns the most recent dead lettered tasks.
func (o *Orchestrator) GetDeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error) {
	return o.deps.Queue.DeadLetters(ctx, limit)
}

// FailedCompensations lists compensations that themselves failed and need
// manual cleanup.
func (o *Orchestrator) FailedCompensations() []faults.FailedCompensation {
	return o.deps.Compensator.FailedCompensations()
}
