// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package faults

import (
	"fmt"
	"sync"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
)

// minWindowCapacity is the floor for the rolling error window.
const minWindowCapacity = 1000

// criticalLookback is how many recent errors the immediate critical check
// inspects on every record.
const criticalLookback = 20

// Thresholds are the alerting knobs, mutable at runtime through the admin
// surface.
type Thresholds struct {
	HighErrorRate       float64 `json:"high_error_rate"`
	FrequentErrorCount  int     `json:"frequent_error_count"`
	BaselineErrorRate   float64 `json:"baseline_error_rate"`
	SpikeMultiplier     float64 `json:"spike_multiplier"`
	CriticalErrors      int     `json:"critical_errors"`
	HighRecoveryFailure float64 `json:"high_recovery_failure"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		HighErrorRate:       0.1,
		FrequentErrorCount:  10,
		BaselineErrorRate:   0.05,
		SpikeMultiplier:     2.0,
		CriticalErrors:      3,
		HighRecoveryFailure: 0.2,
	}
}

// RecordedError is one classified failure in the rolling window.
type RecordedError struct {
	TaskID   string        `json:"task_id"`
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Type     string        `json:"type"`
	Message  string        `json:"message"`
	At       time.Time     `json:"at"`
}

// Anomaly is one detected deviation in the error stream.
type Anomaly struct {
	Type      string        `json:"type"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
}

// Report is the output of an analysis pass.
type Report struct {
	GeneratedAt       time.Time      `json:"generated_at"`
	WindowMinutes     int            `json:"window_minutes"`
	WindowSize        int            `json:"window_size"`
	RecentErrors      int            `json:"recent_errors"`
	ErrorRate         float64        `json:"error_rate"`
	Distribution      map[string]int `json:"distribution"`
	TypeCounts        map[string]int `json:"type_counts"`
	RecoveryAttempts  int64          `json:"recovery_attempts"`
	RecoverySuccesses int64          `json:"recovery_successes"`
	Anomalies         []Anomaly      `json:"anomalies"`
	Recommendations   []string       `json:"recommendations"`
}

// Analytics keeps a bounded window of classified errors and watches it for
// anomalies. Recording is cheap; analysis walks the window on demand.
type Analytics struct {
	mu                sync.Mutex
	capacity          int
	window            []RecordedError
	categoryCounts    map[ErrorCategory]int64
	typeLastSeen      map[string]time.Time
	recoveryAttempts  map[ErrorCategory]int64
	recoverySuccesses map[ErrorCategory]int64
	thresholds        Thresholds
	alerter           Alerter
}

func NewAnalytics(capacity int, alerter Alerter) *Analytics {
	if capacity < minWindowCapacity {
		capacity = minWindowCapacity
	}
	return &Analytics{
		capacity:          capacity,
		categoryCounts:    make(map[ErrorCategory]int64),
		typeLastSeen:      make(map[string]time.Time),
		recoveryAttempts:  make(map[ErrorCategory]int64),
		recoverySuccesses: make(map[ErrorCategory]int64),
		thresholds:        DefaultThresholds(),
		alerter:           alerter,
	}
}

// Record adds a classified failure to the window and runs the immediate
// critical check against the most recent entries.
func (a *Analytics) Record(taskID string, classification *Classification) {
	entry := RecordedError{
		TaskID:   taskID,
		Category: classification.Category,
		Severity: classification.Severity,
		Type:     classification.Type,
		Message:  classification.Message,
		At:       classification.ClassifiedAt,
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	a.mu.Lock()
	a.window = append(a.window, entry)
	if len(a.window) > a.capacity {
		a.window = a.window[len(a.window)-a.capacity:]
	}
	a.categoryCounts[entry.Category]++
	a.typeLastSeen[entry.Type] = entry.At
	critical := 0
	threshold := a.thresholds.CriticalErrors
	if entry.Severity == SeverityCritical {
		start := len(a.window) - criticalLookback
		if start < 0 {
			start = 0
		}
		for _, e := range a.window[start:] {
			if e.Severity == SeverityCritical {
				critical++
			}
		}
	}
	a.mu.Unlock()

	metrics.ErrorsRecorded.Inc(string(entry.Category), string(entry.Severity))

	if critical >= threshold && a.alerter != nil {
		a.alerter.SendAlert(SeverityCritical, "critical error threshold reached",
			map[string]interface{}{
				"critical_errors": critical,
				"lookback":        criticalLookback,
				"last_task":       taskID,
				"last_type":       entry.Type,
			})
	}
}

// RecordRecovery tracks recovery attempt outcomes per category.
func (a *Analytics) RecordRecovery(category ErrorCategory, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recoveryAttempts[category]++
	if success {
		a.recoverySuccesses[category]++
	}
}

// Analyze inspects the trailing windowMinutes of the error window and
// returns rates, distribution, anomalies, and recommendations.
func (a *Analytics) Analyze(windowMinutes int) *Report {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	cutoff := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)

	a.mu.Lock()
	defer a.mu.Unlock()

	report := &Report{
		GeneratedAt:   time.Now(),
		WindowMinutes: windowMinutes,
		WindowSize:    len(a.window),
		Distribution:  make(map[string]int),
		TypeCounts:    make(map[string]int),
	}

	recent := 0
	for _, e := range a.window {
		report.TypeCounts[e.Type]++
		if e.At.Before(cutoff) {
			continue
		}
		recent++
		report.Distribution[string(e.Category)]++
	}
	report.RecentErrors = recent
	denominator := len(a.window)
	if denominator < 1 {
		denominator = 1
	}
	report.ErrorRate = float64(recent) / float64(denominator)

	for _, n := range a.recoveryAttempts {
		report.RecoveryAttempts += n
	}
	for _, n := range a.recoverySuccesses {
		report.RecoverySuccesses += n
	}

	a.detectAnomalies(report)
	if len(report.Anomalies) > 0 {
		log.WithFields(log.Fields{
			"anomalies":     len(report.Anomalies),
			"recent_errors": recent,
		}).Warn("error analysis found anomalies")
	}
	return report
}

// detectAnomalies runs under the analytics lock.
func (a *Analytics) detectAnomalies(report *Report) {
	t := a.thresholds

	if report.ErrorRate > t.HighErrorRate {
		report.Anomalies = append(report.Anomalies, Anomaly{
			Type:      "high_error_rate",
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("error rate %.2f exceeds %.2f", report.ErrorRate, t.HighErrorRate),
			Value:     report.ErrorRate,
			Threshold: t.HighErrorRate,
		})
		report.Recommendations = append(report.Recommendations,
			"error rate is elevated, check recent deployments and upstream dependencies")
	}

	for errType, count := range report.TypeCounts {
		if count > t.FrequentErrorCount {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Type:      "frequent_error",
				Severity:  SeverityMedium,
				Message:   fmt.Sprintf("error type %q seen %d times", errType, count),
				Value:     float64(count),
				Threshold: float64(t.FrequentErrorCount),
			})
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("add targeted handling for recurring error type %q", errType))
		}
	}

	if spike := t.BaselineErrorRate * t.SpikeMultiplier; report.ErrorRate > spike {
		report.Anomalies = append(report.Anomalies, Anomaly{
			Type:      "error_spike",
			Severity:  SeverityHigh,
			Message:   fmt.Sprintf("error rate %.2f is over %.1fx the %.2f baseline", report.ErrorRate, t.SpikeMultiplier, t.BaselineErrorRate),
			Value:     report.ErrorRate,
			Threshold: spike,
		})
		report.Recommendations = append(report.Recommendations,
			"error volume spiked against baseline, check worker saturation and external services")
	}

	criticalRecent := 0
	start := len(a.window) - criticalLookback
	if start < 0 {
		start = 0
	}
	for _, e := range a.window[start:] {
		if e.Severity == SeverityCritical {
			criticalRecent++
		}
	}
	if criticalRecent >= t.CriticalErrors {
		report.Anomalies = append(report.Anomalies, Anomaly{
			Type:      "critical_error_threshold",
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("%d critical errors in the last %d", criticalRecent, criticalLookback),
			Value:     float64(criticalRecent),
			Threshold: float64(t.CriticalErrors),
		})
		report.Recommendations = append(report.Recommendations,
			"critical errors are clustering, page the on-call operator")
	}

	if report.RecoveryAttempts > 0 {
		failureRate := 1 - float64(report.RecoverySuccesses)/float64(report.RecoveryAttempts)
		if failureRate > t.HighRecoveryFailure {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Type:      "high_recovery_failure",
				Severity:  SeverityHigh,
				Message:   fmt.Sprintf("recovery failure rate %.2f exceeds %.2f", failureRate, t.HighRecoveryFailure),
				Value:     failureRate,
				Threshold: t.HighRecoveryFailure,
			})
			report.Recommendations = append(report.Recommendations,
				"recovery is failing often, review strategy fit for the dominant error categories")
		}
	}
}

// Thresholds returns the current alerting thresholds.
func (a *Analytics) Thresholds() Thresholds {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thresholds
}

// UpdateThresholds overrides thresholds; zero fields keep current values.
func (a *Analytics) UpdateThresholds(patch Thresholds) Thresholds {
	a.mu.Lock()
	defer a.mu.Unlock()
	if patch.HighErrorRate > 0 {
		a.thresholds.HighErrorRate = patch.HighErrorRate
	}
	if patch.FrequentErrorCount > 0 {
		a.thresholds.FrequentErrorCount = patch.FrequentErrorCount
	}
	if patch.BaselineErrorRate > 0 {
		a.thresholds.BaselineErrorRate = patch.BaselineErrorRate
	}
	if patch.SpikeMultiplier > 0 {
		a.thresholds.SpikeMultiplier = patch.SpikeMultiplier
	}
	if patch.CriticalErrors > 0 {
		a.thresholds.CriticalErrors = patch.CriticalErrors
	}
	if patch.HighRecoveryFailure > 0 {
		a.thresholds.HighRecoveryFailure = patch.HighRecoveryFailure
	}
	return a.thresholds
}

// LastSeen reports when an error type last occurred.
func (a *Analytics) LastSeen(errType string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.typeLastSeen[errType]
	return at, ok
}

// CategoryCounts returns lifetime totals per category.
func (a *Analytics) CategoryCounts() map[ErrorCategory]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[ErrorCategory]int64, len(a.categoryCounts))
	for k, v := range a.categoryCounts {
		out[k] = v
	}
	return out
}
