// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package progress

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// maxHistory bounds the rolling record of completed tasks.
	maxHistory = 500
	// historyWindow restricts estimation samples to recent completions.
	historyWindow = 7 * 24 * time.Hour
	// maxSamples caps how many matching completions feed one estimate.
	maxSamples = 100
	// minSamples is the floor below which the default table is used.
	minSamples = 3
	// etaCacheTTL keeps computed estimates warm between updates.
	etaCacheTTL = time.Hour
)

// defaultDurations is the fallback per-category runtime in seconds when too
// little history exists.
var defaultDurations = map[string]float64{
	"image":   30,
	"video":   300,
	"audio":   60,
	"text":    20,
	"default": 60,
}

// fallbackConfidence marks estimates built from the default table.
const fallbackConfidence = 0.4

// TaskHistory is one completed task's timing record.
type TaskHistory struct {
	TemplateID     string             `json:"template_id"`
	Quality        string             `json:"quality,omitempty"`
	Category       string             `json:"category,omitempty"`
	StageDurations map[string]float64 `json:"stage_durations"`
	TotalDuration  float64            `json:"total_duration"`
	CompletedAt    time.Time          `json:"completed_at"`
	Success        bool               `json:"success"`
}

// Estimate is a completion prediction with its trustworthiness.
type Estimate struct {
	ETA              time.Time `json:"eta"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	Confidence       float64   `json:"confidence"`
	Basis            string    `json:"basis"`
	SampleCount      int       `json:"sample_count,omitempty"`
}

// Estimator predicts completion from historical stage durations. Sparse
// history falls back to a fixed per-category duration table with low
// confidence.
type Estimator struct {
	mu      sync.Mutex
	history []TaskHistory
	cache   *gocache.Cache
}

func NewEstimator() *Estimator {
	return &Estimator{
		cache: gocache.New(etaCacheTTL, 2*etaCacheTTL),
	}
}

// Record appends a completed task's timings, evicting the oldest record
// past the cap.
func (e *Estimator) Record(h TaskHistory) {
	if h.CompletedAt.IsZero() {
		h.CompletedAt = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, h)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

// HistorySize reports how many completions are on record.
func (e *Estimator) HistorySize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// Estimate predicts the remaining time for the task's current position.
func (e *Estimator) Estimate(p *TaskProgress) *Estimate {
	if len(p.Stages) == 0 || p.CurrentStage >= len(p.Stages) {
		return nil
	}
	current := p.Stages[p.CurrentStage]
	key := fmt.Sprintf("%s|%s|%d|%d", p.TemplateID, p.Quality, p.CurrentStage,
		int(math.Floor(current.Progress*100)))
	if cached, ok := e.cache.Get(key); ok {
		est := cached.(Estimate)
		est.ETA = time.Now().Add(time.Duration(est.RemainingSeconds * float64(time.Second)))
		return &est
	}

	est := e.compute(p, current)
	e.cache.Set(key, *est, gocache.DefaultExpiration)
	return est
}

func (e *Estimator) compute(p *TaskProgress, current StageProgress) *Estimate {
	samples := e.matchingSamples(p.TemplateID, p.Quality)
	if len(samples) < minSamples {
		return e.fallback(p)
	}

	perStage := make(map[string][]float64)
	totals := make([]float64, 0, len(samples))
	for _, s := range samples {
		totals = append(totals, s.TotalDuration)
		for name, d := range s.StageDurations {
			perStage[name] = append(perStage[name], d)
		}
	}

	remaining := percentile(perStage[current.Name], 0.75) * (1 - current.Progress)
	for i := p.CurrentStage + 1; i < len(p.Stages); i++ {
		remaining += percentile(perStage[p.Stages[i].Name], 0.75)
	}

	confidence := math.Min(0.95, 0.7+0.02*float64(len(samples)))
	switch cv := coefficientOfVariation(totals); {
	case cv > 0.5:
		confidence *= 0.7
	case cv > 0.3:
		confidence *= 0.85
	}
	remaining *= 1 + (1-confidence)*0.5

	return &Estimate{
		ETA:              time.Now().Add(time.Duration(remaining * float64(time.Second))),
		RemainingSeconds: remaining,
		Confidence:       confidence,
		Basis:            "history",
		SampleCount:      len(samples),
	}
}

// matchingSamples returns the most recent successful completions of the same
// template and quality inside the history window, newest capped at
// maxSamples.
func (e *Estimator) matchingSamples(templateID, quality string) []TaskHistory {
	cutoff := time.Now().Add(-historyWindow)
	e.mu.Lock()
	defer e.mu.Unlock()
	var matches []TaskHistory
	for i := len(e.history) - 1; i >= 0 && len(matches) < maxSamples; i-- {
		h := e.history[i]
		if !h.Success || h.TemplateID != templateID || h.Quality != quality {
			continue
		}
		if h.CompletedAt.Before(cutoff) {
			continue
		}
		matches = append(matches, h)
	}
	return matches
}

func (e *Estimator) fallback(p *TaskProgress) *Estimate {
	base, ok := defaultDurations[p.Category]
	if !ok {
		base = defaultDurations["default"]
	}
	remaining := base * (1 - p.OverallProgress/100)
	if remaining < 0 {
		remaining = 0
	}
	return &Estimate{
		ETA:              time.Now().Add(time.Duration(remaining * float64(time.Second))),
		RemainingSeconds: remaining,
		Confidence:       fallbackConfidence,
		Basis:            "default",
	}
}

// percentile computes the nearest-rank percentile of unsorted values.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / mean
}
