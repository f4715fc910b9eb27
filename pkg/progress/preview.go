// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package progress

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/AMD-AGI/Backlot/pkg/log"
)

// previewIntervals are the stage-progress points at which a preview is cut.
var previewIntervals = []float64{0.25, 0.50, 0.75}

// previewTolerance is how close a reported progress must be to an interval.
const previewTolerance = 0.02

// previewStages are the stage names during which previews make sense.
var previewStages = map[string]bool{
	"generation":       true,
	"frame_generation": true,
	"synthesis":        true,
	"execution":        true,
}

// previewCategories are the task categories that produce previewable media.
var previewCategories = map[string]string{
	"image": "png",
	"video": "mp4",
	"audio": "wav",
}

// PreviewFunc produces a preview artifact reference for the task at the
// given interval. Implementations may render, transcode or simply point at
// a partial output.
type PreviewFunc func(ctx context.Context, p *TaskProgress, interval float64) (string, error)

// DefaultPreviewFunc derives a deterministic artifact path; actual rendering
// is the worker's concern.
func DefaultPreviewFunc(_ context.Context, p *TaskProgress, interval float64) (string, error) {
	ext := previewCategories[p.Category]
	stage := p.Stages[p.CurrentStage].Name
	return fmt.Sprintf("previews/%s/%s_%d.%s", p.TaskID, stage, int(interval*100), ext), nil
}

// Previewer cuts at most one preview per (task, interval), no matter how
// many workers report overlapping progress.
type Previewer struct {
	tracker  *Tracker
	generate PreviewFunc

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	done  map[string]map[int]bool
}

// NewPreviewer builds a previewer feeding references into the tracker.
// A nil generate falls back to DefaultPreviewFunc.
func NewPreviewer(tracker *Tracker, generate PreviewFunc) *Previewer {
	if generate == nil {
		generate = DefaultPreviewFunc
	}
	return &Previewer{
		tracker:  tracker,
		generate: generate,
		locks:    make(map[string]*sync.Mutex),
		done:     make(map[string]map[int]bool),
	}
}

// Observe inspects a fresh progress snapshot and cuts a preview when the
// task sits within tolerance of an interval. Returns the artifact reference
// and whether one was generated on this call.
func (pv *Previewer) Observe(ctx context.Context, p *TaskProgress) (string, bool) {
	if p == nil || len(p.Stages) == 0 || p.CurrentStage >= len(p.Stages) {
		return "", false
	}
	stage := p.Stages[p.CurrentStage]
	if !previewStages[stage.Name] || stage.Status != StageInProgress {
		return "", false
	}
	if _, ok := previewCategories[p.Category]; !ok {
		return "", false
	}
	interval, ok := matchInterval(stage.Progress)
	if !ok {
		return "", false
	}

	lock := pv.taskLock(p.TaskID)
	lock.Lock()
	defer lock.Unlock()

	key := int(math.Round(interval * 100))
	pv.mu.Lock()
	seen := pv.done[p.TaskID]
	if seen == nil {
		seen = make(map[int]bool)
		pv.done[p.TaskID] = seen
	}
	already := seen[key]
	pv.mu.Unlock()
	if already {
		return "", false
	}

	url, err := pv.generate(ctx, p, interval)
	if err != nil {
		log.WithError(err).Warnf("preview generation failed for task %s at %d%%", p.TaskID, key)
		return "", false
	}

	pv.mu.Lock()
	seen[key] = true
	pv.mu.Unlock()

	if err := pv.tracker.SetPreviewURL(ctx, p.TaskID, url); err != nil {
		log.WithError(err).Warnf("failed to record preview for task %s", p.TaskID)
	}
	return url, true
}

// Forget drops the per-task preview bookkeeping once a task is terminal.
func (pv *Previewer) Forget(taskID string) {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	delete(pv.done, taskID)
	delete(pv.locks, taskID)
}

// taskLock returns the mutex serializing preview generation for one task.
func (pv *Previewer) taskLock(taskID string) *sync.Mutex {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	lock, ok := pv.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		pv.locks[taskID] = lock
	}
	return lock
}

// matchInterval reports the preview interval within tolerance of progress.
func matchInterval(progress float64) (float64, bool) {
	for _, iv := range previewIntervals {
		if math.Abs(progress-iv) <= previewTolerance {
			return iv, true
		}
	}
	return 0, false
}
