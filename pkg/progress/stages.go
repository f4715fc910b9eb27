// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package progress

import (
	"github.com/AMD-AGI/Backlot/pkg/errors"
)

// StageDef declares one stage of a category's pipeline. Weights are
// normalized when a task's stage list is built, so tables do not have to
// sum to exactly one.
type StageDef struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight"`
}

// categoryStages maps a template category onto its default pipeline.
var categoryStages = map[string][]StageDef{
	"image": {
		{Name: "queue", Description: "waiting for a worker", Weight: 0.05},
		{Name: "preparation", Description: "loading models and inputs", Weight: 0.15},
		{Name: "generation", Description: "rendering the image", Weight: 0.70},
		{Name: "finalization", Description: "encoding and saving outputs", Weight: 0.10},
	},
	"video": {
		{Name: "queue", Description: "waiting for a worker", Weight: 0.05},
		{Name: "preparation", Description: "loading models and inputs", Weight: 0.15},
		{Name: "frame_generation", Description: "rendering frames", Weight: 0.60},
		{Name: "post_processing", Description: "interpolation and encoding", Weight: 0.15},
		{Name: "finalization", Description: "muxing and saving outputs", Weight: 0.05},
	},
	"audio": {
		{Name: "queue", Description: "waiting for a worker", Weight: 0.05},
		{Name: "preparation", Description: "loading models and inputs", Weight: 0.15},
		{Name: "synthesis", Description: "generating audio", Weight: 0.65},
		{Name: "post_processing", Description: "mastering and encoding", Weight: 0.15},
	},
	"text": {
		{Name: "queue", Description: "waiting for a worker", Weight: 0.05},
		{Name: "preparation", Description: "loading the model", Weight: 0.10},
		{Name: "execution", Description: "generating text", Weight: 0.75},
		{Name: "finalization", Description: "formatting outputs", Weight: 0.10},
	},
	"default": {
		{Name: "queue", Description: "waiting for a worker", Weight: 0.10},
		{Name: "execution", Description: "running the task", Weight: 0.80},
		{Name: "finalization", Description: "saving outputs", Weight: 0.10},
	},
}

// StagesFor returns the stage definitions for a category, falling back to
// the default pipeline for unknown categories.
func StagesFor(category string) []StageDef {
	defs, ok := categoryStages[category]
	if !ok {
		defs = categoryStages["default"]
	}
	return normalizeStages(defs)
}

// normalizeStages copies the defs with weights scaled to sum to one.
func normalizeStages(defs []StageDef) []StageDef {
	total := 0.0
	for _, d := range defs {
		total += d.Weight
	}
	out := make([]StageDef, len(defs))
	copy(out, defs)
	if total <= 0 {
		even := 1.0 / float64(len(out))
		for i := range out {
			out[i].Weight = even
		}
		return out
	}
	for i := range out {
		out[i].Weight = out[i].Weight / total
	}
	return out
}

// validateStages rejects custom stage sets that cannot drive a task.
func validateStages(defs []StageDef) error {
	if len(defs) == 0 {
		return errors.NewValidationError("stage set must not be empty")
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return errors.NewValidationError("stage name must not be empty")
		}
		if d.Weight < 0 {
			return errors.NewValidationError("stage weight must not be negative").
				WithDetail("stage", d.Name)
		}
		if seen[d.Name] {
			return errors.NewValidationError("duplicate stage name").
				WithDetail("stage", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// buildStages instantiates progress entries from definitions.
func buildStages(defs []StageDef) []StageProgress {
	stages := make([]StageProgress, len(defs))
	for i, d := range defs {
		stages[i] = StageProgress{
			Name:        d.Name,
			Description: d.Description,
			Weight:      d.Weight,
			Status:      StagePending,
		}
	}
	return stages
}
