// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package template

import (
	"fmt"
	"math"
	"sync"

	"github.com/AMD-AGI/Backlot/pkg/errors"
)

// QualitySidecarKey is the reserved input key carrying quality metadata on
// the final input set. It is never a template parameter.
const QualitySidecarKey = "_quality"

// QualityPreset is a named parameter overlay. Level runs 1 (draft) to 4
// (ultra). Custom presets may inherit from one built-in via BasePreset;
// deeper chains are rejected.
type QualityPreset struct {
	Name               string                            `json:"name"`
	Level              int                               `json:"level"`
	TimeMultiplier     float64                           `json:"time_multiplier"`
	ResourceMultiplier float64                           `json:"resource_multiplier"`
	CostMultiplier     float64                           `json:"cost_multiplier"`
	Parameters         map[string]map[string]interface{} `json:"parameters,omitempty"`
	BasePreset         string                            `json:"base_preset,omitempty"`
	CreatedBy          string                            `json:"created_by,omitempty"`
}

// PresetInfo is the admin view of a preset.
type PresetInfo struct {
	Name       string `json:"name"`
	Level      int    `json:"level"`
	BasePreset string `json:"base_preset,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
	Custom     bool   `json:"custom"`
	UsageCount int64  `json:"usage_count"`
}

func builtinPresets() map[string]*QualityPreset {
	return map[string]*QualityPreset{
		"draft": {
			Name: "draft", Level: 1,
			TimeMultiplier: 0.4, ResourceMultiplier: 0.6, CostMultiplier: 0.3,
			Parameters: map[string]map[string]interface{}{
				"image": {"steps": 12, "cfg_scale": 6.0},
				"video": {"fps": 12, "motion_quality": "low"},
				"audio": {"sample_rate": 22050, "bitrate_kbps": 96},
				"text":  {"max_tokens": 512, "temperature": 0.9},
			},
		},
		"standard": {
			Name: "standard", Level: 2,
			TimeMultiplier: 1.0, ResourceMultiplier: 1.0, CostMultiplier: 1.0,
			Parameters: map[string]map[string]interface{}{
				"image": {"steps": 25, "cfg_scale": 7.0},
				"video": {"fps": 24, "motion_quality": "medium"},
				"audio": {"sample_rate": 44100, "bitrate_kbps": 192},
				"text":  {"max_tokens": 1024, "temperature": 0.7},
			},
		},
		"high": {
			Name: "high", Level: 3,
			TimeMultiplier: 1.8, ResourceMultiplier: 1.3, CostMultiplier: 2.0,
			Parameters: map[string]map[string]interface{}{
				"image": {"steps": 40, "cfg_scale": 7.5},
				"video": {"fps": 30, "motion_quality": "high"},
				"audio": {"sample_rate": 48000, "bitrate_kbps": 256},
				"text":  {"max_tokens": 2048, "temperature": 0.6},
			},
		},
		"ultra": {
			Name: "ultra", Level: 4,
			TimeMultiplier: 3.0, ResourceMultiplier: 1.6, CostMultiplier: 4.0,
			Parameters: map[string]map[string]interface{}{
				"image": {"steps": 60, "cfg_scale": 8.0},
				"video": {"fps": 60, "motion_quality": "ultra"},
				"audio": {"sample_rate": 48000, "bitrate_kbps": 320},
				"text":  {"max_tokens": 4096, "temperature": 0.5},
			},
		},
	}
}

// calculator adjusts derived parameters for one category. Values the caller
// already holds are never overwritten.
type calculator func(level int, params map[string]interface{})

var categoryCalculators = map[string]calculator{
	"image": imageCalculator,
	"video": videoCalculator,
	"audio": audioCalculator,
	"text":  textCalculator,
}

var imageSamplers = map[int]string{1: "euler", 2: "euler_ancestral", 3: "dpmpp_2m", 4: "dpmpp_2m_sde"}

// resolutionScale grows output resolution with quality. Dimensions snap to
// multiples of 8, which diffusion backends require.
var resolutionScale = map[int]float64{1: 0.75, 2: 1.0, 3: 1.25, 4: 1.5}

func imageCalculator(level int, params map[string]interface{}) {
	setIfAbsent(params, "sampler", imageSamplers[level])
	if level >= 3 {
		setIfAbsent(params, "hires_fix", true)
	}
	if level >= 4 {
		setIfAbsent(params, "face_restore", true)
	}
	scale := resolutionScale[level]
	for _, dim := range []string{"width", "height"} {
		if v, ok := asFloat(params[dim]); ok {
			params[dim] = int(math.Round(v*scale/8) * 8)
		}
	}
}

func videoCalculator(level int, params map[string]interface{}) {
	if level >= 3 {
		setIfAbsent(params, "frame_interpolation", true)
	}
	// Derive the frame count when the caller gave a duration.
	if dur, ok := asFloat(params["duration_seconds"]); ok {
		if fps, ok := asFloat(params["fps"]); ok {
			setIfAbsent(params, "frames", int(math.Round(dur*fps)))
		}
	}
}

func audioCalculator(level int, params map[string]interface{}) {
	if level >= 3 {
		setIfAbsent(params, "denoise", true)
	}
	if level >= 4 {
		setIfAbsent(params, "mastering", true)
	}
}

func textCalculator(level int, params map[string]interface{}) {
	beams := map[int]int{1: 1, 2: 1, 3: 2, 4: 4}
	setIfAbsent(params, "beam_width", beams[level])
}

// baseDurationSeconds is the per-category base for the sidecar's estimated
// time before the preset's time multiplier is applied.
var baseDurationSeconds = map[string]float64{
	"image": 30, "video": 300, "audio": 60, "text": 20,
}

// PresetManager holds built-in and custom quality presets.
type PresetManager struct {
	mu      sync.RWMutex
	presets map[string]*QualityPreset
	custom  map[string]bool
	usage   map[string]int64
}

// NewPresetManager creates a manager seeded with draft/standard/high/ultra.
func NewPresetManager() *PresetManager {
	return &PresetManager{
		presets: builtinPresets(),
		custom:  make(map[string]bool),
		usage:   make(map[string]int64),
	}
}

// Get returns a preset by name.
func (m *PresetManager) Get(name string) (*QualityPreset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	preset, ok := m.presets[name]
	if !ok {
		return nil, errors.NewResourceNotFound(fmt.Sprintf("quality preset %q not found", name)).
			WithDetail("resource_type", "quality_preset")
	}
	return preset, nil
}

// Register adds a custom preset. Built-in names are reserved, and presets
// may inherit from at most one ancestor.
func (m *PresetManager) Register(preset *QualityPreset) error {
	if preset == nil || preset.Name == "" {
		return errors.NewValidationError("preset name is required")
	}
	if preset.Level < 1 || preset.Level > 4 {
		return errors.NewValidationError("preset level must be between 1 and 4").
			WithDetail("field", "level")
	}
	if preset.TimeMultiplier <= 0 {
		preset.TimeMultiplier = 1
	}
	if preset.ResourceMultiplier <= 0 {
		preset.ResourceMultiplier = 1
	}
	if preset.CostMultiplier <= 0 {
		preset.CostMultiplier = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presets[preset.Name]; ok && !m.custom[preset.Name] {
		return errors.NewValidationError(fmt.Sprintf("preset name %q is reserved", preset.Name))
	}
	if preset.BasePreset != "" {
		base, ok := m.presets[preset.BasePreset]
		if !ok {
			return errors.NewValidationError(fmt.Sprintf("base preset %q not found", preset.BasePreset))
		}
		if base.BasePreset != "" {
			return errors.NewValidationError("preset inheritance is limited to one level")
		}
	}
	m.presets[preset.Name] = preset
	m.custom[preset.Name] = true
	return nil
}

// Presets lists every registered preset with usage counters.
func (m *PresetManager) Presets() []PresetInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]PresetInfo, 0, len(m.presets))
	for name, preset := range m.presets {
		infos = append(infos, PresetInfo{
			Name:       name,
			Level:      preset.Level,
			BasePreset: preset.BasePreset,
			CreatedBy:  preset.CreatedBy,
			Custom:     m.custom[name],
			UsageCount: m.usage[name],
		})
	}
	return infos
}

// Apply overlays a preset onto user inputs for one template. User-supplied
// values always win; preset parameters only fill gaps. The result carries a
// _quality sidecar, and re-applying the same preset to an already-applied
// input set returns it unchanged apart from that sidecar.
func (m *PresetManager) Apply(tpl *Template, name string, inputs map[string]interface{}) (map[string]interface{}, error) {
	preset, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(inputs)+4)
	for k, v := range inputs {
		out[k] = v
	}
	if sidecar, ok := out[QualitySidecarKey].(map[string]interface{}); ok {
		if applied, _ := sidecar["preset"].(string); applied == name {
			return out, nil
		}
	}

	params := m.effectiveParameters(preset, tpl)
	calc, hasCalc := categoryCalculators[tpl.Category]
	if len(params) == 0 && !hasCalc {
		return nil, errors.NewValidationError(
			fmt.Sprintf("preset %q has no parameters for category %q", name, tpl.Category)).
			WithDetail("preset", name).
			WithDetail("category", tpl.Category)
	}

	for k, v := range params {
		setIfAbsent(out, k, v)
	}
	if hasCalc {
		calc(preset.Level, out)
	}
	scaleCount(out, "batch_size", preset.ResourceMultiplier)
	scaleCount(out, "iterations", preset.CostMultiplier)

	out[QualitySidecarKey] = map[string]interface{}{
		"preset":                 name,
		"level":                  preset.Level,
		"estimated_time_seconds": baseDuration(tpl.Category) * preset.TimeMultiplier,
		"resource_hints": map[string]interface{}{
			"memory_gb": tpl.Requirements.Resources.MemoryGB * preset.ResourceMultiplier,
			"priority":  preset.Level,
		},
	}

	m.mu.Lock()
	m.usage[name]++
	m.mu.Unlock()
	return out, nil
}

// effectiveParameters merges base preset parameters under the preset's own,
// then the template's per-preset overlay on top.
func (m *PresetManager) effectiveParameters(preset *QualityPreset, tpl *Template) map[string]interface{} {
	merged := make(map[string]interface{})
	m.mu.RLock()
	if preset.BasePreset != "" {
		if base, ok := m.presets[preset.BasePreset]; ok {
			for k, v := range base.Parameters[tpl.Category] {
				merged[k] = v
			}
		}
	}
	m.mu.RUnlock()
	for k, v := range preset.Parameters[tpl.Category] {
		merged[k] = v
	}
	for k, v := range tpl.Requirements.QualityPresets[preset.Name] {
		merged[k] = v
	}
	return merged
}

func baseDuration(category string) float64 {
	if d, ok := baseDurationSeconds[category]; ok {
		return d
	}
	return 60
}

func setIfAbsent(params map[string]interface{}, key string, value interface{}) {
	if _, ok := params[key]; !ok {
		params[key] = value
	}
}

// scaleCount multiplies an integer-count parameter, keeping it at least 1.
func scaleCount(params map[string]interface{}, key string, factor float64) {
	v, ok := asFloat(params[key])
	if !ok {
		return
	}
	scaled := int(math.Round(v * factor))
	if scaled < 1 {
		scaled = 1
	}
	params[key] = scaled
}
