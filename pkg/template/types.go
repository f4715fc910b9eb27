// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package template loads, validates and serves generation templates. A
// template file declares a callable generative function: its inputs and
// outputs with constraints, its resource needs, and per-quality parameter
// overlays. Identity is (id, version).
package template

import (
	"fmt"
	"regexp"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/errors"
)

// ParamType is the semantic type of one interface parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeFloat   ParamType = "float"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeFile    ParamType = "file"
)

// IsValid reports whether the type is one of the known parameter types.
func (t ParamType) IsValid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeArray, TypeObject, TypeFile:
		return true
	}
	return false
}

// IsNumeric reports whether min/max constraints apply.
func (t ParamType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// Constraints narrow the acceptable values of a parameter. Which fields are
// legal depends on the parameter type.
type Constraints struct {
	Min       *float64      `json:"min,omitempty"`
	Max       *float64      `json:"max,omitempty"`
	MinLength *int          `json:"min_length,omitempty"`
	MaxLength *int          `json:"max_length,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	Enum      []interface{} `json:"enum,omitempty"`
	Format    string        `json:"format,omitempty"`
}

// Param describes one input or output.
type Param struct {
	Type        ParamType    `json:"type"`
	Description string       `json:"description,omitempty"`
	Required    bool         `json:"required,omitempty"`
	Default     interface{}  `json:"default,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
}

// Interface maps parameter names to their declarations.
type Interface struct {
	Inputs  map[string]Param `json:"inputs,omitempty"`
	Outputs map[string]Param `json:"outputs"`
}

// ResourceSpec is the capacity a template needs to run.
type ResourceSpec struct {
	GPU      bool    `json:"gpu,omitempty"`
	VRAMGB   float64 `json:"vram_gb,omitempty"`
	CPUCores float64 `json:"cpu_cores,omitempty"`
	MemoryGB float64 `json:"memory_gb,omitempty"`
	DiskGB   float64 `json:"disk_gb,omitempty"`
}

// ModelRef names a model artifact the template depends on. Hash, when set,
// is the sha256 of the model file.
type ModelRef struct {
	Name   string  `json:"name"`
	SizeGB float64 `json:"size_gb,omitempty"`
	Hash   string  `json:"hash,omitempty"`
}

// Requirements bundles resources, models and per-preset parameter overlays.
type Requirements struct {
	Resources      ResourceSpec                      `json:"resources,omitempty"`
	Models         []ModelRef                        `json:"models,omitempty"`
	QualityPresets map[string]map[string]interface{} `json:"quality_presets,omitempty"`
}

// Example is a named sample input set; it must validate against the
// interface at registration time.
type Example struct {
	Name   string                 `json:"name,omitempty"`
	Inputs map[string]interface{} `json:"inputs"`
}

// Template is one registered generative function.
type Template struct {
	ID           string       `json:"id"`
	Version      string       `json:"version"`
	Name         string       `json:"name,omitempty"`
	Description  string       `json:"description,omitempty"`
	Category     string       `json:"category,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Extends      string       `json:"extends,omitempty"`
	Interface    Interface    `json:"interface"`
	Requirements Requirements `json:"requirements,omitempty"`
	Examples     []Example    `json:"examples,omitempty"`

	SourcePath string    `json:"-"`
	LoadedAt   time.Time `json:"-"`
}

// Key is the registry identity "{id}@{version}".
func (t *Template) Key() string {
	return t.ID + "@" + t.Version
}

// Info is the list view of a template.
type Info struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Name        string   `json:"name,omitempty"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Info returns the list view.
func (t *Template) Info() Info {
	return Info{
		ID:          t.ID,
		Version:     t.Version,
		Name:        t.Name,
		Category:    t.Category,
		Description: t.Description,
		Tags:        t.Tags,
	}
}

// ListFilter narrows List results. Empty fields match everything.
type ListFilter struct {
	Category string
	Tags     []string
}

func (f ListFilter) matches(t *Template) bool {
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range t.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// inputCheck is the outcome of matching an input set against the interface.
type inputCheck struct {
	missing    []string
	unknown    []string
	violations map[string]string
}

// checkInputs matches an input set against the interface without applying
// defaults. Both submission validation and the example stage build on it.
func (t *Template) checkInputs(inputs map[string]interface{}) inputCheck {
	res := inputCheck{violations: make(map[string]string)}
	for name, param := range t.Interface.Inputs {
		value, ok := inputs[name]
		if !ok {
			if param.Required && param.Default == nil {
				res.missing = append(res.missing, name)
			}
			continue
		}
		if msg := checkValue(param, value); msg != "" {
			res.violations[name] = msg
		}
	}
	for name := range inputs {
		if name == QualitySidecarKey {
			continue
		}
		if _, ok := t.Interface.Inputs[name]; !ok {
			res.unknown = append(res.unknown, name)
		}
	}
	return res
}

// ValidateInputs rejects a submission whose inputs do not satisfy the
// interface. The first violation is reported with its field name.
func (t *Template) ValidateInputs(inputs map[string]interface{}) error {
	check := t.checkInputs(inputs)
	if len(check.missing) > 0 {
		return errors.NewValidationError(
			fmt.Sprintf("missing required input %q", check.missing[0])).
			WithDetail("field", check.missing[0]).
			WithDetail("template_id", t.ID)
	}
	for name, msg := range check.violations {
		return errors.NewValidationError(
			fmt.Sprintf("input %q %s", name, msg)).
			WithDetail("field", name).
			WithDetail("template_id", t.ID)
	}
	return nil
}

// FillDefaults returns a copy of inputs with declared defaults added for
// absent parameters.
func (t *Template) FillDefaults(inputs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	for name, param := range t.Interface.Inputs {
		if _, ok := out[name]; !ok && param.Default != nil {
			out[name] = param.Default
		}
	}
	return out
}

// checkValue returns a human-readable violation, or "" when the value
// satisfies the parameter.
func checkValue(param Param, value interface{}) string {
	switch param.Type {
	case TypeString, TypeFile:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("must be a %s", param.Type)
		}
		return checkStringConstraints(param.Constraints, s)
	case TypeInteger:
		f, ok := asFloat(value)
		if !ok || f != float64(int64(f)) {
			return "must be an integer"
		}
		return checkNumericConstraints(param.Constraints, f)
	case TypeFloat:
		f, ok := asFloat(value)
		if !ok {
			return "must be a number"
		}
		return checkNumericConstraints(param.Constraints, f)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case TypeArray:
		if _, ok := value.([]interface{}); !ok {
			return "must be an array"
		}
	case TypeObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return "must be an object"
		}
	}
	if param.Constraints != nil && len(param.Constraints.Enum) > 0 {
		if !enumContains(param.Constraints.Enum, value) {
			return fmt.Sprintf("must be one of %v", param.Constraints.Enum)
		}
	}
	return ""
}

func checkStringConstraints(c *Constraints, s string) string {
	if c == nil {
		return ""
	}
	if c.MinLength != nil && len(s) < *c.MinLength {
		return fmt.Sprintf("must be at least %d characters", *c.MinLength)
	}
	if c.MaxLength != nil && len(s) > *c.MaxLength {
		return fmt.Sprintf("must be at most %d characters", *c.MaxLength)
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err == nil && !re.MatchString(s) {
			return fmt.Sprintf("must match pattern %q", c.Pattern)
		}
	}
	return ""
}

func checkNumericConstraints(c *Constraints, f float64) string {
	if c == nil {
		return ""
	}
	if c.Min != nil && f < *c.Min {
		return fmt.Sprintf("must be >= %v", *c.Min)
	}
	if c.Max != nil && f > *c.Max {
		return fmt.Sprintf("must be <= %v", *c.Max)
	}
	return ""
}

// asFloat normalizes the numeric types produced by YAML/JSON decoding and
// by in-process callers.
func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	default:
		return 0, false
	}
}

func enumContains(enum []interface{}, value interface{}) bool {
	if f, ok := asFloat(value); ok {
		for _, e := range enum {
			if ef, ok := asFloat(e); ok && ef == f {
				return true
			}
		}
		return false
	}
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}
