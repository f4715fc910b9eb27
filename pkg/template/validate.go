// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package template

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Severity grades a validation issue. Critical aborts the remaining stages;
// any error or critical issue blocks registration.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Issue is one finding from the validation pipeline.
type Issue struct {
	Stage    string   `json:"stage"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

// Result is the outcome of running the pipeline over one template.
type Result struct {
	Valid     bool      `json:"valid"`
	Issues    []Issue   `json:"issues,omitempty"`
	Hash      string    `json:"hash"`
	CheckedAt time.Time `json:"checked_at"`
}

// Errors returns only the blocking issues.
func (r *Result) Errors() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError || issue.Severity == SeverityCritical {
			out = append(out, issue)
		}
	}
	return out
}

// Lookup resolves templates already known to the registry, plus any batch
// being loaded alongside the candidate.
type Lookup interface {
	Resolve(id, version string) (*Template, bool)
}

var (
	idPattern   = regexp.MustCompile(`^[a-z0-9_]+$`)
	hashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// maxExtendsDepth bounds how far an extends chain may be followed.
const maxExtendsDepth = 3

// validCategories are the categories with stage sets and preset calculators.
// Others are accepted with a warning and run the default stage set.
var validCategories = map[string]bool{"image": true, "video": true, "audio": true, "text": true}

type stageFunc func(tpl *Template, lookup Lookup) []Issue

// contentStages depend only on the template's own content and are safe to
// memoize. registryStages read the registry and always run fresh.
var contentStages = []struct {
	name string
	fn   stageFunc
}{
	{"schema", checkSchema},
	{"types", checkTypes},
	{"resources", checkResources},
	{"examples", checkExamples},
}

var registryStages = []struct {
	name string
	fn   stageFunc
}{
	{"dependencies", checkDependencies},
	{"uniqueness", checkUniqueness},
}

// contentOutcome is the memoized part of a validation run.
type contentOutcome struct {
	issues    []Issue
	aborted   bool
	checkedAt time.Time
}

// Validator runs the pipeline and memoizes the content stages by the sha256
// of the canonical template representation.
type Validator struct {
	cache *gocache.Cache
}

// NewValidator creates a validator whose memoized results live for ttl.
func NewValidator(ttl time.Duration) *Validator {
	return &Validator{cache: gocache.New(ttl, 2*ttl)}
}

// CanonicalHash hashes the canonical JSON form of a template. Source path
// and load time are excluded, so the hash tracks content only.
func CanonicalHash(tpl *Template) string {
	raw, err := json.Marshal(tpl)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Validate runs the six stages in order. A critical issue aborts the rest.
func (v *Validator) Validate(tpl *Template, lookup Lookup) *Result {
	hash := CanonicalHash(tpl)
	var content *contentOutcome
	if hash != "" {
		if cached, ok := v.cache.Get(hash); ok {
			content = cached.(*contentOutcome)
		}
	}
	if content == nil {
		content = runContentStages(tpl)
		if hash != "" {
			v.cache.Set(hash, content, gocache.DefaultExpiration)
		}
	}

	result := &Result{Valid: true, Hash: hash, CheckedAt: content.checkedAt}
	result.Issues = append(result.Issues, content.issues...)
	for _, iss := range content.issues {
		if iss.Severity == SeverityError || iss.Severity == SeverityCritical {
			result.Valid = false
		}
	}
	if content.aborted {
		return result
	}

	for _, stage := range registryStages {
		issues := stage.fn(tpl, lookup)
		result.Issues = append(result.Issues, issues...)
		aborted := false
		for _, iss := range issues {
			switch iss.Severity {
			case SeverityCritical:
				result.Valid = false
				aborted = true
			case SeverityError:
				result.Valid = false
			}
		}
		if aborted {
			break
		}
	}
	return result
}

func runContentStages(tpl *Template) *contentOutcome {
	outcome := &contentOutcome{checkedAt: time.Now()}
	for _, stage := range contentStages {
		issues := stage.fn(tpl, nil)
		outcome.issues = append(outcome.issues, issues...)
		for _, iss := range issues {
			if iss.Severity == SeverityCritical {
				outcome.aborted = true
			}
		}
		if outcome.aborted {
			break
		}
	}
	return outcome
}

func issue(stage string, severity Severity, field, format string, args ...interface{}) Issue {
	return Issue{Stage: stage, Severity: severity, Field: field, Message: fmt.Sprintf(format, args...)}
}

func checkSchema(tpl *Template, _ Lookup) []Issue {
	var issues []Issue
	if tpl.ID == "" {
		issues = append(issues, issue("schema", SeverityCritical, "id", "template id is required"))
	} else if !idPattern.MatchString(tpl.ID) {
		issues = append(issues, issue("schema", SeverityError, "id", "id %q must match [a-z0-9_]+", tpl.ID))
	}
	if tpl.Version == "" {
		issues = append(issues, issue("schema", SeverityCritical, "version", "template version is required"))
	} else if !isStrictSemver(tpl.Version) {
		issues = append(issues, issue("schema", SeverityError, "version", "version %q is not valid semver", tpl.Version))
	}
	if len(tpl.Interface.Outputs) == 0 {
		issues = append(issues, issue("schema", SeverityError, "interface.outputs", "template must declare at least one output"))
	}
	if tpl.Name == "" {
		issues = append(issues, issue("schema", SeverityWarning, "name", "template has no display name"))
	}
	if tpl.Category != "" && !validCategories[tpl.Category] {
		issues = append(issues, issue("schema", SeverityWarning, "category",
			"category %q has no dedicated stage set, the default applies", tpl.Category))
	}
	if tpl.Description == "" {
		issues = append(issues, issue("schema", SeverityInfo, "description", "template has no description"))
	}
	return issues
}

func checkTypes(tpl *Template, _ Lookup) []Issue {
	var issues []Issue
	issues = append(issues, checkParamSet("interface.inputs", tpl.Interface.Inputs)...)
	issues = append(issues, checkParamSet("interface.outputs", tpl.Interface.Outputs)...)
	return issues
}

func checkParamSet(prefix string, params map[string]Param) []Issue {
	var issues []Issue
	for _, name := range sortedParamNames(params) {
		param := params[name]
		field := prefix + "." + name
		if !param.Type.IsValid() {
			issues = append(issues, issue("types", SeverityError, field, "unknown type %q", param.Type))
			continue
		}
		issues = append(issues, checkConstraintUse(field, param)...)
		if param.Default != nil {
			if msg := checkValue(param, param.Default); msg != "" {
				issues = append(issues, issue("types", SeverityError, field, "default %v", msg))
			}
		}
	}
	return issues
}

func checkConstraintUse(field string, param Param) []Issue {
	c := param.Constraints
	if c == nil {
		return nil
	}
	var issues []Issue
	if (c.Min != nil || c.Max != nil) && !param.Type.IsNumeric() {
		issues = append(issues, issue("types", SeverityError, field, "min/max only apply to numeric types"))
	}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		issues = append(issues, issue("types", SeverityError, field, "min %v exceeds max %v", *c.Min, *c.Max))
	}
	stringLike := param.Type == TypeString || param.Type == TypeFile
	if (c.MinLength != nil || c.MaxLength != nil || c.Pattern != "") && !stringLike {
		issues = append(issues, issue("types", SeverityError, field, "length/pattern only apply to string and file types"))
	}
	if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
		issues = append(issues, issue("types", SeverityError, field, "min_length %d exceeds max_length %d", *c.MinLength, *c.MaxLength))
	}
	if c.Pattern != "" {
		if _, err := regexp.Compile(c.Pattern); err != nil {
			issues = append(issues, issue("types", SeverityError, field, "pattern does not compile: %v", err))
		}
	}
	if c.Enum != nil && len(c.Enum) == 0 {
		issues = append(issues, issue("types", SeverityError, field, "enum must not be empty"))
	}
	if c.Format != "" && param.Type != TypeFile {
		issues = append(issues, issue("types", SeverityError, field, "format only applies to file type"))
	}
	return issues
}

func checkResources(tpl *Template, _ Lookup) []Issue {
	var issues []Issue
	res := tpl.Requirements.Resources
	if res.GPU && res.VRAMGB <= 0 {
		issues = append(issues, issue("resources", SeverityError, "requirements.resources.vram_gb",
			"gpu templates must declare positive vram_gb"))
	}
	if res.VRAMGB > 24 {
		issues = append(issues, issue("resources", SeverityWarning, "requirements.resources.vram_gb",
			"vram_gb %.1f exceeds 24, few nodes can schedule this", res.VRAMGB))
	}
	if res.MemoryGB <= 0 {
		issues = append(issues, issue("resources", SeverityError, "requirements.resources.memory_gb",
			"memory_gb must be positive"))
	}
	seen := make(map[string]bool)
	for i, model := range tpl.Requirements.Models {
		field := fmt.Sprintf("requirements.models[%d]", i)
		if model.Hash != "" && !hashPattern.MatchString(model.Hash) {
			issues = append(issues, issue("resources", SeverityError, field,
				"model %q hash must be 64 hex characters", model.Name))
		}
		if seen[model.Name] {
			issues = append(issues, issue("resources", SeverityError, field,
				"model %q declared more than once", model.Name))
		}
		seen[model.Name] = true
	}
	return issues
}

func checkExamples(tpl *Template, _ Lookup) []Issue {
	var issues []Issue
	for i, example := range tpl.Examples {
		label := example.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		check := tpl.checkInputs(example.Inputs)
		for _, name := range check.missing {
			issues = append(issues, issue("examples", SeverityError, name,
				"example %s is missing required input %q", label, name))
		}
		for _, name := range check.unknown {
			issues = append(issues, issue("examples", SeverityWarning, name,
				"example %s sets unknown input %q", label, name))
		}
		for _, name := range sortedKeys(check.violations) {
			issues = append(issues, issue("examples", SeverityError, name,
				"example %s input %q %s", label, name, check.violations[name]))
		}
	}
	return issues
}

func checkDependencies(tpl *Template, lookup Lookup) []Issue {
	if tpl.Extends == "" {
		return nil
	}
	var issues []Issue
	visited := map[string]bool{tpl.Key(): true}
	ref := tpl.Extends
	for depth := 1; ref != ""; depth++ {
		if depth > maxExtendsDepth {
			issues = append(issues, issue("dependencies", SeverityError, "extends",
				"extends chain deeper than %d", maxExtendsDepth))
			break
		}
		id, version, ok := splitRef(ref)
		if !ok {
			issues = append(issues, issue("dependencies", SeverityError, "extends",
				"extends %q must use the form id@version", ref))
			break
		}
		parent, found := lookup.Resolve(id, version)
		if !found {
			issues = append(issues, issue("dependencies", SeverityError, "extends",
				"extends unknown template %q", ref))
			break
		}
		if visited[parent.Key()] {
			issues = append(issues, issue("dependencies", SeverityError, "extends",
				"extends cycle through %q", parent.Key()))
			break
		}
		visited[parent.Key()] = true
		ref = parent.Extends
	}
	return issues
}

func checkUniqueness(tpl *Template, lookup Lookup) []Issue {
	existing, ok := lookup.Resolve(tpl.ID, tpl.Version)
	if ok && existing != tpl && existing.SourcePath != tpl.SourcePath {
		return []Issue{issue("uniqueness", SeverityError, "",
			"template %s already registered from %s", tpl.Key(), existing.SourcePath)}
	}
	return nil
}

func splitRef(ref string) (id, version string, ok bool) {
	parts := strings.SplitN(ref, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func sortedParamNames(params map[string]Param) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
