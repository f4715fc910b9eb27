// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"sigs.k8s.io/yaml"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
)

// Registry is the authoritative set of loaded templates, keyed
// "{id}@{version}". Every mutation goes through validation.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	validator *Validator
}

// NewRegistry creates an empty registry.
func NewRegistry(validator *Validator) *Registry {
	return &Registry{
		templates: make(map[string]*Template),
		validator: validator,
	}
}

// Resolve implements Lookup against registered templates.
func (r *Registry) Resolve(id, version string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[id+"@"+version]
	return tpl, ok
}

// batchLookup resolves against the registry plus a batch being loaded, so
// load order within one scan does not matter.
type batchLookup struct {
	registry *Registry
	batch    map[string]*Template
}

func (l batchLookup) Resolve(id, version string) (*Template, bool) {
	if tpl, ok := l.batch[id+"@"+version]; ok {
		return tpl, true
	}
	return l.registry.Resolve(id, version)
}

// LoadDirs scans directories for template files and registers every file
// that passes validation. Files that fail are logged and skipped; a missing
// directory is not fatal.
func (r *Registry) LoadDirs(dirs []string) error {
	var paths []string
	for _, dir := range dirs {
		found, err := scanDir(dir)
		if err != nil {
			log.Warnf("skipping template dir %s: %v", dir, err)
			continue
		}
		paths = append(paths, found...)
	}
	sort.Strings(paths)

	batch := make(map[string]*Template)
	var parsed []*Template
	for _, path := range paths {
		tpl, err := parseFile(path)
		if err != nil {
			log.WithError(err).Errorf("failed to parse template file %s", path)
			continue
		}
		batch[tpl.Key()] = tpl
		parsed = append(parsed, tpl)
	}

	lookup := batchLookup{registry: r, batch: batch}
	loaded := 0
	for _, tpl := range parsed {
		result := r.validator.Validate(tpl, lookup)
		logIssues(tpl, result)
		if !result.Valid {
			continue
		}
		r.register(tpl)
		loaded++
	}
	log.Infof("template registry loaded %d of %d files from %v", loaded, len(paths), dirs)
	return nil
}

// LoadFile parses, validates and registers a single file, replacing
// whatever that file contributed before. Validation failure keeps the
// previous registration and returns the issue list.
func (r *Registry) LoadFile(path string) error {
	tpl, err := parseFile(path)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("parse template file %s", path))
	}
	result := r.validator.Validate(tpl, r)
	logIssues(tpl, result)
	if !result.Valid {
		return errors.NewValidationError(fmt.Sprintf("template %s failed validation", tpl.Key())).
			WithDetail("issues", result.Errors()).
			WithDetail("path", path)
	}
	r.mu.Lock()
	r.removePathLocked(path)
	r.mu.Unlock()
	r.register(tpl)
	return nil
}

// RemovePath drops every template the file contributed. Used when the
// watcher sees a deletion.
func (r *Registry) RemovePath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePathLocked(path)
}

// removePathLocked requires r.mu.
func (r *Registry) removePathLocked(path string) {
	for key, tpl := range r.templates {
		if tpl.SourcePath == path {
			delete(r.templates, key)
			log.Infof("template %s removed (source %s)", key, path)
		}
	}
}

func (r *Registry) register(tpl *Template) {
	r.mu.Lock()
	r.templates[tpl.Key()] = tpl
	r.mu.Unlock()
	log.WithFields(log.Fields{"template": tpl.Key(), "category": tpl.Category}).
		Debug("template registered")
}

// Get returns a template by id, resolving an empty version to the highest
// registered semver.
func (r *Registry) Get(id, version string) (*Template, error) {
	if version != "" {
		tpl, ok := r.Resolve(id, version)
		if !ok {
			return nil, errors.NewResourceNotFound(fmt.Sprintf("template %s@%s not found", id, version)).
				WithDetail("resource_type", "template")
		}
		return tpl, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Template
	var latestVersion *semver.Version
	for _, tpl := range r.templates {
		if tpl.ID != id {
			continue
		}
		v, err := semver.StrictNewVersion(tpl.Version)
		if err != nil {
			continue
		}
		if latestVersion == nil || v.GreaterThan(latestVersion) {
			latest = tpl
			latestVersion = v
		}
	}
	if latest == nil {
		return nil, errors.NewResourceNotFound(fmt.Sprintf("template %s not found", id)).
			WithDetail("resource_type", "template")
	}
	return latest, nil
}

// List returns the info view of templates matching the filter, ordered by
// id then version.
func (r *Registry) List(filter ListFilter) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var infos []Info
	for _, tpl := range r.templates {
		if filter.matches(tpl) {
			infos = append(infos, tpl.Info())
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ID != infos[j].ID {
			return infos[i].ID < infos[j].ID
		}
		return semverLess(infos[i].Version, infos[j].Version)
	})
	return infos
}

// Versions returns the registered versions of an id in ascending order.
func (r *Registry) Versions(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var versions []string
	for _, tpl := range r.templates {
		if tpl.ID == id {
			versions = append(versions, tpl.Version)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return semverLess(versions[i], versions[j]) })
	return versions
}

// Reload re-reads a registered template from its source file.
func (r *Registry) Reload(id, version string) error {
	tpl, ok := r.Resolve(id, version)
	if !ok {
		return errors.NewResourceNotFound(fmt.Sprintf("template %s@%s not found", id, version)).
			WithDetail("resource_type", "template")
	}
	return r.LoadFile(tpl.SourcePath)
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

func logIssues(tpl *Template, result *Result) {
	for _, iss := range result.Issues {
		fields := log.Fields{"template": tpl.Key(), "stage": iss.Stage, "field": iss.Field}
		switch iss.Severity {
		case SeverityCritical, SeverityError:
			log.WithFields(fields).Error(iss.Message)
		case SeverityWarning:
			log.WithFields(fields).Warn(iss.Message)
		default:
			log.WithFields(fields).Debug(iss.Message)
		}
	}
}

// parseFile reads one template from a YAML or JSON file.
func parseFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tpl := &Template{}
	if err := yaml.Unmarshal(data, tpl); err != nil {
		return nil, err
	}
	tpl.SourcePath = path
	tpl.LoadedAt = time.Now()
	return tpl, nil
}

// scanDir lists template files in one directory, skipping dotfiles.
func scanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if isTemplateFile(entry.Name()) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths, nil
}

func isTemplateFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func isStrictSemver(v string) bool {
	_, err := semver.StrictNewVersion(v)
	return err == nil
}

func semverLess(a, b string) bool {
	va, errA := semver.StrictNewVersion(a)
	vb, errB := semver.StrictNewVersion(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return va.LessThan(vb)
}
