// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/faults"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/model"
)

// TakesService files finished outputs as numbered takes. Numbers are
// monotonic per (project, shot) and start at 1.
type TakesService interface {
	CreateTake(ctx context.Context, projectID, shotID, taskID string,
		outputs, metadata map[string]interface{}) (*model.Take, error)
}

// MemoryTakes is the in-process takes service: a per-shot counter plus the
// take records themselves. Deployments with an asset-management backend
// replace it at wiring time.
type MemoryTakes struct {
	mu      sync.Mutex
	counter map[string]int
	takes   map[string][]*model.Take
}

// NewMemoryTakes returns an empty in-memory takes service.
func NewMemoryTakes() *MemoryTakes {
	return &MemoryTakes{
		counter: make(map[string]int),
		takes:   make(map[string][]*model.Take),
	}
}

func shotKey(projectID, shotID string) string {
	return projectID + "/" + shotID
}

// CreateTake files outputs under the next take number for the shot.
func (s *MemoryTakes) CreateTake(ctx context.Context, projectID, shotID, taskID string,
	outputs, metadata map[string]interface{}) (*model.Take, error) {
	key := shotKey(projectID, shotID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter[key]++
	take := &model.Take{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		ProjectID: projectID,
		ShotID:    shotID,
		Number:    s.counter[key],
		Outputs:   outputs,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	s.takes[key] = append(s.takes[key], take)

	log.WithFields(log.Fields{
		"project_id": projectID,
		"shot_id":    shotID,
		"take":       take.Number,
	}).Debug("take created")
	return take, nil
}

// Takes lists the takes filed for a shot, in creation order.
func (s *MemoryTakes) Takes(projectID, shotID string) []*model.Take {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.takes[shotKey(projectID, shotID)]
	out := make([]*model.Take, len(items))
	copy(out, items)
	return out
}

// Project is a workspace entry: a directory root plus the assets registered
// under it.
type Project struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Root      string            `json:"root"`
	Assets    map[string]string `json:"assets,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// WorkspaceService resolves projects and their asset references.
type WorkspaceService interface {
	GetProject(ctx context.Context, projectID string) (*Project, error)
	ResolveAsset(ctx context.Context, projectID, assetID string) (string, error)
}

// MemoryWorkspace is the in-process workspace service: a project table keyed
// by id, rooted under a base directory.
type MemoryWorkspace struct {
	mu       sync.RWMutex
	root     string
	projects map[string]*Project
}

// NewMemoryWorkspace returns a workspace rooted at dir.
func NewMemoryWorkspace(dir string) *MemoryWorkspace {
	return &MemoryWorkspace{
		root:     dir,
		projects: make(map[string]*Project),
	}
}

// CreateProject registers a project and returns its record.
func (w *MemoryWorkspace) CreateProject(id, name string) *Project {
	p := &Project{
		ID:        id,
		Name:      name,
		Root:      filepath.Join(w.root, id),
		Assets:    make(map[string]string),
		CreatedAt: time.Now(),
	}
	w.mu.Lock()
	w.projects[id] = p
	w.mu.Unlock()
	return p
}

// AddAsset registers an asset path (relative to the project root) under an
// asset id.
func (w *MemoryWorkspace) AddAsset(projectID, assetID, relPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.projects[projectID]
	if !ok {
		return errors.NewResourceNotFound("project not found").
			WithDetail("resource_type", "project").
			WithDetail("project_id", projectID)
	}
	p.Assets[assetID] = relPath
	return nil
}

// GetProject looks up a project by id.
func (w *MemoryWorkspace) GetProject(ctx context.Context, projectID string) (*Project, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.projects[projectID]
	if !ok {
		return nil, errors.NewResourceNotFound("project not found").
			WithDetail("resource_type", "project").
			WithDetail("project_id", projectID)
	}
	return p, nil
}

// ResolveAsset maps an asset id to its absolute path inside the project.
func (w *MemoryWorkspace) ResolveAsset(ctx context.Context, projectID, assetID string) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.projects[projectID]
	if !ok {
		return "", errors.NewResourceNotFound("project not found").
			WithDetail("resource_type", "project").
			WithDetail("project_id", projectID)
	}
	rel, ok := p.Assets[assetID]
	if !ok {
		return "", errors.NewResourceNotFound(
			fmt.Sprintf("asset %q not found in project %s", assetID, projectID)).
			WithDetail("resource_type", "asset").
			WithDetail("project_id", projectID)
	}
	return filepath.Join(p.Root, rel), nil
}

// LogNotifier reports user-facing task errors to the structured log. It
// stands in until a real notification channel is wired.
type LogNotifier struct{}

// NotifyError implements faults.Notifier.
func (LogNotifier) NotifyError(taskID, message string, severity faults.ErrorSeverity) {
	log.WithFields(log.Fields{
		"task_id":  taskID,
		"severity": string(severity),
	}).Warnf("user notification: %s", message)
}

// LogAlerter reports operator alerts to the structured log.
type LogAlerter struct{}

// SendAlert implements faults.Alerter.
func (LogAlerter) SendAlert(level faults.ErrorSeverity, message string, details map[string]interface{}) {
	entry := log.WithFields(log.Fields(details))
	switch level {
	case faults.SeverityCritical, faults.SeverityHigh:
		entry.Errorf("alert [%s]: %s", strings.ToUpper(string(level)), message)
	default:
		entry.Warnf("alert [%s]: %s", strings.ToUpper(string(level)), message)
	}
}
