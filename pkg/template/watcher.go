// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package template

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/utils"
)

// debounceWindow batches bursts of filesystem events into one reload.
const debounceWindow = time.Second

// Watcher reloads templates when their files change. Events are debounced,
// deletions unregister, everything else re-runs the load path.
type Watcher struct {
	registry *Registry
	dirs     []string
	watcher  *fsnotify.Watcher
	tomb     *utils.Tomb

	mu      sync.Mutex
	started bool
}

// NewWatcher creates a watcher over the given template directories.
func NewWatcher(registry *Registry, dirs []string) *Watcher {
	return &Watcher{
		registry: registry,
		dirs:     dirs,
		tomb:     utils.NewTomb(),
	}
}

// Start begins watching. Directories that cannot be watched are logged and
// skipped; Start fails only when no directory could be watched. A stopped
// watcher cannot be restarted.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started || w.tomb.IsStopped() {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	watched := 0
	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).Warnf("cannot watch template dir %s", dir)
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return errors.Newf("no watchable template dirs among %v", w.dirs)
	}
	w.mu.Lock()
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()
	go w.run()
	log.Infof("watching %d template dirs for changes", watched)
	return nil
}

// Stop ends the watch loop and waits for it to exit. Stopping a watcher
// that never started is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	started := w.started
	w.started = false
	watcher := w.watcher
	w.mu.Unlock()
	if watcher != nil {
		_ = watcher.Close()
	}
	if started {
		w.tomb.Stop()
	}
}

func (w *Watcher) run() {
	defer w.tomb.Done()

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.tomb.Stopping():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isTemplateFile(filepath.Base(ev.Name)) {
				continue
			}
			pending[ev.Name] |= ev.Op
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-fire:
			w.flush(pending)
			pending = make(map[string]fsnotify.Op)
			timer = nil
			fire = nil
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("template watcher error")
		}
	}
}

func (w *Watcher) flush(pending map[string]fsnotify.Op) {
	for path, op := range pending {
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			w.registry.RemovePath(path)
			continue
		}
		if err := w.registry.LoadFile(path); err != nil {
			log.WithError(err).Errorf("failed to reload template file %s", path)
		}
	}
}
