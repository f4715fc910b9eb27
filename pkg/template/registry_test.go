// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package template

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Backlot/pkg/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(NewValidator(time.Minute))
	require.NoError(t, r.LoadDirs([]string{"testdata"}))
	return r
}

func writeTemplateFile(t *testing.T, dir, file, id, version, name string) string {
	t.Helper()
	content := fmt.Sprintf(`id: %s
version: %s
name: %s
category: text
interface:
  inputs:
    prompt:
      type: string
      required: true
  outputs:
    text:
      type: string
requirements:
  resources:
    cpu_cores: 1
    memory_gb: 4
`, id, version, name)
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDirs(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, 3, r.Count())

	tpl, err := r.Get("image_gen", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "Image Generation", tpl.Name)
	assert.Equal(t, "image", tpl.Category)
	assert.True(t, tpl.Requirements.Resources.GPU)
	require.Len(t, tpl.Requirements.Models, 1)
	assert.Equal(t, "sdxl_base_1.0", tpl.Requirements.Models[0].Name)
}

func TestLoadDirsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.LoadDirs([]string{"testdata"}))
	assert.Equal(t, 3, r.Count())
}

func TestGetLatestVersion(t *testing.T) {
	r := newTestRegistry(t)

	tpl, err := r.Get("image_gen", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", tpl.Version)

	_, err = r.Get("mesh_gen", "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeResourceNotFound))

	_, err = r.Get("image_gen", "9.9.9")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeResourceNotFound))
}

func TestVersionsSorted(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, r.Versions("image_gen"))
	assert.Empty(t, r.Versions("mesh_gen"))
}

func TestListFilters(t *testing.T) {
	r := newTestRegistry(t)

	assert.Len(t, r.List(ListFilter{}), 3)
	assert.Len(t, r.List(ListFilter{Category: "image"}), 2)
	assert.Len(t, r.List(ListFilter{Category: "video"}), 1)
	assert.Len(t, r.List(ListFilter{Tags: []string{"sdxl"}}), 2)
	assert.Empty(t, r.List(ListFilter{Category: "audio"}))

	infos := r.List(ListFilter{Category: "image"})
	assert.Equal(t, "1.0.0", infos[0].Version)
	assert.Equal(t, "1.1.0", infos[1].Version)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	r := NewRegistry(NewValidator(time.Minute))
	dir := t.TempDir()

	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: broken\nversion: 1.0.0\n"), 0o644))

	err := r.LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
	assert.Equal(t, 0, r.Count())
}

func TestLoadFileKeepsPreviousOnFailure(t *testing.T) {
	r := NewRegistry(NewValidator(time.Minute))
	dir := t.TempDir()

	path := writeTemplateFile(t, dir, "caption.yaml", "caption_gen", "1.0.0", "Caption")
	require.NoError(t, r.LoadFile(path))

	require.NoError(t, os.WriteFile(path, []byte("{nonsense"), 0o644))
	require.Error(t, r.LoadFile(path))

	tpl, err := r.Get("caption_gen", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "Caption", tpl.Name)
}

func TestReload(t *testing.T) {
	r := NewRegistry(NewValidator(time.Minute))
	dir := t.TempDir()

	path := writeTemplateFile(t, dir, "caption.yaml", "caption_gen", "1.0.0", "First")
	require.NoError(t, r.LoadFile(path))

	writeTemplateFile(t, dir, "caption.yaml", "caption_gen", "1.0.0", "Second")
	require.NoError(t, r.Reload("caption_gen", "1.0.0"))

	tpl, err := r.Get("caption_gen", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "Second", tpl.Name)

	err = r.Reload("caption_gen", "2.0.0")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeResourceNotFound))
}

func TestRemovePath(t *testing.T) {
	r := NewRegistry(NewValidator(time.Minute))
	dir := t.TempDir()

	path := writeTemplateFile(t, dir, "caption.yaml", "caption_gen", "1.0.0", "Caption")
	require.NoError(t, r.LoadFile(path))
	require.Equal(t, 1, r.Count())

	r.RemovePath(path)
	assert.Equal(t, 0, r.Count())
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "caption.yaml", "caption_gen", "1.0.0", "Caption")

	r := NewRegistry(NewValidator(time.Minute))
	require.NoError(t, r.LoadDirs([]string{dir}))
	require.Equal(t, 1, r.Count())

	w := NewWatcher(r, []string{dir})
	require.NoError(t, w.Start())
	defer w.Stop()

	// New file appears.
	writeTemplateFile(t, dir, "summary.yaml", "summary_gen", "1.0.0", "Summary")
	require.Eventually(t, func() bool { return r.Count() == 2 }, 5*time.Second, 100*time.Millisecond)

	// Existing file changes.
	writeTemplateFile(t, dir, "caption.yaml", "caption_gen", "1.0.0", "Renamed")
	require.Eventually(t, func() bool {
		tpl, err := r.Get("caption_gen", "1.0.0")
		return err == nil && tpl.Name == "Renamed"
	}, 5*time.Second, 100*time.Millisecond)

	// File disappears.
	require.NoError(t, os.Remove(filepath.Join(dir, "summary.yaml")))
	require.Eventually(t, func() bool { return r.Count() == 1 }, 5*time.Second, 100*time.Millisecond)
}

func TestWatcherStopWithoutStart(t *testing.T) {
	r := NewRegistry(NewValidator(time.Minute))
	w := NewWatcher(r, []string{t.TempDir()})

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked on a watcher that never started")
	}
}
