// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Backlot/pkg/config"
	"github.com/AMD-AGI/Backlot/pkg/store"
	"github.com/AMD-AGI/Backlot/pkg/worker"
)

const testTemplate = `id: image_gen
version: 1.0.0
name: Image Generation
category: image
interface:
  inputs:
    prompt:
      type: string
      required: true
  outputs:
    image:
      type: file
requirements:
  resources:
    gpu: true
    vram_gb: 8
    cpu_cores: 2
    memory_gb: 8
`

func writeTemplate(t *testing.T, dir, file, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func TestNewStoreDrivers(t *testing.T) {
	mr := miniredis.RunT(t)
	config.SetValue("store.driver", "redis")
	config.SetValue("store.address", mr.Addr())
	st, err := newStore()
	require.NoError(t, err)
	_, isRedis := st.(*store.RedisStore)
	assert.True(t, isRedis)
	require.NoError(t, st.Close())

	config.SetValue("store.driver", "memory")
	st, err = newStore()
	require.NoError(t, err)
	_, isMemory := st.(*store.MemoryStore)
	assert.True(t, isMemory)

	config.SetValue("store.driver", "cassandra")
	_, err = newStore()
	assert.Error(t, err)
	config.SetValue("store.driver", "memory")
}

func TestRecoveryConfigFromGlobals(t *testing.T) {
	config.SetValue("recovery.base_delay_second", 2)
	config.SetValue("recovery.max_delay_second", 120)
	config.SetValue("recovery.jitter", 0.25)
	config.SetValue("recovery.wait_time_second", 60)

	cfg := recoveryConfig()
	assert.Equal(t, 2*time.Second, cfg.BaseDelay)
	assert.Equal(t, 120*time.Second, cfg.MaxDelay)
	assert.Equal(t, 0.25, cfg.Jitter)
	assert.Equal(t, time.Minute, cfg.WaitTime)
	// The requeue guard is not configurable and keeps its defaults.
	assert.Equal(t, 5*time.Minute, cfg.GuardWindow)
	assert.Equal(t, 5, cfg.GuardLimit)
}

func TestLogConfigMapping(t *testing.T) {
	config.SetValue("log.level", "debug")
	config.SetValue("log.format", "json")
	config.SetValue("log.max_backups", 9)

	cfg := logConfig()
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, 9, cfg.MaxBackups)

	config.SetValue("log.level", "info")
	config.SetValue("log.format", "text")
	config.SetValue("log.max_backups", 5)
}

func TestLedgerTotalsExplicit(t *testing.T) {
	config.SetValue("ledger.cpu_cores", 16)
	config.SetValue("ledger.memory_gb", 64)
	config.SetValue("ledger.vram_gb", 48)
	config.SetValue("ledger.gpu_count", 4)

	total := ledgerTotals(context.Background())
	assert.Equal(t, 16.0, total.CPUCores)
	assert.Equal(t, 64.0, total.MemoryGB)
	assert.Equal(t, 48.0, total.VRAMGB)
	assert.Equal(t, 4, total.GPUCount)
}

func TestLedgerTotalsDiscovery(t *testing.T) {
	config.SetValue("ledger.cpu_cores", 0)
	config.SetValue("ledger.memory_gb", 0)
	config.SetValue("ledger.vram_gb", 0)
	config.SetValue("ledger.gpu_count", 0)

	total := ledgerTotals(context.Background())
	assert.Greater(t, total.CPUCores, 0.0)
	assert.Greater(t, total.MemoryGB, 0.0)
	// No portable probe for these; zero means a CPU-only deployment.
	assert.Zero(t, total.VRAMGB)
	assert.Zero(t, total.GPUCount)
}

func TestExecutorSelection(t *testing.T) {
	config.SetValue("worker.endpoint", "http://engine.local:8188")
	_, isRemote := newExecutor().(*worker.RemoteExecutor)
	assert.True(t, isRemote)

	config.SetValue("worker.endpoint", "")
	_, isLocal := newExecutor().(*worker.LocalExecutor)
	assert.True(t, isLocal)
}

func TestDaemonBuildWiresPipeline(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "image_gen.yaml", testTemplate)

	config.SetValue("templates.dirs", dir)
	config.SetValue("templates.watch", true)
	config.SetValue("store.driver", "memory")
	config.SetValue("metrics.enable", false)
	config.SetValue("worker.endpoint", "")
	config.SetValue("workspace.dir", filepath.Join(t.TempDir(), "ws"))
	config.SetValue("ledger.cpu_cores", 8)
	config.SetValue("ledger.memory_gb", 16)
	config.SetValue("ledger.vram_gb", 8)
	config.SetValue("ledger.gpu_count", 1)

	d := &Daemon{opts: &Options{}}
	st, err := newStore()
	require.NoError(t, err)
	d.st = st
	require.NoError(t, d.build())
	d.isInited = true

	assert.Equal(t, 1, d.registry.Count())
	assert.NotNil(t, d.queue)
	assert.NotNil(t, d.orch)
	assert.NotNil(t, d.pool)
	assert.NotNil(t, d.healer)
	assert.NotNil(t, d.watcher)
	assert.Nil(t, d.metrics)

	// Stop on a built but never started daemon must return promptly.
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return on an unstarted daemon")
	}
}

func TestDaemonBuildSkipsBrokenTemplates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "broken.yaml", "id: [not a template")
	writeTemplate(t, dir, "good.yaml", testTemplate)

	config.SetValue("templates.dirs", dir)
	config.SetValue("store.driver", "memory")
	config.SetValue("metrics.enable", false)
	config.SetValue("workspace.dir", filepath.Join(t.TempDir(), "ws"))

	d := &Daemon{opts: &Options{}}
	st, err := newStore()
	require.NoError(t, err)
	d.st = st
	defer func() { _ = st.Close() }()
	require.NoError(t, d.build())
	assert.Equal(t, 1, d.registry.Count())
}
