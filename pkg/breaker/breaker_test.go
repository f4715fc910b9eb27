// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package breaker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Backlot/pkg/errors"
)

var errDown = fmt.Errorf("connection refused")

func failNTimes(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Do(func() error { return errDown })
		require.ErrorIs(t, err, errDown)
	}
}

func TestOpensAtFailureThreshold(t *testing.T) {
	b := New("comfyui", 3, 2, time.Minute)

	failNTimes(t, b, 2)
	assert.Equal(t, StateClosed, b.State())

	failNTimes(t, b, 1)
	assert.Equal(t, StateOpen, b.State())

	// Open breaker rejects without running the function.
	ran := false
	err := b.Do(func() error { ran = true; return nil })
	require.Error(t, err)
	assert.False(t, ran)
	assert.True(t, errors.IsCode(err, errors.CodeCircuitBreakerOpen))
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("storage", 3, 2, time.Minute)

	failNTimes(t, b, 2)
	require.NoError(t, b.Do(func() error { return nil }))
	failNTimes(t, b, 2)
	assert.Equal(t, StateClosed, b.State(), "failures are only counted consecutively")
}

func TestHalfOpenRecovery(t *testing.T) {
	b := New("external_api", 2, 2, 50*time.Millisecond)
	failNTimes(t, b, 2)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State(), "one success is below success_threshold")

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	snap := b.Snapshot()
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, 0, snap.SuccessCount)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("gpu_allocation", 2, 2, 50*time.Millisecond)
	failNTimes(t, b, 2)

	time.Sleep(60 * time.Millisecond)
	err := b.Do(func() error { return errDown })
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, StateOpen, b.State())

	// The failed probe set a fresh last_failure, so the breaker rejects again.
	err = b.Do(func() error { return nil })
	assert.True(t, errors.IsCode(err, errors.CodeCircuitBreakerOpen))
}

func TestHalfOpenSingleProbe(t *testing.T) {
	b := New("default", 1, 1, 10*time.Millisecond)
	failNTimes(t, b, 1)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error { <-release; return nil })
	}()

	// Wait for the probe to be admitted, then try a second call.
	require.Eventually(t, func() bool {
		return b.Snapshot().State == StateHalfOpen
	}, time.Second, time.Millisecond)

	err := b.Do(func() error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCircuitBreakerOpen))

	close(release)
	require.NoError(t, <-done)
}

func TestManualReset(t *testing.T) {
	b := New("comfyui", 1, 2, time.Hour)
	failNTimes(t, b, 1)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Do(func() error { return nil }))

	snap := b.Snapshot()
	assert.Equal(t, uint64(1), snap.TotalOpens, "lifetime counters survive reset")
	assert.Equal(t, uint64(2), snap.TotalCalls)
}

func TestLifetimeCounters(t *testing.T) {
	b := New("storage", 2, 1, time.Hour)
	require.NoError(t, b.Do(func() error { return nil }))
	failNTimes(t, b, 2)
	_ = b.Do(func() error { return nil }) // rejected

	snap := b.Snapshot()
	assert.Equal(t, uint64(3), snap.TotalCalls)
	assert.Equal(t, uint64(1), snap.TotalSuccesses)
	assert.Equal(t, uint64(2), snap.TotalFailures)
	assert.Equal(t, uint64(1), snap.TotalRejections)
	assert.Equal(t, uint64(1), snap.TotalOpens)
}

func TestManagerCreatesDefaultsAndDynamicKeys(t *testing.T) {
	m := NewManager(5, 2, 30*time.Second)

	snaps := m.Snapshots()
	names := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		names = append(names, snap.Service)
	}
	assert.ElementsMatch(t, DefaultServices, names)

	dynamic := m.Get("upscaler")
	assert.Same(t, dynamic, m.Get("upscaler"))
	assert.Len(t, m.Snapshots(), len(DefaultServices)+1)

	assert.Same(t, m.Get("default"), m.Get(""))
}

func TestManagerReset(t *testing.T) {
	m := NewManager(1, 1, time.Hour)
	b := m.Get("comfyui")
	failNTimes(t, b, 1)
	require.Equal(t, StateOpen, b.State())

	assert.False(t, m.Reset("nonexistent"))
	assert.True(t, m.Reset("comfyui"))
	assert.Equal(t, StateClosed, b.State())
}
