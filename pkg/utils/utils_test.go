// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package utils

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestTombLifecycle(t *testing.T) {
	tomb := NewTomb()
	started := make(chan struct{})
	go func() {
		defer tomb.Done()
		close(started)
		<-tomb.Stopping()
	}()
	<-started

	assert.Equal(t, tomb.IsStopped(), false)
	tomb.Stop()
	assert.Equal(t, tomb.IsStopped(), true)

	// second Stop must not panic
	tomb.Stop()
}

func TestFixedRetry(t *testing.T) {
	var calls int32
	err := FixedRetry(func() error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return fmt.Errorf("not yet")
		}
		return nil
	}, 5, time.Millisecond)
	assert.NilError(t, err)
	assert.Equal(t, atomic.LoadInt32(&calls), int32(3))
}

func TestFixedRetryExhausted(t *testing.T) {
	var calls int32
	err := FixedRetry(func() error {
		atomic.AddInt32(&calls, 1)
		return fmt.Errorf("always")
	}, 3, time.Millisecond)
	assert.ErrorContains(t, err, "always")
	assert.Equal(t, atomic.LoadInt32(&calls), int32(3))
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	var calls int32
	err := Retry(func() error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	}, time.Second, 10*time.Millisecond)
	assert.NilError(t, err)
}

func TestExec(t *testing.T) {
	var ok int32
	successes, err := Exec(8, func() error {
		atomic.AddInt32(&ok, 1)
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, successes, 8)
	assert.Equal(t, atomic.LoadInt32(&ok), int32(8))
}

func TestExecCollectsFirstError(t *testing.T) {
	var n int32
	successes, err := Exec(4, func() error {
		if atomic.AddInt32(&n, 1)%2 == 0 {
			return fmt.Errorf("even failure")
		}
		return nil
	})
	assert.ErrorContains(t, err, "even failure")
	assert.Equal(t, successes, 2)
}

func TestForEach(t *testing.T) {
	var sum int32
	err := ForEach([]int32{1, 2, 3, 4}, func(v int32) error {
		atomic.AddInt32(&sum, v)
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, atomic.LoadInt32(&sum), int32(10))
}
