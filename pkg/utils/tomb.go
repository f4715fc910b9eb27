// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package utils

import "sync"

// Tomb controls the lifecycle of a background goroutine: the owner calls
// Stop, the goroutine selects on Stopping and calls Done on exit.
type Tomb struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewTomb creates a new tomb.
func NewTomb() *Tomb {
	return &Tomb{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Stop signals the goroutine to stop and waits until it has finished.
// Safe to call more than once.
func (t *Tomb) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.done
}

// Stopping is used by the goroutine to tell whether it should stop.
func (t *Tomb) Stopping() <-chan struct{} {
	return t.stop
}

// Done is used by the goroutine to inform that it has stopped.
func (t *Tomb) Done() {
	close(t.done)
}

func (t *Tomb) IsStopped() bool {
	return IsChannelClosed(t.stop)
}

// IsChannelClosed reports whether ch is closed without blocking.
func IsChannelClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
