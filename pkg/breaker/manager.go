// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package breaker

import (
	"sort"
	"sync"
	"time"
)

// DefaultServices are the breakers created up front. Further keys are added
// on first use.
var DefaultServices = []string{"default", "comfyui", "storage", "gpu_allocation", "external_api"}

// Manager owns one breaker per service key.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
}

// NewManager creates the default breakers with shared thresholds.
func NewManager(failureThreshold, successThreshold int, recoveryTimeout time.Duration) *Manager {
	m := &Manager{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
	for _, service := range DefaultServices {
		m.breakers[service] = New(service, failureThreshold, successThreshold, recoveryTimeout)
	}
	return m
}

// Get returns the breaker for a service, creating it on first use. Empty
// service names map to the default breaker.
func (m *Manager) Get(service string) *Breaker {
	if service == "" {
		service = "default"
	}
	m.mu.RLock()
	b, ok := m.breakers[service]
	m.mu.RUnlock()
	if ok {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[service]; ok {
		return b
	}
	b = New(service, m.failureThreshold, m.successThreshold, m.recoveryTimeout)
	m.breakers[service] = b
	return b
}

// Reset forces one breaker closed. Returns false for unknown services.
func (m *Manager) Reset(service string) bool {
	m.mu.RLock()
	b, ok := m.breakers[service]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// ResetAll forces every breaker closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}

// Snapshots returns the admin view of every breaker, ordered by service.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Service < snaps[j].Service })
	return snaps
}
