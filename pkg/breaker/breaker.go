// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package breaker guards calls to downstream services. Each service key has
// its own breaker moving between closed, open and half_open. Open breakers
// reject immediately until the recovery timeout elapses, then admit probes
// one at a time until enough of them succeed to close again.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
)

// State is the breaker FSM state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func (s State) gaugeValue() float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Snapshot is the admin view of one breaker.
type Snapshot struct {
	Service          string     `json:"service"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	SuccessCount     int        `json:"success_count"`
	LastFailure      *time.Time `json:"last_failure,omitempty"`
	FailureThreshold int        `json:"failure_threshold"`
	SuccessThreshold int        `json:"success_threshold"`
	RecoveryTimeout  string     `json:"recovery_timeout"`
	TotalCalls       uint64     `json:"total_calls"`
	TotalSuccesses   uint64     `json:"total_successes"`
	TotalFailures    uint64     `json:"total_failures"`
	TotalRejections  uint64     `json:"total_rejections"`
	TotalOpens       uint64     `json:"total_opens"`
}

// Breaker is the FSM for one service key.
type Breaker struct {
	mu      sync.Mutex
	service string
	state   State

	failureCount int
	successCount int
	lastFailure  time.Time
	probing      bool

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	totalCalls      uint64
	totalSuccesses  uint64
	totalFailures   uint64
	totalRejections uint64
	totalOpens      uint64
}

// New creates a closed breaker for a service.
func New(service string, failureThreshold, successThreshold int, recoveryTimeout time.Duration) *Breaker {
	b := &Breaker{
		service:          service,
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
	metrics.BreakerState.Set(StateClosed.gaugeValue(), service)
	return b
}

// Do runs fn under the breaker. When the breaker rejects the call, the
// returned error carries CIRCUIT_BREAKER_OPEN and fn never runs; otherwise
// fn's own error is passed through after being recorded.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err == nil)
	return err
}

// before decides admission and performs the open → half_open transition.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.recoveryTimeout {
			b.totalRejections++
			return errors.NewCircuitBreakerOpen(
				fmt.Sprintf("service %s unavailable, circuit breaker open", b.service)).
				WithDetail("service", b.service).
				WithDetail("retry_after", b.lastFailure.Add(b.recoveryTimeout))
		}
		b.setState(StateHalfOpen)
		b.successCount = 0
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.totalRejections++
			return errors.NewCircuitBreakerOpen(
				fmt.Sprintf("service %s recovering, probe in flight", b.service)).
				WithDetail("service", b.service)
		}
		b.probing = true
	}
	b.totalCalls++
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
	if success {
		b.totalSuccesses++
		switch b.state {
		case StateHalfOpen:
			b.successCount++
			if b.successCount >= b.successThreshold {
				b.setState(StateClosed)
				b.failureCount = 0
				b.successCount = 0
				log.Infof("circuit breaker %s recovered, closing", b.service)
			}
		case StateClosed:
			b.failureCount = 0
		}
		return
	}

	b.totalFailures++
	b.lastFailure = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.trip("probe failed")
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.trip(fmt.Sprintf("%d consecutive failures", b.failureCount))
		}
	}
}

// trip requires b.mu.
func (b *Breaker) trip(reason string) {
	b.setState(StateOpen)
	b.successCount = 0
	b.totalOpens++
	metrics.BreakerOpens.Inc(b.service)
	log.WithFields(log.Fields{"service": b.service, "reason": reason}).
		Warn("circuit breaker opened")
}

// setState requires b.mu.
func (b *Breaker) setState(state State) {
	b.state = state
	metrics.BreakerState.Set(state.gaugeValue(), b.service)
}

// Reset forces the breaker closed and zeros the FSM counters. Lifetime
// counters survive so analytics keep their history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.probing = false
	log.Infof("circuit breaker %s manually reset", b.service)
}

// State returns the current FSM state, applying the time-based
// open → half_open transition lazily.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.recoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns the admin view.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		Service:          b.service,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		FailureThreshold: b.failureThreshold,
		SuccessThreshold: b.successThreshold,
		RecoveryTimeout:  b.recoveryTimeout.String(),
		TotalCalls:       b.totalCalls,
		TotalSuccesses:   b.totalSuccesses,
		TotalFailures:    b.totalFailures,
		TotalRejections:  b.totalRejections,
		TotalOpens:       b.totalOpens,
	}
	if !b.lastFailure.IsZero() {
		failure := b.lastFailure
		snap.LastFailure = &failure
	}
	return snap
}
