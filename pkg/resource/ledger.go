// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package resource accounts for system capacity. The ledger tracks four
// dimensions (cpu cores, memory, vram, gpu count) and moves all of them
// atomically on allocate and release, so allocated never exceeds total in
// any dimension.
package resource

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
	"github.com/AMD-AGI/Backlot/pkg/model"
)

// workerRequirements is the static per-type allocation table.
var workerRequirements = map[model.WorkerType]model.Resources{
	model.WorkerTypeGeneral: {CPUCores: 2, MemoryGB: 4},
	model.WorkerTypeGPU:     {CPUCores: 2, MemoryGB: 4, VRAMGB: 8, GPUCount: 1},
	model.WorkerTypeCPU:     {CPUCores: 4, MemoryGB: 8},
	model.WorkerTypeIO:      {CPUCores: 1, MemoryGB: 2},
}

// RequirementsFor returns the allocation a worker of the given type needs.
// Unknown types get the general profile.
func RequirementsFor(workerType model.WorkerType) model.Resources {
	if req, ok := workerRequirements[workerType]; ok {
		return req
	}
	return workerRequirements[model.WorkerTypeGeneral]
}

// Allocation is a receipt for resources handed out by the ledger. Release
// accepts it once; later releases of the same receipt are no-ops.
type Allocation struct {
	ID          string           `json:"id"`
	WorkerType  model.WorkerType `json:"worker_type"`
	Resources   model.Resources  `json:"resources"`
	AllocatedAt time.Time        `json:"allocated_at"`
}

// Usage is a point-in-time capacity report.
type Usage struct {
	Total       model.Resources     `json:"total"`
	Allocated   model.Resources     `json:"allocated"`
	Free        model.Resources     `json:"free"`
	Utilization model.ResourceUsage `json:"utilization"`
}

// Ledger is the single authority on resource admission.
type Ledger struct {
	mu        sync.Mutex
	total     model.Resources
	allocated model.Resources
	open      map[string]model.Resources
}

// NewLedger creates a ledger over the given total capacity.
func NewLedger(total model.Resources) *Ledger {
	l := &Ledger{
		total: total,
		open:  make(map[string]model.Resources),
	}
	l.mu.Lock()
	l.report()
	l.mu.Unlock()
	return l
}

// CanAdmit reports whether a worker of the given type would fit right now.
// Advisory only; Allocate re-checks under the lock and remains the single
// authority.
func (l *Ledger) CanAdmit(workerType model.WorkerType) bool {
	req := RequirementsFor(workerType)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocated.Add(req).FitsIn(l.total)
}

// Allocate reserves the requirements for one worker of the given type. All
// four dimensions move together or not at all.
func (l *Ledger) Allocate(workerType model.WorkerType) (*Allocation, error) {
	req := RequirementsFor(workerType)
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.allocated.Add(req)
	if !next.FitsIn(l.total) {
		return nil, errors.NewInsufficientResources("cannot allocate worker resources").
			WithDetail("worker_type", string(workerType)).
			WithDetail("requested", req).
			WithDetail("allocated", l.allocated).
			WithDetail("total", l.total)
	}
	alloc := &Allocation{
		ID:          uuid.NewString(),
		WorkerType:  workerType,
		Resources:   req,
		AllocatedAt: time.Now(),
	}
	l.allocated = next
	l.open[alloc.ID] = req
	l.report()
	log.WithFields(log.Fields{"allocation_id": alloc.ID, "worker_type": workerType}).
		Debug("resources allocated")
	return alloc, nil
}

// Release returns an allocation to the pool. Unknown or already released
// receipts are ignored so shutdown paths can release unconditionally.
func (l *Ledger) Release(alloc *Allocation) {
	if alloc == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.open[alloc.ID]
	if !ok {
		return
	}
	delete(l.open, alloc.ID)
	l.allocated = l.allocated.Sub(req)
	l.report()
}

// Totals returns the fixed system capacity.
func (l *Ledger) Totals() model.Resources {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Allocated returns the currently reserved sum.
func (l *Ledger) Allocated() model.Resources {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocated
}

// FitsTotal reports whether a requirement could ever be satisfied, ignoring
// current allocations. Submission uses this to reject impossible tasks
// instead of parking them forever.
func (l *Ledger) FitsTotal(req model.Resources) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return req.FitsIn(l.total)
}

// Snapshot returns totals, allocations and per-dimension utilization.
func (l *Ledger) Snapshot() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	free := l.total.Sub(l.allocated)
	util := model.ResourceUsage{
		"cpu_cores": ratio(l.allocated.CPUCores, l.total.CPUCores),
		"memory_gb": ratio(l.allocated.MemoryGB, l.total.MemoryGB),
		"vram_gb":   ratio(l.allocated.VRAMGB, l.total.VRAMGB),
		"gpu_count": ratio(float64(l.allocated.GPUCount), float64(l.total.GPUCount)),
	}
	return Usage{Total: l.total, Allocated: l.allocated, Free: free, Utilization: util}
}

// report requires l.mu.
func (l *Ledger) report() {
	metrics.LedgerAllocated.Set(l.allocated.CPUCores, "cpu_cores")
	metrics.LedgerAllocated.Set(l.allocated.MemoryGB, "memory_gb")
	metrics.LedgerAllocated.Set(l.allocated.VRAMGB, "vram_gb")
	metrics.LedgerAllocated.Set(float64(l.allocated.GPUCount), "gpu_count")
}

func ratio(used, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return used / total
}
