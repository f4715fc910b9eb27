// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package model

// Resources is a four-dimension compute quantity. All ledger accounting and
// template requirement checks move these dimensions together.
type Resources struct {
	CPUCores float64 `json:"cpu_cores"`
	MemoryGB float64 `json:"memory_gb"`
	VRAMGB   float64 `json:"vram_gb"`
	GPUCount int     `json:"gpu_count"`
}

// Add returns r grown by other.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		CPUCores: r.CPUCores + other.CPUCores,
		MemoryGB: r.MemoryGB + other.MemoryGB,
		VRAMGB:   r.VRAMGB + other.VRAMGB,
		GPUCount: r.GPUCount + other.GPUCount,
	}
}

// Sub returns r shrunk by other.
func (r Resources) Sub(other Resources) Resources {
	return Resources{
		CPUCores: r.CPUCores - other.CPUCores,
		MemoryGB: r.MemoryGB - other.MemoryGB,
		VRAMGB:   r.VRAMGB - other.VRAMGB,
		GPUCount: r.GPUCount - other.GPUCount,
	}
}

// FitsIn reports whether r fits inside capacity on every dimension.
func (r Resources) FitsIn(capacity Resources) bool {
	return r.CPUCores <= capacity.CPUCores &&
		r.MemoryGB <= capacity.MemoryGB &&
		r.VRAMGB <= capacity.VRAMGB &&
		r.GPUCount <= capacity.GPUCount
}

// IsZero reports whether every dimension is zero.
func (r Resources) IsZero() bool {
	return r.CPUCores == 0 && r.MemoryGB == 0 && r.VRAMGB == 0 && r.GPUCount == 0
}

// ResourceUsage is an opaque point-in-time usage snapshot reported by
// workers and attached to progress records.
type ResourceUsage map[string]float64
