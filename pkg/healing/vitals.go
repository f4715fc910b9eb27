// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package healing

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/AMD-AGI/Backlot/pkg/log"
)

// Vitals is a point-in-time host utilization sample feeding the resource
// pressure checks. All values are percentages in [0,100].
type Vitals struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskPercent      float64 `json:"disk_percent"`
	WorkspacePercent float64 `json:"workspace_percent"`
}

// VitalsFunc produces a Vitals sample. The default implementation reads the
// host through gopsutil; tests inject fixed samples.
type VitalsFunc func(ctx context.Context) (Vitals, error)

// SystemVitals samples host CPU, memory and disk utilization. workspaceDir
// scopes the workspace reading to the volume holding project artifacts.
// Probe failures for individual dimensions leave that dimension at zero so
// a missing workspace mount never raises a false pressure issue.
func SystemVitals(workspaceDir string) VitalsFunc {
	return func(ctx context.Context) (Vitals, error) {
		var v Vitals
		if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
			v.CPUPercent = percents[0]
		} else if err != nil {
			log.WithError(err).Debug("cpu sample failed")
		}
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			v.MemoryPercent = vm.UsedPercent
		} else {
			log.WithError(err).Debug("memory sample failed")
		}
		if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
			v.DiskPercent = du.UsedPercent
		} else {
			log.WithError(err).Debug("disk sample failed")
		}
		if workspaceDir != "" {
			if du, err := disk.UsageWithContext(ctx, workspaceDir); err == nil {
				v.WorkspacePercent = du.UsedPercent
			} else {
				log.WithError(err).Debug("workspace sample failed")
			}
		}
		return v, nil
	}
}
