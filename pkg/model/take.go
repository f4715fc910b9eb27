// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package model

import "time"

// Take is an immutable, numbered artifact version produced by one
// successfully completed task. Numbers are monotonic per shot, starting at 1.
type Take struct {
	ID        string                 `json:"id"`
	TaskID    string                 `json:"task_id"`
	ProjectID string                 `json:"project_id"`
	ShotID    string                 `json:"shot_id,omitempty"`
	Number    int                    `json:"number"`
	Outputs   map[string]interface{} `json:"outputs"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
