// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package model

import "time"

// SubmitRequest is one transport-agnostic submission.
type SubmitRequest struct {
	TemplateID    string                 `json:"template_id"`
	Version       string                 `json:"version,omitempty"`
	Inputs        map[string]interface{} `json:"inputs"`
	Quality       string                 `json:"quality,omitempty"`
	ProjectID     string                 `json:"project_id,omitempty"`
	ShotID        string                 `json:"shot_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	Priority      int                    `json:"priority,omitempty"`
	TimeoutSecond int                    `json:"timeout_second,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// SubmitReceipt acknowledges an accepted submission.
type SubmitReceipt struct {
	TaskID              string     `json:"task_id"`
	TrackingID          string     `json:"tracking_id"`
	Status              TaskStatus `json:"status"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// ListFilter narrows ListActive results. Zero values match everything.
type ListFilter struct {
	UserID    string `json:"user_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}
