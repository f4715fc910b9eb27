// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/store"
)

const (
	// workerKeyPrefix namespaces directory records in the shared store.
	workerKeyPrefix = "worker:"
	// workerRecordTTL expires records of workers that stop heartbeating, so
	// the directory self-cleans after a crash.
	workerRecordTTL = 5 * time.Minute
)

// Directory is the shared-store view of the worker fleet. The pool manager
// is the only writer; other processes read.
type Directory struct {
	store store.Store
}

// NewDirectory builds a directory over the shared store.
func NewDirectory(st store.Store) *Directory {
	return &Directory{store: st}
}

// Register writes the worker's record under its TTL'd key.
func (d *Directory) Register(ctx context.Context, w *model.Worker) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return errors.NewTaskError("failed to serialize worker record").
			WithError(err).WithDetail("worker_id", w.ID)
	}
	if err := d.store.Set(ctx, workerKeyPrefix+w.ID, string(raw), workerRecordTTL); err != nil {
		return errors.NewTaskError("failed to register worker").
			WithError(err).WithDetail("worker_id", w.ID)
	}
	return nil
}

// Heartbeat refreshes the record and its TTL.
func (d *Directory) Heartbeat(ctx context.Context, w *model.Worker) error {
	return d.Register(ctx, w)
}

// Unregister drops the worker's record.
func (d *Directory) Unregister(ctx context.Context, workerID string) error {
	return d.store.Delete(ctx, workerKeyPrefix+workerID)
}

// Get fetches one worker record.
func (d *Directory) Get(ctx context.Context, workerID string) (*model.Worker, bool, error) {
	raw, found, err := d.store.Get(ctx, workerKeyPrefix+workerID)
	if err != nil || !found {
		return nil, false, err
	}
	var w model.Worker
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, false, errors.NewTaskError("malformed worker record").
			WithError(err).WithDetail("worker_id", workerID)
	}
	return &w, true, nil
}

// List returns every live record in the directory.
func (d *Directory) List(ctx context.Context) ([]*model.Worker, error) {
	keys, err := d.store.Keys(ctx, workerKeyPrefix+"*")
	if err != nil {
		return nil, errors.NewTaskError("failed to list worker records").WithError(err)
	}
	workers := make([]*model.Worker, 0, len(keys))
	for _, key := range keys {
		raw, found, err := d.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var w model.Worker
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			log.Warnf("skipping malformed worker record %s: %v", key, err)
			continue
		}
		workers = append(workers, &w)
	}
	return workers, nil
}
