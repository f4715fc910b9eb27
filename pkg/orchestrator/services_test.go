// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/faults"
)

func TestTakeNumbersAreMonotonicPerShot(t *testing.T) {
	takes := NewMemoryTakes()
	ctx := context.Background()

	first, err := takes.CreateTake(ctx, "p1", "s1", "t1", map[string]interface{}{"image": "a.png"}, nil)
	require.NoError(t, err)
	second, err := takes.CreateTake(ctx, "p1", "s1", "t2", map[string]interface{}{"image": "b.png"}, nil)
	require.NoError(t, err)
	otherShot, err := takes.CreateTake(ctx, "p1", "s2", "t3", nil, nil)
	require.NoError(t, err)
	otherProject, err := takes.CreateTake(ctx, "p2", "s1", "t4", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Number)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, 1, otherShot.Number)
	assert.Equal(t, 1, otherProject.Number)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "t1", first.TaskID)

	shot := takes.Takes("p1", "s1")
	require.Len(t, shot, 2)
	assert.Equal(t, []int{1, 2}, []int{shot[0].Number, shot[1].Number})
}

func TestTakeNumberingUnderContention(t *testing.T) {
	takes := NewMemoryTakes()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := takes.CreateTake(ctx, "p", "s", "t", nil, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, take := range takes.Takes("p", "s") {
		assert.False(t, seen[take.Number], "take number %d assigned twice", take.Number)
		seen[take.Number] = true
	}
	assert.Len(t, seen, n)
}

func TestWorkspaceProjectsAndAssets(t *testing.T) {
	ws := NewMemoryWorkspace("/data/workspace")
	ctx := context.Background()

	_, err := ws.GetProject(ctx, "p1")
	assert.True(t, errors.IsCode(err, errors.CodeResourceNotFound))

	p := ws.CreateProject("p1", "Demo")
	assert.Equal(t, filepath.Join("/data/workspace", "p1"), p.Root)

	got, err := ws.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Demo", got.Name)

	require.NoError(t, ws.AddAsset("p1", "ref", filepath.Join("assets", "ref.png")))
	path, err := ws.ResolveAsset(ctx, "p1", "ref")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/workspace", "p1", "assets", "ref.png"), path)

	_, err = ws.ResolveAsset(ctx, "p1", "ghost")
	assert.True(t, errors.IsCode(err, errors.CodeResourceNotFound))
	_, err = ws.ResolveAsset(ctx, "p2", "ref")
	assert.True(t, errors.IsCode(err, errors.CodeResourceNotFound))
	assert.Error(t, ws.AddAsset("p2", "ref", "x"))
}

func TestLogBackedNotifications(t *testing.T) {
	// log-backed defaults must absorb any payload without panicking
	LogNotifier{}.NotifyError("t1", "inputs rejected", faults.SeverityLow)
	LogAlerter{}.SendAlert(faults.SeverityCritical, "queue stalled", map[string]interface{}{"depth": 12})
	LogAlerter{}.SendAlert(faults.SeverityMedium, "recovering", nil)
}
