// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewAtIntervals(t *testing.T) {
	tr, _ := newTestTracker()
	pv := NewPreviewer(tr, nil)
	ctx := context.Background()

	_, err := tr.Create(ctx, "t1", "image_gen", "image", "", nil)
	require.NoError(t, err)

	// generation stage within tolerance of 25%
	p, err := tr.UpdateStage(ctx, "t1", 2, StageInProgress, 0.26, "", nil)
	require.NoError(t, err)
	url, generated := pv.Observe(ctx, p)
	assert.True(t, generated)
	assert.Equal(t, "previews/t1/generation_25.png", url)

	// same interval again: deduplicated
	p, err = tr.UpdateStage(ctx, "t1", 2, StageInProgress, 0.24, "", nil)
	require.NoError(t, err)
	_, generated = pv.Observe(ctx, p)
	assert.False(t, generated)

	// next interval fires
	p, err = tr.UpdateStage(ctx, "t1", 2, StageInProgress, 0.5, "", nil)
	require.NoError(t, err)
	url, generated = pv.Observe(ctx, p)
	assert.True(t, generated)
	assert.Equal(t, "previews/t1/generation_50.png", url)

	got, err := tr.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, url, got.PreviewURL)
}

func TestPreviewSkipsOffIntervalProgress(t *testing.T) {
	tr, _ := newTestTracker()
	pv := NewPreviewer(tr, nil)
	ctx := context.Background()

	_, err := tr.Create(ctx, "t1", "image_gen", "image", "", nil)
	require.NoError(t, err)
	p, err := tr.UpdateStage(ctx, "t1", 2, StageInProgress, 0.40, "", nil)
	require.NoError(t, err)

	_, generated := pv.Observe(ctx, p)
	assert.False(t, generated)
}

func TestPreviewSkipsNonPreviewStagesAndCategories(t *testing.T) {
	tr, _ := newTestTracker()
	pv := NewPreviewer(tr, nil)
	ctx := context.Background()

	// preparation is not a preview stage
	_, err := tr.Create(ctx, "t1", "image_gen", "image", "", nil)
	require.NoError(t, err)
	p, err := tr.UpdateStage(ctx, "t1", 1, StageInProgress, 0.5, "", nil)
	require.NoError(t, err)
	_, generated := pv.Observe(ctx, p)
	assert.False(t, generated)

	// text tasks never preview even in the execution stage
	_, err = tr.Create(ctx, "t2", "text_gen", "text", "", nil)
	require.NoError(t, err)
	p, err = tr.UpdateStage(ctx, "t2", 2, StageInProgress, 0.5, "", nil)
	require.NoError(t, err)
	_, generated = pv.Observe(ctx, p)
	assert.False(t, generated)
}

func TestPreviewForget(t *testing.T) {
	tr, _ := newTestTracker()
	pv := NewPreviewer(tr, nil)
	ctx := context.Background()

	_, err := tr.Create(ctx, "t1", "video_gen", "video", "", nil)
	require.NoError(t, err)
	p, err := tr.UpdateStage(ctx, "t1", 2, StageInProgress, 0.75, "", nil)
	require.NoError(t, err)

	_, generated := pv.Observe(ctx, p)
	assert.True(t, generated)

	pv.Forget("t1")
	_, generated = pv.Observe(ctx, p)
	assert.True(t, generated, "bookkeeping reset allows regeneration")
}
