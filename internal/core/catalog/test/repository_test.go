// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	test "github.com/jaycherian/gcp-go-video-search/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *catalog.Repository {
	t.Helper()
	config := test.NewTestConfig(t)
	repo, err := catalog.Open(config.Catalog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestVideoLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := open(t)

	v := model.NewVideo("lecture.mp4", "/uploads/lecture.mp4")
	v.ApplyProbe(&model.ProbeInfo{Duration: 9, FPS: 30, Width: 320, Height: 240, FrameCount: 270, HasAudio: true})
	require.NoError(t, repo.SaveVideo(ctx, v))

	got, err := repo.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "lecture.mp4", got.FileName)
	assert.Equal(t, 9.0, got.Duration)
	assert.Equal(t, model.VideoStatusUploaded, got.Status)

	require.NoError(t, repo.UpdateStatus(ctx, v.ID, model.VideoStatusError, "decode failed"))
	got, err = repo.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VideoStatusError, got.Status)
	assert.Equal(t, "decode failed", got.Error)

	_, err = repo.GetVideo(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", model.VideoStatusReady, ""), model.ErrNotFound)
}

func TestFramesAndSegmentsAreReplaced(t *testing.T) {
	ctx := context.Background()
	repo := open(t)
	v := model.NewVideo("a.mp4", "/a.mp4")
	require.NoError(t, repo.SaveVideo(ctx, v))

	frames := []model.Frame{{Index: 1, Timestamp: 1.0 / 3}, {Index: 0, Timestamp: 0}}
	require.NoError(t, repo.ReplaceFrames(ctx, v.ID, frames))
	require.NoError(t, repo.ReplaceFrames(ctx, v.ID, frames))

	stored, err := repo.Frames(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 0, stored[0].Index)
	assert.Equal(t, v.ID, stored[1].VideoID)

	stored[1].Caption = "a red car"
	stored[1].CaptionSource = model.CaptionSourceModel
	require.NoError(t, repo.UpdateCaptions(ctx, stored))
	stored, err = repo.Frames(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "a red car", stored[1].Caption)
	assert.Equal(t, model.CaptionSourceModel, stored[1].CaptionSource)

	require.NoError(t, repo.ReplaceSegments(ctx, v.ID, test.SampleSegments()))
	segments, err := repo.Segments(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, segments, 4)
	assert.Equal(t, "hello world", segments[1].Text)
	assert.Equal(t, 3.5, segments[1].End)

	require.NoError(t, repo.PurgeDerived(ctx, v.ID))
	stored, err = repo.Frames(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
	_, err = repo.GetVideo(ctx, v.ID)
	assert.NoError(t, err)
}

func TestClipsUpsertAndCascadeDelete(t *testing.T) {
	ctx := context.Background()
	repo := open(t)
	v := model.NewVideo("a.mp4", "/a.mp4")
	require.NoError(t, repo.SaveVideo(ctx, v))
	require.NoError(t, repo.ReplaceSegments(ctx, v.ID, test.SampleSegments()))

	clip := &model.Clip{ID: model.ClipID("/clips/q_1.mp4"), VideoID: v.ID, Ordinal: 1, Start: 1, End: 6, Path: "/clips/q_1.mp4"}
	require.NoError(t, repo.SaveClip(ctx, clip))
	clip.End = 7
	require.NoError(t, repo.SaveClip(ctx, clip))

	clips, err := repo.Clips(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.Equal(t, 7.0, clips[0].End)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Videos)
	assert.Equal(t, int64(4), stats.Segments)
	assert.Equal(t, int64(1), stats.Clips)

	require.NoError(t, repo.DeleteVideo(ctx, v.ID))
	clips, err = repo.Clips(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, clips)
	assert.ErrorIs(t, repo.DeleteVideo(ctx, v.ID), model.ErrNotFound)
}

func TestListVideosNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := open(t)
	first := model.NewVideo("first.mp4", "/first.mp4")
	second := model.NewVideo("second.mp4", "/second.mp4")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, repo.SaveVideo(ctx, first))
	require.NoError(t, repo.SaveVideo(ctx, second))

	videos, err := repo.ListVideos(ctx)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "second.mp4", videos[0].FileName)
}
