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

// Package services_test exercises the query side against a sqlite catalog,
// the in-process indexes and the deterministic hash embedder.
package services_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/services"
	test "github.com/jaycherian/gcp-go-video-search/internal/testutil"
	"github.com/zeebo/assert"
)

type fixture struct {
	config   *cloud.Config
	repo     *catalog.Repository
	visual   *index.FlatVisualIndex
	text     *index.MemoryTextStore
	embedder *test.HashEmbedder
	videos   *services.VideoService
	search   *services.SearchService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	config := test.NewTestConfig(t)
	repo, err := catalog.Open(config.Catalog)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	f := &fixture{
		config:   config,
		repo:     repo,
		visual:   index.NewFlatVisualIndex(media.NewLayout(config.Storage.DataDir)),
		text:     index.NewMemoryTextStore(),
		embedder: test.NewHashEmbedder(),
	}
	f.videos = services.NewVideoService(config, repo, f.visual, f.text, f.embedder, f.embedder, nil)
	f.search = &services.SearchService{
		Repo:          repo,
		Visual:        f.visual,
		Text:          f.text,
		TextEmbedder:  f.embedder,
		ImageEmbedder: f.embedder,
		Config:        config.Search,
	}
	return f
}

// addIndexedVideo records a ready video with the sample transcript and three
// captioned frames, then builds both indexes from the catalog.
func (f *fixture) addIndexedVideo(t *testing.T, name string) *model.Video {
	t.Helper()
	ctx := context.Background()
	video := model.NewVideo(name, filepath.Join(f.config.Storage.UploadDir, name))
	video.Status = model.VideoStatusReady
	video.Duration = 9.0
	video.FPS = 30
	assert.NoError(t, f.repo.SaveVideo(ctx, video))

	segments := test.SampleSegments()
	for i := range segments {
		segments[i].VideoID = video.ID
	}
	assert.NoError(t, f.repo.ReplaceSegments(ctx, video.ID, segments))

	framesDir := media.NewLayout(f.config.Storage.DataDir).FramesDir(video.ID)
	frames := []model.Frame{
		{VideoID: video.ID, Index: 0, Timestamp: 0, Path: filepath.Join(framesDir, "red_car.jpg"),
			Caption: "a red car parked on the street", CaptionSource: model.CaptionSourceModel},
		{VideoID: video.ID, Index: 1, Timestamp: 2.0, Path: filepath.Join(framesDir, "blue_boat.jpg"),
			Caption: "a blue boat drifting down a river", CaptionSource: model.CaptionSourceModel},
		{VideoID: video.ID, Index: 2, Timestamp: 4.0, Path: filepath.Join(framesDir, "green_tree.jpg"),
			Caption: "a blue boat drifting down a river", CaptionSource: model.CaptionSourceInherited},
	}
	assert.NoError(t, f.repo.ReplaceFrames(ctx, video.ID, frames))

	assert.NoError(t, f.videos.RebuildTextIndex(ctx, video.ID))
	assert.NoError(t, f.videos.RebuildVisualIndex(ctx, video.ID))
	return video
}
