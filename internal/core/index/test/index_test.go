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

package index_test

import (
	"context"
	"os"
	"testing"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refs(videoID string, n int) []index.FrameRef {
	out := make([]index.FrameRef, n)
	for i := range out {
		out[i] = index.FrameRef{VideoID: videoID, FrameIndex: i, Timestamp: media.FrameTimestamp(i, 10, 30), Path: "f.jpg"}
	}
	return out
}

func TestL2(t *testing.T) {
	assert.Equal(t, 5.0, index.L2([]float32{0, 0}, []float32{3, 4}))
	assert.Equal(t, 0.0, index.L2([]float32{1, 2}, []float32{1, 2}))
}

func TestFlatVisualIndexQueryOrder(t *testing.T) {
	ctx := context.Background()
	idx := index.NewFlatVisualIndex(media.NewLayout(t.TempDir()))

	vectors := [][]float32{{0, 1}, {1, 0}, {0, 1}, {0.6, 0.8}}
	require.NoError(t, idx.Add(ctx, "v1", vectors, refs("v1", 4)))

	matches, err := idx.Query(ctx, "v1", []float32{0, 1}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	// Frames 0 and 2 tie at distance 0; the earlier one comes first.
	assert.Equal(t, 0, matches[0].FrameIndex)
	assert.Equal(t, 2, matches[1].FrameIndex)
	assert.Equal(t, 3, matches[2].FrameIndex)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
	}
}

func TestFlatVisualIndexIsolatesVideos(t *testing.T) {
	ctx := context.Background()
	idx := index.NewFlatVisualIndex(media.NewLayout(t.TempDir()))
	require.NoError(t, idx.Add(ctx, "v1", [][]float32{{1, 0}}, refs("v1", 1)))
	require.NoError(t, idx.Add(ctx, "v2", [][]float32{{0, 1}, {1, 0}}, refs("other", 2)))

	matches, err := idx.Query(ctx, "v1", []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "v1", matches[0].VideoID)

	matches, err = idx.Query(ctx, "v2", []float32{0, 1}, 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, "v2", m.VideoID, "refs are stamped with the owning video")
	}
}

func TestFlatVisualIndexPersistsAndDeletes(t *testing.T) {
	ctx := context.Background()
	layout := media.NewLayout(t.TempDir())
	require.NoError(t, index.NewFlatVisualIndex(layout).Add(ctx, "v1", [][]float32{{1, 0}, {0, 1}}, refs("v1", 2)))

	reopened := index.NewFlatVisualIndex(layout)
	has, err := reopened.Has(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, has)
	matches, err := reopened.Query(ctx, "v1", []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, matches[0].FrameIndex)

	require.NoError(t, reopened.Delete(ctx, "v1"))
	_, err = os.Stat(layout.Artifact("v1", media.VisualIndexFile))
	assert.True(t, os.IsNotExist(err))
	_, err = reopened.Query(ctx, "v1", []float32{0, 1}, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFlatVisualIndexUnknownVideo(t *testing.T) {
	idx := index.NewFlatVisualIndex(media.NewLayout(t.TempDir()))
	has, err := idx.Has(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, has)
	_, err = idx.Query(context.Background(), "missing", []float32{1}, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFlatVisualIndexRejectsMismatchedInput(t *testing.T) {
	ctx := context.Background()
	idx := index.NewFlatVisualIndex(media.NewLayout(t.TempDir()))
	assert.Error(t, idx.Add(ctx, "v1", [][]float32{{1, 0}}, refs("v1", 2)))
	require.NoError(t, idx.Add(ctx, "v1", [][]float32{{1, 0}}, refs("v1", 1)))
	assert.Error(t, idx.Add(ctx, "v1", [][]float32{{1, 0, 0}}, refs("v1", 1)))
	_, err := idx.Query(ctx, "v1", []float32{1, 0, 0}, 1)
	assert.Error(t, err)
}

func TestMemoryTextStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := index.NewMemoryTextStore()
	require.NoError(t, s.Add(ctx, []index.TextRecord{
		{VideoID: "v1", ContentType: model.ContentTypeTranscript, ItemIndex: 0, Start: 0, End: 2, Text: "a", Vector: []float32{1, 0}},
		{VideoID: "v1", ContentType: model.ContentTypeTranscript, ItemIndex: 1, Start: 2, End: 3, Text: "b", Vector: []float32{0, 1}},
		{VideoID: "v1", ContentType: model.ContentTypeCaption, ItemIndex: 0, Start: 0, End: 0, Text: "c", Vector: []float32{0, 1}},
		{VideoID: "v2", ContentType: model.ContentTypeTranscript, ItemIndex: 0, Start: 0, End: 1, Text: "d", Vector: []float32{0, 1}},
	}))

	matches, err := s.Query(ctx, "v1", model.ContentTypeTranscript, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "b", matches[0].Text)
	assert.Equal(t, "a", matches[1].Text)
	for _, m := range matches {
		assert.Equal(t, "v1", m.VideoID)
		assert.Equal(t, model.ContentTypeTranscript, m.ContentType)
	}

	matches, err = s.Query(ctx, "v1", model.ContentTypeCaption, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c", matches[0].Text)

	require.NoError(t, s.Delete(ctx, "v1"))
	_, err = s.Query(ctx, "v1", model.ContentTypeCaption, []float32{0, 1}, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)
	has, err := s.Has(ctx, "v2")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMemoryTextStoreRequiresVideoID(t *testing.T) {
	err := index.NewMemoryTextStore().Add(context.Background(), []index.TextRecord{{Text: "x", Vector: []float32{1}}})
	assert.Error(t, err)
}

func TestFactoryDefaults(t *testing.T) {
	config := cloud.NewConfig()
	config.Storage.DataDir = t.TempDir()
	clients := &cloud.ServiceClients{}

	v, err := index.NewVisualIndex(context.Background(), config, clients, 512)
	require.NoError(t, err)
	assert.IsType(t, &index.FlatVisualIndex{}, v)

	s, err := index.NewTextStore(context.Background(), config, clients, 384)
	require.NoError(t, err)
	assert.IsType(t, &index.MemoryTextStore{}, s)

	config.Index.VisualBackend = index.BackendMilvus
	_, err = index.NewVisualIndex(context.Background(), config, clients, 512)
	assert.Error(t, err)
	config.Index.TextBackend = index.BackendPgVector
	_, err = index.NewTextStore(context.Background(), config, clients, 384)
	assert.Error(t, err)
}
