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

package services_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/services"
	"github.com/zeebo/assert"
)

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, services.TruncateWords("  one two\tthree\nfour ", 3), "one two three")
	assert.Equal(t, services.TruncateWords("one two", 10), "one two")
	assert.Equal(t, services.TruncateWords("", 5), "")
}

func TestSummarizeFromTranscript(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.addIndexedVideo(t, "lecture.mp4")

	summary, err := f.videos.Summarize(ctx, video.ID, 3)
	assert.NoError(t, err)
	assert.Equal(t, summary.Summary, "good morning everyone")
	assert.Equal(t, summary.MaxWords, 3)
	assert.Equal(t, summary.Source, services.SummarySourceTranscript)

	summary, err = f.videos.Summarize(ctx, video.ID, 0)
	assert.NoError(t, err)
	assert.Equal(t, summary.MaxWords, services.DefaultSummaryWords)
	assert.Equal(t, summary.Summary,
		"good morning everyone hello world today we talk about rivers thanks for watching")
}

func TestSummarizeUnknownVideo(t *testing.T) {
	f := newFixture(t)
	_, err := f.videos.Summarize(context.Background(), "missing", 10)
	assert.That(t, errors.Is(err, model.ErrNotFound))
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.addIndexedVideo(t, "lecture.mp4")

	details, err := f.videos.Describe(ctx, video.ID)
	assert.NoError(t, err)
	assert.Equal(t, details.Video.ID, video.ID)
	assert.Equal(t, details.FrameCount, 3)
	assert.Equal(t, len(details.Segments), 4)
	assert.Equal(t, len(details.Clips), 0)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.addIndexedVideo(t, "lecture.mp4")
	other := f.addIndexedVideo(t, "other.mp4")

	assert.NoError(t, os.MkdirAll(f.config.Storage.UploadDir, 0o755))
	assert.NoError(t, os.WriteFile(video.SourcePath, []byte("source"), 0o644))
	clipPath := filepath.Join(f.config.Storage.ClipDir, "lecture_1.mp4")
	assert.NoError(t, os.MkdirAll(f.config.Storage.ClipDir, 0o755))
	assert.NoError(t, os.WriteFile(clipPath, []byte("clip"), 0o644))
	assert.NoError(t, f.repo.SaveClip(ctx, &model.Clip{
		ID: model.ClipID(clipPath), VideoID: video.ID, Ordinal: 1, Start: 0, End: 1,
		Path: clipPath, CreatedAt: time.Now(),
	}))

	assert.NoError(t, f.videos.Delete(ctx, video.ID))

	_, err := f.repo.GetVideo(ctx, video.ID)
	assert.That(t, errors.Is(err, model.ErrNotFound))
	has, err := f.text.Has(ctx, video.ID)
	assert.NoError(t, err)
	assert.That(t, !has)
	has, err = f.visual.Has(ctx, video.ID)
	assert.NoError(t, err)
	assert.That(t, !has)
	for _, path := range []string{clipPath, video.SourcePath, media.NewLayout(f.config.Storage.DataDir).VideoDir(video.ID)} {
		_, err := os.Stat(path)
		assert.That(t, errors.Is(err, os.ErrNotExist))
	}

	// The other video is untouched.
	has, err = f.text.Has(ctx, other.ID)
	assert.NoError(t, err)
	assert.That(t, has)

	err = f.videos.Delete(ctx, video.ID)
	assert.That(t, errors.Is(err, model.ErrNotFound))
}

func TestRebuildRestoresTextIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	video := f.addIndexedVideo(t, "lecture.mp4")

	assert.NoError(t, f.text.Delete(ctx, video.ID))
	_, err := f.search.SearchTranscript(ctx, "hello", video.ID, 1)
	assert.That(t, errors.Is(err, model.ErrNotFound))

	assert.NoError(t, f.videos.RebuildTextIndex(ctx, video.ID))
	hits, err := f.search.SearchTranscript(ctx, "hello", video.ID, 1)
	assert.NoError(t, err)
	assert.Equal(t, hits[0].Text, "hello world")
}
