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

package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-video-search/internal/core/caption"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/transcribe"
	"github.com/jaycherian/gcp-go-video-search/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-video-search/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeline struct {
	deps     workflow.Dependencies
	layout   media.Layout
	visual   *index.FlatVisualIndex
	text     *index.MemoryTextStore
	captions *test.ScriptedCaptionBackend
	workflow *workflow.VideoIndexWorkflow
}

func newPipeline(t *testing.T, transcriber transcribe.Transcriber) *pipeline {
	t.Helper()
	cfg := test.NewTestConfig(t)
	repo, err := catalog.Open(cfg.Catalog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	layout := media.NewLayout(cfg.Storage.DataDir)
	embedder := test.NewHashEmbedder()
	p := &pipeline{
		layout:   layout,
		visual:   index.NewFlatVisualIndex(layout),
		text:     index.NewMemoryTextStore(),
		captions: &test.ScriptedCaptionBackend{},
	}
	p.deps = workflow.Dependencies{
		Config:        cfg,
		Repo:          repo,
		Tools:         media.NewFFmpeg(cfg.Media),
		Transcriber:   transcriber,
		Captioner:     caption.NewCaptioner(p.captions, caption.Options{EveryK: cfg.Captioning.EveryK, Workers: 2}, tracer),
		ImageEmbedder: embedder,
		TextEmbedder:  embedder,
		Visual:        p.visual,
		Text:          p.text,
	}
	p.workflow = workflow.NewVideoIndexWorkflow(p.deps)
	return p
}

func TestVideoIndexWorkflow(t *testing.T) {
	source := test.MakeTestVideo(t, t.TempDir(), 3, true)
	p := newPipeline(t, &test.FlakyTranscriber{Segments: test.SampleSegments()})
	repo := p.deps.Repo

	video := model.NewVideo("testsrc.mp4", source)
	require.NoError(t, p.workflow.Process(ctx, video))

	stored, err := repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VideoStatusReady, stored.Status)
	assert.InDelta(t, 3.0, stored.Duration, 0.1)
	assert.True(t, stored.HasAudio)

	// 90 frames at stride 10.
	frames, err := repo.Frames(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, frames, 9)
	for i, f := range frames {
		assert.Equal(t, i, f.Index)
		assert.InDelta(t, float64(i)/3.0, f.Timestamp, 1e-6)
		assert.FileExists(t, f.Path)
		assert.NotEmpty(t, f.Caption)
		if i%3 == 0 {
			assert.Equal(t, model.CaptionSourceModel, f.CaptionSource)
		} else {
			assert.Equal(t, model.CaptionSourceInherited, f.CaptionSource)
		}
	}
	assert.Len(t, p.captions.Calls(), 3)

	segments, err := repo.Segments(ctx, video.ID)
	require.NoError(t, err)
	assert.Len(t, segments, 4)

	var timestamps []commands.FrameTimestamp
	require.NoError(t, commands.ReadArtifact(p.layout.Artifact(video.ID, media.FrameTimestampsFile), &timestamps))
	assert.Len(t, timestamps, 9)
	var captions []commands.FrameCaption
	require.NoError(t, commands.ReadArtifact(p.layout.Artifact(video.ID, media.FrameCaptionsFile), &captions))
	assert.Len(t, captions, 9)
	for _, name := range []string{media.VideoInfoFile, media.TranscriptFile, media.VisualIndexFile} {
		assert.FileExists(t, p.layout.Artifact(video.ID, name))
	}

	hasVisual, err := p.visual.Has(ctx, video.ID)
	require.NoError(t, err)
	assert.True(t, hasVisual)
	hasText, err := p.text.Has(ctx, video.ID)
	require.NoError(t, err)
	assert.True(t, hasText)
}

func TestVideoIndexWorkflowReplacesPreviousRun(t *testing.T) {
	source := test.MakeTestVideo(t, t.TempDir(), 3, false)
	p := newPipeline(t, nil)

	require.NoError(t, p.workflow.Process(ctx, model.NewVideo("testsrc.mp4", source)))
	stale := filepath.Join(p.layout.FramesDir(model.NewVideo("", source).ID), "stale.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	video := model.NewVideo("testsrc.mp4", source)
	require.NoError(t, p.workflow.Process(ctx, video))
	assert.NoFileExists(t, stale)

	frames, err := p.deps.Repo.Frames(ctx, video.ID)
	require.NoError(t, err)
	assert.Len(t, frames, 9)
	segments, err := p.deps.Repo.Segments(ctx, video.ID)
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestVideoIndexWorkflowUndecodableVideo(t *testing.T) {
	source := test.WriteGarbageVideo(t, t.TempDir())
	test.RequireFFmpeg(t)
	p := newPipeline(t, nil)

	video := model.NewVideo("broken.mp4", source)
	err := p.workflow.Process(ctx, video)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDecode)

	stored, err := p.deps.Repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VideoStatusError, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

func TestVideoIndexWorkflowTranscriptionFailureKeepsFrames(t *testing.T) {
	source := test.MakeTestVideo(t, t.TempDir(), 3, true)
	p := newPipeline(t, &test.FlakyTranscriber{FailuresBeforeSuccess: -1})

	video := model.NewVideo("testsrc.mp4", source)
	err := p.workflow.Process(ctx, video)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransient)

	stored, err := p.deps.Repo.GetVideo(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VideoStatusError, stored.Status)

	frames, err := p.deps.Repo.Frames(ctx, video.ID)
	require.NoError(t, err)
	assert.Len(t, frames, 9)
	assert.Empty(t, p.captions.Calls(), "captioning runs after transcription")
}
