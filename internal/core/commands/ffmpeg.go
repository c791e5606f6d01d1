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

package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

// FrameTimestamp is one entry of the frame_timestamps.json artifact.
type FrameTimestamp struct {
	FrameIndex int     `json:"frame_index"`
	Timestamp  float64 `json:"timestamp"`
}

// VideoProbe reads stream metadata and records it on the video.
type VideoProbe struct {
	cor.BaseCommand
	tools  media.Tools
	repo   *catalog.Repository
	layout media.Layout
}

// NewVideoProbe is the constructor for VideoProbe.
//
// Inputs:
//   - name: The string name for this command.
//   - tools: The ffmpeg and ffprobe wrappers.
//   - repo: The video catalog.
//   - layout: Resolves the video's source file.
//
// Outputs:
//   - *VideoProbe: A command reading and writing an *IndexJob.
func NewVideoProbe(name string, tools media.Tools, repo *catalog.Repository, layout media.Layout) *VideoProbe {
	return &VideoProbe{BaseCommand: *cor.NewBaseCommand(name), tools: tools, repo: repo, layout: layout}
}

func (c *VideoProbe) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()

	info, err := c.tools.Probe(ctx, job.Video.SourcePath)
	if err != nil {
		c.Fail(context, err)
		return
	}
	job.Info = info
	job.Video.ApplyProbe(info)
	if raw, err := json.Marshal(info); err == nil {
		job.Video.Info = datatypes.JSON(raw)
	}
	if err := c.repo.SaveVideo(ctx, job.Video); err != nil {
		c.Fail(context, err)
		return
	}
	if err := writeArtifact(c.layout.Artifact(job.VideoID(), media.VideoInfoFile), job.Video); err != nil {
		c.Fail(context, err)
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Float64("duration", info.Duration),
		attribute.Float64("fps", info.FPS),
		attribute.Bool("has_audio", info.HasAudio),
	)
	c.Complete(context, job)
}

// FrameExtractor samples every stride-th frame of the video to JPEG files.
type FrameExtractor struct {
	cor.BaseCommand
	tools  media.Tools
	repo   *catalog.Repository
	layout media.Layout
	config cloud.Media
}

// NewFrameExtractor is the constructor for FrameExtractor.
//
// Inputs:
//   - name: The string name for this command.
//   - tools: The ffmpeg and ffprobe wrappers.
//   - repo: The video catalog.
//   - layout: Resolves the frame directory.
//   - config: Sampling stride and JPEG quality.
//
// Outputs:
//   - *FrameExtractor: A command reading and writing an *IndexJob.
func NewFrameExtractor(name string, tools media.Tools, repo *catalog.Repository, layout media.Layout, config cloud.Media) *FrameExtractor {
	return &FrameExtractor{BaseCommand: *cor.NewBaseCommand(name), tools: tools, repo: repo, layout: layout, config: config}
}

func (c *FrameExtractor) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()
	id := job.VideoID()

	fps := c.config.DefaultFPS
	if job.Info != nil && job.Info.FPS > 0 {
		fps = job.Info.FPS
	}
	frames, err := c.tools.ExtractFrames(ctx, job.Video.SourcePath, c.layout.FramesDir(id), c.config.FrameStride, fps)
	if err != nil {
		c.Fail(context, err)
		return
	}
	for i := range frames {
		frames[i].VideoID = id
	}
	if err := c.repo.ReplaceFrames(ctx, id, frames); err != nil {
		c.Fail(context, fmt.Errorf("failed to store frames of %s: %w", id, err))
		return
	}

	timestamps := make([]FrameTimestamp, len(frames))
	for i, f := range frames {
		timestamps[i] = FrameTimestamp{FrameIndex: f.Index, Timestamp: f.Timestamp}
	}
	if err := writeArtifact(c.layout.Artifact(id, media.FrameTimestampsFile), timestamps); err != nil {
		c.Fail(context, err)
		return
	}

	job.Frames = frames
	slog.InfoContext(ctx, "frames extracted", "video_id", id, "frames", len(frames), "stride", c.config.FrameStride, "fps", fps)
	c.Complete(context, job)
}

// AudioExtractor writes the audio track as 16 kHz mono WAV. Videos without an
// audio stream, or a pipeline without a transcriber, pass through untouched.
type AudioExtractor struct {
	cor.BaseCommand
	tools   media.Tools
	layout  media.Layout
	enabled bool
}

// NewAudioExtractor is the constructor for AudioExtractor. When enabled is
// false the command completes without touching the audio track.
//
// Inputs:
//   - name: The string name for this command.
//   - tools: The ffmpeg and ffprobe wrappers.
//   - layout: Resolves the audio file.
//   - enabled: Whether audio is extracted at all.
//
// Outputs:
//   - *AudioExtractor: A command reading and writing an *IndexJob.
func NewAudioExtractor(name string, tools media.Tools, layout media.Layout, enabled bool) *AudioExtractor {
	return &AudioExtractor{BaseCommand: *cor.NewBaseCommand(name), tools: tools, layout: layout, enabled: enabled}
}

func (c *AudioExtractor) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()

	if !c.enabled || job.Info == nil || !job.Info.HasAudio {
		slog.InfoContext(ctx, "skipping audio extraction", "video_id", job.VideoID(), "enabled", c.enabled)
		c.Complete(context, job)
		return
	}
	out := c.layout.AudioPath(job.VideoID())
	if err := c.tools.ExtractAudio(ctx, job.Video.SourcePath, out); err != nil {
		c.Fail(context, err)
		return
	}
	job.AudioPath = out
	c.Complete(context, job)
}
