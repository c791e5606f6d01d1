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
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-video-search/internal/core/caption"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FrameCaption is one entry of the frame_captions.json artifact.
type FrameCaption struct {
	FrameIndex int     `json:"frame_index"`
	Timestamp  float64 `json:"timestamp"`
	Caption    string  `json:"caption"`
	Source     string  `json:"source"`
}

// FrameCaptioner captions the sampled frames. Backend failures never fail the
// command; the captioner fills the gaps from neighbouring frames.
type FrameCaptioner struct {
	cor.BaseCommand
	captioner *caption.Captioner
	repo      *catalog.Repository
	layout    media.Layout
}

// NewFrameCaptioner is the constructor for FrameCaptioner.
//
// Inputs:
//   - name: The string name for this command.
//   - captioner: Captions frames and fills the gaps.
//   - repo: The video catalog.
//   - layout: Resolves the caption artifact.
//
// Outputs:
//   - *FrameCaptioner: A command reading and writing an *IndexJob.
func NewFrameCaptioner(name string, captioner *caption.Captioner, repo *catalog.Repository, layout media.Layout) *FrameCaptioner {
	return &FrameCaptioner{BaseCommand: *cor.NewBaseCommand(name), captioner: captioner, repo: repo, layout: layout}
}

func (c *FrameCaptioner) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()
	id := job.VideoID()

	stats, err := c.captioner.Caption(ctx, job.Frames)
	if err != nil {
		c.Fail(context, fmt.Errorf("captioning %s: %w", id, err))
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("captions.requested", stats.Requested),
		attribute.Int("captions.succeeded", stats.Succeeded),
		attribute.Int("captions.failed", stats.Failed),
	)

	if err := c.repo.UpdateCaptions(ctx, job.Frames); err != nil {
		c.Fail(context, err)
		return
	}
	out := make([]FrameCaption, len(job.Frames))
	for i, f := range job.Frames {
		out[i] = FrameCaption{FrameIndex: f.Index, Timestamp: f.Timestamp, Caption: f.Caption, Source: string(f.CaptionSource)}
	}
	if err := writeArtifact(c.layout.Artifact(id, media.FrameCaptionsFile), out); err != nil {
		c.Fail(context, err)
		return
	}

	slog.InfoContext(ctx, "frames captioned", "video_id", id, "frames", len(job.Frames),
		"requested", stats.Requested, "succeeded", stats.Succeeded, "failed", stats.Failed)
	c.Complete(context, job)
}
