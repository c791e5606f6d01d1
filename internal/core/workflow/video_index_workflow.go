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

// Package workflow assembles commands into the chains the server runs: the
// per-video indexing pipeline, the Pub/Sub ingestion trigger and the periodic
// index rebuild.
package workflow

import (
	goctx "context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/caption"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/embedding"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/transcribe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Dependencies are the process-wide handles the indexing chain needs. Nil
// transcriber or embedders disable the matching stage.
type Dependencies struct {
	Config        *cloud.Config
	Repo          *catalog.Repository
	Tools         media.Tools
	Transcriber   transcribe.Transcriber
	Captioner     *caption.Captioner
	ImageEmbedder embedding.ImageEmbedder
	TextEmbedder  embedding.TextEmbedder
	Visual        index.VisualIndex
	Text          index.TextStore
}

// VideoIndexWorkflow runs one video through probe, frame extraction, audio
// extraction, transcription, captioning and both embedding indexes. The
// stages run in order; a failing stage stops the chain and the video is
// marked "error" while the output of earlier stages is kept.
type VideoIndexWorkflow struct {
	cor.BaseCommand
	deps  Dependencies
	chain cor.Chain
}

func NewVideoIndexWorkflow(deps Dependencies) *VideoIndexWorkflow {
	out := &VideoIndexWorkflow{
		BaseCommand: *cor.NewBaseCommand("video-index-workflow"),
		deps:        deps,
	}
	out.initializeChain()
	return out
}

func (w *VideoIndexWorkflow) initializeChain() {
	d := w.deps
	layout := media.NewLayout(d.Config.Storage.DataDir)

	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewVideoPrepare("video-prepare", d.Repo, d.Visual, d.Text, layout))
	out.AddCommand(commands.NewVideoProbe("video-probe", d.Tools, d.Repo, layout))
	out.AddCommand(commands.NewFrameExtractor("frame-extract", d.Tools, d.Repo, layout, d.Config.Media))
	out.AddCommand(commands.NewAudioExtractor("audio-extract", d.Tools, layout, d.Transcriber != nil))
	out.AddCommand(commands.NewTranscriptGenerator("transcript-generate", d.Transcriber, d.Repo, layout))
	out.AddCommand(commands.NewFrameCaptioner("frame-caption", d.Captioner, d.Repo, layout))
	out.AddCommand(commands.NewVisualIndexer("visual-index", d.ImageEmbedder, d.Visual))
	out.AddCommand(commands.NewTextIndexer("text-index", d.TextEmbedder, d.Text))
	out.AddCommand(commands.NewVideoReady("video-ready", d.Repo))
	w.chain = out
}

func (w *VideoIndexWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

// Process indexes video and blocks until it is ready or has failed. It
// implements tasks.Processor.
func (w *VideoIndexWorkflow) Process(ctx goctx.Context, video *model.Video) error {
	ctx, cancel := goctx.WithTimeout(ctx, w.deps.Config.Media.Timeout())
	defer cancel()

	traceCtx, span := w.Tracer.Start(ctx, "index_video")
	defer span.End()
	span.SetAttributes(attribute.String("video_id", video.ID), attribute.String("file_name", video.FileName))

	job := commands.NewIndexJob(video)
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(traceCtx)
	chainCtx.Add(commands.GetIndexJobParam(), job)
	chainCtx.Add(cor.CtxIn, job)
	defer chainCtx.Close()

	w.Execute(chainCtx)

	if !chainCtx.HasErrors() {
		span.SetStatus(codes.Ok, "video indexed")
		return nil
	}

	err := chainCtx.Err()
	span.SetStatus(codes.Error, "video indexing failed")
	// The run context may be done; the failure still has to be recorded.
	if uerr := w.deps.Repo.UpdateStatus(goctx.WithoutCancel(traceCtx), video.ID, model.VideoStatusError, err.Error()); uerr != nil && !errors.Is(uerr, model.ErrNotFound) {
		slog.ErrorContext(traceCtx, "unable to record video failure", "video_id", video.ID, "error", uerr)
	}
	video.Status = model.VideoStatusError
	video.Error = err.Error()
	return fmt.Errorf("indexing video %s: %w", video.ID, err)
}
