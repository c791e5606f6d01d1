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
	goctx "context"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/embedding"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// VisualIndexer embeds every sampled frame with the image model and adds the
// vectors to the visual index.
type VisualIndexer struct {
	cor.BaseCommand
	embedder embedding.ImageEmbedder
	visual   index.VisualIndex
}

// NewVisualIndexer is the constructor for VisualIndexer.
//
// Inputs:
//   - name: The string name for this command.
//   - embedder: The image embedding model.
//   - visual: The frame vector index.
//
// Outputs:
//   - *VisualIndexer: A command reading and writing an *IndexJob.
func NewVisualIndexer(name string, embedder embedding.ImageEmbedder, visual index.VisualIndex) *VisualIndexer {
	return &VisualIndexer{BaseCommand: *cor.NewBaseCommand(name), embedder: embedder, visual: visual}
}

func (c *VisualIndexer) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()
	if c.embedder == nil || c.visual == nil || len(job.Frames) == 0 {
		slog.InfoContext(ctx, "skipping visual index", "video_id", job.VideoID())
		c.Complete(context, job)
		return
	}

	vectors, refs, err := EmbedFrames(ctx, c.embedder, job.VideoID(), job.Frames)
	if err != nil {
		c.Fail(context, err)
		return
	}
	if err := c.visual.Add(ctx, job.VideoID(), vectors, refs); err != nil {
		c.Fail(context, fmt.Errorf("failed to index frames of %s: %w", job.VideoID(), err))
		return
	}
	c.Complete(context, job)
}

// EmbedFrames embeds the frame images and returns the matching index refs.
func EmbedFrames(ctx goctx.Context, embedder embedding.ImageEmbedder, videoID string, frames []model.Frame) ([][]float32, []index.FrameRef, error) {
	paths := make([]string, len(frames))
	refs := make([]index.FrameRef, len(frames))
	for i, f := range frames {
		paths[i] = f.Path
		refs[i] = index.FrameRef{VideoID: videoID, FrameIndex: f.Index, Timestamp: f.Timestamp, Path: f.Path}
	}
	vectors, err := embedder.EmbedImages(ctx, paths)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding frames of %s: %w", videoID, err)
	}
	if len(vectors) != len(refs) {
		return nil, nil, fmt.Errorf("embedding frames of %s: got %d vectors for %d frames", videoID, len(vectors), len(refs))
	}
	return vectors, refs, nil
}

// TextIndexer embeds transcript segments and the caption of every sampled
// frame, and adds them to the text store. Inherited and placeholder captions
// are embedded under their own frame's timestamp, so caption hits keep the
// resolution of the frame sampling.
type TextIndexer struct {
	cor.BaseCommand
	embedder embedding.TextEmbedder
	text     index.TextStore
}

// NewTextIndexer is the constructor for TextIndexer.
//
// Inputs:
//   - name: The string name for this command.
//   - embedder: The text embedding model.
//   - text: The transcript and caption store.
//
// Outputs:
//   - *TextIndexer: A command reading and writing an *IndexJob.
func NewTextIndexer(name string, embedder embedding.TextEmbedder, text index.TextStore) *TextIndexer {
	return &TextIndexer{BaseCommand: *cor.NewBaseCommand(name), embedder: embedder, text: text}
}

func (c *TextIndexer) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()
	if c.embedder == nil || c.text == nil {
		slog.InfoContext(ctx, "skipping text index", "video_id", job.VideoID())
		c.Complete(context, job)
		return
	}

	records := TextRecords(job.VideoID(), job.Segments, job.Frames)
	if len(records) == 0 {
		c.Complete(context, job)
		return
	}
	if err := EmbedRecords(ctx, c.embedder, records); err != nil {
		c.Fail(context, err)
		return
	}
	if err := c.text.Add(ctx, records); err != nil {
		c.Fail(context, fmt.Errorf("failed to index text of %s: %w", job.VideoID(), err))
		return
	}
	slog.InfoContext(ctx, "text indexed", "video_id", job.VideoID(), "records", len(records))
	c.Complete(context, job)
}

// TextRecords builds the unembedded text records of a video.
func TextRecords(videoID string, segments []model.TranscriptSegment, frames []model.Frame) []index.TextRecord {
	records := make([]index.TextRecord, 0, len(segments)+len(frames))
	for _, s := range segments {
		records = append(records, index.TextRecord{
			VideoID: videoID, ContentType: model.ContentTypeTranscript,
			ItemIndex: s.Index, Start: s.Start, End: s.End, Text: s.Text,
		})
	}
	for _, f := range frames {
		if f.Caption == "" {
			continue
		}
		records = append(records, index.TextRecord{
			VideoID: videoID, ContentType: model.ContentTypeCaption,
			ItemIndex: f.Index, Start: f.Timestamp, End: f.Timestamp, Text: f.Caption,
		})
	}
	return records
}

// EmbedRecords fills in the Vector of every record.
func EmbedRecords(ctx goctx.Context, embedder embedding.TextEmbedder, records []index.TextRecord) error {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vectors, err := embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding text records: %w", err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embedding text records: got %d vectors for %d texts", len(vectors), len(records))
	}
	for i := range records {
		records[i].Vector = vectors[i]
	}
	return nil
}
