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

	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/transcribe"
)

// TranscriptGenerator turns the extracted audio into transcript segments.
// When there is no audio the video simply gets an empty transcript.
type TranscriptGenerator struct {
	cor.BaseCommand
	transcriber transcribe.Transcriber
	repo        *catalog.Repository
	layout      media.Layout
}

// NewTranscriptGenerator is the constructor for TranscriptGenerator.
//
// Inputs:
//   - name: The string name for this command.
//   - transcriber: The speech to text backend.
//   - repo: The video catalog.
//   - layout: Resolves the audio and transcript files.
//
// Outputs:
//   - *TranscriptGenerator: A command reading and writing an *IndexJob.
func NewTranscriptGenerator(name string, transcriber transcribe.Transcriber, repo *catalog.Repository, layout media.Layout) *TranscriptGenerator {
	return &TranscriptGenerator{BaseCommand: *cor.NewBaseCommand(name), transcriber: transcriber, repo: repo, layout: layout}
}

func (c *TranscriptGenerator) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()
	id := job.VideoID()

	segments := make([]model.TranscriptSegment, 0)
	if c.transcriber != nil && job.AudioPath != "" {
		segments, err = c.transcriber.Transcribe(ctx, job.AudioPath)
		if err != nil {
			c.Fail(context, fmt.Errorf("transcription of %s failed: %w", id, err))
			return
		}
	}
	for i := range segments {
		segments[i].VideoID = id
	}
	if err := c.repo.ReplaceSegments(ctx, id, segments); err != nil {
		c.Fail(context, err)
		return
	}
	if err := writeArtifact(c.layout.Artifact(id, media.TranscriptFile), segments); err != nil {
		c.Fail(context, err)
		return
	}

	job.Segments = segments
	slog.InfoContext(ctx, "transcript stored", "video_id", id, "segments", len(segments))
	c.Complete(context, job)
}
