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
	"os"

	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// VideoPrepare marks a video as processing and removes the output of any
// previous run: catalog frames and segments, both embedding stores and the
// per-video directory. Clips are kept; they are cut from the source file and
// stay valid.
type VideoPrepare struct {
	cor.BaseCommand
	repo   *catalog.Repository
	visual index.VisualIndex
	text   index.TextStore
	layout media.Layout
}

// NewVideoPrepare is the constructor for VideoPrepare.
//
// Inputs:
//   - name: The string name for this command.
//   - repo: The video catalog.
//   - visual: The frame vector index to clear.
//   - text: The text store to clear.
//   - layout: Resolves the artifact directories to clear.
//
// Outputs:
//   - *VideoPrepare: A command reading and writing an *IndexJob.
func NewVideoPrepare(name string, repo *catalog.Repository, visual index.VisualIndex, text index.TextStore, layout media.Layout) *VideoPrepare {
	return &VideoPrepare{BaseCommand: *cor.NewBaseCommand(name), repo: repo, visual: visual, text: text, layout: layout}
}

func (c *VideoPrepare) Execute(context cor.Context) {
	job, err := indexJob(context, c.GetInputParam())
	if err != nil {
		c.Fail(context, err)
		return
	}
	ctx := context.GetContext()
	id := job.VideoID()

	job.Video.Status = model.VideoStatusProcessing
	job.Video.Error = ""
	if err := c.repo.SaveVideo(ctx, job.Video); err != nil {
		c.Fail(context, fmt.Errorf("failed to register video %s: %w", id, err))
		return
	}
	if err := c.repo.PurgeDerived(ctx, id); err != nil {
		c.Fail(context, fmt.Errorf("failed to purge catalog rows of %s: %w", id, err))
		return
	}
	if c.visual != nil {
		if err := c.visual.Delete(ctx, id); err != nil {
			c.Fail(context, fmt.Errorf("failed to purge visual index of %s: %w", id, err))
			return
		}
	}
	if c.text != nil {
		if err := c.text.Delete(ctx, id); err != nil {
			c.Fail(context, fmt.Errorf("failed to purge text index of %s: %w", id, err))
			return
		}
	}
	if err := os.RemoveAll(c.layout.VideoDir(id)); err != nil {
		c.Fail(context, err)
		return
	}
	if err := os.MkdirAll(c.layout.VideoDir(id), 0o755); err != nil {
		c.Fail(context, err)
		return
	}

	slog.InfoContext(ctx, "video prepared for indexing", "video_id", id, "source", job.Video.SourcePath)
	c.Complete(context, job)
}
