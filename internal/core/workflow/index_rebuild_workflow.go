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

package workflow

import (
	goctx "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"go.opentelemetry.io/otel/codes"
)

// IndexRebuilder rebuilds the embedding indexes of one video from its
// catalog records.
type IndexRebuilder interface {
	RebuildVisualIndex(ctx goctx.Context, videoID string) error
	RebuildTextIndex(ctx goctx.Context, videoID string) error
}

// IndexRebuildWorkflow looks for ready videos whose visual or text index is
// missing and rebuilds them. It runs once at startup, which restores the
// in-memory text store after a restart, and then on a timer.
type IndexRebuildWorkflow struct {
	cor.BaseCommand
	repo      *catalog.Repository
	visual    index.VisualIndex
	text      index.TextStore
	rebuilder IndexRebuilder
}

func NewIndexRebuildWorkflow(repo *catalog.Repository, visual index.VisualIndex, text index.TextStore, rebuilder IndexRebuilder) *IndexRebuildWorkflow {
	return &IndexRebuildWorkflow{
		BaseCommand: *cor.NewBaseCommand("index-rebuild"),
		repo:        repo,
		visual:      visual,
		text:        text,
		rebuilder:   rebuilder,
	}
}

func (w *IndexRebuildWorkflow) IsExecutable(context cor.Context) bool {
	return context != nil && context.GetContext() != nil
}

func (w *IndexRebuildWorkflow) Execute(context cor.Context) {
	ctx := context.GetContext()
	videos, err := w.repo.ListVideos(ctx)
	if err != nil {
		w.Fail(context, err)
		return
	}

	rebuilt := 0
	for _, v := range videos {
		if v.Status != model.VideoStatusReady {
			continue
		}
		if w.visual != nil {
			if ok, err := w.visual.Has(ctx, v.ID); err != nil {
				w.Fail(context, err)
			} else if !ok {
				if err := w.rebuilder.RebuildVisualIndex(ctx, v.ID); err != nil {
					w.Fail(context, fmt.Errorf("visual index of %s: %w", v.ID, err))
				} else {
					rebuilt++
				}
			}
		}
		if w.text != nil {
			if ok, err := w.text.Has(ctx, v.ID); err != nil {
				w.Fail(context, err)
			} else if !ok {
				if err := w.rebuilder.RebuildTextIndex(ctx, v.ID); err != nil {
					w.Fail(context, fmt.Errorf("text index of %s: %w", v.ID, err))
				} else {
					rebuilt++
				}
			}
		}
	}

	if rebuilt > 0 {
		slog.InfoContext(ctx, "rebuilt missing indexes", "count", rebuilt)
	}
	if !context.HasErrors() {
		w.Complete(context, rebuilt)
	}
}

// RunOnce executes the workflow in its own trace.
func (w *IndexRebuildWorkflow) RunOnce(ctx goctx.Context) error {
	traceCtx, span := w.Tracer.Start(ctx, "index-rebuild")
	defer span.End()

	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(traceCtx)
	w.Execute(chainCtx)

	if err := chainCtx.Err(); err != nil {
		span.SetStatus(codes.Error, "failed to rebuild indexes")
		return err
	}
	span.SetStatus(codes.Ok, "indexes checked")
	return nil
}

// StartTimer runs the workflow every interval until ctx is cancelled.
func (w *IndexRebuildWorkflow) StartTimer(ctx goctx.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.RunOnce(ctx); err != nil {
					slog.WarnContext(ctx, "index rebuild failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
