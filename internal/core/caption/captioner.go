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

// Package caption describes sampled video frames in natural language.
//
// Only every K-th sampled frame is sent to the captioning backend. The calls
// go through a fixed pool of workers that share a token bucket, so the
// backend's quota is respected no matter how many workers run. Frames that
// were not sent, or whose call failed, inherit the caption of the nearest
// captioned frame (FillNearest). If no call succeeds, every frame receives its
// "Frame N" placeholder, so the caption index never has holes.
package caption

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/jaycherian/gcp-go-video-search/internal/core/caption"

// Options tune a Captioner. Zero values fall back to the defaults.
type Options struct {
	EveryK            int
	Workers           int
	RequestsPerSecond float64
	MaxImageDimension int
}

// Stats summarizes one captioning pass.
type Stats struct {
	Requested int
	Succeeded int
	Failed    int
}

// Captioner fans frame captioning out over a worker pool.
type Captioner struct {
	backend Backend
	opts    Options
	limiter *rate.Limiter
	tracer  trace.Tracer
}

// NewCaptioner returns a Captioner. A nil backend captions every frame with
// its placeholder.
func NewCaptioner(backend Backend, opts Options, tracer trace.Tracer) *Captioner {
	if opts.EveryK <= 0 {
		opts.EveryK = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	limit := rate.Inf
	burst := opts.Workers
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Captioner{
		backend: backend,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		tracer:  tracer,
	}
}

// EveryK is the sampling interval in sampled frames.
func (c *Captioner) EveryK() int {
	return c.opts.EveryK
}

type captionJob struct {
	pos   int
	frame model.Frame
}

type captionResult struct {
	pos     int
	caption string
	err     error
}

// Caption captions frames in place and returns call statistics. Backend
// failures are absorbed; only cancellation of ctx is returned as an error.
func (c *Captioner) Caption(ctx context.Context, frames []model.Frame) (Stats, error) {
	var stats Stats
	for i := range frames {
		frames[i].Caption = ""
		frames[i].CaptionSource = ""
	}
	if c.backend == nil || len(frames) == 0 {
		FillNearest(frames)
		return stats, nil
	}
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })

	var targets []captionJob
	for pos := 0; pos < len(frames); pos += c.opts.EveryK {
		targets = append(targets, captionJob{pos: pos, frame: frames[pos]})
	}
	stats.Requested = len(targets)

	jobs := make(chan captionJob, len(targets))
	results := make(chan captionResult, len(targets))
	var wg sync.WaitGroup
	for w := 0; w < min(c.opts.Workers, len(targets)); w++ {
		wg.Add(1)
		go c.worker(ctx, jobs, results, &wg)
	}
	for _, j := range targets {
		jobs <- j
	}
	close(jobs)
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			stats.Failed++
			slog.WarnContext(ctx, "frame caption failed, falling back to neighbour",
				"frame_index", frames[r.pos].Index, "timestamp", frames[r.pos].Timestamp, "error", r.err)
			continue
		}
		stats.Succeeded++
		frames[r.pos].Caption = r.caption
		frames[r.pos].CaptionSource = model.CaptionSourceModel
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if stats.Succeeded == 0 {
		slog.WarnContext(ctx, "no frame could be captioned, using placeholders", "frames", len(frames), "requested", stats.Requested)
	}
	FillNearest(frames)
	return stats, nil
}

func (c *Captioner) worker(ctx context.Context, jobs <-chan captionJob, results chan<- captionResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		results <- c.describe(ctx, j)
	}
}

func (c *Captioner) describe(ctx context.Context, j captionJob) captionResult {
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("caption_frame_%d", j.frame.Index))
	defer span.End()
	span.SetAttributes(
		attribute.Int("frame_index", j.frame.Index),
		attribute.Float64("timestamp", j.frame.Timestamp),
	)

	fail := func(err error) captionResult {
		span.SetStatus(codes.Error, err.Error())
		return captionResult{pos: j.pos, err: err}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fail(err)
	}
	img, mime, err := PrepareImage(j.frame.Path, c.opts.MaxImageDimension)
	if err != nil {
		return fail(fmt.Errorf("reading frame %d: %w", j.frame.Index, err))
	}
	text, err := c.backend.Describe(ctx, img, mime, j.frame.Timestamp)
	if err != nil {
		return fail(err)
	}
	span.SetStatus(codes.Ok, "captioned")
	return captionResult{pos: j.pos, caption: text}
}
