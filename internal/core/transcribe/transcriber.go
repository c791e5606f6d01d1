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

// Package transcribe converts extracted audio into timestamped transcript
// segments.
//
// Backends (Whisper over an OpenAI compatible API, Google Cloud Speech) are
// wrapped by decorators: WithRetry retries transient failures with exponential
// backoff, and Chunked splits audio that is too large for one request and
// shifts each chunk's segments by the chunk's offset. Every path ends in
// Sanitize, so callers always receive sorted, non-overlapping, non-empty
// segments indexed from zero.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"go.opentelemetry.io/otel/metric"
)

// Transcriber turns an audio file into transcript segments. VideoID is left
// empty; the caller owns the segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]model.TranscriptSegment, error)
}

// Sanitize drops zero-length, inverted and blank segments, sorts by start,
// clips each segment's start to the previous segment's end and re-indexes.
// A segment swallowed entirely by its predecessor is dropped.
func Sanitize(segments []model.TranscriptSegment) []model.TranscriptSegment {
	kept := make([]model.TranscriptSegment, 0, len(segments))
	for _, s := range segments {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" || math.IsNaN(s.Start) || math.IsNaN(s.End) || s.End <= s.Start {
			continue
		}
		if s.Start < 0 {
			s.Start = 0
		}
		kept = append(kept, s)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Start != kept[j].Start {
			return kept[i].Start < kept[j].Start
		}
		return kept[i].End < kept[j].End
	})

	out := make([]model.TranscriptSegment, 0, len(kept))
	for _, s := range kept {
		if n := len(out); n > 0 && s.Start < out[n-1].End {
			s.Start = out[n-1].End
			if s.End <= s.Start {
				continue
			}
		}
		s.Index = len(out)
		out = append(out, s)
	}
	return out
}

// Retrying retries transient failures of the wrapped Transcriber.
type Retrying struct {
	inner        Transcriber
	policy       cloud.RetryPolicy
	retryCounter metric.Int64Counter
}

// WithRetry wraps t with retries; retryCounter may be nil.
func WithRetry(t Transcriber, policy cloud.RetryPolicy, retryCounter metric.Int64Counter) *Retrying {
	return &Retrying{inner: t, policy: policy, retryCounter: retryCounter}
}

func (r *Retrying) Transcribe(ctx context.Context, audioPath string) ([]model.TranscriptSegment, error) {
	segments, err := cloud.Retry(ctx, r.policy, r.retryCounter, func(ctx context.Context) ([]model.TranscriptSegment, error) {
		return r.inner.Transcribe(ctx, audioPath)
	})
	if err != nil {
		return nil, err
	}
	return Sanitize(segments), nil
}

// ChunkedTranscriber sends audio above maxBytes to the inner Transcriber in
// chunkSeconds pieces.
type ChunkedTranscriber struct {
	inner        Transcriber
	tools        media.Tools
	maxBytes     int64
	chunkSeconds int
}

func Chunked(inner Transcriber, tools media.Tools, maxBytes int64, chunkSeconds int) *ChunkedTranscriber {
	return &ChunkedTranscriber{inner: inner, tools: tools, maxBytes: maxBytes, chunkSeconds: chunkSeconds}
}

func (c *ChunkedTranscriber) Transcribe(ctx context.Context, audioPath string) ([]model.TranscriptSegment, error) {
	st, err := os.Stat(audioPath)
	if err != nil {
		return nil, err
	}
	if c.maxBytes <= 0 || st.Size() <= c.maxBytes {
		segments, err := c.inner.Transcribe(ctx, audioPath)
		if err != nil {
			return nil, err
		}
		return Sanitize(segments), nil
	}

	chunkDir := filepath.Join(filepath.Dir(audioPath), media.AudioChunksDirName)
	defer func() {
		if err := os.RemoveAll(chunkDir); err != nil {
			slog.WarnContext(ctx, "unable to remove audio chunks", "dir", chunkDir, "error", err)
		}
	}()

	chunks, err := c.tools.SplitAudio(ctx, audioPath, chunkDir, c.chunkSeconds)
	if err != nil {
		return nil, fmt.Errorf("splitting %s: %w", audioPath, err)
	}
	slog.InfoContext(ctx, "transcribing audio in chunks", "audio", audioPath, "bytes", st.Size(), "chunks", len(chunks))

	var all []model.TranscriptSegment
	for i, chunk := range chunks {
		segments, err := c.inner.Transcribe(ctx, chunk.Path)
		if err != nil {
			return nil, fmt.Errorf("transcribing chunk %d of %s: %w", i, audioPath, err)
		}
		all = append(all, Offset(segments, chunk.Offset)...)
	}
	return Sanitize(all), nil
}

// Offset shifts every segment by seconds.
func Offset(segments []model.TranscriptSegment, seconds float64) []model.TranscriptSegment {
	out := make([]model.TranscriptSegment, len(segments))
	for i, s := range segments {
		s.Start += seconds
		s.End += seconds
		out[i] = s
	}
	return out
}

// JoinText concatenates segment texts with single spaces.
func JoinText(segments []model.TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
