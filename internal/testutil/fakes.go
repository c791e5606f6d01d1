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

package test

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// HashEmbedder is a bag-of-words embedder: every lower-cased word is hashed
// into one of Dim buckets and the counts are L2-normalized. Texts sharing
// words are close; texts with disjoint words are sqrt(2) apart.
//
// Images are embedded as the words of their file name (frame_0003.jpg embeds
// like "frame 0003 jpg"), which puts text and images in one space the way a
// CLIP model does.
type HashEmbedder struct {
	Dim   int
	Calls atomic.Int64
}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Dim: 256}
}

func (h *HashEmbedder) Dimension() int {
	return h.Dim
}

func (h *HashEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	h.Calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedImages(_ context.Context, paths []string) ([][]float32, error) {
	h.Calls.Add(1)
	out := make([][]float32, len(paths))
	for i, p := range paths {
		out[i] = h.vector(filepath.Base(p))
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.Dim)
	for _, word := range Words(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(word))
		v[f.Sum32()%uint32(h.Dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Empty input still needs a unit vector.
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// Words splits text into lower-case letter and digit runs.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ScriptedCaptionBackend captions a frame with "scene at <timestamp>". Frames
// whose timestamp makes Fail return true get an error instead, as do all
// frames when FailAll is set.
type ScriptedCaptionBackend struct {
	FailAll bool
	Fail    func(timestamp float64) bool

	mu    sync.Mutex
	calls []float64
}

func (s *ScriptedCaptionBackend) Describe(_ context.Context, image []byte, _ string, timestamp float64) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, timestamp)
	s.mu.Unlock()

	if len(image) == 0 {
		return "", fmt.Errorf("empty image at %.2f", timestamp)
	}
	if s.FailAll || (s.Fail != nil && s.Fail(timestamp)) {
		return "", fmt.Errorf("scripted failure at %.2f", timestamp)
	}
	return fmt.Sprintf("scene at %.2f", timestamp), nil
}

// Calls returns the timestamps the backend was asked about, in call order.
func (s *ScriptedCaptionBackend) Calls() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.calls))
	copy(out, s.calls)
	return out
}

// FlakyTranscriber fails FailuresBeforeSuccess times with model.ErrTransient
// and then returns Segments. A negative FailuresBeforeSuccess fails forever.
type FlakyTranscriber struct {
	FailuresBeforeSuccess int
	Segments              []model.TranscriptSegment
	Err                   error // returned instead of ErrTransient when set

	calls atomic.Int64
}

func (f *FlakyTranscriber) Transcribe(_ context.Context, _ string) ([]model.TranscriptSegment, error) {
	n := int(f.calls.Add(1))
	if f.FailuresBeforeSuccess < 0 || n <= f.FailuresBeforeSuccess {
		if f.Err != nil {
			return nil, f.Err
		}
		return nil, fmt.Errorf("attempt %d: %w", n, model.ErrTransient)
	}
	out := make([]model.TranscriptSegment, len(f.Segments))
	copy(out, f.Segments)
	return out, nil
}

func (f *FlakyTranscriber) Calls() int {
	return int(f.calls.Load())
}

// SampleSegments is the transcript used across search tests.
func SampleSegments() []model.TranscriptSegment {
	return []model.TranscriptSegment{
		{Index: 0, Start: 0.0, End: 2.0, Text: "good morning everyone"},
		{Index: 1, Start: 2.0, End: 3.5, Text: "hello world"},
		{Index: 2, Start: 3.5, End: 6.0, Text: "today we talk about rivers"},
		{Index: 3, Start: 6.0, End: 9.0, Text: "thanks for watching"},
	}
}
