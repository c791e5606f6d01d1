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

// Package embedding turns text and images into vectors.
//
// There are two vector spaces. A TextEmbedder maps transcript segments and
// frame captions into the text space. An ImageEmbedder is a joint
// visual-semantic model (CLIP): it maps frames and free text into the visual
// space, which is what lets a sentence find a frame. Vectors leaving this
// package are always L2-normalized, so Euclidean distance orders results the
// same way cosine similarity would.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// TextEmbedder maps text into a fixed-dimension vector space.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ImageEmbedder maps images, and text in the same space, into vectors.
type ImageEmbedder interface {
	TextEmbedder
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
}

// Normalize scales v to unit length in place and returns it. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}

// Batched calls fn on consecutive batches of at most size items and returns
// the results in input order. fn must return one vector per item.
func Batched[T any](ctx context.Context, items []T, size int, fn func(ctx context.Context, batch []T) ([][]float32, error)) ([][]float32, error) {
	if size <= 0 {
		size = len(items)
	}
	out := make([][]float32, 0, len(items))
	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(items))
		vectors, err := fn(ctx, items[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedding batch [%d:%d] returned %d vectors", start, end, len(vectors))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// batchedText adds batching and normalization to any TextEmbedder.
type batchedText struct {
	inner TextEmbedder
	size  int
}

// WithBatching wraps e so large inputs are split into batches of size and
// every returned vector is normalized.
func WithBatching(e TextEmbedder, size int) TextEmbedder {
	return &batchedText{inner: e, size: size}
}

func (b *batchedText) Dimension() int {
	return b.inner.Dimension()
}

func (b *batchedText) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := Batched(ctx, texts, b.size, b.inner.EmbedTexts)
	if err != nil {
		return nil, err
	}
	return normalizeAll(out, b.inner.Dimension())
}

type batchedImage struct {
	batchedText
	inner ImageEmbedder
}

// WithImageBatching is WithBatching for an ImageEmbedder.
func WithImageBatching(e ImageEmbedder, size int) ImageEmbedder {
	return &batchedImage{batchedText: batchedText{inner: e, size: size}, inner: e}
}

func (b *batchedImage) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	out, err := Batched(ctx, paths, b.size, b.inner.EmbedImages)
	if err != nil {
		return nil, err
	}
	return normalizeAll(out, b.inner.Dimension())
}

func normalizeAll(vectors [][]float32, dim int) ([][]float32, error) {
	for i, v := range vectors {
		if dim > 0 && len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
		Normalize(v)
	}
	return vectors, nil
}
