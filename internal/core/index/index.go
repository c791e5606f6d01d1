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

// Package index stores embeddings and answers nearest-neighbour queries.
//
// There are two stores. The VisualIndex holds one image embedding per sampled
// frame and is partitioned per video. The TextStore holds transcript segment
// and frame caption embeddings tagged with their video and content type.
// Every query names a video and implementations filter by it inside the
// backend query, then re-check the results, so a query can never return an
// item from another video.
//
// All distances are Euclidean (L2) and results are ordered by ascending
// distance, with ties going to the earlier timestamp.
package index

import (
	"context"
	"math"
	"sort"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
)

// FrameRef identifies the frame a visual vector belongs to.
type FrameRef struct {
	VideoID    string  `json:"video_id"`
	FrameIndex int     `json:"frame_index"`
	Timestamp  float64 `json:"timestamp"`
	Path       string  `json:"frame_path"`
}

// VisualMatch is a frame returned by a visual query.
type VisualMatch struct {
	FrameRef
	Distance float64 `json:"distance"`
}

// TextRecord is one embedded transcript segment or frame caption. ItemIndex is
// the segment index or frame index depending on ContentType.
type TextRecord struct {
	VideoID     string            `json:"video_id" bigquery:"video_id"`
	ContentType model.ContentType `json:"content_type" bigquery:"content_type"`
	ItemIndex   int               `json:"item_index" bigquery:"item_index"`
	Start       float64           `json:"start" bigquery:"start"`
	End         float64           `json:"end" bigquery:"end"`
	Text        string            `json:"text" bigquery:"text"`
	Vector      []float32         `json:"-" bigquery:"-"`
}

// TextMatch is a text record returned by a text query.
type TextMatch struct {
	TextRecord
	Distance float64 `json:"distance"`
}

// VisualIndex is the per-video frame embedding index.
type VisualIndex interface {
	// Add appends vectors for a video; refs[i] describes vectors[i].
	Add(ctx context.Context, videoID string, vectors [][]float32, refs []FrameRef) error
	// Query returns up to k frames of videoID closest to vector. A video with
	// no index yields model.ErrNotFound.
	Query(ctx context.Context, videoID string, vector []float32, k int) ([]VisualMatch, error)
	Has(ctx context.Context, videoID string) (bool, error)
	Delete(ctx context.Context, videoID string) error
}

// TextStore holds transcript and caption embeddings for every video.
type TextStore interface {
	Add(ctx context.Context, records []TextRecord) error
	// Query returns up to k records of videoID and contentType closest to vector.
	Query(ctx context.Context, videoID string, contentType model.ContentType, vector []float32, k int) ([]TextMatch, error)
	Has(ctx context.Context, videoID string) (bool, error)
	Delete(ctx context.Context, videoID string) error
}

// L2 is the Euclidean distance between two vectors of equal length.
func L2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}

// SortVisual orders matches by distance, then timestamp, then frame index.
func SortVisual(matches []VisualMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.FrameIndex < b.FrameIndex
	})
}

// SortText orders matches by distance, then start time, then item index.
func SortText(matches []TextMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ItemIndex < b.ItemIndex
	})
}

// keepVisual drops matches from other videos and truncates to k.
func keepVisual(matches []VisualMatch, videoID string, k int) []VisualMatch {
	out := matches[:0]
	for _, m := range matches {
		if m.VideoID == videoID {
			out = append(out, m)
		}
	}
	SortVisual(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// keepText drops matches from other videos or content types and truncates to k.
func keepText(matches []TextMatch, videoID string, contentType model.ContentType, k int) []TextMatch {
	out := matches[:0]
	for _, m := range matches {
		if m.VideoID == videoID && m.ContentType == contentType {
			out = append(out, m)
		}
	}
	SortText(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
