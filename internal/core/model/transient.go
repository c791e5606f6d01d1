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

package model

import "math"

// ProbeInfo is the stream metadata read from a source video.
type ProbeInfo struct {
	Duration   float64 `json:"duration"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameCount int     `json:"frame_count"`
	HasAudio   bool    `json:"has_audio"`
	Codec      string  `json:"codec,omitempty"`
}

// TimeRange is a span of a video in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration of the range; negative for inverted ranges.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Clamp bounds the range to [0, duration]. ok is false when nothing of the
// range lies inside the video or the range is empty or inverted.
func (r TimeRange) Clamp(duration float64) (out TimeRange, ok bool) {
	if math.IsNaN(r.Start) || math.IsNaN(r.End) || r.End <= r.Start {
		return r, false
	}
	if r.End <= 0 || r.Start >= duration {
		return r, false
	}
	out = TimeRange{Start: math.Max(r.Start, 0), End: math.Min(r.End, duration)}
	return out, out.End > out.Start
}

// ContentType tags text embeddings in the text store.
type ContentType string

const (
	ContentTypeTranscript ContentType = "transcript"
	ContentTypeCaption    ContentType = "caption"
)

// HitKind identifies which search produced a SearchHit.
type HitKind string

const (
	HitKindTranscript HitKind = "transcript"
	HitKindCaption    HitKind = "caption"
	HitKindVisual     HitKind = "visual"
	HitKindImage      HitKind = "image"
	HitKindAudio      HitKind = "audio"
)

// SearchHit is a single similarity result, normalized across all search kinds.
//
// Range is always populated so a hit can be handed to the clip service
// directly: for transcript hits it is the segment's own span, for frame hits
// it is derived from the frame timestamp and the configured pad and length.
type SearchHit struct {
	VideoID      string    `json:"video_id"`
	Kind         HitKind   `json:"kind"`
	Distance     float64   `json:"distance"`
	Range        TimeRange `json:"range"`
	Timestamp    float64   `json:"timestamp"`
	FrameIndex   *int      `json:"frame_index,omitempty"`
	FramePath    string    `json:"frame_path,omitempty"`
	Text         string    `json:"text,omitempty"`
	SegmentIndex *int      `json:"segment_index,omitempty"`
	ClipStart    float64   `json:"clip_start"`
	ClipDuration float64   `json:"clip_duration"`
	QueryText    string    `json:"query_text,omitempty"`
}
