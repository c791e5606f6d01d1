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

// Package services holds the query-side operations behind the HTTP API:
// multimodal search over the indexes, clip materialization, and video
// lookup, deletion and summaries.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/embedding"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/transcribe"
)

// ErrSearchDisabled is returned when the backend a search type needs is
// not configured.
var ErrSearchDisabled = errors.New("search type is not configured")

var (
	errTextSearchDisabled   = fmt.Errorf("text search: %w", ErrSearchDisabled)
	errVisualSearchDisabled = fmt.Errorf("visual search: %w", ErrSearchDisabled)
	errAudioSearchDisabled  = fmt.Errorf("audio search needs a transcriber: %w", ErrSearchDisabled)
)

// SearchService answers similarity queries against one video at a time.
//
// Every hit carries a time range that can be handed to ClipService as is:
// transcript hits use the segment's own span, frame hits start
// Search.FramePrePadSeconds before the frame (never before 0) and last
// Search.FrameClipSeconds.
type SearchService struct {
	Repo          *catalog.Repository
	Visual        index.VisualIndex
	Text          index.TextStore
	TextEmbedder  embedding.TextEmbedder
	ImageEmbedder embedding.ImageEmbedder
	Transcriber   transcribe.Transcriber
	Config        cloud.Search
}

func (s *SearchService) topK(k int) int {
	if k > 0 {
		return k
	}
	if s.Config.DefaultTopK > 0 {
		return s.Config.DefaultTopK
	}
	return 5
}

// ensureVideo fails with model.ErrNotFound for unknown videos.
func (s *SearchService) ensureVideo(ctx context.Context, videoID string) error {
	_, err := s.Repo.GetVideo(ctx, videoID)
	return err
}

// SearchTranscript finds transcript segments whose meaning is closest to query.
func (s *SearchService) SearchTranscript(ctx context.Context, query string, videoID string, topK int) ([]*model.SearchHit, error) {
	matches, err := s.queryText(ctx, query, videoID, model.ContentTypeTranscript, topK)
	if err != nil {
		return nil, err
	}
	out := make([]*model.SearchHit, len(matches))
	for i, m := range matches {
		segment := m.ItemIndex
		out[i] = &model.SearchHit{
			VideoID:      m.VideoID,
			Kind:         model.HitKindTranscript,
			Distance:     m.Distance,
			Range:        model.TimeRange{Start: m.Start, End: m.End},
			Timestamp:    m.Start,
			Text:         m.Text,
			SegmentIndex: &segment,
			ClipStart:    m.Start,
			ClipDuration: m.End - m.Start,
		}
	}
	return out, nil
}

// SearchCaptions finds frames whose caption is closest to query.
func (s *SearchService) SearchCaptions(ctx context.Context, query string, videoID string, topK int) ([]*model.SearchHit, error) {
	matches, err := s.queryText(ctx, query, videoID, model.ContentTypeCaption, topK)
	if err != nil {
		return nil, err
	}
	paths, err := s.framePaths(ctx, videoID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.SearchHit, len(matches))
	for i, m := range matches {
		out[i] = s.frameHit(model.HitKindCaption, m.VideoID, m.Distance, m.ItemIndex, m.Start, paths[m.ItemIndex])
		out[i].Text = m.Text
	}
	return out, nil
}

// SearchVisualByText embeds query into the image space and finds the closest frames.
func (s *SearchService) SearchVisualByText(ctx context.Context, query string, videoID string, topK int) ([]*model.SearchHit, error) {
	if s.ImageEmbedder == nil || s.Visual == nil {
		return nil, errVisualSearchDisabled
	}
	if err := s.ensureVideo(ctx, videoID); err != nil {
		return nil, err
	}
	vectors, err := s.ImageEmbedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.queryVisual(ctx, model.HitKindVisual, vectors, videoID, topK)
}

// SearchByImage finds the frames that look most like the image at imagePath.
func (s *SearchService) SearchByImage(ctx context.Context, imagePath string, videoID string, topK int) ([]*model.SearchHit, error) {
	if s.ImageEmbedder == nil || s.Visual == nil {
		return nil, errVisualSearchDisabled
	}
	if err := s.ensureVideo(ctx, videoID); err != nil {
		return nil, err
	}
	vectors, err := s.ImageEmbedder.EmbedImages(ctx, []string{imagePath})
	if err != nil {
		return nil, fmt.Errorf("embedding query image: %w", err)
	}
	return s.queryVisual(ctx, model.HitKindImage, vectors, videoID, topK)
}

// SearchAudio transcribes a spoken query and searches the transcript with
// the recognised text. Audio without speech fails with model.ErrNoSpeech.
func (s *SearchService) SearchAudio(ctx context.Context, audioPath string, videoID string, topK int) ([]*model.SearchHit, error) {
	if s.Transcriber == nil {
		return nil, errAudioSearchDisabled
	}
	if err := s.ensureVideo(ctx, videoID); err != nil {
		return nil, err
	}
	segments, err := s.Transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("transcribing query audio: %w", err)
	}
	text := strings.TrimSpace(transcribe.JoinText(segments))
	if text == "" {
		return nil, model.ErrNoSpeech
	}
	hits, err := s.SearchTranscript(ctx, text, videoID, topK)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		h.Kind = model.HitKindAudio
		h.QueryText = text
	}
	return hits, nil
}

func (s *SearchService) queryText(ctx context.Context, query string, videoID string, contentType model.ContentType, topK int) ([]index.TextMatch, error) {
	if s.TextEmbedder == nil || s.Text == nil {
		return nil, errTextSearchDisabled
	}
	if err := s.ensureVideo(ctx, videoID); err != nil {
		return nil, err
	}
	vectors, err := s.TextEmbedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: expected one vector, got %d", len(vectors))
	}
	return s.Text.Query(ctx, videoID, contentType, vectors[0], s.topK(topK))
}

func (s *SearchService) queryVisual(ctx context.Context, kind model.HitKind, vectors [][]float32, videoID string, topK int) ([]*model.SearchHit, error) {
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: expected one vector, got %d", len(vectors))
	}
	matches, err := s.Visual.Query(ctx, videoID, vectors[0], s.topK(topK))
	if err != nil {
		return nil, err
	}
	out := make([]*model.SearchHit, len(matches))
	for i, m := range matches {
		out[i] = s.frameHit(kind, m.VideoID, m.Distance, m.FrameIndex, m.Timestamp, m.Path)
	}
	return out, nil
}

func (s *SearchService) framePaths(ctx context.Context, videoID string) (map[int]string, error) {
	frames, err := s.Repo.Frames(ctx, videoID)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(frames))
	for _, f := range frames {
		out[f.Index] = f.Path
	}
	return out, nil
}

func (s *SearchService) frameHit(kind model.HitKind, videoID string, distance float64, frameIndex int, timestamp float64, path string) *model.SearchHit {
	r := FrameClipRange(timestamp, s.Config.FramePrePadSeconds, s.Config.FrameClipSeconds)
	return &model.SearchHit{
		VideoID:      videoID,
		Kind:         kind,
		Distance:     distance,
		Range:        r,
		Timestamp:    timestamp,
		FrameIndex:   &frameIndex,
		FramePath:    path,
		ClipStart:    r.Start,
		ClipDuration: r.Duration(),
	}
}

// FrameClipRange is the clip window around a frame hit.
func FrameClipRange(timestamp float64, prePad float64, clipSeconds float64) model.TimeRange {
	start := math.Max(timestamp-prePad, 0)
	return model.TimeRange{Start: start, End: start + clipSeconds}
}
