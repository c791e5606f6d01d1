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

package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/catalog"
	"github.com/jaycherian/gcp-go-video-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-video-search/internal/core/embedding"
	"github.com/jaycherian/gcp-go-video-search/internal/core/index"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/jaycherian/gcp-go-video-search/internal/core/transcribe"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultSummaryWords = 100

	SummarySourceTranscript = "transcript"
	SummarySourceModel      = "model"
)

// VideoDetails is a video together with what the pipeline recorded for it.
type VideoDetails struct {
	Video      *model.Video              `json:"video"`
	FrameCount int                       `json:"sampled_frames"`
	Segments   []model.TranscriptSegment `json:"segments"`
	Clips      []model.Clip              `json:"clips"`
}

// Summary is the short text description of a video.
type Summary struct {
	VideoID  string `json:"video_id"`
	Summary  string `json:"summary"`
	MaxWords int    `json:"max_words"`
	Source   string `json:"source"`
}

type summaryPrompt struct {
	MaxWords   int
	Transcript string
}

// VideoService covers lookup, deletion, summaries and index rebuilds.
type VideoService struct {
	Config        *cloud.Config
	Repo          *catalog.Repository
	Layout        media.Layout
	Visual        index.VisualIndex
	Text          index.TextStore
	ImageEmbedder embedding.ImageEmbedder
	TextEmbedder  embedding.TextEmbedder
	SummaryModel  *cloud.QuotaAwareGenerativeAIModel

	summaryTemplate *template.Template
	inputTokens     metric.Int64Counter
	outputTokens    metric.Int64Counter
	retries         metric.Int64Counter
}

// NewVideoService wires the service. summaryModel may be nil, in which case
// summaries are the leading words of the transcript.
func NewVideoService(config *cloud.Config, repo *catalog.Repository, visual index.VisualIndex, text index.TextStore,
	imageEmbedder embedding.ImageEmbedder, textEmbedder embedding.TextEmbedder, summaryModel *cloud.QuotaAwareGenerativeAIModel) *VideoService {

	meter := otel.Meter("github.com/jaycherian/gcp-go-video-search/internal/core/services")
	inputTokens, _ := meter.Int64Counter("summary.input.tokens")
	outputTokens, _ := meter.Int64Counter("summary.output.tokens")
	retries, _ := meter.Int64Counter("summary.retries")

	s := &VideoService{
		Config:        config,
		Repo:          repo,
		Layout:        media.NewLayout(config.Storage.DataDir),
		Visual:        visual,
		Text:          text,
		ImageEmbedder: imageEmbedder,
		TextEmbedder:  textEmbedder,
		SummaryModel:  summaryModel,
		inputTokens:   inputTokens,
		outputTokens:  outputTokens,
		retries:       retries,
	}
	if summaryModel != nil && config.PromptTemplates.SummaryPrompt != "" {
		t, err := template.New("summary").Parse(config.PromptTemplates.SummaryPrompt)
		if err != nil {
			slog.Warn("summary prompt does not parse, falling back to truncation", "error", err)
		} else {
			s.summaryTemplate = t
		}
	}
	return s
}

func (s *VideoService) Get(ctx context.Context, videoID string) (*model.Video, error) {
	return s.Repo.GetVideo(ctx, videoID)
}

func (s *VideoService) List(ctx context.Context) ([]*model.Video, error) {
	return s.Repo.ListVideos(ctx)
}

// Describe returns the video with its frame count, transcript and clips.
func (s *VideoService) Describe(ctx context.Context, videoID string) (*VideoDetails, error) {
	video, err := s.Repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	frames, err := s.Repo.Frames(ctx, videoID)
	if err != nil {
		return nil, err
	}
	segments, err := s.Repo.Segments(ctx, videoID)
	if err != nil {
		return nil, err
	}
	clips, err := s.Repo.Clips(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return &VideoDetails{Video: video, FrameCount: len(frames), Segments: segments, Clips: clips}, nil
}

// Delete removes a video with its embeddings, clips, artifacts and catalog
// rows. The source file is removed too when it was stored by this service.
func (s *VideoService) Delete(ctx context.Context, videoID string) error {
	video, err := s.Repo.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	clips, err := s.Repo.Clips(ctx, videoID)
	if err != nil {
		return err
	}

	var errs []error
	if s.Visual != nil {
		errs = append(errs, s.Visual.Delete(ctx, videoID))
	}
	if s.Text != nil {
		errs = append(errs, s.Text.Delete(ctx, videoID))
	}
	for _, c := range clips {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("deleting derived data of %s: %w", videoID, err)
	}
	if err := s.Repo.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.Layout.VideoDir(videoID)); err != nil {
		return err
	}
	if clipDir := s.Config.Storage.ClipDir; clipDir != "" {
		if err := os.RemoveAll(filepath.Join(clipDir, videoID)); err != nil {
			return err
		}
	}
	if s.ownsSource(video.SourcePath) {
		if err := os.Remove(video.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.WarnContext(ctx, "failed to remove source video", "video_id", videoID, "path", video.SourcePath, "error", err)
		}
	}
	slog.InfoContext(ctx, "video deleted", "video_id", videoID, "clips", len(clips))
	return nil
}

func (s *VideoService) ownsSource(path string) bool {
	root := s.Config.Storage.UploadDir
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Summarize describes a video in at most maxWords words (DefaultSummaryWords
// when maxWords is not positive). With a summary model the transcript is
// summarized by the model; otherwise, or when the model fails, the summary is
// the leading maxWords words of the transcript.
func (s *VideoService) Summarize(ctx context.Context, videoID string, maxWords int) (*Summary, error) {
	if maxWords <= 0 {
		maxWords = DefaultSummaryWords
	}
	if _, err := s.Repo.GetVideo(ctx, videoID); err != nil {
		return nil, err
	}
	segments, err := s.Repo.Segments(ctx, videoID)
	if err != nil {
		return nil, err
	}
	transcript := transcribe.JoinText(segments)
	out := &Summary{VideoID: videoID, MaxWords: maxWords, Source: SummarySourceTranscript}

	if s.SummaryModel != nil && s.summaryTemplate != nil && transcript != "" {
		text, err := s.generateSummary(ctx, transcript, maxWords)
		if err == nil {
			out.Summary = TruncateWords(text, maxWords)
			out.Source = SummarySourceModel
			return out, nil
		}
		slog.WarnContext(ctx, "summary model failed, using transcript", "video_id", videoID, "error", err)
	}
	out.Summary = TruncateWords(transcript, maxWords)
	return out, nil
}

func (s *VideoService) generateSummary(ctx context.Context, transcript string, maxWords int) (string, error) {
	var prompt bytes.Buffer
	if err := s.summaryTemplate.Execute(&prompt, summaryPrompt{MaxWords: maxWords, Transcript: transcript}); err != nil {
		return "", err
	}
	return cloud.GenerateMultiModalResponse(ctx, s.inputTokens, s.outputTokens, s.retries,
		cloud.DefaultRetryPolicy(), s.SummaryModel, cloud.NewTextContent(prompt.String()))
}

// TruncateWords keeps the first maxWords whitespace separated words of text.
func TruncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

// RebuildVisualIndex re-embeds the recorded frames of a video. The frame
// files must still exist.
func (s *VideoService) RebuildVisualIndex(ctx context.Context, videoID string) error {
	if s.Visual == nil || s.ImageEmbedder == nil {
		return nil
	}
	frames, err := s.Repo.Frames(ctx, videoID)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return nil
	}
	vectors, refs, err := commands.EmbedFrames(ctx, s.ImageEmbedder, videoID, frames)
	if err != nil {
		return err
	}
	if err := s.Visual.Delete(ctx, videoID); err != nil {
		return err
	}
	return s.Visual.Add(ctx, videoID, vectors, refs)
}

// RebuildTextIndex re-embeds the transcript and captions of a video.
func (s *VideoService) RebuildTextIndex(ctx context.Context, videoID string) error {
	if s.Text == nil || s.TextEmbedder == nil {
		return nil
	}
	frames, err := s.Repo.Frames(ctx, videoID)
	if err != nil {
		return err
	}
	segments, err := s.Repo.Segments(ctx, videoID)
	if err != nil {
		return err
	}
	records := commands.TextRecords(videoID, segments, frames)
	if len(records) == 0 {
		return nil
	}
	if err := commands.EmbedRecords(ctx, s.TextEmbedder, records); err != nil {
		return err
	}
	if err := s.Text.Delete(ctx, videoID); err != nil {
		return err
	}
	return s.Text.Add(ctx, records)
}
