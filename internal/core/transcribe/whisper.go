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

package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/sashabaranov/go-openai"
)

// WhisperTranscriber calls a Whisper model behind an OpenAI compatible
// /audio/transcriptions endpoint (OpenAI, Groq) in verbose_json mode, which
// carries per-segment timings.
type WhisperTranscriber struct {
	client   *openai.Client
	model    string
	language string
}

func NewWhisperTranscriber(client *openai.Client, model string, language string) *WhisperTranscriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{client: client, model: model, language: language}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) ([]model.TranscriptSegment, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Language: w.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription of %s: %w", audioPath, err)
	}

	segments := make([]model.TranscriptSegment, 0, len(resp.Segments))
	for i, s := range resp.Segments {
		segments = append(segments, model.TranscriptSegment{
			Index: i,
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	// Some servers omit segments for very short clips and return text only.
	if len(segments) == 0 && strings.TrimSpace(resp.Text) != "" && resp.Duration > 0 {
		segments = append(segments, model.TranscriptSegment{Start: 0, End: resp.Duration, Text: resp.Text})
	}
	return segments, nil
}
