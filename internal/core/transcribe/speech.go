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
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"google.golang.org/protobuf/types/known/durationpb"
)

const defaultSpeechLanguage = "en-US"

// SpeechTranscriber uses Google Cloud Speech long running recognition with
// word time offsets. When a staging bucket is configured the audio is uploaded
// first and referenced by URI, otherwise it is sent inline.
type SpeechTranscriber struct {
	client        *speech.Client
	storage       *storage.Client
	stagingBucket string
	language      string
	sampleRate    int
	groupSeconds  float64
}

func NewSpeechTranscriber(client *speech.Client, storageClient *storage.Client, config *cloud.Config) *SpeechTranscriber {
	lang := config.Transcription.Language
	if lang == "" {
		lang = defaultSpeechLanguage
	}
	group := config.Transcription.GroupSeconds
	if group <= 0 {
		group = 10
	}
	return &SpeechTranscriber{
		client:        client,
		storage:       storageClient,
		stagingBucket: config.Transcription.StagingBucket,
		language:      lang,
		sampleRate:    config.Media.AudioSampleRate,
		groupSeconds:  group,
	}
}

func (s *SpeechTranscriber) Transcribe(ctx context.Context, audioPath string) ([]model.TranscriptSegment, error) {
	audio, cleanup, err := s.recognitionAudio(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(s.sampleRate),
			AudioChannelCount:          1,
			LanguageCode:               s.language,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: audio,
	}
	op, err := s.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("speech recognize %s: %w", audioPath, err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech wait %s: %w", audioPath, err)
	}
	return segmentsFromSpeech(resp, s.groupSeconds), nil
}

func (s *SpeechTranscriber) recognitionAudio(ctx context.Context, audioPath string) (*speechpb.RecognitionAudio, func(), error) {
	if s.stagingBucket == "" || s.storage == nil {
		content, err := os.ReadFile(audioPath)
		if err != nil {
			return nil, nil, err
		}
		return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: content}}, func() {}, nil
	}

	name := fmt.Sprintf("speech/%s-%s", uuid.NewString(), filepath.Base(audioPath))
	if err := cloud.UploadFile(ctx, s.storage, audioPath, s.stagingBucket, name, "audio/wav"); err != nil {
		return nil, nil, fmt.Errorf("staging %s: %w", audioPath, err)
	}
	cleanup := func() {
		if err := cloud.DeleteObject(context.Background(), s.storage, s.stagingBucket, name); err != nil {
			slog.Warn("unable to delete staged audio", "bucket", s.stagingBucket, "name", name, "error", err)
		}
	}
	uri := cloud.ObjectURI(s.stagingBucket, name)
	return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri}}, cleanup, nil
}

type timedWord struct {
	text       string
	start, end float64
}

// segmentsFromSpeech flattens word offsets from every result and groups them
// into windows of at most window seconds. Results without word offsets become
// a single untimed segment and are dropped later by Sanitize.
func segmentsFromSpeech(resp *speechpb.LongRunningRecognizeResponse, window float64) []model.TranscriptSegment {
	if resp == nil {
		return nil
	}
	var words []timedWord
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		for _, w := range r.Alternatives[0].Words {
			if w == nil || strings.TrimSpace(w.Word) == "" {
				continue
			}
			words = append(words, timedWord{text: w.Word, start: durToSec(w.StartTime), end: durToSec(w.EndTime)})
		}
	}
	return groupByTime(words, window)
}

func groupByTime(words []timedWord, window float64) []model.TranscriptSegment {
	if len(words) == 0 {
		return nil
	}
	var out []model.TranscriptSegment
	var buf strings.Builder
	start, end := words[0].start, words[0].end

	flush := func() {
		if txt := strings.TrimSpace(buf.String()); txt != "" {
			out = append(out, model.TranscriptSegment{Index: len(out), Start: start, End: end, Text: txt})
		}
		buf.Reset()
	}

	for _, w := range words {
		if buf.Len() > 0 && w.end-start > window {
			flush()
			start = w.start
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(w.text)
		end = w.end
	}
	flush()
	return out
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Seconds()
}
