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
	"errors"
	"fmt"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"go.opentelemetry.io/otel"
)

const (
	ProviderWhisper = "whisper"
	ProviderSpeech  = "speech"
	ProviderNone    = "none"
)

// New builds the configured transcriber wrapped with chunking and retries.
// Provider "none" returns nil, which the pipeline treats as "no transcript".
func New(config *cloud.Config, clients *cloud.ServiceClients, tools media.Tools) (Transcriber, error) {
	var inner Transcriber
	switch config.Transcription.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderWhisper:
		if clients.OpenAIClient == nil {
			return nil, errors.New("whisper transcription selected but no API key is configured")
		}
		inner = NewWhisperTranscriber(clients.OpenAIClient, config.Transcription.Model, config.Transcription.Language)
	case ProviderSpeech:
		if clients.SpeechClient == nil {
			return nil, errors.New("speech transcription selected but no Google Cloud project is configured")
		}
		inner = NewSpeechTranscriber(clients.SpeechClient, clients.StorageClient, config)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", config.Transcription.Provider)
	}

	retries, _ := otel.Meter(cor.MeterName).Int64Counter("transcribe.counter.retry")
	policy := cloud.DefaultRetryPolicy()
	policy.MaxRetries = config.Transcription.MaxRetries
	if config.Transcription.BackoffMillis > 0 {
		policy.Backoff = time.Duration(config.Transcription.BackoffMillis) * time.Millisecond
	}
	retrying := WithRetry(inner, policy, retries)
	return Chunked(retrying, tools, config.Media.AudioMaxBytes, config.Media.AudioChunkSeconds), nil
}
