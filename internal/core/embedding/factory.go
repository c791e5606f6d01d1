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

package embedding

import (
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
)

const (
	ProviderONNX   = "onnx"
	ProviderGenAI  = "genai"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"

	genAIDefaultDimension  = 768
	openAIDefaultDimension = 1536
)

// NewTextEmbedder builds the configured text embedder, wrapped with batching
// and normalization. Provider "none" returns a nil embedder and no error.
func NewTextEmbedder(config *cloud.Config, clients *cloud.ServiceClients) (TextEmbedder, error) {
	c := config.Embedding
	var inner TextEmbedder

	switch c.TextProvider {
	case ProviderNone, "":
		return nil, nil
	case ProviderONNX:
		if err := InitONNXRuntime(c.ONNXLibrary); err != nil {
			return nil, err
		}
		e, err := NewONNXTextEmbedder(c.MiniLMModel, c.MiniLMTokenizer)
		if err != nil {
			return nil, err
		}
		inner = e
	case ProviderGenAI:
		models, ok := clients.EmbeddingModels[c.GenAIModelConfig]
		if !ok {
			return nil, fmt.Errorf("embedding model %q is not configured or genai is unavailable", c.GenAIModelConfig)
		}
		m := config.EmbeddingModels[c.GenAIModelConfig]
		inner = NewGenAITextEmbedder(models, m.Model, dimensionOr(c.TextDimension, genAIDefaultDimension), m.MaxRequestsPerMinute)
	case ProviderOpenAI:
		if clients.OpenAIClient == nil {
			return nil, errors.New("openai text embedder selected but no API key is configured")
		}
		inner = NewOpenAITextEmbedder(clients.OpenAIClient, c.TextModel, dimensionOr(c.TextDimension, openAIDefaultDimension))
	default:
		return nil, fmt.Errorf("unknown text embedding provider %q", c.TextProvider)
	}
	return WithBatching(inner, c.BatchSize), nil
}

// NewImageEmbedder builds the configured joint image/text embedder.
// Provider "none" returns a nil embedder and no error.
func NewImageEmbedder(config *cloud.Config) (ImageEmbedder, error) {
	c := config.Embedding
	switch c.ImageProvider {
	case ProviderNone, "":
		return nil, nil
	case ProviderONNX:
		if err := InitONNXRuntime(c.ONNXLibrary); err != nil {
			return nil, err
		}
		e, err := NewONNXClipEmbedder(c.ClipTextModel, c.ClipVisionModel, c.ClipTokenizer)
		if err != nil {
			return nil, err
		}
		return WithImageBatching(e, c.BatchSize), nil
	default:
		return nil, fmt.Errorf("unknown image embedding provider %q", c.ImageProvider)
	}
}

func dimensionOr(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}
