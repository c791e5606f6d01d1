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
	"context"
	"fmt"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/sashabaranov/go-openai"
)

// OpenAITextEmbedder embeds text through an OpenAI compatible embeddings endpoint.
type OpenAITextEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

func NewOpenAITextEmbedder(client *openai.Client, model string, dimension int) *OpenAITextEmbedder {
	return &OpenAITextEmbedder{client: client, model: model, dimension: dimension}
}

func (o *OpenAITextEmbedder) Dimension() int {
	return o.dimension
}

func (o *OpenAITextEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.model),
		Input: texts,
	}
	resp, err := cloud.Retry(ctx, cloud.DefaultRetryPolicy(), nil, func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return o.client.CreateEmbeddings(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %w", err)
	}

	// Data is not guaranteed to come back in request order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding API returned index %d for %d inputs", d.Index, len(texts))
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embedding API returned no vector for input %d", i)
		}
	}
	return out, nil
}
