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
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GenAITextEmbedder embeds text with a Vertex AI / Gemini embedding model.
type GenAITextEmbedder struct {
	models       *genai.Models
	modelName    string
	dimension    int
	limiter      *rate.Limiter
	retryCounter metric.Int64Counter
}

// NewGenAITextEmbedder throttles calls to maxRequestsPerMinute (0 disables throttling).
func NewGenAITextEmbedder(models *genai.Models, modelName string, dimension int, maxRequestsPerMinute int) *GenAITextEmbedder {
	limit := rate.Inf
	burst := 1
	if maxRequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(maxRequestsPerMinute))
		burst = max(1, maxRequestsPerMinute/60)
	}
	retries, _ := otel.Meter(cor.MeterName).Int64Counter("embedding.genai.retries")
	return &GenAITextEmbedder{
		models:       models,
		modelName:    modelName,
		dimension:    dimension,
		limiter:      rate.NewLimiter(limit, burst),
		retryCounter: retries,
	}
}

func (g *GenAITextEmbedder) Dimension() int {
	return g.dimension
}

func (g *GenAITextEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := cloud.Retry(ctx, cloud.DefaultRetryPolicy(), g.retryCounter, func(ctx context.Context) (*genai.EmbedContentResponse, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return g.models.EmbedContent(ctx, g.modelName, contents, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding with %s: %w", g.modelName, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d texts", g.modelName, len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
