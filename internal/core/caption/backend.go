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

package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"text/template"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/metric"
)

// Backend describes a single frame image. timestamp is the frame's position
// in the video in seconds and is available to the prompt.
type Backend interface {
	Describe(ctx context.Context, image []byte, mimeType string, timestamp float64) (string, error)
}

// PromptData is the value the caption prompt template is executed with.
type PromptData struct {
	Timestamp float64
}

// NewPrompt parses a caption prompt template, panicking on a malformed one.
func NewPrompt(text string) *template.Template {
	return template.Must(template.New("caption").Parse(text))
}

func render(prompt *template.Template, timestamp float64) (string, error) {
	var doc bytes.Buffer
	if err := prompt.Execute(&doc, PromptData{Timestamp: timestamp}); err != nil {
		return "", err
	}
	return doc.String(), nil
}

// GenAIBackend captions frames with a Gemini model through the quota aware
// wrapper.
type GenAIBackend struct {
	model         *cloud.QuotaAwareGenerativeAIModel
	prompt        *template.Template
	policy        cloud.RetryPolicy
	inputTokens   metric.Int64Counter
	outputTokens  metric.Int64Counter
	retryAttempts metric.Int64Counter
}

func NewGenAIBackend(model *cloud.QuotaAwareGenerativeAIModel, prompt *template.Template, policy cloud.RetryPolicy, meter metric.Meter) *GenAIBackend {
	b := &GenAIBackend{model: model, prompt: prompt, policy: policy}
	b.inputTokens, _ = meter.Int64Counter("caption.gemini.token.input")
	b.outputTokens, _ = meter.Int64Counter("caption.gemini.token.output")
	b.retryAttempts, _ = meter.Int64Counter("caption.gemini.retry")
	return b
}

func (g *GenAIBackend) Describe(ctx context.Context, image []byte, mimeType string, timestamp float64) (string, error) {
	text, err := render(g.prompt, timestamp)
	if err != nil {
		return "", err
	}
	return cloud.GenerateMultiModalResponse(ctx, g.inputTokens, g.outputTokens, g.retryAttempts, g.policy, g.model, cloud.NewImageContent(text, image, mimeType))
}

// OpenAIBackend captions frames with a vision chat model behind an OpenAI
// compatible API. The image travels inline as a data URL.
type OpenAIBackend struct {
	client        *openai.Client
	model         string
	prompt        *template.Template
	policy        cloud.RetryPolicy
	retryAttempts metric.Int64Counter
}

func NewOpenAIBackend(client *openai.Client, model string, prompt *template.Template, policy cloud.RetryPolicy, meter metric.Meter) *OpenAIBackend {
	b := &OpenAIBackend{client: client, model: model, prompt: prompt, policy: policy}
	b.retryAttempts, _ = meter.Int64Counter("caption.openai.retry")
	return b
}

func (o *OpenAIBackend) Describe(ctx context.Context, image []byte, mimeType string, timestamp float64) (string, error) {
	text, err := render(o.prompt, timestamp)
	if err != nil {
		return "", err
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	req := openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: 128,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: text},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailLow}},
			},
		}},
	}

	resp, err := cloud.Retry(ctx, o.policy, o.retryAttempts, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return o.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", o.model)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("model %s returned an empty caption", o.model)
	}
	return out, nil
}
