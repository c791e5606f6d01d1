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
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/cor"
	"go.opentelemetry.io/otel"
)

const (
	ProviderGenAI  = "genai"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// New builds a Captioner for the configured provider. Provider "none" yields
// a Captioner that only assigns placeholders.
func New(config *cloud.Config, clients *cloud.ServiceClients) (*Captioner, error) {
	c := config.Captioning
	opts := Options{
		EveryK:            c.EveryK,
		Workers:           c.Workers,
		RequestsPerSecond: c.RequestsPerSecond,
		MaxImageDimension: c.MaxImageDimension,
	}
	policy := cloud.DefaultRetryPolicy()
	policy.MaxRetries = c.MaxRetries
	meter := otel.Meter(cor.MeterName)
	tracer := otel.Tracer(tracerName)

	var backend Backend
	switch c.Provider {
	case ProviderNone, "":
	case ProviderGenAI:
		m, ok := clients.AgentModels[c.AgentModel]
		if !ok {
			return nil, fmt.Errorf("agent model %q is not configured or genai is unavailable", c.AgentModel)
		}
		backend = NewGenAIBackend(m, NewPrompt(config.PromptTemplates.CaptionPrompt), policy, meter)
	case ProviderOpenAI:
		if clients.OpenAIClient == nil {
			return nil, errors.New("openai captioning selected but no API key is configured")
		}
		backend = NewOpenAIBackend(clients.OpenAIClient, c.OpenAIModel, NewPrompt(config.PromptTemplates.CaptionPrompt), policy, meter)
	default:
		return nil, fmt.Errorf("unknown captioning provider %q", c.Provider)
	}
	return NewCaptioner(backend, opts, tracer), nil
}
