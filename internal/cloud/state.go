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

package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ServiceClients holds every external client the process uses. Clients are
// created once at startup and shared; a nil field means the backend it serves
// is not configured.
type ServiceClients struct {
	StorageClient   *storage.Client
	PubsubClient    *pubsub.Client
	GenAIClient     *genai.Client
	BigQueryClient  *bigquery.Client
	IAMClient       *credentials.IamCredentialsClient
	SpeechClient    *speech.Client
	OpenAIClient    *openai.Client
	RedisClient     *redis.Client
	MilvusClient    client.Client
	PgPool          *pgxpool.Pool
	PubSubListeners map[string]*PubSubListener
	EmbeddingModels map[string]*genai.Models
	AgentModels     map[string]*QuotaAwareGenerativeAIModel
}

// Close releases every client that was opened.
func (c *ServiceClients) Close() {
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
	if c.BigQueryClient != nil {
		_ = c.BigQueryClient.Close()
	}
	if c.IAMClient != nil {
		_ = c.IAMClient.Close()
	}
	if c.SpeechClient != nil {
		_ = c.SpeechClient.Close()
	}
	if c.RedisClient != nil {
		_ = c.RedisClient.Close()
	}
	if c.MilvusClient != nil {
		_ = c.MilvusClient.Close()
	}
	if c.PgPool != nil {
		c.PgPool.Close()
	}
}

// NewCloudServiceClients opens the clients required by config. Google Cloud
// clients need application.google_project_id; the Gemini API is used instead
// of Vertex AI when only GOOGLE_API_KEY is set. The remaining clients are
// opened only when the matching backend is selected.
//
// Inputs:
//   - ctx: Used while opening clients.
//   - config: The loaded configuration.
//
// Outputs:
//   - cloud: The opened clients. Call Close when done.
//   - err: The first client that failed to open.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	cloud = &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		EmbeddingModels: make(map[string]*genai.Models),
		AgentModels:     make(map[string]*QuotaAwareGenerativeAIModel),
	}
	defer func() {
		if err != nil {
			cloud.Close()
			cloud = nil
		}
	}()

	if config.HasGoogleCloud() {
		if err = cloud.openGoogleCloud(ctx, config); err != nil {
			return cloud, err
		}
	}

	if cloud.GenAIClient == nil && os.Getenv("GOOGLE_API_KEY") != "" {
		cloud.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  os.Getenv("GOOGLE_API_KEY"),
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return cloud, fmt.Errorf("creating gemini client: %w", err)
		}
	}

	if cloud.GenAIClient != nil {
		for key := range config.EmbeddingModels {
			cloud.EmbeddingModels[key] = cloud.GenAIClient.Models
		}
		for key, values := range config.AgentModels {
			cloud.AgentModels[key] = NewQuotaAwareModel(NewGenerateContentConfig(values), values.Model, cloud.GenAIClient.Models, values.RateLimit)
		}
	}

	if key := config.OpenAI.APIKey(); key != "" {
		oaConfig := openai.DefaultConfig(key)
		if config.OpenAI.BaseURL != "" {
			oaConfig.BaseURL = config.OpenAI.BaseURL
		}
		cloud.OpenAIClient = openai.NewClientWithConfig(oaConfig)
	}

	if config.Tasks.Backend == "redis" {
		cloud.RedisClient = redis.NewClient(&redis.Options{Addr: config.Tasks.RedisAddress})
		if err = cloud.RedisClient.Ping(ctx).Err(); err != nil {
			return cloud, fmt.Errorf("connecting to redis at %s: %w", config.Tasks.RedisAddress, err)
		}
	}

	if config.Index.VisualBackend == "milvus" {
		cloud.MilvusClient, err = client.NewClient(ctx, client.Config{
			Address:  config.Index.Milvus.Address,
			Username: config.Index.Milvus.Username,
			Password: config.Index.Milvus.Password,
		})
		if err != nil {
			return cloud, fmt.Errorf("connecting to milvus at %s: %w", config.Index.Milvus.Address, err)
		}
	}

	if config.Index.TextBackend == "pgvector" {
		cloud.PgPool, err = pgxpool.New(ctx, config.Index.PgVector.DSN)
		if err != nil {
			return cloud, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err = cloud.PgPool.Ping(ctx); err != nil {
			return cloud, fmt.Errorf("pinging postgres: %w", err)
		}
	}

	return cloud, nil
}

func (c *ServiceClients) openGoogleCloud(ctx context.Context, config *Config) (err error) {
	project := config.Application.GoogleProjectId
	slog.Info("opening google cloud clients", "project", project, "location", config.Application.GoogleLocation)

	if c.StorageClient, err = storage.NewClient(ctx); err != nil {
		return fmt.Errorf("creating storage client: %w", err)
	}
	if c.PubsubClient, err = pubsub.NewClient(ctx, project); err != nil {
		return fmt.Errorf("creating pubsub client: %w", err)
	}
	if c.BigQueryClient, err = bigquery.NewClient(ctx, project); err != nil {
		return fmt.Errorf("creating bigquery client: %w", err)
	}
	if config.Application.SignerServiceAccountEmail != "" {
		if c.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
			return fmt.Errorf("creating iam credentials client: %w", err)
		}
	}
	if config.Transcription.Provider == "speech" {
		if c.SpeechClient, err = speech.NewClient(ctx); err != nil {
			return fmt.Errorf("creating speech client: %w", err)
		}
	}
	c.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: config.Application.GoogleLocation,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return fmt.Errorf("creating genai client: %w", err)
	}

	for key, values := range config.TopicSubscriptions {
		listener, err := NewPubSubListener(c.PubsubClient, values.Name, nil)
		if err != nil {
			return err
		}
		c.PubSubListeners[key] = listener
	}
	return nil
}
