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

// Package cloud holds the process-wide configuration and the clients for the
// external services the video pipeline talks to: Google Cloud (Storage,
// Pub/Sub, BigQuery, IAM, Vertex AI), OpenAI-compatible endpoints, Redis,
// Milvus and Postgres.
//
// Configuration is read from TOML. The base file configs/.env.toml is loaded
// first and the runtime file (configs/.env.<GCP_RUNTIME>.toml) is layered on
// top of it, so a runtime file only needs the keys it overrides.
package cloud

import (
	"time"

	"google.golang.org/genai"
)

// DefaultSafetySettings turns off content blocking for every harm category.
// Frames and transcripts come from trusted uploads and a blocked caption would
// leave a hole in the index.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// Application holds process level settings.
type Application struct {
	Name                      string `toml:"name"`
	GoogleProjectId           string `toml:"google_project_id"` // empty disables every Google Cloud client
	GoogleLocation            string `toml:"location"`
	ThreadPoolSize            int    `toml:"thread_pool_size"`
	MaxConcurrentVideos       int    `toml:"max_concurrent_videos"`
	SignerServiceAccountEmail string `toml:"signer_service_account_email"`
	ListenAddress             string `toml:"listen_address"`
	LogFile                   string `toml:"log_file"`              // empty logs to stdout only
	IndexRebuildMinutes       int    `toml:"index_rebuild_minutes"` // 0 disables the periodic index check
}

// Storage describes where artifacts live, locally and in GCS.
type Storage struct {
	DataDir          string `toml:"data_dir"`   // per-video artifacts: {data_dir}/{video_id}/...
	UploadDir        string `toml:"upload_dir"` // multipart uploads and GCS downloads
	ClipDir          string `toml:"clip_dir"`
	HiResInputBucket string `toml:"high_res_input_bucket"`
	ClipBucket       string `toml:"clip_bucket"` // empty keeps clips local only
}

// Media configures the ffmpeg tool chain and frame sampling.
type Media struct {
	FFmpeg            string  `toml:"ffmpeg"`
	FFprobe           string  `toml:"ffprobe"`
	FrameStride       int     `toml:"frame_stride"`
	DefaultFPS        float64 `toml:"default_fps"`
	JPEGQuality       int     `toml:"jpeg_quality"`
	AudioSampleRate   int     `toml:"audio_sample_rate"`
	AudioChunkSeconds int     `toml:"audio_chunk_seconds"`
	AudioMaxBytes     int64   `toml:"audio_max_bytes"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// Timeout is the upper bound for a single ffmpeg or ffprobe invocation.
func (m Media) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// OpenAIEndpoint points at any OpenAI compatible API (OpenAI, Groq, a local server).
type OpenAIEndpoint struct {
	BaseURL   string `toml:"base_url"`
	APIKeyEnv string `toml:"api_key_env"` // name of the environment variable holding the key
}

// Transcription selects and tunes the speech-to-text backend.
type Transcription struct {
	Provider      string  `toml:"provider"` // whisper | speech | none
	Model         string  `toml:"model"`
	Language      string  `toml:"language"`
	MaxRetries    int     `toml:"max_retries"`
	BackoffMillis int     `toml:"backoff_ms"`
	StagingBucket string  `toml:"staging_bucket"` // GCS bucket for long-running Speech requests
	GroupSeconds  float64 `toml:"group_seconds"`  // window used to merge Speech words into segments
}

// Captioning selects and tunes the frame captioning backend.
type Captioning struct {
	Provider          string  `toml:"provider"`    // genai | openai | none
	AgentModel        string  `toml:"agent_model"` // key into Config.AgentModels for the genai provider
	OpenAIModel       string  `toml:"openai_model"`
	EveryK            int     `toml:"every_k"`
	MaxImageDimension int     `toml:"max_image_dimension"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Workers           int     `toml:"workers"`
	MaxRetries        int     `toml:"max_retries"`
}

// Embedding selects the text and image embedding backends.
type Embedding struct {
	TextProvider     string `toml:"text_provider"`  // onnx | genai | openai | none
	ImageProvider    string `toml:"image_provider"` // onnx | none
	TextModel        string `toml:"text_model"`
	TextDimension    int    `toml:"text_dimension"` // 0 uses the provider's default
	BatchSize        int    `toml:"batch_size"`
	ONNXLibrary      string `toml:"onnx_library"`
	MiniLMModel      string `toml:"minilm_model"`
	MiniLMTokenizer  string `toml:"minilm_tokenizer"`
	ClipTextModel    string `toml:"clip_text_model"`
	ClipVisionModel  string `toml:"clip_vision_model"`
	ClipTokenizer    string `toml:"clip_tokenizer"`
	GenAIModelConfig string `toml:"genai_model"` // key into Config.EmbeddingModels
}

// Milvus connection settings for the visual index.
type Milvus struct {
	Address    string `toml:"address"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	Collection string `toml:"collection"`
}

// PgVector connection settings for the text store.
type PgVector struct {
	DSN   string `toml:"dsn"`
	Table string `toml:"table"`
}

// Index selects the backends for the two vector stores.
type Index struct {
	VisualBackend string   `toml:"visual_backend"` // flat | milvus
	TextBackend   string   `toml:"text_backend"`   // memory | pgvector | bigquery
	Milvus        Milvus   `toml:"milvus"`
	PgVector      PgVector `toml:"pgvector"`
}

// BigQueryDataSource names the dataset and table for the BigQuery text store.
type BigQueryDataSource struct {
	DatasetName        string `toml:"dataset"`
	TextEmbeddingTable string `toml:"text_embedding_table"`
}

// Catalog is the relational store for videos, frames, segments and clips.
type Catalog struct {
	Driver string `toml:"driver"` // sqlite | postgres
	DSN    string `toml:"dsn"`
}

// Tasks configures where processing task status is kept.
type Tasks struct {
	Backend      string `toml:"backend"` // memory | redis
	RedisAddress string `toml:"redis_address"`
	TTLHours     int    `toml:"ttl_hours"`
}

// Search holds query defaults.
type Search struct {
	DefaultTopK        int     `toml:"default_top_k"`
	FramePrePadSeconds float64 `toml:"frame_pre_pad_seconds"`
	FrameClipSeconds   float64 `toml:"frame_clip_seconds"`
}

// Clips configures clip materialization.
type Clips struct {
	Workers          int `toml:"workers"`
	SignedURLMinutes int `toml:"signed_url_minutes"`
}

// Telemetry selects the trace exporter.
type Telemetry struct {
	Exporter     string `toml:"exporter"` // gcp | otlp | stdout | none
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// PromptTemplates are text/template sources rendered per request.
type PromptTemplates struct {
	CaptionPrompt string `toml:"caption"`
	SummaryPrompt string `toml:"summary"`
}

// VertexAiEmbeddingModel configures a Vertex AI embedding model.
type VertexAiEmbeddingModel struct {
	Model                string `toml:"model"`
	MaxRequestsPerMinute int    `toml:"max_requests_per_minute"`
}

// VertexAiLLMModel configures a Vertex AI generative model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"`
	RateLimit          int     `toml:"rate_limit"` // requests per second
}

// TopicSubscription configures a single Pub/Sub subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Config is the root of the TOML configuration.
type Config struct {
	Application        Application                       `toml:"application"`
	Storage            Storage                           `toml:"storage"`
	Media              Media                             `toml:"media"`
	OpenAI             OpenAIEndpoint                    `toml:"openai"`
	Transcription      Transcription                     `toml:"transcription"`
	Captioning         Captioning                        `toml:"captioning"`
	Embedding          Embedding                         `toml:"embedding"`
	Index              Index                             `toml:"index"`
	BigQueryDataSource BigQueryDataSource                `toml:"big_query_data_source"`
	Catalog            Catalog                           `toml:"catalog"`
	Tasks              Tasks                             `toml:"tasks"`
	Search             Search                            `toml:"search"`
	Clips              Clips                             `toml:"clips"`
	Telemetry          Telemetry                         `toml:"telemetry"`
	PromptTemplates    PromptTemplates                   `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription      `toml:"topic_subscriptions"`
	EmbeddingModels    map[string]VertexAiEmbeddingModel `toml:"embedding_models"`
	AgentModels        map[string]VertexAiLLMModel       `toml:"agent_models"`
}

// NewConfig returns a Config with its maps allocated and the defaults that the
// TOML files may omit.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		EmbeddingModels:    make(map[string]VertexAiEmbeddingModel),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
	c.Application.ThreadPoolSize = 4
	c.Application.MaxConcurrentVideos = 2
	c.Application.ListenAddress = ":8080"
	c.Application.IndexRebuildMinutes = 10
	c.Media.FFmpeg = "ffmpeg"
	c.Media.FFprobe = "ffprobe"
	c.Media.FrameStride = 10
	c.Media.DefaultFPS = 30.0
	c.Media.JPEGQuality = 2
	c.Media.AudioSampleRate = 16000
	c.Media.AudioChunkSeconds = 600
	c.Media.AudioMaxBytes = 20 * 1024 * 1024
	c.Transcription.MaxRetries = MaxRetries
	c.Transcription.BackoffMillis = 1000
	c.Transcription.GroupSeconds = 10.0
	c.Captioning.EveryK = 10
	c.Captioning.MaxImageDimension = 1024
	c.Captioning.RequestsPerSecond = 2
	c.Captioning.Workers = 4
	c.Captioning.MaxRetries = MaxRetries
	c.Embedding.BatchSize = 32
	c.Index.VisualBackend = "flat"
	c.Index.TextBackend = "memory"
	c.Catalog.Driver = "sqlite"
	c.Tasks.Backend = "memory"
	c.Tasks.TTLHours = 24
	c.Search.DefaultTopK = 5
	c.Search.FramePrePadSeconds = 1.0
	c.Search.FrameClipSeconds = 5.0
	c.Clips.Workers = 4
	c.Clips.SignedURLMinutes = 15
	c.Telemetry.Exporter = "none"
	return c
}

// HasGoogleCloud reports whether a Google Cloud project is configured.
func (c *Config) HasGoogleCloud() bool {
	return c.Application.GoogleProjectId != ""
}
