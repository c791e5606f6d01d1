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
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ConfigFileBaseName  = ".env"
	ConfigFileExtension = ".toml"
	ConfigSeparator     = "."
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // directory holding the TOML files
	EnvConfigRuntime    = "GCP_RUNTIME"       // local | test | prod ...
	MaxRetries          = 3
)

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig decodes the base TOML file and then the runtime TOML file into
// baseConfig. Keys present in the runtime file win. A missing file is skipped;
// a file that fails to parse stops the process.
//
// Inputs:
//   - baseConfig: A pointer to the struct the TOML files decode into.
func LoadConfig(baseConfig interface{}) {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}

	runtimeEnvironment := os.Getenv(EnvConfigRuntime)
	if runtimeEnvironment == "" {
		runtimeEnvironment = "test"
	}

	baseConfigFileName := prefix + ConfigFileBaseName + ConfigFileExtension
	envConfigFileName := prefix + ConfigFileBaseName + ConfigSeparator + runtimeEnvironment + ConfigFileExtension

	for _, name := range []string{baseConfigFileName, envConfigFileName} {
		if !fileExists(name) {
			slog.Debug("configuration file not found, skipping", "file", name)
			continue
		}
		if _, err := toml.DecodeFile(name, baseConfig); err != nil {
			log.Fatalf("failed to decode configuration file %s with error: %s", name, err)
		}
		slog.Debug("loaded configuration file", "file", name, "runtime", runtimeEnvironment)
	}
}

// APIKey resolves the key of an OpenAI compatible endpoint from its environment
// variable. An empty string means the endpoint is not usable.
func (e OpenAIEndpoint) APIKey() string {
	if e.APIKeyEnv == "" {
		return os.Getenv("OPENAI_API_KEY")
	}
	return os.Getenv(e.APIKeyEnv)
}

// RetryPolicy describes exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries int           // retries after the first attempt
	Backoff    time.Duration // delay before the first retry, doubled each time
	MaxBackoff time.Duration
}

// DefaultRetryPolicy starts at one second and caps each wait at ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: MaxRetries, Backoff: time.Second, MaxBackoff: 10 * time.Second}
}

// Retry calls fn until it succeeds, returns a non retryable error, the retries
// are exhausted or ctx is done. retryCounter may be nil.
//
// Inputs:
//   - ctx: Cancels the waits between attempts.
//   - policy: Attempt count and backoff bounds.
//   - retryCounter: Incremented once per retry.
//   - fn: The call to retry.
//
// Outputs:
//   - T: The value of the first successful call.
//   - error: The last error seen, or ctx.Err().
func Retry[T any](ctx context.Context, policy RetryPolicy, retryCounter metric.Int64Counter, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	backoff := policy.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := policy.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	for attempt := 0; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, errors.Join(err, ctx.Err())
		}
		if retryCounter != nil {
			retryCounter.Add(ctx, 1)
		}
		slog.WarnContext(ctx, "retrying after transient error", "attempt", attempt+1, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// IsRetryable classifies rate limits, timeouts and server side failures from
// the backends in use as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var oaAPI *openai.APIError
	if errors.As(err, &oaAPI) {
		return retryableHTTP(oaAPI.HTTPStatusCode)
	}
	var oaReq *openai.RequestError
	if errors.As(err, &oaReq) {
		return retryableHTTP(oaReq.HTTPStatusCode)
	}
	var gAPI genai.APIError
	if errors.As(err, &gAPI) {
		return retryableHTTP(gAPI.Code)
	}
	var gAPIPtr *genai.APIError
	if errors.As(err, &gAPIPtr) {
		return retryableHTTP(gAPIPtr.Code)
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
			return true
		}
	}
	return false
}

func retryableHTTP(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}

// GenerateMultiModalResponse sends content to a quota aware model, retrying
// transient failures, and returns the concatenated text of every candidate.
// Token usage is recorded on the counters when the response reports it.
//
// Inputs:
//   - ctx: Bounds the call and its retries.
//   - inputTokenCounter, outputTokenCounter, retryCounter: Usage counters.
//   - policy: How transient failures are retried.
//   - model: The quota aware model.
//   - content: The conversation to send.
//
// Outputs:
//   - value: The response text.
//   - err: Set when every attempt failed or the response had no text.
func GenerateMultiModalResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	policy RetryPolicy,
	model *QuotaAwareGenerativeAIModel,
	content []*genai.Content) (value string, err error) {

	resp, err := Retry(ctx, policy, retryCounter, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return model.GenerateContent(ctx, content)
	})
	if err != nil {
		return "", err
	}

	if resp.UsageMetadata != nil {
		if inputTokenCounter != nil {
			inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		}
		if outputTokenCounter != nil {
			outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
		}
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	value = strings.TrimSpace(sb.String())
	if value == "" {
		return "", fmt.Errorf("model %s returned no text", model.ModelName)
	}
	return value, nil
}

// NewImageContent builds a single user turn carrying a text prompt and an inline image.
func NewImageContent(prompt string, image []byte, mimeType string) []*genai.Content {
	return []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
}

// NewTextContent builds a single user turn carrying text only.
func NewTextContent(prompt string) []*genai.Content {
	return genai.Text(prompt)
}
