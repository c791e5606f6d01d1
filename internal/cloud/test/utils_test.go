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

package cloud_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient sentinel", fmt.Errorf("caption: %w", model.ErrTransient), true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc quota", status.Error(codes.ResourceExhausted, "quota"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"openai rate limit", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"openai server", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{"openai bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"plain", errors.New("boom"), false},
		{"decode", model.ErrDecode, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, cloud.IsRetryable(c.err))
		})
	}
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	calls := 0
	policy := cloud.RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	out, err := cloud.Retry(context.Background(), policy, nil, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", model.ErrTransient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	policy := cloud.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}

	_, err := cloud.Retry(context.Background(), policy, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, model.ErrTransient
	})
	assert.ErrorIs(t, err, model.ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")

	_, err := cloud.Retry(context.Background(), cloud.DefaultRetryPolicy(), nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestLoadConfigLayersRuntimeFile(t *testing.T) {
	dir := t.TempDir()
	base := "[application]\nname = \"base\"\nthread_pool_size = 8\n[search]\ndefault_top_k = 5\n"
	override := "[application]\nname = \"override\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.toml"), []byte(base), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.unit.toml"), []byte(override), 0o644))

	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "unit")

	config := cloud.NewConfig()
	cloud.LoadConfig(config)

	assert.Equal(t, "override", config.Application.Name)
	assert.Equal(t, 8, config.Application.ThreadPoolSize)
	assert.Equal(t, 5, config.Search.DefaultTopK)
	// Defaults survive when neither file sets them.
	assert.Equal(t, 10, config.Media.FrameStride)
	assert.Equal(t, 1.0, config.Search.FramePrePadSeconds)
}
