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

package caption_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"github.com/jaycherian/gcp-go-video-search/internal/core/caption"
	"github.com/jaycherian/gcp-go-video-search/internal/core/media"
	"github.com/jaycherian/gcp-go-video-search/internal/core/model"
	test "github.com/jaycherian/gcp-go-video-search/internal/testutil"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

// frames writes n small frames sampled at stride 10 / 30 fps.
func frames(t *testing.T, n int) []model.Frame {
	t.Helper()
	dir := t.TempDir()
	out := make([]model.Frame, n)
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf(media.FrameFileNamePattern, i+1))
		writeJPEG(t, p, 32, 24)
		out[i] = model.Frame{VideoID: "v1", Index: i, Timestamp: media.FrameTimestamp(i, 10, 30), Path: p}
	}
	return out
}

func newCaptioner(backend caption.Backend, everyK int) *caption.Captioner {
	return caption.NewCaptioner(backend, caption.Options{EveryK: everyK, Workers: 3}, otel.Tracer("test"))
}

func TestFillNearestPrefersEarlierNeighbourOnTie(t *testing.T) {
	fs := []model.Frame{
		{Index: 4, Caption: "b", CaptionSource: model.CaptionSourceModel},
		{Index: 2},
		{Index: 0, Caption: "a", CaptionSource: model.CaptionSourceModel},
		{Index: 3},
		{Index: 1},
	}
	caption.FillNearest(fs)

	got := make([]string, len(fs))
	for i, f := range fs {
		assert.Equal(t, i, f.Index, "frames are sorted by index")
		got[i] = f.Caption
	}
	assert.Equal(t, []string{"a", "a", "a", "b", "b"}, got)
	assert.Equal(t, model.CaptionSourceInherited, fs[2].CaptionSource)
	assert.Equal(t, model.CaptionSourceModel, fs[4].CaptionSource)
}

func TestFillNearestWithoutCaptionsUsesPlaceholders(t *testing.T) {
	fs := []model.Frame{{Index: 0}, {Index: 1}, {Index: 2}}
	caption.FillNearest(fs)
	for i, f := range fs {
		assert.Equal(t, fmt.Sprintf("Frame %d", i+1), f.Caption)
		assert.Equal(t, model.CaptionSourcePlaceholder, f.CaptionSource)
	}
}

func TestCaptionerCaptionsEveryKthFrame(t *testing.T) {
	backend := &test.ScriptedCaptionBackend{}
	fs := frames(t, 7)

	stats, err := newCaptioner(backend, 3).Caption(context.Background(), fs)
	require.NoError(t, err)
	assert.Equal(t, caption.Stats{Requested: 3, Succeeded: 3}, stats)
	assert.ElementsMatch(t, []float64{fs[0].Timestamp, fs[3].Timestamp, fs[6].Timestamp}, backend.Calls())

	want := []string{
		"scene at 0.00", "scene at 0.00",
		"scene at 1.00", "scene at 1.00", "scene at 1.00",
		"scene at 2.00", "scene at 2.00",
	}
	for i, f := range fs {
		assert.Equal(t, want[i], f.Caption, "frame %d", i)
	}
}

func TestCaptionerFallsBackToNeighbourOnFailure(t *testing.T) {
	fs := frames(t, 7)
	failing := fs[3].Timestamp
	backend := &test.ScriptedCaptionBackend{Fail: func(ts float64) bool { return ts == failing }}

	stats, err := newCaptioner(backend, 3).Caption(context.Background(), fs)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	// Positions 0 and 6 are equally far from 3; the earlier one wins.
	assert.Equal(t, "scene at 0.00", fs[3].Caption)
	assert.Equal(t, model.CaptionSourceInherited, fs[3].CaptionSource)
	assert.Equal(t, "scene at 2.00", fs[5].Caption)
}

func TestCaptionerEveryFrameCaptionedWhenBackendFails(t *testing.T) {
	fs := frames(t, 5)
	stats, err := newCaptioner(&test.ScriptedCaptionBackend{FailAll: true}, 2).Caption(context.Background(), fs)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Failed)
	for i, f := range fs {
		assert.Equal(t, model.PlaceholderCaption(i), f.Caption)
	}
}

func TestCaptionerWithoutBackend(t *testing.T) {
	fs := frames(t, 2)
	_, err := newCaptioner(nil, 10).Caption(context.Background(), fs)
	require.NoError(t, err)
	assert.Equal(t, "Frame 1", fs[0].Caption)
	assert.Equal(t, "Frame 2", fs[1].Caption)
}

func TestCaptionerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newCaptioner(&test.ScriptedCaptionBackend{}, 1).Caption(ctx, frames(t, 3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrepareImageResizesLargeFrames(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.jpg")
	writeJPEG(t, p, 200, 100)

	raw, mime, err := caption.PrepareImage(p, 50)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 25, cfg.Height)

	orig, err := os.ReadFile(p)
	require.NoError(t, err)
	same, _, err := caption.PrepareImage(p, 1024)
	require.NoError(t, err)
	assert.Equal(t, orig, same)
}

func TestFitWithin(t *testing.T) {
	assert.Equal(t, image.Rect(0, 0, 1024, 576), caption.FitWithin(image.Rect(0, 0, 1920, 1080), 1024))
	assert.Equal(t, image.Rect(0, 0, 576, 1024), caption.FitWithin(image.Rect(0, 0, 1080, 1920), 1024))
	assert.Equal(t, image.Rect(0, 0, 320, 240), caption.FitWithin(image.Rect(0, 0, 320, 240), 1024))
}

func TestOpenAIBackendSendsImageAndPrompt(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "vision",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": " A red car on a bridge. "},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	prompt := caption.NewPrompt(`Describe the frame at {{ printf "%.2f" .Timestamp }} seconds.`)
	policy := cloud.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}
	b := caption.NewOpenAIBackend(openai.NewClientWithConfig(cfg), "vision", prompt, policy, otel.Meter("test"))

	out, err := b.Describe(context.Background(), []byte{0xff, 0xd8}, "image/jpeg", 1.5)
	require.NoError(t, err)
	assert.Equal(t, "A red car on a bridge.", out)
	assert.True(t, strings.Contains(body, "Describe the frame at 1.50 seconds."))
	assert.True(t, strings.Contains(body, "data:image/jpeg;base64,/9g="))
}
