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

package telemetry_test

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-video-search/internal/telemetry"
	test "github.com/jaycherian/gcp-go-video-search/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		out = append(out, record)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestSetupLoggingWritesCloudLoggingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	telemetry.SetupLogging(path)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	slog.WarnContext(ctx, "frame caption failed", "frame_index", 3)
	slog.With("video_id", "v1").Info("video ready")

	records := readRecords(t, path)
	require.Len(t, records, 2)

	warn := records[0]
	assert.Equal(t, "WARNING", warn["severity"])
	assert.Equal(t, "frame caption failed", warn["message"])
	assert.Contains(t, warn, "timestamp")
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", warn["logging.googleapis.com/trace"])
	assert.Equal(t, "00f067aa0ba902b7", warn["logging.googleapis.com/spanId"])
	assert.Equal(t, true, warn["logging.googleapis.com/trace_sampled"])
	assert.Equal(t, float64(3), warn["frame_index"])

	info := records[1]
	assert.Equal(t, "INFO", info["severity"])
	assert.Equal(t, "v1", info["video_id"])
	assert.NotContains(t, info, "logging.googleapis.com/trace")
}

func TestSetupOpenTelemetry(t *testing.T) {
	for _, exporter := range []string{telemetry.ExporterNone, telemetry.ExporterStdout} {
		t.Run(exporter, func(t *testing.T) {
			config := test.NewTestConfig(t)
			config.Telemetry.Exporter = exporter

			shutdown, err := telemetry.SetupOpenTelemetry(context.Background(), config)
			require.NoError(t, err)

			_, span := otel.Tracer("telemetry-test").Start(context.Background(), "probe")
			assert.True(t, span.SpanContext().IsValid())
			span.End()

			require.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestSetupOpenTelemetryRejectsUnknownExporter(t *testing.T) {
	config := test.NewTestConfig(t)
	config.Telemetry.Exporter = "carrier-pigeon"
	_, err := telemetry.SetupOpenTelemetry(context.Background(), config)
	assert.Error(t, err)
}
