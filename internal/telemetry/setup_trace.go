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

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mexporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/jaycherian/gcp-go-video-search/internal/cloud"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	ExporterGCP    = "gcp"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// SetupOpenTelemetry installs the global tracer and meter providers selected
// by telemetry.exporter:
//
//	gcp     Cloud Trace spans and Cloud Monitoring metrics
//	otlp    spans over OTLP/HTTP to telemetry.otlp_endpoint
//	stdout  spans printed to stdout, for local debugging
//	none    spans are recorded but not exported
//
// The returned function flushes and stops every provider that was started.
func SetupOpenTelemetry(ctx context.Context, config *cloud.Config) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	detectors := []resource.Option{
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceNameKey.String(config.Application.Name)),
	}
	if config.Telemetry.Exporter == ExporterGCP {
		detectors = append(detectors, resource.WithDetectors(gcp.NewDetector()))
	}
	res, err := resource.New(ctx, detectors...)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		slog.Warn("partial resource detection", "error", err)
	} else if err != nil {
		return nil, err
	}

	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())

	tpOptions := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	mpOptions := []metric.Option{metric.WithResource(res)}

	switch config.Telemetry.Exporter {
	case ExporterGCP:
		traceExporter, err := texporter.New(texporter.WithProjectID(config.Application.GoogleProjectId))
		if err != nil {
			return nil, fmt.Errorf("unable to set up trace exporter: %w", err)
		}
		tpOptions = append(tpOptions, sdktrace.WithBatcher(traceExporter))

		metricExporter, err := mexporter.New(mexporter.WithProjectID(config.Application.GoogleProjectId))
		if err != nil {
			return nil, fmt.Errorf("unable to set up metric exporter: %w", err)
		}
		mpOptions = append(mpOptions, metric.WithReader(metric.NewPeriodicReader(metricExporter)))
	case ExporterOTLP:
		traceExporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(config.Telemetry.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("unable to set up otlp exporter: %w", err)
		}
		tpOptions = append(tpOptions, sdktrace.WithBatcher(traceExporter))
	case ExporterStdout:
		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		tpOptions = append(tpOptions, sdktrace.WithBatcher(traceExporter))
	case ExporterNone, "":
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", config.Telemetry.Exporter)
	}

	tp := sdktrace.NewTracerProvider(tpOptions...)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	otel.SetTracerProvider(tp)

	mp := metric.NewMeterProvider(mpOptions...)
	shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	otel.SetMeterProvider(mp)

	return shutdown, nil
}
