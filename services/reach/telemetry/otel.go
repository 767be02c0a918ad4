// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianReach/services/reach/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// ServiceName is reported as service.name on every span and metric.
const ServiceName = "aleutian-reach"

// Providers holds the installed SDK providers.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Setup installs global OpenTelemetry providers.
//
// Description:
//
//	Traces go to w ("stdout") or to an OTLP gRPC collector ("otlp").
//	Metrics are exposed to the Prometheus default registry ("prometheus"),
//	so they appear beside the promauto collectors on /metrics, or are
//	written periodically to w ("stdout"). "none" leaves the corresponding
//	global no-op provider in place.
//
// Inputs:
//
//	ctx - Used to dial the OTLP collector.
//	cfg - Exporter selection.
//	w - Destination for stdout exporters.
//	version - Reported as service.version.
//
// Outputs:
//
//	*Providers - Call Shutdown before exit to flush.
//	error - Non-nil if an exporter cannot be created.
func Setup(ctx context.Context, cfg config.Telemetry, w io.Writer, version string) (*Providers, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	p := &Providers{}

	var spanExporter sdktrace.SpanExporter
	switch cfg.Traces {
	case "", "none":
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		spanExporter = exp
	case "otlp":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(ServiceName+"/"+version)),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		spanExporter = exp
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Traces)
	}
	if spanExporter != nil {
		p.Tracer = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(p.Tracer)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
	}

	var reader sdkmetric.Reader
	switch cfg.Metrics {
	case "", "none":
	case "prometheus":
		exp, err := otelprom.New()
		if err != nil {
			p.Shutdown(ctx)
			return nil, fmt.Errorf("prometheus metric exporter: %w", err)
		}
		reader = exp
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			p.Shutdown(ctx)
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	default:
		p.Shutdown(ctx)
		return nil, fmt.Errorf("unknown metric exporter %q", cfg.Metrics)
	}
	if reader != nil {
		p.Meter = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(p.Meter)
	}
	return p, nil
}

// Shutdown flushes and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.Tracer != nil {
		errs = append(errs, p.Tracer.Shutdown(ctx))
	}
	if p.Meter != nil {
		errs = append(errs, p.Meter.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
