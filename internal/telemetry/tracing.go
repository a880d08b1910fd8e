/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for authorization sessions.
//
// Every login or register attempt produces a session span with a child
// span around the identity store round trip. Custom span attributes use
// the `rolegate.` prefix. Emails and secrets are never attached.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/marcus-qen/rolegate/session"

	resultSuccess = "success"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("rolegate"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartSessionSpan creates the parent span for a login, register or logout.
func StartSessionSpan(ctx context.Context, operation string, generation uint64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session."+operation,
		trace.WithAttributes(
			attribute.String("rolegate.operation", operation),
			attribute.Int64("rolegate.generation", int64(generation)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartVerifySpan creates a child span around the identity store call.
func StartVerifySpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "identity.verify",
		trace.WithAttributes(
			attribute.String("rolegate.operation", operation),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndVerifySpan records the attempt result and ends the span. Any result
// other than success marks the span as an error.
func EndVerifySpan(span trace.Span, result string) {
	span.SetAttributes(attribute.String("rolegate.result", result))
	if result != resultSuccess {
		span.SetStatus(codes.Error, result)
	}
	span.End()
}

// EndSessionSpan records the outcome of the whole operation and ends the span.
func EndSessionSpan(span trace.Span, result string, role string) {
	span.SetAttributes(attribute.String("rolegate.result", result))
	if role != "" {
		span.SetAttributes(attribute.String("rolegate.role", role))
	}
	if result != resultSuccess {
		span.SetStatus(codes.Error, result)
	}
	span.End()
}
