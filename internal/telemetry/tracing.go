/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the remediation controller.
//
// Spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system: the LLM provider
//   - gen_ai.request.model: the model name
//   - gen_ai.usage.input_tokens: tokens consumed
//   - gen_ai.usage.output_tokens: tokens generated
//
// Custom span attributes use the `autofix.` prefix.
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
	tracerName = "github.com/marcus-qen/autofix"
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
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("autofix-controller"),
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

// StartPipelineSpan creates the parent span for one failure pipeline run.
func StartPipelineSpan(ctx context.Context, namespace, pod, reason string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autofix.pipeline",
		trace.WithAttributes(
			attribute.String("autofix.namespace", namespace),
			attribute.String("autofix.pod", pod),
			attribute.String("autofix.reason", reason),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndPipelineSpan records the chosen branch and closes the span.
func EndPipelineSpan(span trace.Span, branch string, err error) {
	span.SetAttributes(attribute.String("autofix.branch", branch))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartAssemblySpan creates a child span for diagnostic query assembly.
func StartAssemblySpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autofix.assemble")
}

// StartLLMCallSpan creates a child span for a diagnostic call, following GenAI conventions.
func StartLLMCallSpan(ctx context.Context, model, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndLLMCallSpan enriches the diagnostic span with usage data.
func EndLLMCallSpan(span trace.Span, inputTokens, outputTokens int64, hasCommand bool) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
		attribute.Bool("autofix.has_command", hasCommand),
	)
	span.End()
}

// StartExecuteSpan creates a child span for a remediation command.
func StartExecuteSpan(ctx context.Context, command string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autofix.execute",
		trace.WithAttributes(
			attribute.String("autofix.command", command),
		),
	)
}

// EndExecuteSpan enriches the execute span with result data.
func EndExecuteSpan(span trace.Span, status string, exitCode int, refused bool) {
	span.SetAttributes(
		attribute.String("autofix.status", status),
		attribute.Int("autofix.exit_code", exitCode),
		attribute.Bool("autofix.refused", refused),
	)
	span.End()
}

// StartApprovalSpan creates a span for an approval callback.
func StartApprovalSpan(ctx context.Context, decision, user string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "autofix.approval",
		trace.WithAttributes(
			attribute.String("autofix.decision", decision),
			attribute.String("autofix.user", user),
		),
	)
}
