/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should be a no-op shutdown
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func spanAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestPipelineSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartPipelineSpan(context.Background(), "ns1", "p1", "CrashLoopBackOff")
	EndPipelineSpan(span, "auto", nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "autofix.pipeline" {
		t.Errorf("span name = %q, want autofix.pipeline", spans[0].Name)
	}
	attrs := spans[0].Attributes
	if v, ok := spanAttr(attrs, "autofix.pod"); !ok || v.AsString() != "p1" {
		t.Error("missing autofix.pod attribute")
	}
	if v, ok := spanAttr(attrs, "autofix.reason"); !ok || v.AsString() != "CrashLoopBackOff" {
		t.Error("missing autofix.reason attribute")
	}
	if v, ok := spanAttr(attrs, "autofix.branch"); !ok || v.AsString() != "auto" {
		t.Error("missing autofix.branch attribute")
	}
}

func TestPipelineSpanError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartPipelineSpan(context.Background(), "ns1", "p1", "OOMKilled")
	EndPipelineSpan(span, "", errors.New("reasoning service unavailable"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected recorded error event")
	}
}

func TestLLMCallSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartLLMCallSpan(context.Background(), "gpt-4o", "openai")
	EndLLMCallSpan(span, 1000, 500, true)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "gen_ai.chat" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "gen_ai.chat")
	}
	attrs := spans[0].Attributes
	if v, ok := spanAttr(attrs, "gen_ai.request.model"); !ok || v.AsString() != "gpt-4o" {
		t.Error("missing gen_ai.request.model")
	}
	if v, ok := spanAttr(attrs, "gen_ai.system"); !ok || v.AsString() != "openai" {
		t.Error("missing gen_ai.system")
	}
	if v, ok := spanAttr(attrs, "gen_ai.usage.input_tokens"); !ok || v.AsInt64() != 1000 {
		t.Error("missing gen_ai.usage.input_tokens")
	}
	if v, ok := spanAttr(attrs, "autofix.has_command"); !ok || !v.AsBool() {
		t.Error("missing autofix.has_command")
	}
}

func TestExecuteSpanRefused(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartExecuteSpan(context.Background(), "rm -rf /")
	EndExecuteSpan(span, "FAILED", -1, true)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if v, ok := spanAttr(spans[0].Attributes, "autofix.refused"); !ok || !v.AsBool() {
		t.Error("missing autofix.refused attribute")
	}
	if v, ok := spanAttr(spans[0].Attributes, "autofix.exit_code"); !ok || v.AsInt64() != -1 {
		t.Error("missing autofix.exit_code attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, runSpan := StartPipelineSpan(context.Background(), "ns1", "p1", "ErrImagePull")
	_, asmSpan := StartAssemblySpan(ctx)
	asmSpan.End()
	_, apSpan := StartApprovalSpan(ctx, "approved", "alice")
	apSpan.End()
	EndPipelineSpan(runSpan, "approval", nil)

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}

	// Children end first.
	asmStub := spans[0]
	runStub := spans[2]

	if asmStub.Parent.TraceID() != runStub.SpanContext.TraceID() {
		t.Error("assembly span should share trace ID with pipeline span")
	}
	if asmStub.Parent.SpanID() != runStub.SpanContext.SpanID() {
		t.Error("assembly span should be a child of the pipeline span")
	}
}
