/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the execution core.
//
// Spans follow the OTel GenAI semantic conventions where the step being
// traced is a model call:
//   - gen_ai.system — the model provider
//   - gen_ai.request.model — the model name
//   - gen_ai.usage.input_tokens / gen_ai.usage.output_tokens — token usage
//
// Custom span attributes use the `agentcore.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentcore/execution"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (no-op provider).
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
			semconv.ServiceNameKey.String("agentcore-execution"),
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

// StartRunSpan creates the parent span for an orchestrated run.
func StartRunSpan(ctx context.Context, runID, taskClass, zone string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "run.execute",
		trace.WithAttributes(
			attribute.String("agentcore.run_id", runID),
			attribute.String("agentcore.task_class", taskClass),
			attribute.String("agentcore.zone", zone),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStepSpan creates a child span for a single step-graph node execution.
func StartStepSpan(ctx context.Context, runID, stepID, nodeType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "run.step",
		trace.WithAttributes(
			attribute.String("agentcore.run_id", runID),
			attribute.String("agentcore.step_id", stepID),
			attribute.String("agentcore.node_type", nodeType),
		),
	)
}

// EndStepSpan enriches a step span with its terminal outcome.
func EndStepSpan(span trace.Span, outcome string, suspended bool) {
	span.SetAttributes(
		attribute.String("agentcore.outcome", outcome),
		attribute.Bool("agentcore.suspended", suspended),
	)
	span.End()
}

// StartLLMCallSpan creates a child span for a model-routing call, following
// GenAI semantic conventions.
func StartLLMCallSpan(ctx context.Context, model, provider string, stepID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
			attribute.String("agentcore.step_id", stepID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndLLMCallSpan enriches the LLM span with usage data.
func EndLLMCallSpan(span trace.Span, inputTokens, outputTokens int64, hasToolCalls bool) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
		attribute.Bool("agentcore.has_tool_calls", hasToolCalls),
	)
	span.End()
}

// StartPolicyEvalSpan creates a child span for a policy engine evaluation.
func StartPolicyEvalSpan(ctx context.Context, policyType, zone, actor string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("agentcore.policy_type", policyType),
			attribute.String("agentcore.zone", zone),
			attribute.String("agentcore.actor", actor),
		),
	)
}

// EndPolicyEvalSpan enriches the policy span with its verdict.
func EndPolicyEvalSpan(span trace.Span, verdict string, reason string) {
	span.SetAttributes(
		attribute.String("agentcore.verdict", verdict),
	)
	if reason != "" {
		span.SetAttributes(attribute.String("agentcore.reason", reason))
	}
	span.End()
}

// StartWebhookDispatchSpan creates a child span for inbound webhook
// verification and routing.
func StartWebhookDispatchSpan(ctx context.Context, provider, eventType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "webhook.dispatch",
		trace.WithAttributes(
			attribute.String("agentcore.webhook_provider", provider),
			attribute.String("agentcore.webhook_event_type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// EndWebhookDispatchSpan enriches the webhook span with its result.
func EndWebhookDispatchSpan(span trace.Span, verified bool, routed bool) {
	span.SetAttributes(
		attribute.Bool("agentcore.verified", verified),
		attribute.Bool("agentcore.routed", routed),
	)
	span.End()
}
