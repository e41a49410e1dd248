package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for engine spans.
const TracerName = "reckon-engine"

// Attribute keys attached to run and phase spans.
const (
	SpanAttrRunID      = "run.id"
	SpanAttrRunMode    = "run.mode"
	SpanAttrPhase      = "run.phase"
	SpanAttrPeriod     = "billing.period"
	SpanAttrSnapshot   = "usage.snapshot"
	SpanAttrEntityID   = "usage.entity_id"
	SpanAttrTierID     = "usage.tier_id"
	SpanAttrCustomerID = "billing.customer_id"
	SpanAttrInvoiceID  = "billing.invoice_id"
)

// SpanOption configures span creation.
type SpanOption func(*spanConfig)

type spanConfig struct {
	attributes []attribute.KeyValue
	spanKind   trace.SpanKind
}

// WithAttribute adds an attribute to the span at creation time.
func WithAttribute(key string, value interface{}) SpanOption {
	return func(cfg *spanConfig) {
		cfg.attributes = append(cfg.attributes, toAttribute(key, value))
	}
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(cfg *spanConfig) {
		cfg.spanKind = kind
	}
}

// StartSpan starts a span from the globally registered tracer provider.
// When telemetry is disabled the returned span is a no-op and the call
// costs almost nothing.
func StartSpan(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, trace.Span) {
	cfg := &spanConfig{
		spanKind: trace.SpanKindInternal,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, spanName,
		trace.WithSpanKind(cfg.spanKind),
		trace.WithAttributes(cfg.attributes...),
	)
}

// StartPhaseSpan starts a span for one phase of a reconciliation run,
// named "run.<phase>" and tagged with the phase attribute.
func StartPhaseSpan(ctx context.Context, phase string, opts ...SpanOption) (context.Context, trace.Span) {
	opts = append(opts, WithAttribute(SpanAttrPhase, phase))
	return StartSpan(ctx, fmt.Sprintf("run.%s", phase), opts...)
}

// SetAttributes sets attributes on the span from alternating key/value
// pairs. Pairs with a non-string key are skipped, a trailing key without
// a value is ignored.
func SetAttributes(span trace.Span, keyValues ...interface{}) {
	if span == nil || !span.IsRecording() {
		return
	}

	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		span.SetAttributes(toAttribute(key, keyValues[i+1]))
	}
}

// SetAttribute sets a single attribute on the span.
func SetAttribute(span trace.Span, key string, value interface{}) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(toAttribute(key, value))
}

// RecordError records err on the span and marks the span status as error.
// A nil span or nil err is a no-op.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span with an OK status.
func SetOK(span trace.Span) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds a named event to the span with alternating key/value
// attribute pairs.
func AddEvent(span trace.Span, name string, keyValues ...interface{}) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, keyValues[i+1]))
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// toAttribute converts a key/value pair into an OpenTelemetry attribute,
// falling back to fmt.Sprintf for unrecognized types.
func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int32:
		return attribute.Int(key, int(v))
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case []int:
		return attribute.IntSlice(key, v)
	case []int64:
		return attribute.Int64Slice(key, v)
	case []float64:
		return attribute.Float64Slice(key, v)
	case []bool:
		return attribute.BoolSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
