package middleware

import (
	"context"

	"github.com/vango-dev/uisync/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name.
const defaultTracerName = "uisync"

// TracingConfig configures request tracing.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "uisync").
	TracerName string

	// Tracer overrides the tracer resolved from the global provider.
	Tracer trace.Tracer

	// AttributeExtractor adds custom attributes to every request span.
	AttributeExtractor func(req *protocol.Request) []attribute.KeyValue
}

// TracingOption configures request tracing.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithTracer sets the tracer explicitly.
func WithTracer(tracer trace.Tracer) TracingOption {
	return func(c *TracingConfig) {
		c.Tracer = tracer
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(req *protocol.Request) []attribute.KeyValue) TracingOption {
	return func(c *TracingConfig) {
		c.AttributeExtractor = extractor
	}
}

// Tracing creates one span per wire request.
type Tracing struct {
	tracer  trace.Tracer
	extract func(req *protocol.Request) []attribute.KeyValue
}

// NewTracing creates a Tracing.
func NewTracing(opts ...TracingOption) *Tracing {
	config := TracingConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(config.TracerName)
	}
	return &Tracing{tracer: tracer, extract: config.AttributeExtractor}
}

// Start starts the span for req. On a nil Tracing it returns ctx and the
// span already in it.
func (t *Tracing) Start(ctx context.Context, req *protocol.Request) (context.Context, trace.Span) {
	if t == nil || req == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	attrs := []attribute.KeyValue{
		attribute.String("uisync.kind", string(req.Kind)),
	}
	if req.Session != "" {
		attrs = append(attrs, attribute.String("uisync.session_id", req.Session))
	}
	if req.Target != "" {
		attrs = append(attrs,
			attribute.String("uisync.target", req.Target),
			attribute.String("uisync.event", req.Event),
		)
	}
	if t.extract != nil {
		attrs = append(attrs, t.extract(req)...)
	}

	name := "uisync." + string(req.Kind)
	if req.Kind == "" {
		name = "uisync.request"
	}
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// End records the outcome of resp on span and ends it.
func (t *Tracing) End(span trace.Span, resp *protocol.Response) {
	if t == nil || span == nil {
		return
	}
	defer span.End()

	if resp == nil {
		return
	}
	if resp.IsError() {
		span.SetAttributes(attribute.String("uisync.error_code", resp.Code().String()))
		span.SetStatus(codes.Error, resp.Error.Message)
		return
	}
	span.SetAttributes(
		attribute.Int("uisync.event_count", len(resp.Events)),
		attribute.Int("uisync.adapter_count", len(resp.AdapterData)),
	)
	span.SetStatus(codes.Ok, "")
}
