package middleware

import (
	"context"
	"testing"

	"github.com/vango-dev/uisync/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type recordingTracer struct {
	noop.Tracer
	spans []*recordingSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordingSpan{name: name, kind: cfg.SpanKind(), attrs: cfg.Attributes()}
	t.spans = append(t.spans, s)
	return trace.ContextWithSpan(ctx, s), s
}

type recordingSpan struct {
	noop.Span
	name   string
	kind   trace.SpanKind
	attrs  []attribute.KeyValue
	status codes.Code
	desc   string
	ended  bool
}

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.attrs = append(s.attrs, kv...)
}

func (s *recordingSpan) SetStatus(code codes.Code, desc string) {
	s.status = code
	s.desc = desc
}

func (s *recordingSpan) End(...trace.SpanEndOption) {
	s.ended = true
}

func (s *recordingSpan) attr(key string) (attribute.Value, bool) {
	for _, kv := range s.attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingSuccess(t *testing.T) {
	tracer := &recordingTracer{}
	tr := NewTracing(WithTracer(tracer), WithAttributeExtractor(func(*protocol.Request) []attribute.KeyValue {
		return []attribute.KeyValue{attribute.String("test.attr", "ok")}
	}))

	req := &protocol.Request{Session: "s1", Kind: protocol.KindEvent, Target: "4", Event: "click"}
	ctx, span := tr.Start(context.Background(), req)
	if trace.SpanFromContext(ctx) != span {
		t.Error("span not stored in context")
	}

	resp := protocol.NewResponse()
	resp.Events = append(resp.Events, protocol.PropertyEvent("4", "text", "x"))
	tr.End(span, resp)

	if len(tracer.spans) != 1 {
		t.Fatalf("spans = %d", len(tracer.spans))
	}
	s := tracer.spans[0]
	if s.name != "uisync.event" || s.kind != trace.SpanKindServer || !s.ended {
		t.Errorf("span = %+v", s)
	}
	for key, want := range map[string]string{
		"uisync.session_id": "s1",
		"uisync.target":     "4",
		"uisync.event":      "click",
		"test.attr":         "ok",
	} {
		if v, ok := s.attr(key); !ok || v.AsString() != want {
			t.Errorf("attribute %s = %v, want %s", key, v.AsString(), want)
		}
	}
	if v, _ := s.attr("uisync.event_count"); v.AsInt64() != 1 {
		t.Errorf("event_count = %v", v.AsInt64())
	}
	if s.status != codes.Ok {
		t.Errorf("status = %v", s.status)
	}
}

func TestTracingErrorResponse(t *testing.T) {
	tracer := &recordingTracer{}
	tr := NewTracing(WithTracer(tracer))

	_, span := tr.Start(context.Background(), &protocol.Request{Session: "s1", Kind: protocol.KindEvent, Target: "9"})
	tr.End(span, protocol.NewErrorResponse(protocol.ErrUnknownAdapter, ""))

	s := tracer.spans[0]
	if s.status != codes.Error {
		t.Errorf("status = %v, want error", s.status)
	}
	if v, _ := s.attr("uisync.error_code"); v.AsString() != "unknown-adapter" {
		t.Errorf("error_code = %q", v.AsString())
	}
}

func TestTracingNil(t *testing.T) {
	var tr *Tracing
	ctx, span := tr.Start(context.Background(), &protocol.Request{Kind: protocol.KindPing})
	if ctx == nil || span == nil {
		t.Fatal("nil Tracing returned nil context or span")
	}
	tr.End(span, protocol.NewResponse())
}

func TestTracingGlobalProvider(t *testing.T) {
	tr := NewTracing()
	_, span := tr.Start(context.Background(), &protocol.Request{Kind: protocol.KindPing})
	tr.End(span, protocol.NewResponse())
}
