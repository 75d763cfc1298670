// Package middleware provides the observability layer of the sync server.
//
// # Prometheus Metrics
//
// [Metrics] collects:
//   - uisync_requests_total: wire requests by kind and result code
//   - uisync_request_duration_seconds: request duration histogram by kind
//   - uisync_errors_total: error responses by code
//   - uisync_active_sessions: current number of UI sessions
//   - uisync_sessions_created_total / uisync_sessions_disposed_total
//   - uisync_events_sent_total: outbound events
//   - uisync_adapters_described_total: adapter descriptions sent
//   - uisync_websocket_connections: open WebSocket connections
//   - uisync_http_requests_total / uisync_http_request_duration_seconds
//
//	m := middleware.NewMetrics(middleware.WithNamespace("myapp"))
//	router.Handle("/metrics", m.Handler())
//
// All methods are safe on a nil *Metrics, so callers need no guards when
// metrics are disabled.
//
// # OpenTelemetry
//
// [Tracing] starts one server span per wire request, annotated with the
// session, kind, target and event, and marks it failed for error responses:
//
//	tr := middleware.NewTracing(middleware.WithTracerName("my-app"))
//	ctx, span := tr.Start(ctx, req)
//	resp := dispatch(ctx, req)
//	tr.End(span, resp)
//
// The tracer comes from the global OpenTelemetry provider unless one is
// passed with WithTracer.
package middleware
