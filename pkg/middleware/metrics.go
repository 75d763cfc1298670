package middleware

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "uisync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "uisync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the sync server's Prometheus collectors.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	sessionsCreated   prometheus.Counter
	sessionsDisposed  prometheus.Counter
	eventsSent        prometheus.Counter
	adaptersDescribed prometheus.Counter
	wsConnections     prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers the collectors. Registering twice on the
// same registry panics, as with promauto.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}

	factory := promauto.With(config.Registry)
	counterOpts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}
	gaugeOpts := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}
	histogramOpts := func(name, help string) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}
	}

	m := &Metrics{
		requestsTotal: factory.NewCounterVec(
			counterOpts("requests_total", "Total number of wire requests by kind and result code"),
			[]string{"kind", "code"}),
		requestDuration: factory.NewHistogramVec(
			histogramOpts("request_duration_seconds", "Wire request processing duration in seconds"),
			[]string{"kind"}),
		errorsTotal: factory.NewCounterVec(
			counterOpts("errors_total", "Total number of error responses by code"),
			[]string{"code"}),
		activeSessions: factory.NewGauge(
			gaugeOpts("active_sessions", "Number of live UI sessions")),
		sessionsCreated: factory.NewCounter(
			counterOpts("sessions_created_total", "Total number of UI sessions created")),
		sessionsDisposed: factory.NewCounter(
			counterOpts("sessions_disposed_total", "Total number of UI sessions disposed")),
		eventsSent: factory.NewCounter(
			counterOpts("events_sent_total", "Total number of outbound events sent to clients")),
		adaptersDescribed: factory.NewCounter(
			counterOpts("adapters_described_total", "Total number of adapter descriptions sent to clients")),
		wsConnections: factory.NewGauge(
			gaugeOpts("websocket_connections", "Number of open WebSocket connections")),
		httpRequests: factory.NewCounterVec(
			counterOpts("http_requests_total", "Total HTTP requests by method and status code"),
			[]string{"code", "method"}),
		httpDuration: factory.NewHistogramVec(
			histogramOpts("http_request_duration_seconds", "HTTP request duration in seconds"),
			[]string{"method"}),
	}

	if g, ok := config.Registry.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// RecordRequest records one wire request and its result code.
func (m *Metrics) RecordRequest(kind protocol.Kind, code protocol.ErrorCode, d time.Duration) {
	if m == nil {
		return
	}
	k := string(kind)
	if k == "" {
		k = "unknown"
	}
	m.requestsTotal.WithLabelValues(k, code.String()).Inc()
	m.requestDuration.WithLabelValues(k).Observe(d.Seconds())
	if code != protocol.ErrNone {
		m.errorsTotal.WithLabelValues(code.String()).Inc()
	}
}

// RecordResponse counts the events and adapter descriptions of a success
// response.
func (m *Metrics) RecordResponse(resp *protocol.Response) {
	if m == nil || resp == nil || resp.IsError() {
		return
	}
	m.eventsSent.Add(float64(len(resp.Events)))
	m.adaptersDescribed.Add(float64(len(resp.AdapterData)))
}

// SessionCreated records a new UI session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionsCreated.Inc()
}

// SessionDisposed records a disposed UI session.
func (m *Metrics) SessionDisposed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsDisposed.Inc()
}

// WebSocketOpened records a new WebSocket connection.
func (m *Metrics) WebSocketOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

// WebSocketClosed records a closed WebSocket connection.
func (m *Metrics) WebSocketClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// Instrument wraps next with HTTP request counting and timing.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return promhttp.InstrumentHandlerDuration(m.httpDuration,
		promhttp.InstrumentHandlerCounter(m.httpRequests, next))
}

// Handler serves the metrics of the registry the collectors were
// registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
