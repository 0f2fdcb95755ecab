package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/toolwire/pkg/logging"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string

	// MetricsPath is the HTTP path for the metrics endpoint (default: /metrics)
	MetricsPath string

	// Metric options
	Namespace        string    // Prometheus namespace (default: toolwire)
	HistogramBuckets []float64 // Custom histogram buckets for latency, in milliseconds

	// Labels to add to all metrics
	ConstLabels prometheus.Labels
}

// Metrics is what the engine reports. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// RecordToolCall records one dispatched invocation. status is "ok" or
	// the error name, e.g. "InvalidParams".
	RecordToolCall(ctx context.Context, tool, status string, duration time.Duration)
	// RecordRequest records one inbound request handled by a session
	RecordRequest(ctx context.Context, method, status string, duration time.Duration)
	// RecordRateLimited records a denied admission
	RecordRateLimited(ctx context.Context, tool string)
	// RecordSandboxViolation records a rejected locator
	RecordSandboxViolation(ctx context.Context, tool string)
	// RecordInFlight adjusts the number of running handlers
	RecordInFlight(ctx context.Context, delta int)
	// RecordSessionState records a session entering state
	RecordSessionState(ctx context.Context, from, to string)
	// RecordAnomaly records a protocol anomaly such as an unknown response id
	RecordAnomaly(ctx context.Context, kind string)
}

// PrometheusMetrics implements Metrics on a private registry, so several
// engines can live in one process without colliding on registration.
type PrometheusMetrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	toolCallDuration  *prometheus.HistogramVec
	toolCallTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitedTotal  *prometheus.CounterVec
	sandboxViolations *prometheus.CounterVec
	inFlight          prometheus.Gauge
	sessionsByState   *prometheus.GaugeVec
	transitionsTotal  *prometheus.CounterVec
	anomaliesTotal    *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the engine collectors
func NewPrometheusMetrics(config MetricsConfig) (*PrometheusMetrics, error) {
	if config.Namespace == "" {
		config.Namespace = "toolwire"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	}
	if config.ConstLabels == nil {
		config.ConstLabels = prometheus.Labels{}
	}
	if config.ServiceName != "" {
		config.ConstLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		config.ConstLabels["version"] = config.ServiceVersion
	}

	p := &PrometheusMetrics{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	p.initializeMetrics()

	if err := p.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return p, nil
}

func (p *PrometheusMetrics) initializeMetrics() {
	ns, labels := p.config.Namespace, p.config.ConstLabels

	p.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   "dispatch",
			Name:        "tool_call_duration_milliseconds",
			Help:        "Duration of tool invocations in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: labels,
		},
		[]string{"tool", "status"},
	)

	p.toolCallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "dispatch",
			Name:        "tool_call_total",
			Help:        "Total number of tool invocations",
			ConstLabels: labels,
		},
		[]string{"tool", "status"},
	)

	p.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   "session",
			Name:        "request_duration_milliseconds",
			Help:        "Duration of inbound requests in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: labels,
		},
		[]string{"method", "status"},
	)

	p.rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "dispatch",
			Name:        "rate_limited_total",
			Help:        "Invocations denied by the rate limiter",
			ConstLabels: labels,
		},
		[]string{"tool"},
	)

	p.sandboxViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "dispatch",
			Name:        "sandbox_violations_total",
			Help:        "Locators rejected by the path sandbox",
			ConstLabels: labels,
		},
		[]string{"tool"},
	)

	p.inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "dispatch",
			Name:        "in_flight",
			Help:        "Tool handlers currently running",
			ConstLabels: labels,
		},
	)

	p.sessionsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "session",
			Name:        "sessions",
			Help:        "Sessions by lifecycle state",
			ConstLabels: labels,
		},
		[]string{"state"},
	)

	p.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "session",
			Name:        "state_transitions_total",
			Help:        "Session lifecycle transitions",
			ConstLabels: labels,
		},
		[]string{"from", "to"},
	)

	p.anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "session",
			Name:        "protocol_anomalies_total",
			Help:        "Discarded messages that violated the protocol",
			ConstLabels: labels,
		},
		[]string{"kind"},
	)
}

func (p *PrometheusMetrics) registerMetrics() error {
	collectors := []prometheus.Collector{
		p.toolCallDuration,
		p.toolCallTotal,
		p.requestDuration,
		p.rateLimitedTotal,
		p.sandboxViolations,
		p.inFlight,
		p.sessionsByState,
		p.transitionsTotal,
		p.anomaliesTotal,
	}
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the private registry
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// RecordToolCall implements Metrics
func (p *PrometheusMetrics) RecordToolCall(ctx context.Context, tool, status string, duration time.Duration) {
	p.toolCallDuration.WithLabelValues(tool, status).Observe(float64(duration.Milliseconds()))
	p.toolCallTotal.WithLabelValues(tool, status).Inc()
}

// RecordRequest implements Metrics
func (p *PrometheusMetrics) RecordRequest(ctx context.Context, method, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, status).Observe(float64(duration.Milliseconds()))
}

// RecordRateLimited implements Metrics
func (p *PrometheusMetrics) RecordRateLimited(ctx context.Context, tool string) {
	p.rateLimitedTotal.WithLabelValues(tool).Inc()
}

// RecordSandboxViolation implements Metrics
func (p *PrometheusMetrics) RecordSandboxViolation(ctx context.Context, tool string) {
	p.sandboxViolations.WithLabelValues(tool).Inc()
}

// RecordInFlight implements Metrics
func (p *PrometheusMetrics) RecordInFlight(ctx context.Context, delta int) {
	p.inFlight.Add(float64(delta))
}

// RecordSessionState implements Metrics
func (p *PrometheusMetrics) RecordSessionState(ctx context.Context, from, to string) {
	if from != "" {
		p.sessionsByState.WithLabelValues(from).Dec()
	}
	p.sessionsByState.WithLabelValues(to).Inc()
	p.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordAnomaly implements Metrics
func (p *PrometheusMetrics) RecordAnomaly(ctx context.Context, kind string) {
	p.anomaliesTotal.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (p *PrometheusMetrics) Handler(logger logging.Logger) http.Handler {
	opts := promhttp.HandlerOpts{}
	if logger != nil {
		opts.ErrorLog = logging.NewPrintlnAdapter(logger, logging.ErrorLevel, "metrics")
	}
	return promhttp.HandlerFor(p.registry, opts)
}

// Serve runs the metrics HTTP server on addr until ctx is done
func (p *PrometheusMetrics) Serve(ctx context.Context, addr string, logger logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, p.Handler(logger))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordToolCall(context.Context, string, string, time.Duration) {}
func (NopMetrics) RecordRequest(context.Context, string, string, time.Duration)  {}
func (NopMetrics) RecordRateLimited(context.Context, string)                     {}
func (NopMetrics) RecordSandboxViolation(context.Context, string)                {}
func (NopMetrics) RecordInFlight(context.Context, int)                           {}
func (NopMetrics) RecordSessionState(context.Context, string, string)            {}
func (NopMetrics) RecordAnomaly(context.Context, string)                         {}
