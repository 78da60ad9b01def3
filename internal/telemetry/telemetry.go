// Package telemetry provides observability with Prometheus metrics and structured logging.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Token metrics
	TokensInput  *prometheus.CounterVec
	TokensOutput *prometheus.CounterVec

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	RetryAttempts    *prometheus.CounterVec

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheEntries   prometheus.Gauge
	CacheSizeBytes prometheus.Gauge

	// Rate limit metrics
	RateLimitDenials *prometheus.CounterVec

	// Stream metrics
	StreamConnections prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistgate_requests_total",
				Help: "Total number of requests",
			},
			[]string{"provider", "status", "cached"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistgate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "cached"},
		),

		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistgate_requests_in_flight",
				Help: "Number of requests currently being processed",
			},
		),

		TokensInput: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistgate_tokens_input_total",
				Help: "Total input tokens processed",
			},
			[]string{"provider"},
		),

		TokensOutput: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistgate_tokens_output_total",
				Help: "Total output tokens generated",
			},
			[]string{"provider"},
		),

		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistgate_provider_requests_total",
				Help: "Total requests per provider",
			},
			[]string{"provider"},
		),

		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistgate_provider_errors_total",
				Help: "Total errors per provider",
			},
			[]string{"provider", "error_type"},
		),

		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistgate_provider_latency_seconds",
				Help:    "Provider API latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		),

		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistgate_retry_attempts_total",
				Help: "Retry attempts by provider",
			},
			[]string{"provider"},
		),

		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assistgate_cache_hits_total",
				Help: "Response cache hits",
			},
		),

		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assistgate_cache_misses_total",
				Help: "Response cache misses",
			},
		),

		CacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "assistgate_cache_evictions_total",
				Help: "Response cache evictions",
			},
		),

		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistgate_cache_entries",
				Help: "Current number of cached responses",
			},
		),

		CacheSizeBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistgate_cache_size_bytes",
				Help: "Aggregate size of cached response content",
			},
		),

		RateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistgate_rate_limit_denials_total",
				Help: "Admission denials by reason",
			},
			[]string{"reason"},
		),

		StreamConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistgate_stream_connections",
				Help: "Number of active streaming connections",
			},
		),
	}
}

// RequestRecorder tracks a single request's metrics
type RequestRecorder struct {
	metrics   *Metrics
	provider  string
	startTime time.Time
}

// NewRequestRecorder creates a new request recorder
func (m *Metrics) NewRequestRecorder(provider string) *RequestRecorder {
	m.RequestsInFlight.Inc()
	return &RequestRecorder{
		metrics:   m,
		provider:  provider,
		startTime: time.Now(),
	}
}

// RecordSuccess records a completed request
func (r *RequestRecorder) RecordSuccess(cached bool, inputTokens, outputTokens int64) {
	duration := time.Since(r.startTime).Seconds()
	cachedStr := boolLabel(cached)

	r.metrics.RequestsInFlight.Dec()
	r.metrics.RequestsTotal.WithLabelValues(r.provider, "success", cachedStr).Inc()
	r.metrics.RequestDuration.WithLabelValues(r.provider, cachedStr).Observe(duration)

	if !cached {
		r.metrics.TokensInput.WithLabelValues(r.provider).Add(float64(inputTokens))
		r.metrics.TokensOutput.WithLabelValues(r.provider).Add(float64(outputTokens))
		r.metrics.ProviderRequests.WithLabelValues(r.provider).Inc()
		r.metrics.ProviderLatency.WithLabelValues(r.provider).Observe(duration)
	}
}

// RecordError records a failed request
func (r *RequestRecorder) RecordError(errorType string) {
	duration := time.Since(r.startTime).Seconds()

	r.metrics.RequestsInFlight.Dec()
	r.metrics.RequestsTotal.WithLabelValues(r.provider, "error", "false").Inc()
	r.metrics.RequestDuration.WithLabelValues(r.provider, "false").Observe(duration)
	r.metrics.ProviderErrors.WithLabelValues(r.provider, errorType).Inc()
}

// RecordRateLimitDenial records an admission denial
func (m *Metrics) RecordRateLimitDenial(reason string) {
	m.RateLimitDenials.WithLabelValues(reason).Inc()
}

// UpdateCacheGauges updates the cache size gauges
func (m *Metrics) UpdateCacheGauges(entries int, sizeBytes int64) {
	m.CacheEntries.Set(float64(entries))
	m.CacheSizeBytes.Set(float64(sizeBytes))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// NewLogger builds the process logger from configured format and level
func NewLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
