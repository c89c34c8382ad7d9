// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the chorus gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chorus_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// StreamingConnections tracks the number of active streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chorus_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// DispatchesTotal counts dispatches by provider, mode, and outcome.
	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_dispatches_total",
			Help: "Dispatches",
		},
		[]string{"provider", "model", "mode", "status"},
	)

	// ProviderLatency records backend provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chorus_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// CacheHitsTotal counts response cache hits by provider.
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_cache_hits_total",
			Help: "Response cache hits",
		},
		[]string{"provider"},
	)

	// CacheMissesTotal counts response cache misses by provider.
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_cache_misses_total",
			Help: "Response cache misses",
		},
		[]string{"provider"},
	)

	// CredentialFailuresTotal counts credential resolution failures.
	CredentialFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_credential_failures_total",
			Help: "Credential resolution failures",
		},
		[]string{"provider"},
	)

	// FanoutStreamsActive tracks active per-provider fan-out streams.
	FanoutStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chorus_fanout_streams_active",
			Help: "Active fan-out streams",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		DispatchesTotal,
		ProviderLatency,
		ProviderTokensTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CredentialFailuresTotal,
		FanoutStreamsActive,
		RateLimitRejectedTotal,
	)
}
