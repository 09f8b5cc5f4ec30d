// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Results recorded by ProxyRequests and RelayRequests.
const (
	ResultOK           = "ok"
	ResultUnauthorized = "unauthorized"
	ResultForbidden    = "forbidden"
	ResultParseError   = "parse_error"
	ResultUpstream     = "upstream_error"
	ResultPassthrough  = "passthrough"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	ProxyRequests *prometheus.CounterVec
	RelayRequests *prometheus.CounterVec
	FeedBytes     prometheus.Histogram
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcast_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podcast_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "podcast_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podcast_proxy_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcast_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code (\"error\" for transport failures).",
		}, []string{"method", "status_code"}),

		ProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcast_proxy_feed_requests_total",
			Help: "Proxied origin requests by outcome (ok means a feed was rewritten).",
		}, []string{"result"}),

		RelayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcast_proxy_relay_requests_total",
			Help: "Image relay requests by outcome.",
		}, []string{"result"}),

		FeedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "podcast_proxy_feed_rewrite_bytes",
			Help:    "Size of rewritten feed documents in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.ProxyRequests,
		m.RelayRequests,
		m.FeedBytes,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// ProxyRoutes are the routes the proxy serves itself. Every other path is
// forwarded to the origin.
var ProxyRoutes = []string{"/cloudfront", "/_proxy/healthz", "/_proxy/status"}
