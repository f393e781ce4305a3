// Package obsmetrics exposes the chain's "Metrics reported" (spec.md §4.6)
// and the subscription service's observable events (spec.md §6) as
// Prometheus collectors. The Registry shape — a struct of promauto-built
// collectors grouped by concern, with a Handler() for wiring into an HTTP
// mux — is grounded directly on adred-codev-ws_poc's go-server-3
// internal/metrics.Registry.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every Prometheus collector this module populates.
type Registry struct {
	BreakerState        *prometheus.GaugeVec
	EndpointLatencyMS   *prometheus.HistogramVec
	EndpointRequests    *prometheus.CounterVec
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	FallbacksTriggered  prometheus.Counter
}

// NewRegistry builds a Registry and registers its collectors with the
// default Prometheus registry, the same promauto convenience the teacher
// pack's websocket servers use.
func NewRegistry() *Registry {
	return &Registry{
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sol_transport_breaker_state",
			Help: "Current circuit breaker state per endpoint (0=closed, 1=open, 2=half_open)",
		}, []string{"endpoint"}),
		EndpointLatencyMS: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sol_transport_endpoint_latency_ms",
			Help:    "RPC call latency in milliseconds, per endpoint",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"endpoint"}),
		EndpointRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sol_transport_endpoint_requests_total",
			Help: "Total requests attempted per endpoint, labeled by outcome",
		}, []string{"endpoint", "outcome"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sol_transport_cache_hits_total",
			Help: "Total cache lookups that found a live entry",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sol_transport_cache_misses_total",
			Help: "Total cache lookups that found no live entry",
		}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sol_transport_active_subscriptions",
			Help: "Number of live subscription entries across all kinds",
		}),
		FallbacksTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sol_transport_fallbacks_triggered_total",
			Help: "Total calls that advanced past at least one skipped or failed endpoint",
		}),
	}
}

// Handler returns an HTTP handler exposing the registered collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// BreakerStateValue maps a breaker state's String() to the numeric gauge
// value odin-style dashboards expect (low cardinality, stable ordering).
func BreakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return -1
	}
}
