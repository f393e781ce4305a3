// endpoint.go defines the immutable endpoint descriptor and the runtime
// state the Fallback Chain owns exclusively for each endpoint's lifetime
// (spec.md §3). This generalizes the teacher SDK's per-provider
// registration (sdk.go's RegisterProvider, which paired one ProviderAdapter
// with one *ProviderConfig) from "one adapter per whole SaaS provider" to
// "one descriptor per RPC endpoint, many of which may point at the same
// underlying provider with different priorities/capabilities".
package transport

import (
	"sync"
	"time"

	"github.com/cygnus-wealth/sol-transport/breaker"
	"github.com/cygnus-wealth/sol-transport/capability"
	"github.com/cygnus-wealth/sol-transport/ratelimiter"
	"github.com/cygnus-wealth/sol-transport/rpc"
)

// PublicMainnetBetaURL is the shared public RPC node construction-time
// validation refuses to accept as a primary endpoint (spec.md §6).
const PublicMainnetBetaURL = "https://api.mainnet-beta.solana.com"

// RateLimitConfig configures an endpoint's token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             float64
}

// BreakerConfig configures an endpoint's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeoutMS int64
	SuccessThreshold  int
}

// EndpointDescriptor is immutable endpoint configuration (spec.md §3).
type EndpointDescriptor struct {
	URL          string
	Name         string
	Priority     int
	Capabilities capability.Set

	RateLimit   RateLimitConfig
	Breaker     BreakerConfig
	TimeoutMS   int64
	StreamingURL string
}

// Metrics is the rolling per-endpoint metrics record (spec.md §3).
type Metrics struct {
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	CumulativeLatency  time.Duration
}

func (m Metrics) AverageLatency() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}
	return m.CumulativeLatency / time.Duration(m.TotalRequests)
}

// endpointState is the fallback chain's exclusive runtime state for one
// endpoint: the static descriptor, a live transport handle, a breaker, a
// limiter, and rolling metrics. No pointer graph exists between sibling
// endpointStates (spec.md §3).
type endpointState struct {
	descriptor EndpointDescriptor
	transport  rpc.Transport
	breaker    *breaker.Breaker
	limiter    *ratelimiter.Limiter

	metricsMu sync.Mutex
	metrics   Metrics
}

func (e *endpointState) recordAttempt() {
	e.metricsMu.Lock()
	e.metrics.TotalRequests++
	e.metricsMu.Unlock()
}

func (e *endpointState) recordOutcome(success bool, latency time.Duration) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	if success {
		e.metrics.SuccessfulRequests++
	} else {
		e.metrics.FailedRequests++
	}
	e.metrics.CumulativeLatency += latency
}

func (e *endpointState) snapshotMetrics() Metrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.metrics
}

func newEndpointState(desc EndpointDescriptor, t rpc.Transport, clock func() time.Time) *endpointState {
	return &endpointState{
		descriptor: desc,
		transport:  t,
		breaker: breaker.New(breaker.Config{
			EndpointURL:      desc.URL,
			FailureThreshold: desc.Breaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(desc.Breaker.RecoveryTimeoutMS) * time.Millisecond,
			SuccessThreshold: desc.Breaker.SuccessThreshold,
			OperationTimeout: time.Duration(desc.TimeoutMS) * time.Millisecond,
			Now:              clock,
		}),
		limiter: ratelimiter.New(ratelimiter.Config{
			RequestsPerSecond: desc.RateLimit.RequestsPerSecond,
			Burst:             desc.RateLimit.Burst,
			Now:               clock,
		}),
	}
}
