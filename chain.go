// chain.go implements the RPC Fallback Chain (spec.md §4.6): priority-ordered
// endpoint selection, capability filtering, and per-endpoint breaker/limiter/
// health gating with fallthrough on failure. This is the direct generalization
// of the teacher SDK's sdk.go+request_executor.go pair — where
// ResilientBridge.Request picked exactly one registered provider by name and
// RequestExecutor retried that one provider — into a priority list the chain
// walks itself, advancing to the next eligible endpoint on failure instead of
// retrying the same one.
package transport

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cygnus-wealth/sol-transport/breaker"
	"github.com/cygnus-wealth/sol-transport/capability"
	"github.com/cygnus-wealth/sol-transport/health"
	"github.com/cygnus-wealth/sol-transport/obsmetrics"
	"github.com/cygnus-wealth/sol-transport/rpc"
	"github.com/cygnus-wealth/sol-transport/transporterrors"
)

// Operation is the caller-supplied unit of work executed against whichever
// endpoint the chain selects. It receives the selected endpoint's live
// rpc.Transport so callers write provider-agnostic code once.
type Operation func(ctx context.Context, t rpc.Transport) (any, error)

// CallOptions narrows endpoint eligibility for one Execute call.
type CallOptions struct {
	Method               string
	RequiredCapabilities []capability.Capability
}

// ChainMetrics aggregates the chain-wide and per-endpoint counters of
// spec.md §4.6 "Metrics reported".
type ChainMetrics struct {
	TotalCalls        uint64
	FallbacksTriggered uint64
	PerEndpoint       map[string]EndpointMetricsSnapshot
}

// EndpointMetricsSnapshot is one endpoint's row within ChainMetrics.
type EndpointMetricsSnapshot struct {
	Name            string
	Metrics         Metrics
	BreakerState    string
	HealthyVerdict  bool
}

// Chain composes the priority-ordered endpoint pool described in spec.md §4.6.
type Chain struct {
	cfg   ChainConfig
	log   *logrus.Entry
	clock func() time.Time

	endpoints []*endpointState // sorted by Priority ascending, ties by config order
	health    *health.Monitor

	mu                 sync.Mutex
	totalCalls         uint64
	fallbacksTriggered uint64
}

// NewChain validates cfg and builds a Chain. If cfg.HealthMonitoringEnabled,
// the caller should also call Chain.StartHealthMonitor once, since the
// monitor needs a running context.
func NewChain(cfg ChainConfig, logger *logrus.Logger) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := time.Now

	c := &Chain{cfg: cfg, log: logger.WithField("component", "chain"), clock: clock}

	ordered := make([]EndpointDescriptor, len(cfg.Endpoints))
	copy(ordered, cfg.Endpoints)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	for _, desc := range ordered {
		st := newEndpointState(desc, cfg.Transports[desc.URL], clock)
		c.endpoints = append(c.endpoints, st)
	}

	if cfg.HealthMonitoringEnabled {
		c.health = health.New(health.Config{
			Interval:           time.Duration(cfg.HealthCheckIntervalMS) * time.Millisecond,
			Timeout:            time.Duration(cfg.HealthCheckTimeoutMS) * time.Millisecond,
			UnhealthyThreshold: cfg.UnhealthyThreshold,
			HealthyThreshold:   cfg.HealthyThreshold,
			Now:                clock,
			Logger:             logger,
			OnVerdictChange: func(url string, healthy bool) {
				c.log.WithFields(logrus.Fields{"endpoint": url, "healthy": healthy}).Info("endpoint health verdict changed")
			},
		}, health.ProberFunc(c.probeEndpoint))
		for _, st := range c.endpoints {
			c.health.Register(st.descriptor.URL)
		}
	}

	return c, nil
}

// StartHealthMonitor starts the background health-probing cadence, if health
// monitoring was enabled in ChainConfig.
func (c *Chain) StartHealthMonitor(ctx context.Context) {
	if c.health != nil {
		c.health.Start(ctx)
	}
}

// StopHealthMonitor halts the background cadence.
func (c *Chain) StopHealthMonitor() {
	if c.health != nil {
		c.health.Stop()
	}
}

func (c *Chain) probeEndpoint(ctx context.Context, url string) (time.Duration, error) {
	for _, st := range c.endpoints {
		if st.descriptor.URL != url {
			continue
		}
		start := c.clock()
		var err error
		if st.descriptor.Capabilities.Has(capability.DAS) {
			err = st.transport.GetHealth(ctx)
			if errors.Is(err, rpc.ErrHealthUnsupported) {
				_, err = st.transport.GetSlot(ctx, c.cfg.DefaultCommitment)
			}
		} else {
			_, err = st.transport.GetSlot(ctx, c.cfg.DefaultCommitment)
		}
		return c.clock().Sub(start), err
	}
	return 0, transporterrors.New(transporterrors.CodeNotFound, "unknown endpoint")
}

// Execute runs operation against the highest-priority eligible endpoint,
// falling through on failure, per spec.md §4.6's algorithm:
//  1. derive the required capability set (Standard, plus DAS if opts.Method
//     names a recognized DAS method);
//  2. filter endpoints to those possessing every required capability;
//  3. walk the filtered list in priority order, skipping endpoints whose
//     breaker is open, whose limiter denies a token, or whose health
//     verdict is unhealthy, and invoking operation through the survivor's
//     breaker;
//  4. on success, return; on failure, remember the error and continue;
//  5. exhaustion returns the last error, or a generic pool-exhausted error
//     if every candidate was skipped rather than failed.
func (c *Chain) Execute(ctx context.Context, opts CallOptions, operation Operation) (any, error) {
	c.mu.Lock()
	c.totalCalls++
	c.mu.Unlock()

	required := capability.RequiredFor(opts.Method, opts.RequiredCapabilities...)
	candidates := c.eligibleEndpoints(required)
	if len(candidates) == 0 {
		return nil, transporterrors.PoolExhausted("no eligible endpoint for required capabilities")
	}

	var lastErr error
	fallbackTriggered := false

	for _, st := range candidates {
		if st.breaker.State() == breaker.Open {
			fallbackTriggered = true
			c.recordOutcomeMetric(st, "skipped_breaker_open")
			continue
		}
		if !st.limiter.TryAcquire() {
			fallbackTriggered = true
			c.recordOutcomeMetric(st, "skipped_rate_limited")
			continue
		}
		if c.health != nil {
			if rec, ok := c.health.Verdict(st.descriptor.URL); ok && !rec.Healthy {
				fallbackTriggered = true
				c.recordOutcomeMetric(st, "skipped_unhealthy")
				continue
			}
		}

		st.recordAttempt()
		start := c.clock()
		result, err := st.breaker.Execute(ctx, func(opCtx context.Context) (any, error) {
			return operation(opCtx, st.transport)
		}, nil)
		latency := c.clock().Sub(start)

		if err != nil {
			st.recordOutcome(false, latency)
			c.recordLatencyMetric(st, latency)
			c.recordOutcomeMetric(st, "failure")
			lastErr = err
			fallbackTriggered = true
			c.log.WithFields(logrus.Fields{"endpoint": st.descriptor.URL, "method": opts.Method, "err": err}).
				Debug("endpoint call failed, advancing to next eligible endpoint")
			continue
		}

		st.recordOutcome(true, latency)
		c.recordLatencyMetric(st, latency)
		c.recordOutcomeMetric(st, "success")
		if fallbackTriggered {
			c.mu.Lock()
			c.fallbacksTriggered++
			c.mu.Unlock()
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.FallbacksTriggered.Inc()
			}
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, transporterrors.PoolExhausted("all eligible endpoints were skipped (breaker open, rate limited, or unhealthy)")
}

func (c *Chain) recordLatencyMetric(st *endpointState, latency time.Duration) {
	if c.cfg.Metrics == nil {
		return
	}
	c.cfg.Metrics.EndpointLatencyMS.WithLabelValues(st.descriptor.URL).Observe(float64(latency.Milliseconds()))
}

func (c *Chain) recordOutcomeMetric(st *endpointState, outcome string) {
	if c.cfg.Metrics == nil {
		return
	}
	c.cfg.Metrics.EndpointRequests.WithLabelValues(st.descriptor.URL, outcome).Inc()
}

// eligibleEndpoints returns the configured endpoints possessing every
// capability in required, in priority order (spec.md §4.6 steps 1-2).
func (c *Chain) eligibleEndpoints(required capability.Set) []*endpointState {
	var out []*endpointState
	for _, st := range c.endpoints {
		if st.descriptor.Capabilities.HasAll(required) {
			out = append(out, st)
		}
	}
	return out
}

// Metrics returns a snapshot of chain-wide and per-endpoint counters
// (spec.md §4.6 "Metrics reported").
func (c *Chain) Metrics() ChainMetrics {
	c.mu.Lock()
	m := ChainMetrics{TotalCalls: c.totalCalls, FallbacksTriggered: c.fallbacksTriggered, PerEndpoint: make(map[string]EndpointMetricsSnapshot, len(c.endpoints))}
	c.mu.Unlock()

	for _, st := range c.endpoints {
		healthy := true
		if c.health != nil {
			if rec, ok := c.health.Verdict(st.descriptor.URL); ok {
				healthy = rec.Healthy
			}
		}
		breakerState := st.breaker.State().String()
		m.PerEndpoint[st.descriptor.URL] = EndpointMetricsSnapshot{
			Name:           st.descriptor.Name,
			Metrics:        st.snapshotMetrics(),
			BreakerState:   breakerState,
			HealthyVerdict: healthy,
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.BreakerState.WithLabelValues(st.descriptor.URL).Set(obsmetrics.BreakerStateValue(breakerState))
		}
	}
	return m
}
