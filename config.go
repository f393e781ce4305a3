// config.go defines ChainConfig, the fallback chain's construction-time
// configuration surface (spec.md §6). It mirrors the teacher SDK's
// ProviderConfig (opengovern-resilient-bridge/config.go): a flat struct of
// optional-override fields validated by the constructor, not by an external
// config-loading library (see SPEC_FULL.md §10.3).
package transport

import (
	"fmt"

	"github.com/cygnus-wealth/sol-transport/capability"
	"github.com/cygnus-wealth/sol-transport/obsmetrics"
	"github.com/cygnus-wealth/sol-transport/rpc"
)

// ChainConfig configures a Chain at construction time.
type ChainConfig struct {
	Endpoints []EndpointDescriptor

	DefaultCommitment rpc.Commitment

	HealthMonitoringEnabled bool
	HealthCheckIntervalMS   int64
	HealthCheckTimeoutMS    int64
	UnhealthyThreshold      int
	HealthyThreshold        int

	// Transports supplies the live transport handle for each endpoint, keyed
	// by URL. Chain does not dial anything itself; the caller wires a
	// concrete rpc.Transport (e.g. rpc.NewAdapter) or a test fake per
	// endpoint.
	Transports map[string]rpc.Transport

	// Metrics, if set, receives Prometheus observations for every Execute
	// call and every Metrics() snapshot. Nil disables instrumentation.
	Metrics *obsmetrics.Registry
}

// Validate applies the construction-time checks of spec.md §6: at least one
// endpoint, and the primary (lowest-priority-number) endpoint must not be
// the shared public mainnet-beta node.
func (c ChainConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("chain config: at least one endpoint is required")
	}

	primary := c.Endpoints[0]
	for _, e := range c.Endpoints[1:] {
		if e.Priority < primary.Priority {
			primary = e
		}
	}
	if primary.URL == PublicMainnetBetaURL {
		return fmt.Errorf("chain config: %s may only be configured as a non-primary fallback endpoint", PublicMainnetBetaURL)
	}

	for _, e := range c.Endpoints {
		if !e.Capabilities.Has(capability.Standard) {
			return fmt.Errorf("chain config: endpoint %s must advertise the standard capability", e.URL)
		}
		if _, ok := c.Transports[e.URL]; !ok {
			return fmt.Errorf("chain config: no transport supplied for endpoint %s", e.URL)
		}
	}
	return nil
}
