// Package health implements the background endpoint health monitor of
// spec.md §4.5: a hysteretic healthy/unhealthy verdict per endpoint, derived
// from consecutive success/failure counters, with concurrent per-tick probes
// and an optional state-change callback. The probe-and-tick shape mirrors
// the teacher SDK's own tolerance for partial failure ("individual probe
// failures never abort the tick" — the same spirit as request_executor.go
// never letting one provider's retry loop affect another's), generalized
// here from "retry a single provider call" to "probe every registered
// endpoint independently, concurrently, on a shared cadence".
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is the health state tracked per endpoint (spec.md §3).
type Record struct {
	Healthy            bool
	LastLatency        time.Duration
	LastChecked        time.Time
	ConsecutiveFailure int
	ConsecutiveSuccess int
	LastError          error
}

// Prober performs a liveness probe for one endpoint. Implementations decide
// internally whether to issue a DAS-specific health query or a plain
// chain-head query (spec.md §4.5 "Probe selection policy").
type Prober interface {
	Probe(ctx context.Context, endpointURL string) (time.Duration, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, endpointURL string) (time.Duration, error)

func (f ProberFunc) Probe(ctx context.Context, endpointURL string) (time.Duration, error) {
	return f(ctx, endpointURL)
}

// Config configures a Monitor at construction time.
type Config struct {
	Interval           time.Duration
	Timeout            time.Duration
	UnhealthyThreshold int
	HealthyThreshold   int

	OnVerdictChange func(endpointURL string, healthy bool)

	Now    func() time.Time
	Logger *logrus.Logger
}

// Monitor periodically probes a set of registered endpoints and maintains a
// hysteretic verdict for each.
type Monitor struct {
	cfg    Config
	now    func() time.Time
	log    *logrus.Entry
	prober Prober

	mu        sync.Mutex
	endpoints map[string]struct{}
	records   map[string]*Record

	stop    chan struct{}
	stopped chan struct{}
	running bool
}

func New(cfg Config, prober Prober) *Monitor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{
		cfg:       cfg,
		now:       now,
		log:       log.WithField("component", "health"),
		prober:    prober,
		endpoints: make(map[string]struct{}),
		records:   make(map[string]*Record),
	}
}

// Register adds an endpoint to the monitored set with an initial healthy
// verdict (spec.md §3: "Initial verdict: healthy").
func (m *Monitor) Register(endpointURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[endpointURL] = struct{}{}
	if _, ok := m.records[endpointURL]; !ok {
		m.records[endpointURL] = &Record{Healthy: true, LastChecked: m.now()}
	}
}

// Verdict returns a copy of the current health record for endpointURL, and
// whether one exists.
func (m *Monitor) Verdict(endpointURL string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[endpointURL]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Start begins the background probing cadence. It is a no-op if already
// running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop halts the background cadence and waits for the loop goroutine to
// exit. It is a no-op if not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stop := m.stop
	stopped := m.stopped
	m.running = false
	m.mu.Unlock()

	close(stop)
	<-stopped
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.stopped)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.CheckAllEndpoints(ctx)
		}
	}
}

// CheckAllEndpoints fires an immediate probe round for every registered
// endpoint, regardless of cadence. Probes run concurrently; an individual
// probe's failure never aborts the round (spec.md §4.5 "Scheduling").
func (m *Monitor) CheckAllEndpoints(ctx context.Context) {
	m.mu.Lock()
	urls := make([]string, 0, len(m.endpoints))
	for u := range m.endpoints {
		urls = append(urls, u)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			m.probeOne(ctx, url)
		}(u)
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, url string) {
	probeCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.Timeout > 0 {
		probeCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	latency, err := m.prober.Probe(probeCtx, url)
	m.RecordProbe(url, latency, err)
}

// RecordProbe applies one probe's outcome to the hysteresis counters and
// fires the state-change callback exactly once per crossed threshold
// (spec.md §4.5 "Per-probe update"). It is exported so tests can drive the
// hysteresis scenarios of spec.md
// §8 without wiring a real Prober — the same substitutable-collaborator
// pattern the teacher SDK uses for its mock.MockAdapter.
func (m *Monitor) RecordProbe(url string, latency time.Duration, err error) {
	m.mu.Lock()

	r, ok := m.records[url]
	if !ok {
		r = &Record{Healthy: true}
		m.records[url] = r
	}
	r.LastChecked = m.now()
	r.LastLatency = latency
	r.LastError = err

	var changed bool
	var newVerdict bool
	if err != nil {
		r.ConsecutiveSuccess = 0
		r.ConsecutiveFailure++
		if r.Healthy && r.ConsecutiveFailure >= m.cfg.UnhealthyThreshold {
			r.Healthy = false
			changed = true
			newVerdict = false
		}
	} else {
		r.ConsecutiveFailure = 0
		r.ConsecutiveSuccess++
		if !r.Healthy && r.ConsecutiveSuccess >= m.cfg.HealthyThreshold {
			r.Healthy = true
			changed = true
			newVerdict = true
		}
	}
	m.mu.Unlock()

	if changed {
		m.log.WithFields(logrus.Fields{"endpoint": url, "healthy": newVerdict}).Info("health verdict changed")
		if m.cfg.OnVerdictChange != nil {
			m.cfg.OnVerdictChange(url, newVerdict)
		}
	}
}
