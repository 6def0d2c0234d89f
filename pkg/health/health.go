// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package health implements the health monitor (C7): periodic
// liveness probes, status derivation, EMA latency, and registry
// status feedback.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/open-swarm/agentcore/pkg/registry"
)

// Status is an agent's derived health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Probe reports whether agentID is alive. Probes run under a per-check
// timeout; a probe that does not return in time counts as unhealthy.
type Probe func(ctx context.Context, agentID string) (bool, error)

// CheckResult is the outcome of a single probe invocation.
type CheckResult struct {
	AgentID       string
	Status        Status
	ResponseMS    float64
	Timestamp     time.Time
	Err           error
}

// Metrics is the per-agent running tally spec.md §3 calls HealthMetrics.
type Metrics struct {
	Total               int
	Success             int
	Failure             int
	ConsecutiveFailures int
	EMAResponseMS       float64
	haveEMA             bool
	LastCheck           *time.Time
	LastSuccess         *time.Time
	LastFailure         *time.Time
	lastStatus          Status
}

// Config bounds the monitor's probing behavior; see spec.md §4.7.
type Config struct {
	FailureThreshold  int           // consecutive failures before "unhealthy"
	CheckTimeout      time.Duration // default 5s
	DegradedMS        float64       // response-time threshold for "degraded"
	CheckIntervalSpec string        // cron spec for the background sweep, e.g. "@every 30s"
}

// Monitor probes registered agents and derives/propagates health status.
type Monitor struct {
	cfg      Config
	registry *registry.Registry
	mu       sync.Mutex
	metrics  map[string]*Metrics
	probes   map[string]Probe
	logger   *slog.Logger
	cron     *cron.Cron
}

// New constructs a Monitor bound to reg. A zero CheckTimeout defaults
// to 5s and a zero FailureThreshold defaults to 3, per the teacher's
// original discovery defaults.
func New(cfg Config, reg *registry.Registry, logger *slog.Logger) *Monitor {
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		registry: reg,
		metrics:  make(map[string]*Metrics),
		probes:   make(map[string]Probe),
		logger:   logger,
	}
}

// RegisterProbe installs a custom probe for agentID, overriding the default.
func (m *Monitor) RegisterProbe(agentID string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[agentID] = probe
	m.logger.Info("health probe registered", "agent_id", agentID)
}

// UnregisterProbe removes a custom probe, reverting agentID to the
// default "registered and not expired" probe. Returns false if none was set.
func (m *Monitor) UnregisterProbe(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.probes[agentID]; !ok {
		return false
	}
	delete(m.probes, agentID)
	m.logger.Info("health probe unregistered", "agent_id", agentID)
	return true
}

func (m *Monitor) probeFor(agentID string) Probe {
	m.mu.Lock()
	p, ok := m.probes[agentID]
	m.mu.Unlock()
	if ok {
		return p
	}
	return m.defaultProbe
}

func (m *Monitor) defaultProbe(ctx context.Context, agentID string) (bool, error) {
	if m.registry == nil {
		return false, fmt.Errorf("health: no registry configured for default probe")
	}
	_, ok := m.registry.Get(agentID)
	return ok, nil
}

// Check performs a single probe of agentID, updates its metrics,
// and propagates status to the registry.
func (m *Monitor) Check(ctx context.Context, agentID string) CheckResult {
	probe := m.probeFor(agentID)
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	type probeOutcome struct {
		healthy bool
		err     error
	}
	outcomeCh := make(chan probeOutcome, 1)
	go func() {
		healthy, err := probe(ctx, agentID)
		outcomeCh <- probeOutcome{healthy, err}
	}()

	var result CheckResult
	result.AgentID = agentID
	result.Timestamp = start

	select {
	case <-ctx.Done():
		result.Status = StatusUnhealthy
		result.ResponseMS = float64(m.cfg.CheckTimeout.Milliseconds())
		result.Err = fmt.Errorf("health check timed out after %s", m.cfg.CheckTimeout)
	case out := <-outcomeCh:
		result.ResponseMS = float64(time.Since(start).Microseconds()) / 1000.0
		switch {
		case out.err != nil:
			result.Status = StatusUnhealthy
			result.Err = out.err
		case !out.healthy:
			result.Status = StatusUnhealthy
		case result.ResponseMS > m.cfg.DegradedMS && m.cfg.DegradedMS > 0:
			result.Status = StatusDegraded
		default:
			result.Status = StatusHealthy
		}
	}

	m.recordResult(result)
	m.updateRegistryStatus(agentID, result)

	m.logger.Info("health check completed", "agent_id", agentID, "status", string(result.Status), "response_ms", result.ResponseMS)
	return result
}

func (m *Monitor) recordResult(result CheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.metrics[result.AgentID]
	if !ok {
		metrics = &Metrics{}
		m.metrics[result.AgentID] = metrics
	}

	ts := result.Timestamp
	metrics.Total++
	metrics.LastCheck = &ts
	metrics.lastStatus = result.Status

	if result.Status == StatusHealthy || result.Status == StatusDegraded {
		metrics.Success++
		metrics.ConsecutiveFailures = 0
		metrics.LastSuccess = &ts
	} else {
		metrics.Failure++
		metrics.ConsecutiveFailures++
		metrics.LastFailure = &ts
	}

	if !metrics.haveEMA {
		metrics.EMAResponseMS = result.ResponseMS
		metrics.haveEMA = true
	} else {
		const alpha = 0.3
		metrics.EMAResponseMS = alpha*result.ResponseMS + (1-alpha)*metrics.EMAResponseMS
	}
}

func (m *Monitor) updateRegistryStatus(agentID string, result CheckResult) {
	if m.registry == nil {
		return
	}
	m.mu.Lock()
	metrics := m.metrics[agentID]
	consecutiveFailures := 0
	if metrics != nil {
		consecutiveFailures = metrics.ConsecutiveFailures
	}
	m.mu.Unlock()

	switch {
	case consecutiveFailures >= m.cfg.FailureThreshold:
		m.registry.UpdateStatus(agentID, registry.StatusOffline)
	case result.Status == StatusDegraded:
		m.registry.UpdateStatus(agentID, registry.StatusBusy)
	case result.Status == StatusHealthy:
		m.registry.UpdateStatus(agentID, registry.StatusOnline)
	}
}

// GetStatus derives the persistent per-agent status: unknown before
// the first check; unhealthy once consecutive failures cross the
// threshold; otherwise the status from the most recent check.
func (m *Monitor) GetStatus(agentID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	metrics, ok := m.metrics[agentID]
	if !ok || metrics.LastCheck == nil {
		return StatusUnknown
	}
	if metrics.ConsecutiveFailures >= m.cfg.FailureThreshold {
		return StatusUnhealthy
	}
	return metrics.lastStatus
}

// GetMetrics returns a copy of agentID's metrics, or false if unknown.
func (m *Monitor) GetMetrics(agentID string) (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metrics, ok := m.metrics[agentID]
	if !ok {
		return Metrics{}, false
	}
	return *metrics, true
}

// GetAllMetrics snapshots every monitored agent's metrics.
func (m *Monitor) GetAllMetrics() map[string]Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Metrics, len(m.metrics))
	for id, metrics := range m.metrics {
		out[id] = *metrics
	}
	return out
}

// GetHealthyAgents lists agent ids currently healthy.
func (m *Monitor) GetHealthyAgents() []string {
	return m.agentsWithStatus(StatusHealthy)
}

// GetUnhealthyAgents lists agent ids currently unhealthy.
func (m *Monitor) GetUnhealthyAgents() []string {
	return m.agentsWithStatus(StatusUnhealthy)
}

func (m *Monitor) agentsWithStatus(want Status) []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.metrics))
	for id := range m.metrics {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]string, 0)
	for _, id := range ids {
		if m.GetStatus(id) == want {
			out = append(out, id)
		}
	}
	return out
}

// Start launches the periodic check-all-agents sweep on
// cfg.CheckIntervalSpec via github.com/robfig/cron. A no-op if the
// spec is empty or the monitor is already running.
func (m *Monitor) Start() error {
	if m.cfg.CheckIntervalSpec == "" || m.cron != nil {
		return nil
	}
	c := cron.New()
	if err := c.AddFunc(m.cfg.CheckIntervalSpec, m.checkAllRegisteredAgents); err != nil {
		return fmt.Errorf("health: invalid check interval schedule: %w", err)
	}
	m.cron = c
	c.Start()
	m.logger.Info("health monitor started", "schedule", m.cfg.CheckIntervalSpec)
	return nil
}

// Stop halts the periodic sweep, if running.
func (m *Monitor) Stop() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
		m.logger.Info("health monitor stopped")
	}
}

func (m *Monitor) checkAllRegisteredAgents() {
	if m.registry == nil {
		return
	}
	agents := m.registry.ListAll(nil)
	var wg sync.WaitGroup
	for _, agent := range agents {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			m.Check(context.Background(), agentID)
		}(agent.AgentID)
	}
	wg.Wait()
	m.logger.Info("health check cycle completed", "agents", len(agents))
}
