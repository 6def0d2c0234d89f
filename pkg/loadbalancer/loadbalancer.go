// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package loadbalancer implements the load balancer (C8): healthy-agent
// selection under a pluggable policy, with connection accounting.
package loadbalancer

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/open-swarm/agentcore/pkg/health"
	"github.com/open-swarm/agentcore/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Policy selects one candidate from many.
type Policy int

const (
	RoundRobin Policy = iota
	LeastConnections
	Weighted
	Random
)

// ErrNoAvailableAgents is raised by Select when no candidate survives
// filtering (capability/tags + health).
type ErrNoAvailableAgents struct {
	Query string
}

func (e *ErrNoAvailableAgents) Error() string {
	return fmt.Sprintf("load balancer: no available agents for %s", e.Query)
}

// Metrics is the per-agent connection tally spec.md §3 calls LoadBalancerMetrics.
type Metrics struct {
	TotalRequests     int
	ActiveConnections int
	TotalConnections  int
	FailedRequests    int
}

// SuccessRate is (total-failed)/total, or 1 when no requests have been recorded.
func (m Metrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 1
	}
	return float64(m.TotalRequests-m.FailedRequests) / float64(m.TotalRequests)
}

// SelectQuery picks the candidate pool a Select call draws from.
// Exactly one of Capability/Tags should be set; neither means "all
// live registrations" (registry.ListAll).
type SelectQuery struct {
	Capability     string
	Tags           []string
	Status         *registry.Status
	RequireHealthy bool // default true in NewSelectQuery
}

// NewSelectQuery returns a query defaulting RequireHealthy to true.
func NewSelectQuery() SelectQuery { return SelectQuery{RequireHealthy: true} }

// Result is what Select returns: the chosen registration plus context.
type Result struct {
	Registration *registry.Registration
	Policy       Policy
	Metrics      Metrics
	Healthy      bool
}

// Balancer selects agents under a policy and tracks per-agent connection load.
type Balancer struct {
	policy   Policy
	registry *registry.Registry
	health   *health.Monitor // optional

	mu            sync.Mutex
	metrics       map[string]*Metrics
	weights       map[string]int
	defaultWeight int
	rrIndex       map[string]int // round-robin cursor per distinct candidate-set key

	tracer trace.Tracer
}

// New constructs a Balancer. health may be nil to skip health gating
// entirely. defaultWeight is the Weighted policy's fallback for an
// agent with no explicit SetWeight call; a value below 1 falls back
// to 1.
func New(policy Policy, reg *registry.Registry, healthMonitor *health.Monitor, defaultWeight int) *Balancer {
	if defaultWeight < 1 {
		defaultWeight = 1
	}
	return &Balancer{
		policy:        policy,
		registry:      reg,
		health:        healthMonitor,
		metrics:       make(map[string]*Metrics),
		weights:       make(map[string]int),
		defaultWeight: defaultWeight,
		rrIndex:       make(map[string]int),
		tracer:        otel.Tracer("github.com/open-swarm/agentcore/pkg/loadbalancer"),
	}
}

// SetWeight sets agentID's weight for the Weighted policy. Weights
// must be non-negative; an agent without one uses the balancer's
// default weight (see New).
func (b *Balancer) SetWeight(agentID string, weight int) error {
	if weight < 0 {
		return fmt.Errorf("loadbalancer: weight must be non-negative, got %d", weight)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.weights[agentID] = weight
	return nil
}

// GetWeight returns agentID's configured weight, or the balancer's
// default weight if none was set.
func (b *Balancer) GetWeight(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.weights[agentID]; ok {
		return w
	}
	return b.defaultWeight
}

// candidates returns the registry's matches sorted by agent id, so the
// round-robin cursor and least-connections tie-break see a stable order.
func (b *Balancer) candidates(query SelectQuery) []*registry.Registration {
	var out []*registry.Registration
	switch {
	case query.Capability != "":
		out = b.registry.FindByCapability(query.Capability, query.Status)
	case len(query.Tags) > 0:
		out = b.registry.FindByTags(query.Tags)
	default:
		out = b.registry.ListAll(query.Status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (b *Balancer) filterHealthy(candidates []*registry.Registration, requireHealthy bool) []*registry.Registration {
	if !requireHealthy || b.health == nil {
		return candidates
	}
	healthy := make(map[string]struct{})
	for _, id := range b.health.GetHealthyAgents() {
		healthy[id] = struct{}{}
	}
	out := make([]*registry.Registration, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := healthy[c.AgentID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Select chooses one candidate per query and the balancer's policy.
func (b *Balancer) Select(ctx context.Context, query SelectQuery) (*Result, error) {
	_, span := b.tracer.Start(ctx, "loadbalancer.Select", trace.WithAttributes(
		attribute.String("capability", query.Capability),
		attribute.Int("policy", int(b.policy)),
	))
	defer span.End()

	pool := b.filterHealthy(b.candidates(query), query.RequireHealthy)
	if len(pool) == 0 {
		return nil, &ErrNoAvailableAgents{Query: query.Capability}
	}

	var chosen *registry.Registration
	switch b.policy {
	case RoundRobin:
		chosen = b.selectRoundRobin(pool, query)
	case LeastConnections:
		chosen = b.selectLeastConnections(pool)
	case Weighted:
		chosen = b.selectWeighted(pool)
	default:
		chosen = pool[rand.Intn(len(pool))]
	}

	metrics := b.metricsFor(chosen.AgentID)
	healthy := true
	if b.health != nil {
		healthy = b.health.GetStatus(chosen.AgentID) == health.StatusHealthy
	}
	return &Result{Registration: chosen, Policy: b.policy, Metrics: *metrics, Healthy: healthy}, nil
}

func poolKey(pool []*registry.Registration) string {
	key := ""
	for _, r := range pool {
		key += r.AgentID + ","
	}
	return key
}

func (b *Balancer) selectRoundRobin(pool []*registry.Registration, query SelectQuery) *registry.Registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := query.Capability
	if key == "" {
		key = poolKey(pool)
	}
	idx := b.rrIndex[key] % len(pool)
	b.rrIndex[key] = idx + 1
	return pool[idx]
}

func (b *Balancer) selectLeastConnections(pool []*registry.Registration) *registry.Registration {
	b.mu.Lock()
	defer b.mu.Unlock()
	best := pool[0]
	bestActive := b.activeLocked(best.AgentID)
	for _, r := range pool[1:] {
		active := b.activeLocked(r.AgentID)
		if active < bestActive {
			best, bestActive = r, active
		}
	}
	return best
}

func (b *Balancer) activeLocked(agentID string) int {
	if m, ok := b.metrics[agentID]; ok {
		return m.ActiveConnections
	}
	return 0
}

func (b *Balancer) selectWeighted(pool []*registry.Registration) *registry.Registration {
	b.mu.Lock()
	weights := make([]int, len(pool))
	total := 0
	for i, r := range pool {
		w, ok := b.weights[r.AgentID]
		if !ok {
			w = b.defaultWeight
		}
		weights[i] = w
		total += w
	}
	b.mu.Unlock()

	if total == 0 {
		return pool[rand.Intn(len(pool))]
	}
	pick := rand.Intn(total)
	for i, w := range weights {
		if pick < w {
			return pool[i]
		}
		pick -= w
	}
	return pool[len(pool)-1]
}

func (b *Balancer) metricsFor(agentID string) *Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.metrics[agentID]
	if !ok {
		m = &Metrics{}
		b.metrics[agentID] = m
	}
	return m
}

// Acquire records a new in-flight request against agentID.
func (b *Balancer) Acquire(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.metricsForLocked(agentID)
	m.ActiveConnections++
	m.TotalConnections++
	m.TotalRequests++
}

// Release ends an in-flight request. failed additionally increments
// FailedRequests. Releasing an unknown agentID is a no-op.
func (b *Balancer) Release(agentID string, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.metrics[agentID]
	if !ok {
		return
	}
	if m.ActiveConnections > 0 {
		m.ActiveConnections--
	}
	if failed {
		m.FailedRequests++
	}
}

func (b *Balancer) metricsForLocked(agentID string) *Metrics {
	m, ok := b.metrics[agentID]
	if !ok {
		m = &Metrics{}
		b.metrics[agentID] = m
	}
	return m
}

// GetMetrics returns a snapshot of agentID's connection metrics.
func (b *Balancer) GetMetrics(agentID string) Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.metrics[agentID]; ok {
		return *m
	}
	return Metrics{}
}
