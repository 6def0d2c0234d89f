// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package breaker implements the circuit breaker (C9): per-agent
// failure isolation with automatic half-open probing.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is a circuit's lifecycle phase.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Call when the circuit is open and the
// request is blocked without being attempted.
type ErrCircuitOpen struct {
	AgentID string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker is open for agent %s", e.AgentID)
}

// Metrics is the per-agent circuit state spec.md §3 calls CircuitMetrics.
type Metrics struct {
	AgentID              string
	State                State
	Total                int
	Successes            int
	Failures             int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
	LastFailureAt        *time.Time
	LastSuccessAt        *time.Time
	StateChangedAt       time.Time
	TripCount            int
}

// FailureRate is failures/total, or 0 when no requests have been recorded.
func (m Metrics) FailureRate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Failures) / float64(m.Total)
}

// SuccessRate is (total-failures)/total, or 1 when no requests have been recorded.
func (m Metrics) SuccessRate() float64 {
	if m.Total == 0 {
		return 1
	}
	return float64(m.Total-m.Failures) / float64(m.Total)
}

// Config bounds circuit behavior; see spec.md §4.9.
type Config struct {
	FailureThreshold float64       // fraction in [0,1]
	SuccessThreshold int           // consecutive half-open successes to close
	Timeout          time.Duration // how long to stay open before probing
	MinimumRequests  int           // requests needed before the rate check applies
}

func (c Config) validate() error {
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		return fmt.Errorf("breaker: failure_threshold must be in [0,1], got %f", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("breaker: success_threshold must be >= 1, got %d", c.SuccessThreshold)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("breaker: timeout must be positive, got %s", c.Timeout)
	}
	if c.MinimumRequests < 1 {
		return fmt.Errorf("breaker: minimum_requests must be >= 1, got %d", c.MinimumRequests)
	}
	return nil
}

// Breaker tracks one circuit per agent id.
type Breaker struct {
	cfg    Config
	mu     sync.Mutex
	agents map[string]*Metrics
	logger *slog.Logger
}

// New constructs a Breaker, panicking on invalid cfg (a programmer
// error, not a runtime condition).
func New(cfg Config, logger *slog.Logger) *Breaker {
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{cfg: cfg, agents: make(map[string]*Metrics), logger: logger}
}

func (b *Breaker) getOrCreateLocked(agentID string) *Metrics {
	m, ok := b.agents[agentID]
	if !ok {
		m = &Metrics{AgentID: agentID, State: StateClosed, StateChangedAt: time.Now()}
		b.agents[agentID] = m
	}
	return m
}

// checkTransitionLocked promotes an open circuit to half-open once
// its timeout has elapsed. Caller holds mu.
func (b *Breaker) checkTransitionLocked(m *Metrics) {
	if m.State == StateOpen && time.Since(m.StateChangedAt) >= b.cfg.Timeout {
		m.State = StateHalfOpen
		m.StateChangedAt = time.Now()
		m.ConsecutiveSuccesses = 0
		m.ConsecutiveFailures = 0
		b.logger.Info("circuit half-open", "agent_id", m.AgentID)
	}
}

// GetState returns the current state for agentID, applying any
// pending open→half_open transition first.
func (b *Breaker) GetState(agentID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.getOrCreateLocked(agentID)
	b.checkTransitionLocked(m)
	return m.State
}

// Call runs fn through the circuit for agentID: blocked with
// ErrCircuitOpen while open, otherwise executed and the outcome
// recorded via RecordSuccess/RecordFailure.
func (b *Breaker) Call(ctx context.Context, agentID string, fn func(ctx context.Context) (any, error)) (any, error) {
	b.mu.Lock()
	m := b.getOrCreateLocked(agentID)
	b.checkTransitionLocked(m)
	if m.State == StateOpen {
		b.mu.Unlock()
		b.logger.Warn("circuit open, blocking request", "agent_id", agentID)
		return nil, &ErrCircuitOpen{AgentID: agentID}
	}
	b.mu.Unlock()

	result, err := fn(ctx)
	if err != nil {
		b.RecordFailure(agentID)
		return nil, err
	}
	b.RecordSuccess(agentID)
	return result, nil
}

// RecordSuccess logs a successful request against agentID's circuit,
// closing it from half-open once SuccessThreshold is reached.
func (b *Breaker) RecordSuccess(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.getOrCreateLocked(agentID)
	now := time.Now()
	m.Total++
	m.Successes++
	m.ConsecutiveSuccesses++
	m.ConsecutiveFailures = 0
	m.LastSuccessAt = &now

	if m.State == StateHalfOpen && m.ConsecutiveSuccesses >= b.cfg.SuccessThreshold {
		m.State = StateClosed
		m.StateChangedAt = now
		m.ConsecutiveSuccesses = 0
		m.ConsecutiveFailures = 0
		b.logger.Info("circuit closed", "agent_id", agentID)
	}
}

// RecordFailure logs a failed request against agentID's circuit,
// tripping it open when the failure-rate threshold is crossed (closed
// state) or immediately on any failure while half-open.
func (b *Breaker) RecordFailure(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.getOrCreateLocked(agentID)
	now := time.Now()
	m.Total++
	m.Failures++
	m.ConsecutiveFailures++
	m.ConsecutiveSuccesses = 0
	m.LastFailureAt = &now

	switch m.State {
	case StateClosed:
		if m.Total >= b.cfg.MinimumRequests && m.FailureRate() >= b.cfg.FailureThreshold {
			b.tripLocked(m, now)
		}
	case StateHalfOpen:
		b.tripLocked(m, now)
	}
}

func (b *Breaker) tripLocked(m *Metrics, now time.Time) {
	m.State = StateOpen
	m.StateChangedAt = now
	m.TripCount++
	b.logger.Warn("circuit opened", "agent_id", m.AgentID, "failure_rate", m.FailureRate(), "trip_count", m.TripCount)
}

// Reset forces agentID's circuit back to closed, clearing streak counters.
func (b *Breaker) Reset(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.agents[agentID]
	if !ok {
		return
	}
	m.State = StateClosed
	m.ConsecutiveSuccesses = 0
	m.ConsecutiveFailures = 0
	m.StateChangedAt = time.Now()
}

// GetMetrics returns a snapshot for agentID, or false if unknown.
func (b *Breaker) GetMetrics(agentID string) (Metrics, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.agents[agentID]
	if !ok {
		return Metrics{}, false
	}
	b.checkTransitionLocked(m)
	return *m, true
}

// GetAllMetrics snapshots every known circuit, applying pending
// transitions first.
func (b *Breaker) GetAllMetrics() map[string]Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Metrics, len(b.agents))
	for id, m := range b.agents {
		b.checkTransitionLocked(m)
		out[id] = *m
	}
	return out
}

// GetOpenCircuits lists agent ids currently open.
func (b *Breaker) GetOpenCircuits() []string {
	return b.agentsInState(StateOpen)
}

// GetHalfOpenCircuits lists agent ids currently half-open.
func (b *Breaker) GetHalfOpenCircuits() []string {
	return b.agentsInState(StateHalfOpen)
}

func (b *Breaker) agentsInState(state State) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0)
	for id, m := range b.agents {
		b.checkTransitionLocked(m)
		if m.State == state {
			out = append(out, id)
		}
	}
	return out
}
