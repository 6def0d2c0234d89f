// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package registry implements the service registry (C6): an
// in-memory, TTL-bounded catalog of agent endpoints indexed by
// capability and tags.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"
)

// Status is an agent's lifecycle state within the registry.
type Status string

const (
	StatusOnline   Status = "online"
	StatusBusy     Status = "busy"
	StatusOffline  Status = "offline"
	StatusDraining Status = "draining"
)

// Capability is a named, versioned function an agent offers.
type Capability struct {
	Name    string
	Version string
}

// Registration is a single agent's catalog entry.
type Registration struct {
	AgentID       string
	Name          string
	Host          string
	Port          int
	Capabilities  map[Capability]struct{}
	Tags          map[string]struct{}
	Metadata      any
	Status        Status
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	TTL           time.Duration
}

// Expired reports whether the registration is stale as of now.
func (r *Registration) Expired(now time.Time) bool {
	return now.Sub(r.LastHeartbeat) > r.TTL
}

// Clone returns a deep-enough copy safe to hand to callers.
func (r *Registration) Clone() *Registration {
	caps := make(map[Capability]struct{}, len(r.Capabilities))
	for c := range r.Capabilities {
		caps[c] = struct{}{}
	}
	tags := make(map[string]struct{}, len(r.Tags))
	for t := range r.Tags {
		tags[t] = struct{}{}
	}
	clone := *r
	clone.Capabilities = caps
	clone.Tags = tags
	return &clone
}

// ErrInvalidRegistration is returned by Register for malformed input.
type ErrInvalidRegistration struct {
	Reason string
}

func (e *ErrInvalidRegistration) Error() string {
	return fmt.Sprintf("registry: invalid registration: %s", e.Reason)
}

// RegisterInput carries optional fields for Register.
type RegisterInput struct {
	AgentID      string
	Name         string
	Host         string
	Port         int
	Capabilities []Capability
	Status       Status // defaults to StatusOnline
	Tags         []string
	Metadata     any
	TTL          time.Duration // defaults to the Registry's default TTL (see New)
}

// Registry is a thread-safe, TTL-bounded agent catalog.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]*Registration
	logger     *slog.Logger
	sweeper    *cron.Cron
	defaultTTL time.Duration
}

// New constructs an empty Registry. cleanupSpec is a standard cron
// expression (e.g. "@every 30s") driving the background expiry
// sweeper via github.com/robfig/cron, the same scheduler the service
// mesh's periodic jobs use elsewhere in this module. An empty spec
// disables the sweeper; callers may still rely on read-path filtering.
// defaultTTL is applied to a Register call that leaves TTL unset; a
// zero value falls back to 60s.
func New(cleanupSpec string, defaultTTL time.Duration, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = 60 * time.Second
	}
	r := &Registry{agents: make(map[string]*Registration), logger: logger, defaultTTL: defaultTTL}
	if cleanupSpec == "" {
		return r, nil
	}
	c := cron.New()
	if err := c.AddFunc(cleanupSpec, r.sweep); err != nil {
		return nil, fmt.Errorf("registry: invalid cleanup schedule: %w", err)
	}
	r.sweeper = c
	c.Start()
	return r, nil
}

// Stop halts the background sweeper, if one is running.
func (r *Registry) Stop() {
	if r.sweeper != nil {
		r.sweeper.Stop()
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, reg := range r.agents {
		if reg.Expired(now) {
			delete(r.agents, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("registry sweep removed expired agents", "count", removed)
	}
}

// Register inserts or overwrites an agent's catalog entry.
func (r *Registry) Register(in RegisterInput) error {
	if in.AgentID == "" {
		return &ErrInvalidRegistration{Reason: "agent_id must not be empty"}
	}
	if in.Name == "" {
		return &ErrInvalidRegistration{Reason: "name must not be empty"}
	}
	if in.Port < 1 || in.Port > 65535 {
		return &ErrInvalidRegistration{Reason: "port must be between 1 and 65535"}
	}
	if len(in.Capabilities) == 0 {
		return &ErrInvalidRegistration{Reason: "at least one capability is required"}
	}
	status := in.Status
	if status == "" {
		status = StatusOnline
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = r.defaultTTL
	}

	caps := make(map[Capability]struct{}, len(in.Capabilities))
	for _, c := range in.Capabilities {
		caps[c] = struct{}{}
	}
	tags := make(map[string]struct{}, len(in.Tags))
	for _, t := range in.Tags {
		tags[t] = struct{}{}
	}

	now := time.Now()
	reg := &Registration{
		AgentID:       in.AgentID,
		Name:          in.Name,
		Host:          in.Host,
		Port:          in.Port,
		Capabilities:  caps,
		Tags:          tags,
		Metadata:      in.Metadata,
		Status:        status,
		RegisteredAt:  now,
		LastHeartbeat: now,
		TTL:           ttl,
	}

	r.mu.Lock()
	r.agents[in.AgentID] = reg
	r.mu.Unlock()

	r.logger.Info("agent registered", "agent_id", in.AgentID, "name", in.Name)
	return nil
}

// Deregister removes agentID, returning false if it was not present.
func (r *Registry) Deregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return false
	}
	delete(r.agents, agentID)
	r.logger.Info("agent deregistered", "agent_id", agentID)
	return true
}

// Heartbeat refreshes agentID's last-heartbeat timestamp.
func (r *Registry) Heartbeat(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return false
	}
	reg.LastHeartbeat = time.Now()
	return true
}

// UpdateStatus sets agentID's status.
func (r *Registry) UpdateStatus(agentID string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return false
	}
	reg.Status = status
	return true
}

// Get returns a live (non-expired) registration, or false.
func (r *Registry) Get(agentID string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok || reg.Expired(time.Now()) {
		return nil, false
	}
	return reg.Clone(), true
}

// FindByCapability returns live registrations offering capability
// name (any version), optionally filtered to a status.
func (r *Registry) FindByCapability(name string, status *Status) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	out := make([]*Registration, 0)
	for _, reg := range r.agents {
		if reg.Expired(now) {
			continue
		}
		if status != nil && reg.Status != *status {
			continue
		}
		for c := range reg.Capabilities {
			if c.Name == name {
				out = append(out, reg.Clone())
				break
			}
		}
	}
	return out
}

// FindByTags returns live registrations that carry every tag in tags (AND match).
func (r *Registry) FindByTags(tags []string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	out := make([]*Registration, 0)
	for _, reg := range r.agents {
		if reg.Expired(now) {
			continue
		}
		allMatch := true
		for _, tag := range tags {
			if _, ok := reg.Tags[tag]; !ok {
				allMatch = false
				break
			}
		}
		if allMatch {
			out = append(out, reg.Clone())
		}
	}
	return out
}

// ListAll returns all live registrations, optionally filtered to a status.
func (r *Registry) ListAll(status *Status) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	out := make([]*Registration, 0)
	for _, reg := range r.agents {
		if reg.Expired(now) {
			continue
		}
		if status != nil && reg.Status != *status {
			continue
		}
		out = append(out, reg.Clone())
	}
	return out
}

// Count returns the number of live registrations, optionally filtered to a status.
func (r *Registry) Count(status *Status) int {
	return len(r.ListAll(status))
}
