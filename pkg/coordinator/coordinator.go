// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package coordinator wires the nine orchestration components (task
// queue, dependency resolver, retry policy, saga executor, worker
// pool, service registry, health monitor, load balancer, circuit
// breaker) behind a single facade.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-swarm/agentcore/internal/config"
	"github.com/open-swarm/agentcore/pkg/breaker"
	"github.com/open-swarm/agentcore/pkg/health"
	"github.com/open-swarm/agentcore/pkg/loadbalancer"
	"github.com/open-swarm/agentcore/pkg/queue"
	"github.com/open-swarm/agentcore/pkg/registry"
	"github.com/open-swarm/agentcore/pkg/resolver"
	"github.com/open-swarm/agentcore/pkg/retry"
	"github.com/open-swarm/agentcore/pkg/saga"
	"github.com/open-swarm/agentcore/pkg/types"
	"github.com/open-swarm/agentcore/pkg/workerpool"
)

// Coordinator owns one instance of each component, constructed from a
// single Config, and exposes the cross-component operations that don't
// belong to any one of them alone (submit-with-dependencies, agent
// routing through the breaker, etc).
type Coordinator struct {
	cfg *config.Config

	Queue        *queue.Queue
	Resolver     *resolver.Graph
	RetryPolicy  *retry.Policy
	Sagas        *saga.Executor
	Pool         *workerpool.Pool
	Registry     *registry.Registry
	Health       *health.Monitor
	LoadBalancer *loadbalancer.Balancer
	Breaker      *breaker.Breaker

	logger *slog.Logger
}

// New builds a fully wired Coordinator from cfg. cfg is validated
// before any component is constructed.
func New(cfg *config.Config, logger *slog.Logger) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("coordinator: configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := queue.New(queue.Config{
		MaxCapacity: cfg.Queue.MaxCapacity,
		MaxRunning:  cfg.Queue.MaxRunning,
	}, logger)

	graph := resolver.New()

	retryStrategy := parseRetryStrategy(cfg.Retry.Strategy)
	retryPolicy := retry.New(
		retryStrategy,
		cfg.Retry.MaxRetries,
		cfg.RetryBaseDelay(),
		cfg.RetryMaxDelay(),
		cfg.Retry.ExpBase,
		cfg.Retry.Jitter,
	)

	sagaExecutor := saga.New(logger)

	reg, err := registry.New(cfg.Registry.CleanupInterval, cfg.RegistryDefaultTTL(), logger)
	if err != nil {
		return nil, fmt.Errorf("coordinator: failed to start registry: %w", err)
	}

	healthMonitor := health.New(health.Config{
		FailureThreshold:  cfg.Health.FailureThreshold,
		CheckTimeout:      cfg.HealthResponseTimeout(),
		DegradedMS:        cfg.Health.DegradedThreshold,
		CheckIntervalSpec: cfg.Health.CheckInterval,
	}, reg, logger)

	lb := loadbalancer.New(parseLBPolicy(cfg.LoadBalancer.Strategy), reg, healthMonitor, cfg.LoadBalancer.DefaultWeight)

	cb := breaker.New(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout(),
		MinimumRequests:  cfg.CircuitBreaker.MinimumRequests,
	}, logger)

	pool, err := workerpool.New(workerpool.Config{
		MinWorkers:       cfg.WorkerPool.MinWorkers,
		MaxWorkers:       cfg.WorkerPool.MaxWorkers,
		MaxExecutionTime: cfg.WorkerMaxExecutionTime(),
		ErrorCooldown:    cfg.WorkerErrorCooldown(),
	}, q, logger)
	if err != nil {
		return nil, fmt.Errorf("coordinator: failed to start worker pool: %w", err)
	}

	return &Coordinator{
		cfg:          cfg,
		Queue:        q,
		Resolver:     graph,
		RetryPolicy:  retryPolicy,
		Sagas:        sagaExecutor,
		Pool:         pool,
		Registry:     reg,
		Health:       healthMonitor,
		LoadBalancer: lb,
		Breaker:      cb,
		logger:       logger,
	}, nil
}

// Start launches the background schedulers (health checks) that
// components don't start on construction.
func (c *Coordinator) Start() error {
	if err := c.Health.Start(); err != nil {
		return fmt.Errorf("coordinator: failed to start health monitor: %w", err)
	}
	c.logger.Info("coordinator started")
	return nil
}

// Stop drains the worker pool and tears down background schedulers.
func (c *Coordinator) Stop(drain time.Duration) {
	c.Health.Stop()
	c.Registry.Stop()
	c.Pool.Stop(drain)
	c.logger.Info("coordinator stopped")
}

// SubmitWithDependencies registers id in the dependency graph and, once
// its dependencies are already satisfied, enqueues it on the task
// queue. Callers drive the remaining dependency-driven submissions
// from MarkTaskDone as tasks complete.
func (c *Coordinator) SubmitWithDependencies(id, name string, payload any, priority types.Priority, deps []string, opts ...queue.EnqueueOption) error {
	if err := c.Resolver.AddTask(id, deps...); err != nil {
		return fmt.Errorf("coordinator: failed to register dependencies for %s: %w", id, err)
	}

	ready := false
	for _, readyID := range c.Resolver.GetReady() {
		if readyID == id {
			ready = true
			break
		}
	}
	if !ready {
		return nil
	}

	if _, err := c.Queue.Enqueue(name, payload, priority, opts...); err != nil {
		return fmt.Errorf("coordinator: failed to enqueue %s: %w", id, err)
	}
	return nil
}

// MarkTaskDone tells the resolver that taskID completed and returns
// the ids of dependents whose dependencies are now fully satisfied. It
// does not enqueue them: callers map the returned ids back to task
// names/payloads and submit them.
func (c *Coordinator) MarkTaskDone(taskID string) ([]string, error) {
	return c.Resolver.MarkCompleted(taskID)
}

// RouteToAgent selects a healthy agent via the load balancer and
// invokes fn through the per-agent circuit breaker, releasing the
// load-balancer connection count and recording breaker outcomes
// regardless of how fn finishes.
func (c *Coordinator) RouteToAgent(ctx context.Context, query loadbalancer.SelectQuery, fn func(agentID string) (any, error)) (any, error) {
	result, err := c.LoadBalancer.Select(ctx, query)
	if err != nil {
		return nil, err
	}

	agentID := result.Registration.AgentID
	c.LoadBalancer.Acquire(agentID)

	out, err := c.Breaker.Call(ctx, agentID, func(_ context.Context) (any, error) {
		return fn(agentID)
	})

	c.LoadBalancer.Release(agentID, err != nil)
	return out, err
}

func parseRetryStrategy(s string) retry.Strategy {
	switch s {
	case "fixed":
		return retry.Fixed
	case "linear":
		return retry.Linear
	default:
		return retry.Exponential
	}
}

func parseLBPolicy(s string) loadbalancer.Policy {
	switch s {
	case "least_connections":
		return loadbalancer.LeastConnections
	case "weighted":
		return loadbalancer.Weighted
	case "random":
		return loadbalancer.Random
	default:
		return loadbalancer.RoundRobin
	}
}
