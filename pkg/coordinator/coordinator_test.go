// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package coordinator

import (
	"context"
	"testing"

	"github.com/open-swarm/agentcore/internal/config"
	"github.com/open-swarm/agentcore/pkg/loadbalancer"
	"github.com/open-swarm/agentcore/pkg/registry"
	"github.com/open-swarm/agentcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Registry.CleanupInterval = "@every 1h"
	cfg.Health.CheckInterval = "@every 1h"
	return cfg
}

func TestNewRejectsNilConfig(t *testing.T) {
	c, err := New(nil, nil)
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.MaxCapacity = 0
	c, err := New(cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNewWiresAllComponents(t *testing.T) {
	c, err := New(testConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Stop(0)

	assert.NotNil(t, c.Queue)
	assert.NotNil(t, c.Resolver)
	assert.NotNil(t, c.RetryPolicy)
	assert.NotNil(t, c.Sagas)
	assert.NotNil(t, c.Pool)
	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Health)
	assert.NotNil(t, c.LoadBalancer)
	assert.NotNil(t, c.Breaker)
}

func TestSubmitWithDependenciesEnqueuesOnlyWhenReady(t *testing.T) {
	c, err := New(testConfig(), nil)
	require.NoError(t, err)
	defer c.Stop(0)

	require.NoError(t, c.SubmitWithDependencies("a", "task-a", nil, types.PriorityNormal, nil))
	require.NoError(t, c.SubmitWithDependencies("b", "task-b", nil, types.PriorityNormal, []string{"a"}))

	stats := c.Queue.Statistics()
	assert.Equal(t, 1, stats.Total, "only the dependency-free task should be enqueued")

	ready, err := c.MarkTaskDone("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ready)
}

func TestRouteToAgentSelectsAndInvokes(t *testing.T) {
	c, err := New(testConfig(), nil)
	require.NoError(t, err)
	defer c.Stop(0)

	require.NoError(t, c.Registry.Register(registry.RegisterInput{
		AgentID:      "agent-1",
		Name:         "worker",
		Host:         "localhost",
		Port:         9000,
		Capabilities: []registry.Capability{{Name: "echo"}},
	}))

	called := false
	out, err := c.RouteToAgent(context.Background(), loadbalancer.SelectQuery{RequireHealthy: false}, func(agentID string) (any, error) {
		called = true
		assert.Equal(t, "agent-1", agentID)
		return "ok", nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ok", out)
}

func TestRouteToAgentPropagatesHandlerFailureToBreaker(t *testing.T) {
	c, err := New(testConfig(), nil)
	require.NoError(t, err)
	defer c.Stop(0)

	require.NoError(t, c.Registry.Register(registry.RegisterInput{
		AgentID:      "agent-1",
		Name:         "worker",
		Host:         "localhost",
		Port:         9000,
		Capabilities: []registry.Capability{{Name: "echo"}},
	}))

	_, err = c.RouteToAgent(context.Background(), loadbalancer.SelectQuery{RequireHealthy: false}, func(string) (any, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	metrics, ok := c.Breaker.GetMetrics("agent-1")
	require.True(t, ok)
	assert.Equal(t, 1, metrics.Failures)
}

func TestStartStartsHealthMonitor(t *testing.T) {
	c, err := New(testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	c.Stop(0)
}
