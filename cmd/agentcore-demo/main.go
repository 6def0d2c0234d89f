// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Command agentcore-demo wires every component into a single process
// and walks through a short dependency-ordered pipeline, a saga with a
// failing step, and a load-balanced, circuit-broken agent call.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/open-swarm/agentcore/internal/config"
	"github.com/open-swarm/agentcore/internal/sandbox"
	"github.com/open-swarm/agentcore/internal/shellhandler"
	"github.com/open-swarm/agentcore/internal/telemetry"
	"github.com/open-swarm/agentcore/pkg/agent"
	"github.com/open-swarm/agentcore/pkg/coordinator"
	"github.com/open-swarm/agentcore/pkg/loadbalancer"
	"github.com/open-swarm/agentcore/pkg/queue"
	"github.com/open-swarm/agentcore/pkg/registry"
	"github.com/open-swarm/agentcore/pkg/saga"
	"github.com/open-swarm/agentcore/pkg/types"
)

// pipeline is the fixed three-stage job this demo walks through:
// fetch has no dependencies, build depends on fetch, deploy on build.
var pipeline = []struct {
	id, command string
	deps        []string
}{
	{id: "fetch", command: "echo fetching", deps: nil},
	{id: "build", command: "echo building", deps: []string{"fetch"}},
	{id: "deploy", command: "echo deploying", deps: []string{"build"}},
}

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentcore-demo: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "agentcore-demo: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Service.LogLevel)}))

	ctx := context.Background()
	tp, err := telemetry.NewTracerProvider(ctx, &telemetry.Config{
		ServiceName:  cfg.Service.Name,
		CollectorURL: cfg.Telemetry.CollectorURL,
		Environment:  cfg.Service.Environment,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn("tracing disabled: failed to start exporter", "error", err)
	} else {
		defer tp.Shutdown(ctx)
	}

	coord, err := coordinator.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build coordinator", "error", err)
		os.Exit(1)
	}
	if err := coord.Start(); err != nil {
		logger.Error("failed to start coordinator", "error", err)
		os.Exit(1)
	}
	defer coord.Stop(5 * time.Second)

	coord.Pool.RegisterHandler("shell", shellhandler.Handler())

	if runner, err := sandbox.NewRunner(); err != nil {
		logger.Warn("sandboxed execution disabled: failed to build docker client", "error", err)
	} else {
		defer runner.Close()
		coord.Pool.RegisterHandler("sandbox", runner.Handler())
	}

	if err := coord.Registry.Register(registry.RegisterInput{
		AgentID:      "demo-agent-1",
		Name:         "demo-worker",
		Host:         "localhost",
		Port:         8081,
		Capabilities: []registry.Capability{{Name: "shell"}},
		TTL:          2 * time.Minute,
	}); err != nil {
		logger.Error("failed to register demo agent", "error", err)
		os.Exit(1)
	}

	if openCodeURL := cfg.Service.OpenCodeURL; openCodeURL != "" {
		client := agent.NewClient(openCodeURL, cfg.Service.OpenCodePort)
		coord.Health.RegisterProbe("demo-agent-1", client.Probe)
		logger.Info("registered opencode-backed health probe", "base_url", openCodeURL)
	}

	runPipeline(coord, logger)
	runSaga(logger)

	out, err := coord.RouteToAgent(ctx, loadbalancer.SelectQuery{Capability: "shell", RequireHealthy: false}, func(agentID string) (any, error) {
		logger.Info("routed call", "agent_id", agentID)
		return "handled by " + agentID, nil
	})
	if err != nil {
		logger.Error("routed call failed", "error", err)
		return
	}
	logger.Info("routed call result", "result", out)
}

// runPipeline registers every stage's dependencies up front, then
// cascades completions: the worker pool executes enqueued stages in
// the background, and this loop polls for completion to enqueue each
// dependent once its dependencies are all satisfied.
func runPipeline(coord *coordinator.Coordinator, logger *slog.Logger) {
	byID := make(map[string]shellhandler.Payload, len(pipeline))
	taskIDs := make(map[string]string, len(pipeline))
	for _, stage := range pipeline {
		byID[stage.id] = shellhandler.Payload{Command: stage.command}
		if err := coord.Resolver.AddTask(stage.id, stage.deps...); err != nil {
			logger.Error("failed to register pipeline stage", "stage", stage.id, "error", err)
			os.Exit(1)
		}
	}

	submit := func(id string) {
		taskID, err := coord.Queue.Enqueue(id, byID[id], types.PriorityNormal, queue.WithHandlerName("shell"))
		if err != nil {
			logger.Error("failed to enqueue pipeline stage", "stage", id, "error", err)
			os.Exit(1)
		}
		taskIDs[id] = taskID
		logger.Info("pipeline stage submitted", "stage", id, "task_id", taskID)
	}

	inFlight := make(map[string]struct{})
	for _, id := range coord.Resolver.GetReady() {
		submit(id)
		inFlight[id] = struct{}{}
	}

	deadline := time.Now().Add(10 * time.Second)
	for len(inFlight) > 0 && time.Now().Before(deadline) {
		for id := range inFlight {
			task, err := coord.Queue.Get(taskIDs[id])
			if err != nil || !task.State.IsTerminal() {
				continue
			}
			delete(inFlight, id)
			logger.Info("pipeline stage finished", "stage", id, "state", task.State)

			ready, err := coord.MarkTaskDone(id)
			if err != nil {
				logger.Error("failed to resolve dependents", "stage", id, "error", err)
				continue
			}
			for _, nextID := range ready {
				submit(nextID)
				inFlight[nextID] = struct{}{}
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	if len(inFlight) > 0 {
		logger.Warn("pipeline timed out waiting for stages", "remaining", len(inFlight))
		return
	}
	logger.Info("pipeline complete")
}

// runSaga demonstrates reverse-order compensation when a later step fails.
func runSaga(logger *slog.Logger) {
	executor := saga.New(logger)
	steps := []saga.Step{
		{
			Name:   "reserve-inventory",
			Action: func(context.Context, any) (any, error) { return "reserved", nil },
			Compensation: func(context.Context, any) (any, error) {
				logger.Info("releasing reserved inventory")
				return nil, nil
			},
		},
		{
			Name: "charge-payment",
			Action: func(context.Context, any) (any, error) {
				return nil, fmt.Errorf("payment provider unavailable")
			},
		},
	}

	exec, err := executor.Run(context.Background(), steps, "order-42")
	if err != nil {
		logger.Error("saga compensation itself failed", "status", exec.Status, "error", err)
		return
	}
	logger.Info("saga finished", "status", exec.Status, "saga_err", exec.Err)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
