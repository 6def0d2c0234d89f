// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package sandbox provides a queue.Handler that runs a task's payload
// inside a short-lived Docker container, for handlers that need
// process isolation beyond an in-process shell command. Grounded on
// the teacher's Docker lifecycle manager.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/open-swarm/agentcore/pkg/queue"
)

const stopTimeout = 10 * time.Second

// Payload is the expected shape of a sandboxed task's Task.Payload.
type Payload struct {
	Image   string
	Command []string
}

// Runner executes task payloads inside disposable Docker containers.
type Runner struct {
	client *client.Client
}

// NewRunner constructs a Runner from the ambient Docker environment
// (DOCKER_HOST etc.), negotiating the API version like the teacher's
// container manager does.
func NewRunner() (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to create docker client: %w", err)
	}
	return &Runner{client: cli}, nil
}

// Close releases the underlying Docker client connection.
func (r *Runner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Handler returns a queue.Handler that runs each task's payload in a
// fresh container, returning combined output as the task result and
// always removing the container afterward.
func (r *Runner) Handler() queue.Handler {
	return func(payload any) (any, error) {
		p, ok := payload.(Payload)
		if !ok {
			return nil, fmt.Errorf("sandbox: payload must be sandbox.Payload, got %T", payload)
		}
		if p.Image == "" {
			return nil, fmt.Errorf("sandbox: image must not be empty")
		}

		ctx := context.Background()
		return r.run(ctx, p)
	}
}

func (r *Runner) run(ctx context.Context, p Payload) (string, error) {
	created, err := r.client.ContainerCreate(ctx, &container.Config{
		Image:      p.Image,
		Cmd:        p.Command,
		Tty:        false,
		AttachStdout: true,
		AttachStderr: true,
	}, nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("sandbox: container create failed: %w", err)
	}
	defer r.cleanup(context.Background(), created.ID)

	if err := r.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("sandbox: container start failed: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("sandbox: container wait failed: %w", err)
		}
	case <-statusCh:
	}

	out, err := r.client.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("sandbox: failed to fetch container logs: %w", err)
	}
	defer out.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out); err != nil {
		return "", fmt.Errorf("sandbox: failed to read container logs: %w", err)
	}
	return buf.String(), nil
}

// cleanup stops and force-removes containerID, matching the teacher's
// idempotent StopAndRemoveContainer: errors from an already-gone
// container are not surfaced.
func (r *Runner) cleanup(ctx context.Context, containerID string) {
	timeout := int(stopTimeout.Seconds())
	_ = r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	_ = r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}
