// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package agent wraps the OpenCode SDK client so a running OpenCode
// server can serve as a concrete, pluggable health.Probe (C7) for an
// agent registered in the service registry (C6). Adapted from the
// teacher's internal/agent client, scoped down from full prompt
// execution to the reachability check a health probe needs.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/open-swarm/agentcore/internal/telemetry"
)

// Client wraps an OpenCode SDK client configured for a single agent's
// server instance.
type Client struct {
	sdk     *opencode.Client
	baseURL string
	port    int
}

// NewClient configures an SDK client for the OpenCode server at
// baseURL:port. No API key is needed for local connections.
func NewClient(baseURL string, port int) *Client {
	sdk := opencode.NewClient(option.WithBaseURL(baseURL))
	return &Client{sdk: sdk, baseURL: baseURL, port: port}
}

// GetSDK returns the underlying OpenCode SDK client.
func (c *Client) GetSDK() *opencode.Client { return c.sdk }

// GetBaseURL returns the base URL this client is connected to.
func (c *Client) GetBaseURL() string { return c.baseURL }

// Ping lists sessions on the OpenCode server as a lightweight
// reachability check, with no side effects on the server's state.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "opencode.client", "Ping",
		trace.WithAttributes(
			attribute.String("opencode.base_url", c.baseURL),
			attribute.Int("opencode.port", c.port),
		),
	)
	defer span.End()

	start := time.Now()
	_, err := c.sdk.Session.List(ctx, opencode.SessionListParams{})
	telemetry.AddAttributes(ctx, telemetry.DurationAttrs(time.Since(start))...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ping failed")
		return fmt.Errorf("agent: ping failed for %s: %w", c.baseURL, err)
	}
	span.SetStatus(codes.Ok, "ping succeeded")
	return nil
}

// Probe adapts Ping to the health.Probe signature (C7): the agentID
// argument is ignored since a Client is already scoped to one server.
func (c *Client) Probe(ctx context.Context, _ string) (bool, error) {
	if err := c.Ping(ctx); err != nil {
		return false, err
	}
	return true, nil
}
