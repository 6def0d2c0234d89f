// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package saga implements the saga executor (C4): an ordered sequence
// of steps with reverse-order compensation on failure.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/open-swarm/agentcore/pkg/retry"
)

// Status is the lifecycle state of a saga execution.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
)

// StepHandler executes (or compensates) a single saga step.
type StepHandler func(ctx context.Context, input any) (output any, err error)

// Step is one unit of a saga: a forward Action and an optional
// Compensation invoked, in reverse order, if a later step fails.
// RetryPolicy, when set, drives retries of Action only.
type Step struct {
	Name         string
	Action       StepHandler
	Compensation StepHandler
	RetryPolicy  *retry.Policy
}

// CompensationFailed is raised when a compensation itself errors.
// Remaining compensations are abandoned once this occurs.
type CompensationFailed struct {
	Step string
	Err  error
}

func (e *CompensationFailed) Error() string {
	return fmt.Sprintf("saga: compensation for step %q failed: %v", e.Step, e.Err)
}

func (e *CompensationFailed) Unwrap() error { return e.Err }

// Execution records the outcome of running a saga.
type Execution struct {
	SagaID           string
	Status           Status
	CompletedSteps   int
	CompensatedSteps int
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Results          []any
	Err              error
}

// Executor runs Step slices synchronously, in the teacher's orchestrator
// idiom, without a registry of named definitions — callers pass steps
// directly at Run time.
type Executor struct {
	logger *slog.Logger
}

// New returns an Executor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Run executes steps in order against input, compensating completed
// steps in reverse on the first failure. It always returns an
// Execution record; err is non-nil only for a CompensationFailed.
func (e *Executor) Run(ctx context.Context, steps []Step, input any) (*Execution, error) {
	started := time.Now()
	exec := &Execution{
		SagaID:    uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: &started,
		Results:   make([]any, len(steps)),
	}

	current := input
	failedAt := -1
	var stepErr error

	for i, step := range steps {
		e.logger.Debug("saga step starting", "saga_id", exec.SagaID, "step", step.Name)

		var output any
		if step.RetryPolicy != nil {
			result, err := step.RetryPolicy.Execute(ctx, func(ctx context.Context, attempt int) (any, error) {
				return step.Action(ctx, current)
			})
			output, stepErr = result, err
		} else {
			output, stepErr = step.Action(ctx, current)
		}

		if stepErr != nil {
			e.logger.Error("saga step failed", "saga_id", exec.SagaID, "step", step.Name, "error", stepErr)
			failedAt = i
			break
		}

		exec.Results[i] = output
		exec.CompletedSteps = i + 1
		current = output
		e.logger.Debug("saga step completed", "saga_id", exec.SagaID, "step", step.Name)
	}

	if failedAt == -1 {
		exec.Status = StatusCompleted
		now := time.Now()
		exec.CompletedAt = &now
		return exec, nil
	}

	exec.Err = stepErr
	exec.Status = StatusCompensating
	if compErr := e.compensate(ctx, exec, steps, failedAt-1); compErr != nil {
		exec.Status = StatusFailed
		now := time.Now()
		exec.CompletedAt = &now
		return exec, compErr
	}

	exec.Status = StatusCompensated
	now := time.Now()
	exec.CompletedAt = &now
	return exec, nil
}

// compensate invokes compensations for steps 0..from in reverse order.
// A missing compensation is a no-op success. Returns CompensationFailed
// on the first compensation error, abandoning the rest.
func (e *Executor) compensate(ctx context.Context, exec *Execution, steps []Step, from int) error {
	for i := from; i >= 0; i-- {
		step := steps[i]
		if step.Compensation == nil {
			exec.CompensatedSteps++
			continue
		}
		e.logger.Debug("saga compensating step", "saga_id", exec.SagaID, "step", step.Name)
		if _, err := step.Compensation(ctx, exec.Results[i]); err != nil {
			e.logger.Error("saga compensation failed", "saga_id", exec.SagaID, "step", step.Name, "error", err)
			return &CompensationFailed{Step: step.Name, Err: err}
		}
		exec.CompensatedSteps++
	}
	return nil
}
