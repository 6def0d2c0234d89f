// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package saga

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Activity options applied to every step/compensation activity run
// through the Temporal backend, matching the teacher's DAG engine
// retry/heartbeat configuration.
const (
	activityStartToClose = 10 * time.Minute
	activityHeartbeat    = 30 * time.Second
	activityRetryBackoff = 2.0
	activityMaxAttempts  = 3
)

// NamedStep is a Step whose Action/Compensation are registered
// Temporal activity names rather than in-process closures, since
// Temporal replays workflow code and cannot serialize function values.
type NamedStep struct {
	Name               string
	ActivityName       string
	CompensationActivity string // empty means no compensation
}

// TemporalInput is the workflow parameter carrying the saga definition
// and initial payload.
type TemporalInput struct {
	Steps []NamedStep
	Input any
}

// RunWorkflow is the durable alternative to Executor.Run: the same
// ordered-steps-then-reverse-compensate contract, but expressed as a
// Temporal workflow so saga state survives process restarts. Register
// it and its step activities with a worker via worker.RegisterWorkflow
// / worker.RegisterActivity.
func RunWorkflow(ctx workflow.Context, in TemporalInput) (*Execution, error) {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityStartToClose,
		HeartbeatTimeout:    activityHeartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: activityRetryBackoff,
			MaximumInterval:    activityHeartbeat,
			MaximumAttempts:    activityMaxAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	exec := &Execution{
		SagaID:  workflow.GetInfo(ctx).WorkflowExecution.ID,
		Status:  StatusRunning,
		Results: make([]any, len(in.Steps)),
	}

	current := in.Input
	failedAt := -1
	var stepErr error

	for i, step := range in.Steps {
		logger.Debug("saga step starting", "step", step.Name)
		var output any
		stepErr = workflow.ExecuteActivity(ctx, step.ActivityName, current).Get(ctx, &output)
		if stepErr != nil {
			logger.Error("saga step failed", "step", step.Name, "error", stepErr)
			failedAt = i
			break
		}
		exec.Results[i] = output
		exec.CompletedSteps = i + 1
		current = output
	}

	if failedAt == -1 {
		exec.Status = StatusCompleted
		return exec, nil
	}

	exec.Err = stepErr
	exec.Status = StatusCompensating
	for i := failedAt - 1; i >= 0; i-- {
		step := in.Steps[i]
		if step.CompensationActivity == "" {
			exec.CompensatedSteps++
			continue
		}
		logger.Debug("saga compensating step", "step", step.Name)
		var discard any
		if err := workflow.ExecuteActivity(ctx, step.CompensationActivity, exec.Results[i]).Get(ctx, &discard); err != nil {
			exec.Status = StatusFailed
			return exec, &CompensationFailed{Step: step.Name, Err: err}
		}
		exec.CompensatedSteps++
	}

	exec.Status = StatusCompensated
	return exec, nil
}

// Step/compensation activities registered against a worker must
// implement func(ctx context.Context, input any) (any, error).
