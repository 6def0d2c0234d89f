// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCompensationOrder is scenario S3 from spec.md §8.
func TestCompensationOrder(t *testing.T) {
	var log []string

	steps := []Step{
		{
			Name:   "s1",
			Action: func(ctx context.Context, input any) (any, error) { return "r1", nil },
			Compensation: func(ctx context.Context, result any) (any, error) {
				log = append(log, result.(string))
				return nil, nil
			},
		},
		{
			Name:   "s2",
			Action: func(ctx context.Context, input any) (any, error) { return "r2", nil },
			Compensation: func(ctx context.Context, result any) (any, error) {
				log = append(log, result.(string))
				return nil, nil
			},
		},
		{
			Name:   "s3",
			Action: func(ctx context.Context, input any) (any, error) { return nil, errors.New("boom") },
		},
	}

	exec, err := New(nil).Run(context.Background(), steps, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompensated, exec.Status)
	assert.Equal(t, []string{"r2", "r1"}, log)
	assert.Equal(t, 2, exec.CompletedSteps)
	assert.Equal(t, 2, exec.CompensatedSteps)
}

func TestAllStepsSucceedCompletes(t *testing.T) {
	steps := []Step{
		{Name: "s1", Action: func(ctx context.Context, input any) (any, error) { return 1, nil }},
		{Name: "s2", Action: func(ctx context.Context, input any) (any, error) { return 2, nil }},
	}

	exec, err := New(nil).Run(context.Background(), steps, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, 2, exec.CompletedSteps)
}

func TestMissingCompensationIsNoop(t *testing.T) {
	steps := []Step{
		{Name: "s1", Action: func(ctx context.Context, input any) (any, error) { return "r1", nil }},
		{Name: "s2", Action: func(ctx context.Context, input any) (any, error) { return nil, errors.New("fail") }},
	}

	exec, err := New(nil).Run(context.Background(), steps, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, exec.Status)
	assert.Equal(t, 1, exec.CompensatedSteps)
}

func TestCompensationFailureAbandonsRemaining(t *testing.T) {
	var compensated []string
	steps := []Step{
		{
			Name:   "s1",
			Action: func(ctx context.Context, input any) (any, error) { return "r1", nil },
			Compensation: func(ctx context.Context, result any) (any, error) {
				compensated = append(compensated, "s1")
				return nil, nil
			},
		},
		{
			Name:   "s2",
			Action: func(ctx context.Context, input any) (any, error) { return "r2", nil },
			Compensation: func(ctx context.Context, result any) (any, error) {
				compensated = append(compensated, "s2")
				return nil, errors.New("compensation broke")
			},
		},
		{
			Name:   "s3",
			Action: func(ctx context.Context, input any) (any, error) { return nil, errors.New("boom") },
		},
	}

	exec, err := New(nil).Run(context.Background(), steps, nil)
	var compFailed *CompensationFailed
	require.ErrorAs(t, err, &compFailed)
	assert.Equal(t, "s2", compFailed.Step)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, []string{"s2"}, compensated, "s1's compensation must never run once s2's compensation fails")
	assert.Equal(t, 2, exec.CompletedSteps)
	assert.Equal(t, 0, exec.CompensatedSteps)
}
