// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCircuitLifecycle is scenario S4 from spec.md §8.
func TestCircuitLifecycle(t *testing.T) {
	b := New(Config{
		FailureThreshold: 0.5,
		MinimumRequests:  5,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
	}, nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure("agent-1")
	}
	assert.Equal(t, StateOpen, b.GetState("agent-1"))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.GetState("agent-1"))

	b.RecordSuccess("agent-1")
	b.RecordSuccess("agent-1")
	assert.Equal(t, StateClosed, b.GetState("agent-1"))

	m, ok := b.GetMetrics("agent-1")
	require.True(t, ok)
	assert.Equal(t, 1, m.TripCount)
}

func TestClosedStaysClosedBelowMinimumRequests(t *testing.T) {
	b := New(Config{FailureThreshold: 0.1, MinimumRequests: 10, SuccessThreshold: 1, Timeout: time.Second}, nil)
	for i := 0; i < 9; i++ {
		b.RecordFailure("a")
	}
	assert.Equal(t, StateClosed, b.GetState("a"))
}

func TestHalfOpenAnyFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 0.5, MinimumRequests: 2, SuccessThreshold: 2, Timeout: 50 * time.Millisecond}, nil)
	b.RecordFailure("a")
	b.RecordFailure("a")
	require.Equal(t, StateOpen, b.GetState("a"))

	time.Sleep(70 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.GetState("a"))

	b.RecordSuccess("a")
	b.RecordFailure("a")
	assert.Equal(t, StateOpen, b.GetState("a"))
}

func TestCallBlockedWhenOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 0.1, MinimumRequests: 1, SuccessThreshold: 1, Timeout: time.Hour}, nil)
	b.RecordFailure("a")
	require.Equal(t, StateOpen, b.GetState("a"))

	_, err := b.Call(context.Background(), "a", func(ctx context.Context) (any, error) {
		t.Fatal("fn must not be invoked while circuit is open")
		return nil, nil
	})
	var openErr *ErrCircuitOpen
	assert.ErrorAs(t, err, &openErr)
}

func TestCallRecordsSuccessAndFailure(t *testing.T) {
	b := New(Config{FailureThreshold: 0.9, MinimumRequests: 100, SuccessThreshold: 1, Timeout: time.Hour}, nil)

	_, err := b.Call(context.Background(), "a", func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	_, err = b.Call(context.Background(), "a", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	m, ok := b.GetMetrics("a")
	require.True(t, ok)
	assert.Equal(t, 2, m.Total)
	assert.Equal(t, 1, m.Successes)
	assert.Equal(t, 1, m.Failures)
}

func TestResetForcesClosed(t *testing.T) {
	b := New(Config{FailureThreshold: 0.1, MinimumRequests: 1, SuccessThreshold: 1, Timeout: time.Hour}, nil)
	b.RecordFailure("a")
	require.Equal(t, StateOpen, b.GetState("a"))

	b.Reset("a")
	assert.Equal(t, StateClosed, b.GetState("a"))
}

func TestGetOpenAndHalfOpenCircuits(t *testing.T) {
	b := New(Config{FailureThreshold: 0.1, MinimumRequests: 1, SuccessThreshold: 1, Timeout: time.Hour}, nil)
	b.RecordFailure("open-agent")
	assert.Equal(t, []string{"open-agent"}, b.GetOpenCircuits())
	assert.Empty(t, b.GetHalfOpenCircuits())

	fastTimeout := New(Config{FailureThreshold: 0.1, MinimumRequests: 1, SuccessThreshold: 1, Timeout: 30 * time.Millisecond}, nil)
	fastTimeout.RecordFailure("half-open-agent")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"half-open-agent"}, fastTimeout.GetHalfOpenCircuits())
	assert.Empty(t, fastTimeout.GetOpenCircuits())
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	assert.Panics(t, func() {
		New(Config{FailureThreshold: 2, MinimumRequests: 1, SuccessThreshold: 1, Timeout: time.Second}, nil)
	})
}
