// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/open-swarm/agentcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRejectsEmptyName(t *testing.T) {
	q := New(Config{}, nil)
	_, err := q.Enqueue("", nil, types.PriorityNormal)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestEnqueueRejectsOverCapacity(t *testing.T) {
	q := New(Config{MaxCapacity: 1}, nil)
	_, err := q.Enqueue("a", nil, types.PriorityNormal)
	require.NoError(t, err)

	_, err = q.Enqueue("b", nil, types.PriorityNormal)
	var full *ErrQueueFull
	assert.ErrorAs(t, err, &full)
}

// TestPriorityOrdering is scenario S2 from spec.md §8.
func TestPriorityOrdering(t *testing.T) {
	q := New(Config{}, nil)

	_, err := q.Enqueue("low-task", nil, types.PriorityLow)
	require.NoError(t, err)
	_, err = q.Enqueue("high-task", nil, types.PriorityHigh)
	require.NoError(t, err)
	_, err = q.Enqueue("critical-task", nil, types.PriorityCritical)
	require.NoError(t, err)
	_, err = q.Enqueue("normal-task", nil, types.PriorityNormal)
	require.NoError(t, err)

	var order []string
	for i := 0; i < 4; i++ {
		task, err := q.Dequeue(time.Second)
		require.NoError(t, err)
		require.NotNil(t, task)
		order = append(order, task.Name)
	}

	assert.Equal(t, []string{"critical-task", "high-task", "normal-task", "low-task"}, order)
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New(Config{}, nil)
	first, err := q.Enqueue("first", nil, types.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue("second", nil, types.PriorityNormal)
	require.NoError(t, err)

	task, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	assert.Equal(t, first, task.ID)
}

func TestDequeueRespectsMaxRunning(t *testing.T) {
	q := New(Config{MaxRunning: 1}, nil)
	_, err := q.Enqueue("a", nil, types.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue("b", nil, types.PriorityNormal)
	require.NoError(t, err)

	first, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := q.Dequeue(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, second, "dequeue must block/return nil while running cap is met")

	require.NoError(t, q.Complete(first.ID, "done"))

	third, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	require.NotNil(t, third)
}

func TestDequeueTimeoutOnEmptyQueue(t *testing.T) {
	q := New(Config{}, nil)
	start := time.Now()
	task, err := q.Dequeue(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestCompleteUnknownTask(t *testing.T) {
	q := New(Config{}, nil)
	err := q.Complete("missing", nil)
	var notFound *ErrTaskNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestTimeoutMarksTaskTimeoutDistinctFromFailed(t *testing.T) {
	q := New(Config{}, nil)
	id, err := q.Enqueue("a", nil, types.PriorityNormal)
	require.NoError(t, err)

	task, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Timeout(task.ID, errors.New("exceeded max_execution_time")))

	got, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskTimeout, got.State)
	assert.True(t, got.State.IsTerminal())
	assert.NotEqual(t, types.TaskFailed, got.State)
}

func TestCancelTerminalIsNoop(t *testing.T) {
	q := New(Config{}, nil)
	id, err := q.Enqueue("a", nil, types.PriorityNormal)
	require.NoError(t, err)

	task, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Complete(task.ID, nil))

	ok, err := q.Cancel(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelPendingAndRunning(t *testing.T) {
	q := New(Config{}, nil)
	pendingID, err := q.Enqueue("pending", nil, types.PriorityNormal)
	require.NoError(t, err)

	ok, err := q.Cancel(pendingID)
	require.NoError(t, err)
	assert.True(t, ok)

	runningID, err := q.Enqueue("running", nil, types.PriorityNormal)
	require.NoError(t, err)
	task, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	require.Equal(t, runningID, task.ID)

	ok, err = q.Cancel(runningID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStatisticsCountsAndEMA(t *testing.T) {
	q := New(Config{}, nil)
	id, err := q.Enqueue("a", nil, types.PriorityHigh)
	require.NoError(t, err)
	task, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	require.Equal(t, id, task.ID)
	require.NoError(t, q.Complete(id, "ok"))

	stats := q.Statistics()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.CountByState[types.TaskCompleted])
	assert.Equal(t, 1, stats.CountByPriority[types.PriorityHigh])
	assert.GreaterOrEqual(t, stats.AvgDurationSeconds, 0.0)
}

func TestListByWorkflow(t *testing.T) {
	q := New(Config{}, nil)
	_, err := q.Enqueue("a", nil, types.PriorityNormal, WithWorkflowID("wf-1"))
	require.NoError(t, err)
	_, err = q.Enqueue("b", nil, types.PriorityNormal, WithWorkflowID("wf-2"))
	require.NoError(t, err)

	tasks := q.ListByWorkflow("wf-1")
	require.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].Name)
}

func TestClear(t *testing.T) {
	q := New(Config{}, nil)
	_, err := q.Enqueue("a", nil, types.PriorityNormal)
	require.NoError(t, err)
	q.Clear()
	assert.Equal(t, 0, q.Statistics().Total)
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	q := New(Config{}, nil)
	const n = 200

	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := 0
		for seen < n {
			task, err := q.Dequeue(2 * time.Second)
			require.NoError(t, err)
			if task == nil {
				continue
			}
			require.NoError(t, q.Complete(task.ID, nil))
			seen++
		}
	}()

	for i := 0; i < n; i++ {
		_, err := q.Enqueue("t", i, types.PriorityNormal)
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out draining queue")
	}
}
