// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package eventbridge

import (
	"testing"

	"github.com/open-swarm/agentcore/pkg/queue"
	"github.com/open-swarm/agentcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	events []Event
}

func (r *recordingPublisher) Publish(event Event) { r.events = append(r.events, event) }

func TestDispatchEnqueuesAndPublishes(t *testing.T) {
	q := queue.New(queue.Config{}, nil)
	pub := &recordingPublisher{}
	b := New(q, pub, nil)

	b.RegisterMapping("order.placed", func(payload map[string]any) (Extracted, error) {
		return Extracted{TaskName: "process-order", Payload: payload["order_id"], Priority: types.PriorityHigh}, nil
	})

	taskID, err := b.Dispatch(Event{Type: "order.placed", Data: map[string]any{"order_id": "o-1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := q.Get(taskID)
	require.NoError(t, err)
	assert.Equal(t, "process-order", task.Name)
	assert.Equal(t, types.PriorityHigh, task.Priority)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "task.created", pub.events[0].Type)
	assert.Equal(t, taskID, pub.events[0].Data["task_id"])
}

func TestDispatchUnknownEventTypeErrors(t *testing.T) {
	b := New(queue.New(queue.Config{}, nil), nil, nil)
	_, err := b.Dispatch(Event{Type: "unmapped"})
	assert.Error(t, err)
}

func TestDispatchRejectsEmptyTaskName(t *testing.T) {
	b := New(queue.New(queue.Config{}, nil), nil, nil)
	b.RegisterMapping("x", func(payload map[string]any) (Extracted, error) { return Extracted{}, nil })
	_, err := b.Dispatch(Event{Type: "x"})
	assert.Error(t, err)
}

func TestDispatchWithoutPublisherStillEnqueues(t *testing.T) {
	q := queue.New(queue.Config{}, nil)
	b := New(q, nil, nil)
	b.RegisterMapping("x", func(payload map[string]any) (Extracted, error) {
		return Extracted{TaskName: "t", Priority: types.PriorityNormal}, nil
	})
	taskID, err := b.Dispatch(Event{Type: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
}

func TestDispatchMatchesTrailingWildcardPrefix(t *testing.T) {
	q := queue.New(queue.Config{}, nil)
	b := New(q, nil, nil)
	b.RegisterMapping("orchestration.task.*", func(payload map[string]any) (Extracted, error) {
		return Extracted{TaskName: "handle-trigger", Priority: types.PriorityNormal}, nil
	})

	taskID, err := b.Dispatch(Event{Type: "orchestration.task.trigger"})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
}

func TestDispatchMatchesBareWildcardAgainstAnyType(t *testing.T) {
	q := queue.New(queue.Config{}, nil)
	b := New(q, nil, nil)
	b.RegisterMapping("*", func(payload map[string]any) (Extracted, error) {
		return Extracted{TaskName: "catch-all", Priority: types.PriorityNormal}, nil
	})

	taskID, err := b.Dispatch(Event{Type: "anything.goes"})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
}

func TestDispatchPrefersEarlierRegisteredMapping(t *testing.T) {
	q := queue.New(queue.Config{}, nil)
	b := New(q, nil, nil)
	b.RegisterMapping("order.*", func(payload map[string]any) (Extracted, error) {
		return Extracted{TaskName: "generic-order", Priority: types.PriorityNormal}, nil
	})
	b.RegisterMapping("order.placed", func(payload map[string]any) (Extracted, error) {
		return Extracted{TaskName: "process-order", Priority: types.PriorityHigh}, nil
	})

	taskID, err := b.Dispatch(Event{Type: "order.placed"})
	require.NoError(t, err)

	task, err := q.Get(taskID)
	require.NoError(t, err)
	assert.Equal(t, "generic-order", task.Name, "first-registered matching pattern should win")
}
