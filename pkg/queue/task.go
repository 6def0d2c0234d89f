// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package queue implements the priority task queue (C1): an ordered,
// bounded store of runnable work with full lifecycle tracking.
package queue

import (
	"time"

	"github.com/open-swarm/agentcore/pkg/types"
)

// Handler runs a task's payload and returns a result or an error.
// Handlers are dispatched by name (Task.HandlerName) through the worker
// pool's handler table (workerpool.Pool.RegisterHandler) so that a task
// record itself stays a plain, serializable value.
type Handler func(payload any) (result any, err error)

// Task is the unit of work tracked by the queue. Field semantics match
// spec.md §3: CompletedAt is set iff the state is terminal; StartedAt
// is set iff the task ever reached running.
type Task struct {
	ID          string
	Name        string
	Priority    types.Priority
	State       types.TaskState
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Payload     any
	HandlerName string
	Result      any
	Err         error
	RetryCount  int
	MaxRetries  int
	Timeout     time.Duration
	WorkflowID  string
	ParentID    string
	Deps        map[string]struct{}
	Tags        types.Tags
	AgentID     string
}

// Duration returns the task's running time. The second return value
// is false unless both StartedAt and CompletedAt are set.
func (t *Task) Duration() (time.Duration, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.StartedAt), true
}

// Clone returns a value copy safe to hand to callers outside the
// queue's lock.
func (t *Task) Clone() *Task {
	cp := *t
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		tc := *t.CompletedAt
		cp.CompletedAt = &tc
	}
	if t.Deps != nil {
		cp.Deps = make(map[string]struct{}, len(t.Deps))
		for k := range t.Deps {
			cp.Deps[k] = struct{}{}
		}
	}
	cp.Tags = t.Tags.Clone()
	return &cp
}
