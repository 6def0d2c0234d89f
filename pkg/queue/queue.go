// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package queue

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-swarm/agentcore/pkg/types"
)

// Config bounds a Queue's capacity and in-flight concurrency, the two
// knobs spec.md §6 enumerates for C1.
type Config struct {
	MaxCapacity int // 0 means unbounded
	MaxRunning  int // 0 means unbounded
}

// Statistics summarizes queue contents. CountByState and CountByPriority
// are computed together (original_source's TaskStatistics carries both
// breakdowns at once); AvgDurationSeconds is an EMA over completed
// task durations with alpha=0.3.
type Statistics struct {
	CountByState    map[types.TaskState]int
	CountByPriority map[types.Priority]int
	Total           int
	AvgDurationSeconds float64
}

// EnqueueOption customizes a submitted task beyond name/payload/priority.
type EnqueueOption func(*Task)

func WithMaxRetries(n int) EnqueueOption { return func(t *Task) { t.MaxRetries = n } }
func WithTimeout(d time.Duration) EnqueueOption { return func(t *Task) { t.Timeout = d } }
func WithWorkflowID(id string) EnqueueOption { return func(t *Task) { t.WorkflowID = id } }
func WithParentID(id string) EnqueueOption { return func(t *Task) { t.ParentID = id } }
func WithHandlerName(name string) EnqueueOption { return func(t *Task) { t.HandlerName = name } }
func WithAgentID(id string) EnqueueOption { return func(t *Task) { t.AgentID = id } }
func WithTags(tags types.Tags) EnqueueOption { return func(t *Task) { t.Tags = tags.Clone() } }
func WithDependencies(ids ...string) EnqueueOption {
	return func(t *Task) {
		t.Deps = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			t.Deps[id] = struct{}{}
		}
	}
}

// Queue is a priority-ordered, bounded store of Task records. All
// mutating operations are safe under concurrent callers; a single
// mutex protects the heap, the id→task map, and the running count, as
// spec.md §4.1's concurrency contract requires.
type Queue struct {
	mu         sync.Mutex
	cfg        Config
	heap       priorityHeap
	tasks      map[string]*Task
	running    int
	seq        uint64
	waitCh     chan struct{}
	emaAlpha   float64
	avgDurSec  float64
	haveAvgDur bool

	logger *slog.Logger
}

// New creates an empty Queue bounded by cfg.
func New(cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:      cfg,
		tasks:    make(map[string]*Task),
		waitCh:   make(chan struct{}),
		emaAlpha: 0.3,
		logger:   logger,
	}
}

// wake broadcasts to every blocked Dequeue caller. Must be called with mu held.
func (q *Queue) wake() {
	close(q.waitCh)
	q.waitCh = make(chan struct{})
}

// Enqueue inserts a new pending task and returns its id.
func (q *Queue) Enqueue(name string, payload any, priority types.Priority, opts ...EnqueueOption) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxCapacity > 0 && len(q.tasks) >= q.cfg.MaxCapacity {
		return "", &ErrQueueFull{Capacity: q.cfg.MaxCapacity}
	}

	task := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Priority:  priority,
		State:     types.TaskPending,
		CreatedAt: time.Now(),
		Payload:   payload,
	}
	for _, opt := range opts {
		opt(task)
	}

	q.tasks[task.ID] = task
	q.seq++
	heap.Push(&q.heap, &entry{
		id:        task.ID,
		priority:  int(task.Priority),
		createdAt: task.CreatedAt.UnixNano(),
		seq:       q.seq,
	})
	q.wake()

	q.logger.Info("task enqueued", "task_id", task.ID, "name", name, "priority", priority.String())
	return task.ID, nil
}

// Dequeue pops the highest-priority oldest-pending task and marks it
// running. It blocks until work is available and the running cap has
// headroom, or timeout elapses (nil, nil is returned on timeout).
// A zero timeout waits forever.
func (q *Queue) Dequeue(timeout time.Duration) (*Task, error) {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		q.mu.Lock()
		if task, ok := q.tryDequeueLocked(); ok {
			q.mu.Unlock()
			return task, nil
		}
		ch := q.waitCh
		q.mu.Unlock()

		if !hasDeadline {
			<-ch
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

// tryDequeueLocked pops and promotes a runnable task if one exists and
// the running cap allows it. Caller must hold mu.
func (q *Queue) tryDequeueLocked() (*Task, bool) {
	if q.cfg.MaxRunning > 0 && q.running >= q.cfg.MaxRunning {
		return nil, false
	}
	if q.heap.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&q.heap).(*entry)
	task, ok := q.tasks[e.id]
	if !ok || task.State != types.TaskPending {
		// Stale entry (task was cancelled/removed); keep draining.
		return q.tryDequeueLocked()
	}
	now := time.Now()
	task.State = types.TaskRunning
	task.StartedAt = &now
	q.running++
	q.logger.Info("task dequeued", "task_id", task.ID, "name", task.Name)
	return task.Clone(), true
}

// Complete marks a running task completed with an optional result.
func (q *Queue) Complete(id string, result any) error {
	return q.finish(id, types.TaskCompleted, result, nil)
}

// Fail marks a running task failed with the given error.
func (q *Queue) Fail(id string, taskErr error) error {
	return q.finish(id, types.TaskFailed, nil, taskErr)
}

// Timeout marks a running task as timed out, distinct from Fail per
// spec.md §4.5: a handler that exceeds max_execution_time enters
// TaskTimeout rather than TaskFailed.
func (q *Queue) Timeout(id string, taskErr error) error {
	return q.finish(id, types.TaskTimeout, nil, taskErr)
}

func (q *Queue) finish(id string, state types.TaskState, result any, taskErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return &ErrTaskNotFound{ID: id}
	}
	if task.State != types.TaskRunning {
		return &ErrTaskNotFound{ID: id}
	}

	now := time.Now()
	task.State = state
	task.CompletedAt = &now
	task.Result = result
	task.Err = taskErr
	q.running--
	if state == types.TaskCompleted {
		q.recordDuration(task)
	}
	q.wake()

	q.logger.Info("task finished", "task_id", id, "state", string(state))
	return nil
}

// recordDuration updates the EMA of completed-task duration. Caller holds mu.
func (q *Queue) recordDuration(task *Task) {
	d, ok := task.Duration()
	if !ok {
		return
	}
	seconds := d.Seconds()
	if !q.haveAvgDur {
		q.avgDurSec = seconds
		q.haveAvgDur = true
		return
	}
	q.avgDurSec = q.emaAlpha*seconds + (1-q.emaAlpha)*q.avgDurSec
}

// Cancel cancels a pending or running task. It is a no-op (returns
// false, nil) on tasks already in a terminal state.
func (q *Queue) Cancel(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return false, &ErrTaskNotFound{ID: id}
	}
	if task.State.IsTerminal() {
		return false, nil
	}
	wasRunning := task.State == types.TaskRunning
	now := time.Now()
	task.State = types.TaskCancelled
	task.CompletedAt = &now
	if wasRunning {
		q.running--
	}
	q.wake()
	q.logger.Info("task cancelled", "task_id", id)
	return true, nil
}

// Get returns a copy of the task record, or ErrTaskNotFound.
func (q *Queue) Get(id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return nil, &ErrTaskNotFound{ID: id}
	}
	return task.Clone(), nil
}

// ListByWorkflow returns all tasks (in any state) sharing a workflow id.
func (q *Queue) ListByWorkflow(workflowID string) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0)
	for _, t := range q.tasks {
		if t.WorkflowID == workflowID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Statistics returns a point-in-time summary. It scans every retained
// task record, so its cost is linear in the number of records; records
// are dropped only by Clear.
func (q *Queue) Statistics() Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Statistics{
		CountByState:    make(map[types.TaskState]int),
		CountByPriority: make(map[types.Priority]int),
		Total:           len(q.tasks),
	}
	for _, t := range q.tasks {
		stats.CountByState[t.State]++
		stats.CountByPriority[t.Priority]++
	}
	stats.AvgDurationSeconds = q.avgDurSec
	return stats
}

// Clear empties the queue entirely, discarding all task records.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = nil
	q.tasks = make(map[string]*Task)
	q.running = 0
	q.haveAvgDur = false
	q.avgDurSec = 0
	q.wake()
}
