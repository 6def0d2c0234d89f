// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package eventbridge adapts external events into task-queue
// submissions and emits lifecycle events, per spec.md §6's
// event_to_task mapping.
package eventbridge

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-swarm/agentcore/pkg/queue"
	"github.com/open-swarm/agentcore/pkg/types"
)

// Event is a generic, published lifecycle or trigger event.
type Event struct {
	Type string
	Data map[string]any
}

// Extracted is what an Extractor pulls out of a trigger event.
type Extracted struct {
	TaskName        string
	Payload         any
	Priority        types.Priority
	WorkflowID      string
	TimeoutSeconds  float64
}

// Extractor derives task submission parameters from a trigger event's payload.
type Extractor func(payload map[string]any) (Extracted, error)

// Publisher delivers bridge-emitted lifecycle events (task.created, etc).
// Implementations may fan out to a real bus; a nil Publisher disables publishing.
type Publisher interface {
	Publish(event Event)
}

// mapping pairs a registered event-type pattern with its Extractor.
type mapping struct {
	pattern string
	extract Extractor
}

// Bridge maps event-type patterns to Extractors and submits matching
// events to a Queue. Mappings are matched in registration order.
type Bridge struct {
	mu        sync.RWMutex
	mappings  []mapping
	queue     *queue.Queue
	publisher Publisher
	logger    *slog.Logger
}

// New constructs a Bridge bound to q. publisher may be nil.
func New(q *queue.Queue, publisher Publisher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		queue:     q,
		publisher: publisher,
		logger:    logger,
	}
}

// RegisterMapping binds an event-type pattern to an Extractor. A
// pattern matches exactly, as "*" matching everything, or as a
// trailing-"*" prefix (e.g. "orchestration.task.*" matches
// "orchestration.task.trigger"), mirroring the original event
// adapter's _find_mapping. Patterns are tried in registration order;
// the first match wins.
func (b *Bridge) RegisterMapping(pattern string, extract Extractor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mappings = append(b.mappings, mapping{pattern: pattern, extract: extract})
}

// findMapping returns the first registered mapping whose pattern
// matches eventType, or nil. Caller must hold at least a read lock.
func (b *Bridge) findMapping(eventType string) *mapping {
	for i := range b.mappings {
		m := &b.mappings[i]
		if m.pattern == "*" || m.pattern == eventType {
			return m
		}
		if prefix, ok := strings.CutSuffix(m.pattern, "*"); ok && strings.HasPrefix(eventType, prefix) {
			return m
		}
	}
	return nil
}

// Dispatch translates event into a task submission via the mapping
// registered for event.Type, enqueues it, and publishes task.created.
func (b *Bridge) Dispatch(event Event) (string, error) {
	b.mu.RLock()
	m := b.findMapping(event.Type)
	b.mu.RUnlock()
	if m == nil {
		return "", fmt.Errorf("eventbridge: no mapping registered for event type %q", event.Type)
	}
	extract := m.extract

	extracted, err := extract(event.Data)
	if err != nil {
		return "", fmt.Errorf("eventbridge: extraction failed for %q: %w", event.Type, err)
	}
	if extracted.TaskName == "" {
		return "", fmt.Errorf("eventbridge: extractor for %q produced an empty task_name", event.Type)
	}

	opts := []queue.EnqueueOption{}
	if extracted.WorkflowID != "" {
		opts = append(opts, queue.WithWorkflowID(extracted.WorkflowID))
	}
	if extracted.TimeoutSeconds > 0 {
		opts = append(opts, queue.WithTimeout(time.Duration(extracted.TimeoutSeconds*float64(time.Second))))
	}

	priority := extracted.Priority
	taskID, err := b.queue.Enqueue(extracted.TaskName, extracted.Payload, priority, opts...)
	if err != nil {
		return "", err
	}

	correlationID, _ := event.Data["correlation_id"].(string)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	b.publish(Event{
		Type: "task.created",
		Data: map[string]any{
			"task_id":          taskID,
			"name":             extracted.TaskName,
			"priority":         priority.String(),
			"workflow_id":      extracted.WorkflowID,
			"trigger_event_id": correlationID,
			"created_at":       time.Now(),
		},
	})

	b.logger.Info("event dispatched to task queue", "event_type", event.Type, "task_id", taskID)
	return taskID, nil
}

func (b *Bridge) publish(event Event) {
	if b.publisher == nil {
		return
	}
	b.publisher.Publish(event)
}
