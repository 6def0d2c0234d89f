// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package shellhandler provides a queue.Handler that runs a task's
// payload as a shell command via github.com/bitfield/script, the same
// library the teacher's DAG shell activities use.
package shellhandler

import (
	"fmt"

	"github.com/bitfield/script"
	"github.com/open-swarm/agentcore/pkg/queue"
)

// Payload is the expected shape of a shell task's Task.Payload.
type Payload struct {
	Command string
}

// Handler returns a queue.Handler that executes payload.Command and
// returns its combined stdout as the task result.
func Handler() queue.Handler {
	return func(payload any) (any, error) {
		p, ok := payload.(Payload)
		if !ok {
			return nil, fmt.Errorf("shellhandler: payload must be shellhandler.Payload, got %T", payload)
		}
		if p.Command == "" {
			return nil, fmt.Errorf("shellhandler: command must not be empty")
		}

		output, err := script.Exec(p.Command).String()
		if err != nil {
			return output, fmt.Errorf("shellhandler: command failed: %w", err)
		}
		return output, nil
	}
}
