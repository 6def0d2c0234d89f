// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package shellhandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRunsCommand(t *testing.T) {
	h := Handler()
	result, err := h(Payload{Command: "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result)
}

func TestHandlerRejectsWrongPayloadType(t *testing.T) {
	h := Handler()
	_, err := h("not-a-payload")
	assert.Error(t, err)
}

func TestHandlerRejectsEmptyCommand(t *testing.T) {
	h := Handler()
	_, err := h(Payload{})
	assert.Error(t, err)
}
