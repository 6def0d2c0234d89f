// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunnerBuildsClientFromEnv(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)
	require.NotNil(t, r)
	defer r.Close()
}

func TestHandlerRejectsWrongPayloadType(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Handler()("not a sandbox.Payload")
	assert.ErrorContains(t, err, "payload must be sandbox.Payload")
}

func TestHandlerRejectsEmptyImage(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Handler()(Payload{Command: []string{"echo", "hi"}})
	assert.ErrorContains(t, err, "image must not be empty")
}

func TestCloseIsSafeOnZeroValue(t *testing.T) {
	var r Runner
	assert.NoError(t, r.Close())
}
