package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantori/flowgate/pkg/schema"
)

func TestRunTransitions(t *testing.T) {
	allowed := []struct{ from, to schema.RunStatus }{
		{schema.RunStatusQueued, schema.RunStatusRunning},
		{schema.RunStatusRunning, schema.RunStatusApprovalPending},
		{schema.RunStatusApprovalPending, schema.RunStatusRunning},
		{schema.RunStatusRunning, schema.RunStatusSucceeded},
		{schema.RunStatusApprovalPending, schema.RunStatusBlocked},
	}
	for _, tc := range allowed {
		assert.NoError(t, ValidateRunTransition("run-1", tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to schema.RunStatus }{
		{schema.RunStatusSucceeded, schema.RunStatusRunning},
		{schema.RunStatusFailed, schema.RunStatusQueued},
		{schema.RunStatusQueued, schema.RunStatusSucceeded},
		{schema.RunStatusBlocked, schema.RunStatusRunning},
	}
	for _, tc := range denied {
		err := ValidateRunTransition("run-1", tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
	}
}

func TestActionRunTransitions(t *testing.T) {
	// Approval resumes to queued; rejection blocks.
	assert.NoError(t, ValidateActionRunTransition("ar-1", schema.ActionRunApprovalPending, schema.ActionRunQueued))
	assert.NoError(t, ValidateActionRunTransition("ar-1", schema.ActionRunApprovalPending, schema.ActionRunBlocked))
	assert.NoError(t, ValidateActionRunTransition("ar-1", schema.ActionRunQueued, schema.ActionRunRunning))
	assert.NoError(t, ValidateActionRunTransition("ar-1", schema.ActionRunRunning, schema.ActionRunSucceeded))

	// Terminal states admit nothing.
	for _, terminal := range []schema.ActionRunStatus{
		schema.ActionRunSucceeded, schema.ActionRunFailed, schema.ActionRunBlocked,
		schema.ActionRunSkipped, schema.ActionRunCanceled,
	} {
		err := ValidateActionRunTransition("ar-1", terminal, schema.ActionRunRunning)
		require.Error(t, err, "from %s", terminal)
		assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
	}

	// Execution may not skip the running state.
	assert.Error(t, ValidateActionRunTransition("ar-1", schema.ActionRunQueued, schema.ActionRunSucceeded))
}
