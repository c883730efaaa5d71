package engine

import "github.com/vantori/flowgate/pkg/schema"

// validRunTransitions defines the allowed state transitions for
// workflow runs. approval_pending is an interruption state entered when
// any action run in the run is gated.
var validRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusQueued:          {schema.RunStatusRunning, schema.RunStatusSkipped},
	schema.RunStatusRunning:         {schema.RunStatusSucceeded, schema.RunStatusFailed, schema.RunStatusBlocked, schema.RunStatusSkipped, schema.RunStatusApprovalPending},
	schema.RunStatusApprovalPending: {schema.RunStatusRunning, schema.RunStatusSucceeded, schema.RunStatusFailed, schema.RunStatusBlocked},
	schema.RunStatusSucceeded:       {},
	schema.RunStatusFailed:          {},
	schema.RunStatusBlocked:         {},
	schema.RunStatusSkipped:         {},
}

// validActionRunTransitions defines the allowed state transitions for
// action runs. Approval resumes a gated action run back to queued; a
// rejection moves it to blocked, which is terminal.
var validActionRunTransitions = map[schema.ActionRunStatus][]schema.ActionRunStatus{
	schema.ActionRunQueued:          {schema.ActionRunRunning, schema.ActionRunApprovalPending, schema.ActionRunSkipped, schema.ActionRunCanceled},
	schema.ActionRunRunning:         {schema.ActionRunSucceeded, schema.ActionRunFailed, schema.ActionRunBlocked, schema.ActionRunSkipped},
	schema.ActionRunApprovalPending: {schema.ActionRunQueued, schema.ActionRunBlocked, schema.ActionRunCanceled},
	schema.ActionRunSucceeded:       {},
	schema.ActionRunFailed:          {},
	schema.ActionRunBlocked:         {},
	schema.ActionRunSkipped:         {},
	schema.ActionRunCanceled:        {},
}

// ValidateRunTransition returns an error when a run may not move from
// one status to another.
func ValidateRunTransition(runID string, from, to schema.RunStatus) error {
	for _, allowed := range validRunTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid run transition: %s -> %s", from, to).
		WithDetails(map[string]any{"workflow_run_id": runID, "from": string(from), "to": string(to)})
}

// ValidateActionRunTransition returns an error when an action run may
// not move from one status to another.
func ValidateActionRunTransition(actionRunID string, from, to schema.ActionRunStatus) error {
	for _, allowed := range validActionRunTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid action run transition: %s -> %s", from, to).
		WithDetails(map[string]any{"action_run_id": actionRunID, "from": string(from), "to": string(to)})
}
