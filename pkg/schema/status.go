package schema

// RunStatus is the lifecycle state of a WorkflowRun.
type RunStatus string

const (
	RunStatusQueued          RunStatus = "queued"
	RunStatusRunning         RunStatus = "running"
	RunStatusSucceeded       RunStatus = "succeeded"
	RunStatusFailed          RunStatus = "failed"
	RunStatusBlocked         RunStatus = "blocked"
	RunStatusApprovalPending RunStatus = "approval_pending"
	RunStatusSkipped         RunStatus = "skipped"
)

// Terminal reports whether the run can no longer change state through
// normal execution.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusBlocked, RunStatusSkipped:
		return true
	}
	return false
}

// ActionRunStatus is the lifecycle state of a single ActionRun.
type ActionRunStatus string

const (
	ActionRunQueued          ActionRunStatus = "queued"
	ActionRunRunning         ActionRunStatus = "running"
	ActionRunSucceeded       ActionRunStatus = "succeeded"
	ActionRunFailed          ActionRunStatus = "failed"
	ActionRunBlocked         ActionRunStatus = "blocked"
	ActionRunApprovalPending ActionRunStatus = "approval_pending"
	ActionRunSkipped         ActionRunStatus = "skipped"
	ActionRunCanceled        ActionRunStatus = "canceled"
)

// Terminal reports whether the action run can no longer change state
// through normal execution.
func (s ActionRunStatus) Terminal() bool {
	switch s {
	case ActionRunSucceeded, ActionRunFailed, ActionRunBlocked, ActionRunSkipped, ActionRunCanceled:
		return true
	}
	return false
}

// ApprovalEntityType identifies what kind of entity an approval gates.
type ApprovalEntityType string

const (
	ApprovalEntityWorkflowActionRun ApprovalEntityType = "workflow_action_run"
	ApprovalEntityContentItem       ApprovalEntityType = "content_item"
	ApprovalEntityPublishJob        ApprovalEntityType = "publish_job"
)

// ApprovalStatus is the decision state of an Approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)
