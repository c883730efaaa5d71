package store

import (
	"context"
	"time"

	"github.com/vantori/flowgate/pkg/schema"
)

// Store defines the persistence layer contract. Every read and write is
// scoped to an org; no query may cross org boundaries. All
// implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, orgID, id string) (*Workflow, error)
	GetWorkflowByKey(ctx context.Context, orgID, key string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, orgID, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, orgID string, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, orgID, id string) error

	// ListDueScheduledWorkflows returns enabled SCHEDULE workflows
	// across all orgs whose next_run_at is unset or has passed.
	ListDueScheduledWorkflows(ctx context.Context, now time.Time) ([]*Workflow, error)

	// Workflow runs
	CreateRun(ctx context.Context, run *WorkflowRun) error
	GetRun(ctx context.Context, orgID, id string) (*WorkflowRun, error)
	UpdateRun(ctx context.Context, orgID, id string, update RunUpdate) error
	ListRuns(ctx context.Context, orgID string, filter RunFilter) ([]*WorkflowRun, error)
	CountRunsSince(ctx context.Context, orgID string, since time.Time) (int, error)
	IncrementLoopGuardHits(ctx context.Context, orgID, id string) error

	// Action runs. CreateActionRun returns a CONFLICT error when the
	// org-scoped idempotency key already exists.
	CreateActionRun(ctx context.Context, ar *ActionRun) error
	GetActionRun(ctx context.Context, orgID, id string) (*ActionRun, error)
	GetActionRunByIdempotencyKey(ctx context.Context, orgID, key string) (*ActionRun, error)
	UpdateActionRun(ctx context.Context, orgID, id string, update ActionRunUpdate) error

	// ClaimActionRun atomically moves a queued action run to running.
	// Returns false when the row is no longer queued, so concurrent
	// dispatchers cannot both execute the same action run.
	ClaimActionRun(ctx context.Context, orgID, id string) (bool, error)
	ListActionRuns(ctx context.Context, orgID string, filter ActionRunFilter) ([]*ActionRun, error)

	// Approvals. DecideApproval only moves pending rows; deciding an
	// already-decided approval returns a CONFLICT error.
	CreateApproval(ctx context.Context, ap *Approval) error
	GetApproval(ctx context.Context, orgID, id string) (*Approval, error)
	DecideApproval(ctx context.Context, orgID, id string, status schema.ApprovalStatus, decidedBy, notes string) error
	ListApprovals(ctx context.Context, orgID string, filter ApprovalFilter) ([]*Approval, error)

	// Connector health
	GetConnectorHealth(ctx context.Context, orgID, provider, accountRef string) (*ConnectorHealth, error)
	RecordConnectorSuccess(ctx context.Context, orgID, provider, accountRef string) error
	RecordConnectorFailure(ctx context.Context, orgID, provider, accountRef string, failure ConnectorFailure) error
	MarkReauthRequired(ctx context.Context, orgID, provider, accountRef string) error

	// Domain events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, orgID, id string) (*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
