package store

import (
	"encoding/json"
	"time"

	"github.com/vantori/flowgate/pkg/schema"
)

// Workflow is the persisted representation of a workflow definition.
// Definition holds the raw document; it is re-validated before every
// evaluation.
type Workflow struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"org_id"`
	Key           string          `json:"key"`
	Name          string          `json:"name"`
	Enabled       bool            `json:"enabled"`
	TriggerType   schema.TriggerType `json:"trigger_type"`
	Definition    json.RawMessage `json:"definition_json"`
	ManagedByPack bool            `json:"managed_by_pack"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WorkflowRun is one execution of a workflow triggered by an event.
type WorkflowRun struct {
	ID             string           `json:"id"`
	OrgID          string           `json:"org_id"`
	WorkflowID     string           `json:"workflow_id"`
	TriggerEventID string           `json:"trigger_event_id"`
	Status         schema.RunStatus `json:"status"`
	LoopGuardHits  int              `json:"loop_guard_hits"`
	Summary        json.RawMessage  `json:"summary_json,omitempty"`
	Error          json.RawMessage  `json:"error_json,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ActionRun is one action within a workflow run. IdempotencyKey is
// unique per org; the constraint guarantees at-most-once terminal
// execution under concurrent dispatch.
type ActionRun struct {
	ID             string                 `json:"id"`
	OrgID          string                 `json:"org_id"`
	WorkflowRunID  string                 `json:"workflow_run_id"`
	ActionType     schema.ActionType      `json:"action_type"`
	Status         schema.ActionRunStatus `json:"status"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Input          json.RawMessage        `json:"input_json,omitempty"`
	Output         json.RawMessage        `json:"output_json,omitempty"`
	Error          json.RawMessage        `json:"error_json,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Approval is a pending or decided human gate on an entity.
type Approval struct {
	ID          string                    `json:"id"`
	OrgID       string                    `json:"org_id"`
	EntityType  schema.ApprovalEntityType `json:"entity_type"`
	EntityID    string                    `json:"entity_id"`
	Status      schema.ApprovalStatus     `json:"status"`
	RequestedBy string                    `json:"requested_by"`
	DecidedBy   string                    `json:"decided_by,omitempty"`
	DecidedAt   *time.Time                `json:"decided_at,omitempty"`
	Notes       string                    `json:"notes,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// ConnectorHealth tracks the failure state of one external connector
// account. One row per (org, provider, account_ref); mutated only by
// the connector adapter.
type ConnectorHealth struct {
	OrgID                 string     `json:"org_id"`
	Provider              string     `json:"provider"`
	AccountRef            string     `json:"account_ref"`
	LastOKAt              *time.Time `json:"last_ok_at,omitempty"`
	LastErrorAt           *time.Time `json:"last_error_at,omitempty"`
	LastErrorMsg          string     `json:"last_error_msg,omitempty"`
	LastHTTPStatus        *int       `json:"last_http_status,omitempty"`
	LastProviderErrorCode string     `json:"last_provider_error_code,omitempty"`
	LastRateLimitResetAt  *time.Time `json:"last_rate_limit_reset_at,omitempty"`
	ReauthRequired        bool       `json:"reauth_required"`
	ConsecutiveFailures   int        `json:"consecutive_failures"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Event is a persisted domain event. The payload optionally carries
// workflow_origin{workflow_run_id, depth} consumed by the loop guard.
type Event struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Source    string         `json:"source"`
	Channel   string         `json:"channel"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload_json,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Enabled     *bool
	TriggerType *schema.TriggerType
	Limit       int
	Offset      int
}

// WorkflowUpdate specifies mutable fields of a workflow.
type WorkflowUpdate struct {
	Name       *string
	Enabled    *bool
	Definition json.RawMessage
	TriggerType *schema.TriggerType
	NextRunAt  *time.Time
}

// RunFilter specifies criteria for listing workflow runs.
type RunFilter struct {
	WorkflowID string
	Status     *schema.RunStatus
	Limit      int
	Offset     int
}

// RunUpdate specifies mutable fields of a workflow run.
type RunUpdate struct {
	Status     *schema.RunStatus
	Summary    json.RawMessage
	Error      json.RawMessage
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// ActionRunFilter specifies criteria for listing action runs.
type ActionRunFilter struct {
	WorkflowRunID string
	Status        *schema.ActionRunStatus
	Limit         int
	Offset        int
}

// ActionRunUpdate specifies mutable fields of an action run.
type ActionRunUpdate struct {
	Status *schema.ActionRunStatus
	Output json.RawMessage
	Error  json.RawMessage
}

// ApprovalFilter specifies criteria for listing approvals.
type ApprovalFilter struct {
	Status *schema.ApprovalStatus
	Limit  int
	Offset int
}

// ConnectorFailure captures the diagnostic fields recorded alongside a
// connector failure.
type ConnectorFailure struct {
	Message          string
	HTTPStatus       *int
	ProviderCode     string
	RateLimitResetAt *time.Time
}
