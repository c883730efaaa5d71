// Package service is the application surface over the engine: workflow
// CRUD, event ingest, run inspection, dry runs and approval decisions.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vantori/flowgate/internal/engine"
	"github.com/vantori/flowgate/internal/logging"
	"github.com/vantori/flowgate/internal/ratelimit"
	"github.com/vantori/flowgate/internal/settings"
	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/internal/validation"
	"github.com/vantori/flowgate/pkg/schema"
)

// ingest burst budget, independent of the per-org run budget the
// orchestrator enforces.
const (
	ingestBucket    = "event_ingest"
	ingestPerMinute = 120
)

// Service wires the engine behind an org-scoped application API.
type Service struct {
	store     store.Store
	validator *validation.DefinitionValidator
	orch      *engine.Orchestrator
	limiter   ratelimit.Limiter
	settings  settings.Source
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Service.
func New(st store.Store, validator *validation.DefinitionValidator, orch *engine.Orchestrator, limiter ratelimit.Limiter, src settings.Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	return &Service{
		store:     st,
		validator: validator,
		orch:      orch,
		limiter:   limiter,
		settings:  src,
		logger:    logger,
		now:       time.Now,
	}
}

// --- Workflows ---

// CreateWorkflow validates and stores a workflow definition. The raw
// document is persisted as authored; it is re-validated on every read
// path that evaluates it.
func (s *Service) CreateWorkflow(ctx context.Context, orgID, key string, raw json.RawMessage) (*store.Workflow, error) {
	ctx = logging.WithOrgID(ctx, orgID)

	def, err := s.validator.Parse(raw)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	wf := &store.Workflow{
		ID:            uuid.NewString(),
		OrgID:         orgID,
		Key:           key,
		Name:          def.Name,
		Enabled:       def.Enabled,
		TriggerType:   def.Trigger.Type,
		Definition:    raw,
		ManagedByPack: def.ManagedVerticalPack() != "",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	s.audit(ctx, orgID, "workflow.created", map[string]any{"workflow_id": wf.ID, "key": key})
	s.logger.InfoContext(ctx, "workflow created", "workflow_id", wf.ID, "key", key, "trigger", wf.TriggerType)
	return wf, nil
}

// UpdateWorkflow replaces a workflow's definition after full
// revalidation.
func (s *Service) UpdateWorkflow(ctx context.Context, orgID, id string, raw json.RawMessage) (*store.Workflow, error) {
	ctx = logging.WithOrgID(ctx, orgID)

	def, err := s.validator.Parse(raw)
	if err != nil {
		return nil, err
	}

	update := store.WorkflowUpdate{
		Name:        &def.Name,
		Enabled:     &def.Enabled,
		Definition:  raw,
		TriggerType: &def.Trigger.Type,
	}
	if err := s.store.UpdateWorkflow(ctx, orgID, id, update); err != nil {
		return nil, err
	}

	s.audit(ctx, orgID, "workflow.updated", map[string]any{"workflow_id": id})
	return s.store.GetWorkflow(ctx, orgID, id)
}

// SetWorkflowEnabled toggles a workflow without touching its definition.
func (s *Service) SetWorkflowEnabled(ctx context.Context, orgID, id string, enabled bool) error {
	ctx = logging.WithOrgID(ctx, orgID)
	if err := s.store.UpdateWorkflow(ctx, orgID, id, store.WorkflowUpdate{Enabled: &enabled}); err != nil {
		return err
	}
	s.audit(ctx, orgID, "workflow.toggled", map[string]any{"workflow_id": id, "enabled": enabled})
	return nil
}

// GetWorkflow fetches one workflow.
func (s *Service) GetWorkflow(ctx context.Context, orgID, id string) (*store.Workflow, error) {
	return s.store.GetWorkflow(ctx, orgID, id)
}

// ListWorkflows lists an org's workflows.
func (s *Service) ListWorkflows(ctx context.Context, orgID string, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	return s.store.ListWorkflows(ctx, orgID, filter)
}

// DeleteWorkflow removes a workflow. Existing runs keep their history.
func (s *Service) DeleteWorkflow(ctx context.Context, orgID, id string) error {
	ctx = logging.WithOrgID(ctx, orgID)
	if err := s.store.DeleteWorkflow(ctx, orgID, id); err != nil {
		return err
	}
	s.audit(ctx, orgID, "workflow.deleted", map[string]any{"workflow_id": id})
	return nil
}

// --- Events ---

// EventInput is an inbound domain event before persistence.
type EventInput struct {
	Source  string
	Channel string
	Type    string
	Payload map[string]any
	ActorID string
}

// IngestEvent persists an inbound event and evaluates it against the
// org's workflows. Ingest has its own burst limiter so a misbehaving
// source cannot starve the store.
func (s *Service) IngestEvent(ctx context.Context, orgID string, input EventInput) (*engine.HandleResult, error) {
	ctx = logging.WithOrgID(ctx, orgID)

	if err := s.limiter.Allow(ctx, orgID, ingestBucket, ingestPerMinute, time.Minute); err != nil {
		return nil, err
	}
	if input.Type == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "event type is required")
	}
	if input.Payload == nil {
		input.Payload = map[string]any{}
	}

	event := &store.Event{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Source:    input.Source,
		Channel:   input.Channel,
		Type:      input.Type,
		Payload:   input.Payload,
		ActorID:   input.ActorID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "append event").WithCause(err)
	}
	return s.orch.HandleEvent(ctx, event)
}

// --- Dry runs ---

// DryRunResult is one workflow's preview against a hypothetical event.
type DryRunResult struct {
	WorkflowID string                  `json:"workflow_id"`
	Evaluation schema.EvaluationResult `json:"evaluation"`
}

// DryRun evaluates an org's enabled event workflows against a
// hypothetical event without persisting anything: no events, no runs,
// no action runs.
func (s *Service) DryRun(ctx context.Context, orgID string, input EventInput) ([]DryRunResult, error) {
	ctx = logging.WithOrgID(ctx, orgID)

	orgSettings, err := s.settings.OrgSettings(ctx, orgID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "load org settings").WithCause(err)
	}
	evalCtx := schema.NewEvaluationContext()
	evalCtx.OrgSettings = orgSettings
	if pack := settings.VerticalPackFrom(orgSettings); pack != "" {
		evalCtx.VerticalPack = pack
	}
	evalCtx.LocalHour = settings.LocalHour(orgSettings, s.now())

	eventCtx := schema.EventContext{Type: input.Type, Channel: input.Channel, Payload: input.Payload}

	enabled := true
	triggerType := schema.TriggerEvent
	workflows, err := s.store.ListWorkflows(ctx, orgID, store.WorkflowFilter{Enabled: &enabled, TriggerType: &triggerType})
	if err != nil {
		return nil, err
	}

	results := make([]DryRunResult, 0, len(workflows))
	for _, wf := range workflows {
		def, err := s.validator.Parse(wf.Definition)
		if err != nil {
			s.logger.WarnContext(ctx, "dry run: stored definition invalid", "workflow_id", wf.ID, "error", err)
			continue
		}
		results = append(results, DryRunResult{
			WorkflowID: wf.ID,
			Evaluation: engine.Evaluate(def, eventCtx, evalCtx),
		})
	}
	return results, nil
}

// ValidateDefinition runs the validation pipeline without storing.
func (s *Service) ValidateDefinition(raw json.RawMessage) *schema.ValidationResult {
	return s.validator.Validate(raw)
}

// --- Runs ---

// ListRuns lists an org's workflow runs.
func (s *Service) ListRuns(ctx context.Context, orgID string, filter store.RunFilter) ([]*store.WorkflowRun, error) {
	return s.store.ListRuns(ctx, orgID, filter)
}

// GetRun fetches one workflow run.
func (s *Service) GetRun(ctx context.Context, orgID, id string) (*store.WorkflowRun, error) {
	return s.store.GetRun(ctx, orgID, id)
}

// ListActionRuns lists action runs, optionally filtered by run or status.
func (s *Service) ListActionRuns(ctx context.Context, orgID string, filter store.ActionRunFilter) ([]*store.ActionRun, error) {
	return s.store.ListActionRuns(ctx, orgID, filter)
}

// GetActionRun fetches one action run.
func (s *Service) GetActionRun(ctx context.Context, orgID, id string) (*store.ActionRun, error) {
	return s.store.GetActionRun(ctx, orgID, id)
}

// --- Approvals ---

// ListApprovals lists an org's approvals.
func (s *Service) ListApprovals(ctx context.Context, orgID string, filter store.ApprovalFilter) ([]*store.Approval, error) {
	return s.store.ListApprovals(ctx, orgID, filter)
}

// Approve grants a pending approval and resumes the gated entity.
func (s *Service) Approve(ctx context.Context, orgID, approvalID, decidedBy, notes string) error {
	if err := s.orch.Approve(ctx, orgID, approvalID, decidedBy, notes); err != nil {
		return err
	}
	s.audit(ctx, orgID, "approval.granted", map[string]any{"approval_id": approvalID, "decided_by": decidedBy})
	return nil
}

// Reject declines a pending approval and blocks the gated entity.
func (s *Service) Reject(ctx context.Context, orgID, approvalID, decidedBy, notes string) error {
	if err := s.orch.Reject(ctx, orgID, approvalID, decidedBy, notes); err != nil {
		return err
	}
	s.audit(ctx, orgID, "approval.rejected", map[string]any{"approval_id": approvalID, "decided_by": decidedBy})
	return nil
}

// --- Connector health ---

// GetConnectorHealth exposes the recorded health of one connector
// account.
func (s *Service) GetConnectorHealth(ctx context.Context, orgID, provider, accountRef string) (*store.ConnectorHealth, error) {
	return s.store.GetConnectorHealth(ctx, orgID, provider, accountRef)
}

// audit appends a domain event describing an administrative action.
// Audit events never feed back into evaluation.
func (s *Service) audit(ctx context.Context, orgID, eventType string, payload map[string]any) {
	event := &store.Event{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Source:    "audit",
		Type:      eventType,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit event append failed", "event_type", eventType, "error", err)
	}
}
