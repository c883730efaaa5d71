package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vantori/flowgate/internal/logging"
	"github.com/vantori/flowgate/internal/settings"
	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/internal/validation"
	"github.com/vantori/flowgate/pkg/schema"
)

// HandleEvent result sentinels. A guarded or rate-limited event is a
// policy outcome, not an error, and creates no runs.
const (
	ResultEvaluated       = "evaluated"
	ResultMaxDepthReached = "max_depth_reached"
	ResultRateLimited     = "rate_limited"
)

// ExecuteRequest carries everything an executor needs to run one action.
type ExecuteRequest struct {
	OrgID         string
	WorkflowRunID string
	ActionRunID   string
	ActionType    schema.ActionType
	Params        map[string]any
	Event         schema.EventContext
}

// EmittedEvent is a follow-up domain event produced by an action.
type EmittedEvent struct {
	Source  string
	Channel string
	Type    string
	Payload map[string]any
}

// ExecuteResult is a successful action execution.
type ExecuteResult struct {
	Output map[string]any
	Events []EmittedEvent
}

// ActionExecutor runs one action. Implementations never mutate run
// state; the orchestrator owns every status transition.
type ActionExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)
}

// HandleResult summarizes what one event produced.
type HandleResult struct {
	Result string   `json:"result"`
	RunIDs []string `json:"run_ids,omitempty"`
}

// Orchestrator turns domain events into workflow runs and drives their
// action runs to terminal states.
type Orchestrator struct {
	store     store.Store
	validator *validation.DefinitionValidator
	executor  ActionExecutor
	settings  settings.Source
	interp    *Interpolator
	pool      *WorkerPool
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st store.Store, validator *validation.DefinitionValidator, executor ActionExecutor, src settings.Source, pool *WorkerPool, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     st,
		validator: validator,
		executor:  executor,
		settings:  src,
		interp:    NewInterpolator(),
		pool:      pool,
		logger:    logger,
		now:       time.Now,
	}
}

// Pool exposes the dispatch pool for lifecycle management.
func (o *Orchestrator) Pool() *WorkerPool { return o.pool }

// HandleEvent evaluates every enabled event-triggered workflow of the
// event's org against the event. The loop guard and the per-org run
// budget are checked before any run is created: a rejected event leaves
// no partial state behind.
func (o *Orchestrator) HandleEvent(ctx context.Context, event *store.Event) (*HandleResult, error) {
	ctx = logging.WithOrgID(ctx, event.OrgID)

	orgSettings, err := o.settings.OrgSettings(ctx, event.OrgID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "load org settings").WithCause(err)
	}
	limits := settings.LimitsFrom(orgSettings)

	depth := EventDepth(event.Payload)
	if depth >= limits.MaxDepth {
		o.logger.WarnContext(ctx, "loop guard tripped, dropping event",
			"event_type", event.Type, "depth", depth, "max_depth", limits.MaxDepth)
		if originID := OriginRunID(event.Payload); originID != "" {
			if err := o.store.IncrementLoopGuardHits(ctx, event.OrgID, originID); err != nil {
				o.logger.WarnContext(ctx, "record loop guard hit failed", "error", err)
			}
		}
		return &HandleResult{Result: ResultMaxDepthReached}, nil
	}

	since := o.now().Add(-time.Hour)
	count, err := o.store.CountRunsSince(ctx, event.OrgID, since)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "count recent runs").WithCause(err)
	}
	if count >= limits.MaxWorkflowRunsPerHour {
		o.logger.WarnContext(ctx, "hourly run budget exhausted, dropping event",
			"event_type", event.Type, "runs_last_hour", count, "max", limits.MaxWorkflowRunsPerHour)
		return &HandleResult{Result: ResultRateLimited}, nil
	}

	eventCtx := schema.EventContext{Type: event.Type, Channel: event.Channel, Payload: event.Payload}
	evalCtx := o.evaluationContext(orgSettings, event)

	triggerType := schema.TriggerEvent
	enabled := true
	workflows, err := o.store.ListWorkflows(ctx, event.OrgID, store.WorkflowFilter{
		Enabled:     &enabled,
		TriggerType: &triggerType,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list workflows").WithCause(err)
	}

	result := &HandleResult{Result: ResultEvaluated}
	for _, wf := range workflows {
		def, err := o.validator.Parse(wf.Definition)
		if err != nil {
			o.logger.WarnContext(ctx, "stored definition failed validation, skipping",
				"workflow_id", wf.ID, "error", err)
			continue
		}
		eval := Evaluate(def, eventCtx, evalCtx)
		if !eval.Matched {
			o.logger.DebugContext(ctx, "workflow did not match",
				"workflow_id", wf.ID, "reason", eval.SkippedReason)
			continue
		}
		runID, err := o.startRun(ctx, wf, event, eventCtx, eval, limits)
		if err != nil {
			o.logger.ErrorContext(ctx, "start run failed", "workflow_id", wf.ID, "error", err)
			continue
		}
		result.RunIDs = append(result.RunIDs, runID)
	}
	return result, nil
}

func (o *Orchestrator) evaluationContext(orgSettings map[string]any, event *store.Event) schema.EvaluationContext {
	evalCtx := schema.NewEvaluationContext()
	evalCtx.OrgSettings = orgSettings
	if pack := settings.VerticalPackFrom(orgSettings); pack != "" {
		evalCtx.VerticalPack = pack
	}
	evalCtx.LocalHour = settings.LocalHour(orgSettings, o.now())
	if tier, ok := event.Payload["risk_tier"].(float64); ok {
		evalCtx.RiskTier = int(tier)
	}
	return evalCtx
}

// startRun creates a run with its action runs in definition order and
// dispatches the ungated ones. Gated actions park in approval_pending
// with an approval row each.
func (o *Orchestrator) startRun(ctx context.Context, wf *store.Workflow, event *store.Event, eventCtx schema.EventContext, eval schema.EvaluationResult, limits settings.AutomationLimits) (string, error) {
	now := o.now().UTC()
	run := &store.WorkflowRun{
		ID:             uuid.NewString(),
		OrgID:          wf.OrgID,
		WorkflowID:     wf.ID,
		TriggerEventID: event.ID,
		Status:         schema.RunStatusQueued,
		CreatedAt:      now,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return "", err
	}
	ctx = logging.WithWorkflowRunID(ctx, run.ID)

	actions := eval.Actions
	truncated := false
	if len(actions) > limits.MaxActionsPerEvent {
		actions = actions[:limits.MaxActionsPerEvent]
		truncated = true
		o.logger.WarnContext(ctx, "action count capped",
			"requested", len(eval.Actions), "max", limits.MaxActionsPerEvent)
	}

	if err := ValidateRunTransition(run.ID, schema.RunStatusQueued, schema.RunStatusRunning); err != nil {
		return "", err
	}
	running := schema.RunStatusRunning
	if err := o.store.UpdateRun(ctx, run.OrgID, run.ID, store.RunUpdate{Status: &running, StartedAt: &now}); err != nil {
		return "", err
	}

	summary, _ := json.Marshal(map[string]any{
		"overall_risk_tier": eval.OverallRiskTier,
		"actions":           len(actions),
		"truncated":         truncated,
	})
	_ = o.store.UpdateRun(ctx, run.OrgID, run.ID, store.RunUpdate{Summary: summary})

	anyGated := false
	for _, req := range actions {
		gated, err := o.createActionRun(ctx, run, req, eventCtx)
		if err != nil {
			o.logger.ErrorContext(ctx, "create action run failed",
				"action_type", req.ActionType, "error", err)
			continue
		}
		anyGated = anyGated || gated
	}

	if anyGated {
		if err := ValidateRunTransition(run.ID, schema.RunStatusRunning, schema.RunStatusApprovalPending); err == nil {
			pending := schema.RunStatusApprovalPending
			_ = o.store.UpdateRun(ctx, run.OrgID, run.ID, store.RunUpdate{Status: &pending})
		}
	}
	return run.ID, nil
}

// createActionRun persists one action run and either dispatches it or
// parks it behind an approval. Returns whether the action was gated.
func (o *Orchestrator) createActionRun(ctx context.Context, run *store.WorkflowRun, req schema.ActionRequest, eventCtx schema.EventContext) (bool, error) {
	params, err := o.interp.ResolveParams(req.Params, eventCtx)
	if err != nil {
		return false, err
	}
	input, err := json.Marshal(map[string]any{
		"params":    params,
		"risk_tier": req.RiskTier,
	})
	if err != nil {
		return false, err
	}

	now := o.now().UTC()
	ar := &store.ActionRun{
		ID:            uuid.NewString(),
		OrgID:         run.OrgID,
		WorkflowRunID: run.ID,
		ActionType:    req.ActionType,
		Status:        schema.ActionRunQueued,
		Input:         input,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ar.IdempotencyKey = IdempotencyKey(run.OrgID, run.ID, req.ActionType, ar.ID)
	if req.RequiresApproval {
		ar.Status = schema.ActionRunApprovalPending
	}
	if err := o.store.CreateActionRun(ctx, ar); err != nil {
		return false, err
	}

	if req.RequiresApproval {
		approval := &store.Approval{
			ID:          uuid.NewString(),
			OrgID:       run.OrgID,
			EntityType:  schema.ApprovalEntityWorkflowActionRun,
			EntityID:    ar.ID,
			Status:      schema.ApprovalPending,
			RequestedBy: "system",
			CreatedAt:   now,
		}
		if err := o.store.CreateApproval(ctx, approval); err != nil {
			return false, err
		}
		o.logger.InfoContext(ctx, "action gated for approval",
			"action_run_id", ar.ID, "action_type", req.ActionType, "risk_tier", req.RiskTier)
		return true, nil
	}

	o.dispatch(ctx, run.OrgID, ar.ID)
	return false, nil
}

// dispatch submits an action run for asynchronous execution. The
// submitted work is detached from the caller's cancellation so an
// ingest timeout does not abandon mid-flight actions.
func (o *Orchestrator) dispatch(ctx context.Context, orgID, actionRunID string) {
	detached := context.WithoutCancel(ctx)
	if err := o.pool.Submit(detached, Task{
		OrgID:       orgID,
		ActionRunID: actionRunID,
		Run: func(c context.Context) error {
			_, err := o.ExecuteActionRun(c, orgID, actionRunID)
			return err
		},
	}); err != nil {
		o.logger.ErrorContext(ctx, "dispatch failed", "action_run_id", actionRunID, "error", err)
	}
}

// ExecuteActionRun runs one queued action run to a terminal state.
// Non-queued statuses short-circuit: a succeeded or canceled action run
// is never executed again, so replays are no-ops. The queued to running
// move is an atomic store claim; of any concurrent duplicate dispatches
// only the claimant executes.
func (o *Orchestrator) ExecuteActionRun(ctx context.Context, orgID, actionRunID string) (string, error) {
	ctx = logging.WithOrgID(ctx, orgID)
	ctx = logging.WithActionRunID(ctx, actionRunID)

	ar, err := o.store.GetActionRun(ctx, orgID, actionRunID)
	if err != nil {
		return "", err
	}
	ctx = logging.WithWorkflowRunID(ctx, ar.WorkflowRunID)

	switch ar.Status {
	case schema.ActionRunSucceeded:
		o.logger.InfoContext(ctx, "action run already succeeded, skipping")
		return "already_succeeded", nil
	case schema.ActionRunCanceled:
		o.logger.InfoContext(ctx, "action run canceled, skipping")
		return "canceled", nil
	case schema.ActionRunQueued:
		// proceed
	default:
		o.logger.InfoContext(ctx, "action run not executable", "status", ar.Status)
		return string(ar.Status), nil
	}

	if err := ValidateActionRunTransition(ar.ID, ar.Status, schema.ActionRunRunning); err != nil {
		return "", err
	}
	claimed, err := o.store.ClaimActionRun(ctx, orgID, ar.ID)
	if err != nil {
		return "", err
	}
	if !claimed {
		o.logger.InfoContext(ctx, "action run claimed by another worker, skipping")
		return "already_claimed", nil
	}

	req, err := o.buildExecuteRequest(ctx, ar)
	if err != nil {
		o.finishActionRun(ctx, ar, schema.ActionRunFailed, nil, err)
		return "failed", nil
	}

	result, err := o.executor.Execute(ctx, *req)
	if err != nil {
		status := schema.ActionRunFailed
		if schema.CodeOf(err) == schema.ErrCodeCircuitOpen {
			status = schema.ActionRunBlocked
		}
		o.finishActionRun(ctx, ar, status, nil, err)
		return string(status), nil
	}

	o.finishActionRun(ctx, ar, schema.ActionRunSucceeded, result.Output, nil)
	o.emitEvents(ctx, ar, req.Event, result.Events)
	return "succeeded", nil
}

func (o *Orchestrator) buildExecuteRequest(ctx context.Context, ar *store.ActionRun) (*ExecuteRequest, error) {
	var input struct {
		Params map[string]any `json:"params"`
	}
	if len(ar.Input) > 0 {
		if err := json.Unmarshal(ar.Input, &input); err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "decode action input").WithCause(err)
		}
	}

	run, err := o.store.GetRun(ctx, ar.OrgID, ar.WorkflowRunID)
	if err != nil {
		return nil, err
	}
	event, err := o.store.GetEvent(ctx, ar.OrgID, run.TriggerEventID)
	if err != nil {
		return nil, err
	}

	return &ExecuteRequest{
		OrgID:         ar.OrgID,
		WorkflowRunID: ar.WorkflowRunID,
		ActionRunID:   ar.ID,
		ActionType:    ar.ActionType,
		Params:        input.Params,
		Event:         schema.EventContext{Type: event.Type, Channel: event.Channel, Payload: event.Payload},
	}, nil
}

// finishActionRun moves an action run to a terminal state and refreshes
// the parent run's aggregate status.
func (o *Orchestrator) finishActionRun(ctx context.Context, ar *store.ActionRun, status schema.ActionRunStatus, output map[string]any, execErr error) {
	update := store.ActionRunUpdate{Status: &status}
	if output != nil {
		if raw, err := json.Marshal(output); err == nil {
			update.Output = raw
		}
	}
	if execErr != nil {
		update.Error = errorJSON(execErr)
		o.logger.ErrorContext(ctx, "action run failed",
			"action_type", ar.ActionType, "status", status, "error", execErr)
	}
	if err := ValidateActionRunTransition(ar.ID, schema.ActionRunRunning, status); err != nil {
		o.logger.ErrorContext(ctx, "invalid action run transition", "error", err)
		return
	}
	if err := o.store.UpdateActionRun(ctx, ar.OrgID, ar.ID, update); err != nil {
		o.logger.ErrorContext(ctx, "update action run failed", "error", err)
		return
	}
	o.finalizeRun(ctx, ar.OrgID, ar.WorkflowRunID)
}

// emitEvents persists follow-up events with provenance stamped and
// feeds them back through evaluation. Events that would exceed the
// org's depth limit are dropped here and counted against the run.
func (o *Orchestrator) emitEvents(ctx context.Context, ar *store.ActionRun, trigger schema.EventContext, events []EmittedEvent) {
	if len(events) == 0 {
		return
	}
	depth := EventDepth(trigger.Payload) + 1

	for _, emitted := range events {
		event := &store.Event{
			ID:        uuid.NewString(),
			OrgID:     ar.OrgID,
			Source:    emitted.Source,
			Channel:   emitted.Channel,
			Type:      emitted.Type,
			Payload:   StampOrigin(emitted.Payload, ar.WorkflowRunID, depth),
			CreatedAt: o.now().UTC(),
		}
		if err := o.store.AppendEvent(ctx, event); err != nil {
			o.logger.ErrorContext(ctx, "append emitted event failed", "event_type", event.Type, "error", err)
			continue
		}
		if _, err := o.HandleEvent(ctx, event); err != nil {
			o.logger.ErrorContext(ctx, "handle emitted event failed", "event_type", event.Type, "error", err)
		}
	}
}

// finalizeRun derives the run status from its action runs. The run is
// terminal only when every action run is; a single failure outweighs
// blocked, which outweighs success.
func (o *Orchestrator) finalizeRun(ctx context.Context, orgID, runID string) {
	run, err := o.store.GetRun(ctx, orgID, runID)
	if err != nil {
		o.logger.ErrorContext(ctx, "finalize: load run failed", "error", err)
		return
	}
	if run.Status.Terminal() {
		return
	}
	actionRuns, err := o.store.ListActionRuns(ctx, orgID, store.ActionRunFilter{WorkflowRunID: runID})
	if err != nil {
		o.logger.ErrorContext(ctx, "finalize: list action runs failed", "error", err)
		return
	}

	next := aggregateStatus(actionRuns)
	if next == run.Status {
		return
	}
	if err := ValidateRunTransition(runID, run.Status, next); err != nil {
		o.logger.WarnContext(ctx, "finalize: transition rejected", "from", run.Status, "to", next)
		return
	}
	update := store.RunUpdate{Status: &next}
	if next.Terminal() {
		now := o.now().UTC()
		update.FinishedAt = &now
	}
	if err := o.store.UpdateRun(ctx, orgID, runID, update); err != nil {
		o.logger.ErrorContext(ctx, "finalize: update run failed", "error", err)
		return
	}
	o.logger.InfoContext(ctx, "run status updated", "status", next)
}

func aggregateStatus(actionRuns []*store.ActionRun) schema.RunStatus {
	anyPending, anyActive, anyFailed, anyBlocked := false, false, false, false
	for _, ar := range actionRuns {
		switch ar.Status {
		case schema.ActionRunApprovalPending:
			anyPending = true
		case schema.ActionRunQueued, schema.ActionRunRunning:
			anyActive = true
		case schema.ActionRunFailed:
			anyFailed = true
		case schema.ActionRunBlocked:
			anyBlocked = true
		}
	}
	switch {
	case anyPending:
		return schema.RunStatusApprovalPending
	case anyActive:
		return schema.RunStatusRunning
	case anyFailed:
		return schema.RunStatusFailed
	case anyBlocked:
		return schema.RunStatusBlocked
	default:
		return schema.RunStatusSucceeded
	}
}

func errorJSON(err error) json.RawMessage {
	var fe *schema.FlowError
	if e, ok := err.(*schema.FlowError); ok {
		fe = e
	} else {
		fe = schema.NewError(schema.ErrCodeExecution, err.Error())
	}
	raw, mErr := json.Marshal(fe)
	if mErr != nil {
		return json.RawMessage(`{"code":"EXECUTION_ERROR"}`)
	}
	return raw
}
