package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vantori/flowgate/internal/logging"
	"github.com/vantori/flowgate/internal/settings"
	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/pkg/schema"
)

// RunScheduled fires one SCHEDULE workflow. A synthetic schedule.fired
// event is appended so scheduled runs have the same provenance as
// event-triggered ones, and the same per-org run budget applies.
func (o *Orchestrator) RunScheduled(ctx context.Context, wf *store.Workflow, firedAt time.Time) (string, error) {
	ctx = logging.WithOrgID(ctx, wf.OrgID)

	def, err := o.validator.Parse(wf.Definition)
	if err != nil {
		return "", err
	}

	orgSettings, err := o.settings.OrgSettings(ctx, wf.OrgID)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExecution, "load org settings").WithCause(err)
	}
	limits := settings.LimitsFrom(orgSettings)

	count, err := o.store.CountRunsSince(ctx, wf.OrgID, o.now().Add(-time.Hour))
	if err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "count recent runs").WithCause(err)
	}
	if count >= limits.MaxWorkflowRunsPerHour {
		o.logger.WarnContext(ctx, "hourly run budget exhausted, skipping scheduled fire",
			"workflow_id", wf.ID, "runs_last_hour", count)
		return ResultRateLimited, nil
	}

	event := &store.Event{
		ID:     uuid.NewString(),
		OrgID:  wf.OrgID,
		Source: "scheduler",
		Type:   "schedule.fired",
		Payload: map[string]any{
			"workflow_id": wf.ID,
			"fired_at":    firedAt.UTC().Format(time.RFC3339),
		},
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.AppendEvent(ctx, event); err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "append schedule event").WithCause(err)
	}

	eventCtx := schema.EventContext{Type: event.Type, Payload: event.Payload}
	eval := Evaluate(def, eventCtx, o.evaluationContext(orgSettings, event))
	if !eval.Matched {
		o.logger.InfoContext(ctx, "scheduled workflow did not match",
			"workflow_id", wf.ID, "reason", eval.SkippedReason)
		return eval.SkippedReason, nil
	}

	runID, err := o.startRun(ctx, wf, event, eventCtx, eval, limits)
	if err != nil {
		return "", err
	}
	return runID, nil
}
