package engine

import (
	"context"

	"github.com/vantori/flowgate/internal/logging"
	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/pkg/schema"
)

// Approve records an approval decision and resumes the gated entity.
// For a workflow action run the approved action moves back to queued
// and is re-dispatched; the decision itself never executes anything
// directly.
func (o *Orchestrator) Approve(ctx context.Context, orgID, approvalID, decidedBy, notes string) error {
	ctx = logging.WithOrgID(ctx, orgID)

	ap, err := o.store.GetApproval(ctx, orgID, approvalID)
	if err != nil {
		return err
	}
	if err := o.store.DecideApproval(ctx, orgID, approvalID, schema.ApprovalApproved, decidedBy, notes); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "approval granted",
		"approval_id", approvalID, "entity_type", ap.EntityType, "entity_id", ap.EntityID, "decided_by", decidedBy)

	if ap.EntityType != schema.ApprovalEntityWorkflowActionRun {
		return nil
	}
	return o.resumeActionRun(ctx, orgID, ap.EntityID)
}

// Reject records a rejection and blocks the gated entity. Blocked is
// terminal; a rejected action run never executes.
func (o *Orchestrator) Reject(ctx context.Context, orgID, approvalID, decidedBy, notes string) error {
	ctx = logging.WithOrgID(ctx, orgID)

	ap, err := o.store.GetApproval(ctx, orgID, approvalID)
	if err != nil {
		return err
	}
	if err := o.store.DecideApproval(ctx, orgID, approvalID, schema.ApprovalRejected, decidedBy, notes); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "approval rejected",
		"approval_id", approvalID, "entity_type", ap.EntityType, "entity_id", ap.EntityID, "decided_by", decidedBy)

	if ap.EntityType != schema.ApprovalEntityWorkflowActionRun {
		return nil
	}
	return o.blockActionRun(ctx, orgID, ap.EntityID)
}

func (o *Orchestrator) resumeActionRun(ctx context.Context, orgID, actionRunID string) error {
	ar, err := o.store.GetActionRun(ctx, orgID, actionRunID)
	if err != nil {
		return err
	}
	if err := ValidateActionRunTransition(ar.ID, ar.Status, schema.ActionRunQueued); err != nil {
		return err
	}
	queued := schema.ActionRunQueued
	if err := o.store.UpdateActionRun(ctx, orgID, ar.ID, store.ActionRunUpdate{Status: &queued}); err != nil {
		return err
	}
	o.finalizeRun(ctx, orgID, ar.WorkflowRunID)
	o.dispatch(ctx, orgID, ar.ID)
	return nil
}

func (o *Orchestrator) blockActionRun(ctx context.Context, orgID, actionRunID string) error {
	ar, err := o.store.GetActionRun(ctx, orgID, actionRunID)
	if err != nil {
		return err
	}
	if err := ValidateActionRunTransition(ar.ID, ar.Status, schema.ActionRunBlocked); err != nil {
		return err
	}
	blocked := schema.ActionRunBlocked
	if err := o.store.UpdateActionRun(ctx, orgID, ar.ID, store.ActionRunUpdate{Status: &blocked}); err != nil {
		return err
	}
	o.finalizeRun(ctx, orgID, ar.WorkflowRunID)
	return nil
}
