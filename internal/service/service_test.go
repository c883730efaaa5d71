package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantori/flowgate/internal/engine"
	"github.com/vantori/flowgate/internal/ratelimit"
	"github.com/vantori/flowgate/internal/settings"
	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/internal/validation"
	"github.com/vantori/flowgate/pkg/schema"
)

const testOrg = "org-svc"

type okExecutor struct{}

func (okExecutor) Execute(context.Context, engine.ExecuteRequest) (*engine.ExecuteResult, error) {
	return &engine.ExecuteResult{Output: map[string]any{"ok": true}}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, string, int, time.Duration) error {
	return schema.NewError(schema.ErrCodeRateLimited, "ingest budget exhausted")
}

func newTestService(t *testing.T, limiter ratelimit.Limiter) (*Service, store.Store) {
	t.Helper()

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	validator, err := validation.NewDefinitionValidator()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := engine.NewWorkerPool(1)
	t.Cleanup(pool.Shutdown)
	src := settings.NewStaticSource(nil)
	orch := engine.NewOrchestrator(st, validator, okExecutor{}, src, pool, logger)

	return New(st, validator, orch, limiter, src, logger), st
}

const leadIntakeDefinition = `{
  "id": "wf-lead-intake",
  "name": "Lead intake",
  "enabled": true,
  "trigger": {"type": "EVENT", "event_type": "lead.created"},
  "conditions": [{"type": "event.channel_equals", "value": "web"}],
  "actions": [{"type": "CREATE_TASK", "params_json": {"title": "Call lead"}}],
  "autonomy": {"max_auto_tier": 1}
}`

func TestCreateWorkflowValidatesAndStores(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	wf, err := svc.CreateWorkflow(ctx, testOrg, "lead-intake", []byte(leadIntakeDefinition))
	require.NoError(t, err)
	assert.Equal(t, "Lead intake", wf.Name)
	assert.Equal(t, schema.TriggerEvent, wf.TriggerType)
	assert.True(t, wf.Enabled)
	assert.False(t, wf.ManagedByPack)

	stored, err := st.GetWorkflowByKey(ctx, testOrg, "lead-intake")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, stored.ID)
}

func TestCreateWorkflowRejectsInvalidDefinition(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.CreateWorkflow(context.Background(), testOrg, "broken", []byte(`{"id":"x"}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.NotEmpty(t, fe.Details["errors"])
}

func TestCreateWorkflowMarksPackManaged(t *testing.T) {
	svc, _ := newTestService(t, nil)

	packDef := `{
	  "id": "wf-pack",
	  "name": "Pack workflow",
	  "trigger": {"type": "EVENT", "event_type": "lead.created"},
	  "actions": [{"type": "CREATE_TASK"}],
	  "metadata": {"vertical_pack": "med-spa"}
	}`
	wf, err := svc.CreateWorkflow(context.Background(), testOrg, "pack-wf", []byte(packDef))
	require.NoError(t, err)
	assert.True(t, wf.ManagedByPack)
}

func TestUpdateWorkflowRevalidates(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	wf, err := svc.CreateWorkflow(ctx, testOrg, "lead-intake", []byte(leadIntakeDefinition))
	require.NoError(t, err)

	_, err = svc.UpdateWorkflow(ctx, testOrg, wf.ID, []byte(`{"id":"x"}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	renamed := `{
	  "id": "wf-lead-intake",
	  "name": "Lead intake v2",
	  "trigger": {"type": "EVENT", "event_type": "lead.created"},
	  "actions": [{"type": "TAG_LEAD"}]
	}`
	updated, err := svc.UpdateWorkflow(ctx, testOrg, wf.ID, []byte(renamed))
	require.NoError(t, err)
	assert.Equal(t, "Lead intake v2", updated.Name)
}

func TestSetWorkflowEnabled(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	wf, err := svc.CreateWorkflow(ctx, testOrg, "lead-intake", []byte(leadIntakeDefinition))
	require.NoError(t, err)

	require.NoError(t, svc.SetWorkflowEnabled(ctx, testOrg, wf.ID, false))
	stored, err := st.GetWorkflow(ctx, testOrg, wf.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
}

func TestIngestEventTriggersMatchingWorkflow(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateWorkflow(ctx, testOrg, "lead-intake", []byte(leadIntakeDefinition))
	require.NoError(t, err)

	result, err := svc.IngestEvent(ctx, testOrg, EventInput{
		Source:  "crm",
		Channel: "web",
		Type:    "lead.created",
		Payload: map[string]any{"lead_id": "lead-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.ResultEvaluated, result.Result)
	require.Len(t, result.RunIDs, 1)

	runs, err := st.ListRuns(ctx, testOrg, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestIngestEventRequiresType(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.IngestEvent(context.Background(), testOrg, EventInput{Source: "crm"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestIngestEventHonorsBurstLimiter(t *testing.T) {
	svc, st := newTestService(t, denyLimiter{})

	_, err := svc.IngestEvent(context.Background(), testOrg, EventInput{Type: "lead.created"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeRateLimited, schema.CodeOf(err))

	// A limited event is never persisted.
	runs, err := st.ListRuns(context.Background(), testOrg, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDryRunEvaluatesWithoutPersisting(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	wf, err := svc.CreateWorkflow(ctx, testOrg, "lead-intake", []byte(leadIntakeDefinition))
	require.NoError(t, err)

	results, err := svc.DryRun(ctx, testOrg, EventInput{
		Channel: "web",
		Type:    "lead.created",
		Payload: map[string]any{"lead_id": "lead-1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, wf.ID, results[0].WorkflowID)
	assert.True(t, results[0].Evaluation.Matched)
	require.Len(t, results[0].Evaluation.Actions, 1)
	assert.Equal(t, schema.ActionCreateTask, results[0].Evaluation.Actions[0].ActionType)

	// Channel mismatch shows the failed condition instead of a run.
	results, err = svc.DryRun(ctx, testOrg, EventInput{Channel: "sms", Type: "lead.created"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Evaluation.Matched)
	assert.Equal(t, "condition_failed:event.channel_equals", results[0].Evaluation.SkippedReason)

	runs, err := st.ListRuns(ctx, testOrg, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestValidateDefinition(t *testing.T) {
	svc, _ := newTestService(t, nil)

	result := svc.ValidateDefinition([]byte(leadIntakeDefinition))
	assert.True(t, result.Valid())

	result = svc.ValidateDefinition([]byte(`{"id":"x"}`))
	assert.False(t, result.Valid())
}

func TestApproveAndRejectDelegate(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	gated := `{
	  "id": "wf-notify",
	  "name": "Notify",
	  "trigger": {"type": "EVENT", "event_type": "lead.created"},
	  "actions": [{"type": "WEBHOOK", "params_json": {"url": "https://example.com"}}]
	}`
	_, err := svc.CreateWorkflow(ctx, testOrg, "notify", []byte(gated))
	require.NoError(t, err)

	result, err := svc.IngestEvent(ctx, testOrg, EventInput{Type: "lead.created"})
	require.NoError(t, err)
	require.Len(t, result.RunIDs, 1)

	pending := schema.ApprovalPending
	approvals, err := svc.ListApprovals(ctx, testOrg, store.ApprovalFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	require.NoError(t, svc.Reject(ctx, testOrg, approvals[0].ID, "user-1", "not now"))

	run, err := st.GetRun(ctx, testOrg, result.RunIDs[0])
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusBlocked, run.Status)
}
