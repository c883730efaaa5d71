package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vantori/flowgate/pkg/schema"
)

func TestActionRiskTierRegistry(t *testing.T) {
	expected := map[schema.ActionType]int{
		schema.ActionCreateTask:         0,
		schema.ActionRouteLead:          1,
		schema.ActionApplyNurturePlan:   1,
		schema.ActionCreateContentDraft: 1,
		schema.ActionSchedulePublish:    2,
		schema.ActionRunPresenceAudit:   0,
		schema.ActionDraftReply:         1,
		schema.ActionTagLead:            0,
		schema.ActionWebhook:            3,
	}
	for actionType, tier := range expected {
		assert.Equal(t, tier, ActionRiskTier(actionType), "%s", actionType)
	}
}

func TestActionRiskTierUnknownDefaults(t *testing.T) {
	assert.Equal(t, defaultRiskTier, ActionRiskTier(schema.ActionType("SOMETHING_NEW")))
}

func TestGateActionByTier(t *testing.T) {
	autonomy := schema.WorkflowAutonomy{MaxAutoTier: 1}

	tier, gated := GateAction(schema.ActionTagLead, autonomy)
	assert.Equal(t, 0, tier)
	assert.False(t, gated)

	tier, gated = GateAction(schema.ActionSchedulePublish, autonomy)
	assert.Equal(t, 2, tier)
	assert.True(t, gated)
}

func TestGateActionForcedApproval(t *testing.T) {
	autonomy := schema.WorkflowAutonomy{
		MaxAutoTier:               4,
		RequireApprovalForActions: []schema.ActionType{schema.ActionCreateTask},
	}

	// Tier 0 would auto-run, but the policy forces a gate.
	tier, gated := GateAction(schema.ActionCreateTask, autonomy)
	assert.Equal(t, 0, tier)
	assert.True(t, gated)
}

func TestOverallRiskTier(t *testing.T) {
	assert.Equal(t, 0, OverallRiskTier(nil))
	assert.Equal(t, 3, OverallRiskTier([]schema.ActionRequest{
		{RiskTier: 1}, {RiskTier: 3}, {RiskTier: 0},
	}))
}
