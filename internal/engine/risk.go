package engine

import "github.com/vantori/flowgate/pkg/schema"

// actionRiskRegistry maps every action type to its inherent risk tier
// (0-4). This table is the sole authority for auto- vs manual-execution
// decisions; change it deliberately.
var actionRiskRegistry = map[schema.ActionType]int{
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

// defaultRiskTier applies to action types absent from the registry.
const defaultRiskTier = 2

// ActionRiskTier returns the inherent risk tier for an action type.
func ActionRiskTier(t schema.ActionType) int {
	if tier, ok := actionRiskRegistry[t]; ok {
		return tier
	}
	return defaultRiskTier
}

// GateAction decides whether a single action needs human approval under
// the given autonomy policy.
func GateAction(t schema.ActionType, autonomy schema.WorkflowAutonomy) (tier int, requiresApproval bool) {
	tier = ActionRiskTier(t)
	requiresApproval = autonomy.RequiresApprovalFor(t) || tier > autonomy.MaxAutoTier
	return tier, requiresApproval
}

// OverallRiskTier is the maximum tier across requested actions, 0 when
// there are none.
func OverallRiskTier(actions []schema.ActionRequest) int {
	max := 0
	for _, a := range actions {
		if a.RiskTier > max {
			max = a.RiskTier
		}
	}
	return max
}
