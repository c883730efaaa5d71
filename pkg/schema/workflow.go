package schema

// TriggerType enumerates how a workflow is started.
type TriggerType string

const (
	TriggerEvent    TriggerType = "EVENT"
	TriggerSchedule TriggerType = "SCHEDULE"
)

// ConditionType enumerates the closed set of workflow condition predicates.
type ConditionType string

const (
	ConditionEventTypeEquals    ConditionType = "event.type_equals"
	ConditionEventChannelEquals ConditionType = "event.channel_equals"
	ConditionEventPayloadMatch  ConditionType = "event.payload_match"
	ConditionRiskTierLTE        ConditionType = "risk_tier_lte"
	ConditionOrgFlagEnabled     ConditionType = "org_flag_enabled"
	ConditionBusinessHours      ConditionType = "business_hours"
	ConditionVerticalPackEquals ConditionType = "vertical_pack_equals"
)

// ActionType enumerates the closed set of workflow actions. New action
// types are added here and in the risk registry, never via open-ended
// string dispatch.
type ActionType string

const (
	ActionCreateTask         ActionType = "CREATE_TASK"
	ActionRouteLead          ActionType = "ROUTE_LEAD"
	ActionApplyNurturePlan   ActionType = "APPLY_NURTURE_PLAN"
	ActionCreateContentDraft ActionType = "CREATE_CONTENT_DRAFT"
	ActionSchedulePublish    ActionType = "SCHEDULE_PUBLISH"
	ActionRunPresenceAudit   ActionType = "RUN_PRESENCE_AUDIT"
	ActionDraftReply         ActionType = "DRAFT_REPLY"
	ActionTagLead            ActionType = "TAG_LEAD"
	ActionWebhook            ActionType = "WEBHOOK"
)

// KnownActionTypes lists every registered action type.
var KnownActionTypes = []ActionType{
	ActionCreateTask,
	ActionRouteLead,
	ActionApplyNurturePlan,
	ActionCreateContentDraft,
	ActionSchedulePublish,
	ActionRunPresenceAudit,
	ActionDraftReply,
	ActionTagLead,
	ActionWebhook,
}

// WorkflowTrigger describes what starts a workflow. EVENT triggers
// require event_type; SCHEDULE triggers require cron.
type WorkflowTrigger struct {
	Type      TriggerType `json:"type"`
	EventType string      `json:"event_type,omitempty"`
	Cron      string      `json:"cron,omitempty"`
}

// WorkflowCondition is one predicate in a definition's AND-chain. The
// populated optional fields depend on Type.
type WorkflowCondition struct {
	Type      ConditionType `json:"type"`
	Key       string        `json:"key,omitempty"`
	Value     any           `json:"value,omitempty"`
	MaxTier   *int          `json:"max_tier,omitempty"`
	FlagKey   string        `json:"flag_key,omitempty"`
	StartHour *int          `json:"start_hour,omitempty"`
	EndHour   *int          `json:"end_hour,omitempty"`
	PackSlug  string        `json:"pack_slug,omitempty"`
}

// WorkflowAction is a unit of work performed once a workflow matches.
type WorkflowAction struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params_json,omitempty"`
}

// WorkflowAutonomy caps what a workflow may do without human approval.
type WorkflowAutonomy struct {
	MaxAutoTier               int          `json:"max_auto_tier"`
	RequireApprovalForActions []ActionType `json:"require_approval_for_actions,omitempty"`
}

// DefaultAutonomy returns the autonomy policy used when a definition
// omits the block.
func DefaultAutonomy() WorkflowAutonomy {
	return WorkflowAutonomy{MaxAutoTier: 1}
}

// RequiresApprovalFor reports whether the action type is force-gated by
// the policy, independent of its risk tier.
func (a WorkflowAutonomy) RequiresApprovalFor(t ActionType) bool {
	for _, forced := range a.RequireApprovalForActions {
		if forced == t {
			return true
		}
	}
	return false
}

// WorkflowDefinition is the validated, typed form of a workflow
// definition document. Treat values as immutable after validation.
type WorkflowDefinition struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Enabled         bool                `json:"enabled"`
	Trigger         WorkflowTrigger     `json:"trigger"`
	Conditions      []WorkflowCondition `json:"conditions,omitempty"`
	Actions         []WorkflowAction    `json:"actions"`
	MaxRunsPerDay   int                 `json:"max_runs_per_day,omitempty"`
	CooldownMinutes int                 `json:"cooldown_minutes,omitempty"`
	Autonomy        WorkflowAutonomy    `json:"autonomy"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
}

// ManagedVerticalPack returns the pack slug from metadata, or "" when
// the definition is not pack-managed.
func (d *WorkflowDefinition) ManagedVerticalPack() string {
	v, ok := d.Metadata["vertical_pack"].(string)
	if !ok {
		return ""
	}
	return v
}
