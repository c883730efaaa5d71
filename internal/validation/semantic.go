package validation

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/vantori/flowgate/pkg/schema"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// validateSemantic performs the checks JSON Schema cannot express:
// trigger/type field pairing, cron parsability, per-condition field
// requirements, and autonomy references to known action types.
func validateSemantic(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	validateTrigger(&def.Trigger, result)

	for i := range def.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		validateCondition(&def.Conditions[i], path, result)
	}

	for i, forced := range def.Autonomy.RequireApprovalForActions {
		if !isKnownActionType(forced) {
			result.AddError(fmt.Sprintf("autonomy.require_approval_for_actions[%d]", i),
				schema.ErrCodeValidation,
				fmt.Sprintf("unknown action type %q", forced))
		}
	}

	if def.CooldownMinutes > 0 && def.MaxRunsPerDay > 0 {
		if def.CooldownMinutes*def.MaxRunsPerDay > 24*60 {
			result.AddWarning("cooldown_minutes", schema.ErrCodeValidation,
				"cooldown and max_runs_per_day cannot both be reached within one day")
		}
	}

	return result
}

func validateTrigger(trigger *schema.WorkflowTrigger, result *schema.ValidationResult) {
	switch trigger.Type {
	case schema.TriggerEvent:
		if trigger.EventType == "" {
			result.AddError("trigger.event_type", schema.ErrCodeValidation,
				"event_type is required for EVENT trigger")
		}
	case schema.TriggerSchedule:
		if trigger.Cron == "" {
			result.AddError("trigger.cron", schema.ErrCodeValidation,
				"cron is required for SCHEDULE trigger")
			return
		}
		if _, err := cronParser.Parse(trigger.Cron); err != nil {
			result.AddError("trigger.cron", schema.ErrCodeValidation,
				fmt.Sprintf("invalid cron expression %q: %s", trigger.Cron, err.Error()))
		}
	}
}

// validateCondition checks that the fields a condition type depends on
// are present. Missing optional fields with documented defaults
// (business_hours, risk_tier_lte) pass without issue.
func validateCondition(cond *schema.WorkflowCondition, path string, result *schema.ValidationResult) {
	switch cond.Type {
	case schema.ConditionEventTypeEquals, schema.ConditionEventChannelEquals:
		if cond.Value == nil {
			result.AddError(path+".value", schema.ErrCodeValidation,
				fmt.Sprintf("%s requires a value", cond.Type))
		}
	case schema.ConditionEventPayloadMatch:
		if cond.Key == "" {
			result.AddError(path+".key", schema.ErrCodeValidation,
				"event.payload_match requires a key (dot path into payload_json)")
		}
	case schema.ConditionOrgFlagEnabled:
		if cond.FlagKey == "" {
			result.AddError(path+".flag_key", schema.ErrCodeValidation,
				"org_flag_enabled requires flag_key")
		}
	case schema.ConditionVerticalPackEquals:
		if cond.PackSlug == "" && cond.Value == nil {
			result.AddError(path+".pack_slug", schema.ErrCodeValidation,
				"vertical_pack_equals requires pack_slug or value")
		}
	}
}

func isKnownActionType(t schema.ActionType) bool {
	for _, known := range schema.KnownActionTypes {
		if known == t {
			return true
		}
	}
	return false
}
