package engine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/vantori/flowgate/pkg/schema"
)

// Skip reasons surfaced on a non-matching evaluation.
const (
	SkipWorkflowDisabled = "workflow_disabled"
	SkipTriggerMismatch  = "trigger_mismatch"
)

// Evaluate decides whether a definition's trigger and conditions match
// the event under the given ambient context. It is pure: no side
// effects occur on any path, and a non-match is a result, not an error.
func Evaluate(def *schema.WorkflowDefinition, event schema.EventContext, ctx schema.EvaluationContext) schema.EvaluationResult {
	if !def.Enabled {
		return schema.EvaluationResult{Matched: false, SkippedReason: SkipWorkflowDisabled}
	}
	if def.Trigger.Type == schema.TriggerEvent && def.Trigger.EventType != event.Type {
		return schema.EvaluationResult{Matched: false, SkippedReason: SkipTriggerMismatch}
	}

	// Conditions are ANDed in order; the first failure short-circuits.
	for _, cond := range def.Conditions {
		if !evaluateCondition(cond, event, ctx) {
			return schema.EvaluationResult{
				Matched:       false,
				SkippedReason: fmt.Sprintf("condition_failed:%s", cond.Type),
			}
		}
	}

	actions := make([]schema.ActionRequest, 0, len(def.Actions))
	for _, action := range def.Actions {
		tier, gated := GateAction(action.Type, def.Autonomy)
		actions = append(actions, schema.ActionRequest{
			ActionType:       action.Type,
			Params:           action.Params,
			RiskTier:         tier,
			RequiresApproval: gated,
		})
	}

	return schema.EvaluationResult{
		Matched:         true,
		OverallRiskTier: OverallRiskTier(actions),
		Actions:         actions,
	}
}

func evaluateCondition(cond schema.WorkflowCondition, event schema.EventContext, ctx schema.EvaluationContext) bool {
	switch cond.Type {
	case schema.ConditionEventTypeEquals:
		return event.Type == stringValue(cond.Value)

	case schema.ConditionEventChannelEquals:
		return event.Channel == stringValue(cond.Value)

	case schema.ConditionEventPayloadMatch:
		actual := payloadLookup(event.Payload, cond.Key)
		return valueEqual(actual, cond.Value)

	case schema.ConditionRiskTierLTE:
		maxTier := 0
		if cond.MaxTier != nil {
			maxTier = *cond.MaxTier
		}
		return ctx.RiskTier <= maxTier

	case schema.ConditionOrgFlagEnabled:
		v, ok := ctx.OrgSettings[cond.FlagKey].(bool)
		return ok && v

	case schema.ConditionBusinessHours:
		startHour, endHour := 9, 17
		if cond.StartHour != nil {
			startHour = *cond.StartHour
		}
		if cond.EndHour != nil {
			endHour = *cond.EndHour
		}
		return withinWindow(ctx.LocalHour, startHour, endHour)

	case schema.ConditionVerticalPackEquals:
		expected := cond.PackSlug
		if expected == "" {
			expected = stringValue(cond.Value)
		}
		return ctx.VerticalPack == expected
	}
	return false
}

// payloadLookup walks a dot path ("a.b.c") into the payload. A missing
// segment or a non-object intermediate yields nil.
func payloadLookup(payload map[string]any, key string) any {
	if key == "" {
		return nil
	}
	var current any = payload
	for _, part := range strings.Split(key, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return current
}

// withinWindow tests an hour against a start/end window; when
// start > end the window wraps midnight.
func withinWindow(hour, startHour, endHour int) bool {
	if startHour <= endHour {
		return startHour <= hour && hour <= endHour
	}
	return hour >= startHour || hour <= endHour
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// valueEqual compares a payload value against a configured condition
// value. Both sides come from JSON decoding, so numbers are float64 and
// nested values are maps/slices; DeepEqual matches how the values were
// authored.
func valueEqual(actual, expected any) bool {
	return reflect.DeepEqual(actual, expected)
}
