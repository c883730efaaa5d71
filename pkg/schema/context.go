package schema

// EventContext is the engine's view of a triggering event. The payload
// optionally carries workflow_origin{workflow_run_id, depth} used by
// the loop guard.
type EventContext struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel"`
	Payload map[string]any `json:"payload_json,omitempty"`
}

// EvaluationContext is the immutable ambient state threaded through a
// single evaluation. It replaces any global per-org settings lookup.
type EvaluationContext struct {
	RiskTier     int            `json:"risk_tier"`
	OrgSettings  map[string]any `json:"org_settings,omitempty"`
	VerticalPack string         `json:"vertical_pack"`
	LocalHour    int            `json:"local_hour"`
}

// NewEvaluationContext returns an EvaluationContext with the defaults
// used by dry runs: midday, generic pack, tier 0.
func NewEvaluationContext() EvaluationContext {
	return EvaluationContext{
		VerticalPack: "generic",
		LocalHour:    12,
		OrgSettings:  map[string]any{},
	}
}

// ActionRequest is one action a matched evaluation asks the
// orchestrator to run, annotated by the risk gate.
type ActionRequest struct {
	ActionType       ActionType     `json:"action_type"`
	Params           map[string]any `json:"params_json,omitempty"`
	RiskTier         int            `json:"risk_tier"`
	RequiresApproval bool           `json:"requires_approval"`
}

// EvaluationResult is the outcome of evaluating one definition against
// one event. A non-match is not an error: Matched is false and
// SkippedReason explains why.
type EvaluationResult struct {
	Matched         bool            `json:"matched"`
	SkippedReason   string          `json:"skipped_reason,omitempty"`
	OverallRiskTier int             `json:"overall_risk_tier"`
	Actions         []ActionRequest `json:"actions,omitempty"`
}
