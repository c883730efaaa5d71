package engine

import (
	"fmt"

	"github.com/vantori/flowgate/pkg/schema"
)

// originKey is the payload field carrying workflow provenance on events
// emitted by action execution.
const originKey = "workflow_origin"

// EventDepth reads the automation depth from an event payload. Events
// from outside the engine have no origin and depth 0. A negative depth
// in the payload also reads as 0, so a crafted origin cannot buy extra
// hops before the loop guard trips.
func EventDepth(payload map[string]any) int {
	origin, ok := payload[originKey].(map[string]any)
	if !ok {
		return 0
	}
	depth := 0
	switch d := origin["depth"].(type) {
	case float64:
		depth = int(d)
	case int:
		depth = d
	}
	if depth < 0 {
		return 0
	}
	return depth
}

// OriginRunID reads the originating workflow run ID from an event
// payload, empty for external events.
func OriginRunID(payload map[string]any) string {
	origin, ok := payload[originKey].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := origin["workflow_run_id"].(string)
	return id
}

// StampOrigin returns a copy of the payload with workflow provenance
// set. Depth is the emitting event's depth plus one, so chains of
// workflow-emitted events count toward the loop guard.
func StampOrigin(payload map[string]any, workflowRunID string, depth int) map[string]any {
	stamped := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		stamped[k] = v
	}
	stamped[originKey] = map[string]any{
		"workflow_run_id": workflowRunID,
		"depth":           depth,
	}
	return stamped
}

// IdempotencyKey builds the org-scoped execution key for an action run.
// Its uniqueness constraint in the store is what makes dispatch
// at-most-once.
func IdempotencyKey(orgID, workflowRunID string, actionType schema.ActionType, actionRunID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", orgID, workflowRunID, actionType, actionRunID)
}
