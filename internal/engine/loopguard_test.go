package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vantori/flowgate/pkg/schema"
)

func TestEventDepth(t *testing.T) {
	assert.Equal(t, 0, EventDepth(nil))
	assert.Equal(t, 0, EventDepth(map[string]any{"lead_id": "x"}))

	// Decoded JSON carries depth as float64.
	payload := map[string]any{
		"workflow_origin": map[string]any{"workflow_run_id": "run-1", "depth": 2.0},
	}
	assert.Equal(t, 2, EventDepth(payload))
	assert.Equal(t, "run-1", OriginRunID(payload))
}

func TestEventDepthClampsNegative(t *testing.T) {
	payload := map[string]any{
		"workflow_origin": map[string]any{"workflow_run_id": "run-1", "depth": -1000000.0},
	}
	assert.Equal(t, 0, EventDepth(payload))

	payload["workflow_origin"].(map[string]any)["depth"] = -1
	assert.Equal(t, 0, EventDepth(payload))

	// A chain seeded with a negative depth counts from zero, not from
	// however far below zero the payload claims.
	stamped := StampOrigin(payload, "run-2", EventDepth(payload)+1)
	assert.Equal(t, 1, EventDepth(stamped))
}

func TestStampOriginDoesNotMutateInput(t *testing.T) {
	original := map[string]any{"lead_id": "lead-1"}
	stamped := StampOrigin(original, "run-7", 1)

	assert.NotContains(t, original, "workflow_origin")
	assert.Equal(t, "lead-1", stamped["lead_id"])
	assert.Equal(t, 1, EventDepth(stamped))
	assert.Equal(t, "run-7", OriginRunID(stamped))
}

func TestStampOriginOverwritesPriorOrigin(t *testing.T) {
	first := StampOrigin(map[string]any{}, "run-1", 1)
	second := StampOrigin(first, "run-2", 2)

	assert.Equal(t, 2, EventDepth(second))
	assert.Equal(t, "run-2", OriginRunID(second))
}

func TestIdempotencyKeyFormat(t *testing.T) {
	key := IdempotencyKey("org-1", "run-2", schema.ActionCreateTask, "ar-3")
	assert.Equal(t, "org-1:run-2:CREATE_TASK:ar-3", key)
}
