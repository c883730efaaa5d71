package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()
	assert.Equal(t, 10, limits.MaxActionsPerEvent)
	assert.Equal(t, 30, limits.MaxWorkflowRunsPerHour)
	assert.Equal(t, 3, limits.MaxDepth)
	assert.Equal(t, 1, limits.DefaultAutonomyMaxTier)
	assert.Equal(t, 9, limits.BusinessHoursStart)
	assert.Equal(t, 17, limits.BusinessHoursEnd)
}

func TestLimitsFromOverrides(t *testing.T) {
	// JSON-decoded settings carry numbers as float64.
	limits := LimitsFrom(map[string]any{
		"automation_limits": map[string]any{
			"max_actions_per_event":      5.0,
			"max_workflow_runs_per_hour": 100.0,
			"max_depth":                  2.0,
		},
	})
	assert.Equal(t, 5, limits.MaxActionsPerEvent)
	assert.Equal(t, 100, limits.MaxWorkflowRunsPerHour)
	assert.Equal(t, 2, limits.MaxDepth)
	assert.Equal(t, 1, limits.DefaultAutonomyMaxTier)
}

func TestLimitsFromMalformedPayload(t *testing.T) {
	assert.Equal(t, DefaultLimits(), LimitsFrom(nil))
	assert.Equal(t, DefaultLimits(), LimitsFrom(map[string]any{"automation_limits": "nope"}))
	assert.Equal(t, DefaultLimits(), LimitsFrom(map[string]any{
		"automation_limits": map[string]any{"max_depth": "three"},
	}))
}

func TestLocalHour(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, 15, LocalHour(nil, now))
	assert.Equal(t, 15, LocalHour(map[string]any{"timezone": "Narnia/Lantern"}, now))

	// 15:00 UTC is 10:00 in New York during DST.
	assert.Equal(t, 10, LocalHour(map[string]any{"timezone": "America/New_York"}, now))
}

func TestVerticalPackFrom(t *testing.T) {
	assert.Equal(t, "", VerticalPackFrom(nil))
	assert.Equal(t, "med-spa", VerticalPackFrom(map[string]any{"vertical_pack": "med-spa"}))
	assert.Equal(t, "", VerticalPackFrom(map[string]any{"vertical_pack": 7}))
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string]map[string]any{
		"org-1": {"vertical_pack": "dental"},
	})

	payload, err := src.OrgSettings(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "dental", payload["vertical_pack"])

	payload, err = src.OrgSettings(context.Background(), "org-unknown")
	require.NoError(t, err)
	assert.Empty(t, payload)
}
