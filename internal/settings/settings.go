// Package settings resolves per-org configuration: automation limits,
// feature flags, vertical pack and local time. Settings arrive as a
// loosely typed payload; every limit has a safe default so a missing or
// malformed payload never widens what automation may do.
package settings

import (
	"context"
	"time"
)

// AutomationLimits are the per-org guardrails on automated execution.
type AutomationLimits struct {
	MaxActionsPerEvent     int
	MaxWorkflowRunsPerHour int
	MaxDepth               int
	DefaultAutonomyMaxTier int
	BusinessHoursStart     int
	BusinessHoursEnd       int
}

// DefaultLimits returns the guardrails applied when an org has no
// explicit overrides.
func DefaultLimits() AutomationLimits {
	return AutomationLimits{
		MaxActionsPerEvent:     10,
		MaxWorkflowRunsPerHour: 30,
		MaxDepth:               3,
		DefaultAutonomyMaxTier: 1,
		BusinessHoursStart:     9,
		BusinessHoursEnd:       17,
	}
}

// LimitsFrom reads automation limits out of an org settings payload,
// falling back to defaults per field. Values authored as JSON numbers
// decode as float64.
func LimitsFrom(orgSettings map[string]any) AutomationLimits {
	limits := DefaultLimits()
	raw, ok := orgSettings["automation_limits"].(map[string]any)
	if !ok {
		return limits
	}
	limits.MaxActionsPerEvent = intOr(raw, "max_actions_per_event", limits.MaxActionsPerEvent)
	limits.MaxWorkflowRunsPerHour = intOr(raw, "max_workflow_runs_per_hour", limits.MaxWorkflowRunsPerHour)
	limits.MaxDepth = intOr(raw, "max_depth", limits.MaxDepth)
	limits.DefaultAutonomyMaxTier = intOr(raw, "default_autonomy_max_tier", limits.DefaultAutonomyMaxTier)
	limits.BusinessHoursStart = intOr(raw, "business_hours_start", limits.BusinessHoursStart)
	limits.BusinessHoursEnd = intOr(raw, "business_hours_end", limits.BusinessHoursEnd)
	return limits
}

// LocalHour returns the org's current local hour. An unknown or empty
// timezone falls back to UTC.
func LocalHour(orgSettings map[string]any, now time.Time) int {
	tz, _ := orgSettings["timezone"].(string)
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return now.In(loc).Hour()
		}
	}
	return now.UTC().Hour()
}

// VerticalPackFrom reads the org's managed vertical pack slug, empty
// when none is assigned.
func VerticalPackFrom(orgSettings map[string]any) string {
	slug, _ := orgSettings["vertical_pack"].(string)
	return slug
}

func intOr(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// Source provides org settings payloads. Implementations must be safe
// for concurrent use.
type Source interface {
	OrgSettings(ctx context.Context, orgID string) (map[string]any, error)
}

// StaticSource serves settings from an in-memory map keyed by org ID.
// Orgs without an entry get an empty payload, which resolves to all
// defaults.
type StaticSource struct {
	byOrg map[string]map[string]any
}

// NewStaticSource creates a StaticSource.
func NewStaticSource(byOrg map[string]map[string]any) *StaticSource {
	if byOrg == nil {
		byOrg = map[string]map[string]any{}
	}
	return &StaticSource{byOrg: byOrg}
}

func (s *StaticSource) OrgSettings(_ context.Context, orgID string) (map[string]any, error) {
	if payload, ok := s.byOrg[orgID]; ok {
		return payload, nil
	}
	return map[string]any{}, nil
}
