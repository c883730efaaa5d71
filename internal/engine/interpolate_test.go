package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantori/flowgate/pkg/schema"
)

func interpEvent() schema.EventContext {
	return schema.EventContext{
		Type:    "lead.created",
		Channel: "web",
		Payload: map[string]any{
			"lead_id": "lead-9",
			"score":   42.0,
			"contact": map[string]any{"name": "Dana"},
		},
	}
}

func TestResolveParamsWholeTokenKeepsType(t *testing.T) {
	interp := NewInterpolator()

	params, err := interp.ResolveParams(map[string]any{
		"lead":  "${{ payload.lead_id }}",
		"score": "${{ payload.score }}",
	}, interpEvent())
	require.NoError(t, err)

	assert.Equal(t, "lead-9", params["lead"])
	assert.Equal(t, 42.0, params["score"])
}

func TestResolveParamsMixedContentStringifies(t *testing.T) {
	interp := NewInterpolator()

	params, err := interp.ResolveParams(map[string]any{
		"title": "Call ${{ payload.contact.name }} about ${{ event.type }}",
	}, interpEvent())
	require.NoError(t, err)

	assert.Equal(t, "Call Dana about lead.created", params["title"])
}

func TestResolveParamsNestedStructures(t *testing.T) {
	interp := NewInterpolator()

	params, err := interp.ResolveParams(map[string]any{
		"body": map[string]any{
			"channel": "${{ event.channel }}",
			"tags":    []any{"new", "${{ payload.lead_id }}"},
		},
		"count": 3,
	}, interpEvent())
	require.NoError(t, err)

	body := params["body"].(map[string]any)
	assert.Equal(t, "web", body["channel"])
	assert.Equal(t, []any{"new", "lead-9"}, body["tags"])
	assert.Equal(t, 3, params["count"])
}

func TestResolveParamsPassthrough(t *testing.T) {
	interp := NewInterpolator()

	in := map[string]any{"plain": "no tokens here"}
	out, err := interp.ResolveParams(in, interpEvent())
	require.NoError(t, err)
	assert.Equal(t, "no tokens here", out["plain"])
}

func TestResolveParamsErrors(t *testing.T) {
	interp := NewInterpolator()

	_, err := interp.ResolveParams(map[string]any{"a": "${{ payload.lead_id"}, interpEvent())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = interp.ResolveParams(map[string]any{"a": "${{  }}"}, interpEvent())
	require.Error(t, err)

	_, err = interp.ResolveParams(map[string]any{"a": "${{ payload.( }}"}, interpEvent())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
