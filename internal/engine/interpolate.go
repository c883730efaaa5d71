package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/vantori/flowgate/pkg/schema"
)

// Interpolator resolves ${{...}} references in action params against
// the triggering event. Available namespaces: event.type, event.channel
// and payload.<path>. Compiled expressions are cached.
type Interpolator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewInterpolator creates an Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{cache: make(map[string]*vm.Program)}
}

// ResolveParams returns a copy of params with every ${{...}} reference
// in string values resolved. Non-string values and strings without
// references pass through unchanged.
func (interp *Interpolator) ResolveParams(params map[string]any, event schema.EventContext) (map[string]any, error) {
	if len(params) == 0 {
		return params, nil
	}
	env := map[string]any{
		"event": map[string]any{
			"type":    event.Type,
			"channel": event.Channel,
		},
		"payload": event.Payload,
	}
	resolved, err := interp.resolveValue(params, env)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func (interp *Interpolator) resolveValue(v any, env map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return interp.resolveString(val, env)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			resolved, err := interp.resolveValue(inner, env)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			resolved, err := interp.resolveValue(inner, env)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString scans for ${{...}} tokens. A string that is exactly one
// token resolves to the referenced value with its type preserved; mixed
// content stringifies each resolved value in place.
func (interp *Interpolator) resolveString(input string, env map[string]any) (any, error) {
	if !strings.Contains(input, "${{") {
		return input, nil
	}

	var result strings.Builder
	result.Grow(len(input))
	first := true
	var sole any

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			first = false
			break
		}
		result.WriteString(input[i : i+idx])
		if idx > 0 {
			first = false
		}
		start := i + idx + 3

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeValidation, "unclosed ${{ expression")
		}
		end += start

		src := strings.TrimSpace(input[start:end])
		if src == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{  }}")
		}

		val, err := interp.eval(src, env)
		if err != nil {
			return nil, err
		}
		if first && end+2 == len(input) {
			sole = val
		}
		result.WriteString(stringifyInline(val))
		first = false
		i = end + 2
	}

	if sole != nil {
		return sole, nil
	}
	return result.String(), nil
}

func (interp *Interpolator) eval(src string, env map[string]any) (any, error) {
	interp.mu.RLock()
	program, ok := interp.cache[src]
	interp.mu.RUnlock()

	if !ok {
		var err error
		program, err = expr.Compile(src, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid expression ${{%s}}: %s", src, err.Error()).WithCause(err)
		}
		interp.mu.Lock()
		interp.cache[src] = program
		interp.mu.Unlock()
	}

	val, err := vm.Run(program, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expression ${{%s}} failed: %s", src, err.Error()).WithCause(err)
	}
	return val, nil
}

func stringifyInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
