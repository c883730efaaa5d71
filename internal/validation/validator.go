// Package validation parses and validates raw workflow definition
// documents before they are stored or evaluated. Validation is pure:
// no side effects, and the caller gets every violated constraint, not
// just the first.
package validation

import (
	"encoding/json"

	"github.com/vantori/flowgate/pkg/schema"
)

// DefinitionValidator runs the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (trigger pairing, cron syntax, condition fields)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewDefinitionValidator creates a DefinitionValidator.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline on a raw definition document.
// Structural errors short-circuit: the semantic stage is skipped when
// the document does not even have the right shape.
func (v *DefinitionValidator) Validate(raw []byte) *schema.ValidationResult {
	result := v.jsonSchema.ValidateRaw(raw)
	if !result.Valid() {
		return result
	}

	def, err := decodeDefinition(raw)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	result.Merge(validateSemantic(def))
	return result
}

// Parse validates a raw definition and returns the typed model, or a
// FlowError carrying the full violation list. Stored definitions are
// re-parsed through this path before every evaluation, so a document
// corrupted after storage still fails closed.
func (v *DefinitionValidator) Parse(raw []byte) (*schema.WorkflowDefinition, error) {
	if result := v.Validate(raw); !result.Valid() {
		return nil, result.ToError()
	}
	return decodeDefinition(raw)
}

// ParseDocument is a convenience wrapper for callers holding a decoded
// JSON object rather than raw bytes.
func (v *DefinitionValidator) ParseDocument(doc map[string]any) (*schema.WorkflowDefinition, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition document is not serializable").WithCause(err)
	}
	return v.Parse(raw)
}
