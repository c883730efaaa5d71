package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/vantori/flowgate/pkg/schema"
)

// definitionSchemaJSON is the JSON Schema for WorkflowDefinition
// validation. Embedded as a constant to avoid filesystem dependencies.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowgate.dev/schemas/workflow-definition.json",
  "type": "object",
  "required": ["id", "name", "trigger", "actions"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1,
      "maxLength": 120
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 255
    },
    "enabled": { "type": "boolean" },
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["EVENT", "SCHEDULE"]
        },
        "event_type": { "type": "string" },
        "cron": { "type": "string" }
      },
      "additionalProperties": false
    },
    "conditions": {
      "type": "array",
      "items": { "$ref": "#/$defs/condition" }
    },
    "actions": {
      "type": "array",
      "minItems": 1,
      "maxItems": 20,
      "items": { "$ref": "#/$defs/action" }
    },
    "max_runs_per_day": {
      "type": "integer",
      "minimum": 1,
      "maximum": 1000
    },
    "cooldown_minutes": {
      "type": "integer",
      "minimum": 0,
      "maximum": 1440
    },
    "autonomy": {
      "type": "object",
      "properties": {
        "max_auto_tier": {
          "type": "integer",
          "minimum": 0,
          "maximum": 4
        },
        "require_approval_for_actions": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "condition": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": [
            "event.type_equals",
            "event.channel_equals",
            "event.payload_match",
            "risk_tier_lte",
            "org_flag_enabled",
            "business_hours",
            "vertical_pack_equals"
          ]
        },
        "key": { "type": "string" },
        "value": {},
        "max_tier": {
          "type": "integer",
          "minimum": 0,
          "maximum": 4
        },
        "flag_key": { "type": "string" },
        "start_hour": {
          "type": "integer",
          "minimum": 0,
          "maximum": 23
        },
        "end_hour": {
          "type": "integer",
          "minimum": 0,
          "maximum": 23
        },
        "pack_slug": { "type": "string" }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": [
            "CREATE_TASK",
            "ROUTE_LEAD",
            "APPLY_NURTURE_PLAN",
            "CREATE_CONTENT_DRAFT",
            "SCHEDULE_PUBLISH",
            "RUN_PRESENCE_AUDIT",
            "DRAFT_REPLY",
            "TAG_LEAD",
            "WEBHOOK"
          ]
        },
        "params_json": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator performs structural validation of raw workflow
// definition documents against the embedded schema. Safe for concurrent use.
type JSONSchemaValidator struct {
	definitionSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded definition schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	if err := c.AddResource("https://flowgate.dev/schemas/workflow-definition.json", doc); err != nil {
		return nil, fmt.Errorf("add definition schema resource: %w", err)
	}

	compiled, err := c.Compile("https://flowgate.dev/schemas/workflow-definition.json")
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}

	return &JSONSchemaValidator{definitionSchema: compiled}, nil
}

// ValidateRaw validates a raw definition document, collecting every
// schema violation into the result.
func (v *JSONSchemaValidator) ValidateRaw(raw []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(raw) == 0 {
		result.AddError("/", schema.ErrCodeValidation, "workflow definition is empty")
		return result
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return result
	}

	if err := v.definitionSchema.Validate(doc); err != nil {
		for _, violation := range collectViolations(err) {
			result.AddError(violation.path, schema.ErrCodeValidation, violation.message)
		}
	}
	return result
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a jsonschema.ValidationError tree and
// collects leaf error messages with their instance locations.
func collectViolations(err error) []violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []violation{{path: "/", message: err.Error()}}
	}
	return collectLeaves(verr)
}

func collectLeaves(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectLeaves(cause)...)
	}
	return out
}

// decodeDefinition unmarshals a raw document into the typed model,
// applying the defaults a stored definition relies on. Numbers decode
// as float64 so condition values compare consistently against event
// payload values.
func decodeDefinition(raw []byte) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{
		Enabled:       true,
		MaxRunsPerDay: 100,
		Autonomy:      schema.DefaultAutonomy(),
	}
	if err := json.Unmarshal(raw, def); err != nil {
		return nil, err
	}
	return def, nil
}
