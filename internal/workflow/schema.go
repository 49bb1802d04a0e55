package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// definitionSchemaJSON is the wire-shape contract for stored definitions.
// Structural rules the schema cannot express (order uniqueness, backward
// references) live in Definition.Validate.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "createdAt": {"type": "string"},
    "updatedAt": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/step"}
    }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["order", "kind"],
      "properties": {
        "order": {"type": "integer", "minimum": 1},
        "kind": {"enum": ["local", "remote"]},
        "name": {"type": "string"},
        "operation": {
          "type": "object",
          "required": ["kind"],
          "properties": {"kind": {"type": "string", "minLength": 1}}
        },
        "targetDefinitionId": {"type": "string"},
        "targetName": {"type": "string"},
        "deleteSourceFiles": {"type": "boolean"},
        "inputMapping": {
          "type": "array",
          "items": {"$ref": "#/$defs/inputBinding"}
        },
        "outputMapping": {
          "type": "array",
          "items": {"$ref": "#/$defs/outputBinding"}
        }
      },
      "allOf": [
        {
          "if": {"properties": {"kind": {"const": "local"}}},
          "then": {"required": ["operation"]}
        },
        {
          "if": {"properties": {"kind": {"const": "remote"}}},
          "then": {"required": ["targetDefinitionId"]}
        }
      ]
    },
    "inputBinding": {
      "type": "object",
      "required": ["targetParameterId", "targetType", "sourceType"],
      "properties": {
        "targetParameterId": {"type": "string", "minLength": 1},
        "targetType": {"enum": ["file", "text"]},
        "sourceType": {
          "enum": ["selected", "static", "dynamic", "previous-output", "previous-input"]
        },
        "value": {"type": "string"},
        "sourceStepOrder": {"type": "integer", "minimum": 1},
        "sourceKey": {"type": "string"},
        "sourceParameterId": {"type": "string"}
      }
    },
    "outputBinding": {
      "type": "object",
      "required": ["outputKey", "outputType"],
      "properties": {
        "outputKey": {"type": "string", "minLength": 1},
        "outputType": {"enum": ["file", "text"]},
        "parameterId": {"type": "string"},
        "outputIndex": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var definitionSchema = jsonschema.MustCompileString("definition.schema.json", definitionSchemaJSON)

// ValidateDefinition checks a definition against the schema and the
// structural rules. Malformed mappings are rejected here, at save time,
// rather than discovered mid-run.
func ValidateDefinition(def *Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode definition: %w", err)
	}
	if err := definitionSchema.Validate(doc); err != nil {
		return fmt.Errorf("definition does not match schema: %w", err)
	}
	return def.Validate()
}
