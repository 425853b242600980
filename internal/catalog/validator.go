package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// definitionSchema is the JSON Schema a workflow definition document
// must satisfy before graph-level validation runs. It catches the
// gross authoring mistakes (wrong types, missing required keys) that
// would otherwise surface as confusing nil-pointer errors deeper in
// ValidateDefinition.
const definitionSchema = `{
  "type": "object",
  "required": ["id", "states"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "display_form_str": {"type": "string"},
    "view_permission_check": {"type": "boolean"},
    "states": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "name": {"type": "string"},
          "is_hidden": {"type": "boolean"},
          "participant_type": {"type": "string"},
          "participant": {"type": "string"},
          "fields": {"type": "object"},
          "transitions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "destination"],
              "properties": {
                "name": {"type": "string"},
                "destination": {"type": "string"}
              }
            }
          }
        }
      }
    },
    "custom_fields": {"type": "array"}
  }
}`

var definitionSchemaLoader = gojsonschema.NewStringLoader(definitionSchema)

// ValidateDefinition parses and validates a workflow definition,
// returning both errors and warnings. raw must be JSON; Loader.LoadFile
// converts YAML files to JSON before calling it.
func ValidateDefinition(raw json.RawMessage) (*Definition, ValidationResult, error) {
	var result ValidationResult
	if len(raw) == 0 {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "EMPTY_DEFINITION",
			Path:    "/",
			Message: "workflow definition is required",
			Hint:    "pass an object with 'id' and 'states' under the definition field",
		})
		return nil, result, ErrValidation
	}

	schemaIssues, err := validateAgainstSchema(raw)
	if err != nil {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "SCHEMA_CHECK_FAILED",
			Path:    "/",
			Message: fmt.Sprintf("could not run schema validation: %v", err),
		})
		return nil, result, ErrValidation
	}
	result.Errors = append(result.Errors, schemaIssues...)

	var def Definition
	if yerr := yaml.Unmarshal(raw, &def); yerr != nil {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "INVALID_DEFINITION",
			Path:    "/",
			Message: fmt.Sprintf("failed to parse workflow definition: %v", yerr),
			Hint:    "ensure the definition is valid JSON or YAML",
		})
		return nil, result, ErrValidation
	}

	for i := range def.States {
		if def.States[i].ID == "" {
			def.States[i].ID = def.States[i].Name
		}
	}

	if def.ID == "" {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "MISSING_WORKFLOW_ID",
			Path:    "/id",
			Message: "workflows must declare a stable id",
		})
	}
	if len(def.States) == 0 {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "MISSING_STATES",
			Path:    "/states",
			Message: "at least one state is required",
		})
	}

	stateIDs := make(map[string]int)
	startIdx := -1
	for i, state := range def.States {
		pathPrefix := fmt.Sprintf("/states/%d", i)
		id := state.StableID()
		if id == "" {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "MISSING_STATE_ID",
				Path:    pathPrefix,
				Message: "each state must have an id or name",
			})
			continue
		}
		if prev, exists := stateIDs[id]; exists {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "DUPLICATE_STATE_ID",
				Path:    pathPrefix,
				Message: fmt.Sprintf("state id '%s' already used at states/%d", id, prev),
			})
			continue
		}
		stateIDs[id] = i
		if id == "start" {
			startIdx = i
		}
	}

	if startIdx == -1 {
		result.Errors = append(result.Errors, ValidationIssue{
			Code:    "MISSING_START_STATE",
			Path:    "/states",
			Message: "a state with id 'start' is required as the creation pseudo-state",
		})
	}

	for i, state := range def.States {
		pathPrefix := fmt.Sprintf("/states/%d", i)
		id := state.StableID()
		if id == "" {
			continue
		}
		if len(state.Transitions) == 0 && id != "start" {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Code:    "NO_OUTGOING_TRANSITIONS",
				Path:    pathPrefix + "/transitions",
				Message: "state has no outgoing transitions; handle permission will report no action needed",
			})
		}
		for j, tr := range state.Transitions {
			trPath := fmt.Sprintf("%s/transitions/%d", pathPrefix, j)
			if tr.Destination == "" {
				result.Errors = append(result.Errors, ValidationIssue{
					Code:    "MISSING_DESTINATION",
					Path:    trPath + "/destination",
					Message: "transition must name a destination state",
				})
				continue
			}
			if _, ok := stateIDs[tr.Destination]; !ok {
				result.Errors = append(result.Errors, ValidationIssue{
					Code:    "UNKNOWN_TRANSITION_TARGET",
					Path:    trPath + "/destination",
					Message: fmt.Sprintf("transitions to unknown state '%s'", tr.Destination),
				})
			}
		}
		if state.ParticipantType != "" {
			if _, ok := participantKindFromString(state.ParticipantType); !ok {
				result.Errors = append(result.Errors, ValidationIssue{
					Code:    "UNKNOWN_PARTICIPANT_TYPE",
					Path:    pathPrefix + "/participant_type",
					Message: fmt.Sprintf("unknown participant_type '%s'", state.ParticipantType),
				})
			}
		}
		for key, attr := range state.Fields {
			if _, ok := fieldAttrFromString(attr); !ok {
				result.Errors = append(result.Errors, ValidationIssue{
					Code:    "UNKNOWN_FIELD_ATTRIBUTE",
					Path:    fmt.Sprintf("%s/fields/%s", pathPrefix, key),
					Message: fmt.Sprintf("unknown field attribute '%s', want read_only|read_write|required", attr),
				})
			}
		}
	}

	seenField := make(map[string]int)
	for i, f := range def.CustomFields {
		path := fmt.Sprintf("/custom_fields/%d", i)
		if f.FieldKey == "" {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "MISSING_FIELD_KEY",
				Path:    path,
				Message: "custom field entry must have a field_key",
			})
			continue
		}
		if prev, exists := seenField[f.FieldKey]; exists {
			result.Errors = append(result.Errors, ValidationIssue{
				Code:    "DUPLICATE_FIELD_KEY",
				Path:    path,
				Message: fmt.Sprintf("field_key '%s' already declared at custom_fields/%d", f.FieldKey, prev),
			})
			continue
		}
		seenField[f.FieldKey] = i
	}

	if len(result.Errors) > 0 {
		return &def, result, ErrValidation
	}
	return &def, result, nil
}

func validateAgainstSchema(raw json.RawMessage) ([]ValidationIssue, error) {
	documentLoader := gojsonschema.NewBytesLoader(raw)
	res, err := gojsonschema.Validate(definitionSchemaLoader, documentLoader)
	if err != nil {
		return nil, err
	}
	var issues []ValidationIssue
	for _, e := range res.Errors() {
		issues = append(issues, ValidationIssue{
			Code:    "SCHEMA_" + e.Type(),
			Path:    "/" + e.Field(),
			Message: e.Description(),
		})
	}
	return issues, nil
}
