// Package catalog implements the Workflow Catalog contract (§4.B): the
// external collaborator that returns state, transition, and
// custom-field schema by id. In this repository it is backed by
// sqlite (Store in catalog.go) and fed by a YAML/JSON definition
// loader, but the core (internal/transition, internal/permission)
// depends only on the Catalog interface below.
package catalog

import (
	"encoding/json"
	"errors"

	"ticketflow/pkg/models"
)

// Definition is the on-disk/authoring shape of a workflow: a start
// pseudo-state plus a graph of states and transitions, deserialized
// from a *.workflow.yaml / *.workflow.json file (internal/catalog.Loader)
// and persisted through Store.PutDefinition.
type Definition struct {
	ID                  string                 `json:"id" yaml:"id"`
	Name                string                 `json:"name" yaml:"name"`
	DisplayFormStr      string                 `json:"display_form_str,omitempty" yaml:"display_form_str,omitempty"`
	ViewPermissionCheck bool                   `json:"view_permission_check" yaml:"view_permission_check"`
	States              []StateSpec            `json:"states" yaml:"states"`
	CustomFields        []models.FieldSchema   `json:"custom_fields,omitempty" yaml:"custom_fields,omitempty"`
}

// StateSpec is one state in a Definition's graph. The synthetic state
// named "start" (StableID() == "start") is the pseudo-state whose
// outgoing transitions are the ticket's possible creation forms (§3.5).
type StateSpec struct {
	ID                string                    `json:"id,omitempty" yaml:"id,omitempty"`
	Name              string                    `json:"name,omitempty" yaml:"name,omitempty"`
	IsHidden          bool                      `json:"is_hidden,omitempty" yaml:"is_hidden,omitempty"`
	ParticipantType   string                    `json:"participant_type,omitempty" yaml:"participant_type,omitempty"`
	Participant       string                    `json:"participant,omitempty" yaml:"participant,omitempty"`
	Fields            map[string]string         `json:"fields,omitempty" yaml:"fields,omitempty"` // field_key -> read_only|read_write|required
	Transitions       []TransitionSpec          `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// StableID returns the normalized identifier for a state, falling back
// to Name when ID is unset (authoring convenience).
func (s StateSpec) StableID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}

// TransitionSpec is one outgoing edge of a StateSpec.
type TransitionSpec struct {
	Name        string `json:"name" yaml:"name"`
	Destination string `json:"destination" yaml:"destination"`
}

// ValidationIssue is a structured validation error or warning.
type ValidationIssue struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// ValidationResult aggregates validation errors and warnings.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// ErrValidation indicates the definition failed validation.
var ErrValidation = errors.New("workflow validation failed")

// MarshalDefinition re-serializes a parsed definition for persistence.
func MarshalDefinition(def *Definition) (json.RawMessage, error) {
	if def == nil {
		return nil, nil
	}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// fieldAttrFromString maps an authoring-time field attribute name to
// the models.FieldAttribute enum used once the definition is loaded.
func fieldAttrFromString(s string) (models.FieldAttribute, bool) {
	switch s {
	case "read_only":
		return models.FieldReadOnly, true
	case "read_write":
		return models.FieldReadWrite, true
	case "required":
		return models.FieldRequired, true
	default:
		return 0, false
	}
}

// participantKindFromString maps an authoring-time participant_type
// name to the models.ParticipantKind enum.
func participantKindFromString(s string) (models.ParticipantKind, bool) {
	switch s {
	case "personal":
		return models.ParticipantPersonal, true
	case "multi":
		return models.ParticipantMulti, true
	case "dept":
		return models.ParticipantDept, true
	case "role":
		return models.ParticipantRole, true
	case "robot":
		return models.ParticipantRobot, true
	case "field":
		return models.ParticipantField, true
	case "parent_field":
		return models.ParticipantParentField, true
	case "variable":
		return models.ParticipantVariable, true
	default:
		return 0, false
	}
}
