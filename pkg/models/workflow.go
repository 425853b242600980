package models

import "encoding/json"

// Workflow is the top-level workflow document (§4.B, GLOSSARY).
type Workflow struct {
	ID                 int64  `json:"id"`
	WorkflowID         string `json:"workflow_id"`
	Name               string `json:"name"`
	DisplayFormStr     string `json:"display_form_str"`
	ViewPermissionCheck bool  `json:"view_permission_check"`
	IsDeleted          bool   `json:"is_deleted"`
}

// State is a node in the workflow graph. StateFieldStr carries the
// per-field attribute map for this state, parsed into FieldAttrs.
type State struct {
	ID                int64           `json:"id"`
	WorkflowID        int64           `json:"workflow_id"`
	Name              string          `json:"name"`
	IsHidden          bool            `json:"is_hidden"`
	ParticipantTypeID ParticipantKind `json:"participant_type_id"`
	Participant       string          `json:"participant"`
	StateFieldStr     json.RawMessage `json:"state_field_str"`
}

// FieldAttrs parses StateFieldStr into field_key -> FieldAttribute.
func (s *State) FieldAttrs() (map[string]FieldAttribute, error) {
	if len(s.StateFieldStr) == 0 {
		return map[string]FieldAttribute{}, nil
	}
	raw := map[string]FieldAttribute{}
	if err := json.Unmarshal(s.StateFieldStr, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DisplayFields parses DisplayFormStr, the ordered list of field keys
// shown to a view-only reader (§6.2), into a plain slice.
func (w *Workflow) DisplayFields() ([]string, error) {
	if w.DisplayFormStr == "" {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(w.DisplayFormStr), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// Transition is a directed edge out of a state.
type Transition struct {
	ID                int64  `json:"id"`
	WorkflowID        int64  `json:"workflow_id"`
	SourceStateID     int64  `json:"source_state_id"`
	DestinationStateID int64 `json:"destination_state_id"`
	Name              string `json:"name"`
}

// FieldSchema describes one entry of a workflow's custom-field schema
// (§4.B `custom_field_schema`). Placeholder and BoolDisplay are
// supplemented display metadata (SPEC_FULL §5) beyond the three
// attributes named in spec.md §4.B.
type FieldSchema struct {
	FieldKey    string    `json:"field_key"`
	Name        string    `json:"name"`
	FieldType   FieldType `json:"field_type_id"`
	OrderID     int64     `json:"order_id"`
	FieldChoice string    `json:"field_choice,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	BoolDisplay string    `json:"bool_field_display,omitempty"`
}
