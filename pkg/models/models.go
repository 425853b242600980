package models

import (
	"sort"
	"strings"
	"time"
)

// ParticipantKind tags the owner of a ticket or the target of a state's
// participant spec. Deferred kinds (Field, ParentField, Variable) are
// resolved away before a ticket header is ever written; only the first
// five, or 0 for a state with no participant, ever appear at rest.
type ParticipantKind int

const (
	ParticipantPersonal ParticipantKind = iota + 1
	ParticipantMulti
	ParticipantDept
	ParticipantRole
	ParticipantRobot
	ParticipantField
	ParticipantParentField
	ParticipantVariable
)

func (k ParticipantKind) String() string {
	switch k {
	case ParticipantPersonal:
		return "personal"
	case ParticipantMulti:
		return "multi"
	case ParticipantDept:
		return "dept"
	case ParticipantRole:
		return "role"
	case ParticipantRobot:
		return "robot"
	case ParticipantField:
		return "field"
	case ParticipantParentField:
		return "parent_field"
	case ParticipantVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Deferred reports whether kind must be resolved by the Participant
// Resolver before it can be persisted on a ticket header.
func (k ParticipantKind) Deferred() bool {
	return k == ParticipantField || k == ParticipantParentField || k == ParticipantVariable
}

// ParticipantSpec is the (kind, value) pair carried by a state or
// transition target. value is interpreted per kind (§3.3).
type ParticipantSpec struct {
	Kind  ParticipantKind `json:"participant_type_id"`
	Value string          `json:"participant"`
}

// Ticket is the ticket header row (§3.1).
type Ticket struct {
	ID                  int64           `json:"id" db:"id"`
	SN                  string          `json:"sn" db:"sn"`
	Title               string          `json:"title" db:"title"`
	WorkflowID          int64           `json:"workflow_id" db:"workflow_id"`
	StateID             int64           `json:"state_id" db:"state_id"`
	ParentTicketID       *int64          `json:"parent_ticket_id,omitempty" db:"parent_ticket_id"`
	ParentTicketStateID  *int64          `json:"parent_ticket_state_id,omitempty" db:"parent_ticket_state_id"`
	ParticipantTypeID    ParticipantKind `json:"participant_type_id" db:"participant_type_id"`
	Participant          string          `json:"participant" db:"participant"`
	Creator              string          `json:"creator" db:"creator"`
	Relation             string          `json:"relation" db:"relation"`
	IsDeleted            bool            `json:"is_deleted" db:"is_deleted"`
	GmtCreated           time.Time       `json:"gmt_created" db:"gmt_created"`
	GmtModified          time.Time       `json:"gmt_modified" db:"gmt_modified"`
}

// RelationSet returns the ticket's relation column tokenized into a set.
// Business logic must never compare the raw comma-joined string
// directly (per §9's re-architecture note on set-valued accessors).
func (t *Ticket) RelationSet() map[string]struct{} {
	return splitSet(t.Relation)
}

// HasRelation reports whether username is a member of the ticket's
// relation set.
func (t *Ticket) HasRelation(username string) bool {
	_, ok := t.RelationSet()[username]
	return ok
}

// MergeRelation adds usernames to the ticket's relation column,
// de-duplicated, and returns the canonicalized comma-joined string.
// Applying the same addition twice is idempotent.
func (t *Ticket) MergeRelation(usernames ...string) string {
	set := t.RelationSet()
	for _, u := range usernames {
		if u == "" {
			continue
		}
		set[u] = struct{}{}
	}
	t.Relation = joinSet(set)
	return t.Relation
}

// FieldType selects the typed column a custom field value is stored in
// (§3.2). Modeled as a tagged variant rather than a long conditional
// ladder, per §9.
type FieldType int

const (
	FieldTypeStr FieldType = iota + 1
	FieldTypeInt
	FieldTypeFloat
	FieldTypeBool
	FieldTypeDate
	FieldTypeDatetime
	FieldTypeRadio
	FieldTypeCheckbox
	FieldTypeSelect
	FieldTypeMultiSelect
	FieldTypeText
	FieldTypeUsername
)

// FieldAttribute is the per-state visibility/mutability of a custom
// field, taken from a state's state_field_str (§4.B).
type FieldAttribute int

const (
	FieldReadOnly FieldAttribute = iota + 1
	FieldReadWrite
	FieldRequired
)

func (a FieldAttribute) String() string {
	switch a {
	case FieldReadOnly:
		return "read_only"
	case FieldReadWrite:
		return "read_write"
	case FieldRequired:
		return "required"
	default:
		return "unknown"
	}
}

// CustomFieldValue is one sparse (ticket, field_key) row (§3.2). Exactly
// one of the typed pointer fields is meaningful, selected by FieldType.
type CustomFieldValue struct {
	ID             int64      `json:"id" db:"id"`
	TicketID       int64      `json:"ticket_id" db:"ticket_id"`
	FieldKey       string     `json:"field_key" db:"field_key"`
	FieldType      FieldType  `json:"field_type_id" db:"field_type_id"`
	ValueChar       *string    `json:"value_char,omitempty" db:"value_char"`
	ValueInt        *int64     `json:"value_int,omitempty" db:"value_int"`
	ValueFloat      *float64   `json:"value_float,omitempty" db:"value_float"`
	ValueBool       *bool      `json:"value_bool,omitempty" db:"value_bool"`
	ValueDate       *time.Time `json:"value_date,omitempty" db:"value_date"`
	ValueDatetime   *time.Time `json:"value_datetime,omitempty" db:"value_datetime"`
	ValueRadio      *string    `json:"value_radio,omitempty" db:"value_radio"`
	ValueCheckbox   *string    `json:"value_checkbox,omitempty" db:"value_checkbox"`
	ValueSelect     *string    `json:"value_select,omitempty" db:"value_select"`
	ValueMultiSelect *string   `json:"value_multi_select,omitempty" db:"value_multi_select"`
	ValueText       *string    `json:"value_text,omitempty" db:"value_text"`
	ValueUsername   *string    `json:"value_username,omitempty" db:"value_username"`
	IsDeleted       bool       `json:"is_deleted" db:"is_deleted"`
	GmtCreated      time.Time  `json:"gmt_created" db:"gmt_created"`
	GmtModified     time.Time  `json:"gmt_modified" db:"gmt_modified"`
}

// FlowLogEntry is one append-only audit record (§3.4). TransitionID==0
// marks a forced state change.
type FlowLogEntry struct {
	ID                int64     `json:"id" db:"id"`
	TicketID          int64     `json:"ticket_id" db:"ticket_id"`
	StateID           int64     `json:"state_id" db:"state_id"`
	TransitionID      int64     `json:"transition_id" db:"transition_id"`
	ParticipantTypeID ParticipantKind `json:"participant_type_id" db:"participant_type_id"`
	Participant       string    `json:"participant" db:"participant"`
	Suggestion        string    `json:"suggestion" db:"suggestion"`
	IsDeleted         bool      `json:"is_deleted" db:"is_deleted"`
	GmtCreated        time.Time `json:"gmt_created" db:"gmt_created"`
}

func splitSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				set[s[start:i]] = struct{}{}
			}
			start = i + 1
		}
	}
	return set
}

func joinSet(set map[string]struct{}) string {
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
