package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	internaldb "ticketflow/internal/db"
	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tdb, err := internaldb.NewTest(t)
	require.NoError(t, err)
	return New(tdb.Conn())
}

func seedWorkflow(t *testing.T, s *Store) int64 {
	t.Helper()
	res, err := s.db.Exec(`INSERT INTO workflows (workflow_id, name, display_form_str, view_permission_check, checkout_roles)
		VALUES ('bug', 'Bug Workflow', '{}', 1, '3,4')`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestWorkflowByIDAndCheckoutRoles(t *testing.T) {
	s := newTestStore(t)
	id := seedWorkflow(t, s)

	wf, err := s.WorkflowByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "Bug Workflow", wf.Name)
	require.True(t, wf.ViewPermissionCheck)

	roles, err := s.CheckoutRoles(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "3,4", roles)
}

func TestWorkflowByIDMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WorkflowByID(context.Background(), 999)
	require.True(t, ticketerr.Is(err, ticketerr.NotFound))
}

func TestStateByIDAndStartStateAndTransitions(t *testing.T) {
	s := newTestStore(t)
	wfID := seedWorkflow(t, s)

	_, err := s.db.Exec(`INSERT INTO states (id, workflow_id, state_key, name, is_hidden, participant_type_id, participant, state_field_str)
		VALUES (1, ?, 'start', 'Start', 0, 1, '', '{}'), (2, ?, 'review', 'Review', 0, 1, 'alice', '{}')`, wfID, wfID)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO transitions (id, workflow_id, source_state_id, destination_state_id, name)
		VALUES (1, ?, 1, 2, 'submit')`, wfID)
	require.NoError(t, err)

	start, err := s.StartState(context.Background(), wfID)
	require.NoError(t, err)
	require.Equal(t, int64(1), start.ID)

	st, err := s.StateByID(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "Review", st.Name)

	name, err := s.StateName(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "Review", name)

	transitions, err := s.StateTransitions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	require.Equal(t, "submit", transitions[0].Name)

	tr, err := s.TransitionByID(context.Background(), transitions[0].ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), tr.DestinationStateID)
}

func TestStatesByWorkflowIDReturnsAllStatesInOrder(t *testing.T) {
	s := newTestStore(t)
	wfID := seedWorkflow(t, s)

	_, err := s.db.Exec(`INSERT INTO states (id, workflow_id, state_key, name, is_hidden, participant_type_id, participant, state_field_str)
		VALUES (1, ?, 'start', 'Start', 0, 1, '', '{}'), (2, ?, 'review', 'Review', 1, 1, 'alice', '{}'), (3, ?, 'done', 'Done', 0, 1, '', '{}')`,
		wfID, wfID, wfID)
	require.NoError(t, err)

	states, err := s.StatesByWorkflowID(context.Background(), wfID)
	require.NoError(t, err)
	require.Len(t, states, 3)
	require.Equal(t, "Start", states[0].Name)
	require.Equal(t, "Review", states[1].Name)
	require.True(t, states[1].IsHidden)
	require.Equal(t, "Done", states[2].Name)
}

func TestTransitionByIDMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.TransitionByID(context.Background(), 999)
	require.True(t, ticketerr.Is(err, ticketerr.NotFound))
}

func TestCustomFieldSchema(t *testing.T) {
	s := newTestStore(t)
	wfID := seedWorkflow(t, s)

	_, err := s.db.Exec(`INSERT INTO custom_field_schema (workflow_id, field_key, name, field_type_id, order_id, field_choice, placeholder, bool_field_display)
		VALUES (?, 'severity', 'Severity', ?, 1, 'low,high', 'pick one', '')`, wfID, int(models.FieldTypeRadio))
	require.NoError(t, err)

	schema, err := s.CustomFieldSchema(context.Background(), wfID)
	require.NoError(t, err)
	require.Contains(t, schema, "severity")
	require.Equal(t, models.FieldTypeRadio, schema["severity"].FieldType)
	require.Equal(t, "low,high", schema["severity"].FieldChoice)
}

func newWorkflowDefinition(id string) *Definition {
	return &Definition{
		ID:                  id,
		Name:                "Bug Workflow",
		ViewPermissionCheck: true,
		States: []StateSpec{
			{ID: "start", Name: "Start", Transitions: []TransitionSpec{{Name: "create", Destination: "open"}}},
			{ID: "open", Name: "Open", ParticipantType: "personal", Participant: "alice",
				Fields:      map[string]string{"severity": "required"},
				Transitions: []TransitionSpec{{Name: "close", Destination: "closed"}}},
			{ID: "closed", Name: "Closed", IsHidden: true},
		},
		CustomFields: []models.FieldSchema{
			{FieldKey: "severity", Name: "Severity", FieldType: models.FieldTypeRadio, OrderID: 1, FieldChoice: "low,high"},
		},
	}
}

func TestPutDefinitionCreatesWorkflowGraph(t *testing.T) {
	s := newTestStore(t)
	def := newWorkflowDefinition("bug")

	wfID, err := s.PutDefinition(context.Background(), def)
	require.NoError(t, err)
	require.NotZero(t, wfID)

	wf, err := s.WorkflowByID(context.Background(), wfID)
	require.NoError(t, err)
	require.Equal(t, "Bug Workflow", wf.Name)
	require.True(t, wf.ViewPermissionCheck)

	start, err := s.StartState(context.Background(), wfID)
	require.NoError(t, err)
	transitions, err := s.StateTransitions(context.Background(), start.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	require.Equal(t, "create", transitions[0].Name)

	schema, err := s.CustomFieldSchema(context.Background(), wfID)
	require.NoError(t, err)
	require.Contains(t, schema, "severity")
}

func TestPutDefinitionUpdateReplacesGraphWithoutDuplicating(t *testing.T) {
	s := newTestStore(t)
	def := newWorkflowDefinition("bug")

	wfID, err := s.PutDefinition(context.Background(), def)
	require.NoError(t, err)

	updated := newWorkflowDefinition("bug")
	updated.Name = "Bug Workflow v2"
	updated.States = []StateSpec{
		{ID: "start", Name: "Start", Transitions: []TransitionSpec{{Name: "create", Destination: "triage"}}},
		{ID: "triage", Name: "Triage"},
	}
	updated.CustomFields = nil

	wfID2, err := s.PutDefinition(context.Background(), updated)
	require.NoError(t, err)
	require.Equal(t, wfID, wfID2, "same workflow id must update in place, not create a second row")

	wf, err := s.WorkflowByID(context.Background(), wfID)
	require.NoError(t, err)
	require.Equal(t, "Bug Workflow v2", wf.Name)

	var stateCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM states WHERE workflow_id = ?`, wfID).Scan(&stateCount))
	require.Equal(t, 2, stateCount)

	var transitionCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM transitions WHERE workflow_id = ?`, wfID).Scan(&transitionCount))
	require.Equal(t, 1, transitionCount)

	var fieldCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM custom_field_schema WHERE workflow_id = ?`, wfID).Scan(&fieldCount))
	require.Equal(t, 0, fieldCount)

	start, err := s.StartState(context.Background(), wfID)
	require.NoError(t, err)
	transitions, err := s.StateTransitions(context.Background(), start.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	require.Equal(t, "triage", func() string {
		dest, err := s.StateByID(context.Background(), transitions[0].DestinationStateID)
		require.NoError(t, err)
		return dest.Name
	}())
}

func TestPutDefinitionRejectsTransitionToUnknownState(t *testing.T) {
	s := newTestStore(t)
	def := &Definition{
		ID:   "broken",
		Name: "Broken",
		States: []StateSpec{
			{ID: "start", Name: "Start", Transitions: []TransitionSpec{{Name: "go", Destination: "nowhere"}}},
		},
	}

	_, err := s.PutDefinition(context.Background(), def)
	require.True(t, ticketerr.Is(err, ticketerr.InvariantViolation))
}

func TestValidateDefinitionRequiresStartState(t *testing.T) {
	raw := []byte(`{"id":"bug","states":[{"id":"open","name":"Open"}]}`)
	_, result, err := ValidateDefinition(raw)
	require.ErrorIs(t, err, ErrValidation)

	var found bool
	for _, issue := range result.Errors {
		if issue.Code == "MISSING_START_STATE" {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateDefinitionRejectsUnknownTransitionTarget(t *testing.T) {
	raw := []byte(`{"id":"bug","states":[
		{"id":"start","name":"Start","transitions":[{"name":"go","destination":"ghost"}]}
	]}`)
	_, result, err := ValidateDefinition(raw)
	require.ErrorIs(t, err, ErrValidation)

	var found bool
	for _, issue := range result.Errors {
		if issue.Code == "UNKNOWN_TRANSITION_TARGET" {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateDefinitionAcceptsWellFormedGraph(t *testing.T) {
	raw := []byte(`{
		"id": "bug",
		"name": "Bug Workflow",
		"states": [
			{"id": "start", "name": "Start", "transitions": [{"name": "create", "destination": "open"}]},
			{"id": "open", "name": "Open", "participant_type": "personal", "participant": "alice"}
		]
	}`)
	def, result, err := ValidateDefinition(raw)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Equal(t, "bug", def.ID)
	require.Len(t, def.States, 2)
}
