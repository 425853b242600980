package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ticketflow/internal/directory"
	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

type fakeCatalog struct {
	states        map[int64]*models.State
	transitions   map[int64][]models.Transition
	workflows     map[int64]*models.Workflow
	checkoutRoles map[int64]string
}

func (f *fakeCatalog) StateByID(ctx context.Context, stateID int64) (*models.State, error) {
	s, ok := f.states[stateID]
	if !ok {
		return nil, ticketerr.New(ticketerr.NotFound, "state %d not found", stateID)
	}
	return s, nil
}
func (f *fakeCatalog) StartState(ctx context.Context, workflowID int64) (*models.State, error) {
	return nil, nil
}
func (f *fakeCatalog) StatesByWorkflowID(ctx context.Context, workflowID int64) ([]models.State, error) {
	return nil, nil
}
func (f *fakeCatalog) StateTransitions(ctx context.Context, stateID int64) ([]models.Transition, error) {
	return f.transitions[stateID], nil
}
func (f *fakeCatalog) TransitionByID(ctx context.Context, transitionID int64) (*models.Transition, error) {
	return nil, nil
}
func (f *fakeCatalog) CustomFieldSchema(ctx context.Context, workflowID int64) (map[string]models.FieldSchema, error) {
	return nil, nil
}
func (f *fakeCatalog) WorkflowByID(ctx context.Context, workflowID int64) (*models.Workflow, error) {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return nil, ticketerr.New(ticketerr.NotFound, "workflow %d not found", workflowID)
	}
	return wf, nil
}
func (f *fakeCatalog) CheckoutRoles(ctx context.Context, workflowID int64) (string, error) {
	return f.checkoutRoles[workflowID], nil
}

type fakeDirectory struct {
	deptIDs map[string][]int64
	roleIDs map[string][]int64
}

func (f *fakeDirectory) UserByName(ctx context.Context, username string) (*directory.User, error) {
	return &directory.User{Username: username}, nil
}
func (f *fakeDirectory) UpDeptIDs(ctx context.Context, username string) ([]int64, error) {
	return f.deptIDs[username], nil
}
func (f *fakeDirectory) RoleIDs(ctx context.Context, username string) ([]int64, error) {
	return f.roleIDs[username], nil
}
func (f *fakeDirectory) DeptUsernameList(ctx context.Context, deptID int64) ([]string, error) {
	return nil, nil
}
func (f *fakeDirectory) RoleUsernameList(ctx context.Context, roleID int64) ([]string, error) {
	return nil, nil
}
func (f *fakeDirectory) UserDeptApprover(ctx context.Context, username string) (string, error) {
	return "", nil
}

func TestHandlePermissionPersonalMatch(t *testing.T) {
	cat := &fakeCatalog{
		states:      map[int64]*models.State{1: {ID: 1, Name: "open"}},
		transitions: map[int64][]models.Transition{1: {{ID: 1}}},
	}
	e := New(cat, &fakeDirectory{})
	ticket := &models.Ticket{ID: 5, StateID: 1, ParticipantTypeID: models.ParticipantPersonal, Participant: "alice"}

	require.NoError(t, e.HandlePermission(context.Background(), ticket, "alice"))
	require.True(t, ticketerr.Is(e.HandlePermission(context.Background(), ticket, "bob"), ticketerr.PermissionDenied))
}

func TestHandlePermissionDeletedTicket(t *testing.T) {
	e := New(&fakeCatalog{}, &fakeDirectory{})
	ticket := &models.Ticket{ID: 5, IsDeleted: true}
	err := e.HandlePermission(context.Background(), ticket, "alice")
	require.True(t, ticketerr.Is(err, ticketerr.NotFound))
}

func TestHandlePermissionNoTransitionsIsValidationFailed(t *testing.T) {
	cat := &fakeCatalog{states: map[int64]*models.State{1: {ID: 1, Name: "closed"}}}
	e := New(cat, &fakeDirectory{})
	ticket := &models.Ticket{ID: 5, StateID: 1}
	err := e.HandlePermission(context.Background(), ticket, "alice")
	require.True(t, ticketerr.Is(err, ticketerr.ValidationFailed))
}

func TestHandlePermissionMultiTokenMatch(t *testing.T) {
	cat := &fakeCatalog{
		states:      map[int64]*models.State{1: {ID: 1}},
		transitions: map[int64][]models.Transition{1: {{ID: 1}}},
	}
	e := New(cat, &fakeDirectory{})
	ticket := &models.Ticket{ID: 5, StateID: 1, ParticipantTypeID: models.ParticipantMulti, Participant: "u10,u100"}

	require.NoError(t, e.HandlePermission(context.Background(), ticket, "u10"))
	err := e.HandlePermission(context.Background(), ticket, "u1")
	require.True(t, ticketerr.Is(err, ticketerr.PermissionDenied), "u1 must not match inside u10/u100")
}

func TestHandlePermissionDeptMatch(t *testing.T) {
	cat := &fakeCatalog{
		states:      map[int64]*models.State{1: {ID: 1}},
		transitions: map[int64][]models.Transition{1: {{ID: 1}}},
	}
	dir := &fakeDirectory{deptIDs: map[string][]int64{"alice": {2, 1}}}
	e := New(cat, dir)
	ticket := &models.Ticket{ID: 5, StateID: 1, ParticipantTypeID: models.ParticipantDept, Participant: "1"}

	require.NoError(t, e.HandlePermission(context.Background(), ticket, "alice"))
}

func TestHandlePermissionRoleMatch(t *testing.T) {
	cat := &fakeCatalog{
		states:      map[int64]*models.State{1: {ID: 1}},
		transitions: map[int64][]models.Transition{1: {{ID: 1}}},
	}
	dir := &fakeDirectory{roleIDs: map[string][]int64{"bob": {9}}}
	e := New(cat, dir)
	ticket := &models.Ticket{ID: 5, StateID: 1, ParticipantTypeID: models.ParticipantRole, Participant: "9"}

	require.NoError(t, e.HandlePermission(context.Background(), ticket, "bob"))
}

func TestHandlePermissionRobotNeverMatches(t *testing.T) {
	cat := &fakeCatalog{
		states:      map[int64]*models.State{1: {ID: 1}},
		transitions: map[int64][]models.Transition{1: {{ID: 1}}},
	}
	e := New(cat, &fakeDirectory{})
	ticket := &models.Ticket{ID: 5, StateID: 1, ParticipantTypeID: models.ParticipantRobot}
	err := e.HandlePermission(context.Background(), ticket, "anyone")
	require.True(t, ticketerr.Is(err, ticketerr.PermissionDenied))
}

func TestHandlePermissionDeferredKindIsInvariantViolation(t *testing.T) {
	cat := &fakeCatalog{
		states:      map[int64]*models.State{1: {ID: 1}},
		transitions: map[int64][]models.Transition{1: {{ID: 1}}},
	}
	e := New(cat, &fakeDirectory{})
	ticket := &models.Ticket{ID: 5, StateID: 1, ParticipantTypeID: models.ParticipantField}
	err := e.HandlePermission(context.Background(), ticket, "alice")
	require.True(t, ticketerr.Is(err, ticketerr.InvariantViolation))
}

func TestViewPermissionSkippedWhenNotEnforced(t *testing.T) {
	cat := &fakeCatalog{workflows: map[int64]*models.Workflow{1: {ID: 1, ViewPermissionCheck: false}}}
	e := New(cat, &fakeDirectory{})
	ticket := &models.Ticket{WorkflowID: 1}
	require.NoError(t, e.ViewPermission(context.Background(), ticket, "anyone"))
}

func TestViewPermissionRequiresRelation(t *testing.T) {
	cat := &fakeCatalog{workflows: map[int64]*models.Workflow{1: {ID: 1, ViewPermissionCheck: true}}}
	e := New(cat, &fakeDirectory{})
	ticket := &models.Ticket{WorkflowID: 1, Relation: "alice,bob"}

	require.NoError(t, e.ViewPermission(context.Background(), ticket, "bob"))
	err := e.ViewPermission(context.Background(), ticket, "carol")
	require.True(t, ticketerr.Is(err, ticketerr.PermissionDenied))
}

func TestCheckoutNewPermissionOpenWhenNoRolesConfigured(t *testing.T) {
	cat := &fakeCatalog{checkoutRoles: map[int64]string{1: ""}}
	e := New(cat, &fakeDirectory{})
	require.NoError(t, e.CheckoutNewPermission(context.Background(), "anyone", 1))
}

func TestCheckoutNewPermissionRequiresRole(t *testing.T) {
	cat := &fakeCatalog{checkoutRoles: map[int64]string{1: "3,4"}}
	dir := &fakeDirectory{roleIDs: map[string][]int64{"alice": {4}}}
	e := New(cat, dir)

	require.NoError(t, e.CheckoutNewPermission(context.Background(), "alice", 1))
	err := e.CheckoutNewPermission(context.Background(), "bob", 1)
	require.True(t, ticketerr.Is(err, ticketerr.PermissionDenied))
}
