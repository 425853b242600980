// Package transition implements the Transition Executor (§4.F): the
// only component allowed to mutate a ticket header. It validates
// required fields, resolves the next participant, updates the ticket,
// merges relations, and appends a flow log entry — all inside one
// database transaction per §5.
package transition

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"

	"ticketflow/internal/catalog"
	internaldb "ticketflow/internal/db"
	"ticketflow/internal/directory"
	"ticketflow/internal/fields"
	"ticketflow/internal/flowlog"
	"ticketflow/internal/logging"
	"ticketflow/internal/participant"
	"ticketflow/internal/permission"
	"ticketflow/internal/snalloc"
	"ticketflow/internal/ticket"
	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

// Executor applies ticket lifecycle operations (§4.F).
type Executor struct {
	db         *sql.DB
	locks      *internaldb.TicketWriteLocks
	catalog    catalog.Catalog
	directory  directory.Client
	fields     *fields.Store
	tickets    *ticket.Repo
	flowlog    *flowlog.Store
	resolver   *participant.Resolver
	permission *permission.Evaluator
	sn         *snalloc.Allocator
}

// New builds an Executor wiring every collaborator the Transition
// Executor depends on (§9's explicit-dependency-injection note).
func New(
	db *sql.DB,
	locks *internaldb.TicketWriteLocks,
	cat catalog.Catalog,
	dir directory.Client,
	fieldStore *fields.Store,
	tickets *ticket.Repo,
	flowLog *flowlog.Store,
	resolver *participant.Resolver,
	perm *permission.Evaluator,
	sn *snalloc.Allocator,
) *Executor {
	return &Executor{
		db: db, locks: locks, catalog: cat, directory: dir,
		fields: fieldStore, tickets: tickets, flowlog: flowLog,
		resolver: resolver, permission: perm, sn: sn,
	}
}

// NewTicketRequest is the input to NewTicket (§4.F.1, §6.1 new_ticket).
type NewTicketRequest struct {
	WorkflowID     int64
	TransitionID   int64
	Username       string
	Title          string
	Fields         map[string]string
	ParentTicketID *int64
	Suggestion     string
}

// NewTicket implements new_ticket (§4.F.1).
func (e *Executor) NewTicket(ctx context.Context, req NewTicketRequest) (int64, error) {
	if err := e.permission.CheckoutNewPermission(ctx, req.Username, req.WorkflowID); err != nil {
		return 0, err
	}

	start, err := e.catalog.StartState(ctx, req.WorkflowID)
	if err != nil {
		return 0, err
	}
	attrs, err := start.FieldAttrs()
	if err != nil {
		return 0, ticketerr.Wrap(ticketerr.InvariantViolation, err, "parse state_field_str for start state")
	}
	schema, err := e.catalog.CustomFieldSchema(ctx, req.WorkflowID)
	if err != nil {
		return 0, err
	}
	if err := validateRequired(attrs, req.Fields, schema); err != nil {
		return 0, err
	}

	transitions, err := e.catalog.StateTransitions(ctx, start.ID)
	if err != nil {
		return 0, err
	}
	chosen, err := findTransition(transitions, req.TransitionID)
	if err != nil {
		return 0, err
	}

	dest, err := e.catalog.StateByID(ctx, chosen.DestinationStateID)
	if err != nil {
		return 0, err
	}

	var parentTicket *models.Ticket
	var parentStateID *int64
	if req.ParentTicketID != nil {
		parentTicket, err = e.tickets.Get(ctx, *req.ParentTicketID)
		if err != nil {
			return 0, err
		}
		parentStateID = &parentTicket.StateID
	}

	destSpec, err := e.resolver.Resolve(ctx,
		models.ParticipantSpec{Kind: dest.ParticipantTypeID, Value: dest.Participant},
		participant.Context{ActingUser: req.Username}, nil, parentTicket, schema)
	if err != nil {
		return 0, err
	}

	sn, err := e.sn.Next(ctx)
	if err != nil {
		return 0, err
	}

	addRelation := e.relationAdditions(ctx, destSpec)

	// Creation has no existing ticket id to key a per-ticket lock on;
	// the global write mutex is sufficient serialization here.
	internaldb.SQLiteWriteMutex.Lock()
	defer internaldb.SQLiteWriteMutex.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "begin tx")
	}
	defer tx.Rollback()

	t := &models.Ticket{
		SN:                  sn,
		Title:               req.Title,
		WorkflowID:          req.WorkflowID,
		StateID:             dest.ID,
		ParentTicketID:      req.ParentTicketID,
		ParentTicketStateID: parentStateID,
		ParticipantTypeID:   destSpec.Kind,
		Participant:         destSpec.Value,
		Creator:             req.Username,
	}
	t.MergeRelation(append([]string{req.Username}, addRelation...)...)

	newID, err := e.tickets.CreateTx(ctx, tx, t)
	if err != nil {
		return 0, err
	}

	updatable := updatableKeys(attrs)
	if err := e.fields.UpsertManyTx(ctx, tx, newID, filterKeys(req.Fields, updatable), schema); err != nil {
		return 0, err
	}

	if _, err := e.flowlog.AppendTx(ctx, tx, &models.FlowLogEntry{
		TicketID:          newID,
		StateID:           start.ID,
		TransitionID:      chosen.ID,
		ParticipantTypeID: models.ParticipantPersonal,
		Participant:       req.Username,
		Suggestion:        req.Suggestion,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "commit new ticket")
	}

	// Robot participant hook (§9): the core names the event but leaves
	// script execution to the host application.
	if destSpec.Kind == models.ParticipantRobot {
		logging.Debug("transition: ticket %d entered robot state %q, awaiting host dispatch", newID, destSpec.Value)
	}

	return newID, nil
}

// HandleTicketRequest is the input to HandleTicket (§4.F.2, §6.1 handle_ticket).
type HandleTicketRequest struct {
	TicketID     int64
	TransitionID int64
	Username     string
	Fields       map[string]string
	Suggestion   string
}

// HandleTicket implements handle_ticket (§4.F.2).
func (e *Executor) HandleTicket(ctx context.Context, req HandleTicketRequest) error {
	unlock := e.locks.Lock(req.TicketID)
	defer unlock()
	internaldb.SQLiteWriteMutex.Lock()
	defer internaldb.SQLiteWriteMutex.Unlock()

	t, err := e.tickets.Get(ctx, req.TicketID)
	if err != nil {
		return err
	}
	sourceStateID := t.StateID

	if err := e.permission.HandlePermission(ctx, t, req.Username); err != nil {
		return err
	}

	state, err := e.catalog.StateByID(ctx, sourceStateID)
	if err != nil {
		return err
	}
	attrs, err := state.FieldAttrs()
	if err != nil {
		return ticketerr.Wrap(ticketerr.InvariantViolation, err, "parse state_field_str for state %d", sourceStateID)
	}
	schema, err := e.catalog.CustomFieldSchema(ctx, t.WorkflowID)
	if err != nil {
		return err
	}
	if err := validateRequired(attrs, req.Fields, schema); err != nil {
		return err
	}

	transitions, err := e.catalog.StateTransitions(ctx, sourceStateID)
	if err != nil {
		return err
	}
	chosen, err := findTransition(transitions, req.TransitionID)
	if err != nil {
		return err
	}

	dest, err := e.catalog.StateByID(ctx, chosen.DestinationStateID)
	if err != nil {
		return err
	}

	var parentTicket *models.Ticket
	if t.ParentTicketID != nil {
		parentTicket, err = e.tickets.Get(ctx, *t.ParentTicketID)
		if err != nil {
			return err
		}
	}

	destSpec, err := e.resolver.Resolve(ctx,
		models.ParticipantSpec{Kind: dest.ParticipantTypeID, Value: dest.Participant},
		participant.Context{TicketID: t.ID, ParentTicketID: t.ParentTicketID, ActingUser: req.Username},
		t, parentTicket, schema)
	if err != nil {
		return err
	}

	addRelation := e.relationAdditions(ctx, destSpec)

	t.StateID = dest.ID
	t.ParticipantTypeID = destSpec.Kind
	t.Participant = destSpec.Value
	t.MergeRelation(addRelation...)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "begin tx")
	}
	defer tx.Rollback()

	if err := e.tickets.UpdateStateTx(ctx, tx, t); err != nil {
		return err
	}

	updatable := updatableKeys(attrs)
	if err := e.fields.UpsertManyTx(ctx, tx, t.ID, filterKeys(req.Fields, updatable), schema); err != nil {
		return err
	}

	if _, err := e.flowlog.AppendTx(ctx, tx, &models.FlowLogEntry{
		TicketID:          t.ID,
		StateID:           sourceStateID,
		TransitionID:      chosen.ID,
		ParticipantTypeID: models.ParticipantPersonal,
		Participant:       req.Username,
		Suggestion:        req.Suggestion,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "commit handle_ticket")
	}
	return nil
}

// UpdateTicketState implements update_ticket_state, the administrative
// forced state change (§4.F.3). It does not resolve or validate field
// requirements; it only checks the workflow match.
func (e *Executor) UpdateTicketState(ctx context.Context, ticketID, stateID int64, username string) error {
	unlock := e.locks.Lock(ticketID)
	defer unlock()
	internaldb.SQLiteWriteMutex.Lock()
	defer internaldb.SQLiteWriteMutex.Unlock()

	t, err := e.tickets.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	target, err := e.catalog.StateByID(ctx, stateID)
	if err != nil {
		return err
	}
	if target.WorkflowID != t.WorkflowID {
		return ticketerr.New(ticketerr.ValidationFailed, "state %d does not belong to ticket %d's workflow", stateID, ticketID)
	}

	sourceStateID := t.StateID
	t.StateID = target.ID
	t.ParticipantTypeID = target.ParticipantTypeID
	t.Participant = target.Participant

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "begin tx")
	}
	defer tx.Rollback()

	if err := e.tickets.UpdateStateTx(ctx, tx, t); err != nil {
		return err
	}
	if _, err := e.flowlog.AppendTx(ctx, tx, &models.FlowLogEntry{
		TicketID:          ticketID,
		StateID:           sourceStateID,
		TransitionID:      0,
		ParticipantTypeID: models.ParticipantPersonal,
		Participant:       username,
		Suggestion:        "forced state change",
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "commit update_ticket_state")
	}
	return nil
}

// AvailableTransitions implements ticket_transitions (§6.1): the
// ordered list of transitions the user may take from ticketID's
// current state, empty if they lack handle permission.
func (e *Executor) AvailableTransitions(ctx context.Context, ticketID int64, username string) ([]models.Transition, error) {
	t, err := e.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := e.permission.HandlePermission(ctx, t, username); err != nil {
		if ticketerr.Is(err, ticketerr.PermissionDenied) {
			return nil, nil
		}
		return nil, err
	}
	return e.catalog.StateTransitions(ctx, t.StateID)
}

// validateRequired reports the required fields of attrs missing from
// fieldsGiven, in schema order (schema's OrderID) rather than
// alphabetically.
func validateRequired(attrs map[string]models.FieldAttribute, fieldsGiven map[string]string, schema map[string]models.FieldSchema) error {
	var keys []string
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return schema[keys[i]].OrderID < schema[keys[j]].OrderID })

	var missing []string
	for _, k := range keys {
		if attrs[k] != models.FieldRequired {
			continue
		}
		if _, ok := fieldsGiven[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return ticketerr.New(ticketerr.ValidationFailed, "missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func updatableKeys(attrs map[string]models.FieldAttribute) map[string]struct{} {
	out := make(map[string]struct{})
	for k, a := range attrs {
		if a == models.FieldReadWrite || a == models.FieldRequired {
			out[k] = struct{}{}
		}
	}
	return out
}

func filterKeys(values map[string]string, allowed map[string]struct{}) map[string]string {
	out := make(map[string]string)
	for k, v := range values {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}

func findTransition(transitions []models.Transition, id int64) (models.Transition, error) {
	for _, t := range transitions {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Transition{}, ticketerr.New(ticketerr.ValidationFailed, "transition %d is not available from the current state", id)
}

// relationAdditions computes §4.F.2 step 6's add_relation: for Dept/
// Role it is the set of concrete usernames that group expands to;
// otherwise it is the resolved concrete participant value itself.
func (e *Executor) relationAdditions(ctx context.Context, spec models.ParticipantSpec) []string {
	switch spec.Kind {
	case models.ParticipantDept:
		deptID, err := parseID(spec.Value)
		if err != nil {
			return nil
		}
		names, err := e.directory.DeptUsernameList(ctx, deptID)
		if err != nil {
			return nil
		}
		return names
	case models.ParticipantRole:
		roleID, err := parseID(spec.Value)
		if err != nil {
			return nil
		}
		names, err := e.directory.RoleUsernameList(ctx, roleID)
		if err != nil {
			return nil
		}
		return names
	default:
		return strings.Split(spec.Value, ",")
	}
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
