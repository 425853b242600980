package catalog

import (
	"context"
	"database/sql"
	"encoding/json"

	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

// Catalog is the Workflow Catalog contract (§4.B): the external
// collaborator the Transition Executor and Permission Evaluator
// inject instead of reaching for an ambient service object (§9).
type Catalog interface {
	StateByID(ctx context.Context, stateID int64) (*models.State, error)
	StartState(ctx context.Context, workflowID int64) (*models.State, error)
	// StatesByWorkflowID returns every state of workflowID, in
	// definition order, for callers (the step view) that need the
	// whole state graph rather than a single lookup.
	StatesByWorkflowID(ctx context.Context, workflowID int64) ([]models.State, error)
	StateTransitions(ctx context.Context, stateID int64) ([]models.Transition, error)
	TransitionByID(ctx context.Context, transitionID int64) (*models.Transition, error)
	CustomFieldSchema(ctx context.Context, workflowID int64) (map[string]models.FieldSchema, error)
	WorkflowByID(ctx context.Context, workflowID int64) (*models.Workflow, error)
	// CheckoutRoles returns the comma-separated role ids allowed to
	// create a ticket on workflowID; empty means anyone may create.
	// §4.B's checkout_new_permission is the composition of this with
	// the Directory Client, performed by internal/permission
	// (Evaluator.CheckoutNewPermission) since the catalog has no access
	// to the directory.
	CheckoutRoles(ctx context.Context, workflowID int64) (string, error)
}

// Store is the sqlite-backed reference implementation of Catalog. It
// also exposes PutDefinition, which persists a *Definition loaded and
// validated by Loader/ValidateDefinition into the relational tables
// the rest of the catalog queries read from.
type Store struct {
	db *sql.DB
}

// New wraps an open sqlite connection as a catalog Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ Catalog = (*Store)(nil)

func (s *Store) StateByID(ctx context.Context, stateID int64) (*models.State, error) {
	return s.scanState(ctx, `SELECT id, workflow_id, name, is_hidden, participant_type_id, participant, state_field_str
		FROM states WHERE id = ?`, stateID)
}

func (s *Store) StartState(ctx context.Context, workflowID int64) (*models.State, error) {
	return s.scanState(ctx, `SELECT id, workflow_id, name, is_hidden, participant_type_id, participant, state_field_str
		FROM states WHERE workflow_id = ? AND state_key = 'start'`, workflowID)
}

func (s *Store) scanState(ctx context.Context, query string, arg int64) (*models.State, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	st := &models.State{}
	var fieldStr string
	if err := row.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.IsHidden, &st.ParticipantTypeID, &st.Participant, &fieldStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, ticketerr.New(ticketerr.NotFound, "state not found")
		}
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "load state")
	}
	st.StateFieldStr = json.RawMessage(fieldStr)
	return st, nil
}

func (s *Store) StatesByWorkflowID(ctx context.Context, workflowID int64) ([]models.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, name, is_hidden, participant_type_id, participant, state_field_str
		 FROM states WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "list states for workflow %d", workflowID)
	}
	defer rows.Close()

	var out []models.State
	for rows.Next() {
		var st models.State
		var fieldStr string
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.IsHidden, &st.ParticipantTypeID, &st.Participant, &fieldStr); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan state")
		}
		st.StateFieldStr = json.RawMessage(fieldStr)
		out = append(out, st)
	}
	return out, rows.Err()
}

// StateName resolves stateID to its display name, satisfying
// ticket.StateNamer for the StatesOf batch lookup.
func (s *Store) StateName(ctx context.Context, stateID int64) (string, error) {
	st, err := s.StateByID(ctx, stateID)
	if err != nil {
		return "", err
	}
	return st.Name, nil
}

func (s *Store) StateTransitions(ctx context.Context, stateID int64) ([]models.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, source_state_id, destination_state_id, name
		 FROM transitions WHERE source_state_id = ? ORDER BY id`, stateID)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "list transitions for state %d", stateID)
	}
	defer rows.Close()

	var out []models.Transition
	for rows.Next() {
		var t models.Transition
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.SourceStateID, &t.DestinationStateID, &t.Name); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan transition")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) TransitionByID(ctx context.Context, transitionID int64) (*models.Transition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, source_state_id, destination_state_id, name FROM transitions WHERE id = ?`, transitionID)
	t := &models.Transition{}
	if err := row.Scan(&t.ID, &t.WorkflowID, &t.SourceStateID, &t.DestinationStateID, &t.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ticketerr.New(ticketerr.NotFound, "transition %d not found", transitionID)
		}
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "load transition %d", transitionID)
	}
	return t, nil
}

func (s *Store) CustomFieldSchema(ctx context.Context, workflowID int64) (map[string]models.FieldSchema, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_key, name, field_type_id, order_id, field_choice, placeholder, bool_field_display
		 FROM custom_field_schema WHERE workflow_id = ? ORDER BY order_id`, workflowID)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "load custom field schema for workflow %d", workflowID)
	}
	defer rows.Close()

	out := make(map[string]models.FieldSchema)
	for rows.Next() {
		var f models.FieldSchema
		if err := rows.Scan(&f.FieldKey, &f.Name, &f.FieldType, &f.OrderID, &f.FieldChoice, &f.Placeholder, &f.BoolDisplay); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan field schema entry")
		}
		out[f.FieldKey] = f
	}
	return out, rows.Err()
}

func (s *Store) WorkflowByID(ctx context.Context, workflowID int64) (*models.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, name, display_form_str, view_permission_check, is_deleted
		 FROM workflows WHERE id = ?`, workflowID)
	w := &models.Workflow{}
	if err := row.Scan(&w.ID, &w.WorkflowID, &w.Name, &w.DisplayFormStr, &w.ViewPermissionCheck, &w.IsDeleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, ticketerr.New(ticketerr.NotFound, "workflow %d not found", workflowID)
		}
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "load workflow %d", workflowID)
	}
	return w, nil
}

// CheckoutRoles returns workflowID's checkout_roles column.
func (s *Store) CheckoutRoles(ctx context.Context, workflowID int64) (string, error) {
	var checkoutRoles string
	row := s.db.QueryRowContext(ctx, `SELECT checkout_roles FROM workflows WHERE id = ?`, workflowID)
	if err := row.Scan(&checkoutRoles); err != nil {
		if err == sql.ErrNoRows {
			return "", ticketerr.New(ticketerr.NotFound, "workflow %d not found", workflowID)
		}
		return "", ticketerr.Wrap(ticketerr.UpstreamFailure, err, "load checkout roles for workflow %d", workflowID)
	}
	return checkoutRoles, nil
}

// PutDefinition persists a validated Definition (from Loader) into the
// workflows/states/transitions/custom_field_schema tables, replacing
// any prior catalog rows for the same workflow_id. It is the bridge
// between the file-based authoring format and the runtime Catalog.
func (s *Store) PutDefinition(ctx context.Context, def *Definition) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "begin tx")
	}
	defer tx.Rollback()

	var workflowID int64
	row := tx.QueryRowContext(ctx, `SELECT id FROM workflows WHERE workflow_id = ?`, def.ID)
	switch err := row.Scan(&workflowID); err {
	case nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE workflows SET name=?, display_form_str=?, view_permission_check=?, gmt_modified=CURRENT_TIMESTAMP WHERE id=?`,
			def.Name, def.DisplayFormStr, def.ViewPermissionCheck, workflowID); err != nil {
			return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "update workflow %q", def.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transitions WHERE workflow_id = ?`, workflowID); err != nil {
			return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "clear transitions for %q", def.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM states WHERE workflow_id = ?`, workflowID); err != nil {
			return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "clear states for %q", def.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM custom_field_schema WHERE workflow_id = ?`, workflowID); err != nil {
			return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "clear field schema for %q", def.ID)
		}
	case sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO workflows (workflow_id, name, display_form_str, view_permission_check) VALUES (?, ?, ?, ?)`,
			def.ID, def.Name, def.DisplayFormStr, def.ViewPermissionCheck)
		if err != nil {
			return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "insert workflow %q", def.ID)
		}
		workflowID, _ = res.LastInsertId()
	default:
		return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "lookup workflow %q", def.ID)
	}

	stateIDByKey := make(map[string]int64, len(def.States))
	for _, st := range def.States {
		fieldStr, err := stateFieldStrJSON(st.Fields)
		if err != nil {
			return 0, ticketerr.Wrap(ticketerr.InvariantViolation, err, "encode state_field_str for %q", st.StableID())
		}
		kind, _ := participantKindFromString(st.ParticipantType)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO states (workflow_id, state_key, name, is_hidden, participant_type_id, participant, state_field_str)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			workflowID, st.StableID(), st.Name, st.IsHidden, int(kind), st.Participant, fieldStr)
		if err != nil {
			return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "insert state %q", st.StableID())
		}
		id, _ := res.LastInsertId()
		stateIDByKey[st.StableID()] = id
	}

	for _, st := range def.States {
		sourceID := stateIDByKey[st.StableID()]
		for _, tr := range st.Transitions {
			destID, ok := stateIDByKey[tr.Destination]
			if !ok {
				return 0, ticketerr.New(ticketerr.InvariantViolation, "transition %q targets unknown state %q", tr.Name, tr.Destination)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transitions (workflow_id, source_state_id, destination_state_id, name) VALUES (?, ?, ?, ?)`,
				workflowID, sourceID, destID, tr.Name); err != nil {
				return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "insert transition %q", tr.Name)
			}
		}
	}

	for _, f := range def.CustomFields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custom_field_schema (workflow_id, field_key, name, field_type_id, order_id, field_choice, placeholder, bool_field_display)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			workflowID, f.FieldKey, f.Name, int(f.FieldType), f.OrderID, f.FieldChoice, f.Placeholder, f.BoolDisplay); err != nil {
			return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "insert field schema %q", f.FieldKey)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "commit workflow %q", def.ID)
	}
	return workflowID, nil
}

func stateFieldStrJSON(fields map[string]string) (string, error) {
	out := make(map[string]models.FieldAttribute, len(fields))
	for k, v := range fields {
		attr, ok := fieldAttrFromString(v)
		if !ok {
			continue
		}
		out[k] = attr
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
