// Package flowlog implements the Flow Log (§4.H): the append-only
// audit trail of state transitions, plus the decorated read views the
// host application exposes.
package flowlog

import (
	"context"
	"database/sql"

	"ticketflow/internal/catalog"
	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

// Store is the sqlite-backed Flow Log.
type Store struct {
	db      *sql.DB
	catalog catalog.Catalog
}

// New wraps an open sqlite connection and Workflow Catalog as a
// flowlog Store. The catalog is only needed to decorate reads with
// state/transition names.
func New(db *sql.DB, cat catalog.Catalog) *Store {
	return &Store{db: db, catalog: cat}
}

// AppendTx inserts entry inside tx with a server-assigned id, as part
// of the same transaction that writes the ticket header and field
// values (§5).
func (s *Store) AppendTx(ctx context.Context, tx *sql.Tx, entry *models.FlowLogEntry) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO ticket_flow_log (ticket_id, state_id, transition_id, participant_type_id, participant, suggestion)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.TicketID, entry.StateID, entry.TransitionID, int(entry.ParticipantTypeID), entry.Participant, entry.Suggestion)
	if err != nil {
		return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "append flow log entry for ticket %d", entry.TicketID)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// DecoratedEntry is one flow log row annotated with the state and
// transition names it references (§4.H).
type DecoratedEntry struct {
	models.FlowLogEntry
	StateName      string
	TransitionName string
}

// PagedEntries is the paged output of List (§6.1 flow_log).
type PagedEntries struct {
	Items   []DecoratedEntry
	Page    int
	PerPage int
	Total   int
}

// List returns ticketID's flow log, newest first, decorated with
// state_name and transition_name (empty when transition_id = 0).
func (s *Store) List(ctx context.Context, ticketID int64, page, perPage int) (*PagedEntries, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page < 1 {
		page = 1
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ticket_flow_log WHERE ticket_id = ? AND is_deleted = 0`, ticketID).Scan(&total); err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "count flow log for ticket %d", ticketID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticket_id, state_id, transition_id, participant_type_id, participant, suggestion, is_deleted, gmt_created
		 FROM ticket_flow_log WHERE ticket_id = ? AND is_deleted = 0 ORDER BY id DESC LIMIT ? OFFSET ?`,
		ticketID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "list flow log for ticket %d", ticketID)
	}
	defer rows.Close()

	var out []DecoratedEntry
	for rows.Next() {
		var e models.FlowLogEntry
		var participantType int
		if err := rows.Scan(&e.ID, &e.TicketID, &e.StateID, &e.TransitionID, &participantType, &e.Participant, &e.Suggestion, &e.IsDeleted, &e.GmtCreated); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan flow log row")
		}
		e.ParticipantTypeID = models.ParticipantKind(participantType)
		de, err := s.decorate(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, de)
	}
	return &PagedEntries{Items: out, Page: page, PerPage: perPage, Total: total}, rows.Err()
}

func (s *Store) decorate(ctx context.Context, e models.FlowLogEntry) (DecoratedEntry, error) {
	de := DecoratedEntry{FlowLogEntry: e}
	if state, err := s.catalog.StateByID(ctx, e.StateID); err == nil {
		de.StateName = state.Name
	}
	if e.TransitionID != 0 {
		if tr, err := s.catalog.TransitionByID(ctx, e.TransitionID); err == nil {
			de.TransitionName = tr.Name
		}
	}
	return de, nil
}

// Step is one entry of the step-diagram view (§4.H step_view).
type Step struct {
	StateID   int64
	StateName string
	Entries   []DecoratedEntry
}

// StepView returns the ordered list of visible states of workflowID (a
// state is visible iff !is_hidden or it is the current state), each
// annotated with ticketID's flow-log entries whose state_id equals
// that state — including states the ticket has not yet visited, which
// are annotated with an empty entry list (§4.H).
func (s *Store) StepView(ctx context.Context, ticketID, workflowID, currentStateID int64) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticket_id, state_id, transition_id, participant_type_id, participant, suggestion, is_deleted, gmt_created
		 FROM ticket_flow_log WHERE ticket_id = ? AND is_deleted = 0 ORDER BY id ASC`, ticketID)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "load flow log for step view of ticket %d", ticketID)
	}
	defer rows.Close()

	byState := make(map[int64][]DecoratedEntry)
	for rows.Next() {
		var e models.FlowLogEntry
		var participantType int
		if err := rows.Scan(&e.ID, &e.TicketID, &e.StateID, &e.TransitionID, &participantType, &e.Participant, &e.Suggestion, &e.IsDeleted, &e.GmtCreated); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan flow log row")
		}
		e.ParticipantTypeID = models.ParticipantKind(participantType)
		de, err := s.decorate(ctx, e)
		if err != nil {
			return nil, err
		}
		byState[e.StateID] = append(byState[e.StateID], de)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	states, err := s.catalog.StatesByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var steps []Step
	for _, state := range states {
		if state.IsHidden && state.ID != currentStateID {
			continue
		}
		steps = append(steps, Step{StateID: state.ID, StateName: state.Name, Entries: byState[state.ID]})
	}
	return steps, nil
}
