// Package ticket implements the Ticket Repository (§4.G): ticket
// header persistence, list/query with pagination and category filter,
// and the supplemented states_of batch lookup (SPEC_FULL §5).
package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ticketflow/internal/directory"
	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

// Repo is the sqlite-backed Ticket Repository.
type Repo struct {
	db        *sql.DB
	directory directory.Client
}

// New wraps an open sqlite connection and Directory Client as a
// ticket Repo. The directory is only consulted by List's "duty"
// category (§4.G).
func New(db *sql.DB, dir directory.Client) *Repo {
	return &Repo{db: db, directory: dir}
}

// CreateTx inserts a new ticket header and returns its assigned id.
// Callers are expected to run this inside a transaction alongside the
// field-value and flow-log writes of the same operation (§5).
func (r *Repo) CreateTx(ctx context.Context, tx *sql.Tx, t *models.Ticket) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO ticket_record
		 (sn, title, workflow_id, state_id, parent_ticket_id, parent_ticket_state_id,
		  participant_type_id, participant, creator, relation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SN, t.Title, t.WorkflowID, t.StateID, t.ParentTicketID, t.ParentTicketStateID,
		int(t.ParticipantTypeID), t.Participant, t.Creator, t.Relation)
	if err != nil {
		return 0, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "insert ticket")
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// Get loads a ticket header by id. Returns NotFound if missing or
// soft-deleted.
func (r *Repo) Get(ctx context.Context, id int64) (*models.Ticket, error) {
	return r.scanOne(ctx, r.db,
		`SELECT id, sn, title, workflow_id, state_id, parent_ticket_id, parent_ticket_state_id,
		        participant_type_id, participant, creator, relation, is_deleted, gmt_created, gmt_modified
		 FROM ticket_record WHERE id = ? AND is_deleted = 0`, id)
}

// GetForUpdateTx loads a ticket header inside tx; combined with the
// per-ticket write lock (internal/db.TicketWriteLocks), this gives the
// row-level read-modify-write serialization §5 requires.
func (r *Repo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Ticket, error) {
	return r.scanOne(ctx, tx,
		`SELECT id, sn, title, workflow_id, state_id, parent_ticket_id, parent_ticket_state_id,
		        participant_type_id, participant, creator, relation, is_deleted, gmt_created, gmt_modified
		 FROM ticket_record WHERE id = ? AND is_deleted = 0`, id)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *Repo) scanOne(ctx context.Context, q rowQuerier, query string, id int64) (*models.Ticket, error) {
	row := q.QueryRowContext(ctx, query, id)
	t := &models.Ticket{}
	var participantType int
	if err := row.Scan(&t.ID, &t.SN, &t.Title, &t.WorkflowID, &t.StateID, &t.ParentTicketID, &t.ParentTicketStateID,
		&participantType, &t.Participant, &t.Creator, &t.Relation, &t.IsDeleted, &t.GmtCreated, &t.GmtModified); err != nil {
		if err == sql.ErrNoRows {
			return nil, ticketerr.New(ticketerr.NotFound, "ticket %d not found", id)
		}
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "load ticket %d", id)
	}
	t.ParticipantTypeID = models.ParticipantKind(participantType)
	return t, nil
}

// UpdateStateTx updates a ticket's state/participant/relation inside
// tx, as part of handle_ticket or update_ticket_state (§4.F).
func (r *Repo) UpdateStateTx(ctx context.Context, tx *sql.Tx, t *models.Ticket) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ticket_record SET state_id=?, participant_type_id=?, participant=?, relation=?, gmt_modified=CURRENT_TIMESTAMP
		 WHERE id = ?`,
		t.StateID, int(t.ParticipantTypeID), t.Participant, t.Relation, t.ID)
	if err != nil {
		return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "update ticket %d", t.ID)
	}
	return nil
}

// Category is the list_tickets category filter of §4.G.
type Category string

const (
	CategoryAll      Category = "all"
	CategoryOwner    Category = "owner"
	CategoryDuty     Category = "duty"
	CategoryRelation Category = "relation"
)

// ListFilter is the filter/paging input to List (§4.G, §6.1).
type ListFilter struct {
	SNPrefix     string
	TitleSubstr  string
	CreateStart  *time.Time
	CreateEnd    *time.Time
	Username     string
	Category     Category
	Reverse      bool
	Page         int
	PerPage      int
}

// ListResult is the paged output of List (§6.1).
type ListResult struct {
	Items   []*models.Ticket
	Page    int
	PerPage int
	Total   int
}

// List implements list_tickets (§4.G, §6.1): base filters plus the
// category semantics, paginated and ordered by gmt_created.
func (r *Repo) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	where := []string{"is_deleted = 0"}
	var args []interface{}

	if f.SNPrefix != "" {
		where = append(where, "sn LIKE ?")
		args = append(args, f.SNPrefix+"%")
	}
	if f.TitleSubstr != "" {
		where = append(where, "title LIKE ?")
		args = append(args, "%"+f.TitleSubstr+"%")
	}
	if f.CreateStart != nil {
		where = append(where, "gmt_created >= ?")
		args = append(args, *f.CreateStart)
	}
	if f.CreateEnd != nil {
		where = append(where, "gmt_created <= ?")
		args = append(args, *f.CreateEnd)
	}

	switch f.Category {
	case CategoryOwner:
		where = append(where, "creator = ?")
		args = append(args, f.Username)
	case CategoryRelation:
		where = append(where, "(',' || relation || ',') LIKE ?")
		args = append(args, "%,"+f.Username+",%")
	case CategoryDuty:
		clause, dutyArgs, err := r.dutyClause(ctx, f.Username)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, dutyArgs...)
	case CategoryAll, "":
		// no further filter
	default:
		return nil, ticketerr.New(ticketerr.BadArgument, "unknown category %q", f.Category)
	}

	whereSQL := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM ticket_record WHERE %s`, whereSQL)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "count tickets")
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	if page > lastPage {
		page = lastPage
	}

	order := "ASC"
	if f.Reverse {
		order = "DESC"
	}

	query := fmt.Sprintf(`SELECT id, sn, title, workflow_id, state_id, parent_ticket_id, parent_ticket_state_id,
		participant_type_id, participant, creator, relation, is_deleted, gmt_created, gmt_modified
		FROM ticket_record WHERE %s ORDER BY gmt_created %s LIMIT ? OFFSET ?`, whereSQL, order)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "list tickets")
	}
	defer rows.Close()

	var items []*models.Ticket
	for rows.Next() {
		t := &models.Ticket{}
		var participantType int
		if err := rows.Scan(&t.ID, &t.SN, &t.Title, &t.WorkflowID, &t.StateID, &t.ParentTicketID, &t.ParentTicketStateID,
			&participantType, &t.Participant, &t.Creator, &t.Relation, &t.IsDeleted, &t.GmtCreated, &t.GmtModified); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan ticket row")
		}
		t.ParticipantTypeID = models.ParticipantKind(participantType)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "iterate ticket rows")
	}

	return &ListResult{Items: items, Page: page, PerPage: perPage, Total: total}, nil
}

// dutyClause builds the "the user is the effective current handler"
// predicate of §4.G: Personal match, Dept/Role membership via the
// directory, or Multi token membership.
func (r *Repo) dutyClause(ctx context.Context, username string) (string, []interface{}, error) {
	deptIDs, err := r.directory.UpDeptIDs(ctx, username)
	if err != nil {
		return "", nil, err
	}
	roleIDs, err := r.directory.RoleIDs(ctx, username)
	if err != nil {
		return "", nil, err
	}

	clauses := []string{
		fmt.Sprintf("(participant_type_id = %d AND participant = ?)", int(models.ParticipantPersonal)),
		fmt.Sprintf("(participant_type_id = %d AND (',' || participant || ',') LIKE ?)", int(models.ParticipantMulti)),
	}
	args := []interface{}{username, "%," + username + ",%"}

	if len(deptIDs) > 0 {
		placeholders := make([]string, len(deptIDs))
		for i, id := range deptIDs {
			placeholders[i] = "?"
			args = append(args, strconv.FormatInt(id, 10))
		}
		clauses = append(clauses, fmt.Sprintf("(participant_type_id = %d AND participant IN (%s))",
			int(models.ParticipantDept), strings.Join(placeholders, ",")))
	}
	if len(roleIDs) > 0 {
		placeholders := make([]string, len(roleIDs))
		for i, id := range roleIDs {
			placeholders[i] = "?"
			args = append(args, strconv.FormatInt(id, 10))
		}
		clauses = append(clauses, fmt.Sprintf("(participant_type_id = %d AND participant IN (%s))",
			int(models.ParticipantRole), strings.Join(placeholders, ",")))
	}

	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

// StateInfo is one entry of StatesOf's result (SPEC_FULL §5).
type StateInfo struct {
	StateID   int64
	StateName string
}

// StateNamer resolves a state id to a display name; satisfied by
// catalog.Store.StateName.
type StateNamer interface {
	StateName(ctx context.Context, stateID int64) (string, error)
}

// StatesOf resolves a list of ticket ids to their current
// {state_id, state_name}, batched to avoid one catalog lookup per row
// (SPEC_FULL §5, grounded on get_tickets_states_by_ticket_id_list).
func (r *Repo) StatesOf(ctx context.Context, ticketIDs []int64, namer StateNamer) (map[int64]StateInfo, error) {
	out := make(map[int64]StateInfo, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ticketIDs))
	args := make([]interface{}, len(ticketIDs))
	for i, id := range ticketIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, state_id FROM ticket_record WHERE id IN (%s) AND is_deleted = 0`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "batch load ticket states")
	}
	defer rows.Close()

	stateNameCache := make(map[int64]string)
	for rows.Next() {
		var ticketID, stateID int64
		if err := rows.Scan(&ticketID, &stateID); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan ticket state row")
		}
		name, ok := stateNameCache[stateID]
		if !ok {
			name, err = namer.StateName(ctx, stateID)
			if err != nil {
				return nil, err
			}
			stateNameCache[stateID] = name
		}
		out[ticketID] = StateInfo{StateID: stateID, StateName: name}
	}
	return out, rows.Err()
}
