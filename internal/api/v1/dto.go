package v1

import "time"

// NewTicketRequest is the JSON body of POST /tickets (new_ticket).
type NewTicketRequest struct {
	WorkflowID     int64             `json:"workflow_id" binding:"required"`
	TransitionID   int64             `json:"transition_id" binding:"required"`
	Title          string            `json:"title" binding:"required"`
	Fields         map[string]string `json:"fields"`
	ParentTicketID *int64            `json:"parent_ticket_id"`
	Suggestion     string            `json:"suggestion"`
}

// HandleTicketRequest is the JSON body of POST /tickets/:id/handle
// (handle_ticket).
type HandleTicketRequest struct {
	TransitionID int64             `json:"transition_id" binding:"required"`
	Fields       map[string]string `json:"fields"`
	Suggestion   string            `json:"suggestion"`
}

// UpdateTicketStateRequest is the JSON body of POST
// /tickets/:id/state (update_ticket_state), an administrative forced
// transition (§4.F.3).
type UpdateTicketStateRequest struct {
	StateID int64 `json:"state_id" binding:"required"`
}

// ListTicketsQuery binds the query string of GET /tickets
// (list_tickets, §4.G/§6.1).
type ListTicketsQuery struct {
	SN          string     `form:"sn"`
	Title       string     `form:"title"`
	CreateStart *time.Time `form:"create_start" time_format:"2006-01-02"`
	CreateEnd   *time.Time `form:"create_end" time_format:"2006-01-02"`
	Category    string     `form:"category"`
	Reverse     bool       `form:"reverse"`
	Page        int        `form:"page"`
	PerPage     int        `form:"per_page"`
}

// StatesOfQuery binds the query string of GET /tickets/states
// (states_of, §5 supplemented feature).
type StatesOfQuery struct {
	TicketIDs []int64 `form:"ticket_id" binding:"required"`
}
