// Package v1 exposes the §6.1 operations over HTTP: list_tickets,
// new_ticket, get_ticket_detail, ticket_transitions, handle_ticket,
// update_ticket_state, flow_log, flow_step, states_of.
package v1

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"ticketflow/internal/catalog"
	"ticketflow/internal/fields"
	"ticketflow/internal/flowlog"
	"ticketflow/internal/permission"
	"ticketflow/internal/ticket"
	"ticketflow/internal/ticketerr"
	"ticketflow/internal/transition"
	"ticketflow/pkg/models"
)

// Handlers wires the domain packages that answer the §6.1 operations.
type Handlers struct {
	catalog    catalog.Catalog
	fields     *fields.Store
	tickets    *ticket.Repo
	flowlog    *flowlog.Store
	permission *permission.Evaluator
	transition *transition.Executor
	validate   *validator.Validate
}

// NewHandlers builds the HTTP handler set over the given collaborators.
func NewHandlers(
	cat catalog.Catalog,
	fieldStore *fields.Store,
	tickets *ticket.Repo,
	flowLog *flowlog.Store,
	perm *permission.Evaluator,
	exec *transition.Executor,
) *Handlers {
	return &Handlers{
		catalog: cat, fields: fieldStore, tickets: tickets, flowlog: flowLog,
		permission: perm, transition: exec, validate: validator.New(),
	}
}

// RegisterRoutes mounts every §6.1 operation under group. requireAdmin
// gates update_ticket_state, the forced state change that bypasses the
// workflow graph and so is restricted to administrators.
func (h *Handlers) RegisterRoutes(group *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	group.GET("/tickets", h.listTickets)
	group.GET("/tickets/states", h.statesOf)
	group.POST("/tickets", h.newTicket)
	group.GET("/tickets/:id", h.getTicketDetail)
	group.GET("/tickets/:id/transitions", h.ticketTransitions)
	group.POST("/tickets/:id/handle", h.handleTicket)
	group.POST("/tickets/:id/state", requireAdmin, h.updateTicketState)
	group.GET("/tickets/:id/flow-log", h.flowLog)
	group.GET("/tickets/:id/flow-steps", h.flowSteps)
}

func currentUser(c *gin.Context) string {
	username, _ := c.Get("username")
	name, _ := username.(string)
	return name
}

func ticketIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return 0, false
	}
	return id, true
}

// writeError maps a ticketerr.Kind to the matching HTTP status (§7).
func writeError(c *gin.Context, err error) {
	kind, ok := ticketerr.KindOf(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch kind {
	case ticketerr.BadArgument, ticketerr.ValidationFailed:
		status = http.StatusBadRequest
	case ticketerr.NotFound:
		status = http.StatusNotFound
	case ticketerr.PermissionDenied:
		status = http.StatusForbidden
	case ticketerr.ResolutionFailed, ticketerr.InvariantViolation:
		status = http.StatusUnprocessableEntity
	case ticketerr.UpstreamFailure:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func (h *Handlers) newTicket(c *gin.Context) {
	var req NewTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.transition.NewTicket(c.Request.Context(), transition.NewTicketRequest{
		WorkflowID:     req.WorkflowID,
		TransitionID:   req.TransitionID,
		Username:       currentUser(c),
		Title:          req.Title,
		Fields:         req.Fields,
		ParentTicketID: req.ParentTicketID,
		Suggestion:     req.Suggestion,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handlers) handleTicket(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req HandleTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.transition.HandleTicket(c.Request.Context(), transition.HandleTicketRequest{
		TicketID:     ticketID,
		TransitionID: req.TransitionID,
		Username:     currentUser(c),
		Fields:       req.Fields,
		Suggestion:   req.Suggestion,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) updateTicketState(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	var req UpdateTicketStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.transition.UpdateTicketState(c.Request.Context(), ticketID, req.StateID, currentUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) ticketTransitions(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	transitions, err := h.transition.AvailableTransitions(c.Request.Context(), ticketID, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}

func (h *Handlers) getTicketDetail(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	user := currentUser(c)
	ctx := c.Request.Context()

	t, err := h.tickets.Get(ctx, ticketID)
	if err != nil {
		writeError(c, err)
		return
	}

	canHandle := h.permission.HandlePermission(ctx, t, user) == nil
	if !canHandle {
		if err := h.permission.ViewPermission(ctx, t, user); err != nil {
			writeError(c, err)
			return
		}
	}

	schema, err := h.catalog.CustomFieldSchema(ctx, t.WorkflowID)
	if err != nil {
		writeError(c, err)
		return
	}

	// §6.2: handle permission exposes every field listed in the current
	// state's field map, each with its attribute; view-only exposes the
	// workflow's read-only display form.
	var visibleKeys map[string]struct{}
	var attrs map[string]models.FieldAttribute
	if canHandle {
		state, err := h.catalog.StateByID(ctx, t.StateID)
		if err != nil {
			writeError(c, err)
			return
		}
		attrs, err = state.FieldAttrs()
		if err != nil {
			writeError(c, ticketerr.Wrap(ticketerr.InvariantViolation, err, "parse state_field_str"))
			return
		}
		visibleKeys = make(map[string]struct{}, len(attrs))
		for k := range attrs {
			visibleKeys[k] = struct{}{}
		}
	} else {
		wf, err := h.catalog.WorkflowByID(ctx, t.WorkflowID)
		if err != nil {
			writeError(c, err)
			return
		}
		keys, err := wf.DisplayFields()
		if err != nil {
			writeError(c, ticketerr.Wrap(ticketerr.InvariantViolation, err, "parse display_form_str"))
			return
		}
		visibleKeys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			visibleKeys[k] = struct{}{}
		}
	}

	allValues, err := h.fields.All(ctx, ticketID, schema)
	if err != nil {
		writeError(c, err)
		return
	}

	visibleFields := make([]models.FieldSchema, 0, len(visibleKeys))
	for key := range visibleKeys {
		if fs, ok := schema[key]; ok {
			visibleFields = append(visibleFields, fs)
		}
	}
	sort.Slice(visibleFields, func(i, j int) bool { return visibleFields[i].OrderID < visibleFields[j].OrderID })

	fieldList := make([]gin.H, 0, len(visibleFields))
	for _, fs := range visibleFields {
		attr, ok := attrs[fs.FieldKey]
		if !ok {
			// view-only callers, or a key the state's field map doesn't
			// mention, get a read-only attribute rather than a flat bool.
			attr = models.FieldReadOnly
		}
		fieldList = append(fieldList, gin.H{
			"field_key":       fs.FieldKey,
			"field_name":      fs.Name,
			"field_value":     allValues[fs.FieldKey],
			"order_id":        fs.OrderID,
			"field_type_id":   fs.FieldType,
			"field_attribute": attr,
			"field_choice":    fs.FieldChoice,
			"placeholder":     fs.Placeholder,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"ticket":     t,
		"field_list": fieldList,
		"can_handle": canHandle,
	})
}

func (h *Handlers) listTickets(c *gin.Context) {
	var q ListTicketsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Category == "" {
		q.Category = string(ticket.CategoryAll)
	}

	result, err := h.tickets.List(c.Request.Context(), ticket.ListFilter{
		SNPrefix:    q.SN,
		TitleSubstr: q.Title,
		CreateStart: q.CreateStart,
		CreateEnd:   q.CreateEnd,
		Username:    currentUser(c),
		Category:    ticket.Category(q.Category),
		Reverse:     q.Reverse,
		Page:        q.Page,
		PerPage:     q.PerPage,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) statesOf(c *gin.Context) {
	var q StatesOfQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.tickets.StatesOf(c.Request.Context(), q.TicketIDs, h.catalog.(ticket.StateNamer))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": result})
}

func (h *Handlers) flowLog(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	perPage, _ := strconv.Atoi(c.Query("per_page"))

	result, err := h.flowlog.List(c.Request.Context(), ticketID, page, perPage)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) flowSteps(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	t, err := h.tickets.Get(c.Request.Context(), ticketID)
	if err != nil {
		writeError(c, err)
		return
	}
	steps, err := h.flowlog.StepView(c.Request.Context(), ticketID, t.WorkflowID, t.StateID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}
