// Package permission implements the Permission Evaluator (§4.E):
// handle vs. view permission, derived jointly from workflow
// configuration and the ticket's current-state participant spec.
package permission

import (
	"context"
	"strconv"
	"strings"

	"ticketflow/internal/catalog"
	"ticketflow/internal/directory"
	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

// Evaluator decides handle/view permission for (ticket, user).
type Evaluator struct {
	catalog   catalog.Catalog
	directory directory.Client
}

// New builds an Evaluator over the given Workflow Catalog and
// Directory Client.
func New(cat catalog.Catalog, dir directory.Client) *Evaluator {
	return &Evaluator{catalog: cat, directory: dir}
}

// HandlePermission reports whether user may take a transition from
// ticket's current state (§4.E). A deleted ticket, or a state with
// no outgoing transitions, are both reported as errors rather than
// silent false so callers can distinguish "denied" from "nothing to
// do here".
func (e *Evaluator) HandlePermission(ctx context.Context, ticket *models.Ticket, user string) error {
	if ticket.IsDeleted {
		return ticketerr.New(ticketerr.NotFound, "ticket %d not found", ticket.ID)
	}

	state, err := e.catalog.StateByID(ctx, ticket.StateID)
	if err != nil {
		return err
	}
	transitions, err := e.catalog.StateTransitions(ctx, state.ID)
	if err != nil {
		return err
	}
	if len(transitions) == 0 {
		return ticketerr.New(ticketerr.ValidationFailed, "state %q needs no action", state.Name)
	}

	allowed, err := e.matches(ctx, ticket.ParticipantTypeID, ticket.Participant, user)
	if err != nil {
		return err
	}
	if !allowed {
		return ticketerr.New(ticketerr.PermissionDenied, "user %q may not handle ticket %d", user, ticket.ID)
	}
	return nil
}

// matches implements the kind-dispatch table of §4.E. Deferred kinds
// must never be stored on a ticket header; encountering one here is
// an invariant violation, not a permission failure.
func (e *Evaluator) matches(ctx context.Context, kind models.ParticipantKind, participant, user string) (bool, error) {
	switch kind {
	case models.ParticipantPersonal:
		return user == participant, nil
	case models.ParticipantMulti:
		return containsToken(participant, user), nil
	case models.ParticipantDept:
		deptID, err := strconv.ParseInt(participant, 10, 64)
		if err != nil {
			return false, ticketerr.Wrap(ticketerr.InvariantViolation, err, "non-numeric dept participant %q", participant)
		}
		deptIDs, err := e.directory.UpDeptIDs(ctx, user)
		if err != nil {
			return false, err
		}
		for _, id := range deptIDs {
			if id == deptID {
				return true, nil
			}
		}
		return false, nil
	case models.ParticipantRole:
		roleID, err := strconv.ParseInt(participant, 10, 64)
		if err != nil {
			return false, ticketerr.Wrap(ticketerr.InvariantViolation, err, "non-numeric role participant %q", participant)
		}
		roleIDs, err := e.directory.RoleIDs(ctx, user)
		if err != nil {
			return false, err
		}
		for _, id := range roleIDs {
			if id == roleID {
				return true, nil
			}
		}
		return false, nil
	case models.ParticipantRobot:
		return false, nil
	default:
		return false, ticketerr.New(ticketerr.InvariantViolation, "deferred participant kind %q stored on ticket", kind)
	}
}

// ViewPermission reports whether user may read ticket's detail (§4.E).
func (e *Evaluator) ViewPermission(ctx context.Context, ticket *models.Ticket, user string) error {
	if ticket.IsDeleted {
		return ticketerr.New(ticketerr.NotFound, "ticket %d not found", ticket.ID)
	}
	wf, err := e.catalog.WorkflowByID(ctx, ticket.WorkflowID)
	if err != nil {
		return err
	}
	if !wf.ViewPermissionCheck {
		return nil
	}
	if ticket.HasRelation(user) {
		return nil
	}
	return ticketerr.New(ticketerr.PermissionDenied, "user %q may not view ticket %d", user, ticket.ID)
}

// CheckoutNewPermission reports whether user may create a ticket on
// workflowID (§4.B checkout_new_permission), combining the catalog's
// checkout_roles with the Directory Client's role membership.
func (e *Evaluator) CheckoutNewPermission(ctx context.Context, user string, workflowID int64) error {
	checkoutRoles, err := e.catalog.CheckoutRoles(ctx, workflowID)
	if err != nil {
		return err
	}
	if checkoutRoles == "" {
		return nil
	}
	roleIDs, err := e.directory.RoleIDs(ctx, user)
	if err != nil {
		return err
	}
	roleSet := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		roleSet[id] = struct{}{}
	}
	for _, tok := range strings.Split(checkoutRoles, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil {
			continue
		}
		if _, ok := roleSet[id]; ok {
			return nil
		}
	}
	return ticketerr.New(ticketerr.PermissionDenied, "user %q may not create tickets on workflow %d", user, workflowID)
}

// containsToken reports whether needle appears as a whole
// comma-separated token of haystack — membership, not substring
// matching (§4.G: "u10 must not match inside u100").
func containsToken(haystack, needle string) bool {
	for _, tok := range strings.Split(haystack, ",") {
		if tok == needle {
			return true
		}
	}
	return false
}
