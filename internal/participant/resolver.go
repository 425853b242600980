// Package participant implements the Participant Resolver (§4.D): a
// small, pure interpreter over the eight ParticipantKinds that
// narrows a possibly-deferred spec down to one of the five concrete
// kinds a ticket header may store. A spec with kind 0 (a state with no
// participant) is returned unchanged.
package participant

import (
	"context"
	"strings"

	"ticketflow/internal/directory"
	"ticketflow/internal/fields"
	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

// Context carries the ticket-scoped state the Resolver needs to
// resolve Field/ParentField/Variable specs (§4.D).
type Context struct {
	TicketID       int64
	ParentTicketID *int64
	ActingUser     string
}

// FieldReader is the subset of the Field Store the Resolver needs: a
// base_field lookup against either the current ticket or its parent.
type FieldReader interface {
	BaseField(ctx context.Context, ticket *models.Ticket, fieldKey string, schema map[string]models.FieldSchema) (string, bool, error)
}

// Resolver narrows a ParticipantSpec to a concrete kind.
type Resolver struct {
	directory directory.Client
	fields    FieldReader
}

// New builds a Resolver over the given Directory Client and Field
// Store.
func New(dir directory.Client, fieldStore FieldReader) *Resolver {
	return &Resolver{directory: dir, fields: fieldStore}
}

// Resolve narrows spec against rc, reading the given ticket/parent
// headers and field schema as needed. Pure modulo Directory/Field
// Store reads: it has no other observable side effects (§4.D).
func (r *Resolver) Resolve(
	ctx context.Context,
	spec models.ParticipantSpec,
	rc Context,
	ticket *models.Ticket,
	parentTicket *models.Ticket,
	schema map[string]models.FieldSchema,
) (models.ParticipantSpec, error) {
	switch spec.Kind {
	case models.ParticipantPersonal, models.ParticipantMulti, models.ParticipantDept, models.ParticipantRole, models.ParticipantRobot:
		return spec, nil

	case 0:
		// A state with no participant (participant_type_id 0, such as a
		// terminal state) has nobody to resolve; it passes through.
		return spec, nil

	case models.ParticipantField:
		if ticket == nil {
			return models.ParticipantSpec{}, ticketerr.New(ticketerr.ResolutionFailed, "field participant requires a ticket")
		}
		v, found, err := r.fields.BaseField(ctx, ticket, spec.Value, schema)
		if err != nil {
			return models.ParticipantSpec{}, err
		}
		if !found || v == "" {
			return models.ParticipantSpec{}, ticketerr.New(ticketerr.ResolutionFailed, "field %q resolved to an empty value", spec.Value)
		}
		return concreteFromValue(v), nil

	case models.ParticipantParentField:
		if parentTicket == nil {
			return models.ParticipantSpec{}, ticketerr.New(ticketerr.ResolutionFailed, "parent_field participant requires a parent ticket")
		}
		v, found, err := r.fields.BaseField(ctx, parentTicket, spec.Value, schema)
		if err != nil {
			return models.ParticipantSpec{}, err
		}
		if !found || v == "" {
			return models.ParticipantSpec{}, ticketerr.New(ticketerr.ResolutionFailed, "parent field %q resolved to an empty value", spec.Value)
		}
		return concreteFromValue(v), nil

	case models.ParticipantVariable:
		switch spec.Value {
		case "creator":
			return models.ParticipantSpec{Kind: models.ParticipantPersonal, Value: rc.ActingUser}, nil
		case "creator_tl":
			a, err := r.directory.UserDeptApprover(ctx, rc.ActingUser)
			if err != nil {
				return models.ParticipantSpec{}, err
			}
			if a == "" {
				return models.ParticipantSpec{}, ticketerr.New(ticketerr.ResolutionFailed, "no approver found for %q", rc.ActingUser)
			}
			return concreteFromValue(a), nil
		default:
			return models.ParticipantSpec{}, ticketerr.New(ticketerr.ResolutionFailed, "unknown variable %q", spec.Value)
		}

	default:
		return models.ParticipantSpec{}, ticketerr.New(ticketerr.InvariantViolation, "unresolvable participant kind %q", spec.Kind)
	}
}

// concreteFromValue promotes a resolved value to Multi when it
// contains more than one username, Personal otherwise, and
// canonicalizes duplicate usernames to a unique set (§4.F.4).
func concreteFromValue(v string) models.ParticipantSpec {
	if !strings.Contains(v, ",") {
		return models.ParticipantSpec{Kind: models.ParticipantPersonal, Value: v}
	}
	set := map[string]struct{}{}
	var order []string
	for _, u := range strings.Split(v, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, seen := set[u]; !seen {
			set[u] = struct{}{}
			order = append(order, u)
		}
	}
	if len(order) == 1 {
		return models.ParticipantSpec{Kind: models.ParticipantPersonal, Value: order[0]}
	}
	return models.ParticipantSpec{Kind: models.ParticipantMulti, Value: strings.Join(order, ",")}
}
