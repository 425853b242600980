// Package fields implements the Field Store (§4.C): typed reads and
// writes of a ticket's sparse custom-field values, plus the
// twelve-way field_type_id dispatch table called out in §9 as the
// idiomatic replacement for a long conditional ladder.
package fields

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ticketflow/internal/logging"
	"ticketflow/internal/ticketerr"
	"ticketflow/pkg/models"
)

// baseFieldKeys are the ticket header attributes exposed through
// BaseField (§4.C) instead of the custom-field table.
var baseFieldKeys = map[string]struct{}{
	"id": {}, "sn": {}, "title": {}, "state_id": {}, "creator": {},
	"workflow_id": {}, "parent_ticket_id": {}, "gmt_created": {}, "gmt_modified": {},
}

// IsBaseField reports whether key names a ticket header attribute.
func IsBaseField(key string) bool {
	_, ok := baseFieldKeys[key]
	return ok
}

// kindSpec is the (column, read, write) entry for one field_type_id,
// keyed by kind rather than branched over in a conditional ladder;
// write parses and coerces the raw value.
type kindSpec struct {
	column string
	read   func(*models.CustomFieldValue) (string, bool)
	write  func(raw string, cfv *models.CustomFieldValue) error
}

var kindTable = map[models.FieldType]kindSpec{
	models.FieldTypeStr: {
		column: "value_char",
		read:   readPtr(func(v *models.CustomFieldValue) *string { return v.ValueChar }),
		write:  writeStrPtr(func(v *models.CustomFieldValue, s *string) { v.ValueChar = s }),
	},
	models.FieldTypeInt: {
		column: "value_int",
		read: func(v *models.CustomFieldValue) (string, bool) {
			if v.ValueInt == nil {
				return "", false
			}
			return strconv.FormatInt(*v.ValueInt, 10), true
		},
		write: func(raw string, v *models.CustomFieldValue) error {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("not an integer: %q", raw)
			}
			v.ValueInt = &n
			return nil
		},
	},
	models.FieldTypeFloat: {
		column: "value_float",
		read: func(v *models.CustomFieldValue) (string, bool) {
			if v.ValueFloat == nil {
				return "", false
			}
			return strconv.FormatFloat(*v.ValueFloat, 'f', -1, 64), true
		},
		write: func(raw string, v *models.CustomFieldValue) error {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("not a float: %q", raw)
			}
			v.ValueFloat = &f
			return nil
		},
	},
	models.FieldTypeBool: {
		column: "value_bool",
		read: func(v *models.CustomFieldValue) (string, bool) {
			if v.ValueBool == nil {
				return "", false
			}
			if *v.ValueBool {
				return "1", true
			}
			return "0", true
		},
		write: func(raw string, v *models.CustomFieldValue) error {
			b, err := coerceBool(raw)
			if err != nil {
				return err
			}
			v.ValueBool = &b
			return nil
		},
	},
	models.FieldTypeDate: {
		column: "value_date",
		read:   readTimePtr(func(v *models.CustomFieldValue) *time.Time { return v.ValueDate }, "2006-01-02"),
		write:  writeTimePtr(func(v *models.CustomFieldValue, t *time.Time) { v.ValueDate = t }, "2006-01-02"),
	},
	models.FieldTypeDatetime: {
		column: "value_datetime",
		read:   readTimePtr(func(v *models.CustomFieldValue) *time.Time { return v.ValueDatetime }, time.RFC3339),
		write:  writeTimePtr(func(v *models.CustomFieldValue, t *time.Time) { v.ValueDatetime = t }, time.RFC3339),
	},
	models.FieldTypeRadio: {
		column: "value_radio",
		read:   readPtr(func(v *models.CustomFieldValue) *string { return v.ValueRadio }),
		write:  writeStrPtr(func(v *models.CustomFieldValue, s *string) { v.ValueRadio = s }),
	},
	models.FieldTypeCheckbox: {
		column: "value_checkbox",
		read:   readPtr(func(v *models.CustomFieldValue) *string { return v.ValueCheckbox }),
		write:  writeMultiPtr(func(v *models.CustomFieldValue, s *string) { v.ValueCheckbox = s }),
	},
	models.FieldTypeSelect: {
		column: "value_select",
		read:   readPtr(func(v *models.CustomFieldValue) *string { return v.ValueSelect }),
		write:  writeStrPtr(func(v *models.CustomFieldValue, s *string) { v.ValueSelect = s }),
	},
	models.FieldTypeMultiSelect: {
		column: "value_multi_select",
		read:   readPtr(func(v *models.CustomFieldValue) *string { return v.ValueMultiSelect }),
		write:  writeMultiPtr(func(v *models.CustomFieldValue, s *string) { v.ValueMultiSelect = s }),
	},
	models.FieldTypeText: {
		column: "value_text",
		read:   readPtr(func(v *models.CustomFieldValue) *string { return v.ValueText }),
		write:  writeStrPtr(func(v *models.CustomFieldValue, s *string) { v.ValueText = s }),
	},
	models.FieldTypeUsername: {
		column: "value_username",
		read:   readPtr(func(v *models.CustomFieldValue) *string { return v.ValueUsername }),
		write:  writeMultiPtr(func(v *models.CustomFieldValue, s *string) { v.ValueUsername = s }),
	},
}

func readPtr(get func(*models.CustomFieldValue) *string) func(*models.CustomFieldValue) (string, bool) {
	return func(v *models.CustomFieldValue) (string, bool) {
		p := get(v)
		if p == nil {
			return "", false
		}
		return *p, true
	}
}

func writeStrPtr(set func(*models.CustomFieldValue, *string)) func(string, *models.CustomFieldValue) error {
	return func(raw string, v *models.CustomFieldValue) error {
		set(v, &raw)
		return nil
	}
}

// writeMultiPtr canonicalizes comma/list-form multi-valued input to a
// single-comma-separated string (§4.C typing rule).
func writeMultiPtr(set func(*models.CustomFieldValue, *string)) func(string, *models.CustomFieldValue) error {
	return func(raw string, v *models.CustomFieldValue) error {
		parts := strings.Split(raw, ",")
		canon := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				canon = append(canon, p)
			}
		}
		joined := strings.Join(canon, ",")
		set(v, &joined)
		return nil
	}
}

func readTimePtr(get func(*models.CustomFieldValue) *time.Time, layout string) func(*models.CustomFieldValue) (string, bool) {
	return func(v *models.CustomFieldValue) (string, bool) {
		p := get(v)
		if p == nil {
			return "", false
		}
		return p.Format(layout), true
	}
}

func writeTimePtr(set func(*models.CustomFieldValue, *time.Time), layout string) func(string, *models.CustomFieldValue) error {
	return func(raw string, v *models.CustomFieldValue) error {
		t, err := time.Parse(layout, raw)
		if err != nil {
			return fmt.Errorf("not a valid %s value: %q", layout, raw)
		}
		set(v, &t)
		return nil
	}
}

func coerceBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", raw)
	}
}

// Store is the sqlite-backed Field Store.
type Store struct {
	db *sql.DB
}

// New wraps an open sqlite connection as a fields Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// BaseField resolves field_key against ticket's header attributes when
// it names one, otherwise delegates to Get against the custom-field
// schema (§4.C). schema is only consulted in the delegate case.
func (s *Store) BaseField(ctx context.Context, ticket *models.Ticket, fieldKey string, schema map[string]models.FieldSchema) (string, bool, error) {
	switch fieldKey {
	case "id":
		return strconv.FormatInt(ticket.ID, 10), true, nil
	case "sn":
		return ticket.SN, true, nil
	case "title":
		return ticket.Title, true, nil
	case "state_id":
		return strconv.FormatInt(ticket.StateID, 10), true, nil
	case "creator":
		return ticket.Creator, true, nil
	case "workflow_id":
		return strconv.FormatInt(ticket.WorkflowID, 10), true, nil
	case "parent_ticket_id":
		if ticket.ParentTicketID == nil {
			return "", false, nil
		}
		return strconv.FormatInt(*ticket.ParentTicketID, 10), true, nil
	case "gmt_created":
		return ticket.GmtCreated.Format(time.RFC3339), true, nil
	case "gmt_modified":
		return ticket.GmtModified.Format(time.RFC3339), true, nil
	}

	fs, ok := schema[fieldKey]
	if !ok {
		return "", false, ticketerr.New(ticketerr.NotFound, "field %q is not in the workflow schema", fieldKey)
	}
	return s.Get(ctx, ticket.ID, fieldKey, fs.FieldType)
}

// Get returns the raw string form of a ticket's custom-field value,
// or (_, false) if no row exists. fieldType selects which typed column
// is read.
func (s *Store) Get(ctx context.Context, ticketID int64, fieldKey string, fieldType models.FieldType) (string, bool, error) {
	spec, ok := kindTable[fieldType]
	if !ok {
		return "", false, ticketerr.New(ticketerr.InvariantViolation, "unknown field_type_id %d for %q", fieldType, fieldKey)
	}

	query := fmt.Sprintf(`SELECT %s FROM ticket_custom_field WHERE ticket_id = ? AND field_key = ? AND is_deleted = 0`, spec.column)
	row := s.db.QueryRowContext(ctx, query, ticketID, fieldKey)

	cfv := &models.CustomFieldValue{}
	target := columnTarget(spec.column, cfv)
	if err := row.Scan(target); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "read field %q on ticket %d", fieldKey, ticketID)
	}
	return spec.read(cfv)
}

// All reads every field in schema for ticketID, returning only the
// keys that have a stored value (§4.C is sparse by design).
func (s *Store) All(ctx context.Context, ticketID int64, schema map[string]models.FieldSchema) (map[string]string, error) {
	out := make(map[string]string, len(schema))
	for key, fs := range schema {
		value, ok, err := s.Get(ctx, ticketID, key, fs.FieldType)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}

// UpsertMany writes every (field_key, raw_value) pair in values whose
// key is present in schema, skipping and logging the rest (§4.C).
func (s *Store) UpsertMany(ctx context.Context, ticketID int64, values map[string]string, schema map[string]models.FieldSchema) error {
	return s.upsertManyTx(ctx, s.db, ticketID, values, schema)
}

// UpsertManyTx is UpsertMany run inside an existing transaction, used
// by the Transition Executor so ticket header, field values, and flow
// log commit atomically (§5).
func (s *Store) UpsertManyTx(ctx context.Context, tx *sql.Tx, ticketID int64, values map[string]string, schema map[string]models.FieldSchema) error {
	return s.upsertManyTx(ctx, tx, ticketID, values, schema)
}

type execContext interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) upsertManyTx(ctx context.Context, ex execContext, ticketID int64, values map[string]string, schema map[string]models.FieldSchema) error {
	for key, raw := range values {
		fs, ok := schema[key]
		if !ok {
			logging.Debug("skipping field %q on ticket %d: not in workflow schema", key, ticketID)
			continue
		}
		spec, ok := kindTable[fs.FieldType]
		if !ok {
			return ticketerr.New(ticketerr.InvariantViolation, "unknown field_type_id %d for %q", fs.FieldType, key)
		}

		cfv := &models.CustomFieldValue{}
		if err := spec.write(raw, cfv); err != nil {
			return ticketerr.Wrap(ticketerr.BadArgument, err, "field %q", key)
		}

		var exists bool
		row := ex.QueryRowContext(ctx, `SELECT 1 FROM ticket_custom_field WHERE ticket_id = ? AND field_key = ?`, ticketID, key)
		if err := row.Scan(new(int)); err == nil {
			exists = true
		} else if err != sql.ErrNoRows {
			return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "check existing field %q on ticket %d", key, ticketID)
		}

		value := columnValue(spec.column, cfv)
		if exists {
			query := fmt.Sprintf(`UPDATE ticket_custom_field SET %s = ?, field_type_id = ?, gmt_modified = CURRENT_TIMESTAMP
				WHERE ticket_id = ? AND field_key = ?`, spec.column)
			if _, err := ex.ExecContext(ctx, query, value, int(fs.FieldType), ticketID, key); err != nil {
				return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "update field %q on ticket %d", key, ticketID)
			}
		} else {
			query := fmt.Sprintf(`INSERT INTO ticket_custom_field (ticket_id, field_key, field_type_id, %s) VALUES (?, ?, ?, ?)`, spec.column)
			if _, err := ex.ExecContext(ctx, query, ticketID, key, int(fs.FieldType), value); err != nil {
				return ticketerr.Wrap(ticketerr.UpstreamFailure, err, "insert field %q on ticket %d", key, ticketID)
			}
		}
	}
	return nil
}

func columnTarget(column string, cfv *models.CustomFieldValue) interface{} {
	switch column {
	case "value_char":
		return &cfv.ValueChar
	case "value_int":
		return &cfv.ValueInt
	case "value_float":
		return &cfv.ValueFloat
	case "value_bool":
		return &cfv.ValueBool
	case "value_date":
		return &cfv.ValueDate
	case "value_datetime":
		return &cfv.ValueDatetime
	case "value_radio":
		return &cfv.ValueRadio
	case "value_checkbox":
		return &cfv.ValueCheckbox
	case "value_select":
		return &cfv.ValueSelect
	case "value_multi_select":
		return &cfv.ValueMultiSelect
	case "value_text":
		return &cfv.ValueText
	default:
		return &cfv.ValueUsername
	}
}

func columnValue(column string, cfv *models.CustomFieldValue) interface{} {
	switch column {
	case "value_char":
		return cfv.ValueChar
	case "value_int":
		return cfv.ValueInt
	case "value_float":
		return cfv.ValueFloat
	case "value_bool":
		return cfv.ValueBool
	case "value_date":
		return cfv.ValueDate
	case "value_datetime":
		return cfv.ValueDatetime
	case "value_radio":
		return cfv.ValueRadio
	case "value_checkbox":
		return cfv.ValueCheckbox
	case "value_select":
		return cfv.ValueSelect
	case "value_multi_select":
		return cfv.ValueMultiSelect
	case "value_text":
		return cfv.ValueText
	default:
		return cfv.ValueUsername
	}
}
