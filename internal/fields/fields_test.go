package fields

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	internaldb "ticketflow/internal/db"
	"ticketflow/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tdb, err := internaldb.NewTest(t)
	require.NoError(t, err)
	return New(tdb.Conn())
}

func schemaOf(fieldType models.FieldType) map[string]models.FieldSchema {
	return map[string]models.FieldSchema{
		"severity": {FieldKey: "severity", FieldType: fieldType},
	}
}

func TestGetMissingFieldReturnsNotOK(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), 1, "severity", models.FieldTypeStr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsertManyThenGetRoundTripsEveryKind(t *testing.T) {
	cases := []struct {
		fieldType models.FieldType
		raw       string
		want      string
	}{
		{models.FieldTypeStr, "hello", "hello"},
		{models.FieldTypeInt, "42", "42"},
		{models.FieldTypeFloat, "3.5", "3.5"},
		{models.FieldTypeBool, "true", "1"},
		{models.FieldTypeDate, "2026-07-30", "2026-07-30"},
		{models.FieldTypeDatetime, "2026-07-30T10:00:00Z", "2026-07-30T10:00:00Z"},
		{models.FieldTypeRadio, "yes", "yes"},
		{models.FieldTypeCheckbox, "a, b ,c", "a,b,c"},
		{models.FieldTypeSelect, "opt1", "opt1"},
		{models.FieldTypeMultiSelect, " x , y", "x,y"},
		{models.FieldTypeText, "long text body", "long text body"},
		{models.FieldTypeUsername, "alice, bob", "alice,bob"},
	}

	for _, tc := range cases {
		s := newTestStore(t)
		schema := schemaOf(tc.fieldType)
		err := s.UpsertMany(context.Background(), 1, map[string]string{"severity": tc.raw}, schema)
		require.NoError(t, err, "field type %d", tc.fieldType)

		got, ok, err := s.Get(context.Background(), 1, "severity", tc.fieldType)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, tc.want, got, "field type %d", tc.fieldType)
	}
}

func TestUpsertManySkipsKeysNotInSchema(t *testing.T) {
	s := newTestStore(t)
	schema := schemaOf(models.FieldTypeStr)

	err := s.UpsertMany(context.Background(), 1, map[string]string{
		"severity": "low",
		"unknown":  "ignored",
	}, schema)
	require.NoError(t, err)

	all, err := s.All(context.Background(), 1, schema)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"severity": "low"}, all)
}

func TestUpsertManyUpdatesExistingRow(t *testing.T) {
	s := newTestStore(t)
	schema := schemaOf(models.FieldTypeInt)
	ctx := context.Background()

	require.NoError(t, s.UpsertMany(ctx, 1, map[string]string{"severity": "1"}, schema))
	require.NoError(t, s.UpsertMany(ctx, 1, map[string]string{"severity": "2"}, schema))

	got, ok, err := s.Get(ctx, 1, "severity", models.FieldTypeInt)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", got)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM ticket_custom_field WHERE ticket_id = 1 AND field_key = 'severity'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestUpsertManyRejectsBadValue(t *testing.T) {
	s := newTestStore(t)
	schema := schemaOf(models.FieldTypeInt)
	err := s.UpsertMany(context.Background(), 1, map[string]string{"severity": "not-a-number"}, schema)
	require.Error(t, err)
}

func TestBaseFieldResolvesHeaderAttributes(t *testing.T) {
	s := newTestStore(t)
	ticket := &models.Ticket{ID: 7, SN: "loonflow_202607300001", Title: "demo", StateID: 2, Creator: "alice", WorkflowID: 3}

	val, ok, err := s.BaseField(context.Background(), ticket, "sn", nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "loonflow_202607300001", val)

	val, ok, err = s.BaseField(context.Background(), ticket, "creator", nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", val)
}

func TestBaseFieldUnknownKeyIsNotFound(t *testing.T) {
	s := newTestStore(t)
	ticket := &models.Ticket{ID: 1}
	_, _, err := s.BaseField(context.Background(), ticket, "nonexistent", map[string]models.FieldSchema{})
	require.Error(t, err)
}
