package ticketerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(NotFound, "ticket %d missing", 42)
	assert.Equal(t, "not_found: ticket 42 missing", err.Error())

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NotFound, kind)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(UpstreamFailure, cause, "directory lookup failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIs(t *testing.T) {
	err := New(PermissionDenied, "no checkout access")
	assert.True(t, Is(err, PermissionDenied))
	assert.False(t, Is(err, NotFound))
	assert.False(t, Is(errors.New("plain"), NotFound))
}

func TestErrorsIsMatchesByKindNotMessage(t *testing.T) {
	a := New(ValidationFailed, "missing field foo")
	b := New(ValidationFailed, "missing field bar")
	assert.True(t, errors.Is(a, b), "two tagged errors of the same kind should compare equal via errors.Is")

	c := New(BadArgument, "missing field foo")
	assert.False(t, errors.Is(a, c))
}

func TestMessage(t *testing.T) {
	ok, msg := Message(nil)
	assert.True(t, ok)
	assert.Empty(t, msg)

	ok, msg = Message(New(InvariantViolation, "ticket %d has no active state", 7))
	assert.False(t, ok)
	assert.Equal(t, fmt.Sprintf("%s: ticket 7 has no active state", InvariantViolation), msg)
}
