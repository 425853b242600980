package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	internaldb "ticketflow/internal/db"
	"ticketflow/internal/ticketerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tdb, err := internaldb.NewTest(t)
	require.NoError(t, err)
	return New(tdb.Conn())
}

func seedOrg(t *testing.T, s *Store) {
	t.Helper()
	exec := func(query string, args ...interface{}) {
		_, err := s.db.Exec(query, args...)
		require.NoError(t, err)
	}
	exec(`INSERT INTO departments (id, name, parent_id) VALUES (1, 'root', 0)`)
	exec(`INSERT INTO departments (id, name, parent_id) VALUES (2, 'eng', 1)`)
	exec(`INSERT INTO roles (id, name) VALUES (1, 'approver')`)
	exec(`INSERT INTO users (username, dept_id, is_admin) VALUES ('alice', 2, 0)`)
	exec(`INSERT INTO users (username, dept_id, is_admin) VALUES ('bob', 2, 1)`)
	exec(`INSERT INTO user_roles (user_id, role_id) VALUES (1, 1)`)
	exec(`INSERT INTO dept_approvers (dept_id, approvers) VALUES (1, 'carol,dave')`)
}

func TestUserByName(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	u, err := s.UserByName(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", u.Username)
	require.True(t, u.IsAdmin)

	_, err = s.UserByName(context.Background(), "nobody")
	require.True(t, ticketerr.Is(err, ticketerr.NotFound))
}

func TestUpDeptIDsWalksAncestors(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	ids, err := s.UpDeptIDs(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, ids)
}

func TestRoleIDsAndRoleUsernameList(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	ids, err := s.RoleIDs(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)

	names, err := s.RoleUsernameList(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, names)
}

func TestDeptUsernameList(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	names, err := s.DeptUsernameList(context.Background(), 2)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, names)
}

func TestUserDeptApproverWalksUpChainToFirstConfiguredDept(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)

	// alice is in dept 2 (eng), which has no approvers; dept 1 (root) does.
	approvers, err := s.UserDeptApprover(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "carol,dave", approvers)
}

func TestUserDeptApproverEmptyWhenNoneConfigured(t *testing.T) {
	s := newTestStore(t)
	seedOrg(t, s)
	_, err := s.db.Exec(`DELETE FROM dept_approvers`)
	require.NoError(t, err)

	approvers, err := s.UserDeptApprover(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, approvers)
}

func TestFormatApprovers(t *testing.T) {
	require.Equal(t, "carol,dave", FormatApprovers([]string{"carol", "dave"}))
	require.Equal(t, "", FormatApprovers(nil))
}
