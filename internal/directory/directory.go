// Package directory implements the Directory Client contract (§4.A):
// the external collaborator the core resolves usernames, department
// chains, roles, and approvers through. The core depends only on the
// Client interface; Store is this repository's sqlite-backed
// reference implementation, modeled on the teacher's repository
// pattern (struct wraps *sql.DB, one method per directory query).
package directory

import (
	"context"
	"database/sql"
	"strings"

	"ticketflow/internal/ticketerr"
)

// User is the directory's view of an account; a strict subset of what
// a real directory would carry, sufficient for permission checks.
type User struct {
	Username string
	DeptID   int64
	IsAdmin  bool
}

// Client is the contract consumed by the Participant Resolver and
// Permission Evaluator (§4.A, §4.D, §4.E).
type Client interface {
	UserByName(ctx context.Context, username string) (*User, error)
	UpDeptIDs(ctx context.Context, username string) ([]int64, error)
	RoleIDs(ctx context.Context, username string) ([]int64, error)
	DeptUsernameList(ctx context.Context, deptID int64) ([]string, error)
	RoleUsernameList(ctx context.Context, roleID int64) ([]string, error)
	UserDeptApprover(ctx context.Context, username string) (string, error)
}

// Store is the sqlite-backed reference implementation of Client.
type Store struct {
	db *sql.DB
}

// New wraps an open sqlite connection as a directory Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ Client = (*Store)(nil)

// UserByName resolves username to a User, or NotFound.
func (s *Store) UserByName(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, dept_id, is_admin FROM users WHERE username = ?`, username)
	u := &User{}
	if err := row.Scan(&u.Username, &u.DeptID, &u.IsAdmin); err != nil {
		if err == sql.ErrNoRows {
			return nil, ticketerr.New(ticketerr.NotFound, "user %q not found", username)
		}
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "lookup user %q", username)
	}
	return u, nil
}

// UpDeptIDs returns username's department plus every ancestor
// department id, self first (§4.A).
func (s *Store) UpDeptIDs(ctx context.Context, username string) ([]int64, error) {
	u, err := s.UserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	var ids []int64
	deptID := u.DeptID
	seen := make(map[int64]bool)
	for deptID != 0 && !seen[deptID] {
		ids = append(ids, deptID)
		seen[deptID] = true

		var parentID int64
		row := s.db.QueryRowContext(ctx, `SELECT parent_id FROM departments WHERE id = ?`, deptID)
		if err := row.Scan(&parentID); err != nil {
			if err == sql.ErrNoRows {
				break
			}
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "walk department chain for %q", username)
		}
		deptID = parentID
	}
	return ids, nil
}

// RoleIDs returns the set of role ids username holds.
func (s *Store) RoleIDs(ctx context.Context, username string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ur.role_id FROM user_roles ur
		 JOIN users u ON u.id = ur.user_id
		 WHERE u.username = ?`, username)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "list roles for %q", username)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan role id for %q", username)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeptUsernameList returns every username directly in deptID.
func (s *Store) DeptUsernameList(ctx context.Context, deptID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users WHERE dept_id = ?`, deptID)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "list usernames for dept %d", deptID)
	}
	defer rows.Close()
	return scanUsernames(rows)
}

// RoleUsernameList returns every username holding roleID.
func (s *Store) RoleUsernameList(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.username FROM users u
		 JOIN user_roles ur ON ur.user_id = u.id
		 WHERE ur.role_id = ?`, roleID)
	if err != nil {
		return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "list usernames for role %d", roleID)
	}
	defer rows.Close()
	return scanUsernames(rows)
}

// UserDeptApprover returns username's approvers (possibly more than
// one, comma-separated), walking up the department chain until an
// entry with configured approvers is found.
func (s *Store) UserDeptApprover(ctx context.Context, username string) (string, error) {
	deptIDs, err := s.UpDeptIDs(ctx, username)
	if err != nil {
		return "", err
	}
	for _, deptID := range deptIDs {
		var approvers string
		row := s.db.QueryRowContext(ctx, `SELECT approvers FROM dept_approvers WHERE dept_id = ?`, deptID)
		switch err := row.Scan(&approvers); err {
		case nil:
			if approvers != "" {
				return approvers, nil
			}
		case sql.ErrNoRows:
			continue
		default:
			return "", ticketerr.Wrap(ticketerr.UpstreamFailure, err, "lookup approver for dept %d", deptID)
		}
	}
	return "", nil
}

func scanUsernames(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, ticketerr.Wrap(ticketerr.UpstreamFailure, err, "scan username")
		}
		out = append(out, username)
	}
	return out, rows.Err()
}

// FormatApprovers joins approver usernames the way the rest of the
// core expects comma-separated multi-value columns to look.
func FormatApprovers(usernames []string) string {
	return strings.Join(usernames, ",")
}
