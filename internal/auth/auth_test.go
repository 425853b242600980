package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"ticketflow/internal/directory"
)

type fakeDirectory struct {
	users map[string]*directory.User
}

func (f *fakeDirectory) UserByName(ctx context.Context, username string) (*directory.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}
func (f *fakeDirectory) UpDeptIDs(ctx context.Context, username string) ([]int64, error) { return nil, nil }
func (f *fakeDirectory) RoleIDs(ctx context.Context, username string) ([]int64, error)   { return nil, nil }
func (f *fakeDirectory) DeptUsernameList(ctx context.Context, deptID int64) ([]string, error) {
	return nil, nil
}
func (f *fakeDirectory) RoleUsernameList(ctx context.Context, roleID int64) ([]string, error) {
	return nil, nil
}
func (f *fakeDirectory) UserDeptApprover(ctx context.Context, username string) (string, error) {
	return "", nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func runMiddleware(mw gin.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, *gin.Context) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	mw(c)
	return rec, c
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	m := NewMiddleware(&fakeDirectory{})
	rec, _ := runMiddleware(m.Authenticate(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateRejectsMalformedHeader(t *testing.T) {
	m := NewMiddleware(&fakeDirectory{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "alice")
	rec, _ := runMiddleware(m.Authenticate(), req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	m := NewMiddleware(&fakeDirectory{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec, _ := runMiddleware(m.Authenticate(), req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateRejectsUnknownUser(t *testing.T) {
	m := NewMiddleware(&fakeDirectory{users: map[string]*directory.User{}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ghost")
	rec, _ := runMiddleware(m.Authenticate(), req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateSetsUsernameAndAdminFlag(t *testing.T) {
	m := NewMiddleware(&fakeDirectory{users: map[string]*directory.User{
		"alice": {Username: "alice", IsAdmin: true},
	}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer alice")
	rec, c := runMiddleware(m.Authenticate(), req)

	require.NotEqual(t, http.StatusUnauthorized, rec.Code)
	name, ok := UsernameFromContext(c)
	require.True(t, ok)
	require.Equal(t, "alice", name)
	isAdmin, _ := c.Get("is_admin")
	require.Equal(t, true, isAdmin)
}

func TestAuthenticateLocalModeSkipsDirectoryLookup(t *testing.T) {
	m := NewMiddlewareWithLocalMode(&fakeDirectory{}, true, "admin")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec, c := runMiddleware(m.Authenticate(), req)

	require.NotEqual(t, http.StatusUnauthorized, rec.Code)
	name, ok := UsernameFromContext(c)
	require.True(t, ok)
	require.Equal(t, "admin", name)
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	m := NewMiddleware(&fakeDirectory{})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Set("is_admin", false)
	m.RequireAdmin()(c)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	m := NewMiddleware(&fakeDirectory{})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Set("is_admin", true)
	m.RequireAdmin()(c)
	require.NotEqual(t, http.StatusForbidden, rec.Code)
}

func TestUsernameFromContextMissing(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	_, ok := UsernameFromContext(c)
	require.False(t, ok)
}
