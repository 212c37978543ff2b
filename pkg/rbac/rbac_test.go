package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/session"
)

type fakeMemberships struct {
	members []*models.Member
	roles   []*models.ProjectRole
}

func (f *fakeMemberships) ListMembers(ctx context.Context, projectID int64) ([]*models.Member, error) {
	var out []*models.Member
	for _, m := range f.members {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMemberships) ListRoles(ctx context.Context) ([]*models.ProjectRole, error) {
	return f.roles, nil
}

func newFixture() *fakeMemberships {
	return &fakeMemberships{
		roles: []*models.ProjectRole{
			{ID: 1, Name: "Member", Assignable: true, Permissions: []models.Permission{models.PermViewWorkPackages, models.PermEditWorkPackages}},
			{ID: 2, Name: "Reader", Permissions: []models.Permission{models.PermViewWorkPackages}},
		},
		members: []*models.Member{
			{ProjectID: 10, UserID: 100, RoleIDs: []int64{1}},
			{ProjectID: 10, UserID: 101, RoleIDs: []int64{2}},
			{ProjectID: 11, UserID: 101, RoleIDs: []int64{1}},
		},
	}
}

func TestAllowedTo(t *testing.T) {
	a := NewAuthorizer(newFixture())
	ctx := context.Background()

	member := &models.User{ID: 100, Status: models.UserStatusActive, Role: models.RoleUser}
	reader := &models.User{ID: 101, Status: models.UserStatusActive, Role: models.RoleUser}
	admin := &models.User{ID: 1, Status: models.UserStatusActive, Role: models.RoleAdmin}
	locked := &models.User{ID: 100, Status: models.UserStatusLocked, Role: models.RoleUser}

	cases := []struct {
		name    string
		user    *models.User
		project int64
		want    bool
	}{
		{"member can edit", member, 10, true},
		{"reader cannot edit", reader, 10, false},
		{"reader edits elsewhere", reader, 11, true},
		{"non member", member, 11, false},
		{"admin bypasses", admin, 99, true},
		{"locked user", locked, 10, false},
		{"anonymous", nil, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := a.AllowedTo(ctx, tc.user, models.PermEditWorkPackages, tc.project)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestMembersAllowedTo(t *testing.T) {
	a := NewAuthorizer(newFixture())

	ids, err := a.MembersAllowedTo(context.Background(), 10, models.PermViewWorkPackages)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101}, ids)

	ids, err = a.MembersAllowedTo(context.Background(), 10, models.PermEditWorkPackages)
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, ids)
}

func TestRequirePermission(t *testing.T) {
	handler := RequirePermission(models.PermAdministerUsers)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	admin := &models.User{Role: models.RoleAdmin}
	req = req.WithContext(session.WithUser(req.Context(), admin, session.AuthMethodSession))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
