package watchers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/rbac"
	"github.com/psantana5/tracker/pkg/store"
)

type fixture struct {
	service *Service
	wp      *models.WorkPackage
	manager *models.User
	member  *models.User
	reader  *models.User
	locked  *models.User
	outside *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	f := &fixture{}

	project := &models.Project{Identifier: "demo", Name: "Demo"}
	require.NoError(t, s.CreateProject(ctx, project))

	manage := &models.ProjectRole{Name: "Manager", Permissions: []models.Permission{
		models.PermViewWorkPackages, models.PermViewWatchers, models.PermAddWatchers, models.PermDeleteWatchers,
	}}
	read := &models.ProjectRole{Name: "Reader", Permissions: []models.Permission{models.PermViewWorkPackages}}
	require.NoError(t, s.CreateRole(ctx, manage))
	require.NoError(t, s.CreateRole(ctx, read))

	f.manager = &models.User{Login: "manager", Firstname: "Mia", Status: models.UserStatusActive}
	f.member = &models.User{Login: "member", Firstname: "Bo", Status: models.UserStatusActive}
	f.reader = &models.User{Login: "reader", Firstname: "Cy", Status: models.UserStatusActive}
	f.locked = &models.User{Login: "locked", Firstname: "Al", Status: models.UserStatusLocked}
	f.outside = &models.User{Login: "outside", Firstname: "Zed", Status: models.UserStatusActive}
	for _, u := range []*models.User{f.manager, f.member, f.reader, f.locked, f.outside} {
		require.NoError(t, s.CreateUser(ctx, u))
	}
	require.NoError(t, s.AddMember(ctx, &models.Member{ProjectID: project.ID, UserID: f.manager.ID, RoleIDs: []int64{manage.ID}}))
	for _, u := range []*models.User{f.member, f.reader, f.locked} {
		require.NoError(t, s.AddMember(ctx, &models.Member{ProjectID: project.ID, UserID: u.ID, RoleIDs: []int64{read.ID}}))
	}

	f.wp = &models.WorkPackage{Subject: "watch me", ProjectID: project.ID, AuthorID: f.manager.ID}
	require.NoError(t, s.CreateWorkPackage(ctx, f.wp))

	f.service = NewService(s, rbac.NewAuthorizer(s))
	return f
}

func logins(users []*models.User) []string {
	out := []string{}
	for _, u := range users {
		out = append(out, u.Login)
	}
	return out
}

func TestForWorkPackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	added, err := f.service.Add(ctx, f.manager, f.wp, f.member.ID)
	require.NoError(t, err)
	assert.True(t, added)

	w, err := f.service.ForWorkPackage(ctx, f.wp)
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, logins(w.Watching))
	// Active members allowed to view, by name, minus the watchers
	assert.Equal(t, []string{"reader", "manager"}, logins(w.Available))
}

func TestAddIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	added, err := f.service.Add(ctx, f.manager, f.wp, f.reader.ID)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.service.Add(ctx, f.manager, f.wp, f.reader.ID)
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := f.service.Remove(ctx, f.manager, f.wp, f.reader.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.service.Remove(ctx, f.manager, f.wp, f.reader.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Watching oneself only needs view access
	added, err := f.service.Add(ctx, f.reader, f.wp, f.reader.ID)
	require.NoError(t, err)
	assert.True(t, added)
	_, err = f.service.Remove(ctx, f.reader, f.wp, f.reader.ID)
	require.NoError(t, err)

	_, err = f.service.Add(ctx, f.reader, f.wp, f.member.ID)
	assert.ErrorIs(t, err, ErrNotAllowed)
	_, err = f.service.Remove(ctx, f.reader, f.wp, f.member.ID)
	assert.ErrorIs(t, err, ErrNotAllowed)
	_, err = f.service.Add(ctx, f.outside, f.wp, f.outside.ID)
	assert.ErrorIs(t, err, ErrNotAllowed)

	_, err = f.service.Add(ctx, f.manager, f.wp, f.locked.ID)
	assert.ErrorIs(t, err, ErrInvalidWatcher)
	_, err = f.service.Add(ctx, f.manager, f.wp, f.outside.ID)
	assert.ErrorIs(t, err, ErrInvalidWatcher)
	_, err = f.service.Add(ctx, f.manager, f.wp, 9999)
	assert.ErrorIs(t, err, ErrInvalidWatcher)

	ok, err := f.service.CanView(ctx, f.reader, f.wp)
	require.NoError(t, err)
	assert.False(t, ok)
}
