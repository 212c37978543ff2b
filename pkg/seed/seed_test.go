package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/tracker/pkg/auth"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/store"
)

func TestApplySampleFixtures(t *testing.T) {
	ctx := context.Background()
	f, err := LoadFile(filepath.Join("..", "..", "configs", "seed.yaml"))
	require.NoError(t, err)

	s := store.NewMemoryStore()
	sum, err := Apply(ctx, s, f)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Users: 4, Projects: 1, WorkPackages: 3, Watchers: 3}, sum)

	admin, err := s.GetUserByLogin(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.NoError(t, auth.CheckPassword(admin.PasswordHash, "admin-password-1"))

	carol, err := s.GetUserByLogin(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, carol.ChangePasswordAllowed())
	assert.Equal(t, models.MailNotificationOnlyMyEvents, carol.MailNotification)

	project, err := s.GetProjectByIdentifier(ctx, "tracker")
	require.NoError(t, err)
	assert.Len(t, project.TypeIDs, 3)

	versions, err := s.ListVersions(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	wps, err := s.ListWorkPackages(ctx, models.WorkPackageFilter{ProjectID: project.ID})
	require.NoError(t, err)
	require.Len(t, wps, 3)
	parent, child := wps[0], wps[1]
	assert.Equal(t, 1, parent.ChildCount)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, "2026-10-31", *parent.DueDate)
	assert.Len(t, parent.CustomValues, 1)

	watchers, err := s.ListWatchers(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, watchers, 2)

	priorities, err := s.ListPriorities(ctx)
	require.NoError(t, err)
	assert.False(t, priorities[3].Active)
}

func TestApplyUnknownReference(t *testing.T) {
	f, err := Parse([]byte(`
users:
  - login: alice
projects:
  - identifier: demo
    name: Demo
    members:
      - user: mallory
`))
	require.NoError(t, err)

	_, err = Apply(context.Background(), store.NewMemoryStore(), f)
	assert.EqualError(t, err, `project "demo": unknown user "mallory"`)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("users:\n  - login: alice\n    pasword: typo\n"))
	assert.Error(t, err)

	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Users)
}
