package schema

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/rbac"
	"github.com/psantana5/tracker/pkg/store"
	"github.com/psantana5/tracker/pkg/workflow"
)

type fixture struct {
	store    *store.MemoryStore
	factory  *Factory
	project  *models.Project
	task     *models.Type
	bug      *models.Type
	newSt    *models.Status
	progress *models.Status
	closed   *models.Status
	dev      *models.User
	cfShared *models.CustomField
	cfGlobal *models.CustomField
}

func newFixture(t *testing.T, settings models.Settings) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	f := &fixture{store: s}

	f.cfShared = &models.CustomField{Name: "Severity", FieldFormat: models.FieldFormatList, IsRequired: true, PossibleValues: []string{"low", "high"}}
	f.cfGlobal = &models.CustomField{Name: "Points", FieldFormat: models.FieldFormatInt, IsForAll: true}
	cfTypeOnly := &models.CustomField{Name: "Browser", FieldFormat: models.FieldFormatString}
	for _, cf := range []*models.CustomField{f.cfShared, f.cfGlobal, cfTypeOnly} {
		require.NoError(t, s.CreateCustomField(ctx, cf))
	}

	f.task = &models.Type{Name: "Task", Position: 1, CustomFieldIDs: []int64{cfTypeOnly.ID, f.cfGlobal.ID, f.cfShared.ID}}
	f.bug = &models.Type{Name: "Bug", Position: 2}
	milestone := &models.Type{Name: "Milestone", Position: 3}
	for _, typ := range []*models.Type{f.task, f.bug, milestone} {
		require.NoError(t, s.CreateType(ctx, typ))
	}

	f.project = &models.Project{Identifier: "demo", Name: "Demo", Active: true,
		TypeIDs: []int64{f.task.ID, f.bug.ID}, WorkPackageCustomFieldIDs: []int64{f.cfShared.ID}}
	require.NoError(t, s.CreateProject(ctx, f.project))

	f.newSt = &models.Status{Name: "New", IsDefault: true, Position: 1}
	f.progress = &models.Status{Name: "In progress", Position: 2}
	f.closed = &models.Status{Name: "Closed", IsClosed: true, Position: 3}
	for _, st := range []*models.Status{f.newSt, f.progress, f.closed} {
		require.NoError(t, s.CreateStatus(ctx, st))
	}
	require.NoError(t, s.CreatePriority(ctx, &models.Priority{Name: "Normal", Active: true, Position: 2}))
	require.NoError(t, s.CreatePriority(ctx, &models.Priority{Name: "Legacy", Active: false, Position: 1}))
	require.NoError(t, s.CreatePriority(ctx, &models.Priority{Name: "High", Active: true, Position: 3}))

	require.NoError(t, s.CreateVersion(ctx, &models.Version{ProjectID: f.project.ID, Name: "1.0", Status: models.VersionStatusClosed}))
	require.NoError(t, s.CreateVersion(ctx, &models.Version{ProjectID: f.project.ID, Name: "2.0", Status: models.VersionStatusOpen}))
	require.NoError(t, s.CreateCategory(ctx, &models.Category{ProjectID: f.project.ID, Name: "Backend"}))

	devRole := &models.ProjectRole{Name: "Developer", Assignable: true}
	viewer := &models.ProjectRole{Name: "Viewer"}
	require.NoError(t, s.CreateRole(ctx, devRole))
	require.NoError(t, s.CreateRole(ctx, viewer))

	f.dev = &models.User{Login: "dev", Firstname: "Dana", Lastname: "Dev", Status: models.UserStatusActive}
	watcher := &models.User{Login: "viewer", Status: models.UserStatusActive}
	locked := &models.User{Login: "locked", Status: models.UserStatusLocked}
	for _, u := range []*models.User{f.dev, watcher, locked} {
		require.NoError(t, s.CreateUser(ctx, u))
	}
	require.NoError(t, s.AddMember(ctx, &models.Member{ProjectID: f.project.ID, UserID: f.dev.ID, RoleIDs: []int64{devRole.ID}}))
	require.NoError(t, s.AddMember(ctx, &models.Member{ProjectID: f.project.ID, UserID: watcher.ID, RoleIDs: []int64{viewer.ID}}))
	require.NoError(t, s.AddMember(ctx, &models.Member{ProjectID: f.project.ID, UserID: locked.ID, RoleIDs: []int64{devRole.ID}}))

	require.NoError(t, s.CreateWorkflow(ctx, &models.Workflow{TypeID: f.task.ID, RoleID: devRole.ID, OldStatusID: f.newSt.ID, NewStatusID: f.progress.ID}))
	require.NoError(t, s.CreateWorkflow(ctx, &models.Workflow{TypeID: f.task.ID, RoleID: devRole.ID, OldStatusID: f.progress.ID, NewStatusID: f.closed.ID}))

	f.factory = NewFactory(s, workflow.New(s, rbac.NewAuthorizer(s)), settings)
	return f
}

func (f *fixture) workPackage() *models.WorkPackage {
	return &models.WorkPackage{ProjectID: f.project.ID, TypeID: f.task.ID, StatusID: f.newSt.ID}
}

func valueNames(values []Value) []string {
	var out []string
	for _, v := range values {
		out = append(out, v.Name)
	}
	return out
}

func TestProjectAndType(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	s, err := f.factory.For(context.Background(), f.workPackage())
	require.NoError(t, err)
	assert.Equal(t, f.project.ID, s.Project().ID)
	assert.Equal(t, f.task.ID, s.Type().ID)
}

func TestAssignableStatuses(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	wp := f.workPackage()
	s, err := f.factory.For(ctx, wp)
	require.NoError(t, err)
	values, err := s.AssignableValues(ctx, AttrStatus, f.dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"New", "In progress"}, valueNames(values))

	// A pending status change is evaluated from the stored status
	wp.MarkPersisted()
	wp.StatusID = f.progress.ID
	s, err = f.factory.For(ctx, wp)
	require.NoError(t, err)
	values, err = s.AssignableValues(ctx, AttrStatus, f.dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"New", "In progress"}, valueNames(values))
	assert.Equal(t, f.progress.ID, wp.StatusID, "work package is left untouched")
}

func TestAssignableValues(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()
	s, err := f.factory.For(ctx, f.workPackage())
	require.NoError(t, err)

	types, err := s.AssignableValues(ctx, AttrType, f.dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"Task", "Bug"}, valueNames(types))

	priorities, err := s.AssignableValues(ctx, AttrPriority, f.dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"Normal", "High"}, valueNames(priorities))

	versions, err := s.AssignableValues(ctx, AttrVersion, f.dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0"}, valueNames(versions))

	categories, err := s.AssignableValues(ctx, AttrCategory, f.dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"Backend"}, valueNames(categories))

	assignees, err := s.AssignableValues(ctx, AttrAssignee, f.dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dana Dev"}, valueNames(assignees))

	unknown, err := s.AssignableValues(ctx, AttrSubject, f.dev)
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestAssignableVersionsKeepCurrent(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()
	versions, _ := f.store.ListVersions(ctx, f.project.ID)
	wp := f.workPackage()
	wp.VersionID = &versions[0].ID

	s, err := f.factory.For(ctx, wp)
	require.NoError(t, err)
	values, err := s.AssignableValues(ctx, AttrVersion, f.dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0", "2.0"}, valueNames(values))
}

func TestAvailableCustomFields(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	s, err := f.factory.For(ctx, f.workPackage())
	require.NoError(t, err)
	var names []string
	for _, cf := range s.AvailableCustomFields() {
		names = append(names, cf.Name)
	}
	assert.Equal(t, []string{"Points", "Severity"}, names)
	assert.True(t, s.Required("customField"+itoa(f.cfShared.ID)))
	assert.False(t, s.Required("customField"+itoa(f.cfGlobal.ID)))

	noType := f.workPackage()
	noType.TypeID = 0
	s, err = f.factory.For(ctx, noType)
	require.NoError(t, err)
	assert.Empty(t, s.AvailableCustomFields())

	noProject := f.workPackage()
	noProject.ProjectID = 9999
	s, err = f.factory.For(ctx, noProject)
	require.NoError(t, err)
	assert.Nil(t, s.Project())
	assert.Empty(t, s.AvailableCustomFields())
}

func TestWritable(t *testing.T) {
	tests := []struct {
		name      string
		doneRatio string
		children  int
		attr      string
		want      bool
	}{
		{"percentage done inferred by status", models.DoneRatioStatus, 0, AttrPercentageDone, false},
		{"percentage done disabled", models.DoneRatioDisabled, 0, AttrPercentageDone, false},
		{"percentage done on a parent", models.DoneRatioField, 2, AttrPercentageDone, false},
		{"percentage done on a leaf", models.DoneRatioField, 0, AttrPercentageDone, true},
		{"estimated time on a parent", models.DoneRatioField, 1, AttrEstimatedTime, false},
		{"estimated time on a leaf", models.DoneRatioField, 0, AttrEstimatedTime, true},
		{"start date on a parent", models.DoneRatioField, 1, AttrStartDate, false},
		{"start date on a leaf", models.DoneRatioField, 0, AttrStartDate, true},
		{"due date on a parent", models.DoneRatioField, 1, AttrDueDate, false},
		{"due date on a leaf", models.DoneRatioField, 0, AttrDueDate, true},
		{"subject", models.DoneRatioField, 1, AttrSubject, true},
		{"author", models.DoneRatioField, 0, AttrAuthor, false},
		{"created at", models.DoneRatioField, 0, AttrCreatedAt, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := models.DefaultSettings()
			settings.WorkPackageDoneRatio = tt.doneRatio
			f := newFixture(t, settings)
			wp := f.workPackage()
			wp.ChildCount = tt.children

			s, err := f.factory.For(context.Background(), wp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Writable(tt.attr))
		})
	}
}

func TestRepresent(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()
	s, err := f.factory.For(ctx, f.workPackage())
	require.NoError(t, err)

	out, err := s.Represent(ctx, f.dev)
	require.NoError(t, err)
	assert.Equal(t, "Schema", out["_type"])

	subject := out["subject"].(map[string]interface{})
	assert.Equal(t, true, subject["required"])
	assert.Equal(t, 255, subject["maxLength"])

	status := out["status"].(map[string]interface{})
	allowed := status["_links"].(map[string]interface{})["allowedValues"]
	assert.Len(t, allowed, 2)

	severity := out["customField"+itoa(f.cfShared.ID)].(map[string]interface{})
	assert.Equal(t, "StringObject", severity["type"])
	assert.Equal(t, []string{"low", "high"}, severity["allowedValues"])
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
