package form

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/rbac"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/schema"
	"github.com/psantana5/tracker/pkg/store"
	"github.com/psantana5/tracker/pkg/workflow"
)

type recordingNotifier struct {
	saved []int64
}

func (n *recordingNotifier) WorkPackageSaved(ctx context.Context, actor *models.User, wp *models.WorkPackage, created bool) error {
	n.saved = append(n.saved, wp.ID)
	return nil
}

type countingRecorder map[string]int

func (c countingRecorder) RecordWorkPackageSave(operation, result string) {
	c[operation+":"+result]++
}

type fixture struct {
	store    *store.MemoryStore
	service  *Service
	notifier *recordingNotifier
	recorder countingRecorder
	dev      *models.User
	reader   *models.User
	devRole  *models.ProjectRole
	project  *models.Project
	task     *models.Type
	newSt    *models.Status
	progress *models.Status
	closed   *models.Status
	normal   *models.Priority
	points   *models.CustomField
	severity *models.CustomField
	wp       *models.WorkPackage
}

func newFixture(t *testing.T, settings models.Settings) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	f := &fixture{store: s, notifier: &recordingNotifier{}, recorder: countingRecorder{}}

	f.points = &models.CustomField{Name: "Points", FieldFormat: models.FieldFormatInt}
	f.severity = &models.CustomField{Name: "Severity", FieldFormat: models.FieldFormatList, PossibleValues: []string{"low", "high"}}
	require.NoError(t, s.CreateCustomField(ctx, f.points))
	require.NoError(t, s.CreateCustomField(ctx, f.severity))

	f.task = &models.Type{Name: "Task", Position: 1, CustomFieldIDs: []int64{f.points.ID, f.severity.ID}}
	require.NoError(t, s.CreateType(ctx, f.task))
	f.project = &models.Project{Identifier: "demo", Name: "Demo", TypeIDs: []int64{f.task.ID},
		WorkPackageCustomFieldIDs: []int64{f.points.ID, f.severity.ID}}
	require.NoError(t, s.CreateProject(ctx, f.project))

	fifty := 50
	f.newSt = &models.Status{Name: "New", IsDefault: true, Position: 1}
	f.progress = &models.Status{Name: "In progress", Position: 2, DefaultDoneRatio: &fifty}
	f.closed = &models.Status{Name: "Closed", IsClosed: true, Position: 3}
	for _, st := range []*models.Status{f.newSt, f.progress, f.closed} {
		require.NoError(t, s.CreateStatus(ctx, st))
	}
	f.normal = &models.Priority{Name: "Normal", Active: true, IsDefault: true, Position: 1}
	require.NoError(t, s.CreatePriority(ctx, f.normal))

	dev := &models.ProjectRole{Name: "Developer", Assignable: true, Permissions: []models.Permission{
		models.PermViewWorkPackages, models.PermAddWorkPackages, models.PermEditWorkPackages,
		models.PermMoveWorkPackages, models.PermDeleteWorkPackages,
	}}
	read := &models.ProjectRole{Name: "Reader", Permissions: []models.Permission{models.PermViewWorkPackages}}
	require.NoError(t, s.CreateRole(ctx, dev))
	require.NoError(t, s.CreateRole(ctx, read))

	f.dev = &models.User{Login: "dev", Status: models.UserStatusActive}
	f.reader = &models.User{Login: "reader", Status: models.UserStatusActive}
	require.NoError(t, s.CreateUser(ctx, f.dev))
	require.NoError(t, s.CreateUser(ctx, f.reader))
	f.devRole = dev
	require.NoError(t, s.AddMember(ctx, &models.Member{ProjectID: f.project.ID, UserID: f.dev.ID, RoleIDs: []int64{dev.ID}}))
	require.NoError(t, s.AddMember(ctx, &models.Member{ProjectID: f.project.ID, UserID: f.reader.ID, RoleIDs: []int64{read.ID}}))

	require.NoError(t, s.CreateWorkflow(ctx, &models.Workflow{TypeID: f.task.ID, RoleID: dev.ID, OldStatusID: f.newSt.ID, NewStatusID: f.progress.ID}))

	f.wp = &models.WorkPackage{Subject: "Write docs", ProjectID: f.project.ID, TypeID: f.task.ID,
		StatusID: f.newSt.ID, PriorityID: f.normal.ID, AuthorID: f.dev.ID}
	require.NoError(t, s.CreateWorkPackage(ctx, f.wp))

	authz := rbac.NewAuthorizer(s)
	schemas := schema.NewFactory(s, workflow.New(s, authz), settings)
	f.service = NewService(s, schemas, authz, settings, nil)
	f.service.SetNotifier(f.notifier)
	f.service.SetRecorder(f.recorder)
	return f
}

func (f *fixture) load(t *testing.T) *models.WorkPackage {
	t.Helper()
	wp, err := f.store.GetWorkPackage(context.Background(), f.wp.ID)
	require.NoError(t, err)
	return wp
}

func changes(t *testing.T, body string) *Changes {
	t.Helper()
	c, err := ParseChanges([]byte(body))
	require.NoError(t, err)
	return c
}

func TestParseChanges(t *testing.T) {
	c := changes(t, `{"lockVersion": 2, "subject": "x", "_links": {"status": {"href": "/api/v3/statuses/3"}, "assignee": {"href": null}}}`)
	require.NotNil(t, c.LockVersion)
	assert.Equal(t, 2, *c.LockVersion)
	assert.Equal(t, []string{"assignee", "status", "subject"}, c.Attributes())
	assert.True(t, c.Touches("status"))

	_, err := ParseChanges([]byte(`{"subject": `))
	assert.ErrorIs(t, err, ErrInvalidBody)
	_, err = ParseChanges([]byte(`{"lockVersion": "two"}`))
	assert.ErrorIs(t, err, ErrInvalidBody)

	empty, err := ParseChanges(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Attributes())
}

func TestFormValidation(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	res, err := f.service.Form(ctx, f.dev, f.load(t), changes(t, `{
		"subject": "  ",
		"startDate": "2015-05-10",
		"dueDate": "2015-05-01",
		"percentageDone": 120,
		"customField`+fmt.Sprint(f.points.ID)+`": "many",
		"customField`+fmt.Sprint(f.severity.ID)+`": "medium",
		"_links": {"status": {"href": "/api/v3/statuses/`+fmt.Sprint(f.closed.ID)+`"}}
	}`))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"subject", "dueDate", "percentageDone", "status",
		representer.CustomFieldKey(f.points.ID), representer.CustomFieldKey(f.severity.ID),
	}, res.Errors.Attributes())

	folded := FoldForEditor(res.Errors)
	assert.Contains(t, folded, DateAttribute)
	assert.NotContains(t, folded, "dueDate")

	stored := f.load(t)
	assert.Equal(t, "Write docs", stored.Subject, "form does not persist")
}

func TestFormRejectsReadOnlyAndBadValues(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	res, err := f.service.Form(ctx, f.dev, f.load(t), changes(t, `{
		"id": 99,
		"estimatedTime": "two hours",
		"startDate": "tomorrow",
		"_links": {"priority": {"href": "/api/v3/users/1"}}
	}`))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"id", "estimatedTime", "startDate", "priority"}, res.Errors.Attributes())
}

func TestFormParentOnlyAttributes(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	parentID := f.wp.ID
	child := &models.WorkPackage{Subject: "child", ProjectID: f.project.ID, TypeID: f.task.ID,
		StatusID: f.newSt.ID, PriorityID: f.normal.ID, AuthorID: f.dev.ID, ParentID: &parentID}
	require.NoError(t, f.store.CreateWorkPackage(ctx, child))

	parent := f.load(t)
	require.False(t, parent.IsLeaf())
	res, err := f.service.Form(ctx, f.dev, parent, changes(t, `{"percentageDone": 30, "dueDate": "2015-01-01"}`))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"percentageDone", "dueDate"}, res.Errors.Attributes())

	// Sending the current value is not a write
	res, err = f.service.Form(ctx, f.dev, parent, changes(t, `{"percentageDone": 0}`))
	require.NoError(t, err)
	assert.True(t, res.Errors.Empty())

	res, err = f.service.Form(ctx, f.dev, parent, changes(t, `{"_links": {"parent": {"href": "/api/v3/work_packages/`+fmt.Sprint(child.ID)+`"}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"parent"}, res.Errors.Attributes())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	_, err := f.service.Update(ctx, f.dev, f.load(t), changes(t, `{"subject": "x"}`), true)
	assert.ErrorIs(t, err, ErrMissingLockVersion)

	_, err = f.service.Update(ctx, f.dev, f.load(t), changes(t, `{"lockVersion": 0, "subject": "x"}`), true)
	assert.ErrorIs(t, err, store.ErrStaleObject)

	wp := f.load(t)
	res, err := f.service.Update(ctx, f.dev, wp, changes(t, fmt.Sprintf(`{"lockVersion": %d, "subject": ""}`, wp.LockVersion)), true)
	assert.ErrorIs(t, err, ErrValidation)
	require.NotNil(t, res)
	assert.Equal(t, []string{"subject"}, res.Errors.Attributes())

	res, err = f.service.Update(ctx, f.dev, wp, changes(t, fmt.Sprintf(`{
		"lockVersion": %d,
		"subject": "Write better docs",
		"estimatedTime": "PT2H30M",
		"_links": {"status": {"href": "/api/v3/statuses/%d"}, "assignee": {"href": "/api/v3/users/%d"}}
	}`, wp.LockVersion, f.progress.ID, f.dev.ID)), true)
	require.NoError(t, err)
	assert.Equal(t, wp.LockVersion+1, res.WorkPackage.LockVersion)

	stored := f.load(t)
	assert.Equal(t, "Write better docs", stored.Subject)
	assert.Equal(t, f.progress.ID, stored.StatusID)
	assert.Equal(t, 2.5, *stored.EstimatedHours)
	assert.Equal(t, []int64{f.wp.ID}, f.notifier.saved)

	_, err = f.service.Update(ctx, f.dev, stored, changes(t, fmt.Sprintf(`{"lockVersion": %d, "subject": "quiet"}`, stored.LockVersion)), false)
	require.NoError(t, err)
	assert.Len(t, f.notifier.saved, 1, "notify=false sends nothing")

	assert.Equal(t, 2, f.recorder["update:saved"])
	assert.Equal(t, 1, f.recorder["update:stale"])
	assert.Equal(t, 2, f.recorder["update:invalid"])
}

func TestMoveToAnotherProject(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	other := &models.Project{Identifier: "other", Name: "Other", Active: true, TypeIDs: []int64{f.task.ID}}
	require.NoError(t, f.store.CreateProject(ctx, other))
	release := &models.Version{ProjectID: f.project.ID, Name: "1.0", Status: models.VersionStatusOpen}
	require.NoError(t, f.store.CreateVersion(ctx, release))

	wp := f.load(t)
	wp.VersionID = &release.ID
	require.NoError(t, f.store.UpdateWorkPackage(ctx, wp))
	wp = f.load(t)

	move := fmt.Sprintf(`{"lockVersion": %d, "_links": {"project": {"href": "/api/v3/projects/%d"}}}`, wp.LockVersion, other.ID)
	res, err := f.service.Update(ctx, f.dev, wp, changes(t, move), false)
	assert.ErrorIs(t, err, ErrValidation)
	require.NotNil(t, res)
	assert.ElementsMatch(t, []string{"project", "version"}, res.Errors.Attributes(), "no rights in the target project")
	assert.Equal(t, f.project.ID, f.load(t).ProjectID)

	require.NoError(t, f.store.AddMember(ctx, &models.Member{ProjectID: other.ID, UserID: f.dev.ID, RoleIDs: []int64{f.devRole.ID}}))
	res, err = f.service.Form(ctx, f.dev, wp, changes(t, move))
	require.NoError(t, err)
	assert.Equal(t, []string{"version"}, res.Errors.Attributes(), "versions of the old project are not assignable")

	res, err = f.service.Update(ctx, f.dev, wp, changes(t, fmt.Sprintf(
		`{"lockVersion": %d, "_links": {"project": {"href": "/api/v3/projects/%d"}, "version": {"href": null}}}`,
		wp.LockVersion, other.ID)), false)
	require.NoError(t, err)
	assert.True(t, res.Errors.Empty())
	stored := f.load(t)
	assert.Equal(t, other.ID, stored.ProjectID)
	assert.Nil(t, stored.VersionID)
}

func TestMoveRequiresMovePermission(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	editor := &models.ProjectRole{Name: "Editor", Permissions: []models.Permission{
		models.PermViewWorkPackages, models.PermAddWorkPackages, models.PermEditWorkPackages,
	}}
	require.NoError(t, f.store.CreateRole(ctx, editor))
	other := &models.Project{Identifier: "other", Name: "Other", Active: true, TypeIDs: []int64{f.task.ID}}
	require.NoError(t, f.store.CreateProject(ctx, other))
	editorUser := &models.User{Login: "editor", Status: models.UserStatusActive}
	require.NoError(t, f.store.CreateUser(ctx, editorUser))
	for _, id := range []int64{f.project.ID, other.ID} {
		require.NoError(t, f.store.AddMember(ctx, &models.Member{ProjectID: id, UserID: editorUser.ID, RoleIDs: []int64{editor.ID}}))
	}

	wp := f.load(t)
	res, err := f.service.Form(ctx, editorUser, wp, changes(t, fmt.Sprintf(
		`{"_links": {"project": {"href": "/api/v3/projects/%d"}}}`, other.ID)))
	require.NoError(t, err)
	assert.Equal(t, []string{"project"}, res.Errors.Attributes())

	archived := &models.Project{Identifier: "archived", Name: "Archived", TypeIDs: []int64{f.task.ID}}
	require.NoError(t, f.store.CreateProject(ctx, archived))
	res, err = f.service.Form(ctx, f.dev, wp, changes(t, fmt.Sprintf(
		`{"_links": {"project": {"href": "/api/v3/projects/%d"}}}`, archived.ID)))
	require.NoError(t, err)
	assert.Equal(t, "Project does not exist.", res.Errors.Message("project"))
}

func TestUpdateDerivesDoneRatioFromStatus(t *testing.T) {
	settings := models.DefaultSettings()
	settings.WorkPackageDoneRatio = models.DoneRatioStatus
	f := newFixture(t, settings)
	ctx := context.Background()

	wp := f.load(t)
	res, err := f.service.Update(ctx, f.dev, wp, changes(t, fmt.Sprintf(
		`{"lockVersion": %d, "_links": {"status": {"href": "/api/v3/statuses/%d"}}}`, wp.LockVersion, f.progress.ID)), false)
	require.NoError(t, err)
	assert.Equal(t, 50, res.WorkPackage.DoneRatio)

	_, err = f.service.Form(ctx, f.dev, f.load(t), changes(t, `{"percentageDone": 10}`))
	require.NoError(t, err)
}

func TestPermissions(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	_, err := f.service.Form(ctx, f.reader, f.load(t), changes(t, `{}`))
	assert.ErrorIs(t, err, ErrNotAllowed)
	_, err = f.service.Create(ctx, f.reader, f.project.ID, changes(t, `{"subject": "x"}`), false)
	assert.ErrorIs(t, err, ErrNotAllowed)
	_, err = f.service.BulkDelete(ctx, f.reader, []int64{f.wp.ID})
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestCreate(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	res, err := f.service.CreateForm(ctx, f.dev, f.project.ID, changes(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"subject"}, res.Errors.Attributes())
	assert.Equal(t, f.newSt.ID, res.WorkPackage.StatusID)
	assert.Equal(t, f.normal.ID, res.WorkPackage.PriorityID)
	assert.Equal(t, f.task.ID, res.WorkPackage.TypeID)

	res, err = f.service.Create(ctx, f.dev, f.project.ID, changes(t, `{"subject": "New thing", "customField`+fmt.Sprint(f.points.ID)+`": 3}`), true)
	require.NoError(t, err)
	assert.NotZero(t, res.WorkPackage.ID)
	assert.Equal(t, f.dev.ID, res.WorkPackage.AuthorID)
	assert.Equal(t, "3", res.WorkPackage.CustomValues[f.points.ID])
	assert.Equal(t, 1, f.recorder["create:saved"])

	_, err = f.service.Create(ctx, f.dev, 9999, changes(t, `{"subject": "x"}`), false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBulkDelete(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	_, err := f.service.BulkDelete(ctx, f.dev, []int64{f.wp.ID, 9999})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.GetWorkPackage(ctx, f.wp.ID)
	require.NoError(t, err, "nothing is deleted when one id is missing")

	n, err := f.service.BulkDelete(ctx, f.dev, []int64{f.wp.ID, f.wp.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.store.GetWorkPackage(ctx, f.wp.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepresent(t *testing.T) {
	f := newFixture(t, models.DefaultSettings())
	ctx := context.Background()

	res, err := f.service.Form(ctx, f.dev, f.load(t), changes(t, `{"subject": "Renamed"}`))
	require.NoError(t, err)
	out, err := res.Represent(ctx, f.dev, "/form", "/wp", "patch")
	require.NoError(t, err)

	assert.Equal(t, "Form", out["_type"])
	links := out["_links"].(representer.Links)
	assert.Equal(t, "patch", links["commit"].Method)
	payload := out["_embedded"].(map[string]interface{})["payload"].(map[string]interface{})
	assert.Equal(t, "Renamed", payload["subject"])

	res, err = f.service.Form(ctx, f.dev, f.load(t), changes(t, `{"subject": ""}`))
	require.NoError(t, err)
	out, err = res.Represent(ctx, f.dev, "/form", "/wp", "patch")
	require.NoError(t, err)
	assert.NotContains(t, out["_links"].(representer.Links), "commit")
}
