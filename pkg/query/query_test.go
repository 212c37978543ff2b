package query

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/rbac"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/store"
)

func TestParse(t *testing.T) {
	me := &models.User{ID: 7}

	q, err := Parse(url.Values{}, me)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, q.Status)
	assert.Equal(t, []SortCriterion{{Attribute: "id"}}, q.SortBy)
	assert.Empty(t, q.Params())

	q, err = Parse(url.Values{
		"status":   {"all"},
		"assignee": {"me"},
		"sortBy":   {"priority:desc,id"},
		"groupBy":  {"status"},
		"showSums": {"true"},
	}, me)
	require.NoError(t, err)
	assert.Equal(t, int64(7), q.AssigneeID)
	assert.Equal(t, []SortCriterion{{Attribute: "priority", Desc: true}, {Attribute: "id"}}, q.SortBy)
	assert.True(t, q.ShowSums)
	assert.Equal(t, "me", q.Params()["assignee"])

	bad := []url.Values{
		{"status": {"pending"}},
		{"assignee": {"nobody"}},
		{"sortBy": {"author"}},
		{"sortBy": {"id:sideways"}},
		{"groupBy": {"description"}},
		{"showSums": {"maybe"}},
	}
	for _, v := range bad {
		_, err := Parse(v, me)
		assert.True(t, errors.Is(err, ErrInvalidQuery), "expected invalid query for %v", v)
	}
}

func TestGroupableColumns(t *testing.T) {
	cols := GroupableColumns([]*models.CustomField{
		{ID: 4, Name: "Severity", FieldFormat: models.FieldFormatList},
		{ID: 5, Name: "Notes", FieldFormat: models.FieldFormatText},
	})
	assert.Len(t, cols, 8)
	assert.Equal(t, Column{ID: "customField4", Name: "Severity"}, cols[7])
}

type fixture struct {
	exec    *Executor
	viewer  *models.User
	high    *models.Priority
	normal  *models.Priority
	points  *models.CustomField
	project *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	f := &fixture{}

	newSt := &models.Status{Name: "New", Position: 1}
	closed := &models.Status{Name: "Closed", IsClosed: true, Position: 2}
	require.NoError(t, s.CreateStatus(ctx, newSt))
	require.NoError(t, s.CreateStatus(ctx, closed))
	f.normal = &models.Priority{Name: "Normal", Active: true, Position: 1}
	f.high = &models.Priority{Name: "High", Active: true, Position: 2}
	require.NoError(t, s.CreatePriority(ctx, f.normal))
	require.NoError(t, s.CreatePriority(ctx, f.high))
	f.points = &models.CustomField{Name: "Points", FieldFormat: models.FieldFormatInt, IsForAll: true}
	require.NoError(t, s.CreateCustomField(ctx, f.points))

	f.project = &models.Project{Identifier: "demo", Name: "Demo"}
	secret := &models.Project{Identifier: "secret", Name: "Secret"}
	require.NoError(t, s.CreateProject(ctx, f.project))
	require.NoError(t, s.CreateProject(ctx, secret))

	role := &models.ProjectRole{Name: "Reader", Permissions: []models.Permission{models.PermViewWorkPackages}}
	require.NoError(t, s.CreateRole(ctx, role))
	f.viewer = &models.User{Login: "viewer", Firstname: "Vic", Status: models.UserStatusActive}
	require.NoError(t, s.CreateUser(ctx, f.viewer))
	require.NoError(t, s.AddMember(ctx, &models.Member{ProjectID: f.project.ID, UserID: f.viewer.ID, RoleIDs: []int64{role.ID}}))

	due := func(d string) *string { return &d }
	hours := func(h float64) *float64 { return &h }
	vid := f.viewer.ID
	wps := []*models.WorkPackage{
		{Subject: "a", ProjectID: f.project.ID, StatusID: newSt.ID, PriorityID: f.normal.ID, DueDate: due("2015-03-01"), EstimatedHours: hours(1.5),
			CustomValues: map[int64]string{f.points.ID: "3"}},
		{Subject: "b", ProjectID: f.project.ID, StatusID: newSt.ID, PriorityID: f.high.ID, AssigneeID: &vid, EstimatedHours: hours(2),
			CustomValues: map[int64]string{f.points.ID: "5"}},
		{Subject: "c", ProjectID: f.project.ID, StatusID: closed.ID, PriorityID: f.high.ID, DueDate: due("2015-01-01")},
		{Subject: "d", ProjectID: secret.ID, StatusID: newSt.ID, PriorityID: f.high.ID},
	}
	for _, wp := range wps {
		require.NoError(t, s.CreateWorkPackage(ctx, wp))
	}

	f.exec = NewExecutor(s, rbac.NewAuthorizer(s))
	return f
}

func subjects(res *Result) []string {
	var out []string
	for _, wp := range res.WorkPackages {
		out = append(out, wp.Subject)
	}
	return out
}

func run(t *testing.T, f *fixture, values url.Values) *Result {
	t.Helper()
	q, err := Parse(values, f.viewer)
	require.NoError(t, err)
	res, err := f.exec.Run(context.Background(), q, f.viewer)
	require.NoError(t, err)
	return res
}

func TestRunFiltersAndVisibility(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"a", "b"}, subjects(run(t, f, url.Values{})))
	assert.Equal(t, []string{"c"}, subjects(run(t, f, url.Values{"status": {"closed"}})))
	assert.Equal(t, []string{"a", "b", "c"}, subjects(run(t, f, url.Values{"status": {"all"}})))
	assert.Equal(t, []string{"b"}, subjects(run(t, f, url.Values{"assignee": {"me"}})))
}

func TestRunSorting(t *testing.T) {
	f := newFixture(t)

	got := subjects(run(t, f, url.Values{"status": {"all"}, "sortBy": {"priority:desc,id:desc"}}))
	assert.Equal(t, []string{"c", "b", "a"}, got)

	got = subjects(run(t, f, url.Values{"status": {"all"}, "sortBy": {"dueDate"}}))
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestRunGroupsAndSums(t *testing.T) {
	f := newFixture(t)

	res := run(t, f, url.Values{"status": {"all"}, "groupBy": {"priority"}, "showSums": {"true"}})
	assert.Equal(t, []representer.Group{{Value: "Normal", Count: 1}, {Value: "High", Count: 2}}, res.Groups)
	assert.Equal(t, "PT3H30M", res.TotalSums["estimatedTime"])
	assert.Equal(t, int64(8), res.TotalSums[representer.CustomFieldKey(f.points.ID)])

	res = run(t, f, url.Values{"groupBy": {"assignee"}})
	assert.Equal(t, []representer.Group{{Value: "Vic", Count: 1}, {Value: nil, Count: 1}}, res.Groups)
}
