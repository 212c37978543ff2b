package workflow

import (
	"context"
	"testing"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/rbac"
	"github.com/psantana5/tracker/pkg/store"
)

type env struct {
	engine                        *Engine
	newSt, progress, closed, held *models.Status
	author, assignee, outsider    *models.User
	admin                         *models.User
	wp                            *models.WorkPackage
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	e := &env{}

	e.closed = &models.Status{Name: "Closed", IsClosed: true, Position: 4}
	e.newSt = &models.Status{Name: "New", IsDefault: true, Position: 1}
	e.progress = &models.Status{Name: "In progress", Position: 2}
	e.held = &models.Status{Name: "On hold", Position: 3}
	for _, st := range []*models.Status{e.closed, e.newSt, e.progress, e.held} {
		if err := s.CreateStatus(ctx, st); err != nil {
			t.Fatal(err)
		}
	}

	e.author = &models.User{Login: "author", Status: models.UserStatusActive}
	e.assignee = &models.User{Login: "assignee", Status: models.UserStatusActive}
	e.outsider = &models.User{Login: "outsider", Status: models.UserStatusActive}
	e.admin = &models.User{Login: "admin", Status: models.UserStatusActive, Role: models.RoleAdmin}
	for _, u := range []*models.User{e.author, e.assignee, e.outsider, e.admin} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	project := &models.Project{Identifier: "p", Name: "P"}
	typ := &models.Type{Name: "Task"}
	role := &models.ProjectRole{Name: "Developer"}
	s.CreateProject(ctx, project)
	s.CreateType(ctx, typ)
	s.CreateRole(ctx, role)
	for _, u := range []*models.User{e.author, e.assignee} {
		s.AddMember(ctx, &models.Member{ProjectID: project.ID, UserID: u.ID, RoleIDs: []int64{role.ID}})
	}

	flows := []*models.Workflow{
		{TypeID: typ.ID, RoleID: role.ID, OldStatusID: e.newSt.ID, NewStatusID: e.progress.ID},
		{TypeID: typ.ID, RoleID: role.ID, OldStatusID: e.newSt.ID, NewStatusID: e.closed.ID, Author: true},
		{TypeID: typ.ID, RoleID: role.ID, OldStatusID: e.newSt.ID, NewStatusID: e.held.ID, Assignee: true},
		{TypeID: typ.ID, RoleID: role.ID, OldStatusID: e.progress.ID, NewStatusID: e.closed.ID},
	}
	for _, wf := range flows {
		s.CreateWorkflow(ctx, wf)
	}

	assigneeID := e.assignee.ID
	e.wp = &models.WorkPackage{Subject: "x", ProjectID: project.ID, TypeID: typ.ID, StatusID: e.newSt.ID, AuthorID: e.author.ID, AssigneeID: &assigneeID}
	e.engine = New(s, rbac.NewAuthorizer(s))
	return e
}

func names(statuses []*models.Status) []string {
	var out []string
	for _, s := range statuses {
		out = append(out, s.Name)
	}
	return out
}

func TestNewStatusesAllowedTo(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		user *models.User
		want []string
	}{
		{"author gets author-only transitions", e.author, []string{"New", "In progress", "Closed"}},
		{"assignee gets assignee-only transitions", e.assignee, []string{"New", "In progress", "On hold"}},
		{"non member keeps the current status", e.outsider, []string{"New"}},
		{"admin gets every status", e.admin, []string{"New", "In progress", "On hold", "Closed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.engine.NewStatusesAllowedTo(ctx, tt.user, e.wp)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if g := names(got); !equal(g, tt.want) {
				t.Errorf("got %v, want %v", g, tt.want)
			}
		})
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
