// Package workflow computes the status transitions a user may apply to a work package.
package workflow

import (
	"context"
	"sort"

	"github.com/psantana5/tracker/pkg/models"
)

// Source provides statuses and transitions
type Source interface {
	ListStatuses(ctx context.Context) ([]*models.Status, error)
	ListWorkflows(ctx context.Context, typeID int64) ([]*models.Workflow, error)
}

// RoleResolver returns the roles a user holds in a project
type RoleResolver interface {
	RolesFor(ctx context.Context, userID, projectID int64) ([]*models.ProjectRole, error)
}

// Engine evaluates workflows
type Engine struct {
	src   Source
	roles RoleResolver
}

// New creates a workflow engine
func New(src Source, roles RoleResolver) *Engine {
	return &Engine{src: src, roles: roles}
}

// NewStatusesAllowedTo returns the current status of wp plus every status
// the user may move it to, ordered by position.
func (e *Engine) NewStatusesAllowedTo(ctx context.Context, user *models.User, wp *models.WorkPackage) ([]*models.Status, error) {
	statuses, err := e.src.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil && user.IsAdmin() {
		return sortByPosition(statuses), nil
	}

	allowed := map[int64]bool{wp.StatusID: true}
	if user != nil && user.IsActive() {
		targets, err := e.targets(ctx, user, wp)
		if err != nil {
			return nil, err
		}
		for id := range targets {
			allowed[id] = true
		}
	}

	var out []*models.Status
	for _, s := range statuses {
		if allowed[s.ID] {
			out = append(out, s)
		}
	}
	return sortByPosition(out), nil
}

func (e *Engine) targets(ctx context.Context, user *models.User, wp *models.WorkPackage) (map[int64]bool, error) {
	roles, err := e.roles.RolesFor(ctx, user.ID, wp.ProjectID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, nil
	}
	roleIDs := make(map[int64]bool, len(roles))
	for _, r := range roles {
		roleIDs[r.ID] = true
	}

	workflows, err := e.src.ListWorkflows(ctx, wp.TypeID)
	if err != nil {
		return nil, err
	}
	isAuthor := wp.AuthorID == user.ID
	isAssignee := wp.IsAssignedTo(user.ID)

	out := make(map[int64]bool)
	for _, wf := range workflows {
		if !roleIDs[wf.RoleID] || wf.OldStatusID != wp.StatusID {
			continue
		}
		if wf.Author || wf.Assignee {
			if !(wf.Author && isAuthor) && !(wf.Assignee && isAssignee) {
				continue
			}
		}
		out[wf.NewStatusID] = true
	}
	return out, nil
}

func sortByPosition(statuses []*models.Status) []*models.Status {
	out := append([]*models.Status(nil), statuses...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}
