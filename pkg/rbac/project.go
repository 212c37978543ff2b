package rbac

import (
	"context"

	"github.com/psantana5/tracker/pkg/models"
)

// MembershipSource provides the data project-level checks are computed from
type MembershipSource interface {
	ListMembers(ctx context.Context, projectID int64) ([]*models.Member, error)
	ListRoles(ctx context.Context) ([]*models.ProjectRole, error)
}

// Authorizer answers project-scoped permission questions.
// Admins are allowed everything; other users need an active membership
// with a role that grants the permission.
type Authorizer struct {
	src MembershipSource
}

// NewAuthorizer creates an authorizer over the given membership source
func NewAuthorizer(src MembershipSource) *Authorizer {
	return &Authorizer{src: src}
}

// RolesFor returns the roles the user holds in the project
func (a *Authorizer) RolesFor(ctx context.Context, userID, projectID int64) ([]*models.ProjectRole, error) {
	members, err := a.src.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var member *models.Member
	for _, m := range members {
		if m.UserID == userID {
			member = m
			break
		}
	}
	if member == nil {
		return nil, nil
	}
	roles, err := a.src.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.ProjectRole
	for _, r := range roles {
		for _, id := range member.RoleIDs {
			if r.ID == id {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// AllowedTo reports whether the user may perform perm in the project
func (a *Authorizer) AllowedTo(ctx context.Context, user *models.User, perm models.Permission, projectID int64) (bool, error) {
	if user == nil || !user.IsActive() {
		return false, nil
	}
	if user.IsAdmin() {
		return true, nil
	}
	roles, err := a.RolesFor(ctx, user.ID, projectID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if r.Allows(perm) {
			return true, nil
		}
	}
	return false, nil
}

// MembersAllowedTo returns the ids of project members whose roles grant perm,
// in membership order
func (a *Authorizer) MembersAllowedTo(ctx context.Context, projectID int64, perm models.Permission) ([]int64, error) {
	members, err := a.src.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	roles, err := a.src.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.ProjectRole, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}

	var ids []int64
	for _, m := range members {
		for _, rid := range m.RoleIDs {
			if r, ok := byID[rid]; ok && r.Allows(perm) {
				ids = append(ids, m.UserID)
				break
			}
		}
	}
	return ids, nil
}

// AssignableRoleIDs returns the ids of roles whose holders may be assigned work
func (a *Authorizer) AssignableRoleIDs(ctx context.Context) (map[int64]bool, error) {
	roles, err := a.src.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool)
	for _, r := range roles {
		if r.Assignable {
			out[r.ID] = true
		}
	}
	return out, nil
}
