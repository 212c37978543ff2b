// Package schema describes which work package attributes a user may write
// and the values each attribute accepts.
package schema

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/rbac"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/store"
)

// API attribute names
const (
	AttrID             = "id"
	AttrLockVersion    = "lockVersion"
	AttrSubject        = "subject"
	AttrDescription    = "description"
	AttrProject        = "project"
	AttrType           = "type"
	AttrStatus         = "status"
	AttrPriority       = "priority"
	AttrAuthor         = "author"
	AttrAssignee       = "assignee"
	AttrResponsible    = "responsible"
	AttrVersion        = "version"
	AttrCategory       = "category"
	AttrParent         = "parent"
	AttrStartDate      = "startDate"
	AttrDueDate        = "dueDate"
	AttrEstimatedTime  = "estimatedTime"
	AttrPercentageDone = "percentageDone"
	AttrCreatedAt      = "createdAt"
	AttrUpdatedAt      = "updatedAt"
)

// MaxSubjectLength bounds the subject attribute
const MaxSubjectLength = 255

var readOnly = map[string]bool{
	AttrID:        true,
	AttrCreatedAt: true,
	AttrUpdatedAt: true,
	AttrAuthor:    true,
}

var required = map[string]bool{
	AttrSubject:  true,
	AttrProject:  true,
	AttrType:     true,
	AttrStatus:   true,
	AttrPriority: true,
}

// Source is the reference data a schema is computed from
type Source interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListTypes(ctx context.Context) ([]*models.Type, error)
	ListPriorities(ctx context.Context) ([]*models.Priority, error)
	ListVersions(ctx context.Context, projectID int64) ([]*models.Version, error)
	ListCategories(ctx context.Context, projectID int64) ([]*models.Category, error)
	ListCustomFields(ctx context.Context) ([]*models.CustomField, error)
	ListMembers(ctx context.Context, projectID int64) ([]*models.Member, error)
	ListRoles(ctx context.Context) ([]*models.ProjectRole, error)
}

// StatusPolicy yields the statuses a user may move a work package to
type StatusPolicy interface {
	NewStatusesAllowedTo(ctx context.Context, user *models.User, wp *models.WorkPackage) ([]*models.Status, error)
}

// Value is one assignable value of a link attribute
type Value struct {
	ID   int64
	Name string
	Href string
}

// Factory builds schemas for work packages
type Factory struct {
	src      Source
	statuses StatusPolicy
	settings models.Settings
}

// NewFactory creates a schema factory
func NewFactory(src Source, statuses StatusPolicy, settings models.Settings) *Factory {
	return &Factory{src: src, statuses: statuses, settings: settings}
}

// For loads the project and type of wp. Either may be missing.
func (f *Factory) For(ctx context.Context, wp *models.WorkPackage) (*Schema, error) {
	s := &Schema{wp: wp, src: f.src, statuses: f.statuses, settings: f.settings}

	if wp.ProjectID != 0 {
		p, err := f.src.GetProject(ctx, wp.ProjectID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		s.project = p
	}
	if wp.TypeID != 0 {
		types, err := f.src.ListTypes(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range types {
			if t.ID == wp.TypeID {
				s.typ = t
				break
			}
		}
	}
	fields, err := f.src.ListCustomFields(ctx)
	if err != nil {
		return nil, err
	}
	s.fields = fields
	return s, nil
}

// Schema is the schema of one specific work package
type Schema struct {
	wp       *models.WorkPackage
	project  *models.Project
	typ      *models.Type
	fields   []*models.CustomField
	src      Source
	statuses StatusPolicy
	settings models.Settings
}

// WorkPackage returns the work package the schema describes
func (s *Schema) WorkPackage() *models.WorkPackage { return s.wp }

// Project returns the project of the work package, nil when unknown
func (s *Schema) Project() *models.Project { return s.project }

// Type returns the type of the work package, nil when unknown
func (s *Schema) Type() *models.Type { return s.typ }

// Writable reports whether the attribute may be changed
func (s *Schema) Writable(attr string) bool {
	switch attr {
	case AttrPercentageDone:
		return s.settings.WorkPackageDoneRatio == models.DoneRatioField && s.wp.IsLeaf()
	case AttrEstimatedTime, AttrStartDate, AttrDueDate:
		return s.wp.IsLeaf()
	case AttrLockVersion:
		return false
	}
	return !readOnly[attr]
}

// Required reports whether the attribute must be present
func (s *Schema) Required(attr string) bool {
	if required[attr] {
		return true
	}
	if cf := s.customField(attr); cf != nil {
		return cf.IsRequired
	}
	return false
}

// AvailableCustomFields returns the custom fields enabled for both the
// project and the type, in type order
func (s *Schema) AvailableCustomFields() []*models.CustomField {
	if s.project == nil || s.typ == nil {
		return []*models.CustomField{}
	}
	inProject := make(map[int64]bool)
	for _, id := range s.project.WorkPackageCustomFieldIDs {
		inProject[id] = true
	}
	byID := make(map[int64]*models.CustomField, len(s.fields))
	for _, cf := range s.fields {
		byID[cf.ID] = cf
		if cf.IsForAll {
			inProject[cf.ID] = true
		}
	}

	out := []*models.CustomField{}
	for _, id := range s.typ.CustomFieldIDs {
		if cf, ok := byID[id]; ok && inProject[id] {
			out = append(out, cf)
		}
	}
	return out
}

// customField resolves a customFieldN attribute among the available fields
func (s *Schema) customField(attr string) *models.CustomField {
	if !strings.HasPrefix(attr, "customField") {
		return nil
	}
	for _, cf := range s.AvailableCustomFields() {
		if representer.CustomFieldKey(cf.ID) == attr {
			return cf
		}
	}
	return nil
}

// AssignableValues returns the values attr accepts for user. Attributes
// that are not links to a fixed set return nil.
func (s *Schema) AssignableValues(ctx context.Context, attr string, user *models.User) ([]Value, error) {
	switch attr {
	case AttrStatus:
		return s.assignableStatuses(ctx, user)
	case AttrType:
		return s.assignableTypes(ctx)
	case AttrVersion:
		return s.assignableVersions(ctx)
	case AttrPriority:
		return s.assignablePriorities(ctx)
	case AttrCategory:
		return s.assignableCategories(ctx)
	case AttrAssignee, AttrResponsible:
		return s.assignableUsers(ctx)
	}
	return nil, nil
}

func (s *Schema) assignableStatuses(ctx context.Context, user *models.User) ([]Value, error) {
	wp := s.wp
	if wp.StatusChanged() {
		wp = wp.Clone()
		wp.StatusID = wp.StatusIDWas
	}
	statuses, err := s.statuses.NewStatusesAllowedTo(ctx, user, wp)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, Value{ID: st.ID, Name: st.Name, Href: representer.StatusPath(st.ID)})
	}
	return out, nil
}

func (s *Schema) assignableTypes(ctx context.Context) ([]Value, error) {
	if s.project == nil {
		return []Value{}, nil
	}
	types, err := s.src.ListTypes(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(types, func(i, j int) bool { return types[i].Position < types[j].Position })
	out := []Value{}
	for _, t := range types {
		if s.project.HasType(t.ID) {
			out = append(out, Value{ID: t.ID, Name: t.Name, Href: representer.TypePath(t.ID)})
		}
	}
	return out, nil
}

// assignableVersions are the open versions of the project plus the current one
func (s *Schema) assignableVersions(ctx context.Context) ([]Value, error) {
	if s.project == nil {
		return []Value{}, nil
	}
	versions, err := s.src.ListVersions(ctx, s.project.ID)
	if err != nil {
		return nil, err
	}
	out := []Value{}
	for _, v := range versions {
		current := s.wp.VersionID != nil && *s.wp.VersionID == v.ID
		if v.Status == models.VersionStatusOpen || current {
			out = append(out, Value{ID: v.ID, Name: v.Name, Href: representer.VersionPath(v.ID)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Schema) assignablePriorities(ctx context.Context) ([]Value, error) {
	priorities, err := s.src.ListPriorities(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(priorities, func(i, j int) bool { return priorities[i].Position < priorities[j].Position })
	out := []Value{}
	for _, p := range priorities {
		if p.Active {
			out = append(out, Value{ID: p.ID, Name: p.Name, Href: representer.PriorityPath(p.ID)})
		}
	}
	return out, nil
}

func (s *Schema) assignableCategories(ctx context.Context) ([]Value, error) {
	if s.project == nil {
		return []Value{}, nil
	}
	categories, err := s.src.ListCategories(ctx, s.project.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(categories))
	for _, c := range categories {
		out = append(out, Value{ID: c.ID, Name: c.Name, Href: representer.CategoryPath(c.ID)})
	}
	return out, nil
}

// assignableUsers are the active members holding an assignable role
func (s *Schema) assignableUsers(ctx context.Context) ([]Value, error) {
	if s.project == nil {
		return []Value{}, nil
	}
	members, err := s.src.ListMembers(ctx, s.project.ID)
	if err != nil {
		return nil, err
	}
	assignable, err := rbac.NewAuthorizer(s.src).AssignableRoleIDs(ctx)
	if err != nil {
		return nil, err
	}

	out := []Value{}
	for _, m := range members {
		ok := false
		for _, rid := range m.RoleIDs {
			if assignable[rid] {
				ok = true
				break
			}
		}
		if !ok {
			continue
		}
		u, err := s.src.GetUser(ctx, m.UserID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if u.IsActive() {
			out = append(out, Value{ID: u.ID, Name: u.Name(), Href: representer.UserPath(u.ID)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Contains reports whether id is among values
func Contains(values []Value, id int64) bool {
	for _, v := range values {
		if v.ID == id {
			return true
		}
	}
	return false
}
