package representer

import (
	"context"

	"github.com/psantana5/tracker/pkg/models"
)

// CatalogSource lists the reference data link titles are resolved from
type CatalogSource interface {
	ListProjects(ctx context.Context) ([]*models.Project, error)
	ListTypes(ctx context.Context) ([]*models.Type, error)
	ListStatuses(ctx context.Context) ([]*models.Status, error)
	ListPriorities(ctx context.Context) ([]*models.Priority, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	ListCustomFields(ctx context.Context) ([]*models.CustomField, error)
	ListVersions(ctx context.Context, projectID int64) ([]*models.Version, error)
	ListCategories(ctx context.Context, projectID int64) ([]*models.Category, error)
}

// Catalog indexes reference data by id
type Catalog struct {
	Projects     map[int64]*models.Project
	Types        map[int64]*models.Type
	Statuses     map[int64]*models.Status
	Priorities   map[int64]*models.Priority
	Users        map[int64]*models.User
	CustomFields map[int64]*models.CustomField
	Versions     map[int64]*models.Version
	Categories   map[int64]*models.Category
}

// LoadCatalog reads the global reference data plus the versions and
// categories of the given projects
func LoadCatalog(ctx context.Context, src CatalogSource, projectIDs ...int64) (*Catalog, error) {
	c := &Catalog{
		Projects:     map[int64]*models.Project{},
		Types:        map[int64]*models.Type{},
		Statuses:     map[int64]*models.Status{},
		Priorities:   map[int64]*models.Priority{},
		Users:        map[int64]*models.User{},
		CustomFields: map[int64]*models.CustomField{},
		Versions:     map[int64]*models.Version{},
		Categories:   map[int64]*models.Category{},
	}

	projects, err := src.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		c.Projects[p.ID] = p
	}
	types, err := src.ListTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		c.Types[t.ID] = t
	}
	statuses, err := src.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range statuses {
		c.Statuses[s.ID] = s
	}
	priorities, err := src.ListPriorities(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range priorities {
		c.Priorities[p.ID] = p
	}
	users, err := src.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		c.Users[u.ID] = u
	}
	fields, err := src.ListCustomFields(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		c.CustomFields[f.ID] = f
	}

	seen := map[int64]bool{}
	for _, pid := range projectIDs {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		versions, err := src.ListVersions(ctx, pid)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			c.Versions[v.ID] = v
		}
		categories, err := src.ListCategories(ctx, pid)
		if err != nil {
			return nil, err
		}
		for _, cat := range categories {
			c.Categories[cat.ID] = cat
		}
	}
	return c, nil
}
