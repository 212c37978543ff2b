package query

import (
	"context"
	"sort"
	"strings"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
)

// Source is the data a query runs against
type Source interface {
	representer.CatalogSource
	ListWorkPackages(ctx context.Context, filter models.WorkPackageFilter) ([]*models.WorkPackage, error)
}

// Visibility decides which projects a user may see work packages in
type Visibility interface {
	AllowedTo(ctx context.Context, user *models.User, perm models.Permission, projectID int64) (bool, error)
}

// Result is the full, unpaginated outcome of a query
type Result struct {
	WorkPackages []*models.WorkPackage
	Catalog      *representer.Catalog
	Groups       []representer.Group
	TotalSums    map[string]interface{}
}

// Executor runs queries
type Executor struct {
	src     Source
	visible Visibility
}

// NewExecutor creates a query executor
func NewExecutor(src Source, visible Visibility) *Executor {
	return &Executor{src: src, visible: visible}
}

// Run lists the work packages visible to user that match q
func (e *Executor) Run(ctx context.Context, q *Query, user *models.User) (*Result, error) {
	statuses, err := e.src.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	filter := q.Filter(statuses)

	var wps []*models.WorkPackage
	if filter.StatusIDs == nil || len(filter.StatusIDs) > 0 {
		wps, err = e.src.ListWorkPackages(ctx, filter)
		if err != nil {
			return nil, err
		}
	}

	visible := make([]*models.WorkPackage, 0, len(wps))
	allowed := make(map[int64]bool)
	for _, wp := range wps {
		ok, seen := allowed[wp.ProjectID]
		if !seen {
			ok, err = e.visible.AllowedTo(ctx, user, models.PermViewWorkPackages, wp.ProjectID)
			if err != nil {
				return nil, err
			}
			allowed[wp.ProjectID] = ok
		}
		if ok {
			visible = append(visible, wp)
		}
	}

	projectIDs := make([]int64, 0, len(allowed))
	for id := range allowed {
		projectIDs = append(projectIDs, id)
	}
	sort.Slice(projectIDs, func(i, j int) bool { return projectIDs[i] < projectIDs[j] })
	catalog, err := representer.LoadCatalog(ctx, e.src, projectIDs...)
	if err != nil {
		return nil, err
	}

	res := &Result{WorkPackages: visible, Catalog: catalog}
	sortWorkPackages(visible, q, catalog)
	if q.GroupBy != "" {
		res.Groups = groups(visible, q.GroupBy, catalog)
	}
	if q.ShowSums {
		res.TotalSums = totalSums(visible, catalog)
	}
	return res, nil
}

func sortWorkPackages(wps []*models.WorkPackage, q *Query, c *representer.Catalog) {
	sort.SliceStable(wps, func(i, j int) bool {
		a, b := wps[i], wps[j]
		if q.GroupBy != "" {
			ka, kb := groupKey(a, q.GroupBy, c), groupKey(b, q.GroupBy, c)
			if ka.order != kb.order {
				return ka.order < kb.order
			}
		}
		for _, crit := range q.SortBy {
			cmp := compare(a, b, crit.Attribute, c)
			if cmp == 0 {
				continue
			}
			if crit.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return a.ID < b.ID
	})
}

func compare(a, b *models.WorkPackage, attr string, c *representer.Catalog) int {
	switch attr {
	case "id":
		return compareInt(a.ID, b.ID)
	case "updatedAt":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case "subject":
		return strings.Compare(strings.ToLower(a.Subject), strings.ToLower(b.Subject))
	case "priority":
		return compareInt(int64(priorityPosition(a, c)), int64(priorityPosition(b, c)))
	case "status":
		return compareInt(int64(statusPosition(a, c)), int64(statusPosition(b, c)))
	case "dueDate":
		// Missing dates sort last
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return 0
		case a.DueDate == nil:
			return 1
		case b.DueDate == nil:
			return -1
		}
		return strings.Compare(*a.DueDate, *b.DueDate)
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func priorityPosition(wp *models.WorkPackage, c *representer.Catalog) int {
	if p, ok := c.Priorities[wp.PriorityID]; ok {
		return p.Position
	}
	return 0
}

func statusPosition(wp *models.WorkPackage, c *representer.Catalog) int {
	if s, ok := c.Statuses[wp.StatusID]; ok {
		return s.Position
	}
	return 0
}
