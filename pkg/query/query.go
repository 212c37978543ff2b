// Package query filters, sorts, groups and sums work package listings.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/psantana5/tracker/pkg/models"
)

// Status filter values
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
	StatusAll    = "all"
)

var ErrInvalidQuery = errors.New("invalid query")

var sortable = map[string]bool{
	"id":        true,
	"updatedAt": true,
	"priority":  true,
	"dueDate":   true,
	"subject":   true,
	"status":    true,
}

// SortCriterion orders results by one attribute
type SortCriterion struct {
	Attribute string
	Desc      bool
}

// Query describes a work package listing
type Query struct {
	ProjectID  int64
	Status     string
	AssigneeID int64
	GroupBy    string
	SortBy     []SortCriterion
	ShowSums   bool

	params map[string]string
}

// Parse reads a query from request parameters. "me" as assignee resolves to
// the current user.
func Parse(values url.Values, current *models.User) (*Query, error) {
	q := &Query{Status: StatusOpen, params: map[string]string{}}

	if v := values.Get("status"); v != "" {
		switch v {
		case StatusOpen, StatusClosed, StatusAll:
			q.Status = v
		default:
			return nil, fmt.Errorf("%w: status must be open, closed or all", ErrInvalidQuery)
		}
		q.params["status"] = v
	}

	if v := values.Get("assignee"); v != "" {
		if v == "me" {
			if current == nil {
				return nil, fmt.Errorf("%w: assignee me requires a user", ErrInvalidQuery)
			}
			q.AssigneeID = current.ID
		} else {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("%w: assignee must be a user id or me", ErrInvalidQuery)
			}
			q.AssigneeID = id
		}
		q.params["assignee"] = v
	}

	if v := values.Get("project"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: project must be an id", ErrInvalidQuery)
		}
		q.ProjectID = id
		q.params["project"] = v
	}

	if v := values.Get("groupBy"); v != "" {
		if !IsGroupable(v) {
			return nil, fmt.Errorf("%w: cannot group by %s", ErrInvalidQuery, v)
		}
		q.GroupBy = v
		q.params["groupBy"] = v
	}

	if v := values.Get("sortBy"); v != "" {
		criteria, err := parseSort(v)
		if err != nil {
			return nil, err
		}
		q.SortBy = criteria
		q.params["sortBy"] = v
	}
	if len(q.SortBy) == 0 {
		q.SortBy = []SortCriterion{{Attribute: "id"}}
	}

	if v := values.Get("showSums"); v != "" {
		show, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: showSums must be a boolean", ErrInvalidQuery)
		}
		q.ShowSums = show
		q.params["showSums"] = v
	}
	return q, nil
}

// parseSort reads "attr[:asc|:desc],..."
func parseSort(raw string) ([]SortCriterion, error) {
	var out []SortCriterion
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		attr, dir, _ := strings.Cut(part, ":")
		if !sortable[attr] {
			return nil, fmt.Errorf("%w: cannot sort by %s", ErrInvalidQuery, attr)
		}
		c := SortCriterion{Attribute: attr}
		switch dir {
		case "", "asc":
		case "desc":
			c.Desc = true
		default:
			return nil, fmt.Errorf("%w: sort direction must be asc or desc", ErrInvalidQuery)
		}
		out = append(out, c)
	}
	return out, nil
}

// Params returns the parameters the query was parsed from, for building links
func (q *Query) Params() map[string]string {
	out := make(map[string]string, len(q.params))
	for k, v := range q.params {
		out[k] = v
	}
	return out
}

// Filter converts the query into a store filter. Statuses are resolved by the caller.
func (q *Query) Filter(statuses []*models.Status) models.WorkPackageFilter {
	f := models.WorkPackageFilter{ProjectID: q.ProjectID, AssigneeID: q.AssigneeID}
	if q.Status == StatusAll {
		return f
	}
	f.StatusIDs = []int64{}
	for _, s := range statuses {
		if s.IsClosed == (q.Status == StatusClosed) {
			f.StatusIDs = append(f.StatusIDs, s.ID)
		}
	}
	return f
}
