package query

import (
	"fmt"
	"strings"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
)

type key struct {
	order string
	value interface{}
}

// none sorts after every present value
var none = key{order: "~", value: nil}

func positioned(pos int, name string) key {
	return key{order: fmt.Sprintf("0:%010d:%s", pos, name), value: name}
}

func named(name string) key {
	return key{order: "0:" + strings.ToLower(name), value: name}
}

func groupKey(wp *models.WorkPackage, attr string, c *representer.Catalog) key {
	switch attr {
	case "status":
		if s, ok := c.Statuses[wp.StatusID]; ok {
			return positioned(s.Position, s.Name)
		}
	case "type":
		if t, ok := c.Types[wp.TypeID]; ok {
			return positioned(t.Position, t.Name)
		}
	case "priority":
		if p, ok := c.Priorities[wp.PriorityID]; ok {
			return positioned(p.Position, p.Name)
		}
	case "project":
		if p, ok := c.Projects[wp.ProjectID]; ok {
			return named(p.Name)
		}
	case "assignee":
		if wp.AssigneeID != nil {
			if u, ok := c.Users[*wp.AssigneeID]; ok {
				return named(u.Name())
			}
		}
	case "version":
		if wp.VersionID != nil {
			if v, ok := c.Versions[*wp.VersionID]; ok {
				return named(v.Name)
			}
		}
	case "category":
		if wp.CategoryID != nil {
			if cat, ok := c.Categories[*wp.CategoryID]; ok {
				return named(cat.Name)
			}
		}
	default:
		for id, raw := range wp.CustomValues {
			if representer.CustomFieldKey(id) == attr && raw != "" {
				return named(raw)
			}
		}
	}
	return none
}

// groups counts consecutive runs of equal keys. Work packages are already
// sorted by group.
func groups(wps []*models.WorkPackage, attr string, c *representer.Catalog) []representer.Group {
	out := []representer.Group{}
	var last *key
	for _, wp := range wps {
		k := groupKey(wp, attr, c)
		if last != nil && last.order == k.order {
			out[len(out)-1].Count++
			continue
		}
		out = append(out, representer.Group{Value: k.value, Count: 1})
		last = &k
	}
	return out
}

// totalSums adds up estimated time and numeric custom fields
func totalSums(wps []*models.WorkPackage, c *representer.Catalog) map[string]interface{} {
	var hours float64
	ints := map[int64]int64{}
	floats := map[int64]float64{}
	for _, wp := range wps {
		if wp.EstimatedHours != nil {
			hours += *wp.EstimatedHours
		}
		for id, raw := range wp.CustomValues {
			cf, ok := c.CustomFields[id]
			if !ok || !cf.IsNumeric() {
				continue
			}
			switch v := representer.CustomValue(cf, raw).(type) {
			case int64:
				ints[id] += v
			case float64:
				floats[id] += v
			}
		}
	}

	out := map[string]interface{}{"estimatedTime": representer.FormatDuration(hours)}
	for id, cf := range c.CustomFields {
		switch cf.FieldFormat {
		case models.FieldFormatInt:
			out[representer.CustomFieldKey(id)] = ints[id]
		case models.FieldFormatFloat:
			out[representer.CustomFieldKey(id)] = floats[id]
		}
	}
	return out
}
