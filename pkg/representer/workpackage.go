package representer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/psantana5/tracker/pkg/models"
)

// CustomFieldKey is the API attribute name of a custom field
func CustomFieldKey(id int64) string {
	return fmt.Sprintf("customField%d", id)
}

// FormattableText is the HAL rendering of a text attribute
type FormattableText struct {
	Format string `json:"format"`
	Raw    string `json:"raw"`
}

// WorkPackage renders a work package as a HAL resource
func WorkPackage(wp *models.WorkPackage, c *Catalog) map[string]interface{} {
	out := map[string]interface{}{
		"_type":          "WorkPackage",
		"id":             wp.ID,
		"lockVersion":    wp.LockVersion,
		"subject":        wp.Subject,
		"description":    FormattableText{Format: "plain", Raw: wp.Description},
		"startDate":      optionalString(wp.StartDate),
		"dueDate":        optionalString(wp.DueDate),
		"percentageDone": wp.DoneRatio,
		"createdAt":      timestamp(wp.CreatedAt),
		"updatedAt":      timestamp(wp.UpdatedAt),
	}
	if wp.EstimatedHours != nil {
		out["estimatedTime"] = FormatDuration(*wp.EstimatedHours)
	} else {
		out["estimatedTime"] = nil
	}
	for id, raw := range wp.CustomValues {
		out[CustomFieldKey(id)] = CustomValue(c.CustomFields[id], raw)
	}

	links := Links{
		"self":              {Href: WorkPackagePath(wp.ID), Title: wp.Subject},
		"schema":            {Href: SchemaPath(wp.ProjectID, wp.TypeID)},
		"watchers":          {Href: WorkPackagePath(wp.ID) + "/watchers"},
		"availableWatchers": {Href: WorkPackagePath(wp.ID) + "/available_watchers"},
		"update":            {Href: WorkPackagePath(wp.ID) + "/form", Method: "post"},
		"updateImmediately": {Href: WorkPackagePath(wp.ID), Method: "patch"},
		"author":            userLink(c, wp.AuthorID),
	}
	if p, ok := c.Projects[wp.ProjectID]; ok {
		links["project"] = &Link{Href: ProjectPath(p.ID), Title: p.Name}
	}
	if t, ok := c.Types[wp.TypeID]; ok {
		links["type"] = &Link{Href: TypePath(t.ID), Title: t.Name}
	}
	if s, ok := c.Statuses[wp.StatusID]; ok {
		links["status"] = &Link{Href: StatusPath(s.ID), Title: s.Name}
	}
	if p, ok := c.Priorities[wp.PriorityID]; ok {
		links["priority"] = &Link{Href: PriorityPath(p.ID), Title: p.Name}
	}
	if wp.AssigneeID != nil {
		links["assignee"] = userLink(c, *wp.AssigneeID)
	}
	if wp.ResponsibleID != nil {
		links["responsible"] = userLink(c, *wp.ResponsibleID)
	}
	if wp.VersionID != nil {
		l := &Link{Href: VersionPath(*wp.VersionID)}
		if v, ok := c.Versions[*wp.VersionID]; ok {
			l.Title = v.Name
		}
		links["version"] = l
	}
	if wp.CategoryID != nil {
		l := &Link{Href: CategoryPath(*wp.CategoryID)}
		if cat, ok := c.Categories[*wp.CategoryID]; ok {
			l.Title = cat.Name
		}
		links["category"] = l
	}
	if wp.ParentID != nil {
		links["parent"] = &Link{Href: WorkPackagePath(*wp.ParentID)}
	}
	out["_links"] = links
	return out
}

// User renders a user, hiding the mail address when asked to
func User(u *models.User, hideMail bool) map[string]interface{} {
	out := map[string]interface{}{
		"_type":     "User",
		"id":        u.ID,
		"login":     u.Login,
		"firstName": u.Firstname,
		"lastName":  u.Lastname,
		"name":      u.Name(),
		"status":    u.Status,
		"_links":    Links{"self": {Href: UserPath(u.ID), Title: u.Name()}},
	}
	if !hideMail {
		out["email"] = u.Mail
	}
	return out
}

// CustomValue converts a stored custom value into its JSON type
func CustomValue(cf *models.CustomField, raw string) interface{} {
	if raw == "" {
		return nil
	}
	if cf == nil {
		return raw
	}
	switch cf.FieldFormat {
	case models.FieldFormatInt:
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	case models.FieldFormatFloat:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case models.FieldFormatBool:
		return raw == "1" || raw == "true"
	}
	return raw
}

func userLink(c *Catalog, id int64) *Link {
	l := &Link{Href: UserPath(id)}
	if u, ok := c.Users[id]; ok {
		l.Title = u.Name()
	}
	return l
}

func optionalString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
