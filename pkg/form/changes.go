// Package form applies and validates work package edits: the form preview,
// the locked update and creation.
package form

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/schema"
)

var ErrInvalidBody = errors.New("invalid request body")

// linkResources maps link attributes to the collection their hrefs point into
var linkResources = map[string]string{
	schema.AttrProject:     "projects",
	schema.AttrType:        "types",
	schema.AttrStatus:      "statuses",
	schema.AttrPriority:    "priorities",
	schema.AttrAssignee:    "users",
	schema.AttrResponsible: "users",
	schema.AttrVersion:     "versions",
	schema.AttrCategory:    "categories",
	schema.AttrParent:      "work_packages",
	schema.AttrAuthor:      "users",
}

// Changes are the pending edits sent by a client
type Changes struct {
	LockVersion *int
	attrs       map[string]json.RawMessage
	links       map[string]*string
}

type linkBody struct {
	Href *string `json:"href"`
}

// ParseChanges decodes a HAL request body. An empty body means no changes.
func ParseChanges(body []byte) (*Changes, error) {
	c := &Changes{attrs: map[string]json.RawMessage{}, links: map[string]*string{}}
	if len(bytes.TrimSpace(body)) == 0 {
		return c, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	for key, value := range raw {
		switch key {
		case "_links":
			var links map[string]linkBody
			if err := json.Unmarshal(value, &links); err != nil {
				return nil, fmt.Errorf("%w: _links: %v", ErrInvalidBody, err)
			}
			for name, l := range links {
				c.links[name] = l.Href
			}
		case "lockVersion":
			var v int
			if err := json.Unmarshal(value, &v); err != nil {
				return nil, fmt.Errorf("%w: lockVersion must be an integer", ErrInvalidBody)
			}
			c.LockVersion = &v
		case "_type", "_embedded":
		default:
			c.attrs[key] = value
		}
	}
	return c, nil
}

// Attributes returns the names of the touched attributes, sorted
func (c *Changes) Attributes() []string {
	out := make([]string, 0, len(c.attrs)+len(c.links))
	for k := range c.attrs {
		out = append(out, k)
	}
	for k := range c.links {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Touches reports whether the attribute is part of the changes
func (c *Changes) Touches(attr string) bool {
	if _, ok := c.attrs[attr]; ok {
		return true
	}
	_, ok := c.links[attr]
	return ok
}

// Apply writes the changes onto wp. Values that cannot be decoded are
// reported per attribute and leave the attribute untouched.
func (c *Changes) Apply(wp *models.WorkPackage) Errors {
	errs := Errors{}
	for attr, raw := range c.attrs {
		if err := applyAttribute(wp, attr, raw); err != nil {
			errs.Add(attr, err.Error())
		}
	}
	for attr, href := range c.links {
		if err := applyLink(wp, attr, href); err != nil {
			errs.Add(attr, err.Error())
		}
	}
	return errs
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func applyAttribute(wp *models.WorkPackage, attr string, raw json.RawMessage) error {
	switch attr {
	case schema.AttrSubject:
		var s string
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &s); err != nil {
				return errors.New("must be a string")
			}
		}
		wp.Subject = s
	case schema.AttrDescription:
		wp.Description = ""
		if isNull(raw) {
			return nil
		}
		var text representer.FormattableText
		if err := json.Unmarshal(raw, &text); err == nil {
			wp.Description = text.Raw
			return nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return errors.New("must be a formattable text")
		}
		wp.Description = s
	case schema.AttrStartDate, schema.AttrDueDate:
		var date *string
		if !isNull(raw) {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return errors.New("is not a valid date")
			}
			if _, err := time.Parse(models.DateFormat, s); err != nil {
				return errors.New("is not a valid date")
			}
			date = &s
		}
		if attr == schema.AttrStartDate {
			wp.StartDate = date
		} else {
			wp.DueDate = date
		}
	case schema.AttrEstimatedTime:
		if isNull(raw) {
			wp.EstimatedHours = nil
			return nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return errors.New("is not a valid duration")
		}
		hours, err := representer.ParseDuration(s)
		if err != nil {
			return errors.New("is not a valid duration")
		}
		wp.EstimatedHours = &hours
	case schema.AttrPercentageDone:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return errors.New("must be an integer")
		}
		wp.DoneRatio = n
	case schema.AttrID, schema.AttrCreatedAt, schema.AttrUpdatedAt:
		// read-only, rejected during validation
	default:
		id, ok := customFieldID(attr)
		if !ok {
			return nil
		}
		value, err := customFieldString(raw)
		if err != nil {
			return err
		}
		if wp.CustomValues == nil {
			wp.CustomValues = map[int64]string{}
		}
		if value == "" {
			delete(wp.CustomValues, id)
		} else {
			wp.CustomValues[id] = value
		}
	}
	return nil
}

func applyLink(wp *models.WorkPackage, attr string, href *string) error {
	resource, ok := linkResources[attr]
	if !ok {
		return nil
	}
	var id *int64
	if href != nil && *href != "" {
		v, err := idFromHref(*href, resource)
		if err != nil {
			return err
		}
		id = &v
	}

	switch attr {
	case schema.AttrProject:
		wp.ProjectID = deref(id)
	case schema.AttrType:
		wp.TypeID = deref(id)
	case schema.AttrStatus:
		wp.StatusID = deref(id)
	case schema.AttrPriority:
		wp.PriorityID = deref(id)
	case schema.AttrAssignee:
		wp.AssigneeID = id
	case schema.AttrResponsible:
		wp.ResponsibleID = id
	case schema.AttrVersion:
		wp.VersionID = id
	case schema.AttrCategory:
		wp.CategoryID = id
	case schema.AttrParent:
		wp.ParentID = id
	case schema.AttrAuthor:
		// read-only, rejected during validation
	}
	return nil
}

func deref(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// idFromHref extracts the id of /api/v3/<resource>/<id>
func idFromHref(href, resource string) (int64, error) {
	prefix := representer.APIPrefix + "/" + resource + "/"
	if !strings.HasPrefix(href, prefix) {
		return 0, fmt.Errorf("must link to %s", resource)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(href, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must link to %s", resource)
	}
	return id, nil
}

func customFieldID(attr string) (int64, bool) {
	if !strings.HasPrefix(attr, "customField") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(attr, "customField"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// customFieldString converts a JSON value into the stored string form
func customFieldString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", errors.New("is invalid")
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case map[string]interface{}:
		if r, ok := t["raw"].(string); ok {
			return r, nil
		}
	}
	return "", errors.New("is invalid")
}
