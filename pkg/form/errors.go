package form

import (
	"sort"
	"strings"

	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/schema"
)

// DateAttribute is the combined editor field for start and due date
const DateAttribute = "date"

// Errors collects validation messages keyed by API attribute
type Errors map[string][]string

// Add records a message for the attribute
func (e Errors) Add(attr, msg string) {
	e[attr] = append(e[attr], msg)
}

// Merge adds every message of other
func (e Errors) Merge(other Errors) {
	for attr, msgs := range other {
		for _, m := range msgs {
			e.Add(attr, m)
		}
	}
}

// Empty reports whether no error was recorded
func (e Errors) Empty() bool {
	return len(e) == 0
}

// Attributes returns the attributes with errors, sorted
func (e Errors) Attributes() []string {
	out := make([]string, 0, len(e))
	for attr := range e {
		out = append(out, attr)
	}
	sort.Strings(out)
	return out
}

// Message returns the full message of one attribute
func (e Errors) Message(attr string) string {
	return label(attr) + " " + strings.Join(e[attr], " and ")
}

// Props renders one constraint violation per attribute
func (e Errors) Props() map[string]*representer.Error {
	out := make(map[string]*representer.Error, len(e))
	for attr := range e {
		out[attr] = representer.NewConstraintViolation(attr, e.Message(attr))
	}
	return out
}

// Represent renders the errors as a single HAL error, nesting them when
// there is more than one
func (e Errors) Represent() *representer.Error {
	var errs []*representer.Error
	for _, attr := range e.Attributes() {
		errs = append(errs, representer.NewConstraintViolation(attr, e.Message(attr)))
	}
	return representer.NewMultipleErrors(errs)
}

// FoldForEditor maps errors onto the fields of the in-place editor, where
// start and due date share a single date field
func FoldForEditor(e Errors) map[string]string {
	out := make(map[string]string, len(e))
	for _, attr := range e.Attributes() {
		field := attr
		if attr == schema.AttrStartDate || attr == schema.AttrDueDate {
			field = DateAttribute
		}
		out[field] = e.Message(attr)
	}
	return out
}

var labels = map[string]string{
	schema.AttrSubject:        "Subject",
	schema.AttrDescription:    "Description",
	schema.AttrProject:        "Project",
	schema.AttrType:           "Type",
	schema.AttrStatus:         "Status",
	schema.AttrPriority:       "Priority",
	schema.AttrAssignee:       "Assignee",
	schema.AttrResponsible:    "Accountable",
	schema.AttrVersion:        "Version",
	schema.AttrCategory:       "Category",
	schema.AttrParent:         "Parent",
	schema.AttrStartDate:      "Start date",
	schema.AttrDueDate:        "Due date",
	schema.AttrEstimatedTime:  "Estimated time",
	schema.AttrPercentageDone: "Progress (%)",
	schema.AttrAuthor:         "Author",
	schema.AttrID:             "ID",
	schema.AttrCreatedAt:      "Created on",
	schema.AttrUpdatedAt:      "Updated on",
}

func label(attr string) string {
	if l, ok := labels[attr]; ok {
		return l
	}
	return attr
}
