package query

import (
	"strings"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
)

// Column is an attribute a listing can be grouped by
type Column struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var groupableColumns = []Column{
	{ID: "status", Name: "Status"},
	{ID: "type", Name: "Type"},
	{ID: "priority", Name: "Priority"},
	{ID: "assignee", Name: "Assignee"},
	{ID: "version", Name: "Version"},
	{ID: "category", Name: "Category"},
	{ID: "project", Name: "Project"},
}

// IsGroupable reports whether attr names a groupable column. List custom
// fields are accepted by key and checked against the catalog when grouping.
func IsGroupable(attr string) bool {
	for _, c := range groupableColumns {
		if c.ID == attr {
			return true
		}
	}
	return strings.HasPrefix(attr, "customField")
}

// GroupableColumns lists the built-in groupable columns followed by the
// list custom fields
func GroupableColumns(fields []*models.CustomField) []Column {
	out := append([]Column(nil), groupableColumns...)
	for _, cf := range fields {
		if cf.FieldFormat == models.FieldFormatList {
			out = append(out, Column{ID: representer.CustomFieldKey(cf.ID), Name: cf.Name})
		}
	}
	return out
}
