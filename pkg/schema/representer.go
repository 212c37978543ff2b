package schema

import (
	"context"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
)

type attribute struct {
	key  string
	typ  string
	name string
	link bool
}

var attributes = []attribute{
	{key: AttrID, typ: "Integer", name: "ID"},
	{key: AttrLockVersion, typ: "Integer", name: "Resource Version"},
	{key: AttrSubject, typ: "String", name: "Subject"},
	{key: AttrDescription, typ: "Formattable", name: "Description"},
	{key: AttrStartDate, typ: "Date", name: "Start date"},
	{key: AttrDueDate, typ: "Date", name: "Due date"},
	{key: AttrEstimatedTime, typ: "Duration", name: "Estimated time"},
	{key: AttrPercentageDone, typ: "Integer", name: "Progress (%)"},
	{key: AttrCreatedAt, typ: "DateTime", name: "Created on"},
	{key: AttrUpdatedAt, typ: "DateTime", name: "Updated on"},
	{key: AttrAuthor, typ: "User", name: "Author"},
	{key: AttrProject, typ: "Project", name: "Project"},
	{key: AttrParent, typ: "WorkPackage", name: "Parent"},
	{key: AttrType, typ: "Type", name: "Type", link: true},
	{key: AttrStatus, typ: "Status", name: "Status", link: true},
	{key: AttrPriority, typ: "Priority", name: "Priority", link: true},
	{key: AttrAssignee, typ: "User", name: "Assignee", link: true},
	{key: AttrResponsible, typ: "User", name: "Accountable", link: true},
	{key: AttrVersion, typ: "Version", name: "Version", link: true},
	{key: AttrCategory, typ: "Category", name: "Category", link: true},
}

var customFieldTypes = map[string]string{
	models.FieldFormatString: "String",
	models.FieldFormatText:   "Formattable",
	models.FieldFormatInt:    "Integer",
	models.FieldFormatFloat:  "Float",
	models.FieldFormatBool:   "Boolean",
	models.FieldFormatDate:   "Date",
	models.FieldFormatList:   "StringObject",
}

// Represent renders the schema as a HAL resource with the allowed values
// of every link attribute resolved for user
func (s *Schema) Represent(ctx context.Context, user *models.User) (map[string]interface{}, error) {
	out := map[string]interface{}{
		"_type":         "Schema",
		"_dependencies": []interface{}{},
		"_links":        representer.Links{"self": {Href: representer.SchemaPath(s.wp.ProjectID, s.wp.TypeID)}},
	}

	for _, a := range attributes {
		if a.key == AttrPercentageDone && s.settings.WorkPackageDoneRatio == models.DoneRatioDisabled {
			continue
		}
		field := map[string]interface{}{
			"type":     a.typ,
			"name":     a.name,
			"required": s.Required(a.key),
			"writable": s.Writable(a.key),
		}
		if a.key == AttrSubject {
			field["minLength"] = 1
			field["maxLength"] = MaxSubjectLength
		}
		if a.link {
			values, err := s.AssignableValues(ctx, a.key, user)
			if err != nil {
				return nil, err
			}
			links := make([]*representer.Link, 0, len(values))
			for _, v := range values {
				links = append(links, &representer.Link{Href: v.Href, Title: v.Name})
			}
			field["_links"] = map[string]interface{}{"allowedValues": links}
		}
		out[a.key] = field
	}

	for _, cf := range s.AvailableCustomFields() {
		typ, ok := customFieldTypes[cf.FieldFormat]
		if !ok {
			typ = "String"
		}
		field := map[string]interface{}{
			"type":     typ,
			"name":     cf.Name,
			"required": cf.IsRequired,
			"writable": true,
		}
		if cf.FieldFormat == models.FieldFormatList {
			field["allowedValues"] = append([]string{}, cf.PossibleValues...)
		}
		out[representer.CustomFieldKey(cf.ID)] = field
	}
	return out, nil
}
