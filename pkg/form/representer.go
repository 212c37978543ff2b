package form

import (
	"context"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/schema"
)

var payloadLinks = []struct {
	attr string
	path func(int64) string
}{
	{schema.AttrType, representer.TypePath},
	{schema.AttrStatus, representer.StatusPath},
	{schema.AttrPriority, representer.PriorityPath},
	{schema.AttrAssignee, representer.UserPath},
	{schema.AttrResponsible, representer.UserPath},
	{schema.AttrVersion, representer.VersionPath},
	{schema.AttrCategory, representer.CategoryPath},
	{schema.AttrParent, representer.WorkPackagePath},
}

type hrefOnly struct {
	Href *string `json:"href"`
}

// Payload renders the writable attributes of the edited work package in the
// shape a client sends back
func (r *Result) Payload() map[string]interface{} {
	wp, sc := r.WorkPackage, r.Schema
	out := map[string]interface{}{
		"lockVersion": wp.LockVersion,
		"subject":     wp.Subject,
		"description": representer.FormattableText{Format: "plain", Raw: wp.Description},
	}
	if sc.Writable(schema.AttrStartDate) {
		out[schema.AttrStartDate] = optionalValue(wp.StartDate)
		out[schema.AttrDueDate] = optionalValue(wp.DueDate)
	}
	if sc.Writable(schema.AttrEstimatedTime) {
		if wp.EstimatedHours != nil {
			out[schema.AttrEstimatedTime] = representer.FormatDuration(*wp.EstimatedHours)
		} else {
			out[schema.AttrEstimatedTime] = nil
		}
	}
	if sc.Writable(schema.AttrPercentageDone) {
		out[schema.AttrPercentageDone] = wp.DoneRatio
	}
	for _, cf := range sc.AvailableCustomFields() {
		out[representer.CustomFieldKey(cf.ID)] = representer.CustomValue(cf, wp.CustomValues[cf.ID])
	}

	links := map[string]hrefOnly{}
	for _, l := range payloadLinks {
		if id := linkID(wp, l.attr); id != 0 {
			href := l.path(id)
			links[l.attr] = hrefOnly{Href: &href}
		} else {
			links[l.attr] = hrefOnly{}
		}
	}
	out["_links"] = links
	return out
}

// Represent renders the form: payload, schema and validation errors, with a
// commit link only when the edit is valid
func (r *Result) Represent(ctx context.Context, user *models.User, self, commit, commitMethod string) (map[string]interface{}, error) {
	sc, err := r.Schema.Represent(ctx, user)
	if err != nil {
		return nil, err
	}
	links := representer.Links{
		"self":     {Href: self, Method: "post"},
		"validate": {Href: self, Method: "post"},
	}
	if r.Errors.Empty() {
		links["commit"] = &representer.Link{Href: commit, Method: commitMethod}
	}
	return map[string]interface{}{
		"_type": "Form",
		"_embedded": map[string]interface{}{
			"payload":          r.Payload(),
			"schema":           sc,
			"validationErrors": r.Errors.Props(),
			"editorErrors":     FoldForEditor(r.Errors),
		},
		"_links": links,
	}, nil
}

func optionalValue(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
