package form

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/schema"
)

const (
	msgBlank    = "can't be blank."
	msgReadOnly = "was attempted to be written but is not writable."
	msgInvalid  = "is not set to one of the allowed values."
)

// alwaysReadOnly attributes are rejected whenever a client sends them
var alwaysReadOnly = map[string]bool{
	schema.AttrID:        true,
	schema.AttrCreatedAt: true,
	schema.AttrUpdatedAt: true,
	schema.AttrAuthor:    true,
}

// checkedLinks are validated against the schema's assignable values when they change
var checkedLinks = []string{
	schema.AttrType,
	schema.AttrStatus,
	schema.AttrPriority,
	schema.AttrVersion,
	schema.AttrCategory,
	schema.AttrAssignee,
	schema.AttrResponsible,
}

// validate checks after, the edited copy of before, against its schema.
// before is nil for new work packages.
func (s *Service) validate(ctx context.Context, sc *schema.Schema, user *models.User, before, after *models.WorkPackage, changes *Changes) (Errors, error) {
	errs := Errors{}
	if before == nil {
		before = &models.WorkPackage{}
	}
	moved := before.Persisted && changes.Touches(schema.AttrProject) && before.ProjectID != after.ProjectID

	for _, attr := range changes.Attributes() {
		if attr == schema.AttrProject {
			continue
		}
		if alwaysReadOnly[attr] || (!sc.Writable(attr) && valueOf(before, attr) != valueOf(after, attr)) {
			errs.Add(attr, msgReadOnly)
		}
	}

	subject := strings.TrimSpace(after.Subject)
	if subject == "" {
		errs.Add(schema.AttrSubject, msgBlank)
	} else if utf8.RuneCountInString(after.Subject) > schema.MaxSubjectLength {
		errs.Add(schema.AttrSubject, fmt.Sprintf("is too long (maximum is %d characters).", schema.MaxSubjectLength))
	}

	if after.ProjectID == 0 {
		errs.Add(schema.AttrProject, msgBlank)
	} else if sc.Project() == nil || (moved && !sc.Project().Active) {
		errs.Add(schema.AttrProject, "does not exist.")
	} else if moved {
		ok, err := s.mayMove(ctx, user, before.ProjectID, after.ProjectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			errs.Add(schema.AttrProject, msgInvalid)
		}
	}
	for attr, id := range map[string]int64{
		schema.AttrType:     after.TypeID,
		schema.AttrStatus:   after.StatusID,
		schema.AttrPriority: after.PriorityID,
	} {
		if id == 0 {
			errs.Add(attr, msgBlank)
		}
	}

	if after.StartDate != nil && after.DueDate != nil && *after.DueDate < *after.StartDate {
		errs.Add(schema.AttrDueDate, "must be greater than or equal to start date.")
	}
	if after.DoneRatio < 0 || after.DoneRatio > 100 {
		errs.Add(schema.AttrPercentageDone, "must be between 0 and 100.")
	}
	if after.EstimatedHours != nil && *after.EstimatedHours < 0 {
		errs.Add(schema.AttrEstimatedTime, "must be greater than or equal to 0.")
	}

	// A move puts every project-scoped value up for validation again.
	isNew := !before.Persisted
	for _, attr := range checkedLinks {
		if !isNew && !moved && valueOf(before, attr) == valueOf(after, attr) {
			continue
		}
		id := linkID(after, attr)
		if id == 0 || len(errs[attr]) > 0 {
			continue
		}
		values, err := sc.AssignableValues(ctx, attr, user)
		if err != nil {
			return nil, err
		}
		if values != nil && !schema.Contains(values, id) {
			errs.Add(attr, msgInvalid)
		}
	}

	if after.ParentID != nil && valueOf(before, schema.AttrParent) != valueOf(after, schema.AttrParent) {
		if err := s.validateParent(ctx, after, errs); err != nil {
			return nil, err
		}
	}

	for _, cf := range sc.AvailableCustomFields() {
		attr := representer.CustomFieldKey(cf.ID)
		value := after.CustomValues[cf.ID]
		if value == "" {
			if cf.IsRequired {
				errs.Add(attr, msgBlank)
			}
			continue
		}
		if msg := checkFormat(cf, value); msg != "" {
			errs.Add(attr, msg)
		}
	}
	return errs, nil
}

// mayMove requires move rights where the work package is and add rights
// where it goes
func (s *Service) mayMove(ctx context.Context, user *models.User, from, to int64) (bool, error) {
	ok, err := s.auth.AllowedTo(ctx, user, models.PermMoveWorkPackages, from)
	if err != nil || !ok {
		return false, err
	}
	return s.auth.AllowedTo(ctx, user, models.PermAddWorkPackages, to)
}

func (s *Service) validateParent(ctx context.Context, wp *models.WorkPackage, errs Errors) error {
	if *wp.ParentID == wp.ID {
		errs.Add(schema.AttrParent, "cannot be the work package itself.")
		return nil
	}
	seen := map[int64]bool{wp.ID: true}
	id := *wp.ParentID
	for id != 0 {
		parent, err := s.store.GetWorkPackage(ctx, id)
		if isNotFound(err) {
			errs.Add(schema.AttrParent, "does not exist.")
			return nil
		}
		if err != nil {
			return err
		}
		if seen[parent.ID] {
			errs.Add(schema.AttrParent, "cannot be a descendant of the work package.")
			return nil
		}
		seen[parent.ID] = true
		if parent.ParentID == nil {
			break
		}
		id = *parent.ParentID
	}
	return nil
}

// checkFormat returns a message when value does not match the field format
func checkFormat(cf *models.CustomField, value string) string {
	switch cf.FieldFormat {
	case models.FieldFormatInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return "is not a number."
		}
	case models.FieldFormatFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "is not a number."
		}
	case models.FieldFormatBool:
		switch value {
		case "0", "1", "true", "false":
		default:
			return "is not a boolean."
		}
	case models.FieldFormatDate:
		if _, err := time.Parse(models.DateFormat, value); err != nil {
			return "is not a valid date."
		}
	case models.FieldFormatList:
		for _, v := range cf.PossibleValues {
			if v == value {
				return ""
			}
		}
		return msgInvalid
	case models.FieldFormatString:
		if utf8.RuneCountInString(value) > 255 {
			return "is too long (maximum is 255 characters)."
		}
	}
	return ""
}

func linkID(wp *models.WorkPackage, attr string) int64 {
	switch attr {
	case schema.AttrProject:
		return wp.ProjectID
	case schema.AttrType:
		return wp.TypeID
	case schema.AttrStatus:
		return wp.StatusID
	case schema.AttrPriority:
		return wp.PriorityID
	case schema.AttrAssignee:
		return deref(wp.AssigneeID)
	case schema.AttrResponsible:
		return deref(wp.ResponsibleID)
	case schema.AttrVersion:
		return deref(wp.VersionID)
	case schema.AttrCategory:
		return deref(wp.CategoryID)
	case schema.AttrParent:
		return deref(wp.ParentID)
	case schema.AttrAuthor:
		return wp.AuthorID
	}
	return 0
}

// valueOf renders an attribute for change detection
func valueOf(wp *models.WorkPackage, attr string) string {
	switch attr {
	case schema.AttrSubject:
		return wp.Subject
	case schema.AttrDescription:
		return wp.Description
	case schema.AttrStartDate:
		return optional(wp.StartDate)
	case schema.AttrDueDate:
		return optional(wp.DueDate)
	case schema.AttrEstimatedTime:
		if wp.EstimatedHours == nil {
			return ""
		}
		return strconv.FormatFloat(*wp.EstimatedHours, 'f', -1, 64)
	case schema.AttrPercentageDone:
		return strconv.Itoa(wp.DoneRatio)
	case schema.AttrID:
		return strconv.FormatInt(wp.ID, 10)
	case schema.AttrCreatedAt:
		return wp.CreatedAt.String()
	case schema.AttrUpdatedAt:
		return wp.UpdatedAt.String()
	}
	if _, ok := linkResources[attr]; ok {
		return strconv.FormatInt(linkID(wp, attr), 10)
	}
	if id, ok := customFieldID(attr); ok {
		return wp.CustomValues[id]
	}
	return ""
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
