package models

import "time"

// Project groups work packages and carries the reference data they may use
type Project struct {
	ID                        int64     `json:"id"`
	Identifier                string    `json:"identifier"`
	Name                      string    `json:"name"`
	Description               string    `json:"description,omitempty"`
	Active                    bool      `json:"active"`
	TypeIDs                   []int64   `json:"type_ids"`
	WorkPackageCustomFieldIDs []int64   `json:"work_package_custom_field_ids"`
	CreatedAt                 time.Time `json:"created_at"`
}

// HasType reports whether the type is enabled in the project
func (p *Project) HasType(typeID int64) bool {
	return containsID(p.TypeIDs, typeID)
}

// Type classifies work packages (task, bug, milestone, ...)
type Type struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Position       int     `json:"position"`
	IsMilestone    bool    `json:"is_milestone"`
	CustomFieldIDs []int64 `json:"custom_field_ids"`
}

// Status is a work package state
type Status struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	IsClosed         bool   `json:"is_closed"`
	IsDefault        bool   `json:"is_default"`
	DefaultDoneRatio *int   `json:"default_done_ratio,omitempty"`
	Position         int    `json:"position"`
}

// Priority ranks work packages
type Priority struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	IsDefault bool   `json:"is_default"`
	Position  int    `json:"position"`
}

// Version status values
const (
	VersionStatusOpen   = "open"
	VersionStatusLocked = "locked"
	VersionStatusClosed = "closed"
)

// Version is a release milestone within a project
type Version struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// Category is a project-scoped work package bucket
type Category struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
}

// Custom field formats
const (
	FieldFormatString = "string"
	FieldFormatText   = "text"
	FieldFormatInt    = "int"
	FieldFormatFloat  = "float"
	FieldFormatBool   = "bool"
	FieldFormatDate   = "date"
	FieldFormatList   = "list"
)

// CustomField is an administrator-defined work package attribute
type CustomField struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	FieldFormat    string   `json:"field_format"`
	IsRequired     bool     `json:"is_required"`
	IsForAll       bool     `json:"is_for_all"`
	PossibleValues []string `json:"possible_values,omitempty"`
	Position       int      `json:"position"`
}

// IsNumeric reports whether values of the field can be summed
func (cf *CustomField) IsNumeric() bool {
	return cf.FieldFormat == FieldFormatInt || cf.FieldFormat == FieldFormatFloat
}

// ProjectRole is a named permission set granted through membership
type ProjectRole struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Assignable  bool         `json:"assignable"`
	Permissions []Permission `json:"permissions"`
}

// Allows reports whether the role grants the permission
func (r *ProjectRole) Allows(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Member links a user to a project with one or more roles
type Member struct {
	ID        int64   `json:"id"`
	ProjectID int64   `json:"project_id"`
	UserID    int64   `json:"user_id"`
	RoleIDs   []int64 `json:"role_ids"`
}

// Workflow allows a status transition for a type and role.
// Author and Assignee restrict the transition to the work package's author or assignee.
type Workflow struct {
	ID          int64 `json:"id"`
	TypeID      int64 `json:"type_id"`
	RoleID      int64 `json:"role_id"`
	OldStatusID int64 `json:"old_status_id"`
	NewStatusID int64 `json:"new_status_id"`
	Author      bool  `json:"author"`
	Assignee    bool  `json:"assignee"`
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
