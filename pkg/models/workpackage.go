package models

import (
	"time"
)

// DateFormat is the wire and storage format of work package dates
const DateFormat = "2006-01-02"

// WorkPackage is the core tracked entity
type WorkPackage struct {
	ID             int64            `json:"id"`
	Subject        string           `json:"subject"`
	Description    string           `json:"description,omitempty"`
	ProjectID      int64            `json:"project_id"`
	TypeID         int64            `json:"type_id"`
	StatusID       int64            `json:"status_id"`
	PriorityID     int64            `json:"priority_id"`
	AuthorID       int64            `json:"author_id"`
	AssigneeID     *int64           `json:"assignee_id,omitempty"`
	ResponsibleID  *int64           `json:"responsible_id,omitempty"`
	VersionID      *int64           `json:"version_id,omitempty"`
	CategoryID     *int64           `json:"category_id,omitempty"`
	ParentID       *int64           `json:"parent_id,omitempty"`
	StartDate      *string          `json:"start_date,omitempty"`
	DueDate        *string          `json:"due_date,omitempty"`
	EstimatedHours *float64         `json:"estimated_hours,omitempty"`
	DoneRatio      int              `json:"done_ratio"`
	CustomValues   map[int64]string `json:"custom_values,omitempty"`
	LockVersion    int              `json:"lock_version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`

	// Loaded from storage, not serialized.
	Persisted   bool  `json:"-"`
	StatusIDWas int64 `json:"-"`
	ChildCount  int   `json:"-"`
}

// IsLeaf reports whether the work package has no children
func (wp *WorkPackage) IsLeaf() bool {
	return wp.ChildCount == 0
}

// StatusChanged reports whether a persisted work package carries an unsaved status change
func (wp *WorkPackage) StatusChanged() bool {
	return wp.Persisted && wp.StatusID != wp.StatusIDWas
}

// IsAssignedTo reports whether the user is the assignee
func (wp *WorkPackage) IsAssignedTo(userID int64) bool {
	return wp.AssigneeID != nil && *wp.AssigneeID == userID
}

// IsResponsible reports whether the user is the accountable person
func (wp *WorkPackage) IsResponsible(userID int64) bool {
	return wp.ResponsibleID != nil && *wp.ResponsibleID == userID
}

// Clone returns a deep copy that keeps the persistence markers
func (wp *WorkPackage) Clone() *WorkPackage {
	c := *wp
	c.AssigneeID = cloneInt64(wp.AssigneeID)
	c.ResponsibleID = cloneInt64(wp.ResponsibleID)
	c.VersionID = cloneInt64(wp.VersionID)
	c.CategoryID = cloneInt64(wp.CategoryID)
	c.ParentID = cloneInt64(wp.ParentID)
	c.StartDate = cloneString(wp.StartDate)
	c.DueDate = cloneString(wp.DueDate)
	if wp.EstimatedHours != nil {
		h := *wp.EstimatedHours
		c.EstimatedHours = &h
	}
	if wp.CustomValues != nil {
		c.CustomValues = make(map[int64]string, len(wp.CustomValues))
		for k, v := range wp.CustomValues {
			c.CustomValues[k] = v
		}
	}
	return &c
}

// MarkPersisted records the stored state after a load or save
func (wp *WorkPackage) MarkPersisted() {
	wp.Persisted = true
	wp.StatusIDWas = wp.StatusID
}

// WorkPackageFilter narrows work package listings. Zero values mean "any".
type WorkPackageFilter struct {
	ProjectID     int64
	StatusIDs     []int64
	AssigneeID    int64
	AuthorID      int64
	ResponsibleID int64
	IDs           []int64
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
