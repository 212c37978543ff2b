package models

import (
	"strings"
	"time"
)

// Role represents a system-wide user role
type Role string

const (
	RoleAdmin Role = "admin" // Full system access
	RoleUser  Role = "user"  // Access governed by project memberships
)

// Permission represents a specific permission
type Permission string

const (
	// Work package permissions
	PermViewWorkPackages   Permission = "view_work_packages"
	PermAddWorkPackages    Permission = "add_work_packages"
	PermEditWorkPackages   Permission = "edit_work_packages"
	PermMoveWorkPackages   Permission = "move_work_packages"
	PermDeleteWorkPackages Permission = "delete_work_packages"

	// Watcher permissions
	PermViewWatchers   Permission = "view_work_package_watchers"
	PermAddWatchers    Permission = "add_work_package_watchers"
	PermDeleteWatchers Permission = "delete_work_package_watchers"

	// Account permissions
	PermManageOwnAccount Permission = "manage_own_account"
	PermAdministerUsers  Permission = "administer_users"
)

// User status values
const (
	UserStatusActive     = "active"
	UserStatusRegistered = "registered"
	UserStatusLocked     = "locked"
)

// Mail notification modes
const (
	MailNotificationAll          = "all"
	MailNotificationSelected     = "selected"
	MailNotificationOnlyMyEvents = "only_my_events"
	MailNotificationOnlyAssigned = "only_assigned"
	MailNotificationOnlyOwner    = "only_owner"
	MailNotificationNone         = "none"
)

// MailNotificationModes lists the accepted mail notification values
var MailNotificationModes = []string{
	MailNotificationAll,
	MailNotificationSelected,
	MailNotificationOnlyMyEvents,
	MailNotificationOnlyAssigned,
	MailNotificationOnlyOwner,
	MailNotificationNone,
}

// User represents an account in the system
type User struct {
	ID                  int64      `json:"id"`
	Login               string     `json:"login"`
	Firstname           string     `json:"firstname"`
	Lastname            string     `json:"lastname"`
	Mail                string     `json:"mail"`
	Language            string     `json:"language,omitempty"`
	PasswordHash        string     `json:"-"` // Never expose in JSON
	Role                Role       `json:"role"`
	Status              string     `json:"status"`
	AuthSource          string     `json:"auth_source,omitempty"` // non-empty means an external directory owns the password
	ForcePasswordChange bool       `json:"force_password_change"`
	MailNotification    string     `json:"mail_notification"`
	NotifiedProjectIDs  []int64    `json:"notified_project_ids,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Name returns the display name of the user
func (u *User) Name() string {
	name := strings.TrimSpace(u.Firstname + " " + u.Lastname)
	if name == "" {
		return u.Login
	}
	return name
}

// IsActive reports whether the user may log in
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// IsAdmin reports whether the user bypasses project permissions
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ChangePasswordAllowed reports whether the password is managed locally
func (u *User) ChangePasswordAllowed() bool {
	return u.AuthSource == ""
}

// UserAttributes is the writable subset of a user on the account pages
type UserAttributes struct {
	Firstname        *string `json:"firstname,omitempty"`
	Lastname         *string `json:"lastname,omitempty"`
	Mail             *string `json:"mail,omitempty"`
	Language         *string `json:"language,omitempty"`
	MailNotification *string `json:"mail_notification,omitempty"`
}

// Apply copies the set attributes onto the user
func (a UserAttributes) Apply(u *User) {
	if a.Firstname != nil {
		u.Firstname = *a.Firstname
	}
	if a.Lastname != nil {
		u.Lastname = *a.Lastname
	}
	if a.Mail != nil {
		u.Mail = *a.Mail
	}
	if a.Language != nil {
		u.Language = *a.Language
	}
	if a.MailNotification != nil {
		u.MailNotification = *a.MailNotification
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// RolePermissions maps system roles to the permissions they hold everywhere
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermViewWorkPackages, PermAddWorkPackages, PermEditWorkPackages, PermMoveWorkPackages, PermDeleteWorkPackages,
		PermViewWatchers, PermAddWatchers, PermDeleteWatchers,
		PermManageOwnAccount, PermAdministerUsers,
	},
	RoleUser: {
		PermManageOwnAccount,
	},
}

// HasPermission checks if a role has a specific permission
func (r Role) HasPermission(perm Permission) bool {
	for _, p := range RolePermissions[r] {
		if p == perm {
			return true
		}
	}
	return false
}

// IsValid checks if a role is valid
func (r Role) IsValid() bool {
	_, ok := RolePermissions[r]
	return ok
}
