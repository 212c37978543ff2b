package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/psantana5/tracker/pkg/auth"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/store"
)

// Fixtures is the YAML document loaded into an empty store.
// Records reference each other by name (login, identifier, subject).
type Fixtures struct {
	Users        []User        `yaml:"users"`
	CustomFields []CustomField `yaml:"custom_fields"`
	Types        []Type        `yaml:"types"`
	Statuses     []Status      `yaml:"statuses"`
	Priorities   []Priority    `yaml:"priorities"`
	Roles        []Role        `yaml:"roles"`
	Projects     []Project     `yaml:"projects"`
	Workflows    []Workflow    `yaml:"workflows"`
	WorkPackages []WorkPackage `yaml:"work_packages"`
}

// User is a seeded account. Password is hashed on load.
type User struct {
	Login               string `yaml:"login"`
	Password            string `yaml:"password"`
	Firstname           string `yaml:"firstname"`
	Lastname            string `yaml:"lastname"`
	Mail                string `yaml:"mail"`
	Admin               bool   `yaml:"admin"`
	Status              string `yaml:"status"`
	AuthSource          string `yaml:"auth_source"`
	ForcePasswordChange bool   `yaml:"force_password_change"`
	MailNotification    string `yaml:"mail_notification"`
}

type CustomField struct {
	Name     string   `yaml:"name"`
	Format   string   `yaml:"format"`
	Required bool     `yaml:"required"`
	ForAll   bool     `yaml:"for_all"`
	Values   []string `yaml:"values"`
}

type Type struct {
	Name         string   `yaml:"name"`
	Milestone    bool     `yaml:"milestone"`
	CustomFields []string `yaml:"custom_fields"`
}

type Status struct {
	Name      string `yaml:"name"`
	Closed    bool   `yaml:"closed"`
	Default   bool   `yaml:"default"`
	DoneRatio *int   `yaml:"done_ratio"`
}

type Priority struct {
	Name     string `yaml:"name"`
	Default  bool   `yaml:"default"`
	Inactive bool   `yaml:"inactive"`
}

type Role struct {
	Name        string   `yaml:"name"`
	Assignable  bool     `yaml:"assignable"`
	Permissions []string `yaml:"permissions"`
}

type Project struct {
	Identifier   string    `yaml:"identifier"`
	Name         string    `yaml:"name"`
	Description  string    `yaml:"description"`
	Types        []string  `yaml:"types"`
	CustomFields []string  `yaml:"custom_fields"`
	Versions     []Version `yaml:"versions"`
	Categories   []string  `yaml:"categories"`
	Members      []Member  `yaml:"members"`
}

type Version struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
}

type Member struct {
	User  string   `yaml:"user"`
	Roles []string `yaml:"roles"`
}

type Workflow struct {
	Type     string `yaml:"type"`
	Role     string `yaml:"role"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Author   bool   `yaml:"author"`
	Assignee bool   `yaml:"assignee"`
}

type WorkPackage struct {
	Project        string            `yaml:"project"`
	Subject        string            `yaml:"subject"`
	Description    string            `yaml:"description"`
	Type           string            `yaml:"type"`
	Status         string            `yaml:"status"`
	Priority       string            `yaml:"priority"`
	Author         string            `yaml:"author"`
	Assignee       string            `yaml:"assignee"`
	Responsible    string            `yaml:"responsible"`
	Version        string            `yaml:"version"`
	Category       string            `yaml:"category"`
	Parent         string            `yaml:"parent"`
	StartDate      string            `yaml:"start_date"`
	DueDate        string            `yaml:"due_date"`
	EstimatedHours *float64          `yaml:"estimated_hours"`
	DoneRatio      int               `yaml:"done_ratio"`
	CustomValues   map[string]string `yaml:"custom_values"`
	Watchers       []string          `yaml:"watchers"`
}

// Summary counts what Apply created
type Summary struct {
	Users        int `json:"users" yaml:"users"`
	Projects     int `json:"projects" yaml:"projects"`
	WorkPackages int `json:"work_packages" yaml:"work_packages"`
	Watchers     int `json:"watchers" yaml:"watchers"`
}

// LoadFile reads fixtures from a YAML file
func LoadFile(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes fixtures, rejecting unknown keys
func Parse(data []byte) (*Fixtures, error) {
	var f Fixtures
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

type loader struct {
	s            store.Store
	users        map[string]int64
	customFields map[string]int64
	types        map[string]int64
	statuses     map[string]int64
	priorities   map[string]int64
	roles        map[string]int64
	projects     map[string]int64
	versions     map[string]int64 // keyed by project identifier + "/" + name
	categories   map[string]int64
	workPackages map[string]int64
}

// Apply creates every fixture in dependency order
func Apply(ctx context.Context, s store.Store, f *Fixtures) (*Summary, error) {
	l := &loader{
		s:            s,
		users:        map[string]int64{},
		customFields: map[string]int64{},
		types:        map[string]int64{},
		statuses:     map[string]int64{},
		priorities:   map[string]int64{},
		roles:        map[string]int64{},
		projects:     map[string]int64{},
		versions:     map[string]int64{},
		categories:   map[string]int64{},
		workPackages: map[string]int64{},
	}
	sum := &Summary{}

	for _, u := range f.Users {
		if err := l.user(ctx, u); err != nil {
			return nil, fmt.Errorf("user %q: %w", u.Login, err)
		}
		sum.Users++
	}
	for i, cf := range f.CustomFields {
		m := &models.CustomField{
			Name:           cf.Name,
			FieldFormat:    cf.Format,
			IsRequired:     cf.Required,
			IsForAll:       cf.ForAll,
			PossibleValues: cf.Values,
			Position:       i + 1,
		}
		if m.FieldFormat == "" {
			m.FieldFormat = models.FieldFormatString
		}
		if err := s.CreateCustomField(ctx, m); err != nil {
			return nil, fmt.Errorf("custom field %q: %w", cf.Name, err)
		}
		l.customFields[cf.Name] = m.ID
	}
	for i, t := range f.Types {
		ids, err := resolveAll(l.customFields, t.CustomFields, "custom field")
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", t.Name, err)
		}
		m := &models.Type{Name: t.Name, Position: i + 1, IsMilestone: t.Milestone, CustomFieldIDs: ids}
		if err := s.CreateType(ctx, m); err != nil {
			return nil, fmt.Errorf("type %q: %w", t.Name, err)
		}
		l.types[t.Name] = m.ID
	}
	for i, st := range f.Statuses {
		m := &models.Status{Name: st.Name, IsClosed: st.Closed, IsDefault: st.Default, DefaultDoneRatio: st.DoneRatio, Position: i + 1}
		if err := s.CreateStatus(ctx, m); err != nil {
			return nil, fmt.Errorf("status %q: %w", st.Name, err)
		}
		l.statuses[st.Name] = m.ID
	}
	for i, p := range f.Priorities {
		m := &models.Priority{Name: p.Name, Active: !p.Inactive, IsDefault: p.Default, Position: i + 1}
		if err := s.CreatePriority(ctx, m); err != nil {
			return nil, fmt.Errorf("priority %q: %w", p.Name, err)
		}
		l.priorities[p.Name] = m.ID
	}
	for _, r := range f.Roles {
		m := &models.ProjectRole{Name: r.Name, Assignable: r.Assignable}
		for _, p := range r.Permissions {
			m.Permissions = append(m.Permissions, models.Permission(p))
		}
		if err := s.CreateRole(ctx, m); err != nil {
			return nil, fmt.Errorf("role %q: %w", r.Name, err)
		}
		l.roles[r.Name] = m.ID
	}
	for _, p := range f.Projects {
		if err := l.project(ctx, p); err != nil {
			return nil, fmt.Errorf("project %q: %w", p.Identifier, err)
		}
		sum.Projects++
	}
	for _, w := range f.Workflows {
		if err := l.workflow(ctx, w); err != nil {
			return nil, fmt.Errorf("workflow %s %s->%s: %w", w.Type, w.From, w.To, err)
		}
	}
	for _, wp := range f.WorkPackages {
		watchers, err := l.workPackage(ctx, wp)
		if err != nil {
			return nil, fmt.Errorf("work package %q: %w", wp.Subject, err)
		}
		sum.WorkPackages++
		sum.Watchers += watchers
	}
	return sum, nil
}

func (l *loader) user(ctx context.Context, u User) error {
	m := &models.User{
		Login:               u.Login,
		Firstname:           u.Firstname,
		Lastname:            u.Lastname,
		Mail:                u.Mail,
		Role:                models.RoleUser,
		Status:              u.Status,
		AuthSource:          u.AuthSource,
		ForcePasswordChange: u.ForcePasswordChange,
		MailNotification:    u.MailNotification,
	}
	if u.Admin {
		m.Role = models.RoleAdmin
	}
	if m.Status == "" {
		m.Status = models.UserStatusActive
	}
	if m.MailNotification == "" {
		m.MailNotification = models.MailNotificationOnlyMyEvents
	}
	if u.Password != "" {
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return err
		}
		m.PasswordHash = hash
	}
	if err := l.s.CreateUser(ctx, m); err != nil {
		return err
	}
	l.users[u.Login] = m.ID
	return nil
}

func (l *loader) project(ctx context.Context, p Project) error {
	typeIDs, err := resolveAll(l.types, p.Types, "type")
	if err != nil {
		return err
	}
	cfIDs, err := resolveAll(l.customFields, p.CustomFields, "custom field")
	if err != nil {
		return err
	}
	m := &models.Project{
		Identifier:                p.Identifier,
		Name:                      p.Name,
		Description:               p.Description,
		Active:                    true,
		TypeIDs:                   typeIDs,
		WorkPackageCustomFieldIDs: cfIDs,
	}
	if err := l.s.CreateProject(ctx, m); err != nil {
		return err
	}
	l.projects[p.Identifier] = m.ID

	for _, v := range p.Versions {
		status := v.Status
		if status == "" {
			status = models.VersionStatusOpen
		}
		ver := &models.Version{ProjectID: m.ID, Name: v.Name, Status: status}
		if err := l.s.CreateVersion(ctx, ver); err != nil {
			return fmt.Errorf("version %q: %w", v.Name, err)
		}
		l.versions[p.Identifier+"/"+v.Name] = ver.ID
	}
	for _, name := range p.Categories {
		c := &models.Category{ProjectID: m.ID, Name: name}
		if err := l.s.CreateCategory(ctx, c); err != nil {
			return fmt.Errorf("category %q: %w", name, err)
		}
		l.categories[p.Identifier+"/"+name] = c.ID
	}
	for _, mem := range p.Members {
		uid, err := resolve(l.users, mem.User, "user")
		if err != nil {
			return err
		}
		roleIDs, err := resolveAll(l.roles, mem.Roles, "role")
		if err != nil {
			return err
		}
		if err := l.s.AddMember(ctx, &models.Member{ProjectID: m.ID, UserID: uid, RoleIDs: roleIDs}); err != nil {
			return fmt.Errorf("member %q: %w", mem.User, err)
		}
	}
	return nil
}

func (l *loader) workflow(ctx context.Context, w Workflow) error {
	typeID, err := resolve(l.types, w.Type, "type")
	if err != nil {
		return err
	}
	roleID, err := resolve(l.roles, w.Role, "role")
	if err != nil {
		return err
	}
	from, err := resolve(l.statuses, w.From, "status")
	if err != nil {
		return err
	}
	to, err := resolve(l.statuses, w.To, "status")
	if err != nil {
		return err
	}
	return l.s.CreateWorkflow(ctx, &models.Workflow{
		TypeID:      typeID,
		RoleID:      roleID,
		OldStatusID: from,
		NewStatusID: to,
		Author:      w.Author,
		Assignee:    w.Assignee,
	})
}

func (l *loader) workPackage(ctx context.Context, wp WorkPackage) (int, error) {
	var err error
	m := &models.WorkPackage{
		Subject:        wp.Subject,
		Description:    wp.Description,
		EstimatedHours: wp.EstimatedHours,
		DoneRatio:      wp.DoneRatio,
	}
	if m.ProjectID, err = resolve(l.projects, wp.Project, "project"); err != nil {
		return 0, err
	}
	if m.TypeID, err = resolve(l.types, wp.Type, "type"); err != nil {
		return 0, err
	}
	if m.StatusID, err = resolve(l.statuses, wp.Status, "status"); err != nil {
		return 0, err
	}
	if m.PriorityID, err = resolve(l.priorities, wp.Priority, "priority"); err != nil {
		return 0, err
	}
	if m.AuthorID, err = resolve(l.users, wp.Author, "user"); err != nil {
		return 0, err
	}
	if m.AssigneeID, err = resolveOptional(l.users, wp.Assignee, "user"); err != nil {
		return 0, err
	}
	if m.ResponsibleID, err = resolveOptional(l.users, wp.Responsible, "user"); err != nil {
		return 0, err
	}
	if wp.Version != "" {
		if m.VersionID, err = resolveOptional(l.versions, wp.Project+"/"+wp.Version, "version"); err != nil {
			return 0, err
		}
	}
	if wp.Category != "" {
		if m.CategoryID, err = resolveOptional(l.categories, wp.Project+"/"+wp.Category, "category"); err != nil {
			return 0, err
		}
	}
	if m.ParentID, err = resolveOptional(l.workPackages, wp.Parent, "parent work package"); err != nil {
		return 0, err
	}
	if wp.StartDate != "" {
		d := wp.StartDate
		m.StartDate = &d
	}
	if wp.DueDate != "" {
		d := wp.DueDate
		m.DueDate = &d
	}
	if len(wp.CustomValues) > 0 {
		m.CustomValues = make(map[int64]string, len(wp.CustomValues))
		for name, v := range wp.CustomValues {
			id, err := resolve(l.customFields, name, "custom field")
			if err != nil {
				return 0, err
			}
			m.CustomValues[id] = v
		}
	}
	if err := l.s.CreateWorkPackage(ctx, m); err != nil {
		return 0, err
	}
	l.workPackages[wp.Subject] = m.ID

	added := 0
	for _, login := range wp.Watchers {
		uid, err := resolve(l.users, login, "user")
		if err != nil {
			return 0, err
		}
		ok, err := l.s.AddWatcher(ctx, m.ID, uid)
		if err != nil {
			return 0, fmt.Errorf("watcher %q: %w", login, err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func resolve(ids map[string]int64, name, kind string) (int64, error) {
	id, ok := ids[name]
	if !ok {
		return 0, fmt.Errorf("unknown %s %q", kind, name)
	}
	return id, nil
}

func resolveOptional(ids map[string]int64, name, kind string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	id, err := resolve(ids, name, kind)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func resolveAll(ids map[string]int64, names []string, kind string) ([]int64, error) {
	out := make([]int64, 0, len(names))
	for _, n := range names {
		id, err := resolve(ids, n, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
