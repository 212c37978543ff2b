package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/psantana5/tracker/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	mu sync.RWMutex

	nextID int64

	users       map[int64]*models.User
	preferences map[int64]*models.Preference
	tokens      map[string]*models.Token

	projects     map[int64]*models.Project
	types        map[int64]*models.Type
	statuses     map[int64]*models.Status
	priorities   map[int64]*models.Priority
	versions     map[int64]*models.Version
	categories   map[int64]*models.Category
	customFields map[int64]*models.CustomField
	roles        map[int64]*models.ProjectRole
	members      map[int64]*models.Member
	workflows    map[int64]*models.Workflow

	workPackages map[int64]*models.WorkPackage
	watchers     map[int64]map[int64]struct{} // work package -> user set
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[int64]*models.User),
		preferences:  make(map[int64]*models.Preference),
		tokens:       make(map[string]*models.Token),
		projects:     make(map[int64]*models.Project),
		types:        make(map[int64]*models.Type),
		statuses:     make(map[int64]*models.Status),
		priorities:   make(map[int64]*models.Priority),
		versions:     make(map[int64]*models.Version),
		categories:   make(map[int64]*models.Category),
		customFields: make(map[int64]*models.CustomField),
		roles:        make(map[int64]*models.ProjectRole),
		members:      make(map[int64]*models.Member),
		workflows:    make(map[int64]*models.Workflow),
		workPackages: make(map[int64]*models.WorkPackage),
		watchers:     make(map[int64]map[int64]struct{}),
	}
}

// assignID hands out ids from a single sequence. Callers hold mu.
func (s *MemoryStore) assignID(id *int64) {
	if *id == 0 {
		s.nextID++
		*id = s.nextID
	} else if *id > s.nextID {
		s.nextID = *id
	}
}

// User operations

// CreateUser stores a new user
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Login, user.Login) {
			return ErrDuplicate
		}
	}
	s.assignID(&user.ID)
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	c := *user
	s.users[user.ID] = &c
	return nil
}

// GetUser retrieves a user by ID
func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// GetUserByLogin retrieves a user by login, case-insensitively
func (s *MemoryStore) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Login, login) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers returns all users ordered by ID
func (s *MemoryStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// UpdateUser replaces a stored user
func (s *MemoryStore) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return ErrNotFound
	}
	user.UpdatedAt = time.Now()
	c := *user
	c.NotifiedProjectIDs = append([]int64(nil), user.NotifiedProjectIDs...)
	s.users[user.ID] = &c
	return nil
}

// Preferences

// GetPreference returns the user's preference or an empty one
func (s *MemoryStore) GetPreference(ctx context.Context, userID int64) (*models.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preferences[userID]
	if !ok {
		return &models.Preference{UserID: userID}, nil
	}
	c := *p
	if p.MyPageLayout != nil {
		c.MyPageLayout = p.MyPageLayout.Clone()
	}
	return &c, nil
}

// SavePreference stores the preference blob
func (s *MemoryStore) SavePreference(ctx context.Context, pref *models.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *pref
	if pref.MyPageLayout != nil {
		c.MyPageLayout = pref.MyPageLayout.Clone()
	}
	s.preferences[pref.UserID] = &c
	return nil
}

// Tokens

// CreateToken stores a new access token
func (s *MemoryStore) CreateToken(ctx context.Context, token *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; ok {
		return ErrDuplicate
	}
	c := *token
	s.tokens[token.ID] = &c
	return nil
}

// GetToken retrieves a token by ID
func (s *MemoryStore) GetToken(ctx context.Context, id string) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

// FindUserToken returns the user's token of the given kind
func (s *MemoryStore) FindUserToken(ctx context.Context, userID int64, kind models.TokenKind) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tokens {
		if t.UserID == userID && t.Kind == kind {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteToken removes a token
func (s *MemoryStore) DeleteToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return ErrNotFound
	}
	delete(s.tokens, id)
	return nil
}

// TouchToken records the last use of a token
func (s *MemoryStore) TouchToken(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.LastUsedAt = &at
	return nil
}

// Reference data

// CreateProject stores a project
func (s *MemoryStore) CreateProject(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.projects {
		if p.Identifier == project.Identifier {
			return ErrDuplicate
		}
	}
	s.assignID(&project.ID)
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	c := *project
	s.projects[project.ID] = &c
	return nil
}

// GetProject retrieves a project by ID
func (s *MemoryStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

// GetProjectByIdentifier retrieves a project by its identifier
func (s *MemoryStore) GetProjectByIdentifier(ctx context.Context, identifier string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.projects {
		if p.Identifier == identifier {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListProjects returns all projects
func (s *MemoryStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopies(s.projects, func(p *models.Project) int64 { return p.ID }), nil
}

// CreateType stores a type
func (s *MemoryStore) CreateType(ctx context.Context, t *models.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignID(&t.ID)
	c := *t
	s.types[t.ID] = &c
	return nil
}

// ListTypes returns all types by position
func (s *MemoryStore) ListTypes(ctx context.Context) ([]*models.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := sortedCopies(s.types, func(t *models.Type) int64 { return t.ID })
	sort.SliceStable(types, func(i, j int) bool { return types[i].Position < types[j].Position })
	return types, nil
}

// CreateStatus stores a status
func (s *MemoryStore) CreateStatus(ctx context.Context, status *models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignID(&status.ID)
	c := *status
	s.statuses[status.ID] = &c
	return nil
}

// ListStatuses returns all statuses by position
func (s *MemoryStore) ListStatuses(ctx context.Context) ([]*models.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	statuses := sortedCopies(s.statuses, func(st *models.Status) int64 { return st.ID })
	sort.SliceStable(statuses, func(i, j int) bool { return statuses[i].Position < statuses[j].Position })
	return statuses, nil
}

// CreatePriority stores a priority
func (s *MemoryStore) CreatePriority(ctx context.Context, priority *models.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignID(&priority.ID)
	c := *priority
	s.priorities[priority.ID] = &c
	return nil
}

// ListPriorities returns all priorities by position
func (s *MemoryStore) ListPriorities(ctx context.Context) ([]*models.Priority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	priorities := sortedCopies(s.priorities, func(p *models.Priority) int64 { return p.ID })
	sort.SliceStable(priorities, func(i, j int) bool { return priorities[i].Position < priorities[j].Position })
	return priorities, nil
}

// CreateVersion stores a version
func (s *MemoryStore) CreateVersion(ctx context.Context, version *models.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignID(&version.ID)
	c := *version
	s.versions[version.ID] = &c
	return nil
}

// ListVersions returns the versions of a project
func (s *MemoryStore) ListVersions(ctx context.Context, projectID int64) ([]*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Version
	for _, v := range sortedCopies(s.versions, func(v *models.Version) int64 { return v.ID }) {
		if v.ProjectID == projectID {
			out = append(out, v)
		}
	}
	return out, nil
}

// CreateCategory stores a category
func (s *MemoryStore) CreateCategory(ctx context.Context, category *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignID(&category.ID)
	c := *category
	s.categories[category.ID] = &c
	return nil
}

// ListCategories returns the categories of a project
func (s *MemoryStore) ListCategories(ctx context.Context, projectID int64) ([]*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Category
	for _, c := range sortedCopies(s.categories, func(c *models.Category) int64 { return c.ID }) {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateCustomField stores a custom field
func (s *MemoryStore) CreateCustomField(ctx context.Context, cf *models.CustomField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignID(&cf.ID)
	c := *cf
	s.customFields[cf.ID] = &c
	return nil
}

// ListCustomFields returns all custom fields by position
func (s *MemoryStore) ListCustomFields(ctx context.Context) ([]*models.CustomField, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields := sortedCopies(s.customFields, func(cf *models.CustomField) int64 { return cf.ID })
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Position < fields[j].Position })
	return fields, nil
}

// CreateRole stores a project role
func (s *MemoryStore) CreateRole(ctx context.Context, role *models.ProjectRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignID(&role.ID)
	c := *role
	s.roles[role.ID] = &c
	return nil
}

// ListRoles returns all project roles
func (s *MemoryStore) ListRoles(ctx context.Context) ([]*models.ProjectRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopies(s.roles, func(r *models.ProjectRole) int64 { return r.ID }), nil
}

// AddMember stores a membership
func (s *MemoryStore) AddMember(ctx context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ProjectID == member.ProjectID && m.UserID == member.UserID {
			return ErrDuplicate
		}
	}
	s.assignID(&member.ID)
	c := *member
	s.members[member.ID] = &c
	return nil
}

// ListMembers returns the memberships of a project
func (s *MemoryStore) ListMembers(ctx context.Context, projectID int64) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Member
	for _, m := range sortedCopies(s.members, func(m *models.Member) int64 { return m.ID }) {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

// CreateWorkflow stores a status transition rule
func (s *MemoryStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignID(&wf.ID)
	c := *wf
	s.workflows[wf.ID] = &c
	return nil
}

// ListWorkflows returns the transitions defined for a type
func (s *MemoryStore) ListWorkflows(ctx context.Context, typeID int64) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Workflow
	for _, wf := range sortedCopies(s.workflows, func(wf *models.Workflow) int64 { return wf.ID }) {
		if wf.TypeID == typeID {
			out = append(out, wf)
		}
	}
	return out, nil
}

// Work package operations

// CreateWorkPackage stores a new work package
func (s *MemoryStore) CreateWorkPackage(ctx context.Context, wp *models.WorkPackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignID(&wp.ID)
	now := time.Now()
	wp.CreatedAt = now
	wp.UpdatedAt = now
	if wp.LockVersion == 0 {
		wp.LockVersion = 1
	}
	s.workPackages[wp.ID] = wp.Clone()
	wp.MarkPersisted()
	return nil
}

// GetWorkPackage retrieves a work package by ID
func (s *MemoryStore) GetWorkPackage(ctx context.Context, id int64) (*models.WorkPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wp, ok := s.workPackages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.loaded(wp), nil
}

// loaded returns a detached copy with persistence markers. Callers hold mu.
func (s *MemoryStore) loaded(wp *models.WorkPackage) *models.WorkPackage {
	c := wp.Clone()
	c.ChildCount = 0
	for _, other := range s.workPackages {
		if other.ParentID != nil && *other.ParentID == wp.ID {
			c.ChildCount++
		}
	}
	c.MarkPersisted()
	return c
}

// ListWorkPackages returns work packages matching the filter ordered by ID
func (s *MemoryStore) ListWorkPackages(ctx context.Context, filter models.WorkPackageFilter) ([]*models.WorkPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.WorkPackage
	for _, wp := range s.workPackages {
		if matchesFilter(wp, filter) {
			out = append(out, s.loaded(wp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateWorkPackage saves a work package under optimistic locking
func (s *MemoryStore) UpdateWorkPackage(ctx context.Context, wp *models.WorkPackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.workPackages[wp.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.LockVersion != wp.LockVersion {
		return ErrStaleObject
	}
	wp.LockVersion++
	wp.UpdatedAt = time.Now()
	s.workPackages[wp.ID] = wp.Clone()
	wp.MarkPersisted()
	return nil
}

// DeleteWorkPackage removes a work package together with its watchers.
// Children are detached from the deleted parent.
func (s *MemoryStore) DeleteWorkPackage(ctx context.Context, id int64) error {
	return s.DeleteWorkPackages(ctx, []int64{id})
}

// DeleteWorkPackages removes the work packages after checking all of them exist
func (s *MemoryStore) DeleteWorkPackages(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.workPackages[id]; !ok {
			return fmt.Errorf("work package %d: %w", id, ErrNotFound)
		}
	}
	for _, id := range ids {
		delete(s.workPackages, id)
		delete(s.watchers, id)
		for _, wp := range s.workPackages {
			if wp.ParentID != nil && *wp.ParentID == id {
				wp.ParentID = nil
			}
		}
	}
	return nil
}

// Watchers

// AddWatcher adds a user to the watchers of a work package
func (s *MemoryStore) AddWatcher(ctx context.Context, workPackageID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workPackages[workPackageID]; !ok {
		return false, ErrNotFound
	}
	set, ok := s.watchers[workPackageID]
	if !ok {
		set = make(map[int64]struct{})
		s.watchers[workPackageID] = set
	}
	if _, watching := set[userID]; watching {
		return false, nil
	}
	set[userID] = struct{}{}
	return true, nil
}

// RemoveWatcher removes a user from the watchers of a work package
func (s *MemoryStore) RemoveWatcher(ctx context.Context, workPackageID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workPackages[workPackageID]; !ok {
		return false, ErrNotFound
	}
	set := s.watchers[workPackageID]
	if _, watching := set[userID]; !watching {
		return false, nil
	}
	delete(set, userID)
	return true, nil
}

// ListWatchers returns the ids of users watching a work package
func (s *MemoryStore) ListWatchers(ctx context.Context, workPackageID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.workPackages[workPackageID]; !ok {
		return nil, ErrNotFound
	}
	ids := make([]int64, 0, len(s.watchers[workPackageID]))
	for id := range s.watchers[workPackageID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListWatchedWorkPackageIDs returns the work packages a user watches
func (s *MemoryStore) ListWatchedWorkPackageIDs(ctx context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []int64{}
	for wpID, set := range s.watchers {
		if _, ok := set[userID]; ok {
			ids = append(ids, wpID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Lifecycle

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

func matchesFilter(wp *models.WorkPackage, f models.WorkPackageFilter) bool {
	if f.ProjectID != 0 && wp.ProjectID != f.ProjectID {
		return false
	}
	if len(f.StatusIDs) > 0 && !containsInt64(f.StatusIDs, wp.StatusID) {
		return false
	}
	if f.AssigneeID != 0 && !wp.IsAssignedTo(f.AssigneeID) {
		return false
	}
	if f.ResponsibleID != 0 && !wp.IsResponsible(f.ResponsibleID) {
		return false
	}
	if f.AuthorID != 0 && wp.AuthorID != f.AuthorID {
		return false
	}
	if f.IDs != nil && !containsInt64(f.IDs, wp.ID) {
		return false
	}
	return true
}

func containsInt64(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// sortedCopies returns shallow copies of the map values ordered by key
func sortedCopies[T any](m map[int64]*T, key func(*T) int64) []*T {
	out := make([]*T, 0, len(m))
	for _, v := range m {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}
