package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/psantana5/tracker/pkg/models"
)

// Record kinds kept in the shared records table
const (
	kindProject     = "project"
	kindType        = "type"
	kindStatus      = "status"
	kindPriority    = "priority"
	kindVersion     = "version"
	kindCategory    = "category"
	kindCustomField = "custom_field"
	kindRole        = "role"
	kindMember      = "member"
	kindWorkflow    = "workflow"
)

// dialect captures what differs between the SQL backends
type dialect struct {
	name   string
	schema string
	// rebind rewrites '?' placeholders for the driver
	rebind func(query string) string
	// syncSequence runs after rows were inserted with explicit ids
	syncSequence func(ctx context.Context, db *sql.DB, table string) error
	// isUniqueViolation recognises the driver's unique constraint error
	isUniqueViolation func(err error) bool
}

// sqlStore implements Store on database/sql for both SQLite and PostgreSQL.
// Reference data is kept as JSON documents in a single records table;
// users, tokens, work packages and watchers have their own tables.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.d.schema)
	return err
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if s.d.isUniqueViolation != nil && s.d.isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// insertWithID inserts a row, letting the database pick the id when *id is zero
func (s *sqlStore) insertWithID(ctx context.Context, table string, id *int64, columns []string, args []interface{}) error {
	if *id != 0 {
		cols := append([]string{"id"}, columns...)
		vals := append([]interface{}{*id}, args...)
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
		if _, err := s.exec(ctx, q, vals...); err != nil {
			return s.mapErr(err)
		}
		if s.d.syncSequence != nil {
			return s.d.syncSequence(ctx, s.db, table)
		}
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", table, strings.Join(columns, ", "), placeholders(len(columns)))
	return s.mapErr(s.queryRow(ctx, q, args...).Scan(id))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// User operations

// CreateUser stores a new user
func (s *sqlStore) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	return s.insertWithID(ctx, "users", &user.ID,
		[]string{"login", "password_hash", "data"},
		[]interface{}{strings.ToLower(user.Login), user.PasswordHash, string(data)})
}

func (s *sqlStore) scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var (
		id   int64
		hash string
		data string
	)
	if err := row.Scan(&id, &hash, &data); err != nil {
		return nil, s.mapErr(err)
	}
	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	user.ID = id
	user.PasswordHash = hash
	return &user, nil
}

// GetUser retrieves a user by ID
func (s *sqlStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.scanUser(s.queryRow(ctx, `SELECT id, password_hash, data FROM users WHERE id = ?`, id))
}

// GetUserByLogin retrieves a user by login, case-insensitively
func (s *sqlStore) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	return s.scanUser(s.queryRow(ctx, `SELECT id, password_hash, data FROM users WHERE login = ?`, strings.ToLower(login)))
}

// ListUsers returns all users ordered by ID
func (s *sqlStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.query(ctx, `SELECT id, password_hash, data FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser replaces a stored user
func (s *sqlStore) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE users SET login = ?, password_hash = ?, data = ? WHERE id = ?`,
		strings.ToLower(user.Login), user.PasswordHash, string(data), user.ID)
	if err != nil {
		return s.mapErr(err)
	}
	return requireAffected(res)
}

// Preferences

// GetPreference returns the user's preference or an empty one
func (s *sqlStore) GetPreference(ctx context.Context, userID int64) (*models.Preference, error) {
	var data string
	err := s.queryRow(ctx, `SELECT data FROM preferences WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Preference{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	var pref models.Preference
	if err := json.Unmarshal([]byte(data), &pref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preference: %w", err)
	}
	pref.UserID = userID
	return &pref, nil
}

// SavePreference stores the preference blob
func (s *sqlStore) SavePreference(ctx context.Context, pref *models.Preference) error {
	data, err := json.Marshal(pref)
	if err != nil {
		return fmt.Errorf("failed to marshal preference: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO preferences (user_id, data) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET data = excluded.data
	`, pref.UserID, string(data))
	return err
}

// Tokens

// CreateToken stores a new access token
func (s *sqlStore) CreateToken(ctx context.Context, token *models.Token) error {
	_, err := s.exec(ctx, `
		INSERT INTO tokens (id, user_id, kind, secret_hash, created_at) VALUES (?, ?, ?, ?, ?)
	`, token.ID, token.UserID, string(token.Kind), token.SecretHash, token.CreatedAt.UTC())
	return s.mapErr(err)
}

func (s *sqlStore) scanToken(row *sql.Row) (*models.Token, error) {
	var (
		t        models.Token
		kind     string
		lastUsed sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &kind, &t.SecretHash, &t.CreatedAt, &lastUsed); err != nil {
		return nil, s.mapErr(err)
	}
	t.Kind = models.TokenKind(kind)
	if lastUsed.Valid {
		at := lastUsed.Time
		t.LastUsedAt = &at
	}
	return &t, nil
}

// GetToken retrieves a token by ID
func (s *sqlStore) GetToken(ctx context.Context, id string) (*models.Token, error) {
	return s.scanToken(s.queryRow(ctx, `
		SELECT id, user_id, kind, secret_hash, created_at, last_used_at FROM tokens WHERE id = ?
	`, id))
}

// FindUserToken returns the user's token of the given kind
func (s *sqlStore) FindUserToken(ctx context.Context, userID int64, kind models.TokenKind) (*models.Token, error) {
	return s.scanToken(s.queryRow(ctx, `
		SELECT id, user_id, kind, secret_hash, created_at, last_used_at
		FROM tokens WHERE user_id = ? AND kind = ? ORDER BY created_at DESC LIMIT 1
	`, userID, string(kind)))
}

// DeleteToken removes a token
func (s *sqlStore) DeleteToken(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// TouchToken records the last use of a token
func (s *sqlStore) TouchToken(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE tokens SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Reference data

func (s *sqlStore) createRecord(ctx context.Context, kind string, id *int64, projectID int64, key string, v interface{}) error {
	// The id is assigned before marshalling so the document carries it.
	if err := s.insertWithID(ctx, "records", id,
		[]string{"kind", "project_id", "record_key", "data"},
		[]interface{}{kind, projectID, key, "{}"}); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	_, err = s.exec(ctx, `UPDATE records SET data = ? WHERE id = ?`, string(data), *id)
	return err
}

func (s *sqlStore) listRecords(ctx context.Context, kind string, projectID int64, fn func(data []byte) error) error {
	q := `SELECT data FROM records WHERE kind = ?`
	args := []interface{}{kind}
	if projectID != 0 {
		q += ` AND project_id = ?`
		args = append(args, projectID)
	}
	q += ` ORDER BY id`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return err
		}
		if err := fn([]byte(data)); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", kind, err)
		}
	}
	return rows.Err()
}

func (s *sqlStore) getRecord(ctx context.Context, where string, args []interface{}, v interface{}) error {
	var data string
	if err := s.queryRow(ctx, `SELECT data FROM records WHERE `+where, args...).Scan(&data); err != nil {
		return s.mapErr(err)
	}
	return json.Unmarshal([]byte(data), v)
}

// CreateProject stores a project
func (s *sqlStore) CreateProject(ctx context.Context, project *models.Project) error {
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	if _, err := s.GetProjectByIdentifier(ctx, project.Identifier); err == nil {
		return ErrDuplicate
	}
	return s.createRecord(ctx, kindProject, &project.ID, 0, project.Identifier, project)
}

// GetProject retrieves a project by ID
func (s *sqlStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	if err := s.getRecord(ctx, `kind = ? AND id = ?`, []interface{}{kindProject, id}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProjectByIdentifier retrieves a project by its identifier
func (s *sqlStore) GetProjectByIdentifier(ctx context.Context, identifier string) (*models.Project, error) {
	var p models.Project
	if err := s.getRecord(ctx, `kind = ? AND record_key = ?`, []interface{}{kindProject, identifier}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects
func (s *sqlStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	var out []*models.Project
	err := s.listRecords(ctx, kindProject, 0, func(data []byte) error {
		var p models.Project
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	})
	return out, err
}

// CreateType stores a type
func (s *sqlStore) CreateType(ctx context.Context, t *models.Type) error {
	return s.createRecord(ctx, kindType, &t.ID, 0, t.Name, t)
}

// ListTypes returns all types by position
func (s *sqlStore) ListTypes(ctx context.Context) ([]*models.Type, error) {
	var out []*models.Type
	err := s.listRecords(ctx, kindType, 0, func(data []byte) error {
		var t models.Type
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		out = append(out, &t)
		return nil
	})
	sortByPosition(out, func(t *models.Type) int { return t.Position })
	return out, err
}

// CreateStatus stores a status
func (s *sqlStore) CreateStatus(ctx context.Context, status *models.Status) error {
	return s.createRecord(ctx, kindStatus, &status.ID, 0, status.Name, status)
}

// ListStatuses returns all statuses by position
func (s *sqlStore) ListStatuses(ctx context.Context) ([]*models.Status, error) {
	var out []*models.Status
	err := s.listRecords(ctx, kindStatus, 0, func(data []byte) error {
		var st models.Status
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		out = append(out, &st)
		return nil
	})
	sortByPosition(out, func(st *models.Status) int { return st.Position })
	return out, err
}

// CreatePriority stores a priority
func (s *sqlStore) CreatePriority(ctx context.Context, priority *models.Priority) error {
	return s.createRecord(ctx, kindPriority, &priority.ID, 0, priority.Name, priority)
}

// ListPriorities returns all priorities by position
func (s *sqlStore) ListPriorities(ctx context.Context) ([]*models.Priority, error) {
	var out []*models.Priority
	err := s.listRecords(ctx, kindPriority, 0, func(data []byte) error {
		var p models.Priority
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	})
	sortByPosition(out, func(p *models.Priority) int { return p.Position })
	return out, err
}

// CreateVersion stores a version
func (s *sqlStore) CreateVersion(ctx context.Context, version *models.Version) error {
	return s.createRecord(ctx, kindVersion, &version.ID, version.ProjectID, version.Name, version)
}

// ListVersions returns the versions of a project
func (s *sqlStore) ListVersions(ctx context.Context, projectID int64) ([]*models.Version, error) {
	var out []*models.Version
	err := s.listRecords(ctx, kindVersion, projectID, func(data []byte) error {
		var v models.Version
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		out = append(out, &v)
		return nil
	})
	return out, err
}

// CreateCategory stores a category
func (s *sqlStore) CreateCategory(ctx context.Context, category *models.Category) error {
	return s.createRecord(ctx, kindCategory, &category.ID, category.ProjectID, category.Name, category)
}

// ListCategories returns the categories of a project
func (s *sqlStore) ListCategories(ctx context.Context, projectID int64) ([]*models.Category, error) {
	var out []*models.Category
	err := s.listRecords(ctx, kindCategory, projectID, func(data []byte) error {
		var c models.Category
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		out = append(out, &c)
		return nil
	})
	return out, err
}

// CreateCustomField stores a custom field
func (s *sqlStore) CreateCustomField(ctx context.Context, cf *models.CustomField) error {
	return s.createRecord(ctx, kindCustomField, &cf.ID, 0, cf.Name, cf)
}

// ListCustomFields returns all custom fields by position
func (s *sqlStore) ListCustomFields(ctx context.Context) ([]*models.CustomField, error) {
	var out []*models.CustomField
	err := s.listRecords(ctx, kindCustomField, 0, func(data []byte) error {
		var cf models.CustomField
		if err := json.Unmarshal(data, &cf); err != nil {
			return err
		}
		out = append(out, &cf)
		return nil
	})
	sortByPosition(out, func(cf *models.CustomField) int { return cf.Position })
	return out, err
}

// CreateRole stores a project role
func (s *sqlStore) CreateRole(ctx context.Context, role *models.ProjectRole) error {
	return s.createRecord(ctx, kindRole, &role.ID, 0, role.Name, role)
}

// ListRoles returns all project roles
func (s *sqlStore) ListRoles(ctx context.Context) ([]*models.ProjectRole, error) {
	var out []*models.ProjectRole
	err := s.listRecords(ctx, kindRole, 0, func(data []byte) error {
		var r models.ProjectRole
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		out = append(out, &r)
		return nil
	})
	return out, err
}

// AddMember stores a membership
func (s *sqlStore) AddMember(ctx context.Context, member *models.Member) error {
	key := fmt.Sprintf("%d", member.UserID)
	var existing models.Member
	err := s.getRecord(ctx, `kind = ? AND project_id = ? AND record_key = ?`,
		[]interface{}{kindMember, member.ProjectID, key}, &existing)
	if err == nil {
		return ErrDuplicate
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.createRecord(ctx, kindMember, &member.ID, member.ProjectID, key, member)
}

// ListMembers returns the memberships of a project
func (s *sqlStore) ListMembers(ctx context.Context, projectID int64) ([]*models.Member, error) {
	var out []*models.Member
	err := s.listRecords(ctx, kindMember, projectID, func(data []byte) error {
		var m models.Member
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		out = append(out, &m)
		return nil
	})
	return out, err
}

// CreateWorkflow stores a status transition rule
func (s *sqlStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	return s.createRecord(ctx, kindWorkflow, &wf.ID, 0, fmt.Sprintf("%d", wf.TypeID), wf)
}

// ListWorkflows returns the transitions defined for a type
func (s *sqlStore) ListWorkflows(ctx context.Context, typeID int64) ([]*models.Workflow, error) {
	rows, err := s.query(ctx, `SELECT data FROM records WHERE kind = ? AND record_key = ? ORDER BY id`,
		kindWorkflow, fmt.Sprintf("%d", typeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var wf models.Workflow
		if err := json.Unmarshal([]byte(data), &wf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// Work package operations

// The indexed columns are authoritative over the copies in data.
const workPackageColumns = `wp.id, wp.project_id, wp.status_id, wp.author_id, wp.assignee_id,
	wp.responsible_id, wp.parent_id, wp.lock_version, wp.data, wp.created_at, wp.updated_at,
	(SELECT COUNT(*) FROM work_packages c WHERE c.parent_id = wp.id)`

func nullableID(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// CreateWorkPackage stores a new work package
func (s *sqlStore) CreateWorkPackage(ctx context.Context, wp *models.WorkPackage) error {
	now := time.Now().UTC()
	wp.CreatedAt = now
	wp.UpdatedAt = now
	if wp.LockVersion == 0 {
		wp.LockVersion = 1
	}
	data, err := json.Marshal(wp)
	if err != nil {
		return fmt.Errorf("failed to marshal work package: %w", err)
	}
	err = s.insertWithID(ctx, "work_packages", &wp.ID,
		[]string{"project_id", "status_id", "author_id", "assignee_id", "responsible_id", "parent_id",
			"lock_version", "data", "created_at", "updated_at"},
		[]interface{}{wp.ProjectID, wp.StatusID, wp.AuthorID, nullableID(wp.AssigneeID),
			nullableID(wp.ResponsibleID), nullableID(wp.ParentID), wp.LockVersion, string(data), now, now})
	if err != nil {
		return err
	}
	wp.MarkPersisted()
	return nil
}

func (s *sqlStore) scanWorkPackage(row interface{ Scan(...interface{}) error }) (*models.WorkPackage, error) {
	var (
		id, children                  int64
		projectID, statusID, author   int64
		assignee, responsible, parent sql.NullInt64
		lockVersion                   int
		data                          string
		createdAt, updated            time.Time
	)
	if err := row.Scan(&id, &projectID, &statusID, &author, &assignee, &responsible, &parent,
		&lockVersion, &data, &createdAt, &updated, &children); err != nil {
		return nil, s.mapErr(err)
	}
	var wp models.WorkPackage
	if err := json.Unmarshal([]byte(data), &wp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal work package: %w", err)
	}
	wp.ID = id
	wp.ProjectID = projectID
	wp.StatusID = statusID
	wp.AuthorID = author
	wp.AssigneeID = fromNullID(assignee)
	wp.ResponsibleID = fromNullID(responsible)
	wp.ParentID = fromNullID(parent)
	wp.LockVersion = lockVersion
	wp.CreatedAt = createdAt
	wp.UpdatedAt = updated
	wp.ChildCount = int(children)
	wp.MarkPersisted()
	return &wp, nil
}

// GetWorkPackage retrieves a work package by ID
func (s *sqlStore) GetWorkPackage(ctx context.Context, id int64) (*models.WorkPackage, error) {
	return s.scanWorkPackage(s.queryRow(ctx, `SELECT `+workPackageColumns+` FROM work_packages wp WHERE wp.id = ?`, id))
}

// ListWorkPackages returns work packages matching the filter ordered by ID
func (s *sqlStore) ListWorkPackages(ctx context.Context, filter models.WorkPackageFilter) ([]*models.WorkPackage, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ProjectID != 0 {
		where = append(where, "wp.project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.AssigneeID != 0 {
		where = append(where, "wp.assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if filter.ResponsibleID != 0 {
		where = append(where, "wp.responsible_id = ?")
		args = append(args, filter.ResponsibleID)
	}
	if filter.AuthorID != 0 {
		where = append(where, "wp.author_id = ?")
		args = append(args, filter.AuthorID)
	}
	if len(filter.StatusIDs) > 0 {
		where = append(where, "wp.status_id IN ("+placeholders(len(filter.StatusIDs))+")")
		for _, id := range filter.StatusIDs {
			args = append(args, id)
		}
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return nil, nil
		}
		where = append(where, "wp.id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	q := `SELECT ` + workPackageColumns + ` FROM work_packages wp`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY wp.id`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkPackage
	for rows.Next() {
		wp, err := s.scanWorkPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wp)
	}
	return out, rows.Err()
}

// UpdateWorkPackage saves a work package under optimistic locking
func (s *sqlStore) UpdateWorkPackage(ctx context.Context, wp *models.WorkPackage) error {
	updatedAt := time.Now().UTC()
	next := *wp
	next.LockVersion = wp.LockVersion + 1
	next.UpdatedAt = updatedAt
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal work package: %w", err)
	}

	res, err := s.exec(ctx, `
		UPDATE work_packages
		SET project_id = ?, status_id = ?, author_id = ?, assignee_id = ?, responsible_id = ?,
		    parent_id = ?, lock_version = lock_version + 1, data = ?, updated_at = ?
		WHERE id = ? AND lock_version = ?
	`, wp.ProjectID, wp.StatusID, wp.AuthorID, nullableID(wp.AssigneeID), nullableID(wp.ResponsibleID),
		nullableID(wp.ParentID), string(data), updatedAt, wp.ID, wp.LockVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetWorkPackage(ctx, wp.ID); err != nil {
			return err
		}
		return ErrStaleObject
	}
	wp.LockVersion = next.LockVersion
	wp.UpdatedAt = updatedAt
	wp.MarkPersisted()
	return nil
}

// DeleteWorkPackage removes a work package together with its watchers.
// Children are detached from the deleted parent.
func (s *sqlStore) DeleteWorkPackage(ctx context.Context, id int64) error {
	return s.DeleteWorkPackages(ctx, []int64{id})
}

// DeleteWorkPackages removes the work packages in one transaction
func (s *sqlStore) DeleteWorkPackages(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		res, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM work_packages WHERE id = ?`), id)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return fmt.Errorf("work package %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM watchers WHERE work_package_id = ?`), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE work_packages SET parent_id = NULL WHERE parent_id = ?`), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Watchers

func (s *sqlStore) requireWorkPackage(ctx context.Context, id int64) error {
	var found int64
	return s.mapErr(s.queryRow(ctx, `SELECT id FROM work_packages WHERE id = ?`, id).Scan(&found))
}

// AddWatcher adds a user to the watchers of a work package
func (s *sqlStore) AddWatcher(ctx context.Context, workPackageID, userID int64) (bool, error) {
	if err := s.requireWorkPackage(ctx, workPackageID); err != nil {
		return false, err
	}
	res, err := s.exec(ctx, `
		INSERT INTO watchers (work_package_id, user_id) VALUES (?, ?)
		ON CONFLICT (work_package_id, user_id) DO NOTHING
	`, workPackageID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveWatcher removes a user from the watchers of a work package
func (s *sqlStore) RemoveWatcher(ctx context.Context, workPackageID, userID int64) (bool, error) {
	if err := s.requireWorkPackage(ctx, workPackageID); err != nil {
		return false, err
	}
	res, err := s.exec(ctx, `DELETE FROM watchers WHERE work_package_id = ? AND user_id = ?`, workPackageID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) queryIDs(ctx context.Context, q string, arg int64) ([]int64, error) {
	rows, err := s.query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListWatchers returns the ids of users watching a work package
func (s *sqlStore) ListWatchers(ctx context.Context, workPackageID int64) ([]int64, error) {
	if err := s.requireWorkPackage(ctx, workPackageID); err != nil {
		return nil, err
	}
	return s.queryIDs(ctx, `SELECT user_id FROM watchers WHERE work_package_id = ? ORDER BY user_id`, workPackageID)
}

// ListWatchedWorkPackageIDs returns the work packages a user watches
func (s *sqlStore) ListWatchedWorkPackageIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT work_package_id FROM watchers WHERE user_id = ? ORDER BY work_package_id`, userID)
}

// Lifecycle

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *sqlStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func sortByPosition[T any](items []*T, pos func(*T) int) {
	sort.SliceStable(items, func(i, j int) bool { return pos(items[i]) < pos(items[j]) })
}
