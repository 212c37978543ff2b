package store

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/tracker/pkg/models"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrStaleObject         = errors.New("work package was modified concurrently")
	ErrDuplicate           = errors.New("record already exists")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for data persistence.
// Memory, SQLite and PostgreSQL implement it.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// Preferences are created lazily: GetPreference returns an empty
	// preference for users that never saved one.
	GetPreference(ctx context.Context, userID int64) (*models.Preference, error)
	SavePreference(ctx context.Context, pref *models.Preference) error

	// Access tokens
	CreateToken(ctx context.Context, token *models.Token) error
	GetToken(ctx context.Context, id string) (*models.Token, error)
	FindUserToken(ctx context.Context, userID int64, kind models.TokenKind) (*models.Token, error)
	DeleteToken(ctx context.Context, id string) error
	TouchToken(ctx context.Context, id string, at time.Time) error

	// Reference data
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByIdentifier(ctx context.Context, identifier string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	CreateType(ctx context.Context, t *models.Type) error
	ListTypes(ctx context.Context) ([]*models.Type, error)
	CreateStatus(ctx context.Context, status *models.Status) error
	ListStatuses(ctx context.Context) ([]*models.Status, error)
	CreatePriority(ctx context.Context, priority *models.Priority) error
	ListPriorities(ctx context.Context) ([]*models.Priority, error)
	CreateVersion(ctx context.Context, version *models.Version) error
	ListVersions(ctx context.Context, projectID int64) ([]*models.Version, error)
	CreateCategory(ctx context.Context, category *models.Category) error
	ListCategories(ctx context.Context, projectID int64) ([]*models.Category, error)
	CreateCustomField(ctx context.Context, cf *models.CustomField) error
	ListCustomFields(ctx context.Context) ([]*models.CustomField, error)
	CreateRole(ctx context.Context, role *models.ProjectRole) error
	ListRoles(ctx context.Context) ([]*models.ProjectRole, error)
	AddMember(ctx context.Context, member *models.Member) error
	ListMembers(ctx context.Context, projectID int64) ([]*models.Member, error)
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	ListWorkflows(ctx context.Context, typeID int64) ([]*models.Workflow, error)

	// Work package operations
	CreateWorkPackage(ctx context.Context, wp *models.WorkPackage) error
	GetWorkPackage(ctx context.Context, id int64) (*models.WorkPackage, error)
	ListWorkPackages(ctx context.Context, filter models.WorkPackageFilter) ([]*models.WorkPackage, error)
	// UpdateWorkPackage saves wp if its LockVersion still matches the stored
	// one and increments it; otherwise it returns ErrStaleObject.
	UpdateWorkPackage(ctx context.Context, wp *models.WorkPackage) error
	DeleteWorkPackage(ctx context.Context, id int64) error
	// DeleteWorkPackages removes every listed work package, or none of them
	// when one is missing.
	DeleteWorkPackages(ctx context.Context, ids []int64) error

	// Watchers. Add and Remove report whether anything changed.
	AddWatcher(ctx context.Context, workPackageID, userID int64) (bool, error)
	RemoveWatcher(ctx context.Context, workPackageID, userID int64) (bool, error)
	ListWatchers(ctx context.Context, workPackageID int64) ([]int64, error)
	ListWatchedWorkPackageIDs(ctx context.Context, userID int64) ([]int64, error)

	// Lifecycle
	Close() error
	HealthCheck(ctx context.Context) error
}

// Config holds database configuration
type Config struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory", "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn" yaml:"dsn"`   // Connection string or SQLite path

	// PostgreSQL specific
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "":
		path := config.DSN
		if path == "" {
			path = "tracker.db"
		}
		return NewSQLiteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}
