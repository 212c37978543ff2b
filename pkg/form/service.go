package form

import (
	"context"
	"errors"
	"fmt"

	"github.com/psantana5/tracker/pkg/logging"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/schema"
	"github.com/psantana5/tracker/pkg/store"
)

var (
	ErrNotAllowed         = errors.New("not allowed to change this work package")
	ErrValidation         = errors.New("work package is invalid")
	ErrMissingLockVersion = errors.New("lockVersion is required")
)

// Store is the persistence edits are read from and saved to
type Store interface {
	GetWorkPackage(ctx context.Context, id int64) (*models.WorkPackage, error)
	CreateWorkPackage(ctx context.Context, wp *models.WorkPackage) error
	UpdateWorkPackage(ctx context.Context, wp *models.WorkPackage) error
	DeleteWorkPackages(ctx context.Context, ids []int64) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ListTypes(ctx context.Context) ([]*models.Type, error)
	ListStatuses(ctx context.Context) ([]*models.Status, error)
	ListPriorities(ctx context.Context) ([]*models.Priority, error)
}

// Authorizer answers project permission questions
type Authorizer interface {
	AllowedTo(ctx context.Context, user *models.User, perm models.Permission, projectID int64) (bool, error)
}

// Notifier is told about saved work packages when the client asks for notifications
type Notifier interface {
	WorkPackageSaved(ctx context.Context, actor *models.User, wp *models.WorkPackage, created bool) error
}

// Recorder counts save outcomes
type Recorder interface {
	RecordWorkPackageSave(operation, result string)
}

// Result is an edited work package together with its schema and errors
type Result struct {
	WorkPackage *models.WorkPackage
	Schema      *schema.Schema
	Errors      Errors
}

// Service runs the edit workflow
type Service struct {
	store    Store
	schemas  *schema.Factory
	auth     Authorizer
	settings models.Settings
	logger   *logging.Logger
	notifier Notifier
	recorder Recorder
}

// NewService creates a form service
func NewService(store Store, schemas *schema.Factory, auth Authorizer, settings models.Settings, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{store: store, schemas: schemas, auth: auth, settings: settings, logger: logger}
}

// SetNotifier sets who is told about saves
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetRecorder sets where save outcomes are counted
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

// Form applies changes to a copy of wp and validates it without saving
func (s *Service) Form(ctx context.Context, user *models.User, wp *models.WorkPackage, changes *Changes) (*Result, error) {
	if err := s.require(ctx, user, models.PermEditWorkPackages, wp.ProjectID); err != nil {
		return nil, err
	}
	return s.edit(ctx, user, wp, changes)
}

func (s *Service) edit(ctx context.Context, user *models.User, wp *models.WorkPackage, changes *Changes) (*Result, error) {
	edited := wp.Clone()
	applyErrs := changes.Apply(edited)
	if err := s.deriveDoneRatio(ctx, edited); err != nil {
		return nil, err
	}
	sc, err := s.schemas.For(ctx, edited)
	if err != nil {
		return nil, err
	}
	errs, err := s.validate(ctx, sc, user, wp, edited, changes)
	if err != nil {
		return nil, err
	}
	errs.Merge(applyErrs)
	return &Result{WorkPackage: edited, Schema: sc, Errors: errs}, nil
}

// Update saves changes to wp under optimistic locking. Validation failures
// return the result together with ErrValidation.
func (s *Service) Update(ctx context.Context, user *models.User, wp *models.WorkPackage, changes *Changes, notify bool) (*Result, error) {
	if err := s.require(ctx, user, models.PermEditWorkPackages, wp.ProjectID); err != nil {
		return nil, err
	}
	if changes.LockVersion == nil {
		s.record("update", "invalid")
		return nil, ErrMissingLockVersion
	}
	if *changes.LockVersion != wp.LockVersion {
		s.record("update", "stale")
		return nil, store.ErrStaleObject
	}

	res, err := s.edit(ctx, user, wp, changes)
	if err != nil {
		return nil, err
	}
	if !res.Errors.Empty() {
		s.record("update", "invalid")
		return res, ErrValidation
	}

	if err := s.store.UpdateWorkPackage(ctx, res.WorkPackage); err != nil {
		if errors.Is(err, store.ErrStaleObject) {
			s.record("update", "stale")
		}
		return nil, err
	}
	s.record("update", "saved")
	s.logger.Info("Work package updated", map[string]interface{}{
		"work_package_id": res.WorkPackage.ID,
		"lock_version":    res.WorkPackage.LockVersion,
		"user_id":         user.ID,
	})
	s.notify(ctx, user, res.WorkPackage, false, notify)
	return res, nil
}

// CreateForm validates a new work package in the project without saving it
func (s *Service) CreateForm(ctx context.Context, user *models.User, projectID int64, changes *Changes) (*Result, error) {
	wp, err := s.newWorkPackage(ctx, user, projectID)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, user, wp, changes)
}

// Create validates and saves a new work package in the project. Status and
// priority default to the configured defaults.
func (s *Service) Create(ctx context.Context, user *models.User, projectID int64, changes *Changes, notify bool) (*Result, error) {
	wp, err := s.newWorkPackage(ctx, user, projectID)
	if err != nil {
		return nil, err
	}
	res, err := s.create(ctx, user, wp, changes)
	if err != nil {
		return nil, err
	}
	if !res.Errors.Empty() {
		s.record("create", "invalid")
		return res, ErrValidation
	}
	if err := s.store.CreateWorkPackage(ctx, res.WorkPackage); err != nil {
		return nil, err
	}
	s.record("create", "saved")
	s.logger.Info("Work package created", map[string]interface{}{
		"work_package_id": res.WorkPackage.ID,
		"project_id":      projectID,
		"user_id":         user.ID,
	})
	s.notify(ctx, user, res.WorkPackage, true, notify)
	return res, nil
}

func (s *Service) create(ctx context.Context, user *models.User, wp *models.WorkPackage, changes *Changes) (*Result, error) {
	edited := wp.Clone()
	applyErrs := changes.Apply(edited)
	edited.ProjectID = wp.ProjectID
	edited.AuthorID = wp.AuthorID
	if err := s.deriveDoneRatio(ctx, edited); err != nil {
		return nil, err
	}
	sc, err := s.schemas.For(ctx, edited)
	if err != nil {
		return nil, err
	}
	errs, err := s.validate(ctx, sc, user, nil, edited, changes)
	if err != nil {
		return nil, err
	}
	errs.Merge(applyErrs)
	return &Result{WorkPackage: edited, Schema: sc, Errors: errs}, nil
}

func (s *Service) newWorkPackage(ctx context.Context, user *models.User, projectID int64) (*models.WorkPackage, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, user, models.PermAddWorkPackages, project.ID); err != nil {
		return nil, err
	}

	wp := &models.WorkPackage{ProjectID: project.ID, AuthorID: user.ID}
	types, err := s.store.ListTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		if project.HasType(t.ID) {
			wp.TypeID = t.ID
			break
		}
	}
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if st.IsDefault {
			wp.StatusID = st.ID
			break
		}
	}
	priorities, err := s.store.ListPriorities(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range priorities {
		if p.IsDefault && p.Active {
			wp.PriorityID = p.ID
			break
		}
	}
	return wp, nil
}

// BulkDelete removes every listed work package, or none when one is missing
// or not deletable by user. It returns the number of deleted work packages.
func (s *Service) BulkDelete(ctx context.Context, user *models.User, ids []int64) (int, error) {
	var targets []*models.WorkPackage
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		wp, err := s.store.GetWorkPackage(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("work package %d: %w", id, err)
		}
		if err := s.require(ctx, user, models.PermDeleteWorkPackages, wp.ProjectID); err != nil {
			return 0, err
		}
		targets = append(targets, wp)
	}

	deleted := make([]int64, 0, len(targets))
	for _, wp := range targets {
		deleted = append(deleted, wp.ID)
	}
	if err := s.store.DeleteWorkPackages(ctx, deleted); err != nil {
		return 0, err
	}
	s.logger.Info("Work packages deleted", map[string]interface{}{
		"count":   len(deleted),
		"user_id": user.ID,
	})
	return len(deleted), nil
}

// deriveDoneRatio copies the status default when progress follows the status
func (s *Service) deriveDoneRatio(ctx context.Context, wp *models.WorkPackage) error {
	if s.settings.WorkPackageDoneRatio != models.DoneRatioStatus || wp.StatusID == 0 {
		return nil
	}
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if st.ID == wp.StatusID && st.DefaultDoneRatio != nil {
			wp.DoneRatio = *st.DefaultDoneRatio
		}
	}
	return nil
}

func (s *Service) require(ctx context.Context, user *models.User, perm models.Permission, projectID int64) error {
	ok, err := s.auth.AllowedTo(ctx, user, perm, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAllowed
	}
	return nil
}

func (s *Service) notify(ctx context.Context, actor *models.User, wp *models.WorkPackage, created, requested bool) {
	if !requested || s.notifier == nil {
		return
	}
	if err := s.notifier.WorkPackageSaved(ctx, actor, wp, created); err != nil {
		s.logger.Warn("Failed to notify about work package", map[string]interface{}{
			"work_package_id": wp.ID,
			"error":           err.Error(),
		})
	}
}

func (s *Service) record(operation, result string) {
	if s.recorder != nil {
		s.recorder.RecordWorkPackageSave(operation, result)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
