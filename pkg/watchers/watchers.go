// Package watchers manages the users watching a work package.
package watchers

import (
	"context"
	"errors"
	"sort"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/store"
)

var (
	ErrNotAllowed     = errors.New("not allowed to change watchers")
	ErrInvalidWatcher = errors.New("user cannot watch this work package")
)

// Store is the persistence watchers need
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	AddWatcher(ctx context.Context, workPackageID, userID int64) (bool, error)
	RemoveWatcher(ctx context.Context, workPackageID, userID int64) (bool, error)
	ListWatchers(ctx context.Context, workPackageID int64) ([]int64, error)
}

// Authorizer answers project permission questions
type Authorizer interface {
	AllowedTo(ctx context.Context, user *models.User, perm models.Permission, projectID int64) (bool, error)
	MembersAllowedTo(ctx context.Context, projectID int64, perm models.Permission) ([]int64, error)
}

// Watchers splits users into those watching and those who could
type Watchers struct {
	Watching  []*models.User
	Available []*models.User
}

// Service implements the watcher operations
type Service struct {
	store Store
	auth  Authorizer
}

// NewService creates a watcher service
func NewService(store Store, auth Authorizer) *Service {
	return &Service{store: store, auth: auth}
}

// ForWorkPackage returns the current watchers and the users that may be added
func (s *Service) ForWorkPackage(ctx context.Context, wp *models.WorkPackage) (*Watchers, error) {
	watching, err := s.Watching(ctx, wp)
	if err != nil {
		return nil, err
	}
	available, err := s.available(ctx, wp, watching)
	if err != nil {
		return nil, err
	}
	return &Watchers{Watching: watching, Available: available}, nil
}

// Watching returns the users watching wp ordered by name
func (s *Service) Watching(ctx context.Context, wp *models.WorkPackage) ([]*models.User, error) {
	ids, err := s.store.ListWatchers(ctx, wp.ID)
	if err != nil {
		return nil, err
	}
	return s.users(ctx, ids, false)
}

// Available returns the active members allowed to view wp that are not watching yet
func (s *Service) Available(ctx context.Context, wp *models.WorkPackage) ([]*models.User, error) {
	watching, err := s.Watching(ctx, wp)
	if err != nil {
		return nil, err
	}
	return s.available(ctx, wp, watching)
}

func (s *Service) available(ctx context.Context, wp *models.WorkPackage, watching []*models.User) ([]*models.User, error) {
	ids, err := s.auth.MembersAllowedTo(ctx, wp.ProjectID, models.PermViewWorkPackages)
	if err != nil {
		return nil, err
	}
	skip := make(map[int64]bool, len(watching))
	for _, u := range watching {
		skip[u.ID] = true
	}
	var candidates []int64
	for _, id := range ids {
		if !skip[id] {
			candidates = append(candidates, id)
		}
	}
	return s.users(ctx, candidates, true)
}

// CanView reports whether actor may list the watchers of wp
func (s *Service) CanView(ctx context.Context, actor *models.User, wp *models.WorkPackage) (bool, error) {
	return s.auth.AllowedTo(ctx, actor, models.PermViewWatchers, wp.ProjectID)
}

// Add makes userID watch wp. Users may always add themselves when they can
// see the work package. It reports false when the user already watched it.
func (s *Service) Add(ctx context.Context, actor *models.User, wp *models.WorkPackage, userID int64) (bool, error) {
	if err := s.authorize(ctx, actor, wp, userID, models.PermAddWatchers); err != nil {
		return false, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrInvalidWatcher
	}
	if err != nil {
		return false, err
	}
	canView, err := s.auth.AllowedTo(ctx, user, models.PermViewWorkPackages, wp.ProjectID)
	if err != nil {
		return false, err
	}
	if !canView {
		return false, ErrInvalidWatcher
	}
	return s.store.AddWatcher(ctx, wp.ID, userID)
}

// Remove stops userID watching wp. It reports false when the user was not watching.
func (s *Service) Remove(ctx context.Context, actor *models.User, wp *models.WorkPackage, userID int64) (bool, error) {
	if err := s.authorize(ctx, actor, wp, userID, models.PermDeleteWatchers); err != nil {
		return false, err
	}
	return s.store.RemoveWatcher(ctx, wp.ID, userID)
}

func (s *Service) authorize(ctx context.Context, actor *models.User, wp *models.WorkPackage, userID int64, perm models.Permission) error {
	if actor == nil {
		return ErrNotAllowed
	}
	if actor.ID == userID {
		ok, err := s.auth.AllowedTo(ctx, actor, models.PermViewWorkPackages, wp.ProjectID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	ok, err := s.auth.AllowedTo(ctx, actor, perm, wp.ProjectID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAllowed
	}
	return nil
}

// users loads the given ids, optionally dropping inactive accounts
func (s *Service) users(ctx context.Context, ids []int64, activeOnly bool) ([]*models.User, error) {
	out := []*models.User{}
	for _, id := range ids {
		u, err := s.store.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if activeOnly && !u.IsActive() {
			continue
		}
		out = append(out, u)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}
