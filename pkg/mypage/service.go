package mypage

import (
	"context"
	"errors"
	"sort"

	"github.com/psantana5/tracker/pkg/models"
)

// BlockLimit caps the number of work packages a dashboard block lists
const BlockLimit = 10

var ErrUnknownBlock = errors.New("unknown block")

// Store is the persistence the dashboard reads and writes
type Store interface {
	GetPreference(ctx context.Context, userID int64) (*models.Preference, error)
	SavePreference(ctx context.Context, pref *models.Preference) error
	ListWorkPackages(ctx context.Context, filter models.WorkPackageFilter) ([]*models.WorkPackage, error)
	ListWatchedWorkPackageIDs(ctx context.Context, userID int64) ([]int64, error)
	ListStatuses(ctx context.Context) ([]*models.Status, error)
}

// Visibility decides which projects a user may see work packages in
type Visibility interface {
	AllowedTo(ctx context.Context, user *models.User, perm models.Permission, projectID int64) (bool, error)
}

// Service applies layout changes to the stored preference and resolves block contents
type Service struct {
	store    Store
	registry *Registry
	visible  Visibility
}

// NewService creates a dashboard service
func NewService(store Store, registry *Registry, visible Visibility) *Service {
	return &Service{store: store, registry: registry, visible: visible}
}

// Registry returns the block registry
func (s *Service) Registry() *Registry {
	return s.registry
}

// Layout returns the current layout of the user
func (s *Service) Layout(ctx context.Context, userID int64) (models.PageLayout, error) {
	pref, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		return nil, err
	}
	return CurrentLayout(pref), nil
}

// AddBlock places a block on top of the page and returns its normalized id.
// Unknown blocks are reported with added=false and nothing is saved.
func (s *Service) AddBlock(ctx context.Context, userID int64, block string) (string, bool, error) {
	pref, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		return "", false, err
	}
	layout, id, added := s.registry.AddBlock(CurrentLayout(pref), block)
	if !added {
		return id, false, nil
	}
	return id, true, s.save(ctx, pref, layout)
}

// RemoveBlock removes a block from every group
func (s *Service) RemoveBlock(ctx context.Context, userID int64, block string) error {
	pref, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		return err
	}
	return s.save(ctx, pref, RemoveBlock(CurrentLayout(pref), block))
}

// OrderBlocks replaces the content of a group. It reports false for unknown groups.
func (s *Service) OrderBlocks(ctx context.Context, userID int64, group string, items []string) (bool, error) {
	pref, err := s.store.GetPreference(ctx, userID)
	if err != nil {
		return false, err
	}
	layout, ok := OrderBlocks(CurrentLayout(pref), group, items)
	if !ok {
		return false, nil
	}
	return true, s.save(ctx, pref, layout)
}

func (s *Service) save(ctx context.Context, pref *models.Preference, layout models.PageLayout) error {
	pref.MyPageLayout = layout
	return s.store.SavePreference(ctx, pref)
}

// BlockContents lists the work packages a block shows to the user, most
// recently updated first. Blocks without work package content return an
// empty list.
func (s *Service) BlockContents(ctx context.Context, user *models.User, block string) ([]*models.WorkPackage, error) {
	block = Normalize(block)
	if !s.registry.IsAvailable(block) {
		return nil, ErrUnknownBlock
	}

	var (
		filter   models.WorkPackageFilter
		openOnly bool
	)
	switch block {
	case BlockAssignedToMe:
		filter.AssigneeID = user.ID
		openOnly = true
	case BlockResponsibleFor:
		filter.ResponsibleID = user.ID
		openOnly = true
	case BlockReportedByMe:
		filter.AuthorID = user.ID
	case BlockWatched:
		ids, err := s.store.ListWatchedWorkPackageIDs(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		filter.IDs = ids
	default:
		return []*models.WorkPackage{}, nil
	}

	if openOnly {
		statuses, err := s.store.ListStatuses(ctx)
		if err != nil {
			return nil, err
		}
		filter.StatusIDs = []int64{}
		for _, st := range statuses {
			if !st.IsClosed {
				filter.StatusIDs = append(filter.StatusIDs, st.ID)
			}
		}
		if len(filter.StatusIDs) == 0 {
			return []*models.WorkPackage{}, nil
		}
	}

	wps, err := s.store.ListWorkPackages(ctx, filter)
	if err != nil {
		return nil, err
	}
	out, err := s.visibleOnly(ctx, user, wps)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > BlockLimit {
		out = out[:BlockLimit]
	}
	return out, nil
}

func (s *Service) visibleOnly(ctx context.Context, user *models.User, wps []*models.WorkPackage) ([]*models.WorkPackage, error) {
	allowed := make(map[int64]bool)
	out := make([]*models.WorkPackage, 0, len(wps))
	for _, wp := range wps {
		ok, seen := allowed[wp.ProjectID]
		if !seen {
			var err error
			ok, err = s.visible.AllowedTo(ctx, user, models.PermViewWorkPackages, wp.ProjectID)
			if err != nil {
				return nil, err
			}
			allowed[wp.ProjectID] = ok
		}
		if ok {
			out = append(out, wp)
		}
	}
	return out, nil
}
