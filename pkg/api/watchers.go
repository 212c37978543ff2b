package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
)

// watcherRequest names the user to add, by link or by id
type watcherRequest struct {
	User *struct {
		Href string `json:"href"`
	} `json:"user"`
	UserID int64 `json:"user_id"`
}

func (req watcherRequest) userID() (int64, error) {
	if req.User != nil && req.User.Href != "" {
		prefix := representer.APIPrefix + "/users/"
		if !strings.HasPrefix(req.User.Href, prefix) {
			return 0, errInvalidBody
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(req.User.Href, prefix), 10, 64)
		if err != nil {
			return 0, errInvalidBody
		}
		return id, nil
	}
	if req.UserID <= 0 {
		return 0, errInvalidBody
	}
	return req.UserID, nil
}

// ListWatchers lists the users watching a work package
func (s *Server) ListWatchers(w http.ResponseWriter, r *http.Request) {
	wp, err := s.visibleWorkPackage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.watchers.CanView(r.Context(), currentUser(r), wp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, errForbidden)
		return
	}
	users, err := s.watchers.Watching(r.Context(), wp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeUsers(w, r, users)
}

// AvailableWatchers lists the users that could be added as watchers
func (s *Server) AvailableWatchers(w http.ResponseWriter, r *http.Request) {
	wp, err := s.visibleWorkPackage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ok, err := s.authz.AllowedTo(r.Context(), currentUser(r), models.PermAddWatchers, wp.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, errForbidden)
		return
	}
	users, err := s.watchers.Available(r.Context(), wp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeUsers(w, r, users)
}

// AddWatcher adds a watcher. It answers 201 when the user was added and
// 200 when the user already watched the work package.
func (s *Server) AddWatcher(w http.ResponseWriter, r *http.Request) {
	wp, err := s.visibleWorkPackage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req watcherRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := req.userID()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	added, err := s.watchers.Add(r.Context(), currentUser(r), wp, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordWatcherChange("add", added)
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := s.renderUser(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	representer.WriteJSON(w, status, body)
}

// RemoveWatcher removes a watcher
func (s *Server) RemoveWatcher(w http.ResponseWriter, r *http.Request) {
	wp, err := s.visibleWorkPackage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := pathID(r, "user_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	removed, err := s.watchers.Remove(r.Context(), currentUser(r), wp, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordWatcherChange("remove", removed)
	}
	w.WriteHeader(http.StatusNoContent)
}

// renderUser hides the mail address of users who asked for it
func (s *Server) renderUser(ctx context.Context, u *models.User) (map[string]interface{}, error) {
	pref, err := s.store.GetPreference(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return representer.User(u, pref.HideMail), nil
}

func (s *Server) writeUsers(w http.ResponseWriter, r *http.Request, users []*models.User) {
	elements := make([]interface{}, 0, len(users))
	for _, u := range users {
		body, err := s.renderUser(r.Context(), u)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		elements = append(elements, body)
	}
	coll := representer.NewOffsetPaginatedCollection(r.URL.Path, len(elements), representer.CollectionOptions{
		Paging:   representer.Paging{Page: 1, PerPage: s.settings.APIMaxPageSize},
		Settings: s.settings,
	})
	representer.WriteJSON(w, http.StatusOK, coll.Render(elements))
}
