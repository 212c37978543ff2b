package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/psantana5/tracker/pkg/form"
	"github.com/psantana5/tracker/pkg/middleware"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/query"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/store"
)

// visibleWorkPackage loads the {id} work package. Work packages the user
// cannot see are reported as missing.
func (s *Server) visibleWorkPackage(r *http.Request) (*models.WorkPackage, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	wp, err := s.store.GetWorkPackage(r.Context(), id)
	if err != nil {
		return nil, err
	}
	ok, err := s.authz.AllowedTo(r.Context(), currentUser(r), models.PermViewWorkPackages, wp.ProjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return wp, nil
}

func (s *Server) renderWorkPackage(r *http.Request, wp *models.WorkPackage) (map[string]interface{}, error) {
	catalog, err := representer.LoadCatalog(r.Context(), s.store, wp.ProjectID)
	if err != nil {
		return nil, err
	}
	return representer.WorkPackage(wp, catalog), nil
}

// ListWorkPackages lists the work packages matching the query parameters
func (s *Server) ListWorkPackages(w http.ResponseWriter, r *http.Request) {
	s.listWorkPackages(w, r, nil)
}

// ListProjectWorkPackages lists the work packages of one project
func (s *Server) ListProjectWorkPackages(w http.ResponseWriter, r *http.Request) {
	s.listWorkPackages(w, r, middleware.GetProject(r))
}

func (s *Server) listWorkPackages(w http.ResponseWriter, r *http.Request, project *models.Project) {
	values := r.URL.Query()
	q, err := query.Parse(values, currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if project != nil {
		q.ProjectID = project.ID
	}
	paging, err := parsePaging(values)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.queries.Run(r.Context(), q, currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	coll := representer.NewOffsetPaginatedCollection(r.URL.Path, len(res.WorkPackages), representer.CollectionOptions{
		Query:     q.Params(),
		Paging:    paging,
		Settings:  s.settings,
		Groups:    res.Groups,
		TotalSums: res.TotalSums,
	})
	start, end := coll.Bounds()
	elements := make([]interface{}, 0, end-start)
	for _, wp := range res.WorkPackages[start:end] {
		elements = append(elements, representer.WorkPackage(wp, res.Catalog))
	}
	representer.WriteJSON(w, http.StatusOK, coll.Render(elements))
}

// parsePaging reads offset (a page number) and pageSize, also accepting
// the page and per_page aliases
func parsePaging(values map[string][]string) (representer.Paging, error) {
	var p representer.Paging
	get := func(names ...string) (int, error) {
		for _, n := range names {
			if v := values[n]; len(v) > 0 && v[0] != "" {
				i, err := strconv.Atoi(v[0])
				if err != nil || i < 0 {
					return 0, query.ErrInvalidQuery
				}
				return i, nil
			}
		}
		return 0, nil
	}
	var err error
	if p.Page, err = get("offset", "page"); err != nil {
		return p, err
	}
	if p.PerPage, err = get("pageSize", "per_page"); err != nil {
		return p, err
	}
	return p, nil
}

// GetWorkPackage shows a work package
func (s *Server) GetWorkPackage(w http.ResponseWriter, r *http.Request) {
	wp, err := s.visibleWorkPackage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := s.renderWorkPackage(r, wp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	representer.WriteJSON(w, http.StatusOK, body)
}

// UpdateWorkPackage saves changes under optimistic locking
func (s *Server) UpdateWorkPackage(w http.ResponseWriter, r *http.Request) {
	wp, err := s.visibleWorkPackage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	changes, err := s.parseChanges(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.forms.Update(r.Context(), currentUser(r), wp, changes, notifyRequested(r))
	if errors.Is(err, form.ErrValidation) {
		representer.WriteJSON(w, http.StatusUnprocessableEntity, res.Errors.Represent())
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.store.GetWorkPackage(r.Context(), res.WorkPackage.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := s.renderWorkPackage(r, saved)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	representer.WriteJSON(w, http.StatusOK, body)
}

// WorkPackageForm validates changes without saving them
func (s *Server) WorkPackageForm(w http.ResponseWriter, r *http.Request) {
	wp, err := s.visibleWorkPackage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	changes, err := s.parseChanges(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.forms.Form(r.Context(), currentUser(r), wp, changes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	self := representer.WorkPackagePath(wp.ID)
	s.writeForm(w, r, res, self+"/form", self, "patch")
}

// WorkPackageSchema shows the schema of a work package
func (s *Server) WorkPackageSchema(w http.ResponseWriter, r *http.Request) {
	wp, err := s.visibleWorkPackage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := s.schemas.For(r.Context(), wp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := sc.Represent(r.Context(), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	representer.WriteJSON(w, http.StatusOK, body)
}

// CreateWorkPackage creates a work package in the project
func (s *Server) CreateWorkPackage(w http.ResponseWriter, r *http.Request) {
	project := middleware.GetProject(r)
	changes, err := s.parseChanges(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.forms.Create(r.Context(), currentUser(r), project.ID, changes, notifyRequested(r))
	if errors.Is(err, form.ErrValidation) {
		representer.WriteJSON(w, http.StatusUnprocessableEntity, res.Errors.Represent())
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := s.renderWorkPackage(r, res.WorkPackage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", representer.WorkPackagePath(res.WorkPackage.ID))
	representer.WriteJSON(w, http.StatusCreated, body)
}

// CreateWorkPackageForm validates a new work package without saving it
func (s *Server) CreateWorkPackageForm(w http.ResponseWriter, r *http.Request) {
	project := middleware.GetProject(r)
	changes, err := s.parseChanges(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.forms.CreateForm(r.Context(), currentUser(r), project.ID, changes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collection := representer.ProjectPath(project.ID) + "/work_packages"
	s.writeForm(w, r, res, collection+"/form", collection, "post")
}

func (s *Server) writeForm(w http.ResponseWriter, r *http.Request, res *form.Result, self, commit, method string) {
	body, err := res.Represent(r.Context(), currentUser(r), self, commit, method)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	representer.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) parseChanges(r *http.Request) (*form.Changes, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return form.ParseChanges(body)
}

// BulkDeleteWorkPackages deletes every listed work package or none of them.
// Ids come from the JSON body or the comma separated ids parameter.
func (s *Server) BulkDeleteWorkPackages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				s.writeError(w, r, errInvalidBody)
				return
			}
			req.IDs = append(req.IDs, id)
		}
	}
	if len(req.IDs) == 0 {
		representer.WriteJSON(w, http.StatusUnprocessableEntity,
			representer.NewConstraintViolation("ids", "Ids can't be blank."))
		return
	}

	deleted, err := s.forms.BulkDelete(r.Context(), currentUser(r), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	representer.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// GroupableColumns lists the columns a query can be grouped by
func (s *Server) GroupableColumns(w http.ResponseWriter, r *http.Request) {
	fields, err := s.store.ListCustomFields(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	columns := query.GroupableColumns(fields)
	elements := make([]interface{}, 0, len(columns))
	for _, c := range columns {
		elements = append(elements, map[string]interface{}{
			"_type": "QueryColumn",
			"id":    c.ID,
			"name":  c.Name,
		})
	}
	coll := representer.NewOffsetPaginatedCollection(r.URL.Path, len(elements), representer.CollectionOptions{
		Paging:   representer.Paging{Page: 1, PerPage: len(elements)},
		Settings: s.settings,
	})
	representer.WriteJSON(w, http.StatusOK, coll.Render(elements))
}
