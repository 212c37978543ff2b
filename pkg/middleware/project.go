package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/store"
)

type contextKey string

const ProjectContextKey contextKey = "project"

// ProjectSource looks projects up by id or identifier
type ProjectSource interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	GetProjectByIdentifier(ctx context.Context, identifier string) (*models.Project, error)
}

// ProjectMiddleware resolves the {id} route variable, a numeric id or an
// identifier, into an active project and injects it into the context
func ProjectMiddleware(s ProjectSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idOrIdentifier := mux.Vars(r)["id"]
			if idOrIdentifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			var (
				project *models.Project
				err     error
			)
			if id, convErr := strconv.ParseInt(idOrIdentifier, 10, 64); convErr == nil {
				project, err = s.GetProject(r.Context(), id)
			} else {
				project, err = s.GetProjectByIdentifier(r.Context(), idOrIdentifier)
			}
			if errors.Is(err, store.ErrNotFound) || (err == nil && !project.Active) {
				representer.WriteError(w, http.StatusNotFound, representer.ErrIDNotFound,
					"The requested resource could not be found.")
				return
			}
			if err != nil {
				representer.WriteError(w, http.StatusInternalServerError, representer.ErrIDInternal, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ProjectContextKey, project)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetProject extracts the project from the request context
func GetProject(r *http.Request) *models.Project {
	project, _ := r.Context().Value(ProjectContextKey).(*models.Project)
	return project
}

// RequireXHR rejects requests that were not sent by the page script
func RequireXHR(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			representer.WriteError(w, http.StatusBadRequest, representer.ErrIDInvalidRequestBody,
				"This action is only available to asynchronous requests.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
