package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/psantana5/tracker/pkg/form"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/mypage"
	"github.com/psantana5/tracker/pkg/query"
	"github.com/psantana5/tracker/pkg/rbac"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/session"
	"github.com/psantana5/tracker/pkg/store"
	"github.com/psantana5/tracker/pkg/watchers"
)

var (
	errForbidden   = errors.New("forbidden")
	errInvalidBody = errors.New("invalid request body")
)

// maxBodySize bounds request bodies read by the handlers
const maxBodySize = 1 << 20

// writeError maps service errors onto HAL error responses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, mypage.ErrUnknownBlock):
		representer.WriteError(w, http.StatusNotFound, representer.ErrIDNotFound,
			"The requested resource could not be found.")
	case errors.Is(err, errForbidden), errors.Is(err, form.ErrNotAllowed),
		errors.Is(err, watchers.ErrNotAllowed), errors.Is(err, rbac.ErrPermissionDenied):
		representer.WriteError(w, http.StatusForbidden, representer.ErrIDMissingPermission,
			"You are not authorized to access this resource.")
	case errors.Is(err, store.ErrStaleObject):
		representer.WriteError(w, http.StatusConflict, representer.ErrIDUpdateConflict,
			"Your changes could not be saved, because the resource was changed in the meantime.")
	case errors.Is(err, form.ErrMissingLockVersion):
		representer.WriteJSON(w, http.StatusUnprocessableEntity,
			representer.NewConstraintViolation("lockVersion", "Lock version must be provided."))
	case errors.Is(err, watchers.ErrInvalidWatcher):
		representer.WriteJSON(w, http.StatusUnprocessableEntity,
			representer.NewConstraintViolation("user", "User is not allowed to watch this work package."))
	case errors.Is(err, query.ErrInvalidQuery):
		representer.WriteError(w, http.StatusBadRequest, representer.ErrIDInvalidQuery, err.Error())
	case errors.Is(err, errInvalidBody), errors.Is(err, form.ErrInvalidBody):
		representer.WriteError(w, http.StatusBadRequest, representer.ErrIDInvalidRequestBody, err.Error())
	default:
		s.logger.Error("Request failed", map[string]interface{}{
			"path":       r.URL.Path,
			"method":     r.Method,
			"error":      err.Error(),
			"request_id": session.RequestID(r.Context()),
		})
		representer.WriteError(w, http.StatusInternalServerError, representer.ErrIDInternal,
			"An internal error has occurred.")
	}
}

// currentUser returns the authenticated user. The auth middleware
// guarantees one on every route except login and health.
func currentUser(r *http.Request) *models.User {
	user, _ := session.CurrentUser(r.Context())
	return user
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, store.ErrNotFound
	}
	return id, nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return body, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// formParams reads parameters from a JSON object or a form encoded body.
// JSON arrays become repeated values.
func formParams(r *http.Request) (url.Values, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		return r.Form, nil
	}

	var raw map[string]interface{}
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	out := url.Values{}
	for k, v := range raw {
		switch val := v.(type) {
		case []interface{}:
			out[k] = []string{}
			for _, item := range val {
				out.Add(k, fmt.Sprint(item))
			}
		case nil:
		default:
			out.Set(k, fmt.Sprint(val))
		}
	}
	return out, nil
}

// notifyRequested reads the notify query parameter, which defaults to true
func notifyRequested(r *http.Request) bool {
	v := r.URL.Query().Get("notify")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}
