package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/session"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
)

// HasPermission checks if the current user's system role grants a permission
func HasPermission(ctx context.Context, perm models.Permission) bool {
	role := session.GetUserRole(ctx)
	if role == "" {
		return false
	}
	return role.HasPermission(perm)
}

// RequirePermission middleware that checks for a specific permission
func RequirePermission(perm models.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasPermission(r.Context(), perm) {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole middleware that checks for a specific role
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session.GetUserRole(r.Context()) != role {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminOnly middleware that allows only admin users
func AdminOnly(next http.Handler) http.Handler {
	return RequireRole(models.RoleAdmin)(next)
}

// CheckPermission is a helper function to check permissions in handlers
func CheckPermission(ctx context.Context, perm models.Permission) error {
	if !HasPermission(ctx, perm) {
		return ErrPermissionDenied
	}
	return nil
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/hal+json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"_type":"Error","errorIdentifier":"urn:openproject-org:api:v3:errors:MissingPermission","message":"You are not authorized to access this resource."}`))
}
