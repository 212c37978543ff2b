package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/psantana5/tracker/pkg/models"
)

// Context keys for the authenticated user and request metadata
type contextKey string

const (
	userKey       contextKey = "user"
	authMethodKey contextKey = "auth_method"
	requestIDKey  contextKey = "request_id"
)

// RequestIDHeader carries the request id in and out of the server
const RequestIDHeader = "X-Request-ID"

// Authentication methods recorded on the context
const (
	AuthMethodAPIKey  = "api_key"
	AuthMethodSession = "session"
)

var ErrNoUserInContext = errors.New("no user in context")

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user *models.User, method string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	ctx = context.WithValue(ctx, authMethodKey, method)
	return ctx
}

// CurrentUser extracts the authenticated user from the context
func CurrentUser(ctx context.Context) (*models.User, error) {
	user, ok := ctx.Value(userKey).(*models.User)
	if !ok || user == nil {
		return nil, ErrNoUserInContext
	}
	return user, nil
}

// AuthMethod returns how the current request was authenticated
func AuthMethod(ctx context.Context) string {
	method, _ := ctx.Value(authMethodKey).(string)
	return method
}

// GetUserRole returns the system role of the current user, or "" when anonymous
func GetUserRole(ctx context.Context) models.Role {
	user, err := CurrentUser(ctx)
	if err != nil {
		return ""
	}
	return user.Role
}

// RequestID returns the id assigned to the current request
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestIDMiddleware propagates the caller's X-Request-ID or assigns a new one
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}
