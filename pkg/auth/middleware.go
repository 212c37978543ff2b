package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/psantana5/tracker/pkg/logging"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/session"
)

var ErrMissingCredentials = errors.New("missing credentials")

// UserSource loads the account behind a credential
type UserSource interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Authenticator resolves the Authorization header into a user.
// Accepted forms: "Bearer <api key>", "Bearer <session jwt>" and
// "Basic base64(apikey:<api key>)".
type Authenticator struct {
	tokens         *TokenManager
	sessions       *SessionManager
	users          UserSource
	logger         *logging.Logger
	skipPaths      map[string]bool
	apiKeysEnabled bool
}

// NewAuthenticator creates the authentication middleware
func NewAuthenticator(tokens *TokenManager, sessions *SessionManager, users UserSource, logger *logging.Logger, skipPaths []string) *Authenticator {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &Authenticator{
		tokens:         tokens,
		sessions:       sessions,
		users:          users,
		logger:         logger,
		skipPaths:      skip,
		apiKeysEnabled: true,
	}
}

// SetAPIKeysEnabled toggles API key authentication
func (a *Authenticator) SetAPIKeysEnabled(enabled bool) {
	a.apiKeysEnabled = enabled
}

// Handler returns the middleware handler
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		user, method, err := a.Authenticate(r)
		if err != nil {
			a.logger.Warn("Authentication failed", map[string]interface{}{
				"path":       r.URL.Path,
				"method":     r.Method,
				"error":      err.Error(),
				"request_id": session.RequestID(r.Context()),
			})
			w.Header().Set("WWW-Authenticate", `Basic realm="tracker API"`)
			representer.WriteError(w, http.StatusUnauthorized, representer.ErrIDUnauthenticated,
				"You need to be authenticated to access this resource.")
			return
		}

		a.logger.Debug("Authentication successful", map[string]interface{}{
			"user_id":     user.ID,
			"auth_method": method,
		})
		next.ServeHTTP(w, r.WithContext(session.WithUser(r.Context(), user, method)))
	})
}

// Authenticate returns the active user identified by the request credentials
func (a *Authenticator) Authenticate(r *http.Request) (*models.User, string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, "", ErrMissingCredentials
	}

	scheme, value, ok := strings.Cut(header, " ")
	if !ok || value == "" {
		return nil, "", ErrInvalidToken
	}

	var (
		userID int64
		method string
	)
	switch strings.ToLower(scheme) {
	case "basic":
		key, err := apiKeyFromBasic(value)
		if err != nil {
			return nil, "", err
		}
		if userID, err = a.userFromAPIKey(r.Context(), key); err != nil {
			return nil, "", err
		}
		method = session.AuthMethodAPIKey
	case "bearer":
		var err error
		if strings.Count(value, ".") == 1 {
			userID, err = a.userFromAPIKey(r.Context(), value)
			method = session.AuthMethodAPIKey
		} else {
			userID, _, err = a.sessions.Parse(value)
			method = session.AuthMethodSession
		}
		if err != nil {
			return nil, "", err
		}
	default:
		return nil, "", ErrInvalidToken
	}

	user, err := a.users.GetUser(r.Context(), userID)
	if err != nil {
		return nil, "", ErrInvalidToken
	}
	if !user.IsActive() {
		return nil, "", ErrInvalidToken
	}
	return user, method, nil
}

func (a *Authenticator) userFromAPIKey(ctx context.Context, key string) (int64, error) {
	if !a.apiKeysEnabled {
		return 0, ErrInvalidToken
	}
	token, err := a.tokens.Validate(ctx, key)
	if err != nil {
		return 0, err
	}
	if token.Kind != models.TokenKindAPI {
		return 0, ErrInvalidToken
	}
	return token.UserID, nil
}

func apiKeyFromBasic(value string) (string, error) {
	r := &http.Request{Header: http.Header{"Authorization": {"Basic " + value}}}
	user, pass, ok := r.BasicAuth()
	if !ok || user != "apikey" || pass == "" {
		return "", ErrInvalidToken
	}
	return pass, nil
}
