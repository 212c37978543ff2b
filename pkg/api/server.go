package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/psantana5/tracker/pkg/auth"
	"github.com/psantana5/tracker/pkg/form"
	"github.com/psantana5/tracker/pkg/logging"
	"github.com/psantana5/tracker/pkg/metrics"
	"github.com/psantana5/tracker/pkg/middleware"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/mypage"
	"github.com/psantana5/tracker/pkg/notify"
	"github.com/psantana5/tracker/pkg/query"
	"github.com/psantana5/tracker/pkg/ratelimit"
	"github.com/psantana5/tracker/pkg/rbac"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/schema"
	"github.com/psantana5/tracker/pkg/session"
	"github.com/psantana5/tracker/pkg/store"
	"github.com/psantana5/tracker/pkg/tracing"
	"github.com/psantana5/tracker/pkg/watchers"
	"github.com/psantana5/tracker/pkg/workflow"
)

// LoginPath is served without credentials
const LoginPath = representer.APIPrefix + "/login"

// Options configures a Server. Store, Sessions and Settings are required.
type Options struct {
	Store     store.Store
	Settings  models.Settings
	Sessions  *auth.SessionManager
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Limiter   *ratelimit.Limiter
	Tracing   *tracing.Provider
	Blocks    *mypage.Registry
	Deliverer notify.Deliverer
}

// Server handles tracker API requests
type Server struct {
	store    store.Store
	settings models.Settings
	logger   *logging.Logger
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	tracing  *tracing.Provider

	authz    *rbac.Authorizer
	tokens   *auth.TokenManager
	sessions *auth.SessionManager
	authn    *auth.Authenticator
	layouts  *mypage.Service
	watchers *watchers.Service
	schemas  *schema.Factory
	forms    *form.Service
	queries  *query.Executor
	notifier *notify.Notifier
}

// NewServer wires the services behind the API
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	blocks := opts.Blocks
	if blocks == nil {
		blocks = mypage.NewRegistry()
	}

	s := &Server{
		store:    opts.Store,
		settings: opts.Settings,
		logger:   logger,
		metrics:  opts.Metrics,
		limiter:  opts.Limiter,
		tracing:  opts.Tracing,
		sessions: opts.Sessions,
	}
	s.authz = rbac.NewAuthorizer(opts.Store)
	s.tokens = auth.NewTokenManager(opts.Store)
	s.authn = auth.NewAuthenticator(s.tokens, s.sessions, opts.Store, logger, []string{"/health", "/metrics", LoginPath})
	s.authn.SetAPIKeysEnabled(opts.Settings.RestAPIEnabled)

	s.layouts = mypage.NewService(opts.Store, blocks, s.authz)
	s.watchers = watchers.NewService(opts.Store, s.authz)
	s.schemas = schema.NewFactory(opts.Store, workflow.New(opts.Store, s.authz), opts.Settings)
	s.forms = form.NewService(opts.Store, s.schemas, s.authz, opts.Settings, logger)
	s.queries = query.NewExecutor(opts.Store, s.authz)
	s.notifier = notify.New(opts.Store, s.authz, opts.Deliverer, logger)
	s.forms.SetNotifier(s.notifier)
	if s.metrics != nil {
		s.forms.SetRecorder(s.metrics)
		s.notifier.SetRecorder(s.metrics)
	}
	return s
}

// Router builds the HTTP handler. Middleware order: request id, tracing,
// metrics, rate limit, authentication.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		representer.WriteError(w, http.StatusNotFound, representer.ErrIDNotFound,
			"The requested resource could not be found.")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		representer.WriteError(w, http.StatusMethodNotAllowed, representer.ErrIDNotFound,
			"The requested method is not allowed on this resource.")
	})

	r.Use(session.RequestIDMiddleware)
	if s.tracing != nil {
		r.Use(tracing.HTTPMiddleware(s.tracing))
	}
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	if s.limiter != nil {
		r.Use(s.limiter.Middleware(ratelimit.ClientKeyFunc))
	}
	r.Use(s.authn.Handler)

	r.HandleFunc("/health", s.Health).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := r.PathPrefix(representer.APIPrefix).Subrouter()
	api.HandleFunc("/login", s.Login).Methods("POST")

	s.registerAccountRoutes(api.PathPrefix("/my").Subrouter())

	// Specific routes before parameterized ones
	api.HandleFunc("/work_packages", s.ListWorkPackages).Methods("GET")
	api.HandleFunc("/work_packages/bulk", s.BulkDeleteWorkPackages).Methods("DELETE")
	api.HandleFunc("/work_packages/{id:[0-9]+}", s.GetWorkPackage).Methods("GET")
	api.HandleFunc("/work_packages/{id:[0-9]+}", s.UpdateWorkPackage).Methods("PATCH")
	api.HandleFunc("/work_packages/{id:[0-9]+}/form", s.WorkPackageForm).Methods("POST")
	api.HandleFunc("/work_packages/{id:[0-9]+}/schema", s.WorkPackageSchema).Methods("GET")
	api.HandleFunc("/work_packages/{id:[0-9]+}/watchers", s.ListWatchers).Methods("GET")
	api.HandleFunc("/work_packages/{id:[0-9]+}/watchers", s.AddWatcher).Methods("POST")
	api.HandleFunc("/work_packages/{id:[0-9]+}/watchers/{user_id:[0-9]+}", s.RemoveWatcher).Methods("DELETE")
	api.HandleFunc("/work_packages/{id:[0-9]+}/available_watchers", s.AvailableWatchers).Methods("GET")
	api.HandleFunc("/queries/groupable_columns", s.GroupableColumns).Methods("GET")

	projects := api.PathPrefix("/projects/{id}").Subrouter()
	projects.Use(middleware.ProjectMiddleware(s.store))
	projects.HandleFunc("/work_packages", s.ListProjectWorkPackages).Methods("GET")
	projects.HandleFunc("/work_packages", s.CreateWorkPackage).Methods("POST")
	projects.HandleFunc("/work_packages/form", s.CreateWorkPackageForm).Methods("POST")

	return r
}

func (s *Server) registerAccountRoutes(my *mux.Router) {
	my.Use(rbac.RequirePermission(models.PermManageOwnAccount))

	my.HandleFunc("/page", s.MyPage).Methods("GET")
	my.HandleFunc("/page_layout", s.PageLayout).Methods("GET")
	my.HandleFunc("/blocks/{block}", s.BlockContents).Methods("GET")

	xhr := my.NewRoute().Subrouter()
	xhr.Use(middleware.RequireXHR)
	xhr.HandleFunc("/add_block", s.AddBlock).Methods("POST")
	xhr.HandleFunc("/remove_block", s.RemoveBlock).Methods("POST")
	xhr.HandleFunc("/order_blocks", s.OrderBlocks).Methods("POST")

	for _, path := range []string{"/account", "/settings", "/mail_notifications"} {
		my.HandleFunc(path, s.ShowAccount).Methods("GET")
		my.HandleFunc(path, s.UpdateAccount).Methods("PATCH")
	}
	my.HandleFunc("/password", s.Password).Methods("GET")
	my.HandleFunc("/change_password", s.ChangePassword).Methods("POST")
	my.HandleFunc("/access_token", s.AccessToken).Methods("GET")
	my.HandleFunc("/reset_rss_key", s.keyHandler(models.TokenKindRSS, true)).Methods("POST")
	my.HandleFunc("/generate_rss_key", s.keyHandler(models.TokenKindRSS, false)).Methods("POST")
	my.HandleFunc("/reset_api_key", s.keyHandler(models.TokenKindAPI, true)).Methods("POST")
	my.HandleFunc("/generate_api_key", s.keyHandler(models.TokenKindAPI, false)).Methods("POST")
	my.HandleFunc("/first_login", s.FirstLogin).Methods("GET", "POST", "PUT")
}

// Health reports whether the store is reachable
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		representer.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	representer.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
