package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/tracker/pkg/api"
	"github.com/psantana5/tracker/pkg/auth"
	"github.com/psantana5/tracker/pkg/metrics"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/notify"
	"github.com/psantana5/tracker/pkg/ratelimit"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/seed"
	"github.com/psantana5/tracker/pkg/store"
)

type captureDeliverer struct {
	got []notify.Notification
}

func (d *captureDeliverer) Deliver(ctx context.Context, n notify.Notification) error {
	d.got = append(d.got, n)
	return nil
}

func (d *captureDeliverer) logins() []string {
	var out []string
	for _, n := range d.got {
		out = append(out, n.Recipient.Login)
	}
	sort.Strings(out)
	return out
}

type testServer struct {
	t        *testing.T
	store    *store.MemoryStore
	sessions *auth.SessionManager
	metrics  *metrics.Metrics
	deliver  *captureDeliverer
	router   *mux.Router
	settings models.Settings
}

func newTestServer(t *testing.T, mutate ...func(*api.Options)) *testServer {
	t.Helper()
	f, err := seed.LoadFile(filepath.Join("..", "..", "configs", "seed.yaml"))
	require.NoError(t, err)
	s := store.NewMemoryStore()
	_, err = seed.Apply(context.Background(), s, f)
	require.NoError(t, err)

	ts := &testServer{
		t:        t,
		store:    s,
		sessions: auth.NewSessionManager("test-secret", time.Hour),
		metrics:  metrics.New(),
		deliver:  &captureDeliverer{},
		settings: models.DefaultSettings(),
	}
	opts := api.Options{
		Store:     s,
		Settings:  ts.settings,
		Sessions:  ts.sessions,
		Metrics:   ts.metrics,
		Deliverer: ts.deliver,
	}
	for _, m := range mutate {
		m(&opts)
	}
	ts.router = api.NewServer(opts).Router()
	return ts
}

func (ts *testServer) user(login string) *models.User {
	u, err := ts.store.GetUserByLogin(context.Background(), login)
	require.NoError(ts.t, err)
	return u
}

func (ts *testServer) workPackage(subject string) *models.WorkPackage {
	wps, err := ts.store.ListWorkPackages(context.Background(), models.WorkPackageFilter{})
	require.NoError(ts.t, err)
	for _, wp := range wps {
		if wp.Subject == subject {
			return wp
		}
	}
	ts.t.Fatalf("work package %q not seeded", subject)
	return nil
}

// do sends a request as login; an empty login sends no credentials
func (ts *testServer) do(login, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if login != "" {
		token, _, err := ts.sessions.Issue(ts.user(login))
		require.NoError(ts.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func wpPath(wp *models.WorkPackage) string {
	return representer.WorkPackagePath(wp.ID)
}

func TestHealthAndAuthentication(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("", "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do("", "GET", "/api/v3/my/page", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, representer.MediaType, w.Header().Get("Content-Type"))
	assert.Equal(t, representer.ErrIDUnauthenticated, decode(t, w)["errorIdentifier"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = ts.do("alice", "GET", "/api/v3/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("", "POST", "/api/v3/login", map[string]string{"login": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do("", "POST", "/api/v3/login", map[string]string{"login": "alice", "password": "alice-password-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)
	assert.NotNil(t, ts.user("alice").LastLoginAt)

	req := httptest.NewRequest("GET", "/api/v3/my/page", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginDisabled(t *testing.T) {
	ts := newTestServer(t, func(o *api.Options) { o.Settings.DisablePasswordLogin = true })

	w := ts.do("", "POST", "/api/v3/login", map[string]string{"login": "alice", "password": "alice-password-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do("alice", "POST", "/api/v3/my/change_password", map[string]string{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPageLayout(t *testing.T) {
	ts := newTestServer(t)
	xhr := []string{"X-Requested-With", "XMLHttpRequest"}

	w := ts.do("alice", "GET", "/api/v3/my/page_layout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, map[string]interface{}{
		"left":  []interface{}{"issuesassignedtome"},
		"right": []interface{}{"issuesreportedbyme"},
	}, body["layout"])
	assert.Len(t, body["blockOptions"], 7)

	w = ts.do("alice", "POST", "/api/v3/my/add_block", map[string]string{"block": "issueswatched"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do("alice", "POST", "/api/v3/my/add_block", map[string]string{"block": "unknown"}, xhr...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["added"])

	w = ts.do("alice", "POST", "/api/v3/my/add_block", map[string]string{"block": "issueswatched"}, xhr...)
	require.Equal(t, http.StatusOK, w.Code)
	layout := decode(t, w)["layout"].(map[string]interface{})
	assert.Equal(t, []interface{}{"issueswatched"}, layout["top"])

	w = ts.do("alice", "POST", "/api/v3/my/order_blocks", map[string]interface{}{
		"group":     "left",
		"list-left": []string{"issueswatched", "issuesassignedtome"},
	}, xhr...)
	require.Equal(t, http.StatusOK, w.Code)
	layout = decode(t, w)["layout"].(map[string]interface{})
	assert.Equal(t, []interface{}{}, layout["top"])
	assert.Equal(t, []interface{}{"issueswatched", "issuesassignedtome"}, layout["left"])

	w = ts.do("alice", "POST", "/api/v3/my/order_blocks", map[string]interface{}{"group": "bottom"}, xhr...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["ordered"])

	w = ts.do("alice", "POST", "/api/v3/my/remove_block", "block=issueswatched", append(xhr, "Content-Type", "application/x-www-form-urlencoded")...)
	require.Equal(t, http.StatusOK, w.Code)
	layout = decode(t, w)["layout"].(map[string]interface{})
	assert.Equal(t, []interface{}{"issuesassignedtome"}, layout["left"])

	w = ts.do("alice", "GET", "/api/v3/my/page", nil)
	require.Equal(t, http.StatusOK, w.Code)
	blocks := decode(t, w)["blocks"].(map[string]interface{})
	assert.Len(t, blocks["left"], 1)
}

func TestBlockContents(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("bob", "GET", "/api/v3/my/blocks/issuesassignedtome", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total"])

	w = ts.do("carol", "GET", "/api/v3/my/blocks/issueswatched", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = ts.do("bob", "GET", "/api/v3/my/blocks/news", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["total"])

	w = ts.do("bob", "GET", "/api/v3/my/blocks/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateMailNotifications(t *testing.T) {
	ts := newTestServer(t)
	project, err := ts.store.GetProjectByIdentifier(context.Background(), "tracker")
	require.NoError(t, err)

	w := ts.do("alice", "PATCH", "/api/v3/my/mail_notifications", map[string]interface{}{
		"user":                 map[string]string{"mail_notification": "selected"},
		"no_self_notified":     "1",
		"notified_project_ids": []int64{project.ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	alice := ts.user("alice")
	assert.Equal(t, []int64{project.ID}, alice.NotifiedProjectIDs)
	pref, err := ts.store.GetPreference(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.True(t, pref.NoSelfNotified)

	w = ts.do("alice", "PATCH", "/api/v3/my/settings", map[string]interface{}{
		"user":                 map[string]string{"mail_notification": "all"},
		"pref":                 map[string]interface{}{"hide_mail": true, "time_zone": "Europe/Berlin"},
		"notified_project_ids": []int64{project.ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	alice = ts.user("alice")
	assert.Empty(t, alice.NotifiedProjectIDs)
	pref, err = ts.store.GetPreference(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.False(t, pref.NoSelfNotified)
	assert.True(t, pref.HideMail)

	w = ts.do("alice", "PATCH", "/api/v3/my/account", map[string]interface{}{
		"user": map[string]string{"mail": "not-an-address", "mail_notification": "sometimes"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, representer.ErrIDMultipleErrors, decode(t, w)["errorIdentifier"])
	assert.Equal(t, "alice@example.com", ts.user("alice").Mail)
}

func TestChangePassword(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/v3/my/change_password"

	w := ts.do("carol", "GET", "/api/v3/my/password", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do("carol", "POST", path, map[string]string{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do("alice", "POST", path, map[string]string{
		"password":                  "wrong",
		"new_password":              "another-password",
		"new_password_confirmation": "another-password",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["showUserName"])
	assert.Equal(t, "Wrong password.", body["message"])

	w = ts.do("alice", "POST", path, map[string]string{
		"password":                  "alice-password-1",
		"new_password":              "short",
		"new_password_confirmation": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do("alice", "POST", path, map[string]string{
		"password":                  "alice-password-1",
		"new_password":              "another-password",
		"new_password_confirmation": "different-password",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	alice := ts.user("alice")
	alice.ForcePasswordChange = true
	require.NoError(t, ts.store.UpdateUser(context.Background(), alice))

	w = ts.do("alice", "POST", path, map[string]string{
		"password":                  "alice-password-1",
		"new_password":              "another-password",
		"new_password_confirmation": "another-password",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	alice = ts.user("alice")
	assert.False(t, alice.ForcePasswordChange)
	assert.NoError(t, auth.CheckPassword(alice.PasswordHash, "another-password"))
}

func TestAccessKeys(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("bob", "GET", "/api/v3/my/access_token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["hasTokens"])
	assert.Nil(t, body["api"])

	w = ts.do("bob", "POST", "/api/v3/my/generate_api_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["created"])
	key, _ := body["key"].(string)
	require.NotEmpty(t, key)

	w = ts.do("bob", "POST", "/api/v3/my/generate_api_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["created"])
	assert.NotContains(t, body, "key")

	req := httptest.NewRequest("GET", "/api/v3/my/page", nil)
	req.SetBasicAuth("apikey", key)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w = ts.do("bob", "POST", "/api/v3/my/reset_api_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	newKey, _ := decode(t, w)["key"].(string)
	assert.NotEqual(t, key, newKey)

	req = httptest.NewRequest("GET", "/api/v3/my/page", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	w = ts.do("bob", "POST", "/api/v3/my/reset_rss_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do("bob", "GET", "/api/v3/my/access_token", nil)
	assert.NotNil(t, decode(t, w)["rss"])
}

func TestFirstLogin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("bob", "GET", "/api/v3/my/first_login?back_url=//evil.example.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/api/v3/my/page", decode(t, w)["backUrl"])

	w = ts.do("bob", "PUT", "/api/v3/my/first_login?back_url=/api/v3/work_packages", map[string]interface{}{
		"pref": map[string]interface{}{"theme": "dark", "comments_sorting": "desc"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/api/v3/work_packages", decode(t, w)["backUrl"])
	pref, err := ts.store.GetPreference(context.Background(), ts.user("bob").ID)
	require.NoError(t, err)
	assert.Equal(t, "dark", pref.Theme)
}

func TestListWorkPackages(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("alice", "GET", "/api/v3/work_packages?pageSize=2&offset=1&groupBy=type&showSums=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Collection", body["_type"])
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["count"])
	assert.Len(t, body["groups"], 2)
	assert.Equal(t, "PT20H", body["totalSums"].(map[string]interface{})["estimatedTime"])
	links := body["_links"].(map[string]interface{})
	assert.Contains(t, links, "nextByOffset")

	w = ts.do("alice", "GET", "/api/v3/work_packages?offset=9223372036854775807", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(0), body["count"])
	assert.NotContains(t, body, "groups")

	w = ts.do("admin", "GET", "/api/v3/projects/tracker/work_packages?status=closed&groupBy=type", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, []interface{}{}, body["groups"])

	w = ts.do("alice", "GET", "/api/v3/work_packages?status=sometimes", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do("alice", "GET", "/api/v3/projects/missing/work_packages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do("alice", "GET", "/api/v3/queries/groupable_columns", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(8), decode(t, w)["total"])
}

func TestUpdateWorkPackage(t *testing.T) {
	ts := newTestServer(t)
	wp := ts.workPackage("Ship the dashboard")

	w := ts.do("alice", "GET", wpPath(wp), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ship the dashboard", decode(t, w)["subject"])

	w = ts.do("alice", "PATCH", wpPath(wp), map[string]interface{}{"subject": "no lock"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, representer.ErrIDConstraintViolated, decode(t, w)["errorIdentifier"])

	w = ts.do("alice", "PATCH", wpPath(wp), map[string]interface{}{"lockVersion": 99, "subject": "stale"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do("alice", "PATCH", wpPath(wp), map[string]interface{}{"lockVersion": wp.LockVersion, "subject": ""})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do("carol", "PATCH", wpPath(wp), map[string]interface{}{"lockVersion": wp.LockVersion, "subject": "reader"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, ts.deliver.got)

	w = ts.do("alice", "PATCH", wpPath(wp), map[string]interface{}{"lockVersion": wp.LockVersion, "subject": "Dashboard shipped"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Dashboard shipped", body["subject"])
	assert.Equal(t, float64(wp.LockVersion+1), body["lockVersion"])
	assert.Equal(t, []string{"alice", "bob"}, ts.deliver.logins())

	w = ts.do("alice", "PATCH", wpPath(wp)+"?notify=false", map[string]interface{}{"lockVersion": wp.LockVersion + 1, "subject": "Quietly"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, ts.deliver.got, 2)
}

// violations lists the attributes of a constraint violation response
func violations(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var body struct {
		Embedded struct {
			Details struct {
				Attribute string `json:"attribute"`
			} `json:"details"`
			Errors []struct {
				Embedded struct {
					Details struct {
						Attribute string `json:"attribute"`
					} `json:"details"`
				} `json:"_embedded"`
			} `json:"errors"`
		} `json:"_embedded"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	if attr := body.Embedded.Details.Attribute; attr != "" {
		return []string{attr}
	}
	var out []string
	for _, e := range body.Embedded.Errors {
		out = append(out, e.Embedded.Details.Attribute)
	}
	return out
}

func TestMoveWorkPackage(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	wp := ts.workPackage("Ship the dashboard")
	tracker, err := ts.store.GetProjectByIdentifier(ctx, "tracker")
	require.NoError(t, err)
	other := &models.Project{Identifier: "other", Name: "Other", Active: true, TypeIDs: tracker.TypeIDs}
	require.NoError(t, ts.store.CreateProject(ctx, other))

	move := map[string]interface{}{
		"lockVersion": wp.LockVersion,
		"_links":      map[string]interface{}{"project": map[string]interface{}{"href": fmt.Sprintf("/api/v3/projects/%d", other.ID)}},
	}
	w := ts.do("alice", "PATCH", wpPath(wp), move)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Contains(t, violations(t, w), "project")
	stored, err := ts.store.GetWorkPackage(ctx, wp.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.ID, stored.ProjectID)

	roles, err := ts.store.ListRoles(ctx)
	require.NoError(t, err)
	for _, r := range roles {
		if r.Name == "Member" {
			require.NoError(t, ts.store.AddMember(ctx, &models.Member{ProjectID: other.ID, UserID: ts.user("alice").ID, RoleIDs: []int64{r.ID}}))
		}
	}
	w = ts.do("alice", "PATCH", wpPath(wp), move)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.ElementsMatch(t, []string{"version", "category", "assignee"}, violations(t, w),
		"values of the old project are checked against the new one")

	move["_links"] = map[string]interface{}{
		"project":  map[string]interface{}{"href": fmt.Sprintf("/api/v3/projects/%d", other.ID)},
		"version":  map[string]interface{}{"href": nil},
		"category": map[string]interface{}{"href": nil},
		"assignee": map[string]interface{}{"href": nil},
	}
	w = ts.do("alice", "PATCH", wpPath(wp)+"?notify=false", move)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored, err = ts.store.GetWorkPackage(ctx, wp.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, stored.ProjectID)
}

func TestWorkPackageForm(t *testing.T) {
	ts := newTestServer(t)
	wp := ts.workPackage("Ship the dashboard")

	w := ts.do("alice", "POST", wpPath(wp)+"/form", map[string]interface{}{"lockVersion": wp.LockVersion, "subject": ""})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Form", body["_type"])
	embedded := body["_embedded"].(map[string]interface{})
	assert.Contains(t, embedded["validationErrors"], "subject")
	assert.NotContains(t, body["_links"], "commit")

	w = ts.do("alice", "POST", wpPath(wp)+"/form", map[string]interface{}{"lockVersion": wp.LockVersion, "subject": "fine"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["_links"], "commit")

	w = ts.do("alice", "GET", wpPath(wp)+"/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Schema", decode(t, w)["_type"])
}

func TestCreateWorkPackage(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("alice", "POST", "/api/v3/projects/tracker/work_packages/form", map[string]interface{}{"subject": "Drafted"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w)["_links"], "commit")

	w = ts.do("carol", "POST", "/api/v3/projects/tracker/work_packages", map[string]interface{}{"subject": "Reader"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do("alice", "POST", "/api/v3/projects/tracker/work_packages", map[string]interface{}{"subject": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do("alice", "POST", "/api/v3/projects/tracker/work_packages", map[string]interface{}{"subject": "Created through the API"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Created through the API", body["subject"])
	assert.Equal(t, fmt.Sprintf("/api/v3/work_packages/%v", body["id"]), w.Header().Get("Location"))
}

func TestBulkDelete(t *testing.T) {
	ts := newTestServer(t)
	wp := ts.workPackage("Watcher list shows locked users")

	w := ts.do("carol", "DELETE", "/api/v3/work_packages/bulk", map[string]interface{}{"ids": []int64{wp.ID}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do("admin", "DELETE", "/api/v3/work_packages/bulk", map[string]interface{}{"ids": []int64{wp.ID, 9999}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do("admin", "DELETE", fmt.Sprintf("/api/v3/work_packages/bulk?ids=%d", wp.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["deleted"])

	w = ts.do("admin", "GET", wpPath(wp), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWatchers(t *testing.T) {
	ts := newTestServer(t)
	wp := ts.workPackage("Ship the dashboard")
	bob := ts.user("bob")
	carol := ts.user("carol")

	w := ts.do("alice", "GET", wpPath(wp)+"/watchers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["total"])

	w = ts.do("alice", "GET", wpPath(wp)+"/available_watchers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = ts.do("carol", "GET", wpPath(wp)+"/available_watchers", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	add := map[string]interface{}{"user": map[string]string{"href": representer.UserPath(bob.ID)}}
	w = ts.do("alice", "POST", wpPath(wp)+"/watchers", add)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "bob", decode(t, w)["login"])
	w = ts.do("alice", "POST", wpPath(wp)+"/watchers", add)
	assert.Equal(t, http.StatusOK, w.Code)

	other := ts.workPackage("Watcher list shows locked users")
	w = ts.do("carol", "POST", representer.WorkPackagePath(other.ID)+"/watchers", add)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do("carol", "POST", representer.WorkPackagePath(other.ID)+"/watchers", map[string]interface{}{"user_id": carol.ID})
	assert.Equal(t, http.StatusCreated, w.Code)

	admin := ts.user("admin")
	w = ts.do("alice", "POST", wpPath(wp)+"/watchers", map[string]interface{}{"user_id": admin.ID + 1000})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do("alice", "DELETE", fmt.Sprintf("%s/watchers/%d", wpPath(wp), carol.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	ids, err := ts.store.ListWatchers(context.Background(), wp.ID)
	require.NoError(t, err)
	assert.NotContains(t, ids, carol.ID)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do("bob", "POST", "/api/v3/my/generate_rss_key", nil)

	w := ts.do("", "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `tracker_tokens_operations_total{action="generate",kind="rss"} 1`)
	assert.Contains(t, w.Body.String(), `route="/api/v3/my/generate_rss_key"`)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(o *api.Options) { o.Limiter = ratelimit.NewLimiter(0.001, 1) })

	assert.Equal(t, http.StatusOK, ts.do("", "GET", "/health", nil).Code)
	w := ts.do("", "GET", "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, representer.ErrIDTooManyRequests, decode(t, w)["errorIdentifier"])
}
