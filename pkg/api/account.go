package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/tracker/pkg/auth"
	"github.com/psantana5/tracker/pkg/models"
	"github.com/psantana5/tracker/pkg/mypage"
	"github.com/psantana5/tracker/pkg/representer"
	"github.com/psantana5/tracker/pkg/store"
)

// Login exchanges a login and password for a session token
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	if s.settings.DisablePasswordLogin {
		s.writeError(w, r, store.ErrNotFound)
		return
	}
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.store.GetUserByLogin(r.Context(), req.Login)
	if err == nil && (!user.IsActive() || user.PasswordHash == "") {
		err = auth.ErrWrongPassword
	}
	if err == nil {
		err = auth.CheckPassword(user.PasswordHash, req.Password)
	}
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, auth.ErrWrongPassword) {
			s.writeError(w, r, err)
			return
		}
		s.logger.Warn("Login failed", map[string]interface{}{"login": req.Login})
		representer.WriteError(w, http.StatusUnauthorized, representer.ErrIDUnauthenticated,
			"Invalid login or password.")
		return
	}

	token, expires, err := s.sessions.Issue(user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("User logged in", map[string]interface{}{"user_id": user.ID})
	representer.WriteJSON(w, http.StatusOK, models.LoginResponse{Token: token, ExpiresAt: expires, User: *user})
}

// MyPage shows the dashboard layout with a contents link per block
func (s *Server) MyPage(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	layout, err := s.layouts.Layout(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	registry := s.layouts.Registry()
	blocks := make(map[string][]map[string]interface{}, len(mypage.Groups))
	for _, group := range mypage.Groups {
		blocks[group] = []map[string]interface{}{}
		for _, id := range layout[group] {
			if !registry.IsAvailable(id) {
				continue
			}
			blocks[group] = append(blocks[group], map[string]interface{}{
				"id":    id,
				"label": registry.Label(id),
				"_links": representer.Links{
					"contents": {Href: representer.APIPrefix + "/my/blocks/" + mypage.Dasherize(id)},
				},
			})
		}
	}
	representer.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"_type":  "MyPage",
		"user":   representer.User(user, false),
		"blocks": blocks,
		"_links": representer.Links{
			"self":       {Href: representer.APIPrefix + "/my/page"},
			"pageLayout": {Href: representer.APIPrefix + "/my/page_layout"},
		},
	})
}

// PageLayout shows the layout together with the blocks that can be added
func (s *Server) PageLayout(w http.ResponseWriter, r *http.Request) {
	layout, err := s.layouts.Layout(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	representer.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"_type":        "MyPageLayout",
		"layout":       layout,
		"blockOptions": s.layouts.Registry().Options(),
	})
}

// BlockContents lists the work packages shown in a block
func (s *Server) BlockContents(w http.ResponseWriter, r *http.Request) {
	wps, err := s.layouts.BlockContents(r.Context(), currentUser(r), mux.Vars(r)["block"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	projectIDs := make([]int64, 0, len(wps))
	for _, wp := range wps {
		projectIDs = append(projectIDs, wp.ProjectID)
	}
	catalog, err := representer.LoadCatalog(r.Context(), s.store, projectIDs...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	elements := make([]interface{}, 0, len(wps))
	for _, wp := range wps {
		elements = append(elements, representer.WorkPackage(wp, catalog))
	}
	coll := representer.NewOffsetPaginatedCollection(r.URL.Path, len(wps), representer.CollectionOptions{
		Paging:   representer.Paging{Page: 1, PerPage: mypage.BlockLimit},
		Settings: s.settings,
	})
	representer.WriteJSON(w, http.StatusOK, coll.Render(elements))
}

// AddBlock puts a block on top of the page
func (s *Server) AddBlock(w http.ResponseWriter, r *http.Request) {
	params, err := formParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user := currentUser(r)
	id, added, err := s.layouts.AddBlock(r.Context(), user.ID, params.Get("block"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if added {
		s.recordLayout("add")
	}
	s.writeLayout(w, r, map[string]interface{}{"block": id, "added": added})
}

// RemoveBlock takes a block off the page
func (s *Server) RemoveBlock(w http.ResponseWriter, r *http.Request) {
	params, err := formParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.layouts.RemoveBlock(r.Context(), currentUser(r).ID, params.Get("block")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordLayout("remove")
	s.writeLayout(w, r, map[string]interface{}{"block": mypage.Normalize(params.Get("block"))})
}

// OrderBlocks sets the blocks of one group from the list-<group> parameter
func (s *Server) OrderBlocks(w http.ResponseWriter, r *http.Request) {
	params, err := formParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	group := params.Get("group")
	items := params["list-"+group]
	if items == nil {
		items = params["list-"+group+"[]"]
	}
	ordered := false
	if group != "" {
		ordered, err = s.layouts.OrderBlocks(r.Context(), currentUser(r).ID, group, items)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if ordered {
		s.recordLayout("order")
	}
	s.writeLayout(w, r, map[string]interface{}{"group": group, "ordered": ordered})
}

func (s *Server) writeLayout(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
	layout, err := s.layouts.Layout(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body["layout"] = layout
	representer.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) recordLayout(action string) {
	if s.metrics != nil {
		s.metrics.RecordLayoutChange(action)
	}
}

// accountUpdate is the body of the account, settings and mail notification
// updates
type accountUpdate struct {
	User               models.UserAttributes       `json:"user"`
	Pref               models.PreferenceAttributes `json:"pref"`
	NoSelfNotified     string                      `json:"no_self_notified"`
	NotifiedProjectIDs []int64                     `json:"notified_project_ids"`
}

// ShowAccount shows the user together with the preferences
func (s *Server) ShowAccount(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	pref, err := s.store.GetPreference(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	representer.WriteJSON(w, http.StatusOK, s.accountView(user, pref))
}

// UpdateAccount writes user attributes, preferences and notification settings
func (s *Server) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	user := *currentUser(r)
	pref, err := s.store.GetPreference(ctx, user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req.User.Apply(&user)
	req.Pref.Apply(pref)
	pref.NoSelfNotified = req.NoSelfNotified == "1"

	violations, err := s.validateAccount(r, &user, pref, req.NotifiedProjectIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(violations) > 0 {
		representer.WriteJSON(w, http.StatusUnprocessableEntity, representer.NewMultipleErrors(violations))
		return
	}

	if user.MailNotification == models.MailNotificationSelected {
		user.NotifiedProjectIDs = req.NotifiedProjectIDs
	} else {
		user.NotifiedProjectIDs = nil
	}
	if err := s.store.UpdateUser(ctx, &user); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.SavePreference(ctx, pref); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Account updated", map[string]interface{}{"user_id": user.ID, "path": r.URL.Path})
	representer.WriteJSON(w, http.StatusOK, s.accountView(&user, pref))
}

func (s *Server) validateAccount(r *http.Request, user *models.User, pref *models.Preference, projectIDs []int64) ([]*representer.Error, error) {
	var out []*representer.Error
	if strings.TrimSpace(user.Firstname) == "" {
		out = append(out, representer.NewConstraintViolation("firstName", "First name can't be blank."))
	}
	if strings.TrimSpace(user.Lastname) == "" {
		out = append(out, representer.NewConstraintViolation("lastName", "Last name can't be blank."))
	}
	if _, err := mail.ParseAddress(user.Mail); err != nil {
		out = append(out, representer.NewConstraintViolation("email", "Email is invalid."))
	}
	validMode := false
	for _, m := range models.MailNotificationModes {
		if user.MailNotification == m {
			validMode = true
		}
	}
	if !validMode {
		out = append(out, representer.NewConstraintViolation("mailNotification", "Mail notification is not included in the list."))
	}
	if pref.CommentsSorting != "" && pref.CommentsSorting != "asc" && pref.CommentsSorting != "desc" {
		out = append(out, representer.NewConstraintViolation("commentsSorting", "Comments sorting is not included in the list."))
	}
	if pref.TimeZone != "" {
		if _, err := time.LoadLocation(pref.TimeZone); err != nil {
			out = append(out, representer.NewConstraintViolation("timeZone", "Time zone is not included in the list."))
		}
	}
	if user.MailNotification == models.MailNotificationSelected {
		for _, id := range projectIDs {
			if _, err := s.store.GetProject(r.Context(), id); errors.Is(err, store.ErrNotFound) {
				out = append(out, representer.NewConstraintViolation("notifiedProjectIds", "Notified projects contain an unknown project."))
				break
			} else if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (s *Server) accountView(user *models.User, pref *models.Preference) map[string]interface{} {
	projectIDs := user.NotifiedProjectIDs
	if projectIDs == nil {
		projectIDs = []int64{}
	}
	return map[string]interface{}{
		"_type":                   "MyAccount",
		"user":                    representer.User(user, false),
		"language":                user.Language,
		"mailNotification":        user.MailNotification,
		"mailNotificationOptions": models.MailNotificationModes,
		"notifiedProjectIds":      projectIDs,
		"preferences":             pref,
		"changePasswordAllowed":   user.ChangePasswordAllowed(),
	}
}

// Password shows the password form data, forbidden for externally managed accounts
func (s *Server) Password(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if !user.ChangePasswordAllowed() {
		s.writeError(w, r, errForbidden)
		return
	}
	representer.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"_type":               "MyPassword",
		"login":               user.Login,
		"forcePasswordChange": user.ForcePasswordChange,
		"passwordMinLength":   s.settings.PasswordMinLength,
	})
}

type changePasswordRequest struct {
	Password                string `json:"password"`
	NewPassword             string `json:"new_password"`
	NewPasswordConfirmation string `json:"new_password_confirmation"`
}

// passwordError is a constraint violation that hints the login during a
// forced password change
type passwordError struct {
	*representer.Error
	ShowUserName bool   `json:"showUserName"`
	Login        string `json:"login,omitempty"`
}

// ChangePassword replaces the password after checking the current one
func (s *Server) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if s.settings.DisablePasswordLogin {
		s.writeError(w, r, store.ErrNotFound)
		return
	}
	user := *currentUser(r)
	if !user.ChangePasswordAllowed() {
		s.writeError(w, r, errForbidden)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	fail := func(attr, msg string) {
		body := passwordError{
			Error:        representer.NewConstraintViolation(attr, msg),
			ShowUserName: user.ForcePasswordChange,
		}
		if body.ShowUserName {
			body.Login = user.Login
		}
		representer.WriteJSON(w, http.StatusUnprocessableEntity, body)
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		fail("password", "Wrong password.")
		return
	}
	switch err := auth.ValidateNewPassword(req.NewPassword, req.NewPasswordConfirmation, s.settings.PasswordMinLength); {
	case errors.Is(err, auth.ErrPasswordTooShort):
		fail("password", "Password is too short.")
		return
	case errors.Is(err, auth.ErrPasswordMismatch):
		fail("passwordConfirmation", "Password confirmation doesn't match Password.")
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user.PasswordHash = hash
	user.ForcePasswordChange = false
	if err := s.store.UpdateUser(r.Context(), &user); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Password changed", map[string]interface{}{"user_id": user.ID})
	representer.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"_type":   "MyPassword",
		"login":   user.Login,
		"message": "Password was successfully updated.",
	})
}

func tokenView(t *models.Token) interface{} {
	if t == nil {
		return nil
	}
	return map[string]interface{}{
		"id":         t.ID,
		"kind":       t.Kind,
		"createdAt":  t.CreatedAt.UTC().Format(time.RFC3339),
		"lastUsedAt": t.LastUsedAt,
	}
}

// AccessToken lists the user's access keys without their secrets
func (s *Server) AccessToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := currentUser(r)
	rss, err := s.tokens.Find(ctx, user.ID, models.TokenKindRSS)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api, err := s.tokens.Find(ctx, user.ID, models.TokenKindAPI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	representer.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"_type":          "MyAccessTokens",
		"hasTokens":      s.settings.FeedsEnabled || s.settings.RestAPIEnabled,
		"feedsEnabled":   s.settings.FeedsEnabled,
		"restApiEnabled": s.settings.RestAPIEnabled,
		"rss":            tokenView(rss),
		"api":            tokenView(api),
	})
}

// keyHandler resets or generates an access key. The plaintext key is only
// part of the response when a token was created.
func (s *Server) keyHandler(kind models.TokenKind, reset bool) http.HandlerFunc {
	action := "generate"
	if reset {
		action = "reset"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		var (
			key   string
			token *models.Token
			err   error
		)
		if reset {
			key, token, err = s.tokens.Reset(r.Context(), user.ID, kind)
		} else {
			key, token, err = s.tokens.Ensure(r.Context(), user.ID, kind)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordTokenOperation(string(kind), action)
		}
		s.logger.Info("Access key "+action, map[string]interface{}{
			"user_id": user.ID,
			"kind":    string(kind),
			"created": key != "",
		})

		body := map[string]interface{}{
			"_type":   "MyAccessToken",
			"created": key != "",
			"token":   tokenView(token),
		}
		if key != "" {
			body["key"] = key
		}
		representer.WriteJSON(w, http.StatusOK, body)
	}
}

// FirstLogin shows where to continue after the first login, or saves the
// preferences chosen on that page
func (s *Server) FirstLogin(w http.ResponseWriter, r *http.Request) {
	backURL := safeBackURL(r.URL.Query().Get("back_url"))
	if r.Method == http.MethodGet {
		representer.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"_type":   "MyFirstLogin",
			"user":    representer.User(currentUser(r), false),
			"backUrl": backURL,
		})
		return
	}

	var req struct {
		Pref    models.PreferenceAttributes `json:"pref"`
		BackURL string                      `json:"back_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user := currentUser(r)
	pref, err := s.store.GetPreference(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Pref.Apply(pref)
	if err := s.store.SavePreference(r.Context(), pref); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.BackURL != "" {
		backURL = safeBackURL(req.BackURL)
	}
	representer.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"_type":       "MyFirstLogin",
		"preferences": pref,
		"backUrl":     backURL,
	})
}

// safeBackURL keeps local paths only and defaults to the dashboard
func safeBackURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return representer.APIPrefix + "/my/page"
	}
	return raw
}
