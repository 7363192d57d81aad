package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.io/infrasutra/mailroom/internal/auth"
	"github.io/infrasutra/mailroom/internal/pagination"
	"github.io/infrasutra/mailroom/internal/provider"
	"github.io/infrasutra/mailroom/internal/store"
	"github.io/infrasutra/mailroom/internal/thread"
)

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	identity, err := s.currentIdentity(r)
	if err != nil {
		s.redirectAnonymous(w, r)
		return
	}

	filter, query, err := filterFromQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	params := pagination.FromQuery(r.URL.Query())
	messages, total, err := s.store.ListMessages(r.Context(), filter, params.Sort, params.Offset, params.Limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	query.Sort = params.Sort

	page := inboxPage{
		Query:      query,
		Emails:     make([]emailRow, 0, len(messages)),
		Pagination: params.Describe(total),
	}
	for _, msg := range messages {
		page.Emails = append(page.Emails, emailRow{
			EmailID:        msg.EmailID,
			From:           msg.From,
			Subject:        msg.Subject,
			IsRead:         msg.IsRead,
			IsReplied:      msg.IsReplied,
			HasAttachments: msg.HasAttachments(),
			CreatedAt:      msg.CreatedAt,
		})
	}
	if page.Pagination.HasPrev {
		page.PrevURL = pageURL(r.URL, params.Page-1)
	}
	if page.Pagination.HasNext {
		page.NextURL = pageURL(r.URL, params.Page+1)
	}
	s.render(w, r, http.StatusOK, pageInbox, viewData{User: identity, Flash: r.URL.Query().Get("message"), Page: page})
}

// redirectAnonymous sends visitors to setup until the first account exists,
// and to the login form afterwards.
func (s *Server) redirectAnonymous(w http.ResponseWriter, r *http.Request) {
	hasAccount, err := s.gate.HasAnyAccount(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !hasAccount {
		http.Redirect(w, r, "/setup", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleSetupPage(w http.ResponseWriter, r *http.Request) {
	hasAccount, err := s.gate.HasAnyAccount(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if hasAccount {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, pageSetup, viewData{})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	hasAccount, err := s.gate.HasAnyAccount(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if hasAccount {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	password := r.FormValue("password")
	if password != r.FormValue("confirm_password") {
		s.render(w, r, http.StatusBadRequest, pageSetup, viewData{Flash: "Passwords do not match"})
		return
	}
	identity, err := s.gate.Provision(r.Context(), r.FormValue("username"), password, r.FormValue("email"), true)
	if err != nil {
		s.render(w, r, formStatus(err), pageSetup, viewData{Flash: err.Error()})
		return
	}
	if err := s.startSession(w, identity); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("setup: admin account created", "username", identity.Username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.currentIdentity(r); err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	hasAccount, err := s.gate.HasAnyAccount(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !hasAccount {
		http.Redirect(w, r, "/setup", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, pageLogin, viewData{Flash: r.URL.Query().Get("message")})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	identity, err := s.gate.Authenticate(r.Context(), r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInactiveAccount) {
			s.logger.Info("login: rejected", "username", r.FormValue("username"), "error", err)
			http.Redirect(w, r, "/login?message="+url.QueryEscape(err.Error()), http.StatusSeeOther)
			return
		}
		s.respondError(w, r, err)
		return
	}
	if err := s.startSession(w, identity); err != nil {
		s.respondError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearSession(w)
	http.Redirect(w, r, "/login?message="+url.QueryEscape("Logged out"), http.StatusSeeOther)
}

func (s *Server) handleSettingsPage(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	s.renderSettings(w, r, http.StatusOK, identity, r.URL.Query().Get("message"))
}

func (s *Server) renderSettings(w http.ResponseWriter, r *http.Request, status int, identity auth.Identity, flash string) {
	settings, err := s.settings(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.render(w, r, status, pageSettings, viewData{
		User:  identity,
		Flash: flash,
		Page:  settingsPage{Settings: settings, Users: users},
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	settings := store.Settings{
		ResendAPIKey:      strings.TrimSpace(r.FormValue("resend_api_key")),
		SendFrom:          strings.TrimSpace(r.FormValue("send_from")),
		R2AccountID:       strings.TrimSpace(r.FormValue("r2_account_id")),
		R2AccessKeyID:     strings.TrimSpace(r.FormValue("r2_access_key_id")),
		R2SecretAccessKey: strings.TrimSpace(r.FormValue("r2_secret_access_key")),
		R2Bucket:          strings.TrimSpace(r.FormValue("r2_bucket_name")),
		R2PublicURL:       strings.TrimSpace(r.FormValue("r2_public_url")),
	}
	if err := s.store.UpdateSettings(r.Context(), settings); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("settings: updated", "by", identity.Username)
	http.Redirect(w, r, "/settings?message="+url.QueryEscape("Settings saved"), http.StatusSeeOther)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	isAdmin, _ := strconv.ParseBool(r.FormValue("is_admin"))
	created, err := s.gate.Provision(r.Context(), r.FormValue("username"), r.FormValue("password"), r.FormValue("email"), isAdmin)
	if err != nil {
		s.renderSettings(w, r, formStatus(err), identity, err.Error())
		return
	}
	s.logger.Info("settings: user created", "username", created.Username, "admin", created.IsAdmin, "by", identity.Username)
	http.Redirect(w, r, "/settings?message="+url.QueryEscape("User "+created.Username+" created"), http.StatusSeeOther)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	username := r.PathValue("username")
	if username == identity.Username {
		s.respondJSON(w, http.StatusForbidden, errorResponse{Detail: "cannot delete your own account"})
		return
	}
	if err := s.store.DeleteUser(r.Context(), username); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("settings: user deleted", "username", username, "by", identity.Username)
	s.respondJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "User deleted"})
}

func (s *Server) handleEmailPage(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	emailID := r.PathValue("id")
	msg, err := s.store.GetMessage(r.Context(), emailID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !msg.IsRead {
		if err := s.store.MarkRead(r.Context(), emailID); err != nil {
			s.respondError(w, r, err)
			return
		}
		msg.IsRead = true
	}
	s.render(w, r, http.StatusOK, pageEmail, viewData{User: identity, Page: emailPage{Email: msg}})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	body := strings.TrimSpace(r.FormValue("reply_content"))
	if body == "" {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Detail: "reply content is required"})
		return
	}
	settings, err := s.settings(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	composer := thread.NewComposer(s.store, s.senderFor(settings), settings.SendFrom, s.logger)
	sent, err := composer.Reply(r.Context(), r.PathValue("id"), body, identity.Username)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sent)
}

func (s *Server) handleDeleteEmail(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	emailID := r.PathValue("id")
	if err := s.store.DeleteMessage(r.Context(), emailID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("email: deleted", "email_id", emailID, "by", identity.Username)
	s.respondJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Email deleted"})
}

func (s *Server) handleComposePage(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	q := r.URL.Query()
	page := composePage{To: q.Get("to"), Cc: q.Get("cc"), Subject: q.Get("subject")}
	s.render(w, r, http.StatusOK, pageCompose, viewData{User: identity, Page: page})
}

func (s *Server) handleComposeForm(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	page := composePage{
		To:      r.FormValue("to"),
		Cc:      r.FormValue("cc"),
		Subject: strings.TrimSpace(r.FormValue("subject")),
		Body:    r.FormValue("body"),
	}
	email := &provider.Email{
		To:      splitAddresses(page.To),
		Cc:      splitAddresses(page.Cc),
		Subject: page.Subject,
		Text:    page.Body,
		HTML:    thread.BodyHTML(page.Body),
	}
	if _, err := s.send(r, identity, email); err != nil {
		s.render(w, r, formStatus(err), pageCompose, viewData{User: identity, Flash: err.Error(), Page: page})
		return
	}
	http.Redirect(w, r, "/?message="+url.QueryEscape("Email sent"), http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data viewData) {
	if err := s.views.render(w, status, page, data); err != nil {
		s.respondError(w, r, err)
	}
}

// formStatus is statusFor for HTML form handlers, where a cancelled request
// still gets a status line.
func formStatus(err error) int {
	status := statusFor(err)
	if status == 499 {
		return http.StatusBadRequest
	}
	return status
}

func filterFromQuery(q url.Values) (store.MessageFilter, inboxQuery, error) {
	query := inboxQuery{
		Query:          strings.TrimSpace(firstValue(q, "q", "query")),
		From:           strings.TrimSpace(q.Get("from")),
		Subject:        strings.TrimSpace(q.Get("subject")),
		IsRead:         strings.TrimSpace(q.Get("is_read")),
		HasAttachments: strings.TrimSpace(q.Get("has_attachments")),
	}
	isRead, err := parseOptionalBool("is_read", query.IsRead)
	if err != nil {
		return store.MessageFilter{}, query, err
	}
	hasAttachments, err := parseOptionalBool("has_attachments", query.HasAttachments)
	if err != nil {
		return store.MessageFilter{}, query, err
	}
	filter := store.MessageFilter{
		Query:          query.Query,
		From:           query.From,
		Subject:        query.Subject,
		IsRead:         isRead,
		HasAttachments: hasAttachments,
	}
	return filter, query, nil
}

func firstValue(q url.Values, keys ...string) string {
	for _, key := range keys {
		if value := q.Get(key); value != "" {
			return value
		}
	}
	return ""
}

// parseOptionalBool returns nil for an empty value.
func parseOptionalBool(name, value string) (*bool, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be true or false, got %q", errInvalidInput, name, value)
	}
	return &parsed, nil
}

func pageURL(current *url.URL, page int32) string {
	q := current.Query()
	q.Set("page", strconv.Itoa(int(page)))
	q.Del("message")
	return "/?" + q.Encode()
}

func splitAddresses(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
