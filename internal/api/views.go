package api

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.io/infrasutra/mailroom/internal/auth"
	"github.io/infrasutra/mailroom/internal/pagination"
	"github.io/infrasutra/mailroom/internal/store"
)

const (
	pageSetup    = "setup.html"
	pageLogin    = "login.html"
	pageInbox    = "inbox.html"
	pageEmail    = "email.html"
	pageCompose  = "compose.html"
	pageSettings = "settings.html"
)

var viewFuncs = template.FuncMap{
	"formatTime": formatTime,
	"join":       strings.Join,
}

// views holds one template set per page, each combined with the layout.
type views struct {
	pages map[string]*template.Template
}

type viewData struct {
	User  auth.Identity
	Flash string
	Page  any
}

type inboxQuery struct {
	Query          string
	From           string
	Subject        string
	IsRead         string
	HasAttachments string
	Sort           string
}

type inboxPage struct {
	Query      inboxQuery
	Emails     []emailRow
	Pagination pagination.Page
	PrevURL    string
	NextURL    string
}

type emailRow struct {
	EmailID        string
	From           string
	Subject        string
	IsRead         bool
	IsReplied      bool
	HasAttachments bool
	CreatedAt      time.Time
}

type emailPage struct {
	Email store.Message
}

type composePage struct {
	To      string
	Cc      string
	Subject string
	Body    string
}

type settingsPage struct {
	Settings store.Settings
	Users    []store.User
}

func parseViews(templates fs.FS) (*views, error) {
	v := &views{pages: make(map[string]*template.Template)}
	for _, page := range []string{pageSetup, pageLogin, pageInbox, pageEmail, pageCompose, pageSettings} {
		tmpl, err := template.New(page).Funcs(viewFuncs).ParseFS(templates, "layout.html", page)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", page, err)
		}
		v.pages[page] = tmpl
	}
	return v, nil
}

// render executes page into a buffer and writes it only when execution
// succeeds.
func (v *views) render(w http.ResponseWriter, status int, page string, data viewData) error {
	tmpl, ok := v.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", page, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
