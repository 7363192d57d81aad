package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.io/infrasutra/mailroom/internal/attachment"
	"github.io/infrasutra/mailroom/internal/auth"
	"github.io/infrasutra/mailroom/internal/config"
	"github.io/infrasutra/mailroom/internal/objectstore"
	"github.io/infrasutra/mailroom/internal/pagination"
	"github.io/infrasutra/mailroom/internal/provider"
	"github.io/infrasutra/mailroom/internal/sse"
	"github.io/infrasutra/mailroom/internal/store"
)

const webhookPayload = `{
  "type": "email.received",
  "created_at": "2026-03-01T10:00:00.000Z",
  "data": {
    "email_id": "e-100",
    "from": "Alice <alice@example.com>",
    "to": ["inbox@example.com"],
    "subject": "Hello",
    "created_at": "2026-03-01T09:59:58Z",
    "message_id": "<m-100@example.com>"
  }
}`

type fakeSender struct {
	sent []*provider.Email
	err  error
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(ctx context.Context, msg *provider.Email) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("sent-%d@mailroom.test", len(f.sent)), nil
}

type fakeUploader struct {
	filename string
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	f.filename = filename
	return "https://files.example.com/" + filename, nil
}

type testServer struct {
	*Server
	t *testing.T
}

func newTestServer(t *testing.T, cfg config.Config, opts ...Option) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	manager, err := auth.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(cfg, db, manager, sse.NewHub(), logger, opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testServer{Server: srv, t: t}
}

// provision creates an account and returns a session cookie for it.
func (ts *testServer) provision(username string, isAdmin bool) *http.Cookie {
	ts.t.Helper()
	identity, err := ts.gate.Provision(context.Background(), username, "pw-"+username, username+"@example.com", isAdmin)
	if err != nil {
		ts.t.Fatalf("Provision %s: %v", username, err)
	}
	token, err := ts.auth.Issue(identity, time.Now())
	if err != nil {
		ts.t.Fatalf("Issue: %v", err)
	}
	return &http.Cookie{Name: ts.auth.CookieName(), Value: token}
}

func (ts *testServer) do(method, target string, body io.Reader, cookie *http.Cookie, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) form(method, target string, values url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	return ts.do(method, target, strings.NewReader(values.Encode()), cookie, header)
}

func (ts *testServer) seed(msg store.Message) {
	ts.t.Helper()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := ts.store.UpsertMessage(context.Background(), msg); err != nil {
		ts.t.Fatalf("seed %s: %v", msg.EmailID, err)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "mailroom_session" {
			return c
		}
	}
	return nil
}

func TestSetupAndLoginFlow(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	rec := ts.do(http.MethodGet, "/", nil, nil, nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/setup" {
		t.Fatalf("GET / before setup: got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = ts.form(http.MethodPost, "/setup", url.Values{
		"username": {"admin"}, "email": {"admin@example.com"},
		"password": {"secret"}, "confirm_password": {"different"},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("mismatched passwords: got %d, want 400", rec.Code)
	}

	rec = ts.form(http.MethodPost, "/setup", url.Values{
		"username": {"admin"}, "email": {"admin@example.com"},
		"password": {"secret"}, "confirm_password": {"secret"},
	}, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("setup: got %d, want 303: %s", rec.Code, rec.Body.String())
	}
	cookie := sessionCookie(rec)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("setup: no session cookie issued")
	}

	rec = ts.do(http.MethodGet, "/", nil, cookie, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "No emails yet") {
		t.Errorf("inbox: got %d", rec.Code)
	}

	rec = ts.do(http.MethodGet, "/setup", nil, nil, nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Errorf("setup after provisioning: got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = ts.do(http.MethodGet, "/", nil, nil, nil)
	if rec.Header().Get("Location") != "/login" {
		t.Errorf("anonymous inbox: got %q, want /login", rec.Header().Get("Location"))
	}

	rec = ts.form(http.MethodPost, "/login", url.Values{"username": {"admin"}, "password": {"wrong"}}, nil)
	if rec.Code != http.StatusSeeOther || !strings.HasPrefix(rec.Header().Get("Location"), "/login?message=") {
		t.Errorf("bad login: got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if sessionCookie(rec) != nil {
		t.Error("bad login: session cookie issued")
	}

	rec = ts.form(http.MethodPost, "/login", url.Values{"username": {"admin"}, "password": {"secret"}}, nil)
	if rec.Code != http.StatusSeeOther || sessionCookie(rec) == nil {
		t.Errorf("login: got %d", rec.Code)
	}

	rec = ts.do(http.MethodGet, "/logout", nil, cookie, nil)
	if c := sessionCookie(rec); c == nil || c.MaxAge >= 0 {
		t.Errorf("logout: cookie not cleared: %+v", c)
	}
}

func TestAccessControl(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.provision("admin", true)
	user := ts.provision("bob", false)

	if rec := ts.do(http.MethodGet, "/api/emails", nil, nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous API: got %d, want 401", rec.Code)
	}
	forged := &http.Cookie{Name: user.Name, Value: user.Value + "x"}
	if rec := ts.do(http.MethodGet, "/api/emails", nil, forged, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("tampered cookie: got %d, want 401", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/settings", nil, user, nil); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin settings: got %d, want 403", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/sync", nil, user, nil); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin sync: got %d, want 403", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/api/emails", nil, user, nil); rec.Code != http.StatusOK {
		t.Errorf("user API: got %d, want 200", rec.Code)
	}
}

func TestUserManagement(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	admin := ts.provision("admin", true)
	ts.provision("bob", false)

	rec := ts.do(http.MethodDelete, "/settings/users/admin", nil, admin, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("self-deletion: got %d, want 403", rec.Code)
	}

	rec = ts.form(http.MethodPost, "/settings/users", url.Values{
		"username": {"carol"}, "email": {"BOB@example.com"}, "password": {"pw"},
	}, admin)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate email: got %d, want 409", rec.Code)
	}
	rec = ts.form(http.MethodPost, "/settings/users", url.Values{
		"username": {"carol"}, "email": {"carol@example.com"}, "password": {"pw"}, "is_admin": {"true"},
	}, admin)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("create user: got %d, want 303", rec.Code)
	}

	rec = ts.do(http.MethodDelete, "/settings/users/bob", nil, admin, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete bob: got %d, want 200", rec.Code)
	}
	rec = ts.do(http.MethodDelete, "/settings/users/bob", nil, admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete bob again: got %d, want 404", rec.Code)
	}

	users, err := ts.store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("users: got %d, want admin and carol", len(users))
	}
}

func TestSettingsUpdate(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	admin := ts.provision("admin", true)

	rec := ts.form(http.MethodPost, "/settings/api", url.Values{
		"resend_api_key": {"re_123"}, "send_from": {"team@example.com"}, "r2_bucket_name": {"mail"},
	}, admin)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("update settings: got %d", rec.Code)
	}
	settings, err := ts.store.GetSettings(context.Background())
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.ResendAPIKey != "re_123" || settings.SendFrom != "team@example.com" || settings.R2Bucket != "mail" {
		t.Errorf("settings: got %+v", settings)
	}

	rec = ts.do(http.MethodGet, "/settings", nil, admin, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "team@example.com") {
		t.Errorf("settings page: got %d", rec.Code)
	}
}

func TestWebhook_StoresOnceAndAnnounces(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	user := ts.provision("admin", true)
	events, cancel := ts.hub.Subscribe()
	defer cancel()

	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodPost, "/webhook/email", strings.NewReader(webhookPayload), nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: got %d: %s", i, rec.Code, rec.Body.String())
		}
		got := decode[map[string]string](t, rec)
		if got["status"] != "success" || got["email_id"] != "e-100" {
			t.Errorf("delivery %d: got %v", i, got)
		}
	}

	rec := ts.do(http.MethodGet, "/api/emails", nil, user, nil)
	list := decode[listResponse](t, rec)
	if list.Pagination.Total != 1 || len(list.Emails) != 1 {
		t.Fatalf("stored emails: got %+v", list)
	}

	select {
	case frame := <-events:
		if !strings.Contains(string(frame), `"email_id":"e-100"`) {
			t.Errorf("event: got %q", frame)
		}
	default:
		t.Error("no stream event broadcast")
	}
}

func TestWebhook_Rejections(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	rec := ts.do(http.MethodPost, "/webhook/email", strings.NewReader(`{"type":"email.received","data":{}}`), nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed: got %d, want 400", rec.Code)
	}
	rec = ts.do(http.MethodPost, "/webhook/email", strings.NewReader(`{"type":"email.sent","data":{}}`), nil, nil)
	if rec.Code != http.StatusOK || decode[map[string]string](t, rec)["status"] != "ignored" {
		t.Errorf("other event: got %d %s", rec.Code, rec.Body.String())
	}

	signed := newTestServer(t, config.Config{WebhookSecret: "whsec_c2VjcmV0"})
	rec = signed.do(http.MethodPost, "/webhook/email", strings.NewReader(webhookPayload), nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned delivery: got %d, want 401", rec.Code)
	}
}

func TestReply(t *testing.T) {
	sender := &fakeSender{}
	ts := newTestServer(t, config.Config{}, WithSender(sender))
	user := ts.provision("alice", false)
	ts.seed(store.Message{
		EmailID:   "e1",
		From:      "Bob <bob@example.com>",
		Subject:   "Plans",
		MessageID: "<orig@example.com>",
	})

	rec := ts.form(http.MethodPost, "/email/e1/reply", url.Values{"reply_content": {"Sounds good"}}, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("reply: got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent: got %d, want 1", len(sender.sent))
	}
	email := sender.sent[0]
	if email.To[0] != "bob@example.com" || email.Subject != "Re: Plans" {
		t.Errorf("email: got to %v subject %q", email.To, email.Subject)
	}
	if email.Headers["In-Reply-To"] != "<orig@example.com>" || email.Headers["References"] != "<orig@example.com>" {
		t.Errorf("headers: got %v", email.Headers)
	}

	detail := decode[messageDetail](t, ts.do(http.MethodGet, "/api/emails/e1", nil, user, nil))
	if !detail.IsReplied || len(detail.ReplyHistory) != 1 || detail.ReplyHistory[0].RepliedBy != "alice" {
		t.Errorf("thread state: got replied=%v history=%+v", detail.IsReplied, detail.ReplyHistory)
	}

	rec = ts.form(http.MethodPost, "/email/e1/reply", url.Values{"reply_content": {" "}}, user)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty reply: got %d, want 400", rec.Code)
	}
}

func TestReply_NotThreadable(t *testing.T) {
	sender := &fakeSender{}
	ts := newTestServer(t, config.Config{}, WithSender(sender))
	user := ts.provision("alice", false)
	ts.seed(store.Message{EmailID: "e1", From: "bob@example.com", Subject: "No id"})

	rec := ts.form(http.MethodPost, "/email/e1/reply", url.Values{"reply_content": {"hi"}}, user)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("reply: got %d, want 422", rec.Code)
	}
	if len(sender.sent) != 0 {
		t.Error("reply sent for a message without message id")
	}
	if rec := ts.form(http.MethodPost, "/email/missing/reply", url.Values{"reply_content": {"hi"}}, user); rec.Code != http.StatusNotFound {
		t.Errorf("unknown email: got %d, want 404", rec.Code)
	}
}

func TestSend_WithoutAPIKey(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	ts := newTestServer(t, config.Config{Resend: config.ResendConfig{BaseURL: upstream.URL}})
	user := ts.provision("alice", false)

	body := `{"to":["bob@example.com"],"subject":"Hi","text":"hello"}`
	rec := ts.do(http.MethodPost, "/api/send", strings.NewReader(body), user, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("send: got %d, want 503", rec.Code)
	}
	if hits.Load() != 0 {
		t.Errorf("provider called %d times without an API key", hits.Load())
	}

	rec = ts.do(http.MethodPost, "/api/send", strings.NewReader(`{"to":[],"text":"hello"}`), user, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no recipients: got %d, want 400", rec.Code)
	}
}

func TestSend_ThroughSender(t *testing.T) {
	sender := &fakeSender{}
	ts := newTestServer(t, config.Config{}, WithSender(sender))
	user := ts.provision("alice", false)
	if err := ts.store.UpdateSettings(context.Background(), store.Settings{SendFrom: "team@example.com"}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	body := `{"to":["bob@example.com, carol@example.com","BOB@example.com"],"subject":"Hi","html":"<p>hello</p>"}`
	rec := ts.do(http.MethodPost, "/api/send", strings.NewReader(body), user, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("send: got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[sendResponse](t, rec); got.Provider != "fake" || got.ID == "" {
		t.Errorf("response: got %+v", got)
	}
	email := sender.sent[0]
	if email.From != "team@example.com" || len(email.To) != 2 {
		t.Errorf("email: got from %q to %v", email.From, email.To)
	}

	rec = ts.form(http.MethodPost, "/compose", url.Values{"to": {"dave@example.com"}, "subject": {"Note"}, "body": {"a\nb"}}, user)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("compose: got %d", rec.Code)
	}
	if got := sender.sent[1].HTML; got != "<p>a<br>b</p>" {
		t.Errorf("compose HTML: got %q", got)
	}
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	user := ts.provision("alice", false)
	withFile := store.Attachments{{ID: "a1", Filename: "f.txt", ContentType: "text/plain"}}
	ts.seed(store.Message{EmailID: "e1", From: "bob@example.com", Subject: "Invoice", Attachments: withFile})
	ts.seed(store.Message{EmailID: "e2", From: "bob@example.com", Subject: "Invoice copy", Attachments: withFile})
	ts.seed(store.Message{EmailID: "e3", From: "carol@example.com", Subject: "Lunch"})
	if err := ts.store.MarkRead(context.Background(), "e2"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	list := decode[listResponse](t, ts.do(http.MethodGet, "/api/search?is_read=false&has_attachments=true", nil, user, nil))
	if len(list.Emails) != 1 || list.Emails[0].EmailID != "e1" {
		t.Errorf("unread with attachments: got %+v", list.Emails)
	}

	list = decode[listResponse](t, ts.do(http.MethodGet, "/api/emails?q=INVOICE&limit=1", nil, user, nil))
	if list.Pagination.Total != 2 || len(list.Emails) != 1 || !list.Pagination.HasNext {
		t.Errorf("query page: got %+v", list)
	}

	rec := ts.do(http.MethodGet, "/?from=carol", nil, user, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Lunch") || strings.Contains(rec.Body.String(), "Invoice") {
		t.Errorf("inbox filter: got %d", rec.Code)
	}
}

func TestSearch_RejectsInvalidBooleans(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	user := ts.provision("alice", false)
	ts.seed(store.Message{EmailID: "e1", From: "bob@example.com", Subject: "Invoice"})

	for _, path := range []string{
		"/api/emails?is_read=maybe",
		"/api/search?has_attachments=yes",
		"/?is_read=nope",
	} {
		rec := ts.do(http.MethodGet, path, nil, user, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want %d", path, rec.Code, http.StatusBadRequest)
		}
	}

	rec := ts.do(http.MethodGet, "/api/emails?is_read=0", nil, user, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("is_read=0: got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestListEmails_DefaultLimit(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	user := ts.provision("alice", false)
	for i := range defaultAPILimit + 5 {
		ts.seed(store.Message{EmailID: fmt.Sprintf("e%03d", i), From: "bob@example.com", Subject: "Bulk"})
	}

	list := decode[listResponse](t, ts.do(http.MethodGet, "/api/emails", nil, user, nil))
	if list.Pagination.Limit != defaultAPILimit || len(list.Emails) != defaultAPILimit || !list.Pagination.HasNext {
		t.Errorf("default page: got limit %d, %d emails, has_next %v", list.Pagination.Limit, len(list.Emails), list.Pagination.HasNext)
	}

	rec := ts.do(http.MethodGet, "/", nil, user, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("inbox: got %d", rec.Code)
	}
	if got := strings.Count(rec.Body.String(), `href="/email/`); got != int(pagination.DefaultLimit) {
		t.Errorf("inbox rows: got %d, want %d", got, pagination.DefaultLimit)
	}
}

func TestEmailPageAndDelete(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	user := ts.provision("alice", false)
	ts.seed(store.Message{EmailID: "e1", From: "bob@example.com", Subject: "Hi", Text: "see you at noon"})

	rec := ts.do(http.MethodGet, "/email/e1", nil, user, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "see you at noon") {
		t.Fatalf("email page: got %d", rec.Code)
	}
	msg, err := ts.store.GetMessage(context.Background(), "e1")
	if err != nil || !msg.IsRead {
		t.Errorf("email page did not mark read: %v %+v", err, msg.IsRead)
	}

	if rec := ts.do(http.MethodDelete, "/email/e1", nil, user, nil); rec.Code != http.StatusOK {
		t.Errorf("delete: got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/email/e1", nil, user, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted email page: got %d, want 404", rec.Code)
	}
}

func attachmentProvider() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /emails/receiving/e1/attachments/a1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"a1","filename":"report.pdf","content_type":"application/pdf","download_url":"http://` + r.Host + `/download/a1"}`))
	})
	mux.HandleFunc("GET /download/a1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.7"))
	})
	return httptest.NewServer(mux)
}

func newAttachmentServer(t *testing.T, opts ...Option) (*testServer, *http.Cookie) {
	t.Helper()
	upstream := attachmentProvider()
	t.Cleanup(upstream.Close)
	opts = append(opts, WithHTTPClient(upstream.Client()))
	ts := newTestServer(t, config.Config{Resend: config.ResendConfig{BaseURL: upstream.URL}}, opts...)
	user := ts.provision("alice", false)
	if err := ts.store.UpdateSettings(context.Background(), store.Settings{ResendAPIKey: "re_test"}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	ts.seed(store.Message{
		EmailID:     "e1",
		From:        "bob@example.com",
		Attachments: store.Attachments{{ID: "a1", Filename: "report.pdf", ContentType: "application/pdf"}},
	})
	return ts, user
}

func TestAttachmentDownload(t *testing.T) {
	ts, user := newAttachmentServer(t)

	rec := ts.do(http.MethodGet, "/email/e1/attachments/a1/download", nil, user, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="report.pdf"` {
		t.Errorf("Content-Disposition: got %q", got)
	}
	if rec.Header().Get("Content-Type") != "application/pdf" || rec.Body.String() != "%PDF-1.7" {
		t.Errorf("body: got %q %q", rec.Header().Get("Content-Type"), rec.Body.String())
	}

	meta := decode[store.Attachment](t, ts.do(http.MethodGet, "/email/e1/attachments/a1", nil, user, nil))
	if meta.Filename != "report.pdf" {
		t.Errorf("metadata: got %+v", meta)
	}
	if rec := ts.do(http.MethodGet, "/email/e1/attachments/nope/download", nil, user, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown attachment: got %d, want 404", rec.Code)
	}
}

func TestAttachmentRelay(t *testing.T) {
	uploader := &fakeUploader{}
	var gotCfg objectstore.Config
	factory := func(ctx context.Context, cfg objectstore.Config) (attachment.Uploader, error) {
		gotCfg = cfg
		return uploader, nil
	}
	ts, user := newAttachmentServer(t, WithUploaderFactory(factory))

	rec := ts.do(http.MethodPost, "/email/e1/attachments/a1/relay", nil, user, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("relay: got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]string](t, rec)["url"]; got != "https://files.example.com/report.pdf" {
		t.Errorf("url: got %q", got)
	}
	if uploader.filename != "report.pdf" || gotCfg.Bucket != "" {
		t.Errorf("upload: got %q with config %+v", uploader.filename, gotCfg)
	}
}

func TestAttachmentRelay_Unconfigured(t *testing.T) {
	ts, user := newAttachmentServer(t)
	rec := ts.do(http.MethodPost, "/email/e1/attachments/a1/relay", nil, user, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("relay without object store: got %d, want 503", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrDuplicateUsername, http.StatusConflict},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{provider.ErrUnconfigured, http.StatusServiceUnavailable},
		{objectstore.ErrUnconfigured, http.StatusServiceUnavailable},
		{&provider.UpstreamError{Status: 500, Body: "boom"}, http.StatusBadGateway},
		{attachment.ErrUploadFailed, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v): got %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	if rec := ts.do(http.MethodGet, "/health", nil, nil, nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health: got %d %q", rec.Code, rec.Body.String())
	}
	if rec := ts.do(http.MethodGet, "/ready", nil, nil, nil); rec.Code != http.StatusOK {
		t.Errorf("ready: got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/static/app.css", nil, nil, nil); rec.Code != http.StatusOK {
		t.Errorf("static: got %d", rec.Code)
	}
}
