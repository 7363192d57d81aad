package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.io/infrasutra/mailroom/internal/attachment"
	"github.io/infrasutra/mailroom/internal/auth"
	"github.io/infrasutra/mailroom/internal/config"
	"github.io/infrasutra/mailroom/internal/ingest"
	"github.io/infrasutra/mailroom/internal/objectstore"
	"github.io/infrasutra/mailroom/internal/provider"
	"github.io/infrasutra/mailroom/internal/provider/resend"
	"github.io/infrasutra/mailroom/internal/sse"
	"github.io/infrasutra/mailroom/internal/store"
	"github.io/infrasutra/mailroom/internal/thread"
	webassets "github.io/infrasutra/mailroom/web"
)

// maxWebhookBody caps how much of a webhook request is read.
const maxWebhookBody = 5 << 20

// UploaderFactory builds an object-store uploader from the current settings.
type UploaderFactory func(ctx context.Context, cfg objectstore.Config) (attachment.Uploader, error)

type Server struct {
	cfg         config.Config
	store       *store.Store
	auth        *auth.Manager
	gate        *auth.Gate
	hub         *sse.Hub
	ingester    *ingest.Ingester
	verifier    *ingest.Verifier
	logger      *slog.Logger
	outbound    provider.Sender
	httpClient  *http.Client
	newUploader UploaderFactory
	views       *views
	mux         *http.ServeMux
	now         func() time.Time
}

type Option func(*Server)

// WithSender routes outbound mail through sender instead of a Resend client
// built from the stored API key.
func WithSender(sender provider.Sender) Option {
	return func(s *Server) {
		s.outbound = sender
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) {
		s.httpClient = client
	}
}

func WithUploaderFactory(factory UploaderFactory) Option {
	return func(s *Server) {
		s.newUploader = factory
	}
}

func NewServer(cfg config.Config, db *store.Store, authManager *auth.Manager, hub *sse.Hub, logger *slog.Logger, opts ...Option) (*Server, error) {
	verifier, err := ingest.NewVerifier(cfg.WebhookSecret)
	if err != nil {
		return nil, err
	}
	templates, err := webassets.Templates()
	if err != nil {
		return nil, err
	}
	views, err := parseViews(templates)
	if err != nil {
		return nil, err
	}
	staticFS, err := webassets.Static()
	if err != nil {
		return nil, err
	}

	server := &Server{
		cfg:        cfg,
		store:      db,
		auth:       authManager,
		gate:       auth.NewGate(db),
		hub:        hub,
		ingester:   ingest.New(db, logger),
		verifier:   verifier,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newUploader: func(ctx context.Context, cfg objectstore.Config) (attachment.Uploader, error) {
			return objectstore.New(ctx, cfg)
		},
		views: views,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", server.handleInbox)
	mux.HandleFunc("GET /setup", server.handleSetupPage)
	mux.HandleFunc("POST /setup", server.handleSetup)
	mux.HandleFunc("GET /login", server.handleLoginPage)
	mux.HandleFunc("POST /login", server.handleLogin)
	mux.HandleFunc("GET /logout", server.handleLogout)

	mux.HandleFunc("GET /settings", server.requireAdmin(server.handleSettingsPage))
	mux.HandleFunc("POST /settings/api", server.requireAdmin(server.handleUpdateSettings))
	mux.HandleFunc("POST /settings/users", server.requireAdmin(server.handleCreateUser))
	mux.HandleFunc("DELETE /settings/users/{username}", server.requireAdmin(server.handleDeleteUser))

	mux.HandleFunc("POST /webhook/email", server.handleWebhook)

	mux.HandleFunc("GET /email/{id}", server.requireUser(server.handleEmailPage))
	mux.HandleFunc("POST /email/{id}/reply", server.requireUser(server.handleReply))
	mux.HandleFunc("DELETE /email/{id}", server.requireUser(server.handleDeleteEmail))
	mux.HandleFunc("GET /email/{id}/attachments/{aid}", server.requireUser(server.handleAttachmentMeta))
	mux.HandleFunc("GET /email/{id}/attachments/{aid}/download", server.requireUser(server.handleAttachmentDownload))
	mux.HandleFunc("POST /email/{id}/attachments/{aid}/relay", server.requireUser(server.handleAttachmentRelay))

	mux.HandleFunc("GET /compose", server.requireUser(server.handleComposePage))
	mux.HandleFunc("POST /compose", server.requireUser(server.handleComposeForm))
	mux.HandleFunc("POST /api/send", server.requireUser(server.handleSend))
	mux.HandleFunc("GET /api/emails", server.requireUser(server.handleListEmails))
	mux.HandleFunc("GET /api/search", server.requireUser(server.handleListEmails))
	mux.HandleFunc("GET /api/emails/{id}", server.requireUser(server.handleGetEmail))
	mux.HandleFunc("POST /api/sync", server.requireAdmin(server.handleSync))
	mux.HandleFunc("GET /api/stream", server.requireUser(server.handleStream))

	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFS)))
	server.mux = mux
	return server, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// settings loads the runtime settings record for one request.
func (s *Server) settings(ctx context.Context) (store.Settings, error) {
	return s.store.GetSettings(ctx)
}

func (s *Server) resendClient(settings store.Settings) *resend.Client {
	return resend.New(settings.ResendAPIKey, s.cfg.Resend.BaseURL, s.httpClient)
}

func (s *Server) senderFor(settings store.Settings) provider.Sender {
	if s.outbound != nil {
		return s.outbound
	}
	return s.resendClient(settings)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var upstream *provider.UpstreamError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateUsername), errors.Is(err, store.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInactiveAccount):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrMissingField), errors.Is(err, errInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrMalformedWebhook):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, thread.ErrNotThreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, provider.ErrUnconfigured), errors.Is(err, objectstore.ErrUnconfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &upstream), errors.Is(err, attachment.ErrUploadFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == 499 {
		return
	}
	detail := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.respondJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondText(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
