package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.io/infrasutra/mailroom/internal/attachment"
	"github.io/infrasutra/mailroom/internal/auth"
	"github.io/infrasutra/mailroom/internal/ingest"
	"github.io/infrasutra/mailroom/internal/objectstore"
	"github.io/infrasutra/mailroom/internal/pagination"
	"github.io/infrasutra/mailroom/internal/provider"
	"github.io/infrasutra/mailroom/internal/sse"
	"github.io/infrasutra/mailroom/internal/store"
)

const (
	defaultSyncLimit = 20
	defaultAPILimit  = 50
)

var errInvalidInput = errors.New("invalid input")

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc"`
	Bcc     []string `json:"bcc"`
	ReplyTo []string `json:"reply_to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

type sendResponse struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

type messageSummary struct {
	EmailID        string    `json:"email_id"`
	From           string    `json:"from"`
	To             []string  `json:"to"`
	Subject        string    `json:"subject"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
	IsReplied      bool      `json:"is_replied"`
	HasAttachments bool      `json:"has_attachments"`
}

type messageDetail struct {
	messageSummary
	Cc           []string           `json:"cc"`
	Bcc          []string           `json:"bcc"`
	ReplyTo      []string           `json:"reply_to"`
	HTML         string             `json:"html"`
	Text         string             `json:"text"`
	MessageID    string             `json:"message_id"`
	Headers      map[string]string  `json:"headers"`
	Attachments  []store.Attachment `json:"attachments"`
	ReceivedAt   time.Time          `json:"received_at"`
	ReplyHistory []store.ReplyEntry `json:"reply_history"`
}

type listResponse struct {
	Emails     []messageSummary `json:"emails"`
	Pagination pagination.Page  `json:"pagination"`
}

func toSummary(msg store.Message) messageSummary {
	return messageSummary{
		EmailID:        msg.EmailID,
		From:           msg.From,
		To:             nonNil(msg.To),
		Subject:        msg.Subject,
		CreatedAt:      msg.CreatedAt.UTC(),
		IsRead:         msg.IsRead,
		IsReplied:      msg.IsReplied,
		HasAttachments: msg.HasAttachments(),
	}
}

func toDetail(msg store.Message) messageDetail {
	detail := messageDetail{
		messageSummary: toSummary(msg),
		Cc:             nonNil(msg.Cc),
		Bcc:            nonNil(msg.Bcc),
		ReplyTo:        nonNil(msg.ReplyTo),
		HTML:           msg.HTML,
		Text:           msg.Text,
		MessageID:      msg.MessageID,
		Headers:        map[string]string(msg.Headers),
		Attachments:    []store.Attachment(msg.Attachments),
		ReceivedAt:     msg.ReceivedAt.UTC(),
		ReplyHistory:   []store.ReplyEntry(msg.ReplyHistory),
	}
	if detail.Headers == nil {
		detail.Headers = map[string]string{}
	}
	if detail.Attachments == nil {
		detail.Attachments = []store.Attachment{}
	}
	if detail.ReplyHistory == nil {
		detail.ReplyHistory = []store.ReplyEntry{}
	}
	return detail
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	var payload sendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid JSON"})
		return
	}
	email := &provider.Email{
		From:    strings.TrimSpace(payload.From),
		To:      normalizeRecipients(payload.To),
		Cc:      normalizeRecipients(payload.Cc),
		Bcc:     normalizeRecipients(payload.Bcc),
		ReplyTo: normalizeRecipients(payload.ReplyTo),
		Subject: strings.TrimSpace(payload.Subject),
		HTML:    strings.TrimSpace(payload.HTML),
		Text:    strings.TrimSpace(payload.Text),
	}
	resp, err := s.send(r, identity, email)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// send validates email and hands it to the configured sender. An empty From
// falls back to the stored send-from address.
func (s *Server) send(r *http.Request, identity auth.Identity, email *provider.Email) (sendResponse, error) {
	if len(email.To) == 0 {
		return sendResponse{}, fmt.Errorf("%w: at least one recipient is required", errInvalidInput)
	}
	if strings.TrimSpace(email.Text) == "" && strings.TrimSpace(email.HTML) == "" {
		return sendResponse{}, fmt.Errorf("%w: message body is required", errInvalidInput)
	}
	settings, err := s.settings(r.Context())
	if err != nil {
		return sendResponse{}, err
	}
	if email.From == "" {
		email.From = settings.SendFrom
	}
	sender := s.senderFor(settings)
	id, err := sender.Send(r.Context(), email)
	if err != nil {
		s.logger.Warn("send: failed", "provider", sender.Name(), "by", identity.Username, "error", err)
		return sendResponse{}, err
	}
	s.logger.Info("send: accepted", "provider", sender.Name(), "id", id, "recipients", len(email.To)+len(email.Cc)+len(email.Bcc), "by", identity.Username)
	return sendResponse{ID: id, Provider: sender.Name()}, nil
}

func normalizeRecipients(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		for _, addr := range splitAddresses(value) {
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	filter, _, err := filterFromQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	params := pagination.FromQuery(r.URL.Query(), pagination.WithDefaultLimit(defaultAPILimit))
	messages, total, err := s.store.ListMessages(r.Context(), filter, params.Sort, params.Offset, params.Limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	response := listResponse{
		Emails:     make([]messageSummary, 0, len(messages)),
		Pagination: params.Describe(total),
	}
	for _, msg := range messages {
		response.Emails = append(response.Emails, toSummary(msg))
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	msg, err := s.store.GetMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toDetail(msg))
}

func (s *Server) attachments(r *http.Request) (*attachment.Service, store.Settings, error) {
	settings, err := s.settings(r.Context())
	if err != nil {
		return nil, store.Settings{}, err
	}
	return attachment.NewService(s.store, s.resendClient(settings), s.logger), settings, nil
}

func (s *Server) handleAttachmentMeta(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	svc, _, err := s.attachments(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	att, err := svc.Lookup(r.Context(), r.PathValue("id"), r.PathValue("aid"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, att)
}

func (s *Server) handleAttachmentDownload(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	svc, _, err := s.attachments(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	download, err := svc.Fetch(r.Context(), r.PathValue("id"), r.PathValue("aid"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	contentType := download.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := download.Filename
	if filename == "" {
		filename = r.PathValue("aid")
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(download.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(download.Data)
}

func (s *Server) handleAttachmentRelay(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	svc, settings, err := s.attachments(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	uploader, err := s.newUploader(r.Context(), objectstore.ConfigFromSettings(settings, s.cfg.ObjectStore.Endpoint, s.cfg.ObjectStore.Region))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	publicURL, err := svc.Relay(r.Context(), uploader, r.PathValue("id"), r.PathValue("aid"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("attachment: relay requested", "email_id", r.PathValue("id"), "by", identity.Username)
	s.respondJSON(w, http.StatusOK, map[string]string{"url": publicURL})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Detail: "unable to read body"})
		return
	}
	if err := s.verifier.Verify(r.Header, body, s.now()); err != nil {
		s.logger.Warn("webhook: signature rejected", "error", err)
		s.respondError(w, r, err)
		return
	}
	settings, err := s.settings(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.ingester.Handle(r.Context(), s.resendClient(settings), body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if result.Status == ingest.StatusSuccess {
		s.announce(r, result.EmailID)
	}
	s.respondJSON(w, http.StatusOK, result)
}

// announce pushes a stored email to open inbox streams.
func (s *Server) announce(r *http.Request, emailID string) {
	msg, err := s.store.GetMessage(r.Context(), emailID)
	if err != nil {
		s.logger.Warn("stream: load stored email", "email_id", emailID, "error", err)
		return
	}
	s.hub.Broadcast(sse.EmailEvent(msg.EmailID, msg.From, msg.Subject, msg.CreatedAt))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	limit := defaultSyncLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, 100)
		}
	}
	settings, err := s.settings(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	result, err := s.ingester.Sync(r.Context(), s.resendClient(settings), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("sync: requested", "by", identity.Username, "stored", result.Stored)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondJSON(w, http.StatusInternalServerError, errorResponse{Detail: "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()
	s.logger.Debug("sse: client connected", "username", identity.Username, "subscribers", s.hub.Subscribers())

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}
