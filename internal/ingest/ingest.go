// Package ingest turns inbound email webhooks into stored messages.
package ingest

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.io/infrasutra/mailroom/internal/provider/resend"
	"github.io/infrasutra/mailroom/internal/store"
)

const (
	EventEmailReceived = "email.received"

	StatusSuccess = "success"
	StatusIgnored = "ignored"
)

var ErrMalformedWebhook = errors.New("malformed webhook payload")

//go:embed webhook.schema.json
var webhookSchemaText string

var webhookSchema = jsonschema.MustCompileString("webhook.schema.json", webhookSchemaText)

// Fetcher loads the provider's full copy of a received email.
type Fetcher interface {
	GetReceivedEmail(ctx context.Context, emailID string) (resend.ReceivedEmail, error)
}

// Lister returns the most recent received emails.
type Lister interface {
	ListReceivedEmails(ctx context.Context, limit int) ([]resend.ReceivedEmail, error)
}

type messageStore interface {
	UpsertMessage(ctx context.Context, msg store.Message) error
}

type Event struct {
	Type      string    `json:"type"`
	CreatedAt string    `json:"created_at"`
	Data      EventData `json:"data"`
}

type EventData struct {
	EmailID     string            `json:"email_id"`
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc"`
	Bcc         []string          `json:"bcc"`
	ReplyTo     []string          `json:"reply_to"`
	Subject     string            `json:"subject"`
	CreatedAt   string            `json:"created_at"`
	MessageID   string            `json:"message_id"`
	Headers     map[string]string `json:"headers"`
	Attachments []json.RawMessage `json:"attachments"`
}

type EventAttachment struct {
	ID                 string `json:"id"`
	Filename           string `json:"filename"`
	ContentType        string `json:"content_type"`
	ContentDisposition string `json:"content_disposition"`
	ContentID          string `json:"content_id"`
}

type Result struct {
	Status  string `json:"status"`
	EmailID string `json:"email_id,omitempty"`
}

type Ingester struct {
	store  messageStore
	logger *slog.Logger
	now    func() time.Time
}

func New(store messageStore, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, logger: logger, now: time.Now}
}

// Handle validates a webhook body and stores the email it announces. The
// fetcher is consulted for the full email; when it fails the webhook fields
// are stored on their own.
func (i *Ingester) Handle(ctx context.Context, fetcher Fetcher, body []byte) (Result, error) {
	event, err := decodeEvent(body)
	if err != nil {
		return Result{}, err
	}
	if event.Type != EventEmailReceived {
		i.logger.Info("webhook: ignoring event", "type", event.Type)
		return Result{Status: StatusIgnored}, nil
	}

	data := event.Data
	fetched := resend.ReceivedEmail{}
	if fetcher != nil {
		full, err := fetcher.GetReceivedEmail(ctx, data.EmailID)
		if err != nil {
			i.logger.Warn("webhook: fetch full email failed, using webhook fields", "email_id", data.EmailID, "error", err)
		} else {
			fetched = full
		}
	}

	msg, err := i.normalize(data, fetched)
	if err != nil {
		return Result{}, err
	}
	if err := i.store.UpsertMessage(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("store webhook email: %w", err)
	}
	i.logger.Info("webhook: stored email", "email_id", msg.EmailID, "attachments", len(msg.Attachments))
	return Result{Status: StatusSuccess, EmailID: msg.EmailID}, nil
}

// SyncResult summarizes one provider sync.
type SyncResult struct {
	Fetched int      `json:"fetched"`
	Stored  int      `json:"stored"`
	Failed  []string `json:"failed"`
}

// Sync pulls up to limit recent received emails from the provider and stores
// each through the webhook normalization path.
func (i *Ingester) Sync(ctx context.Context, lister Lister, limit int) (SyncResult, error) {
	emails, err := lister.ListReceivedEmails(ctx, limit)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync received emails: %w", err)
	}
	result := SyncResult{Fetched: len(emails), Failed: []string{}}
	for _, email := range emails {
		data := EventData{EmailID: email.ID, CreatedAt: email.CreatedAt}
		msg, err := i.normalize(data, email)
		if err == nil {
			err = i.store.UpsertMessage(ctx, msg)
		}
		if err != nil {
			i.logger.Warn("sync: skipping email", "email_id", email.ID, "error", err)
			result.Failed = append(result.Failed, email.ID)
			continue
		}
		result.Stored++
	}
	i.logger.Info("sync: finished", "fetched", result.Fetched, "stored", result.Stored, "failed", len(result.Failed))
	return result, nil
}

func decodeEvent(body []byte) (Event, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if err := webhookSchema.Validate(doc); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	var envelope struct {
		Type      string          `json:"type"`
		CreatedAt string          `json:"created_at"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	event := Event{Type: envelope.Type, CreatedAt: envelope.CreatedAt}
	if event.Type != EventEmailReceived {
		return event, nil
	}
	if err := json.Unmarshal(envelope.Data, &event.Data); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	return event, nil
}

func (i *Ingester) normalize(data EventData, fetched resend.ReceivedEmail) (store.Message, error) {
	if strings.TrimSpace(data.EmailID) == "" {
		return store.Message{}, fmt.Errorf("%w: email_id is required", ErrMalformedWebhook)
	}
	createdRaw := firstNonEmpty(fetched.CreatedAt, data.CreatedAt)
	createdAt, err := ParseTimestamp(createdRaw)
	if err != nil {
		return store.Message{}, fmt.Errorf("%w: created_at %q: %v", ErrMalformedWebhook, createdRaw, err)
	}

	msg := store.Message{
		EmailID:    data.EmailID,
		CreatedAt:  createdAt,
		From:       firstNonEmpty(fetched.From, data.From),
		To:         firstList(fetched.To, data.To),
		Cc:         firstList(fetched.Cc, data.Cc),
		Bcc:        firstList(fetched.Bcc, data.Bcc),
		ReplyTo:    firstList(fetched.ReplyTo, data.ReplyTo),
		Subject:    firstNonEmpty(fetched.Subject, data.Subject),
		HTML:       fetched.HTML,
		Text:       fetched.Text,
		MessageID:  firstNonEmpty(fetched.MessageID, data.MessageID),
		Headers:    store.Headers(data.Headers),
		ReceivedAt: i.now(),
	}
	if len(fetched.Headers) > 0 {
		msg.Headers = store.Headers(fetched.Headers)
	}

	items := data.Attachments
	if len(fetched.Attachments) > 0 {
		items = fetched.Attachments
	}
	for n, raw := range items {
		var a EventAttachment
		if err := json.Unmarshal(raw, &a); err != nil {
			i.logger.Warn("webhook: skipping undecodable attachment", "email_id", msg.EmailID, "index", n, "error", err)
			continue
		}
		i.appendAttachment(&msg, a)
	}
	return msg, nil
}

func (i *Ingester) appendAttachment(msg *store.Message, a EventAttachment) {
	if a.ID == "" || a.Filename == "" || a.ContentType == "" {
		i.logger.Warn("webhook: skipping incomplete attachment", "email_id", msg.EmailID, "attachment_id", a.ID, "filename", a.Filename)
		return
	}
	msg.Attachments = append(msg.Attachments, store.Attachment{
		ID:                 a.ID,
		Filename:           a.Filename,
		ContentType:        a.ContentType,
		ContentDisposition: a.ContentDisposition,
		ContentID:          a.ContentID,
	})
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999-07",
}

// ParseTimestamp accepts RFC 3339 timestamps with an optional fractional
// part, a trailing Z, or the space-separated form with a short offset.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if strings.HasSuffix(value, "Z") {
		value = strings.TrimSuffix(value, "Z") + "+00:00"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstList(lists ...[]string) store.StringList {
	for _, l := range lists {
		if len(l) > 0 {
			return store.StringList(l)
		}
	}
	return store.StringList{}
}
