package thread

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.io/infrasutra/mailroom/internal/provider"
	"github.io/infrasutra/mailroom/internal/store"
)

// ErrNotThreadable is returned for messages stored without a Message-ID.
var ErrNotThreadable = errors.New("message has no message id to reply to")

type messageStore interface {
	GetMessage(ctx context.Context, emailID string) (store.Message, error)
	AppendReply(ctx context.Context, emailID string, entry store.ReplyEntry) error
}

// Composer sends replies for one request's settings.
type Composer struct {
	store  messageStore
	sender provider.Sender
	from   string
	logger *slog.Logger
	now    func() time.Time
}

func NewComposer(store messageStore, sender provider.Sender, from string, logger *slog.Logger) *Composer {
	if strings.TrimSpace(from) == "" {
		from = provider.DefaultFrom
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{store: store, sender: sender, from: from, logger: logger, now: time.Now}
}

type SentReply struct {
	EmailID    string `json:"email_id"`
	ProviderID string `json:"message_id"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
}

// Reply answers the stored message emailID with body and records the sent
// reply in its history. Nothing is written when sending fails.
func (c *Composer) Reply(ctx context.Context, emailID, body, username string) (SentReply, error) {
	msg, err := c.store.GetMessage(ctx, emailID)
	if err != nil {
		return SentReply{}, err
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		return SentReply{}, ErrNotThreadable
	}

	to := ReplyAddress(msg.From)
	email := &provider.Email{
		From:    c.from,
		To:      []string{to},
		Subject: ReplySubject(msg.Subject),
		HTML:    BodyHTML(body),
		Text:    body,
		Headers: map[string]string{
			"In-Reply-To": FormatMsgIDs([]string{msg.MessageID}),
			"References":  FormatMsgIDs(References(msg)),
		},
	}

	providerID, err := c.sender.Send(ctx, email)
	if err != nil {
		c.logger.Warn("reply: send failed", "email_id", emailID, "provider", c.sender.Name(), "error", err)
		return SentReply{}, err
	}

	entry := store.ReplyEntry{RepliedAt: c.now(), RepliedBy: username, MessageID: providerID}
	if err := c.store.AppendReply(ctx, emailID, entry); err != nil {
		return SentReply{}, fmt.Errorf("record reply: %w", err)
	}
	c.logger.Info("reply: sent", "email_id", emailID, "provider", c.sender.Name(), "provider_id", providerID, "by", username)
	return SentReply{EmailID: emailID, ProviderID: providerID, To: to, Subject: email.Subject}, nil
}

// BodyHTML escapes a plain-text body and wraps it in a paragraph with line
// breaks preserved.
func BodyHTML(body string) string {
	escaped := html.EscapeString(strings.ReplaceAll(body, "\r\n", "\n"))
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}
