// Package smtp relays outbound mail through an existing SMTP server.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.io/infrasutra/mailroom/internal/provider"
)

type Config struct {
	Addr     string
	Username string
	Password string
}

type sendFunc func(addr string, a sasl.Client, from string, to []string, r *bytes.Reader) error

type Sender struct {
	cfg  Config
	send sendFunc
	now  func() time.Time
}

func New(cfg Config) *Sender {
	return &Sender{
		cfg: cfg,
		send: func(addr string, a sasl.Client, from string, to []string, r *bytes.Reader) error {
			return gosmtp.SendMail(addr, a, from, to, r)
		},
		now: time.Now,
	}
}

func (s *Sender) Name() string {
	return "smtp"
}

// Send builds the MIME message locally and relays it. The generated
// Message-ID is returned as the provider id.
func (s *Sender) Send(ctx context.Context, msg *provider.Email) (string, error) {
	if s.cfg.Addr == "" {
		return "", provider.ErrUnconfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := *msg
	if out.From == "" {
		out.From = provider.DefaultFrom
	}
	envelopeFrom := out.From
	if addr, err := mail.ParseAddress(out.From); err == nil {
		envelopeFrom = addr.Address
	}
	recipients := provider.Recipients(&out)
	if len(recipients) == 0 {
		return "", errors.New("smtp send: no recipients")
	}

	raw, messageID, err := provider.BuildMIME(&out, s.now())
	if err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}

	var auth sasl.Client
	if s.cfg.Username != "" {
		auth = sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	}
	if err := s.send(s.cfg.Addr, auth, envelopeFrom, recipients, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return messageID, nil
}
