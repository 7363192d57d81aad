// Package provider defines the outbound email boundary shared by the
// Resend, SES and SMTP senders.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// DefaultFrom is used when no send-from address has been configured.
const DefaultFrom = "onboarding@resend.dev"

// ErrUnconfigured is returned before any network I/O when the provider is
// missing its credentials.
var ErrUnconfigured = errors.New("email provider not configured")

// Email is one outbound message.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     []string
	Subject     string
	HTML        string
	Text        string
	Headers     map[string]string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Sender delivers outbound mail and returns the provider-assigned message id.
type Sender interface {
	Send(ctx context.Context, msg *Email) (string, error)
	Name() string
}

// UpstreamError reports a non-2xx answer from an external API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (HTTP %d): %s", e.Status, e.Body)
}
