package resend

import "encoding/json"

// ReceivedEmail is the provider's full view of an inbound email.
type ReceivedEmail struct {
	ID          string            `json:"id"`
	CreatedAt   string            `json:"created_at"`
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc"`
	Bcc         []string          `json:"bcc"`
	ReplyTo     []string          `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html"`
	Text        string            `json:"text"`
	MessageID   string            `json:"message_id"`
	Headers     map[string]string `json:"headers"`
	Attachments []json.RawMessage `json:"attachments"`
}

// AttachmentMeta describes one attachment and the short-lived URL its bytes
// can be fetched from.
type AttachmentMeta struct {
	ID                 string `json:"id"`
	Filename           string `json:"filename"`
	ContentType        string `json:"content_type"`
	ContentDisposition string `json:"content_disposition"`
	Size               int64  `json:"size"`
	DownloadURL        string `json:"download_url"`
	ExpiresAt          string `json:"expires_at"`
}

type listResponse struct {
	Object  string          `json:"object"`
	HasMore bool            `json:"has_more"`
	Data    []ReceivedEmail `json:"data"`
}
