package provider

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// BuildMIME renders msg as an RFC 5322 message. A Message-ID is generated
// and returned without angle brackets. Bcc recipients are left out of the
// headers.
func BuildMIME(msg *Email, now time.Time) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", addressList([]string{msg.From}))
	h.SetAddressList("To", addressList(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", addressList(msg.Cc))
	}
	if len(msg.ReplyTo) > 0 {
		h.SetAddressList("Reply-To", addressList(msg.ReplyTo))
	}
	for name, value := range msg.Headers {
		h.Set(name, value)
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("read message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message writer: %w", err)
	}
	if err := writeBody(w, msg); err != nil {
		return nil, "", err
	}
	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.Set("Content-Type", contentType)
		ah.SetFilename(att.Filename)
		aw, err := w.CreateAttachment(ah)
		if err != nil {
			return nil, "", fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, "", fmt.Errorf("write attachment: %w", err)
		}
		if err := aw.Close(); err != nil {
			return nil, "", fmt.Errorf("close attachment: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), messageID, nil
}

func writeBody(w *mail.Writer, msg *Email) error {
	tw, err := w.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline part: %w", err)
	}
	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	}
	for _, part := range parts {
		if part.body == "" {
			continue
		}
		var ih mail.InlineHeader
		ih.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		pw, err := tw.CreatePart(ih)
		if err != nil {
			return fmt.Errorf("create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(pw, part.body); err != nil {
			return fmt.Errorf("write %s part: %w", part.contentType, err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("close %s part: %w", part.contentType, err)
		}
	}
	return tw.Close()
}

func addressList(values []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if addr, err := mail.ParseAddress(value); err == nil {
			out = append(out, addr)
			continue
		}
		out = append(out, &mail.Address{Address: value})
	}
	return out
}

// Recipients returns every envelope recipient of msg.
func Recipients(msg *Email) []string {
	var out []string
	for _, list := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, addr := range addressList(list) {
			out = append(out, addr.Address)
		}
	}
	return out
}
