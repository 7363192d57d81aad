// Package attachment fetches attachment bytes from the email provider and
// re-hosts them in the object store.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.io/infrasutra/mailroom/internal/provider/resend"
	"github.io/infrasutra/mailroom/internal/store"
)

// Source resolves and downloads attachments held by the provider.
type Source interface {
	GetAttachment(ctx context.Context, emailID, attachmentID string) (resend.AttachmentMeta, error)
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, contentType string) (string, error)
}

type messageStore interface {
	GetMessage(ctx context.Context, emailID string) (store.Message, error)
}

// ErrUploadFailed wraps errors returned by the object store.
var ErrUploadFailed = errors.New("upload to object store failed")

type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Service struct {
	store  messageStore
	source Source
	logger *slog.Logger
}

func NewService(store messageStore, source Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, source: source, logger: logger}
}

// Lookup returns the stored metadata of one attachment.
func (s *Service) Lookup(ctx context.Context, emailID, attachmentID string) (store.Attachment, error) {
	msg, err := s.store.GetMessage(ctx, emailID)
	if err != nil {
		return store.Attachment{}, err
	}
	att, ok := msg.Attachments.Find(attachmentID)
	if !ok {
		return store.Attachment{}, store.ErrNotFound
	}
	return att, nil
}

// Fetch downloads an attachment of a stored message from the provider.
func (s *Service) Fetch(ctx context.Context, emailID, attachmentID string) (Download, error) {
	att, err := s.Lookup(ctx, emailID, attachmentID)
	if err != nil {
		return Download{}, err
	}
	meta, err := s.source.GetAttachment(ctx, emailID, attachmentID)
	if err != nil {
		return Download{}, err
	}
	if meta.DownloadURL == "" {
		return Download{}, fmt.Errorf("attachment %s has no download url", attachmentID)
	}
	data, err := s.source.Download(ctx, meta.DownloadURL)
	if err != nil {
		return Download{}, err
	}
	download := Download{Filename: att.Filename, ContentType: att.ContentType, Data: data}
	if download.Filename == "" {
		download.Filename = meta.Filename
	}
	if download.ContentType == "" {
		download.ContentType = meta.ContentType
	}
	return download, nil
}

// Relay fetches an attachment and re-hosts it, returning the public URL.
func (s *Service) Relay(ctx context.Context, uploader Uploader, emailID, attachmentID string) (string, error) {
	download, err := s.Fetch(ctx, emailID, attachmentID)
	if err != nil {
		return "", err
	}
	url, err := uploader.Upload(ctx, download.Data, download.Filename, download.ContentType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	s.logger.Info("attachment: relayed", "email_id", emailID, "attachment_id", attachmentID, "bytes", len(download.Data))
	return url, nil
}
