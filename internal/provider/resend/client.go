// Package resend talks to the Resend email API for sending mail and reading
// received messages and their attachments. Sending goes through the official
// SDK; the inbound receiving endpoints are not covered by it and are called
// directly.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	resendsdk "github.com/resend/resend-go/v2"

	"github.io/infrasutra/mailroom/internal/provider"
)

const (
	DefaultBaseURL = "https://api.resend.com"

	// maxErrorBody caps how much of an upstream error body is kept.
	maxErrorBody = 4 << 10
)

// Client is a Resend API client bound to one API key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	sdk        *resendsdk.Client
}

// New returns a client for apiKey. An empty baseURL selects the public API
// and a nil httpClient gets a 30 second timeout.
func New(apiKey, baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}

	sdkHTTP := *httpClient
	sdkHTTP.Transport = captureTransport{base: httpClient.Transport}
	c.sdk = resendsdk.NewCustomClient(&sdkHTTP, c.apiKey)
	if u, err := url.Parse(c.baseURL + "/"); err == nil {
		c.sdk.BaseURL = u
	}
	return c
}

func (c *Client) Name() string {
	return "resend"
}

// Send posts msg to /emails and returns the id Resend assigned to it.
func (c *Client) Send(ctx context.Context, msg *provider.Email) (string, error) {
	if c.apiKey == "" {
		return "", provider.ErrUnconfigured
	}
	from := msg.From
	if from == "" {
		from = provider.DefaultFrom
	}
	req := &resendsdk.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		ReplyTo: strings.Join(msg.ReplyTo, ", "),
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		Headers: msg.Headers,
	}
	for _, att := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resendsdk.Attachment{
			Filename:    att.Filename,
			Content:     att.Content,
			ContentType: att.ContentType,
		})
	}

	capture := &upstreamCapture{}
	resp, err := c.sdk.Emails.SendWithContext(context.WithValue(ctx, captureKey{}, capture), req)
	if err != nil {
		if capture.err != nil {
			err = capture.err
		}
		return "", fmt.Errorf("send email: %w", err)
	}
	return resp.Id, nil
}

// GetReceivedEmail fetches the full content of an inbound email.
func (c *Client) GetReceivedEmail(ctx context.Context, emailID string) (ReceivedEmail, error) {
	if c.apiKey == "" {
		return ReceivedEmail{}, provider.ErrUnconfigured
	}
	var email ReceivedEmail
	if err := c.doJSON(ctx, http.MethodGet, "/emails/receiving/"+url.PathEscape(emailID), nil, &email); err != nil {
		return ReceivedEmail{}, fmt.Errorf("get received email: %w", err)
	}
	return email, nil
}

// ListReceivedEmails returns up to limit of the most recent inbound emails.
func (c *Client) ListReceivedEmails(ctx context.Context, limit int) ([]ReceivedEmail, error) {
	if c.apiKey == "" {
		return nil, provider.ErrUnconfigured
	}
	path := "/emails/receiving"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp listResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list received emails: %w", err)
	}
	return resp.Data, nil
}

// GetAttachment returns attachment metadata including its download URL.
func (c *Client) GetAttachment(ctx context.Context, emailID, attachmentID string) (AttachmentMeta, error) {
	if c.apiKey == "" {
		return AttachmentMeta{}, provider.ErrUnconfigured
	}
	path := "/emails/receiving/" + url.PathEscape(emailID) + "/attachments/" + url.PathEscape(attachmentID)
	var meta AttachmentMeta
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &meta); err != nil {
		return AttachmentMeta{}, fmt.Errorf("get attachment: %w", err)
	}
	return meta, nil
}

// Download fetches the raw bytes behind a signed download URL.
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return upstreamError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &provider.UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

type captureKey struct{}

// upstreamCapture holds the non-2xx answer seen during one SDK call. The SDK
// flattens API failures into plain errors, dropping the status code.
type upstreamCapture struct {
	err *provider.UpstreamError
}

type captureTransport struct {
	base http.RoundTripper
}

func (t captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	capture, ok := req.Context().Value(captureKey{}).(*upstreamCapture)
	if !ok || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return resp, nil
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	capture.err = &provider.UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
