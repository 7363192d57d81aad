package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.io/infrasutra/mailroom/internal/store"
)

type mockS3 struct {
	err   error
	input *s3.PutObjectInput
	body  []byte
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.input = params
	m.body, _ = io.ReadAll(params.Body)
	if m.err != nil {
		return nil, m.err
	}
	return &s3.PutObjectOutput{}, nil
}

func testConfig() Config {
	return ConfigFromSettings(store.Settings{
		R2AccountID:       "acct",
		R2AccessKeyID:     "key",
		R2SecretAccessKey: "secret",
		R2Bucket:          "attachments",
		R2PublicURL:       "https://files.example.com/",
	}, "", "")
}

func TestUpload(t *testing.T) {
	mock := &mockS3{}
	u := NewWithClient(testConfig(), mock)

	url, err := u.Upload(context.Background(), []byte("%PDF"), "report.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://files.example.com/report.pdf" {
		t.Errorf("url: got %q, want %q", url, "https://files.example.com/report.pdf")
	}
	if got := aws.ToString(mock.input.Bucket); got != "attachments" {
		t.Errorf("Bucket: got %q, want %q", got, "attachments")
	}
	if got := aws.ToString(mock.input.ContentType); got != "application/pdf" {
		t.Errorf("ContentType: got %q, want %q", got, "application/pdf")
	}
	if string(mock.body) != "%PDF" {
		t.Errorf("body: got %q, want %q", mock.body, "%PDF")
	}
}

func TestUpload_Error(t *testing.T) {
	mock := &mockS3{err: errors.New("access denied")}
	if _, err := NewWithClient(testConfig(), mock).Upload(context.Background(), []byte("x"), "x.txt", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Bucket = ""
	if _, err := New(context.Background(), cfg); !errors.Is(err, ErrUnconfigured) {
		t.Errorf("New: got %v, want ErrUnconfigured", err)
	}
	mock := &mockS3{}
	if _, err := NewWithClient(cfg, mock).Upload(context.Background(), []byte("x"), "x.txt", ""); !errors.Is(err, ErrUnconfigured) {
		t.Errorf("Upload: got %v, want ErrUnconfigured", err)
	}
	if mock.input != nil {
		t.Error("PutObject called without configuration")
	}
}

func TestUnconfigured_MissingPublicURL(t *testing.T) {
	cfg := testConfig()
	cfg.PublicURL = ""
	if _, err := New(context.Background(), cfg); !errors.Is(err, ErrUnconfigured) {
		t.Errorf("New: got %v, want ErrUnconfigured", err)
	}
	mock := &mockS3{}
	url, err := NewWithClient(cfg, mock).Upload(context.Background(), []byte("x"), "x.txt", "")
	if !errors.Is(err, ErrUnconfigured) {
		t.Errorf("Upload: got %q, %v, want ErrUnconfigured", url, err)
	}
	if mock.input != nil {
		t.Error("PutObject called without a public URL")
	}
}

func TestEndpoint(t *testing.T) {
	cfg := testConfig()
	if got := cfg.endpoint(); got != "https://acct.r2.cloudflarestorage.com" {
		t.Errorf("endpoint: got %q", got)
	}
	cfg.Endpoint = "http://localhost:9000/"
	if got := cfg.endpoint(); got != "http://localhost:9000" {
		t.Errorf("endpoint override: got %q", got)
	}
}

func TestNew(t *testing.T) {
	u, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if u.client == nil {
		t.Error("expected an S3 client")
	}
}
