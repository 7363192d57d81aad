// Package objectstore uploads files to an S3-compatible bucket, Cloudflare R2
// by default.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.io/infrasutra/mailroom/internal/store"
)

const defaultRegion = "auto"

var ErrUnconfigured = errors.New("object store not configured")

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	// Endpoint overrides the R2 endpoint derived from AccountID.
	Endpoint string
	Region   string
}

// ConfigFromSettings reads the object-store fields of the settings record.
func ConfigFromSettings(settings store.Settings, endpoint, region string) Config {
	return Config{
		AccountID:       strings.TrimSpace(settings.R2AccountID),
		AccessKeyID:     strings.TrimSpace(settings.R2AccessKeyID),
		SecretAccessKey: strings.TrimSpace(settings.R2SecretAccessKey),
		Bucket:          strings.TrimSpace(settings.R2Bucket),
		PublicURL:       strings.TrimSpace(settings.R2PublicURL),
		Endpoint:        strings.TrimSpace(endpoint),
		Region:          strings.TrimSpace(region),
	}
}

func (c Config) configured() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Bucket != "" && c.PublicURL != ""
}

func (c Config) endpoint() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}

type Uploader struct {
	cfg    Config
	client PutObjectAPI
}

// New builds an S3 client for cfg. ErrUnconfigured is returned when the
// account, keys, bucket or public URL are missing.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if !cfg.configured() {
		return nil, ErrUnconfigured
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.endpoint())
		o.UsePathStyle = true
	})
	return NewWithClient(cfg, client), nil
}

func NewWithClient(cfg Config, client PutObjectAPI) *Uploader {
	return &Uploader{cfg: cfg, client: client}
}

// Upload stores data under filename and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	if !u.cfg.configured() {
		return "", ErrUnconfigured
	}
	key := strings.TrimLeft(filename, "/")
	if key == "" {
		return "", errors.New("upload object: filename is required")
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload object %q: %w", key, err)
	}
	return strings.TrimRight(u.cfg.PublicURL, "/") + "/" + key, nil
}
