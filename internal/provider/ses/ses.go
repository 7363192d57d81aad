// Package ses sends outbound mail through AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.io/infrasutra/mailroom/internal/provider"
)

type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the subset of the SES v2 client the sender needs.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type Sender struct {
	client SendEmailAPI
	now    func() time.Time
}

// New loads AWS configuration for cfg. Static keys are used when both are
// set, otherwise the default credential chain applies.
func New(ctx context.Context, cfg Config) (*Sender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(sesv2.NewFromConfig(awsCfg)), nil
}

func NewWithClient(client SendEmailAPI) *Sender {
	return &Sender{client: client, now: time.Now}
}

func (s *Sender) Name() string {
	return "ses"
}

// Send delivers msg and returns the SES message id. Messages with
// attachments go out as raw MIME.
func (s *Sender) Send(ctx context.Context, msg *provider.Email) (string, error) {
	if s.client == nil {
		return "", provider.ErrUnconfigured
	}
	from := msg.From
	if from == "" {
		from = provider.DefaultFrom
	}

	var input *sesv2.SendEmailInput
	if len(msg.Attachments) > 0 {
		withFrom := *msg
		withFrom.From = from
		raw, _, err := provider.BuildMIME(&withFrom, s.now())
		if err != nil {
			return "", fmt.Errorf("build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(from),
			Destination: &types.Destination{
				ToAddresses:  msg.To,
				CcAddresses:  msg.Cc,
				BccAddresses: msg.Bcc,
			},
			Content: &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		}
	} else {
		input = buildSimpleInput(from, msg)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send email: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func buildSimpleInput(from string, msg *provider.Email) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	headers := make([]types.MessageHeader, 0, len(names))
	for _, name := range names {
		headers = append(headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(msg.Headers[name]),
		})
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		ReplyToAddresses: msg.ReplyTo,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
				Headers: headers,
			},
		},
	}
}
