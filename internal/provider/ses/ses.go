// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"

	"github.com/shineum/smtp-mailer/internal/compose"
	"github.com/shineum/smtp-mailer/internal/email"
	"github.com/shineum/smtp-mailer/internal/parser"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating a Provider. Sender is used
// as the From address of messages that have none.
type Config struct {
	Region          string `yaml:"region" env:"REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	Sender          string `yaml:"sender" env:"SENDER"`
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	sender     string
	client     SendEmailAPI
	retryDelay time.Duration
}

// New creates a Provider from cfg. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *Provider {
	return &Provider{
		sender:     sender,
		client:     client,
		retryDelay: baseRetryDelay,
	}
}

// Name returns the provider name.
func (s *Provider) Name() string {
	return "ses"
}

// Send delivers msg via AWS SES v2. Messages with files, inline parts or
// related parts go out as raw MIME, everything else as simple content.
// The returned message carries the SES message ID.
func (s *Provider) Send(ctx context.Context, msg *email.Message) (*email.Message, error) {
	m := msg.Clone()
	m.From = lo.CoalesceOrEmpty(m.From, s.sender)

	var (
		input *sesv2.SendEmailInput
		sent  *email.Message
		err   error
	)
	if isSimple(&m) {
		input, err = buildSimpleInput(&m)
		sent = &m
	} else {
		input, sent, err = buildRawInput(&m)
	}
	if err != nil {
		return nil, err
	}

	var out *sesv2.SendEmailOutput
	attempt := 0
	b := retry.WithMaxRetries(maxRetries, retry.NewExponential(s.retryDelay))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}
		attempt++

		var sendErr error
		out, sendErr = s.client.SendEmail(ctx, input)
		if sendErr == nil {
			return nil
		}

		slog.Warn("SES API error",
			"attempt", attempt,
			"error", sendErr,
		)
		if isPermanent(sendErr) {
			return sendErr
		}
		return retry.RetryableError(sendErr)
	})
	if err != nil {
		return nil, fmt.Errorf("SES API request failed after %d attempts: %w", attempt, err)
	}

	sent.MessageID = aws.ToString(out.MessageId)
	return sent, nil
}

// isSimple reports whether msg fits the SES simple content format: a text
// body and at most one HTML alternative without related parts.
func isSimple(msg *email.Message) bool {
	html := 0
	for _, att := range msg.Attachments {
		if !att.Alternative || len(att.Related) > 0 || att.ContentType() != "text/html" {
			return false
		}
		html++
	}
	return html <= 1
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	if msg.From == "" {
		return nil, compose.ErrNoSender
	}
	if len(msg.Recipients()) == 0 {
		return nil, compose.ErrNoRecipients
	}

	body := &types.Body{}

	if len(msg.Attachments) > 0 {
		html, err := compose.Content(msg.Attachments[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read HTML body: %w", err)
		}
		body.Html = &types.Content{
			Data:    aws.String(string(html)),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.Text != "" || body.Html == nil {
		body.Text = &types.Content{
			Data:    aws.String(msg.Text),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      destination(msg),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}, nil
}

// buildRawInput renders msg as MIME and returns the input together with
// the message parsed back from what is sent.
func buildRawInput(msg *email.Message) (*sesv2.SendEmailInput, *email.Message, error) {
	m, err := compose.Build(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build raw message: %w", err)
	}
	raw, err := compose.Render(m)
	if err != nil {
		return nil, nil, err
	}

	sent, err := parser.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build raw message: %w", err)
	}
	sent.Bcc = slices.Clone(msg.Bcc)

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      destination(msg),
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}, sent, nil
}

// destination lists every recipient, since Bcc never appears in raw headers.
func destination(msg *email.Message) *types.Destination {
	return &types.Destination{
		ToAddresses:  msg.To,
		CcAddresses:  msg.Cc,
		BccAddresses: msg.Bcc,
	}
}

// isPermanent reports errors that retrying cannot fix.
func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var (
		rejected     *types.MessageRejected
		badRequest   *types.BadRequestException
		notVerified  *types.MailFromDomainNotVerifiedException
		suspended    *types.AccountSuspendedException
		pausedSender *types.SendingPausedException
	)
	switch {
	case errors.As(err, &rejected),
		errors.As(err, &badRequest),
		errors.As(err, &notVerified),
		errors.As(err, &suspended),
		errors.As(err, &pausedSender):
		return true
	}
	return false
}
