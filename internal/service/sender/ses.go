package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/emailerror"
	"github.com/Notifuse/dispatch/pkg/logger"
	"github.com/Notifuse/dispatch/pkg/tracing"
)

// ErrInvalidAWSCredentials is returned when SES credentials are missing
var ErrInvalidAWSCredentials = errors.New("invalid AWS credentials")

// SESClient is the part of the SES API used to send
type SESClient interface {
	SendEmailWithContext(ctx aws.Context, input *ses.SendEmailInput, opts ...request.Option) (*ses.SendEmailOutput, error)
}

// SESSender sends through the Amazon SES API
type SESSender struct {
	client SESClient
	logger logger.Logger
}

// NewSESSender creates a sender with an SES client built from cfg.
// The SDK does not retry on its own, retries belong to the delivery queue.
func NewSESSender(cfg config.SESConfig, logger logger.Logger) (*SESSender, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, ErrInvalidAWSCredentials
	}

	awsConfig := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		HTTPClient:  tracing.WrapHTTPClient(&http.Client{}),
		MaxRetries:  aws.Int(0),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewSESSenderWithClient(ses.New(sess), logger), nil
}

// NewSESSenderWithClient creates a sender around an existing client
func NewSESSenderWithClient(client SESClient, logger logger.Logger) *SESSender {
	return &SESSender{
		client: client,
		logger: logger,
	}
}

// Transport implements domain.Sender
func (s *SESSender) Transport() string {
	return emailerror.TransportSES
}

// Send delivers payload to destination with SendEmail. Custom headers need
// SendRawEmail and are not carried.
func (s *SESSender) Send(ctx context.Context, destination string, payload *domain.Payload, timeout time.Duration) error {
	source := payload.FromAddress
	if payload.FromName != "" {
		source = fmt.Sprintf("%s <%s>", payload.FromName, payload.FromAddress)
	}

	body := &ses.Body{}
	if payload.HTML != "" {
		body.Html = &ses.Content{
			Charset: aws.String("UTF-8"),
			Data:    aws.String(payload.HTML),
		}
	}
	if text := textBody(payload); text != "" {
		body.Text = &ses.Content{
			Charset: aws.String("UTF-8"),
			Data:    aws.String(text),
		}
	}

	input := &ses.SendEmailInput{
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(destination)},
		},
		Message: &ses.Message{
			Body: body,
			Subject: &ses.Content{
				Charset: aws.String("UTF-8"),
				Data:    aws.String(payload.Subject),
			},
		},
		Source: aws.String(source),
	}
	if payload.ReplyTo != "" {
		input.ReplyToAddresses = []*string{aws.String(payload.ReplyTo)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := s.client.SendEmailWithContext(sendCtx, input)
	if err != nil {
		return fmt.Errorf("failed to send email with SES: %w", err)
	}

	tracing.AddAttribute(ctx, "ses.message_id", aws.StringValue(output.MessageId))
	s.logger.WithFields(map[string]interface{}{
		"destination": destination,
		"message_id":  aws.StringValue(output.MessageId),
	}).Debug("Email accepted by SES")
	return nil
}
