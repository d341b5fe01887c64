package sender

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/emailerror"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// SMTPSender hands messages to one SMTP server
type SMTPSender struct {
	config config.SMTPConfig
	logger logger.Logger
}

// NewSMTPSender creates a new instance of SMTPSender
func NewSMTPSender(cfg config.SMTPConfig, logger logger.Logger) *SMTPSender {
	return &SMTPSender{
		config: cfg,
		logger: logger,
	}
}

// Transport implements domain.Sender
func (s *SMTPSender) Transport() string {
	return emailerror.TransportSMTP
}

// Send delivers payload to destination through the configured SMTP server
func (s *SMTPSender) Send(ctx context.Context, destination string, payload *domain.Payload, timeout time.Duration) error {
	msg, err := buildMessage(destination, payload)
	if err != nil {
		return err
	}

	options := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.config.UseTLS {
		options = append(options, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if s.config.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
		)
	}

	client, err := mail.NewClient(s.config.Host, options...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMessage(destination string, payload *domain.Payload) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if payload.FromName != "" {
		if err := msg.FromFormat(payload.FromName, payload.FromAddress); err != nil {
			return nil, fmt.Errorf("invalid sender: %w", err)
		}
	} else if err := msg.From(payload.FromAddress); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(destination); err != nil {
		return nil, fmt.Errorf("invalid recipient email: %w", err)
	}
	if payload.ReplyTo != "" {
		if err := msg.ReplyTo(payload.ReplyTo); err != nil {
			return nil, fmt.Errorf("invalid reply-to address: %w", err)
		}
	}
	msg.Subject(payload.Subject)
	msg.SetMessageID()
	msg.SetDate()

	names := make([]string, 0, len(payload.Headers))
	for name := range payload.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		msg.SetGenHeader(mail.Header(name), payload.Headers[name])
	}

	text := textBody(payload)
	switch {
	case payload.HTML != "" && text != "":
		msg.SetBodyString(mail.TypeTextPlain, text)
		msg.AddAlternativeString(mail.TypeTextHTML, payload.HTML)
	case payload.HTML != "":
		msg.SetBodyString(mail.TypeTextHTML, payload.HTML)
	default:
		msg.SetBodyString(mail.TypeTextPlain, text)
	}
	return msg, nil
}
