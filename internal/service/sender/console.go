package sender

import (
	"context"
	"time"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/emailerror"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// ConsoleSender logs messages instead of sending them, for development
type ConsoleSender struct {
	logger logger.Logger
}

// NewConsoleSender creates a new instance of ConsoleSender
func NewConsoleSender(logger logger.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

// Transport implements domain.Sender
func (s *ConsoleSender) Transport() string {
	return emailerror.TransportConsole
}

// Send logs the message, it fails only when ctx is already done
func (s *ConsoleSender) Send(ctx context.Context, destination string, payload *domain.Payload, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"to":         destination,
		"from":       payload.FromAddress,
		"subject":    payload.Subject,
		"html_bytes": len(payload.HTML),
		"text":       textBody(payload),
	}).Info("Message sent to console")
	return nil
}
