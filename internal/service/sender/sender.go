package sender

import (
	"fmt"

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// New creates the send capability selected by the configuration
func New(cfg *config.Config, log logger.Logger) (domain.Sender, error) {
	switch cfg.Dispatch.SenderKind {
	case config.SenderSMTP:
		if cfg.SMTP.Host == "" {
			return nil, fmt.Errorf("SMTP sender requires SMTP_HOST")
		}
		return NewSMTPSender(cfg.SMTP, log), nil
	case config.SenderSES:
		return NewSESSender(cfg.SES, log)
	case config.SenderConsole:
		return NewConsoleSender(log), nil
	default:
		return nil, fmt.Errorf("unknown sender kind %q", cfg.Dispatch.SenderKind)
	}
}

// RelayConfig returns the provider configuration that routes every message of a
// batch through the sender's relay host. Senders without one resolve per recipient.
func RelayConfig(cfg *config.Config) domain.ProviderConfig {
	switch cfg.Dispatch.SenderKind {
	case config.SenderSMTP:
		return domain.ProviderConfig{Host: cfg.SMTP.Host}
	default:
		return domain.ProviderConfig{}
	}
}
