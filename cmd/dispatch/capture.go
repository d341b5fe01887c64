package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Notifuse/dispatch/pkg/logger"
	"github.com/Notifuse/dispatch/pkg/smtp"
)

// captureOptions are the flags of the capture command
type captureOptions struct {
	Host     string
	Port     int
	Domain   string
	Username string
	Password string
}

// runCapture serves the SMTP capture server until ctx is done
func runCapture(ctx context.Context, opts captureOptions, appLogger logger.Logger) error {
	var authenticator smtp.AuthHandler
	if opts.Username != "" {
		authenticator = func(username, password string) error {
			if username != opts.Username || password != opts.Password {
				return errors.New("invalid credentials")
			}
			return nil
		}
	}

	backend := smtp.NewBackend(authenticator, nil, appLogger)
	server := smtp.NewServer(smtp.ServerConfig{
		Host:   opts.Host,
		Port:   opts.Port,
		Domain: opts.Domain,
		Logger: appLogger,
	}, backend)

	addr, err := server.Listen()
	if err != nil {
		return fmt.Errorf("failed to start capture server: %w", err)
	}
	appLogger.WithField("addr", addr.String()).Info("SMTP capture server listening")

	served := make(chan error, 1)
	go func() { served <- server.Serve() }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop capture server: %w", err)
	}
	<-served
	appLogger.WithField("messages", len(backend.Messages())).Info("SMTP capture server stopped")
	return nil
}
