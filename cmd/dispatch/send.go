package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/internal/database"
	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/internal/repository"
	"github.com/Notifuse/dispatch/internal/service/batch"
	"github.com/Notifuse/dispatch/internal/service/sender"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// sendOptions are the flags of the send command
type sendOptions struct {
	RecipientsPath string
	Template       templateOptions
}

// connectHistory is replaced in tests
var connectHistory = database.Connect

// runSend delivers one batch and returns its result. Cancelling ctx cancels the batch.
func runSend(ctx context.Context, cfg *config.Config, opts sendOptions, appLogger logger.Logger) (*domain.BatchResult, error) {
	raw, err := os.ReadFile(opts.RecipientsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients: %w", err)
	}
	recipients, err := parseRecipients(raw)
	if err != nil {
		return nil, err
	}

	if opts.Template.FromAddress == "" {
		opts.Template.FromAddress = cfg.SMTP.FromEmail
	}
	if opts.Template.FromName == "" {
		opts.Template.FromName = cfg.SMTP.FromName
	}
	renderer, err := newTemplateRenderer(ctx, opts.Template)
	if err != nil {
		return nil, err
	}

	send, err := sender.New(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	var history domain.DeliveryHistoryRepository
	if cfg.History.Enabled {
		var db *sql.DB
		if db, err = connectHistory(cfg, appLogger); err != nil {
			return nil, err
		}
		defer db.Close()
		history = repository.NewDeliveryHistoryRepository(db)
	}

	factory := batch.NewFactory(cfg.Dispatch.Policies(), send, history, nil, appLogger, batch.ConfigFromDispatch(cfg.Dispatch))
	coordinator, err := factory.CreateCoordinator()
	if err != nil {
		return nil, err
	}
	defer coordinator.Close()

	b, err := coordinator.Start(ctx, recipients, renderer.Render, sender.RelayConfig(cfg))
	if err != nil {
		return nil, err
	}

	logged := make(chan struct{})
	go func() {
		defer close(logged)
		for failure := range b.Failures() {
			appLogger.WithFields(map[string]interface{}{
				"destination": failure.Destination,
				"kind":        string(failure.Kind),
				"category":    failure.Category,
				"attempts":    failure.Attempts,
				"error":       failure.Error,
			}).Warn("Delivery failed")
		}
	}()

	result, err := b.Wait(context.Background())
	<-logged
	for identity, stats := range coordinator.LimiterStats() {
		appLogger.WithFields(map[string]interface{}{
			"provider":         identity,
			"total_admissions": stats.TotalAdmissions,
			"window_waits":     stats.WindowWaits,
			"burst_cooldowns":  stats.BurstCooldowns,
			"avg_wait_ms":      stats.AvgWaitMs,
		}).Debug("Provider limiter stats")
	}
	for _, recommendation := range coordinator.Monitor().Recommendations() {
		appLogger.Warn(recommendation)
	}
	return result, err
}
