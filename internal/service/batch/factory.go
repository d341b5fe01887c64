package batch

import (
	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/internal/service/monitor"
	"github.com/Notifuse/dispatch/internal/service/queue"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// Factory creates and wires together all the batch components
type Factory struct {
	policies domain.PolicySet
	sender   domain.Sender
	history  domain.DeliveryHistoryRepository
	clock    queue.TimeProvider
	logger   logger.Logger
	config   *Config
}

// NewFactory creates a new factory for batch components. A nil clock uses the wall clock.
func NewFactory(
	policies domain.PolicySet,
	sender domain.Sender,
	history domain.DeliveryHistoryRepository,
	clock queue.TimeProvider,
	logger logger.Logger,
	config *Config,
) *Factory {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = queue.NewRealTimeProvider()
	}

	return &Factory{
		policies: policies,
		sender:   sender,
		history:  history,
		clock:    clock,
		logger:   logger,
		config:   config,
	}
}

// ConfigFromDispatch maps the application configuration onto the batch configuration
func ConfigFromDispatch(cfg config.DispatchConfig) *Config {
	return &Config{
		MaxBatchSize:        cfg.MaxBatchSize,
		ProgressLogInterval: cfg.ProgressLogInterval,
		HistoryTimeout:      cfg.HistoryTimeout,
		MXLookup:            cfg.MXLookup,
		MXCacheTTL:          cfg.MXCacheTTL,
	}
}

// CreateCoordinator validates the policies and builds a coordinator with its own registry and monitor
func (f *Factory) CreateCoordinator() (*BatchCoordinator, error) {
	if err := f.config.Validate(); err != nil {
		return nil, NewBatchError(ErrCodeConfigurationInvalid, "Invalid batch configuration", false, err)
	}

	registry, err := queue.NewRateLimiterRegistry(f.policies, f.clock, f.logger)
	if err != nil {
		return nil, NewBatchError(ErrCodeConfigurationInvalid, "Invalid provider policies", false, err)
	}

	coordinator := NewBatchCoordinator(
		registry,
		f.sender,
		monitor.NewPerformanceMonitor(f.logger),
		f.history,
		NewHostResolver(f.config, nil, f.logger),
		f.config,
		f.clock,
		f.logger,
	)

	f.logger.WithFields(map[string]interface{}{
		"transport":      f.sender.Transport(),
		"max_batch_size": f.config.MaxBatchSize,
		"history":        f.history != nil,
	}).Info("Batch coordinator created")

	return coordinator, nil
}
