package batch

import (
	"fmt"
	"time"
)

// Config contains configuration for batch processing
type Config struct {
	// MaxBatchSize is the hard ceiling on recipients per batch, larger batches are rejected
	MaxBatchSize int `json:"max_batch_size"`

	// Logging and metrics
	ProgressLogInterval time.Duration `json:"progress_log_interval"`

	// HistoryTimeout bounds each send history write
	HistoryTimeout time.Duration `json:"history_timeout"`

	// Destination host resolution
	MXLookup   bool          `json:"mx_lookup"`
	MXCacheTTL time.Duration `json:"mx_cache_ttl"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxBatchSize:        5000,
		ProgressLogInterval: 5 * time.Second,
		HistoryTimeout:      5 * time.Second,
		MXLookup:            true,
		MXCacheTTL:          time.Hour,
	}
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize)
	}
	if c.HistoryTimeout <= 0 {
		return fmt.Errorf("history timeout must be positive, got %s", c.HistoryTimeout)
	}
	return nil
}
