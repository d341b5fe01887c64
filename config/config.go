package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Notifuse/dispatch/internal/domain"
)

const VERSION = "1.0"

// Sender kinds
const (
	SenderSMTP    = "smtp"
	SenderSES     = "ses"
	SenderConsole = "console"
)

type Config struct {
	Database    DatabaseConfig
	Tracing     TracingConfig
	SMTP        SMTPConfig
	SES         SESConfig
	Dispatch    DispatchConfig
	History     HistoryConfig
	Environment string
	LogLevel    string
	Version     string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Prefix   string
	SSLMode  string
}

type TracingConfig struct {
	Enabled             bool
	ServiceName         string
	SamplingProbability float64

	// Trace exporter configuration
	TraceExporter string // "jaeger", "stackdriver", "zipkin", "datadog", "xray", "none"

	// Jaeger settings
	JaegerEndpoint string

	// Zipkin settings
	ZipkinEndpoint string

	// Stackdriver settings
	StackdriverProjectID string

	// Datadog settings
	DatadogAgentAddress string
	DatadogAPIKey       string

	// AWS X-Ray settings
	XRayRegion string

	// General agent endpoint (for exporters that support a common agent)
	AgentEndpoint string

	// Metrics exporter configuration
	MetricsExporter string // "prometheus", "stackdriver", "datadog", "none" or comma-separated list
	PrometheusPort  int
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	UseTLS    bool
}

type SESConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

type HistoryConfig struct {
	Enabled bool
}

// DispatchConfig holds the delivery engine settings
type DispatchConfig struct {
	SenderKind          string
	MaxBatchSize        int
	ProgressLogInterval time.Duration
	HistoryTimeout      time.Duration
	MXLookup            bool
	MXCacheTTL          time.Duration

	// Providers holds per-kind overrides read from the YAML config file
	Providers map[domain.ProviderKind]ProviderOverride
}

// ProviderOverride replaces the fields that are set on a built-in policy
type ProviderOverride struct {
	MaxConcurrent      *int           `mapstructure:"max_concurrent"`
	MinDelay           *time.Duration `mapstructure:"min_delay"`
	RateLimitPerMinute *int           `mapstructure:"rate_limit_per_minute"`
	BurstLimit         *int           `mapstructure:"burst_limit"`
	MaxRetries         *int           `mapstructure:"max_retries"`
	BackoffMultiplier  *float64       `mapstructure:"backoff_multiplier"`
	Timeout            *time.Duration `mapstructure:"timeout"`
}

// apply returns policy with the override's fields replaced
func (o ProviderOverride) apply(policy domain.ProviderPolicy) domain.ProviderPolicy {
	if o.MaxConcurrent != nil {
		policy.MaxConcurrent = *o.MaxConcurrent
	}
	if o.MinDelay != nil {
		policy.MinDelay = *o.MinDelay
	}
	if o.RateLimitPerMinute != nil {
		policy.RateLimitPerMinute = *o.RateLimitPerMinute
	}
	if o.BurstLimit != nil {
		policy.BurstLimit = *o.BurstLimit
	}
	if o.MaxRetries != nil {
		policy.MaxRetries = *o.MaxRetries
	}
	if o.BackoffMultiplier != nil {
		policy.BackoffMultiplier = *o.BackoffMultiplier
	}
	if o.Timeout != nil {
		policy.Timeout = *o.Timeout
	}
	return policy
}

// Policies returns the built-in policies with the configured overrides applied.
// The result is validated when the rate limiter registry is created.
func (c DispatchConfig) Policies() domain.PolicySet {
	policies := domain.DefaultPolicies()
	for kind, override := range c.Providers {
		policies[kind] = override.apply(policies.Lookup(kind))
	}
	return policies
}

// LoadOptions contains options for loading configuration
type LoadOptions struct {
	EnvFile    string // Optional environment file to load (e.g., ".env", ".env.test")
	ConfigFile string // Optional YAML file, carries provider policy overrides
}

// Load loads the configuration with default options
func Load() (*Config, error) {
	// Try to load .env file but don't require it
	return LoadWithOptions(LoadOptions{EnvFile: ".env"})
}

// LoadWithOptions loads the configuration with the specified options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_PREFIX", "dispatch")
	v.SetDefault("DB_NAME", "dispatch")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("VERSION", VERSION)
	v.SetDefault("HISTORY_ENABLED", false)

	// Dispatch defaults
	v.SetDefault("SENDER_KIND", SenderSMTP)
	v.SetDefault("DISPATCH_MAX_BATCH_SIZE", 5000)
	v.SetDefault("DISPATCH_PROGRESS_LOG_INTERVAL", 5*time.Second)
	v.SetDefault("DISPATCH_HISTORY_TIMEOUT", 5*time.Second)
	v.SetDefault("DISPATCH_MX_LOOKUP", true)
	v.SetDefault("DISPATCH_MX_CACHE_TTL", time.Hour)

	// SMTP defaults
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM_NAME", "Notifuse")
	v.SetDefault("SMTP_USE_TLS", true)

	// SES defaults
	v.SetDefault("SES_REGION", "us-east-1")

	// Default tracing config
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_SERVICE_NAME", "notifuse-dispatch")
	v.SetDefault("TRACING_SAMPLING_PROBABILITY", 0.1)
	v.SetDefault("TRACING_TRACE_EXPORTER", "none")
	v.SetDefault("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	v.SetDefault("TRACING_ZIPKIN_ENDPOINT", "http://localhost:9411/api/v2/spans")
	v.SetDefault("TRACING_STACKDRIVER_PROJECT_ID", "")
	v.SetDefault("TRACING_DATADOG_AGENT_ADDRESS", "localhost:8126")
	v.SetDefault("TRACING_DATADOG_API_KEY", "")
	v.SetDefault("TRACING_XRAY_REGION", "us-west-2")
	v.SetDefault("TRACING_AGENT_ENDPOINT", "localhost:8126")
	v.SetDefault("TRACING_METRICS_EXPORTER", "none")
	v.SetDefault("TRACING_PROMETHEUS_PORT", 9464)

	// Load environment file if specified
	if opts.EnvFile != "" {
		v.SetConfigName(opts.EnvFile)
		v.SetConfigType("env")

		currentPath, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current directory: %w", err)
		}

		v.AddConfigPath(currentPath)

		if err := v.ReadInConfig(); err != nil {
			// It's okay if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(opts.ConfigFile), "."))
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	providers, err := loadProviderOverrides(v)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			Prefix:   v.GetString("DB_PREFIX"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		SMTP: SMTPConfig{
			Host:      v.GetString("SMTP_HOST"),
			Port:      v.GetInt("SMTP_PORT"),
			Username:  v.GetString("SMTP_USERNAME"),
			Password:  v.GetString("SMTP_PASSWORD"),
			FromEmail: v.GetString("SMTP_FROM_EMAIL"),
			FromName:  v.GetString("SMTP_FROM_NAME"),
			UseTLS:    v.GetBool("SMTP_USE_TLS"),
		},
		SES: SESConfig{
			Region:    v.GetString("SES_REGION"),
			AccessKey: v.GetString("SES_ACCESS_KEY"),
			SecretKey: v.GetString("SES_SECRET_KEY"),
			Endpoint:  v.GetString("SES_ENDPOINT"),
		},
		Dispatch: DispatchConfig{
			SenderKind:          strings.ToLower(v.GetString("SENDER_KIND")),
			MaxBatchSize:        v.GetInt("DISPATCH_MAX_BATCH_SIZE"),
			ProgressLogInterval: v.GetDuration("DISPATCH_PROGRESS_LOG_INTERVAL"),
			HistoryTimeout:      v.GetDuration("DISPATCH_HISTORY_TIMEOUT"),
			MXLookup:            v.GetBool("DISPATCH_MX_LOOKUP"),
			MXCacheTTL:          v.GetDuration("DISPATCH_MX_CACHE_TTL"),
			Providers:           providers,
		},
		History: HistoryConfig{
			Enabled: v.GetBool("HISTORY_ENABLED"),
		},
		Tracing: TracingConfig{
			Enabled:             v.GetBool("TRACING_ENABLED"),
			ServiceName:         v.GetString("TRACING_SERVICE_NAME"),
			SamplingProbability: v.GetFloat64("TRACING_SAMPLING_PROBABILITY"),

			TraceExporter: v.GetString("TRACING_TRACE_EXPORTER"),

			JaegerEndpoint:       v.GetString("TRACING_JAEGER_ENDPOINT"),
			ZipkinEndpoint:       v.GetString("TRACING_ZIPKIN_ENDPOINT"),
			StackdriverProjectID: v.GetString("TRACING_STACKDRIVER_PROJECT_ID"),
			DatadogAgentAddress:  v.GetString("TRACING_DATADOG_AGENT_ADDRESS"),
			DatadogAPIKey:        v.GetString("TRACING_DATADOG_API_KEY"),
			XRayRegion:           v.GetString("TRACING_XRAY_REGION"),
			AgentEndpoint:        v.GetString("TRACING_AGENT_ENDPOINT"),

			MetricsExporter: v.GetString("TRACING_METRICS_EXPORTER"),
			PrometheusPort:  v.GetInt("TRACING_PROMETHEUS_PORT"),
		},

		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Version:     v.GetString("VERSION"),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadProviderOverrides reads the providers.<kind> section, unknown kinds are rejected
func loadProviderOverrides(v *viper.Viper) (map[domain.ProviderKind]ProviderOverride, error) {
	if !v.IsSet("providers") {
		return nil, nil
	}

	raw := make(map[string]ProviderOverride)
	if err := v.UnmarshalKey("providers", &raw); err != nil {
		return nil, fmt.Errorf("error decoding provider overrides: %w", err)
	}

	overrides := make(map[domain.ProviderKind]ProviderOverride, len(raw))
	for name, override := range raw {
		kind := domain.ProviderKind(strings.ToLower(name))
		if !kind.IsValid() {
			return nil, fmt.Errorf("unknown provider kind %q in providers section", name)
		}
		overrides[kind] = override
	}
	return overrides, nil
}

func (c *Config) validate() error {
	switch c.Dispatch.SenderKind {
	case SenderSMTP, SenderSES, SenderConsole:
	default:
		return fmt.Errorf("SENDER_KIND must be one of smtp, ses, console, got %q", c.Dispatch.SenderKind)
	}
	if c.Dispatch.MaxBatchSize <= 0 {
		return fmt.Errorf("DISPATCH_MAX_BATCH_SIZE must be positive, got %d", c.Dispatch.MaxBatchSize)
	}
	return nil
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
