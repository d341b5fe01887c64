package tracing

import (
	"context"
	"strings"
	"testing"

	"go.opencensus.io/trace"

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/pkg/logger"
)

func TestInitTracing_Disabled(t *testing.T) {
	cfg := &config.TracingConfig{
		Enabled: false,
	}

	err := InitTracing(cfg, logger.NewMockLogger())
	if err != nil {
		t.Fatalf("Expected no error when tracing is disabled, got: %v", err)
	}
}

func TestInitTracing_WithInvalidExporter(t *testing.T) {
	cfg := &config.TracingConfig{
		Enabled:       true,
		TraceExporter: "invalid",
	}

	err := InitTracing(cfg, logger.NewMockLogger())
	if err == nil {
		t.Error("Expected error with invalid exporter, got nil")
	}
}

func TestInitTracing_WithNoneExporters(t *testing.T) {
	log := logger.NewMockLogger()
	cfg := &config.TracingConfig{
		Enabled:             true,
		TraceExporter:       "none",
		MetricsExporter:     "none",
		SamplingProbability: 1.0,
		ServiceName:         "test-service",
	}

	if err := InitTracing(cfg, log); err != nil {
		t.Fatalf("Expected no error with 'none' exporters, got %v", err)
	}
	// registering the same views twice is allowed
	if err := InitTracing(cfg, log); err != nil {
		t.Fatalf("Expected no error on second initialization, got %v", err)
	}

	if len(log.Messages("info")) == 0 {
		t.Error("Expected an info log line about initialization")
	}
}

func TestInitMetricsExporters_WithInvalidExporter(t *testing.T) {
	cfg := &config.TracingConfig{
		Enabled:         true,
		MetricsExporter: "invalid",
	}

	err := initMetricsExporters(cfg, logger.NewMockLogger())
	if err == nil {
		t.Error("Expected error with invalid metrics exporter, got nil")
	}
}

func TestInitMetricsExporters_Disabled(t *testing.T) {
	for _, exporter := range []string{"none", ""} {
		cfg := &config.TracingConfig{
			Enabled:         true,
			MetricsExporter: exporter,
		}

		if err := initMetricsExporters(cfg, logger.NewMockLogger()); err != nil {
			t.Fatalf("Expected no error when metrics are disabled (%q), got: %v", exporter, err)
		}
	}
}

func TestInitMetricsExporters_WithMultipleExportersSplitting(t *testing.T) {
	exporterStr := "prometheus, stackdriver,  datadog,, "
	exporters := strings.Split(exporterStr, ",")

	count := 0
	for _, exp := range exporters {
		if strings.TrimSpace(exp) != "" {
			count++
		}
	}

	if count != 3 {
		t.Errorf("Expected 3 non-empty exporters, got %d", count)
	}
}

func TestInitTraceExporter_NoneOrEmpty(t *testing.T) {
	for _, exporter := range []string{"none", ""} {
		cfg := &config.TracingConfig{TraceExporter: exporter}
		if err := initTraceExporter(cfg, logger.NewMockLogger()); err != nil {
			t.Errorf("Expected no error for %q exporter, got %v", exporter, err)
		}
	}
}

func TestInitExporters_MissingSettings(t *testing.T) {
	log := logger.NewMockLogger()

	testCases := []struct {
		name string
		init func(*config.TracingConfig, logger.Logger) error
		cfg  *config.TracingConfig
	}{
		{"jaeger", initJaegerExporter, &config.TracingConfig{ServiceName: "test-service"}},
		{"zipkin", initZipkinExporter, &config.TracingConfig{}},
		{"stackdriver trace", initStackdriverTraceExporter, &config.TracingConfig{}},
		{"datadog trace", initDatadogTraceExporter, &config.TracingConfig{ServiceName: "test-service"}},
		{"xray", initXRayExporter, &config.TracingConfig{}},
		{"stackdriver metrics", initStackdriverMetricsExporter, &config.TracingConfig{}},
		{"datadog metrics", initDatadogMetricsExporter, &config.TracingConfig{ServiceName: "test-service"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.init(tc.cfg, log); err == nil {
				t.Errorf("Expected error when %s settings are missing", tc.name)
			}
		})
	}
}

func TestInitPrometheusExporter_WithoutPort(t *testing.T) {
	cfg := &config.TracingConfig{
		ServiceName:    "test_service",
		PrometheusPort: 0,
	}

	err := initPrometheusExporter(cfg, logger.NewMockLogger())
	if err != nil {
		t.Errorf("Expected no error when initializing Prometheus exporter without port, got %v", err)
	}
}

func TestInitDatadogExporters_WithFallbackEndpoint(t *testing.T) {
	cfg := &config.TracingConfig{
		DatadogAgentAddress: "",
		AgentEndpoint:       "localhost:8126",
		ServiceName:         "test-service",
		DatadogAPIKey:       "test-api-key",
	}

	// the exporters are created without contacting the agent
	if err := initDatadogTraceExporter(cfg, logger.NewMockLogger()); err != nil {
		t.Errorf("Expected no error when initializing Datadog trace exporter, got %v", err)
	}
	if err := initDatadogMetricsExporter(cfg, logger.NewMockLogger()); err != nil {
		t.Errorf("Expected no error when initializing Datadog metrics exporter, got %v", err)
	}
}

func TestGetHTTPOptions(t *testing.T) {
	transport := GetHTTPOptions()

	if transport.FormatSpanName == nil {
		t.Fatal("Expected FormatSpanName to be set")
	}
	if transport.StartOptions.Sampler == nil {
		t.Error("Expected a sampler to be set")
	}
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSpan(ctx, "test-span")
	defer span.End()

	if span == nil {
		t.Fatal("Expected span to be created")
	}
	if trace.FromContext(newCtx) != span {
		t.Error("Expected span to be stored in the returned context")
	}
}

func TestStartSpanWithAttributes(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSpanWithAttributes(ctx, "test-span",
		trace.StringAttribute("provider", "gmail"),
		trace.Int64Attribute("retry_count", 2),
	)
	defer span.End()

	if span == nil {
		t.Fatal("Expected span to be created")
	}
	if newCtx == ctx {
		t.Error("Expected new context to be different from original")
	}
}
