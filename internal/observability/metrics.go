package observability

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/otlptranslator"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records oracle traffic and extension connectivity through
// OpenTelemetry instruments exported to Prometheus. The zero value and a nil
// pointer are valid and record nothing.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider

	oracleRequests metric.Int64Counter
	oracleLatency  metric.Float64Histogram
	tokensInput    metric.Int64Counter
	tokensOutput   metric.Int64Counter

	connections metric.Int64UpDownCounter
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool
	// Registerer receives the exporter's collector; nil means the default registry.
	Registerer promclient.Registerer
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	// Underscore names keep /metrics scrapeable by pre-UTF-8 Prometheus servers.
	opts := []otelprom.Option{
		otelprom.WithTranslationStrategy(otlptranslator.UnderscoreEscapingWithSuffixes),
	}
	if config.Registerer != nil {
		opts = append(opts, otelprom.WithRegisterer(config.Registerer))
	}
	exporter, err := otelprom.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(instrumentationName)

	oracleRequests, err := meter.Int64Counter(
		"cua.oracle.requests",
		metric.WithDescription("Total number of oracle (LLM) calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle_requests counter: %w", err)
	}

	oracleLatency, err := meter.Float64Histogram(
		"cua.oracle.latency",
		metric.WithDescription("Oracle call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle_latency histogram: %w", err)
	}

	tokensInput, err := meter.Int64Counter(
		"cua.llm.tokens.input",
		metric.WithDescription("Total prompt tokens sent to the LLM"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens_input counter: %w", err)
	}

	tokensOutput, err := meter.Int64Counter(
		"cua.llm.tokens.output",
		metric.WithDescription("Total completion tokens returned by the LLM"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens_output counter: %w", err)
	}

	connections, err := meter.Int64UpDownCounter(
		"cua.bridge.connections",
		metric.WithDescription("Number of connected browser extensions"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connections gauge: %w", err)
	}

	return &MetricsCollector{
		provider:       provider,
		oracleRequests: oracleRequests,
		oracleLatency:  oracleLatency,
		tokensInput:    tokensInput,
		tokensOutput:   tokensOutput,
		connections:    connections,
	}, nil
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordOracleCall records one oracle operation (plan, verify, verify_final).
func (m *MetricsCollector) RecordOracleCall(ctx context.Context, operation, model, status string, latency time.Duration, inputTokens, outputTokens int) {
	if m == nil || m.oracleRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.oracleRequests.Add(ctx, 1, attrs)
	m.oracleLatency.Record(ctx, latency.Seconds(), attrs)

	modelAttr := metric.WithAttributes(attribute.String("model", model))
	if inputTokens > 0 {
		m.tokensInput.Add(ctx, int64(inputTokens), modelAttr)
	}
	if outputTokens > 0 {
		m.tokensOutput.Add(ctx, int64(outputTokens), modelAttr)
	}
}

// ConnectionOpened increments the connected extensions gauge.
func (m *MetricsCollector) ConnectionOpened(ctx context.Context) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(ctx, 1)
}

// ConnectionClosed decrements the connected extensions gauge.
func (m *MetricsCollector) ConnectionClosed(ctx context.Context) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(ctx, -1)
}
