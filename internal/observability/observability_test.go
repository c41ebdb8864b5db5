package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	id "cua/internal/utils/id"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorExportsToRegistry(t *testing.T) {
	reg := promclient.NewRegistry()
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: true, Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = collector.Shutdown(context.Background()) })

	ctx := context.Background()
	collector.RecordOracleCall(ctx, "plan", "gpt-4o", "success", 120*time.Millisecond, 100, 20)
	collector.ConnectionOpened(ctx)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "cua_oracle_requests_total")
	assert.Contains(t, names, "cua_oracle_latency_seconds")
	assert.Contains(t, names, "cua_llm_tokens_input_total")
	assert.Contains(t, names, "cua_bridge_connections")
	for _, name := range names {
		assert.NotContains(t, name, ".", "metric %s is not underscore-escaped", name)
	}
}

func TestDisabledAndNilCollectorsAreSafe(t *testing.T) {
	disabled, err := NewMetricsCollector(MetricsConfig{})
	require.NoError(t, err)
	disabled.RecordOracleCall(context.Background(), "plan", "m", "error", time.Second, 1, 1)
	disabled.ConnectionClosed(context.Background())

	var nilCollector *MetricsCollector
	nilCollector.ConnectionOpened(context.Background())
	assert.NoError(t, nilCollector.Shutdown(context.Background()))
}

func TestDisabledTracerProducesNoopSpans(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{})
	require.NoError(t, err)

	ctx := id.WithTaskID(context.Background(), "task-1")
	_, span := tp.StartSpan(ctx, SpanTaskRun)
	assert.False(t, span.SpanContext().IsValid())
	EndSpan(span, errors.New("ignored"))
	assert.NoError(t, tp.Shutdown(context.Background()))

	var nilProvider *TracerProvider
	_, span = nilProvider.StartSpan(ctx, SpanTaskStep)
	EndSpan(span, nil)
}

func TestUnsupportedExporterIsRejected(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "jaeger"})
	assert.Error(t, err)
}
