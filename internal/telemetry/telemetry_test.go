package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/kuda/internal/config"
	"github.com/fyrsmithlabs/kuda/internal/logging"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.Default().Telemetry, "test", nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg, "test", nil)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledInstallsProviders(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	cfg := config.Default().Telemetry
	cfg.Enabled = true
	cfg.Protocol = "http/protobuf"
	cfg.Endpoint = "http://localhost:4318"
	cfg.Metrics = false

	tl := logging.NewTestLogger()
	tel, err := New(context.Background(), cfg, "test", tl.Logger)
	require.NoError(t, err)

	assert.True(t, tel.IsEnabled())
	assert.NotNil(t, tel.tracerProvider)
	assert.Nil(t, tel.meterProvider)
	assert.Same(t, tel.tracerProvider, otel.GetTracerProvider())
	assert.NotEmpty(t, tl.FilterMessage("telemetry enabled").All())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "otel.example.com", stripScheme("https://otel.example.com"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}

func TestNewResource(t *testing.T) {
	res := newResource(config.Default().Telemetry, "1.2.3")

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "kuda", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
}

func TestTestTelemetry_RecordsGlobalSignals(t *testing.T) {
	tt := NewTestTelemetry(t)

	_, span := otel.Tracer("test").Start(context.Background(), "publish.Publish")
	span.SetAttributes(attribute.String("project", "demo"))
	span.End()

	counter, err := otel.Meter("test").Int64Counter("kuda.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	tt.AssertSpanExists(t, "publish.Publish")
	tt.AssertSpanAttribute(t, "publish.Publish", "project", "demo")

	metrics := tt.Metrics(t)
	require.Contains(t, metrics, "kuda.test.count")
	sum, ok := metrics["kuda.test.count"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
}
