package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/reckon/engine/internal/infrastructure/config"
	"github.com/reckon/engine/internal/infrastructure/telemetry"
)

func disabledTelemetryConfig() *config.TelemetryConfig {
	return &config.TelemetryConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:4317",
		SamplingRatio:     1.0,
		ServiceName:       "reckon-test",
		Insecure:          true,
	}
}

func TestNewTracerProvider_NilConfig(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tp, err := telemetry.NewTracerProvider(context.Background(), nil, logger)

	require.Error(t, err)
	assert.Nil(t, tp)
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tp, err := telemetry.NewTracerProvider(context.Background(), disabledTelemetryConfig(), logger)

	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.False(t, tp.IsEnabled())
}

func TestNewTracerProvider_NilLogger(t *testing.T) {
	tp, err := telemetry.NewTracerProvider(context.Background(), disabledTelemetryConfig(), nil)

	require.NoError(t, err)
	require.NotNil(t, tp)
}

func TestNewTracerProvider_Enabled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that initializes an OTLP exporter")
	}

	logger := zaptest.NewLogger(t)
	cfg := &config.TelemetryConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:4317",
		SamplingRatio:     1.0,
		ServiceName:       "reckon-test",
		Insecure:          true,
	}

	tp, err := telemetry.NewTracerProvider(context.Background(), cfg, logger)

	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.True(t, tp.IsEnabled())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, tp.Shutdown(shutdownCtx))
}

func TestNewTracerProvider_SamplingRatios(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
	}{
		{"always sample", 1.0},
		{"never sample", 0.0},
		{"partial sample", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zaptest.NewLogger(t)
			cfg := disabledTelemetryConfig()
			cfg.SamplingRatio = tt.ratio

			tp, err := telemetry.NewTracerProvider(context.Background(), cfg, logger)

			require.NoError(t, err)
			require.NotNil(t, tp)
		})
	}
}

func TestTracerProvider_Tracer_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tp, err := telemetry.NewTracerProvider(context.Background(), disabledTelemetryConfig(), logger)
	require.NoError(t, err)

	tracer := tp.Tracer("test")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop-operation")
	span.End()
}

func TestTracerProvider_Shutdown_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tp, err := telemetry.NewTracerProvider(context.Background(), disabledTelemetryConfig(), logger)
	require.NoError(t, err)

	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracerProvider_ForceFlush_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tp, err := telemetry.NewTracerProvider(context.Background(), disabledTelemetryConfig(), logger)
	require.NoError(t, err)

	assert.NoError(t, tp.ForceFlush(context.Background()))
}
