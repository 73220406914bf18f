package telemetry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/telemetry"
)

func TestNewIntegrationMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter:  meter,
		Logger: zap.NewNop(),
	})

	require.NoError(t, err)
	require.NotNil(t, im)
}

func TestNewIntegrationMetrics_NilMeter(t *testing.T) {
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter:  nil,
		Logger: zap.NewNop(),
	})

	require.Error(t, err)
	assert.Nil(t, im)
	assert.Equal(t, "NewIntegrationMetrics: meter cannot be nil", err.Error())
}

func TestIntegrationMetrics_RecordPacket(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()
	tenantID := uuid.New()

	// Should not panic
	im.RecordPacket(ctx, tenantID, "plc-line-1", telemetry.DirectionReceived, 2048)
	im.RecordPacket(ctx, tenantID, "erp-main", telemetry.DirectionSent, 512)
}

func TestIntegrationMetrics_RecordPacket_GlobalScope(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()

	// Globally scoped adapters carry the nil tenant
	im.RecordPacket(ctx, uuid.Nil, "erp-main", telemetry.DirectionReceived, 1024)

	// Unknown payload size records the packet but no bytes
	im.RecordPacket(ctx, uuid.Nil, "erp-main", telemetry.DirectionReceived, 0)
}

func TestIntegrationMetrics_RecordPacketProcessed(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()
	tenantID := uuid.New()

	// Should not panic
	im.RecordPacketProcessed(ctx, tenantID, "telemetry-to-warehouse")
	im.RecordPacketProcessed(ctx, uuid.Nil, "telemetry-to-warehouse")
}

func TestIntegrationMetrics_RecordDataError(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()
	tenantID := uuid.New()

	// Should not panic
	im.RecordDataError(ctx, tenantID, "plc-line-1")
}

func TestIntegrationMetrics_RecordAdapterError(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()
	tenantID := uuid.New()

	// Should not panic, with and without a breaker trip
	im.RecordAdapterError(ctx, tenantID, "erp-main", "connection", false)
	im.RecordAdapterError(ctx, tenantID, "erp-main", "timeout", true)
}

func TestIntegrationMetrics_RecordReconnect(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	ctx := context.Background()

	// Should not panic
	im.RecordReconnect(ctx, uuid.Nil, "plc-line-1")
}

// Mock implementation for testing periodic collection

type mockFleetProvider struct {
	adapters    []telemetry.AdapterSample
	pipelines   []telemetry.PipelineSample
	adapterErr  error
	pipelineErr error
	collections atomic.Int64
}

func (m *mockFleetProvider) AdapterSamples(ctx context.Context) ([]telemetry.AdapterSample, error) {
	m.collections.Add(1)
	if m.adapterErr != nil {
		return nil, m.adapterErr
	}
	return m.adapters, nil
}

func (m *mockFleetProvider) PipelineSamples(ctx context.Context) ([]telemetry.PipelineSample, error) {
	if m.pipelineErr != nil {
		return nil, m.pipelineErr
	}
	return m.pipelines, nil
}

func TestIntegrationMetrics_PeriodicCollection(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	fleetProvider := &mockFleetProvider{
		adapters: []telemetry.AdapterSample{
			{ID: "plc-line-1", Type: "mqtt", Scope: "tenant:" + uuid.NewString(), ConnectionStatus: "connected", SuccessRate: 98.5, Latency: 12 * time.Millisecond},
			{ID: "erp-main", Type: "rest", Scope: "global", ConnectionStatus: "error", SuccessRate: 41.0, Latency: 2 * time.Second},
		},
		pipelines: []telemetry.PipelineSample{
			{ID: "telemetry-to-warehouse", State: "running"},
			{ID: "orders-to-mes", State: "stopped"},
		},
	}

	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter:         meter,
		Logger:        zap.NewNop(),
		FleetProvider: fleetProvider,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start periodic collection with short interval for testing
	im.StartPeriodicCollection(ctx, 100*time.Millisecond)

	// Wait for at least one collection cycle
	time.Sleep(150 * time.Millisecond)

	// Stop collection
	im.Stop()

	assert.GreaterOrEqual(t, fleetProvider.collections.Load(), int64(1))
}

func TestIntegrationMetrics_PeriodicCollection_NoProvider(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter:  meter,
		Logger: zap.NewNop(),
		// No fleet provider
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Should not panic with no fleet provider
	im.StartPeriodicCollection(ctx, 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	im.Stop()
}

func TestIntegrationMetrics_PeriodicCollection_ProviderError(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	fleetProvider := &mockFleetProvider{
		adapterErr:  errors.New("registry unavailable"),
		pipelineErr: errors.New("registry unavailable"),
	}

	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter:         meter,
		Logger:        zap.NewNop(),
		FleetProvider: fleetProvider,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A failing provider is logged, not fatal; the loop keeps collecting
	im.StartPeriodicCollection(ctx, 50*time.Millisecond)

	time.Sleep(130 * time.Millisecond)
	im.Stop()

	assert.GreaterOrEqual(t, fleetProvider.collections.Load(), int64(2))
}

func TestIntegrationMetrics_Stop_Idempotent(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter: meter,
	})
	require.NoError(t, err)

	// Calling Stop multiple times should not panic
	im.Stop()
	im.Stop()
	im.Stop()
}

func TestIntegrationMetrics_StartPeriodicCollection_OnlyOnce(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	im, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
		Meter:  meter,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Calling StartPeriodicCollection multiple times should only start once
	im.StartPeriodicCollection(ctx, time.Hour)
	im.StartPeriodicCollection(ctx, time.Minute)
	im.StartPeriodicCollection(ctx, time.Second)

	im.Stop()
}

func TestDirection_Values(t *testing.T) {
	assert.Equal(t, telemetry.Direction("received"), telemetry.DirectionReceived)
	assert.Equal(t, telemetry.Direction("sent"), telemetry.DirectionSent)
}

func TestMetricsError_Error(t *testing.T) {
	err := &telemetry.MetricsError{
		Op:  "TestOperation",
		Err: "test error message",
	}

	assert.Equal(t, "TestOperation: test error message", err.Error())
}
