// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// IntegrationMetrics provides integration metrics for the platform.
// It tracks packet flow across adapter boundaries, adapter failures, and
// point-in-time fleet health.
type IntegrationMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	packetsTotal          *Counter
	packetBytesTotal      *Counter
	packetsProcessedTotal *Counter
	dataErrorsTotal       *Counter
	adapterErrorsTotal    *Counter
	breakerTripsTotal     *Counter
	reconnectsTotal       *Counter

	// Gauge metrics (point-in-time values)
	adapterCount       *Gauge
	pipelineCount      *Gauge
	adapterSuccessRate *FloatGauge
	adapterLatency     *FloatGauge

	// Periodic collector
	stopChan        chan struct{}
	stopOnce        sync.Once
	collectOnce     sync.Once
	collectInterval time.Duration

	// Data provider for periodic collection
	fleetProvider FleetMetricsProvider
}

// AdapterSample is a point-in-time observation of one registered adapter.
// Adapter ids are unique per scope, not globally, so the scope is part of
// the sample identity.
type AdapterSample struct {
	ID               string
	Type             string
	Scope            string
	ConnectionStatus string
	SuccessRate      float64
	Latency          time.Duration
}

// PipelineSample is a point-in-time observation of one pipeline.
type PipelineSample struct {
	ID    string
	State string
}

// FleetMetricsProvider provides adapter and pipeline state for periodic
// metrics collection. This interface allows the telemetry layer to observe
// the fleet without depending on the integration domain directly.
type FleetMetricsProvider interface {
	// AdapterSamples returns the maintained health record of every registered adapter
	AdapterSamples(ctx context.Context) ([]AdapterSample, error)

	// PipelineSamples returns the lifecycle state of every pipeline
	PipelineSamples(ctx context.Context) ([]PipelineSample, error)
}

// IntegrationMetricsConfig holds configuration for integration metrics.
type IntegrationMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 30 seconds
	FleetProvider   FleetMetricsProvider
}

// NewIntegrationMetrics creates a new IntegrationMetrics instance.
func NewIntegrationMetrics(cfg IntegrationMetricsConfig) (*IntegrationMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	im := &IntegrationMetrics{
		meter:           cfg.Meter,
		logger:          logger,
		stopChan:        make(chan struct{}),
		collectInterval: cfg.CollectInterval,
		fleetProvider:   cfg.FleetProvider,
	}

	// Initialize counter metrics
	var err error

	// Packet metrics
	im.packetsTotal, err = NewCounter(
		cfg.Meter,
		"integration_packets_total",
		"Total number of data packets crossing adapter boundaries",
		"{packets}",
	)
	if err != nil {
		return nil, err
	}

	im.packetBytesTotal, err = NewCounter(
		cfg.Meter,
		"integration_packet_bytes_total",
		"Total serialized payload bytes crossing adapter boundaries",
		"By",
	)
	if err != nil {
		return nil, err
	}

	im.packetsProcessedTotal, err = NewCounter(
		cfg.Meter,
		"integration_packets_processed_total",
		"Total number of packets fully processed by pipelines",
		"{packets}",
	)
	if err != nil {
		return nil, err
	}

	im.dataErrorsTotal, err = NewCounter(
		cfg.Meter,
		"integration_data_errors_total",
		"Total number of packet-level failures",
		"{errors}",
	)
	if err != nil {
		return nil, err
	}

	// Adapter failure metrics
	im.adapterErrorsTotal, err = NewCounter(
		cfg.Meter,
		"integration_adapter_errors_total",
		"Total number of recorded adapter errors by kind",
		"{errors}",
	)
	if err != nil {
		return nil, err
	}

	im.breakerTripsTotal, err = NewCounter(
		cfg.Meter,
		"integration_breaker_trips_total",
		"Total number of circuit breaker trips",
		"{trips}",
	)
	if err != nil {
		return nil, err
	}

	im.reconnectsTotal, err = NewCounter(
		cfg.Meter,
		"integration_reconnects_total",
		"Total number of scheduled reconnect attempts",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	// Fleet gauge metrics
	im.adapterCount, err = NewGauge(
		cfg.Meter,
		"integration_adapters",
		"Number of registered adapters by type and connection status",
		"{adapters}",
	)
	if err != nil {
		return nil, err
	}

	im.pipelineCount, err = NewGauge(
		cfg.Meter,
		"integration_pipelines",
		"Number of pipelines by lifecycle state",
		"{pipelines}",
	)
	if err != nil {
		return nil, err
	}

	im.adapterSuccessRate, err = NewFloatGauge(
		cfg.Meter,
		"integration_adapter_success_rate",
		"Exponentially weighted health check success rate per adapter",
		"%",
	)
	if err != nil {
		return nil, err
	}

	im.adapterLatency, err = NewFloatGauge(
		cfg.Meter,
		"integration_adapter_latency_seconds",
		"Last health check round-trip time per adapter",
		"s",
	)
	if err != nil {
		return nil, err
	}

	return im, nil
}

// scopeAttrs appends the tenant attribute for tenant-scoped sources. The nil
// UUID marks a globally scoped source and carries no tenant label.
func scopeAttrs(tenantID uuid.UUID, attrs ...attribute.KeyValue) []attribute.KeyValue {
	if tenantID == uuid.Nil {
		return attrs
	}
	return append(attrs, AttrTenantID.String(tenantID.String()))
}

// =============================================================================
// Packet Metrics
// =============================================================================

// Direction labels which way a packet crossed the adapter boundary.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// RecordPacket records one packet crossing an adapter boundary.
// This should be called when a data received or sent event is observed.
func (im *IntegrationMetrics) RecordPacket(ctx context.Context, tenantID uuid.UUID, integrationID string, direction Direction, bytes int64) {
	attrs := scopeAttrs(tenantID,
		AttrIntegrationID.String(integrationID),
		AttrDirection.String(string(direction)),
	)
	im.packetsTotal.Inc(ctx, attrs...)
	if bytes > 0 {
		im.packetBytesTotal.Add(ctx, bytes, attrs...)
	}
}

// RecordPacketProcessed records a packet that cleared every pipeline stage.
func (im *IntegrationMetrics) RecordPacketProcessed(ctx context.Context, tenantID uuid.UUID, pipelineID string) {
	im.packetsProcessedTotal.Inc(ctx, scopeAttrs(tenantID,
		AttrPipelineID.String(pipelineID),
	)...)
}

// RecordDataError records a packet-level failure attributed to its source,
// an adapter id or a pipeline id depending on where the packet was lost.
func (im *IntegrationMetrics) RecordDataError(ctx context.Context, tenantID uuid.UUID, sourceID string) {
	im.dataErrorsTotal.Inc(ctx, scopeAttrs(tenantID,
		AttrIntegrationID.String(sourceID),
	)...)
}

// =============================================================================
// Adapter Failure Metrics
// =============================================================================

// RecordAdapterError records one classified adapter failure. A failure that
// tripped the circuit breaker is counted under both metrics.
func (im *IntegrationMetrics) RecordAdapterError(ctx context.Context, tenantID uuid.UUID, integrationID, kind string, breakerTripped bool) {
	im.adapterErrorsTotal.Inc(ctx, scopeAttrs(tenantID,
		AttrIntegrationID.String(integrationID),
		AttrErrorKind.String(kind),
	)...)
	if breakerTripped {
		im.breakerTripsTotal.Inc(ctx, scopeAttrs(tenantID,
			AttrIntegrationID.String(integrationID),
		)...)
	}
}

// RecordReconnect records a scheduled reconnect attempt.
func (im *IntegrationMetrics) RecordReconnect(ctx context.Context, tenantID uuid.UUID, integrationID string) {
	im.reconnectsTotal.Inc(ctx, scopeAttrs(tenantID,
		AttrIntegrationID.String(integrationID),
	)...)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic collection of gauge metrics.
// It samples the adapter fleet every interval, falling back to the configured
// CollectInterval and then to 30 seconds.
// This is non-blocking - use Stop() to stop collection.
func (im *IntegrationMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	im.collectOnce.Do(func() {
		if interval <= 0 {
			interval = im.collectInterval
		}
		if interval <= 0 {
			interval = 30 * time.Second
		}

		go im.runPeriodicCollection(ctx, interval)
	})
}

// runPeriodicCollection runs the periodic collection loop.
func (im *IntegrationMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	im.collectFleetMetrics(ctx)

	for {
		select {
		case <-im.stopChan:
			im.logger.Info("Stopping periodic integration metrics collection")
			return
		case <-ctx.Done():
			im.logger.Info("Context cancelled, stopping periodic integration metrics collection")
			return
		case <-ticker.C:
			im.collectFleetMetrics(ctx)
		}
	}
}

// collectFleetMetrics samples every adapter and pipeline once.
func (im *IntegrationMetrics) collectFleetMetrics(ctx context.Context) {
	if im.fleetProvider == nil {
		im.logger.Debug("No fleet provider configured, skipping fleet metrics collection")
		return
	}

	im.collectAdapterMetrics(ctx)
	im.collectPipelineMetrics(ctx)
}

// collectAdapterMetrics records the adapter count and per-adapter health gauges.
func (im *IntegrationMetrics) collectAdapterMetrics(ctx context.Context) {
	samples, err := im.fleetProvider.AdapterSamples(ctx)
	if err != nil {
		im.logger.Error("Failed to sample adapters for metrics collection", zap.Error(err))
		return
	}

	counts := make(map[[2]string]int64)
	for _, s := range samples {
		counts[[2]string{s.Type, s.ConnectionStatus}]++

		im.adapterSuccessRate.Record(ctx, s.SuccessRate,
			AttrIntegrationID.String(s.ID),
			AttrScope.String(s.Scope),
		)
		im.adapterLatency.Record(ctx, s.Latency.Seconds(),
			AttrIntegrationID.String(s.ID),
			AttrScope.String(s.Scope),
		)
	}

	for key, n := range counts {
		im.adapterCount.Record(ctx, n,
			AttrSystemType.String(key[0]),
			AttrConnectionStatus.String(key[1]),
		)
	}
}

// collectPipelineMetrics records the pipeline count gauge.
func (im *IntegrationMetrics) collectPipelineMetrics(ctx context.Context) {
	samples, err := im.fleetProvider.PipelineSamples(ctx)
	if err != nil {
		im.logger.Error("Failed to sample pipelines for metrics collection", zap.Error(err))
		return
	}

	counts := make(map[string]int64)
	for _, s := range samples {
		counts[s.State]++
	}

	for state, n := range counts {
		im.pipelineCount.Record(ctx, n, AttrPipelineState.String(state))
	}
}

// Stop stops the periodic collection.
func (im *IntegrationMetrics) Stop() {
	im.stopOnce.Do(func() {
		close(im.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewIntegrationMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
