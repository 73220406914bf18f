package integration

import (
	"context"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/telemetry"
)

// MetricsEventHandler feeds integration events into the telemetry counters.
// Subscribe it on the event bus next to the other consumers; it never fails
// the publishing side.
type MetricsEventHandler struct {
	metrics *telemetry.IntegrationMetrics
}

// NewMetricsEventHandler creates a handler recording onto metrics.
func NewMetricsEventHandler(metrics *telemetry.IntegrationMetrics) *MetricsEventHandler {
	return &MetricsEventHandler{metrics: metrics}
}

// EventTypes subscribes the handler to the data plane and the adapter
// failure events. Lifecycle and health transitions are covered by the
// periodic fleet gauges instead.
func (h *MetricsEventHandler) EventTypes() []string {
	return []string{
		integration.EventTypeDataReceived,
		integration.EventTypeDataSent,
		integration.EventTypeDataProcessed,
		integration.EventTypeDataError,
		integration.EventTypeAdapterError,
		integration.EventTypeAdapterReconnecting,
	}
}

// Handle translates one event into its counter increments
func (h *MetricsEventHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if h.metrics == nil {
		return nil
	}

	switch e := event.(type) {
	case *integration.DataEvent:
		switch e.EventType() {
		case integration.EventTypeDataReceived:
			h.metrics.RecordPacket(ctx, e.TenantID(), e.AdapterID, telemetry.DirectionReceived, int64(e.Bytes))
		case integration.EventTypeDataSent:
			h.metrics.RecordPacket(ctx, e.TenantID(), e.AdapterID, telemetry.DirectionSent, int64(e.Bytes))
		case integration.EventTypeDataProcessed:
			// Processed events carry the pipeline id in the adapter field
			h.metrics.RecordPacketProcessed(ctx, e.TenantID(), e.AdapterID)
		case integration.EventTypeDataError:
			h.metrics.RecordDataError(ctx, e.TenantID(), e.AdapterID)
		}
	case *integration.AdapterErrorEvent:
		h.metrics.RecordAdapterError(ctx, e.TenantID(), e.AdapterID, string(e.Kind), e.BreakerTripped)
	case *integration.AdapterReconnectingEvent:
		h.metrics.RecordReconnect(ctx, e.TenantID(), e.AdapterID)
	}

	return nil
}

// FleetObserver adapts a Manager into the telemetry fleet provider. The
// samples come from the maintained health records, so a collection tick
// never triggers live probes.
type FleetObserver struct {
	manager *Manager
}

// NewFleetObserver creates an observer over manager
func NewFleetObserver(m *Manager) *FleetObserver {
	return &FleetObserver{manager: m}
}

// AdapterSamples returns one sample per registered adapter
func (o *FleetObserver) AdapterSamples(ctx context.Context) ([]telemetry.AdapterSample, error) {
	entries := o.manager.HealthSnapshots()
	samples := make([]telemetry.AdapterSample, 0, len(entries))
	for _, e := range entries {
		samples = append(samples, telemetry.AdapterSample{
			ID:               e.ID,
			Type:             string(e.Type),
			Scope:            e.Scope,
			ConnectionStatus: string(e.Health.ConnectionStatus),
			SuccessRate:      e.Health.SuccessRate,
			Latency:          e.Health.Latency,
		})
	}
	return samples, nil
}

// PipelineSamples returns one sample per pipeline
func (o *FleetObserver) PipelineSamples(ctx context.Context) ([]telemetry.PipelineSample, error) {
	pipelines := o.manager.Pipelines()
	samples := make([]telemetry.PipelineSample, 0, len(pipelines))
	for _, p := range pipelines {
		samples = append(samples, telemetry.PipelineSample{
			ID:    p.ID(),
			State: string(p.State()),
		})
	}
	return samples, nil
}

var (
	_ shared.EventHandler            = (*MetricsEventHandler)(nil)
	_ telemetry.FleetMetricsProvider = (*FleetObserver)(nil)
)
