package integration

import (
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
)

// Aggregate type constants
const (
	AggregateTypeAdapter  = "IntegrationAdapter"
	AggregateTypePipeline = "IntegrationPipeline"
)

// Event type constants. The names double as broker topics, so they follow
// the platform's dotted topic convention.
const (
	EventTypeAdapterRegistered    = "integration.adapter.registered"
	EventTypeAdapterDeregistered  = "integration.adapter.deregistered"
	EventTypeAdapterStarted       = "integration.adapter.started"
	EventTypeAdapterStopped       = "integration.adapter.stopped"
	EventTypeAdapterConnected     = "integration.adapter.connected"
	EventTypeAdapterDisconnected  = "integration.adapter.disconnected"
	EventTypeAdapterError         = "integration.adapter.error"
	EventTypeAdapterReconnecting  = "integration.adapter.reconnecting"
	EventTypeAdapterRecovered     = "integration.adapter.recovered"
	EventTypeAdapterHealthChanged = "integration.adapter.health_changed"

	EventTypeDataReceived  = "integration.data.received"
	EventTypeDataSent      = "integration.data.sent"
	EventTypeDataProcessed = "integration.data.processed"
	EventTypeDataError     = "integration.data.error"

	EventTypePipelineCreated = "integration.pipeline.created"
	EventTypePipelineStarted = "integration.pipeline.started"
	EventTypePipelineStopped = "integration.pipeline.stopped"
	EventTypePipelineError   = "integration.pipeline.error"
)

// AdapterEventTypes returns every adapter lifecycle event type
func AdapterEventTypes() []string {
	return []string{
		EventTypeAdapterRegistered, EventTypeAdapterDeregistered,
		EventTypeAdapterStarted, EventTypeAdapterStopped,
		EventTypeAdapterConnected, EventTypeAdapterDisconnected,
		EventTypeAdapterError, EventTypeAdapterReconnecting,
		EventTypeAdapterRecovered, EventTypeAdapterHealthChanged,
	}
}

// DataEventTypes returns every data-plane event type
func DataEventTypes() []string {
	return []string{
		EventTypeDataReceived, EventTypeDataSent,
		EventTypeDataProcessed, EventTypeDataError,
	}
}

// PipelineEventTypes returns every pipeline lifecycle event type
func PipelineEventTypes() []string {
	return []string{
		EventTypePipelineCreated, EventTypePipelineStarted,
		EventTypePipelineStopped, EventTypePipelineError,
	}
}

// ---------------------------------------------------------------------------
// Adapter lifecycle events
// ---------------------------------------------------------------------------

// AdapterRegisteredEvent is published when the registry accepts an adapter
type AdapterRegisteredEvent struct {
	shared.BaseDomainEvent
	AdapterID string          `json:"adapter_id"`
	Type      SystemType      `json:"type"`
	Scope     string          `json:"scope"`
	Metadata  AdapterMetadata `json:"metadata"`
}

// NewAdapterRegisteredEvent creates a new AdapterRegisteredEvent
func NewAdapterRegisteredEvent(md AdapterMetadata, scope Scope) *AdapterRegisteredEvent {
	return &AdapterRegisteredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterRegistered, AggregateTypeAdapter, md.ID, scope.TenantOrNil()),
		AdapterID:       md.ID,
		Type:            md.Type,
		Scope:           scope.String(),
		Metadata:        md,
	}
}

// AdapterDeregisteredEvent is published when an adapter leaves the registry
type AdapterDeregisteredEvent struct {
	shared.BaseDomainEvent
	AdapterID string `json:"adapter_id"`
	Scope     string `json:"scope"`
}

// NewAdapterDeregisteredEvent creates a new AdapterDeregisteredEvent
func NewAdapterDeregisteredEvent(adapterID string, scope Scope) *AdapterDeregisteredEvent {
	return &AdapterDeregisteredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterDeregistered, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
		Scope:           scope.String(),
	}
}

// AdapterStartedEvent is published when an adapter enters operation
type AdapterStartedEvent struct {
	shared.BaseDomainEvent
	AdapterID string `json:"adapter_id"`
}

// NewAdapterStartedEvent creates a new AdapterStartedEvent
func NewAdapterStartedEvent(adapterID string, scope Scope) *AdapterStartedEvent {
	return &AdapterStartedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterStarted, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
	}
}

// AdapterStoppedEvent is published when an adapter leaves operation
type AdapterStoppedEvent struct {
	shared.BaseDomainEvent
	AdapterID string `json:"adapter_id"`
}

// NewAdapterStoppedEvent creates a new AdapterStoppedEvent
func NewAdapterStoppedEvent(adapterID string, scope Scope) *AdapterStoppedEvent {
	return &AdapterStoppedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterStopped, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
	}
}

// AdapterConnectedEvent is published after a verified successful connect
type AdapterConnectedEvent struct {
	shared.BaseDomainEvent
	AdapterID string `json:"adapter_id"`
}

// NewAdapterConnectedEvent creates a new AdapterConnectedEvent
func NewAdapterConnectedEvent(adapterID string, scope Scope) *AdapterConnectedEvent {
	return &AdapterConnectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterConnected, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
	}
}

// AdapterDisconnectedEvent is published after a disconnect completes
type AdapterDisconnectedEvent struct {
	shared.BaseDomainEvent
	AdapterID string `json:"adapter_id"`
}

// NewAdapterDisconnectedEvent creates a new AdapterDisconnectedEvent
func NewAdapterDisconnectedEvent(adapterID string, scope Scope) *AdapterDisconnectedEvent {
	return &AdapterDisconnectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterDisconnected, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
	}
}

// AdapterErrorEvent is published for every recorded adapter failure
type AdapterErrorEvent struct {
	shared.BaseDomainEvent
	AdapterID string    `json:"adapter_id"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	// Failures is the consecutive-failure count after recording this error
	Failures int `json:"failures"`
	// BreakerTripped reports whether this failure tripped the circuit breaker
	BreakerTripped bool `json:"breaker_tripped"`
}

// NewAdapterErrorEvent creates a new AdapterErrorEvent
func NewAdapterErrorEvent(adapterID string, scope Scope, ierr *IntegrationError, failures int, tripped bool) *AdapterErrorEvent {
	evt := &AdapterErrorEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterError, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
		Kind:            ErrorKindUnknown,
		Failures:        failures,
		BreakerTripped:  tripped,
	}
	if ierr != nil {
		evt.Kind = ierr.Kind
		evt.Message = ierr.Message
	}
	return evt
}

// AdapterReconnectingEvent is published when a reconnect attempt is scheduled
// or begins
type AdapterReconnectingEvent struct {
	shared.BaseDomainEvent
	AdapterID string `json:"adapter_id"`
	// Attempt is the 1-based reconnect attempt number
	Attempt int `json:"attempt"`
	// Delay is the backoff delay preceding the attempt
	Delay time.Duration `json:"delay"`
}

// NewAdapterReconnectingEvent creates a new AdapterReconnectingEvent
func NewAdapterReconnectingEvent(adapterID string, scope Scope, attempt int, delay time.Duration) *AdapterReconnectingEvent {
	return &AdapterReconnectingEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterReconnecting, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
		Attempt:         attempt,
		Delay:           delay,
	}
}

// AdapterRecoveredEvent is published when a previously failing adapter
// connects again
type AdapterRecoveredEvent struct {
	shared.BaseDomainEvent
	AdapterID string `json:"adapter_id"`
	// AfterFailures is the failure streak the adapter recovered from
	AfterFailures int `json:"after_failures"`
}

// NewAdapterRecoveredEvent creates a new AdapterRecoveredEvent
func NewAdapterRecoveredEvent(adapterID string, scope Scope, afterFailures int) *AdapterRecoveredEvent {
	return &AdapterRecoveredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterRecovered, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
		AfterFailures:   afterFailures,
	}
}

// AdapterHealthChangedEvent is published when a health check changes the
// derived service status
type AdapterHealthChangedEvent struct {
	shared.BaseDomainEvent
	AdapterID string        `json:"adapter_id"`
	OldStatus ServiceStatus `json:"old_status"`
	NewStatus ServiceStatus `json:"new_status"`
	// SuccessRate is the EWMA after the triggering check
	SuccessRate float64 `json:"success_rate"`
}

// NewAdapterHealthChangedEvent creates a new AdapterHealthChangedEvent
func NewAdapterHealthChangedEvent(adapterID string, scope Scope, oldStatus, newStatus ServiceStatus, successRate float64) *AdapterHealthChangedEvent {
	return &AdapterHealthChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdapterHealthChanged, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
		SuccessRate:     successRate,
	}
}

// ---------------------------------------------------------------------------
// Data-plane events
// ---------------------------------------------------------------------------

// DataEvent is published for packets crossing the integration boundary.
// One struct serves all four data event types; the event type string is the
// discriminator, mirroring the topic the event is routed to.
type DataEvent struct {
	shared.BaseDomainEvent
	AdapterID string `json:"adapter_id"`
	PacketID  string `json:"packet_id"`
	// Bytes is the serialized payload size when known, 0 otherwise
	Bytes int `json:"bytes,omitempty"`
	// Error carries the failure message for integration.data.error events
	Error string `json:"error,omitempty"`
}

// NewDataReceivedEvent creates an integration.data.received event
func NewDataReceivedEvent(adapterID string, scope Scope, packetID string, bytes int) *DataEvent {
	return &DataEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDataReceived, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
		PacketID:        packetID,
		Bytes:           bytes,
	}
}

// NewDataSentEvent creates an integration.data.sent event
func NewDataSentEvent(adapterID string, scope Scope, packetID string, bytes int) *DataEvent {
	return &DataEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDataSent, AggregateTypeAdapter, adapterID, scope.TenantOrNil()),
		AdapterID:       adapterID,
		PacketID:        packetID,
		Bytes:           bytes,
	}
}

// NewDataProcessedEvent creates an integration.data.processed event
func NewDataProcessedEvent(pipelineID string, scope Scope, packetID string) *DataEvent {
	return &DataEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDataProcessed, AggregateTypePipeline, pipelineID, scope.TenantOrNil()),
		AdapterID:       pipelineID,
		PacketID:        packetID,
	}
}

// NewDataErrorEvent creates an integration.data.error event
func NewDataErrorEvent(sourceID string, scope Scope, packetID string, err error) *DataEvent {
	evt := &DataEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDataError, AggregateTypeAdapter, sourceID, scope.TenantOrNil()),
		AdapterID:       sourceID,
		PacketID:        packetID,
	}
	if err != nil {
		evt.Error = err.Error()
	}
	return evt
}

// ---------------------------------------------------------------------------
// Pipeline events
// ---------------------------------------------------------------------------

// PipelineEvent is published for pipeline lifecycle transitions
type PipelineEvent struct {
	shared.BaseDomainEvent
	PipelineID string `json:"pipeline_id"`
	Name       string `json:"name,omitempty"`
	// Error carries the failure message for integration.pipeline.error events
	Error string `json:"error,omitempty"`
}

// NewPipelineCreatedEvent creates an integration.pipeline.created event
func NewPipelineCreatedEvent(pipelineID, name string, scope Scope) *PipelineEvent {
	return &PipelineEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePipelineCreated, AggregateTypePipeline, pipelineID, scope.TenantOrNil()),
		PipelineID:      pipelineID,
		Name:            name,
	}
}

// NewPipelineStartedEvent creates an integration.pipeline.started event
func NewPipelineStartedEvent(pipelineID, name string, scope Scope) *PipelineEvent {
	return &PipelineEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePipelineStarted, AggregateTypePipeline, pipelineID, scope.TenantOrNil()),
		PipelineID:      pipelineID,
		Name:            name,
	}
}

// NewPipelineStoppedEvent creates an integration.pipeline.stopped event
func NewPipelineStoppedEvent(pipelineID, name string, scope Scope) *PipelineEvent {
	return &PipelineEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePipelineStopped, AggregateTypePipeline, pipelineID, scope.TenantOrNil()),
		PipelineID:      pipelineID,
		Name:            name,
	}
}

// NewPipelineErrorEvent creates an integration.pipeline.error event
func NewPipelineErrorEvent(pipelineID, name string, scope Scope, err error) *PipelineEvent {
	evt := &PipelineEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePipelineError, AggregateTypePipeline, pipelineID, scope.TenantOrNil()),
		PipelineID:      pipelineID,
		Name:            name,
	}
	if err != nil {
		evt.Error = err.Error()
	}
	return evt
}
