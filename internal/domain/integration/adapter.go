package integration

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Adapter port
// ---------------------------------------------------------------------------

// PacketHandler consumes inbound data packets delivered by an adapter
// subscription. Handlers must not block for long; slow consumers should hand
// off to their own workers.
type PacketHandler func(ctx context.Context, packet *DataPacket) error

// SendOptions tunes a single outbound send
type SendOptions struct {
	// Timeout bounds the send; zero means the adapter's configured default
	Timeout time.Duration
	// Metadata is merged into the packet metadata before transmission
	Metadata map[string]string
}

// SubscribeOptions tunes an inbound subscription
type SubscribeOptions struct {
	// Filter restricts delivery to packets whose source matches; empty means all
	Filter string
	// BufferSize hints the subscription's channel capacity
	BufferSize int
}

// ServiceHealth is an adapter's self-reported service condition
type ServiceHealth struct {
	// Status is the adapter's service state
	Status ServiceStatus `json:"status"`
	// Details carries adapter-specific diagnostics
	Details map[string]any `json:"details,omitempty"`
}

// Adapter is the uniform capability set every external-system connector
// implements. The manager is the only caller of the lifecycle and connection
// operations; pipelines and the HTTP surface go through the manager.
//
// Implementations must be safe for concurrent use: the manager invokes
// health probes from timer callbacks while callers send data.
type Adapter interface {
	// ID returns the integration id the adapter was built with
	ID() string
	// Name returns the human-readable adapter name
	Name() string
	// Config returns the immutable config the adapter was built from
	Config() *IntegrationConfig
	// ConnectionStatus returns the current link state
	ConnectionStatus() ConnectionStatus
	// Status returns the current lifecycle state
	Status() ServiceStatus

	// Initialize prepares the adapter from its config without connecting
	Initialize(ctx context.Context) error
	// Start transitions the adapter into operation
	Start(ctx context.Context) error
	// Stop transitions the adapter out of operation, releasing resources
	Stop(ctx context.Context) error

	// Connect establishes the link to the external system
	Connect(ctx context.Context) error
	// Disconnect tears the link down
	Disconnect(ctx context.Context) error
	// Reconnect re-establishes the link (disconnect best-effort, then connect)
	Reconnect(ctx context.Context) error

	// TestConnection probes the link; false with nil error means a clean
	// negative probe, an error means the probe itself failed
	TestConnection(ctx context.Context) (bool, error)
	// Latency measures the round-trip latency to the external system
	Latency(ctx context.Context) (time.Duration, error)
	// Health returns the adapter's self-reported service condition
	Health(ctx context.Context) (ServiceHealth, error)

	// Send transmits a packet to the external system
	Send(ctx context.Context, packet *DataPacket, opts SendOptions) error
	// Subscribe registers a handler for inbound packets and returns the
	// subscription id used to cancel it
	Subscribe(ctx context.Context, handler PacketHandler, opts SubscribeOptions) (string, error)
	// Unsubscribe cancels a subscription created by Subscribe
	Unsubscribe(subscriptionID string) error
}
