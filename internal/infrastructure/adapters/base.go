// Package adapters ships the built-in integration adapter implementations
// and registers their constructors with the adapter factory. All of them are
// built on BaseAdapter, which centralizes status tracking, subscriber
// fan-out and send-option handling.
package adapters

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

type subscription struct {
	handler integration.PacketHandler
	filter  string
}

// BaseAdapter carries the state every adapter shares: the immutable config,
// connection and lifecycle status, the subscriber table and traffic
// counters. Concrete adapters embed it and implement the transport-specific
// operations.
type BaseAdapter struct {
	cfg    *integration.IntegrationConfig
	logger *zap.Logger

	mu       sync.RWMutex
	conn     integration.ConnectionStatus
	svc      integration.ServiceStatus
	subs     map[string]subscription
	sent     int64
	received int64
	lastErr  string
}

// NewBaseAdapter creates the shared adapter core.
func NewBaseAdapter(cfg *integration.IntegrationConfig, logger *zap.Logger) *BaseAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAdapter{
		cfg:    cfg,
		logger: logger.With(zap.String("integration_id", cfg.ID)),
		conn:   integration.ConnectionStatusDisconnected,
		svc:    integration.ServiceStatusInitializing,
		subs:   make(map[string]subscription),
	}
}

// ID implements integration.Adapter.
func (a *BaseAdapter) ID() string { return a.cfg.ID }

// Name implements integration.Adapter.
func (a *BaseAdapter) Name() string { return a.cfg.Name }

// Config implements integration.Adapter.
func (a *BaseAdapter) Config() *integration.IntegrationConfig { return a.cfg }

// ConnectionStatus implements integration.Adapter.
func (a *BaseAdapter) ConnectionStatus() integration.ConnectionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn
}

// Status implements integration.Adapter.
func (a *BaseAdapter) Status() integration.ServiceStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.svc
}

func (a *BaseAdapter) setConnection(status integration.ConnectionStatus) {
	a.mu.Lock()
	a.conn = status
	a.mu.Unlock()
}

func (a *BaseAdapter) setService(status integration.ServiceStatus) {
	a.mu.Lock()
	a.svc = status
	a.mu.Unlock()
}

func (a *BaseAdapter) connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn == integration.ConnectionStatusConnected
}

// Subscribe implements integration.Adapter.
func (a *BaseAdapter) Subscribe(ctx context.Context, handler integration.PacketHandler, opts integration.SubscribeOptions) (string, error) {
	if handler == nil {
		return "", integration.NewValidationError(a.cfg.ID, "subscribe handler cannot be nil", nil)
	}

	id := uuid.NewString()
	a.mu.Lock()
	a.subs[id] = subscription{handler: handler, filter: opts.Filter}
	a.mu.Unlock()
	return id, nil
}

// Unsubscribe implements integration.Adapter.
func (a *BaseAdapter) Unsubscribe(subscriptionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.subs[subscriptionID]; !ok {
		return integration.ErrSubscriptionNotFound
	}
	delete(a.subs, subscriptionID)
	return nil
}

// dispatch fans an inbound packet out to every matching subscriber. Handler
// errors are logged and do not stop delivery to the remaining subscribers.
func (a *BaseAdapter) dispatch(ctx context.Context, packet *integration.DataPacket) {
	if packet == nil {
		return
	}

	a.mu.Lock()
	a.received++
	targets := make([]subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		targets = append(targets, sub)
	}
	a.mu.Unlock()

	for _, sub := range targets {
		if sub.filter != "" && sub.filter != packet.Source {
			continue
		}
		if err := sub.handler(ctx, packet.Clone()); err != nil {
			a.logger.Warn("subscriber handler failed",
				zap.String("packet_id", packet.ID),
				zap.Error(err))
		}
	}
}

func (a *BaseAdapter) markSent() {
	a.mu.Lock()
	a.sent++
	a.mu.Unlock()
}

func (a *BaseAdapter) noteError(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	a.lastErr = err.Error()
	a.mu.Unlock()
}

// health assembles the shared ServiceHealth shape, merging adapter-specific
// details over the common counters.
func (a *BaseAdapter) health(details map[string]any) integration.ServiceHealth {
	a.mu.RLock()
	sh := integration.ServiceHealth{
		Status: a.svc,
		Details: map[string]any{
			"connection":       a.conn.String(),
			"packets_sent":     a.sent,
			"packets_received": a.received,
			"subscriptions":    len(a.subs),
		},
	}
	if a.lastErr != "" {
		sh.Details["last_error"] = a.lastErr
	}
	a.mu.RUnlock()

	for k, v := range details {
		sh.Details[k] = v
	}
	return sh
}

// outbound prepares a packet for transmission: a clone with the send
// options' metadata merged in, so the caller's packet stays untouched.
func (a *BaseAdapter) outbound(packet *integration.DataPacket, opts integration.SendOptions) *integration.DataPacket {
	out := packet.Clone()
	if len(opts.Metadata) > 0 && out.Metadata == nil {
		out.Metadata = make(map[string]string, len(opts.Metadata))
	}
	for k, v := range opts.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// sendTimeout resolves the effective timeout for one send.
func (a *BaseAdapter) sendTimeout(opts integration.SendOptions, fallback time.Duration) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return fallback
}

// inboundPacket rebuilds a packet from raw transport bytes. A full packet
// envelope (id, source and payload all present) is restored as-is, which
// keeps the producer's packet id intact for downstream deduplication. Other
// JSON documents become the payload of a fresh packet; anything else is
// carried as raw text.
func inboundPacket(source string, data []byte) *integration.DataPacket {
	var envelope integration.DataPacket
	if err := json.Unmarshal(data, &envelope); err == nil &&
		envelope.ID != "" && envelope.Source != "" && envelope.Payload != nil {
		if envelope.Metadata == nil {
			envelope.Metadata = make(map[string]string)
		}
		if envelope.Timestamp.IsZero() {
			envelope.Timestamp = time.Now()
		}
		return &envelope
	}

	var value any
	if err := json.Unmarshal(data, &value); err == nil && value != nil {
		return integration.NewDataPacket(source, value)
	}
	return integration.NewDataPacket(source, string(data))
}
