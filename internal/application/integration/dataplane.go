package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Outbound data
// ---------------------------------------------------------------------------

// SendData transmits a packet through a connected adapter. Failures count
// against the failure streak and the circuit breaker but never trigger a
// reconnect: the link is nominally still up.
func (m *Manager) SendData(ctx context.Context, id string, scope integration.Scope, packet *integration.DataPacket, opts integration.SendOptions) error {
	if !m.isActive() {
		return fmt.Errorf("%w: cannot send through %q", integration.ErrManagerNotRunning, id)
	}
	if packet == nil {
		return fmt.Errorf("%w: nil packet", shared.ErrInvalidInput)
	}
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	if reg.Adapter.ConnectionStatus() != integration.ConnectionStatusConnected {
		return fmt.Errorf("%w: %q", integration.ErrAdapterNotConnected, id)
	}
	k := keyOf(id, reg.Scope)

	if err := reg.Adapter.Send(ctx, packet, opts); err != nil {
		ierr := integration.Classify(id, err)
		if ierr.Kind == integration.ErrorKindUnknown {
			ierr = integration.NewCommunicationError(id, "send failed", err)
		}
		m.recordOperationFailure(ctx, reg, ierr, false)
		m.publish(ctx, integration.NewDataErrorEvent(id, reg.Scope, packet.ID, ierr))
		return ierr
	}

	m.withHealth(k, func(h *integration.AdapterHealthStatus) { h.RecordSuccess() })
	m.publish(ctx, integration.NewDataSentEvent(id, reg.Scope, packet.ID, packetBytes(packet)))
	return nil
}

// ---------------------------------------------------------------------------
// Inbound data
// ---------------------------------------------------------------------------

// Subscribe registers a handler for packets received through the adapter.
// The returned subscription id cancels it via Unsubscribe.
func (m *Manager) Subscribe(ctx context.Context, id string, scope integration.Scope, handler integration.PacketHandler, opts integration.SubscribeOptions) (string, error) {
	if !m.isActive() {
		return "", fmt.Errorf("%w: cannot subscribe to %q", integration.ErrManagerNotRunning, id)
	}
	if handler == nil {
		return "", fmt.Errorf("%w: nil handler", shared.ErrInvalidInput)
	}
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return "", fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	k := keyOf(id, reg.Scope)
	subscriptionID := uuid.NewString()

	m.mu.Lock()
	if m.consumers[k] == nil {
		m.consumers[k] = make(map[string]consumer)
	}
	m.consumers[k][subscriptionID] = consumer{handler: handler, filter: opts.Filter}
	m.mu.Unlock()

	return subscriptionID, nil
}

// Unsubscribe cancels a manager-level subscription.
func (m *Manager) Unsubscribe(id string, scope integration.Scope, subscriptionID string) error {
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.consumers[k]
	if _, ok := subs[subscriptionID]; !ok {
		return fmt.Errorf("%w: %q", integration.ErrSubscriptionNotFound, subscriptionID)
	}
	delete(subs, subscriptionID)
	if len(subs) == 0 {
		delete(m.consumers, k)
	}
	return nil
}

// installBridge subscribes the manager to the adapter's inbound stream so
// received packets reach manager-level consumers and matching pipelines.
func (m *Manager) installBridge(ctx context.Context, reg integration.Registration) {
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)

	subscriptionID, err := reg.Adapter.Subscribe(ctx, m.bridgeHandler(reg), integration.SubscribeOptions{})
	if err != nil {
		m.logger.Error("receive bridge install failed",
			zap.String("integration_id", id),
			zap.Error(err))
		return
	}
	m.mu.Lock()
	m.bridges[k] = subscriptionID
	m.mu.Unlock()
}

// bridgeHandler builds the adapter-side handler that fans a received packet
// out to consumers and pipelines. Each target gets its own clone so
// downstream mutation cannot leak across consumers.
func (m *Manager) bridgeHandler(reg integration.Registration) integration.PacketHandler {
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)

	return func(ctx context.Context, packet *integration.DataPacket) error {
		if packet == nil {
			return nil
		}
		if m.dedup != nil && packet.ID != "" {
			fresh, err := m.dedup.MarkProcessed(ctx, "integration:packet:"+packet.ID, m.cfg.DedupTTL)
			if err != nil {
				m.logger.Warn("dedup store unavailable",
					zap.String("integration_id", id),
					zap.Error(err))
			} else if !fresh {
				m.logger.Debug("duplicate packet dropped",
					zap.String("integration_id", id),
					zap.String("packet_id", packet.ID))
				return nil
			}
		}

		m.mu.Lock()
		if h := m.health[k]; h != nil {
			h.RecordSuccess()
		}
		subs := make([]consumer, 0, len(m.consumers[k]))
		for _, c := range m.consumers[k] {
			subs = append(subs, c)
		}
		m.mu.Unlock()

		m.publish(ctx, integration.NewDataReceivedEvent(id, reg.Scope, packet.ID, packetBytes(packet)))

		for _, c := range subs {
			if c.filter != "" && c.filter != packet.Source {
				continue
			}
			if err := c.handler(ctx, packet.Clone()); err != nil {
				m.logger.Warn("receive handler failed",
					zap.String("integration_id", id),
					zap.Error(err))
			}
		}

		for _, p := range m.pipelineList() {
			if p.State() != PipelineStateRunning || !p.Matches(id) {
				continue
			}
			if err := p.Submit(ctx, packet.Clone()); err != nil {
				m.logger.Warn("pipeline intake failed",
					zap.String("pipeline", p.ID()),
					zap.String("integration_id", id),
					zap.Error(err))
			}
		}
		return nil
	}
}

// packetBytes sizes a packet's payload for event accounting, best effort.
func packetBytes(p *integration.DataPacket) int {
	if p == nil || p.Payload == nil {
		return 0
	}
	b, err := json.Marshal(p.Payload)
	if err != nil {
		return 0
	}
	return len(b)
}

// ---------------------------------------------------------------------------
// Pipelines
// ---------------------------------------------------------------------------

// CreatePipeline registers a stopped pipeline under the resolved scope.
func (m *Manager) CreatePipeline(ctx context.Context, id, name string, cfg PipelineConfig) (*Pipeline, error) {
	cfg.Scope = integration.ResolveScope(cfg.Scope, nil, m.ambient)

	p, err := NewPipeline(id, name, cfg, m.events, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.pipelines[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", integration.ErrDuplicatePipeline, id)
	}
	m.pipelines[id] = p
	m.mu.Unlock()

	m.publish(ctx, integration.NewPipelineCreatedEvent(id, p.Name(), cfg.Scope))
	m.logger.Info("pipeline created",
		zap.String("pipeline", id),
		zap.String("scope", cfg.Scope.String()),
		zap.Strings("sources", cfg.Sources))
	return p, nil
}

// StartPipeline starts a created or stopped pipeline.
func (m *Manager) StartPipeline(ctx context.Context, id string) error {
	p, ok := m.GetPipeline(id)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrPipelineNotFound, id)
	}
	if err := p.Start(ctx); err != nil {
		m.publish(ctx, integration.NewPipelineErrorEvent(id, p.Name(), p.Scope(), err))
		return err
	}
	m.publish(ctx, integration.NewPipelineStartedEvent(id, p.Name(), p.Scope()))
	m.logger.Info("pipeline started", zap.String("pipeline", id))
	return nil
}

// StopPipeline drains and stops a running pipeline. Stopping a pipeline
// that is not running is a no-op.
func (m *Manager) StopPipeline(ctx context.Context, id string) error {
	p, ok := m.GetPipeline(id)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrPipelineNotFound, id)
	}
	wasRunning := p.State() == PipelineStateRunning
	if err := p.Stop(ctx); err != nil {
		return err
	}
	if wasRunning {
		m.publish(ctx, integration.NewPipelineStoppedEvent(id, p.Name(), p.Scope()))
		m.logger.Info("pipeline stopped", zap.String("pipeline", id))
	}
	return nil
}

// DeletePipeline stops the pipeline if needed and removes it.
func (m *Manager) DeletePipeline(ctx context.Context, id string) error {
	p, ok := m.GetPipeline(id)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrPipelineNotFound, id)
	}
	if p.State() == PipelineStateRunning {
		if err := p.Stop(ctx); err != nil {
			return err
		}
		m.publish(ctx, integration.NewPipelineStoppedEvent(id, p.Name(), p.Scope()))
	}

	m.mu.Lock()
	delete(m.pipelines, id)
	m.mu.Unlock()

	m.logger.Info("pipeline deleted", zap.String("pipeline", id))
	return nil
}

// GetPipeline returns the pipeline with the given id.
func (m *Manager) GetPipeline(id string) (*Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[id]
	return p, ok
}

// Pipelines returns all pipelines ordered by id.
func (m *Manager) Pipelines() []*Pipeline {
	return m.pipelineList()
}

// ---------------------------------------------------------------------------
// Aggregate health
// ---------------------------------------------------------------------------

// GetHealth probes every adapter in parallel and folds the results into one
// report. A single failing adapter degrades the report; the report is in
// error only when every adapter is.
func (m *Manager) GetHealth(ctx context.Context) AggregateHealth {
	regs := m.registry.Registrations()
	entries := make([]AdapterHealthEntry, len(regs))

	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg integration.Registration) {
			defer wg.Done()
			entries[i] = m.adapterHealthEntry(ctx, reg)
		}(i, reg)
	}
	wg.Wait()

	status := integration.ServiceStatusReady
	if len(entries) > 0 {
		failing := 0
		for _, e := range entries {
			if e.Health.ServiceStatus == integration.ServiceStatusError {
				failing++
			}
		}
		switch {
		case failing == len(entries):
			status = integration.ServiceStatusError
		case failing > 0:
			status = integration.ServiceStatusDegraded
		}
	}

	pipes := m.pipelineList()
	pipeHealth := make([]PipelineHealth, 0, len(pipes))
	for _, p := range pipes {
		pipeHealth = append(pipeHealth, p.Health())
	}

	return AggregateHealth{
		Status:    status,
		Adapters:  entries,
		Pipelines: pipeHealth,
		CheckedAt: time.Now(),
	}
}

// HealthSnapshots returns the maintained health record of every registered
// adapter without probing, connection status refreshed from the adapters.
// Metric collectors poll this instead of GetHealth to avoid stacking live
// probes on top of the per-adapter health loops.
func (m *Manager) HealthSnapshots() []AdapterHealthEntry {
	regs := m.registry.Registrations()
	out := make([]AdapterHealthEntry, 0, len(regs))

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range regs {
		k := keyOf(reg.Metadata.ID, reg.Scope)
		h := m.health[k]
		if h == nil {
			h = integration.NewAdapterHealthStatus(reg.Metadata.ID)
		}
		h.ConnectionStatus = reg.Adapter.ConnectionStatus()
		out = append(out, AdapterHealthEntry{
			ID:     reg.Metadata.ID,
			Type:   reg.Metadata.Type,
			Scope:  reg.Scope.String(),
			Health: h.Snapshot(),
		})
	}
	return out
}

// adapterHealthEntry refreshes one adapter's health record from a live probe
// and returns its snapshot. Probe failures mark the entry as in error
// without failing the aggregate call.
func (m *Manager) adapterHealthEntry(ctx context.Context, reg integration.Registration) AdapterHealthEntry {
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)
	entry := AdapterHealthEntry{ID: id, Type: reg.Metadata.Type, Scope: reg.Scope.String()}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sh, err := reg.Adapter.Health(probeCtx)

	m.mu.Lock()
	h := m.health[k]
	if h == nil {
		h = integration.NewAdapterHealthStatus(id)
		m.health[k] = h
	}
	h.ConnectionStatus = reg.Adapter.ConnectionStatus()
	if err == nil {
		h.ServiceStatus = sh.Status
	}
	snap := h.Snapshot()
	m.mu.Unlock()

	if err != nil {
		entry.Error = err.Error()
		snap.ServiceStatus = integration.ServiceStatusError
	}
	entry.Health = snap
	return entry
}
