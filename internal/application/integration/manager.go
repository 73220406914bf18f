package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
)

// ManagerConfig tunes the orchestration policies shared by all adapters.
type ManagerConfig struct {
	// CircuitBreakerThreshold is the consecutive-failure count that trips
	// an adapter's breaker.
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold"`
	// CircuitBreakerResetTimeout is the cool-down after which a tripped
	// breaker is reset unconditionally.
	CircuitBreakerResetTimeout time.Duration `mapstructure:"circuit_breaker_reset_timeout"`
	// AutoReconnect enables backoff-scheduled reconnects after failures.
	AutoReconnect bool `mapstructure:"auto_reconnect"`
	// OperationTimeout bounds background adapter calls made from timers.
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	// DedupTTL is how long received packet ids are remembered for
	// duplicate suppression.
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CircuitBreakerThreshold:    5,
		CircuitBreakerResetTimeout: 5 * time.Minute,
		AutoReconnect:              true,
		OperationTimeout:           30 * time.Second,
		DedupTTL:                   24 * time.Hour,
	}
}

// adapterKey identifies an adapter across scopes; the same id may exist once
// globally (nil tenant) and once per tenant.
type adapterKey struct {
	tenant uuid.UUID
	id     string
}

func keyOf(id string, scope integration.Scope) adapterKey {
	return adapterKey{tenant: scope.TenantOrNil(), id: id}
}

// consumer is one manager-level receive subscription.
type consumer struct {
	handler integration.PacketHandler
	filter  string
}

// Manager orchestrates the adapter fleet: it owns the registry, drives
// lifecycle and connection state, runs the health-check and reconnect
// timers, enforces the circuit breaker and publishes every integration
// event. It is the sole mutator of adapter health records.
type Manager struct {
	cfg      ManagerConfig
	registry *integration.Registry
	factory  *integration.Factory
	provider integration.ConfigProvider
	store    integration.ConfigStore
	ambient  integration.TenantProvider
	events   shared.EventPublisher
	dedup    shared.IdempotencyStore
	logger   *zap.Logger

	mu          sync.Mutex
	status      integration.ServiceStatus
	health      map[adapterKey]*integration.AdapterHealthStatus
	attempts    map[adapterKey]int
	bridges     map[adapterKey]string
	consumers   map[adapterKey]map[string]consumer
	healthStops map[adapterKey]chan struct{}
	reconnects  map[adapterKey]*time.Timer
	breakers    map[adapterKey]*time.Timer
	pipelines   map[string]*Pipeline
}

// ManagerOption configures optional manager collaborators.
type ManagerOption func(*Manager)

// WithManagerConfig overrides the default policies.
func WithManagerConfig(cfg ManagerConfig) ManagerOption {
	return func(m *Manager) { m.cfg = cfg }
}

// WithConfigProvider wires the source of pre-registered adapter configs.
func WithConfigProvider(p integration.ConfigProvider) ManagerOption {
	return func(m *Manager) { m.provider = p }
}

// WithConfigStore wires persistence for configs registered at runtime.
func WithConfigStore(s integration.ConfigStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithEventPublisher wires the bus integration events are published to.
func WithEventPublisher(pub shared.EventPublisher) ManagerOption {
	return func(m *Manager) { m.events = pub }
}

// WithDedupStore wires duplicate suppression for inbound packets.
func WithDedupStore(store shared.IdempotencyStore) ManagerOption {
	return func(m *Manager) { m.dedup = store }
}

// WithTenantProvider wires the ambient tenant context.
func WithTenantProvider(tp integration.TenantProvider) ManagerOption {
	return func(m *Manager) { m.ambient = tp }
}

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager in the initializing state.
func NewManager(registry *integration.Registry, factory *integration.Factory, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:         DefaultManagerConfig(),
		registry:    registry,
		factory:     factory,
		logger:      zap.NewNop(),
		status:      integration.ServiceStatusInitializing,
		health:      make(map[adapterKey]*integration.AdapterHealthStatus),
		attempts:    make(map[adapterKey]int),
		bridges:     make(map[adapterKey]string),
		consumers:   make(map[adapterKey]map[string]consumer),
		healthStops: make(map[adapterKey]chan struct{}),
		reconnects:  make(map[adapterKey]*time.Timer),
		breakers:    make(map[adapterKey]*time.Timer),
		pipelines:   make(map[string]*Pipeline),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the manager's lifecycle state.
func (m *Manager) Status() integration.ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(s integration.ServiceStatus) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) isActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.IsActive()
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Initialize loads adapter configs from the configured provider and
// pre-registers them without connecting: global configs first, then the
// ambient tenant's configs when a tenant context is bound. Individual config
// failures are logged and skipped.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case integration.ServiceStatusInitializing:
	case integration.ServiceStatusOffline:
		// Reinitialization starts from an empty catalog.
		m.health = make(map[adapterKey]*integration.AdapterHealthStatus)
		m.attempts = make(map[adapterKey]int)
		m.mu.Unlock()
		m.registry.Clear()
		m.mu.Lock()
		m.status = integration.ServiceStatusInitializing
	default:
		st := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot initialize while %s", shared.ErrInvalidState, st)
	}
	m.mu.Unlock()

	if m.provider != nil {
		globals, err := m.provider.LoadGlobal(ctx)
		if err != nil {
			m.setStatus(integration.ServiceStatusError)
			return fmt.Errorf("loading global integration configs: %w", err)
		}
		m.registerConfigs(ctx, globals, integration.GlobalScope())

		if m.ambient != nil {
			if tenantID, ok := m.ambient.CurrentTenant(); ok {
				scoped, err := m.provider.LoadForTenant(ctx, tenantID)
				if err != nil {
					m.setStatus(integration.ServiceStatusError)
					return fmt.Errorf("loading tenant integration configs: %w", err)
				}
				m.registerConfigs(ctx, scoped, integration.TenantScope(tenantID))
			}
		}
	}

	m.setStatus(integration.ServiceStatusReady)
	m.logger.Info("integration manager initialized",
		zap.Int("adapters", m.registry.Count()))
	return nil
}

func (m *Manager) registerConfigs(ctx context.Context, configs []integration.IntegrationConfig, scope integration.Scope) {
	for i := range configs {
		cfg := configs[i]
		if _, err := m.registerConfig(ctx, &cfg, nil, scope); err != nil {
			m.logger.Error("skipping integration config",
				zap.String("integration_id", cfg.ID),
				zap.String("type", cfg.Type.String()),
				zap.Error(err))
		}
	}
}

func (m *Manager) registerConfig(ctx context.Context, cfg *integration.IntegrationConfig, overrides *integration.MetadataOverrides, scope integration.Scope) (integration.Registration, error) {
	adapter, err := m.factory.Create(cfg)
	if err != nil {
		return integration.Registration{}, err
	}
	if err := adapter.Initialize(ctx); err != nil {
		return integration.Registration{}, fmt.Errorf("initializing adapter %q: %w", cfg.ID, err)
	}
	return m.RegisterAdapter(ctx, adapter, overrides, scope)
}

// Start brings every registered adapter into operation: start, receive
// bridge, health-check loop, then auto-connect unless the config disables
// it. One adapter's failure never aborts starting the rest.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status != integration.ServiceStatusReady {
		st := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", shared.ErrInvalidState, st)
	}
	m.status = integration.ServiceStatusStarting
	m.mu.Unlock()

	regs := m.registry.Registrations()
	for _, reg := range regs {
		m.wireAdapter(ctx, reg)
	}

	m.setStatus(integration.ServiceStatusRunning)
	m.logger.Info("integration manager started", zap.Int("adapters", len(regs)))
	return nil
}

// wireAdapter starts one adapter and installs its bridge and health loop.
// Failures are recorded per adapter, not propagated.
func (m *Manager) wireAdapter(ctx context.Context, reg integration.Registration) {
	id := reg.Metadata.ID
	if err := reg.Adapter.Start(ctx); err != nil {
		m.recordOperationFailure(ctx, reg, integration.Classify(id, err), true)
		m.logger.Error("starting adapter failed", zap.String("integration_id", id), zap.Error(err))
		return
	}
	m.publish(ctx, integration.NewAdapterStartedEvent(id, reg.Scope))

	m.installBridge(ctx, reg)
	m.startHealthLoop(reg)

	if reg.Adapter.Config().ShouldAutoConnect() {
		if err := m.Connect(ctx, id, reg.Scope); err != nil {
			m.logger.Warn("auto-connect failed",
				zap.String("integration_id", id),
				zap.Error(err))
		}
	}
}

// Stop halts pipelines first, then clears every manager-owned timer, then
// disconnects and stops each adapter, isolating per-adapter failures.
// Stopping an inactive manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.status.IsActive() {
		m.mu.Unlock()
		return nil
	}
	m.status = integration.ServiceStatusStopping
	m.mu.Unlock()

	for _, p := range m.pipelineList() {
		wasRunning := p.State() == PipelineStateRunning
		if err := p.Stop(ctx); err != nil {
			m.logger.Error("stopping pipeline failed", zap.String("pipeline", p.ID()), zap.Error(err))
			m.publish(ctx, integration.NewPipelineErrorEvent(p.ID(), p.Name(), p.Scope(), err))
			continue
		}
		if wasRunning {
			m.publish(ctx, integration.NewPipelineStoppedEvent(p.ID(), p.Name(), p.Scope()))
		}
	}

	// Timers go first so nothing fires mid-teardown.
	m.mu.Lock()
	for k, t := range m.reconnects {
		t.Stop()
		delete(m.reconnects, k)
	}
	for k, t := range m.breakers {
		t.Stop()
		delete(m.breakers, k)
	}
	for k, stop := range m.healthStops {
		close(stop)
		delete(m.healthStops, k)
	}
	m.mu.Unlock()

	for _, reg := range m.registry.Registrations() {
		m.teardownAdapter(ctx, reg)
	}

	m.setStatus(integration.ServiceStatusOffline)
	m.logger.Info("integration manager stopped")
	return nil
}

func (m *Manager) teardownAdapter(ctx context.Context, reg integration.Registration) {
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	bridgeID := m.bridges[k]
	delete(m.bridges, k)
	m.mu.Unlock()
	if bridgeID != "" {
		if err := reg.Adapter.Unsubscribe(bridgeID); err != nil {
			m.logger.Warn("removing receive bridge failed", zap.String("integration_id", id), zap.Error(err))
		}
	}

	if reg.Adapter.ConnectionStatus() == integration.ConnectionStatusConnected {
		if err := reg.Adapter.Disconnect(ctx); err != nil {
			m.logger.Warn("disconnecting adapter failed", zap.String("integration_id", id), zap.Error(err))
		} else {
			m.withHealth(k, func(h *integration.AdapterHealthStatus) {
				h.ConnectionStatus = integration.ConnectionStatusDisconnected
			})
			m.publish(ctx, integration.NewAdapterDisconnectedEvent(id, reg.Scope))
		}
	}

	if err := reg.Adapter.Stop(ctx); err != nil {
		m.logger.Warn("stopping adapter failed", zap.String("integration_id", id), zap.Error(err))
		return
	}
	m.withHealth(k, func(h *integration.AdapterHealthStatus) {
		h.ServiceStatus = integration.ServiceStatusOffline
	})
	m.publish(ctx, integration.NewAdapterStoppedEvent(id, reg.Scope))
}

// Shutdown stops the manager and additionally drops every consumer
// subscription, all health records, all pipelines and the registry catalog.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.health = make(map[adapterKey]*integration.AdapterHealthStatus)
	m.attempts = make(map[adapterKey]int)
	m.consumers = make(map[adapterKey]map[string]consumer)
	m.bridges = make(map[adapterKey]string)
	m.pipelines = make(map[string]*Pipeline)
	m.mu.Unlock()

	m.registry.Clear()
	m.logger.Info("integration manager shut down")
	return nil
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// RegisterAdapter stores a pre-built adapter in the resolved scope and seeds
// its health record. On a running manager the adapter is wired immediately.
func (m *Manager) RegisterAdapter(ctx context.Context, adapter integration.Adapter, overrides *integration.MetadataOverrides, scope integration.Scope) (integration.Registration, error) {
	reg, err := m.registry.Register(adapter, overrides, scope)
	if err != nil {
		return integration.Registration{}, err
	}

	k := keyOf(reg.Metadata.ID, reg.Scope)
	m.mu.Lock()
	m.health[k] = integration.NewAdapterHealthStatus(reg.Metadata.ID)
	active := m.status.IsActive()
	m.mu.Unlock()

	m.publish(ctx, integration.NewAdapterRegisteredEvent(reg.Metadata, reg.Scope))
	m.logger.Info("adapter registered",
		zap.String("integration_id", reg.Metadata.ID),
		zap.String("type", reg.Metadata.Type.String()),
		zap.String("scope", reg.Scope.String()))

	if active {
		m.wireAdapter(ctx, reg)
	}
	return reg, nil
}

// RegisterIntegrationConfig builds an adapter from a config through the
// factory and registers it. When a config store is wired the config is also
// persisted so a re-initialized manager sees it again; a store failure is
// logged but never undoes the in-memory registration.
func (m *Manager) RegisterIntegrationConfig(ctx context.Context, cfg *integration.IntegrationConfig, overrides *integration.MetadataOverrides) (integration.Registration, error) {
	reg, err := m.registerConfig(ctx, cfg, overrides, integration.Scope{})
	if err != nil {
		return integration.Registration{}, err
	}
	m.persistConfig(ctx, reg)
	return reg, nil
}

// persistConfig writes the registered adapter's config through the store,
// with the tenant normalized to the scope the registry resolved.
func (m *Manager) persistConfig(ctx context.Context, reg integration.Registration) {
	if m.store == nil {
		return
	}
	stored := *reg.Adapter.Config()
	if tenantID, ok := reg.Scope.Tenant(); ok {
		stored.TenantID = &tenantID
	} else {
		stored.TenantID = nil
	}
	if err := m.store.SaveConfig(ctx, &stored); err != nil {
		m.logger.Warn("persisting integration config failed",
			zap.String("integration_id", stored.ID),
			zap.String("scope", reg.Scope.String()),
			zap.Error(err))
	}
}

// DeregisterAdapter tears an adapter down and removes it from the registry
// together with its health record, timers, subscriptions and stored config.
func (m *Manager) DeregisterAdapter(ctx context.Context, id string, scope integration.Scope) error {
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	if t := m.reconnects[k]; t != nil {
		t.Stop()
		delete(m.reconnects, k)
	}
	if t := m.breakers[k]; t != nil {
		t.Stop()
		delete(m.breakers, k)
	}
	if stop := m.healthStops[k]; stop != nil {
		close(stop)
		delete(m.healthStops, k)
	}
	delete(m.attempts, k)
	m.mu.Unlock()

	m.teardownAdapter(ctx, reg)

	if err := m.registry.Deregister(id, reg.Scope); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.health, k)
	delete(m.consumers, k)
	m.mu.Unlock()

	if m.store != nil {
		// Most adapters come from declarative files and were never stored,
		// so the delete is idempotent by contract.
		if err := m.store.DeleteConfig(ctx, id, reg.Scope); err != nil {
			m.logger.Warn("removing stored integration config failed",
				zap.String("integration_id", id),
				zap.String("scope", reg.Scope.String()),
				zap.Error(err))
		}
	}

	m.publish(ctx, integration.NewAdapterDeregisteredEvent(id, reg.Scope))
	m.logger.Info("adapter deregistered", zap.String("integration_id", id), zap.String("scope", reg.Scope.String()))
	return nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetAdapter returns the overview of one adapter.
func (m *Manager) GetAdapter(id string, scope integration.Scope) (AdapterOverview, error) {
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return AdapterOverview{}, fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	return OverviewOf(reg), nil
}

// GetAllAdapters lists adapters, optionally unioning global ones with the
// scope's.
func (m *Manager) GetAllAdapters(includeGlobal bool, scope integration.Scope) []AdapterOverview {
	regs := m.registry.GetAllAdapters(includeGlobal, scope)
	out := make([]AdapterOverview, 0, len(regs))
	for _, reg := range regs {
		out = append(out, OverviewOf(reg))
	}
	return out
}

// GetAdaptersByType lists the scope's adapters of one system type, global
// ones included.
func (m *Manager) GetAdaptersByType(t integration.SystemType, scope integration.Scope) []AdapterOverview {
	regs := m.registry.FindAdapters(integration.AdapterQuery{
		Type:          t,
		Scope:         scope,
		IncludeGlobal: true,
	})
	out := make([]AdapterOverview, 0, len(regs))
	for _, reg := range regs {
		out = append(out, OverviewOf(reg))
	}
	return out
}

// FindAdapters exposes the registry's index search.
func (m *Manager) FindAdapters(q integration.AdapterQuery) []AdapterOverview {
	regs := m.registry.FindAdapters(q)
	out := make([]AdapterOverview, 0, len(regs))
	for _, reg := range regs {
		out = append(out, OverviewOf(reg))
	}
	return out
}

// GetConnectedAdapters lists the currently connected adapters in scope.
func (m *Manager) GetConnectedAdapters(scope integration.Scope) []AdapterOverview {
	regs := m.registry.GetAllAdapters(true, scope)
	out := make([]AdapterOverview, 0, len(regs))
	for _, reg := range regs {
		if reg.Adapter.ConnectionStatus() == integration.ConnectionStatusConnected {
			out = append(out, OverviewOf(reg))
		}
	}
	return out
}

// GetAdapterHealth returns a snapshot of one adapter's health record with
// the connection state refreshed from the adapter.
func (m *Manager) GetAdapterHealth(id string, scope integration.Scope) (integration.AdapterHealthStatus, error) {
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return integration.AdapterHealthStatus{}, fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[k]
	if h == nil {
		return *integration.NewAdapterHealthStatus(id), nil
	}
	h.ConnectionStatus = reg.Adapter.ConnectionStatus()
	return h.Snapshot(), nil
}

// withHealth runs fn on the adapter's health record under the manager lock.
func (m *Manager) withHealth(k adapterKey, fn func(h *integration.AdapterHealthStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.health[k]; h != nil {
		fn(h)
	}
}

func (m *Manager) pipelineList() []*Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (m *Manager) publish(ctx context.Context, event shared.DomainEvent) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warn("publishing integration event failed",
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	}
}
