package integration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Connection operations
// ---------------------------------------------------------------------------

// Connect establishes the adapter's link. It is idempotent, refuses a
// tripped circuit breaker and folds the outcome into the health record.
func (m *Manager) Connect(ctx context.Context, id string, scope integration.Scope) error {
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	h := m.health[k]
	if h == nil {
		h = integration.NewAdapterHealthStatus(id)
		m.health[k] = h
	}
	if h.CircuitBreakerTripped {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", integration.ErrCircuitBreakerOpen, id)
	}
	if reg.Adapter.ConnectionStatus() == integration.ConnectionStatusConnected {
		h.ConnectionStatus = integration.ConnectionStatusConnected
		m.mu.Unlock()
		return nil
	}
	h.ConnectionStatus = integration.ConnectionStatusConnecting
	m.mu.Unlock()

	if err := reg.Adapter.Connect(ctx); err != nil {
		ierr := integration.Classify(id, err)
		m.recordConnectionFailure(ctx, reg, ierr)
		return ierr
	}
	m.recordConnectionSuccess(ctx, reg)
	return nil
}

// Disconnect tears the adapter's link down. A deliberate disconnect cancels
// any pending reconnect and resets the attempt counter.
func (m *Manager) Disconnect(ctx context.Context, id string, scope integration.Scope) error {
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
	delete(m.attempts, k)
	m.mu.Unlock()

	if reg.Adapter.ConnectionStatus() == integration.ConnectionStatusDisconnected {
		m.withHealth(k, func(h *integration.AdapterHealthStatus) {
			h.ConnectionStatus = integration.ConnectionStatusDisconnected
		})
		return nil
	}

	if err := reg.Adapter.Disconnect(ctx); err != nil {
		ierr := integration.Classify(id, err)
		m.recordOperationFailure(ctx, reg, ierr, false)
		return ierr
	}
	m.withHealth(k, func(h *integration.AdapterHealthStatus) {
		h.ConnectionStatus = integration.ConnectionStatusDisconnected
	})
	m.publish(ctx, integration.NewAdapterDisconnectedEvent(id, reg.Scope))
	return nil
}

// Reconnect re-establishes the adapter's link, with the same breaker refusal
// and bookkeeping as Connect.
func (m *Manager) Reconnect(ctx context.Context, id string, scope integration.Scope) error {
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	h := m.health[k]
	if h == nil {
		h = integration.NewAdapterHealthStatus(id)
		m.health[k] = h
	}
	if h.CircuitBreakerTripped {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", integration.ErrCircuitBreakerOpen, id)
	}
	h.ConnectionStatus = integration.ConnectionStatusReconnecting
	m.mu.Unlock()

	if err := reg.Adapter.Reconnect(ctx); err != nil {
		ierr := integration.Classify(id, err)
		m.recordConnectionFailure(ctx, reg, ierr)
		return ierr
	}
	m.recordConnectionSuccess(ctx, reg)
	return nil
}

// ResetCircuitBreaker closes the adapter's breaker immediately, cancelling
// the pending cool-down timer.
func (m *Manager) ResetCircuitBreaker(id string, scope integration.Scope) error {
	reg, ok := m.registry.GetRegistration(id, scope)
	if !ok {
		return fmt.Errorf("%w: %q", integration.ErrAdapterNotFound, id)
	}
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	if t := m.breakers[k]; t != nil {
		t.Stop()
		delete(m.breakers, k)
	}
	if h := m.health[k]; h != nil {
		h.ResetCircuitBreaker()
	}
	m.mu.Unlock()

	m.logger.Info("circuit breaker reset", zap.String("integration_id", id))
	return nil
}

// ---------------------------------------------------------------------------
// Failure bookkeeping, breaker and backoff
// ---------------------------------------------------------------------------

// recordConnectionSuccess folds a verified connect into the health record,
// resets the attempt counter and cancels any pending reconnect.
func (m *Manager) recordConnectionSuccess(ctx context.Context, reg integration.Registration) {
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	h := m.health[k]
	if h == nil {
		h = integration.NewAdapterHealthStatus(id)
		m.health[k] = h
	}
	prevFailures := h.ConsecutiveFailures
	h.RecordSuccess()
	h.ConnectionStatus = integration.ConnectionStatusConnected
	h.ServiceStatus = reg.Adapter.Status()
	m.attempts[k] = 0
	if t := m.reconnects[k]; t != nil {
		t.Stop()
		delete(m.reconnects, k)
	}
	m.mu.Unlock()

	m.publish(ctx, integration.NewAdapterConnectedEvent(id, reg.Scope))
	if prevFailures > 0 {
		m.publish(ctx, integration.NewAdapterRecoveredEvent(id, reg.Scope, prevFailures))
		m.logger.Info("adapter recovered",
			zap.String("integration_id", id),
			zap.Int("after_failures", prevFailures))
	}
}

// recordConnectionFailure folds a connection failure into the health record,
// runs the breaker check and schedules a reconnect while the breaker allows.
func (m *Manager) recordConnectionFailure(ctx context.Context, reg integration.Registration, ierr *integration.IntegrationError) {
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	h := m.health[k]
	if h == nil {
		h = integration.NewAdapterHealthStatus(id)
		m.health[k] = h
	}
	h.RecordFailure(ierr)
	h.ConnectionStatus = integration.ConnectionStatusError
	failures := h.ConsecutiveFailures
	tripped := false
	if failures >= m.cfg.CircuitBreakerThreshold && h.TripCircuitBreaker() {
		tripped = true
		m.armBreakerResetLocked(k)
	}
	breakerOpen := h.CircuitBreakerTripped
	m.mu.Unlock()

	m.publish(ctx, integration.NewAdapterErrorEvent(id, reg.Scope, ierr, failures, tripped))
	if tripped {
		m.logger.Warn("circuit breaker tripped",
			zap.String("integration_id", id),
			zap.Int("consecutive_failures", failures))
	}
	if !breakerOpen {
		m.scheduleReconnect(ctx, reg)
	}
}

// recordOperationFailure folds a non-connection failure (start, send) into
// the health record and runs the breaker check without scheduling a
// reconnect.
func (m *Manager) recordOperationFailure(ctx context.Context, reg integration.Registration, ierr *integration.IntegrationError, markServiceError bool) {
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	h := m.health[k]
	if h == nil {
		h = integration.NewAdapterHealthStatus(id)
		m.health[k] = h
	}
	h.RecordFailure(ierr)
	if markServiceError {
		h.ServiceStatus = integration.ServiceStatusError
	}
	failures := h.ConsecutiveFailures
	tripped := false
	if failures >= m.cfg.CircuitBreakerThreshold && h.TripCircuitBreaker() {
		tripped = true
		m.armBreakerResetLocked(k)
	}
	m.mu.Unlock()

	m.publish(ctx, integration.NewAdapterErrorEvent(id, reg.Scope, ierr, failures, tripped))
	if tripped {
		m.logger.Warn("circuit breaker tripped",
			zap.String("integration_id", id),
			zap.Int("consecutive_failures", failures))
	}
}

// armBreakerResetLocked schedules the unconditional breaker reset. Caller
// holds m.mu.
func (m *Manager) armBreakerResetLocked(k adapterKey) {
	if t := m.breakers[k]; t != nil {
		t.Stop()
	}
	m.breakers[k] = time.AfterFunc(m.cfg.CircuitBreakerResetTimeout, func() {
		m.mu.Lock()
		delete(m.breakers, k)
		if h := m.health[k]; h != nil {
			h.ResetCircuitBreaker()
		}
		m.mu.Unlock()
		m.logger.Info("circuit breaker reset after cool-down",
			zap.String("integration_id", k.id))
	})
}

// scheduleReconnect arms the backoff timer for the next reconnect attempt,
// up to the adapter's retry budget.
func (m *Manager) scheduleReconnect(ctx context.Context, reg integration.Registration) {
	if !m.cfg.AutoReconnect {
		return
	}
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)
	retry := reg.Adapter.Config().Retry

	m.mu.Lock()
	if !m.status.IsActive() {
		m.mu.Unlock()
		return
	}
	attempt := m.attempts[k]
	if attempt >= retry.MaxRetries {
		m.mu.Unlock()
		m.logger.Info("reconnect attempts exhausted",
			zap.String("integration_id", id),
			zap.Int("attempts", attempt))
		return
	}
	delay := retry.Delay(attempt)
	m.attempts[k] = attempt + 1
	if t := m.reconnects[k]; t != nil {
		t.Stop()
	}
	m.reconnects[k] = time.AfterFunc(delay, func() { m.runScheduledReconnect(reg) })
	m.mu.Unlock()

	m.publish(ctx, integration.NewAdapterReconnectingEvent(id, reg.Scope, attempt+1, delay))
	m.logger.Info("reconnect scheduled",
		zap.String("integration_id", id),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay))
}

// runScheduledReconnect is the timer callback. It re-validates manager
// status, breaker state and registration at fire time and skips silently
// when any of them changed since scheduling.
func (m *Manager) runScheduledReconnect(reg integration.Registration) {
	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)

	m.mu.Lock()
	delete(m.reconnects, k)
	if !m.status.IsActive() {
		m.mu.Unlock()
		return
	}
	h := m.health[k]
	if h == nil || h.CircuitBreakerTripped {
		m.mu.Unlock()
		return
	}
	h.ConnectionStatus = integration.ConnectionStatusReconnecting
	m.mu.Unlock()

	if _, ok := m.registry.GetRegistration(id, reg.Scope); !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OperationTimeout)
	defer cancel()
	if err := reg.Adapter.Reconnect(ctx); err != nil {
		m.recordConnectionFailure(ctx, reg, integration.Classify(id, err))
		return
	}
	m.recordConnectionSuccess(ctx, reg)
}

// ---------------------------------------------------------------------------
// Health checks
// ---------------------------------------------------------------------------

// startHealthLoop runs the recurring health check for one adapter. The loop
// lives until Stop, Shutdown or deregistration closes its stop channel.
func (m *Manager) startHealthLoop(reg integration.Registration) {
	k := keyOf(reg.Metadata.ID, reg.Scope)
	interval := reg.Adapter.Config().HealthCheck.Interval
	if interval <= 0 {
		interval = integration.DefaultHealthCheckPolicy().Interval
	}

	stop := make(chan struct{})
	m.mu.Lock()
	if old := m.healthStops[k]; old != nil {
		close(old)
	}
	m.healthStops[k] = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.healthTick(reg)
			}
		}
	}()
}

// healthTick performs one health check: a connectivity probe, a best-effort
// latency measurement and a service-status refresh. A negative or failed
// probe is an ordinary connection failure; latency and status failures are
// only logged.
func (m *Manager) healthTick(reg integration.Registration) {
	if !m.isActive() {
		return
	}
	if reg.Adapter.ConnectionStatus() != integration.ConnectionStatusConnected {
		return
	}

	id := reg.Metadata.ID
	k := keyOf(id, reg.Scope)
	timeout := reg.Adapter.Config().HealthCheck.Timeout
	if timeout <= 0 {
		timeout = integration.DefaultHealthCheckPolicy().Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ok, probeErr := reg.Adapter.TestConnection(ctx)
	if probeErr != nil || !ok {
		msg := "connection probe failed"
		if probeErr == nil {
			msg = "connection probe negative"
		}
		m.recordConnectionFailure(ctx, reg, integration.NewConnectionError(id, msg, probeErr))
		return
	}

	// The probe succeeding is not a data operation, so it neither resets
	// the failure streak nor moves the success rate.
	if lat, lerr := reg.Adapter.Latency(ctx); lerr != nil {
		m.logger.Debug("latency probe failed", zap.String("integration_id", id), zap.Error(lerr))
	} else {
		m.withHealth(k, func(h *integration.AdapterHealthStatus) {
			h.Latency = lat
			h.UpdatedAt = time.Now()
		})
	}

	sh, herr := reg.Adapter.Health(ctx)
	if herr != nil {
		m.logger.Debug("service health probe failed", zap.String("integration_id", id), zap.Error(herr))
		return
	}

	var oldStatus integration.ServiceStatus
	var rate float64
	changed := false
	m.mu.Lock()
	if h := m.health[k]; h != nil {
		oldStatus = h.ServiceStatus
		if oldStatus != sh.Status {
			h.ServiceStatus = sh.Status
			h.UpdatedAt = time.Now()
			changed = true
		}
		rate = h.SuccessRate
	}
	m.mu.Unlock()

	if changed {
		m.publish(ctx, integration.NewAdapterHealthChangedEvent(id, reg.Scope, oldStatus, sh.Status, rate))
	}
}
