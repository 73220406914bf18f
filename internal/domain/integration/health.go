package integration

import "time"

// ---------------------------------------------------------------------------
// AdapterHealthStatus
// ---------------------------------------------------------------------------

// SuccessRateWeight is the fixed EWMA weight for the success-rate metric.
// The weight is deliberately independent of sample count: the first
// observation moves a freshly seeded rate exactly as much as the hundredth.
const SuccessRateWeight = 0.1

// SuccessRateSeed is the success rate assigned to a never-observed adapter
const SuccessRateSeed = 100.0

// AdapterHealthStatus is the mutable per-adapter health record. One instance
// exists per registered adapter; it is created at registration, deleted at
// deregistration and mutated only by the manager (under the manager's lock).
type AdapterHealthStatus struct {
	// IntegrationID names the adapter this record belongs to
	IntegrationID string `json:"integration_id"`
	// ConnectionStatus mirrors the adapter's last observed link state
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	// ServiceStatus mirrors the adapter's last observed lifecycle state
	ServiceStatus ServiceStatus `json:"service_status"`
	// Latency is the last measured round-trip latency
	Latency time.Duration `json:"latency"`
	// LastError is the most recent failure, nil after a clean history
	LastError *IntegrationError `json:"last_error,omitempty"`
	// SuccessRate is the 0-100 exponentially weighted success average
	SuccessRate float64 `json:"success_rate"`
	// LastSuccessAt is when the last verified success happened
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	// ConsecutiveFailures counts failures since the last verified success
	ConsecutiveFailures int `json:"consecutive_failures"`
	// CircuitBreakerTripped blocks connects until an explicit or timed reset
	CircuitBreakerTripped bool `json:"circuit_breaker_tripped"`
	// Metrics carries adapter-specific numeric diagnostics
	Metrics map[string]any `json:"metrics,omitempty"`
	// UpdatedAt is when this record last changed
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAdapterHealthStatus creates the seed health record for a freshly
// registered adapter
func NewAdapterHealthStatus(integrationID string) *AdapterHealthStatus {
	return &AdapterHealthStatus{
		IntegrationID:    integrationID,
		ConnectionStatus: ConnectionStatusDisconnected,
		ServiceStatus:    ServiceStatusInitializing,
		SuccessRate:      SuccessRateSeed,
		Metrics:          make(map[string]any),
		UpdatedAt:        time.Now(),
	}
}

// RecordSuccess folds a verified successful operation into the record:
// the EWMA moves toward 100 and the consecutive-failure counter resets.
func (h *AdapterHealthStatus) RecordSuccess() {
	h.SuccessRate = h.SuccessRate*(1-SuccessRateWeight) + SuccessRateSeed*SuccessRateWeight
	h.ConsecutiveFailures = 0
	h.LastSuccessAt = time.Now()
	h.LastError = nil
	h.UpdatedAt = time.Now()
}

// RecordFailure folds a failed operation into the record: the EWMA moves
// toward 0 and the consecutive-failure counter grows.
func (h *AdapterHealthStatus) RecordFailure(err *IntegrationError) {
	h.SuccessRate = h.SuccessRate * (1 - SuccessRateWeight)
	h.ConsecutiveFailures++
	if err != nil {
		h.LastError = err
	}
	h.UpdatedAt = time.Now()
}

// TripCircuitBreaker marks the breaker open. Returns true when this call
// performed the transition, so the caller can emit the trip event exactly
// once.
func (h *AdapterHealthStatus) TripCircuitBreaker() bool {
	if h.CircuitBreakerTripped {
		return false
	}
	h.CircuitBreakerTripped = true
	h.UpdatedAt = time.Now()
	return true
}

// ResetCircuitBreaker closes the breaker and zeroes the failure counter,
// regardless of intervening adapter state.
func (h *AdapterHealthStatus) ResetCircuitBreaker() {
	h.CircuitBreakerTripped = false
	h.ConsecutiveFailures = 0
	h.UpdatedAt = time.Now()
}

// Snapshot returns a copy safe to hand outside the manager's lock
func (h *AdapterHealthStatus) Snapshot() AdapterHealthStatus {
	snap := *h
	if h.Metrics != nil {
		snap.Metrics = make(map[string]any, len(h.Metrics))
		for k, v := range h.Metrics {
			snap.Metrics[k] = v
		}
	}
	if h.LastError != nil {
		errCopy := *h.LastError
		snap.LastError = &errCopy
	}
	return snap
}
