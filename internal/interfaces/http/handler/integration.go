package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appintegration "github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/application/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

// IntegrationHandler handles integration lifecycle API endpoints
type IntegrationHandler struct {
	BaseHandler
	manager *appintegration.Manager
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(manager *appintegration.Manager) *IntegrationHandler {
	return &IntegrationHandler{
		manager: manager,
	}
}

// RetryPolicyRequest configures reconnection backoff. Delays are milliseconds.
type RetryPolicyRequest struct {
	MaxRetries     int     `json:"max_retries" binding:"min=0,max=100"`
	InitialDelayMs int     `json:"initial_delay_ms" binding:"min=0"`
	MaxDelayMs     int     `json:"max_delay_ms" binding:"min=0"`
	BackoffFactor  float64 `json:"backoff_factor" binding:"min=0"`
}

// HealthCheckPolicyRequest configures the recurring connectivity probe.
// Delays are milliseconds.
type HealthCheckPolicyRequest struct {
	IntervalMs int `json:"interval_ms" binding:"min=0"`
	TimeoutMs  int `json:"timeout_ms" binding:"min=0"`
	Retries    int `json:"retries" binding:"min=0,max=100"`
}

// RegisterIntegrationRequest represents a request to register an integration
type RegisterIntegrationRequest struct {
	ID               string                    `json:"id" binding:"required,min=1,max=128"`
	Name             string                    `json:"name" binding:"required,min=1,max=200"`
	Type             string                    `json:"type" binding:"required"`
	Description      string                    `json:"description" binding:"max=500"`
	ConnectionParams map[string]any            `json:"connection_params"`
	AuthParams       map[string]any            `json:"auth_params"`
	Retry            *RetryPolicyRequest       `json:"retry"`
	HealthCheck      *HealthCheckPolicyRequest `json:"health_check"`
	AutoConnect      *bool                     `json:"auto_connect"`
	Protocol         string                    `json:"protocol" binding:"max=50"`
	Vendor           string                    `json:"vendor" binding:"max=100"`
	Model            string                    `json:"model" binding:"max=100"`
	Tags             []string                  `json:"tags"`
	Capabilities     []string                  `json:"capabilities"`
}

// ListIntegrationsFilter selects integrations in list requests
type ListIntegrationsFilter struct {
	Type          string `form:"type"`
	Connected     *bool  `form:"connected"`
	IncludeGlobal bool   `form:"include_global"`
}

// SendDataRequest represents an outbound data packet
type SendDataRequest struct {
	Source        string            `json:"source" binding:"max=128"`
	Payload       any               `json:"payload"`
	SchemaVersion string            `json:"schema_version" binding:"max=50"`
	Metadata      map[string]string `json:"metadata"`
	TimeoutMs     int               `json:"timeout_ms" binding:"min=0"`
}

// SendDataResponse acknowledges an accepted outbound packet
type SendDataResponse struct {
	PacketID      string    `json:"packet_id"`
	IntegrationID string    `json:"integration_id"`
	SentAt        time.Time `json:"sent_at"`
}

// CircuitBreakerResetResponse acknowledges a manual breaker reset
type CircuitBreakerResetResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Register registers a new integration and builds its adapter.
// A tenant header scopes the integration to that tenant.
func (h *IntegrationHandler) Register(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req RegisterIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	cfg := &integration.IntegrationConfig{
		ID:               req.ID,
		Name:             req.Name,
		Type:             integration.SystemType(req.Type),
		Description:      req.Description,
		ConnectionParams: req.ConnectionParams,
		AuthParams:       req.AuthParams,
		AutoConnect:      req.AutoConnect,
		Protocol:         req.Protocol,
		Vendor:           req.Vendor,
		Model:            req.Model,
		Tags:             req.Tags,
		Capabilities:     req.Capabilities,
	}

	if req.Retry != nil {
		cfg.Retry = integration.RetryPolicy{
			MaxRetries:    req.Retry.MaxRetries,
			InitialDelay:  time.Duration(req.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:      time.Duration(req.Retry.MaxDelayMs) * time.Millisecond,
			BackoffFactor: req.Retry.BackoffFactor,
		}
	}

	if req.HealthCheck != nil {
		cfg.HealthCheck = integration.HealthCheckPolicy{
			Interval: time.Duration(req.HealthCheck.IntervalMs) * time.Millisecond,
			Timeout:  time.Duration(req.HealthCheck.TimeoutMs) * time.Millisecond,
			Retries:  req.HealthCheck.Retries,
		}
	}

	if tenantID != uuid.Nil {
		cfg.TenantID = &tenantID
	}

	reg, err := h.manager.RegisterIntegrationConfig(c.Request.Context(), cfg, nil)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, appintegration.OverviewOf(reg))
}

// List returns registered integrations, optionally filtered by type and
// connection state. include_global adds globally scoped integrations to a
// tenant-scoped listing.
func (h *IntegrationHandler) List(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var filter ListIntegrationsFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	var adapters []appintegration.AdapterOverview
	if filter.Type != "" {
		adapters = h.manager.FindAdapters(integration.AdapterQuery{
			Type:          integration.SystemType(filter.Type),
			Scope:         scope,
			IncludeGlobal: filter.IncludeGlobal,
		})
	} else {
		adapters = h.manager.GetAllAdapters(filter.IncludeGlobal, scope)
	}

	if filter.Connected != nil {
		filtered := make([]appintegration.AdapterOverview, 0, len(adapters))
		for _, a := range adapters {
			if (a.ConnectionStatus == integration.ConnectionStatusConnected) == *filter.Connected {
				filtered = append(filtered, a)
			}
		}
		adapters = filtered
	}

	h.Success(c, adapters)
}

// GetByID returns one integration
func (h *IntegrationHandler) GetByID(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	overview, err := h.manager.GetAdapter(c.Param("id"), scope)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, overview)
}

// Delete deregisters an integration and disposes its adapter
func (h *IntegrationHandler) Delete(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	if err := h.manager.DeregisterAdapter(c.Request.Context(), c.Param("id"), scope); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.NoContent(c)
}

// Connect establishes the integration's connection
func (h *IntegrationHandler) Connect(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	id := c.Param("id")
	if err := h.manager.Connect(c.Request.Context(), id, scope); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	overview, err := h.manager.GetAdapter(id, scope)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, overview)
}

// Disconnect closes the integration's connection
func (h *IntegrationHandler) Disconnect(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	id := c.Param("id")
	if err := h.manager.Disconnect(c.Request.Context(), id, scope); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	overview, err := h.manager.GetAdapter(id, scope)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, overview)
}

// Reconnect drops and re-establishes the integration's connection
func (h *IntegrationHandler) Reconnect(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	id := c.Param("id")
	if err := h.manager.Reconnect(c.Request.Context(), id, scope); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	overview, err := h.manager.GetAdapter(id, scope)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, overview)
}

// SendData sends one data packet outbound through the integration
func (h *IntegrationHandler) SendData(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req SendDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if req.Payload == nil {
		h.BadRequest(c, "Payload is required")
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	packet := integration.NewDataPacket(source, req.Payload)
	if req.SchemaVersion != "" {
		packet = packet.WithSchemaVersion(req.SchemaVersion)
	}
	for k, v := range req.Metadata {
		packet = packet.WithMetadata(k, v)
	}

	opts := integration.SendOptions{}
	if req.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	id := c.Param("id")
	if err := h.manager.SendData(c.Request.Context(), id, scope, packet, opts); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, SendDataResponse{
		PacketID:      packet.ID,
		IntegrationID: id,
		SentAt:        time.Now(),
	})
}

// Health returns one integration's health record
func (h *IntegrationHandler) Health(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	health, err := h.manager.GetAdapterHealth(c.Param("id"), scope)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, health)
}

// ResetCircuitBreaker closes the integration's circuit breaker and clears
// its failure count
func (h *IntegrationHandler) ResetCircuitBreaker(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	id := c.Param("id")
	if err := h.manager.ResetCircuitBreaker(id, scope); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, CircuitBreakerResetResponse{
		ID:    id,
		State: "closed",
	})
}

// AggregateHealth returns the framework-wide health report covering every
// adapter and pipeline
func (h *IntegrationHandler) AggregateHealth(c *gin.Context) {
	h.Success(c, h.manager.GetHealth(c.Request.Context()))
}
