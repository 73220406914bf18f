package handler

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	appintegration "github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/application/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/transform"
)

// PipelineHandler handles pipeline lifecycle API endpoints
type PipelineHandler struct {
	BaseHandler
	manager *appintegration.Manager
}

// NewPipelineHandler creates a new PipelineHandler
func NewPipelineHandler(manager *appintegration.Manager) *PipelineHandler {
	return &PipelineHandler{
		manager: manager,
	}
}

// CreatePipelineRequest represents a request to create a processing pipeline.
// Transformers run in the order listed; a sink integration receives the
// processed packets outbound.
type CreatePipelineRequest struct {
	ID                string   `json:"id" binding:"required,min=1,max=128"`
	Name              string   `json:"name" binding:"required,min=1,max=200"`
	Sources           []string `json:"sources"`
	Transformers      []string `json:"transformers" binding:"omitempty,dive,oneof=json xml csv"`
	SinkIntegrationID string   `json:"sink_integration_id" binding:"max=128"`
	BufferSize        int      `json:"buffer_size" binding:"min=0,max=65536"`
	Workers           int      `json:"workers" binding:"min=0,max=64"`
	AutoStart         bool     `json:"auto_start"`
}

// ListPipelinesFilter selects pipelines in list requests
type ListPipelinesFilter struct {
	IncludeGlobal bool `form:"include_global"`
}

// PipelineResponse describes one pipeline
type PipelineResponse struct {
	ID        string                          `json:"id"`
	Name      string                          `json:"name"`
	Scope     string                          `json:"scope"`
	State     appintegration.PipelineState    `json:"state"`
	Counters  appintegration.PipelineCounters `json:"counters"`
	LastError string                          `json:"last_error,omitempty"`
}

// Create creates a processing pipeline from named stages
func (h *PipelineHandler) Create(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req CreatePipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	transformers, err := transformersFromNames(req.Transformers)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	cfg := appintegration.PipelineConfig{
		Sources:      req.Sources,
		Scope:        scope,
		Transformers: transformers,
		BufferSize:   req.BufferSize,
		Workers:      req.Workers,
	}

	if req.SinkIntegrationID != "" {
		// Resolve the sink up front so a typo fails the create, not every
		// packet afterwards.
		if _, err := h.manager.GetAdapter(req.SinkIntegrationID, scope); err != nil {
			h.HandleDomainError(c, err)
			return
		}
		sinkID := req.SinkIntegrationID
		cfg.Sink = appintegration.PacketSinkFunc(func(ctx context.Context, packet *integration.DataPacket) error {
			return h.manager.SendData(ctx, sinkID, scope, packet, integration.SendOptions{})
		})
	}

	pipeline, err := h.manager.CreatePipeline(c.Request.Context(), req.ID, req.Name, cfg)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	if req.AutoStart {
		if err := h.manager.StartPipeline(c.Request.Context(), req.ID); err != nil {
			h.HandleDomainError(c, err)
			return
		}
	}

	h.Created(c, toPipelineResponse(pipeline))
}

// List returns pipelines visible in the request scope. include_global adds
// globally scoped pipelines to a tenant-scoped listing.
func (h *PipelineHandler) List(c *gin.Context) {
	scope, err := requestScope(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var filter ListPipelinesFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	pipelines := h.manager.Pipelines()
	responses := make([]PipelineResponse, 0, len(pipelines))
	for _, p := range pipelines {
		ps := p.Scope()
		if ps == scope || (filter.IncludeGlobal && ps.IsGlobal()) {
			responses = append(responses, toPipelineResponse(p))
		}
	}

	h.Success(c, responses)
}

// GetByID returns one pipeline with its processing counters
func (h *PipelineHandler) GetByID(c *gin.Context) {
	pipeline, ok := h.manager.GetPipeline(c.Param("id"))
	if !ok {
		h.NotFound(c, "Pipeline not found")
		return
	}

	h.Success(c, toPipelineResponse(pipeline))
}

// Start starts the pipeline's workers
func (h *PipelineHandler) Start(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.StartPipeline(c.Request.Context(), id); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	pipeline, ok := h.manager.GetPipeline(id)
	if !ok {
		h.NotFound(c, "Pipeline not found")
		return
	}

	h.Success(c, toPipelineResponse(pipeline))
}

// Stop drains and stops the pipeline's workers
func (h *PipelineHandler) Stop(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.StopPipeline(c.Request.Context(), id); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	pipeline, ok := h.manager.GetPipeline(id)
	if !ok {
		h.NotFound(c, "Pipeline not found")
		return
	}

	h.Success(c, toPipelineResponse(pipeline))
}

// Delete removes a stopped pipeline
func (h *PipelineHandler) Delete(c *gin.Context) {
	if err := h.manager.DeletePipeline(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.NoContent(c)
}

// transformersFromNames maps stage names to transformer instances
func transformersFromNames(names []string) ([]integration.Transformer, error) {
	transformers := make([]integration.Transformer, 0, len(names))
	for _, name := range names {
		switch name {
		case "json":
			transformers = append(transformers, transform.NewJSONTransformer())
		case "xml":
			transformers = append(transformers, transform.NewXMLTransformer())
		case "csv":
			transformers = append(transformers, transform.NewCSVTransformer())
		default:
			return nil, fmt.Errorf("unknown transformer %q", name)
		}
	}
	return transformers, nil
}

// toPipelineResponse converts a pipeline to its API representation
func toPipelineResponse(p *appintegration.Pipeline) PipelineResponse {
	health := p.Health()
	return PipelineResponse{
		ID:        health.ID,
		Name:      health.Name,
		Scope:     p.Scope().String(),
		State:     health.State,
		Counters:  health.Counters,
		LastError: health.LastError,
	}
}
