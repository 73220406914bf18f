package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appintegration "github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/application/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/interfaces/http/dto"
)

// setupPipelineHandler builds a handler over a running manager with the given
// adapters registered at global scope.
func setupPipelineHandler(t *testing.T, adapters ...*mockAdapter) (*PipelineHandler, *appintegration.Manager) {
	t.Helper()
	ctx := context.Background()

	manager := appintegration.NewManager(integration.NewRegistry(nil), integration.NewFactory(),
		appintegration.WithManagerConfig(quietManagerConfig()),
		appintegration.WithLogger(zap.NewNop()))
	require.NoError(t, manager.Initialize(ctx))
	for _, a := range adapters {
		_, err := manager.RegisterAdapter(ctx, a, nil, integration.GlobalScope())
		require.NoError(t, err)
	}
	require.NoError(t, manager.Start(ctx))
	t.Cleanup(func() { _ = manager.Stop(context.Background()) })

	return NewPipelineHandler(manager), manager
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestPipelineHandler_Create_Success(t *testing.T) {
	h, _ := setupPipelineHandler(t, newMockAdapter(adapterConfig("plc-1")))

	body := `{
		"id": "line1-flow",
		"name": "Line 1 flow",
		"sources": ["plc-1"],
		"transformers": ["json", "xml"]
	}`
	w, resp := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)

	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "line1-flow", data["id"])
	assert.Equal(t, "Line 1 flow", data["name"])
	assert.Equal(t, "created", data["state"])
	assert.Equal(t, "global", data["scope"])
	counters := data["counters"].(map[string]interface{})
	assert.EqualValues(t, 0, counters["received"])
	assert.EqualValues(t, 0, counters["processed"])
	assert.EqualValues(t, 0, counters["failed"])
}

func TestPipelineHandler_Create_AutoStart(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	body := `{"id": "auto-flow", "name": "Auto flow", "auto_start": true}`
	w, resp := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)

	require.Equal(t, http.StatusCreated, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "running", data["state"])
}

func TestPipelineHandler_Create_Duplicate(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	body := `{"id": "dup-flow", "name": "Duplicate"}`
	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeAlreadyExists, resp.Error.Code)
}

func TestPipelineHandler_Create_UnknownTransformer(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	body := `{"id": "bad-flow", "name": "Bad", "transformers": ["yaml"]}`
	w, resp := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
}

func TestPipelineHandler_Create_UnknownSink(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	body := `{"id": "orphan-flow", "name": "Orphan", "sink_integration_id": "ghost"}`
	w, resp := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}

func TestPipelineHandler_Create_InvalidBody(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, resp := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "no-name"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
}

func TestPipelineHandler_Create_TenantScoped(t *testing.T) {
	h, _ := setupPipelineHandler(t)
	tenant := uuid.NewString()

	body := `{"id": "tenant-flow", "name": "Tenant flow"}`
	w, resp := doRequest(h.Create, http.MethodPost, "/pipelines", tenant, body)

	require.Equal(t, http.StatusCreated, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "tenant:"+tenant, data["scope"])
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestPipelineHandler_List(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	for _, body := range []string{
		`{"id": "flow-b", "name": "Flow B"}`,
		`{"id": "flow-a", "name": "Flow A"}`,
	} {
		w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, resp := doRequest(h.List, http.MethodGet, "/pipelines", "", "")

	require.Equal(t, http.StatusOK, w.Code)
	items := resp.Data.([]interface{})
	require.Len(t, items, 2)
	// Ordered by id.
	assert.Equal(t, "flow-a", items[0].(map[string]interface{})["id"])
	assert.Equal(t, "flow-b", items[1].(map[string]interface{})["id"])
}

func TestPipelineHandler_List_ScopeFiltering(t *testing.T) {
	h, _ := setupPipelineHandler(t)
	tenant := uuid.NewString()

	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "global-flow", "name": "Global"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = doRequest(h.Create, http.MethodPost, "/pipelines", tenant, `{"id": "tenant-flow", "name": "Tenant"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := doRequest(h.List, http.MethodGet, "/pipelines", tenant, "")
	require.Equal(t, http.StatusOK, w.Code)
	items := resp.Data.([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "tenant-flow", items[0].(map[string]interface{})["id"])

	w, resp = doRequest(h.List, http.MethodGet, "/pipelines?include_global=true", tenant, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data.([]interface{}), 2)

	w, resp = doRequest(h.List, http.MethodGet, "/pipelines", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	items = resp.Data.([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "global-flow", items[0].(map[string]interface{})["id"])
}

// ---------------------------------------------------------------------------
// GetByID / lifecycle
// ---------------------------------------------------------------------------

func TestPipelineHandler_GetByID_Success(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "flow-1", "name": "Flow 1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := doRequest(h.GetByID, http.MethodGet, "/pipelines/flow-1", "", "", idParam("flow-1"))

	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "flow-1", data["id"])
	assert.Equal(t, "created", data["state"])
}

func TestPipelineHandler_GetByID_NotFound(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, resp := doRequest(h.GetByID, http.MethodGet, "/pipelines/ghost", "", "", idParam("ghost"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Pipeline not found", resp.Error.Message)
}

func TestPipelineHandler_Start_Success(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "flow-1", "name": "Flow 1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := doRequest(h.Start, http.MethodPost, "/pipelines/flow-1/start", "", "", idParam("flow-1"))

	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "running", data["state"])
}

func TestPipelineHandler_Start_AlreadyRunning(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "flow-1", "name": "Flow 1", "auto_start": true}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := doRequest(h.Start, http.MethodPost, "/pipelines/flow-1/start", "", "", idParam("flow-1"))

	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeConflict, resp.Error.Code)
}

func TestPipelineHandler_Start_NotFound(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, resp := doRequest(h.Start, http.MethodPost, "/pipelines/ghost/start", "", "", idParam("ghost"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}

func TestPipelineHandler_Stop_Success(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "flow-1", "name": "Flow 1", "auto_start": true}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := doRequest(h.Stop, http.MethodPost, "/pipelines/flow-1/stop", "", "", idParam("flow-1"))

	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "stopped", data["state"])
}

func TestPipelineHandler_Stop_NotRunning(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "flow-1", "name": "Flow 1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// Stopping a pipeline that never ran is a no-op.
	w, resp := doRequest(h.Stop, http.MethodPost, "/pipelines/flow-1/stop", "", "", idParam("flow-1"))

	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "created", data["state"])
}

func TestPipelineHandler_Stop_NotFound(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, resp := doRequest(h.Stop, http.MethodPost, "/pipelines/ghost/stop", "", "", idParam("ghost"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}

func TestPipelineHandler_Delete_Success(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "flow-1", "name": "Flow 1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = doRequest(h.Delete, http.MethodDelete, "/pipelines/flow-1", "", "", idParam("flow-1"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = doRequest(h.GetByID, http.MethodGet, "/pipelines/flow-1", "", "", idParam("flow-1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPipelineHandler_Delete_StopsRunning(t *testing.T) {
	h, m := setupPipelineHandler(t)

	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", `{"id": "flow-1", "name": "Flow 1", "auto_start": true}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = doRequest(h.Delete, http.MethodDelete, "/pipelines/flow-1", "", "", idParam("flow-1"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, ok := m.GetPipeline("flow-1")
	assert.False(t, ok)
}

func TestPipelineHandler_Delete_NotFound(t *testing.T) {
	h, _ := setupPipelineHandler(t)

	w, resp := doRequest(h.Delete, http.MethodDelete, "/pipelines/ghost", "", "", idParam("ghost"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestPipelineHandler_EndToEndFlow(t *testing.T) {
	source := newMockAdapter(adapterConfig("plc-1"))
	sink := newMockAdapter(adapterConfig("erp-1"))
	h, m := setupPipelineHandler(t, source, sink)
	require.NoError(t, m.Connect(context.Background(), "erp-1", integration.GlobalScope()))

	body := `{
		"id": "line1-flow",
		"name": "Line 1 flow",
		"sources": ["plc-1"],
		"transformers": ["json"],
		"sink_integration_id": "erp-1",
		"auto_start": true
	}`
	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)
	require.Equal(t, http.StatusCreated, w.Code)

	// A raw JSON string arrives from the source adapter, gets parsed by the
	// json stage and lands on the sink adapter structured.
	source.push(context.Background(), integration.NewDataPacket("plc-1", `{"temperature": 21.5, "line": "1"}`))
	p, ok := m.GetPipeline("line1-flow")
	require.True(t, ok)
	waitUntil(t, time.Second, func() bool { return p.Counters().Processed == 1 })

	require.Equal(t, 1, sink.sentCount())
	packet := sink.lastSent()
	payload := packet.Payload.(map[string]any)
	assert.Equal(t, 21.5, payload["temperature"])
	assert.Equal(t, "1", payload["line"])
	assert.Equal(t, "json", packet.OriginalFormat())

	w, resp := doRequest(h.GetByID, http.MethodGet, "/pipelines/line1-flow", "", "", idParam("line1-flow"))
	require.Equal(t, http.StatusOK, w.Code)
	counters := resp.Data.(map[string]interface{})["counters"].(map[string]interface{})
	assert.EqualValues(t, 1, counters["received"])
	assert.EqualValues(t, 1, counters["processed"])
	assert.EqualValues(t, 0, counters["failed"])
}

func TestPipelineHandler_EndToEndFlow_SinkFailure(t *testing.T) {
	source := newMockAdapter(adapterConfig("plc-1"))
	sink := newMockAdapter(adapterConfig("erp-1"))
	h, m := setupPipelineHandler(t, source, sink)
	// The sink stays disconnected, so delivery fails and the packet counts
	// as failed without stopping the pipeline.

	body := `{
		"id": "line1-flow",
		"name": "Line 1 flow",
		"sources": ["plc-1"],
		"sink_integration_id": "erp-1",
		"auto_start": true
	}`
	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)
	require.Equal(t, http.StatusCreated, w.Code)

	source.push(context.Background(), integration.NewDataPacket("plc-1", map[string]any{"temperature": 21.5}))

	p, ok := m.GetPipeline("line1-flow")
	require.True(t, ok)
	waitUntil(t, time.Second, func() bool { return p.Counters().Failed == 1 })
	assert.EqualValues(t, 0, p.Counters().Processed)
	assert.Equal(t, 0, sink.sentCount())

	w, resp := doRequest(h.GetByID, http.MethodGet, "/pipelines/line1-flow", "", "", idParam("line1-flow"))
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "running", data["state"])
	assert.EqualValues(t, 1, data["counters"].(map[string]interface{})["failed"])
}

func TestPipelineHandler_SourceFiltering(t *testing.T) {
	lineA := newMockAdapter(adapterConfig("plc-a"))
	lineB := newMockAdapter(adapterConfig("plc-b"))
	sink := newMockAdapter(adapterConfig("erp-1"))
	h, m := setupPipelineHandler(t, lineA, lineB, sink)
	require.NoError(t, m.Connect(context.Background(), "erp-1", integration.GlobalScope()))

	body := `{
		"id": "line-a-only",
		"name": "Line A only",
		"sources": ["plc-a"],
		"sink_integration_id": "erp-1",
		"auto_start": true
	}`
	w, _ := doRequest(h.Create, http.MethodPost, "/pipelines", "", body)
	require.Equal(t, http.StatusCreated, w.Code)

	lineB.push(context.Background(), integration.NewDataPacket("plc-b", map[string]any{"n": 1}))
	lineA.push(context.Background(), integration.NewDataPacket("plc-a", map[string]any{"n": 2}))

	waitUntil(t, time.Second, func() bool { return sink.sentCount() == 1 })
	payload := sink.lastSent().Payload.(map[string]any)
	assert.EqualValues(t, 2, payload["n"])

	p, _ := m.GetPipeline("line-a-only")
	assert.EqualValues(t, 1, p.Counters().Received)
}
