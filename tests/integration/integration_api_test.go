// Package integration provides integration testing for the integration
// service API. This file contains tests for the integration fleet endpoints
// against a real database.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appintegration "github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/application/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/adapters"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/persistence"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/interfaces/http/handler"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/interfaces/http/middleware"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/interfaces/http/router"
)

// TestServer wraps the test database, a running integration manager and the
// HTTP engine for API testing
type TestServer struct {
	DB      *TestDB
	Engine  *gin.Engine
	Router  *router.Router
	Manager *appintegration.Manager
	Bus     *event.InMemoryEventBus
}

// NewTestServer creates a test server wired like the real service: gin
// engine, manager with registered adapter constructors, in-memory event bus
// and the GORM-backed config store.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)
	testDB := NewTestDB(t)
	log := zap.NewNop()

	// Config store backed by the test database
	configRepo := persistence.NewGormIntegrationConfigRepository(testDB.DB)

	// Event bus
	bus := event.NewInMemoryEventBus(log)
	require.NoError(t, bus.Start(context.Background()))

	// Manager with the default adapter catalog
	registry := integration.NewRegistry(nil)
	factory := integration.NewFactory()
	require.NoError(t, adapters.RegisterDefaults(factory, log))

	manager := appintegration.NewManager(registry, factory,
		appintegration.WithEventPublisher(bus),
		appintegration.WithLogger(log),
		appintegration.WithConfigProvider(integration.MultiProvider{configRepo}),
		appintegration.WithConfigStore(configRepo),
	)
	require.NoError(t, manager.Initialize(context.Background()))
	require.NoError(t, manager.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		_ = bus.Stop(ctx)
	})

	// Initialize handlers
	middleware.SetupValidator()
	integrationHandler := handler.NewIntegrationHandler(manager)
	pipelineHandler := handler.NewPipelineHandler(manager)

	// Setup engine
	engine := gin.New()

	// Setup routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	integrationRoutes := router.NewDomainGroup("integrations", "/integrations")
	integrationRoutes.POST("", integrationHandler.Register)
	integrationRoutes.GET("", integrationHandler.List)
	integrationRoutes.GET("/health", integrationHandler.AggregateHealth)
	integrationRoutes.GET("/:id", integrationHandler.GetByID)
	integrationRoutes.DELETE("/:id", integrationHandler.Delete)
	integrationRoutes.POST("/:id/connect", integrationHandler.Connect)
	integrationRoutes.POST("/:id/disconnect", integrationHandler.Disconnect)
	integrationRoutes.POST("/:id/reconnect", integrationHandler.Reconnect)
	integrationRoutes.POST("/:id/data", integrationHandler.SendData)
	integrationRoutes.GET("/:id/health", integrationHandler.Health)
	integrationRoutes.POST("/:id/circuit-breaker/reset", integrationHandler.ResetCircuitBreaker)

	pipelineRoutes := router.NewDomainGroup("pipelines", "/pipelines")
	pipelineRoutes.POST("", pipelineHandler.Create)
	pipelineRoutes.GET("", pipelineHandler.List)
	pipelineRoutes.GET("/:id", pipelineHandler.GetByID)
	pipelineRoutes.POST("/:id/start", pipelineHandler.Start)
	pipelineRoutes.POST("/:id/stop", pipelineHandler.Stop)
	pipelineRoutes.DELETE("/:id", pipelineHandler.Delete)

	r.Register(integrationRoutes).Register(pipelineRoutes)
	r.Setup()

	return &TestServer{
		DB:      testDB,
		Engine:  engine,
		Router:  r,
		Manager: manager,
		Bus:     bus,
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, tenantID ...uuid.UUID) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	// Set tenant ID header if provided
	if len(tenantID) > 0 {
		req.Header.Set("X-Tenant-ID", tenantID[0].String())
	}

	w := httptest.NewRecorder()
	ts.Engine.ServeHTTP(w, req)
	return w
}

// APIResponse represents the standard API response structure
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Meta *struct {
		Total    int64 `json:"total"`
		Page     int   `json:"page"`
		PageSize int   `json:"page_size"`
	} `json:"meta,omitempty"`
}

// registerIntegration registers an integration through the API and fails the
// test if the server rejects it.
func registerIntegration(t *testing.T, ts *TestServer, body map[string]interface{}, tenantID ...uuid.UUID) map[string]interface{} {
	t.Helper()

	w := ts.Request("POST", "/api/v1/integrations", body, tenantID...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	return resp.Data.(map[string]interface{})
}

// TestIntegrationAPI_Lifecycle walks one integration through its whole life:
// register, inspect, connect, exchange data, disconnect, deregister.
func TestIntegrationAPI_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestServer(t)
	const id = "plant-gateway"

	t.Run("Register integration", func(t *testing.T) {
		data := registerIntegration(t, ts, map[string]interface{}{
			"id":           id,
			"name":         "Plant Gateway",
			"type":         "custom",
			"description":  "Loopback gateway for the press shop",
			"auto_connect": false,
			"retry": map[string]interface{}{
				"max_retries":      3,
				"initial_delay_ms": 100,
				"max_delay_ms":     5000,
				"backoff_factor":   2.0,
			},
			"tags": []string{"press-shop"},
		})

		assert.Equal(t, id, data["id"])
		assert.Equal(t, "Plant Gateway", data["name"])
		assert.Equal(t, "custom", data["type"])
		assert.Equal(t, "global", data["scope"])
		assert.Equal(t, "disconnected", data["connection_status"])
	})

	t.Run("Register duplicate fails", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations", map[string]interface{}{
			"id":   id,
			"name": "Plant Gateway Again",
			"type": "custom",
		})
		assert.Equal(t, http.StatusConflict, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_ALREADY_EXISTS", resp.Error.Code)
	})

	t.Run("Get integration", func(t *testing.T) {
		w := ts.Request("GET", "/api/v1/integrations/"+id, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, id, data["id"])
		assert.Equal(t, "disconnected", data["connection_status"])
	})

	t.Run("List integrations", func(t *testing.T) {
		w := ts.Request("GET", "/api/v1/integrations", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		list := resp.Data.([]interface{})
		require.Len(t, list, 1)
		assert.Equal(t, id, list[0].(map[string]interface{})["id"])
	})

	t.Run("Send while disconnected fails", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations/"+id+"/data", map[string]interface{}{
			"payload": map[string]interface{}{"temperature": 81.5},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_NOT_CONNECTED", resp.Error.Code)
	})

	t.Run("Connect", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations/"+id+"/connect", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "connected", data["connection_status"])
	})

	t.Run("Send data", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations/"+id+"/data", map[string]interface{}{
			"source":  "press-line-1",
			"payload": map[string]interface{}{"temperature": 81.5, "unit": "celsius"},
			"metadata": map[string]string{
				"machine": "press-03",
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, id, data["integration_id"])
		assert.NotEmpty(t, data["packet_id"])
	})

	t.Run("Health record", func(t *testing.T) {
		w := ts.Request("GET", "/api/v1/integrations/"+id+"/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, id, data["integration_id"])
		assert.Equal(t, "connected", data["connection_status"])
		assert.Equal(t, float64(0), data["consecutive_failures"])
	})

	t.Run("Reset circuit breaker", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations/"+id+"/circuit-breaker/reset", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, id, data["id"])
		assert.Equal(t, "closed", data["state"])
	})

	t.Run("Reconnect", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations/"+id+"/reconnect", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "connected", data["connection_status"])
	})

	t.Run("Disconnect", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations/"+id+"/disconnect", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "disconnected", data["connection_status"])
	})

	t.Run("Delete integration", func(t *testing.T) {
		w := ts.Request("DELETE", "/api/v1/integrations/"+id, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = ts.Request("GET", "/api/v1/integrations/"+id, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// TestIntegrationAPI_AutoConnect verifies registration connects by default.
func TestIntegrationAPI_AutoConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestServer(t)

	data := registerIntegration(t, ts, map[string]interface{}{
		"id":   "auto-gw",
		"name": "Auto Connected Gateway",
		"type": "custom",
	})
	assert.Equal(t, "connected", data["connection_status"])
}

// TestIntegrationAPI_Validation covers rejected registrations and requests.
func TestIntegrationAPI_Validation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestServer(t)

	t.Run("Missing required fields", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations", map[string]interface{}{
			"name": "No ID",
			"type": "custom",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown system type", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations", map[string]interface{}{
			"id":   "teleporter-1",
			"name": "Teleporter",
			"type": "teleporter",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_INVALID_CONFIG", resp.Error.Code)
	})

	t.Run("Type without registered adapter", func(t *testing.T) {
		w := ts.Request("POST", "/api/v1/integrations", map[string]interface{}{
			"id":   "plc-1",
			"name": "Bare PLC",
			"type": "profinet",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "ERR_UNSUPPORTED_TYPE", resp.Error.Code)
	})

	t.Run("Send without payload", func(t *testing.T) {
		registerIntegration(t, ts, map[string]interface{}{
			"id":   "payload-gw",
			"name": "Payload Gateway",
			"type": "custom",
		})

		w := ts.Request("POST", "/api/v1/integrations/payload-gw/data", map[string]interface{}{
			"source": "press-line-1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Malformed tenant header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/integrations", nil)
		req.Header.Set("X-Tenant-ID", "not-a-uuid")
		w := httptest.NewRecorder()
		ts.Engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Operations on missing integration", func(t *testing.T) {
		for _, probe := range []struct {
			method string
			path   string
		}{
			{"GET", "/api/v1/integrations/ghost"},
			{"POST", "/api/v1/integrations/ghost/connect"},
			{"POST", "/api/v1/integrations/ghost/disconnect"},
			{"GET", "/api/v1/integrations/ghost/health"},
			{"POST", "/api/v1/integrations/ghost/circuit-breaker/reset"},
			{"DELETE", "/api/v1/integrations/ghost"},
		} {
			w := ts.Request(probe.method, probe.path, nil)
			assert.Equal(t, http.StatusNotFound, w.Code,
				fmt.Sprintf("%s %s", probe.method, probe.path))
		}
	})
}

// TestIntegrationAPI_TenantIsolation verifies tenant-scoped integrations stay
// invisible to other tenants and to global callers.
func TestIntegrationAPI_TenantIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestServer(t)
	tenantA := uuid.New()
	tenantB := uuid.New()

	// Same id registered globally and for tenant A
	registerIntegration(t, ts, map[string]interface{}{
		"id":   "shared-gw",
		"name": "Global Gateway",
		"type": "custom",
	})
	registerIntegration(t, ts, map[string]interface{}{
		"id":   "shared-gw",
		"name": "Tenant A Gateway",
		"type": "custom",
	}, tenantA)

	t.Run("Tenant sees own registration", func(t *testing.T) {
		w := ts.Request("GET", "/api/v1/integrations/shared-gw", nil, tenantA)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "Tenant A Gateway", data["name"])
		assert.Equal(t, "tenant:"+tenantA.String(), data["scope"])
	})

	t.Run("Global caller sees global registration", func(t *testing.T) {
		w := ts.Request("GET", "/api/v1/integrations/shared-gw", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "Global Gateway", data["name"])
		assert.Equal(t, "global", data["scope"])
	})

	t.Run("Other tenant sees nothing", func(t *testing.T) {
		w := ts.Request("GET", "/api/v1/integrations/shared-gw", nil, tenantB)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = ts.Request("GET", "/api/v1/integrations", nil, tenantB)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Data)
	})

	t.Run("Tenant listing with include_global", func(t *testing.T) {
		w := ts.Request("GET", "/api/v1/integrations", nil, tenantA)
		require.Equal(t, http.StatusOK, w.Code)

		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Data.([]interface{}), 1)

		w = ts.Request("GET", "/api/v1/integrations?include_global=true", nil, tenantA)
		require.Equal(t, http.StatusOK, w.Code)

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Data.([]interface{}), 2)
	})

	t.Run("Tenant delete leaves global intact", func(t *testing.T) {
		w := ts.Request("DELETE", "/api/v1/integrations/shared-gw", nil, tenantA)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = ts.Request("GET", "/api/v1/integrations/shared-gw", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// TestIntegrationAPI_AggregateHealth checks the fleet-wide health report.
func TestIntegrationAPI_AggregateHealth(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestServer(t)

	registerIntegration(t, ts, map[string]interface{}{
		"id":   "healthy-gw",
		"name": "Healthy Gateway",
		"type": "custom",
	})

	w := ts.Request("GET", "/api/v1/integrations/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})

	assert.Equal(t, "ready", data["status"])
	adaptersList := data["adapters"].([]interface{})
	require.Len(t, adaptersList, 1)
	entry := adaptersList[0].(map[string]interface{})
	assert.Equal(t, "healthy-gw", entry["id"])
	assert.NotEmpty(t, data["checked_at"])
}
