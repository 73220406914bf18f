package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appintegration "github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/application/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/adapters"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/cache"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/config"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/logger"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/persistence"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/telemetry"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/interfaces/http/handler"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/interfaces/http/middleware"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Integration Service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize distributed tracing
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Initialize metrics export
	meterProvider, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(ctx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Database query tracing
	dbTraceCfg := telemetry.DefaultDBTracingConfig()
	dbTraceCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled
	dbTraceCfg.LogFullSQL = cfg.Telemetry.DBLogFullSQL
	if cfg.Telemetry.DBSlowQueryThresh > 0 {
		dbTraceCfg.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
	}
	dbTracing := telemetry.NewDBTracingPlugin(dbTraceCfg, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	// Database pool and query metrics
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DefaultDBMetricsConfig(), log)
	if err != nil {
		log.Fatal("Failed to register database metrics", zap.Error(err))
	}
	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(context.Background())
		defer dbMetrics.Stop()
	}

	// Initialize event serializer and bus
	eventSerializer := event.NewEventSerializer()
	event.RegisterIntegrationEvents(eventSerializer)

	var eventBus shared.EventBus
	switch cfg.Event.Bus {
	case "kafka":
		eventBus = event.NewKafkaEventBus(event.KafkaBusConfig{
			Brokers:  cfg.Event.Brokers,
			ClientID: cfg.Event.ClientID,
		}, eventSerializer, log)
		log.Info("Using Kafka event bus", zap.Strings("brokers", cfg.Event.Brokers))
	default:
		eventBus = event.NewInMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}

	// Start event bus
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Inbound message deduplication store (Redis-backed when reachable)
	var dedupStore shared.IdempotencyStore
	if cfg.Integrations.DedupEnabled {
		storeFactory := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log))
		dedupStore, err = storeFactory.CreateStore()
		if err != nil {
			log.Fatal("Failed to create deduplication store", zap.Error(err))
		}
		defer func() {
			if err := dedupStore.Close(); err != nil {
				log.Error("Error closing deduplication store", zap.Error(err))
			}
		}()
	}

	// Integration config sources: file definitions take precedence over
	// rows persisted through the registration API.
	configRepo := persistence.NewGormIntegrationConfigRepository(db.DB)

	var configProviders integration.MultiProvider
	if cfg.Integrations.ConfigFile != "" {
		fileProvider, err := config.NewFileProvider(cfg.Integrations.ConfigFile, log)
		if err != nil {
			log.Fatal("Failed to load integration definitions",
				zap.String("file", cfg.Integrations.ConfigFile),
				zap.Error(err),
			)
		}
		if cfg.Integrations.Watch {
			if err := fileProvider.Watch(); err != nil {
				log.Warn("Failed to watch integration definitions", zap.Error(err))
			}
		}
		configProviders = append(configProviders, fileProvider)
	}
	if cfg.Integrations.StoreEnabled {
		configProviders = append(configProviders, configRepo)
	}

	// Initialize adapter registry and factory
	registry := integration.NewRegistry(nil)
	factory := integration.NewFactory()
	if err := adapters.RegisterDefaults(factory, log); err != nil {
		log.Fatal("Failed to register adapter constructors", zap.Error(err))
	}

	// Assemble the integration manager
	managerCfg := appintegration.DefaultManagerConfig()
	managerCfg.CircuitBreakerThreshold = cfg.Integrations.CircuitBreakerThreshold
	managerCfg.CircuitBreakerResetTimeout = cfg.Integrations.CircuitBreakerResetTimeout
	managerCfg.AutoReconnect = cfg.Integrations.AutoReconnect
	managerCfg.OperationTimeout = cfg.Integrations.OperationTimeout
	managerCfg.DedupTTL = cfg.Integrations.DedupTTL

	managerOpts := []appintegration.ManagerOption{
		appintegration.WithManagerConfig(managerCfg),
		appintegration.WithEventPublisher(eventBus),
		appintegration.WithLogger(log),
	}
	if len(configProviders) > 0 {
		managerOpts = append(managerOpts, appintegration.WithConfigProvider(configProviders))
	}
	if cfg.Integrations.StoreEnabled {
		managerOpts = append(managerOpts, appintegration.WithConfigStore(configRepo))
	}
	if dedupStore != nil {
		managerOpts = append(managerOpts, appintegration.WithDedupStore(dedupStore))
	}

	manager := appintegration.NewManager(registry, factory, managerOpts...)

	if err := manager.Initialize(context.Background()); err != nil {
		log.Fatal("Failed to initialize integration manager", zap.Error(err))
	}
	if err := manager.Start(context.Background()); err != nil {
		log.Fatal("Failed to start integration manager", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := manager.Shutdown(ctx); err != nil {
			log.Error("Error shutting down integration manager", zap.Error(err))
		}
	}()
	log.Info("Integration manager started", zap.String("status", string(manager.Status())))

	// Fleet metrics: gauges sampled from the manager plus counters fed by
	// lifecycle and data-flow events.
	if meterProvider.IsEnabled() {
		fleetMetrics, err := telemetry.NewIntegrationMetrics(telemetry.IntegrationMetricsConfig{
			Meter:         meterProvider.Meter("integration.fleet"),
			Logger:        log,
			FleetProvider: appintegration.NewFleetObserver(manager),
		})
		if err != nil {
			log.Fatal("Failed to create integration metrics", zap.Error(err))
		}
		eventBus.Subscribe(appintegration.NewMetricsEventHandler(fleetMetrics))
		fleetMetrics.StartPeriodicCollection(context.Background(), 0)
		defer fleetMetrics.Stop()
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Security - Add security headers
	// 5. CORS - Handle cross-origin requests
	// 6. BodyLimit - Limit request body size
	// 7. RateLimit - Apply rate limiting (if enabled)
	// 8. Tracing - Create server spans
	// 9. HTTPMetrics - Record request metrics
	// 10. Tenant - Resolve tenant context from X-Tenant-ID
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Rate limiting (if enabled)
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Request tracing and metrics
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		ServiceName:   cfg.Telemetry.ServiceName,
		Enabled:       cfg.Telemetry.Enabled,
	}))

	// Tenant resolution, then tenant attributes on the active span
	tenantCfg := middleware.DefaultTenantConfig()
	tenantCfg.Logger = log
	engine.Use(middleware.TenantMiddlewareWithConfig(tenantCfg))
	engine.Use(middleware.TracingAttributeInjector())

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, manager))

	// Initialize HTTP handlers
	integrationHandler := handler.NewIntegrationHandler(manager)
	pipelineHandler := handler.NewPipelineHandler(manager)
	systemHandler := handler.NewSystemHandler()

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Integration fleet: registration, lifecycle, data exchange
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

	// Data pipelines between adapters
	pipelineRoutes := router.NewDomainGroup("pipelines", "/pipelines")
	pipelineRoutes.POST("", pipelineHandler.Create)
	pipelineRoutes.GET("", pipelineHandler.List)
	pipelineRoutes.GET("/:id", pipelineHandler.GetByID)
	pipelineRoutes.POST("/:id/start", pipelineHandler.Start)
	pipelineRoutes.POST("/:id/stop", pipelineHandler.Stop)
	pipelineRoutes.DELETE("/:id", pipelineHandler.Delete)

	// System routes
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	// Register all domain groups
	r.Register(integrationRoutes).
		Register(pipelineRoutes).
		Register(systemRoutes)

	// Setup routes
	r.Setup()

	// Also keep a simple ping at root API level for basic health checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler reports process liveness from locally held state. Database
// reachability is probed directly; adapter health comes from the manager's
// cached snapshots rather than live endpoint probes, so the handler stays
// cheap within tight orchestrator probe intervals.
func healthHandler(db *persistence.Database, manager *appintegration.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "unhealthy",
				"time":         time.Now().Format(time.RFC3339),
				"database":     "error",
				"integrations": string(manager.Status()),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"time":         time.Now().Format(time.RFC3339),
			"database":     "ok",
			"integrations": string(manager.Status()),
		})
	}
}
