package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"trailpulse/internal/config"
	apierrors "trailpulse/internal/errors"
	"trailpulse/internal/infrastructure"
	customMiddleware "trailpulse/internal/middleware"
	"trailpulse/internal/services"
	"trailpulse/internal/store"
	handlers "trailpulse/internal/transport/http"
	ws "trailpulse/internal/websocket"
	"trailpulse/pkg/contracts"
)

// AppName is the product name used in startup logs.
const AppName = "TrailPulse"

// systemMetricsInterval is how often the runtime gauge callbacks flush.
const systemMetricsInterval = 30 * time.Second

// Application is the composition root. It owns every long-lived
// component and wires them together in dependency order: configuration,
// logger, observability, store, services, WebSocket hub, router, server.
type Application struct {
	Config *config.Config
	Router *chi.Mux
	Server *http.Server
	Store  *store.Store

	WebSocketHub *ws.Hub

	DataService      *services.DataService
	AnalyticsService *services.AnalyticsService
	ImportService    *services.ImportService
	HealthService    *services.HealthService

	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	ErrorHandler  *apierrors.ErrorHandler

	systemMetrics *infrastructure.SystemMetricsCollector
}

// NewApplication builds a fully wired application. Nothing is listening
// yet; call Run or Start afterwards.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version))

	cfg.ResolvedPaths().LogPathResolution()

	otelCfg := infrastructure.DefaultOTelConfig()
	if !cfg.Logging.Development {
		// The stdout span exporter is a development aid. Metrics stay on
		// because /metrics serves the Prometheus scrape in every mode.
		otelCfg.TraceExporter = "none"
		otelCfg.EnableTracing = false
	}
	otelProviders, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices constructs the store, the services and the
// WebSocket hub, and connects the shared metric instruments.
func (a *Application) initializeServices() error {
	if a.OTelProviders.Meter != nil {
		metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
		if err != nil {
			return fmt.Errorf("failed to create business metrics: %w", err)
		}
		a.Metrics = metrics

		collector, err := infrastructure.NewSystemMetricsCollector(a.OTelProviders.Meter, systemMetricsInterval)
		if err != nil {
			return fmt.Errorf("failed to create system metrics collector: %w", err)
		}
		a.systemMetrics = collector
	}

	if err := a.ensureManifest(); err != nil {
		return err
	}

	st, err := store.New(store.Options{
		Root:         a.Config.Paths.ExecutableDir,
		ManifestPath: a.Config.GetManifestPath(),
		Logger:       a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open race store: %w", err)
	}
	a.Store = st

	hub := ws.NewHub(a.Logger)
	hub.SetMetrics(a.Metrics)
	hub.Start()
	a.WebSocketHub = hub

	dataService := services.NewDataService(st, a.Logger)
	dataService.SetBroadcaster(hub)
	dataService.SetMetrics(a.Metrics)
	a.DataService = dataService

	analyticsService := services.NewAnalyticsService(st, a.Logger)
	analyticsService.SetBroadcaster(hub)
	analyticsService.SetMetrics(a.Metrics)
	a.AnalyticsService = analyticsService

	importService := services.NewImportService(st, a.Logger)
	importService.SetBroadcaster(hub)
	importService.SetMetrics(a.Metrics)
	a.ImportService = importService

	a.HealthService = services.NewHealthService(dataService, analyticsService, a.Logger)

	a.ErrorHandler = apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	return nil
}

// ensureManifest writes an empty manifest on first run so a fresh
// install starts with zero races instead of failing. Imports populate
// it afterwards.
func (a *Application) ensureManifest() error {
	manifestPath := a.Config.GetManifestPath()
	if config.FileExists(manifestPath) {
		return nil
	}

	a.Logger.Info("manifest not found, starting with an empty dataset",
		slog.String("path", manifestPath))

	if err := os.WriteFile(manifestPath, []byte("{\"courses\":[]}\n"), 0o644); err != nil {
		return fmt.Errorf("failed to bootstrap manifest: %w", err)
	}
	return nil
}

// setupRouter configures the HTTP router. The WebSocket endpoint sits
// outside the full middleware chain because wrapped response writers
// break the hijack the upgrader needs.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// Set before any Group or Mount so chi propagates the problem-JSON
	// handlers into the subrouters.
	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).HandleFunc("/ws", a.handleWebSocket)

	r.Group(func(r chi.Router) {
		if a.OTelProviders.Tracer != nil {
			otelMiddleware := customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics)
			r.Use(otelMiddleware.Handler)
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.ErrorHandler, a.Metrics))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.corsConfig()))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	// Prometheus scrape endpoint outside the middleware group so
	// collectors are not rate limited or logged per scrape.
	if a.OTelProviders.PrometheusHTTP != nil {
		metricsHandler := handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP)
		r.Mount("/metrics", metricsHandler.Routes())
	}

	a.Router = r
}

// setupAPIRoutes mounts the JSON API under /api.
func (a *Application) setupAPIRoutes(r chi.Router) {
	validation := customMiddleware.NewValidationMiddleware(a.Logger, a.ErrorHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Compress(5))
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))
		// Content type first: a non-JSON body should read as 415, not as
		// malformed JSON.
		r.Use(validation.ContentTypeValidator("application/json"))
		r.Use(validation.ValidateRequest)

		healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/data", healthHandler.DataHealth)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		dataHandler := handlers.NewDataHandler(a.DataService, a.Logger, a.ErrorHandler)
		r.Mount("/races", dataHandler.Routes())

		analyticsHandler := handlers.NewAnalyticsHandler(a.AnalyticsService, a.Logger, a.ErrorHandler)
		r.Mount("/panels", analyticsHandler.Routes())

		importHandler := handlers.NewImportHandler(a.ImportService, a.Logger, a.ErrorHandler)
		r.Mount("/import", importHandler.Routes())
	})
}

// corsConfig maps the security configuration onto the CORS middleware.
// Development adds the local dashboard dev server origins.
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	cfg := customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
			// The CSV export filename travels in Content-Disposition.
			"Content-Disposition",
		},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}

	if a.Config.Logging.Development {
		cfg.AllowedOrigins = append([]string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		}, cfg.AllowedOrigins...)
	}

	return cfg
}

// createServer creates the HTTP server around the router.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the server and the background collectors. The cancel
// function is invoked when the listener fails so Run can unwind.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting application",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("log_level", a.Config.Logging.Level))

	if a.systemMetrics != nil {
		go a.systemMetrics.Start(ctx)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	if err := a.startupCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "startup check warnings", slog.String("warnings", err.Error()))
	}

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)),
		slog.Int("races_indexed", len(a.Store.RaceIDs())))

	return nil
}

// Stop drains the server, then shuts the hub and the telemetry
// providers down. Call with a fresh context; Run's context is already
// cancelled by the time shutdown begins.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application",
		slog.Int("websocket_clients", a.WebSocketHub.ClientCount()))

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.systemMetrics != nil {
		a.systemMetrics.Stop()
	}

	a.WebSocketHub.Stop()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}

// Run starts the application and blocks until an interrupt arrives or
// the listener fails, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "listener stopped, shutting down")
	}

	return a.Stop(context.Background())
}

// handleWebSocket upgrades the connection and hands it to the hub.
func (a *Application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
		CheckOrigin:     a.checkWebSocketOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			a.Logger.ErrorContext(r.Context(), "websocket upgrade error",
				slog.Int("status", status),
				slog.String("reason", reason.Error()),
				slog.String("origin", r.Header.Get("Origin")))
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already wrote the HTTP error response.
		a.Logger.ErrorContext(ctx, "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	traceID := infrastructure.GetTraceID(ctx)
	client := ws.NewClientWithTrace(a.WebSocketHub, conn, traceID, a.Logger)
	a.WebSocketHub.Register(client)

	a.Logger.InfoContext(ctx, "websocket client connected",
		slog.String("remote_addr", r.RemoteAddr))

	go client.WritePump()
	go client.ReadPump()
}

// checkWebSocketOrigin accepts same-origin requests (no Origin header)
// and any origin on the configured allow list.
func (a *Application) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := a.corsConfig().AllowedOrigins
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}

	a.Logger.Warn("websocket origin rejected",
		slog.String("origin", origin),
		slog.Any("allowed_origins", allowed))
	return false
}

// startupCheck verifies the writable directories after the listener
// starts. Failures are reported as warnings, not fatal errors, so a
// read-only dataset still serves.
func (a *Application) startupCheck(ctx context.Context) error {
	paths := a.Config.ResolvedPaths()

	directories := map[string]string{
		"data":    paths.DataDir,
		"courses": paths.CoursesDir,
		"exports": paths.ExportsDir,
		"logs":    paths.LogsDir,
	}

	var warnings []string
	for name, dir := range directories {
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s directory not writable: %s", name, dir))
		} else {
			os.Remove(testFile)
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("%s", strings.Join(warnings, "; "))
	}

	a.Logger.InfoContext(ctx, "startup check passed")
	return nil
}
