package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailpulse/internal/config"
	"trailpulse/internal/infrastructure"
	"trailpulse/pkg/contracts"
)

// setupTestEnvironment points the path layout at a temp directory and
// quiets the logger. The returned cleanup restores the environment.
func setupTestEnvironment(t *testing.T) func() {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "app_test_*")
	require.NoError(t, err)

	vars := map[string]string{
		"TRAILPULSE_PATHS_EXECUTABLE_DIR":        tempDir,
		"TRAILPULSE_SERVER_PORT":                 "18097",
		"TRAILPULSE_LOGGING_LEVEL":               "error",
		"TRAILPULSE_LOGGING_OUTPUT":              "stdout",
		"TRAILPULSE_LOGGING_DEVELOPMENT":         "false",
		"TRAILPULSE_SECURITY_RATE_LIMIT_ENABLED": "false",
	}
	for key, val := range vars {
		os.Setenv(key, val)
	}

	infrastructure.ResetLoggerForTesting()

	return func() {
		for key := range vars {
			os.Unsetenv(key)
		}
		os.RemoveAll(tempDir)
		infrastructure.ResetLoggerForTesting()
	}
}

// createTestLogger creates a logger that discards output.
func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// newTestApplication wires a full application without the OTel
// providers so tests exercise the nil-telemetry path.
func newTestApplication(t *testing.T) *Application {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)

	logger := createTestLogger()
	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: &infrastructure.OTelProviders{Logger: logger},
	}
	require.NoError(t, app.initializeServices())
	app.setupRouter()
	app.createServer()

	t.Cleanup(app.WebSocketHub.Stop)
	return app
}

func TestNewApplication(t *testing.T) {
	tests := []struct {
		name          string
		setupEnv      func()
		wantErr       bool
		errorContains string
	}{
		{
			name:     "successful initialization",
			setupEnv: func() {},
			wantErr:  false,
		},
		{
			name: "initialization with invalid config",
			setupEnv: func() {
				os.Setenv("TRAILPULSE_SERVER_PORT", "-1")
			},
			wantErr:       true,
			errorContains: "config validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := setupTestEnvironment(t)
			defer cleanup()

			tt.setupEnv()

			app, err := NewApplication()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errorContains != "" {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
				assert.Nil(t, app)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, app)
			defer app.WebSocketHub.Stop()

			assert.NotNil(t, app.Config)
			assert.NotNil(t, app.Logger)
			assert.NotNil(t, app.Router)
			assert.NotNil(t, app.Server)
			assert.NotNil(t, app.Store)
			assert.NotNil(t, app.WebSocketHub)
			assert.NotNil(t, app.DataService)
			assert.NotNil(t, app.AnalyticsService)
			assert.NotNil(t, app.ImportService)
			assert.NotNil(t, app.HealthService)
			assert.NotNil(t, app.ErrorHandler)

			// First run bootstraps an empty manifest.
			assert.True(t, config.FileExists(app.Config.GetManifestPath()))
			assert.Empty(t, app.Store.RaceIDs())
		})
	}
}

func TestNewApplicationCorruptManifest(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.GetManifestPath(), []byte("not json"), 0o644))

	app, err := NewApplication()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open race store")
	assert.Nil(t, app)
}

func TestApplicationInitializeServices(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	t.Run("wires services without telemetry", func(t *testing.T) {
		app := newTestApplication(t)

		assert.NotNil(t, app.Store)
		assert.NotNil(t, app.WebSocketHub)
		assert.NotNil(t, app.DataService)
		assert.NotNil(t, app.AnalyticsService)
		assert.NotNil(t, app.ImportService)
		assert.NotNil(t, app.HealthService)
		assert.NotNil(t, app.ErrorHandler)
		// No meter, no instruments.
		assert.Nil(t, app.Metrics)
	})

	t.Run("manifest bootstrap fails in unwritable location", func(t *testing.T) {
		cfg, err := config.Load()
		require.NoError(t, err)
		cfg.Paths.ManifestFile = filepath.Join(cfg.Paths.ExecutableDir, "missing-dir", "courses_index.json")

		logger := createTestLogger()
		app := &Application{
			Config:        cfg,
			Logger:        logger,
			OTelProviders: &infrastructure.OTelProviders{Logger: logger},
		}
		err = app.initializeServices()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bootstrap manifest")
	})
}

func TestApplicationEnsureManifest(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	cfg, err := config.Load()
	require.NoError(t, err)
	app := &Application{Config: cfg, Logger: createTestLogger()}

	t.Run("creates empty manifest on first run", func(t *testing.T) {
		require.NoError(t, app.ensureManifest())

		raw, err := os.ReadFile(cfg.GetManifestPath())
		require.NoError(t, err)
		assert.JSONEq(t, `{"courses":[]}`, string(raw))
	})

	t.Run("leaves an existing manifest untouched", func(t *testing.T) {
		existing := `{"courses":[{"race_id":"ut-2024","path":"courses/ut-2024.json"}]}`
		require.NoError(t, os.WriteFile(cfg.GetManifestPath(), []byte(existing), 0o644))

		require.NoError(t, app.ensureManifest())

		raw, err := os.ReadFile(cfg.GetManifestPath())
		require.NoError(t, err)
		assert.Equal(t, existing, string(raw))
	})
}

func TestApplicationRoutes(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)
	server := httptest.NewServer(app.Router)
	defer server.Close()

	tests := []struct {
		name         string
		method       string
		path         string
		contentType  string
		body         string
		wantStatus   int
		bodyContains string
	}{
		{
			name:         "health",
			method:       http.MethodGet,
			path:         "/api/health",
			wantStatus:   http.StatusOK,
			bodyContains: `"status"`,
		},
		{
			name:       "data health",
			method:     http.MethodGet,
			path:       "/api/health/data",
			wantStatus: http.StatusOK,
		},
		{
			name:       "readiness",
			method:     http.MethodGet,
			path:       "/api/health/ready",
			wantStatus: http.StatusOK,
		},
		{
			name:       "liveness",
			method:     http.MethodGet,
			path:       "/api/health/live",
			wantStatus: http.StatusOK,
		},
		{
			name:         "version",
			method:       http.MethodGet,
			path:         "/api/version",
			wantStatus:   http.StatusOK,
			bodyContains: contracts.Version,
		},
		{
			name:         "list races on empty dataset",
			method:       http.MethodGet,
			path:         "/api/races",
			wantStatus:   http.StatusOK,
			bodyContains: `"status":"success"`,
		},
		{
			name:         "list panels",
			method:       http.MethodGet,
			path:         "/api/panels",
			wantStatus:   http.StatusOK,
			bodyContains: `"overview"`,
		},
		{
			name:         "panel selection",
			method:       http.MethodGet,
			path:         "/api/panels/overview/selection",
			wantStatus:   http.StatusOK,
			bodyContains: `"status":"success"`,
		},
		{
			name:         "unknown race",
			method:       http.MethodGet,
			path:         "/api/races/missing-race",
			wantStatus:   http.StatusNotFound,
			bodyContains: "/errors/race/not-found",
		},
		{
			name:         "unknown panel",
			method:       http.MethodGet,
			path:         "/api/panels/nosuch/selection",
			wantStatus:   http.StatusNotFound,
			bodyContains: "/errors/panel/not-found",
		},
		{
			name:         "unknown route",
			method:       http.MethodGet,
			path:         "/nope",
			wantStatus:   http.StatusNotFound,
			bodyContains: "/errors/not-found",
		},
		{
			name:       "method not allowed",
			method:     http.MethodDelete,
			path:       "/api/health",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:         "import without content type",
			method:       http.MethodPost,
			path:         "/api/import",
			body:         `{"text":"1,Alice,901\n"}`,
			wantStatus:   http.StatusBadRequest,
			bodyContains: "Content-Type",
		},
		{
			name:        "import with wrong content type",
			method:      http.MethodPost,
			path:        "/api/import",
			contentType: "text/plain",
			body:        "1,Alice,901",
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:         "import preview with malformed body",
			method:       http.MethodPost,
			path:         "/api/import/preview",
			contentType:  "application/json",
			body:         `{"text":`,
			wantStatus:   http.StatusBadRequest,
			bodyContains: "invalid JSON",
		},
		{
			name:         "import preview",
			method:       http.MethodPost,
			path:         "/api/import/preview",
			contentType:  "application/json",
			body:         `{"text":"1,Alice,901\n2,Bea,874\n"}`,
			wantStatus:   http.StatusOK,
			bodyContains: `"status":"success"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reqBody io.Reader
			if tt.body != "" {
				reqBody = strings.NewReader(tt.body)
			}
			req, err := http.NewRequest(tt.method, server.URL+tt.path, reqBody)
			require.NoError(t, err)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode, "body: %s", raw)
			if tt.bodyContains != "" {
				assert.Contains(t, string(raw), tt.bodyContains)
			}
		})
	}

	t.Run("prometheus endpoint is mounted only with providers", func(t *testing.T) {
		// The test application runs without a meter provider, so the
		// scrape endpoint falls through to the 404 handler.
		resp, err := http.Get(server.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("response headers", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	})

	t.Run("cors preflight for an allowed origin", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/health", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:8080")
		req.Header.Set("Access-Control-Request-Method", "GET")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "http://localhost:8080", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestApplicationImportFlow(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)
	server := httptest.NewServer(app.Router)
	defer server.Close()

	importBody := `{"text":"1,Alice,901\n2,Bea,874\n3,Cleo,840\n","name":"Ultra Trail","year":2024,"country":"FRA"}`
	resp, err := http.Post(server.URL+"/api/import", "application/json", strings.NewReader(importBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var imported struct {
		Status string `json:"status"`
		Data   struct {
			RaceID  string `json:"race_id"`
			Results int    `json:"results"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&imported))
	assert.Equal(t, "success", imported.Status)
	assert.Equal(t, "ultra-trail-2024", imported.Data.RaceID)
	assert.Equal(t, 3, imported.Data.Results)

	// The imported race is immediately readable through the data API.
	resp, err = http.Get(server.URL + "/api/races/ultra-trail-2024")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"ultra-trail-2024"`)
	assert.Contains(t, string(raw), "Alice")

	// And shows up in the manifest list.
	resp, err = http.Get(server.URL + "/api/races")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"count":1`)
}

func TestApplicationCORSConfig(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)

	t.Run("production uses configured origins", func(t *testing.T) {
		app.Config.Logging.Development = false
		cfg := app.corsConfig()

		assert.Equal(t, app.Config.Security.AllowedOrigins, cfg.AllowedOrigins)
		assert.True(t, cfg.AllowCredentials)
		assert.Contains(t, cfg.ExposedHeaders, "Content-Disposition")
		assert.Contains(t, cfg.ExposedHeaders, "X-Request-ID")
	})

	t.Run("development adds dashboard dev origins", func(t *testing.T) {
		app.Config.Logging.Development = true
		cfg := app.corsConfig()

		assert.Contains(t, cfg.AllowedOrigins, "http://localhost:3000")
		assert.Contains(t, cfg.AllowedOrigins, "http://127.0.0.1:3000")
		for _, origin := range app.Config.Security.AllowedOrigins {
			assert.Contains(t, cfg.AllowedOrigins, origin)
		}
	})
}

func TestApplicationCheckWebSocketOrigin(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)
	app.Config.Logging.Development = false
	app.Config.Security.AllowedOrigins = []string{"http://localhost:8080"}

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "no origin header", origin: "", want: true},
		{name: "allowed origin", origin: "http://localhost:8080", want: true},
		{name: "allowed origin case insensitive", origin: "HTTP://LOCALHOST:8080", want: true},
		{name: "disallowed origin", origin: "http://evil.example.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, app.checkWebSocketOrigin(req))
		})
	}

	t.Run("wildcard allows everything", func(t *testing.T) {
		app.Config.Security.AllowedOrigins = []string{"*"}
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Origin", "http://anything.example.com")
		assert.True(t, app.checkWebSocketOrigin(req))
	})
}

func TestApplicationHandleWebSocket(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)
	server := httptest.NewServer(app.Router)
	defer server.Close()

	t.Run("successful upgrade receives the welcome message", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"connect"`)
		assert.Contains(t, string(payload), `"connected"`)
	})

	t.Run("plain http request is rejected", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/ws")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestApplicationCreateServer(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)

	require.NotNil(t, app.Server)
	assert.Equal(t, fmt.Sprintf(":%d", app.Config.Server.Port), app.Server.Addr)
	assert.Equal(t, app.Config.Server.ReadTimeout, app.Server.ReadTimeout)
	assert.Equal(t, app.Config.Server.WriteTimeout, app.Server.WriteTimeout)
	assert.Equal(t, app.Config.Server.IdleTimeout, app.Server.IdleTimeout)
	assert.Equal(t, app.Config.Server.MaxHeaderBytes, app.Server.MaxHeaderBytes)
	assert.Equal(t, app.Router, app.Server.Handler)
}

func TestApplicationStartupCheck(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)

	t.Run("passes on a writable layout", func(t *testing.T) {
		assert.NoError(t, app.startupCheck(context.Background()))
	})

	t.Run("reports unwritable directories", func(t *testing.T) {
		app.Config.Paths.ExportsDir = filepath.Join(app.Config.Paths.ExecutableDir, "missing", "exports")
		err := app.startupCheck(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not writable")
	})
}

func TestApplicationStartStop(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, app.Start(ctx, cancel))

	// Wait for the listener to come up.
	baseURL := fmt.Sprintf("http://localhost:%d", app.Config.Server.Port)
	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get(baseURL + "/api/health")
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, err, "server never became ready")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, app.Stop(context.Background()))

	// The listener is gone after shutdown.
	_, err = http.Get(baseURL + "/api/health")
	assert.Error(t, err)
}

func TestApplicationStartListenerFailure(t *testing.T) {
	cleanup := setupTestEnvironment(t)
	defer cleanup()

	app := newTestApplication(t)

	// Occupy the configured port so ListenAndServe fails.
	listener, err := net.Listen("tcp", app.Server.Addr)
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, app.Start(ctx, cancel))

	select {
	case <-ctx.Done():
		// Listener failure cancelled the run context.
	case <-time.After(3 * time.Second):
		t.Fatal("listener failure did not cancel the context")
	}
}
