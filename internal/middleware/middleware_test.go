package middleware

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "trailpulse/internal/errors"
	"trailpulse/internal/infrastructure"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestID(t *testing.T) {
	t.Run("generates an id when the header is absent", func(t *testing.T) {
		var gotReqID, gotTraceID string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotReqID = chimiddleware.GetReqID(r.Context())
			gotTraceID = infrastructure.GetTraceID(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/races", nil)
		RequestID(next).ServeHTTP(rec, req)

		require.NotEmpty(t, gotReqID)
		_, err := uuid.Parse(gotReqID)
		require.NoError(t, err, "generated id should be a UUID")

		assert.Equal(t, gotReqID, gotTraceID, "trace id should start out as the request id")
		assert.Equal(t, gotReqID, rec.Header().Get("X-Request-ID"))
	})

	t.Run("honors an incoming X-Request-ID header", func(t *testing.T) {
		var gotReqID string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotReqID = chimiddleware.GetReqID(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/races", nil)
		req.Header.Set("X-Request-ID", "upstream-id-42")
		RequestID(next).ServeHTTP(rec, req)

		assert.Equal(t, "upstream-id-42", gotReqID)
		assert.Equal(t, "upstream-id-42", rec.Header().Get("X-Request-ID"))
	})
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/panels", nil)
	req = req.WithContext(infrastructure.WithTraceID(req.Context(), "trace-123"))

	StructuredLogger(logger)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	logs := buf.String()
	assert.Contains(t, logs, "request started")
	assert.Contains(t, logs, "request completed")
	assert.Contains(t, logs, `"trace_id":"trace-123"`)
	assert.Contains(t, logs, `"status":204`)
	assert.Contains(t, logs, `"path":"/api/panels"`)
}

func TestRecoverer(t *testing.T) {
	errorHandler := apierrors.NewErrorHandler(discardLogger(), false)

	t.Run("converts a panic into a problem response", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("analytics blew up")
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/panels", nil)
		req = req.WithContext(context.WithValue(req.Context(), chimiddleware.RequestIDKey, "req-1"))

		Recoverer(errorHandler, nil)(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Internal Server Error", body["title"])
		assert.Equal(t, float64(http.StatusInternalServerError), body["status"])
		assert.Equal(t, "req-1", body["trace_id"])
	})

	t.Run("re-raises http.ErrAbortHandler", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		require.PanicsWithValue(t, http.ErrAbortHandler, func() {
			Recoverer(errorHandler, nil)(next).ServeHTTP(rec, req)
		})
	})

	t.Run("passes healthy requests through", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/import", nil)

		Recoverer(errorHandler, nil)(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 1, discardLogger())
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.Handler(next)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/races", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/races", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", second.Header().Get("Content-Type"))
	assert.Contains(t, second.Body.String(), apierrors.TypeRateLimit)
}

func TestTimeout(t *testing.T) {
	t.Run("returns 504 when the handler gives up on deadline", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/panels", nil)

		Timeout(20*time.Millisecond, discardLogger())(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), apierrors.TypeTimeout)
	})

	t.Run("passes fast requests through untouched", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/races", nil)

		Timeout(time.Second, discardLogger())(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("echoes an allowed origin", func(t *testing.T) {
		handler := CORS(CORSConfig{AllowedOrigins: []string{"http://localhost:8080"}})(next)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/races", nil)
		req.Header.Set("Origin", "http://localhost:8080")
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("omits the header for a disallowed origin", func(t *testing.T) {
		handler := CORS(CORSConfig{AllowedOrigins: []string{"http://localhost:8080"}})(next)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/races", nil)
		req.Header.Set("Origin", "http://evil.example")
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "request is still served")
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("supports wildcard origins", func(t *testing.T) {
		handler := CORS(CORSConfig{AllowedOrigins: []string{"*"}})(next)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/races", nil)
		req.Header.Set("Origin", "http://anywhere.example")
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "http://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("short-circuits preflight requests", func(t *testing.T) {
		handler := CORS(CORSConfig{
			AllowedOrigins:   []string{"http://localhost:8080"},
			AllowCredentials: true,
		})(next)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/import", nil)
		req.Header.Set("Origin", "http://localhost:8080")
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.NotEmpty(t, rec.Header().Get("Access-Control-Max-Age"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("sets the standard header set", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/races", nil)
		SecurityHeaders(next).ServeHTTP(rec, req)

		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
		assert.NotEmpty(t, rec.Header().Get("Referrer-Policy"))
		assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "no HSTS without TLS")
	})

	t.Run("adds HSTS on TLS connections", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "https://example.com/api/races", nil)
		req.TLS = &tls.ConnectionState{}
		SecurityHeaders(next).ServeHTTP(rec, req)

		assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")
	})

	t.Run("leaves websocket upgrades untouched", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Upgrade", "websocket")
		SecurityHeaders(next).ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("X-Content-Type-Options"))
		assert.Empty(t, rec.Header().Get("Content-Security-Policy"))
	})
}

func TestContentTypeValidator(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	vm := NewValidationMiddleware(discardLogger(), apierrors.NewErrorHandler(discardLogger(), false))
	handler := vm.ContentTypeValidator("application/json")(next)

	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
		wantBody    string
	}{
		{
			name:       "GET requests skip the check",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing content type is rejected",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
			wantBody:   "MISSING_CONTENT_TYPE",
		},
		{
			name:        "wrong content type is rejected",
			method:      http.MethodPost,
			contentType: "text/plain",
			wantStatus:  http.StatusUnsupportedMediaType,
			wantBody:    "UNSUPPORTED_MEDIA_TYPE",
		},
		{
			name:        "matching content type with charset passes",
			method:      http.MethodPost,
			contentType: "application/json; charset=utf-8",
			wantStatus:  http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/api/import", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestValidationMiddlewareValidateRequest(t *testing.T) {
	vm := NewValidationMiddleware(discardLogger(), apierrors.NewErrorHandler(discardLogger(), false))

	t.Run("rejects oversized payloads", func(t *testing.T) {
		handlerCalled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader("{}"))
		req.ContentLength = 11 * 1024 * 1024

		vm.ValidateRequest(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.False(t, handlerCalled)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(`{"text": `))

		vm.ValidateRequest(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid JSON")
	})

	t.Run("restores the body for handlers", func(t *testing.T) {
		const payload = `{"text":"1 Jornet Kilian 20:45:12"}`

		var seen string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			seen = string(body)
			w.WriteHeader(http.StatusOK)
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(payload))

		vm.ValidateRequest(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, payload, seen)
	})

	t.Run("skips read-only methods", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/races", nil)

		vm.ValidateRequest(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
