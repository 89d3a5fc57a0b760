package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MetricsHandler exposes the Prometheus scrape endpoint backed by the
// OpenTelemetry meter provider's registry
type MetricsHandler struct {
	scrape http.Handler
}

// NewMetricsHandler wraps the scrape handler produced by the
// observability setup
func NewMetricsHandler(scrape http.Handler) *MetricsHandler {
	return &MetricsHandler{scrape: scrape}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Scrape)
	return r
}

// Scrape serves the Prometheus exposition payload
func (h *MetricsHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	if h.scrape == nil {
		http.Error(w, "metrics not configured", http.StatusServiceUnavailable)
		return
	}
	h.scrape.ServeHTTP(w, r)
}
