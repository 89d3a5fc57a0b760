package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "trailpulse/internal/errors"
	"trailpulse/internal/services"
	api "trailpulse/pkg/contracts/api/v1"
	"trailpulse/pkg/contracts/domain"
)

// AnalyticsHandler handles panel and analytics HTTP requests with RFC 7807 compliance
type AnalyticsHandler struct {
	service      AnalyticsServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewAnalyticsHandler creates a new analytics handler with RFC 7807 error handling
func NewAnalyticsHandler(service AnalyticsServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *AnalyticsHandler {
	return &AnalyticsHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "analytics_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the panel routes with proper Chi patterns
func (h *AnalyticsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Use render for consistent JSON responses
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/", h.ListPanels)

	// Per-panel routes
	r.Route("/{panel}", func(r chi.Router) {
		r.Use(h.PanelCtx) // Validate panel name format

		r.Get("/selection", h.GetSelection)
		r.Post("/selection", h.MutateSelection)
		r.Put("/filters", h.SetFilters)
		r.Put("/sort", h.SetSort)

		r.Get("/metrics", h.GetMetrics)
		r.Get("/ladder", h.GetLadder)
		r.Get("/parity", h.GetParity)
		r.Get("/closest", h.GetClosestMatches)
		r.Get("/lorenz", h.GetLorenz)
		r.Get("/buckets", h.GetBuckets)

		r.Get("/export/csv", h.ExportCSV)
	})

	return r
}

// PanelCtx middleware validates the panel URL parameter
func (h *AnalyticsHandler) PanelCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panel := chi.URLParam(r, "panel")
		if panel == "" {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("panel", "Panel name is required"))
			return
		}

		// Panel names are short lowercase identifiers
		if len(panel) > 32 || panel != strings.ToLower(panel) {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("panel", "Invalid panel name format"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ListPanels handles GET /api/panels
func (h *AnalyticsHandler) ListPanels(w http.ResponseWriter, r *http.Request) {
	panels := h.service.Panels()

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   panels,
		"count":  len(panels),
	})
}

// GetSelection handles GET /api/panels/{panel}/selection
func (h *AnalyticsHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	panel := chi.URLParam(r, "panel")

	state, err := h.service.Selection(r.Context(), panel)
	if err != nil {
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   state,
	})
}

// MutateSelection handles POST /api/panels/{panel}/selection with RFC 7807 errors
func (h *AnalyticsHandler) MutateSelection(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	panel := chi.URLParam(r, "panel")

	var req api.SelectionMutationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"INVALID_REQUEST",
			"Invalid request body",
			map[string]interface{}{
				"error": err.Error(),
			},
		))
		return
	}

	h.logger.InfoContext(r.Context(), "mutating selection",
		slog.String("request_id", reqID),
		slog.String("panel", panel),
		slog.String("action", req.Action),
		slog.Int("race_ids", len(req.RaceIDs)),
	)

	state, err := h.service.MutateSelection(r.Context(), panel, req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to mutate selection",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("panel", panel),
		)
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   state,
	})
}

// SetFilters handles PUT /api/panels/{panel}/filters with RFC 7807 errors
func (h *AnalyticsHandler) SetFilters(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	panel := chi.URLParam(r, "panel")

	var req api.FiltersRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"INVALID_REQUEST",
			"Invalid request body",
			map[string]interface{}{
				"error": err.Error(),
			},
		))
		return
	}

	h.logger.InfoContext(r.Context(), "setting filters",
		slog.String("request_id", reqID),
		slog.String("panel", panel),
		slog.String("country", req.Country),
		slog.Int("series", len(req.Series)),
	)

	state, err := h.service.SetFilters(r.Context(), panel, req)
	if err != nil {
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   state,
	})
}

// SetSort handles PUT /api/panels/{panel}/sort with RFC 7807 errors
func (h *AnalyticsHandler) SetSort(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	panel := chi.URLParam(r, "panel")

	var req api.SortRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"INVALID_REQUEST",
			"Invalid request body",
			map[string]interface{}{
				"error": err.Error(),
			},
		))
		return
	}

	h.logger.InfoContext(r.Context(), "setting sort",
		slog.String("request_id", reqID),
		slog.String("panel", panel),
		slog.String("key", req.Key),
		slog.String("direction", req.Direction),
	)

	state, err := h.service.SetSort(r.Context(), panel, req)
	if err != nil {
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   state,
	})
}

// GetMetrics handles GET /api/panels/{panel}/metrics with RFC 7807 errors
func (h *AnalyticsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	panel := chi.URLParam(r, "panel")

	query, ok := h.metricsQuery(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(r.Context(), "computing metrics",
		slog.String("request_id", reqID),
		slog.String("panel", panel),
		slog.Int("ns", len(query.Ns)),
		slog.Bool("normalized", query.Normalized),
	)

	rows, err := h.service.MetricRows(r.Context(), panel, query)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to compute metrics",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("panel", panel),
		)
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   rows,
		"count":  len(rows),
	})
}

// GetLadder handles GET /api/panels/{panel}/ladder with RFC 7807 errors
func (h *AnalyticsHandler) GetLadder(w http.ResponseWriter, r *http.Request) {
	panel := chi.URLParam(r, "panel")

	ns, ok := h.nsParam(w, r)
	if !ok {
		return
	}
	normalized, ok := h.boolParam(w, r, "normalized")
	if !ok {
		return
	}

	points, err := h.service.Ladder(r.Context(), panel, ns, normalized)
	if err != nil {
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   points,
		"count":  len(points),
	})
}

// GetParity handles GET /api/panels/{panel}/parity with RFC 7807 errors
func (h *AnalyticsHandler) GetParity(w http.ResponseWriter, r *http.Request) {
	panel := chi.URLParam(r, "panel")

	ns, ok := h.nsParam(w, r)
	if !ok {
		return
	}
	normalized, ok := h.boolParam(w, r, "normalized")
	if !ok {
		return
	}

	rows, err := h.service.Parity(r.Context(), panel, ns, normalized)
	if err != nil {
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   rows,
		"count":  len(rows),
	})
}

// GetClosestMatches handles GET /api/panels/{panel}/closest with RFC 7807 errors
func (h *AnalyticsHandler) GetClosestMatches(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	panel := chi.URLParam(r, "panel")

	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("race_id", "Race id is required"))
		return
	}

	sex := domain.Sex(r.URL.Query().Get("sex"))
	if sex != domain.SexMale && sex != domain.SexFemale {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("sex", "Sex must be one of: male, female"))
		return
	}

	n, ok := h.intParam(w, r, "n", 1, 300)
	if !ok {
		return
	}
	k, ok := h.intParam(w, r, "k", 1, 50)
	if !ok {
		return
	}
	normalized, ok := h.boolParam(w, r, "normalized")
	if !ok {
		return
	}

	h.logger.InfoContext(r.Context(), "finding closest matches",
		slog.String("request_id", reqID),
		slog.String("panel", panel),
		slog.String("race_id", raceID),
		slog.String("sex", string(sex)),
		slog.Int("n", n),
	)

	points, err := h.service.ClosestMatches(r.Context(), panel, raceID, sex, n, k, normalized)
	if err != nil {
		if errors.Is(err, services.ErrNoTargetPoint) {
			h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusNotFound,
				"TARGET_POINT_NOT_FOUND",
				fmt.Sprintf("No ladder point for race '%s' at the requested sex and n", raceID),
				map[string]interface{}{
					"race_id": raceID,
					"sex":     string(sex),
					"n":       n,
				},
			))
			return
		}
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   points,
		"count":  len(points),
	})
}

// GetLorenz handles GET /api/panels/{panel}/lorenz with RFC 7807 errors
func (h *AnalyticsHandler) GetLorenz(w http.ResponseWriter, r *http.Request) {
	panel := chi.URLParam(r, "panel")

	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("race_id", "Race id is required"))
		return
	}
	normalized, ok := h.boolParam(w, r, "normalized")
	if !ok {
		return
	}

	series, err := h.service.Lorenz(r.Context(), panel, raceID, normalized)
	if err != nil {
		if errors.Is(err, services.ErrRaceNotFound) {
			h.errorHandler.HandleError(w, r, apierrors.RaceNotFoundError(raceID))
			return
		}
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   series,
	})
}

// GetBuckets handles GET /api/panels/{panel}/buckets with RFC 7807 errors
func (h *AnalyticsHandler) GetBuckets(w http.ResponseWriter, r *http.Request) {
	panel := chi.URLParam(r, "panel")

	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("race_id", "Race id is required"))
		return
	}
	topN, ok := h.intParam(w, r, "top_n", 1, 300)
	if !ok {
		return
	}

	series, err := h.service.Buckets(r.Context(), panel, raceID, topN)
	if err != nil {
		if errors.Is(err, services.ErrRaceNotFound) {
			h.errorHandler.HandleError(w, r, apierrors.RaceNotFoundError(raceID))
			return
		}
		h.handlePanelError(w, r, panel, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   series,
	})
}

// ExportCSV handles GET /api/panels/{panel}/export/csv. The response is
// a file download, not a JSON envelope.
func (h *AnalyticsHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	panel := chi.URLParam(r, "panel")

	query, ok := h.metricsQuery(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(r.Context(), "exporting metrics csv",
		slog.String("request_id", reqID),
		slog.String("panel", panel),
	)

	filename, payload, err := h.service.ExportCSV(r.Context(), panel, query)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to export metrics",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("panel", panel),
		)
		h.handlePanelError(w, r, panel, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// handlePanelError maps the service sentinels shared by every panel
// endpoint. Errors without a mapping fall through to the RFC 7807
// handler as internal errors.
func (h *AnalyticsHandler) handlePanelError(w http.ResponseWriter, r *http.Request, panel string, err error) {
	switch {
	case errors.Is(err, services.ErrPanelNotFound):
		h.errorHandler.HandleError(w, r, apierrors.PanelNotFoundError(panel))
	case errors.Is(err, services.ErrInvalidInput):
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"VALIDATION_FAILED",
			"Invalid request parameters",
			map[string]interface{}{
				"error": err.Error(),
			},
		))
	default:
		h.errorHandler.HandleError(w, r, err)
	}
}

// metricsQuery parses the shared metrics/export query parameters. A
// false return means a validation error was already written.
func (h *AnalyticsHandler) metricsQuery(w http.ResponseWriter, r *http.Request) (api.MetricsQuery, bool) {
	var query api.MetricsQuery

	ns, ok := h.nsParam(w, r)
	if !ok {
		return query, false
	}
	query.Ns = ns

	sex := r.URL.Query().Get("sex")
	if sex != "" && sex != string(domain.SexMale) && sex != string(domain.SexFemale) {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("sex", "Sex must be one of: male, female"))
		return query, false
	}
	query.Sex = sex

	normalized, ok := h.boolParam(w, r, "normalized")
	if !ok {
		return query, false
	}
	query.Normalized = normalized

	aucWindow, ok := h.intParam(w, r, "aucWindow", 2, 300)
	if !ok {
		return query, false
	}
	query.AUCWindow = aucWindow

	return query, true
}

// nsParam parses the repeated ns query parameter. Values may repeat
// (ns=3&ns=5) or be comma separated (ns=3,5).
func (h *AnalyticsHandler) nsParam(w http.ResponseWriter, r *http.Request) ([]int, bool) {
	var ns []int
	for _, raw := range r.URL.Query()["ns"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil || n < 1 {
				h.errorHandler.HandleError(w, r, apierrors.ErrValidation("ns", "ns values must be positive integers"))
				return nil, false
			}
			ns = append(ns, n)
		}
	}
	return ns, true
}

// boolParam parses an optional boolean query parameter, defaulting to
// false when absent.
func (h *AnalyticsHandler) boolParam(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation(name, fmt.Sprintf("%s must be a boolean", name)))
		return false, false
	}
	return value, true
}

// intParam parses an optional integer query parameter, defaulting to
// zero when absent so the service applies its own default.
func (h *AnalyticsHandler) intParam(w http.ResponseWriter, r *http.Request, name string, min, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation(name, fmt.Sprintf("%s must be a number between %d and %d", name, min, max)))
		return 0, false
	}
	return value, true
}
