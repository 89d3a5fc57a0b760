package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "trailpulse/internal/errors"
	"trailpulse/internal/services"
	api "trailpulse/pkg/contracts/api/v1"
)

// DataHandler handles race catalog HTTP requests with RFC 7807 compliance
type DataHandler struct {
	service      DataServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewDataHandler creates a new data handler with RFC 7807 error handling
func NewDataHandler(service DataServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *DataHandler {
	return &DataHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "data_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the race catalog routes with proper Chi patterns
func (h *DataHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Use render for consistent JSON responses
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/", h.ListRaces)
	r.Post("/preload", h.PreloadRaces)
	r.Post("/reload", h.ReloadManifest)

	// Sub-resource routes
	r.Route("/{raceID}", func(r chi.Router) {
		r.Use(h.RaceCtx) // Validate race id format
		r.Get("/", h.GetRace)
	})

	return r
}

// RaceCtx middleware validates the raceID URL parameter
func (h *DataHandler) RaceCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raceID := chi.URLParam(r, "raceID")
		if raceID == "" {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("race_id", "Race id is required"))
			return
		}

		if len(raceID) > 64 {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("race_id", "Invalid race id format"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ListRaces handles GET /api/races
func (h *DataHandler) ListRaces(w http.ResponseWriter, r *http.Request) {
	races := h.service.Races(r.Context())

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   races,
		"count":  len(races),
	})
}

// GetRace handles GET /api/races/{raceID} with RFC 7807 errors
func (h *DataHandler) GetRace(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	raceID := chi.URLParam(r, "raceID")

	h.logger.InfoContext(r.Context(), "fetching race",
		slog.String("request_id", reqID),
		slog.String("race_id", raceID),
	)

	race, err := h.service.Race(r.Context(), raceID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to fetch race",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("race_id", raceID),
		)

		if errors.Is(err, services.ErrRaceNotFound) {
			h.errorHandler.HandleError(w, r, apierrors.RaceNotFoundError(raceID))
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   race,
	})
}

// PreloadRaces handles POST /api/races/preload with RFC 7807 errors.
// An empty body or empty race_ids list preloads the whole manifest.
func (h *DataHandler) PreloadRaces(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var req api.PreloadRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
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

	h.logger.InfoContext(r.Context(), "preloading races",
		slog.String("request_id", reqID),
		slog.Int("requested", len(req.RaceIDs)),
	)

	report, err := h.service.Preload(r.Context(), req.RaceIDs)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to preload races",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   report,
	})
}

// ReloadManifest handles POST /api/races/reload with RFC 7807 errors
func (h *DataHandler) ReloadManifest(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "reloading manifest",
		slog.String("request_id", reqID),
	)

	if err := h.service.Reload(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to reload manifest",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status":  "success",
		"message": "Manifest reloaded",
	})
}
