package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "trailpulse/internal/errors"
	"trailpulse/internal/services"
	api "trailpulse/pkg/contracts/api/v1"
)

// ImportHandler handles paste-import HTTP requests with RFC 7807 compliance
type ImportHandler struct {
	service      ImportServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewImportHandler creates a new import handler with RFC 7807 error handling
func NewImportHandler(service ImportServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *ImportHandler {
	return &ImportHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "import_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the import routes with proper Chi patterns
func (h *ImportHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Use render for consistent JSON responses
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/", h.ImportRace)
	r.Post("/preview", h.PreviewImport)

	return r
}

// PreviewImport handles POST /api/import/preview with RFC 7807 errors.
// It parses the pasted table and returns the records without writing
// anything.
func (h *ImportHandler) PreviewImport(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var req api.ImportPreviewRequest
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

	h.logger.InfoContext(r.Context(), "previewing import",
		slog.String("request_id", reqID),
		slog.Int("text_bytes", len(req.Text)),
	)

	preview, err := h.service.Preview(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "import preview failed",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)
		h.handleImportError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   preview,
		"count":  preview.Total,
	})
}

// ImportRace handles POST /api/import with RFC 7807 errors. A
// successful import responds 201 with the persisted manifest entry.
func (h *ImportHandler) ImportRace(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var req api.ImportRequest
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

	h.logger.InfoContext(r.Context(), "importing race",
		slog.String("request_id", reqID),
		slog.String("race_id", req.RaceID),
		slog.String("name", req.Name),
		slog.Int("text_bytes", len(req.Text)),
	)

	outcome, err := h.service.Import(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "import failed",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)
		h.handleImportError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   outcome,
	})
}

// handleImportError maps import service sentinels to API errors
func (h *ImportHandler) handleImportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNoValidRows):
		h.errorHandler.HandleError(w, r, apierrors.ErrNoValidRows)
	case errors.Is(err, services.ErrInvalidInput):
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"VALIDATION_FAILED",
			"Invalid import request",
			map[string]interface{}{
				"error": err.Error(),
			},
		))
	default:
		h.errorHandler.HandleError(w, r, err)
	}
}
