package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is the transportable error handlers and middleware build.
// The ErrorHandler renders it as an RFC 7807 problem response; the
// machine-readable ErrorCode selects the problem type.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer so guards outside the problem
// pipeline can send an APIError directly with its status.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError names the failing field in a validation response.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates an APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates an APIError with an additional details payload
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// ErrNoValidRows rejects an import whose text yields no usable result
// rows.
var ErrNoValidRows = New(http.StatusUnprocessableEntity, "NO_VALID_ROWS", "No valid result rows in submitted text")

// InvalidRequestWithError creates an invalid request error carrying the
// decode failure
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ErrValidation creates a validation error with field details
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", ValidationError{
		Field:   field,
		Message: message,
	})
}

// RaceNotFoundError creates a race not found error carrying the race id
func RaceNotFoundError(raceID string) *APIError {
	return NewWithDetails(http.StatusNotFound, "RACE_NOT_FOUND", fmt.Sprintf("Race '%s' not found", raceID), map[string]interface{}{
		"race_id": raceID,
	})
}

// PanelNotFoundError creates a panel not found error carrying the panel
// name
func PanelNotFoundError(panel string) *APIError {
	return NewWithDetails(http.StatusNotFound, "PANEL_NOT_FOUND", fmt.Sprintf("Panel '%s' not found", panel), map[string]interface{}{
		"panel": panel,
	})
}
