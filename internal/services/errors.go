package services

import "errors"

// Service-level sentinel errors. Handlers translate these into API
// problem responses; anything not listed here surfaces as an internal
// error.
var (
	// Race data errors
	ErrRaceNotFound  = errors.New("race not found")
	ErrNoRacesLoaded = errors.New("no races loaded")

	// Panel errors
	ErrPanelNotFound   = errors.New("panel not found")
	ErrContextNotFound = errors.New("selection context not found")
	ErrNoTargetPoint   = errors.New("no ladder point for target")

	// Import errors
	ErrNoValidRows = errors.New("no valid result rows")

	// General errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)
