package http

import (
	"context"

	"trailpulse/internal/services"
	"trailpulse/pkg/contracts/domain"
)

// DataServiceInterface defines the race catalog operations the HTTP
// layer depends on
type DataServiceInterface interface {
	Races(ctx context.Context) []services.RaceSummary
	Race(ctx context.Context, raceID string) (*domain.Race, error)
	Preload(ctx context.Context, raceIDs []string) (*services.PreloadReport, error)
	Reload(ctx context.Context) error
}
