package http

import (
	"context"

	"trailpulse/internal/competitive"
	"trailpulse/internal/services"
	api "trailpulse/pkg/contracts/api/v1"
	"trailpulse/pkg/contracts/domain"
)

// AnalyticsServiceInterface defines the panel and analytics operations
// the HTTP layer depends on
type AnalyticsServiceInterface interface {
	Panels() []services.Panel
	Selection(ctx context.Context, panel string) (*services.PanelSelection, error)
	MutateSelection(ctx context.Context, panel string, req api.SelectionMutationRequest) (*services.PanelSelection, error)
	SetFilters(ctx context.Context, panel string, req api.FiltersRequest) (*services.PanelSelection, error)
	SetSort(ctx context.Context, panel string, req api.SortRequest) (*services.PanelSelection, error)
	MetricRows(ctx context.Context, panel string, q api.MetricsQuery) ([]competitive.MetricRow, error)
	Ladder(ctx context.Context, panel string, ns []int, normalized bool) ([]competitive.VizPoint, error)
	Parity(ctx context.Context, panel string, ns []int, normalized bool) ([]competitive.ParityRow, error)
	ClosestMatches(ctx context.Context, panel, raceID string, sex domain.Sex, n, k int, normalized bool) ([]competitive.VizPoint, error)
	Lorenz(ctx context.Context, panel, raceID string, normalized bool) (*services.LorenzSeries, error)
	Buckets(ctx context.Context, panel, raceID string, topN int) (*services.BucketSeries, error)
	ExportCSV(ctx context.Context, panel string, q api.MetricsQuery) (string, []byte, error)
}
