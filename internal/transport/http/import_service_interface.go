package http

import (
	"context"

	"trailpulse/internal/services"
	api "trailpulse/pkg/contracts/api/v1"
)

// ImportServiceInterface defines the paste-import operations the HTTP
// layer depends on
type ImportServiceInterface interface {
	Preview(ctx context.Context, req api.ImportPreviewRequest) (*services.ImportPreview, error)
	Import(ctx context.Context, req api.ImportRequest) (*services.ImportOutcome, error)
}
