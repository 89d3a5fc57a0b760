// Package api contains API contract definitions for the TrailPulse
// analytics service. Version v1 represents the current stable API version.
package api

// Panel API requests

// SelectionMutationRequest mutates a panel's race selection. Action
// "year" requires Year; "toggle" and "set" require RaceIDs.
type SelectionMutationRequest struct {
	Action  string   `json:"action" validate:"required,oneof=all none year toggle set"`
	Year    int      `json:"year,omitempty" validate:"omitempty,min=1900,max=2200"`
	RaceIDs []string `json:"race_ids,omitempty" validate:"omitempty,dive,required"`
}

// FiltersRequest replaces a panel's country and series filters. Empty
// values clear the corresponding filter.
type FiltersRequest struct {
	Country string   `json:"country,omitempty" validate:"omitempty,max=3"`
	Series  []string `json:"series,omitempty" validate:"omitempty,dive,required"`
}

// SortRequest replaces a panel's active sort.
type SortRequest struct {
	Key       string `json:"key" validate:"required"`
	Direction string `json:"direction" validate:"required,oneof=asc desc"`
}

// MetricsQuery holds the query parameters of a metrics table request.
type MetricsQuery struct {
	Ns         []int  `json:"ns" query:"ns"`
	Sex        string `json:"sex" query:"sex" validate:"omitempty,oneof=male female"`
	Normalized bool   `json:"normalized" query:"normalized"`
	AUCWindow  int    `json:"auc_window" query:"auc_window" validate:"omitempty,min=2,max=300"`
}

// Data API requests

// PreloadRequest fans out loading of the listed races; an empty list
// preloads every race in the manifest.
type PreloadRequest struct {
	RaceIDs []string `json:"race_ids,omitempty" validate:"omitempty,dive,required"`
}

// Import API requests

// ImportRequest carries a pasted result table and the metadata of the
// race it belongs to. RaceID is derived from Name and Year when omitted.
type ImportRequest struct {
	Text       string   `json:"text" validate:"required"`
	RaceID     string   `json:"race_id,omitempty" validate:"omitempty,race_id"`
	Name       string   `json:"name,omitempty"`
	Year       int      `json:"year,omitempty" validate:"omitempty,min=1900,max=2200"`
	Country    string   `json:"country,omitempty" validate:"omitempty,max=3"`
	Series     []string `json:"series,omitempty" validate:"omitempty,dive,required"`
	DataSource string   `json:"data_source,omitempty"`
	SourceURL  string   `json:"source_url,omitempty" validate:"omitempty,url"`
}

// ImportPreviewRequest parses a pasted result table without persisting
// anything.
type ImportPreviewRequest struct {
	Text string `json:"text" validate:"required"`
}
