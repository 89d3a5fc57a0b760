package competitive

import (
	"trailpulse/pkg/contracts/domain"
)

const (
	// ScoreCeiling is the fixed reference ceiling of the race score scale,
	// used to normalize the AUC metric.
	ScoreCeiling = 1000.0

	// DefaultAUCWindow is the top-N window used for the AUC metric when a
	// request does not specify one.
	DefaultAUCWindow = 20

	// ClosestMatchCount is how many ladder points a closest-match lookup
	// returns.
	ClosestMatchCount = 5
)

// DefaultLadderNs are the top-N thresholds sampled for ladder points.
func DefaultLadderNs() []int { return []int{3, 5, 10, 20, 30} }

// DefaultParityNs are the top-N thresholds used for parity rows.
func DefaultParityNs() []int { return []int{3, 5, 10, 20} }

// DefaultMetricNs are the top-N thresholds of the headline metrics table
// and the CSV export.
func DefaultMetricNs() []int { return []int{3, 5, 10, 20} }

// NStats holds the per-N statistics of one metric row. Undefined values
// marshal as null.
type NStats struct {
	Mean domain.FlexNumber `json:"mean"`
	Std  domain.FlexNumber `json:"std"`
	RCI  domain.FlexNumber `json:"rci"`
}

// MetricRow is one race's line in the headline metrics table: per-N
// statistics plus the whole-field AUC and Gini. Rows are recomputed on
// every selection change and never persisted.
type MetricRow struct {
	RaceID        string            `json:"race_id"`
	Name          string            `json:"name"`
	Year          int               `json:"year,omitempty"`
	Country       string            `json:"country,omitempty"`
	SeriesLabel   string            `json:"series_label"`
	Sex           domain.Sex        `json:"sex,omitempty"`
	Finishers     int               `json:"finishers"`
	ByN           map[int]NStats    `json:"by_n"`
	AUCNormalized domain.FlexNumber `json:"auc_normalized"`
	Gini          domain.FlexNumber `json:"gini_coefficient"`
}

// VizPoint is one (race, sex, N) ladder sample. Points with an undefined
// RCI are discarded at build time, so all values here are finite.
type VizPoint struct {
	RaceID      string     `json:"race_id"`
	Year        int        `json:"year,omitempty"`
	SeriesLabel string     `json:"series_label"`
	Sex         domain.Sex `json:"sex"`
	N           int        `json:"n"`
	RCI         float64    `json:"rci"`
	TopMean     float64    `json:"top_mean"`
	TopStd      float64    `json:"top_std"`
}

// ParityRow pairs the male and female RCI of one race at one N. Rows are
// kept only when both sides are present, so both values are finite.
type ParityRow struct {
	RaceID      string  `json:"race_id"`
	Year        int     `json:"year,omitempty"`
	SeriesLabel string  `json:"series_label"`
	N           int     `json:"n"`
	RCIMale     float64 `json:"rci_male"`
	RCIFemale   float64 `json:"rci_female"`
}

// LorenzPoint is one point of a Lorenz curve: cumulative population
// fraction (X) against cumulative score fraction (Y).
type LorenzPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MetricsOptions controls a metrics table computation. An empty Sex means
// no sex filtering; Normalized applies the female score correction in
// sex-filtered contexts.
type MetricsOptions struct {
	Ns         []int
	Sex        domain.Sex
	Normalized bool
	AUCWindow  int
}

// LadderOptions controls a ladder derivation.
type LadderOptions struct {
	Ns         []int
	Normalized bool
}
