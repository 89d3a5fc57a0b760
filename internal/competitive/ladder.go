package competitive

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"trailpulse/pkg/contracts/domain"
)

// Analyzer derives metric tables, ladder points, and parity rows from a
// set of canonical races. All derivations are synchronous and pure; the
// analyzer only adds structured logging around exclusions.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer. A nil logger falls back to the default.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger}
}

// MetricRows builds one headline row per race. Races excluded by the sex
// filter contribute no row at all.
func (a *Analyzer) MetricRows(ctx context.Context, races []*domain.Race, opts MetricsOptions) []MetricRow {
	ns := opts.Ns
	if len(ns) == 0 {
		ns = DefaultMetricNs()
	}
	aucWindow := opts.AUCWindow
	if aucWindow <= 0 {
		aucWindow = DefaultAUCWindow
	}

	rows := make([]MetricRow, 0, len(races))
	for _, race := range races {
		records, excluded := PanelRecords(race, opts.Sex)
		if excluded {
			a.logger.DebugContext(ctx, "race excluded by sex filter",
				slog.String("race_id", race.ID()),
				slog.String("requested_sex", string(opts.Sex)),
				slog.String("inferred_sex", string(InferRaceSex(race))))
			continue
		}
		if opts.Normalized && opts.Sex == domain.SexFemale {
			records = NormalizeFemaleRecords(records)
		}

		row := MetricRow{
			RaceID:      race.ID(),
			Name:        race.Meta.Name,
			Year:        race.Meta.Year,
			Country:     race.Meta.Country,
			SeriesLabel: race.SeriesLabel(),
			Sex:         opts.Sex,
			Finishers:   len(records),
			ByN:         make(map[int]NStats, len(ns)),
		}
		for _, n := range ns {
			headline := Scores(TopN(records, n, true))
			rciScores := Scores(TopN(records, n, false))
			row.ByN[n] = NStats{
				Mean: domain.FlexNumber(Mean(headline)),
				Std:  domain.FlexNumber(StdPop(headline)),
				RCI:  domain.FlexNumber(RCI(rciScores)),
			}
		}
		row.AUCNormalized = domain.FlexNumber(AUCNormalized(records, aucWindow))
		row.Gini = domain.FlexNumber(Gini(Scores(records)))
		rows = append(rows, row)
	}
	return rows
}

// Ladder builds the flat set of (race, sex, N) RCI samples used for
// cross-race comparison. Points with an undefined RCI are discarded.
// Output order is race-major but consumers must treat it as unordered.
func (a *Analyzer) Ladder(ctx context.Context, races []*domain.Race, opts LadderOptions) []VizPoint {
	ns := opts.Ns
	if len(ns) == 0 {
		ns = DefaultLadderNs()
	}

	var points []VizPoint
	for _, race := range races {
		for _, sex := range []domain.Sex{domain.SexMale, domain.SexFemale} {
			records, excluded := PanelRecords(race, sex)
			if excluded || len(records) == 0 {
				continue
			}
			if opts.Normalized && sex == domain.SexFemale {
				records = NormalizeFemaleRecords(records)
			}
			for _, n := range ns {
				scores := Scores(TopN(records, n, false))
				rci := RCI(scores)
				if math.IsNaN(rci) {
					continue
				}
				points = append(points, VizPoint{
					RaceID:      race.ID(),
					Year:        race.Meta.Year,
					SeriesLabel: race.SeriesLabel(),
					Sex:         sex,
					N:           n,
					RCI:         rci,
					TopMean:     Mean(scores),
					TopStd:      StdPop(scores),
				})
			}
		}
	}
	a.logger.DebugContext(ctx, "ladder derived",
		slog.Int("races", len(races)),
		slog.Int("points", len(points)))
	return points
}

// parityKey groups ladder points belonging to one parity row.
type parityKey struct {
	raceID string
	year   int
	series string
	n      int
}

// Parity merges male and female ladder samples into per-race rows. A row
// survives only when both sexes produced a finite RCI at that N. Row order
// follows the first appearance of each group in the ladder input.
func (a *Analyzer) Parity(ctx context.Context, races []*domain.Race, opts LadderOptions) []ParityRow {
	ns := opts.Ns
	if len(ns) == 0 {
		ns = DefaultParityNs()
	}
	points := a.Ladder(ctx, races, LadderOptions{Ns: ns, Normalized: opts.Normalized})

	type pair struct {
		male, female float64
		hasM, hasF   bool
	}
	groups := make(map[parityKey]*pair)
	var order []parityKey
	for _, p := range points {
		key := parityKey{raceID: p.RaceID, year: p.Year, series: p.SeriesLabel, n: p.N}
		g, ok := groups[key]
		if !ok {
			g = &pair{}
			groups[key] = g
			order = append(order, key)
		}
		switch p.Sex {
		case domain.SexMale:
			g.male, g.hasM = p.RCI, true
		case domain.SexFemale:
			g.female, g.hasF = p.RCI, true
		}
	}

	rows := make([]ParityRow, 0, len(order))
	for _, key := range order {
		g := groups[key]
		if !g.hasM || !g.hasF {
			continue
		}
		rows = append(rows, ParityRow{
			RaceID:      key.raceID,
			Year:        key.year,
			SeriesLabel: key.series,
			N:           key.n,
			RCIMale:     g.male,
			RCIFemale:   g.female,
		})
	}
	return rows
}

// ClosestMatches ranks every other ladder point by absolute RCI distance
// from the target and returns the nearest k. Ties keep input order.
func ClosestMatches(points []VizPoint, target VizPoint, k int) []VizPoint {
	if k <= 0 {
		k = ClosestMatchCount
	}
	candidates := make([]VizPoint, 0, len(points))
	for _, p := range points {
		if p.RaceID == target.RaceID && p.Sex == target.Sex && p.N == target.N {
			continue
		}
		if math.IsNaN(p.RCI) {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].RCI-target.RCI) < math.Abs(candidates[j].RCI-target.RCI)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
