// Package competitive implements the TrailPulse race comparability
// engine: the statistical metrics computed over canonical race results,
// the sex-normalization correction, the cross-race derivations, and the
// selection state that decides which races feed every computation.
//
// # Core Components
//
//   - metrics.go: pure statistics (top-N windows, RCI, Gini, Lorenz
//     curve, normalized AUC, rank-bucket means)
//   - gender.go: sex label normalization, race-level sex inference, the
//     female quadratic score correction
//   - ladder.go: Analyzer deriving metric rows, ladder points, parity
//     rows, and closest-match lookups
//   - selection.go: the shared selection/filter/sort context and the
//     metric-row sort order
//
// # Undefined Values
//
// Statistics over empty or degenerate inputs yield NaN, never zero: an
// empty top-N window has no RCI, a single result has no AUC, an empty
// score set has no Gini. NaN is the in-process sentinel; the wire types
// marshal it as null and renderers show a dash. The only exception is the
// zero-sum Gini, which is defined as 0.
//
// # RCI
//
// RCI_N is mean minus population standard deviation over the top N
// scores. The window takes the first N finishers in rank order rather
// than ranks 1..N, so a race with a missing winner still compares over a
// full window. The headline mean/std columns, by contrast, are fixed rank
// windows.
//
// # Usage
//
//	analyzer := competitive.NewAnalyzer(logger)
//	rows := analyzer.MetricRows(ctx, races, competitive.MetricsOptions{
//		Ns:  []int{3, 5, 10, 20},
//		Sex: domain.SexFemale,
//	})
//	sel.SortRows(rows)
//
// Panels sharing one Selection instance stay consistent: every mutation
// re-applies the active filter to the selection and synchronously
// notifies listeners, so derived tables are rebuilt before the mutating
// call returns.
package competitive
