package exporter

import (
	"fmt"
	"strings"

	"trailpulse/pkg/contracts/domain"
)

// formatMetric formats a metric cell with exactly 2 decimal places.
// Undefined values become an empty cell, never zero, so spreadsheets can
// tell "no data" from "zero".
func formatMetric(v domain.FlexNumber) string {
	if !v.Finite() {
		return ""
	}
	return fmt.Sprintf("%.2f", float64(v))
}

// quoteCell wraps a cell in double quotes, doubling internal quotes. The
// export format quotes every cell unconditionally.
func quoteCell(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
