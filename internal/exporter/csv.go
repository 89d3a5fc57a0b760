package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"trailpulse/internal/competitive"
)

// MetricsCSV renders metric rows to the download format: a fixed header,
// every cell double-quoted, metric values with two decimals or empty when
// undefined. Rows appear in the given order; lines end with \n.
func MetricsCSV(rows []competitive.MetricRow) []byte {
	ns := competitive.DefaultMetricNs()

	header := []string{"Race", "Country", "Series"}
	for _, n := range ns {
		header = append(header, "RCI"+strconv.Itoa(n))
	}

	var b strings.Builder
	writeCSVLine(&b, header)
	for _, row := range rows {
		cells := []string{row.Name, row.Country, row.SeriesLabel}
		for _, n := range ns {
			stats, ok := row.ByN[n]
			if !ok {
				cells = append(cells, "")
				continue
			}
			cells = append(cells, formatMetric(stats.RCI))
		}
		writeCSVLine(&b, cells)
	}
	return []byte(b.String())
}

func writeCSVLine(b *strings.Builder, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteCell(cell))
	}
	b.WriteByte('\n')
}

// Writer persists metric exports under a fixed directory.
type Writer struct {
	exportDir string
	logger    *slog.Logger
}

// NewWriter creates a writer rooted at exportDir.
func NewWriter(exportDir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{exportDir: exportDir, logger: logger}
}

// WriteMetricsCSV writes rows to <exportDir>/<filename> and returns the
// full path. A UTF-8 BOM is prepended so Excel opens the file correctly.
func (w *Writer) WriteMetricsCSV(filename string, rows []competitive.MetricRow) (string, error) {
	if err := os.MkdirAll(w.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	fullPath := filepath.Join(w.exportDir, filename)
	payload := append([]byte{0xEF, 0xBB, 0xBF}, MetricsCSV(rows)...)
	if err := os.WriteFile(fullPath, payload, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}

	w.logger.Info("metrics exported",
		slog.String("path", fullPath),
		slog.Int("rows", len(rows)))
	return fullPath, nil
}
