// Package exporter renders competitive metric tables to the CSV download
// format: a fixed header, every cell double-quoted with internal quotes
// doubled, and metric values formatted to two decimals or left empty when
// undefined.
//
// MetricsCSV produces the raw bytes served over HTTP; Writer persists the
// same format to the export directory with a UTF-8 BOM for Excel.
//
// Example usage:
//
//	payload := exporter.MetricsCSV(rows)
//
//	w := exporter.NewWriter(paths.ExportsDir, logger)
//	path, err := w.WriteMetricsCSV("competitive_metrics.csv", rows)
package exporter
