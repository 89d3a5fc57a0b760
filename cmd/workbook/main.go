package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"trailpulse/internal/config"
	"trailpulse/internal/dataprocessing"
	"trailpulse/internal/infrastructure"
	"trailpulse/internal/validation"
)

// The audit report lands next to the dataset so operators can see which
// sheets and rows never made it in.
const auditFileName = "skipped_rows.csv"

func main() {
	in := flag.String("in", "", "path to the xlsx results export (required)")
	out := flag.String("out", "", "dataset root to write (defaults to the executable directory)")
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "usage: workbook -in results.xlsx [-out dir]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	paths, err := config.GetPaths()
	if err != nil {
		slog.Error("failed to resolve paths", slog.String("error", err.Error()))
		os.Exit(1)
	}
	outRoot := *out
	if outRoot == "" {
		outRoot = paths.ExecutableDir
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config, using defaults", slog.String("error", err.Error()))
		cfg = config.Default()
	}
	cfg.Logging.FilePath = paths.GetLogPath("workbook.log")
	logger := infrastructure.MustInitializeLogger(cfg.Logging)

	coursesDir := filepath.Join(outRoot, "data", "courses")
	exportsDir := filepath.Join(outRoot, "data", "exports")

	validator := validation.NewFileValidator(logger)
	if err := validator.ValidateWorkbookFile(*in); err != nil {
		logger.Error("workbook validation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := validator.ValidateOutputDirectory(exportsDir); err != nil {
		logger.Error("output validation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("building dataset",
		slog.String("workbook", *in),
		slog.String("out_root", outRoot))

	if config.FileExists(filepath.Join(outRoot, "data", "courses_index.json")) {
		logger.Warn("existing dataset index will be replaced", slog.String("out_root", outRoot))
	}

	dataset, err := dataprocessing.ReadWorkbook(*in)
	if err != nil {
		logger.Error("failed to read workbook", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manifest, err := dataprocessing.WriteDataset(dataset, outRoot)
	if err != nil {
		logger.Error("failed to write dataset", slog.String("error", err.Error()))
		os.Exit(1)
	}

	auditPath := filepath.Join(exportsDir, auditFileName)
	if err := writeAudit(auditPath, dataset); err != nil {
		logger.Error("failed to write audit report", slog.String("error", err.Error()))
		os.Exit(1)
	}

	raceFiles, err := validator.CountFiles(coursesDir, "*.json")
	if err != nil {
		raceFiles = len(manifest.Courses)
	}

	logger.Info("dataset complete",
		slog.Int("races", len(manifest.Courses)),
		slog.Int("race_files", raceFiles),
		slog.Int("skipped_sheets", len(dataset.Skipped)),
		slog.String("audit", auditPath))
	fmt.Printf("Wrote %d races to %s (%d sheets skipped)\n", len(manifest.Courses), outRoot, len(dataset.Skipped))
}

// writeAudit records one line per sheet. Imported sheets carry their
// kept and dropped row counts; skipped sheets are the ones without a
// recognizable score column.
func writeAudit(path string, dataset *dataprocessing.WorkbookDataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audit file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"sheet", "status", "results", "dropped_rows"}); err != nil {
		return err
	}
	for i := range dataset.Races {
		race := &dataset.Races[i]
		record := []string{
			race.ID(),
			"imported",
			strconv.Itoa(len(race.Results)),
			strconv.Itoa(dataset.Dropped[race.ID()]),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	for _, sheet := range dataset.Skipped {
		if err := w.Write([]string{sheet, "skipped", "0", "0"}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
