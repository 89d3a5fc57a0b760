package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths is the single source of truth for filesystem locations. All
// paths are absolute, anchored at the executable directory so the binary
// finds its dataset regardless of the working directory.
//
// Layout:
//
//	<exe dir>/
//	  ├── data/
//	  │   ├── courses_index.json   (dataset manifest)
//	  │   ├── courses/             (race documents, one JSON per race)
//	  │   └── exports/             (workbook conversion reports)
//	  └── logs/                    (application logs)
type Paths struct {
	ExecutableDir string
	DataDir       string
	CoursesDir    string
	ExportsDir    string
	LogsDir       string
	ManifestFile  string
}

// GetPaths resolves the canonical layout relative to the executable
// location, never the current working directory.
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the actual executable location.
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	exeDir := filepath.Dir(exe)
	dataDir := filepath.Join(exeDir, "data")

	return &Paths{
		ExecutableDir: exeDir,
		DataDir:       dataDir,
		CoursesDir:    filepath.Join(dataDir, "courses"),
		ExportsDir:    filepath.Join(dataDir, "exports"),
		LogsDir:       filepath.Join(exeDir, "logs"),
		ManifestFile:  filepath.Join(dataDir, "courses_index.json"),
	}, nil
}

// EnsureDirectories creates the writable directories if they do not
// exist. Safe to call repeatedly.
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.DataDir,
		p.CoursesDir,
		p.ExportsDir,
		p.LogsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// GetCoursePath returns the location of a race document.
func (p *Paths) GetCoursePath(raceID string) string {
	return filepath.Join(p.CoursesDir, raceID+".json")
}

// GetExportPath returns the location for a generated export file.
func (p *Paths) GetExportPath(filename string) string {
	return filepath.Join(p.ExportsDir, filename)
}

// GetLogPath returns the location of a log file.
func (p *Paths) GetLogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// GetRelativePath resolves a path against the executable directory.
func (p *Paths) GetRelativePath(sub string) string {
	return filepath.Join(p.ExecutableDir, sub)
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// LogPathResolution records the resolved layout. Called once at startup
// after the logger is configured.
func (p *Paths) LogPathResolution() {
	slog.Info("resolved application paths",
		slog.String("executable_dir", p.ExecutableDir),
		slog.Group("directories",
			slog.String("data", p.DataDir),
			slog.String("courses", p.CoursesDir),
			slog.String("exports", p.ExportsDir),
			slog.String("logs", p.LogsDir),
		),
		slog.String("manifest", p.ManifestFile),
	)
}
