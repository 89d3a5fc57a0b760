// Package config provides centralized configuration management for the
// TrailPulse server and tools. It handles loading configuration from
// multiple sources, validation, and path resolution.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of
// precedence:
//
//	1. Environment variables (highest priority)
//	2. An optional YAML file (config.yaml or configs/config.yaml)
//	3. Built-in defaults (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern TRAILPULSE_* for
// namespacing, with nested sections joined by underscores:
//
//	TRAILPULSE_SERVER_PORT=8080
//	TRAILPULSE_SECURITY_ALLOWED_ORIGINS=http://localhost:3000,https://app.example.com
//	TRAILPULSE_SECURITY_RATE_LIMIT_RPS=150
//	TRAILPULSE_LOGGING_LEVEL=debug
//	TRAILPULSE_LOGGING_FORMAT=text
//	TRAILPULSE_PATHS_EXECUTABLE_DIR=/srv/trailpulse
//
// # Path Management
//
// The Paths type is the single source of truth for filesystem
// locations. All paths anchor at the executable directory, so the
// binary finds its dataset regardless of the working directory:
//
//	paths, err := config.GetPaths()
//	doc := paths.GetCoursePath("UTMB2023")
//	report := paths.GetExportPath("skipped_rows.csv")
//
// Setting TRAILPULSE_PATHS_EXECUTABLE_DIR relocates the whole layout.
//
// # Usage
//
// Load configuration once at application startup:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Load validates the result and creates the writable directories, so a
// successful return means the dataset layout is usable.
package config
