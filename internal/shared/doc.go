// Package shared holds utilities used across the TrailPulse codebase that
// do not belong to any specific domain or architectural layer.
//
// The testutil subpackage provides a buffered slog handler so tests can
// assert on log output without touching global logger state. It must stay
// free of business logic and of dependencies on other internal packages.
package shared
