// Package services implements the business logic layer between the HTTP
// handlers and the race data store.
//
// Four services cover the API surface:
//
//   - AnalyticsService: panel registry, shared selection contexts, and
//     every derived table and curve (metric rows, ladder, parity,
//     closest matches, Lorenz, buckets, CSV export).
//   - DataService: race catalog, document loading, preloading, and
//     data-layer health.
//   - ImportService: pasted result tables parsed into persisted race
//     documents plus manifest updates.
//   - HealthService: aggregated liveness for the health endpoints.
//
// Services receive their dependencies through constructors and log via
// an injected *slog.Logger. The WebSocket hub attaches after
// construction through SetBroadcaster; until then broadcasts are
// no-ops. Failures that handlers must translate into API problem
// responses are wrapped sentinel errors from errors.go; everything else
// surfaces as an internal error.
package services
