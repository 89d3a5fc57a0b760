package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"trailpulse/internal/infrastructure"
	"trailpulse/internal/store"
	"trailpulse/pkg/contracts/domain"
	"trailpulse/pkg/contracts/events"
)

// preloadConcurrency bounds the fan-out of a preload request.
const preloadConcurrency = 4

// RaceSummary is a manifest entry joined with its cache state.
type RaceSummary struct {
	domain.ManifestEntry
	Loaded  bool   `json:"loaded"`
	Digest  string `json:"digest,omitempty"`
	Results int    `json:"results,omitempty"`
	Dropped int    `json:"dropped,omitempty"`
}

// PreloadFailure records one race that could not be loaded.
type PreloadFailure struct {
	RaceID string `json:"race_id"`
	Error  string `json:"error"`
}

// PreloadReport summarizes a preload request.
type PreloadReport struct {
	Requested int              `json:"requested"`
	Loaded    int              `json:"loaded"`
	Failed    []PreloadFailure `json:"failed,omitempty"`
	Elapsed   string           `json:"elapsed"`
}

// DataHealth is the detailed data-layer health report.
type DataHealth struct {
	Status      string             `json:"status"`
	RaceCount   int                `json:"race_count"`
	LoadedCount int                `json:"loaded_count"`
	Races       []store.RaceStatus `json:"races,omitempty"`
	CheckedAt   time.Time          `json:"checked_at"`
}

// DataService exposes the race catalog: manifest listing, per-race
// documents, preloading, and data-layer health.
type DataService struct {
	store  *store.Store
	logger *slog.Logger

	mu          sync.RWMutex
	broadcaster Broadcaster
	metrics     *infrastructure.BusinessMetrics
}

// NewDataService creates a data service over the given store.
func NewDataService(st *store.Store, logger *slog.Logger) *DataService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataService{store: st, logger: logger}
}

// SetBroadcaster attaches the event broadcaster.
func (s *DataService) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// SetMetrics attaches the application metric instruments.
func (s *DataService) SetMetrics(m *infrastructure.BusinessMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Races lists every race in the manifest joined with its cache state.
func (s *DataService) Races(ctx context.Context) []RaceSummary {
	manifest := s.store.Manifest()
	status := make(map[string]store.RaceStatus)
	for _, st := range s.store.Status() {
		status[st.RaceID] = st
	}

	out := make([]RaceSummary, 0, len(manifest.Courses))
	for _, entry := range manifest.Courses {
		summary := RaceSummary{ManifestEntry: entry}
		if st, ok := status[entry.RaceID]; ok {
			summary.Loaded = true
			summary.Digest = st.Digest
			summary.Results = st.Results
			summary.Dropped = st.Dropped
		}
		out = append(out, summary)
	}
	return out
}

// Race loads one race document, fetching and normalizing on first
// access.
func (s *DataService) Race(ctx context.Context, raceID string) (*domain.Race, error) {
	race, err := s.store.Race(ctx, raceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRaceNotFound, raceID)
		}
		s.recordFetchFailure(ctx, raceID)
		return nil, fmt.Errorf("load race %s: %w", raceID, err)
	}
	return &race, nil
}

// Preload loads the listed races concurrently; an empty list preloads
// the whole manifest. Individual failures are reported, not fatal.
func (s *DataService) Preload(ctx context.Context, raceIDs []string) (*PreloadReport, error) {
	if len(raceIDs) == 0 {
		raceIDs = s.store.RaceIDs()
	}
	start := time.Now()

	var (
		resMu    sync.Mutex
		failures []PreloadFailure
		loaded   int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, id := range raceIDs {
		id := id
		g.Go(func() error {
			race, err := s.store.Race(ctx, id)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				failures = append(failures, PreloadFailure{RaceID: id, Error: err.Error()})
				s.recordFetchFailure(ctx, id)
				s.broadcastStatus(events.DataStatus{RaceID: id, State: "failed"})
				return nil
			}
			loaded++
			digest, _ := s.store.Digest(id)
			s.broadcastStatus(events.DataStatus{RaceID: race.Meta.RaceID, State: "cached", Digest: digest})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("preload: %w", err)
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].RaceID < failures[j].RaceID })
	report := &PreloadReport{
		Requested: len(raceIDs),
		Loaded:    loaded,
		Failed:    failures,
		Elapsed:   time.Since(start).Round(time.Millisecond).String(),
	}

	s.mu.RLock()
	instruments := s.metrics
	s.mu.RUnlock()
	if instruments != nil && loaded > 0 {
		instruments.RacesLoadedTotal.Add(ctx, int64(loaded))
	}
	infrastructure.AddSpanEvent(ctx, "preload.finished", map[string]interface{}{
		"requested": report.Requested,
		"loaded":    report.Loaded,
		"failed":    len(report.Failed),
	})
	s.logger.InfoContext(ctx, "preload finished",
		slog.Int("requested", report.Requested),
		slog.Int("loaded", report.Loaded),
		slog.Int("failed", len(report.Failed)),
		slog.String("elapsed", report.Elapsed))
	return report, nil
}

// Health reports the data layer's current state. The layer is degraded
// when the manifest is empty; load failures surface per race through
// Preload, not here.
func (s *DataService) Health(ctx context.Context) *DataHealth {
	status := s.store.Status()
	raceCount := len(s.store.RaceIDs())

	overall := "ok"
	if raceCount == 0 {
		overall = "degraded"
	}
	return &DataHealth{
		Status:      overall,
		RaceCount:   raceCount,
		LoadedCount: len(status),
		Races:       status,
		CheckedAt:   time.Now().UTC(),
	}
}

// Reload re-reads the manifest from disk and drops the race cache.
func (s *DataService) Reload(ctx context.Context) error {
	if err := s.store.Reload(); err != nil {
		return fmt.Errorf("reload manifest: %w", err)
	}
	s.logger.InfoContext(ctx, "manifest reloaded", slog.Int("races", len(s.store.RaceIDs())))
	return nil
}

func (s *DataService) broadcastStatus(status events.DataStatus) {
	s.mu.RLock()
	broadcaster := s.broadcaster
	s.mu.RUnlock()
	if broadcaster != nil {
		broadcaster.BroadcastDataStatus(status)
	}
}

func (s *DataService) recordFetchFailure(ctx context.Context, raceID string) {
	s.mu.RLock()
	instruments := s.metrics
	s.mu.RUnlock()
	if instruments != nil {
		instruments.RaceFetchFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("race_id", raceID)))
	}
}
