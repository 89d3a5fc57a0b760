package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"trailpulse/internal/dataprocessing"
	"trailpulse/pkg/contracts/domain"
)

// ErrNotFound is returned when a race id is not listed in the manifest.
var ErrNotFound = errors.New("race not found")

// ErrInvalidRaceID is returned when a race id cannot be used as a
// document file name without escaping the dataset root.
var ErrInvalidRaceID = errors.New("invalid race id")

const defaultFetchTimeout = 30 * time.Second

// Options configures a Store.
type Options struct {
	// Root is the dataset root directory. Relative manifest paths
	// resolve against it.
	Root string
	// ManifestPath overrides the default <root>/data/courses_index.json.
	ManifestPath string
	// Client fetches http(s) locators. A default client with a 30s
	// timeout is used when nil.
	Client *http.Client
	Logger *slog.Logger
}

// Store owns the race dataset: the manifest index plus a cache of
// normalized races keyed by race id. Races load lazily on first access
// and stay cached until Reload. Cached races are immutable; callers must
// not modify the result slices.
type Store struct {
	root         string
	manifestPath string
	client       *http.Client
	logger       *slog.Logger

	mu       sync.RWMutex
	manifest domain.Manifest
	races    map[string]*cachedRace
}

type cachedRace struct {
	race     domain.Race
	digest   string
	dropped  int
	loadedAt time.Time
}

// RaceStatus describes one cached race for the data health endpoint.
type RaceStatus struct {
	RaceID   string    `json:"race_id"`
	Digest   string    `json:"digest"`
	Results  int       `json:"results"`
	Dropped  int       `json:"dropped"`
	LoadedAt time.Time `json:"loaded_at"`
}

// New opens the dataset at opts.Root and loads its manifest. The races
// themselves are not fetched until first access.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("store: root directory required")
	}
	if opts.ManifestPath == "" {
		opts.ManifestPath = filepath.Join(opts.Root, "data", "courses_index.json")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		root:         opts.Root,
		manifestPath: opts.ManifestPath,
		client:       opts.Client,
		logger:       opts.Logger,
		races:        make(map[string]*cachedRace),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the manifest from disk and drops every cached race.
func (s *Store) Reload() error {
	manifest, err := readManifest(s.manifestPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.manifest = manifest
	s.races = make(map[string]*cachedRace)
	s.mu.Unlock()

	s.logger.Info("manifest loaded",
		slog.String("path", s.manifestPath),
		slog.Int("races", len(manifest.Courses)))
	return nil
}

func readManifest(path string) (domain.Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var manifest domain.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return domain.Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}

	seen := make(map[string]bool, len(manifest.Courses))
	for _, e := range manifest.Courses {
		if e.RaceID == "" || e.Path == "" {
			return domain.Manifest{}, fmt.Errorf("manifest %s: entry missing race_id or path", path)
		}
		if seen[e.RaceID] {
			return domain.Manifest{}, fmt.Errorf("manifest %s: duplicate race_id %q", path, e.RaceID)
		}
		seen[e.RaceID] = true
	}
	return manifest, nil
}

// Manifest returns a copy of the loaded manifest.
func (s *Store) Manifest() domain.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	courses := make([]domain.ManifestEntry, len(s.manifest.Courses))
	copy(courses, s.manifest.Courses)
	return domain.Manifest{Courses: courses}
}

// RaceIDs returns all known race ids in manifest order.
func (s *Store) RaceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest.RaceIDs()
}

// Race returns the normalized race for raceID, fetching and caching its
// document on first access. The fetch happens outside the lock, so two
// callers may load the same race concurrently; the first result wins and
// the duplicate work is discarded.
func (s *Store) Race(ctx context.Context, raceID string) (domain.Race, error) {
	s.mu.RLock()
	if c, ok := s.races[raceID]; ok {
		s.mu.RUnlock()
		return c.race, nil
	}
	entry, known := s.manifest.Entry(raceID)
	s.mu.RUnlock()

	if !known {
		return domain.Race{}, fmt.Errorf("%w: %s", ErrNotFound, raceID)
	}

	cached, err := s.fetch(ctx, entry)
	if err != nil {
		return domain.Race{}, err
	}

	s.mu.Lock()
	if c, ok := s.races[raceID]; ok {
		s.mu.Unlock()
		return c.race, nil
	}
	s.races[raceID] = cached
	s.mu.Unlock()

	s.logger.Debug("race loaded",
		slog.String("race_id", raceID),
		slog.Int("results", len(cached.race.Results)),
		slog.Int("dropped", cached.dropped),
		slog.String("digest", cached.digest[:8]))
	return cached.race, nil
}

// Races resolves several ids at once, preserving order.
func (s *Store) Races(ctx context.Context, raceIDs []string) ([]domain.Race, error) {
	races := make([]domain.Race, 0, len(raceIDs))
	for _, id := range raceIDs {
		race, err := s.Race(ctx, id)
		if err != nil {
			return nil, err
		}
		races = append(races, race)
	}
	return races, nil
}

// fetch retrieves and normalizes one race document.
func (s *Store) fetch(ctx context.Context, entry domain.ManifestEntry) (*cachedRace, error) {
	raw, err := s.fetchDocument(ctx, entry.Path)
	if err != nil {
		return nil, fmt.Errorf("fetch race %s: %w", entry.RaceID, err)
	}

	var doc domain.RaceDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode race %s: %w", entry.RaceID, err)
	}

	race, dropped := dataprocessing.NormalizeDocument(doc, entry.RaceID)
	if len(race.Results) == 0 {
		s.logger.Warn("race has no usable results",
			slog.String("race_id", entry.RaceID),
			slog.Int("dropped", dropped))
	}

	sum := blake2b.Sum256(raw)
	return &cachedRace{
		race:     race,
		digest:   hex.EncodeToString(sum[:]),
		dropped:  dropped,
		loadedAt: time.Now().UTC(),
	}, nil
}

// fetchDocument reads a locator: http(s) URLs go through the HTTP client,
// anything else is a file path resolved against the dataset root.
func (s *Store) fetchDocument(ctx context.Context, locator string) ([]byte, error) {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: unexpected status %d", locator, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	full := locator
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.root, filepath.FromSlash(locator))
	}
	return os.ReadFile(full)
}

// SaveRace persists a race into the dataset: the document is written
// under data/courses/, the manifest gains or replaces the entry, and the
// cache is updated. Used by the import flow.
func (s *Store) SaveRace(race domain.Race) (domain.ManifestEntry, error) {
	id := race.ID()
	if id == "" {
		return domain.ManifestEntry{}, fmt.Errorf("save race: %w: empty", ErrInvalidRaceID)
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return domain.ManifestEntry{}, fmt.Errorf("save race: %w: %q", ErrInvalidRaceID, id)
	}

	payload, err := json.MarshalIndent(race.Document(), "", "  ")
	if err != nil {
		return domain.ManifestEntry{}, fmt.Errorf("encode race %s: %w", id, err)
	}

	relPath := path.Join("data", "courses", id+".json")
	full := filepath.Join(s.root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return domain.ManifestEntry{}, fmt.Errorf("create courses dir: %w", err)
	}
	if err := os.WriteFile(full, payload, 0o644); err != nil {
		return domain.ManifestEntry{}, fmt.Errorf("write race %s: %w", id, err)
	}

	entry := domain.ManifestEntry{
		RaceID:     id,
		Path:       relPath,
		Name:       race.Meta.Name,
		Year:       race.Meta.Year,
		Series:     race.SeriesLabel(),
		Country:    race.Meta.Country,
		DataSource: race.Meta.DataSource,
	}

	sum := blake2b.Sum256(payload)

	// The manifest write happens under the lock so concurrent imports
	// serialize rather than clobber each other's entries.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest.Upsert(entry)
	s.races[id] = &cachedRace{
		race:     race,
		digest:   hex.EncodeToString(sum[:]),
		dropped:  0,
		loadedAt: time.Now().UTC(),
	}
	if err := s.writeManifestLocked(); err != nil {
		return domain.ManifestEntry{}, err
	}

	s.logger.Info("race saved",
		slog.String("race_id", id),
		slog.String("path", relPath),
		slog.Int("results", len(race.Results)))
	return entry, nil
}

func (s *Store) writeManifestLocked() error {
	payload, err := json.MarshalIndent(&s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.manifestPath), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := os.WriteFile(s.manifestPath, payload, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Digest returns the content digest of a cached race. The second return
// is false when the race has not been loaded yet.
func (s *Store) Digest(raceID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.races[raceID]
	if !ok {
		return "", false
	}
	return c.digest, true
}

// Status reports every cached race sorted by id. Races listed in the
// manifest but not yet loaded are absent.
func (s *Store) Status() []RaceStatus {
	s.mu.RLock()
	statuses := make([]RaceStatus, 0, len(s.races))
	for id, c := range s.races {
		statuses = append(statuses, RaceStatus{
			RaceID:   id,
			Digest:   c.digest,
			Results:  len(c.race.Results),
			Dropped:  c.dropped,
			LoadedAt: c.loadedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].RaceID < statuses[j].RaceID })
	return statuses
}

// Loaded reports how many races are currently cached.
func (s *Store) Loaded() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.races)
}
