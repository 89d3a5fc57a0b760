package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"trailpulse/internal/dataprocessing"
	"trailpulse/internal/infrastructure"
	"trailpulse/internal/store"
	api "trailpulse/pkg/contracts/api/v1"
	"trailpulse/pkg/contracts/domain"
	"trailpulse/pkg/contracts/events"
)

// defaultImportSource marks documents created from pasted text, as
// opposed to the workbook pipeline's "ITRA".
const defaultImportSource = "manual"

// ImportPreview is the outcome of parsing a pasted table without
// persisting anything.
type ImportPreview struct {
	Records   []domain.ResultRecord `json:"records"`
	Total     int                   `json:"total"`
	Skipped   int                   `json:"skipped"`
	Delimiter string                `json:"delimiter"`
	HeaderRow bool                  `json:"header_row"`
}

// ImportOutcome reports a completed import: the persisted race and the
// aggregate row counts the UI surfaces as its one status message.
type ImportOutcome struct {
	RaceID  string               `json:"race_id"`
	Entry   domain.ManifestEntry `json:"entry"`
	Results int                  `json:"results"`
	Skipped int                  `json:"skipped"`
	Digest  string               `json:"digest,omitempty"`
}

// ImportService turns pasted result tables into persisted race
// documents and manifest entries.
type ImportService struct {
	store  *store.Store
	logger *slog.Logger

	mu          sync.RWMutex
	broadcaster Broadcaster
	metrics     *infrastructure.BusinessMetrics
}

// NewImportService creates an import service writing through the given
// store.
func NewImportService(st *store.Store, logger *slog.Logger) *ImportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportService{store: st, logger: logger}
}

// SetBroadcaster attaches the event broadcaster.
func (s *ImportService) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// SetMetrics attaches the application metric instruments.
func (s *ImportService) SetMetrics(m *infrastructure.BusinessMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Preview parses a pasted table and returns the records it would
// import, without touching the store.
func (s *ImportService) Preview(ctx context.Context, req api.ImportPreviewRequest) (*ImportPreview, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	parsed, err := s.parse(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	return &ImportPreview{
		Records:   parsed.Records,
		Total:     len(parsed.Records),
		Skipped:   parsed.Skipped,
		Delimiter: parsed.Delimiter,
		HeaderRow: parsed.HeaderRow,
	}, nil
}

// Import parses a pasted table, builds a race document from it and the
// request metadata, persists the document, and upserts the manifest.
func (s *ImportService) Import(ctx context.Context, req api.ImportRequest) (*ImportOutcome, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	parsed, err := s.parse(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	raceID := s.raceID(req)
	doc := domain.RaceDocument{
		Meta: domain.RaceMeta{
			RaceID:     raceID,
			Name:       req.Name,
			Year:       req.Year,
			Country:    req.Country,
			SeriesTags: domain.SeriesTags(req.Series),
			DataSource: req.DataSource,
			SourceURL:  req.SourceURL,
		},
		Results: make([]domain.RawResult, 0, len(parsed.Records)),
	}
	if doc.Meta.DataSource == "" {
		doc.Meta.DataSource = defaultImportSource
	}
	for _, rec := range parsed.Records {
		doc.Results = append(doc.Results, domain.RawResult{
			Rank:        domain.FlexNumber(float64(rec.Rank)),
			Index:       domain.FlexNumber(rec.Score),
			Runner:      rec.Runner,
			Gender:      rec.Gender,
			Nationality: rec.Nationality,
		})
	}

	// Parsed records are already canonical; normalizing again keeps the
	// store behind the same validation boundary as every other source.
	race, _ := dataprocessing.NormalizeDocument(doc, raceID)
	entry, err := s.store.SaveRace(race)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRaceID) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("save imported race: %w", err)
	}
	digest, _ := s.store.Digest(entry.RaceID)

	s.recordImport(ctx, len(race.Results), parsed.Skipped)
	s.broadcastStatus(events.DataStatus{RaceID: entry.RaceID, State: "cached", Digest: digest})
	s.logger.InfoContext(ctx, "race imported",
		slog.String("race_id", entry.RaceID),
		slog.Int("results", len(race.Results)),
		slog.Int("skipped", parsed.Skipped))

	return &ImportOutcome{
		RaceID:  entry.RaceID,
		Entry:   entry,
		Results: len(race.Results),
		Skipped: parsed.Skipped,
		Digest:  digest,
	}, nil
}

// parse runs the heuristic parser and translates its aggregate failure
// into the service sentinel.
func (s *ImportService) parse(ctx context.Context, text string) (*dataprocessing.ParseResult, error) {
	parsed, err := dataprocessing.ParseResultTable(text)
	if err != nil {
		s.logger.WarnContext(ctx, "import parse failed", slog.String("error", err.Error()))
		if errors.Is(err, dataprocessing.ErrNoValidRows) {
			return nil, fmt.Errorf("%w: %s", ErrNoValidRows, err)
		}
		return nil, fmt.Errorf("parse import text: %w", err)
	}
	return parsed, nil
}

// raceID picks the identifier for an imported race: the explicit id,
// then a slug of name and year, then a generated fallback.
func (s *ImportService) raceID(req api.ImportRequest) string {
	if req.RaceID != "" {
		return req.RaceID
	}
	if slug := raceSlug(req.Name, req.Year); slug != "" {
		return slug
	}
	return "import-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// raceSlug builds a filesystem-safe race id from a race name and year.
func raceSlug(name string, year int) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingDash = b.Len() > 0
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}
	slug := b.String()
	if slug == "" {
		return ""
	}
	if year > 0 {
		return fmt.Sprintf("%s-%d", slug, year)
	}
	return slug
}

func (s *ImportService) broadcastStatus(status events.DataStatus) {
	s.mu.RLock()
	broadcaster := s.broadcaster
	s.mu.RUnlock()
	if broadcaster != nil {
		broadcaster.BroadcastDataStatus(status)
	}
}

func (s *ImportService) recordImport(ctx context.Context, results, skipped int) {
	s.mu.RLock()
	instruments := s.metrics
	s.mu.RUnlock()
	if instruments == nil {
		return
	}
	instruments.ImportsTotal.Add(ctx, 1)
	if skipped > 0 {
		instruments.ImportRowsSkipped.Add(ctx, int64(skipped))
	}
}
