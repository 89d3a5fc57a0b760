package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trailpulse/internal/competitive"
	"trailpulse/internal/exporter"
	"trailpulse/internal/infrastructure"
	"trailpulse/internal/store"
	api "trailpulse/pkg/contracts/api/v1"
	"trailpulse/pkg/contracts/domain"
	"trailpulse/pkg/contracts/events"
)

// Panel names and the selection context they share. All three default
// panels alias the same context: a selection mutation made through any
// of them refreshes all of them.
const (
	ContextMain = "main"

	PanelOverview = "overview"
	PanelMen      = "men"
	PanelWomen    = "women"
)

// Broadcaster pushes event payloads to attached clients. The WebSocket
// hub implements it; services treat a nil broadcaster as a no-op.
type Broadcaster interface {
	BroadcastPanelRefresh(refresh events.PanelRefresh)
	BroadcastDataStatus(status events.DataStatus)
}

// Panel is a named view onto a selection context. Sex restricts every
// computation made through the panel; the zero value passes the whole
// field through.
type Panel struct {
	Name    string     `json:"name"`
	Context string     `json:"context"`
	Sex     domain.Sex `json:"sex,omitempty"`
}

// PanelSelection is the selection state visible through one panel.
type PanelSelection struct {
	Panel    string            `json:"panel"`
	Context  string            `json:"context"`
	Sex      domain.Sex        `json:"sex,omitempty"`
	Selected []string          `json:"selected"`
	Filter   domain.RaceFilter `json:"filter"`
	SortKey  string            `json:"sort_key"`
	SortDir  string            `json:"sort_direction"`
	Revision uint64            `json:"revision"`
}

// LorenzSeries is the Lorenz curve of one race's score distribution.
type LorenzSeries struct {
	RaceID string                    `json:"race_id"`
	Sex    domain.Sex                `json:"sex,omitempty"`
	Gini   domain.FlexNumber         `json:"gini_coefficient"`
	Points []competitive.LorenzPoint `json:"points"`
}

// BucketSeries holds the rank-bucket means of one race's top-N window.
type BucketSeries struct {
	RaceID  string              `json:"race_id"`
	Sex     domain.Sex          `json:"sex,omitempty"`
	TopN    int                 `json:"top_n"`
	Buckets int                 `json:"buckets"`
	Means   []domain.FlexNumber `json:"means"`
}

// AnalyticsService owns the panel registry and the selection contexts
// behind it, and computes every derived table and curve from the races
// a context currently activates.
type AnalyticsService struct {
	store    *store.Store
	analyzer *competitive.Analyzer
	logger   *slog.Logger

	mu          sync.RWMutex
	contexts    map[string]*competitive.Selection
	panels      map[string]Panel
	panelOrder  []string
	broadcaster Broadcaster
	metrics     *infrastructure.BusinessMetrics
}

// NewAnalyticsService creates the service with the three default panels
// sharing the main selection context.
func NewAnalyticsService(st *store.Store, logger *slog.Logger) *AnalyticsService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AnalyticsService{
		store:    st,
		analyzer: competitive.NewAnalyzer(logger),
		logger:   logger,
		contexts: make(map[string]*competitive.Selection),
		panels:   make(map[string]Panel),
	}
	s.registerContext(ContextMain)
	s.registerPanel(Panel{Name: PanelOverview, Context: ContextMain})
	s.registerPanel(Panel{Name: PanelMen, Context: ContextMain, Sex: domain.SexMale})
	s.registerPanel(Panel{Name: PanelWomen, Context: ContextMain, Sex: domain.SexFemale})
	return s
}

// SetBroadcaster attaches the event broadcaster. Wired after
// construction because the hub needs the service registry first.
func (s *AnalyticsService) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// SetMetrics attaches the application metric instruments.
func (s *AnalyticsService) SetMetrics(m *infrastructure.BusinessMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

func (s *AnalyticsService) registerContext(name string) {
	sel := competitive.NewSelection()
	sel.Subscribe(func(reason string, revision uint64) {
		s.notifyPanels(name, reason, revision)
	})
	s.contexts[name] = sel
}

func (s *AnalyticsService) registerPanel(p Panel) {
	s.panels[p.Name] = p
	s.panelOrder = append(s.panelOrder, p.Name)
}

// notifyPanels fans a context mutation out to every panel aliasing it.
// Invoked synchronously from the mutating goroutine after the selection
// released its own lock.
func (s *AnalyticsService) notifyPanels(contextName, reason string, revision uint64) {
	s.mu.RLock()
	names := make([]string, 0, len(s.panelOrder))
	for _, name := range s.panelOrder {
		if s.panels[name].Context == contextName {
			names = append(names, name)
		}
	}
	broadcaster := s.broadcaster
	instruments := s.metrics
	s.mu.RUnlock()

	s.logger.Debug("selection mutated",
		slog.String("context", contextName),
		slog.String("reason", reason),
		slog.Uint64("revision", revision))

	if instruments != nil {
		instruments.PanelRefreshesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}
	if broadcaster != nil {
		broadcaster.BroadcastPanelRefresh(events.PanelRefresh{
			Panels:   names,
			Context:  contextName,
			Reason:   reason,
			Revision: revision,
		})
	}
}

// Panels lists the registered panels in display order.
func (s *AnalyticsService) Panels() []Panel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Panel, 0, len(s.panelOrder))
	for _, name := range s.panelOrder {
		out = append(out, s.panels[name])
	}
	return out
}

// panel resolves a panel name to its descriptor and selection context.
func (s *AnalyticsService) panel(name string) (Panel, *competitive.Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.panels[name]
	if !ok {
		return Panel{}, nil, fmt.Errorf("%w: %s", ErrPanelNotFound, name)
	}
	sel, ok := s.contexts[p.Context]
	if !ok {
		return Panel{}, nil, fmt.Errorf("%w: %s", ErrContextNotFound, p.Context)
	}
	return p, sel, nil
}

// universe loads every race the manifest knows. Races whose documents
// cannot be fetched are skipped so one broken locator does not take the
// whole table down.
func (s *AnalyticsService) universe(ctx context.Context) []*domain.Race {
	ids := s.store.RaceIDs()
	races := make([]*domain.Race, 0, len(ids))
	for _, id := range ids {
		race, err := s.store.Race(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unloadable race",
				slog.String("race_id", id),
				slog.String("error", err.Error()))
			continue
		}
		races = append(races, &race)
	}
	return races
}

// Selection returns the current selection state of a panel.
func (s *AnalyticsService) Selection(ctx context.Context, panel string) (*PanelSelection, error) {
	p, sel, err := s.panel(panel)
	if err != nil {
		return nil, err
	}
	return s.selectionState(p, sel), nil
}

// MutateSelection applies one selection action through a panel and
// returns the resulting state. Unknown race ids in toggle/set requests
// are dropped silently; membership is always intersected with the
// manifest universe.
func (s *AnalyticsService) MutateSelection(ctx context.Context, panel string, req api.SelectionMutationRequest) (*PanelSelection, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	p, sel, err := s.panel(panel)
	if err != nil {
		return nil, err
	}

	races := s.universe(ctx)
	switch req.Action {
	case "all":
		sel.SelectAll(races)
	case "none":
		sel.SelectNone()
	case "year":
		if req.Year == 0 {
			return nil, fmt.Errorf("%w: action year requires a year", ErrInvalidInput)
		}
		sel.SelectYear(races, req.Year)
	case "toggle":
		if len(req.RaceIDs) == 0 {
			return nil, fmt.Errorf("%w: action toggle requires race_ids", ErrInvalidInput)
		}
		sel.Toggle(races, req.RaceIDs...)
	case "set":
		sel.SetSelected(races, req.RaceIDs)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, req.Action)
	}

	s.logger.InfoContext(ctx, "selection mutated",
		slog.String("panel", panel),
		slog.String("action", req.Action),
		slog.Int("selected", len(sel.Selected())))
	return s.selectionState(p, sel), nil
}

// SetFilters replaces the country and series filters of a panel's
// context and re-intersects the selection with the filtered universe.
func (s *AnalyticsService) SetFilters(ctx context.Context, panel string, req api.FiltersRequest) (*PanelSelection, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	p, sel, err := s.panel(panel)
	if err != nil {
		return nil, err
	}
	sel.SetFilter(s.universe(ctx), domain.RaceFilter{Country: req.Country, Series: req.Series})
	return s.selectionState(p, sel), nil
}

// SetSort replaces the active sort of a panel's context.
func (s *AnalyticsService) SetSort(ctx context.Context, panel string, req api.SortRequest) (*PanelSelection, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	p, sel, err := s.panel(panel)
	if err != nil {
		return nil, err
	}
	sel.SetSort(req.Key, competitive.SortDirection(req.Direction))
	return s.selectionState(p, sel), nil
}

func (s *AnalyticsService) selectionState(p Panel, sel *competitive.Selection) *PanelSelection {
	key, dir := sel.Sort()
	return &PanelSelection{
		Panel:    p.Name,
		Context:  p.Context,
		Sex:      p.Sex,
		Selected: sel.Selected(),
		Filter:   sel.Filter(),
		SortKey:  key,
		SortDir:  string(dir),
		Revision: sel.Revision(),
	}
}

// MetricRows computes the metric table for a panel's active races,
// sorted by the context's active sort. The panel's sex wins over the
// query's; the overview panel is the only one where the query sex
// matters.
func (s *AnalyticsService) MetricRows(ctx context.Context, panel string, q api.MetricsQuery) ([]competitive.MetricRow, error) {
	if err := validate.Struct(q); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	p, sel, err := s.panel(panel)
	if err != nil {
		return nil, err
	}

	defer s.observeCompute(ctx, "metrics", panel, time.Now())
	sex := p.Sex
	if sex == "" && q.Sex != "" {
		sex = domain.Sex(q.Sex)
	}
	races := sel.ActiveRaces(s.universe(ctx))
	rows := s.analyzer.MetricRows(ctx, races, competitive.MetricsOptions{
		Ns:         q.Ns,
		Sex:        sex,
		Normalized: q.Normalized,
		AUCWindow:  q.AUCWindow,
	})
	sel.SortRows(rows)
	return rows, nil
}

// Ladder computes the per-race, per-sex RCI ladder points for a
// panel's active races.
func (s *AnalyticsService) Ladder(ctx context.Context, panel string, ns []int, normalized bool) ([]competitive.VizPoint, error) {
	_, sel, err := s.panel(panel)
	if err != nil {
		return nil, err
	}
	defer s.observeCompute(ctx, "ladder", panel, time.Now())
	races := sel.ActiveRaces(s.universe(ctx))
	return s.analyzer.Ladder(ctx, races, competitive.LadderOptions{Ns: ns, Normalized: normalized}), nil
}

// Parity computes the male/female RCI pairs for a panel's active races.
func (s *AnalyticsService) Parity(ctx context.Context, panel string, ns []int, normalized bool) ([]competitive.ParityRow, error) {
	_, sel, err := s.panel(panel)
	if err != nil {
		return nil, err
	}
	defer s.observeCompute(ctx, "parity", panel, time.Now())
	races := sel.ActiveRaces(s.universe(ctx))
	return s.analyzer.Parity(ctx, races, competitive.LadderOptions{Ns: ns, Normalized: normalized}), nil
}

// ClosestMatches finds the k ladder points nearest to the target point
// named by race id, sex, and n. The target must itself be a computable
// ladder point of the panel's active races.
func (s *AnalyticsService) ClosestMatches(ctx context.Context, panel, raceID string, sex domain.Sex, n, k int, normalized bool) ([]competitive.VizPoint, error) {
	_, sel, err := s.panel(panel)
	if err != nil {
		return nil, err
	}
	if raceID == "" {
		return nil, fmt.Errorf("%w: race_id required", ErrInvalidInput)
	}
	if n <= 0 {
		n = competitive.DefaultAUCWindow
	}
	if k <= 0 {
		k = competitive.ClosestMatchCount
	}

	defer s.observeCompute(ctx, "closest", panel, time.Now())
	races := sel.ActiveRaces(s.universe(ctx))
	points := s.analyzer.Ladder(ctx, races, competitive.LadderOptions{Normalized: normalized})

	var target *competitive.VizPoint
	for i := range points {
		if points[i].RaceID == raceID && points[i].Sex == sex && points[i].N == n {
			target = &points[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: race %q sex %q n %d", ErrNoTargetPoint, raceID, sex, n)
	}
	return competitive.ClosestMatches(points, *target, k), nil
}

// Lorenz computes the Lorenz curve and Gini coefficient of one race's
// score distribution, restricted to the panel's sex. The normalized
// flag applies the female correction before the curve is built.
func (s *AnalyticsService) Lorenz(ctx context.Context, panel, raceID string, normalized bool) (*LorenzSeries, error) {
	p, _, err := s.panel(panel)
	if err != nil {
		return nil, err
	}
	race, err := s.race(ctx, raceID)
	if err != nil {
		return nil, err
	}

	records, _ := competitive.PanelRecords(race, p.Sex)
	if normalized && p.Sex == domain.SexFemale {
		records = competitive.NormalizeFemaleRecords(records)
	}
	scores := competitive.Scores(records)
	return &LorenzSeries{
		RaceID: raceID,
		Sex:    p.Sex,
		Gini:   domain.FlexNumber(competitive.Gini(scores)),
		Points: competitive.LorenzCurve(scores),
	}, nil
}

// Buckets computes the rank-bucket means of one race's top-N window,
// restricted to the panel's sex.
func (s *AnalyticsService) Buckets(ctx context.Context, panel, raceID string, topN int) (*BucketSeries, error) {
	p, _, err := s.panel(panel)
	if err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = competitive.DefaultAUCWindow
	}
	race, err := s.race(ctx, raceID)
	if err != nil {
		return nil, err
	}

	records, _ := competitive.PanelRecords(race, p.Sex)
	raw := competitive.BucketMeans(records, topN)
	means := make([]domain.FlexNumber, len(raw))
	for i, v := range raw {
		means[i] = domain.FlexNumber(v)
	}
	return &BucketSeries{
		RaceID:  raceID,
		Sex:     p.Sex,
		TopN:    topN,
		Buckets: len(means),
		Means:   means,
	}, nil
}

// ExportCSV renders the panel's current metric table as a CSV download.
// The payload carries a UTF-8 BOM so spreadsheet tools pick the right
// encoding.
func (s *AnalyticsService) ExportCSV(ctx context.Context, panel string, q api.MetricsQuery) (string, []byte, error) {
	rows, err := s.MetricRows(ctx, panel, q)
	if err != nil {
		return "", nil, err
	}
	filename := fmt.Sprintf("trailpulse_metrics_%s_%s.csv", panel, time.Now().Format("20060102_150405"))
	payload := append([]byte{0xEF, 0xBB, 0xBF}, exporter.MetricsCSV(rows)...)
	s.logger.InfoContext(ctx, "metrics exported",
		slog.String("panel", panel),
		slog.String("filename", filename),
		slog.Int("rows", len(rows)))
	return filename, payload, nil
}

// race loads one race and translates the store's not-found error.
func (s *AnalyticsService) race(ctx context.Context, raceID string) (*domain.Race, error) {
	race, err := s.store.Race(ctx, raceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRaceNotFound, raceID)
		}
		return nil, fmt.Errorf("load race %s: %w", raceID, err)
	}
	return &race, nil
}

func (s *AnalyticsService) observeCompute(ctx context.Context, operation, panel string, start time.Time) {
	s.mu.RLock()
	instruments := s.metrics
	s.mu.RUnlock()
	if instruments == nil {
		return
	}
	instruments.AnalyticsComputeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("panel", panel)))
}
