package competitive

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"trailpulse/pkg/contracts/domain"
)

// SortDirection orders a sorted table.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ChangeListener is invoked synchronously after every selection mutation.
type ChangeListener func(reason string, revision uint64)

// Selection is the explicit selection/filter/sort context passed to every
// panel computation. Panels that must stay in sync hold references to the
// same instance; a mutation through any of them bumps the revision and
// notifies listeners before the mutating call returns.
type Selection struct {
	mu        sync.RWMutex
	selected  map[string]struct{}
	filter    domain.RaceFilter
	sortKey   string
	sortDir   SortDirection
	revision  uint64
	listeners []ChangeListener
}

// NewSelection creates an empty selection sorted by race id ascending.
func NewSelection() *Selection {
	return &Selection{
		selected: make(map[string]struct{}),
		sortKey:  "race_id",
		sortDir:  SortAsc,
	}
}

// Subscribe registers a listener for mutation notifications.
func (s *Selection) Subscribe(fn ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SelectAll selects every race that passes the active filter.
func (s *Selection) SelectAll(races []*domain.Race) {
	s.mutate("select_all", func() {
		s.selected = make(map[string]struct{}, len(races))
		for _, r := range races {
			s.selected[r.ID()] = struct{}{}
		}
		s.applyFilterLocked(races)
	})
}

// SelectNone clears the selection.
func (s *Selection) SelectNone() {
	s.mutate("select_none", func() {
		s.selected = make(map[string]struct{})
	})
}

// SelectYear selects exactly the races of one year that pass the filter.
func (s *Selection) SelectYear(races []*domain.Race, year int) {
	s.mutate("select_year", func() {
		s.selected = make(map[string]struct{})
		for _, r := range races {
			if r.Meta.Year == year {
				s.selected[r.ID()] = struct{}{}
			}
		}
		s.applyFilterLocked(races)
	})
}

// Toggle flips the membership of the given race ids.
func (s *Selection) Toggle(races []*domain.Race, raceIDs ...string) {
	s.mutate("toggle", func() {
		for _, id := range raceIDs {
			if _, ok := s.selected[id]; ok {
				delete(s.selected, id)
			} else {
				s.selected[id] = struct{}{}
			}
		}
		s.applyFilterLocked(races)
	})
}

// SetSelected replaces the selection with the given race ids.
func (s *Selection) SetSelected(races []*domain.Race, raceIDs []string) {
	s.mutate("set", func() {
		s.selected = make(map[string]struct{}, len(raceIDs))
		for _, id := range raceIDs {
			s.selected[id] = struct{}{}
		}
		s.applyFilterLocked(races)
	})
}

// SetFilter replaces the country/series filter and prunes the selection:
// a filter change never re-admits a previously filtered-out race.
func (s *Selection) SetFilter(races []*domain.Race, filter domain.RaceFilter) {
	s.mutate("filter", func() {
		s.filter = filter
		s.applyFilterLocked(races)
	})
}

// SetSort replaces the active sort key and direction.
func (s *Selection) SetSort(key string, dir SortDirection) {
	if dir != SortDesc {
		dir = SortAsc
	}
	s.mutate("sort", func() {
		s.sortKey = key
		s.sortDir = dir
	})
}

// applyFilterLocked removes selected ids whose race is unknown or no
// longer passes the filter. Callers hold the write lock.
func (s *Selection) applyFilterLocked(races []*domain.Race) {
	byID := make(map[string]*domain.Race, len(races))
	for _, r := range races {
		byID[r.ID()] = r
	}
	for id := range s.selected {
		race, ok := byID[id]
		if !ok || !s.filter.Matches(race.Meta) {
			delete(s.selected, id)
		}
	}
}

func (s *Selection) mutate(reason string, fn func()) {
	s.mu.Lock()
	fn()
	s.revision++
	revision := s.revision
	listeners := make([]ChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(reason, revision)
	}
}

// Selected returns the selected race ids, sorted for determinism.
func (s *Selection) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsSelected reports membership of one race id.
func (s *Selection) IsSelected(raceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.selected[raceID]
	return ok
}

// Filter returns the active filter.
func (s *Selection) Filter() domain.RaceFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Sort returns the active sort key and direction.
func (s *Selection) Sort() (string, SortDirection) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortKey, s.sortDir
}

// Revision returns the mutation counter.
func (s *Selection) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// ActiveRaces returns the selected races in universe order.
func (s *Selection) ActiveRaces(races []*domain.Race) []*domain.Race {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := make([]*domain.Race, 0, len(s.selected))
	for _, r := range races {
		if _, ok := s.selected[r.ID()]; ok {
			active = append(active, r)
		}
	}
	return active
}

// SortRows orders rows by the selection's active sort.
func (s *Selection) SortRows(rows []MetricRow) {
	key, dir := s.Sort()
	SortRows(rows, key, dir)
}

// SortRows orders metric rows by one key. Finite values compare
// numerically; an undefined value sorts after every finite value no
// matter the direction; when neither side is numeric the comparison falls
// back to the stringified values.
func SortRows(rows []MetricRow, key string, dir SortDirection) {
	sort.SliceStable(rows, func(i, j int) bool {
		return lessRow(rows[i], rows[j], key, dir)
	})
}

func lessRow(a, b MetricRow, key string, dir SortDirection) bool {
	av, astr, anum := sortValue(a, key)
	bv, bstr, bnum := sortValue(b, key)
	aFinite := anum && !math.IsNaN(av)
	bFinite := bnum && !math.IsNaN(bv)
	switch {
	case aFinite && bFinite:
		if av == bv {
			return false
		}
		if dir == SortDesc {
			return av > bv
		}
		return av < bv
	case aFinite != bFinite:
		return aFinite
	default:
		if astr == bstr {
			return false
		}
		if dir == SortDesc {
			return astr > bstr
		}
		return astr < bstr
	}
}

// sortValue extracts one sortable value from a row. Numeric keys return a
// float plus its stringified form for the fallback comparison.
func sortValue(row MetricRow, key string) (float64, string, bool) {
	numeric := func(v float64) (float64, string, bool) {
		return v, strconv.FormatFloat(v, 'f', -1, 64), true
	}
	switch key {
	case "race", "name":
		return 0, row.Name, false
	case "race_id":
		return 0, row.RaceID, false
	case "country":
		return 0, row.Country, false
	case "series":
		return 0, row.SeriesLabel, false
	case "year":
		return numeric(float64(row.Year))
	case "finishers":
		return numeric(float64(row.Finishers))
	case "gini":
		return numeric(float64(row.Gini))
	case "auc":
		return numeric(float64(row.AUCNormalized))
	}
	for _, prefix := range []string{"rci", "mean", "std"} {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			break
		}
		ns, ok := row.ByN[n]
		if !ok {
			return math.NaN(), "NaN", true
		}
		switch prefix {
		case "rci":
			return numeric(float64(ns.RCI))
		case "mean":
			return numeric(float64(ns.Mean))
		default:
			return numeric(float64(ns.Std))
		}
	}
	return 0, fmt.Sprintf("%s|%s", row.RaceID, string(row.Sex)), false
}
