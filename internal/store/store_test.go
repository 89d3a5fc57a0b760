package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailpulse/pkg/contracts/domain"
)

func writeDataset(t *testing.T, manifest string, races map[string]string) string {
	t.Helper()
	root := t.TempDir()
	coursesDir := filepath.Join(root, "data", "courses")
	require.NoError(t, os.MkdirAll(coursesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "courses_index.json"), []byte(manifest), 0o644))
	for name, body := range races {
		require.NoError(t, os.WriteFile(filepath.Join(coursesDir, name), []byte(body), 0o644))
	}
	return root
}

const twoRaceManifest = `{
  "courses": [
    {"race_id": "sz2023", "path": "data/courses/sz2023.json", "name": "Sierre-Zinal", "year": 2023, "series": "SZ"},
    {"race_id": "ws2025", "path": "data/courses/ws2025.json", "name": "Western States", "year": 2025, "series": "WS"}
  ]
}`

const ws2025Doc = `{
  "meta": {"race_id": "ws2025", "name": "Western States", "year": 2025, "series": "WS"},
  "results": [
    {"rank": 2, "index": "870,25", "runner": "B"},
    {"rank": 1, "index": 905.5, "runner": "A"},
    {"rank": null, "index": 800, "runner": "DNF"}
  ]
}`

const sz2023Doc = `{
  "meta": {"race_id": "sz2023", "name": "Sierre-Zinal", "year": 2023, "series": ["SZ", "GTWS"]},
  "results": [{"rank": 1, "index": 920}]
}`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := writeDataset(t, twoRaceManifest, map[string]string{
		"ws2025.json": ws2025Doc,
		"sz2023.json": sz2023Doc,
	})
	s, err := New(Options{Root: root})
	require.NoError(t, err)
	return s
}

func TestNewLoadsManifest(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, []string{"sz2023", "ws2025"}, s.RaceIDs())
	assert.Equal(t, 0, s.Loaded(), "races load lazily")
}

func TestNewRejectsDuplicateRaceIDs(t *testing.T) {
	manifest := `{"courses": [
	  {"race_id": "ws2025", "path": "a.json"},
	  {"race_id": "ws2025", "path": "b.json"}
	]}`
	root := writeDataset(t, manifest, nil)

	_, err := New(Options{Root: root})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate race_id")
}

func TestNewRejectsEntryWithoutPath(t *testing.T) {
	root := writeDataset(t, `{"courses": [{"race_id": "x", "path": ""}]}`, nil)

	_, err := New(Options{Root: root})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing race_id or path")
}

func TestRaceNormalizesAndCaches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	race, err := s.Race(ctx, "ws2025")
	require.NoError(t, err)

	require.Len(t, race.Results, 2, "null rank row dropped")
	assert.Equal(t, 1, race.Results[0].Rank)
	assert.Equal(t, 905.5, race.Results[0].Score)
	assert.Equal(t, 870.25, race.Results[1].Score, "decimal comma parsed")

	// Rewriting the file does not affect the cached race.
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "data", "courses", "ws2025.json"),
		[]byte(`{"meta":{"race_id":"ws2025"},"results":[]}`), 0o644))
	again, err := s.Race(ctx, "ws2025")
	require.NoError(t, err)
	assert.Len(t, again.Results, 2)
	assert.Equal(t, 1, s.Loaded())
}

func TestRaceUnknownID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Race(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRaceHTTPLocator(t *testing.T) {
	served := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		fmt.Fprint(w, sz2023Doc)
	}))
	defer srv.Close()

	manifest := fmt.Sprintf(`{"courses": [{"race_id": "sz2023", "path": "%s/sz2023.json"}]}`, srv.URL)
	root := writeDataset(t, manifest, nil)
	s, err := New(Options{Root: root})
	require.NoError(t, err)

	race, err := s.Race(context.Background(), "sz2023")
	require.NoError(t, err)
	assert.Equal(t, "Sierre-Zinal", race.Meta.Name)
	assert.Equal(t, domain.SeriesTags{"SZ", "GTWS"}, race.Meta.SeriesTags)

	// Second read is served from the cache.
	_, err = s.Race(context.Background(), "sz2023")
	require.NoError(t, err)
	assert.Equal(t, 1, served)
}

func TestRaceHTTPLocatorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	manifest := fmt.Sprintf(`{"courses": [{"race_id": "sz2023", "path": "%s/x.json"}]}`, srv.URL)
	root := writeDataset(t, manifest, nil)
	s, err := New(Options{Root: root})
	require.NoError(t, err)

	_, err = s.Race(context.Background(), "sz2023")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestStatusReportsCachedRaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range s.RaceIDs() {
		_, err := s.Race(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Loaded())

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "sz2023", statuses[0].RaceID)
	assert.Equal(t, "ws2025", statuses[1].RaceID)
	assert.NotEmpty(t, statuses[0].Digest)
	assert.Equal(t, 1, statuses[1].Dropped)
	assert.False(t, statuses[0].LoadedAt.IsZero())
}

func TestRaceMissingDocument(t *testing.T) {
	manifest := `{"courses": [{"race_id": "missing", "path": "data/courses/missing.json"}]}`
	root := writeDataset(t, manifest, nil)
	s, err := New(Options{Root: root})
	require.NoError(t, err)

	_, err = s.Race(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch race missing")
	assert.Equal(t, 0, s.Loaded(), "failed fetch must not cache")
}

func TestDigestStableForSameContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Race(ctx, "ws2025")
	require.NoError(t, err)
	first, ok := s.Digest("ws2025")
	require.True(t, ok)

	require.NoError(t, s.Reload())
	assert.Equal(t, 0, s.Loaded(), "reload clears the cache")

	_, err = s.Race(ctx, "ws2025")
	require.NoError(t, err)
	second, _ := s.Digest("ws2025")
	assert.Equal(t, first, second)

	_, ok = s.Digest("sz2023")
	assert.False(t, ok, "digest only exists once loaded")
}

func TestSaveRace(t *testing.T) {
	s := newTestStore(t)

	race := domain.Race{
		Meta: domain.RaceMeta{RaceID: "utmb2024", Name: "UTMB", Year: 2024, SeriesTags: domain.SeriesTags{"UTMB"}, Country: "FR"},
		Results: []domain.ResultRecord{
			{Rank: 1, Score: 920, Runner: "A"},
			{Rank: 2, Score: 910, Runner: "B"},
		},
	}

	entry, err := s.SaveRace(race)
	require.NoError(t, err)
	assert.Equal(t, "data/courses/utmb2024.json", entry.Path)
	assert.Equal(t, "UTMB", entry.Series)

	// Immediately readable from the cache.
	got, err := s.Race(context.Background(), "utmb2024")
	require.NoError(t, err)
	assert.Equal(t, race.Results, got.Results)

	// A fresh store sees the persisted manifest and document.
	fresh, err := New(Options{Root: s.root})
	require.NoError(t, err)
	assert.Equal(t, []string{"sz2023", "utmb2024", "ws2025"}, fresh.RaceIDs())
	reloaded, err := fresh.Race(context.Background(), "utmb2024")
	require.NoError(t, err)
	assert.Equal(t, race.Results, reloaded.Results)
}

func TestSaveRaceRejectsPathMeddling(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"", "../evil", "a/b", `a\b`} {
		_, err := s.SaveRace(domain.Race{Meta: domain.RaceMeta{RaceID: id}})
		assert.ErrorIs(t, err, ErrInvalidRaceID, "id %q", id)
	}
}
