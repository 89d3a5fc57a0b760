package services

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"trailpulse/internal/store"
	"trailpulse/pkg/contracts/events"
)

// Two races: sz2024 is an all-male field, ws2025 a mixed one, so the
// men/women panels disagree with the overview.
const testManifest = `{
  "courses": [
    {"race_id": "sz2024", "path": "data/courses/sz2024.json", "name": "Sierre-Zinal", "year": 2024, "series": "SZ", "country": "CH"},
    {"race_id": "ws2025", "path": "data/courses/ws2025.json", "name": "Western States 100", "year": 2025, "series": "WS", "country": "US"}
  ]
}`

const sz2024Doc = `{
  "meta": {"race_id": "sz2024", "name": "Sierre-Zinal", "year": 2024, "country": "CH", "series": ["SZ", "GTWS"], "data_source": "ITRA"},
  "results": [
    {"rank": 1, "index": 910, "runner": "Kilian", "gender": "M"},
    {"rank": 2, "index": 902, "runner": "Remi", "gender": "M"},
    {"rank": 3, "index": 884, "runner": "Davide", "gender": "M"},
    {"rank": 4, "index": 870, "runner": "Marco", "gender": "M"},
    {"rank": 5, "index": 861, "runner": "Andreu", "gender": "M"}
  ]
}`

const ws2025Doc = `{
  "meta": {"race_id": "ws2025", "name": "Western States 100", "year": 2025, "country": "US", "series": "WS", "data_source": "ITRA"},
  "results": [
    {"rank": 1, "index": 900, "runner": "Jim", "gender": "M"},
    {"rank": 2, "index": 880, "runner": "Rob", "gender": "M"},
    {"rank": 3, "index": 860, "runner": "Hayden", "gender": "M"},
    {"rank": 4, "index": 845, "runner": "Katie", "gender": "F"},
    {"rank": 5, "index": 820, "runner": "Abby", "gender": "F"},
    {"rank": 6, "index": 800, "runner": "Eszter", "gender": "F"}
  ]
}`

func writeServiceDataset(t *testing.T, manifest string, docs map[string]string) string {
	t.Helper()
	root := t.TempDir()
	coursesDir := filepath.Join(root, "data", "courses")
	require.NoError(t, os.MkdirAll(coursesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "courses_index.json"), []byte(manifest), 0o644))
	for name, body := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(coursesDir, name), []byte(body), 0o644))
	}
	return root
}

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	root := writeServiceDataset(t, testManifest, map[string]string{
		"sz2024.json": sz2024Doc,
		"ws2025.json": ws2025Doc,
	})
	st, err := store.New(store.Options{Root: root})
	require.NoError(t, err)
	return st
}

func emptyStore(t *testing.T) *store.Store {
	t.Helper()
	root := writeServiceDataset(t, `{"courses": []}`, nil)
	st, err := store.New(store.Options{Root: root})
	require.NoError(t, err)
	return st
}

// fakeBroadcaster records every broadcast for assertions.
type fakeBroadcaster struct {
	mu        sync.Mutex
	refreshes []events.PanelRefresh
	statuses  []events.DataStatus
}

func (f *fakeBroadcaster) BroadcastPanelRefresh(refresh events.PanelRefresh) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, refresh)
}

func (f *fakeBroadcaster) BroadcastDataStatus(status events.DataStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeBroadcaster) lastRefresh() (events.PanelRefresh, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.refreshes) == 0 {
		return events.PanelRefresh{}, false
	}
	return f.refreshes[len(f.refreshes)-1], true
}

func (f *fakeBroadcaster) dataStatuses() []events.DataStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.DataStatus, len(f.statuses))
	copy(out, f.statuses)
	return out
}
