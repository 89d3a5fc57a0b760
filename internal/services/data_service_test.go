package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailpulse/internal/store"
)

func TestRacesListing(t *testing.T) {
	svc := NewDataService(seedStore(t), nil)
	ctx := context.Background()

	summaries := svc.Races(ctx)
	require.Len(t, summaries, 2)
	assert.Equal(t, "sz2024", summaries[0].RaceID)
	assert.False(t, summaries[0].Loaded)
	assert.Empty(t, summaries[0].Digest)

	_, err := svc.Preload(ctx, nil)
	require.NoError(t, err)

	summaries = svc.Races(ctx)
	require.Len(t, summaries, 2)
	for _, s := range summaries {
		assert.True(t, s.Loaded, s.RaceID)
		assert.NotEmpty(t, s.Digest, s.RaceID)
	}
	assert.Equal(t, 5, summaries[0].Results)
	assert.Equal(t, 6, summaries[1].Results)
}

func TestRaceLoadsDocument(t *testing.T) {
	svc := NewDataService(seedStore(t), nil)

	race, err := svc.Race(context.Background(), "ws2025")
	require.NoError(t, err)
	assert.Equal(t, "Western States 100", race.Meta.Name)
	assert.Len(t, race.Results, 6)
}

func TestRaceNotFound(t *testing.T) {
	svc := NewDataService(seedStore(t), nil)

	_, err := svc.Race(context.Background(), "utmb2019")
	assert.ErrorIs(t, err, ErrRaceNotFound)
}

func TestPreloadReportsFailuresPerRace(t *testing.T) {
	manifest := `{
  "courses": [
    {"race_id": "ghost2020", "path": "data/courses/ghost2020.json"},
    {"race_id": "sz2024", "path": "data/courses/sz2024.json"},
    {"race_id": "ws2025", "path": "data/courses/ws2025.json"}
  ]
}`
	root := writeServiceDataset(t, manifest, map[string]string{
		"sz2024.json": sz2024Doc,
		"ws2025.json": ws2025Doc,
	})
	st, err := store.New(store.Options{Root: root})
	require.NoError(t, err)
	svc := NewDataService(st, nil)
	broadcaster := &fakeBroadcaster{}
	svc.SetBroadcaster(broadcaster)

	report, err := svc.Preload(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 2, report.Loaded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "ghost2020", report.Failed[0].RaceID)
	assert.NotEmpty(t, report.Failed[0].Error)

	states := make(map[string]string)
	for _, status := range broadcaster.dataStatuses() {
		states[status.RaceID] = status.State
	}
	assert.Equal(t, "failed", states["ghost2020"])
	assert.Equal(t, "cached", states["sz2024"])
	assert.Equal(t, "cached", states["ws2025"])
}

func TestPreloadSubset(t *testing.T) {
	svc := NewDataService(seedStore(t), nil)

	report, err := svc.Preload(context.Background(), []string{"ws2025"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requested)
	assert.Equal(t, 1, report.Loaded)
	assert.Empty(t, report.Failed)
}

func TestDataHealth(t *testing.T) {
	t.Run("ok with races", func(t *testing.T) {
		svc := NewDataService(seedStore(t), nil)
		ctx := context.Background()
		_, err := svc.Preload(ctx, nil)
		require.NoError(t, err)

		health := svc.Health(ctx)
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, 2, health.RaceCount)
		assert.Equal(t, 2, health.LoadedCount)
		assert.Len(t, health.Races, 2)
		assert.False(t, health.CheckedAt.IsZero())
	})

	t.Run("degraded when manifest is empty", func(t *testing.T) {
		svc := NewDataService(emptyStore(t), nil)
		health := svc.Health(context.Background())
		assert.Equal(t, "degraded", health.Status)
		assert.Zero(t, health.RaceCount)
	})
}

func TestReloadDropsCache(t *testing.T) {
	svc := NewDataService(seedStore(t), nil)
	ctx := context.Background()

	_, err := svc.Preload(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 2, svc.Health(ctx).LoadedCount)

	require.NoError(t, svc.Reload(ctx))
	assert.Zero(t, svc.Health(ctx).LoadedCount)
	assert.Equal(t, 2, svc.Health(ctx).RaceCount)
}
