package competitive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailpulse/pkg/contracts/domain"
)

// TestNormalizeSexLabel tests the fixed synonym table.
func TestNormalizeSexLabel(t *testing.T) {
	tests := []struct {
		label string
		want  domain.Sex
	}{
		{label: "m", want: domain.SexMale},
		{label: "men", want: domain.SexMale},
		{label: "man", want: domain.SexMale},
		{label: "male", want: domain.SexMale},
		{label: "homme", want: domain.SexMale},
		{label: "h", want: domain.SexMale},
		{label: "M", want: domain.SexMale},
		{label: " Male ", want: domain.SexMale},
		{label: "f", want: domain.SexFemale},
		{label: "women", want: domain.SexFemale},
		{label: "woman", want: domain.SexFemale},
		{label: "female", want: domain.SexFemale},
		{label: "femme", want: domain.SexFemale},
		{label: "w", want: domain.SexFemale},
		{label: "F", want: domain.SexFemale},
		{label: "", want: domain.SexUnknown},
		{label: "mixed", want: domain.SexUnknown},
		{label: "x", want: domain.SexUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSexLabel(tt.label), "label=%q", tt.label)
	}
}

func raceWithResults(id, name string, results ...domain.ResultRecord) *domain.Race {
	return &domain.Race{
		Meta:    domain.RaceMeta{RaceID: id, Name: name},
		Results: results,
	}
}

// TestInferRaceSex tests label-first inference with name fallback.
func TestInferRaceSex(t *testing.T) {
	tests := []struct {
		name string
		race *domain.Race
		want domain.Sex
	}{
		{
			name: "all male labels",
			race: raceWithResults("r1", "Anything",
				domain.ResultRecord{Rank: 1, Score: 900, Gender: "M"},
				domain.ResultRecord{Rank: 2, Score: 880, Gender: "male"}),
			want: domain.SexMale,
		},
		{
			name: "all female labels",
			race: raceWithResults("r2", "Anything",
				domain.ResultRecord{Rank: 1, Score: 900, Gender: "F"}),
			want: domain.SexFemale,
		},
		{
			name: "mixed labels stay unknown",
			race: raceWithResults("r3", "Anything",
				domain.ResultRecord{Rank: 1, Score: 900, Gender: "m"},
				domain.ResultRecord{Rank: 2, Score: 880, Gender: "f"}),
			want: domain.SexUnknown,
		},
		{
			name: "parenthetical name marker",
			race: raceWithResults("r4", "UTMB 2024 (Women)",
				domain.ResultRecord{Rank: 1, Score: 900}),
			want: domain.SexFemale,
		},
		{
			name: "trailing name marker",
			race: raceWithResults("r5", "Diagonale des Fous Hommes",
				domain.ResultRecord{Rank: 1, Score: 900}),
			want: domain.SexMale,
		},
		{
			name: "french feminine marker",
			race: raceWithResults("r6", "SaintéLyon (Femmes)",
				domain.ResultRecord{Rank: 1, Score: 900}),
			want: domain.SexFemale,
		},
		{
			name: "id marker when name is silent",
			race: raceWithResults("WS2025_Women", "Western States",
				domain.ResultRecord{Rank: 1, Score: 900}),
			want: domain.SexFemale,
		},
		{
			name: "women marker does not read as men",
			race: raceWithResults("r7", "Hardrock (Women)",
				domain.ResultRecord{Rank: 1, Score: 900}),
			want: domain.SexFemale,
		},
		{
			name: "no signal",
			race: raceWithResults("WS2025", "Western States",
				domain.ResultRecord{Rank: 1, Score: 900}),
			want: domain.SexUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferRaceSex(tt.race))
		})
	}
}

// TestPanelRecords tests race-level exclusion and record-level filtering.
func TestPanelRecords(t *testing.T) {
	t.Run("conflicting race is excluded wholesale", func(t *testing.T) {
		race := raceWithResults("r1", "UTMB (Men)",
			domain.ResultRecord{Rank: 1, Score: 900})
		recs, excluded := PanelRecords(race, domain.SexFemale)
		assert.True(t, excluded)
		assert.Empty(t, recs)
	})

	t.Run("matching race contributes whole field", func(t *testing.T) {
		race := raceWithResults("r2", "UTMB (Men)",
			domain.ResultRecord{Rank: 1, Score: 900},
			domain.ResultRecord{Rank: 2, Score: 880})
		recs, excluded := PanelRecords(race, domain.SexMale)
		assert.False(t, excluded)
		assert.Len(t, recs, 2)
	})

	t.Run("mixed race filters by record label", func(t *testing.T) {
		race := raceWithResults("r3", "Open Field",
			domain.ResultRecord{Rank: 1, Score: 900, Gender: "m"},
			domain.ResultRecord{Rank: 2, Score: 880, Gender: "f"},
			domain.ResultRecord{Rank: 3, Score: 860})
		recs, excluded := PanelRecords(race, domain.SexFemale)
		require.False(t, excluded)
		require.Len(t, recs, 1)
		assert.Equal(t, 2, recs[0].Rank)
	})

	t.Run("unfiltered request passes everything", func(t *testing.T) {
		race := raceWithResults("r4", "Open Field",
			domain.ResultRecord{Rank: 1, Score: 900, Gender: "m"},
			domain.ResultRecord{Rank: 2, Score: 880, Gender: "f"})
		recs, excluded := PanelRecords(race, "")
		assert.False(t, excluded)
		assert.Len(t, recs, 2)
	})
}

// TestNormalizeFemaleScore tests the fixed quadratic correction.
func TestNormalizeFemaleScore(t *testing.T) {
	want := ((-0.000466 * 800.0) + 1.532) * 800.0
	assert.InDelta(t, want, NormalizeFemaleScore(800), 1e-12)
	assert.InDelta(t, 927.36, NormalizeFemaleScore(800), 1e-6)
	assert.Zero(t, NormalizeFemaleScore(0))
}

// TestNormalizeFemaleRecords tests copy-on-write semantics.
func TestNormalizeFemaleRecords(t *testing.T) {
	original := []domain.ResultRecord{
		{Rank: 1, Score: 800, Runner: "A"},
		{Rank: 2, Score: 700, Runner: "B"},
	}
	corrected := NormalizeFemaleRecords(original)

	require.Len(t, corrected, 2)
	assert.InDelta(t, NormalizeFemaleScore(800), corrected[0].Score, 1e-12)
	assert.Equal(t, "A", corrected[0].Runner)

	// stored records stay untouched
	assert.InDelta(t, 800, original[0].Score, 1e-12)
	assert.InDelta(t, 700, original[1].Score, 1e-12)
}
