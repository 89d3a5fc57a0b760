package dataprocessing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"trailpulse/pkg/contracts/domain"
)

// saveWorkbook writes an in-memory workbook to a temp file and returns
// its path.
func saveWorkbook(t *testing.T, f *excelize.File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestReadWorkbook(t *testing.T) {
	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(0), "WS2025")

	require.NoError(t, f.SetSheetRow("WS2025", "A1", &[]interface{}{"Rank", "Runner", "Time", "Race Score", "Cat", "Gender", "Nationality"}))
	require.NoError(t, f.SetSheetRow("WS2025", "A2", &[]interface{}{"2", "Jim W.", "14:13:45", "898", "SM", "M", "USA"}))
	require.NoError(t, f.SetSheetRow("WS2025", "A3", &[]interface{}{"1", "Courtney D.", "15:29:33", "905,5", "SF", "F", "USA"}))
	require.NoError(t, f.SetSheetRow("WS2025", "A4", &[]interface{}{"DNF", "Dropped R.", "", "", "SM", "M", "FRA"}))

	// A sheet without any score column is skipped, not an error.
	_, err := f.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Notes", "A1", &[]interface{}{"Remarks", "Author"}))
	require.NoError(t, f.SetSheetRow("Notes", "A2", &[]interface{}{"weather hot", "jr"}))

	dataset, err := ReadWorkbook(saveWorkbook(t, f))
	require.NoError(t, err)

	assert.Equal(t, []string{"Notes"}, dataset.Skipped)
	assert.Equal(t, map[string]int{"WS2025": 1}, dataset.Dropped, "the DNF row counts as dropped")
	require.Len(t, dataset.Races, 1)

	race := dataset.Races[0]
	assert.Equal(t, "WS2025", race.Meta.RaceID)
	assert.Equal(t, "WS2025", race.Meta.Name)
	assert.Equal(t, 2025, race.Meta.Year)
	assert.Equal(t, domain.SeriesTags{"WS"}, race.Meta.SeriesTags)
	assert.Equal(t, "ITRA", race.Meta.DataSource)

	require.Len(t, race.Results, 2, "the DNF row is dropped")
	assert.Equal(t, domain.ResultRecord{Rank: 1, Score: 905.5, Runner: "Courtney D.", Gender: "F", Nationality: "USA"}, race.Results[0])
	assert.Equal(t, domain.ResultRecord{Rank: 2, Score: 898, Runner: "Jim W.", Gender: "M", Nationality: "USA"}, race.Results[1])
}

func TestReadWorkbookRankColumnFallback(t *testing.T) {
	// Exports often leave the rank column unnamed; the first column is
	// assumed to hold it.
	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(0), "SZ2023")
	require.NoError(t, f.SetSheetRow("SZ2023", "A1", &[]interface{}{"", "Athlete", "UTMB Index"}))
	require.NoError(t, f.SetSheetRow("SZ2023", "A2", &[]interface{}{"1", "Dauwalter C.", "780"}))

	dataset, err := ReadWorkbook(saveWorkbook(t, f))
	require.NoError(t, err)

	require.Len(t, dataset.Races, 1)
	require.Len(t, dataset.Races[0].Results, 1)
	assert.Equal(t, 1, dataset.Races[0].Results[0].Rank)
	assert.Equal(t, 780.0, dataset.Races[0].Results[0].Score)
	assert.Empty(t, dataset.Dropped)
}

func TestReadWorkbookScoreSubstringFallback(t *testing.T) {
	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(0), "UTMB2024")
	require.NoError(t, f.SetSheetRow("UTMB2024", "A1", &[]interface{}{"Pos", "Name", "ITRA Performance Points"}))
	require.NoError(t, f.SetSheetRow("UTMB2024", "A2", &[]interface{}{"1", "Blanchard M.", "912"}))

	dataset, err := ReadWorkbook(saveWorkbook(t, f))
	require.NoError(t, err)

	require.Len(t, dataset.Races, 1)
	assert.Equal(t, 912.0, dataset.Races[0].Results[0].Score)
}

func TestReadWorkbookCapsResults(t *testing.T) {
	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(0), "LEADVILLE2025")
	require.NoError(t, f.SetSheetRow("LEADVILLE2025", "A1", &[]interface{}{"Rank", "Runner", "Score"}))
	for i := 1; i <= maxWorkbookResults+20; i++ {
		cell := "A" + strconv.Itoa(i+1)
		require.NoError(t, f.SetSheetRow("LEADVILLE2025", cell, &[]interface{}{i, "R" + strconv.Itoa(i), 1000 - i}))
	}

	dataset, err := ReadWorkbook(saveWorkbook(t, f))
	require.NoError(t, err)

	require.Len(t, dataset.Races, 1)
	race := dataset.Races[0]
	assert.Len(t, race.Results, maxWorkbookResults)
	assert.Equal(t, 1, race.Results[0].Rank)
	assert.Equal(t, maxWorkbookResults, race.Results[len(race.Results)-1].Rank)
}

func TestSheetMeta(t *testing.T) {
	tests := []struct {
		sheet      string
		wantSeries string
		wantYear   int
	}{
		{sheet: "WS2025", wantSeries: "WS", wantYear: 2025},
		{sheet: "leadville2023", wantSeries: "LEADVILLE", wantYear: 2023},
		{sheet: "Backyard", wantSeries: "BACKYARD", wantYear: 0},
	}

	for _, tt := range tests {
		t.Run(tt.sheet, func(t *testing.T) {
			meta := sheetMeta(tt.sheet)
			assert.Equal(t, tt.sheet, meta.RaceID)
			assert.Equal(t, domain.SeriesTags{tt.wantSeries}, meta.SeriesTags)
			assert.Equal(t, tt.wantYear, meta.Year)
		})
	}
}

func TestWriteDataset(t *testing.T) {
	dataset := &WorkbookDataset{
		Races: []domain.Race{
			{
				Meta: domain.RaceMeta{RaceID: "WS2025", Name: "WS2025", Year: 2025, SeriesTags: domain.SeriesTags{"WS"}, DataSource: "ITRA"},
				Results: []domain.ResultRecord{
					{Rank: 1, Score: 905.5, Runner: "Courtney D."},
					{Rank: 2, Score: 898, Runner: "Jim W."},
				},
			},
			{
				Meta:    domain.RaceMeta{RaceID: "SZ2023", Name: "SZ2023", Year: 2023, SeriesTags: domain.SeriesTags{"SZ"}, DataSource: "ITRA"},
				Results: []domain.ResultRecord{{Rank: 1, Score: 780}},
			},
		},
	}

	outRoot := t.TempDir()
	manifest, err := WriteDataset(dataset, outRoot)
	require.NoError(t, err)

	// Manifest entries are sorted by race id and point at the race files.
	require.Len(t, manifest.Courses, 2)
	assert.Equal(t, "SZ2023", manifest.Courses[0].RaceID)
	assert.Equal(t, "data/courses/SZ2023.json", manifest.Courses[0].Path)
	assert.Equal(t, "WS2025", manifest.Courses[1].RaceID)
	assert.Equal(t, 2025, manifest.Courses[1].Year)
	assert.Equal(t, "WS", manifest.Courses[1].Series)

	// The index on disk decodes back to the same manifest.
	indexRaw, err := os.ReadFile(filepath.Join(outRoot, "data", "courses_index.json"))
	require.NoError(t, err)
	var onDisk domain.Manifest
	require.NoError(t, json.Unmarshal(indexRaw, &onDisk))
	assert.Equal(t, manifest.Courses, onDisk.Courses)

	// Each race file decodes to the canonical document shape.
	raceRaw, err := os.ReadFile(filepath.Join(outRoot, "data", "courses", "WS2025.json"))
	require.NoError(t, err)
	var doc domain.RaceDocument
	require.NoError(t, json.Unmarshal(raceRaw, &doc))
	assert.Equal(t, "WS2025", doc.Meta.RaceID)
	require.Len(t, doc.Results, 2)
	assert.Equal(t, domain.FlexNumber(905.5), doc.Results[0].Index)
}
