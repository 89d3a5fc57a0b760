package dataprocessing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"trailpulse/pkg/contracts/domain"
)

// Workbook sheets are capped so a single mass-participation export cannot
// dominate the dataset. The exports this reader targets come from ITRA
// score tables.
const (
	maxWorkbookResults = 300
	workbookDataSource = "ITRA"
)

// Sheet names encode a series code and an edition year, e.g. "WS2025" or
// "LEADVILLE2023".
var sheetNameRe = regexp.MustCompile(`^([A-Za-z]+)(\d{4})`)

// WorkbookDataset holds the races extracted from one workbook, the
// sheets that had to be skipped for lacking a score column, and per
// race the number of rows dropped during normalization.
type WorkbookDataset struct {
	Races   []domain.Race
	Skipped []string
	Dropped map[string]int
}

// ReadWorkbook extracts one race per sheet from an Excel results export.
// Sheets without a recognizable score column are recorded in Skipped
// rather than failing the whole workbook.
func ReadWorkbook(path string) (*WorkbookDataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	dataset := &WorkbookDataset{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		race, dropped, ok := buildSheetRace(sheet, rows)
		if !ok {
			dataset.Skipped = append(dataset.Skipped, sheet)
			continue
		}
		if dropped > 0 {
			if dataset.Dropped == nil {
				dataset.Dropped = make(map[string]int)
			}
			dataset.Dropped[race.ID()] = dropped
		}
		dataset.Races = append(dataset.Races, race)
	}
	return dataset, nil
}

// workbookLayout is the per-sheet column resolution. Roles without a
// matching header hold -1, except rank which falls back to the first
// column the way exported tables place it.
type workbookLayout struct {
	rank, runner, score, gender, nationality int
}

func resolveWorkbookLayout(header []string) (workbookLayout, bool) {
	layout := workbookLayout{rank: 0, runner: -1, score: -1, gender: -1, nationality: -1}
	for i, cell := range header {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "rank", "#", "pos", "place":
			layout.rank = i
		case "runner", "athlete", "name":
			if layout.runner < 0 {
				layout.runner = i
			}
		case "race score", "score", "index", "utmb index", "itra score":
			if layout.score < 0 {
				layout.score = i
			}
		case "gender", "sex":
			if layout.gender < 0 {
				layout.gender = i
			}
		case "nationality", "nation", "nat", "country":
			if layout.nationality < 0 {
				layout.nationality = i
			}
		}
	}

	// Vendor exports rename columns freely; a substring match catches
	// variants like "UTMB Index 2023" or "Runner Name".
	if layout.score < 0 {
		for i, cell := range header {
			lower := strings.ToLower(strings.TrimSpace(cell))
			if strings.Contains(lower, "race score") || strings.Contains(lower, "utmb") || strings.Contains(lower, "itra") {
				layout.score = i
				break
			}
		}
	}
	if layout.runner < 0 {
		for i, cell := range header {
			lower := strings.ToLower(strings.TrimSpace(cell))
			if strings.Contains(lower, "runner") || strings.Contains(lower, "athlete") || strings.Contains(lower, "name") {
				layout.runner = i
				break
			}
		}
	}

	return layout, layout.score >= 0
}

func buildSheetRace(sheet string, rows [][]string) (domain.Race, int, bool) {
	if len(rows) < 2 {
		return domain.Race{}, 0, false
	}
	layout, ok := resolveWorkbookLayout(rows[0])
	if !ok {
		return domain.Race{}, 0, false
	}

	doc := domain.RaceDocument{Meta: sheetMeta(sheet)}
	for _, row := range rows[1:] {
		doc.Results = append(doc.Results, domain.RawResult{
			Rank:        domain.ParseFlexNumber(cellAt(row, layout.rank)),
			Index:       domain.ParseFlexNumber(cellAt(row, layout.score)),
			Runner:      cellAt(row, layout.runner),
			Gender:      cellAt(row, layout.gender),
			Nationality: cellAt(row, layout.nationality),
		})
	}

	race, dropped := NormalizeDocument(doc, sheet)
	if len(race.Results) > maxWorkbookResults {
		race.Results = race.Results[:maxWorkbookResults]
	}
	return race, dropped, true
}

// sheetMeta derives race metadata from the sheet name. The letter prefix
// becomes the series code and the four-digit suffix the edition year;
// names outside that shape keep the whole sheet name as series code.
func sheetMeta(sheet string) domain.RaceMeta {
	meta := domain.RaceMeta{
		RaceID:     sheet,
		Name:       sheet,
		DataSource: workbookDataSource,
	}
	if m := sheetNameRe.FindStringSubmatch(sheet); m != nil {
		meta.SeriesTags = domain.SeriesTags{strings.ToUpper(m[1])}
		if year, err := strconv.Atoi(m[2]); err == nil {
			meta.Year = year
		}
	} else {
		meta.SeriesTags = domain.SeriesTags{strings.ToUpper(sheet)}
	}
	return meta
}

// WriteDataset lays the extracted races out as the on-disk dataset the
// server loads: data/courses/<race_id>.json per race and a
// data/courses_index.json manifest pointing at them. Returns the written
// manifest.
func WriteDataset(dataset *WorkbookDataset, outRoot string) (*domain.Manifest, error) {
	coursesDir := filepath.Join(outRoot, "data", "courses")
	if err := os.MkdirAll(coursesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create courses dir: %w", err)
	}

	manifest := &domain.Manifest{}
	for i := range dataset.Races {
		race := &dataset.Races[i]
		payload, err := json.MarshalIndent(race, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode race %s: %w", race.ID(), err)
		}
		name := race.ID() + ".json"
		if err := os.WriteFile(filepath.Join(coursesDir, name), payload, 0o644); err != nil {
			return nil, fmt.Errorf("write race %s: %w", race.ID(), err)
		}
		manifest.Upsert(domain.ManifestEntry{
			RaceID:     race.ID(),
			Path:       filepath.ToSlash(filepath.Join("data", "courses", name)),
			Name:       race.Meta.Name,
			Year:       race.Meta.Year,
			Series:     race.SeriesLabel(),
			Country:    race.Meta.Country,
			DataSource: race.Meta.DataSource,
		})
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	indexPath := filepath.Join(outRoot, "data", "courses_index.json")
	if err := os.WriteFile(indexPath, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}
