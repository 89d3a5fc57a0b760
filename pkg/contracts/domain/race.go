package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Sex is the normalized sex classification of a race or result record.
type Sex string

const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexUnknown Sex = "unknown"
)

// FlexNumber is a float64 that tolerates the numeric cells found in legacy
// race documents: JSON numbers, numeric strings with decimal comma or
// embedded spaces, or null. Unparseable values decode as NaN so the
// normalizer can drop the record instead of failing the whole document.
type FlexNumber float64

// Finite reports whether the value is a usable number.
func (f FlexNumber) Finite() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// UnmarshalJSON accepts numbers, numeric strings, and null.
func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = FlexNumber(math.NaN())
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			*f = FlexNumber(math.NaN())
			return nil
		}
		*f = ParseFlexNumber(raw)
		return nil
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		*f = FlexNumber(math.NaN())
		return nil
	}
	*f = FlexNumber(v)
	return nil
}

// MarshalJSON emits null for non-finite values.
func (f FlexNumber) MarshalJSON() ([]byte, error) {
	if !f.Finite() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

// ParseFlexNumber parses a numeric cell the way the legacy exports wrote
// them: surrounding whitespace and thousands spaces stripped, decimal
// comma accepted as a decimal point. Returns NaN when the cell is not a
// number.
func ParseFlexNumber(s string) FlexNumber {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return FlexNumber(math.NaN())
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return FlexNumber(math.NaN())
	}
	return FlexNumber(v)
}

// SeriesTags is the ordered list of series labels attached to a race.
// Legacy documents store either a single string or an array; both decode
// to a slice, and the canonical wire form is always an array.
type SeriesTags []string

// UnmarshalJSON coerces a scalar series value into a one-element list.
func (s *SeriesTags) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*s = nil
		return nil
	}
	if trimmed[0] == '[' {
		var tags []string
		if err := json.Unmarshal(trimmed, &tags); err != nil {
			return err
		}
		*s = tags
		return nil
	}
	var one string
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	if one == "" {
		*s = nil
		return nil
	}
	*s = SeriesTags{one}
	return nil
}

// Contains reports whether tag is present.
func (s SeriesTags) Contains(tag string) bool {
	for _, t := range s {
		if t == tag {
			return true
		}
	}
	return false
}

// RaceMeta is the descriptive metadata block of a race document. Country
// holds an ISO-style country code. Optional numeric fields use zero as
// absent and are omitted from the wire.
type RaceMeta struct {
	RaceID     string     `json:"race_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Year       int        `json:"year,omitempty"`
	Country    string     `json:"country,omitempty"`
	SeriesTags SeriesTags `json:"series,omitempty"`
	DataSource string     `json:"data_source,omitempty"`
	DistanceKm float64    `json:"distance_km,omitempty"`
	ElevationM float64    `json:"elevation_m,omitempty"`
	PrizeMoney float64    `json:"prize_money,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	SourceURL  string     `json:"source_url,omitempty" validate:"omitempty,url"`
}

// RawResult is one finisher row as found on the wire, before
// normalization. Index is the race score; the name is kept for wire
// compatibility with existing documents.
type RawResult struct {
	Rank        FlexNumber `json:"rank"`
	Index       FlexNumber `json:"index"`
	Runner      string     `json:"runner,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	Nationality string     `json:"nationality,omitempty"`
}

// ResultRecord is one canonical finisher: finite rank and score plus
// optional descriptive fields. Immutable once normalized.
type ResultRecord struct {
	Rank        int     `json:"rank" validate:"min=1"`
	Score       float64 `json:"index"`
	Runner      string  `json:"runner,omitempty"`
	Gender      string  `json:"gender,omitempty"`
	Nationality string  `json:"nationality,omitempty"`
}

// RaceDocument is a race as stored on disk or fetched over HTTP: raw
// metadata plus raw result rows.
type RaceDocument struct {
	Meta    RaceMeta    `json:"meta"`
	Results []RawResult `json:"results"`
}

// Race is the canonical, normalized form of a race document: results hold
// finite rank/score pairs only and are ordered ascending by rank.
type Race struct {
	Meta    RaceMeta       `json:"meta"`
	Results []ResultRecord `json:"results"`
}

// ID returns the race identifier.
func (r *Race) ID() string {
	return r.Meta.RaceID
}

// SeriesLabel returns the first series tag, falling back to the race id
// for races without one.
func (r *Race) SeriesLabel() string {
	if len(r.Meta.SeriesTags) > 0 {
		return r.Meta.SeriesTags[0]
	}
	return r.Meta.RaceID
}

// Document converts the race back to its wire form.
func (r *Race) Document() RaceDocument {
	doc := RaceDocument{Meta: r.Meta, Results: make([]RawResult, 0, len(r.Results))}
	for _, rec := range r.Results {
		doc.Results = append(doc.Results, RawResult{
			Rank:        FlexNumber(rec.Rank),
			Index:       FlexNumber(rec.Score),
			Runner:      rec.Runner,
			Gender:      rec.Gender,
			Nationality: rec.Nationality,
		})
	}
	return doc
}

// ManifestEntry points at one race document and carries the denormalized
// metadata the index file stores alongside the locator.
type ManifestEntry struct {
	RaceID     string `json:"race_id" validate:"required"`
	Path       string `json:"path" validate:"required"`
	Name       string `json:"name,omitempty"`
	Year       int    `json:"year,omitempty"`
	Series     string `json:"series,omitempty"`
	Country    string `json:"country,omitempty"`
	DataSource string `json:"data_source,omitempty"`
}

// Manifest is the index document listing every known race.
type Manifest struct {
	Courses []ManifestEntry `json:"courses"`
}

// Entry returns the manifest entry for raceID.
func (m *Manifest) Entry(raceID string) (ManifestEntry, bool) {
	for _, e := range m.Courses {
		if e.RaceID == raceID {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// RaceIDs returns the ids of all listed races in manifest order.
func (m *Manifest) RaceIDs() []string {
	ids := make([]string, 0, len(m.Courses))
	for _, e := range m.Courses {
		ids = append(ids, e.RaceID)
	}
	return ids
}

// Upsert inserts or replaces the entry with the same race id and keeps the
// list sorted by race id.
func (m *Manifest) Upsert(entry ManifestEntry) {
	for i, e := range m.Courses {
		if e.RaceID == entry.RaceID {
			m.Courses[i] = entry
			m.sortByID()
			return
		}
	}
	m.Courses = append(m.Courses, entry)
	m.sortByID()
}

func (m *Manifest) sortByID() {
	sort.Slice(m.Courses, func(i, j int) bool {
		return m.Courses[i].RaceID < m.Courses[j].RaceID
	})
}

// RaceFilter restricts a race set by metadata. An empty Country matches
// every race; an empty Series list matches every race, otherwise a race
// matches when any selected tag is among its series tags.
type RaceFilter struct {
	Country string   `json:"country,omitempty"`
	Series  []string `json:"series,omitempty"`
}

// Matches applies the filter to one race's metadata.
func (f RaceFilter) Matches(meta RaceMeta) bool {
	if f.Country != "" && meta.Country != f.Country {
		return false
	}
	if len(f.Series) == 0 {
		return true
	}
	for _, tag := range f.Series {
		if meta.SeriesTags.Contains(tag) {
			return true
		}
	}
	return false
}
