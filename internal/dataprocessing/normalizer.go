package dataprocessing

import (
	"sort"
	"strings"

	"trailpulse/pkg/contracts/domain"
)

// NormalizeDocument turns a raw race document into the canonical Race.
// Records whose rank or score do not coerce to a finite number, or whose
// truncated rank is below 1, are dropped rather than reported; the return
// count says how many. Survivors are ordered ascending by rank. Series
// tags collapse to trimmed, non-empty values and the race id falls back to
// defaultID when the document has none.
//
// The function is pure and idempotent: normalizing an already-normalized
// race yields the same race.
func NormalizeDocument(doc domain.RaceDocument, defaultID string) (domain.Race, int) {
	race := domain.Race{Meta: normalizeMeta(doc.Meta, defaultID)}

	dropped := 0
	race.Results = make([]domain.ResultRecord, 0, len(doc.Results))
	for _, raw := range doc.Results {
		if !raw.Rank.Finite() || !raw.Index.Finite() {
			dropped++
			continue
		}
		rank := int(float64(raw.Rank))
		if rank < 1 {
			dropped++
			continue
		}
		race.Results = append(race.Results, domain.ResultRecord{
			Rank:        rank,
			Score:       float64(raw.Index),
			Runner:      strings.TrimSpace(raw.Runner),
			Gender:      strings.TrimSpace(raw.Gender),
			Nationality: strings.TrimSpace(raw.Nationality),
		})
	}

	sort.SliceStable(race.Results, func(i, j int) bool {
		return race.Results[i].Rank < race.Results[j].Rank
	})
	return race, dropped
}

func normalizeMeta(meta domain.RaceMeta, defaultID string) domain.RaceMeta {
	meta.RaceID = strings.TrimSpace(meta.RaceID)
	if meta.RaceID == "" {
		meta.RaceID = defaultID
	}
	meta.Name = strings.TrimSpace(meta.Name)
	if meta.Name == "" {
		meta.Name = meta.RaceID
	}
	meta.SeriesTags = normalizeSeries(meta.SeriesTags)
	return meta
}

// normalizeSeries drops empty tags and trims the rest, preserving order.
func normalizeSeries(tags domain.SeriesTags) domain.SeriesTags {
	if len(tags) == 0 {
		return nil
	}
	out := make(domain.SeriesTags, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
