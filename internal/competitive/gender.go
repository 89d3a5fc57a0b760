package competitive

import (
	"regexp"
	"strings"

	"trailpulse/pkg/contracts/domain"
)

// Quadratic coefficients of the female score correction. The transform
// maps a female race index onto the male scale for cross-sex comparison.
const (
	femaleCorrectionA = -0.000466
	femaleCorrectionB = 1.532
)

var sexLabels = map[string]domain.Sex{
	"m":     domain.SexMale,
	"men":   domain.SexMale,
	"man":   domain.SexMale,
	"male":  domain.SexMale,
	"homme": domain.SexMale,
	"h":     domain.SexMale,

	"f":      domain.SexFemale,
	"women":  domain.SexFemale,
	"woman":  domain.SexFemale,
	"female": domain.SexFemale,
	"femme":  domain.SexFemale,
	"w":      domain.SexFemale,
}

// Parenthetical or trailing sex markers in race names and ids, English and
// French.
var (
	maleNamePattern   = regexp.MustCompile(`(?i)[(\s_-](men|hommes?)\)?\s*$`)
	femaleNamePattern = regexp.MustCompile(`(?i)[(\s_-](women|femmes?)\)?\s*$`)
)

// NormalizeSexLabel maps a raw per-record label onto the fixed synonym
// table. Unrecognized labels are unknown, never an error.
func NormalizeSexLabel(label string) domain.Sex {
	if sex, ok := sexLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return sex
	}
	return domain.SexUnknown
}

// sexFromText infers a sex from a race name or id marker.
func sexFromText(text string) domain.Sex {
	if femaleNamePattern.MatchString(text) {
		return domain.SexFemale
	}
	if maleNamePattern.MatchString(text) {
		return domain.SexMale
	}
	return domain.SexUnknown
}

// InferRaceSex determines the overall sex of a race's field. Explicit
// record labels win: a field labeled entirely one sex is that sex, a field
// with both labels is unknown (mixed). Unlabeled fields fall back to
// markers in the race name, then the race id.
func InferRaceSex(race *domain.Race) domain.Sex {
	var sawMale, sawFemale bool
	for _, r := range race.Results {
		switch NormalizeSexLabel(r.Gender) {
		case domain.SexMale:
			sawMale = true
		case domain.SexFemale:
			sawFemale = true
		}
	}
	switch {
	case sawMale && sawFemale:
		return domain.SexUnknown
	case sawMale:
		return domain.SexMale
	case sawFemale:
		return domain.SexFemale
	}
	if sex := sexFromText(race.Meta.Name); sex != domain.SexUnknown {
		return sex
	}
	return sexFromText(race.Meta.RaceID)
}

// PanelRecords returns the records a race contributes to a panel filtered
// to the requested sex. A race whose inferred sex conflicts with the
// request is excluded wholesale (excluded=true, no records). A race with
// no inferable sex contributes the records whose own label matches; an
// unfiltered request (SexUnknown or empty) passes the whole field
// through.
func PanelRecords(race *domain.Race, requested domain.Sex) (records []domain.ResultRecord, excluded bool) {
	if requested == "" || requested == domain.SexUnknown {
		return race.Results, false
	}
	inferred := InferRaceSex(race)
	switch inferred {
	case requested:
		return race.Results, false
	case domain.SexUnknown:
		for _, r := range race.Results {
			if NormalizeSexLabel(r.Gender) == requested {
				records = append(records, r)
			}
		}
		return records, false
	default:
		return nil, true
	}
}

// NormalizeFemaleScore applies the fixed quadratic correction to one
// female score.
func NormalizeFemaleScore(score float64) float64 {
	return (femaleCorrectionA*score + femaleCorrectionB) * score
}

// NormalizeFemaleRecords returns a copy of records with every score run
// through the female correction. Stored records are never mutated; the
// correction exists only in normalized comparison contexts.
func NormalizeFemaleRecords(records []domain.ResultRecord) []domain.ResultRecord {
	out := make([]domain.ResultRecord, len(records))
	copy(out, records)
	for i := range out {
		out[i].Score = NormalizeFemaleScore(out[i].Score)
	}
	return out
}
