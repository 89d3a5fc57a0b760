package dataprocessing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"trailpulse/pkg/contracts/domain"
)

// ErrNoValidRows is returned when a pasted table produced zero usable
// result rows. Individual bad rows are skipped silently and only counted;
// this error is the aggregate failure for a table with nothing left.
var ErrNoValidRows = errors.New("no valid result rows")

// ParseResult is the outcome of a successful paste parse: the canonical
// records plus how many input rows were skipped on the way.
type ParseResult struct {
	Records   []domain.ResultRecord `json:"records"`
	Skipped   int                   `json:"skipped"`
	Delimiter string                `json:"delimiter"`
	HeaderRow bool                  `json:"header_row"`
}

// Positional defaults used when a column role is not named by a header.
// Index 2 and 4 were time/category columns in the exports this layout
// comes from.
const (
	posRank        = 0
	posRunner      = 1
	posScore       = 3
	posGender      = 5
	posNationality = 6
)

// columnMap resolves column indexes per role. fromHeader records whether
// the score column was named explicitly; when it was not, the score falls
// back to the right-to-left numeric scan.
type columnMap struct {
	rank, runner, score, gender, nationality int
	scoreFromHeader                          bool
}

func positionalColumns() columnMap {
	return columnMap{
		rank:        posRank,
		runner:      posRunner,
		score:       posScore,
		gender:      posGender,
		nationality: posNationality,
	}
}

// headerVocab maps normalized header cells to column roles.
var headerVocab = map[string]string{
	"rank":     "rank",
	"position": "rank",
	"pos":      "rank",
	"place":    "rank",

	"runner":  "runner",
	"name":    "runner",
	"athlete": "runner",

	"race_score": "score",
	"score":      "score",
	"index":      "score",
	"itra_score": "score",
	"utmb_index": "score",

	"gender": "gender",
	"sex":    "gender",

	"nationality": "nationality",
	"country":     "nationality",
	"nation":      "nationality",
	"nat":         "nationality",
}

// ParseResultTable converts an arbitrary pasted block of delimited text
// into canonical result records. The delimiter is sniffed from the first
// non-blank line, a header row is detected against a fixed vocabulary,
// and rows that fail rank/score validation are skipped silently. Output
// is ordered ascending by rank.
func ParseResultTable(text string) (*ParseResult, error) {
	lines := splitRows(text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("parse result table: %w", ErrNoValidRows)
	}

	delimiter := detectDelimiter(lines[0])
	firstRow := splitCells(lines[0], delimiter)

	// A recognized header names the layout; otherwise every line is data
	// and the fixed positional layout applies.
	columns, headerDetected := headerColumns(firstRow)
	if !headerDetected {
		columns = positionalColumns()
	}

	dataLines := lines
	if headerDetected {
		dataLines = lines[1:]
	}

	result := &ParseResult{
		Delimiter: string(delimiter),
		HeaderRow: headerDetected,
	}
	for _, line := range dataLines {
		cells := splitCells(line, delimiter)
		record, ok := parseRow(cells, columns)
		if !ok {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, record)
	}

	if len(result.Records) == 0 {
		return nil, fmt.Errorf("parse result table: %d rows skipped: %w", result.Skipped, ErrNoValidRows)
	}

	sort.SliceStable(result.Records, func(i, j int) bool {
		return result.Records[i].Rank < result.Records[j].Rank
	})
	return result, nil
}

// detectDelimiter counts candidate delimiters in the first non-blank
// line. Tab wins when at least as frequent as both others, semicolon when
// it beats comma, comma otherwise.
func detectDelimiter(line string) rune {
	tabs := strings.Count(line, "\t")
	commas := strings.Count(line, ",")
	semis := strings.Count(line, ";")

	switch {
	case tabs >= commas && tabs >= semis && tabs > 0:
		return '\t'
	case semis > commas && semis > 0:
		return ';'
	default:
		return ','
	}
}

// headerColumns matches the first row against the header vocabulary.
// Roles the header does not name keep their positional defaults.
func headerColumns(cells []string) (columnMap, bool) {
	columns := positionalColumns()
	matched := false
	seen := make(map[string]bool)
	for i, cell := range cells {
		role, ok := headerVocab[normalizeHeaderCell(cell)]
		if !ok || seen[role] {
			continue
		}
		seen[role] = true
		matched = true
		switch role {
		case "rank":
			columns.rank = i
		case "runner":
			columns.runner = i
		case "score":
			columns.score = i
			columns.scoreFromHeader = true
		case "gender":
			columns.gender = i
		case "nationality":
			columns.nationality = i
		}
	}
	return columns, matched
}

// normalizeHeaderCell lowercases a header cell and collapses every run of
// non-alphanumeric characters into a single underscore, so "Race Score",
// "race-score", and "RACE  SCORE" all read as "race_score".
func normalizeHeaderCell(cell string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(cell)) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// parseRow validates one data row. Rank must truncate to an integer of at
// least 1 and the score must be finite; anything else invalidates the row.
func parseRow(cells []string, columns columnMap) (domain.ResultRecord, bool) {
	rankVal := domain.ParseFlexNumber(cellAt(cells, columns.rank))
	if !rankVal.Finite() {
		return domain.ResultRecord{}, false
	}
	rank := int(float64(rankVal))
	if rank < 1 {
		return domain.ResultRecord{}, false
	}

	var score domain.FlexNumber
	if columns.scoreFromHeader {
		score = domain.ParseFlexNumber(cellAt(cells, columns.score))
	} else {
		score = scanScore(cells, columns.rank)
	}
	if !score.Finite() {
		return domain.ResultRecord{}, false
	}

	return domain.ResultRecord{
		Rank:        rank,
		Score:       float64(score),
		Runner:      strings.TrimSpace(cellAt(cells, columns.runner)),
		Gender:      strings.TrimSpace(cellAt(cells, columns.gender)),
		Nationality: strings.TrimSpace(cellAt(cells, columns.nationality)),
	}, true
}

// scanScore walks a row right-to-left and takes the last cell that parses
// as a finite number and carries no colon, skipping time-of-day and
// duration cells. The rank cell itself never counts as a score.
func scanScore(cells []string, rankIndex int) domain.FlexNumber {
	for i := len(cells) - 1; i >= 0; i-- {
		if i == rankIndex {
			continue
		}
		cell := strings.TrimSpace(cells[i])
		if cell == "" || strings.Contains(cell, ":") {
			continue
		}
		if v := domain.ParseFlexNumber(cell); v.Finite() {
			return v
		}
	}
	return domain.ParseFlexNumber("")
}

func cellAt(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

func splitRows(text string) []string {
	var rows []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}
	return rows
}

func splitCells(line string, delimiter rune) []string {
	return strings.Split(line, string(delimiter))
}
