// Package integrate merges batch research results back onto the rows of the
// input table they came from.
package integrate

import (
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/normalize"
	"github.com/sells-group/contact-research/internal/tabular"
)

// Research columns appended to the input header.
const (
	ColPhone           = "research_phone"
	ColEmail           = "research_email"
	ColWebsite         = "research_website"
	ColAddress         = "research_address"
	ColDescription     = "research_description"
	ColConfidence      = "research_confidence"
	ColDate            = "research_date"
	ColStatus          = "research_status"
	ColMatchConfidence = "research_match_confidence"
)

// Columns lists the research columns in output order.
var Columns = []string{
	ColPhone, ColEmail, ColWebsite, ColAddress, ColDescription,
	ColConfidence, ColDate, ColStatus, ColMatchConfidence,
}

// Cell values written when there is nothing to report.
const (
	NotResearched = "Not researched"
	NotFound      = "Not found"
)

// DefaultThreshold is the minimum similarity ratio for a fuzzy match.
const DefaultThreshold = 0.8

// Strategy selects how input rows are matched to results.
type Strategy string

const (
	// StrategyExact matches on the normalized name only.
	StrategyExact Strategy = "exact"
	// StrategyFuzzy falls back to the most similar researched name when no
	// exact match exists.
	StrategyFuzzy Strategy = "fuzzy"
)

// ParseStrategy maps a flag value to a Strategy. Empty means fuzzy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyFuzzy:
		return StrategyFuzzy, nil
	case StrategyExact:
		return StrategyExact, nil
	default:
		return "", eris.Errorf("integrate: unknown match strategy %q", s)
	}
}

// Options configures Integrate.
type Options struct {
	NameColumn string
	Strategy   Strategy
	Threshold  float64 // fuzzy only; <= 0 uses DefaultThreshold
}

// Summary reports how much of the input the results covered.
type Summary struct {
	TotalRows      int     `json:"total_rows"`
	ResearchedRows int     `json:"researched_rows"`
	ExactMatches   int     `json:"exact_matches"`
	FuzzyMatches   int     `json:"fuzzy_matches"`
	EmailsFound    int     `json:"emails_found"`
	PhonesFound    int     `json:"phones_found"`
	Coverage       float64 `json:"coverage_pct"`
}

// Integrate returns a copy of table with the research columns filled from
// results. Every input column and row is kept. Rows with no matching result
// read NotResearched in every research column.
func Integrate(table *tabular.Table, results []model.ResultRecord, opts Options) (*tabular.Table, Summary, error) {
	if table == nil {
		return nil, Summary{}, eris.New("integrate: nil table")
	}
	if !table.HasColumn(opts.NameColumn) {
		return nil, Summary{}, eris.Errorf("integrate: name column %q not found", opts.NameColumn)
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	idx := newIndex(results)
	out := &tabular.Table{Header: header(table.Header), Rows: make([]tabular.Row, 0, len(table.Rows))}
	sum := Summary{TotalRows: len(table.Rows)}

	for _, in := range table.Rows {
		row := make(tabular.Row, len(out.Header))
		for k, v := range in {
			row[k] = v
		}
		for _, col := range Columns {
			row[col] = NotResearched
		}

		key := normalize.Name(in[opts.NameColumn])
		res, ratio, ok := idx.exact(key)
		if ok {
			sum.ExactMatches++
		} else if opts.Strategy != StrategyExact {
			if res, ratio, ok = idx.fuzzy(key, threshold); ok {
				sum.FuzzyMatches++
			}
		}
		if ok {
			fill(row, res, ratio)
			sum.ResearchedRows++
			if found(row[ColEmail]) {
				sum.EmailsFound++
			}
			if found(row[ColPhone]) {
				sum.PhonesFound++
			}
		}
		out.Rows = append(out.Rows, row)
	}

	if sum.TotalRows > 0 {
		sum.Coverage = float64(sum.ResearchedRows) * 100 / float64(sum.TotalRows)
	}
	return out, sum, nil
}

// header appends the research columns that are not already present, so a
// previously integrated file can be integrated again.
func header(in []string) []string {
	out := append([]string(nil), in...)
	have := make(map[string]bool, len(in))
	for _, h := range in {
		have[h] = true
	}
	for _, col := range Columns {
		if !have[col] {
			out = append(out, col)
		}
	}
	return out
}

func fill(row tabular.Row, r model.ResultRecord, ratio float64) {
	row[ColStatus] = string(r.Status)
	row[ColMatchConfidence] = strconv.FormatFloat(ratio, 'f', 2, 64)
	row[ColConfidence] = ""
	if r.MatchConfidence != nil {
		row[ColConfidence] = strconv.FormatFloat(*r.MatchConfidence, 'f', -1, 64)
	}
	row[ColDate] = ""
	if r.Timestamp != nil {
		row[ColDate] = r.Timestamp.Format("2006-01-02 15:04:05")
	}

	// A skipped name carries only its cached status; its contact details
	// live in the session that researched it.
	if r.Decision == model.DecisionSkip {
		for _, col := range []string{ColPhone, ColEmail, ColWebsite, ColAddress, ColDescription} {
			row[col] = ""
		}
		return
	}
	row[ColPhone] = orNotFound(r.Contact.Phone)
	row[ColEmail] = orNotFound(r.Contact.Email)
	row[ColWebsite] = orNotFound(r.Contact.Website)
	row[ColAddress] = orNotFound(r.Contact.Address)
	row[ColDescription] = orNotFound(r.Contact.Description)
}

func orNotFound(v string) string {
	if strings.TrimSpace(v) == "" {
		return NotFound
	}
	return v
}

func found(v string) bool {
	return v != "" && v != NotFound && v != NotResearched
}

// index holds the matchable results by normalized name.
type index struct {
	byKey map[string]model.ResultRecord
	keys  []string // first-seen order, for stable fuzzy tie-breaks
}

// newIndex keeps one result per name. Only results that carry a status are
// matchable; a research decision wins over a later skip of the same name.
func newIndex(results []model.ResultRecord) *index {
	idx := &index{byKey: make(map[string]model.ResultRecord)}
	for _, r := range results {
		if !r.Status.Valid() {
			continue
		}
		key := r.NormalizedName
		if key == "" {
			key = normalize.Name(r.Name)
		}
		if key == "" {
			continue
		}
		prev, seen := idx.byKey[key]
		if !seen {
			idx.keys = append(idx.keys, key)
		}
		if seen && prev.Decision == model.DecisionResearch && r.Decision != model.DecisionResearch {
			continue
		}
		idx.byKey[key] = r
	}
	return idx
}

func (idx *index) exact(key string) (model.ResultRecord, float64, bool) {
	r, ok := idx.byKey[key]
	return r, 1, ok
}

// fuzzy returns the result whose name is most similar to key, by the
// SequenceMatcher ratio over characters, when it reaches threshold.
func (idx *index) fuzzy(key string, threshold float64) (model.ResultRecord, float64, bool) {
	if key == "" {
		return model.ResultRecord{}, 0, false
	}
	a := chars(key)
	best, bestRatio := "", 0.0
	for _, k := range idx.keys {
		ratio := difflib.NewMatcher(a, chars(k)).Ratio()
		if ratio >= threshold && ratio > bestRatio {
			best, bestRatio = k, ratio
		}
	}
	if best == "" {
		return model.ResultRecord{}, 0, false
	}
	return idx.byKey[best], bestRatio, true
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
