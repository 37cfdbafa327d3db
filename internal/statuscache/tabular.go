package statuscache

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/normalize"
	"github.com/sells-group/contact-research/internal/tabular"
)

// Export column names.
const (
	ColName            = "name"
	ColStatus          = "status"
	ColMethod          = "method"
	ColTimestamp       = "timestamp"
	ColSourcesFound    = "sources_found"
	ColGovtSources     = "govt_sources"
	ColIndustrySources = "industry_sources"
	ColMatchConfidence = "match_confidence"
)

// ExportHeader is the column order written by ExportRows.
var ExportHeader = []string{
	ColName,
	ColStatus,
	ColMethod,
	ColTimestamp,
	ColSourcesFound,
	ColGovtSources,
	ColIndustrySources,
	ColMatchConfidence,
}

// timestampLayouts are tried in order when loading. Exports use the first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// LoadOptions names the caller's columns. Empty values default to the export
// column names.
type LoadOptions struct {
	NameColumn   string
	StatusColumn string
}

// IgnoredRow describes one input row that LoadFrom skipped.
type IgnoredRow struct {
	Row    int    `json:"row"` // 1-based data row index
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// LoadReport summarizes a LoadFrom call.
type LoadReport struct {
	Loaded   int          `json:"loaded"`
	Ignored  []IgnoredRow `json:"ignored,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// LoadFrom upserts one record per row. Rows without a name or with an
// unrecognized status are skipped and reported, never returned as errors.
// Optional columns that are absent or unparseable leave the field unset.
func (s *Store) LoadFrom(rows []tabular.Row, opts LoadOptions) LoadReport {
	nameCol := opts.NameColumn
	if nameCol == "" {
		nameCol = ColName
	}
	statusCol := opts.StatusColumn
	if statusCol == "" {
		statusCol = ColStatus
	}

	var report LoadReport
	recs := make([]model.StatusRecord, 0, len(rows))
	for i, row := range rows {
		n := i + 1
		name := strings.TrimSpace(row[nameCol])
		if err := normalize.Validate(name); err != nil {
			report.Ignored = append(report.Ignored, IgnoredRow{Row: n, Reason: "empty name"})
			continue
		}

		raw, ok := row[statusCol]
		if !ok || strings.TrimSpace(raw) == "" {
			report.Ignored = append(report.Ignored, IgnoredRow{Row: n, Name: name, Reason: "missing status"})
			continue
		}
		status, err := model.ParseStatus(raw)
		if err != nil {
			report.Ignored = append(report.Ignored, IgnoredRow{
				Row:    n,
				Name:   name,
				Reason: fmt.Sprintf("unrecognized status %q", raw),
			})
			continue
		}

		rec := model.StatusRecord{
			NormalizedName: normalize.Name(name),
			DisplayName:    name,
			Status:         status,
			Method:         model.ParseMethod(row[ColMethod]),
		}

		if v := strings.TrimSpace(row[ColTimestamp]); v != "" {
			ts, err := parseTimestamp(v)
			if err != nil {
				report.Warnings = append(report.Warnings, fmt.Sprintf("row %d: unparseable timestamp %q", n, v))
			} else {
				rec.Timestamp = &ts
			}
		}
		rec.SourcesFound = parseCount(row[ColSourcesFound])
		rec.GovtSources = parseCount(row[ColGovtSources])
		rec.IndustrySources = parseCount(row[ColIndustrySources])
		if v := strings.TrimSpace(row[ColMatchConfidence]); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				rec.MatchConfidence = &f
			}
		}

		recs = append(recs, rec)
	}

	s.mu.Lock()
	for _, rec := range recs {
		s.putLocked(rec)
	}
	s.mu.Unlock()

	report.Loaded = len(recs)
	return report
}

// LoadRecords upserts already-built records, typically from a persistence
// backend. Records without a usable key are dropped.
func (s *Store) LoadRecords(recs []model.StatusRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range recs {
		key := normalize.Name(rec.NormalizedName)
		if key == "" {
			key = normalize.Name(rec.DisplayName)
		}
		if key == "" {
			continue
		}
		rec.NormalizedName = key
		if rec.DisplayName == "" {
			rec.DisplayName = key
		}
		s.putLocked(rec)
		n++
	}
	return n
}

// ExportRows returns one row per record in table order, using ExportHeader
// columns. Timestamps are written as RFC 3339 so LoadFrom restores them exactly.
func (s *Store) ExportRows() []tabular.Row {
	recs := s.Records()
	out := make([]tabular.Row, 0, len(recs))
	for _, rec := range recs {
		row := tabular.Row{
			ColName:            rec.DisplayName,
			ColStatus:          string(rec.Status),
			ColMethod:          string(rec.Method),
			ColTimestamp:       "",
			ColSourcesFound:    strconv.Itoa(rec.SourcesFound),
			ColGovtSources:     strconv.Itoa(rec.GovtSources),
			ColIndustrySources: strconv.Itoa(rec.IndustrySources),
			ColMatchConfidence: "",
		}
		if rec.Timestamp != nil {
			row[ColTimestamp] = rec.Timestamp.Format(timestampLayouts[0])
		}
		if rec.MatchConfidence != nil {
			row[ColMatchConfidence] = strconv.FormatFloat(*rec.MatchConfidence, 'f', -1, 64)
		}
		out = append(out, row)
	}
	return out
}

func parseTimestamp(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, v)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseCount(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || math.IsNaN(f) || f < 0 || f >= math.MaxInt32 {
			return 0
		}
		n = int(f)
	}
	if n < 0 {
		return 0
	}
	return n
}
