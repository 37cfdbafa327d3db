package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Status is the research state recorded for a business.
type Status string

const (
	StatusNotResearched  Status = "not_researched"
	StatusCompleted      Status = "completed"
	StatusSuccess        Status = "success"
	StatusManualRequired Status = "manual_required"
	StatusBillingError   Status = "billing_error"
	StatusCached         Status = "cached"
)

// ErrUnknownStatus is returned by ParseStatus for values outside the closed set.
var ErrUnknownStatus = eris.New("model: unknown status")

var allStatuses = []Status{
	StatusNotResearched,
	StatusCompleted,
	StatusSuccess,
	StatusManualRequired,
	StatusBillingError,
	StatusCached,
}

// AllStatuses returns every recognized status in a stable order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a loosely formatted status string ("Not researched",
// "MANUAL-REQUIRED", " success ") into a Status.
func ParseStatus(s string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for _, st := range allStatuses {
		if key == string(st) {
			return st, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownStatus, "%q", s)
}

// Valid reports whether s is one of the recognized statuses.
func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Method records how the current StatusRecord was produced.
type Method string

const (
	MethodFresh  Method = "fresh"
	MethodCached Method = "cached"
	MethodManual Method = "manual"
)

// ParseMethod maps an exported method value to a Method. Unrecognized values
// yield the empty Method, which means "absent".
func ParseMethod(s string) Method {
	key := strings.ToLower(strings.TrimSpace(s))
	switch {
	case key == string(MethodFresh):
		return MethodFresh
	case key == string(MethodCached):
		return MethodCached
	case key == string(MethodManual), strings.HasPrefix(key, "manual "):
		return MethodManual
	default:
		return ""
	}
}

// StatusRecord is the cached research state for one normalized business name.
type StatusRecord struct {
	NormalizedName  string     `json:"normalized_name"`
	DisplayName     string     `json:"display_name"`
	Status          Status     `json:"status"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	Method          Method     `json:"method,omitempty"`
	SourcesFound    int        `json:"sources_found"`
	GovtSources     int        `json:"govt_sources"`
	IndustrySources int        `json:"industry_sources"`
	MatchConfidence *float64   `json:"match_confidence,omitempty"`
}

// Contact holds the contact fields extracted for a business.
type Contact struct {
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Website     string `json:"website,omitempty"`
	Address     string `json:"address,omitempty"`
	Description string `json:"description,omitempty"`
}

// Outcome is the raw result of one external research call.
type Outcome struct {
	Status          Status   `json:"status"`
	SourcesFound    int      `json:"sources_found"`
	GovtSources     int      `json:"govt_sources"`
	IndustrySources int      `json:"industry_sources"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Contact         Contact  `json:"contact"`
	CostUSD         float64  `json:"cost_usd,omitempty"`
}
