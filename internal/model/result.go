package model

import "time"

// DecisionKind is the branch chosen by the decision engine.
type DecisionKind string

const (
	DecisionSkip     DecisionKind = "skip"
	DecisionResearch DecisionKind = "research"
)

// Reason explains why a Research decision was taken.
type Reason string

const (
	ReasonNew                Reason = "new"
	ReasonNonCompletedStatus Reason = "non_completed_status"
	ReasonForced             Reason = "forced"
)

// ResultRecord is the unified per-business result returned to callers.
type ResultRecord struct {
	Name            string       `json:"name"`
	NormalizedName  string       `json:"normalized_name,omitempty"`
	Status          Status       `json:"status,omitempty"`
	Method          Method       `json:"method,omitempty"`
	Timestamp       *time.Time   `json:"timestamp,omitempty"`
	SourcesFound    int          `json:"sources_found"`
	GovtSources     int          `json:"govt_sources"`
	IndustrySources int          `json:"industry_sources"`
	MatchConfidence *float64     `json:"match_confidence,omitempty"`
	Decision        DecisionKind `json:"decision,omitempty"`
	Reason          Reason       `json:"reason,omitempty"`
	Contact         Contact      `json:"contact"`
	Error           string       `json:"error,omitempty"`
	DurationMs      int64        `json:"duration_ms"`
}

// RecordFromResult copies the cacheable fields of r into a StatusRecord.
func RecordFromResult(r ResultRecord) StatusRecord {
	return StatusRecord{
		NormalizedName:  r.NormalizedName,
		DisplayName:     r.Name,
		Status:          r.Status,
		Timestamp:       r.Timestamp,
		Method:          r.Method,
		SourcesFound:    r.SourcesFound,
		GovtSources:     r.GovtSources,
		IndustrySources: r.IndustrySources,
		MatchConfidence: r.MatchConfidence,
	}
}

// BatchRunSummary tallies the outcome of one batch session.
type BatchRunSummary struct {
	RunID                 string    `json:"run_id,omitempty"`
	Total                 int       `json:"total"`
	SkippedDuplicate      int       `json:"skipped_duplicate"`
	ReResearched          int       `json:"re_researched"`
	FreshResearched       int       `json:"fresh_researched"`
	Invalid               int       `json:"invalid"`
	NotProcessed          int       `json:"not_processed"`
	Errored               int       `json:"errored"`
	Cancelled             bool      `json:"cancelled"`
	EstimatedSecondsSaved float64   `json:"estimated_seconds_saved"`
	EstimatedCostSavedUSD float64   `json:"estimated_cost_saved_usd"`
	StartedAt             time.Time `json:"started_at"`
	FinishedAt            time.Time `json:"finished_at"`
}

// Accounted returns how many input names the summary has classified.
func (s BatchRunSummary) Accounted() int {
	return s.SkippedDuplicate + s.ReResearched + s.FreshResearched + s.Invalid + s.NotProcessed
}

// RunStatus is the lifecycle state of a logged batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is a persisted batch run log entry.
type Run struct {
	ID        string           `json:"id"`
	Input     string           `json:"input"`
	Status    RunStatus        `json:"status"`
	Summary   *BatchRunSummary `json:"summary,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
