package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/statuscache"
	"github.com/sells-group/contact-research/internal/store"
)

// MetricsSnapshot holds a point-in-time view of research health.
type MetricsSnapshot struct {
	// Run log (within lookback window).
	RunsTotal     int `json:"runs_total"`
	RunsComplete  int `json:"runs_complete"`
	RunsCancelled int `json:"runs_cancelled"`
	RunsRunning   int `json:"runs_running"`
	RunsStuck     int `json:"runs_stuck"`

	// Names across finished runs.
	NamesTotal       int     `json:"names_total"`
	NamesSkipped     int     `json:"names_skipped"`
	NamesResearched  int     `json:"names_researched"`
	NamesInvalid     int     `json:"names_invalid"`
	BillingErrors    int     `json:"billing_errors"`
	BillingErrorRate float64 `json:"billing_error_rate"`
	SkipRate         float64 `json:"skip_rate"`

	EstimatedSecondsSaved float64 `json:"estimated_seconds_saved"`
	EstimatedCostSavedUSD float64 `json:"estimated_cost_saved_usd"`

	// Status cache.
	CachedTotal    int `json:"cached_total"`
	ManualRequired int `json:"manual_required"`
	CachedBilling  int `json:"cached_billing_errors"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the run log query needed by the collector.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// CacheSummarizer reports the current status cache tallies.
type CacheSummarizer interface {
	Summary() statuscache.Summary
}

// Collector gathers metrics from the run log and the status cache.
type Collector struct {
	runs       RunLister
	cache      CacheSummarizer
	stuckAfter time.Duration
}

// NewCollector creates a metrics collector. cache may be nil. Runs still
// marked running after stuckAfter count as stuck; zero disables the check.
func NewCollector(runs RunLister, cache CacheSummarizer, stuckAfter time.Duration) *Collector {
	return &Collector{runs: runs, cache: cache, stuckAfter: stuckAfter}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	if c.runs != nil {
		cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
		runs, err := c.runs.ListRuns(ctx, store.RunFilter{
			CreatedAfter: cutoff,
			Limit:        10000,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}
		c.tallyRuns(snap, runs, now)
	}

	if c.cache != nil {
		sum := c.cache.Summary()
		snap.CachedTotal = sum.TotalCached
		snap.ManualRequired = sum.ByStatus[model.StatusManualRequired]
		snap.CachedBilling = sum.ByStatus[model.StatusBillingError]
	}

	return snap, nil
}

func (c *Collector) tallyRuns(snap *MetricsSnapshot, runs []model.Run, now time.Time) {
	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		case model.RunStatusRunning:
			snap.RunsRunning++
			if c.stuckAfter > 0 && now.Sub(r.CreatedAt) > c.stuckAfter {
				snap.RunsStuck++
			}
		}
		if r.Summary == nil {
			continue
		}
		s := r.Summary
		snap.NamesTotal += s.Total
		snap.NamesSkipped += s.SkippedDuplicate
		snap.NamesResearched += s.ReResearched + s.FreshResearched
		snap.NamesInvalid += s.Invalid
		snap.BillingErrors += s.Errored
		snap.EstimatedSecondsSaved += s.EstimatedSecondsSaved
		snap.EstimatedCostSavedUSD += s.EstimatedCostSavedUSD
	}

	if snap.NamesResearched > 0 {
		snap.BillingErrorRate = float64(snap.BillingErrors) / float64(snap.NamesResearched)
	}
	if decided := snap.NamesSkipped + snap.NamesResearched; decided > 0 {
		snap.SkipRate = float64(snap.NamesSkipped) / float64(decided)
	}
}
