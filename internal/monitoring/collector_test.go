package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/statuscache"
	"github.com/sells-group/contact-research/internal/store"
)

// mockRuns implements RunLister for testing.
type mockRuns struct {
	runs    []model.Run
	listErr error
}

func (m *mockRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(&mockRuns{}, nil, 0)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0.0, snap.BillingErrorRate)
	assert.Equal(t, 0.0, snap.SkipRate)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_RunMetrics(t *testing.T) {
	now := time.Now().UTC()
	runs := &mockRuns{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusComplete, CreatedAt: now.Add(-1 * time.Hour), Summary: &model.BatchRunSummary{
				Total: 10, SkippedDuplicate: 4, FreshResearched: 5, Invalid: 1, Errored: 1,
				EstimatedSecondsSaved: 60, EstimatedCostSavedUSD: 0.10,
			}},
			{ID: "2", Status: model.RunStatusCancelled, CreatedAt: now.Add(-2 * time.Hour), Summary: &model.BatchRunSummary{
				Total: 6, SkippedDuplicate: 2, ReResearched: 1, FreshResearched: 2, NotProcessed: 1, Errored: 1,
				EstimatedSecondsSaved: 30, EstimatedCostSavedUSD: 0.05,
			}},
			{ID: "3", Status: model.RunStatusRunning, CreatedAt: now.Add(-30 * time.Minute)},
			{ID: "4", Status: model.RunStatusRunning, CreatedAt: now.Add(-10 * time.Hour)},
			// Outside lookback window.
			{ID: "5", Status: model.RunStatusComplete, CreatedAt: now.Add(-48 * time.Hour), Summary: &model.BatchRunSummary{Total: 100, Errored: 50}},
		},
	}

	c := NewCollector(runs, nil, 6*time.Hour)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsCancelled)
	assert.Equal(t, 2, snap.RunsRunning)
	assert.Equal(t, 1, snap.RunsStuck)

	assert.Equal(t, 16, snap.NamesTotal)
	assert.Equal(t, 6, snap.NamesSkipped)
	assert.Equal(t, 8, snap.NamesResearched)
	assert.Equal(t, 1, snap.NamesInvalid)
	assert.Equal(t, 2, snap.BillingErrors)
	assert.InDelta(t, 0.25, snap.BillingErrorRate, 0.001) // 2 / 8
	assert.InDelta(t, 6.0/14.0, snap.SkipRate, 0.001)
	assert.InDelta(t, 90.0, snap.EstimatedSecondsSaved, 0.001)
	assert.InDelta(t, 0.15, snap.EstimatedCostSavedUSD, 0.001)
}

func TestCollector_StuckDisabled(t *testing.T) {
	now := time.Now().UTC()
	runs := &mockRuns{runs: []model.Run{
		{ID: "1", Status: model.RunStatusRunning, CreatedAt: now.Add(-20 * time.Hour)},
	}}

	snap, err := NewCollector(runs, nil, 0).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Equal(t, 0, snap.RunsStuck)
}

func TestCollector_CacheMetrics(t *testing.T) {
	cache := statuscache.New()
	cache.Put(model.StatusRecord{NormalizedName: "acme", DisplayName: "Acme", Status: model.StatusSuccess})
	cache.Put(model.StatusRecord{NormalizedName: "globex", DisplayName: "Globex", Status: model.StatusManualRequired})
	cache.Put(model.StatusRecord{NormalizedName: "initech", DisplayName: "Initech", Status: model.StatusManualRequired})
	cache.Put(model.StatusRecord{NormalizedName: "hooli", DisplayName: "Hooli", Status: model.StatusBillingError})

	snap, err := NewCollector(nil, cache, 0).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.CachedTotal)
	assert.Equal(t, 2, snap.ManualRequired)
	assert.Equal(t, 1, snap.CachedBilling)
	assert.Equal(t, 0, snap.RunsTotal)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&mockRuns{listErr: errors.New("db down")}, nil, 0)

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
