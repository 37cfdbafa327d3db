package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-research/internal/batch"
	"github.com/sells-group/contact-research/internal/integrate"
	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/statuscache"
	"github.com/sells-group/contact-research/internal/store"
	"github.com/sells-group/contact-research/internal/tabular"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBatchInput_NamedColumn(t *testing.T) {
	path := writeFile(t, "leads.csv", "Consignee Name,City\nAcme Pvt Ltd,Mumbai\nGlobex,Pune\n")
	cache := statuscache.New()

	sheet, err := loadBatchInput(context.Background(), cache, batchInput{Path: path, Column: "Consignee Name"})
	require.NoError(t, err)
	names := sheet.Names()
	assert.Equal(t, []string{"Acme Pvt Ltd", "Globex"}, names)
	assert.Equal(t, 0, cache.Len())
}

func TestLoadBatchInput_DetectsColumn(t *testing.T) {
	path := writeFile(t, "leads.csv", "Row,Importer Consignee,City\n1,Acme,Mumbai\n2,Globex,Pune\n")

	sheet, err := loadBatchInput(context.Background(), statuscache.New(), batchInput{Path: path, Column: "Consignee Name"})
	require.NoError(t, err)
	names := sheet.Names()
	assert.Equal(t, []string{"Acme", "Globex"}, names)
}

func TestLoadBatchInput_MissingColumn(t *testing.T) {
	path := writeFile(t, "leads.csv", "Row,City\n1,Mumbai\n")

	_, err := loadBatchInput(context.Background(), statuscache.New(), batchInput{Path: path, Column: "Consignee Name"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadBatchInput_StatusColumnSeedsCache(t *testing.T) {
	path := writeFile(t, "leads.csv",
		"Consignee Name,research_status\nAcme,Completed\nGlobex,\nInitech,manual required\n")
	cache := statuscache.New()

	sheet, err := loadBatchInput(context.Background(), cache, batchInput{
		Path:         path,
		Column:       "Consignee Name",
		StatusColumn: "research_status",
	})
	require.NoError(t, err)
	names := sheet.Names()
	assert.Len(t, names, 3)
	assert.Equal(t, 2, cache.Len())

	rec, ok := cache.Get("acme")
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, rec.Status)

	rec, ok = cache.Get("Initech")
	require.True(t, ok)
	assert.Equal(t, model.StatusManualRequired, rec.Status)

	_, ok = cache.Get("Globex")
	assert.False(t, ok)
}

func TestLoadBatchInput_Resume(t *testing.T) {
	resume := writeFile(t, "prior.csv",
		"name,status,method,timestamp,sources_found,govt_sources,industry_sources,match_confidence\n"+
			"Acme,success,fresh,2024-03-01T10:00:00Z,5,1,0,8\n"+
			"Globex,bogus,,,,,,\n")
	input := writeFile(t, "leads.csv", "Consignee Name\nAcme\nGlobex\n")
	cache := statuscache.New()

	sheet, err := loadBatchInput(context.Background(), cache, batchInput{Path: input, Column: "Consignee Name", Resume: resume})
	require.NoError(t, err)
	names := sheet.Names()
	assert.Equal(t, []string{"Acme", "Globex"}, names)
	assert.Equal(t, 1, cache.Len())

	rec, ok := cache.Get("ACME")
	require.True(t, ok)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, 5, rec.SourcesFound)
	require.NotNil(t, rec.Timestamp)
}

func TestLoadBatchInput_MissingFile(t *testing.T) {
	_, err := loadBatchInput(context.Background(), statuscache.New(), batchInput{Path: filepath.Join(t.TempDir(), "nope.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read input")
}

func TestRunBatch_PersistsAndLogsRun(t *testing.T) {
	st := newTestStore(t)
	r := newStubResearcher()
	env := newTestEnv(r, st)
	ctx := context.Background()

	env.Cache.Put(model.StatusRecord{NormalizedName: "acme", DisplayName: "Acme", Status: model.StatusCompleted})

	results, summary, err := runBatch(ctx, env, []string{"Acme", "Globex", "Initech"}, batch.DefaultOptions(), "leads.csv")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, summary.SkippedDuplicate)
	assert.Equal(t, 2, summary.FreshResearched)
	assert.Greater(t, summary.EstimatedSecondsSaved, 0.0)
	assert.Equal(t, 2, r.total())

	recs, err := st.LoadRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	run, err := st.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, "leads.csv", run.Input)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 3, run.Summary.Total)
}

func TestRunBatch_CancelledStillPersists(t *testing.T) {
	st := newTestStore(t)
	env := newTestEnv(newStubResearcher(), st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, summary, err := runBatch(ctx, env, []string{"Acme", "Globex"}, batch.DefaultOptions(), "leads.csv")
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 2, summary.NotProcessed)
	assert.Equal(t, batch.ErrTextCancelled, results[0].Error)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusCancelled})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestWriteIntegrated_FeedsStatusColumnResume(t *testing.T) {
	ctx := context.Background()
	input := writeFile(t, "leads.csv", "Consignee Name,City\nAcme,Mumbai\nGlobex,Pune\nInitech,Delhi\n")
	env := newTestEnv(newStubResearcher(), newTestStore(t))

	sheet, err := loadBatchInput(ctx, env.Cache, batchInput{Path: input, Column: "Consignee Name"})
	require.NoError(t, err)
	opts := batch.DefaultOptions()
	opts.Limit = 2
	results, _, err := runBatch(ctx, env, sheet.Names(), opts, input)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "integrated.csv")
	sum, err := writeIntegrated(out, sheet, results, integrate.Options{NameColumn: sheet.NameColumn})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalRows)
	assert.Equal(t, 2, sum.ResearchedRows)
	assert.Equal(t, 2, sum.EmailsFound)

	written, err := tabular.ReadFile(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, "Pune", written.Rows[1]["City"])
	assert.Equal(t, "success", written.Rows[0][integrate.ColStatus])
	assert.Equal(t, "info@acme.in", written.Rows[0][integrate.ColEmail])
	assert.Equal(t, integrate.NotResearched, written.Rows[2][integrate.ColStatus])

	// A new session resumes from the integrated file's status column.
	cache := statuscache.New()
	cache.Put(model.StatusRecord{NormalizedName: "initech", DisplayName: "Initech", Status: model.StatusSuccess})
	resumed, err := loadBatchInput(ctx, cache, batchInput{
		Path:         out,
		Column:       "Consignee Name",
		StatusColumn: integrate.ColStatus,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Globex", "Initech"}, resumed.Names())
	assert.Equal(t, 3, cache.Len())

	rec, ok := cache.Get("globex")
	require.True(t, ok)
	assert.Equal(t, model.StatusSuccess, rec.Status)

	rec, ok = cache.Get("initech")
	require.True(t, ok)
	assert.Equal(t, model.StatusSuccess, rec.Status, "Not researched must not displace a persisted record")
}

func TestFormatIntegration(t *testing.T) {
	var buf bytes.Buffer
	formatIntegration(&buf, integrate.Summary{TotalRows: 4, ResearchedRows: 3, FuzzyMatches: 1, EmailsFound: 2, PhonesFound: 1, Coverage: 75})

	out := buf.String()
	assert.Contains(t, out, "Integrated rows:")
	assert.Contains(t, out, "3 (75.0%)")
	assert.Contains(t, out, "Fuzzy matches:")
	assert.Contains(t, out, "Emails found:")
}

func TestFormatSummary(t *testing.T) {
	start := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s := model.BatchRunSummary{
		RunID:                 "abc12345-6789-0000-0000-000000000000",
		Total:                 10,
		SkippedDuplicate:      4,
		ReResearched:          1,
		FreshResearched:       5,
		Errored:               1,
		EstimatedSecondsSaved: 60,
		EstimatedCostSavedUSD: 0.104,
		StartedAt:             start,
		FinishedAt:            start.Add(90 * time.Second),
	}

	var buf bytes.Buffer
	formatSummary(&buf, s)
	out := buf.String()

	assert.Contains(t, out, "abc12345")
	assert.Contains(t, out, "Total names:")
	assert.Contains(t, out, "Skipped (already researched):")
	assert.Contains(t, out, "Billing errors:")
	assert.Contains(t, out, "1m0s")
	assert.Contains(t, out, "$0.10")
	assert.Contains(t, out, "1m30s")
	assert.NotContains(t, out, "Cancelled")
	assert.NotContains(t, out, "Not processed")
}

func TestResultRows(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	conf := 7.5
	rows := resultRows([]model.ResultRecord{
		{
			Name:            "Acme",
			Status:          model.StatusSuccess,
			Method:          model.MethodFresh,
			Decision:        model.DecisionResearch,
			Timestamp:       &ts,
			MatchConfidence: &conf,
			Contact:         model.Contact{Phone: "022 1234 5678", Website: "acme.in"},
		},
		{Name: "", Error: "normalize: business name is empty"},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, "022 1234 5678", rows[0]["phone"])
	assert.Equal(t, "acme.in", rows[0]["website"])
	assert.Equal(t, "7.5", rows[0]["confidence"])
	assert.Equal(t, "2024-03-01 10:00:00", rows[0]["research_date"])
	assert.Equal(t, "research", rows[0]["decision"])
	assert.Equal(t, "", rows[1]["research_date"])
	assert.Contains(t, rows[1]["error"], "empty")

	var buf bytes.Buffer
	require.NoError(t, tabular.WriteCSV(&buf, resultHeader, rows))
	assert.Contains(t, buf.String(), "business_name,phone,email")
}
