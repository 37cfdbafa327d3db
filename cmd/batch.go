package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/batch"
	"github.com/sells-group/contact-research/internal/integrate"
	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/statuscache"
	"github.com/sells-group/contact-research/internal/tabular"
)

const defaultNameColumn = "Consignee Name"

var (
	batchInputPath    string
	batchColumn       string
	batchStatusColumn string
	batchResume       string
	batchForce        bool
	batchNoSkip       bool
	batchLimit        int
	batchConcurrency  int
	batchOutput       string
	batchResults      string
	batchIntegrate    string
	batchMatch        string
	batchThreshold    float64
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Research every business named in a CSV or XLSX file",
	Long:  "Loads business names from a file, skips names already researched in prior sessions, researches the rest and prints the session summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		strategy, err := integrate.ParseStrategy(batchMatch)
		if err != nil {
			return err
		}

		sheet, err := loadBatchInput(ctx, env.Cache, batchInput{
			Path:         batchInputPath,
			Column:       batchColumn,
			StatusColumn: batchStatusColumn,
			Resume:       batchResume,
		})
		if err != nil {
			return err
		}
		names := sheet.Names()

		opts := env.batchOptions()
		opts.Force = batchForce
		opts.SkipResearched = !batchNoSkip
		opts.Limit = batchLimit
		if batchConcurrency > 0 {
			opts.Concurrency = batchConcurrency
		}
		opts.OnProgress = func(done, total int, res model.ResultRecord) {
			zap.L().Info("batch progress",
				zap.Int("done", done),
				zap.Int("total", total),
				zap.String("name", res.Name),
				zap.String("decision", string(res.Decision)),
				zap.String("status", string(res.Status)),
			)
		}

		results, summary, err := runBatch(ctx, env, names, opts, batchInputPath)
		if err != nil {
			return err
		}

		formatSummary(os.Stdout, summary)

		if batchResults != "" {
			if err := tabular.WriteFile(batchResults, resultHeader, resultRows(results)); err != nil {
				return eris.Wrap(err, "write results")
			}
			zap.L().Info("wrote results", zap.String("path", batchResults), zap.Int("rows", len(results)))
		}
		if batchIntegrate != "" {
			sum, err := writeIntegrated(batchIntegrate, sheet, results, integrate.Options{
				NameColumn: sheet.NameColumn,
				Strategy:   strategy,
				Threshold:  batchThreshold,
			})
			if err != nil {
				return err
			}
			formatIntegration(os.Stdout, sum)
		}
		if batchOutput != "" {
			if err := tabular.WriteFile(batchOutput, statuscache.ExportHeader, env.Cache.ExportRows()); err != nil {
				return eris.Wrap(err, "export cache")
			}
			zap.L().Info("exported cache", zap.String("path", batchOutput), zap.Int("records", env.Cache.Len()))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInputPath, "input", "", "CSV or XLSX file of business names")
	batchCmd.Flags().StringVar(&batchColumn, "column", defaultNameColumn, "column holding business names")
	batchCmd.Flags().StringVar(&batchStatusColumn, "status-column", "", "column of the input holding a prior research status")
	batchCmd.Flags().StringVar(&batchResume, "resume", "", "previously exported cache file to load before running")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "research every name even if cached as completed")
	batchCmd.Flags().BoolVar(&batchNoSkip, "no-skip", false, "disable skipping of already researched names")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of names to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel research calls (default from config)")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "export the status cache to this CSV or XLSX file")
	batchCmd.Flags().StringVar(&batchResults, "results", "", "write per-name results with contact fields to this CSV or XLSX file")
	batchCmd.Flags().StringVar(&batchIntegrate, "integrate", "", "write the input table with research_* columns added to this CSV or XLSX file")
	batchCmd.Flags().StringVar(&batchMatch, "match", string(integrate.StrategyFuzzy), "how --integrate matches rows to results: exact or fuzzy")
	batchCmd.Flags().Float64Var(&batchThreshold, "match-threshold", integrate.DefaultThreshold, "minimum name similarity for a fuzzy match")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

// batchInput names the files and columns a batch run reads.
type batchInput struct {
	Path         string
	Column       string
	StatusColumn string
	Resume       string
}

// batchSheet is the parsed input file and its resolved name column.
type batchSheet struct {
	Table      *tabular.Table
	NameColumn string
}

// Names returns the input names in row order.
func (s *batchSheet) Names() []string {
	return s.Table.Column(s.NameColumn)
}

// loadBatchInput seeds cache from the resume file and from the input's status
// column, then returns the parsed input.
func loadBatchInput(ctx context.Context, cache *statuscache.Store, in batchInput) (*batchSheet, error) {
	if in.Resume != "" {
		prior, err := tabular.ReadFile(ctx, in.Resume)
		if err != nil {
			return nil, eris.Wrap(err, "read resume file")
		}
		nameCol, err := tabular.DetectColumn(prior.Header, statuscache.ColName)
		if err != nil {
			return nil, eris.Wrap(err, "resume file")
		}
		report := cache.LoadFrom(prior.Rows, statuscache.LoadOptions{NameColumn: nameCol})
		logLoadReport(in.Resume, report)
	}

	table, err := tabular.ReadFile(ctx, in.Path)
	if err != nil {
		return nil, eris.Wrap(err, "read input")
	}

	column := in.Column
	if column == "" {
		column = defaultNameColumn
	}
	nameCol, err := tabular.DetectColumn(table.Header, column)
	if err != nil {
		return nil, err
	}
	if nameCol != column {
		zap.L().Warn("name column not found, using detected column",
			zap.String("requested", column),
			zap.String("detected", nameCol),
		)
	}

	if in.StatusColumn != "" && table.HasColumn(in.StatusColumn) {
		// Only rows carrying a status seed the cache. "Not researched" says
		// nothing, so it must not displace a persisted record.
		var seeded []tabular.Row
		for _, row := range table.Rows {
			v := row[in.StatusColumn]
			if v == "" {
				continue
			}
			if st, err := model.ParseStatus(v); err == nil && st == model.StatusNotResearched {
				continue
			}
			seeded = append(seeded, row)
		}
		report := cache.LoadFrom(seeded, statuscache.LoadOptions{NameColumn: nameCol, StatusColumn: in.StatusColumn})
		logLoadReport(in.Path, report)
	}

	return &batchSheet{Table: table, NameColumn: nameCol}, nil
}

// writeIntegrated merges results onto the input rows and writes them to path.
func writeIntegrated(path string, sheet *batchSheet, results []model.ResultRecord, opts integrate.Options) (integrate.Summary, error) {
	out, sum, err := integrate.Integrate(sheet.Table, results, opts)
	if err != nil {
		return sum, err
	}
	if err := tabular.WriteFile(path, out.Header, out.Rows); err != nil {
		return sum, eris.Wrap(err, "write integrated file")
	}
	zap.L().Info("wrote integrated file",
		zap.String("path", path),
		zap.Int("rows", sum.TotalRows),
		zap.Int("researched", sum.ResearchedRows),
		zap.Int("fuzzy_matches", sum.FuzzyMatches),
	)
	return sum, nil
}

// formatIntegration writes the integration coverage to w.
func formatIntegration(out io.Writer, s integrate.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Integrated rows:\t%d\n", s.TotalRows)
	_, _ = fmt.Fprintf(w, "Researched rows:\t%d (%.1f%%)\n", s.ResearchedRows, s.Coverage)
	if s.FuzzyMatches > 0 {
		_, _ = fmt.Fprintf(w, "Fuzzy matches:\t%d\n", s.FuzzyMatches)
	}
	_, _ = fmt.Fprintf(w, "Emails found:\t%d\n", s.EmailsFound)
	_, _ = fmt.Fprintf(w, "Phones found:\t%d\n", s.PhonesFound)
	_ = w.Flush()
}

func logLoadReport(path string, report statuscache.LoadReport) {
	zap.L().Info("loaded status records",
		zap.String("path", path),
		zap.Int("loaded", report.Loaded),
		zap.Int("ignored", len(report.Ignored)),
	)
	for _, ig := range report.Ignored {
		zap.L().Debug("ignored status row",
			zap.Int("row", ig.Row),
			zap.String("name", ig.Name),
			zap.String("reason", ig.Reason),
		)
	}
	for _, w := range report.Warnings {
		zap.L().Warn("status row warning", zap.String("path", path), zap.String("warning", w))
	}
}

// runBatch logs the run, drives the controller and persists the cache. Store
// writes ignore cancellation of ctx so an interrupted run is still saved.
func runBatch(ctx context.Context, env *researchEnv, names []string, opts batch.Options, input string) ([]model.ResultRecord, model.BatchRunSummary, error) {
	saveCtx := context.WithoutCancel(ctx)
	run, err := env.Store.CreateRun(saveCtx, input)
	if err != nil {
		return nil, model.BatchRunSummary{}, eris.Wrap(err, "create run")
	}

	results, summary := env.Controller.Run(ctx, names, opts)
	summary.RunID = run.ID

	if err := env.Persist(saveCtx); err != nil {
		return results, summary, err
	}
	if err := env.Store.CompleteRun(saveCtx, run.ID, &summary); err != nil {
		return results, summary, eris.Wrap(err, "complete run")
	}
	return results, summary, nil
}

// formatSummary writes the session summary to w.
func formatSummary(out io.Writer, s model.BatchRunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", truncateID(s.RunID))
	_, _ = fmt.Fprintf(w, "Total names:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Skipped (already researched):\t%d\n", s.SkippedDuplicate)
	_, _ = fmt.Fprintf(w, "Re-researched:\t%d\n", s.ReResearched)
	_, _ = fmt.Fprintf(w, "Fresh research:\t%d\n", s.FreshResearched)
	_, _ = fmt.Fprintf(w, "Invalid names:\t%d\n", s.Invalid)
	if s.NotProcessed > 0 {
		_, _ = fmt.Fprintf(w, "Not processed:\t%d\n", s.NotProcessed)
	}
	if s.Errored > 0 {
		_, _ = fmt.Fprintf(w, "Billing errors:\t%d\n", s.Errored)
	}
	if s.Cancelled {
		_, _ = fmt.Fprintf(w, "Cancelled:\tyes\n")
	}
	if s.SkippedDuplicate > 0 {
		_, _ = fmt.Fprintf(w, "Est. time saved:\t%s\n", (time.Duration(s.EstimatedSecondsSaved) * time.Second).String())
		_, _ = fmt.Fprintf(w, "Est. cost saved:\t$%.2f\n", s.EstimatedCostSavedUSD)
	}
	if !s.FinishedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Duration:\t%s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}
	_ = w.Flush()
}

var resultHeader = []string{
	"business_name", "phone", "email", "website", "address", "description",
	"confidence", "status", "research_date", "method", "decision", "error",
}

// resultRows flattens results into rows keyed by resultHeader.
func resultRows(results []model.ResultRecord) []tabular.Row {
	rows := make([]tabular.Row, 0, len(results))
	for _, r := range results {
		row := tabular.Row{
			"business_name": r.Name,
			"phone":         r.Contact.Phone,
			"email":         r.Contact.Email,
			"website":       r.Contact.Website,
			"address":       r.Contact.Address,
			"description":   r.Contact.Description,
			"confidence":    "",
			"status":        string(r.Status),
			"research_date": "",
			"method":        string(r.Method),
			"decision":      string(r.Decision),
			"error":         r.Error,
		}
		if r.MatchConfidence != nil {
			row["confidence"] = strconv.FormatFloat(*r.MatchConfidence, 'f', -1, 64)
		}
		if r.Timestamp != nil {
			row["research_date"] = r.Timestamp.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, row)
	}
	return rows
}
