package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/monitoring"
	"github.com/sells-group/contact-research/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect batch run history",
	Long:  "Commands for listing and viewing logged batch runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show research health over a lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		snap, err := env.collector().Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatStats(os.Stdout, snap)
		for _, a := range monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap) {
			fmt.Fprintf(os.Stderr, "ALERT [%s] %s\n", a.Severity, a.Message)
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, cancelled)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Duration("since", 0, "only runs created within this window (e.g. 24h)")
	runsStatsCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tINPUT\tSTATUS\tTOTAL\tSKIPPED\tRESEARCHED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-----\t-------\t----------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		input := r.Input
		if len(input) > 30 {
			input = "..." + input[len(input)-27:]
		}

		total, skipped, researched := "-", "-", "-"
		if r.Summary != nil {
			total = fmt.Sprint(r.Summary.Total)
			skipped = fmt.Sprint(r.Summary.SkippedDuplicate)
			researched = fmt.Sprint(r.Summary.ReResearched + r.Summary.FreshResearched)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			input,
			r.Status,
			total,
			skipped,
			researched,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatStats writes a health snapshot to w.
func formatStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (complete %d, cancelled %d, running %d)\n",
		s.RunsTotal, s.RunsComplete, s.RunsCancelled, s.RunsRunning)
	if s.RunsStuck > 0 {
		_, _ = fmt.Fprintf(w, "Stuck runs:\t%d\n", s.RunsStuck)
	}
	_, _ = fmt.Fprintf(w, "Names:\t%d\n", s.NamesTotal)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d (%.1f%%)\n", s.NamesSkipped, s.SkipRate*100)
	_, _ = fmt.Fprintf(w, "Researched:\t%d\n", s.NamesResearched)
	_, _ = fmt.Fprintf(w, "Billing errors:\t%d (%.1f%%)\n", s.BillingErrors, s.BillingErrorRate*100)
	_, _ = fmt.Fprintf(w, "Est. time saved:\t%s\n", (time.Duration(s.EstimatedSecondsSaved) * time.Second).String())
	_, _ = fmt.Fprintf(w, "Est. cost saved:\t$%.2f\n", s.EstimatedCostSavedUSD)
	_, _ = fmt.Fprintf(w, "Cached:\t%d\n", s.CachedTotal)
	_, _ = fmt.Fprintf(w, "Manual required:\t%d\n", s.ManualRequired)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
