package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/statuscache"
	"github.com/sells-group/contact-research/internal/tabular"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the research status cache",
}

// -- cache status --

var cacheStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show the cached record for a business",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, ok := env.Cache.Get(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "%q has not been researched.\n", args[0])
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- cache summary --

var cacheSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count cached records by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		formatCacheSummary(os.Stdout, env.Cache.Summary())
		return nil
	},
}

// -- cache clear --

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		n := env.Cache.Len()
		env.Cache.Clear()
		if err := env.Store.ClearRecords(ctx); err != nil {
			return eris.Wrap(err, "cache clear")
		}
		zap.L().Info("cleared status cache", zap.Int("records", n))
		return nil
	},
}

// -- cache reset --

var cacheResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Mark a business as not researched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		if !env.Cache.Reset(args[0]) {
			return eris.Errorf("cache reset: %q is not cached", args[0])
		}
		return env.Persist(ctx)
	},
}

// -- cache export --

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the status cache to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		output, _ := cmd.Flags().GetString("output")
		if err := tabular.WriteFile(output, statuscache.ExportHeader, env.Cache.ExportRows()); err != nil {
			return eris.Wrap(err, "cache export")
		}
		zap.L().Info("exported cache", zap.String("path", output), zap.Int("records", env.Cache.Len()))
		return nil
	},
}

// -- cache import --

var cacheImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load statuses from a CSV or XLSX file into the cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		input, _ := cmd.Flags().GetString("input")
		nameCol, _ := cmd.Flags().GetString("name-column")
		statusCol, _ := cmd.Flags().GetString("status-column")

		report, err := importStatuses(ctx, env.Cache, input, nameCol, statusCol)
		if err != nil {
			return err
		}
		if err := env.Persist(ctx); err != nil {
			return err
		}
		formatLoadReport(os.Stdout, report)
		return nil
	},
}

func init() {
	cacheExportCmd.Flags().String("output", "", "destination CSV or XLSX file")
	_ = cacheExportCmd.MarkFlagRequired("output")

	cacheImportCmd.Flags().String("input", "", "CSV or XLSX file to load")
	cacheImportCmd.Flags().String("name-column", statuscache.ColName, "column holding business names")
	cacheImportCmd.Flags().String("status-column", statuscache.ColStatus, "column holding research statuses")
	_ = cacheImportCmd.MarkFlagRequired("input")

	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheSummaryCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheResetCmd)
	cacheCmd.AddCommand(cacheExportCmd)
	cacheCmd.AddCommand(cacheImportCmd)
	rootCmd.AddCommand(cacheCmd)
}

// importStatuses reads path and upserts its rows into cache.
func importStatuses(ctx context.Context, cache *statuscache.Store, path, nameCol, statusCol string) (statuscache.LoadReport, error) {
	table, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return statuscache.LoadReport{}, eris.Wrap(err, "cache import")
	}
	col, err := tabular.DetectColumn(table.Header, nameCol)
	if err != nil {
		return statuscache.LoadReport{}, err
	}
	if !table.HasColumn(statusCol) {
		return statuscache.LoadReport{}, eris.Errorf("cache import: status column %q not found", statusCol)
	}
	return cache.LoadFrom(table.Rows, statuscache.LoadOptions{NameColumn: col, StatusColumn: statusCol}), nil
}

// formatCacheSummary writes per-status counts to w.
func formatCacheSummary(out io.Writer, s statuscache.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	_, _ = fmt.Fprintln(w, "------\t-----")
	for _, st := range s.Statuses() {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", st, s.ByStatus[st])
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", s.TotalCached)
	_ = w.Flush()
}

// formatLoadReport writes the loaded count and every ignored row to w.
func formatLoadReport(out io.Writer, r statuscache.LoadReport) {
	_, _ = fmt.Fprintf(out, "Loaded %d records, ignored %d rows.\n", r.Loaded, len(r.Ignored))
	for _, ig := range r.Ignored {
		name := ig.Name
		if name == "" {
			name = "-"
		}
		_, _ = fmt.Fprintf(out, "  row %d (%s): %s\n", ig.Row, name, ig.Reason)
	}
	for _, w := range r.Warnings {
		_, _ = fmt.Fprintf(out, "  warning: %s\n", w)
	}
}
