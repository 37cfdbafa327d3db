package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/model"
)

var (
	researchForce bool
	researchCheck bool
)

var researchCmd = &cobra.Command{
	Use:   "research <name>",
	Short: "Research a single business",
	Long:  "Returns the cached record when the business was already researched, otherwise runs layered research and records the outcome.",
	Args: func(cmd *cobra.Command, args []string) error {
		if researchCheck {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		if researchCheck {
			if err := env.Layered.Ping(ctx); err != nil {
				return eris.Wrap(err, "api check")
			}
			fmt.Fprintln(os.Stdout, "search and extraction APIs are reachable")
			return nil
		}

		res := env.Orchestrator.ResearchOne(ctx, args[0], researchForce)
		zap.L().Info("research complete",
			zap.String("name", res.Name),
			zap.String("status", string(res.Status)),
			zap.String("decision", string(res.Decision)),
			zap.Int64("duration_ms", res.DurationMs),
		)

		if err := env.Persist(ctx); err != nil {
			return err
		}
		return writeResult(os.Stdout, res)
	},
}

func init() {
	researchCmd.Flags().BoolVar(&researchForce, "force", false, "research even if the business is cached as completed")
	researchCmd.Flags().BoolVar(&researchCheck, "check", false, "verify the search and extraction APIs instead of researching")
	rootCmd.AddCommand(researchCmd)
}

// writeResult prints res as indented JSON.
func writeResult(w io.Writer, res model.ResultRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
