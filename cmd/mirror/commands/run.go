package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dyluth/mirror/internal/pipeline"
	"github.com/dyluth/mirror/internal/printer"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run against the ledger",
	Long: `Run the pipeline once and exit.

Documents are ingested from the configured sources, the council deliberates,
and the arbiter's synthesis is committed to the ledger. Each phase is retried
with backoff; a phase that keeps failing is recorded on the ledger and the
command exits non-zero.

With the memory backend the results are discarded when the command exits,
so this is mostly useful with the redis or postgres backends.

Examples:
  # One run against the configured ledger
  mirror run

  # Use a different configuration file
  mirror run --config=prod.yml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Ledger.Backend == "memory" {
		printer.Warning("memory backend: results of this run are not persisted\n")
	}
	if serr := a.ledger.Sealed(); serr != nil {
		return printer.Error(
			"ledger chain is broken",
			serr.Error(),
			[]string{"Inspect the chain:\n  mirror verify"},
		)
	}

	engine, err := a.engine(nil)
	if err != nil {
		return printer.Error("invalid pipeline configuration", err.Error(), nil)
	}

	before := a.store.Read().Stats.Entries
	printer.Step("Running pipeline for instance '%s'...\n", a.cfg.Instance)
	runID, err := engine.Run(ctx)
	snap := a.store.Read()
	if err != nil {
		var pf *pipeline.PhaseFailure
		if errors.As(err, &pf) {
			return printer.ErrorWithContext(
				"pipeline run failed",
				pf.Err.Error(),
				map[string]string{
					"Run":      runID,
					"Phase":    string(pf.Phase),
					"Attempts": strconv.Itoa(pf.Attempts),
				},
				[]string{"Entries recorded before the failure are kept:\n  mirror ledger --run=" + shortRun(runID)},
			)
		}
		return printer.Error("pipeline run failed", err.Error(), nil)
	}

	printer.Success("Run %s completed\n", shortRun(runID))
	printer.Field("Appended", snap.Stats.Entries-before)
	printer.Field("Entries", snap.Stats.Entries)
	printer.Field("Head", snap.Head.Hash)
	printer.Field("Forecasts", snap.Stats.OpenForecasts)
	if snap.Stats.MeanBrierScore != nil {
		printer.Field("Mean Brier", *snap.Stats.MeanBrierScore)
	}
	return nil
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
