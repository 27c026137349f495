package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dyluth/mirror/internal/ledgerview"
	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	mindTail      int
	forecastsOpen bool
)

var mindCmd = &cobra.Command{
	Use:   "mind",
	Short: "Print the current mind snapshot as JSON",
	Long: `Rebuild the mind from the ledger and print it as JSON: beliefs, risks,
reality deltas, forecasts, stats and the most recent ledger entries.`,
	Args: cobra.NoArgs,
	RunE: runMind,
}

var forecastsCmd = &cobra.Command{
	Use:   "forecasts",
	Short: "List forecasts with probabilities and Brier scores",
	Args:  cobra.NoArgs,
	RunE:  runForecasts,
}

func init() {
	mindCmd.Flags().IntVar(&mindTail, "tail", 20, "Number of recent ledger entries to include")
	forecastsCmd.Flags().BoolVar(&forecastsOpen, "open", false, "Show only open forecasts")

	rootCmd.AddCommand(mindCmd)
	rootCmd.AddCommand(forecastsCmd)
}

func runMind(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.store.View(ctx, mindTail)
	if err != nil {
		return fmt.Errorf("failed to read mind: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func runForecasts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	forecasts := ledger.SortedForecasts(a.store.Read().Forecasts)
	if forecastsOpen {
		open := forecasts[:0]
		for _, f := range forecasts {
			if f.Status == ledger.ForecastOpen {
				open = append(open, f)
			}
		}
		forecasts = open
	}
	ledgerview.FormatForecasts(cmd.OutOrStdout(), forecasts)
	return nil
}
