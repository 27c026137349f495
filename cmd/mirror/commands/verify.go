package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/mirror/internal/ledgerview"
	"github.com/dyluth/mirror/internal/printer"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the ledger hash chain",
	Long: `Walk the ledger from genesis and recompute every entry hash.

Exits non-zero and reports the first broken sequence when an entry's hash
or link to its predecessor does not match.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.ledger.Verify(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify ledger: %w", err)
	}
	ledgerview.FormatVerify(cmd.OutOrStdout(), report)
	if !report.Valid {
		var suggestions []string
		if report.BrokenAt != nil {
			suggestions = append(suggestions, fmt.Sprintf("Inspect the entry that failed:\n  mirror ledger '#%d'", *report.BrokenAt))
		}
		return printer.ErrorWithContext(
			"ledger chain is broken",
			report.Reason,
			map[string]string{"Instance": a.cfg.Instance, "Backend": a.cfg.Ledger.Backend},
			suggestions,
		)
	}
	return nil
}
