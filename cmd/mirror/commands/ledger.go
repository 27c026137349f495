package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/mirror/internal/ledgerview"
	"github.com/dyluth/mirror/internal/printer"
	"github.com/dyluth/mirror/internal/resolver"
	"github.com/dyluth/mirror/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	ledgerOutputFormat string
	ledgerSince        string
	ledgerUntil        string
	ledgerType         string
	ledgerKind         string
	ledgerRun          string
	ledgerLimit        int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger [REF]",
	Short: "Inspect Truth Ledger entries with filtering",
	Long: `Inspect ledger entries in list or get mode.

List Mode (no REF):
  Displays entries matching filters as a table, JSONL stream or JSON array.

Get Mode (with REF):
  Displays one complete entry as pretty-printed JSON. REF is a sequence
  number ("#12", or plain digits shorter than 6) or a hash prefix of at
  least 6 characters.

Output Formats (list mode only):
  default - Human-readable table with sequence, hash, type, age and summary
  jsonl   - Line-delimited JSON, one entry per line
  json    - One JSON array

Time Filters (list mode only):
  --since  - Show entries recorded after this time
  --until  - Show entries recorded before this time

Content Filters (list mode only):
  --type   - Filter by entry type (glob pattern: "FORECAST_*", "ingest")
  --kind   - Filter SYSTEM_UPDATE entries by kind ("run_completed")
  --run    - Filter SYSTEM_UPDATE entries by run id prefix

Examples:
  # List the whole ledger
  mirror ledger

  # Forecast activity from the last day
  mirror ledger --type="FORECAST_*" --since=24h

  # Stream entries to jq
  mirror ledger --output=jsonl | jq 'select(.type=="INGEST") | .payload.title'

  # Get one entry by sequence or hash prefix
  mirror ledger '#12'
  mirror ledger 3f9a2c`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().StringVarP(&ledgerOutputFormat, "output", "o", "default", "Output format: default, jsonl or json (ignored in get mode)")

	// Time-based filters
	ledgerCmd.Flags().StringVar(&ledgerSince, "since", "", "Show entries after time (duration or RFC3339)")
	ledgerCmd.Flags().StringVar(&ledgerUntil, "until", "", "Show entries before time (duration or RFC3339)")

	// Content-based filters
	ledgerCmd.Flags().StringVar(&ledgerType, "type", "", "Filter by entry type (glob pattern)")
	ledgerCmd.Flags().StringVar(&ledgerKind, "kind", "", "Filter by system update kind (exact match)")
	ledgerCmd.Flags().StringVar(&ledgerRun, "run", "", "Filter by run id prefix")
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 0, "Show only the newest N matching entries")

	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	isGetMode := len(args) > 0

	// Validate list flags before touching the backend
	var opts ledgerview.ListOptions
	if !isGetMode {
		format, err := ledgerview.ParseFormat(ledgerOutputFormat)
		if err != nil {
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", ledgerOutputFormat),
				[]string{"Valid formats: default, jsonl, json"},
			)
		}
		now := time.Now()
		since, until, err := timespec.ParseRange(ledgerSince, ledgerUntil, now)
		if err != nil {
			return printer.Error(
				"invalid time filter",
				err.Error(),
				[]string{"Use a duration (\"2h\", \"30m\") or an RFC3339 timestamp"},
			)
		}
		if ledgerLimit < 0 {
			return printer.Error("invalid limit", "--limit cannot be negative", nil)
		}
		opts = ledgerview.ListOptions{
			Format: format,
			Filter: &ledgerview.Filter{
				Since:    since,
				Until:    until,
				TypeGlob: ledgerType,
				Kind:     ledgerKind,
				RunID:    ledgerRun,
			},
			Limit: ledgerLimit,
			Now:   now,
		}
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if !isGetMode {
		return ledgerview.List(ctx, a.ledger, a.cfg.Instance, opts, cmd.OutOrStdout())
	}

	ref := args[0]
	err = ledgerview.Get(ctx, a.ledger, ref, cmd.OutOrStdout())
	switch {
	case err == nil:
		return nil
	case resolver.IsNotFoundError(err):
		return printer.Error(
			fmt.Sprintf("ledger entry '%s' not found", ref),
			"No entry on the ledger matches that sequence or hash prefix.",
			[]string{"List entries:\n  mirror ledger"},
		)
	case resolver.IsAmbiguousError(err):
		var ambErr *resolver.AmbiguousError
		errors.As(err, &ambErr)
		fmt.Fprint(cmd.ErrOrStderr(), resolver.FormatAmbiguousError(ambErr))
		return fmt.Errorf("ambiguous entry reference")
	case errors.Is(err, resolver.ErrInvalidRef):
		return printer.Error("invalid entry reference", err.Error(), []string{
			"Use a sequence number (\"#12\") or a hash prefix of at least 6 characters",
		})
	default:
		return fmt.Errorf("failed to get ledger entry: %w", err)
	}
}
