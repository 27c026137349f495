package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/mirror/internal/printer"
	"github.com/dyluth/mirror/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchServer       string
	watchOutputFormat string
	watchHeartbeats   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor real-time pipeline activity",
	Long: `Follow a running Mirror server's live event stream.

Streams phase changes, agent results, ledger appends and run outcomes as
they happen. Heartbeats are hidden unless --heartbeats is set.

Output Formats:
  default - Human-readable output with timestamps and icons
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the local server
  mirror watch

  # Watch a remote server
  mirror watch --server=https://mirror.example/api/live

  # Export events as JSON
  mirror watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:8083/api/live", "Live stream URL")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().BoolVar(&watchHeartbeats, "heartbeats", false, "Show heartbeat events")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Validate output format
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if outputFormat == watch.OutputFormatDefault {
		printer.Info("Watching %s (Ctrl+C to stop)\n", watchServer)
	}
	err := watch.Stream(ctx, nil, watchServer, watch.Options{Format: outputFormat, Heartbeats: watchHeartbeats}, cmd.OutOrStdout())
	if err != nil {
		return printer.Error(
			"live stream unavailable",
			err.Error(),
			[]string{"Start a server first:\n  mirror serve"},
		)
	}
	return nil
}
