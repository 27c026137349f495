package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/mirror/internal/live"
	"github.com/dyluth/mirror/internal/printer"
	"github.com/dyluth/mirror/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddr       string
	serveInterval   time.Duration
	serveRunOnStart bool
	serveReadOnly   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and live event stream",
	Long: `Start the Mirror HTTP API.

The server rebuilds the mind from the ledger, exposes the snapshot, ledger
and forecasts over HTTP, and streams pipeline events to viewers over
server-sent events (/api/live) or WebSocket (/api/live/ws).

Pipeline runs are started with POST /api/runs, or every --interval when one
is set. With --read-only no runs can be started at all.

Examples:
  # Serve with settings from mirror.yml
  mirror serve

  # Run the pipeline every 15 minutes, starting immediately
  mirror serve --interval=15m --run-on-start

  # Expose an existing ledger without running the pipeline
  mirror serve --read-only --addr=:9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Run the pipeline on this interval (overrides pipeline.interval)")
	serveCmd.Flags().BoolVar(&serveRunOnStart, "run-on-start", false, "Start a pipeline run as soon as the server is up")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "Serve the ledger without a pipeline")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveReadOnly && (serveRunOnStart || serveInterval > 0) {
		return printer.Error(
			"conflicting flags",
			"--read-only cannot be combined with --run-on-start or --interval.",
			nil,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveAddr != "" {
		a.cfg.Server.Addr = serveAddr
	}
	if serveInterval > 0 {
		a.cfg.Pipeline.Interval = serveInterval
	}

	hub := a.cfg.BuildHub(a.metrics, a.logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	var publisher live.Publisher = hub
	if a.cfg.Live.Relay {
		relay, err := live.NewRedisRelay(a.rdb, a.cfg.Instance, hub, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create live relay: %w", err)
		}
		ready := make(chan struct{})
		g.Go(func() error { return relay.Run(gctx, ready) })
		select {
		case <-ready:
		case <-gctx.Done():
			return g.Wait()
		}
		publisher = relay
	}

	var runner server.Runner
	if !serveReadOnly {
		engine, err := a.engine(publisher)
		if err != nil {
			return printer.Error("invalid pipeline configuration", err.Error(), nil)
		}
		defer engine.Wait()
		runner = engine

		g.Go(func() error {
			engine.Schedule(gctx)
			return nil
		})
		if serveRunOnStart {
			if runID, err := engine.StartRun(gctx); err == nil {
				a.logger.Info().Str("run_id", runID).Msg("Started initial pipeline run")
			}
		}
	}

	srv, err := server.New(a.cfg.HTTPConfig(), a.store, runner, hub,
		server.WithMetrics(a.metrics),
		server.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	printer.Success("Mirror serving instance '%s' on %s\n", a.cfg.Instance, a.cfg.HTTPConfig().Addr)
	printer.Field("Ledger", a.cfg.Ledger.Backend)
	printer.Field("Entries", a.store.Read().Stats.Entries)
	if serveReadOnly {
		printer.Field("Pipeline", "disabled (read-only)")
	} else if a.cfg.Pipeline.Interval > 0 {
		printer.Field("Pipeline", fmt.Sprintf("every %s", a.cfg.Pipeline.Interval))
	} else {
		printer.Field("Pipeline", "on demand (POST /api/runs)")
	}

	g.Go(func() error {
		err := srv.ListenAndServe(gctx)
		stop()
		return err
	})
	return g.Wait()
}
