package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dyluth/mirror/internal/config"
	"github.com/dyluth/mirror/internal/live"
	"github.com/dyluth/mirror/internal/logging"
	"github.com/dyluth/mirror/internal/metrics"
	"github.com/dyluth/mirror/internal/mind"
	"github.com/dyluth/mirror/internal/pipeline"
	"github.com/dyluth/mirror/internal/printer"
	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is the wiring shared by the commands that open the ledger.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	rdb     *redis.Client
	backend ledger.Backend
	ledger  *ledger.Ledger
	store   *mind.Store
	metrics *metrics.Registry
}

// loadConfig reads --config and applies --name.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s or remove it to use the defaults", configPath)},
		)
	}
	if instanceName != "" {
		cfg.Instance = instanceName
		if err := cfg.Validate(); err != nil {
			return nil, printer.Error("invalid instance name", err.Error(), nil)
		}
	}
	return cfg, nil
}

// openApp loads configuration, connects the ledger backend and rebuilds the
// mind from it.
func openApp(ctx context.Context, withMetrics bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, printer.Error("invalid log settings", err.Error(), nil)
	}
	logger = logger.With().Str("instance", cfg.Instance).Logger()

	a := &app{cfg: cfg, logger: logger}
	if withMetrics {
		a.metrics = metrics.NewRegistry()
	}

	if cfg.Ledger.Backend == "redis" || cfg.Live.Relay {
		a.rdb, err = cfg.RedisClient()
		if err != nil {
			return nil, printer.Error("invalid Redis settings", err.Error(), nil)
		}
	}

	a.backend, err = cfg.OpenBackend(ctx, a.rdb)
	if err != nil {
		a.Close()
		return nil, printer.ErrorWithContext(
			"ledger backend unavailable",
			err.Error(),
			map[string]string{"Backend": cfg.Ledger.Backend, "Instance": cfg.Instance},
			[]string{"Check that the backend is running and the URL in mirror.yml is correct"},
		)
	}

	a.ledger, err = ledger.Open(ctx, a.backend)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if serr := a.ledger.Sealed(); serr != nil {
		logger.Error().Err(serr).Msg("Ledger chain is broken, appends are disabled")
	}

	a.store = mind.NewStore(a.ledger, logger)
	if _, err := a.store.Rebuild(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to rebuild mind: %w", err)
	}
	if n, err := a.ledger.Len(ctx); err == nil {
		a.metrics.SetLedgerLength(n)
	}
	return a, nil
}

// engine builds the pipeline engine from configuration.
func (a *app) engine(pub live.Publisher) (*pipeline.Engine, error) {
	council, err := a.cfg.BuildCouncil()
	if err != nil {
		return nil, err
	}
	srcs, err := a.cfg.BuildSources(&http.Client{Timeout: 20 * time.Second})
	if err != nil {
		return nil, err
	}
	return pipeline.NewEngine(a.store, srcs, council, a.cfg.PipelineConfig(),
		pipeline.WithPublisher(pub),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.logger),
	)
}

// Close releases the ledger backend and Redis client.
func (a *app) Close() {
	for _, c := range a.closers() {
		_ = c.Close()
	}
}

// closers lists what Close releases. A Redis ledger backend owns the client it
// was built on, so the client is closed directly only when no backend holds it.
func (a *app) closers() []io.Closer {
	var out []io.Closer
	if a.backend != nil {
		out = append(out, a.backend)
	}
	if _, owned := a.backend.(*ledger.RedisBackend); a.rdb != nil && !owned {
		out = append(out, a.rdb)
	}
	return out
}
