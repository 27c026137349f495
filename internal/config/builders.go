package config

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/dyluth/mirror/internal/agents"
	"github.com/dyluth/mirror/internal/live"
	"github.com/dyluth/mirror/internal/metrics"
	"github.com/dyluth/mirror/internal/pipeline"
	"github.com/dyluth/mirror/internal/server"
	"github.com/dyluth/mirror/internal/sources"
	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PipelineConfig converts the pipeline section for the engine.
func (c *Config) PipelineConfig() pipeline.Config {
	p := c.Pipeline
	return pipeline.Config{
		MaxAttempts:     p.MaxAttempts,
		InitialBackoff:  p.InitialBackoff,
		MaxBackoff:      p.MaxBackoff,
		AgentTimeout:    p.AgentTimeout,
		MinAgents:       p.MinAgents,
		BreakerCooldown: p.BreakerCooldown,
		Interval:        p.Interval,
	}
}

// HTTPConfig converts the server section for the API server.
func (c *Config) HTTPConfig() server.Config {
	cfg := server.DefaultConfig()
	if c.Server.Addr != "" {
		cfg.Addr = c.Server.Addr
	}
	if c.Server.ReadTimeout > 0 {
		cfg.ReadTimeout = c.Server.ReadTimeout
	}
	cfg.WriteTimeout = c.Server.WriteTimeout
	if len(c.Server.CORSOrigins) > 0 {
		cfg.CORSOrigins = c.Server.CORSOrigins
	}
	return cfg
}

// BuildHub creates the live event hub from the live section.
func (c *Config) BuildHub(m *metrics.Registry, logger zerolog.Logger) *live.Hub {
	return live.NewHub(
		live.WithBufferSize(c.Live.BufferSize),
		live.WithHeartbeat(c.Live.HeartbeatInterval),
		live.WithMetrics(m),
		live.WithLogger(logger),
	)
}

// BuildCouncil creates the configured agents in name order, or the default
// council when none are configured.
func (c *Config) BuildCouncil() ([]agents.Agent, error) {
	if len(c.Agents) == 0 {
		return agents.DefaultCouncil(), nil
	}
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	council := make([]agents.Agent, 0, len(names))
	for _, name := range names {
		ac := c.Agents[name]
		a, err := agents.NewScripted(name, agents.Role(ac.Role), ac.Persona, agents.Stance(ac.Stance))
		if err != nil {
			return nil, fmt.Errorf("failed to build agent '%s': %w", name, err)
		}
		council = append(council, a)
	}
	return council, nil
}

// BuildSources creates the configured sources. RSS sources share client; a
// nil client gets the sources package default.
func (c *Config) BuildSources(client *http.Client) ([]sources.Source, error) {
	out := make([]sources.Source, 0, len(c.Sources))
	for _, sc := range c.Sources {
		switch sc.Kind {
		case "static":
			docs := make([]sources.Document, 0, len(sc.Documents))
			for _, d := range sc.Documents {
				docs = append(docs, sources.Document{
					Title:       d.Title,
					URL:         d.URL,
					Excerpt:     d.Excerpt,
					Tier:        sc.Tier,
					PublishedAt: d.PublishedAt,
				})
			}
			out = append(out, sources.NewStatic(sc.Name, docs))

		case "rss":
			var limiter *sources.HostLimiter
			if sc.RatePerSecond > 0 {
				limiter = sources.NewHostLimiter(sc.RatePerSecond, 1)
			}
			feed, err := sources.NewRSS(sc.Name, sc.URL, sc.Tier, client, limiter)
			if err != nil {
				return nil, fmt.Errorf("failed to build source '%s': %w", sc.Name, err)
			}
			out = append(out, feed)

		default:
			return nil, fmt.Errorf("source '%s': unknown kind %s", sc.Name, sc.Kind)
		}
	}
	return out, nil
}

// RedisClient creates a client for ledger.redis_url.
func (c *Config) RedisClient() (*redis.Client, error) {
	if c.Ledger.RedisURL == "" {
		return nil, fmt.Errorf("ledger.redis_url is not set")
	}
	opts, err := redis.ParseURL(c.Ledger.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// OpenBackend connects the configured ledger backend. rdb is used for the
// redis backend and may be nil otherwise.
func (c *Config) OpenBackend(ctx context.Context, rdb *redis.Client) (ledger.Backend, error) {
	switch c.Ledger.Backend {
	case "memory":
		return ledger.NewMemoryBackend(), nil

	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis backend needs a client")
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		backend, err := ledger.NewRedisBackend(rdb, c.Instance)
		if err != nil {
			return nil, err
		}
		return backend, nil

	case "postgres":
		backend, err := ledger.OpenPostgres(ctx, c.Ledger.PostgresDSN, c.Ledger.Timeout)
		if err != nil {
			return nil, err
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("invalid ledger backend: %s", c.Ledger.Backend)
	}
}
