// Package config loads mirror.yml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dyluth/mirror/internal/agents"
	"github.com/dyluth/mirror/internal/instance"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration.
const DefaultPath = "mirror.yml"

// Config represents the top-level mirror.yml configuration
type Config struct {
	Version  string                 `yaml:"version"`
	Instance string                 `yaml:"instance"`
	Server   ServerConfig           `yaml:"server"`
	Ledger   LedgerConfig           `yaml:"ledger"`
	Pipeline PipelineConfig         `yaml:"pipeline"`
	Live     LiveConfig             `yaml:"live"`
	Agents   map[string]AgentConfig `yaml:"agents,omitempty"` // empty means the default council
	Sources  []SourceConfig         `yaml:"sources,omitempty"`
	Log      LogConfig              `yaml:"log"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // zero keeps SSE streams open
	CORSOrigins  []string      `yaml:"cors_origins,omitempty"`
}

// LedgerConfig selects and configures the ledger backend
type LedgerConfig struct {
	Backend     string        `yaml:"backend"` // memory, redis or postgres
	RedisURL    string        `yaml:"redis_url,omitempty"`
	PostgresDSN string        `yaml:"postgres_dsn,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// PipelineConfig tunes retries and the council quorum
type PipelineConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	AgentTimeout    time.Duration `yaml:"agent_timeout"`
	MinAgents       int           `yaml:"min_agents"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	Interval        time.Duration `yaml:"interval"` // zero disables scheduled runs
}

// LiveConfig controls the event stream
type LiveConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	BufferSize        int           `yaml:"buffer_size"`
	Relay             bool          `yaml:"relay"` // share events between servers through Redis
}

// AgentConfig declares one council seat
type AgentConfig struct {
	Role    string `yaml:"role"`
	Persona string `yaml:"persona,omitempty"`
	Stance  string `yaml:"stance,omitempty"` // bullish, bearish or neutral
}

// SourceConfig declares one document source
type SourceConfig struct {
	Name          string           `yaml:"name"`
	Kind          string           `yaml:"kind"` // static or rss
	URL           string           `yaml:"url,omitempty"`
	Tier          int              `yaml:"tier,omitempty"`
	RatePerSecond float64          `yaml:"rate_per_second,omitempty"`
	Documents     []DocumentConfig `yaml:"documents,omitempty"`
}

// DocumentConfig is a document served by a static source
type DocumentConfig struct {
	Title       string    `yaml:"title"`
	URL         string    `yaml:"url,omitempty"`
	Excerpt     string    `yaml:"excerpt,omitempty"`
	PublishedAt time.Time `yaml:"published_at,omitempty"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Version:  "1.0",
		Instance: instance.DefaultName,
		Server: ServerConfig{
			Addr:        ":8083",
			ReadTimeout: 10 * time.Second,
			CORSOrigins: []string{"*"},
		},
		Ledger: LedgerConfig{Backend: "memory", Timeout: 10 * time.Second},
		Pipeline: PipelineConfig{
			MaxAttempts:     3,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      5 * time.Second,
			AgentTimeout:    30 * time.Second,
			MinAgents:       2,
			BreakerCooldown: 60 * time.Second,
		},
		Live: LiveConfig{HeartbeatInterval: 15 * time.Second, BufferSize: 32},
		Log:  LogConfig{Level: "info", Format: "console"},
	}
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := instance.ValidateName(c.Instance); err != nil {
		return err
	}

	switch c.Ledger.Backend {
	case "memory":
	case "redis":
		if c.Ledger.RedisURL == "" {
			return fmt.Errorf("ledger.redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			return fmt.Errorf("ledger.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid ledger backend: %s (must be 'memory', 'redis' or 'postgres')", c.Ledger.Backend)
	}

	if c.Live.Relay && c.Ledger.RedisURL == "" {
		return fmt.Errorf("live.relay requires ledger.redis_url")
	}

	p := c.Pipeline
	if p.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff <= 0 || p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("pipeline backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if p.AgentTimeout <= 0 {
		return fmt.Errorf("pipeline.agent_timeout must be positive")
	}
	if p.Interval < 0 {
		return fmt.Errorf("pipeline.interval cannot be negative")
	}

	councilSize := len(c.Agents)
	if councilSize == 0 {
		councilSize = len(agents.DefaultCouncil())
	}
	if p.MinAgents < 1 || p.MinAgents > councilSize {
		return fmt.Errorf("pipeline.min_agents must be between 1 and %d, got %d", councilSize, p.MinAgents)
	}

	for name, a := range c.Agents {
		if err := a.Validate(name); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name '%s'", s.Name)
		}
		seen[s.Name] = true
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Log.Format)
	}

	return nil
}

// Validate performs validation on a single agent configuration
func (a AgentConfig) Validate(name string) error {
	if err := agents.Role(a.Role).Validate(); err != nil {
		return fmt.Errorf("agent '%s': %w", name, err)
	}
	switch agents.Stance(a.Stance) {
	case "", agents.StanceBullish, agents.StanceBearish, agents.StanceNeutral:
	default:
		return fmt.Errorf("agent '%s': invalid stance: %s (must be 'bullish', 'bearish' or 'neutral')", name, a.Stance)
	}
	return nil
}

// Validate performs validation on a single source configuration
func (s SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Kind {
	case "static":
		if len(s.Documents) == 0 {
			return fmt.Errorf("source '%s': static sources need at least one document", s.Name)
		}
	case "rss":
		if s.URL == "" {
			return fmt.Errorf("source '%s': url is required for rss sources", s.Name)
		}
	default:
		return fmt.Errorf("source '%s': invalid kind: %s (must be 'static' or 'rss')", s.Name, s.Kind)
	}
	if s.RatePerSecond < 0 {
		return fmt.Errorf("source '%s': rate_per_second cannot be negative", s.Name)
	}
	return nil
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("MIRROR_INSTANCE"); ok && v != "" {
		c.Instance = v
	}
	if v, ok := lookup("MIRROR_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.Ledger.RedisURL = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Ledger.PostgresDSN = v
	}
	if v, ok := lookup("MIRROR_LEDGER_BACKEND"); ok && v != "" {
		c.Ledger.Backend = strings.ToLower(v)
	}
	if v, ok := lookup("MIRROR_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// Parse reads configuration from YAML on top of the defaults, applies
// environment overrides and validates the result. A redis backend or relay
// without a URL points at the local Redis on the default port.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if lookup != nil {
		config.ApplyEnv(lookup)
	}
	if config.Ledger.RedisURL == "" && (config.Ledger.Backend == "redis" || config.Live.Relay) {
		config.Ledger.RedisURL = instance.GetRedisURL(instance.DefaultRedisPort)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Load reads and validates mirror.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// LoadOrDefault loads path, falling back to the defaults plus environment
// overrides when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	return Parse(nil, os.LookupEnv)
}
