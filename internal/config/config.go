package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/pipeline"
)

// Config represents the application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Server    ServerConfig     `yaml:"server"`
	Runner    RunnerConfig     `yaml:"runner"`
	Logs      LogsConfig       `yaml:"logs"`
	Events    EventsConfig     `yaml:"events"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logging   LoggingConfig    `yaml:"logging"`
	Daemon    DaemonConfig     `yaml:"daemon"`
	Pipelines []PipelineConfig `yaml:"pipelines,omitempty"`
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
}

// StoreConfig locates the SQLite database holding pipelines, builds and logs.
type StoreConfig struct {
	Path string `yaml:"path"` // ":memory:" for an ephemeral store
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout,omitempty"`
	WriteTimeout string `yaml:"write_timeout,omitempty"`
}

// RunnerConfig controls how step commands are spawned.
type RunnerConfig struct {
	Shell   []string          `yaml:"shell,omitempty"` // wrapper prepended to each command, e.g. ["/bin/sh", "-c"]
	WorkDir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // added to the inherited environment
}

// LogsConfig controls build log persistence.
type LogsConfig struct {
	BatchSize  int         `yaml:"batch_size"`
	FlushRetry RetryConfig `yaml:"flush_retry"`
}

// RetryConfig describes a backoff policy in config form.
type RetryConfig struct {
	Backoff      string `yaml:"backoff"` // fixed|linear|exponential
	InitialDelay string `yaml:"initial_delay"`
	MaxDelay     string `yaml:"max_delay"`
	MaxRetries   int    `yaml:"max_retries"`
}

// EventsConfig controls live event publication.
type EventsConfig struct {
	LogEvery       int        `yaml:"log_every"` // publish one build_log event per N output lines
	PublishTimeout string     `yaml:"publish_timeout"`
	NATS           NATSConfig `yaml:"nats"`
}

// NATSConfig enables fan-out of build events to a NATS server.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	// JetStream publishes through a stream so Nats-Msg-Id deduplicates redeliveries.
	JetStream bool   `yaml:"jetstream"`
	Stream    string `yaml:"stream"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DaemonConfig holds process lifecycle settings.
type DaemonConfig struct {
	StopTimeout string `yaml:"stop_timeout"`
	WatchConfig bool   `yaml:"watch_config"`
}

// PipelineConfig declares a pipeline that is registered in the store at startup.
type PipelineConfig struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Steps       []pipeline.Step `yaml:"steps"`
}

// Definition converts the declaration into a pipeline definition.
func (p PipelineConfig) Definition() pipeline.Definition {
	return pipeline.Definition{Name: p.Name, Description: p.Description, Steps: p.Steps}
}

// ScheduleConfig triggers a named pipeline periodically.
type ScheduleConfig struct {
	Name     string `yaml:"name,omitempty"`
	Pipeline string `yaml:"pipeline"`
	Interval string `yaml:"interval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load loads configuration from the specified file.
// Variables from .env/.env.local are loaded first (never overriding the process
// environment) and ${VAR} references in the YAML are expanded.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).
			Build()
	}

	return Parse(data)
}

// Parse decodes YAML configuration content, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Build()
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFiles() {
	for _, envPath := range []string{".env", ".env.local"} {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintf(os.Stderr, "Note: could not load %s: %v\n", envPath, err)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = "buildrunner.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5000"
	}
	if cfg.Server.ReadTimeout == "" {
		cfg.Server.ReadTimeout = "15s"
	}
	if len(cfg.Runner.Shell) == 0 {
		cfg.Runner.Shell = DefaultShell(runtime.GOOS)
	}
	if cfg.Logs.BatchSize <= 0 {
		cfg.Logs.BatchSize = 15
	}
	if cfg.Logs.FlushRetry.Backoff == "" {
		cfg.Logs.FlushRetry.Backoff = string(RetryBackoffExponential)
	}
	if cfg.Logs.FlushRetry.InitialDelay == "" {
		cfg.Logs.FlushRetry.InitialDelay = "200ms"
	}
	if cfg.Logs.FlushRetry.MaxDelay == "" {
		cfg.Logs.FlushRetry.MaxDelay = "5s"
	}
	if cfg.Logs.FlushRetry.MaxRetries == 0 {
		cfg.Logs.FlushRetry.MaxRetries = 3
	}
	if cfg.Events.LogEvery <= 0 {
		cfg.Events.LogEvery = 5
	}
	if cfg.Events.PublishTimeout == "" {
		cfg.Events.PublishTimeout = "2s"
	}
	if cfg.Events.NATS.URL == "" {
		cfg.Events.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.NATS.SubjectPrefix == "" {
		cfg.Events.NATS.SubjectPrefix = "buildrunner.builds"
	}
	if cfg.Events.NATS.Stream == "" {
		cfg.Events.NATS.Stream = "BUILDRUNNER_EVENTS"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	cfg.Logging.Level = string(NormalizeLogLevel(cfg.Logging.Level))
	cfg.Logging.Format = string(NormalizeLogFormat(cfg.Logging.Format))
	if cfg.Daemon.StopTimeout == "" {
		cfg.Daemon.StopTimeout = "30s"
	}
	for i := range cfg.Schedules {
		if cfg.Schedules[i].Name == "" {
			cfg.Schedules[i].Name = cfg.Schedules[i].Pipeline
		}
	}
}

// DefaultShell returns the command wrapper for the host OS.
func DefaultShell(goos string) []string {
	if goos == "windows" {
		return []string{"cmd", "/c"}
	}
	return []string{"/bin/sh", "-c"}
}

// Validate checks semantic constraints that defaults cannot repair.
func (c *Config) Validate() error {
	for _, d := range []struct{ field, value string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"events.publish_timeout", c.Events.PublishTimeout},
		{"daemon.stop_timeout", c.Daemon.StopTimeout},
		{"logs.flush_retry.initial_delay", c.Logs.FlushRetry.InitialDelay},
		{"logs.flush_retry.max_delay", c.Logs.FlushRetry.MaxDelay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return errors.ConfigError("invalid duration").
				WithContext("field", d.field).
				WithContext("value", d.value).
				Build()
		}
	}

	if NormalizeRetryBackoff(c.Logs.FlushRetry.Backoff) == "" {
		return errors.ConfigError("unknown retry backoff mode").
			WithContext("field", "logs.flush_retry.backoff").
			WithContext("value", c.Logs.FlushRetry.Backoff).
			Build()
	}
	if c.Logs.FlushRetry.MaxRetries < 0 {
		return errors.ConfigError("max_retries cannot be negative").
			WithContext("field", "logs.flush_retry.max_retries").
			Build()
	}

	names := make(map[string]bool, len(c.Pipelines))
	for i, p := range c.Pipelines {
		if p.Name == "" {
			return errors.ConfigError("pipeline name is required").WithContext("index", i).Build()
		}
		if names[p.Name] {
			return errors.ConfigError("duplicate pipeline name").WithContext("pipeline", p.Name).Build()
		}
		names[p.Name] = true
	}

	for _, s := range c.Schedules {
		if s.Pipeline == "" {
			return errors.ConfigError("schedule pipeline is required").WithContext("schedule", s.Name).Build()
		}
		d, err := time.ParseDuration(s.Interval)
		if err != nil || d <= 0 {
			return errors.ConfigError("invalid schedule interval").
				WithContext("schedule", s.Name).
				WithContext("value", s.Interval).
				Build()
		}
	}
	return nil
}

// Duration parses a validated duration field, falling back when empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			Build()
	}

	example := Default()
	example.Metrics.Enabled = true
	example.Pipelines = []PipelineConfig{{
		Name:        "Test Pipeline",
		Description: "Demo pipeline for testing",
		Steps: []pipeline.Step{
			{Cmd: "echo Step 1: Build started"},
			{Cmd: "echo Step 2: Running tests"},
			{Cmd: "echo Step 3: Deploy complete"},
		},
	}}
	example.Schedules = []ScheduleConfig{{Name: "nightly-test", Pipeline: "Test Pipeline", Interval: "24h"}}

	data, err := yaml.Marshal(example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal example config").Build()
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}
