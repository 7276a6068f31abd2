// Package commands implements the buildrunner CLI.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildrunner/internal/config"
)

// Global is passed to every command's Run method.
type Global struct {
	Out io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"buildrunner.yaml" type:"path"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `name:"log-format" help:"Log output format (text|json); overrides the config file" enum:",text,json" default:""`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve  ServeCmd  `cmd:"" help:"Start the API server, scheduler and build executor"`
	Run    RunCmd    `cmd:"" help:"Run a pipeline once in the foreground"`
	Builds BuildsCmd `cmd:"" help:"List recent builds"`
	Logs   LogsCmd   `cmd:"" help:"Print the persisted log of a build"`
	Init   InitCmd   `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	setupLogging(c.Verbose, config.LoggingConfig{Format: c.LogFormat})
	return nil
}

// loadConfig reads the configuration file and re-applies its logging settings.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	logging := cfg.Logging
	if c.LogFormat != "" {
		logging.Format = c.LogFormat
	}
	setupLogging(c.Verbose, logging)
	return cfg, nil
}

// loadConfigOrDefault is loadConfig, falling back to defaults when the file does not exist.
func (c *CLI) loadConfigOrDefault() (*config.Config, error) {
	if _, err := os.Stat(c.Config); os.IsNotExist(err) {
		slog.Debug("No configuration file, using defaults", slog.String("path", c.Config))
		return config.Default(), nil
	}
	return c.loadConfig()
}

func setupLogging(verbose bool, cfg config.LoggingConfig) {
	level := config.NormalizeLogLevel(cfg.Level).SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if config.NormalizeLogFormat(cfg.Format) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
